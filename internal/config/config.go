// Package config provides Viper-based configuration loading for the board daemon.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Role modes.
const (
	ModeHost = "host"
	ModePeer = "peer"
)

// RoleConfig selects whether this process is the authoritative host or a peer.
type RoleConfig struct {
	// Mode is "host" or "peer".
	Mode string `mapstructure:"mode"`
	// PeerID is this process's multiplayer id. Empty means one is generated.
	PeerID string `mapstructure:"peer_id"`
	// HostURL is the websocket URL a peer dials, e.g. "ws://127.0.0.1:7777/boards".
	HostURL string `mapstructure:"host_url"`
}

// IsHost reports whether the role mode is host.
func (r RoleConfig) IsHost() bool { return r.Mode == ModeHost }

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// TransportConfig holds the websocket listener settings used by the host.
type TransportConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// Path is the HTTP path the websocket upgrade is served on.
	Path string `mapstructure:"path"`
	// HandshakeTimeout bounds the websocket handshake on both ends.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	// WriteTimeout bounds a single outbound frame.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// SendBuffer is the per-peer outbound queue length.
	SendBuffer int `mapstructure:"send_buffer"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (t TransportConfig) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// WorldConfig seeds the simulated game world the daemon drives.
type WorldConfig struct {
	// GameID is the unique id of the save; it feeds the reroll seed.
	GameID uint64 `mapstructure:"game_id"`
	// StartYear, StartSeason (0-3) and StartDay (1-28) place the first day.
	StartYear   int `mapstructure:"start_year"`
	StartSeason int `mapstructure:"start_season"`
	StartDay    int `mapstructure:"start_day"`
	// DayLength is the wall-clock duration of one in-game day.
	DayLength time.Duration `mapstructure:"day_length"`
}

// ContentConfig locates the quest catalog and the board settings file.
type ContentConfig struct {
	// CatalogDir holds quest template YAML files.
	CatalogDir string `mapstructure:"catalog_dir"`
	// SettingsPath is the board settings YAML file.
	SettingsPath string `mapstructure:"settings_path"`
	// ScriptInstructionLimit caps Lua opcodes per eligibility check; 0 uses the default.
	ScriptInstructionLimit int `mapstructure:"script_instruction_limit"`
	// LoadedMods lists the content mods installed alongside the daemon. Boards
	// that need a mod missing from this list are not refreshed.
	LoadedMods []string `mapstructure:"loaded_mods"`
}

// Config is the top-level daemon configuration.
type Config struct {
	Role      RoleConfig      `mapstructure:"role"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Transport TransportConfig `mapstructure:"transport"`
	World     WorldConfig     `mapstructure:"world"`
	Content   ContentConfig   `mapstructure:"content"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	for _, err := range []error{
		validateRole(c.Role),
		validateLogging(c.Logging),
		validateTransport(c.Transport),
		validateWorld(c.World),
		validateContent(c.Content),
	} {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateRole(r RoleConfig) error {
	switch r.Mode {
	case ModeHost:
		return nil
	case ModePeer:
		if r.HostURL == "" {
			return errors.New("role.host_url must not be empty in peer mode")
		}
		return nil
	default:
		return fmt.Errorf("role.mode must be one of [host, peer], got %q", r.Mode)
	}
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateTransport(t TransportConfig) error {
	var errs []string
	if t.Port < 1 || t.Port > 65535 {
		errs = append(errs, fmt.Sprintf("transport.port must be 1-65535, got %d", t.Port))
	}
	if !strings.HasPrefix(t.Path, "/") {
		errs = append(errs, fmt.Sprintf("transport.path must start with '/', got %q", t.Path))
	}
	if t.HandshakeTimeout < 0 {
		errs = append(errs, "transport.handshake_timeout must not be negative")
	}
	if t.WriteTimeout < 0 {
		errs = append(errs, "transport.write_timeout must not be negative")
	}
	if t.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("transport.send_buffer must be >= 1, got %d", t.SendBuffer))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateWorld(w WorldConfig) error {
	var errs []string
	if w.StartYear < 1 {
		errs = append(errs, fmt.Sprintf("world.start_year must be >= 1, got %d", w.StartYear))
	}
	if w.StartSeason < 0 || w.StartSeason > 3 {
		errs = append(errs, fmt.Sprintf("world.start_season must be 0-3, got %d", w.StartSeason))
	}
	if w.StartDay < 1 || w.StartDay > 28 {
		errs = append(errs, fmt.Sprintf("world.start_day must be 1-28, got %d", w.StartDay))
	}
	if w.DayLength <= 0 {
		errs = append(errs, "world.day_length must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateContent(c ContentConfig) error {
	var errs []string
	if c.CatalogDir == "" {
		errs = append(errs, "content.catalog_dir must not be empty")
	}
	if c.SettingsPath == "" {
		errs = append(errs, "content.settings_path must not be empty")
	}
	if c.ScriptInstructionLimit < 0 {
		errs = append(errs, "content.script_instruction_limit must not be negative")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with BOARDD_ prefix
	v.SetEnvPrefix("BOARDD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Defaults returns a Viper instance holding only the built-in defaults.
func Defaults() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("role.mode", ModeHost)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("transport.host", "0.0.0.0")
	v.SetDefault("transport.port", 7777)
	v.SetDefault("transport.path", "/boards")
	v.SetDefault("transport.handshake_timeout", "5s")
	v.SetDefault("transport.write_timeout", "10s")
	v.SetDefault("transport.send_buffer", 32)

	v.SetDefault("world.game_id", 1)
	v.SetDefault("world.start_year", 1)
	v.SetDefault("world.start_season", 0)
	v.SetDefault("world.start_day", 1)
	v.SetDefault("world.day_length", "1m")

	v.SetDefault("content.catalog_dir", "content/orders")
	v.SetDefault("content.settings_path", "config/boards.yaml")
}
