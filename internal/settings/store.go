package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Store persists Settings.
type Store interface {
	Load() (Settings, error)
	Save(Settings) error
}

// FileStore keeps Settings in a YAML file.
type FileStore struct {
	path   string
	logger *zap.Logger
}

// NewFileStore returns a FileStore for path.
//
// Precondition: path must be non-empty; logger must be non-nil.
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

// Path returns the settings file path.
func (f *FileStore) Path() string { return f.path }

// Load reads the settings file. A missing file yields Default settings.
//
// Viper lowercases map keys, so board keys are case-insensitive on disk.
//
// Postcondition: Returns Settings with every known board present, or an error
// if the file exists but cannot be read or parsed.
func (f *FileStore) Load() (Settings, error) {
	if _, err := os.Stat(f.path); errors.Is(err, fs.ErrNotExist) {
		f.logger.Info("settings file not found; using defaults", zap.String("path", f.path))
		return Default(), nil
	}

	v := viper.New()
	v.SetConfigFile(f.path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return Settings{}, fmt.Errorf("reading settings file: %w", err)
	}

	var doc Document
	if err := v.Unmarshal(&doc); err != nil {
		return Settings{}, fmt.Errorf("unmarshalling settings: %w", err)
	}
	return FromDocument(doc, f.logger), nil
}

// Save writes s to the settings file, replacing it atomically.
//
// Postcondition: Returns nil once the file holds s, or the first I/O error.
func (f *FileStore) Save(s Settings) error {
	data, err := yaml.Marshal(ToDocument(s))
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("creating temp settings file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replacing settings file: %w", err)
	}
	f.logger.Debug("settings saved", zap.String("path", f.path))
	return nil
}
