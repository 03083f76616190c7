// Package settings is the board settings store: one reroll policy per board
// plus the global reroll flags. Settings are read with Viper and written as
// YAML, and the same document shape is used on the wire for host replication.
package settings

import (
	"sort"

	"go.uber.org/zap"

	"github.com/cory-johannsen/specialorders/internal/board"
)

// Settings is the in-memory board settings.
type Settings struct {
	// UseTrueRandom replaces the deterministic reroll seed with OS entropy.
	UseTrueRandom bool
	// ForceUnique avoids re-offering the quests a reroll replaced, when possible.
	ForceUnique bool
	// AllowLocalControl lets a peer keep its own settings instead of the host's.
	AllowLocalControl bool
	// ResetRerollsKeybind is the host's key chord for resetting all quotas.
	ResetRerollsKeybind string
	// Boards holds one policy per settings key.
	Boards map[board.ConfigKey]board.Config
}

// Default returns settings with the default policy for every known board.
func Default() Settings {
	return Settings{Boards: board.Defaults()}
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	c := s
	c.Boards = make(map[board.ConfigKey]board.Config, len(s.Boards))
	for k, v := range s.Boards {
		c.Boards[k] = v
	}
	return c
}

// Keys returns the board keys in ascending order.
func (s Settings) Keys() []board.ConfigKey {
	out := make([]board.ConfigKey, 0, len(s.Boards))
	for k := range s.Boards {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Registry re-keys the boards on order type.
func (s Settings) Registry() (board.Registry, []board.ConfigKey) {
	return board.ByOrderType(s.Boards)
}

// SetBoard replaces the policy stored under key.
func (s *Settings) SetBoard(key board.ConfigKey, c board.Config) {
	if s.Boards == nil {
		s.Boards = make(map[board.ConfigKey]board.Config)
	}
	s.Boards[key] = c
}

// EnsureKnownBoards synthesizes a default policy for every known board that
// has no entry and logs each gap at warn level.
//
// Postcondition: every key in board.KnownBoards is present. Returns the
// synthesized keys.
func (s *Settings) EnsureKnownBoards(logger *zap.Logger) []board.ConfigKey {
	var added []board.ConfigKey
	for _, k := range board.KnownBoards {
		if _, ok := s.Boards[k.Key]; ok {
			continue
		}
		logger.Warn("board missing from settings; adding defaults",
			zap.String("board", string(k.Key)),
		)
		s.SetBoard(k.Key, k.Default())
		added = append(added, k.Key)
	}
	return added
}
