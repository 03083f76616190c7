package settings

import (
	"sort"

	"go.uber.org/zap"

	"github.com/cory-johannsen/specialorders/internal/board"
)

// BoardDocument is the persisted and replicated form of one board policy.
// A nil OrderType means the field was absent, which is distinct from the
// base game's empty order type.
type BoardDocument struct {
	OrderType       *string `mapstructure:"order_type" yaml:"order_type" json:"order_type"`
	AllowReroll     bool    `mapstructure:"allow_reroll" yaml:"allow_reroll" json:"allow_reroll"`
	InfiniteRerolls bool    `mapstructure:"infinite_rerolls" yaml:"infinite_rerolls" json:"infinite_rerolls"`
	MaxRerolls      int     `mapstructure:"max_rerolls" yaml:"max_rerolls" json:"max_rerolls"`
	RefreshSchedule []bool  `mapstructure:"refresh_schedule" yaml:"refresh_schedule,flow" json:"refresh_schedule"`
}

// Document is the persisted and replicated form of Settings.
type Document struct {
	UseTrueRandom       bool                     `mapstructure:"use_true_random" yaml:"use_true_random" json:"use_true_random"`
	ForceUnique         bool                     `mapstructure:"force_unique" yaml:"force_unique" json:"force_unique"`
	AllowLocalControl   bool                     `mapstructure:"allow_local_control" yaml:"allow_local_control" json:"allow_local_control"`
	ResetRerollsKeybind string                   `mapstructure:"reset_rerolls_keybind" yaml:"reset_rerolls_keybind" json:"reset_rerolls_keybind"`
	Boards              map[string]BoardDocument `mapstructure:"boards" yaml:"boards" json:"boards"`
}

// ToDocument converts s to its document form.
func ToDocument(s Settings) Document {
	doc := Document{
		UseTrueRandom:       s.UseTrueRandom,
		ForceUnique:         s.ForceUnique,
		AllowLocalControl:   s.AllowLocalControl,
		ResetRerollsKeybind: s.ResetRerollsKeybind,
		Boards:              make(map[string]BoardDocument, len(s.Boards)),
	}
	for k, c := range s.Boards {
		ot := string(c.OrderType)
		doc.Boards[string(k)] = BoardDocument{
			OrderType:       &ot,
			AllowReroll:     c.AllowReroll,
			InfiniteRerolls: c.InfiniteRerolls,
			MaxRerolls:      c.MaxRerolls,
			RefreshSchedule: c.RefreshSchedule.Slice(),
		}
	}
	return doc
}

// FromDocument converts doc to Settings, repairing malformed entries instead
// of rejecting them. Every repair is logged at warn level.
//
// Repairs: an absent order type takes the known board's order type, or the
// key itself for unknown boards; a negative max is clamped to zero; a
// schedule of the wrong length is padded or truncated; an absent schedule
// defaults to Monday only. Known boards missing from doc are synthesized.
func FromDocument(doc Document, logger *zap.Logger) Settings {
	s := Settings{
		UseTrueRandom:       doc.UseTrueRandom,
		ForceUnique:         doc.ForceUnique,
		AllowLocalControl:   doc.AllowLocalControl,
		ResetRerollsKeybind: doc.ResetRerollsKeybind,
		Boards:              make(map[board.ConfigKey]board.Config, len(doc.Boards)),
	}

	keys := make([]string, 0, len(doc.Boards))
	for k := range doc.Boards {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		key := board.ConfigKey(k)
		bd := doc.Boards[k]
		log := logger.With(zap.String("board", k))

		var orderType board.OrderType
		switch {
		case bd.OrderType != nil:
			orderType = board.OrderType(*bd.OrderType)
		default:
			if known, ok := board.LookupKnown(key); ok {
				orderType = known.OrderType
			} else {
				orderType = board.OrderType(k)
			}
			log.Warn("board has no order_type; assuming default",
				zap.String("order_type", string(orderType)),
			)
		}

		if bd.MaxRerolls < 0 {
			log.Warn("negative max_rerolls clamped to zero", zap.Int("max_rerolls", bd.MaxRerolls))
		}
		if len(bd.RefreshSchedule) != 0 && len(bd.RefreshSchedule) != board.DaysPerWeek {
			log.Warn("refresh_schedule must have seven entries; padding or truncating",
				zap.Int("entries", len(bd.RefreshSchedule)),
			)
		}

		s.Boards[key] = board.NewConfig(orderType, bd.AllowReroll, bd.InfiniteRerolls, bd.MaxRerolls, bd.RefreshSchedule)
	}

	s.EnsureKnownBoards(logger)
	return s
}
