package settings_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/specialorders/internal/board"
	"github.com/cory-johannsen/specialorders/internal/settings"
)

func TestDefault_HasEveryKnownBoard(t *testing.T) {
	s := settings.Default()
	for _, k := range board.KnownBoards {
		_, ok := s.Boards[k.Key]
		assert.True(t, ok, "board %q", k.Key)
	}
	assert.False(t, s.UseTrueRandom)
}

func TestClone_IsDeep(t *testing.T) {
	s := settings.Default()
	c := s.Clone()
	c.SetBoard(board.KeySV, board.NewConfig(board.OrderTypeSV, false, false, 9, nil))
	assert.Equal(t, 1, s.Boards[board.KeySV].MaxRerolls)
}

func TestEnsureKnownBoards_LogsGaps(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	s := settings.Settings{}
	s.SetBoard(board.KeySV, board.NewConfig(board.OrderTypeSV, true, false, 3, nil))

	added := s.EnsureKnownBoards(zap.New(core))
	assert.Len(t, added, len(board.KnownBoards)-1)
	assert.Equal(t, len(board.KnownBoards)-1, logs.Len())
	assert.Equal(t, 3, s.Boards[board.KeySV].MaxRerolls, "existing entry untouched")
}

func TestFromDocument_Repairs(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	mine := "MyMod/Board"
	doc := settings.Document{
		UseTrueRandom: true,
		Boards: map[string]settings.BoardDocument{
			"qi":     {AllowReroll: true, MaxRerolls: -2, RefreshSchedule: []bool{true, true}},
			"mymod":  {OrderType: &mine, AllowReroll: true, MaxRerolls: 4},
			"orphan": {AllowReroll: true},
		},
	}
	s := settings.FromDocument(doc, zap.New(core))

	qi := s.Boards[board.KeyQi]
	assert.Equal(t, board.OrderTypeQi, qi.OrderType, "known board falls back to its order type")
	assert.Equal(t, 0, qi.MaxRerolls)
	assert.Equal(t, board.Schedule{true, true}, qi.RefreshSchedule)

	assert.Equal(t, board.OrderType("MyMod/Board"), s.Boards["mymod"].OrderType)
	assert.Equal(t, board.DefaultSchedule(), s.Boards["mymod"].RefreshSchedule)
	assert.Equal(t, board.OrderType("orphan"), s.Boards["orphan"].OrderType)

	_, ok := s.Boards[board.KeySV]
	assert.True(t, ok, "missing known boards synthesized")
	assert.True(t, s.UseTrueRandom)
	assert.Greater(t, logs.Len(), 3)
}

func TestDocument_PreservesBaseGameOrderType(t *testing.T) {
	s := settings.Default()
	doc := settings.ToDocument(s)
	require.NotNil(t, doc.Boards["sv"].OrderType)
	assert.Equal(t, "", *doc.Boards["sv"].OrderType)

	back := settings.FromDocument(doc, zap.NewNop())
	assert.Equal(t, s, back)
}

func TestFileStore_MissingFileYieldsDefaults(t *testing.T) {
	store := settings.NewFileStore(filepath.Join(t.TempDir(), "nope.yaml"), zap.NewNop())
	s, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, settings.Default(), s)
}

func TestFileStore_LoadHandWrittenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boards.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
use_true_random: true
force_unique: true
reset_rerolls_keybind: "LeftShift + R"
boards:
  sv:
    order_type: ""
    allow_reroll: true
    max_rerolls: 2
    refresh_schedule: [true, false, false, true, false, false, false]
  mt_vapius:
    order_type: Esca.EMP/MtVapiusBoard
    infinite_rerolls: true
`), 0644))

	s, err := settings.NewFileStore(path, zap.NewNop()).Load()
	require.NoError(t, err)

	assert.True(t, s.UseTrueRandom)
	assert.True(t, s.ForceUnique)
	assert.Equal(t, "LeftShift + R", s.ResetRerollsKeybind)

	sv := s.Boards[board.KeySV]
	assert.Equal(t, board.OrderTypeSV, sv.OrderType)
	assert.Equal(t, 2, sv.MaxRerolls)
	assert.True(t, sv.ShouldRefreshToday(3))
	assert.False(t, sv.ShouldRefreshToday(1))

	mv := s.Boards[board.KeyMtVapius]
	assert.Equal(t, board.OrderTypeMtVapius, mv.OrderType)
	assert.True(t, mv.InfiniteRerolls)

	assert.Len(t, s.Boards, len(board.KnownBoards))
}

func TestFileStore_LoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boards.yaml")
	require.NoError(t, os.WriteFile(path, []byte("boards: [this is: not, a map"), 0644))
	_, err := settings.NewFileStore(path, zap.NewNop()).Load()
	assert.Error(t, err)
}

func TestFileStore_SaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "boards.yaml")
	store := settings.NewFileStore(path, zap.NewNop())

	s := settings.Default()
	s.ForceUnique = true
	s.SetBoard(board.KeyQi, board.NewConfig(board.OrderTypeQi, true, true, 5, board.EveryDay().Slice()))
	require.NoError(t, store.Save(s))

	got, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, s, got)
}

func TestFromDocument_NeverDropsBoards_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		keys := rapid.SliceOfDistinct(rapid.StringMatching(`[a-z]{1,8}`), func(s string) string { return s }).Draw(rt, "keys")
		doc := settings.Document{Boards: map[string]settings.BoardDocument{}}
		for _, k := range keys {
			doc.Boards[k] = settings.BoardDocument{
				MaxRerolls:      rapid.IntRange(-5, 10).Draw(rt, "max"),
				RefreshSchedule: rapid.SliceOfN(rapid.Bool(), 0, 10).Draw(rt, "schedule"),
			}
		}
		s := settings.FromDocument(doc, zap.NewNop())
		for _, k := range keys {
			c, ok := s.Boards[board.ConfigKey(k)]
			assert.True(rt, ok, "board %q", k)
			assert.GreaterOrEqual(rt, c.MaxRerolls, 0)
		}
		for _, k := range board.KnownBoards {
			_, ok := s.Boards[k.Key]
			assert.True(rt, ok, "known board %q", k.Key)
		}
	})
}
