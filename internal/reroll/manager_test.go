package reroll_test

import (
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/specialorders/internal/board"
	"github.com/cory-johannsen/specialorders/internal/protocol"
	"github.com/cory-johannsen/specialorders/internal/quest"
	"github.com/cory-johannsen/specialorders/internal/reroll"
	"github.com/cory-johannsen/specialorders/internal/rng"
	"github.com/cory-johannsen/specialorders/internal/settings"
)

var monday = quest.WorldDate{Year: 1, Season: quest.Spring, Day: 1}

type delivery struct {
	msg protocol.Message
	to  []protocol.PeerID
}

type fakeTransport struct {
	sent []delivery
	err  error
}

func (f *fakeTransport) Send(m protocol.Message, to ...protocol.PeerID) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, delivery{msg: m, to: append([]protocol.PeerID(nil), to...)})
	return nil
}

func (f *fakeTransport) counts() []protocol.RerollCountsSnapshot {
	var out []protocol.RerollCountsSnapshot
	for _, d := range f.sent {
		if c, ok := d.msg.(protocol.RerollCountsSnapshot); ok {
			out = append(out, c)
		}
	}
	return out
}

type opts struct {
	role       *reroll.StaticRole
	settings   settings.Settings
	templates  []quest.Template
	gameID     uint64
	logger     *zap.Logger
	trueRandom func() (rng.Source, error)
	modLoaded  func(string) bool
}

type harness struct {
	world *quest.World
	team  *quest.MemoryTeam
	lib   *quest.Library
	tr    *fakeTransport
	role  *reroll.StaticRole
	mgr   *reroll.Manager
}

func build(tb require.TestingT, o opts) *harness {
	if o.role == nil {
		o.role = reroll.HostRole("host")
	}
	if o.settings.Boards == nil {
		o.settings = settings.Default()
	}
	if o.gameID == 0 {
		o.gameID = 42
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	team := quest.NewMemoryTeam()
	world := quest.NewWorld(o.gameID, monday, team)
	lib, err := quest.NewLibrary(o.templates, world, 0, zap.NewNop())
	require.NoError(tb, err)
	tr := &fakeTransport{}
	mgr, err := reroll.NewManager(reroll.Deps{
		Role:         o.role,
		Transport:    tr,
		World:        world,
		Team:         team,
		Catalog:      lib,
		Materializer: lib,
		Logger:       o.logger,
		TrueRandom:   o.trueRandom,
		ModLoaded:    o.modLoaded,
	}, o.settings)
	require.NoError(tb, err)
	tr.sent = nil
	return &harness{world: world, team: team, lib: lib, tr: tr, role: o.role, mgr: mgr}
}

func newHarness(t *testing.T, o opts) *harness {
	t.Helper()
	h := build(t, o)
	t.Cleanup(h.lib.Close)
	return h
}

func order(id string, t board.OrderType, d quest.Duration) quest.Template {
	return quest.Template{ID: id, OrderType: t, Duration: d, Repeatable: true}
}

func svOrders(ids ...string) []quest.Template {
	out := make([]quest.Template, len(ids))
	for i, id := range ids {
		out[i] = order(id, board.OrderTypeSV, quest.Week)
	}
	return out
}

func with(mut func(s *settings.Settings)) settings.Settings {
	s := settings.Default()
	mut(&s)
	return s
}

func infiniteSV(s *settings.Settings) {
	s.SetBoard(board.KeySV, board.NewConfig(board.OrderTypeSV, true, true, 1, nil))
}

func never() []bool { return make([]bool, board.DaysPerWeek) }

func (h *harness) keys(t board.OrderType) []string {
	return quest.Keys(quest.OfType(h.team.Available(), t))
}

func TestCanReroll_DisallowedBoard(t *testing.T) {
	h := newHarness(t, opts{settings: with(func(s *settings.Settings) {
		s.SetBoard(board.KeyQi, board.NewConfig(board.OrderTypeQi, false, true, 5, nil))
	})})
	assert.False(t, h.mgr.CanReroll(board.OrderTypeQi))
	assert.True(t, h.mgr.CanReroll(board.OrderTypeSV))
}

func TestCanReroll_BlockedByAcceptedBoardOrder(t *testing.T) {
	h := newHarness(t, opts{})
	h.team.AddAvailable(&quest.Instance{Key: "Robin", OrderType: board.OrderTypeSV, Duration: quest.Week})
	h.team.AddAccepted(&quest.Instance{Key: "Robin", OrderType: board.OrderTypeSV, Duration: quest.Week})
	assert.False(t, h.mgr.CanReroll(board.OrderTypeSV))

	h.team.AddAccepted(&quest.Instance{Key: "Robin", OrderType: board.OrderTypeQi})
	assert.True(t, h.mgr.CanReroll(board.OrderTypeQi), "other boards unaffected")
}

func TestReroll_HostSpendsQuotaAndBroadcasts(t *testing.T) {
	h := newHarness(t, opts{templates: append(svOrders("A", "B", "C", "D"), order("Q1", board.OrderTypeQi, quest.ThreeDays))})
	h.team.AddAvailable(&quest.Instance{Key: "Q0", OrderType: board.OrderTypeQi})

	require.NoError(t, h.mgr.Reroll(board.OrderTypeSV))

	assert.Len(t, h.keys(board.OrderTypeSV), reroll.SlotsPerReroll)
	assert.Equal(t, []string{"Q0"}, h.keys(board.OrderTypeQi), "other boards untouched")
	assert.Equal(t, 0, h.mgr.RerollsRemaining(board.OrderTypeSV))
	assert.Equal(t, 1, h.mgr.RerollsToday())

	counts := h.tr.counts()
	require.Len(t, counts, 1)
	assert.Equal(t, 0, counts[0].Remaining[board.OrderTypeSV])
	assert.Empty(t, h.tr.sent[0].to, "counts are broadcast")

	before := h.keys(board.OrderTypeSV)
	require.NoError(t, h.mgr.Reroll(board.OrderTypeSV))
	assert.Equal(t, before, h.keys(board.OrderTypeSV), "refused reroll changes nothing")
	assert.Equal(t, 0, h.mgr.RerollsRemaining(board.OrderTypeSV))
}

func TestReroll_InfiniteGoesNegative(t *testing.T) {
	h := newHarness(t, opts{settings: with(infiniteSV), templates: svOrders("A", "B")})
	for i := 0; i < 3; i++ {
		require.True(t, h.mgr.CanReroll(board.OrderTypeSV))
		require.NoError(t, h.mgr.Reroll(board.OrderTypeSV))
	}
	assert.Equal(t, -2, h.mgr.RerollsRemaining(board.OrderTypeSV))
}

func TestReroll_AppliesHardDuration(t *testing.T) {
	h := newHarness(t, opts{templates: svOrders("A")})
	require.NoError(t, h.mgr.Reroll(board.OrderTypeSV))
	avail := h.team.Available()
	require.Len(t, avail, 1)
	assert.Equal(t, monday.TotalDays()+7, avail[0].DueDate)
}

func TestReroll_EmptyPoolClearsBoard(t *testing.T) {
	h := newHarness(t, opts{templates: svOrders("A")})
	h.team.AddAvailable(&quest.Instance{Key: "Old", OrderType: board.OrderTypeQi})
	require.NoError(t, h.mgr.Reroll(board.OrderTypeQi))
	assert.Empty(t, h.keys(board.OrderTypeQi))
	assert.Equal(t, 0, h.mgr.RerollsRemaining(board.OrderTypeQi))
}

func TestReroll_BaseBoardPrefersUncompleted(t *testing.T) {
	h := newHarness(t, opts{templates: svOrders("A", "B", "C")})
	h.team.Complete("A")
	h.team.Complete("B")

	require.NoError(t, h.mgr.Reroll(board.OrderTypeSV))
	got := h.keys(board.OrderTypeSV)
	require.Len(t, got, 2)
	assert.Equal(t, "C", got[0], "the only uncompleted order is drawn first")
	assert.Contains(t, []string{"A", "B"}, got[1], "second slot refills from completed orders")
}

func TestReroll_ForceUniqueAvoidsReplacedOrders(t *testing.T) {
	h := newHarness(t, opts{
		settings: with(func(s *settings.Settings) {
			infiniteSV(s)
			s.ForceUnique = true
		}),
		templates: svOrders("A", "B", "C", "D"),
	})
	require.NoError(t, h.mgr.Reroll(board.OrderTypeSV))
	first := h.keys(board.OrderTypeSV)
	require.NoError(t, h.mgr.Reroll(board.OrderTypeSV))
	second := h.keys(board.OrderTypeSV)

	require.Len(t, second, 2)
	for _, k := range second {
		assert.NotContains(t, first, k)
	}
}

func TestReroll_ForceUniquePullsOneBackWhenShort(t *testing.T) {
	h := newHarness(t, opts{
		settings: with(func(s *settings.Settings) {
			infiniteSV(s)
			s.ForceUnique = true
		}),
		templates: svOrders("A", "B", "C"),
	})
	require.NoError(t, h.mgr.Reroll(board.OrderTypeSV))
	first := h.keys(board.OrderTypeSV)
	require.Len(t, first, 2)

	require.NoError(t, h.mgr.Reroll(board.OrderTypeSV))
	second := h.keys(board.OrderTypeSV)
	require.Len(t, second, 2)
	assert.NotEqual(t, second[0], second[1])

	var fresh, repeated int
	for _, k := range second {
		if k == first[0] || k == first[1] {
			repeated++
		} else {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
	assert.Equal(t, 1, repeated)
}

func TestReroll_DeterministicForEqualInputs_Property(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		gameID := rapid.Uint64Range(1, 1<<40).Draw(rt, "game_id")
		times := rapid.IntRange(1, 4).Draw(rt, "times")
		o := opts{settings: with(infiniteSV), templates: svOrders("A", "B", "C", "D", "E", "F"), gameID: gameID}

		a := build(rt, o)
		defer a.lib.Close()
		b := build(rt, o)
		defer b.lib.Close()

		for i := 0; i < times; i++ {
			require.NoError(rt, a.mgr.Reroll(board.OrderTypeSV))
			require.NoError(rt, b.mgr.Reroll(board.OrderTypeSV))
		}
		assert.Equal(rt, a.team.Available(), b.team.Available())
	})
}

func TestReroll_TrueRandomSourceUsed(t *testing.T) {
	calls := 0
	h := newHarness(t, opts{
		settings:  with(func(s *settings.Settings) { s.UseTrueRandom = true }),
		templates: svOrders("A", "B"),
		trueRandom: func() (rng.Source, error) {
			calls++
			return rng.NewSeeded(7, 7, 7), nil
		},
	})
	require.NoError(t, h.mgr.Reroll(board.OrderTypeSV))
	assert.Equal(t, 1, calls)
	assert.Len(t, h.keys(board.OrderTypeSV), 2)
}

func TestReroll_TrueRandomFailureKeepsQuota(t *testing.T) {
	boom := errors.New("no entropy")
	h := newHarness(t, opts{
		settings:   with(func(s *settings.Settings) { s.UseTrueRandom = true }),
		templates:  svOrders("A", "B"),
		trueRandom: func() (rng.Source, error) { return nil, boom },
	})
	err := h.mgr.Reroll(board.OrderTypeSV)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, h.mgr.RerollsRemaining(board.OrderTypeSV))
}

func TestReroll_UnknownOrderTypeSharesCustomQuota(t *testing.T) {
	mine := board.OrderType("MyMod/Board")
	h := newHarness(t, opts{templates: []quest.Template{order("X", mine, quest.Week), order("Y", mine, quest.Week)}})

	require.True(t, h.mgr.CanReroll(mine))
	require.NoError(t, h.mgr.Reroll(mine))
	assert.Len(t, h.keys(mine), 2)
	assert.Equal(t, 0, h.mgr.RerollsRemaining(mine))
	assert.Equal(t, 0, h.mgr.RerollsRemaining(board.OrderTypeCustom))
	assert.False(t, h.mgr.CanReroll(board.OrderType("Other/Board")))

	c, exact := h.mgr.Board(mine)
	assert.False(t, exact)
	assert.Equal(t, board.OrderTypeCustom, c.OrderType)
}

func TestReroll_PeerSendsRequestOnly(t *testing.T) {
	h := newHarness(t, opts{role: reroll.PeerRole("host"), templates: svOrders("A", "B")})
	require.NoError(t, h.mgr.Reroll(board.OrderTypeSV))

	require.Len(t, h.tr.sent, 1)
	req, ok := h.tr.sent[0].msg.(protocol.RerollRequest)
	require.True(t, ok)
	assert.Equal(t, board.OrderTypeSV, req.OrderType)
	assert.Equal(t, []protocol.PeerID{"host"}, h.tr.sent[0].to)
	assert.Empty(t, h.team.Available())
	assert.Equal(t, 1, h.mgr.RerollsRemaining(board.OrderTypeSV))
}

func TestReroll_NotReadyIsNoop(t *testing.T) {
	h := newHarness(t, opts{templates: svOrders("A", "B")})
	h.role.Ready = false
	require.NoError(t, h.mgr.Reroll(board.OrderTypeSV))
	assert.Empty(t, h.team.Available())
	assert.Empty(t, h.tr.sent)
}

func TestReroll_TransportFailureReturned(t *testing.T) {
	h := newHarness(t, opts{templates: svOrders("A", "B")})
	h.tr.err = errors.New("link down")
	err := h.mgr.Reroll(board.OrderTypeSV)
	assert.ErrorIs(t, err, h.tr.err)
}

func TestHandleRerollRequest_DropsDuplicates(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := newHarness(t, opts{
		settings: with(func(s *settings.Settings) {
			s.SetBoard(board.KeySV, board.NewConfig(board.OrderTypeSV, true, false, 5, nil))
		}),
		templates: svOrders("A", "B"),
		logger:    zap.New(core),
	})
	req := protocol.NewRerollRequest(board.OrderTypeSV)
	require.NoError(t, h.mgr.HandleMessage("p1", req))
	require.NoError(t, h.mgr.HandleMessage("p1", req))
	assert.Equal(t, 4, h.mgr.RerollsRemaining(board.OrderTypeSV))
	assert.Equal(t, 1, logs.FilterMessage("duplicate reroll request dropped").Len())

	require.NoError(t, h.mgr.HandleMessage("p1", protocol.NewRerollRequest(board.OrderTypeSV)))
	assert.Equal(t, 3, h.mgr.RerollsRemaining(board.OrderTypeSV))
}

func TestHandleRerollRequest_IgnoredByPeer(t *testing.T) {
	h := newHarness(t, opts{role: reroll.PeerRole("host"), templates: svOrders("A", "B")})
	require.NoError(t, h.mgr.HandleMessage("host", protocol.NewRerollRequest(board.OrderTypeSV)))
	assert.Empty(t, h.team.Available())
	assert.Empty(t, h.tr.sent)
}

func TestHandleHostConfig_PeerAdoptsHostSettings(t *testing.T) {
	h := newHarness(t, opts{role: reroll.PeerRole("host")})
	hostSettings := with(func(s *settings.Settings) {
		s.SetBoard(board.KeySV, board.NewConfig(board.OrderTypeSV, true, false, 3, nil))
		s.ForceUnique = true
	})
	snap := protocol.HostConfigSnapshot{Settings: settings.ToDocument(hostSettings)}

	require.NoError(t, h.mgr.HandleMessage("mallory", snap))
	assert.Equal(t, 1, h.mgr.RerollsRemaining(board.OrderTypeSV), "non-host config ignored")

	require.NoError(t, h.mgr.HandleMessage("host", snap))
	c, _ := h.mgr.Board(board.OrderTypeSV)
	assert.Equal(t, 3, c.MaxRerolls)
	assert.Equal(t, 3, h.mgr.RerollsRemaining(board.OrderTypeSV))
	assert.True(t, h.mgr.ActiveSettings().ForceUnique)
	assert.False(t, h.mgr.LocalSettings().ForceUnique)
	assert.Empty(t, h.tr.sent, "peers never broadcast")
}

func TestHandleHostConfig_LocalControlKeepsLocalSettings(t *testing.T) {
	h := newHarness(t, opts{
		role:     reroll.PeerRole("host"),
		settings: with(func(s *settings.Settings) { s.AllowLocalControl = true }),
	})
	hostSettings := with(func(s *settings.Settings) {
		s.SetBoard(board.KeySV, board.NewConfig(board.OrderTypeSV, true, false, 3, nil))
	})
	require.NoError(t, h.mgr.HandleMessage("host", protocol.HostConfigSnapshot{Settings: settings.ToDocument(hostSettings)}))
	c, _ := h.mgr.Board(board.OrderTypeSV)
	assert.Equal(t, 1, c.MaxRerolls)
}

func TestHandleHostConfig_IgnoredByHost(t *testing.T) {
	h := newHarness(t, opts{})
	other := with(func(s *settings.Settings) {
		s.SetBoard(board.KeySV, board.NewConfig(board.OrderTypeSV, true, false, 9, nil))
	})
	require.NoError(t, h.mgr.HandleMessage("host", protocol.HostConfigSnapshot{Settings: settings.ToDocument(other)}))
	c, _ := h.mgr.Board(board.OrderTypeSV)
	assert.Equal(t, 1, c.MaxRerolls)
}

func TestHandleRerollCounts_PeerReplacesCounters(t *testing.T) {
	h := newHarness(t, opts{role: reroll.PeerRole("host")})
	snap := protocol.RerollCountsSnapshot{Remaining: map[board.OrderType]int{board.OrderTypeSV: 0, board.OrderTypeQi: 7}}

	require.NoError(t, h.mgr.HandleMessage("mallory", snap))
	assert.Equal(t, 1, h.mgr.RerollsRemaining(board.OrderTypeSV))

	require.NoError(t, h.mgr.HandleMessage("host", snap))
	assert.Equal(t, 0, h.mgr.RerollsRemaining(board.OrderTypeSV))
	assert.Equal(t, 7, h.mgr.RerollsRemaining(board.OrderTypeQi))
	assert.False(t, h.mgr.CanReroll(board.OrderTypeSV))
}

func TestResetRerolls(t *testing.T) {
	h := newHarness(t, opts{
		settings: with(func(s *settings.Settings) {
			s.SetBoard(board.KeySV, board.NewConfig(board.OrderTypeSV, true, false, 2, nil))
		}),
		templates: svOrders("A", "B"),
	})
	require.NoError(t, h.mgr.Reroll(board.OrderTypeSV))
	require.NoError(t, h.mgr.Reroll(board.OrderTypeQi))

	require.NoError(t, h.mgr.ResetRerolls(board.OrderTypeSV, false))
	assert.Equal(t, 2, h.mgr.RerollsRemaining(board.OrderTypeSV))
	assert.Equal(t, 0, h.mgr.RerollsRemaining(board.OrderTypeQi))
	assert.Equal(t, 2, h.mgr.RerollsToday())

	h.tr.sent = nil
	require.NoError(t, h.mgr.ResetRerolls(board.All, true))
	assert.Equal(t, 1, h.mgr.RerollsRemaining(board.OrderTypeQi))
	assert.Equal(t, 0, h.mgr.RerollsToday())
	assert.NotContains(t, h.mgr.Remaining(), board.All)
	require.Len(t, h.tr.counts(), 1)
}

func TestResetKeybindPressed_KeepsDayTotal(t *testing.T) {
	h := newHarness(t, opts{templates: svOrders("A", "B")})
	require.NoError(t, h.mgr.Reroll(board.OrderTypeSV))
	require.Equal(t, 0, h.mgr.RerollsRemaining(board.OrderTypeSV))

	require.NoError(t, h.mgr.ResetKeybindPressed())
	assert.Equal(t, 1, h.mgr.RerollsRemaining(board.OrderTypeSV))
	assert.Equal(t, 1, h.mgr.RerollsToday())
}

func TestResetRerolls_PeerNoop(t *testing.T) {
	h := newHarness(t, opts{role: reroll.PeerRole("host")})
	require.NoError(t, h.mgr.HandleMessage("host", protocol.RerollCountsSnapshot{Remaining: map[board.OrderType]int{board.OrderTypeSV: 0}}))
	require.NoError(t, h.mgr.ResetKeybindPressed())
	assert.Equal(t, 0, h.mgr.RerollsRemaining(board.OrderTypeSV))
	assert.Empty(t, h.tr.sent)
}

func TestCache_ReloadRestoresCopiesWithFreshDueDates(t *testing.T) {
	h := newHarness(t, opts{templates: svOrders("B", "C")})
	robin := &quest.Instance{Key: "A", OrderType: board.OrderTypeSV, Duration: quest.Week, DueDate: 3}
	h.team.AddAvailable(robin)
	h.team.AddAvailable(&quest.Instance{Key: "Q", OrderType: board.OrderTypeQi, Duration: quest.ThreeDays})

	h.mgr.OnDayEnding()
	robin.DueDate = 99
	require.Len(t, h.mgr.Cached(), 2)
	assert.Equal(t, 3, h.mgr.Cached()[0].DueDate, "cache holds copies")

	require.NoError(t, h.mgr.Reroll(board.OrderTypeSV))
	require.NotEqual(t, []string{"A"}, h.keys(board.OrderTypeSV))

	today := h.world.Advance()
	h.mgr.ReloadSpecialOrdersFromCache(board.OrderTypeSV)
	assert.Equal(t, []string{"A"}, h.keys(board.OrderTypeSV))
	assert.Equal(t, []string{"Q"}, h.keys(board.OrderTypeQi))
	assert.Equal(t, today.TotalDays()+7, quest.OfType(h.team.Available(), board.OrderTypeSV)[0].DueDate)
}

func TestCache_PerTypeReplacesOnlyThatType(t *testing.T) {
	h := newHarness(t, opts{})
	h.team.AddAvailable(&quest.Instance{Key: "A", OrderType: board.OrderTypeSV})
	h.team.AddAvailable(&quest.Instance{Key: "Q", OrderType: board.OrderTypeQi})
	h.mgr.CacheCurrentAvailableSpecialOrders(board.All)

	h.team.RemoveAvailable(func(q *quest.Instance) bool { return q.OrderType == board.OrderTypeSV })
	h.team.AddAvailable(&quest.Instance{Key: "B", OrderType: board.OrderTypeSV})
	h.mgr.CacheCurrentAvailableSpecialOrders(board.OrderTypeSV)

	assert.ElementsMatch(t, []string{"Q", "B"}, quest.Keys(h.mgr.Cached()))
}

func TestReload_BeforeAnyCacheKeepsBoard(t *testing.T) {
	h := newHarness(t, opts{})
	h.team.AddAvailable(&quest.Instance{Key: "A", OrderType: board.OrderTypeSV})
	h.mgr.ReloadSpecialOrdersFromCache(board.OrderTypeSV)
	assert.Equal(t, []string{"A"}, h.keys(board.OrderTypeSV))
}

func TestCache_PeerNoop(t *testing.T) {
	h := newHarness(t, opts{role: reroll.PeerRole("host")})
	h.team.AddAvailable(&quest.Instance{Key: "A", OrderType: board.OrderTypeSV})
	h.mgr.OnDayEnding()
	assert.Empty(t, h.mgr.Cached())
}

func TestOnDayStarted_RefreshesScheduledBoardsAndReloadsTheRest(t *testing.T) {
	h := newHarness(t, opts{
		settings: with(func(s *settings.Settings) {
			s.SetBoard(board.KeySV, board.NewConfig(board.OrderTypeSV, false, false, 1, board.EveryDay().Slice()))
			s.SetBoard(board.KeyQi, board.NewConfig(board.OrderTypeQi, true, false, 2, never()))
		}),
		templates: append(svOrders("A", "B", "C"), order("Q1", board.OrderTypeQi, quest.ThreeDays)),
	})
	h.team.AddAvailable(&quest.Instance{Key: "QOld", OrderType: board.OrderTypeQi, Duration: quest.ThreeDays})
	require.NoError(t, h.mgr.Reroll(board.OrderTypeQi))
	require.Equal(t, []string{"Q1"}, h.keys(board.OrderTypeQi))

	h.team.RemoveAvailable(func(*quest.Instance) bool { return true })
	h.team.AddAvailable(&quest.Instance{Key: "QOld", OrderType: board.OrderTypeQi, Duration: quest.ThreeDays})
	h.mgr.OnDayEnding()
	h.tr.sent = nil

	tuesday := h.world.Advance()
	require.NoError(t, h.mgr.OnDayStarted(tuesday))

	assert.Len(t, h.keys(board.OrderTypeSV), 2, "every-day board regenerated even though rerolls are disallowed")
	assert.Equal(t, []string{"QOld"}, h.keys(board.OrderTypeQi), "unscheduled board restored from cache")
	assert.Equal(t, tuesday.TotalDays()+3, quest.OfType(h.team.Available(), board.OrderTypeQi)[0].DueDate)

	assert.Equal(t, 2, h.mgr.RerollsRemaining(board.OrderTypeQi), "quotas restored")
	assert.Equal(t, 1, h.mgr.RerollsRemaining(board.OrderTypeSV), "scheduled refresh spends no quota")
	// The base board and the desert festival board refresh every day.
	assert.Equal(t, 2, h.mgr.RerollsToday())
	require.NotEmpty(t, h.tr.counts())
}

func TestOnDayStarted_WeeklyScheduleMatchesDayOfWeek(t *testing.T) {
	h := newHarness(t, opts{templates: svOrders("A", "B", "C")})
	refreshedOn := map[int]bool{}
	date := monday
	for i := 0; i < board.DaysPerWeek*2; i++ {
		h.team.RemoveAvailable(func(*quest.Instance) bool { return true })
		h.team.AddAvailable(&quest.Instance{Key: "Yesterday", OrderType: board.OrderTypeSV, Duration: quest.Week})
		h.mgr.OnDayEnding()
		require.NoError(t, h.mgr.OnDayStarted(date))
		if got := h.keys(board.OrderTypeSV); len(got) == 2 {
			refreshedOn[date.Day] = true
		} else {
			assert.Equal(t, []string{"Yesterday"}, got, "day %d", date.Day)
		}
		date = h.world.Advance()
	}
	assert.Equal(t, map[int]bool{1: true, 8: true}, refreshedOn)
}

func TestOnDayStarted_SkipsBoardsWhoseModIsMissing(t *testing.T) {
	everyDay := with(func(s *settings.Settings) {
		s.SetBoard(board.KeySV, board.NewConfig(board.OrderTypeSV, true, false, 1, board.EveryDay().Slice()))
		s.SetBoard(board.KeyRSVTown, board.NewConfig(board.OrderTypeRSVTown, true, false, 1, board.EveryDay().Slice()))
	})
	templates := append(svOrders("A", "B", "C"),
		order("R1", board.OrderTypeRSVTown, quest.Week),
		order("R2", board.OrderTypeRSVTown, quest.Week),
	)

	missing := newHarness(t, opts{
		settings:  everyDay,
		templates: templates,
		modLoaded: func(string) bool { return false },
	})
	assert.True(t, missing.mgr.Dormant(board.OrderTypeRSVTown))
	assert.False(t, missing.mgr.Dormant(board.OrderTypeSV), "base board needs no mod")
	require.NoError(t, missing.mgr.OnDayStarted(monday))
	assert.Empty(t, missing.keys(board.OrderTypeRSVTown))
	assert.Len(t, missing.keys(board.OrderTypeSV), 2)

	loaded := newHarness(t, opts{
		settings:  everyDay,
		templates: templates,
		modLoaded: func(id string) bool { return id == "Rafseazz.RidgesideVillage" },
	})
	assert.False(t, loaded.mgr.Dormant(board.OrderTypeRSVTown))
	require.NoError(t, loaded.mgr.OnDayStarted(monday))
	assert.ElementsMatch(t, []string{"R1", "R2"}, loaded.keys(board.OrderTypeRSVTown))
}

func TestNewManager_NilModLoadedTreatsEveryModAsLoaded(t *testing.T) {
	h := newHarness(t, opts{})
	for _, k := range board.KnownBoards {
		assert.False(t, h.mgr.Dormant(k.OrderType), k.Name)
	}
}

func TestOnDayStarted_PeerNoop(t *testing.T) {
	h := newHarness(t, opts{role: reroll.PeerRole("host"), templates: svOrders("A", "B")})
	require.NoError(t, h.mgr.OnDayStarted(monday))
	assert.Empty(t, h.team.Available())
	assert.Empty(t, h.tr.sent)
}

func TestOnPeerConnected_SendsConfigThenCounts(t *testing.T) {
	h := newHarness(t, opts{})
	require.NoError(t, h.mgr.OnPeerConnected("p2"))
	require.Len(t, h.tr.sent, 2)
	_, isConfig := h.tr.sent[0].msg.(protocol.HostConfigSnapshot)
	_, isCounts := h.tr.sent[1].msg.(protocol.RerollCountsSnapshot)
	assert.True(t, isConfig)
	assert.True(t, isCounts)
	for _, d := range h.tr.sent {
		assert.Equal(t, []protocol.PeerID{"p2"}, d.to)
	}
}

func TestUpdateLocalSettings_HostRebroadcasts(t *testing.T) {
	h := newHarness(t, opts{})
	next := with(func(s *settings.Settings) {
		s.SetBoard(board.KeySV, board.NewConfig(board.OrderTypeSV, true, false, 4, nil))
	})
	require.NoError(t, h.mgr.UpdateLocalSettings(next))
	assert.Equal(t, 4, h.mgr.RerollsRemaining(board.OrderTypeSV))

	require.Len(t, h.tr.sent, 2)
	cfg, ok := h.tr.sent[0].msg.(protocol.HostConfigSnapshot)
	require.True(t, ok)
	assert.Equal(t, 4, cfg.Settings.Boards[string(board.KeySV)].MaxRerolls)
	assert.Empty(t, h.tr.sent[0].to)
}

func TestRebuild_LogsShadowedBoards(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	newHarness(t, opts{
		settings: with(func(s *settings.Settings) {
			s.SetBoard("my_qi", board.NewConfig(board.OrderTypeQi, true, false, 1, nil))
		}),
		logger: zap.New(core),
	})
	assert.Equal(t, 1, logs.FilterMessage("board shadowed by another board with the same order type").Len())
}

func TestCanReroll_UnknownOrderTypeWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	h := newHarness(t, opts{logger: zap.New(core)})
	assert.True(t, h.mgr.CanReroll("MyMod/Board"))
	assert.Equal(t, 1, logs.FilterMessage("no board configured for order type; using the custom board").Len())

	assert.True(t, h.mgr.CanReroll(board.OrderTypeQi))
	assert.Equal(t, 1, logs.Len(), "known boards resolve quietly")
}

func sortedKeys(h *harness, t board.OrderType) []string {
	keys := h.keys(t)
	sort.Strings(keys)
	return keys
}

func TestReroll_ConsecutiveSameDayRerollsDiverge(t *testing.T) {
	differ := 0
	const saves = 20
	for id := uint64(1); id <= saves; id++ {
		h := newHarness(t, opts{
			settings:  with(infiniteSV),
			templates: svOrders("A", "B", "C", "D", "E", "F"),
			gameID:    id,
		})
		require.NoError(t, h.mgr.Reroll(board.OrderTypeSV))
		first := sortedKeys(h, board.OrderTypeSV)
		require.NoError(t, h.mgr.Reroll(board.OrderTypeSV))
		second := sortedKeys(h, board.OrderTypeSV)
		require.Len(t, second, 2)
		if !assert.ObjectsAreEqual(first, second) {
			differ++
		}
	}
	// One pair in fifteen coincides by chance.
	assert.Greater(t, differ, saves/2, "rerolls_today must change the selection")
}
