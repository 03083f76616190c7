package reroll

import (
	"fmt"
	"sort"

	"github.com/zyedidia/generic/mapset"
	"go.uber.org/zap"

	"github.com/cory-johannsen/specialorders/internal/board"
	"github.com/cory-johannsen/specialorders/internal/protocol"
	"github.com/cory-johannsen/specialorders/internal/quest"
	"github.com/cory-johannsen/specialorders/internal/rng"
	"github.com/cory-johannsen/specialorders/internal/settings"
)

// SlotsPerReroll is the number of orders a reroll offers.
const SlotsPerReroll = 2

// Deps holds the collaborators a Manager is built from.
type Deps struct {
	Role         Role
	Transport    Transport
	World        World
	Team         quest.Team
	Catalog      quest.Catalog
	Materializer quest.Materializer
	Logger       *zap.Logger
	// RecentRequests bounds the host's duplicate-request memory. Zero selects
	// DefaultRecentRequests.
	RecentRequests int
	// TrueRandom builds the source used when UseTrueRandom is set. Nil selects
	// rng.NewTrueRandom.
	TrueRandom func() (rng.Source, error)
	// ModLoaded reports whether a content mod is installed. Known boards whose
	// required mods are missing stay dormant on day start. Nil treats every
	// mod as loaded.
	ModLoaded func(modID string) bool
}

// Manager owns the reroll state of one process.
//
// Manager is not safe for concurrent use. All calls must come from the one
// goroutine that drives the simulation.
type Manager struct {
	role      Role
	transport Transport
	world     World
	team      quest.Team
	catalog   quest.Catalog
	factory   quest.Materializer
	logger    *zap.Logger

	local settings.Settings
	// host is the last host configuration stamped or received; nil on a peer
	// that has not heard from the host yet.
	host *settings.Settings

	registry     board.Registry
	dormant      mapset.Set[board.OrderType]
	remaining    map[board.OrderType]int
	rerollsToday int

	cache      []*quest.Instance
	cacheValid bool

	recent     *recentRequests
	trueRandom func() (rng.Source, error)
	modLoaded  func(string) bool
}

// NewManager builds a Manager over local settings and derives its registry.
//
// Precondition: every field of deps except RecentRequests, TrueRandom and
// ModLoaded must be non-nil.
// Postcondition: the registry and counters reflect the active settings. A host
// whose world is ready has broadcast them; a failed broadcast is returned
// alongside the usable Manager.
func NewManager(deps Deps, local settings.Settings) (*Manager, error) {
	m := &Manager{
		role:       deps.Role,
		transport:  deps.Transport,
		world:      deps.World,
		team:       deps.Team,
		catalog:    deps.Catalog,
		factory:    deps.Materializer,
		logger:     deps.Logger.Named("reroll"),
		local:      local.Clone(),
		recent:     newRecentRequests(deps.RecentRequests),
		trueRandom: deps.TrueRandom,
		modLoaded:  deps.ModLoaded,
	}
	if m.trueRandom == nil {
		m.trueRandom = rng.NewTrueRandom
	}
	if m.modLoaded == nil {
		m.modLoaded = func(string) bool { return true }
	}
	return m, m.RebuildGameState()
}

// ActiveSettings returns a copy of the settings the registry is derived from:
// the host's on a peer that does not allow local control, the local ones
// otherwise.
func (m *Manager) ActiveSettings() settings.Settings {
	return m.active().Clone()
}

// LocalSettings returns a copy of this process's own settings.
func (m *Manager) LocalSettings() settings.Settings {
	return m.local.Clone()
}

func (m *Manager) active() settings.Settings {
	if !m.role.IsHost() && m.host != nil && !m.local.AllowLocalControl {
		return *m.host
	}
	return m.local
}

// Board returns the policy that governs orderType and whether it was an
// exact match rather than the custom fallback.
func (m *Manager) Board(orderType board.OrderType) (board.Config, bool) {
	return m.registry.Resolve(orderType)
}

// RerollsRemaining returns the remaining rerolls of the board governing
// orderType. Unknown order types share the custom board's counter.
func (m *Manager) RerollsRemaining(orderType board.OrderType) int {
	_, key := m.resolve(orderType)
	return m.remaining[key]
}

// Remaining returns a copy of every counter keyed by order type.
func (m *Manager) Remaining() map[board.OrderType]int {
	out := make(map[board.OrderType]int, len(m.remaining))
	for k, v := range m.remaining {
		out[k] = v
	}
	return out
}

// RerollsToday returns the number of generation passes run since the day
// counter was last zeroed.
func (m *Manager) RerollsToday() int {
	return m.rerollsToday
}

// Dormant reports whether orderType belongs to a known board whose required
// mods are not loaded.
func (m *Manager) Dormant(orderType board.OrderType) bool {
	return m.dormant.Has(orderType)
}

// Cached returns copies of the cached orders.
func (m *Manager) Cached() []*quest.Instance {
	out := make([]*quest.Instance, len(m.cache))
	for i, q := range m.cache {
		out[i] = q.Clone()
	}
	return out
}

// resolve returns the policy for orderType and the counter key its quota is
// tracked under.
func (m *Manager) resolve(orderType board.OrderType) (board.Config, board.OrderType) {
	c, exact := m.registry.Resolve(orderType)
	if exact {
		return c, orderType
	}
	m.logger.Warn("no board configured for order type; using the custom board",
		zap.String("order_type", string(orderType)),
	)
	if _, ok := m.registry[board.OrderTypeCustom]; ok {
		return c, board.OrderTypeCustom
	}
	return c, orderType
}

// RebuildGameState re-derives the registry and the counters from the active
// settings. On the host the local settings are first stamped as the host
// configuration and the result is broadcast.
//
// Postcondition: every registered order type has a counter equal to its
// board's MaxRerolls.
func (m *Manager) RebuildGameState() error {
	if m.role.IsHost() {
		stamped := m.local.Clone()
		m.host = &stamped
	}
	active := m.active()
	reg, shadowed := active.Registry()
	for _, k := range shadowed {
		m.logger.Warn("board shadowed by another board with the same order type",
			zap.String("board", string(k)),
		)
	}
	m.registry = reg
	m.dormant = mapset.New[board.OrderType]()
	for key, c := range active.Boards {
		known, ok := board.LookupKnown(key)
		if !ok || reg[c.OrderType] != c || known.Available(m.modLoaded) {
			continue
		}
		m.dormant.Put(c.OrderType)
		m.logger.Info("board dormant; required mods not loaded",
			zap.String("board", string(key)),
			zap.Strings("mods", known.RequiredMods),
		)
	}
	m.remaining = make(map[board.OrderType]int, len(reg))
	for t, c := range reg {
		m.remaining[t] = c.MaxRerolls
	}
	m.logger.Debug("game state rebuilt",
		zap.Int("boards", len(reg)),
		zap.Bool("host", m.role.IsHost()),
	)
	if !m.role.IsHost() {
		return nil
	}
	if err := m.SyncHostConfig(); err != nil {
		return err
	}
	return m.SyncRerollsRemaining()
}

// UpdateLocalSettings replaces this process's own settings, as when the
// player saves the settings menu, and rebuilds.
func (m *Manager) UpdateLocalSettings(s settings.Settings) error {
	m.local = s.Clone()
	return m.RebuildGameState()
}

// CanReroll reports whether a player may reroll the board serving orderType
// right now.
func (m *Manager) CanReroll(orderType board.OrderType) bool {
	c, key := m.resolve(orderType)
	log := m.logger.With(zap.String("order_type", string(orderType)))
	if !c.AllowReroll {
		log.Debug("reroll disallowed by board policy")
		return false
	}
	if m.remaining[key] <= 0 && !c.InfiniteRerolls {
		log.Debug("no rerolls remaining")
		return false
	}
	accepted := mapset.New[string]()
	for _, q := range quest.OfType(m.team.Accepted(), orderType) {
		accepted.Put(q.Key)
	}
	for _, q := range quest.OfType(m.team.Available(), orderType) {
		if accepted.Has(q.Key) {
			log.Debug("a board order is already accepted", zap.String("order", q.Key))
			return false
		}
	}
	return true
}

// Reroll replaces the orders on the board serving orderType.
//
// On a peer it only sends a request to the host. On the host it re-checks
// CanReroll, regenerates the board, spends one reroll and broadcasts the
// counters. A refused reroll is not an error.
//
// Postcondition: Returns an error when the request, the catalog or the
// broadcast fails. A catalog failure leaves the quota unspent.
func (m *Manager) Reroll(orderType board.OrderType) error {
	if !m.role.WorldReady() {
		m.logger.Debug("reroll ignored before the world is ready")
		return nil
	}
	if !m.role.IsHost() {
		req := protocol.NewRerollRequest(orderType)
		if err := m.transport.Send(req, m.role.HostID()); err != nil {
			return fmt.Errorf("requesting reroll of %q: %w", string(orderType), err)
		}
		m.logger.Debug("reroll requested from host",
			zap.String("order_type", string(orderType)),
			zap.Stringer("request_id", req.RequestID),
		)
		return nil
	}
	if !m.CanReroll(orderType) {
		m.logger.Info("reroll refused", zap.String("order_type", string(orderType)))
		return nil
	}
	if _, err := m.refresh(orderType); err != nil {
		return err
	}
	_, key := m.resolve(orderType)
	m.remaining[key]--
	return m.SyncRerollsRemaining()
}

// refresh regenerates the board serving orderType without consulting or
// spending its quota.
func (m *Manager) refresh(orderType board.OrderType) ([]*quest.Instance, error) {
	m.rerollsToday++
	active := m.active()

	removed := m.team.RemoveAvailable(func(q *quest.Instance) bool {
		return q.OrderType == orderType
	})
	prior := mapset.New[string]()
	for _, q := range removed {
		prior.Put(q.Key)
	}

	pool, avoid := m.candidates(orderType, prior, active.ForceUnique)
	if active.ForceUnique && len(pool) < SlotsPerReroll && len(avoid) > 0 {
		pool = append(pool, avoid[0])
		sort.Strings(pool)
	}
	fallback := append([]string(nil), pool...)
	if orderType == board.OrderTypeSV {
		pool = filter(pool, func(id string) bool { return !m.team.Completed(id) })
	}

	src, err := m.source(active.UseTrueRandom)
	if err != nil {
		return nil, err
	}

	today := m.world.Today()
	var added []*quest.Instance
	for slot := 0; slot < SlotsPerReroll; slot++ {
		if len(pool) == 0 {
			if len(fallback) == 0 {
				break
			}
			pool = append([]string(nil), fallback...)
		}
		id := rng.ChooseFrom(src, pool)
		inst, err := m.factory.Materialize(id, src.Next())
		if err != nil {
			return added, fmt.Errorf("materializing order %q: %w", id, err)
		}
		inst.ApplyHardDuration(today)
		m.team.AddAvailable(inst)
		added = append(added, inst)

		drop := func(other string) bool { return other != id }
		pool = filter(pool, drop)
		fallback = filter(fallback, drop)
	}
	m.logger.Info("board regenerated",
		zap.String("order_type", string(orderType)),
		zap.Strings("removed", quest.Keys(removed)),
		zap.Strings("offered", quest.Keys(added)),
		zap.Int("rerolls_today", m.rerollsToday),
	)
	return added, nil
}

// candidates returns, in ascending id order, the eligible template ids of
// orderType. With forceUnique, ids in prior go to avoid instead of pool.
func (m *Manager) candidates(orderType board.OrderType, prior mapset.Set[string], forceUnique bool) (pool, avoid []string) {
	templates := m.catalog.Templates()
	ids := make([]string, 0, len(templates))
	for id := range templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		t := templates[id]
		if t.OrderType != orderType || !m.catalog.CanStartNow(id, t) {
			continue
		}
		if forceUnique && prior.Has(id) {
			avoid = append(avoid, id)
			continue
		}
		pool = append(pool, id)
	}
	return pool, avoid
}

func (m *Manager) source(trueRandom bool) (rng.Source, error) {
	if trueRandom {
		src, err := m.trueRandom()
		if err != nil {
			return nil, fmt.Errorf("seeding true random source: %w", err)
		}
		return src, nil
	}
	return rng.NewSeeded(m.world.GameID(), m.world.DaysPlayed(), m.rerollsToday), nil
}

func filter(ids []string, keep func(string) bool) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if keep(id) {
			out = append(out, id)
		}
	}
	return out
}

// ResetRerolls restores the quota of the board serving orderType, or of
// every board for board.All, and broadcasts the counters. resetDayTotal also
// zeroes the rerolls-today counter.
//
// Host only; a no-op elsewhere.
func (m *Manager) ResetRerolls(orderType board.OrderType, resetDayTotal bool) error {
	if !m.hostReady() {
		return nil
	}
	if resetDayTotal {
		m.rerollsToday = 0
	}
	if orderType == board.All {
		for t, c := range m.registry {
			m.remaining[t] = c.MaxRerolls
		}
	} else {
		c, key := m.resolve(orderType)
		m.remaining[key] = c.MaxRerolls
	}
	m.logger.Debug("rerolls reset",
		zap.String("order_type", string(orderType)),
		zap.Bool("day_total", resetDayTotal),
	)
	return m.SyncRerollsRemaining()
}

// CacheCurrentAvailableSpecialOrders snapshots the offered orders of
// orderType, or of every type for board.All, replacing what was cached for
// them.
//
// Host only; a no-op elsewhere.
func (m *Manager) CacheCurrentAvailableSpecialOrders(orderType board.OrderType) {
	if !m.hostReady() {
		return
	}
	kept := m.cache[:0:0]
	if orderType != board.All {
		for _, q := range m.cache {
			if q.OrderType != orderType {
				kept = append(kept, q)
			}
		}
	}
	for _, q := range quest.OfType(m.team.Available(), orderType) {
		kept = append(kept, q.Clone())
	}
	m.cache = kept
	m.cacheValid = true
	m.logger.Debug("orders cached",
		zap.String("order_type", string(orderType)),
		zap.Int("cached", len(m.cache)),
	)
}

// ReloadSpecialOrdersFromCache puts the cached orders of orderType back on
// the board in place of whatever is offered now, with due dates recomputed
// from today.
//
// Host only; a no-op elsewhere, and a no-op before anything was cached.
func (m *Manager) ReloadSpecialOrdersFromCache(orderType board.OrderType) {
	if !m.hostReady() {
		return
	}
	if !m.cacheValid {
		m.logger.Debug("nothing cached yet; keeping current orders",
			zap.String("order_type", string(orderType)),
		)
		return
	}
	m.team.RemoveAvailable(func(q *quest.Instance) bool {
		return orderType == board.All || q.OrderType == orderType
	})
	today := m.world.Today()
	for _, q := range quest.OfType(m.cache, orderType) {
		restored := q.Clone()
		restored.ApplyHardDuration(today)
		m.team.AddAvailable(restored)
	}
}

// OnDayEnding caches every offered order.
func (m *Manager) OnDayEnding() {
	m.CacheCurrentAvailableSpecialOrders(board.All)
}

// OnDayStarted restores every quota, then refreshes each board whose schedule
// includes the day of week of date and reloads the rest from the cache.
// Dormant boards are neither refreshed nor reloaded.
//
// Host only; a no-op elsewhere. Scheduled refreshes run even on boards that
// disallow rerolls and never spend quota.
func (m *Manager) OnDayStarted(date quest.WorldDate) error {
	if !m.hostReady() {
		return nil
	}
	if err := m.ResetRerolls(board.All, true); err != nil {
		return err
	}
	dow := date.DayOfWeek()
	for _, t := range m.registry.OrderTypes() {
		if m.dormant.Has(t) {
			m.logger.Debug("skipping dormant board", zap.String("order_type", string(t)))
			continue
		}
		if m.registry[t].ShouldRefreshToday(dow) {
			if _, err := m.refresh(t); err != nil {
				return err
			}
			continue
		}
		m.ReloadSpecialOrdersFromCache(t)
	}
	m.logger.Info("day started", zap.Stringer("date", date), zap.Int("day_of_week", dow))
	return nil
}

// OnPeerConnected sends the host configuration and counters to peer.
//
// Host only; a no-op elsewhere.
func (m *Manager) OnPeerConnected(peer protocol.PeerID) error {
	if !m.hostReady() {
		return nil
	}
	if err := m.SyncHostConfig(peer); err != nil {
		return err
	}
	return m.SyncRerollsRemaining(peer)
}

// ResetKeybindPressed restores every quota without touching the day counter.
func (m *Manager) ResetKeybindPressed() error {
	return m.ResetRerolls(board.All, false)
}

// SyncHostConfig sends the host configuration to peers, or to every peer
// when none are given.
//
// Host only; a no-op elsewhere and before the world is ready.
func (m *Manager) SyncHostConfig(peers ...protocol.PeerID) error {
	if !m.hostReady() || m.host == nil {
		return nil
	}
	msg := protocol.HostConfigSnapshot{Settings: settings.ToDocument(*m.host)}
	if err := m.transport.Send(msg, peers...); err != nil {
		return fmt.Errorf("sending host config: %w", err)
	}
	return nil
}

// SyncRerollsRemaining sends the counters to peers, or to every peer when
// none are given.
//
// Host only; a no-op elsewhere and before the world is ready.
func (m *Manager) SyncRerollsRemaining(peers ...protocol.PeerID) error {
	if !m.hostReady() {
		return nil
	}
	msg := protocol.RerollCountsSnapshot{Remaining: m.Remaining()}
	if err := m.transport.Send(msg, peers...); err != nil {
		return fmt.Errorf("sending reroll counts: %w", err)
	}
	return nil
}

func (m *Manager) hostReady() bool {
	return m.role.IsHost() && m.role.WorldReady()
}

// HandleMessage routes an inbound message from peer from.
func (m *Manager) HandleMessage(from protocol.PeerID, msg protocol.Message) error {
	return protocol.Dispatch(from, msg, m)
}

// HandleRerollRequest implements protocol.Handler. The host rerolls on the
// sender's behalf; a request id seen before is dropped.
func (m *Manager) HandleRerollRequest(from protocol.PeerID, req protocol.RerollRequest) {
	log := m.logger.With(
		zap.String("from", string(from)),
		zap.String("order_type", string(req.OrderType)),
		zap.Stringer("request_id", req.RequestID),
	)
	if !m.role.IsHost() {
		log.Debug("ignoring reroll request on a peer")
		return
	}
	if m.recent.observe(req.RequestID) {
		log.Info("duplicate reroll request dropped")
		return
	}
	if err := m.Reroll(req.OrderType); err != nil {
		log.Error("reroll on behalf of peer failed", zap.Error(err))
	}
}

// HandleHostConfig implements protocol.Handler. A peer adopts the snapshot
// as the host configuration and rebuilds.
func (m *Manager) HandleHostConfig(from protocol.PeerID, snap protocol.HostConfigSnapshot) {
	if !m.fromHost(from, snap.Type()) {
		return
	}
	s := settings.FromDocument(snap.Settings, m.logger)
	m.host = &s
	if err := m.RebuildGameState(); err != nil {
		m.logger.Error("rebuild after host config failed", zap.Error(err))
	}
}

// HandleRerollCounts implements protocol.Handler. A peer replaces its
// counters with the host's.
func (m *Manager) HandleRerollCounts(from protocol.PeerID, snap protocol.RerollCountsSnapshot) {
	if !m.fromHost(from, snap.Type()) {
		return
	}
	m.remaining = make(map[board.OrderType]int, len(snap.Remaining))
	for k, v := range snap.Remaining {
		m.remaining[k] = v
	}
}

func (m *Manager) fromHost(from protocol.PeerID, t protocol.MessageType) bool {
	if m.role.IsHost() {
		m.logger.Debug("host ignoring replicated state", zap.String("type", string(t)))
		return false
	}
	if from != m.role.HostID() {
		m.logger.Warn("replicated state from a non-host peer ignored",
			zap.String("type", string(t)),
			zap.String("from", string(from)),
		)
		return false
	}
	return true
}
