// Package daemon runs the board daemon's event loop: the one goroutine that
// owns the reroll manager and the world, fed by transport events, day events
// and console commands.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/cory-johannsen/specialorders/internal/board"
	"github.com/cory-johannsen/specialorders/internal/calendar"
	"github.com/cory-johannsen/specialorders/internal/console"
	"github.com/cory-johannsen/specialorders/internal/quest"
	"github.com/cory-johannsen/specialorders/internal/reroll"
	"github.com/cory-johannsen/specialorders/internal/settings"
	"github.com/cory-johannsen/specialorders/internal/transport"
)

// ErrHostGone is returned by Run on a peer whose link to the host dropped.
var ErrHostGone = errors.New("daemon: host disconnected")

// Advancer moves the calendar to the next day.
type Advancer interface {
	Advance() quest.WorldDate
}

// Options holds the collaborators of a Loop.
type Options struct {
	Manager *reroll.Manager
	World   *quest.World
	Conn    transport.Conn
	Role    reroll.Role
	// Store persists settings changed from the console. Nil disables saving.
	Store settings.Store
	// Clock is advanced by the sleep command. Nil disables it.
	Clock Advancer
	// Out receives console output.
	Out io.Writer
	// OnQuit is called when the quit command runs.
	OnQuit func()
	Logger *zap.Logger
}

// Loop serializes every input of the daemon onto one goroutine.
type Loop struct {
	mgr      *reroll.Manager
	world    *quest.World
	conn     transport.Conn
	role     reroll.Role
	store    settings.Store
	clock    Advancer
	out      io.Writer
	onQuit   func()
	commands *console.Registry
	logger   *zap.Logger

	days  chan calendar.DayEvent
	lines chan string

	stop     chan struct{}
	stopOnce sync.Once
}

// New builds a Loop.
//
// Precondition: Manager, World, Conn, Role, Out and Logger must be non-nil.
func New(o Options) *Loop {
	if o.OnQuit == nil {
		o.OnQuit = func() {}
	}
	return &Loop{
		mgr:      o.Manager,
		world:    o.World,
		conn:     o.Conn,
		role:     o.Role,
		store:    o.Store,
		clock:    o.Clock,
		out:      o.Out,
		onQuit:   o.OnQuit,
		commands: console.DefaultRegistry(),
		logger:   o.Logger.Named("loop"),
		days:     make(chan calendar.DayEvent, 4),
		lines:    make(chan string, 16),
		stop:     make(chan struct{}),
	}
}

// Days is the channel to subscribe to the day clock.
func (l *Loop) Days() chan<- calendar.DayEvent { return l.days }

// Submit queues a console line. It blocks while the queue is full and
// returns false once the loop is stopped.
func (l *Loop) Submit(line string) bool {
	select {
	case <-l.stop:
		return false
	default:
	}
	select {
	case l.lines <- line:
		return true
	case <-l.stop:
		return false
	}
}

// Stop makes Run return.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Run processes inputs until ctx is cancelled, Stop is called, or the link
// closes.
//
// Postcondition: Returns nil on a requested stop, ErrHostGone when a peer
// loses its host, or ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	events := l.conn.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return nil
		case ev, ok := <-events:
			if !ok {
				if l.role.IsHost() {
					return nil
				}
				return ErrHostGone
			}
			if err := l.HandleEvent(ev); err != nil {
				return err
			}
		case ev := <-l.days:
			l.HandleDay(ev)
		case line := <-l.lines:
			if quit := l.Exec(line); quit {
				l.onQuit()
			}
		}
	}
}

// HandleEvent applies one transport event.
//
// Postcondition: Returns ErrHostGone when a peer sees the host disconnect.
func (l *Loop) HandleEvent(ev transport.Event) error {
	log := l.logger.With(zap.Stringer("event", ev.Kind), zap.String("peer", string(ev.Peer)))
	switch ev.Kind {
	case transport.EventConnected:
		if err := l.mgr.OnPeerConnected(ev.Peer); err != nil {
			log.Error("syncing new peer failed", zap.Error(err))
		}
	case transport.EventDisconnected:
		log.Info("peer left")
		if !l.role.IsHost() && ev.Peer == l.role.HostID() {
			return ErrHostGone
		}
	case transport.EventMessage:
		if err := l.mgr.HandleMessage(ev.Peer, ev.Message); err != nil {
			log.Warn("unhandled message", zap.Error(err))
		}
	}
	return nil
}

// HandleDay applies one day-cycle event.
func (l *Loop) HandleDay(ev calendar.DayEvent) {
	switch ev.Phase {
	case calendar.DayEnding:
		l.mgr.OnDayEnding()
	case calendar.DayStarted:
		today := l.world.Advance()
		if today != ev.Date {
			l.logger.Warn("world date drifted from the calendar",
				zap.Stringer("world", today),
				zap.Stringer("calendar", ev.Date),
			)
		}
		if err := l.mgr.OnDayStarted(today); err != nil {
			l.logger.Error("day start failed", zap.Error(err))
		}
	}
}

// Exec runs one console line and writes its output. It reports whether the
// line asked the daemon to quit.
func (l *Loop) Exec(line string) (quit bool) {
	res := console.Parse(line)
	if res.Command == "" {
		return false
	}
	cmd, ok := l.commands.Resolve(res.Command)
	if !ok {
		fmt.Fprintf(l.out, "unknown command %q; try help\n", res.Command)
		return false
	}
	if cmd.HostOnly && !l.role.IsHost() {
		fmt.Fprintf(l.out, "%s is only available on the host\n", cmd.Name)
		return false
	}
	var err error
	switch cmd.Handler {
	case console.HandlerBoards:
		l.printBoards()
	case console.HandlerOrders:
		t := board.All
		if len(res.Args) > 0 {
			t = l.orderTypeFor(res.Args[0])
		}
		l.printOrders(t)
	case console.HandlerReroll:
		if len(res.Args) != 1 {
			err = usage(cmd)
			break
		}
		t := l.orderTypeFor(res.Args[0])
		if !l.mgr.CanReroll(t) {
			fmt.Fprintf(l.out, "reroll of %s refused (left=%d)\n", res.Args[0], l.mgr.RerollsRemaining(t))
			break
		}
		err = l.mgr.Reroll(t)
	case console.HandlerReset:
		err = l.mgr.ResetKeybindPressed()
	case console.HandlerAccept:
		if len(res.Args) != 1 {
			err = usage(cmd)
			break
		}
		err = l.world.MemoryTeam().Accept(res.Args[0])
	case console.HandlerComplete:
		if len(res.Args) != 1 {
			err = usage(cmd)
			break
		}
		l.world.MemoryTeam().Complete(res.Args[0])
	case console.HandlerSleep:
		if l.clock == nil {
			err = errors.New("no calendar attached")
			break
		}
		go l.clock.Advance()
	case console.HandlerSet:
		err = l.set(cmd, res.Args)
	case console.HandlerHelp:
		for _, c := range l.commands.Commands() {
			fmt.Fprintf(l.out, "  %-60s %s\n", c.Usage, c.Help)
		}
	case console.HandlerQuit:
		return true
	}
	if err != nil {
		fmt.Fprintf(l.out, "error: %v\n", err)
	}
	return false
}

func usage(cmd *console.Command) error {
	return fmt.Errorf("usage: %s", cmd.Usage)
}

// orderTypeFor maps a console board argument to an order type: a settings
// key, "all", or a literal order type.
func (l *Loop) orderTypeFor(arg string) board.OrderType {
	if strings.EqualFold(arg, string(board.All)) {
		return board.All
	}
	if c, ok := l.mgr.ActiveSettings().Boards[board.ConfigKey(strings.ToLower(arg))]; ok {
		return c.OrderType
	}
	return board.OrderType(arg)
}

func (l *Loop) printBoards() {
	s := l.mgr.ActiveSettings()
	fmt.Fprintf(l.out, "%s  force_unique=%t true_random=%t local_control=%t\n",
		l.world.Today(), s.ForceUnique, s.UseTrueRandom, s.AllowLocalControl)
	for _, k := range s.Keys() {
		c := s.Boards[k]
		left := strconv.Itoa(l.mgr.RerollsRemaining(c.OrderType))
		if c.InfiniteRerolls {
			left = "inf"
		}
		dormant := ""
		if l.mgr.Dormant(c.OrderType) {
			dormant = " (dormant)"
		}
		fmt.Fprintf(l.out, "  %-10s %-26q allow=%-5t left=%-4s max=%-3d schedule=%s%s\n",
			k, string(c.OrderType), c.AllowReroll, left, c.MaxRerolls, c.RefreshSchedule, dormant)
	}
}

func (l *Loop) printOrders(t board.OrderType) {
	orders := quest.OfType(l.world.Team().Available(), t)
	sort.SliceStable(orders, func(i, j int) bool { return orders[i].OrderType < orders[j].OrderType })
	if len(orders) == 0 {
		fmt.Fprintln(l.out, "  no orders on offer")
		return
	}
	for _, q := range orders {
		fmt.Fprintf(l.out, "  %-26q %-24s due %s\n", string(q.OrderType), q.Key, quest.DateFromTotal(q.DueDate))
	}
}

var globalSwitches = map[string]func(*settings.Settings, bool){
	"force_unique":  func(s *settings.Settings, v bool) { s.ForceUnique = v },
	"true_random":   func(s *settings.Settings, v bool) { s.UseTrueRandom = v },
	"local_control": func(s *settings.Settings, v bool) { s.AllowLocalControl = v },
}

func (l *Loop) set(cmd *console.Command, args []string) error {
	s := l.mgr.LocalSettings()
	switch {
	case len(args) == 2 && globalSwitches[strings.ToLower(args[0])] != nil:
		v, err := console.ParseSwitch(args[1])
		if err != nil {
			return err
		}
		globalSwitches[strings.ToLower(args[0])](&s, v)
	case len(args) == 3:
		key := board.ConfigKey(strings.ToLower(args[0]))
		c, ok := s.Boards[key]
		if !ok {
			c = board.NewConfig(board.OrderType(args[0]), true, false, 1, nil)
		}
		if err := applyBoardField(&c, strings.ToLower(args[1]), args[2]); err != nil {
			return err
		}
		s.SetBoard(key, c)
	default:
		return usage(cmd)
	}

	if l.store != nil {
		if err := l.store.Save(s); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
	}
	return l.mgr.UpdateLocalSettings(s)
}

func applyBoardField(c *board.Config, field, value string) error {
	switch field {
	case "allow":
		v, err := console.ParseSwitch(value)
		if err != nil {
			return err
		}
		c.AllowReroll = v
	case "infinite":
		v, err := console.ParseSwitch(value)
		if err != nil {
			return err
		}
		c.InfiniteRerolls = v
	case "max":
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("max must be a non-negative integer, got %q", value)
		}
		c.MaxRerolls = n
	case "schedule":
		sched, err := console.ParseSchedule(value)
		if err != nil {
			return err
		}
		c.RefreshSchedule = sched
	case "order_type":
		c.OrderType = board.OrderType(value)
	default:
		return fmt.Errorf("unknown board field %q", field)
	}
	return nil
}
