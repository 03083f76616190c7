package transport

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cory-johannsen/specialorders/internal/protocol"
)

// DefaultBuffer is the per-endpoint event queue length of a Bus.
const DefaultBuffer = 64

// Bus connects endpoints in one process. Every message is encoded and
// decoded on the way through so endpoints never share memory.
//
// All methods are safe for concurrent use.
type Bus struct {
	mu        sync.Mutex
	endpoints map[protocol.PeerID]*Endpoint
	buffer    int
}

// NewBus creates an empty Bus whose endpoints queue up to buffer events.
// A non-positive buffer selects DefaultBuffer.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Bus{endpoints: make(map[protocol.PeerID]*Endpoint), buffer: buffer}
}

// Join attaches a new endpoint and announces it to the others.
//
// Postcondition: Returns an error if id is empty or already joined.
func (b *Bus) Join(id protocol.PeerID) (*Endpoint, error) {
	if id == "" {
		return nil, errors.New("transport: empty peer id")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.endpoints[id]; dup {
		return nil, fmt.Errorf("peer %q already joined", id)
	}
	e := &Endpoint{id: id, bus: b, events: make(chan Event, b.buffer)}
	b.broadcastLocked(id, Event{Kind: EventConnected, Peer: id})
	b.endpoints[id] = e
	return e, nil
}

// Peers returns the joined peer ids in ascending order.
func (b *Bus) Peers() []protocol.PeerID {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]protocol.PeerID, 0, len(b.endpoints))
	for id := range b.endpoints {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (b *Bus) broadcastLocked(from protocol.PeerID, ev Event) {
	for id, e := range b.endpoints {
		if id == from {
			continue
		}
		select {
		case e.events <- ev:
		default:
		}
	}
}

// Endpoint is one member of a Bus.
type Endpoint struct {
	id     protocol.PeerID
	bus    *Bus
	events chan Event
	closed bool
}

// ID returns the endpoint's peer id.
func (e *Endpoint) ID() protocol.PeerID { return e.id }

// Events implements Conn.
func (e *Endpoint) Events() <-chan Event { return e.events }

// Send implements Conn.
func (e *Endpoint) Send(m protocol.Message, to ...protocol.PeerID) error {
	frame, err := protocol.Marshal(m)
	if err != nil {
		return err
	}
	decoded, err := protocol.Unmarshal(frame)
	if err != nil {
		return err
	}

	b := e.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	var targets []*Endpoint
	var errs []error
	if len(to) == 0 {
		for id, other := range b.endpoints {
			if id != e.id {
				targets = append(targets, other)
			}
		}
	}
	for _, id := range to {
		other, ok := b.endpoints[id]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownPeer, id))
			continue
		}
		targets = append(targets, other)
	}

	ev := Event{Kind: EventMessage, Peer: e.id, Message: decoded}
	for _, other := range targets {
		select {
		case other.events <- ev:
		default:
			errs = append(errs, fmt.Errorf("%w: %s", ErrBackpressure, other.id))
		}
	}
	return errors.Join(errs...)
}

// Close detaches the endpoint, announces the departure and closes Events.
func (e *Endpoint) Close() error {
	b := e.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	delete(b.endpoints, e.id)
	b.broadcastLocked(e.id, Event{Kind: EventDisconnected, Peer: e.id})
	close(e.events)
	return nil
}
