package transport

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/specialorders/internal/config"
	"github.com/cory-johannsen/specialorders/internal/protocol"
)

// peerConn is one accepted websocket.
type peerConn struct {
	id   protocol.PeerID
	ws   *websocket.Conn
	send chan []byte
}

// Hub is the host end of the session. It is an http.Handler that upgrades
// each request to a websocket peer.
//
// All methods are safe for concurrent use.
type Hub struct {
	self         protocol.PeerID
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	sendBuffer   int
	logger       *zap.Logger

	events chan Event
	done   chan struct{}

	mu     sync.RWMutex
	peers  map[protocol.PeerID]*peerConn
	closed bool
}

// NewHub creates a Hub identified as self.
//
// Precondition: self must be non-empty; logger must be non-nil.
func NewHub(self protocol.PeerID, cfg config.TransportConfig, logger *zap.Logger) *Hub {
	buffer := cfg.SendBuffer
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	return &Hub{
		self: self,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   2048,
			WriteBufferSize:  2048,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		writeTimeout: cfg.WriteTimeout,
		sendBuffer:   buffer,
		logger:       logger.Named("hub"),
		events:       make(chan Event, buffer),
		done:         make(chan struct{}),
		peers:        make(map[protocol.PeerID]*peerConn),
	}
}

// ID returns the host's peer id.
func (h *Hub) ID() protocol.PeerID { return h.self }

// Events implements Conn. The channel is never closed; stop reading once
// Close returns.
func (h *Hub) Events() <-chan Event { return h.events }

// Peers returns the connected peer ids in ascending order.
func (h *Hub) Peers() []protocol.PeerID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]protocol.PeerID, 0, len(h.peers))
	for id := range h.peers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ServeHTTP upgrades the request and serves the peer until it disconnects.
// The peer id comes from the PeerQueryParam; one is generated when absent.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := protocol.PeerID(r.URL.Query().Get(PeerQueryParam))
	if id == "" {
		id = protocol.PeerID(uuid.NewString())
	}
	if id == h.self {
		http.Error(w, "peer id is the host's", http.StatusConflict)
		return
	}
	h.mu.RLock()
	_, dup := h.peers[id]
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "host shutting down", http.StatusServiceUnavailable)
		return
	}
	if dup {
		http.Error(w, "peer already connected", http.StatusConflict)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, http.Header{HostHeader: {string(h.self)}})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("peer", string(id)), zap.Error(err))
		return
	}
	p := &peerConn{id: id, ws: ws, send: make(chan []byte, h.sendBuffer)}
	if err := h.register(p); err != nil {
		h.logger.Warn("rejecting peer", zap.String("peer", string(id)), zap.Error(err))
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}

	h.logger.Info("peer connected", zap.String("peer", string(id)), zap.String("remote", r.RemoteAddr))
	go h.writer(p)
	h.emit(Event{Kind: EventConnected, Peer: id})
	h.reader(p)
}

func (h *Hub) register(p *peerConn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if _, dup := h.peers[p.id]; dup {
		return fmt.Errorf("peer %q already connected", p.id)
	}
	h.peers[p.id] = p
	return nil
}

func (h *Hub) unregister(p *peerConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.peers[p.id] != p {
		return false
	}
	delete(h.peers, p.id)
	close(p.send)
	return true
}

func (h *Hub) reader(p *peerConn) {
	log := h.logger.With(zap.String("peer", string(p.id)))
	defer func() {
		h.unregister(p)
		_ = p.ws.Close()
		log.Info("peer disconnected")
		h.emit(Event{Kind: EventDisconnected, Peer: p.id})
	}()
	for {
		_, frame, err := p.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("peer read failed", zap.Error(err))
			}
			return
		}
		msg, err := protocol.Unmarshal(frame)
		if err != nil {
			log.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		h.emit(Event{Kind: EventMessage, Peer: p.id, Message: msg})
	}
}

func (h *Hub) writer(p *peerConn) {
	defer p.ws.Close()
	for frame := range p.send {
		if h.writeTimeout > 0 {
			_ = p.ws.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		}
		if err := p.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			h.logger.Warn("peer write failed", zap.String("peer", string(p.id)), zap.Error(err))
			return
		}
	}
	_ = p.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

func (h *Hub) emit(ev Event) {
	select {
	case h.events <- ev:
	case <-h.done:
	}
}

// Send implements Conn. Frames are queued per peer; a peer whose queue is
// full misses the message and is reported with ErrBackpressure.
func (h *Hub) Send(m protocol.Message, to ...protocol.PeerID) error {
	frame, err := protocol.Marshal(m)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}

	var targets []*peerConn
	var errs []error
	if len(to) == 0 {
		for _, p := range h.peers {
			targets = append(targets, p)
		}
	}
	for _, id := range to {
		p, ok := h.peers[id]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownPeer, id))
			continue
		}
		targets = append(targets, p)
	}
	for _, p := range targets {
		select {
		case p.send <- frame:
		default:
			errs = append(errs, fmt.Errorf("%w: %s", ErrBackpressure, p.id))
		}
	}
	return errors.Join(errs...)
}

// Close disconnects every peer and stops emitting events.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	close(h.done)
	for id, p := range h.peers {
		delete(h.peers, id)
		close(p.send)
	}
	return nil
}
