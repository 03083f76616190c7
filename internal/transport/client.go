package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/specialorders/internal/config"
	"github.com/cory-johannsen/specialorders/internal/protocol"
)

// Client is a peer's link to the host.
//
// All methods are safe for concurrent use.
type Client struct {
	self         protocol.PeerID
	host         protocol.PeerID
	ws           *websocket.Conn
	writeTimeout time.Duration
	logger       *zap.Logger

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	closed bool
}

// Dial connects to the host's hub at hostURL as peer self.
//
// Precondition: self must be non-empty; logger must be non-nil.
// Postcondition: Returns a connected Client, or an error if the handshake
// fails or the host does not identify itself.
func Dial(ctx context.Context, hostURL string, self protocol.PeerID, cfg config.TransportConfig, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(hostURL)
	if err != nil {
		return nil, fmt.Errorf("parsing host url %q: %w", hostURL, err)
	}
	q := u.Query()
	q.Set(PeerQueryParam, string(self))
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing host %s: %s: %w", hostURL, resp.Status, err)
		}
		return nil, fmt.Errorf("dialing host %s: %w", hostURL, err)
	}
	host := protocol.PeerID(resp.Header.Get(HostHeader))
	if host == "" {
		_ = ws.Close()
		return nil, errors.New("host did not identify itself")
	}

	buffer := cfg.SendBuffer
	if buffer < 1 {
		buffer = DefaultBuffer
	}
	c := &Client{
		self:         self,
		host:         host,
		ws:           ws,
		writeTimeout: cfg.WriteTimeout,
		logger:       logger.Named("client").With(zap.String("host", string(host))),
		events:       make(chan Event, buffer),
		done:         make(chan struct{}),
	}
	c.logger.Info("connected to host", zap.String("url", hostURL))
	go c.reader()
	return c, nil
}

// HostID returns the id the host announced during the handshake.
func (c *Client) HostID() protocol.PeerID { return c.host }

// ID returns this peer's id.
func (c *Client) ID() protocol.PeerID { return c.self }

// Events implements Conn. Every message event is attributed to the host.
// The channel is closed after the connection drops.
func (c *Client) Events() <-chan Event { return c.events }

// Send implements Conn. A peer only talks to the host, so to must be
// empty or name the host.
func (c *Client) Send(m protocol.Message, to ...protocol.PeerID) error {
	for _, id := range to {
		if id != c.host {
			return fmt.Errorf("%w: %s", ErrUnknownPeer, id)
		}
	}
	frame, err := protocol.Marshal(m)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.writeTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("writing %s: %w", m.Type(), err)
	}
	return nil
}

func (c *Client) reader() {
	defer close(c.events)
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("host read failed", zap.Error(err))
			}
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
			c.emit(Event{Kind: EventDisconnected, Peer: c.host})
			return
		}
		msg, err := protocol.Unmarshal(frame)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		c.emit(Event{Kind: EventMessage, Peer: c.host, Message: msg})
	}
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Close sends a close frame and tears the connection down.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}
