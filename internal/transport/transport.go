// Package transport carries replication messages between the host and its
// peers. The host runs a Hub that accepts websocket connections; a peer
// dials it with a Client. Bus is an in-process equivalent used when every
// player lives in one process.
package transport

import (
	"errors"

	"github.com/cory-johannsen/specialorders/internal/protocol"
)

const (
	// PeerQueryParam carries the dialing peer's id on the upgrade request.
	PeerQueryParam = "peer"
	// HostHeader carries the host's peer id on the upgrade response.
	HostHeader = "X-Boardd-Host"
)

var (
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("transport: closed")
	// ErrUnknownPeer is returned when a target peer is not connected.
	ErrUnknownPeer = errors.New("transport: unknown peer")
	// ErrBackpressure is returned when a peer's outbound queue is full and the
	// message was dropped for it.
	ErrBackpressure = errors.New("transport: send queue full")
)

// EventKind classifies an Event.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is something that happened on a link. Message is set only for
// EventMessage.
type Event struct {
	Kind    EventKind
	Peer    protocol.PeerID
	Message protocol.Message
}

// Conn is one process's view of the session link.
type Conn interface {
	// Send delivers m to the listed peers, or to every other peer when none
	// are listed.
	Send(m protocol.Message, to ...protocol.PeerID) error
	// Events streams inbound events. It is closed when the link is gone.
	Events() <-chan Event
	Close() error
}
