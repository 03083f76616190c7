// Package protocol defines the replication messages exchanged between the
// host and its peers, their JSON envelope, and the single dispatch point that
// routes a decoded message to its handler.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/cory-johannsen/specialorders/internal/board"
	"github.com/cory-johannsen/specialorders/internal/settings"
)

// ModID tags every envelope; envelopes from other mods are ignored.
const ModID = "specialorders.reroll"

// PeerID identifies a player process in the session.
type PeerID string

// MessageType names the payload carried by an envelope.
type MessageType string

const (
	// TypeRequestReroll is sent by a peer to ask the host to reroll a board.
	TypeRequestReroll MessageType = "REQUEST_Reroll"
	// TypeHostConfig carries the host's full settings to peers.
	TypeHostConfig MessageType = "REP_HostConfig"
	// TypeRerollsRemaining carries the host's remaining-reroll counters.
	TypeRerollsRemaining MessageType = "REP_RerollsRemaining"
)

// ErrUnknownType is returned when an envelope names no known message type.
var ErrUnknownType = errors.New("protocol: unknown message type")

// ErrForeignMod is returned when an envelope belongs to another mod.
var ErrForeignMod = errors.New("protocol: envelope from another mod")

// Message is one of RerollRequest, HostConfigSnapshot or RerollCountsSnapshot.
type Message interface {
	Type() MessageType
	isMessage()
}

// RerollRequest asks the host to reroll one board.
type RerollRequest struct {
	// RequestID lets the host drop redeliveries of the same request.
	RequestID uuid.UUID       `json:"request_id"`
	OrderType board.OrderType `json:"order_type"`
}

// NewRerollRequest returns a request with a fresh id.
func NewRerollRequest(orderType board.OrderType) RerollRequest {
	return RerollRequest{RequestID: uuid.New(), OrderType: orderType}
}

// HostConfigSnapshot is the host's authoritative settings.
type HostConfigSnapshot struct {
	Settings settings.Document `json:"settings"`
}

// RerollCountsSnapshot is the host's remaining-reroll counters by order type.
type RerollCountsSnapshot struct {
	Remaining map[board.OrderType]int `json:"rerolls_remaining"`
}

func (RerollRequest) Type() MessageType        { return TypeRequestReroll }
func (HostConfigSnapshot) Type() MessageType   { return TypeHostConfig }
func (RerollCountsSnapshot) Type() MessageType { return TypeRerollsRemaining }

func (RerollRequest) isMessage()        {}
func (HostConfigSnapshot) isMessage()   {}
func (RerollCountsSnapshot) isMessage() {}

// Envelope is the wire frame around a message.
type Envelope struct {
	ModID string          `json:"mod_id"`
	Type  MessageType     `json:"type"`
	Data  json.RawMessage `json:"data"`
}

// Encode wraps m in an Envelope.
func Encode(m Message) (Envelope, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s: %w", m.Type(), err)
	}
	return Envelope{ModID: ModID, Type: m.Type(), Data: data}, nil
}

// Decode unwraps env into its concrete message.
//
// Postcondition: Returns ErrForeignMod for another mod's envelope and
// ErrUnknownType for an unrecognised type; both are wrapped.
func Decode(env Envelope) (Message, error) {
	if env.ModID != ModID {
		return nil, fmt.Errorf("%w: %q", ErrForeignMod, env.ModID)
	}
	var (
		m   Message
		err error
	)
	switch env.Type {
	case TypeRequestReroll:
		var r RerollRequest
		err = json.Unmarshal(env.Data, &r)
		m = r
	case TypeHostConfig:
		var h HostConfigSnapshot
		err = json.Unmarshal(env.Data, &h)
		m = h
	case TypeRerollsRemaining:
		var c RerollCountsSnapshot
		err = json.Unmarshal(env.Data, &c)
		if c.Remaining == nil {
			c.Remaining = map[board.OrderType]int{}
		}
		m = c
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", env.Type, err)
	}
	return m, nil
}

// Marshal encodes m as a complete JSON frame.
func Marshal(m Message) ([]byte, error) {
	env, err := Encode(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Unmarshal decodes a complete JSON frame.
func Unmarshal(frame []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	return Decode(env)
}

// Handler receives decoded messages.
type Handler interface {
	HandleRerollRequest(from PeerID, m RerollRequest)
	HandleHostConfig(from PeerID, m HostConfigSnapshot)
	HandleRerollCounts(from PeerID, m RerollCountsSnapshot)
}

// Dispatch routes m to the matching Handler method.
func Dispatch(from PeerID, m Message, h Handler) error {
	switch msg := m.(type) {
	case RerollRequest:
		h.HandleRerollRequest(from, msg)
	case HostConfigSnapshot:
		h.HandleHostConfig(from, msg)
	case RerollCountsSnapshot:
		h.HandleRerollCounts(from, msg)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownType, m)
	}
	return nil
}
