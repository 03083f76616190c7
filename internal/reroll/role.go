// Package reroll is the special-order reroll engine: it owns the active board
// policies, the remaining-reroll counters, the same-day order cache, and the
// host/peer synchronization of all of them.
package reroll

import (
	"github.com/cory-johannsen/specialorders/internal/protocol"
	"github.com/cory-johannsen/specialorders/internal/quest"
)

// Role tells the manager which side of the session it runs on.
type Role interface {
	// IsHost reports whether this process owns the authoritative state.
	IsHost() bool
	// HostID is the peer id of the host.
	HostID() protocol.PeerID
	// WorldReady reports whether a save is loaded and the session is live.
	WorldReady() bool
}

// StaticRole is a fixed Role.
type StaticRole struct {
	Host  bool
	Owner protocol.PeerID
	Ready bool
}

// HostRole returns a ready host Role owned by id.
func HostRole(id protocol.PeerID) *StaticRole {
	return &StaticRole{Host: true, Owner: id, Ready: true}
}

// PeerRole returns a ready peer Role whose host is hostID.
func PeerRole(hostID protocol.PeerID) *StaticRole {
	return &StaticRole{Owner: hostID, Ready: true}
}

func (r *StaticRole) IsHost() bool            { return r.Host }
func (r *StaticRole) HostID() protocol.PeerID { return r.Owner }
func (r *StaticRole) WorldReady() bool        { return r.Ready }

// Transport delivers replication messages.
type Transport interface {
	// Send delivers m to the listed peers, or to every connected peer when
	// none are listed.
	Send(m protocol.Message, to ...protocol.PeerID) error
}

// World supplies the inputs of the reroll seed and the current date.
type World interface {
	GameID() uint64
	DaysPlayed() int
	Today() quest.WorldDate
}
