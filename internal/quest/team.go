package quest

import (
	"fmt"

	"github.com/zyedidia/generic/mapset"
)

// Team is the shared quest state of the player group.
type Team interface {
	// Available returns the offered, not yet accepted, quests in board order.
	Available() []*Instance
	// AddAvailable appends q to the offered quests.
	AddAvailable(q *Instance)
	// RemoveAvailable removes every offered quest matching match and returns
	// the removed instances in their former order.
	RemoveAvailable(match func(*Instance) bool) []*Instance
	// Accepted returns the quests the team is currently working on.
	Accepted() []*Instance
	// Completed reports whether the quest id has ever been completed.
	Completed(id string) bool
}

// MemoryTeam is an in-process Team.
//
// MemoryTeam is not safe for concurrent use; it is driven from the
// simulation loop like the rest of the board state.
type MemoryTeam struct {
	available []*Instance
	accepted  []*Instance
	completed mapset.Set[string]
}

// NewMemoryTeam returns an empty MemoryTeam.
func NewMemoryTeam() *MemoryTeam {
	return &MemoryTeam{completed: mapset.New[string]()}
}

// Available implements Team.
func (t *MemoryTeam) Available() []*Instance {
	out := make([]*Instance, len(t.available))
	copy(out, t.available)
	return out
}

// AddAvailable implements Team.
func (t *MemoryTeam) AddAvailable(q *Instance) {
	t.available = append(t.available, q)
}

// RemoveAvailable implements Team.
func (t *MemoryTeam) RemoveAvailable(match func(*Instance) bool) []*Instance {
	var removed []*Instance
	kept := t.available[:0]
	for _, q := range t.available {
		if match(q) {
			removed = append(removed, q)
			continue
		}
		kept = append(kept, q)
	}
	for i := len(kept); i < len(t.available); i++ {
		t.available[i] = nil
	}
	t.available = kept
	return removed
}

// Accepted implements Team.
func (t *MemoryTeam) Accepted() []*Instance {
	out := make([]*Instance, len(t.accepted))
	copy(out, t.accepted)
	return out
}

// Completed implements Team.
func (t *MemoryTeam) Completed(id string) bool {
	return t.completed.Has(id)
}

// Accept moves the offered quest with key from the board to the accepted list.
//
// Postcondition: Returns an error if no offered quest has key or the team is
// already working on a quest with that key.
func (t *MemoryTeam) Accept(key string) error {
	for _, q := range t.accepted {
		if q.Key == key {
			return fmt.Errorf("quest %q already accepted", key)
		}
	}
	removed := t.RemoveAvailable(func(q *Instance) bool { return q.Key == key })
	if len(removed) == 0 {
		return fmt.Errorf("quest %q not offered", key)
	}
	t.accepted = append(t.accepted, removed[0])
	for _, extra := range removed[1:] {
		t.available = append(t.available, extra)
	}
	return nil
}

// Complete records key as completed and drops it from the accepted list.
func (t *MemoryTeam) Complete(key string) {
	kept := t.accepted[:0]
	for _, q := range t.accepted {
		if q.Key != key {
			kept = append(kept, q)
		}
	}
	t.accepted = kept
	t.completed.Put(key)
}

// AddAccepted records q as accepted without it having been offered, as when
// a save is loaded.
func (t *MemoryTeam) AddAccepted(q *Instance) {
	t.accepted = append(t.accepted, q)
}

// CompletedCount returns the number of distinct completed quest ids.
func (t *MemoryTeam) CompletedCount() int {
	return t.completed.Size()
}
