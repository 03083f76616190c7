package reroll

import "github.com/google/uuid"

// DefaultRecentRequests is the number of reroll request ids the host remembers.
const DefaultRecentRequests = 256

// recentRequests is a bounded set of request ids with FIFO eviction.
type recentRequests struct {
	seen  map[uuid.UUID]struct{}
	order []uuid.UUID
	next  int
}

func newRecentRequests(capacity int) *recentRequests {
	if capacity <= 0 {
		capacity = DefaultRecentRequests
	}
	return &recentRequests{
		seen:  make(map[uuid.UUID]struct{}, capacity),
		order: make([]uuid.UUID, 0, capacity),
	}
}

// observe records id and reports whether it had already been recorded.
// The nil id is never recorded, so requests without an id are never dropped.
func (r *recentRequests) observe(id uuid.UUID) (duplicate bool) {
	if id == uuid.Nil {
		return false
	}
	if _, ok := r.seen[id]; ok {
		return true
	}
	if len(r.order) < cap(r.order) {
		r.order = append(r.order, id)
	} else {
		delete(r.seen, r.order[r.next])
		r.order[r.next] = id
		r.next = (r.next + 1) % len(r.order)
	}
	r.seen[id] = struct{}{}
	return false
}
