package quest

import (
	"fmt"

	"github.com/cory-johannsen/specialorders/internal/board"
)

// Duration is the nominal duration class a template declares.
type Duration string

const (
	OneDay    Duration = "OneDay"
	TwoDays   Duration = "TwoDays"
	ThreeDays Duration = "ThreeDays"
	Week      Duration = "Week"
	TwoWeeks  Duration = "TwoWeeks"
	Month     Duration = "Month"
)

var durationOffsets = map[Duration]int{
	OneDay:    1,
	TwoDays:   2,
	ThreeDays: 3,
	Week:      7,
	TwoWeeks:  14,
}

// Valid reports whether d is a known duration class.
func (d Duration) Valid() bool {
	if d == Month {
		return true
	}
	_, ok := durationOffsets[d]
	return ok
}

// HardDueDate computes an absolute due date for a quest of class d offered on
// now, ignoring where now falls in the week.
//
// Postcondition: fixed classes return now + 1, 2, 3, 7 or 14 days. Month is
// anchored to the season: eve of the season, plus 1, plus 28, which lands on
// day 1 of the next season. Unknown classes return now.
func HardDueDate(d Duration, now WorldDate) int {
	if d == Month {
		due := now.SeasonEve()
		due++
		due += DaysPerSeason
		return due
	}
	return now.TotalDays() + durationOffsets[d]
}

// Instance is a quest offered on, or accepted from, a board.
type Instance struct {
	// Key is the catalog id the instance was materialized from.
	Key       string
	OrderType board.OrderType
	Duration  Duration
	// DueDate is a total-day index (see WorldDate.TotalDays).
	DueDate int
	// Seed is the generation seed the instance was materialized with.
	Seed int
}

// ApplyHardDuration overwrites DueDate with HardDueDate for the instance's
// duration class.
func (q *Instance) ApplyHardDuration(now WorldDate) {
	q.DueDate = HardDueDate(q.Duration, now)
}

// Clone returns an independent copy.
func (q *Instance) Clone() *Instance {
	c := *q
	return &c
}

// String implements fmt.Stringer.
func (q *Instance) String() string {
	return fmt.Sprintf("%s[%q due=%d]", q.Key, string(q.OrderType), q.DueDate)
}

// Keys returns the quest keys of qs in order.
func Keys(qs []*Instance) []string {
	out := make([]string, len(qs))
	for i, q := range qs {
		out[i] = q.Key
	}
	return out
}

// OfType returns the instances of qs whose order type is t, or all of them
// when t is board.All.
func OfType(qs []*Instance, t board.OrderType) []*Instance {
	var out []*Instance
	for _, q := range qs {
		if t == board.All || q.OrderType == t {
			out = append(out, q)
		}
	}
	return out
}
