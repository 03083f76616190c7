// Package board defines the per-board reroll policy and the two key spaces
// used to address special-order boards.
package board

import "fmt"

// OrderType is the order-type identifier declared on quest templates.
// The base game board uses the empty string.
type OrderType string

// ConfigKey identifies a board entry in the persisted settings.
type ConfigKey string

// All is the sentinel meaning "every order type".
const All OrderType = "all"

// Order types of the boards shipped with the base game and known add-ons.
const (
	OrderTypeSV             OrderType = ""
	OrderTypeQi             OrderType = "Qi"
	OrderTypeDesertFestival OrderType = "DesertFestivalMarlon"
	OrderTypeRSVTown        OrderType = "RSVTownSO"
	OrderTypeRSVNinja       OrderType = "RSVNinjaSO"
	OrderTypeMtVapius       OrderType = "Esca.EMP/MtVapiusBoard"
	OrderTypeCustom         OrderType = "custom"
)

// Settings keys for the same boards.
const (
	KeySV             ConfigKey = "sv"
	KeyQi             ConfigKey = "qi"
	KeyDesertFestival ConfigKey = "de"
	KeyRSVTown        ConfigKey = "rsv_town"
	KeyRSVNinja       ConfigKey = "rsv_ninja"
	KeyMtVapius       ConfigKey = "mt_vapius"
	KeyCustom         ConfigKey = "custom"
)

// DaysPerWeek is the length of a refresh schedule.
const DaysPerWeek = 7

// Schedule holds one refresh flag per day of the week, Monday first.
type Schedule [DaysPerWeek]bool

// DefaultSchedule refreshes on Monday only, like the native board.
func DefaultSchedule() Schedule {
	return Schedule{true}
}

// EveryDay refreshes on all seven days.
func EveryDay() Schedule {
	return Schedule{true, true, true, true, true, true, true}
}

// ScheduleFrom converts a persisted flag list into a Schedule.
//
// Postcondition: nil or empty input yields DefaultSchedule and ok == true.
// Input of the wrong length is truncated or padded with false and ok == false.
func ScheduleFrom(days []bool) (s Schedule, ok bool) {
	if len(days) == 0 {
		return DefaultSchedule(), true
	}
	copy(s[:], days)
	return s, len(days) == DaysPerWeek
}

// Slice returns the schedule as a freshly allocated slice.
func (s Schedule) Slice() []bool {
	out := make([]bool, DaysPerWeek)
	copy(out, s[:])
	return out
}

// String renders the schedule as seven characters, "x" for refresh days.
func (s Schedule) String() string {
	b := make([]byte, DaysPerWeek)
	for i, on := range s {
		b[i] = '.'
		if on {
			b[i] = 'x'
		}
	}
	return string(b)
}

// Config is the reroll policy of a single board.
//
// Invariant: MaxRerolls >= 0.
type Config struct {
	OrderType       OrderType
	AllowReroll     bool
	InfiniteRerolls bool
	MaxRerolls      int
	RefreshSchedule Schedule
}

// NewConfig builds a Config from persisted values.
//
// Postcondition: a nil schedule yields DefaultSchedule; negative maxRerolls is
// clamped to zero.
func NewConfig(orderType OrderType, allowReroll, infiniteRerolls bool, maxRerolls int, schedule []bool) Config {
	s, _ := ScheduleFrom(schedule)
	if maxRerolls < 0 {
		maxRerolls = 0
	}
	return Config{
		OrderType:       orderType,
		AllowReroll:     allowReroll,
		InfiniteRerolls: infiniteRerolls,
		MaxRerolls:      maxRerolls,
		RefreshSchedule: s,
	}
}

// ShouldRefreshToday reports the schedule bit for day (0 = Monday).
//
// Out-of-range days never refresh.
func (c Config) ShouldRefreshToday(day int) bool {
	if day < 0 || day >= DaysPerWeek {
		return false
	}
	return c.RefreshSchedule[day]
}

// String implements fmt.Stringer for log fields.
func (c Config) String() string {
	return fmt.Sprintf("%q allow=%t infinite=%t max=%d schedule=%s",
		string(c.OrderType), c.AllowReroll, c.InfiniteRerolls, c.MaxRerolls, c.RefreshSchedule)
}

// DayOfWeek maps a 1-based day of a 28-day season to a schedule index.
//
// Precondition: dayOfMonth >= 1.
// Postcondition: 0 is Monday (days 1, 8, 15, 22) and 6 is Sunday.
func DayOfWeek(dayOfMonth int) int {
	d := (dayOfMonth - 1) % DaysPerWeek
	if d < 0 {
		d += DaysPerWeek
	}
	return d
}
