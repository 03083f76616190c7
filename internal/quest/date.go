// Package quest models special-order quests: the in-game calendar, quest
// instances and their due dates, the team's quest state, and the template
// catalog.
package quest

import (
	"fmt"

	"github.com/cory-johannsen/specialorders/internal/board"
)

// Calendar constants.
const (
	DaysPerSeason  = 28
	SeasonsPerYear = 4
	DaysPerYear    = DaysPerSeason * SeasonsPerYear
)

// Season is a quarter of the in-game year.
type Season int

const (
	Spring Season = iota
	Summer
	Fall
	Winter
)

var seasonNames = [SeasonsPerYear]string{"spring", "summer", "fall", "winter"}

// String returns the lowercase season name.
func (s Season) String() string {
	if s < 0 || int(s) >= SeasonsPerYear {
		return fmt.Sprintf("season(%d)", int(s))
	}
	return seasonNames[s]
}

// WorldDate is a point on the in-game calendar.
//
// Invariant: Year >= 1, Season in [Spring, Winter], Day in [1, 28] for dates
// produced by DateFromTotal. Day 0 is accepted to address the eve of a season.
type WorldDate struct {
	Year   int
	Season Season
	Day    int
}

// TotalDays returns the number of days since day 1 of spring, year 1.
func (d WorldDate) TotalDays() int {
	return ((d.Year-1)*SeasonsPerYear+int(d.Season))*DaysPerSeason + d.Day - 1
}

// DateFromTotal is the inverse of TotalDays.
//
// Precondition: total >= 0.
func DateFromTotal(total int) WorldDate {
	return WorldDate{
		Year:   total/DaysPerYear + 1,
		Season: Season(total % DaysPerYear / DaysPerSeason),
		Day:    total%DaysPerSeason + 1,
	}
}

// AddDays returns the date n days later.
func (d WorldDate) AddDays(n int) WorldDate {
	return DateFromTotal(d.TotalDays() + n)
}

// DayOfWeek returns the schedule index of d (0 = Monday).
func (d WorldDate) DayOfWeek() int {
	return board.DayOfWeek(d.Day)
}

// SeasonEve returns the total-day index of day 0 of d's season.
func (d WorldDate) SeasonEve() int {
	return WorldDate{Year: d.Year, Season: d.Season, Day: 0}.TotalDays()
}

// String renders the date as "spring 1, year 1".
func (d WorldDate) String() string {
	return fmt.Sprintf("%s %d, year %d", d.Season, d.Day, d.Year)
}
