package console

import (
	"fmt"
	"strings"

	"github.com/cory-johannsen/specialorders/internal/board"
)

// ParseResult holds the parsed command name and arguments from a text line.
type ParseResult struct {
	// Command is the first word of the input, lowercased.
	Command string
	// Args are the remaining words after the command, case preserved.
	Args []string
}

// Parse splits a text line into a command and arguments.
//
// Postcondition: Returns a ParseResult. If line is blank, Command is empty.
func Parse(line string) ParseResult {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ParseResult{}
	}
	res := ParseResult{Command: strings.ToLower(fields[0])}
	if len(fields) > 1 {
		res.Args = fields[1:]
	}
	return res
}

// ParseSwitch reads an on/off value.
//
// Postcondition: Returns an error for anything but on/off, yes/no, true/false or 1/0.
func ParseSwitch(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "yes", "true", "1":
		return true, nil
	case "off", "no", "false", "0":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
}

var weekdays = [board.DaysPerWeek]string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}

// ParseSchedule reads a refresh schedule in one of three forms: "every" or
// "never"; seven x/. marks starting on Monday ("x......"); or a comma list
// of weekday abbreviations ("mon,thu").
func ParseSchedule(s string) (board.Schedule, error) {
	lower := strings.ToLower(strings.TrimSpace(s))
	switch lower {
	case "every", "daily":
		return board.EveryDay(), nil
	case "never":
		return board.Schedule{}, nil
	}

	var out board.Schedule
	if len(lower) == board.DaysPerWeek && strings.Trim(lower, "x.") == "" {
		for i, c := range lower {
			out[i] = c == 'x'
		}
		return out, nil
	}

	for _, part := range strings.Split(lower, ",") {
		part = strings.TrimSpace(part)
		found := false
		for i, d := range weekdays {
			if part == d {
				out[i] = true
				found = true
				break
			}
		}
		if !found {
			return board.Schedule{}, fmt.Errorf("unknown weekday %q in schedule %q", part, s)
		}
	}
	return out, nil
}
