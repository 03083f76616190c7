package quest

// World is a minimal in-process game world: the save id, the calendar and
// the team. It satisfies Conditions and supplies the inputs of the reroll
// seed.
type World struct {
	gameID uint64
	date   WorldDate
	played int
	team   *MemoryTeam
}

// NewWorld creates a World on start with one day played.
func NewWorld(gameID uint64, start WorldDate, team *MemoryTeam) *World {
	if team == nil {
		team = NewMemoryTeam()
	}
	return &World{gameID: gameID, date: start, played: 1, team: team}
}

// GameID returns the save's unique id.
func (w *World) GameID() uint64 { return w.gameID }

// Today returns the current date.
func (w *World) Today() WorldDate { return w.date }

// DaysPlayed returns the number of days played including today.
func (w *World) DaysPlayed() int { return w.played }

// Team returns the team state.
func (w *World) Team() Team { return w.team }

// MemoryTeam returns the concrete team for callers that accept and complete quests.
func (w *World) MemoryTeam() *MemoryTeam { return w.team }

// Advance moves to the next day.
//
// Postcondition: DaysPlayed increases by exactly one.
func (w *World) Advance() WorldDate {
	w.date = w.date.AddDays(1)
	w.played++
	return w.date
}
