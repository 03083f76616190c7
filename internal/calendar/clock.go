// Package calendar drives the in-game day cycle: it ends the current day
// and starts the next one on a fixed wall-clock interval.
package calendar

import (
	"fmt"
	"sync"
	"time"

	"github.com/cory-johannsen/specialorders/internal/quest"
)

// Phase is a point in the day cycle.
type Phase int

const (
	// DayEnding fires while the old date is still current.
	DayEnding Phase = iota
	// DayStarted fires once the new date is current.
	DayStarted
)

// String returns "ending" or "started".
func (p Phase) String() string {
	switch p {
	case DayEnding:
		return "ending"
	case DayStarted:
		return "started"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// DayEvent is one transition of the day cycle.
type DayEvent struct {
	Phase Phase
	Date  quest.WorldDate
}

// DayClock advances the date and publishes DayEvents to subscribers. Each
// advance publishes DayEnding for the old date followed by DayStarted for
// the new one.
type DayClock struct {
	date        quest.WorldDate
	dayLength   time.Duration
	// advancing serializes whole advances so the two events of one day
	// change are never interleaved with another's.
	advancing   sync.Mutex
	mu          sync.Mutex
	subscribers map[chan<- DayEvent]struct{}
	done        chan struct{}
	stopOnce    sync.Once
}

// NewDayClock creates a stopped DayClock on start.
//
// Precondition: dayLength > 0.
// Postcondition: Returns a non-nil *DayClock ready to Start().
func NewDayClock(start quest.WorldDate, dayLength time.Duration) *DayClock {
	return &DayClock{
		date:        start,
		dayLength:   dayLength,
		subscribers: make(map[chan<- DayEvent]struct{}),
		done:        make(chan struct{}),
	}
}

// Today returns the current date.
func (c *DayClock) Today() quest.WorldDate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.date
}

// Subscribe registers ch to receive every DayEvent. Delivery blocks until ch
// accepts the event or the clock is stopped, so subscribers must keep up.
//
// Precondition: ch must not be nil.
func (c *DayClock) Subscribe(ch chan<- DayEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers[ch] = struct{}{}
}

// Unsubscribe removes ch from the subscriber list.
func (c *DayClock) Unsubscribe(ch chan<- DayEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribers, ch)
}

// Advance ends the current day and starts the next one.
//
// Postcondition: Today is one day later; subscribers have been offered both
// events unless the clock was stopped meanwhile. Concurrent calls publish
// their event pairs one after the other.
func (c *DayClock) Advance() quest.WorldDate {
	c.advancing.Lock()
	defer c.advancing.Unlock()

	c.mu.Lock()
	old := c.date
	c.date = c.date.AddDays(1)
	next := c.date
	subs := make([]chan<- DayEvent, 0, len(c.subscribers))
	for ch := range c.subscribers {
		subs = append(subs, ch)
	}
	c.mu.Unlock()

	c.publish(subs, DayEvent{Phase: DayEnding, Date: old})
	c.publish(subs, DayEvent{Phase: DayStarted, Date: next})
	return next
}

func (c *DayClock) publish(subs []chan<- DayEvent, ev DayEvent) {
	for _, ch := range subs {
		select {
		case ch <- ev:
		case <-c.done:
			return
		}
	}
}

// Start launches the clock goroutine and returns a stop function.
// Calling stop() is idempotent.
//
// Postcondition: The clock advances by one day per dayLength until stop() is called.
func (c *DayClock) Start() (stop func()) {
	go func() {
		ticker := time.NewTicker(c.dayLength)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Advance()
			case <-c.done:
				return
			}
		}
	}()
	return c.Stop
}

// Stop halts the clock and unblocks any pending delivery.
func (c *DayClock) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}
