package model

import "time"

// Room is a single configured room and the identifier of its published
// occupancy feed.
type Room struct {
	Name     string // display label, also used for the cache file name
	SourceID string // opaque feed identifier substituted into the feed URL
}

// BusyInterval is one span during which a room is occupied, derived from a
// single calendar event (or a single occurrence of a recurring one).
type BusyInterval struct {
	UID     string
	Summary string

	// Start / End are in the reference timezone.
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside [Start, End], both ends inclusive.
func (b BusyInterval) Contains(t time.Time) bool {
	return !t.Before(b.Start) && !t.After(b.End)
}

// Feed is the outcome of acquiring and parsing one room's calendar.
// Exactly one of Intervals / Err is meaningful: when Err is non-nil the feed
// could not be fetched or parsed and Intervals must be ignored.
type Feed struct {
	Room      Room
	Intervals []BusyInterval
	Err       error
}

// State is the tag of a Status.
type State int

const (
	StateError State = iota
	StateFree
	StateOccupied
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "free"
	case StateOccupied:
		return "occupied"
	default:
		return "error"
	}
}

// Status is the classification of a room at a given instant.
type Status struct {
	State State

	// NextBusy is the start of the nearest upcoming busy interval. Only set
	// for StateFree, and nil when nothing is scheduled.
	NextBusy *time.Time

	// Reason explains a StateError status.
	Reason error
}

// FreeWindow is the synthesized span, starting now, during which a room is
// believed unoccupied.
type FreeWindow struct {
	Room  Room
	Start time.Time
	End   time.Time
}

// RoomReport records what a single run decided for one room.
type RoomReport struct {
	Room   Room
	Status Status
	Window *FreeWindow
}

// Report is the outcome of one batch run. Rooms keep configuration order.
type Report struct {
	Now        time.Time
	Rooms      []RoomReport
	OutputPath string
}

// FreeCount returns the number of rooms that produced a free window.
func (r *Report) FreeCount() int {
	n := 0
	for _, rr := range r.Rooms {
		if rr.Window != nil {
			n++
		}
	}
	return n
}
