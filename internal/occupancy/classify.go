// Package occupancy decides whether a room is free right now and, if so,
// until when.
package occupancy

import (
	"sort"
	"time"

	"roomradar/internal/model"
)

// Classify returns the room's state at now and every busy-interval start
// strictly after now, sorted ascending.
//
// A feed carrying an error is classified StateError with no future starts.
// Otherwise the room is occupied when now lies inside any interval, bounds
// included, and free otherwise. Interval boundaries must already be in a
// single timezone; time.Time comparisons are instant-based so the zone only
// matters for calendar-day decisions made later by Synthesize.
func Classify(feed model.Feed, now time.Time) (model.Status, []time.Time) {
	if feed.Err != nil {
		return model.Status{State: model.StateError, Reason: feed.Err}, nil
	}

	occupied := false
	future := make([]time.Time, 0)
	for _, iv := range feed.Intervals {
		if iv.Contains(now) {
			occupied = true
		}
		if iv.Start.After(now) {
			future = append(future, iv.Start)
		}
	}
	sort.Slice(future, func(i, j int) bool { return future[i].Before(future[j]) })

	if occupied {
		return model.Status{State: model.StateOccupied}, future
	}

	st := model.Status{State: model.StateFree}
	if len(future) > 0 {
		next := future[0]
		st.NextBusy = &next
	}
	return st, future
}
