package occupancy

import "time"

// Policy holds the parameters of free-window synthesis.
type Policy struct {
	// Location defines "today" and the closing time.
	Location *time.Location
	// ClosingHour / ClosingMinute is the local time a free window ends when
	// nothing else is scheduled today.
	ClosingHour   int
	ClosingMinute int
	// Fallback is the window length used when the computed end is already in
	// the past.
	Fallback time.Duration
}

// DefaultPolicy closes at 20:00 in loc with a one hour fallback.
func DefaultPolicy(loc *time.Location) Policy {
	return Policy{Location: loc, ClosingHour: 20, Fallback: time.Hour}
}

// Synthesize computes the end of the free window starting at now:
//
//  1. nothing upcoming: today at closing time;
//  2. next busy start on a later calendar day: today at closing time;
//  3. otherwise: the next busy start;
//  4. if the result is before now: now + Fallback.
func Synthesize(now time.Time, nextBusy *time.Time, p Policy) time.Time {
	loc := p.Location
	if loc == nil {
		loc = now.Location()
	}
	local := now.In(loc)
	closing := time.Date(local.Year(), local.Month(), local.Day(), p.ClosingHour, p.ClosingMinute, 0, 0, loc)

	var end time.Time
	switch {
	case nextBusy == nil:
		end = closing
	case laterDay(nextBusy.In(loc), local):
		end = closing
	default:
		end = nextBusy.In(loc)
	}

	if end.Before(now) {
		end = local.Add(p.Fallback)
	}
	return end
}

// laterDay reports whether a falls on a calendar day after b. Both must be
// in the same location.
func laterDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if ay != by {
		return ay > by
	}
	if am != bm {
		return am > bm
	}
	return ad > bd
}
