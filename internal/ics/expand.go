package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "roomradar/internal/log"
	"roomradar/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000

	// maxScannedOccurrences bounds the walk from DTSTART to the end of the
	// range, including occurrences that fall before it.
	maxScannedOccurrences = 500000
)

// ExpandConfig controls how events become busy intervals.
type ExpandConfig struct {
	// DisplayLocation is the reference timezone all intervals are converted
	// to. If nil, time.UTC is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd bound recurrence expansion. Occurrences still in
	// progress at RangeStart are kept. Non-recurring events are never
	// filtered.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandIntervals turns parsed events into busy intervals. It handles:
//
//   - Single non-recurring events
//   - RRULE-based recurrence with EXDATE removal
//   - RECURRENCE-ID overrides, which replace the matching occurrence
//   - Cancelled events and overrides, which produce no interval
//
// Every boundary is converted into cfg.DisplayLocation.
func ExpandIntervals(events []ParsedEvent, cfg ExpandConfig) []model.BusyInterval {
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.UTC
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	overridesByUID := make(map[string][]ParsedEvent)
	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
		}
	}

	out := make([]model.BusyInterval, 0, len(events))
	for _, ev := range events {
		if ev.IsOverride {
			if !ev.Cancelled() {
				out = append(out, makeInterval(ev, ev.Start, ev.End, cfg.DisplayLocation))
			}
			continue
		}
		if ev.Cancelled() {
			continue
		}
		if ev.RawRRule == "" {
			out = append(out, makeInterval(ev, ev.Start, ev.End, cfg.DisplayLocation))
			continue
		}
		out = append(out, expandRecurringEvent(ev, overridesByUID[ev.UID], cfg)...)
	}
	return out
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.BusyInterval {
	out := make([]model.BusyInterval, 0)

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		// Keep the first occurrence rather than dropping the event.
		appLog.Error("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return append(out, makeInterval(ev, ev.Start, ev.End, cfg.DisplayLocation))
	}

	// Ensure Dtstart is set to the event's DTSTART.
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the lower bound by one event length so an occurrence that is
	// already running at RangeStart is still returned.
	dur := ev.End.Sub(ev.Start)
	rangeStart := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())

	next := set.Iterator()
	kept, scanned := 0, 0
	for {
		occStart, ok := next()
		if !ok || occStart.After(rangeEnd) {
			break
		}
		scanned++
		if scanned > maxScannedOccurrences {
			appLog.Error("expand: stopped scanning recurrence before range end",
				errors.New("scan limit reached"),
				"uid", ev.UID,
				"limit", maxScannedOccurrences,
			)
			break
		}
		if occStart.Before(rangeStart) || hasOverrideForStart(overrides, occStart) {
			continue
		}
		if kept == cfg.MaxOccurrencesPerEvent {
			appLog.Error("expand: truncated occurrences due to cap",
				errors.New("max occurrences reached"),
				"uid", ev.UID,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
			break
		}
		out = append(out, makeInterval(ev, occStart, occStart.Add(dur), cfg.DisplayLocation))
		kept++
	}
	return out
}

// hasOverrideForStart reports whether an override's RECURRENCE-ID matches
// the occurrence start exactly.
func hasOverrideForStart(overrides []ParsedEvent, start time.Time) bool {
	for _, ov := range overrides {
		if ov.Recurrence != nil && ov.Recurrence.Equal(start) {
			return true
		}
	}
	return false
}

func makeInterval(ev ParsedEvent, start, end time.Time, loc *time.Location) model.BusyInterval {
	return model.BusyInterval{
		UID:     ev.UID,
		Summary: ev.Summary,
		Start:   start.In(loc),
		End:     end.In(loc),
	}
}
