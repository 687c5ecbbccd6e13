package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	goical "github.com/emersion/go-ical"

	appLog "roomradar/internal/log"
	"roomradar/internal/model"
)

// ErrParse marks a feed whose content is not a usable calendar.
var ErrParse = errors.New("malformed calendar")

// ParsedEvent is the normalized representation of a VEVENT as produced by
// the parser. Recurrence expansion operates on this type.
type ParsedEvent struct {
	UID     string
	Summary string
	Status  string

	// Start / End keep the event's own location: UTC for values without
	// timezone information, the TZID location otherwise. Conversion into the
	// reference timezone happens when intervals are built.
	Start  time.Time
	End    time.Time
	AllDay bool

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID (if present)
	IsOverride bool       // true if this VEVENT overrides a recurring instance
}

// Cancelled reports whether the event was called off.
func (e ParsedEvent) Cancelled() bool {
	return strings.EqualFold(strings.TrimSpace(e.Status), "CANCELLED")
}

// ParseOptions controls how a feed is turned into busy intervals.
type ParseOptions struct {
	// Location is the reference timezone every boundary is converted to.
	Location *time.Location
	// Now anchors recurrence expansion.
	Now time.Time
	// Horizon bounds recurrence expansion after Now.
	Horizon time.Duration
	// MaxOccurrencesPerEvent caps expansion of a single recurring event.
	MaxOccurrencesPerEvent int
}

// Parse turns a fetch outcome into a Feed. A failed fetch is passed through
// unchanged; a body that cannot be parsed yields an Err wrapping ErrParse.
func Parse(res FetchResult, opts ParseOptions) model.Feed {
	feed := model.Feed{Room: res.Room}
	if !res.OK() {
		feed.Err = res.Err
		return feed
	}

	events, err := ParseICS(res.Body)
	if err != nil {
		feed.Err = fmt.Errorf("%s: %w", res.Room.Name, err)
		return feed
	}

	feed.Intervals = ExpandIntervals(events, ExpandConfig{
		DisplayLocation:        opts.Location,
		RangeStart:             opts.Now,
		RangeEnd:               opts.Now.Add(opts.Horizon),
		MaxOccurrencesPerEvent: opts.MaxOccurrencesPerEvent,
	})
	appLog.Debug("feed parsed", "room", res.Room.Name, "events", len(events), "intervals", len(feed.Intervals))
	return feed
}

// ParseICS parses a single ICS payload into a list of ParsedEvent.
//
//   - A payload that does not end with END:VCALENDAR is truncated and fails.
//   - Any VEVENT without a usable DTSTART fails the whole payload; a room
//     whose feed cannot be read reliably must not be reported free.
//   - A missing DTEND falls back to DURATION, then to DTSTART (one day later
//     for all-day events).
//   - RRULE/EXDATE/RECURRENCE-ID are recorded but not expanded here.
func ParseICS(body []byte) ([]ParsedEvent, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrParse)
	}
	if !hasCalendarEnd(trimmed) {
		return nil, fmt.Errorf("%w: missing END:VCALENDAR", ErrParse)
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	events := make([]ParsedEvent, 0)
	for i, comp := range cal.Events() {
		ev, perr := parseVEvent(comp)
		if perr != nil {
			return nil, fmt.Errorf("%w: event #%d: %w", ErrParse, i+1, perr)
		}
		events = append(events, ev)
	}
	return events, nil
}

func parseVEvent(ve *ical.VEvent) (ParsedEvent, error) {
	var out ParsedEvent

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		out.UID = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}
	if p := ve.GetProperty(ical.ComponentPropertyStatus); p != nil {
		out.Status = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	start, allDay, err := parsePropTime(dtStart.Value, dtStart.ICalParameters)
	if err != nil {
		return out, fmt.Errorf("DTSTART: %w", err)
	}
	out.Start = start
	out.AllDay = allDay

	switch {
	case ve.GetProperty(ical.ComponentPropertyDtEnd) != nil:
		p := ve.GetProperty(ical.ComponentPropertyDtEnd)
		end, _, err := parsePropTime(p.Value, p.ICalParameters)
		if err != nil {
			return out, fmt.Errorf("DTEND: %w", err)
		}
		out.End = end
	case ve.GetProperty("DURATION") != nil:
		d, err := parseDuration(ve.GetProperty("DURATION").Value)
		if err != nil {
			return out, fmt.Errorf("DURATION: %w", err)
		}
		out.End = start.Add(d)
	case allDay:
		out.End = start.AddDate(0, 0, 1)
	default:
		out.End = start
	}
	if out.End.Before(out.Start) {
		out.End = out.Start
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = strings.TrimSpace(p.Value)
	}

	// EXDATE can appear multiple times, each with a comma separated list.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, _, err := parsePropTime(part, p.ICalParameters)
			if err != nil {
				appLog.Debug("ignoring unparsable EXDATE", "uid", out.UID, "value", part)
				continue
			}
			out.ExDates = append(out.ExDates, t)
		}
	}

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, _, err := parsePropTime(p.Value, p.ICalParameters); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

// parsePropTime parses an iCalendar DATE or DATE-TIME value.
//
//   - "...Z" values are UTC.
//   - Values with a TZID parameter are read in that location; unknown zone
//     names are mapped from Windows names when possible, else read as UTC.
//   - Values without timezone information are read as UTC.
//   - DATE values (no time part) are midnight UTC and flagged all-day.
func parsePropTime(v string, params map[string][]string) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false, errors.New("empty time value")
	}

	if isDateValue(v, params) {
		t, err := time.ParseInLocation("20060102", v, time.UTC)
		return t, true, err
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.ParseInLocation("20060102T150405Z", v, time.UTC)
		return t, false, err
	}

	loc := time.UTC
	if tzids, ok := params["TZID"]; ok && len(tzids) > 0 {
		loc = resolveTZID(tzids[0])
	}
	t, err := time.ParseInLocation("20060102T150405", v, loc)
	return t, false, err
}

func isDateValue(v string, params map[string][]string) bool {
	if vs, ok := params["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(v, "T")
}

// windowsToIANA maps the zone names Exchange-based feeds use to IANA names.
var windowsToIANA = map[string]string{
	"Romance Standard Time":        "Europe/Paris",
	"W. Europe Standard Time":      "Europe/Berlin",
	"Central Europe Standard Time": "Europe/Budapest",
	"GMT Standard Time":            "Europe/London",
	"UTC":                          "UTC",
}

func resolveTZID(tzid string) *time.Location {
	tzid = strings.Trim(strings.TrimSpace(tzid), `"`)
	if name, ok := windowsToIANA[tzid]; ok {
		tzid = name
	}
	loc, err := time.LoadLocation(tzid)
	if err != nil {
		appLog.Debug("unknown TZID, reading as UTC", "tzid", tzid)
		return time.UTC
	}
	return loc
}

// parseDuration reads a DURATION value ([+-]P[nW][nD][T[nH][nM][nS]]).
func parseDuration(v string) (time.Duration, error) {
	s := strings.ToUpper(strings.TrimSpace(v))
	// A value must end with a unit; "P" or "PT1" alone is not a duration.
	if s == "" || !strings.ContainsRune("WDHMS", rune(s[len(s)-1])) {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	prop := goical.NewProp(goical.PropDuration)
	prop.Value = s
	d, err := prop.Duration()
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", v, err)
	}
	return d, nil
}
