package ics

import (
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"roomradar/internal/fsutil"
	"roomradar/internal/model"
)

// uidNamespace scopes output event UIDs so the same room and window always
// get the same UID.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("roomradar:free-window"))

// OutputOptions controls the text of generated events.
type OutputOptions struct {
	ProductID   string
	FreeMarker  string
	Description string
}

// Output accumulates free-window events into a single calendar. It is
// append-only and owned by one run.
type Output struct {
	cal   *ical.Calendar
	opts  OutputOptions
	stamp time.Time
	count int
}

// NewOutput creates an empty output calendar. stamp is used as DTSTAMP of
// every event.
func NewOutput(opts OutputOptions, stamp time.Time) *Output {
	cal := ical.NewCalendar()
	if opts.ProductID != "" {
		cal.SetProductId(opts.ProductID)
	}
	cal.SetMethod(ical.MethodPublish)
	return &Output{cal: cal, opts: opts, stamp: stamp}
}

// Summary is the SUMMARY line of a free-room event.
func Summary(room, marker string) string {
	return fmt.Sprintf("✅ %s (%s)", room, marker)
}

// Add appends one free-window event.
func (o *Output) Add(w model.FreeWindow) {
	uid := uuid.NewSHA1(uidNamespace, []byte(w.Room.SourceID+"/"+w.Start.UTC().Format(time.RFC3339))).String()

	ev := o.cal.AddEvent(uid)
	ev.SetDtStampTime(o.stamp)
	ev.SetStartAt(w.Start)
	ev.SetEndAt(w.End)
	ev.SetSummary(Summary(w.Room.Name, o.opts.FreeMarker))
	if o.opts.Description != "" {
		ev.SetDescription(o.opts.Description)
	}
	o.count++
}

// Len returns the number of events added so far.
func (o *Output) Len() int {
	return o.count
}

// Bytes serializes the calendar.
func (o *Output) Bytes() []byte {
	return []byte(o.cal.Serialize())
}

// WriteFile atomically replaces path with the serialized calendar.
func (o *Output) WriteFile(path string) error {
	if err := fsutil.WriteFileAtomic(path, o.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write output calendar %s: %w", path, err)
	}
	return nil
}
