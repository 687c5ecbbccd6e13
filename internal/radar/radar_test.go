package radar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomradar/internal/ics"
	"roomradar/internal/model"
	"roomradar/internal/occupancy"
)

// fakeFeeds serves canned bodies keyed by room name.
type fakeFeeds struct {
	bodies   map[string][]byte
	fetched  []string
	cacheErr error
}

func (f *fakeFeeds) EnsureCacheDir() error { return f.cacheErr }

func (f *fakeFeeds) Fetch(_ context.Context, room model.Room) ics.FetchResult {
	f.fetched = append(f.fetched, room.Name)
	body, ok := f.bodies[room.Name]
	if !ok {
		return ics.FetchResult{Room: room, Err: fmt.Errorf("%w: %s: connection refused", ics.ErrFetch, room.Name)}
	}
	return ics.FetchResult{Room: room, Body: body}
}

func vcalendar(events ...string) []byte {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n")
	for i, ev := range events {
		fmt.Fprintf(&b, "BEGIN:VEVENT\r\nUID:ev-%d\r\n%s\r\nEND:VEVENT\r\n", i, strings.ReplaceAll(ev, "\n", "\r\n"))
	}
	b.WriteString("END:VCALENDAR\r\n")
	return []byte(b.String())
}

type fixture struct {
	runner   *Runner
	feeds    *fakeFeeds
	progress *bytes.Buffer
	output   string
	nowCalls int
}

func newFixture(t *testing.T, now time.Time, rooms []model.Room, bodies map[string][]byte) *fixture {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	fx := &fixture{
		feeds:    &fakeFeeds{bodies: bodies},
		progress: &bytes.Buffer{},
		output:   filepath.Join(t.TempDir(), "Mes_Salles_Libres.ics"),
	}
	fx.runner = NewRunner(fx.feeds, Options{
		Rooms:      rooms,
		Location:   loc,
		Policy:     occupancy.DefaultPolicy(loc),
		Horizon:    7 * 24 * time.Hour,
		OutputPath: fx.output,
		Output:     ics.OutputOptions{FreeMarker: "LIBRE", Description: "free"},
		Progress:   fx.progress,
		Now: func() time.Time {
			fx.nowCalls++
			return now
		},
	})
	return fx
}

var rooms = []model.Room{
	{Name: "Amphi Volney", SourceID: "V"},
	{Name: "Amphi Amande", SourceID: "A"},
	{Name: "Amphi Bodin", SourceID: "B"},
	{Name: "Amphi Inca", SourceID: "I"},
	{Name: "Amphi Lagon", SourceID: "L"},
}

func TestRunBuildsCalendarInConfigOrder(t *testing.T) {
	// 2024-03-14 10:00 in Paris.
	now := time.Date(2024, time.March, 14, 9, 0, 0, 0, time.UTC)
	fx := newFixture(t, now, rooms, map[string][]byte{
		// free until the 14:00 (Paris) class
		"Amphi Volney": vcalendar("DTSTART:20240314T130000Z\nDTEND:20240314T150000Z"),
		// occupied right now
		"Amphi Amande": vcalendar("DTSTART:20240314T080000Z\nDTEND:20240314T100000Z"),
		// no Amphi Bodin body: fetch failure
		// malformed
		"Amphi Inca": vcalendar("SUMMARY:no start"),
		// empty calendar: free until closing
		"Amphi Lagon": vcalendar(),
	})

	rep, err := fx.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fx.nowCalls)

	names := make([]string, 0, len(rooms))
	for _, r := range rooms {
		names = append(names, r.Name)
	}
	assert.Equal(t, names, fx.feeds.fetched)

	require.Len(t, rep.Rooms, len(rooms))
	states := make([]model.State, 0, len(rep.Rooms))
	for _, rr := range rep.Rooms {
		states = append(states, rr.Status.State)
	}
	assert.Equal(t, []model.State{
		model.StateFree, model.StateOccupied, model.StateError, model.StateError, model.StateFree,
	}, states)
	assert.ErrorIs(t, rep.Rooms[2].Status.Reason, ics.ErrFetch)
	assert.ErrorIs(t, rep.Rooms[3].Status.Reason, ics.ErrParse)
	assert.Equal(t, 2, rep.FreeCount())

	paris := rep.Now.Location()
	require.NotNil(t, rep.Rooms[0].Window)
	assert.True(t, rep.Rooms[0].Window.End.Equal(time.Date(2024, time.March, 14, 14, 0, 0, 0, paris)))
	require.NotNil(t, rep.Rooms[4].Window)
	assert.True(t, rep.Rooms[4].Window.End.Equal(time.Date(2024, time.March, 14, 20, 0, 0, 0, paris)))

	data, err := os.ReadFile(fx.output)
	require.NoError(t, err)
	events, err := ics.ParseICS(data)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "✅ Amphi Volney (LIBRE)", events[0].Summary)
	assert.Equal(t, "✅ Amphi Lagon (LIBRE)", events[1].Summary)
	for _, ev := range events {
		assert.True(t, ev.Start.Equal(now), "every window starts at the same now")
	}

	out := fx.progress.String()
	assert.Contains(t, out, "➕ added: Amphi Volney (until 14:00)")
	assert.Contains(t, out, "➕ added: Amphi Lagon (until 20:00)")
	assert.NotContains(t, out, "Amphi Amande")
	assert.Contains(t, out, fx.output)
}

func TestRunEachFreeRoomAppearsOnce(t *testing.T) {
	now := time.Date(2024, time.March, 14, 20, 0, 0, 0, time.UTC) // 21:00 in Paris
	bodies := map[string][]byte{}
	for _, r := range rooms {
		bodies[r.Name] = vcalendar("DTSTART:20240315T070000Z\nDTEND:20240315T090000Z")
	}
	fx := newFixture(t, now, rooms, bodies)

	rep, err := fx.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(rooms), rep.FreeCount())

	data, err := os.ReadFile(fx.output)
	require.NoError(t, err)
	for _, r := range rooms {
		assert.Equal(t, 1, strings.Count(string(data), "SUMMARY:✅ "+r.Name+" (LIBRE)"), r.Name)
	}
	for _, rr := range rep.Rooms {
		// Past closing: now + 1h.
		assert.True(t, rr.Window.End.Equal(now.Add(time.Hour)))
	}
}

func TestRunAllOccupiedWritesEmptyCalendar(t *testing.T) {
	now := time.Date(2024, time.March, 14, 9, 0, 0, 0, time.UTC)
	bodies := map[string][]byte{}
	for _, r := range rooms {
		bodies[r.Name] = vcalendar("DTSTART:20240314T080000Z\nDTEND:20240314T100000Z")
	}
	fx := newFixture(t, now, rooms, bodies)

	rep, err := fx.runner.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.FreeCount())

	data, err := os.ReadFile(fx.output)
	require.NoError(t, err)
	assert.Contains(t, string(data), "BEGIN:VCALENDAR")
	assert.NotContains(t, string(data), "BEGIN:VEVENT")
}

func TestRunCacheDirFailureIsFatal(t *testing.T) {
	fx := newFixture(t, time.Now(), rooms, nil)
	fx.feeds.cacheErr = errors.New("permission denied")

	_, err := fx.runner.Run(context.Background())
	require.Error(t, err)
	assert.Empty(t, fx.feeds.fetched)
	assert.NoFileExists(t, fx.output)
}

func TestRunOutputWriteFailureIsFatal(t *testing.T) {
	fx := newFixture(t, time.Now(), rooms, nil)
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	fx.runner.opts.OutputPath = filepath.Join(blocker, "out.ics")

	_, err := fx.runner.Run(context.Background())
	assert.Error(t, err)
}
