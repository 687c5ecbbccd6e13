package ics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roomradar/internal/model"
)

func TestOutputRoundTrip(t *testing.T) {
	loc := paris(t)
	now := time.Date(2024, time.March, 14, 10, 0, 0, 0, loc)
	opts := OutputOptions{
		ProductID:   "-//Radar Salles Angers//FR//",
		FreeMarker:  "LIBRE",
		Description: "Créneau libre détecté par le Radar.",
	}

	out := NewOutput(opts, now)
	out.Add(model.FreeWindow{Room: room, Start: now, End: time.Date(2024, time.March, 14, 14, 0, 0, 0, loc)})
	out.Add(model.FreeWindow{Room: room2("X1"), Start: now, End: time.Date(2024, time.March, 14, 20, 0, 0, 0, loc)})
	assert.Equal(t, 2, out.Len())

	data := out.Bytes()
	text := string(data)
	assert.Contains(t, text, "PRODID:-//Radar Salles Angers//FR//")
	assert.Contains(t, text, "METHOD:PUBLISH")
	assert.Equal(t, 2, strings.Count(text, "BEGIN:VEVENT"))

	events, err := ParseICS(data)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "✅ Amphi Amande (LIBRE)", events[0].Summary)
	assert.True(t, events[0].Start.Equal(now))
	assert.True(t, events[0].End.Equal(time.Date(2024, time.March, 14, 14, 0, 0, 0, loc)))

	assert.Equal(t, "✅ Salle X1 (LIBRE)", events[1].Summary)
	assert.True(t, events[1].End.Equal(time.Date(2024, time.March, 14, 20, 0, 0, 0, loc)))

	assert.NotEmpty(t, events[0].UID)
	assert.NotEqual(t, events[0].UID, events[1].UID)
	assert.Contains(t, text, "DESCRIPTION:Créneau libre détecté par le Radar.")
}

func TestOutputUIDIsStable(t *testing.T) {
	now := time.Date(2024, time.March, 14, 9, 0, 0, 0, time.UTC)
	w := model.FreeWindow{Room: room, Start: now, End: now.Add(time.Hour)}

	uidOf := func() string {
		out := NewOutput(OutputOptions{FreeMarker: "LIBRE"}, now)
		out.Add(w)
		events, err := ParseICS(out.Bytes())
		require.NoError(t, err)
		require.Len(t, events, 1)
		return events[0].UID
	}
	assert.Equal(t, uidOf(), uidOf())
}

func TestOutputEmptyCalendar(t *testing.T) {
	out := NewOutput(OutputOptions{}, time.Now())
	events, err := ParseICS(out.Bytes())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestOutputWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "Mes_Salles_Libres.ics")
	out := NewOutput(OutputOptions{FreeMarker: "LIBRE"}, time.Now())

	require.NoError(t, out.WriteFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, out.Bytes(), data)
}
