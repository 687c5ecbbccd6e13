package ics

import (
	"strings"

	"roomradar/internal/model"
)

// calendar wraps VEVENT bodies (one string per event, lines separated by
// "\n") into a CRLF-terminated VCALENDAR payload.
func calendar(events ...string) []byte {
	lines := []string{"BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//test//roomradar//EN"}
	for _, ev := range events {
		lines = append(lines, "BEGIN:VEVENT")
		lines = append(lines, strings.Split(strings.TrimSpace(ev), "\n")...)
		lines = append(lines, "END:VEVENT")
	}
	lines = append(lines, "END:VCALENDAR")
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

// truncated drops the closing END:VCALENDAR line, as a body cut right after
// an END:VEVENT would.
func truncated(body []byte) []byte {
	return []byte(strings.TrimSuffix(string(body), "END:VCALENDAR\r\n"))
}

func room2(id string) model.Room {
	return model.Room{Name: "Salle " + id, SourceID: id}
}
