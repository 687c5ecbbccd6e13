package ics

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	appLog "roomradar/internal/log"
	"roomradar/internal/model"
)

// ErrFetch marks a feed that could not be acquired: network error, timeout,
// non-2xx status or a body that is not a calendar.
var ErrFetch = errors.New("feed unavailable")

// maxFeedBytes bounds a feed body. Larger bodies are rejected, never cut.
var maxFeedBytes int64 = 16 << 20

// FetchResult contains the outcome of fetching a single room feed.
// Err is nil on success, in which case Body holds the raw calendar bytes.
type FetchResult struct {
	Room      model.Room
	Body      []byte
	CachePath string // where Body was written; empty on failure
	Err       error
}

// OK reports whether the fetch produced a calendar body.
func (r FetchResult) OK() bool {
	return r.Err == nil
}

// FetcherOptions configures a Fetcher.
type FetcherOptions struct {
	// URLTemplate contains "{id}", replaced by the query-escaped room ID.
	URLTemplate string
	// CacheDir receives <safe room name>.ics for every successful fetch.
	CacheDir  string
	Timeout   time.Duration
	UserAgent string
	// InsecureSkipVerify disables TLS certificate verification. The
	// university portal has historically served an incomplete chain.
	InsecureSkipVerify bool
}

// Fetcher downloads room feeds one at a time and writes each successful
// body through to the cache directory. The cache is never read back.
type Fetcher struct {
	client      *http.Client
	urlTemplate string
	cacheDir    string
	userAgent   string
}

// NewFetcher creates a new feed Fetcher.
func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.CacheDir == "" {
		opts.CacheDir = "./cache_ics"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &Fetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		urlTemplate: opts.URLTemplate,
		cacheDir:    opts.CacheDir,
		userAgent:   opts.UserAgent,
	}
}

// EnsureCacheDir creates the cache directory. Failing to do so is an
// environment problem and should abort the run.
func (f *Fetcher) EnsureCacheDir() error {
	if err := os.MkdirAll(f.cacheDir, 0o755); err != nil {
		return fmt.Errorf("create cache dir %s: %w", f.cacheDir, err)
	}
	return nil
}

// URLFor returns the feed URL of a room.
func (f *Fetcher) URLFor(room model.Room) string {
	return strings.ReplaceAll(f.urlTemplate, "{id}", url.QueryEscape(room.SourceID))
}

// Fetch performs a single best-effort GET for the room's feed. It never
// returns a Go error: every failure is reported through FetchResult.Err,
// wrapping ErrFetch.
func (f *Fetcher) Fetch(ctx context.Context, room model.Room) FetchResult {
	res := FetchResult{Room: room}
	u := f.URLFor(room)

	body, err := f.get(ctx, u)
	if err != nil {
		res.Err = fmt.Errorf("%w: %s: %w", ErrFetch, room.Name, err)
		appLog.Debug("feed fetch failed", "room", room.Name, "url", u, "err", err)
		return res
	}

	cachePath := filepath.Join(f.cacheDir, CacheFileName(room.Name))
	if err := os.WriteFile(cachePath, body, 0o644); err != nil {
		res.Err = fmt.Errorf("%w: %s: cache write: %w", ErrFetch, room.Name, err)
		appLog.Error("feed cache write failed", err, "room", room.Name, "path", cachePath)
		return res
	}

	appLog.Debug("feed fetch success", "room", room.Name, "bytes", len(body), "cache", cachePath)
	res.Body = body
	res.CachePath = cachePath
	return res
}

func (f *Fetcher) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.New(resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxFeedBytes {
		return nil, fmt.Errorf("response exceeds %d bytes", maxFeedBytes)
	}
	if err := checkCalendarBody(body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkCalendarBody rejects payloads that are obviously not iCalendar data.
// The portal answers unknown or expired IDs with a 200 HTML page.
func checkCalendarBody(body []byte) error {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(body, []byte("\xef\xbb\xbf")))
	if len(trimmed) == 0 {
		return errors.New("empty response body")
	}
	head := bytes.ToLower(trimmed[:min(len(trimmed), 512)])
	if bytes.HasPrefix(head, []byte("<")) || bytes.Contains(head, []byte("<html")) {
		return errors.New("non-calendar response: html page")
	}
	if !bytes.HasPrefix(head, []byte("begin:vcalendar")) {
		return errors.New("non-calendar response: missing BEGIN:VCALENDAR")
	}
	if !hasCalendarEnd(trimmed) {
		return errors.New("truncated response: missing END:VCALENDAR")
	}
	return nil
}

// hasCalendarEnd reports whether a trimmed body closes its VCALENDAR.
// Parsers stop quietly at EOF, so a body cut between two events would
// otherwise lose every event after the cut.
func hasCalendarEnd(trimmed []byte) bool {
	tail := trimmed[max(0, len(trimmed)-len("END:VCALENDAR")):]
	return bytes.EqualFold(tail, []byte("END:VCALENDAR"))
}

// CacheFileName maps a room name to a filesystem-safe file name:
// "Amphi Amande" becomes "Amphi_Amande.ics".
func CacheFileName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r == '-' || r == '.' || r == '_':
			b.WriteRune(r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	safe := strings.Trim(b.String(), ".")
	if safe == "" {
		safe = "room"
	}
	return safe + ".ics"
}
