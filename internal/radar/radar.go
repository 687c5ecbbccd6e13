// Package radar drives one batch run: every configured room is fetched,
// classified and, when free, turned into an event of the output calendar.
package radar

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"roomradar/internal/config"
	"roomradar/internal/ics"
	appLog "roomradar/internal/log"
	"roomradar/internal/model"
	"roomradar/internal/occupancy"
)

// FeedSource acquires raw room feeds.
type FeedSource interface {
	EnsureCacheDir() error
	Fetch(ctx context.Context, room model.Room) ics.FetchResult
}

// Options configures a Runner.
type Options struct {
	Rooms      []model.Room
	Location   *time.Location
	Policy     occupancy.Policy
	Horizon    time.Duration
	OutputPath string
	Output     ics.OutputOptions

	// Progress receives human-readable progress lines. Defaults to stdout.
	Progress io.Writer
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// Runner executes batch runs. It holds no state between runs.
type Runner struct {
	feeds FeedSource
	opts  Options
}

// NewRunner creates a Runner over the given feed source.
func NewRunner(feeds FeedSource, opts Options) *Runner {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Policy.Location == nil {
		opts.Policy.Location = opts.Location
	}
	if opts.Progress == nil {
		opts.Progress = os.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{feeds: feeds, opts: opts}
}

// FromConfig builds a Runner backed by an HTTP Fetcher.
func FromConfig(cfg *config.Config) (*Runner, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
	}
	hour, minute, err := cfg.Closing()
	if err != nil {
		return nil, err
	}

	fetcher := ics.NewFetcher(ics.FetcherOptions{
		URLTemplate:        cfg.FeedURL,
		CacheDir:           cfg.CacheDir,
		Timeout:            cfg.Timeout(),
		UserAgent:          cfg.UserAgent,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})

	return NewRunner(fetcher, Options{
		Rooms:    cfg.Rooms(),
		Location: loc,
		Policy: occupancy.Policy{
			Location:      loc,
			ClosingHour:   hour,
			ClosingMinute: minute,
			Fallback:      cfg.Fallback(),
		},
		Horizon:    time.Duration(cfg.HorizonDays) * 24 * time.Hour,
		OutputPath: cfg.OutputPath,
		Output: ics.OutputOptions{
			ProductID:   cfg.ProductID,
			FreeMarker:  cfg.FreeMarker,
			Description: cfg.Description,
		},
	}), nil
}

// Run performs one batch. Per-room failures only exclude that room; the
// returned error is reserved for environment failures (cache directory,
// output file).
func (r *Runner) Run(ctx context.Context) (*model.Report, error) {
	now := r.opts.Now().In(r.opts.Location)
	report := &model.Report{
		Now:        now,
		Rooms:      make([]model.RoomReport, 0, len(r.opts.Rooms)),
		OutputPath: r.opts.OutputPath,
	}

	if err := r.feeds.EnsureCacheDir(); err != nil {
		return nil, err
	}

	r.progressf("--- generating free-room calendar (%s) ---\n", now.Format("15:04"))
	appLog.Info("run start", "rooms", len(r.opts.Rooms), "now", now.Format(time.RFC3339))

	out := ics.NewOutput(r.opts.Output, now)
	for _, room := range r.opts.Rooms {
		rr := r.processRoom(ctx, room, now)
		if rr.Window != nil {
			out.Add(*rr.Window)
			r.progressf("➕ added: %s (until %s)\n", room.Name, rr.Window.End.Format("15:04"))
		}
		report.Rooms = append(report.Rooms, rr)
	}

	if err := out.WriteFile(r.opts.OutputPath); err != nil {
		return nil, err
	}

	r.progressf("%s\n", "--------------------------------------------------")
	r.progressf("✅ calendar written: %s (%d free rooms)\n", r.opts.OutputPath, out.Len())
	appLog.Info("run finished", "free", out.Len(), "rooms", len(r.opts.Rooms), "output", r.opts.OutputPath)
	return report, nil
}

func (r *Runner) processRoom(ctx context.Context, room model.Room, now time.Time) model.RoomReport {
	fetched := r.feeds.Fetch(ctx, room)
	feed := ics.Parse(fetched, ics.ParseOptions{
		Location: r.opts.Location,
		Now:      now,
		Horizon:  r.opts.Horizon,
	})

	status, _ := occupancy.Classify(feed, now)
	rr := model.RoomReport{Room: room, Status: status}

	switch status.State {
	case model.StateFree:
		end := occupancy.Synthesize(now, status.NextBusy, r.opts.Policy)
		rr.Window = &model.FreeWindow{Room: room, Start: now, End: end}
		appLog.Debug("room free", "room", room.Name, "until", end.Format(time.RFC3339))
	case model.StateOccupied:
		appLog.Debug("room occupied", "room", room.Name)
	default:
		appLog.Warn("room skipped", "room", room.Name, "reason", status.Reason)
	}
	return rr
}

func (r *Runner) progressf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.opts.Progress, format, args...)
}
