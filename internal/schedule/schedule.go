// Package schedule re-runs the batch on a cron schedule for the watch
// command.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "roomradar/internal/log"
)

// cronLogger adapts the application logger to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}

// Validate checks a cron expression without scheduling anything.
func Validate(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	return nil
}

// Run calls job once immediately, then on every tick of spec (five-field
// cron syntax, evaluated in loc) until ctx is canceled. Ticks that arrive
// while a job is still running are skipped, so jobs never overlap.
func Run(ctx context.Context, spec string, loc *time.Location, job func(context.Context)) error {
	if err := Validate(spec); err != nil {
		return err
	}
	if loc == nil {
		loc = time.Local
	}

	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(spec, func() { job(ctx) }); err != nil {
		return fmt.Errorf("schedule job: %w", err)
	}

	job(ctx)

	c.Start()
	appLog.Info("scheduler started", "refresh", spec, "timezone", loc.String())

	<-ctx.Done()
	stopped := c.Stop()
	<-stopped.Done()
	appLog.Info("scheduler stopped")
	return nil
}
