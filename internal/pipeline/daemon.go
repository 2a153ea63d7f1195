package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultCron runs the job every day at 09:00 local time.
const DefaultCron = "0 9 * * *"

// Job is the unit the daemon schedules.
type Job interface {
	Run(ctx context.Context, date time.Time) (RunReport, error)
}

// Daemon runs a Job on a cron schedule. Overlapping runs are skipped.
type Daemon struct {
	job      Job
	spec     string
	schedule cron.Schedule
	now      func() time.Time
	logger   *slog.Logger
}

// NewDaemon validates spec (standard 5-field cron, or descriptors such as
// "@daily") and returns a Daemon. An empty spec means DefaultCron.
func NewDaemon(job Job, spec string) (*Daemon, error) {
	if spec == "" {
		spec = DefaultCron
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parsing cron spec %q: %w", spec, err)
	}
	return &Daemon{job: job, spec: spec, schedule: sched, now: time.Now, logger: slog.Default()}, nil
}

// Spec returns the cron expression.
func (d *Daemon) Spec() string { return d.spec }

// Next returns the first activation after t.
func (d *Daemon) Next(t time.Time) time.Time { return d.schedule.Next(t) }

// Tick runs the job once for the current date and logs the outcome.
func (d *Daemon) Tick(ctx context.Context) {
	rep, err := d.job.Run(ctx, d.now())
	switch {
	case errors.Is(err, ErrRunFailed):
		d.logger.Error("scheduled run failed", "run", rep.Run.ID, "error", err)
	case err != nil:
		d.logger.Error("scheduled run errored", "error", err)
	default:
		d.logger.Info("scheduled run done", "run", rep.Run.ID, "status", rep.Run.Status)
	}
}

// Run blocks until ctx is cancelled, then waits for an in-flight job.
func (d *Daemon) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	c.Schedule(d.schedule, cron.FuncJob(func() { d.Tick(ctx) }))
	c.Start()
	d.logger.Info("daemon started", "cron", d.spec, "next", d.Next(d.now()))

	<-ctx.Done()
	<-c.Stop().Done()
	d.logger.Info("daemon stopped")
	return nil
}
