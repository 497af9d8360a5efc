package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
	"github.com/flightcontrol-io/flightcontrol/internal/metrics"
	"github.com/flightcontrol-io/flightcontrol/internal/repository"
	"github.com/robfig/cron/v3"
)

// Dispatcher fires cron schedules: each tick claims due schedules and
// snapshots one queued run per claim. Multiple server replicas can tick
// concurrently; SKIP LOCKED in the repository keeps fires exactly-once.
type Dispatcher struct {
	scheduleRepo repository.ScheduleRepository
	logger       *slog.Logger
	interval     time.Duration
}

func NewDispatcher(repo repository.ScheduleRepository, logger *slog.Logger, interval time.Duration) *Dispatcher {
	return &Dispatcher{
		scheduleRepo: repo,
		logger:       logger.With("component", "dispatcher"),
		interval:     interval,
	}
}

// ResetOnStartup recomputes every enabled schedule's next fire from now.
// Fires missed while the server was down are forgotten, never backfilled.
func (d *Dispatcher) ResetOnStartup(ctx context.Context) error {
	n, err := d.scheduleRepo.ResetNextRuns(ctx, d.computeNext)
	if err != nil {
		return err
	}
	d.logger.Info("schedule next-run times reset", "count", n)
	return nil
}

func (d *Dispatcher) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("dispatcher started", "interval", d.interval)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher shut down")
			return
		case <-ticker.C:
			d.dispatch(ctx)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context) {
	runs, err := d.scheduleRepo.ClaimAndFire(ctx, 100, d.computeNext)
	if err != nil {
		d.logger.Error("dispatcher claim and fire", "error", err)
		return
	}
	if len(runs) > 0 {
		metrics.ScheduleFiresTotal.Add(float64(len(runs)))
		d.logger.Info("dispatcher fired runs", "count", len(runs))
	}
}

// computeNext returns the next future fire for the schedule, skipping any
// missed occurrences.
func (d *Dispatcher) computeNext(s *domain.Schedule) time.Time {
	sched, err := cron.ParseStandard(s.CronExpression)
	if err != nil {
		// Expression was validated on create; this should never happen.
		d.logger.Error("invalid cron expression in schedule", "schedule_id", s.ID, "cron_expression", s.CronExpression, "error", err)
		return time.Now().Add(time.Hour) // safe fallback
	}

	now := time.Now()
	from := now
	if s.NextRunAt != nil && s.NextRunAt.Before(now) {
		from = *s.NextRunAt
	}
	next := sched.Next(from)
	for next.Before(now) {
		next = sched.Next(next)
	}
	return next
}
