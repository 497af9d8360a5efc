package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
	"github.com/flightcontrol-io/flightcontrol/internal/metrics"
	"github.com/flightcontrol-io/flightcontrol/internal/repository"
	"github.com/flightcontrol-io/flightcontrol/internal/webhook"
)

// Lifecycle owns terminal run transitions. Every path that ends a run — a
// worker report, an operator cancel, the reaper's timeout sweep — funnels
// through here so retry spawning and completion notifications happen exactly
// once per attempt.
type Lifecycle struct {
	runs     repository.RunRepository
	notifier *webhook.Notifier
	logger   *slog.Logger
}

func NewLifecycle(runs repository.RunRepository, notifier *webhook.Notifier, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		runs:     runs,
		notifier: notifier,
		logger:   logger.With("component", "lifecycle"),
	}
}

// Finalize drives a run to the given terminal status. If the stored run is
// already terminal (a cancel won the race, or this is a duplicate report) the
// stored row wins: no retry is spawned and no notification fires.
func (l *Lifecycle) Finalize(ctx context.Context, runID, workerID string, status domain.RunStatus, result *string, exitCode *int) (*domain.JobRun, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("finalize run %s: %q is not a terminal status", runID, status)
	}

	run, updated, err := l.runs.Complete(ctx, runID, workerID, status, result, exitCode)
	if err != nil {
		return nil, fmt.Errorf("complete run: %w", err)
	}
	if !updated {
		l.logger.Info("run already terminal, stored status wins",
			"run_id", runID, "stored_status", run.Status, "reported_status", status)
		return run, nil
	}

	metrics.RunsCompletedTotal.WithLabelValues(string(run.Status)).Inc()

	if (run.Status == domain.RunFailed || run.Status == domain.RunTimeout) && run.RetryEligible() {
		if err := l.spawnRetry(ctx, run); err != nil {
			l.logger.Error("spawn retry run", "run_id", run.ID, "error", err)
		}
	}

	l.notifier.NotifyCompletion(run)
	return run, nil
}

// Cancel flips a non-terminal run to cancelled. Workers discover the cancel
// through their heartbeat and stop the agent process; the status never moves
// again regardless of what the worker later reports.
func (l *Lifecycle) Cancel(ctx context.Context, runID, workspaceID string) (*domain.JobRun, error) {
	run, err := l.runs.Cancel(ctx, runID, workspaceID)
	if err != nil {
		return nil, err
	}

	metrics.RunsCompletedTotal.WithLabelValues(string(domain.RunCancelled)).Inc()
	l.logger.Info("run cancelled", "run_id", run.ID, "attempt", run.AttemptNumber)
	l.notifier.NotifyCompletion(run)
	return run, nil
}

func (l *Lifecycle) spawnRetry(ctx context.Context, run *domain.JobRun) error {
	child := run.RetryChild(time.Now())
	created, err := l.runs.Create(ctx, child)
	if err != nil {
		return err
	}
	metrics.RunsRetriedTotal.Inc()
	l.logger.Info("retry run spawned",
		"parent_run_id", run.ID,
		"run_id", created.ID,
		"attempt", created.AttemptNumber,
		"max_retries", created.MaxRetries,
		"scheduled_at", created.ScheduledAt,
	)
	return nil
}
