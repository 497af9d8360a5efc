package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
	"github.com/flightcontrol-io/flightcontrol/internal/email"
	"github.com/flightcontrol-io/flightcontrol/internal/metrics"
	"github.com/flightcontrol-io/flightcontrol/internal/repository"
)

// Finalizer drives a run to a terminal status with full lifecycle handling
// (worker release, retry spawn, completion notifications).
type Finalizer interface {
	Finalize(ctx context.Context, runID, workerID string, status domain.RunStatus, result *string, exitCode *int) (*domain.JobRun, error)
}

// Reaper sweeps for two kinds of rot: workers whose heartbeat stopped, and
// runs that outlived their timeout. A reaped worker's current run is not
// failed here — the run timeout sweep owns that, so a worker that merely lost
// connectivity can still finish and report in.
type Reaper struct {
	workerRepo       repository.WorkerRepository
	runRepo          repository.RunRepository
	finalizer        Finalizer
	emails           email.Sender
	alertTo          string
	logger           *slog.Logger
	interval         time.Duration
	heartbeatTimeout time.Duration
}

func NewReaper(
	workerRepo repository.WorkerRepository,
	runRepo repository.RunRepository,
	finalizer Finalizer,
	emails email.Sender,
	alertTo string,
	logger *slog.Logger,
	interval time.Duration,
	heartbeatTimeout time.Duration,
) *Reaper {
	return &Reaper{
		workerRepo:       workerRepo,
		runRepo:          runRepo,
		finalizer:        finalizer,
		emails:           emails,
		alertTo:          alertTo,
		logger:           logger.With("component", "reaper"),
		interval:         interval,
		heartbeatTimeout: heartbeatTimeout,
	}
}

func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started", "interval", r.interval, "heartbeat_timeout", r.heartbeatTimeout)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper shut down")
			return
		case <-ticker.C:
			r.reapWorkers(ctx)
			r.reapRuns(ctx)
		}
	}
}

func (r *Reaper) reapWorkers(ctx context.Context) {
	cutoff := time.Now().Add(-r.heartbeatTimeout)

	stale, err := r.workerRepo.MarkStale(ctx, cutoff, 100)
	if err != nil {
		r.logger.Error("reaper mark stale workers", "error", err)
		return
	}
	if len(stale) == 0 {
		return
	}

	metrics.WorkersReapedTotal.Add(float64(len(stale)))
	for _, w := range stale {
		r.logger.Warn("worker marked offline", "worker_id", w.ID, "name", w.Name, "last_heartbeat", w.LastHeartbeat)
		r.alertOffline(ctx, w)
	}
}

func (r *Reaper) alertOffline(ctx context.Context, w *domain.Worker) {
	if r.alertTo == "" || r.emails == nil {
		return
	}
	subject := fmt.Sprintf("Worker %s went offline", w.Name)
	body := fmt.Sprintf(
		"<p>Worker <strong>%s</strong> (id %s, workspace %s) missed its heartbeat window.<br>Last heartbeat: %s</p>",
		w.Name, w.ID, w.WorkspaceID, w.LastHeartbeat.UTC().Format(time.RFC3339),
	)
	if err := r.emails.Send(ctx, r.alertTo, subject, body); err != nil {
		r.logger.Warn("send offline alert", "worker_id", w.ID, "error", err)
	}
}

func (r *Reaper) reapRuns(ctx context.Context) {
	overdue, err := r.runRepo.ListOverdue(ctx, time.Now(), 100)
	if err != nil {
		r.logger.Error("reaper list overdue runs", "error", err)
		return
	}

	for _, run := range overdue {
		workerID := ""
		if run.WorkerID != nil {
			workerID = *run.WorkerID
		}
		result := fmt.Sprintf("run exceeded its %ds timeout", run.TimeoutSeconds)

		if _, err := r.finalizer.Finalize(ctx, run.ID, workerID, domain.RunTimeout, &result, nil); err != nil {
			r.logger.Error("finalize overdue run", "run_id", run.ID, "error", err)
			continue
		}
		metrics.RunsTimedOutTotal.Inc()
		r.logger.Warn("run timed out", "run_id", run.ID, "timeout_seconds", run.TimeoutSeconds, "attempt", run.AttemptNumber)
	}
}
