package repository

import (
	"context"
	"time"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
)

type ListRunsInput struct {
	WorkspaceID     string
	JobDefinitionID string           // empty = all jobs
	Status          domain.RunStatus // empty = all statuses
	Limit           int
}

type RunRepository interface {
	Create(ctx context.Context, run *domain.JobRun) (*domain.JobRun, error)
	GetByID(ctx context.Context, id, workspaceID string) (*domain.JobRun, error)
	List(ctx context.Context, input ListRunsInput) ([]*domain.JobRun, error)

	// Claim atomically assigns the oldest eligible queued run to the worker:
	// candidate selection (workspace, queued, due, label containment, FIFO)
	// and the queued→assigned conditional update commit together with the
	// worker flipping to busy. Returns nil when nothing is eligible.
	Claim(ctx context.Context, worker *domain.Worker) (*domain.JobRun, error)

	// MarkRunning flips assigned→running; a no-op in any other status.
	MarkRunning(ctx context.Context, id string) error

	// Complete finalizes a non-terminal run and frees its worker in one
	// transaction. The conditional update refuses terminal rows, so a
	// cancelled run keeps its status; the bool reports whether this call
	// performed the transition (false = the stored terminal row won).
	Complete(ctx context.Context, id, workerID string, status domain.RunStatus, result *string, exitCode *int) (*domain.JobRun, bool, error)

	// Cancel flips a run in {queued, assigned, running} to cancelled and
	// frees its worker if one is attached.
	Cancel(ctx context.Context, id, workspaceID string) (*domain.JobRun, error)

	// ListOverdue returns assigned/running runs whose started_at plus timeout
	// elapsed before now.
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]*domain.JobRun, error)

	// CountByStatus returns per-status run counts for the workspace.
	CountByStatus(ctx context.Context, workspaceID string) (map[domain.RunStatus]int, error)
}

type LogRepository interface {
	// Append upserts lines keyed on (run_id, sequence): last writer wins.
	Append(ctx context.Context, runID string, lines []domain.LogLine) error
	// ListAfter returns lines with sequence > after in ascending order.
	ListAfter(ctx context.Context, runID string, after int) ([]domain.LogLine, error)
}

type ArtifactRepository interface {
	Create(ctx context.Context, a *domain.Artifact) (*domain.Artifact, error)
	GetByID(ctx context.Context, id string) (*domain.Artifact, error)
	ListByRun(ctx context.Context, runID string) ([]*domain.Artifact, error)
	GetByRunAndName(ctx context.Context, runID, filename string) (*domain.Artifact, error)
}
