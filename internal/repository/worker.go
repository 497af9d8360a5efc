package repository

import (
	"context"
	"time"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
)

type WorkerRepository interface {
	Register(ctx context.Context, w *domain.Worker) (*domain.Worker, error)
	GetByID(ctx context.Context, id string) (*domain.Worker, error)
	List(ctx context.Context, workspaceID string) ([]*domain.Worker, error)

	// Heartbeat refreshes last_heartbeat and status, returning the stored
	// worker so the caller can surface cancellation of its current run.
	Heartbeat(ctx context.Context, id string, status domain.WorkerStatus) (*domain.Worker, error)

	// MarkStale flips online/busy workers whose heartbeat predates cutoff to
	// offline, returning the affected workers.
	MarkStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Worker, error)
}
