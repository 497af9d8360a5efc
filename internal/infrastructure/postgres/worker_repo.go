package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const workerColumns = `id, workspace_id, name, status, labels, last_heartbeat,
	current_run_id, created_at, updated_at`

type WorkerRepository struct {
	pool *pgxpool.Pool
}

func NewWorkerRepository(pool *pgxpool.Pool) *WorkerRepository {
	return &WorkerRepository{pool: pool}
}

// Register upserts on id so a restarting worker reclaims its identity instead
// of leaving a ghost row behind.
func (r *WorkerRepository) Register(ctx context.Context, w *domain.Worker) (*domain.Worker, error) {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	return scanWorker(r.pool.QueryRow(ctx, `
		INSERT INTO workers (id, workspace_id, name, status, labels, last_heartbeat)
		VALUES ($1, $2, $3, 'online', $4, NOW())
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, status = 'online', labels = EXCLUDED.labels,
		    last_heartbeat = NOW(), current_run_id = NULL, updated_at = NOW()
		RETURNING `+workerColumns,
		w.ID, w.WorkspaceID, w.Name, w.Labels))
}

func (r *WorkerRepository) GetByID(ctx context.Context, id string) (*domain.Worker, error) {
	return scanWorker(r.pool.QueryRow(ctx,
		`SELECT `+workerColumns+` FROM workers WHERE id = $1`, id))
}

func (r *WorkerRepository) List(ctx context.Context, workspaceID string) ([]*domain.Worker, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+workerColumns+` FROM workers WHERE workspace_id = $1 ORDER BY created_at ASC`,
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()
	return collectWorkers(rows)
}

func (r *WorkerRepository) Heartbeat(ctx context.Context, id string, status domain.WorkerStatus) (*domain.Worker, error) {
	return scanWorker(r.pool.QueryRow(ctx, `
		UPDATE workers
		SET status = $2, last_heartbeat = NOW(), updated_at = NOW()
		WHERE id = $1
		RETURNING `+workerColumns,
		id, status))
}

func (r *WorkerRepository) MarkStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Worker, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE workers
		SET status = 'offline', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM workers
			WHERE status IN ('online', 'busy') AND last_heartbeat < $1
			ORDER BY last_heartbeat ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+workerColumns,
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("mark stale workers: %w", err)
	}
	defer rows.Close()
	return collectWorkers(rows)
}

func collectWorkers(rows pgx.Rows) ([]*domain.Worker, error) {
	var out []*domain.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanWorker(row rowScanner) (*domain.Worker, error) {
	var w domain.Worker
	err := row.Scan(&w.ID, &w.WorkspaceID, &w.Name, &w.Status, &w.Labels,
		&w.LastHeartbeat, &w.CurrentRunID, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWorkerNotFound
		}
		return nil, fmt.Errorf("scan worker: %w", err)
	}
	return &w, nil
}
