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

const scheduleColumns = `id, workspace_id, job_definition_id, cron_expression,
	enabled, name, next_run_at, last_run_at, last_run_id, created_at, updated_at`

type ScheduleRepository struct {
	pool *pgxpool.Pool
}

func NewScheduleRepository(pool *pgxpool.Pool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

func (r *ScheduleRepository) Create(ctx context.Context, s *domain.Schedule) (*domain.Schedule, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return scanSchedule(r.pool.QueryRow(ctx, `
		INSERT INTO schedules (id, workspace_id, job_definition_id, cron_expression, enabled, name, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+scheduleColumns,
		s.ID, s.WorkspaceID, s.JobDefinitionID, s.CronExpression, s.Enabled, s.Name, s.NextRunAt))
}

func (r *ScheduleRepository) GetByID(ctx context.Context, id, workspaceID string) (*domain.Schedule, error) {
	return scanSchedule(r.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE id = $1 AND workspace_id = $2`,
		id, workspaceID))
}

func (r *ScheduleRepository) List(ctx context.Context, workspaceID string) ([]*domain.Schedule, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE workspace_id = $1 ORDER BY created_at DESC`,
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func (r *ScheduleRepository) Update(ctx context.Context, s *domain.Schedule) (*domain.Schedule, error) {
	return scanSchedule(r.pool.QueryRow(ctx, `
		UPDATE schedules
		SET cron_expression = $3, enabled = $4, name = $5, next_run_at = $6, updated_at = NOW()
		WHERE id = $1 AND workspace_id = $2
		RETURNING `+scheduleColumns,
		s.ID, s.WorkspaceID, s.CronExpression, s.Enabled, s.Name, s.NextRunAt))
}

func (r *ScheduleRepository) Delete(ctx context.Context, id, workspaceID string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM schedules WHERE id = $1 AND workspace_id = $2`, id, workspaceID)
	if err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrScheduleNotFound
	}
	return nil
}

// ResetNextRuns recomputes next_run_at from now for every enabled schedule.
// Running it once at startup forgets fires missed during downtime, so a long
// outage never floods the queue with backfill runs.
func (r *ScheduleRepository) ResetNextRuns(ctx context.Context, computeNext func(*domain.Schedule) time.Time) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx,
		`SELECT `+scheduleColumns+` FROM schedules WHERE enabled FOR UPDATE`)
	if err != nil {
		return 0, fmt.Errorf("select enabled schedules: %w", err)
	}
	schedules, err := collectSchedules(rows)
	rows.Close()
	if err != nil {
		return 0, err
	}

	for _, s := range schedules {
		next := computeNext(s)
		if _, err = tx.Exec(ctx,
			`UPDATE schedules SET next_run_at = $2, updated_at = NOW() WHERE id = $1`,
			s.ID, next,
		); err != nil {
			return 0, fmt.Errorf("reset next_run_at: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit reset: %w", err)
	}
	return len(schedules), nil
}

// ClaimAndFire is the scheduler tick: due schedules are claimed with SKIP
// LOCKED so concurrent server replicas never double-fire, each claimed
// schedule snapshots a queued run straight from its job definition, and
// next_run_at always advances — even when the job definition has been deleted
// out from under the schedule. One transaction, so a crash leaves either the
// full fire or nothing.
func (r *ScheduleRepository) ClaimAndFire(ctx context.Context, limit int, computeNext func(*domain.Schedule) time.Time) ([]*domain.JobRun, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	rows, err := tx.Query(ctx, `
		SELECT `+scheduleColumns+` FROM schedules
		WHERE enabled AND next_run_at IS NOT NULL AND next_run_at <= NOW()
		ORDER BY next_run_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due schedules: %w", err)
	}
	due, err := collectSchedules(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	const snapshot = `
		INSERT INTO job_runs (
			id, workspace_id, job_definition_id, status, name, task_prompt,
			agent_type, agent_config, mcp_servers, env_vars, credential_ids,
			required_labels, skill_ids, timeout_seconds, max_retries,
			retry_backoff_seconds, webhook_url, webhook_secret, attempt_number
		)
		SELECT $1, j.workspace_id, j.id, 'queued', j.name, j.task_prompt,
		       j.agent_type, j.agent_config, j.mcp_servers, j.env_vars,
		       j.credential_ids, j.labels, j.skill_ids, j.timeout_seconds,
		       j.max_retries, j.retry_backoff_seconds, j.webhook_url,
		       j.webhook_secret, 1
		FROM job_definitions j
		WHERE j.id = $2 AND j.workspace_id = $3
		RETURNING ` + runColumns

	var fired []*domain.JobRun
	for _, s := range due {
		next := computeNext(s)

		run, fireErr := scanRun(tx.QueryRow(ctx, snapshot,
			uuid.NewString(), s.JobDefinitionID, s.WorkspaceID))
		if errors.Is(fireErr, domain.ErrRunNotFound) {
			// Job definition gone; advance the schedule so it stops being due.
			if _, err = tx.Exec(ctx,
				`UPDATE schedules SET next_run_at = $2, updated_at = NOW() WHERE id = $1`,
				s.ID, next,
			); err != nil {
				return nil, fmt.Errorf("advance orphan schedule: %w", err)
			}
			continue
		}
		if fireErr != nil {
			err = fireErr
			return nil, err
		}

		if _, err = tx.Exec(ctx, `
			UPDATE schedules
			SET next_run_at = $2, last_run_at = NOW(), last_run_id = $3, updated_at = NOW()
			WHERE id = $1`,
			s.ID, next, run.ID,
		); err != nil {
			return nil, fmt.Errorf("advance schedule: %w", err)
		}
		fired = append(fired, run)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit fire: %w", err)
	}
	return fired, nil
}

func collectSchedules(rows pgx.Rows) ([]*domain.Schedule, error) {
	var out []*domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSchedule(row rowScanner) (*domain.Schedule, error) {
	var s domain.Schedule
	err := row.Scan(&s.ID, &s.WorkspaceID, &s.JobDefinitionID, &s.CronExpression,
		&s.Enabled, &s.Name, &s.NextRunAt, &s.LastRunAt, &s.LastRunID,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("scan schedule: %w", err)
	}
	return &s, nil
}
