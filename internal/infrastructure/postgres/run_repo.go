package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
	"github.com/flightcontrol-io/flightcontrol/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const runColumns = `id, workspace_id, job_definition_id, status, worker_id,
	name, task_prompt, agent_type, agent_config, mcp_servers, env_vars,
	credential_ids, required_labels, skill_ids, timeout_seconds, max_retries,
	retry_backoff_seconds, webhook_url, webhook_secret, attempt_number,
	parent_run_id, scheduled_at, started_at, completed_at, result, exit_code,
	created_at, updated_at`

type RunRepository struct {
	pool *pgxpool.Pool
}

func NewRunRepository(pool *pgxpool.Pool) *RunRepository {
	return &RunRepository{pool: pool}
}

func (r *RunRepository) Create(ctx context.Context, run *domain.JobRun) (*domain.JobRun, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	query := `
		INSERT INTO job_runs (
			id, workspace_id, job_definition_id, status, name, task_prompt,
			agent_type, agent_config, mcp_servers, env_vars, credential_ids,
			required_labels, skill_ids, timeout_seconds, max_retries,
			retry_backoff_seconds, webhook_url, webhook_secret, attempt_number,
			parent_run_id, scheduled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		          $15, $16, $17, $18, $19, $20, $21)
		RETURNING ` + runColumns

	row := r.pool.QueryRow(ctx, query,
		run.ID, run.WorkspaceID, run.JobDefinitionID, run.Status, run.Name,
		run.TaskPrompt, run.AgentType, run.AgentConfig, run.MCPServers,
		run.EnvVars, run.CredentialIDs, run.RequiredLabels, run.SkillIDs,
		run.TimeoutSeconds, run.MaxRetries, run.RetryBackoffSeconds,
		run.WebhookURL, run.WebhookSecret, run.AttemptNumber, run.ParentRunID,
		run.ScheduledAt,
	)
	return scanRun(row)
}

func (r *RunRepository) GetByID(ctx context.Context, id, workspaceID string) (*domain.JobRun, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM job_runs WHERE id = $1 AND workspace_id = $2`,
		id, workspaceID)
	return scanRun(row)
}

func (r *RunRepository) List(ctx context.Context, input repository.ListRunsInput) ([]*domain.JobRun, error) {
	args := []any{input.WorkspaceID}
	where := []string{"workspace_id = $1"}

	if input.JobDefinitionID != "" {
		args = append(args, input.JobDefinitionID)
		where = append(where, fmt.Sprintf("job_definition_id = $%d", len(args)))
	}
	if input.Status != "" {
		args = append(args, input.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)

	query := fmt.Sprintf(`SELECT %s FROM job_runs WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d`,
		runColumns, strings.Join(where, " AND "), len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

// Claim picks the oldest eligible queued run for the worker and assigns it.
// Candidate selection uses FOR UPDATE SKIP LOCKED so concurrent pollers skip
// each other; the queued-only conditional update is the final arbiter, and a
// lost race triggers exactly one re-scan. Label routing is a JSONB containment
// check: the run's required_labels must be a subset of the worker's labels.
func (r *RunRepository) Claim(ctx context.Context, worker *domain.Worker) (*domain.JobRun, error) {
	labels := worker.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return nil, fmt.Errorf("encode worker labels: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	const candidate = `
		SELECT id FROM job_runs
		WHERE workspace_id = $1
		  AND status = 'queued'
		  AND (scheduled_at IS NULL OR scheduled_at <= NOW())
		  AND (required_labels IS NULL OR required_labels = '{}'::jsonb OR required_labels <@ $2::jsonb)
		ORDER BY created_at ASC, id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED`

	const assign = `
		UPDATE job_runs
		SET status = 'assigned', worker_id = $2, started_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = 'queued'
		RETURNING ` + runColumns

	var claimed *domain.JobRun
	for attempt := 0; attempt < 2 && claimed == nil; attempt++ {
		var id string
		scanErr := tx.QueryRow(ctx, candidate, worker.WorkspaceID, labelsJSON).Scan(&id)
		if errors.Is(scanErr, pgx.ErrNoRows) {
			break
		}
		if scanErr != nil {
			err = fmt.Errorf("select candidate: %w", scanErr)
			return nil, err
		}

		run, assignErr := scanRun(tx.QueryRow(ctx, assign, id, worker.ID))
		if errors.Is(assignErr, domain.ErrRunNotFound) {
			continue // another poller won; re-scan from the next candidate
		}
		if assignErr != nil {
			err = assignErr
			return nil, err
		}
		claimed = run
	}

	if claimed == nil {
		err = tx.Commit(ctx)
		return nil, err
	}

	if _, err = tx.Exec(ctx,
		`UPDATE workers SET status = 'busy', current_run_id = $2, updated_at = NOW() WHERE id = $1`,
		worker.ID, claimed.ID,
	); err != nil {
		return nil, fmt.Errorf("mark worker busy: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return claimed, nil
}

func (r *RunRepository) MarkRunning(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE job_runs SET status = 'running', updated_at = NOW()
		 WHERE id = $1 AND status = 'assigned'`, id)
	return err
}

// Complete finalizes a run and frees its worker in one transaction. Terminal
// rows are never rewritten: if the run was cancelled (or already finalized)
// the stored row wins and is returned untouched.
func (r *RunRepository) Complete(ctx context.Context, id, workerID string, status domain.RunStatus, result *string, exitCode *int) (*domain.JobRun, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	updated := true
	run, scanErr := scanRun(tx.QueryRow(ctx, `
		UPDATE job_runs
		SET status = $2, result = $3, exit_code = $4, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('queued', 'assigned', 'running')
		RETURNING `+runColumns,
		id, status, result, exitCode))
	if errors.Is(scanErr, domain.ErrRunNotFound) {
		// Either the run does not exist or it is already terminal.
		updated = false
		run, scanErr = scanRun(tx.QueryRow(ctx,
			`SELECT `+runColumns+` FROM job_runs WHERE id = $1`, id))
	}
	if scanErr != nil {
		err = scanErr
		return nil, false, err
	}

	if workerID != "" {
		if _, err = tx.Exec(ctx,
			`UPDATE workers SET status = 'online', current_run_id = NULL, updated_at = NOW() WHERE id = $1`,
			workerID,
		); err != nil {
			return nil, false, fmt.Errorf("free worker: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit complete: %w", err)
	}
	return run, updated, nil
}

func (r *RunRepository) Cancel(ctx context.Context, id, workspaceID string) (*domain.JobRun, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	run, scanErr := scanRun(tx.QueryRow(ctx, `
		UPDATE job_runs
		SET status = 'cancelled', completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND workspace_id = $2 AND status IN ('queued', 'assigned', 'running')
		RETURNING `+runColumns,
		id, workspaceID))
	if errors.Is(scanErr, domain.ErrRunNotFound) {
		if _, getErr := scanRun(tx.QueryRow(ctx,
			`SELECT `+runColumns+` FROM job_runs WHERE id = $1 AND workspace_id = $2`,
			id, workspaceID)); getErr != nil {
			err = getErr
			return nil, err
		}
		err = domain.ErrRunNotCancellable
		return nil, err
	}
	if scanErr != nil {
		err = scanErr
		return nil, err
	}

	if run.WorkerID != nil {
		if _, err = tx.Exec(ctx,
			`UPDATE workers SET status = 'online', current_run_id = NULL, updated_at = NOW() WHERE id = $1`,
			*run.WorkerID,
		); err != nil {
			return nil, fmt.Errorf("free worker: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit cancel: %w", err)
	}
	return run, nil
}

func (r *RunRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*domain.JobRun, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+runColumns+` FROM job_runs
		WHERE status IN ('assigned', 'running')
		  AND started_at IS NOT NULL
		  AND started_at + make_interval(secs => timeout_seconds) < $1
		ORDER BY started_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue runs: %w", err)
	}
	defer rows.Close()
	return collectRuns(rows)
}

func (r *RunRepository) CountByStatus(ctx context.Context, workspaceID string) (map[domain.RunStatus]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*) FROM job_runs
		WHERE workspace_id = $1
		GROUP BY status`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("count runs by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.RunStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan run count: %w", err)
		}
		counts[domain.RunStatus(status)] = n
	}
	return counts, rows.Err()
}

func collectRuns(rows pgx.Rows) ([]*domain.JobRun, error) {
	var runs []*domain.JobRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(row rowScanner) (*domain.JobRun, error) {
	var r domain.JobRun
	err := row.Scan(
		&r.ID, &r.WorkspaceID, &r.JobDefinitionID, &r.Status, &r.WorkerID,
		&r.Name, &r.TaskPrompt, &r.AgentType, &r.AgentConfig, &r.MCPServers,
		&r.EnvVars, &r.CredentialIDs, &r.RequiredLabels, &r.SkillIDs,
		&r.TimeoutSeconds, &r.MaxRetries, &r.RetryBackoffSeconds,
		&r.WebhookURL, &r.WebhookSecret, &r.AttemptNumber, &r.ParentRunID,
		&r.ScheduledAt, &r.StartedAt, &r.CompletedAt, &r.Result, &r.ExitCode,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	return &r, nil
}
