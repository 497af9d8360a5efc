package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const jobColumns = `id, workspace_id, name, description, task_prompt, agent_type,
	agent_config, mcp_servers, env_vars, credential_ids, labels, skill_ids,
	timeout_seconds, max_retries, retry_backoff_seconds, webhook_url,
	webhook_secret, created_at, updated_at`

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Create(ctx context.Context, job *domain.JobDefinition) (*domain.JobDefinition, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	return scanJob(r.pool.QueryRow(ctx, `
		INSERT INTO job_definitions (
			id, workspace_id, name, description, task_prompt, agent_type,
			agent_config, mcp_servers, env_vars, credential_ids, labels,
			skill_ids, timeout_seconds, max_retries, retry_backoff_seconds,
			webhook_url, webhook_secret
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING `+jobColumns,
		job.ID, job.WorkspaceID, job.Name, job.Description, job.TaskPrompt,
		job.AgentType, job.AgentConfig, job.MCPServers, job.EnvVars,
		job.CredentialIDs, job.Labels, job.SkillIDs, job.TimeoutSeconds,
		job.MaxRetries, job.RetryBackoffSeconds, job.WebhookURL, job.WebhookSecret))
}

func (r *JobRepository) GetByID(ctx context.Context, id, workspaceID string) (*domain.JobDefinition, error) {
	return scanJob(r.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM job_definitions WHERE id = $1 AND workspace_id = $2`,
		id, workspaceID))
}

func (r *JobRepository) List(ctx context.Context, workspaceID string) ([]*domain.JobDefinition, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM job_definitions WHERE workspace_id = $1 ORDER BY created_at DESC`,
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []*domain.JobDefinition
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (r *JobRepository) Update(ctx context.Context, job *domain.JobDefinition) (*domain.JobDefinition, error) {
	return scanJob(r.pool.QueryRow(ctx, `
		UPDATE job_definitions
		SET name = $3, description = $4, task_prompt = $5, agent_type = $6,
		    agent_config = $7, mcp_servers = $8, env_vars = $9,
		    credential_ids = $10, labels = $11, skill_ids = $12,
		    timeout_seconds = $13, max_retries = $14, retry_backoff_seconds = $15,
		    webhook_url = $16, webhook_secret = $17, updated_at = NOW()
		WHERE id = $1 AND workspace_id = $2
		RETURNING `+jobColumns,
		job.ID, job.WorkspaceID, job.Name, job.Description, job.TaskPrompt,
		job.AgentType, job.AgentConfig, job.MCPServers, job.EnvVars,
		job.CredentialIDs, job.Labels, job.SkillIDs, job.TimeoutSeconds,
		job.MaxRetries, job.RetryBackoffSeconds, job.WebhookURL, job.WebhookSecret))
}

func (r *JobRepository) Delete(ctx context.Context, id, workspaceID string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM job_definitions WHERE id = $1 AND workspace_id = $2`, id, workspaceID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func scanJob(row rowScanner) (*domain.JobDefinition, error) {
	var j domain.JobDefinition
	err := row.Scan(
		&j.ID, &j.WorkspaceID, &j.Name, &j.Description, &j.TaskPrompt,
		&j.AgentType, &j.AgentConfig, &j.MCPServers, &j.EnvVars,
		&j.CredentialIDs, &j.Labels, &j.SkillIDs, &j.TimeoutSeconds,
		&j.MaxRetries, &j.RetryBackoffSeconds, &j.WebhookURL, &j.WebhookSecret,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}
