package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema migration tooling lives outside this repo; EnsureSchema only brings a
// fresh database up to the expected shape so local and test setups work.
const schema = `
CREATE TABLE IF NOT EXISTS workspaces (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	slug        TEXT NOT NULL UNIQUE,
	description TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS users (
	id           TEXT PRIMARY KEY,
	username     TEXT NOT NULL UNIQUE,
	display_name TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS workspace_members (
	id           TEXT PRIMARY KEY,
	workspace_id TEXT NOT NULL REFERENCES workspaces(id),
	user_id      TEXT NOT NULL REFERENCES users(id),
	role         TEXT NOT NULL DEFAULT 'member',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (workspace_id, user_id)
);

CREATE TABLE IF NOT EXISTS api_keys (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	key_hash   TEXT NOT NULL UNIQUE,
	role       TEXT NOT NULL DEFAULT 'worker',
	user_id    TEXT NOT NULL REFERENCES users(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS credentials (
	id              TEXT PRIMARY KEY,
	workspace_id    TEXT NOT NULL REFERENCES workspaces(id),
	name            TEXT NOT NULL,
	env_var         TEXT NOT NULL,
	encrypted_value TEXT NOT NULL,
	description     TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (workspace_id, name)
);

CREATE TABLE IF NOT EXISTS job_definitions (
	id                    TEXT PRIMARY KEY,
	workspace_id          TEXT NOT NULL REFERENCES workspaces(id),
	name                  TEXT NOT NULL,
	description           TEXT,
	task_prompt           TEXT NOT NULL,
	agent_type            TEXT NOT NULL DEFAULT 'goose',
	agent_config          JSONB,
	mcp_servers           JSONB,
	env_vars              JSONB,
	credential_ids        JSONB,
	labels                JSONB,
	skill_ids             JSONB,
	timeout_seconds       INT NOT NULL DEFAULT 1800,
	max_retries           INT NOT NULL DEFAULT 0,
	retry_backoff_seconds INT NOT NULL DEFAULT 60,
	webhook_url           TEXT,
	webhook_secret        TEXT,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS job_runs (
	id                    TEXT PRIMARY KEY,
	workspace_id          TEXT NOT NULL REFERENCES workspaces(id),
	job_definition_id     TEXT,
	status                TEXT NOT NULL DEFAULT 'queued',
	worker_id             TEXT,
	name                  TEXT NOT NULL,
	task_prompt           TEXT NOT NULL,
	agent_type            TEXT NOT NULL DEFAULT 'goose',
	agent_config          JSONB,
	mcp_servers           JSONB,
	env_vars              JSONB,
	credential_ids        JSONB,
	required_labels       JSONB,
	skill_ids             JSONB,
	timeout_seconds       INT NOT NULL DEFAULT 1800,
	max_retries           INT NOT NULL DEFAULT 0,
	retry_backoff_seconds INT NOT NULL DEFAULT 60,
	webhook_url           TEXT,
	webhook_secret        TEXT,
	attempt_number        INT NOT NULL DEFAULT 1,
	parent_run_id         TEXT,
	scheduled_at          TIMESTAMPTZ,
	started_at            TIMESTAMPTZ,
	completed_at          TIMESTAMPTZ,
	result                TEXT,
	exit_code             INT,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_job_runs_dispatch
	ON job_runs (workspace_id, created_at) WHERE status = 'queued';

CREATE TABLE IF NOT EXISTS workers (
	id             TEXT PRIMARY KEY,
	workspace_id   TEXT NOT NULL REFERENCES workspaces(id),
	name           TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'online',
	labels         JSONB,
	last_heartbeat TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	current_run_id TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS schedules (
	id                TEXT PRIMARY KEY,
	workspace_id      TEXT NOT NULL REFERENCES workspaces(id),
	job_definition_id TEXT NOT NULL,
	cron_expression   TEXT NOT NULL,
	enabled           BOOLEAN NOT NULL DEFAULT TRUE,
	name              TEXT,
	next_run_at       TIMESTAMPTZ,
	last_run_at       TIMESTAMPTZ,
	last_run_id       TEXT,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS job_logs (
	run_id     TEXT NOT NULL,
	sequence   INT NOT NULL,
	stream     TEXT NOT NULL DEFAULT 'stdout',
	line       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (run_id, sequence)
);

CREATE TABLE IF NOT EXISTS artifacts (
	id              TEXT PRIMARY KEY,
	workspace_id    TEXT NOT NULL,
	run_id          TEXT NOT NULL,
	filename        TEXT NOT NULL,
	content_type    TEXT NOT NULL,
	size_bytes      BIGINT NOT NULL,
	checksum_sha256 TEXT NOT NULL,
	storage_path    TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS skills (
	id               TEXT PRIMARY KEY,
	workspace_id     TEXT NOT NULL REFERENCES workspaces(id),
	name             TEXT NOT NULL,
	description      TEXT NOT NULL,
	instructions     TEXT NOT NULL,
	allowed_tools    TEXT,
	metadata         JSONB,
	license          TEXT,
	compatibility    TEXT,
	total_size_bytes BIGINT NOT NULL DEFAULT 0,
	file_count       INT NOT NULL DEFAULT 0,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (workspace_id, name)
);

CREATE TABLE IF NOT EXISTS skill_files (
	id              TEXT PRIMARY KEY,
	skill_id        TEXT NOT NULL REFERENCES skills(id) ON DELETE CASCADE,
	file_path       TEXT NOT NULL,
	size_bytes      BIGINT NOT NULL,
	checksum_sha256 TEXT NOT NULL,
	content_type    TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (skill_id, file_path)
);
`

func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
