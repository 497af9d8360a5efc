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

const credentialColumns = `id, workspace_id, name, env_var, encrypted_value, description, created_at, updated_at`

type CredentialRepository struct {
	pool *pgxpool.Pool
}

func NewCredentialRepository(pool *pgxpool.Pool) *CredentialRepository {
	return &CredentialRepository{pool: pool}
}

func (r *CredentialRepository) Create(ctx context.Context, cred *domain.Credential) (*domain.Credential, error) {
	if cred.ID == "" {
		cred.ID = uuid.NewString()
	}
	created, err := scanCredential(r.pool.QueryRow(ctx, `
		INSERT INTO credentials (id, workspace_id, name, env_var, encrypted_value, description)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+credentialColumns,
		cred.ID, cred.WorkspaceID, cred.Name, cred.EnvVar, cred.EncryptedValue, cred.Description))
	if isUniqueViolation(err) {
		return nil, domain.ErrCredentialConflict
	}
	return created, err
}

func (r *CredentialRepository) GetByID(ctx context.Context, id, workspaceID string) (*domain.Credential, error) {
	return scanCredential(r.pool.QueryRow(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE id = $1 AND workspace_id = $2`,
		id, workspaceID))
}

func (r *CredentialRepository) GetByNames(ctx context.Context, workspaceID string, names []string) ([]*domain.Credential, error) {
	if len(names) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+credentialColumns+` FROM credentials
		WHERE workspace_id = $1 AND name = ANY($2)
		ORDER BY name ASC`, workspaceID, names)
	if err != nil {
		return nil, fmt.Errorf("get credentials by names: %w", err)
	}
	defer rows.Close()
	return collectCredentials(rows)
}

func (r *CredentialRepository) List(ctx context.Context, workspaceID string) ([]*domain.Credential, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+credentialColumns+` FROM credentials WHERE workspace_id = $1 ORDER BY name ASC`,
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()
	return collectCredentials(rows)
}

func (r *CredentialRepository) Update(ctx context.Context, cred *domain.Credential) (*domain.Credential, error) {
	updated, err := scanCredential(r.pool.QueryRow(ctx, `
		UPDATE credentials
		SET name = $3, env_var = $4, encrypted_value = $5, description = $6, updated_at = NOW()
		WHERE id = $1 AND workspace_id = $2
		RETURNING `+credentialColumns,
		cred.ID, cred.WorkspaceID, cred.Name, cred.EnvVar, cred.EncryptedValue, cred.Description))
	if isUniqueViolation(err) {
		return nil, domain.ErrCredentialConflict
	}
	return updated, err
}

func (r *CredentialRepository) Delete(ctx context.Context, id, workspaceID string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM credentials WHERE id = $1 AND workspace_id = $2`, id, workspaceID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCredentialNotFound
	}
	return nil
}

func collectCredentials(rows pgx.Rows) ([]*domain.Credential, error) {
	var out []*domain.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, rows.Err()
}

func scanCredential(row rowScanner) (*domain.Credential, error) {
	var c domain.Credential
	err := row.Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.EnvVar, &c.EncryptedValue,
		&c.Description, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	return &c, nil
}
