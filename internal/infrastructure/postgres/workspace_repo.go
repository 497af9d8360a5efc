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

type WorkspaceRepository struct {
	pool *pgxpool.Pool
}

func NewWorkspaceRepository(pool *pgxpool.Pool) *WorkspaceRepository {
	return &WorkspaceRepository{pool: pool}
}

func (r *WorkspaceRepository) Create(ctx context.Context, ws *domain.Workspace, ownerUserID string) (*domain.Workspace, error) {
	if ws.ID == "" {
		ws.ID = uuid.NewString()
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

	created, err := scanWorkspace(tx.QueryRow(ctx, `
		INSERT INTO workspaces (id, name, slug, description)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, slug, description, created_at, updated_at`,
		ws.ID, ws.Name, ws.Slug, ws.Description))
	if err != nil {
		if isUniqueViolation(err) {
			err = domain.ErrWorkspaceConflict
		}
		return nil, err
	}

	if _, err = tx.Exec(ctx, `
		INSERT INTO workspace_members (id, workspace_id, user_id, role)
		VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), created.ID, ownerUserID, domain.RoleOwner,
	); err != nil {
		return nil, fmt.Errorf("add owner membership: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit workspace: %w", err)
	}
	return created, nil
}

func (r *WorkspaceRepository) GetByID(ctx context.Context, id string) (*domain.Workspace, error) {
	return scanWorkspace(r.pool.QueryRow(ctx, `
		SELECT id, name, slug, description, created_at, updated_at
		FROM workspaces WHERE id = $1`, id))
}

func (r *WorkspaceRepository) ListForUser(ctx context.Context, userID string) ([]*domain.Workspace, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT w.id, w.name, w.slug, w.description, w.created_at, w.updated_at
		FROM workspaces w
		JOIN workspace_members m ON m.workspace_id = w.id
		WHERE m.user_id = $1
		ORDER BY w.created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var out []*domain.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

func (r *WorkspaceRepository) ListMembers(ctx context.Context, workspaceID string) ([]*domain.WorkspaceMember, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, workspace_id, user_id, role, created_at
		FROM workspace_members WHERE workspace_id = $1
		ORDER BY created_at ASC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var out []*domain.WorkspaceMember
	for rows.Next() {
		var m domain.WorkspaceMember
		if err := rows.Scan(&m.ID, &m.WorkspaceID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (r *WorkspaceRepository) IsMember(ctx context.Context, workspaceID, userID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM workspace_members WHERE workspace_id = $1 AND user_id = $2
		)`, workspaceID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

// adminUserID is the seeded operator identity the default admin key maps to.
const adminUserID = "admin"

func (r *WorkspaceRepository) EnsureDefaults(ctx context.Context) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO users (id, username, display_name)
		VALUES ($1, 'admin', 'Administrator')
		ON CONFLICT (id) DO NOTHING`, adminUserID); err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO workspaces (id, name, slug)
		VALUES ($1, 'Default', 'default')
		ON CONFLICT (id) DO NOTHING`, domain.DefaultWorkspaceID); err != nil {
		return fmt.Errorf("seed default workspace: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO workspace_members (id, workspace_id, user_id, role)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (workspace_id, user_id) DO NOTHING`,
		uuid.NewString(), domain.DefaultWorkspaceID, adminUserID, domain.RoleOwner); err != nil {
		return fmt.Errorf("seed admin membership: %w", err)
	}
	return tx.Commit(ctx)
}

func scanWorkspace(row rowScanner) (*domain.Workspace, error) {
	var w domain.Workspace
	err := row.Scan(&w.ID, &w.Name, &w.Slug, &w.Description, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrWorkspaceNotFound
		}
		return nil, fmt.Errorf("scan workspace: %w", err)
	}
	return &w, nil
}

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, username, display_name, created_at, updated_at
		FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &u.DisplayName, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

type APIKeyRepository struct {
	pool *pgxpool.Pool
}

func NewAPIKeyRepository(pool *pgxpool.Pool) *APIKeyRepository {
	return &APIKeyRepository{pool: pool}
}

func (r *APIKeyRepository) Create(ctx context.Context, key *domain.APIKey) (*domain.APIKey, error) {
	if key.ID == "" {
		key.ID = uuid.NewString()
	}
	return scanAPIKey(r.pool.QueryRow(ctx, `
		INSERT INTO api_keys (id, name, key_hash, role, user_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, name, key_hash, role, user_id, created_at`,
		key.ID, key.Name, key.KeyHash, key.Role, key.UserID))
}

func (r *APIKeyRepository) GetByHash(ctx context.Context, keyHash string) (*domain.APIKey, error) {
	return scanAPIKey(r.pool.QueryRow(ctx, `
		SELECT id, name, key_hash, role, user_id, created_at
		FROM api_keys WHERE key_hash = $1`, keyHash))
}

func scanAPIKey(row rowScanner) (*domain.APIKey, error) {
	var k domain.APIKey
	err := row.Scan(&k.ID, &k.Name, &k.KeyHash, &k.Role, &k.UserID, &k.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAPIKeyNotFound
		}
		return nil, fmt.Errorf("scan api key: %w", err)
	}
	return &k, nil
}
