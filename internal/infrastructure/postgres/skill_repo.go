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

const skillColumns = `id, workspace_id, name, description, instructions,
	allowed_tools, metadata, license, compatibility, total_size_bytes,
	file_count, created_at, updated_at`

type SkillRepository struct {
	pool *pgxpool.Pool
}

func NewSkillRepository(pool *pgxpool.Pool) *SkillRepository {
	return &SkillRepository{pool: pool}
}

// Create inserts the skill row and its file manifest together.
func (r *SkillRepository) Create(ctx context.Context, s *domain.Skill, files []*domain.SkillFile) (*domain.Skill, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
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

	created, err := scanSkill(tx.QueryRow(ctx, `
		INSERT INTO skills (
			id, workspace_id, name, description, instructions, allowed_tools,
			metadata, license, compatibility, total_size_bytes, file_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING `+skillColumns,
		s.ID, s.WorkspaceID, s.Name, s.Description, s.Instructions,
		s.AllowedTools, s.Metadata, s.License, s.Compatibility,
		s.TotalSizeBytes, s.FileCount))
	if err != nil {
		if isUniqueViolation(err) {
			err = domain.ErrSkillNameConflict
		}
		return nil, err
	}

	for _, f := range files {
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		if _, err = tx.Exec(ctx, `
			INSERT INTO skill_files (id, skill_id, file_path, size_bytes, checksum_sha256, content_type)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			f.ID, created.ID, f.FilePath, f.SizeBytes, f.ChecksumSHA256, f.ContentType,
		); err != nil {
			return nil, fmt.Errorf("insert skill file: %w", err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit skill: %w", err)
	}
	return created, nil
}

func (r *SkillRepository) GetByID(ctx context.Context, id, workspaceID string) (*domain.Skill, error) {
	return scanSkill(r.pool.QueryRow(ctx,
		`SELECT `+skillColumns+` FROM skills WHERE id = $1 AND workspace_id = $2`,
		id, workspaceID))
}

func (r *SkillRepository) GetByIDUnscoped(ctx context.Context, id string) (*domain.Skill, error) {
	return scanSkill(r.pool.QueryRow(ctx,
		`SELECT `+skillColumns+` FROM skills WHERE id = $1`, id))
}

func (r *SkillRepository) GetByName(ctx context.Context, name, workspaceID string) (*domain.Skill, error) {
	return scanSkill(r.pool.QueryRow(ctx,
		`SELECT `+skillColumns+` FROM skills WHERE name = $1 AND workspace_id = $2`,
		name, workspaceID))
}

func (r *SkillRepository) List(ctx context.Context, workspaceID string) ([]*domain.Skill, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+skillColumns+` FROM skills WHERE workspace_id = $1 ORDER BY name ASC`,
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()
	return collectSkills(rows)
}

func (r *SkillRepository) ListByNames(ctx context.Context, workspaceID string, names *[]string) ([]*domain.Skill, error) {
	if names == nil {
		return r.List(ctx, workspaceID)
	}
	if len(*names) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+skillColumns+` FROM skills
		WHERE workspace_id = $1 AND name = ANY($2)
		ORDER BY name ASC`, workspaceID, *names)
	if err != nil {
		return nil, fmt.Errorf("list skills by names: %w", err)
	}
	defer rows.Close()
	return collectSkills(rows)
}

func (r *SkillRepository) ListFiles(ctx context.Context, skillID string) ([]*domain.SkillFile, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, skill_id, file_path, size_bytes, checksum_sha256, content_type, created_at
		FROM skill_files WHERE skill_id = $1
		ORDER BY file_path ASC`, skillID)
	if err != nil {
		return nil, fmt.Errorf("list skill files: %w", err)
	}
	defer rows.Close()

	var out []*domain.SkillFile
	for rows.Next() {
		var f domain.SkillFile
		if err := rows.Scan(&f.ID, &f.SkillID, &f.FilePath, &f.SizeBytes,
			&f.ChecksumSHA256, &f.ContentType, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan skill file: %w", err)
		}
		out = append(out, &f)
	}
	return out, rows.Err()
}

func (r *SkillRepository) Update(ctx context.Context, s *domain.Skill) (*domain.Skill, error) {
	updated, err := scanSkill(r.pool.QueryRow(ctx, `
		UPDATE skills
		SET description = $3, instructions = $4, allowed_tools = $5,
		    metadata = $6, license = $7, compatibility = $8,
		    total_size_bytes = $9, file_count = $10, updated_at = NOW()
		WHERE id = $1 AND workspace_id = $2
		RETURNING `+skillColumns,
		s.ID, s.WorkspaceID, s.Description, s.Instructions, s.AllowedTools,
		s.Metadata, s.License, s.Compatibility, s.TotalSizeBytes, s.FileCount))
	if isUniqueViolation(err) {
		return nil, domain.ErrSkillNameConflict
	}
	return updated, err
}

func (r *SkillRepository) Delete(ctx context.Context, id, workspaceID string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM skills WHERE id = $1 AND workspace_id = $2`, id, workspaceID)
	if err != nil {
		return fmt.Errorf("delete skill: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrSkillNotFound
	}
	return nil
}

func collectSkills(rows pgx.Rows) ([]*domain.Skill, error) {
	var out []*domain.Skill
	for rows.Next() {
		s, err := scanSkill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSkill(row rowScanner) (*domain.Skill, error) {
	var s domain.Skill
	err := row.Scan(&s.ID, &s.WorkspaceID, &s.Name, &s.Description,
		&s.Instructions, &s.AllowedTools, &s.Metadata, &s.License,
		&s.Compatibility, &s.TotalSizeBytes, &s.FileCount,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSkillNotFound
		}
		return nil, fmt.Errorf("scan skill: %w", err)
	}
	return &s, nil
}
