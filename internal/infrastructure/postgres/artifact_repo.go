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

const artifactColumns = `id, workspace_id, run_id, filename, content_type,
	size_bytes, checksum_sha256, storage_path, created_at`

type ArtifactRepository struct {
	pool *pgxpool.Pool
}

func NewArtifactRepository(pool *pgxpool.Pool) *ArtifactRepository {
	return &ArtifactRepository{pool: pool}
}

func (r *ArtifactRepository) Create(ctx context.Context, a *domain.Artifact) (*domain.Artifact, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return scanArtifact(r.pool.QueryRow(ctx, `
		INSERT INTO artifacts (id, workspace_id, run_id, filename, content_type, size_bytes, checksum_sha256, storage_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+artifactColumns,
		a.ID, a.WorkspaceID, a.RunID, a.Filename, a.ContentType,
		a.SizeBytes, a.ChecksumSHA256, a.StoragePath))
}

func (r *ArtifactRepository) GetByID(ctx context.Context, id string) (*domain.Artifact, error) {
	return scanArtifact(r.pool.QueryRow(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE id = $1`, id))
}

func (r *ArtifactRepository) ListByRun(ctx context.Context, runID string) ([]*domain.Artifact, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE run_id = $1 ORDER BY created_at ASC`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []*domain.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *ArtifactRepository) GetByRunAndName(ctx context.Context, runID, filename string) (*domain.Artifact, error) {
	return scanArtifact(r.pool.QueryRow(ctx, `
		SELECT `+artifactColumns+` FROM artifacts
		WHERE run_id = $1 AND filename = $2
		ORDER BY created_at DESC
		LIMIT 1`, runID, filename))
}

func scanArtifact(row rowScanner) (*domain.Artifact, error) {
	var a domain.Artifact
	err := row.Scan(&a.ID, &a.WorkspaceID, &a.RunID, &a.Filename, &a.ContentType,
		&a.SizeBytes, &a.ChecksumSHA256, &a.StoragePath, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrArtifactNotFound
		}
		return nil, fmt.Errorf("scan artifact: %w", err)
	}
	return &a, nil
}
