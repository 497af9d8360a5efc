package repository

import (
	"context"
	"time"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
)

type ScheduleRepository interface {
	Create(ctx context.Context, s *domain.Schedule) (*domain.Schedule, error)
	GetByID(ctx context.Context, id, workspaceID string) (*domain.Schedule, error)
	List(ctx context.Context, workspaceID string) ([]*domain.Schedule, error)
	Update(ctx context.Context, s *domain.Schedule) (*domain.Schedule, error)
	Delete(ctx context.Context, id, workspaceID string) error

	// ResetNextRuns recomputes next_run_at for every enabled schedule; called
	// once at startup so downtime never causes a thundering herd of backfill.
	ResetNextRuns(ctx context.Context, computeNext func(*domain.Schedule) time.Time) (int, error)

	// ClaimAndFire atomically claims due enabled schedules, snapshots one run
	// per schedule from its job definition, records last_run_at/last_run_id,
	// and advances next_run_at — one transaction, no partial state on crash.
	// next_run_at advances even when the job definition is gone.
	ClaimAndFire(ctx context.Context, limit int, computeNext func(*domain.Schedule) time.Time) ([]*domain.JobRun, error)
}

type SkillRepository interface {
	Create(ctx context.Context, s *domain.Skill, files []*domain.SkillFile) (*domain.Skill, error)
	GetByID(ctx context.Context, id, workspaceID string) (*domain.Skill, error)
	// GetByIDUnscoped skips the workspace filter. Only the signed-token file
	// download path uses it; everything user-facing stays scoped.
	GetByIDUnscoped(ctx context.Context, id string) (*domain.Skill, error)
	GetByName(ctx context.Context, name, workspaceID string) (*domain.Skill, error)
	List(ctx context.Context, workspaceID string) ([]*domain.Skill, error)
	// ListByNames resolves a named subset; nil names means every skill in the
	// workspace (the skill_ids tri-value).
	ListByNames(ctx context.Context, workspaceID string, names *[]string) ([]*domain.Skill, error)
	ListFiles(ctx context.Context, skillID string) ([]*domain.SkillFile, error)
	Update(ctx context.Context, s *domain.Skill) (*domain.Skill, error)
	Delete(ctx context.Context, id, workspaceID string) error
}
