package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
	"github.com/flightcontrol-io/flightcontrol/internal/repository"
	"github.com/robfig/cron/v3"
)

type ScheduleUsecase struct {
	repo    repository.ScheduleRepository
	jobRepo repository.JobRepository
}

func NewScheduleUsecase(repo repository.ScheduleRepository, jobRepo repository.JobRepository) *ScheduleUsecase {
	return &ScheduleUsecase{repo: repo, jobRepo: jobRepo}
}

type CreateScheduleInput struct {
	JobDefinitionID string
	CronExpression  string
	Name            *string
	Enabled         *bool
}

func (u *ScheduleUsecase) CreateSchedule(ctx context.Context, workspaceID string, input CreateScheduleInput) (*domain.Schedule, error) {
	sched, err := cron.ParseStandard(input.CronExpression)
	if err != nil {
		return nil, domain.ErrInvalidCronExpr
	}

	// The job must exist in this workspace at creation time; it may be
	// deleted later, in which case fires are skipped while next_run_at keeps
	// advancing.
	if _, err := u.jobRepo.GetByID(ctx, input.JobDefinitionID, workspaceID); err != nil {
		return nil, fmt.Errorf("get job for schedule: %w", err)
	}

	enabled := true
	if input.Enabled != nil {
		enabled = *input.Enabled
	}

	s := &domain.Schedule{
		WorkspaceID:     workspaceID,
		JobDefinitionID: input.JobDefinitionID,
		CronExpression:  input.CronExpression,
		Enabled:         enabled,
		Name:            input.Name,
	}
	if enabled {
		next := sched.Next(time.Now())
		s.NextRunAt = &next
	}

	created, err := u.repo.Create(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}
	return created, nil
}

func (u *ScheduleUsecase) GetSchedule(ctx context.Context, id, workspaceID string) (*domain.Schedule, error) {
	s, err := u.repo.GetByID(ctx, id, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return s, nil
}

func (u *ScheduleUsecase) ListSchedules(ctx context.Context, workspaceID string) ([]*domain.Schedule, error) {
	schedules, err := u.repo.List(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	return schedules, nil
}

type UpdateScheduleInput struct {
	CronExpression *string
	Name           *string
	Enabled        *bool
}

// UpdateSchedule patches the schedule. Changing the expression or re-enabling
// recomputes next_run_at from now; disabling clears it so the dispatcher
// never claims the schedule.
func (u *ScheduleUsecase) UpdateSchedule(ctx context.Context, id, workspaceID string, input UpdateScheduleInput) (*domain.Schedule, error) {
	s, err := u.repo.GetByID(ctx, id, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}

	if input.CronExpression != nil {
		s.CronExpression = *input.CronExpression
	}
	if input.Name != nil {
		s.Name = input.Name
	}
	if input.Enabled != nil {
		s.Enabled = *input.Enabled
	}

	sched, err := cron.ParseStandard(s.CronExpression)
	if err != nil {
		return nil, domain.ErrInvalidCronExpr
	}

	if s.Enabled {
		next := sched.Next(time.Now())
		s.NextRunAt = &next
	} else {
		s.NextRunAt = nil
	}

	updated, err := u.repo.Update(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("update schedule: %w", err)
	}
	return updated, nil
}

func (u *ScheduleUsecase) DeleteSchedule(ctx context.Context, id, workspaceID string) error {
	if err := u.repo.Delete(ctx, id, workspaceID); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}
