package usecase

import (
	"context"
	"fmt"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
	"github.com/flightcontrol-io/flightcontrol/internal/repository"
)

type JobUsecase struct {
	repo repository.JobRepository
}

func NewJobUsecase(repo repository.JobRepository) *JobUsecase {
	return &JobUsecase{repo: repo}
}

type JobSpecInput struct {
	Name                string
	Description         *string
	TaskPrompt          string
	AgentType           string
	AgentConfig         map[string]any
	MCPServers          []map[string]any
	EnvVars             map[string]string
	CredentialIDs       []string
	Labels              map[string]string
	SkillIDs            *[]string
	TimeoutSeconds      int
	MaxRetries          int
	RetryBackoffSeconds int
	WebhookURL          *string
	WebhookSecret       *string
}

func (in *JobSpecInput) applyDefaults() {
	if in.AgentType == "" {
		in.AgentType = domain.DefaultAgentType
	}
	if in.TimeoutSeconds <= 0 {
		in.TimeoutSeconds = domain.DefaultTimeoutSeconds
	}
	if in.RetryBackoffSeconds <= 0 {
		in.RetryBackoffSeconds = domain.DefaultRetryBackoffSeconds
	}
	if in.MaxRetries < 0 {
		in.MaxRetries = 0
	}
}

func (u *JobUsecase) CreateJob(ctx context.Context, workspaceID string, input JobSpecInput) (*domain.JobDefinition, error) {
	input.applyDefaults()

	job := &domain.JobDefinition{
		WorkspaceID:         workspaceID,
		Name:                input.Name,
		Description:         input.Description,
		TaskPrompt:          input.TaskPrompt,
		AgentType:           input.AgentType,
		AgentConfig:         input.AgentConfig,
		MCPServers:          input.MCPServers,
		EnvVars:             input.EnvVars,
		CredentialIDs:       input.CredentialIDs,
		Labels:              input.Labels,
		SkillIDs:            input.SkillIDs,
		TimeoutSeconds:      input.TimeoutSeconds,
		MaxRetries:          input.MaxRetries,
		RetryBackoffSeconds: input.RetryBackoffSeconds,
		WebhookURL:          input.WebhookURL,
		WebhookSecret:       input.WebhookSecret,
	}

	created, err := u.repo.Create(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return created, nil
}

func (u *JobUsecase) GetJob(ctx context.Context, id, workspaceID string) (*domain.JobDefinition, error) {
	job, err := u.repo.GetByID(ctx, id, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (u *JobUsecase) ListJobs(ctx context.Context, workspaceID string) ([]*domain.JobDefinition, error) {
	jobs, err := u.repo.List(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// UpdateJob replaces the job's spec. Already-queued runs keep their snapshot;
// only runs triggered after the update see the new fields.
func (u *JobUsecase) UpdateJob(ctx context.Context, id, workspaceID string, input JobSpecInput) (*domain.JobDefinition, error) {
	input.applyDefaults()

	job := &domain.JobDefinition{
		ID:                  id,
		WorkspaceID:         workspaceID,
		Name:                input.Name,
		Description:         input.Description,
		TaskPrompt:          input.TaskPrompt,
		AgentType:           input.AgentType,
		AgentConfig:         input.AgentConfig,
		MCPServers:          input.MCPServers,
		EnvVars:             input.EnvVars,
		CredentialIDs:       input.CredentialIDs,
		Labels:              input.Labels,
		SkillIDs:            input.SkillIDs,
		TimeoutSeconds:      input.TimeoutSeconds,
		MaxRetries:          input.MaxRetries,
		RetryBackoffSeconds: input.RetryBackoffSeconds,
		WebhookURL:          input.WebhookURL,
		WebhookSecret:       input.WebhookSecret,
	}

	updated, err := u.repo.Update(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}
	return updated, nil
}

// DeleteJob removes the definition. Existing runs and schedules keep their
// IDs pointing at the deleted job; the scheduler advances past orphans.
func (u *JobUsecase) DeleteJob(ctx context.Context, id, workspaceID string) error {
	if err := u.repo.Delete(ctx, id, workspaceID); err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	return nil
}
