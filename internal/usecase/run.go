package usecase

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
	"github.com/flightcontrol-io/flightcontrol/internal/logstream"
	"github.com/flightcontrol-io/flightcontrol/internal/repository"
	"github.com/flightcontrol-io/flightcontrol/internal/storage"
)

type RunUsecase struct {
	runs      repository.RunRepository
	jobs      repository.JobRepository
	artifacts repository.ArtifactRepository
	store     storage.Store
	pipeline  *logstream.Pipeline
	lifecycle *Lifecycle
}

func NewRunUsecase(
	runs repository.RunRepository,
	jobs repository.JobRepository,
	artifacts repository.ArtifactRepository,
	store storage.Store,
	pipeline *logstream.Pipeline,
	lifecycle *Lifecycle,
) *RunUsecase {
	return &RunUsecase{
		runs:      runs,
		jobs:      jobs,
		artifacts: artifacts,
		store:     store,
		pipeline:  pipeline,
		lifecycle: lifecycle,
	}
}

type TriggerRunInput struct {
	// JobDefinitionID selects the job to snapshot; empty means an ad-hoc run
	// described entirely by Spec.
	JobDefinitionID string
	// TaskPrompt overrides the job's prompt for this run only.
	TaskPrompt *string
	// EnvVars are merged over the job's env vars for this run only.
	EnvVars map[string]string
	// ScheduledAt delays dispatch; nil means immediately eligible.
	ScheduledAt *time.Time
	// Spec describes an ad-hoc run; ignored when JobDefinitionID is set.
	Spec *JobSpecInput
}

// TriggerRun creates a queued run. Job-based runs copy every dispatch-relevant
// field from the definition at this moment — labels included — so later job
// edits never retouch the queue.
func (u *RunUsecase) TriggerRun(ctx context.Context, workspaceID string, input TriggerRunInput) (*domain.JobRun, error) {
	var run *domain.JobRun

	if input.JobDefinitionID != "" {
		job, err := u.jobs.GetByID(ctx, input.JobDefinitionID, workspaceID)
		if err != nil {
			return nil, fmt.Errorf("get job for trigger: %w", err)
		}
		run = snapshotRun(job)
	} else {
		if input.Spec == nil || input.Spec.TaskPrompt == "" {
			return nil, fmt.Errorf("ad-hoc run requires a task prompt: %w", domain.ErrJobNotFound)
		}
		spec := *input.Spec
		spec.applyDefaults()
		run = &domain.JobRun{
			Status:              domain.RunQueued,
			Name:                spec.Name,
			TaskPrompt:          spec.TaskPrompt,
			AgentType:           spec.AgentType,
			AgentConfig:         spec.AgentConfig,
			MCPServers:          spec.MCPServers,
			EnvVars:             spec.EnvVars,
			CredentialIDs:       spec.CredentialIDs,
			RequiredLabels:      spec.Labels,
			SkillIDs:            spec.SkillIDs,
			TimeoutSeconds:      spec.TimeoutSeconds,
			MaxRetries:          spec.MaxRetries,
			RetryBackoffSeconds: spec.RetryBackoffSeconds,
			WebhookURL:          spec.WebhookURL,
			WebhookSecret:       spec.WebhookSecret,
			AttemptNumber:       1,
		}
		if run.Name == "" {
			run.Name = "ad-hoc"
		}
	}

	run.WorkspaceID = workspaceID
	run.ScheduledAt = input.ScheduledAt

	if input.TaskPrompt != nil && *input.TaskPrompt != "" {
		run.TaskPrompt = *input.TaskPrompt
	}
	if len(input.EnvVars) > 0 {
		merged := make(map[string]string, len(run.EnvVars)+len(input.EnvVars))
		for k, v := range run.EnvVars {
			merged[k] = v
		}
		for k, v := range input.EnvVars {
			merged[k] = v
		}
		run.EnvVars = merged
	}

	created, err := u.runs.Create(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	return created, nil
}

func snapshotRun(job *domain.JobDefinition) *domain.JobRun {
	return &domain.JobRun{
		JobDefinitionID:     &job.ID,
		Status:              domain.RunQueued,
		Name:                job.Name,
		TaskPrompt:          job.TaskPrompt,
		AgentType:           job.AgentType,
		AgentConfig:         job.AgentConfig,
		MCPServers:          job.MCPServers,
		EnvVars:             job.EnvVars,
		CredentialIDs:       job.CredentialIDs,
		RequiredLabels:      job.Labels,
		SkillIDs:            job.SkillIDs,
		TimeoutSeconds:      job.TimeoutSeconds,
		MaxRetries:          job.MaxRetries,
		RetryBackoffSeconds: job.RetryBackoffSeconds,
		WebhookURL:          job.WebhookURL,
		WebhookSecret:       job.WebhookSecret,
		AttemptNumber:       1,
	}
}

func (u *RunUsecase) GetRun(ctx context.Context, id, workspaceID string) (*domain.JobRun, error) {
	run, err := u.runs.GetByID(ctx, id, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (u *RunUsecase) ListRuns(ctx context.Context, input repository.ListRunsInput) ([]*domain.JobRun, error) {
	runs, err := u.runs.List(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (u *RunUsecase) CancelRun(ctx context.Context, id, workspaceID string) (*domain.JobRun, error) {
	return u.lifecycle.Cancel(ctx, id, workspaceID)
}

func (u *RunUsecase) GetLogs(ctx context.Context, runID, workspaceID string, after int) ([]domain.LogLine, error) {
	// Scope check before touching log rows, which carry no workspace column.
	if _, err := u.runs.GetByID(ctx, runID, workspaceID); err != nil {
		return nil, err
	}
	return u.pipeline.GetLogs(ctx, runID, after)
}

// SubscribeLogs attaches a live stream after verifying the run's workspace.
func (u *RunUsecase) SubscribeLogs(ctx context.Context, runID, workspaceID string) (*domain.JobRun, <-chan domain.LogLine, func(), error) {
	run, err := u.runs.GetByID(ctx, runID, workspaceID)
	if err != nil {
		return nil, nil, nil, err
	}
	ch, cancel := u.pipeline.Subscribe(runID)
	return run, ch, cancel, nil
}

func (u *RunUsecase) ListArtifacts(ctx context.Context, runID, workspaceID string) ([]*domain.Artifact, error) {
	if _, err := u.runs.GetByID(ctx, runID, workspaceID); err != nil {
		return nil, err
	}
	return u.artifacts.ListByRun(ctx, runID)
}

// OpenArtifact returns artifact metadata and a reader over its bytes. The
// artifact must belong to the given run and workspace; anything else is a 404
// so cross-workspace probing learns nothing.
func (u *RunUsecase) OpenArtifact(ctx context.Context, runID, artifactID, workspaceID string) (*domain.Artifact, io.ReadCloser, error) {
	artifact, err := u.artifacts.GetByID(ctx, artifactID)
	if err != nil {
		return nil, nil, err
	}
	if artifact.WorkspaceID != workspaceID || artifact.RunID != runID {
		return nil, nil, domain.ErrArtifactNotFound
	}
	rc, err := u.store.Open(ctx, artifact.StoragePath)
	if err != nil {
		return nil, nil, fmt.Errorf("open artifact bytes: %w", err)
	}
	return artifact, rc, nil
}
