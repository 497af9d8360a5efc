package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
	"github.com/flightcontrol-io/flightcontrol/internal/logstream"
	"github.com/flightcontrol-io/flightcontrol/internal/metrics"
	"github.com/flightcontrol-io/flightcontrol/internal/repository"
	"github.com/flightcontrol-io/flightcontrol/internal/secrets"
	"github.com/flightcontrol-io/flightcontrol/internal/signing"
	"github.com/flightcontrol-io/flightcontrol/internal/storage"
)

// ErrInvalidRunStatus is returned for completion reports with an
// unrecognized status.
var ErrInvalidRunStatus = errors.New("invalid run completion status")

// DispatchEnvelope is everything a worker needs to execute a claimed run:
// the snapshot itself, decrypted credentials keyed by env var, and skill
// bundles with signed file download URLs. File bytes are never embedded.
type DispatchEnvelope struct {
	Run         *domain.JobRun
	Credentials map[string]string
	Skills      []EnvelopeSkill
}

type EnvelopeSkill struct {
	ID           string
	Name         string
	Instructions string
	AllowedTools *string
	Files        []EnvelopeFile
}

type EnvelopeFile struct {
	FilePath       string
	SizeBytes      int64
	ChecksumSHA256 string
	ContentType    string
	DownloadURL    string
}

// DispatchUsecase is the worker-facing half of the control plane: register,
// heartbeat, poll for work, stream logs, upload artifacts, report completion.
type DispatchUsecase struct {
	workers     repository.WorkerRepository
	runs        repository.RunRepository
	credentials repository.CredentialRepository
	skills      repository.SkillRepository
	artifacts   repository.ArtifactRepository
	store       storage.Store
	box         *secrets.Box
	signer      *signing.Signer
	pipeline    *logstream.Pipeline
	lifecycle   *Lifecycle
	baseURL     string
	logger      *slog.Logger
}

func NewDispatchUsecase(
	workers repository.WorkerRepository,
	runs repository.RunRepository,
	credentials repository.CredentialRepository,
	skills repository.SkillRepository,
	artifacts repository.ArtifactRepository,
	store storage.Store,
	box *secrets.Box,
	signer *signing.Signer,
	pipeline *logstream.Pipeline,
	lifecycle *Lifecycle,
	baseURL string,
	logger *slog.Logger,
) *DispatchUsecase {
	return &DispatchUsecase{
		workers:     workers,
		runs:        runs,
		credentials: credentials,
		skills:      skills,
		artifacts:   artifacts,
		store:       store,
		box:         box,
		signer:      signer,
		pipeline:    pipeline,
		lifecycle:   lifecycle,
		baseURL:     baseURL,
		logger:      logger.With("component", "dispatch"),
	}
}

type RegisterWorkerInput struct {
	ID     string
	Name   string
	Labels map[string]string
}

func (u *DispatchUsecase) RegisterWorker(ctx context.Context, workspaceID string, input RegisterWorkerInput) (*domain.Worker, error) {
	worker, err := u.workers.Register(ctx, &domain.Worker{
		ID:          input.ID,
		WorkspaceID: workspaceID,
		Name:        input.Name,
		Labels:      input.Labels,
	})
	if err != nil {
		return nil, fmt.Errorf("register worker: %w", err)
	}
	u.logger.Info("worker registered", "worker_id", worker.ID, "name", worker.Name, "labels", worker.Labels)
	return worker, nil
}

// HeartbeatResult tells the worker whether its current run was cancelled out
// from under it.
type HeartbeatResult struct {
	Worker      *domain.Worker
	CancelRunID *string
}

func (u *DispatchUsecase) Heartbeat(ctx context.Context, workerID, workspaceID string) (*HeartbeatResult, error) {
	stored, err := u.workers.GetByID(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if stored.WorkspaceID != workspaceID {
		return nil, domain.ErrWorkerNotFound
	}

	status := domain.WorkerOnline
	if stored.CurrentRunID != nil {
		status = domain.WorkerBusy
	}
	worker, err := u.workers.Heartbeat(ctx, workerID, status)
	if err != nil {
		return nil, fmt.Errorf("heartbeat: %w", err)
	}

	result := &HeartbeatResult{Worker: worker}
	if worker.CurrentRunID != nil {
		run, err := u.runs.GetByID(ctx, *worker.CurrentRunID, workspaceID)
		if err == nil && run.Status == domain.RunCancelled {
			result.CancelRunID = worker.CurrentRunID
		}
	}
	return result, nil
}

// ListWorkers sweeps stale workers offline before listing, so reads never show
// a long-dead worker as online.
func (u *DispatchUsecase) ListWorkers(ctx context.Context, workspaceID string, heartbeatTimeout time.Duration) ([]*domain.Worker, error) {
	if _, err := u.workers.MarkStale(ctx, time.Now().Add(-heartbeatTimeout), 100); err != nil {
		u.logger.Warn("lazy stale sweep", "error", err)
	}
	return u.workers.List(ctx, workspaceID)
}

// Poll claims the oldest eligible queued run for the worker and builds its
// dispatch envelope. A nil envelope means nothing is eligible.
func (u *DispatchUsecase) Poll(ctx context.Context, workerID, workspaceID string) (*DispatchEnvelope, error) {
	worker, err := u.workers.GetByID(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if worker.WorkspaceID != workspaceID {
		return nil, domain.ErrWorkerNotFound
	}
	if worker.CurrentRunID != nil {
		// One run per worker; polling while busy yields nothing.
		metrics.DispatchPollsTotal.WithLabelValues("busy").Inc()
		return nil, nil
	}

	run, err := u.runs.Claim(ctx, worker)
	if err != nil {
		return nil, fmt.Errorf("claim run: %w", err)
	}
	if run == nil {
		metrics.DispatchPollsTotal.WithLabelValues("empty").Inc()
		return nil, nil
	}

	metrics.DispatchPollsTotal.WithLabelValues("claimed").Inc()
	metrics.RunPickupLatency.Observe(time.Since(run.CreatedAt).Seconds())
	u.logger.Info("run claimed", "run_id", run.ID, "worker_id", worker.ID, "attempt", run.AttemptNumber)

	envelope := &DispatchEnvelope{Run: run}
	envelope.Credentials = u.resolveCredentials(ctx, run)
	envelope.Skills, err = u.resolveSkills(ctx, run)
	if err != nil {
		// The claim already committed; ship the run without skills rather
		// than stranding it assigned.
		u.logger.Error("resolve skills for envelope", "run_id", run.ID, "error", err)
	}
	return envelope, nil
}

// resolveCredentials decrypts the run's referenced credentials into an
// env_var to plaintext map. Names that no longer exist are silently absent;
// values that fail to decrypt are skipped so one rotated key never blocks the
// whole run.
func (u *DispatchUsecase) resolveCredentials(ctx context.Context, run *domain.JobRun) map[string]string {
	out := map[string]string{}
	if len(run.CredentialIDs) == 0 {
		return out
	}
	creds, err := u.credentials.GetByNames(ctx, run.WorkspaceID, run.CredentialIDs)
	if err != nil {
		u.logger.Error("resolve credentials for envelope", "run_id", run.ID, "error", err)
		return out
	}

	for _, c := range creds {
		value, err := u.box.Decrypt(c.EncryptedValue)
		if err != nil {
			u.logger.Warn("skip undecryptable credential", "run_id", run.ID, "credential", c.Name, "error", err)
			continue
		}
		out[c.EnvVar] = value
	}
	return out
}

func (u *DispatchUsecase) resolveSkills(ctx context.Context, run *domain.JobRun) ([]EnvelopeSkill, error) {
	skills, err := u.skills.ListByNames(ctx, run.WorkspaceID, run.SkillIDs)
	if err != nil {
		return nil, err
	}

	out := make([]EnvelopeSkill, 0, len(skills))
	for _, s := range skills {
		es := EnvelopeSkill{
			ID:           s.ID,
			Name:         s.Name,
			Instructions: s.Instructions,
			AllowedTools: s.AllowedTools,
		}
		files, err := u.skills.ListFiles(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			token, err := u.signer.SignFileToken(s.ID, f.FilePath)
			if err != nil {
				return nil, err
			}
			es.Files = append(es.Files, EnvelopeFile{
				FilePath:       f.FilePath,
				SizeBytes:      f.SizeBytes,
				ChecksumSHA256: f.ChecksumSHA256,
				ContentType:    f.ContentType,
				DownloadURL: fmt.Sprintf("%s/api/v1/skills/%s/files/%s?token=%s",
					u.baseURL, s.ID, f.FilePath, url.QueryEscape(token)),
			})
		}
		out = append(out, es)
	}
	return out, nil
}

// AppendLogs ingests a batch of output lines for a run. The caller is trusted
// at the API-key level; the agent process itself posts here, so no worker
// identity accompanies the batch.
func (u *DispatchUsecase) AppendLogs(ctx context.Context, runID, workspaceID string, lines []domain.LogLine) error {
	run, err := u.runs.GetByID(ctx, runID, workspaceID)
	if err != nil {
		return err
	}
	for i := range lines {
		lines[i].RunID = runID
	}
	if err := u.pipeline.Append(ctx, run, lines); err != nil {
		return err
	}
	metrics.LogLinesIngestedTotal.Add(float64(len(lines)))
	return nil
}

// UploadArtifact stores a file produced by the run and records its metadata.
func (u *DispatchUsecase) UploadArtifact(ctx context.Context, runID, workspaceID, filename, contentType string, r io.Reader) (*domain.Artifact, error) {
	if _, err := u.runs.GetByID(ctx, runID, workspaceID); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s/%s", runID, filename)
	size, checksum, err := u.store.Save(ctx, key, r)
	if err != nil {
		return nil, fmt.Errorf("store artifact: %w", err)
	}

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	artifact, err := u.artifacts.Create(ctx, &domain.Artifact{
		WorkspaceID:    workspaceID,
		RunID:          runID,
		Filename:       filename,
		ContentType:    contentType,
		SizeBytes:      size,
		ChecksumSHA256: checksum,
		StoragePath:    key,
	})
	if err != nil {
		return nil, fmt.Errorf("record artifact: %w", err)
	}
	return artifact, nil
}

// CompleteRun processes a worker's completion report. The worker may only
// report completed or failed; timeout and cancelled are server-side statuses.
// workerID frees that worker in the same transaction and may be empty.
func (u *DispatchUsecase) CompleteRun(ctx context.Context, workerID, runID, workspaceID string, status string, result *string, exitCode *int) (*domain.JobRun, error) {
	if _, err := u.runs.GetByID(ctx, runID, workspaceID); err != nil {
		return nil, err
	}

	var terminal domain.RunStatus
	switch status {
	case string(domain.RunCompleted):
		terminal = domain.RunCompleted
	case string(domain.RunFailed):
		terminal = domain.RunFailed
	default:
		return nil, ErrInvalidRunStatus
	}

	return u.lifecycle.Finalize(ctx, runID, workerID, terminal, result, exitCode)
}
