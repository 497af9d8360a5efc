package logstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
	"github.com/flightcontrol-io/flightcontrol/internal/repository"
	"github.com/flightcontrol-io/flightcontrol/internal/storage"
)

// runTransitioner is the one run mutation the pipeline performs.
type runTransitioner interface {
	MarkRunning(ctx context.Context, id string) error
}

// artifactFinder locates the fallback log artifact for a run.
type artifactFinder interface {
	GetByRunAndName(ctx context.Context, runID, filename string) (*domain.Artifact, error)
}

// Pipeline is the ingestion and replay path for run output. Workers batch
// lines in; readers get durable rows with a fallback to the run-output.log
// artifact for runs whose rows were never shipped (or were pruned).
type Pipeline struct {
	logs      repository.LogRepository
	runs      runTransitioner
	artifacts artifactFinder
	store     storage.Store
	hub       *Hub
	logger    *slog.Logger
}

func NewPipeline(
	logs repository.LogRepository,
	runs runTransitioner,
	artifacts artifactFinder,
	store storage.Store,
	hub *Hub,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		logs:      logs,
		runs:      runs,
		artifacts: artifacts,
		store:     store,
		hub:       hub,
		logger:    logger.With("component", "logstream"),
	}
}

// Append persists a batch and fans it out to live subscribers. The first
// accepted batch for an assigned run is the signal that the agent process is
// actually producing output, so it flips the run to running.
func (p *Pipeline) Append(ctx context.Context, run *domain.JobRun, lines []domain.LogLine) error {
	if len(lines) == 0 {
		return nil
	}
	if err := p.logs.Append(ctx, run.ID, lines); err != nil {
		return fmt.Errorf("persist log batch: %w", err)
	}

	if run.Status == domain.RunAssigned {
		if err := p.runs.MarkRunning(ctx, run.ID); err != nil {
			// The batch is durable; losing the transition only delays the
			// status until the next batch.
			p.logger.Warn("mark run running", "run_id", run.ID, "error", err)
		}
	}

	p.hub.Publish(run.ID, lines)
	return nil
}

// GetLogs returns lines with sequence > after. When no durable rows exist the
// run-output.log artifact is parsed instead, so logs survive row retention.
func (p *Pipeline) GetLogs(ctx context.Context, runID string, after int) ([]domain.LogLine, error) {
	lines, err := p.logs.ListAfter(ctx, runID, after)
	if err != nil {
		return nil, err
	}
	if len(lines) > 0 {
		return lines, nil
	}

	artifact, err := p.artifacts.GetByRunAndName(ctx, runID, domain.RunLogArtifactName)
	if errors.Is(err, domain.ErrArtifactNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rc, err := p.store.Open(ctx, artifact.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open log artifact: %w", err)
	}
	defer func() { _ = rc.Close() }()

	parsed, err := ParseRunLog(runID, rc)
	if err != nil {
		return nil, fmt.Errorf("parse log artifact: %w", err)
	}
	if after <= 0 {
		return parsed, nil
	}
	var out []domain.LogLine
	for _, l := range parsed {
		if l.Sequence > after {
			out = append(out, l)
		}
	}
	return out, nil
}

// Subscribe attaches a live reader to the run's stream.
func (p *Pipeline) Subscribe(runID string) (<-chan domain.LogLine, func()) {
	return p.hub.Subscribe(runID)
}
