package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
	"github.com/flightcontrol-io/flightcontrol/internal/metrics"
)

// Options configures the worker loop.
type Options struct {
	Name              string
	Labels            map[string]string
	WorkDir           string
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	LogBatchInterval  time.Duration
}

// Worker registers with the control plane, polls for runs, and executes them
// one at a time through the agent registry. Heartbeats continue on their own
// ticker while a run executes so the server can propagate cancellation.
type Worker struct {
	client *Client
	opts   Options
	logger *slog.Logger

	id string

	mu            sync.Mutex
	currentRunID  string
	cancelCurrent context.CancelFunc
}

func New(client *Client, opts Options, logger *slog.Logger) *Worker {
	return &Worker{client: client, opts: opts, logger: logger}
}

// Run registers the worker and polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	metrics.WorkerStartTime.SetToCurrentTime()

	id, err := w.client.Register(ctx, w.opts.Name, w.opts.Labels)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	w.id = id
	w.logger = w.logger.With("worker_id", id)
	w.logger.Info("worker registered", "name", w.opts.Name, "labels", w.opts.Labels)

	go w.heartbeatLoop(ctx)

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			metrics.WorkerShutdownsTotal.Inc()
			w.logger.Info("worker shut down")
			return nil
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context) {
	envelope, err := w.client.Poll(ctx, w.id)
	if err != nil {
		w.logger.Error("poll", "error", err)
		return
	}
	if envelope == nil {
		return
	}

	w.executeRun(ctx, envelope)

	// Report liveness right away so the server sees the freed slot.
	if _, err := w.client.Heartbeat(ctx, w.id); err != nil {
		w.logger.Warn("heartbeat after run", "error", err)
	}
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cancelRunID, err := w.client.Heartbeat(ctx, w.id)
			if err != nil {
				w.logger.Warn("heartbeat failed", "error", err)
				continue
			}
			if cancelRunID != "" {
				w.abortRun(cancelRunID)
			}
		}
	}
}

// abortRun kills the agent process when the server cancelled the run this
// worker is currently executing.
func (w *Worker) abortRun(runID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.currentRunID == runID && w.cancelCurrent != nil {
		w.logger.Info("cancelling current run", "run_id", runID)
		w.cancelCurrent()
	}
}

func (w *Worker) setCurrent(runID string, cancel context.CancelFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.currentRunID = runID
	w.cancelCurrent = cancel
}

func (w *Worker) executeRun(ctx context.Context, envelope *Envelope) {
	runID := envelope.RunID
	logger := w.logger.With("run_id", runID)
	logger.Info("starting run", "name", envelope.Name, "agent_type", envelope.AgentType)

	runCtx, cancel := context.WithCancel(ctx)
	w.setCurrent(runID, cancel)
	defer func() {
		w.setCurrent("", nil)
		cancel()
	}()

	// Completion must be reported even when the worker itself is shutting
	// down; the client's request timeout bounds how long that can take.
	reportCtx := context.WithoutCancel(ctx)

	streamer := NewLogStreamer(w.client, runID, logger)
	flushCtx, stopFlush := context.WithCancel(reportCtx)
	defer stopFlush()
	go streamer.Start(flushCtx, w.opts.LogBatchInterval)

	var captured []LogLine
	emit := func(stream, line string) {
		streamer.Add(stream, line)
		captured = append(captured, LogLine{Stream: stream, Line: line})
	}

	exitCode, err := w.runAgent(runCtx, envelope, emit)
	if err != nil {
		logger.Error("run failed", "error", err)
		emit("stderr", "Worker error: "+err.Error())
		streamer.Flush(reportCtx)
		w.uploadRunLog(reportCtx, runID, captured, logger)

		msg := err.Error()
		exit := -1
		if cerr := w.client.CompleteRun(reportCtx, runID, w.id, "failed", &msg, &exit); cerr != nil {
			logger.Error("report run failure", "error", cerr)
		}
		return
	}

	streamer.Flush(reportCtx)
	w.uploadRunLog(reportCtx, runID, captured, logger)

	status := "completed"
	if exitCode != 0 {
		status = "failed"
	}
	if err := w.client.CompleteRun(reportCtx, runID, w.id, status, nil, &exitCode); err != nil {
		logger.Error("complete run", "error", err)
		return
	}
	logger.Info("run finished", "status", status, "exit_code", exitCode)
}

// runAgent prepares an isolated working directory, materializes skills, and
// hands the run to the agent runner.
func (w *Worker) runAgent(ctx context.Context, envelope *Envelope, emit func(stream, line string)) (int, error) {
	if err := os.MkdirAll(w.opts.WorkDir, 0o755); err != nil {
		return 0, fmt.Errorf("create work dir: %w", err)
	}
	workDir, err := os.MkdirTemp(w.opts.WorkDir, "orch-"+envelope.RunID+"-")
	if err != nil {
		return 0, fmt.Errorf("create run dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	if err := WriteSkills(ctx, w.client, envelope.Skills, workDir, w.logger); err != nil {
		return 0, fmt.Errorf("write skills: %w", err)
	}

	runner, err := RunnerFor(envelope.AgentType, w.client.serverURL, w.client.apiKey)
	if err != nil {
		return 0, err
	}

	return runner.Run(ctx, RunSpec{
		RunID:          envelope.RunID,
		TaskPrompt:     envelope.TaskPrompt,
		AgentConfig:    envelope.AgentConfig,
		MCPServers:     envelope.MCPServers,
		EnvVars:        envelope.EnvVars,
		Credentials:    envelope.Credentials,
		WorkDir:        workDir,
		TimeoutSeconds: envelope.TimeoutSeconds,
	}, emit)
}

// uploadRunLog preserves the run's full console output as an artifact.
func (w *Worker) uploadRunLog(ctx context.Context, runID string, lines []LogLine, logger *slog.Logger) {
	if len(lines) == 0 {
		return
	}
	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "[%s] %s\n", l.Stream, l.Line)
	}
	if err := w.client.UploadArtifact(ctx, runID, domain.RunLogArtifactName, "text/plain", []byte(b.String())); err != nil {
		logger.Error("upload run log artifact", "error", err)
	}
}
