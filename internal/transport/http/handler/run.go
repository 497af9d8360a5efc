package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
	"github.com/flightcontrol-io/flightcontrol/internal/repository"
	"github.com/flightcontrol-io/flightcontrol/internal/transport/http/middleware"
	"github.com/flightcontrol-io/flightcontrol/internal/usecase"
	"github.com/gin-gonic/gin"
)

// ssePingInterval keeps idle streaming connections alive through proxies.
const ssePingInterval = 30 * time.Second

type RunHandler struct {
	uc     *usecase.RunUsecase
	logger *slog.Logger
}

func NewRunHandler(uc *usecase.RunUsecase, logger *slog.Logger) *RunHandler {
	return &RunHandler{uc: uc, logger: logger.With("component", "run_handler")}
}

type triggerRunRequest struct {
	JobDefinitionID string            `json:"job_definition_id"`
	TaskPrompt      *string           `json:"task_prompt"`
	EnvVars         map[string]string `json:"env_vars"`
	ScheduledAt     *time.Time        `json:"scheduled_at"`
	Spec            *jobSpecRequest   `json:"spec"`
}

type runResponse struct {
	ID              string     `json:"id"`
	WorkspaceID     string     `json:"workspace_id"`
	JobDefinitionID *string    `json:"job_definition_id,omitempty"`
	Status          string     `json:"status"`
	WorkerID        *string    `json:"worker_id,omitempty"`
	Name            string     `json:"name"`
	TaskPrompt      string     `json:"task_prompt"`
	AgentType       string     `json:"agent_type"`
	TimeoutSeconds  int        `json:"timeout_seconds"`
	MaxRetries      int        `json:"max_retries"`
	AttemptNumber   int        `json:"attempt_number"`
	ParentRunID     *string    `json:"parent_run_id,omitempty"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Result          *string    `json:"result,omitempty"`
	ExitCode        *int       `json:"exit_code,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toRunResponse(r *domain.JobRun) runResponse {
	return runResponse{
		ID:              r.ID,
		WorkspaceID:     r.WorkspaceID,
		JobDefinitionID: r.JobDefinitionID,
		Status:          string(r.Status),
		WorkerID:        r.WorkerID,
		Name:            r.Name,
		TaskPrompt:      r.TaskPrompt,
		AgentType:       r.AgentType,
		TimeoutSeconds:  r.TimeoutSeconds,
		MaxRetries:      r.MaxRetries,
		AttemptNumber:   r.AttemptNumber,
		ParentRunID:     r.ParentRunID,
		ScheduledAt:     r.ScheduledAt,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
		Result:          r.Result,
		ExitCode:        r.ExitCode,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

type logLineResponse struct {
	Sequence int    `json:"sequence"`
	Stream   string `json:"stream"`
	Line     string `json:"line"`
}

func (h *RunHandler) Trigger(c *gin.Context) {
	var req triggerRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.JobDefinitionID == "" && req.Spec == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "either job_definition_id or spec is required"})
		return
	}

	input := usecase.TriggerRunInput{
		JobDefinitionID: req.JobDefinitionID,
		TaskPrompt:      req.TaskPrompt,
		EnvVars:         req.EnvVars,
		ScheduledAt:     req.ScheduledAt,
	}
	if req.Spec != nil {
		spec := req.Spec.toInput()
		input.Spec = &spec
	}

	run, err := h.uc.TriggerRun(c.Request.Context(), middleware.AuthFrom(c).WorkspaceID, input)
	if err != nil {
		respondError(c, h.logger, "trigger run", err)
		return
	}
	c.JSON(http.StatusCreated, toRunResponse(run))
}

func (h *RunHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))

	runs, err := h.uc.ListRuns(c.Request.Context(), repository.ListRunsInput{
		WorkspaceID:     middleware.AuthFrom(c).WorkspaceID,
		JobDefinitionID: c.Query("job_definition_id"),
		Status:          domain.RunStatus(c.Query("status")),
		Limit:           limit,
	})
	if err != nil {
		respondError(c, h.logger, "list runs", err)
		return
	}

	items := make([]runResponse, len(runs))
	for i, r := range runs {
		items[i] = toRunResponse(r)
	}
	c.JSON(http.StatusOK, gin.H{"runs": items})
}

func (h *RunHandler) GetByID(c *gin.Context) {
	run, err := h.uc.GetRun(c.Request.Context(), c.Param("id"), middleware.AuthFrom(c).WorkspaceID)
	if err != nil {
		respondError(c, h.logger, "get run", err)
		return
	}
	c.JSON(http.StatusOK, toRunResponse(run))
}

func (h *RunHandler) Cancel(c *gin.Context) {
	run, err := h.uc.CancelRun(c.Request.Context(), c.Param("id"), middleware.AuthFrom(c).WorkspaceID)
	if err != nil {
		respondError(c, h.logger, "cancel run", err)
		return
	}
	c.JSON(http.StatusOK, toRunResponse(run))
}

// GetLogs returns persisted log lines, falling back to the run-output.log
// artifact when the database rows have been pruned.
func (h *RunHandler) GetLogs(c *gin.Context) {
	after, _ := strconv.Atoi(c.Query("after"))

	lines, err := h.uc.GetLogs(c.Request.Context(), c.Param("id"), middleware.AuthFrom(c).WorkspaceID, after)
	if err != nil {
		respondError(c, h.logger, "get run logs", err)
		return
	}

	items := make([]logLineResponse, len(lines))
	for i, l := range lines {
		items[i] = logLineResponse{Sequence: l.Sequence, Stream: string(l.Stream), Line: l.Line}
	}
	c.JSON(http.StatusOK, items)
}

// StreamLogs serves the run's output as server-sent events: a replay of
// persisted lines, then live lines as workers push them. A ping event goes
// out every 30s so idle connections survive proxies. The stream ends when the
// client disconnects or the run reaches a terminal status.
func (h *RunHandler) StreamLogs(c *gin.Context) {
	after, _ := strconv.Atoi(c.Query("after"))
	workspaceID := middleware.AuthFrom(c).WorkspaceID

	run, ch, cancel, err := h.uc.SubscribeLogs(c.Request.Context(), c.Param("id"), workspaceID)
	if err != nil {
		respondError(c, h.logger, "stream run logs", err)
		return
	}
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	// Replay before going live. The subscription is already attached, so a
	// line arriving during replay is not lost; the client may see it twice and
	// dedupes on sequence.
	lastSeq := after
	replay, err := h.uc.GetLogs(c.Request.Context(), run.ID, workspaceID, after)
	if err != nil {
		h.logger.Error("replay run logs", "run_id", run.ID, "error", err)
		return
	}
	for _, l := range replay {
		writeSSELog(c.Writer, l)
		if l.Sequence > lastSeq {
			lastSeq = l.Sequence
		}
	}
	if run.Status.Terminal() {
		writeSSEEvent(c.Writer, "end", gin.H{"status": string(run.Status)})
		c.Writer.Flush()
		return
	}
	c.Writer.Flush()

	ping := time.NewTicker(ssePingInterval)
	defer ping.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ping.C:
			fmt.Fprint(c.Writer, "event: ping\ndata: \n\n")
			c.Writer.Flush()
		case line, ok := <-ch:
			if !ok {
				return
			}
			if line.Sequence <= lastSeq {
				continue
			}
			lastSeq = line.Sequence
			writeSSELog(c.Writer, line)
			c.Writer.Flush()
		}
	}
}

func writeSSELog(w io.Writer, l domain.LogLine) {
	writeSSEEvent(w, "log", logLineResponse{Sequence: l.Sequence, Stream: string(l.Stream), Line: l.Line})
}

func writeSSEEvent(w io.Writer, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

type artifactResponse struct {
	ID             string    `json:"id"`
	RunID          string    `json:"run_id"`
	Filename       string    `json:"filename"`
	ContentType    string    `json:"content_type"`
	SizeBytes      int64     `json:"size_bytes"`
	ChecksumSHA256 string    `json:"checksum_sha256"`
	CreatedAt      time.Time `json:"created_at"`
}

func toArtifactResponse(a *domain.Artifact) artifactResponse {
	return artifactResponse{
		ID:             a.ID,
		RunID:          a.RunID,
		Filename:       a.Filename,
		ContentType:    a.ContentType,
		SizeBytes:      a.SizeBytes,
		ChecksumSHA256: a.ChecksumSHA256,
		CreatedAt:      a.CreatedAt,
	}
}

func (h *RunHandler) ListArtifacts(c *gin.Context) {
	artifacts, err := h.uc.ListArtifacts(c.Request.Context(), c.Param("id"), middleware.AuthFrom(c).WorkspaceID)
	if err != nil {
		respondError(c, h.logger, "list artifacts", err)
		return
	}

	items := make([]artifactResponse, len(artifacts))
	for i, a := range artifacts {
		items[i] = toArtifactResponse(a)
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": items})
}

func (h *RunHandler) DownloadArtifact(c *gin.Context) {
	artifact, rc, err := h.uc.OpenArtifact(c.Request.Context(), c.Param("id"), c.Param("aid"), middleware.AuthFrom(c).WorkspaceID)
	if err != nil {
		respondError(c, h.logger, "download artifact", err)
		return
	}
	defer rc.Close()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Filename))
	c.DataFromReader(http.StatusOK, artifact.SizeBytes, artifact.ContentType, rc, nil)
}
