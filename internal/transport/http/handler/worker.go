package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
	"github.com/flightcontrol-io/flightcontrol/internal/transport/http/middleware"
	"github.com/flightcontrol-io/flightcontrol/internal/usecase"
	"github.com/gin-gonic/gin"
)

// maxArtifactUploadBytes caps a single artifact upload.
const maxArtifactUploadBytes = 100 << 20

type WorkerHandler struct {
	uc               *usecase.DispatchUsecase
	heartbeatTimeout time.Duration
	logger           *slog.Logger
}

func NewWorkerHandler(uc *usecase.DispatchUsecase, heartbeatTimeout time.Duration, logger *slog.Logger) *WorkerHandler {
	return &WorkerHandler{
		uc:               uc,
		heartbeatTimeout: heartbeatTimeout,
		logger:           logger.With("component", "worker_handler"),
	}
}

type registerWorkerRequest struct {
	// ID lets a restarting worker reclaim its previous identity.
	ID     string            `json:"id"     binding:"omitempty,max=256"`
	Name   string            `json:"name"   binding:"required,max=256"`
	Labels map[string]string `json:"labels"`
}

type workerResponse struct {
	ID            string            `json:"id"`
	WorkspaceID   string            `json:"workspace_id"`
	Name          string            `json:"name"`
	Status        string            `json:"status"`
	Labels        map[string]string `json:"labels"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	CurrentRunID  *string           `json:"current_run_id"`
	CreatedAt     time.Time         `json:"created_at"`
}

func toWorkerResponse(w *domain.Worker) workerResponse {
	labels := w.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	return workerResponse{
		ID:            w.ID,
		WorkspaceID:   w.WorkspaceID,
		Name:          w.Name,
		Status:        string(w.Status),
		Labels:        labels,
		LastHeartbeat: w.LastHeartbeat,
		CurrentRunID:  w.CurrentRunID,
		CreatedAt:     w.CreatedAt,
	}
}

func (h *WorkerHandler) Register(c *gin.Context) {
	var req registerWorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	worker, err := h.uc.RegisterWorker(c.Request.Context(), middleware.AuthFrom(c).WorkspaceID, usecase.RegisterWorkerInput{
		ID:     req.ID,
		Name:   req.Name,
		Labels: req.Labels,
	})
	if err != nil {
		respondError(c, h.logger, "register worker", err)
		return
	}
	c.JSON(http.StatusCreated, toWorkerResponse(worker))
}

type heartbeatRequest struct {
	WorkerID string `json:"worker_id" binding:"required"`
	Status   string `json:"status"    binding:"omitempty,oneof=online busy"`
}

// Heartbeat refreshes the worker's liveness window. The response carries
// cancel_run_id when the worker's current run was cancelled from the API so
// the worker can kill the agent process.
func (h *WorkerHandler) Heartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.uc.Heartbeat(c.Request.Context(), req.WorkerID, middleware.AuthFrom(c).WorkspaceID)
	if err != nil {
		respondError(c, h.logger, "worker heartbeat", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"cancel_run_id": result.CancelRunID,
	})
}

func (h *WorkerHandler) List(c *gin.Context) {
	workers, err := h.uc.ListWorkers(c.Request.Context(), middleware.AuthFrom(c).WorkspaceID, h.heartbeatTimeout)
	if err != nil {
		respondError(c, h.logger, "list workers", err)
		return
	}

	items := make([]workerResponse, len(workers))
	for i, w := range workers {
		items[i] = toWorkerResponse(w)
	}
	c.JSON(http.StatusOK, gin.H{"workers": items})
}

type envelopeResponse struct {
	RunID          string                  `json:"run_id"`
	Name           string                  `json:"name"`
	TaskPrompt     string                  `json:"task_prompt"`
	AgentType      string                  `json:"agent_type"`
	AgentConfig    map[string]any          `json:"agent_config"`
	MCPServers     []map[string]any        `json:"mcp_servers"`
	EnvVars        map[string]string       `json:"env_vars"`
	Credentials    map[string]string       `json:"credentials"`
	Skills         []envelopeSkillResponse `json:"skills"`
	TimeoutSeconds int                     `json:"timeout_seconds"`
}

type envelopeSkillResponse struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Instructions string                 `json:"instructions"`
	AllowedTools *string                `json:"allowed_tools,omitempty"`
	Files        []envelopeFileResponse `json:"files"`
}

type envelopeFileResponse struct {
	FilePath       string `json:"file_path"`
	SizeBytes      int64  `json:"size_bytes"`
	ChecksumSHA256 string `json:"checksum_sha256"`
	ContentType    string `json:"content_type"`
	DownloadURL    string `json:"download_url"`
}

func toEnvelopeResponse(envelope *usecase.DispatchEnvelope) envelopeResponse {
	run := envelope.Run
	resp := envelopeResponse{
		RunID:          run.ID,
		Name:           run.Name,
		TaskPrompt:     run.TaskPrompt,
		AgentType:      run.AgentType,
		AgentConfig:    run.AgentConfig,
		MCPServers:     run.MCPServers,
		EnvVars:        run.EnvVars,
		Credentials:    envelope.Credentials,
		Skills:         []envelopeSkillResponse{},
		TimeoutSeconds: run.TimeoutSeconds,
	}
	if resp.AgentConfig == nil {
		resp.AgentConfig = map[string]any{}
	}
	if resp.MCPServers == nil {
		resp.MCPServers = []map[string]any{}
	}
	if resp.EnvVars == nil {
		resp.EnvVars = map[string]string{}
	}
	if resp.Credentials == nil {
		resp.Credentials = map[string]string{}
	}
	for _, s := range envelope.Skills {
		sr := envelopeSkillResponse{
			ID:           s.ID,
			Name:         s.Name,
			Instructions: s.Instructions,
			AllowedTools: s.AllowedTools,
			Files:        []envelopeFileResponse{},
		}
		for _, f := range s.Files {
			sr.Files = append(sr.Files, envelopeFileResponse(f))
		}
		resp.Skills = append(resp.Skills, sr)
	}
	return resp
}

// Poll claims work for the calling worker. 200 carries a dispatch envelope;
// 204 means nothing eligible right now.
func (h *WorkerHandler) Poll(c *gin.Context) {
	workerID := c.Query("worker_id")
	if workerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "worker_id query parameter is required"})
		return
	}

	envelope, err := h.uc.Poll(c.Request.Context(), workerID, middleware.AuthFrom(c).WorkspaceID)
	if err != nil {
		respondError(c, h.logger, "poll for work", err)
		return
	}
	if envelope == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, toEnvelopeResponse(envelope))
}

type appendLogsRequest struct {
	Lines []logLineRequest `json:"lines" binding:"required,min=1,max=1000"`
}

type logLineRequest struct {
	Sequence int    `json:"sequence" binding:"required,min=1"`
	Stream   string `json:"stream"   binding:"omitempty,oneof=stdout stderr"`
	Line     string `json:"line"`
}

func (h *WorkerHandler) AppendLogs(c *gin.Context) {
	var req appendLogsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lines := make([]domain.LogLine, len(req.Lines))
	for i, l := range req.Lines {
		stream := domain.LogStream(l.Stream)
		if stream == "" {
			stream = domain.StreamStdout
		}
		lines[i] = domain.LogLine{Sequence: l.Sequence, Stream: stream, Line: l.Line}
	}

	err := h.uc.AppendLogs(c.Request.Context(), c.Param("runId"), middleware.AuthFrom(c).WorkspaceID, lines)
	if err != nil {
		respondError(c, h.logger, "append run logs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"appended": len(lines)})
}

func (h *WorkerHandler) UploadArtifact(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxArtifactUploadBytes)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required"})
		return
	}
	defer file.Close()

	artifact, err := h.uc.UploadArtifact(
		c.Request.Context(),
		c.Param("runId"),
		middleware.AuthFrom(c).WorkspaceID,
		header.Filename,
		header.Header.Get("Content-Type"),
		file,
	)
	if err != nil {
		respondError(c, h.logger, "upload artifact", err)
		return
	}
	c.JSON(http.StatusCreated, toArtifactResponse(artifact))
}

type completeRunRequest struct {
	Status   string  `json:"status" binding:"required,oneof=completed failed"`
	Result   *string `json:"result"`
	ExitCode *int    `json:"exit_code"`
}

func (h *WorkerHandler) Complete(c *gin.Context) {
	var req completeRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	run, err := h.uc.CompleteRun(
		c.Request.Context(),
		c.Query("worker_id"),
		c.Param("runId"),
		middleware.AuthFrom(c).WorkspaceID,
		req.Status,
		req.Result,
		req.ExitCode,
	)
	if err != nil {
		respondError(c, h.logger, "complete run", err)
		return
	}
	c.JSON(http.StatusOK, toRunResponse(run))
}
