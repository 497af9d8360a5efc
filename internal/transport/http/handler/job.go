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

type JobHandler struct {
	uc     *usecase.JobUsecase
	runs   *usecase.RunUsecase
	logger *slog.Logger
}

func NewJobHandler(uc *usecase.JobUsecase, runs *usecase.RunUsecase, logger *slog.Logger) *JobHandler {
	return &JobHandler{uc: uc, runs: runs, logger: logger.With("component", "job_handler")}
}

type jobSpecRequest struct {
	Name                string            `json:"name"                  binding:"required,max=256"`
	Description         *string           `json:"description"`
	TaskPrompt          string            `json:"task_prompt"           binding:"required"`
	AgentType           string            `json:"agent_type"`
	AgentConfig         map[string]any    `json:"agent_config"`
	MCPServers          []map[string]any  `json:"mcp_servers"`
	EnvVars             map[string]string `json:"env_vars"`
	CredentialIDs       []string          `json:"credential_ids"`
	Labels              map[string]string `json:"labels"`
	SkillIDs            *[]string         `json:"skill_ids"`
	TimeoutSeconds      int               `json:"timeout_seconds"       binding:"omitempty,min=1,max=86400"`
	MaxRetries          int               `json:"max_retries"           binding:"omitempty,min=0,max=20"`
	RetryBackoffSeconds int               `json:"retry_backoff_seconds" binding:"omitempty,min=1,max=86400"`
	WebhookURL          *string           `json:"webhook_url"           binding:"omitempty,url"`
	WebhookSecret       *string           `json:"webhook_secret"`
}

func (r *jobSpecRequest) toInput() usecase.JobSpecInput {
	return usecase.JobSpecInput{
		Name:                r.Name,
		Description:         r.Description,
		TaskPrompt:          r.TaskPrompt,
		AgentType:           r.AgentType,
		AgentConfig:         r.AgentConfig,
		MCPServers:          r.MCPServers,
		EnvVars:             r.EnvVars,
		CredentialIDs:       r.CredentialIDs,
		Labels:              r.Labels,
		SkillIDs:            r.SkillIDs,
		TimeoutSeconds:      r.TimeoutSeconds,
		MaxRetries:          r.MaxRetries,
		RetryBackoffSeconds: r.RetryBackoffSeconds,
		WebhookURL:          r.WebhookURL,
		WebhookSecret:       r.WebhookSecret,
	}
}

type jobResponse struct {
	ID                  string            `json:"id"`
	WorkspaceID         string            `json:"workspace_id"`
	Name                string            `json:"name"`
	Description         *string           `json:"description,omitempty"`
	TaskPrompt          string            `json:"task_prompt"`
	AgentType           string            `json:"agent_type"`
	AgentConfig         map[string]any    `json:"agent_config,omitempty"`
	MCPServers          []map[string]any  `json:"mcp_servers,omitempty"`
	EnvVars             map[string]string `json:"env_vars,omitempty"`
	CredentialIDs       []string          `json:"credential_ids,omitempty"`
	Labels              map[string]string `json:"labels,omitempty"`
	SkillIDs            *[]string         `json:"skill_ids,omitempty"`
	TimeoutSeconds      int               `json:"timeout_seconds"`
	MaxRetries          int               `json:"max_retries"`
	RetryBackoffSeconds int               `json:"retry_backoff_seconds"`
	WebhookURL          *string           `json:"webhook_url,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// The webhook secret is write-only; responses never echo it.
func toJobResponse(j *domain.JobDefinition) jobResponse {
	return jobResponse{
		ID:                  j.ID,
		WorkspaceID:         j.WorkspaceID,
		Name:                j.Name,
		Description:         j.Description,
		TaskPrompt:          j.TaskPrompt,
		AgentType:           j.AgentType,
		AgentConfig:         j.AgentConfig,
		MCPServers:          j.MCPServers,
		EnvVars:             j.EnvVars,
		CredentialIDs:       j.CredentialIDs,
		Labels:              j.Labels,
		SkillIDs:            j.SkillIDs,
		TimeoutSeconds:      j.TimeoutSeconds,
		MaxRetries:          j.MaxRetries,
		RetryBackoffSeconds: j.RetryBackoffSeconds,
		WebhookURL:          j.WebhookURL,
		CreatedAt:           j.CreatedAt,
		UpdatedAt:           j.UpdatedAt,
	}
}

func (h *JobHandler) Create(c *gin.Context) {
	var req jobSpecRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.uc.CreateJob(c.Request.Context(), middleware.AuthFrom(c).WorkspaceID, req.toInput())
	if err != nil {
		respondError(c, h.logger, "create job", err)
		return
	}
	c.JSON(http.StatusCreated, toJobResponse(job))
}

func (h *JobHandler) List(c *gin.Context) {
	jobs, err := h.uc.ListJobs(c.Request.Context(), middleware.AuthFrom(c).WorkspaceID)
	if err != nil {
		respondError(c, h.logger, "list jobs", err)
		return
	}

	items := make([]jobResponse, len(jobs))
	for i, j := range jobs {
		items[i] = toJobResponse(j)
	}
	c.JSON(http.StatusOK, gin.H{"jobs": items})
}

func (h *JobHandler) GetByID(c *gin.Context) {
	job, err := h.uc.GetJob(c.Request.Context(), c.Param("id"), middleware.AuthFrom(c).WorkspaceID)
	if err != nil {
		respondError(c, h.logger, "get job", err)
		return
	}
	c.JSON(http.StatusOK, toJobResponse(job))
}

func (h *JobHandler) Update(c *gin.Context) {
	var req jobSpecRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.uc.UpdateJob(c.Request.Context(), c.Param("id"), middleware.AuthFrom(c).WorkspaceID, req.toInput())
	if err != nil {
		respondError(c, h.logger, "update job", err)
		return
	}
	c.JSON(http.StatusOK, toJobResponse(job))
}

func (h *JobHandler) Delete(c *gin.Context) {
	if err := h.uc.DeleteJob(c.Request.Context(), c.Param("id"), middleware.AuthFrom(c).WorkspaceID); err != nil {
		respondError(c, h.logger, "delete job", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// TriggerRun queues a run snapshotted from the job definition as it exists
// right now.
func (h *JobHandler) TriggerRun(c *gin.Context) {
	run, err := h.runs.TriggerRun(c.Request.Context(), middleware.AuthFrom(c).WorkspaceID, usecase.TriggerRunInput{
		JobDefinitionID: c.Param("id"),
	})
	if err != nil {
		respondError(c, h.logger, "trigger run from job", err)
		return
	}
	c.JSON(http.StatusCreated, toRunResponse(run))
}
