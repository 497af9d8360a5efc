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

type ScheduleHandler struct {
	uc     *usecase.ScheduleUsecase
	logger *slog.Logger
}

func NewScheduleHandler(uc *usecase.ScheduleUsecase, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{uc: uc, logger: logger.With("component", "schedule_handler")}
}

type createScheduleRequest struct {
	JobDefinitionID string  `json:"job_definition_id" binding:"required"`
	CronExpression  string  `json:"cron_expression"   binding:"required"`
	Name            *string `json:"name"              binding:"omitempty,max=256"`
	Enabled         *bool   `json:"enabled"`
}

type updateScheduleRequest struct {
	CronExpression *string `json:"cron_expression"`
	Name           *string `json:"name" binding:"omitempty,max=256"`
	Enabled        *bool   `json:"enabled"`
}

type scheduleResponse struct {
	ID              string     `json:"id"`
	WorkspaceID     string     `json:"workspace_id"`
	JobDefinitionID string     `json:"job_definition_id"`
	CronExpression  string     `json:"cron_expression"`
	Enabled         bool       `json:"enabled"`
	Name            *string    `json:"name,omitempty"`
	NextRunAt       *time.Time `json:"next_run_at,omitempty"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	LastRunID       *string    `json:"last_run_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toScheduleResponse(s *domain.Schedule) scheduleResponse {
	return scheduleResponse{
		ID:              s.ID,
		WorkspaceID:     s.WorkspaceID,
		JobDefinitionID: s.JobDefinitionID,
		CronExpression:  s.CronExpression,
		Enabled:         s.Enabled,
		Name:            s.Name,
		NextRunAt:       s.NextRunAt,
		LastRunAt:       s.LastRunAt,
		LastRunID:       s.LastRunID,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func (h *ScheduleHandler) Create(c *gin.Context) {
	var req createScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, err := h.uc.CreateSchedule(c.Request.Context(), middleware.AuthFrom(c).WorkspaceID, usecase.CreateScheduleInput{
		JobDefinitionID: req.JobDefinitionID,
		CronExpression:  req.CronExpression,
		Name:            req.Name,
		Enabled:         req.Enabled,
	})
	if err != nil {
		respondError(c, h.logger, "create schedule", err)
		return
	}
	c.JSON(http.StatusCreated, toScheduleResponse(s))
}

func (h *ScheduleHandler) List(c *gin.Context) {
	schedules, err := h.uc.ListSchedules(c.Request.Context(), middleware.AuthFrom(c).WorkspaceID)
	if err != nil {
		respondError(c, h.logger, "list schedules", err)
		return
	}

	items := make([]scheduleResponse, len(schedules))
	for i, s := range schedules {
		items[i] = toScheduleResponse(s)
	}
	c.JSON(http.StatusOK, gin.H{"schedules": items})
}

func (h *ScheduleHandler) GetByID(c *gin.Context) {
	s, err := h.uc.GetSchedule(c.Request.Context(), c.Param("id"), middleware.AuthFrom(c).WorkspaceID)
	if err != nil {
		respondError(c, h.logger, "get schedule", err)
		return
	}
	c.JSON(http.StatusOK, toScheduleResponse(s))
}

func (h *ScheduleHandler) Update(c *gin.Context) {
	var req updateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, err := h.uc.UpdateSchedule(c.Request.Context(), c.Param("id"), middleware.AuthFrom(c).WorkspaceID, usecase.UpdateScheduleInput{
		CronExpression: req.CronExpression,
		Name:           req.Name,
		Enabled:        req.Enabled,
	})
	if err != nil {
		respondError(c, h.logger, "update schedule", err)
		return
	}
	c.JSON(http.StatusOK, toScheduleResponse(s))
}

func (h *ScheduleHandler) Delete(c *gin.Context) {
	if err := h.uc.DeleteSchedule(c.Request.Context(), c.Param("id"), middleware.AuthFrom(c).WorkspaceID); err != nil {
		respondError(c, h.logger, "delete schedule", err)
		return
	}
	c.Status(http.StatusNoContent)
}
