package handler

import (
	"log/slog"
	"net/http"

	"github.com/flightcontrol-io/flightcontrol/internal/repository"
	"github.com/flightcontrol-io/flightcontrol/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"
)

// SystemHandler serves workspace-scoped introspection: run and worker counts
// in plain JSON, distinct from the Prometheus endpoint on the metrics port.
type SystemHandler struct {
	runs    repository.RunRepository
	workers repository.WorkerRepository
	logger  *slog.Logger
}

func NewSystemHandler(runs repository.RunRepository, workers repository.WorkerRepository, logger *slog.Logger) *SystemHandler {
	return &SystemHandler{
		runs:    runs,
		workers: workers,
		logger:  logger.With("component", "system_handler"),
	}
}

func (h *SystemHandler) Metrics(c *gin.Context) {
	workspaceID := middleware.AuthFrom(c).WorkspaceID

	runCounts, err := h.runs.CountByStatus(c.Request.Context(), workspaceID)
	if err != nil {
		respondError(c, h.logger, "count runs", err)
		return
	}

	workers, err := h.workers.List(c.Request.Context(), workspaceID)
	if err != nil {
		respondError(c, h.logger, "list workers", err)
		return
	}
	workerCounts := make(map[string]int)
	for _, w := range workers {
		workerCounts[string(w.Status)]++
	}

	runs := make(map[string]int, len(runCounts))
	for status, n := range runCounts {
		runs[string(status)] = n
	}
	c.JSON(http.StatusOK, gin.H{
		"runs":    runs,
		"workers": workerCounts,
	})
}
