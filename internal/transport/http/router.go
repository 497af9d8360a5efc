package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/flightcontrol-io/flightcontrol/internal/health"
	"github.com/flightcontrol-io/flightcontrol/internal/transport/http/handler"
	"github.com/flightcontrol-io/flightcontrol/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

// Handlers collects everything the router mounts.
type Handlers struct {
	Jobs        *handler.JobHandler
	Runs        *handler.RunHandler
	Workers     *handler.WorkerHandler
	Credentials *handler.CredentialHandler
	Skills      *handler.SkillHandler
	Schedules   *handler.ScheduleHandler
	Workspaces  *handler.WorkspaceHandler
	System      *handler.SystemHandler
	Checker     *health.Checker
}

func NewRouter(logger *slog.Logger, h Handlers, authDeps middleware.AuthDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	liveness := func(c *gin.Context) {
		c.JSON(http.StatusOK, h.Checker.Liveness(c.Request.Context()))
	}
	r.GET("/health", liveness)
	r.GET("/healthz", liveness)
	r.GET("/readyz", func(c *gin.Context) {
		result := h.Checker.Readiness(c.Request.Context())
		status := http.StatusOK
		if result.Status != "up" {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, result)
	})

	v1 := r.Group("/api/v1")

	// Skill file downloads authenticate with the signed token in the URL, not
	// the API key, so workers can fetch files with plain HTTP clients.
	v1.GET("/skills/:id/files/*path", h.Skills.DownloadFile)

	authMW := middleware.Auth(authDeps)

	jobs := v1.Group("/jobs", authMW)
	jobs.POST("", h.Jobs.Create)
	jobs.GET("", h.Jobs.List)
	jobs.GET("/:id", h.Jobs.GetByID)
	jobs.PUT("/:id", h.Jobs.Update)
	jobs.DELETE("/:id", h.Jobs.Delete)
	jobs.POST("/:id/run", h.Jobs.TriggerRun)

	runs := v1.Group("/runs", authMW)
	runs.POST("", h.Runs.Trigger)
	runs.GET("", h.Runs.List)
	runs.GET("/:id", h.Runs.GetByID)
	runs.POST("/:id/cancel", h.Runs.Cancel)
	runs.GET("/:id/logs", h.Runs.GetLogs)
	runs.GET("/:id/logs/stream", h.Runs.StreamLogs)
	runs.GET("/:id/artifacts", h.Runs.ListArtifacts)
	runs.GET("/:id/artifacts/:aid", h.Runs.DownloadArtifact)

	workers := v1.Group("/workers", authMW)
	workers.POST("/register", h.Workers.Register)
	workers.POST("/heartbeat", h.Workers.Heartbeat)
	workers.POST("/poll", h.Workers.Poll)
	workers.POST("/runs/:runId/logs", h.Workers.AppendLogs)
	workers.POST("/runs/:runId/artifacts", h.Workers.UploadArtifact)
	workers.POST("/runs/:runId/complete", h.Workers.Complete)

	credentials := v1.Group("/credentials", authMW)
	credentials.POST("", h.Credentials.Create)
	credentials.GET("", h.Credentials.List)
	credentials.GET("/:id", h.Credentials.GetByID)
	credentials.PUT("/:id", h.Credentials.Update)
	credentials.DELETE("/:id", h.Credentials.Delete)

	skills := v1.Group("/skills", authMW)
	skills.POST("", h.Skills.Upload)
	skills.GET("", h.Skills.List)
	skills.GET("/:id", h.Skills.GetByID)
	skills.PUT("/:id", h.Skills.Update)
	skills.DELETE("/:id", h.Skills.Delete)

	schedules := v1.Group("/schedules", authMW)
	schedules.POST("", h.Schedules.Create)
	schedules.GET("", h.Schedules.List)
	schedules.GET("/:id", h.Schedules.GetByID)
	schedules.PUT("/:id", h.Schedules.Update)
	schedules.DELETE("/:id", h.Schedules.Delete)

	workspaces := v1.Group("/workspaces", authMW)
	workspaces.POST("", middleware.RequireAdmin(), h.Workspaces.Create)
	workspaces.GET("", h.Workspaces.List)
	workspaces.GET("/:id", h.Workspaces.GetByID)
	workspaces.GET("/:id/members", h.Workspaces.ListMembers)

	apiKeys := v1.Group("/api-keys", authMW)
	apiKeys.POST("", middleware.RequireAdmin(), h.Workspaces.CreateAPIKey)

	system := v1.Group("/system", authMW)
	system.GET("/workers", h.Workers.List)
	system.GET("/metrics", h.System.Metrics)

	v1.GET("/users/me", authMW, h.Workspaces.Me)

	return r
}
