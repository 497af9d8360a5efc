package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flightcontrol-io/flightcontrol/config"
	"github.com/flightcontrol-io/flightcontrol/internal/email"
	"github.com/flightcontrol-io/flightcontrol/internal/health"
	"github.com/flightcontrol-io/flightcontrol/internal/infrastructure/postgres"
	ctxlog "github.com/flightcontrol-io/flightcontrol/internal/log"
	"github.com/flightcontrol-io/flightcontrol/internal/logstream"
	"github.com/flightcontrol-io/flightcontrol/internal/metrics"
	"github.com/flightcontrol-io/flightcontrol/internal/scheduler"
	"github.com/flightcontrol-io/flightcontrol/internal/secrets"
	"github.com/flightcontrol-io/flightcontrol/internal/signing"
	"github.com/flightcontrol-io/flightcontrol/internal/storage"
	httptransport "github.com/flightcontrol-io/flightcontrol/internal/transport/http"
	"github.com/flightcontrol-io/flightcontrol/internal/transport/http/handler"
	"github.com/flightcontrol-io/flightcontrol/internal/transport/http/middleware"
	"github.com/flightcontrol-io/flightcontrol/internal/usecase"
	"github.com/flightcontrol-io/flightcontrol/internal/webhook"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		stop()
		log.Fatalf("schema: %v", err)
	}

	workspaceRepo := postgres.NewWorkspaceRepository(pool)
	userRepo := postgres.NewUserRepository(pool)
	keyRepo := postgres.NewAPIKeyRepository(pool)
	jobRepo := postgres.NewJobRepository(pool)
	runRepo := postgres.NewRunRepository(pool)
	workerRepo := postgres.NewWorkerRepository(pool)
	credentialRepo := postgres.NewCredentialRepository(pool)
	skillRepo := postgres.NewSkillRepository(pool)
	scheduleRepo := postgres.NewScheduleRepository(pool)
	artifactRepo := postgres.NewArtifactRepository(pool)
	logRepo := postgres.NewLogRepository(pool)

	if err := workspaceRepo.EnsureDefaults(ctx); err != nil {
		stop()
		log.Fatalf("seed defaults: %v", err)
	}

	box, err := secrets.New(cfg.MasterKey)
	if err != nil {
		stop()
		log.Fatalf("master key: %v", err)
	}
	signer := signing.New(cfg.SigningSecret, time.Duration(cfg.DownloadTokenTTL)*time.Second)

	// Artifacts and skill files live in separate trees: artifacts are keyed
	// {run_id}/{filename}, skill files {workspace_id}/{skill_name}/{path}.
	artifactStore, err := storage.NewLocal(cfg.ArtifactStoragePath)
	if err != nil {
		stop()
		log.Fatalf("artifact store: %v", err)
	}
	skillStore, err := storage.NewLocal(cfg.SkillStoragePath)
	if err != nil {
		stop()
		log.Fatalf("skill store: %v", err)
	}

	notifier := webhook.NewNotifier(logger)
	emails := email.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger)

	hub := logstream.NewHub()
	pipeline := logstream.NewPipeline(logRepo, runRepo, artifactRepo, artifactStore, hub, logger)

	lifecycle := usecase.NewLifecycle(runRepo, notifier, logger)

	jobUsecase := usecase.NewJobUsecase(jobRepo)
	runUsecase := usecase.NewRunUsecase(runRepo, jobRepo, artifactRepo, artifactStore, pipeline, lifecycle)
	dispatchUsecase := usecase.NewDispatchUsecase(
		workerRepo, runRepo, credentialRepo, skillRepo, artifactRepo,
		artifactStore, box, signer, pipeline, lifecycle, cfg.BaseURL, logger,
	)
	credentialUsecase := usecase.NewCredentialUsecase(credentialRepo, box)
	skillUsecase := usecase.NewSkillUsecase(skillRepo, skillStore, signer, logger)
	scheduleUsecase := usecase.NewScheduleUsecase(scheduleRepo, jobRepo)
	workspaceUsecase := usecase.NewWorkspaceUsecase(workspaceRepo, keyRepo)

	metrics.Register()
	checker := health.NewChecker("postgres", pool, logger, prometheus.DefaultRegisterer)

	heartbeatTimeout := time.Duration(cfg.WorkerHeartbeatTimeout) * time.Second

	handlers := httptransport.Handlers{
		Jobs:        handler.NewJobHandler(jobUsecase, runUsecase, logger),
		Runs:        handler.NewRunHandler(runUsecase, logger),
		Workers:     handler.NewWorkerHandler(dispatchUsecase, heartbeatTimeout, logger),
		Credentials: handler.NewCredentialHandler(credentialUsecase, logger),
		Skills:      handler.NewSkillHandler(skillUsecase, logger),
		Schedules:   handler.NewScheduleHandler(scheduleUsecase, logger),
		Workspaces:  handler.NewWorkspaceHandler(workspaceUsecase, logger),
		System:      handler.NewSystemHandler(runRepo, workerRepo, logger),
		Checker:     checker,
	}

	authDeps := middleware.AuthDeps{
		Keys:       keyRepo,
		Users:      userRepo,
		Workspaces: workspaceRepo,
		AdminKey:   cfg.DefaultAdminKey,
		Logger:     logger,
	}

	srv := http.Server{
		Addr:    cfg.Host + ":" + cfg.Port,
		Handler: httptransport.NewRouter(logger, handlers, authDeps),
	}

	dispatcher := scheduler.NewDispatcher(scheduleRepo, logger, time.Duration(cfg.TickInterval)*time.Second)
	if err := dispatcher.ResetOnStartup(ctx); err != nil {
		logger.Error("reset schedule next runs", "error", err)
	}
	go dispatcher.Start(ctx)

	reaper := scheduler.NewReaper(
		workerRepo, runRepo, lifecycle, emails, cfg.AlertEmail, logger,
		time.Duration(cfg.ReaperInterval)*time.Second, heartbeatTimeout,
	)
	go reaper.Start(ctx)

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
