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
	"github.com/flightcontrol-io/flightcontrol/internal/health"
	ctxlog "github.com/flightcontrol-io/flightcontrol/internal/log"
	"github.com/flightcontrol-io/flightcontrol/internal/metrics"
	"github.com/flightcontrol-io/flightcontrol/internal/worker"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	name := cfg.WorkerName
	if name == "" {
		hostname, _ := os.Hostname()
		name = "worker-" + hostname
	}

	client := worker.NewClient(cfg.ServerURL, cfg.APIKey, cfg.WorkspaceID)

	metrics.Register()
	checker := health.NewChecker("control_plane", client, logger, prometheus.DefaultRegisterer)

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	w := worker.New(client, worker.Options{
		Name:              name,
		Labels:            cfg.ParseLabels(),
		WorkDir:           cfg.WorkDir,
		PollInterval:      time.Duration(cfg.PollInterval) * time.Second,
		HeartbeatInterval: time.Duration(cfg.HeartbeatInterval) * time.Second,
		LogBatchInterval:  time.Duration(cfg.LogBatchInterval) * time.Second,
	}, logger)

	logger.Info("connecting to control plane", "server", cfg.ServerURL, "name", name)
	if err := w.Run(ctx); err != nil {
		stop()
		log.Fatalf("worker: %v", err)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
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
