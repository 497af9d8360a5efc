package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/flightcontrol-io/flightcontrol/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Dispatch metrics

	RunPickupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "flightcontrol",
		Name:      "run_pickup_latency_seconds",
		Help:      "Time from run creation to a worker claiming it.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	DispatchPollsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flightcontrol",
		Name:      "dispatch_polls_total",
		Help:      "Worker poll requests, by outcome.",
	}, []string{"outcome"})

	// Run lifecycle metrics

	RunsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flightcontrol",
		Name:      "runs_completed_total",
		Help:      "Runs reaching a terminal status, by status.",
	}, []string{"status"})

	RunsRetriedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "flightcontrol",
		Name:      "runs_retried_total",
		Help:      "Retry runs spawned after a failure or timeout.",
	})

	RunsTimedOutTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "flightcontrol",
		Name:      "runs_timed_out_total",
		Help:      "Runs forcibly timed out by the reaper.",
	})

	// Scheduler and reaper metrics

	ScheduleFiresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "flightcontrol",
		Name:      "schedule_fires_total",
		Help:      "Runs created by cron schedule fires.",
	})

	WorkersReapedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "flightcontrol",
		Name:      "workers_reaped_total",
		Help:      "Workers marked offline after missing their heartbeat window.",
	})

	// Log pipeline metrics

	LogLinesIngestedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "flightcontrol",
		Name:      "log_lines_ingested_total",
		Help:      "Run log lines accepted from workers.",
	})

	LogSubscribers = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "flightcontrol",
		Name:      "log_stream_subscribers",
		Help:      "Live SSE log stream subscribers.",
	})

	// Worker process lifecycle

	WorkerStartTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "flightcontrol",
		Name:      "worker_start_time_seconds",
		Help:      "Unix timestamp when the worker process started.",
	})

	WorkerShutdownsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "flightcontrol",
		Name:      "worker_shutdowns_total",
		Help:      "Number of times the worker process has shut down.",
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "flightcontrol",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "flightcontrol",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		RunPickupLatency,
		DispatchPollsTotal,
		RunsCompletedTotal,
		RunsRetriedTotal,
		RunsTimedOutTotal,
		ScheduleFiresTotal,
		WorkersReapedTotal,
		LogLinesIngestedTotal,
		LogSubscribers,
		WorkerStartTime,
		WorkerShutdownsTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

// NewServer serves Prometheus metrics plus liveness/readiness probes on a
// port separate from the API.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Readiness(r.Context()))
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, result health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	if result.Status != "up" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(result)
}
