package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

// Config is the control-plane configuration, read from ORCH_-prefixed
// environment variables.
type Config struct {
	Env      string `env:"ENV"       envDefault:"local" validate:"required,oneof=local staging production"`
	Host     string `env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port     string `env:"SERVER_PORT" envDefault:"8080" validate:"required"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"  validate:"oneof=debug info warn error"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	// MasterKey encrypts credentials at rest: 32 raw bytes or base64 thereof.
	MasterKey string `env:"MASTER_KEY,required" validate:"required,min=32"`
	// SigningSecret signs skill-file download tokens.
	SigningSecret string `env:"SIGNING_SECRET,required" validate:"required,min=32"`
	// DefaultAdminKey is the bootstrap bearer token; it maps to the seeded
	// admin user without a database lookup.
	DefaultAdminKey string `env:"DEFAULT_ADMIN_KEY" validate:"omitempty,min=16"`

	// BaseURL is the externally reachable address embedded in skill-file
	// download URLs handed to workers.
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080" validate:"url"`

	ArtifactStoragePath string `env:"ARTIFACT_STORAGE_PATH" envDefault:"./data/artifacts" validate:"required"`
	SkillStoragePath    string `env:"SKILL_STORAGE_PATH"    envDefault:"./data/skills"    validate:"required"`

	// All intervals and timeouts are in seconds.
	WorkerHeartbeatTimeout int `env:"WORKER_HEARTBEAT_TIMEOUT" envDefault:"90"  validate:"min=10,max=3600"`
	ReaperInterval         int `env:"REAPER_INTERVAL"          envDefault:"30"  validate:"min=1,max=600"`
	TickInterval           int `env:"TICK_INTERVAL"            envDefault:"30"  validate:"min=1,max=600"`
	DownloadTokenTTL       int `env:"DOWNLOAD_TOKEN_TTL"       envDefault:"900" validate:"min=60,max=86400"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`

	// AlertEmail, when set, receives a message each time the reaper marks a
	// worker offline.
	AlertEmail   string `env:"ALERT_EMAIL"    validate:"omitempty,email"`
	ResendAPIKey string `env:"RESEND_API_KEY" validate:"required_with=AlertEmail"`
	ResendFrom   string `env:"RESEND_FROM"    validate:"required_with=AlertEmail,omitempty,email"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "ORCH_"}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *Config) SlogLevel() slog.Level { return slogLevel(c.LogLevel) }

func slogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WorkerConfig configures the worker process.
type WorkerConfig struct {
	Env      string `env:"ENV"       envDefault:"local" validate:"required,oneof=local staging production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"  validate:"oneof=debug info warn error"`

	ServerURL   string `env:"SERVER_URL,required" validate:"required,url"`
	APIKey      string `env:"API_KEY,required"    validate:"required"`
	WorkspaceID string `env:"WORKSPACE_ID" envDefault:"default" validate:"required"`

	// WorkerName defaults to worker-<hostname> when unset.
	WorkerName string `env:"WORKER_NAME"`
	// Labels is a comma-separated key=value list, e.g. "gpu=true,region=eu".
	Labels string `env:"LABELS"`

	// All intervals are in seconds.
	PollInterval      int `env:"POLL_INTERVAL"      envDefault:"5"  validate:"min=1,max=300"`
	HeartbeatInterval int `env:"HEARTBEAT_INTERVAL" envDefault:"30" validate:"min=1,max=300"`
	LogBatchInterval  int `env:"LOG_BATCH_INTERVAL" envDefault:"2"  validate:"min=1,max=60"`

	WorkDir string `env:"WORK_DIR" envDefault:"./work" validate:"required"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9091"`
}

func LoadWorker() (*WorkerConfig, error) {
	cfg := &WorkerConfig{}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: "ORCH_"}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func (c *WorkerConfig) SlogLevel() slog.Level { return slogLevel(c.LogLevel) }

// ParseLabels splits the LABELS form into a map; malformed pairs are skipped.
func (c *WorkerConfig) ParseLabels() map[string]string {
	if c.Labels == "" {
		return nil
	}
	labels := make(map[string]string)
	for _, pair := range strings.Split(c.Labels, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || k == "" {
			continue
		}
		labels[k] = v
	}
	return labels
}
