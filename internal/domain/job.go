package domain

import (
	"errors"
	"time"
)

var ErrJobNotFound = errors.New("job definition not found")

const (
	DefaultTimeoutSeconds      = 1800
	DefaultRetryBackoffSeconds = 60
	DefaultAgentType           = "goose"
)

// JobDefinition is the reusable template runs are snapshotted from.
//
// AgentConfig, MCPServers and EnvVars are opaque JSON payloads; the core only
// stores and forwards them. Labels are copied into every derived run as its
// required_labels, so editing a job never retouches already-queued runs.
// SkillIDs is tri-valued: nil attaches every workspace skill, an empty list
// attaches none, otherwise the named set.
type JobDefinition struct {
	ID                  string
	WorkspaceID         string
	Name                string
	Description         *string
	TaskPrompt          string
	AgentType           string
	AgentConfig         map[string]any
	MCPServers          []map[string]any
	EnvVars             map[string]string
	CredentialIDs       []string // credential names, resolved at dispatch
	Labels              map[string]string
	SkillIDs            *[]string
	TimeoutSeconds      int
	MaxRetries          int
	RetryBackoffSeconds int
	WebhookURL          *string
	WebhookSecret       *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}
