package domain

import (
	"errors"
	"time"
)

var (
	ErrRunNotFound       = errors.New("run not found")
	ErrRunNotCancellable = errors.New("run cannot be cancelled in its current status")
)

type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunAssigned  RunStatus = "assigned"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunTimeout   RunStatus = "timeout"
	RunCancelled RunStatus = "cancelled"
)

// Terminal reports whether s is absorbing: no forward transition may leave it.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunTimeout, RunCancelled:
		return true
	}
	return false
}

// Cancellable statuses are exactly the non-terminal ones.
func (s RunStatus) Cancellable() bool {
	switch s {
	case RunQueued, RunAssigned, RunRunning:
		return true
	}
	return false
}

// JobRun is one invocation of an agent task. All job fields are snapshotted at
// trigger time; JobDefinitionID is nil for ad-hoc runs. Retries form a chain
// through ParentRunID, the root having AttemptNumber 1.
type JobRun struct {
	ID              string
	WorkspaceID     string
	JobDefinitionID *string
	Status          RunStatus
	WorkerID        *string

	Name                string
	TaskPrompt          string
	AgentType           string
	AgentConfig         map[string]any
	MCPServers          []map[string]any
	EnvVars             map[string]string
	CredentialIDs       []string
	RequiredLabels      map[string]string
	SkillIDs            *[]string
	TimeoutSeconds      int
	MaxRetries          int
	RetryBackoffSeconds int
	WebhookURL          *string
	WebhookSecret       *string

	AttemptNumber int
	ParentRunID   *string
	ScheduledAt   *time.Time // nil = dispatchable immediately

	StartedAt   *time.Time
	CompletedAt *time.Time
	Result      *string
	ExitCode    *int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// RetryEligible reports whether a failed or timed-out run should spawn a child.
func (r *JobRun) RetryEligible() bool {
	return r.AttemptNumber <= r.MaxRetries
}

// RetryChild builds the follow-up run for a failed or timed-out attempt,
// preserving the snapshot (required labels included) and backing off.
func (r *JobRun) RetryChild(now time.Time) *JobRun {
	at := now.Add(time.Duration(r.RetryBackoffSeconds) * time.Second)
	child := *r
	child.ID = ""
	child.Status = RunQueued
	child.WorkerID = nil
	child.AttemptNumber = r.AttemptNumber + 1
	child.ParentRunID = &r.ID
	child.ScheduledAt = &at
	child.StartedAt = nil
	child.CompletedAt = nil
	child.Result = nil
	child.ExitCode = nil
	return &child
}

// LabelsMatch reports whether worker labels satisfy the run's requirements:
// empty or nil required always matches, otherwise every required pair must be
// present in the worker's labels with an equal value.
func LabelsMatch(required, workerLabels map[string]string) bool {
	if len(required) == 0 {
		return true
	}
	if len(workerLabels) == 0 {
		return false
	}
	for k, v := range required {
		if workerLabels[k] != v {
			return false
		}
	}
	return true
}
