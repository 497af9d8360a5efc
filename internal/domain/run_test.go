package domain

import (
	"testing"
	"time"
)

func TestLabelsMatch(t *testing.T) {
	tests := []struct {
		name     string
		required map[string]string
		worker   map[string]string
		want     bool
	}{
		{"nil required matches anything", nil, nil, true},
		{"empty required matches labelless worker", map[string]string{}, nil, true},
		{"empty required matches labelled worker", map[string]string{}, map[string]string{"gpu": "true"}, true},
		{"required but worker has no labels", map[string]string{"gpu": "true"}, nil, false},
		{"exact match", map[string]string{"gpu": "true"}, map[string]string{"gpu": "true"}, true},
		{"value mismatch", map[string]string{"gpu": "true"}, map[string]string{"gpu": "false"}, false},
		{"missing key", map[string]string{"tpu": "true"}, map[string]string{"gpu": "true"}, false},
		{"subset of worker labels", map[string]string{"gpu": "true"}, map[string]string{"gpu": "true", "region": "eu"}, true},
		{"all required pairs must match", map[string]string{"gpu": "true", "region": "us"}, map[string]string{"gpu": "true", "region": "eu"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LabelsMatch(tt.required, tt.worker); got != tt.want {
				t.Errorf("LabelsMatch(%v, %v) = %v, want %v", tt.required, tt.worker, got, tt.want)
			}
		})
	}
}

func TestRunStatusTerminal(t *testing.T) {
	terminal := []RunStatus{RunCompleted, RunFailed, RunTimeout, RunCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
		if s.Cancellable() {
			t.Errorf("%s should not be cancellable", s)
		}
	}
	for _, s := range []RunStatus{RunQueued, RunAssigned, RunRunning} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
		if !s.Cancellable() {
			t.Errorf("%s should be cancellable", s)
		}
	}
}

func TestRetryChild(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	worker := "w-1"
	run := &JobRun{
		ID:                  "r-1",
		WorkspaceID:         "default",
		Status:              RunFailed,
		WorkerID:            &worker,
		Name:                "nightly",
		TaskPrompt:          "do the thing",
		RequiredLabels:      map[string]string{"gpu": "true"},
		MaxRetries:          2,
		RetryBackoffSeconds: 60,
		AttemptNumber:       1,
		StartedAt:           &now,
		CompletedAt:         &now,
	}

	if !run.RetryEligible() {
		t.Fatal("attempt 1 of max_retries 2 should be retry eligible")
	}

	child := run.RetryChild(now)
	if child.Status != RunQueued {
		t.Errorf("child status = %s, want queued", child.Status)
	}
	if child.AttemptNumber != 2 {
		t.Errorf("child attempt = %d, want 2", child.AttemptNumber)
	}
	if child.ParentRunID == nil || *child.ParentRunID != "r-1" {
		t.Errorf("child parent = %v, want r-1", child.ParentRunID)
	}
	if child.WorkerID != nil || child.StartedAt != nil || child.CompletedAt != nil {
		t.Error("child must not inherit worker or timestamps")
	}
	wantAt := now.Add(60 * time.Second)
	if child.ScheduledAt == nil || !child.ScheduledAt.Equal(wantAt) {
		t.Errorf("child scheduled_at = %v, want %v", child.ScheduledAt, wantAt)
	}
	if !LabelsMatch(child.RequiredLabels, map[string]string{"gpu": "true"}) {
		t.Error("child must preserve required labels")
	}

	// The chain ends once attempts exceed max_retries.
	child.Status = RunFailed
	grand := child.RetryChild(now)
	if grand.AttemptNumber != 3 {
		t.Errorf("grandchild attempt = %d, want 3", grand.AttemptNumber)
	}
	grand.Status = RunFailed
	if grand.RetryEligible() {
		t.Error("attempt 3 of max_retries 2 must not be retry eligible")
	}
}
