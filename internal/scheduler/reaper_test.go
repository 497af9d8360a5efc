package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
	"github.com/flightcontrol-io/flightcontrol/internal/repository"
)

type fakeWorkerRepo struct {
	markStale func(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Worker, error)
}

func (f *fakeWorkerRepo) Register(_ context.Context, w *domain.Worker) (*domain.Worker, error) {
	return w, nil
}

func (f *fakeWorkerRepo) GetByID(_ context.Context, _ string) (*domain.Worker, error) {
	return nil, domain.ErrWorkerNotFound
}

func (f *fakeWorkerRepo) List(_ context.Context, _ string) ([]*domain.Worker, error) {
	return nil, nil
}

func (f *fakeWorkerRepo) Heartbeat(_ context.Context, _ string, _ domain.WorkerStatus) (*domain.Worker, error) {
	return nil, domain.ErrWorkerNotFound
}

func (f *fakeWorkerRepo) MarkStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Worker, error) {
	return f.markStale(ctx, cutoff, limit)
}

type fakeRunRepo struct {
	listOverdue func(ctx context.Context, now time.Time, limit int) ([]*domain.JobRun, error)
}

func (f *fakeRunRepo) Create(_ context.Context, r *domain.JobRun) (*domain.JobRun, error) {
	return r, nil
}

func (f *fakeRunRepo) GetByID(_ context.Context, _, _ string) (*domain.JobRun, error) {
	return nil, domain.ErrRunNotFound
}

func (f *fakeRunRepo) List(_ context.Context, _ repository.ListRunsInput) ([]*domain.JobRun, error) {
	return nil, nil
}

func (f *fakeRunRepo) Claim(_ context.Context, _ *domain.Worker) (*domain.JobRun, error) {
	return nil, nil
}

func (f *fakeRunRepo) MarkRunning(_ context.Context, _ string) error { return nil }

func (f *fakeRunRepo) Complete(_ context.Context, _, _ string, _ domain.RunStatus, _ *string, _ *int) (*domain.JobRun, bool, error) {
	return nil, false, domain.ErrRunNotFound
}

func (f *fakeRunRepo) Cancel(_ context.Context, _, _ string) (*domain.JobRun, error) {
	return nil, domain.ErrRunNotFound
}

func (f *fakeRunRepo) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*domain.JobRun, error) {
	return f.listOverdue(ctx, now, limit)
}

func (f *fakeRunRepo) CountByStatus(_ context.Context, _ string) (map[domain.RunStatus]int, error) {
	return nil, nil
}

type fakeFinalizer struct {
	finalize func(ctx context.Context, runID, workerID string, status domain.RunStatus, result *string, exitCode *int) (*domain.JobRun, error)
}

func (f *fakeFinalizer) Finalize(ctx context.Context, runID, workerID string, status domain.RunStatus, result *string, exitCode *int) (*domain.JobRun, error) {
	return f.finalize(ctx, runID, workerID, status, result, exitCode)
}

type fakeEmailSender struct {
	sent []string // "to|subject"
}

func (f *fakeEmailSender) Send(_ context.Context, to, subject, _ string) error {
	f.sent = append(f.sent, to+"|"+subject)
	return nil
}

func newTestReaper(workers *fakeWorkerRepo, runs *fakeRunRepo, finalizer *fakeFinalizer, emails *fakeEmailSender, alertTo string) *Reaper {
	return NewReaper(workers, runs, finalizer, emails, alertTo, testLogger(), time.Minute, 90*time.Second)
}

func TestReapWorkers_SweepsAndAlerts(t *testing.T) {
	var gotCutoff time.Time
	workers := &fakeWorkerRepo{
		markStale: func(_ context.Context, cutoff time.Time, limit int) ([]*domain.Worker, error) {
			gotCutoff = cutoff
			if limit != 100 {
				t.Errorf("limit = %d, want 100", limit)
			}
			return []*domain.Worker{
				{ID: "w-1", Name: "gpu-box", WorkspaceID: "default", LastHeartbeat: time.Now().Add(-5 * time.Minute)},
				{ID: "w-2", Name: "cpu-box", WorkspaceID: "default", LastHeartbeat: time.Now().Add(-10 * time.Minute)},
			}, nil
		},
	}
	emails := &fakeEmailSender{}
	r := newTestReaper(workers, &fakeRunRepo{}, &fakeFinalizer{}, emails, "oncall@example.com")

	r.reapWorkers(context.Background())

	want := time.Now().Add(-90 * time.Second)
	if gotCutoff.Before(want.Add(-5*time.Second)) || gotCutoff.After(want.Add(5*time.Second)) {
		t.Errorf("cutoff = %v, want about %v", gotCutoff, want)
	}
	if len(emails.sent) != 2 {
		t.Fatalf("sent %d alerts, want 2", len(emails.sent))
	}
	if !strings.HasPrefix(emails.sent[0], "oncall@example.com|") {
		t.Errorf("alert sent to %q", emails.sent[0])
	}
	if !strings.Contains(emails.sent[0], "gpu-box") {
		t.Errorf("alert subject missing worker name: %q", emails.sent[0])
	}
}

func TestReapWorkers_NoAlertAddressNoEmail(t *testing.T) {
	workers := &fakeWorkerRepo{
		markStale: func(_ context.Context, _ time.Time, _ int) ([]*domain.Worker, error) {
			return []*domain.Worker{{ID: "w-1", Name: "gpu-box"}}, nil
		},
	}
	emails := &fakeEmailSender{}
	r := newTestReaper(workers, &fakeRunRepo{}, &fakeFinalizer{}, emails, "")

	r.reapWorkers(context.Background())
	if len(emails.sent) != 0 {
		t.Errorf("sent %d alerts with no address configured", len(emails.sent))
	}
}

func TestReapRuns_TimesOutOverdue(t *testing.T) {
	workerID := "w-1"
	runs := &fakeRunRepo{
		listOverdue: func(_ context.Context, now time.Time, limit int) ([]*domain.JobRun, error) {
			if now.After(time.Now()) {
				t.Errorf("overdue scan uses future time %v", now)
			}
			return []*domain.JobRun{{
				ID:             "run-1",
				Status:         domain.RunRunning,
				WorkerID:       &workerID,
				TimeoutSeconds: 900,
				AttemptNumber:  1,
			}}, nil
		},
	}

	var gotRunID, gotWorkerID string
	var gotStatus domain.RunStatus
	var gotResult *string
	finalizer := &fakeFinalizer{
		finalize: func(_ context.Context, runID, workerID string, status domain.RunStatus, result *string, _ *int) (*domain.JobRun, error) {
			gotRunID, gotWorkerID, gotStatus, gotResult = runID, workerID, status, result
			return &domain.JobRun{ID: runID, Status: status}, nil
		},
	}
	r := newTestReaper(&fakeWorkerRepo{}, runs, finalizer, &fakeEmailSender{}, "")

	r.reapRuns(context.Background())

	if gotRunID != "run-1" || gotWorkerID != "w-1" {
		t.Errorf("finalized (%q, %q)", gotRunID, gotWorkerID)
	}
	if gotStatus != domain.RunTimeout {
		t.Errorf("status = %q, want timeout", gotStatus)
	}
	if gotResult == nil || !strings.Contains(*gotResult, "900") {
		t.Errorf("result = %v, want the timeout in the message", gotResult)
	}
}

func TestReapRuns_QueuedRunWithoutWorker(t *testing.T) {
	runs := &fakeRunRepo{
		listOverdue: func(_ context.Context, _ time.Time, _ int) ([]*domain.JobRun, error) {
			return []*domain.JobRun{{ID: "run-1", Status: domain.RunRunning, TimeoutSeconds: 60}}, nil
		},
	}
	var gotWorkerID string
	finalizer := &fakeFinalizer{
		finalize: func(_ context.Context, runID, workerID string, status domain.RunStatus, result *string, _ *int) (*domain.JobRun, error) {
			gotWorkerID = workerID
			return &domain.JobRun{ID: runID, Status: status}, nil
		},
	}
	r := newTestReaper(&fakeWorkerRepo{}, runs, finalizer, &fakeEmailSender{}, "")

	r.reapRuns(context.Background())
	if gotWorkerID != "" {
		t.Errorf("workerID = %q, want empty for a run with no worker", gotWorkerID)
	}
}
