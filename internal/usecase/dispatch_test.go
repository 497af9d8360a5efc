package usecase_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
	"github.com/flightcontrol-io/flightcontrol/internal/logstream"
	"github.com/flightcontrol-io/flightcontrol/internal/repository"
	"github.com/flightcontrol-io/flightcontrol/internal/secrets"
	"github.com/flightcontrol-io/flightcontrol/internal/signing"
	"github.com/flightcontrol-io/flightcontrol/internal/usecase"
	"github.com/flightcontrol-io/flightcontrol/internal/webhook"
)

// ---- fakes ----

type fakeWorkerRepo struct {
	register  func(ctx context.Context, w *domain.Worker) (*domain.Worker, error)
	getByID   func(ctx context.Context, id string) (*domain.Worker, error)
	list      func(ctx context.Context, workspaceID string) ([]*domain.Worker, error)
	heartbeat func(ctx context.Context, id string, status domain.WorkerStatus) (*domain.Worker, error)
	markStale func(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Worker, error)
}

func (f *fakeWorkerRepo) Register(ctx context.Context, w *domain.Worker) (*domain.Worker, error) {
	return f.register(ctx, w)
}

func (f *fakeWorkerRepo) GetByID(ctx context.Context, id string) (*domain.Worker, error) {
	return f.getByID(ctx, id)
}

func (f *fakeWorkerRepo) List(ctx context.Context, workspaceID string) ([]*domain.Worker, error) {
	return f.list(ctx, workspaceID)
}

func (f *fakeWorkerRepo) Heartbeat(ctx context.Context, id string, status domain.WorkerStatus) (*domain.Worker, error) {
	return f.heartbeat(ctx, id, status)
}

func (f *fakeWorkerRepo) MarkStale(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Worker, error) {
	if f.markStale == nil {
		return nil, nil
	}
	return f.markStale(ctx, cutoff, limit)
}

type fakeRunRepo struct {
	create        func(ctx context.Context, run *domain.JobRun) (*domain.JobRun, error)
	getByID       func(ctx context.Context, id, workspaceID string) (*domain.JobRun, error)
	list          func(ctx context.Context, input repository.ListRunsInput) ([]*domain.JobRun, error)
	claim         func(ctx context.Context, worker *domain.Worker) (*domain.JobRun, error)
	markRunning   func(ctx context.Context, id string) error
	complete      func(ctx context.Context, id, workerID string, status domain.RunStatus, result *string, exitCode *int) (*domain.JobRun, bool, error)
	cancel        func(ctx context.Context, id, workspaceID string) (*domain.JobRun, error)
	listOverdue   func(ctx context.Context, now time.Time, limit int) ([]*domain.JobRun, error)
	countByStatus func(ctx context.Context, workspaceID string) (map[domain.RunStatus]int, error)
}

func (f *fakeRunRepo) Create(ctx context.Context, run *domain.JobRun) (*domain.JobRun, error) {
	return f.create(ctx, run)
}

func (f *fakeRunRepo) GetByID(ctx context.Context, id, workspaceID string) (*domain.JobRun, error) {
	return f.getByID(ctx, id, workspaceID)
}

func (f *fakeRunRepo) List(ctx context.Context, input repository.ListRunsInput) ([]*domain.JobRun, error) {
	return f.list(ctx, input)
}

func (f *fakeRunRepo) Claim(ctx context.Context, worker *domain.Worker) (*domain.JobRun, error) {
	return f.claim(ctx, worker)
}

func (f *fakeRunRepo) MarkRunning(ctx context.Context, id string) error {
	if f.markRunning == nil {
		return nil
	}
	return f.markRunning(ctx, id)
}

func (f *fakeRunRepo) Complete(ctx context.Context, id, workerID string, status domain.RunStatus, result *string, exitCode *int) (*domain.JobRun, bool, error) {
	return f.complete(ctx, id, workerID, status, result, exitCode)
}

func (f *fakeRunRepo) Cancel(ctx context.Context, id, workspaceID string) (*domain.JobRun, error) {
	return f.cancel(ctx, id, workspaceID)
}

func (f *fakeRunRepo) ListOverdue(ctx context.Context, now time.Time, limit int) ([]*domain.JobRun, error) {
	return f.listOverdue(ctx, now, limit)
}

func (f *fakeRunRepo) CountByStatus(ctx context.Context, workspaceID string) (map[domain.RunStatus]int, error) {
	return f.countByStatus(ctx, workspaceID)
}

type fakeCredentialRepo struct {
	create     func(ctx context.Context, cred *domain.Credential) (*domain.Credential, error)
	getByID    func(ctx context.Context, id, workspaceID string) (*domain.Credential, error)
	getByNames func(ctx context.Context, workspaceID string, names []string) ([]*domain.Credential, error)
	list       func(ctx context.Context, workspaceID string) ([]*domain.Credential, error)
	update     func(ctx context.Context, cred *domain.Credential) (*domain.Credential, error)
	delete     func(ctx context.Context, id, workspaceID string) error
}

func (f *fakeCredentialRepo) Create(ctx context.Context, cred *domain.Credential) (*domain.Credential, error) {
	return f.create(ctx, cred)
}

func (f *fakeCredentialRepo) GetByID(ctx context.Context, id, workspaceID string) (*domain.Credential, error) {
	return f.getByID(ctx, id, workspaceID)
}

func (f *fakeCredentialRepo) GetByNames(ctx context.Context, workspaceID string, names []string) ([]*domain.Credential, error) {
	return f.getByNames(ctx, workspaceID, names)
}

func (f *fakeCredentialRepo) List(ctx context.Context, workspaceID string) ([]*domain.Credential, error) {
	return f.list(ctx, workspaceID)
}

func (f *fakeCredentialRepo) Update(ctx context.Context, cred *domain.Credential) (*domain.Credential, error) {
	return f.update(ctx, cred)
}

func (f *fakeCredentialRepo) Delete(ctx context.Context, id, workspaceID string) error {
	return f.delete(ctx, id, workspaceID)
}

type fakeSkillRepo struct {
	create      func(ctx context.Context, s *domain.Skill, files []*domain.SkillFile) (*domain.Skill, error)
	getByID     func(ctx context.Context, id, workspaceID string) (*domain.Skill, error)
	getByIDAny  func(ctx context.Context, id string) (*domain.Skill, error)
	getByName   func(ctx context.Context, name, workspaceID string) (*domain.Skill, error)
	list        func(ctx context.Context, workspaceID string) ([]*domain.Skill, error)
	listByNames func(ctx context.Context, workspaceID string, names *[]string) ([]*domain.Skill, error)
	listFiles   func(ctx context.Context, skillID string) ([]*domain.SkillFile, error)
	update      func(ctx context.Context, s *domain.Skill) (*domain.Skill, error)
	deleteBy    func(ctx context.Context, id, workspaceID string) error
}

func (f *fakeSkillRepo) Create(ctx context.Context, s *domain.Skill, files []*domain.SkillFile) (*domain.Skill, error) {
	return f.create(ctx, s, files)
}

func (f *fakeSkillRepo) GetByID(ctx context.Context, id, workspaceID string) (*domain.Skill, error) {
	return f.getByID(ctx, id, workspaceID)
}

func (f *fakeSkillRepo) GetByIDUnscoped(ctx context.Context, id string) (*domain.Skill, error) {
	return f.getByIDAny(ctx, id)
}

func (f *fakeSkillRepo) GetByName(ctx context.Context, name, workspaceID string) (*domain.Skill, error) {
	return f.getByName(ctx, name, workspaceID)
}

func (f *fakeSkillRepo) List(ctx context.Context, workspaceID string) ([]*domain.Skill, error) {
	return f.list(ctx, workspaceID)
}

func (f *fakeSkillRepo) ListByNames(ctx context.Context, workspaceID string, names *[]string) ([]*domain.Skill, error) {
	return f.listByNames(ctx, workspaceID, names)
}

func (f *fakeSkillRepo) ListFiles(ctx context.Context, skillID string) ([]*domain.SkillFile, error) {
	return f.listFiles(ctx, skillID)
}

func (f *fakeSkillRepo) Update(ctx context.Context, s *domain.Skill) (*domain.Skill, error) {
	return f.update(ctx, s)
}

func (f *fakeSkillRepo) Delete(ctx context.Context, id, workspaceID string) error {
	return f.deleteBy(ctx, id, workspaceID)
}

type fakeArtifactRepo struct {
	create          func(ctx context.Context, a *domain.Artifact) (*domain.Artifact, error)
	getByID         func(ctx context.Context, id string) (*domain.Artifact, error)
	listByRun       func(ctx context.Context, runID string) ([]*domain.Artifact, error)
	getByRunAndName func(ctx context.Context, runID, filename string) (*domain.Artifact, error)
}

func (f *fakeArtifactRepo) Create(ctx context.Context, a *domain.Artifact) (*domain.Artifact, error) {
	return f.create(ctx, a)
}

func (f *fakeArtifactRepo) GetByID(ctx context.Context, id string) (*domain.Artifact, error) {
	return f.getByID(ctx, id)
}

func (f *fakeArtifactRepo) ListByRun(ctx context.Context, runID string) ([]*domain.Artifact, error) {
	return f.listByRun(ctx, runID)
}

func (f *fakeArtifactRepo) GetByRunAndName(ctx context.Context, runID, filename string) (*domain.Artifact, error) {
	if f.getByRunAndName == nil {
		return nil, domain.ErrArtifactNotFound
	}
	return f.getByRunAndName(ctx, runID, filename)
}

type fakeObjectStore struct {
	objects map[string]string
	saved   []string
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: map[string]string{}}
}

func (f *fakeObjectStore) Save(_ context.Context, key string, r io.Reader) (int64, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, "", err
	}
	f.objects[key] = string(data)
	f.saved = append(f.saved, key)
	return int64(len(data)), "checksum-" + key, nil
}

func (f *fakeObjectStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	content, ok := f.objects[key]
	if !ok {
		return nil, domain.ErrArtifactNotFound
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func (f *fakeObjectStore) Delete(_ context.Context, _ string) error       { return nil }
func (f *fakeObjectStore) DeletePrefix(_ context.Context, _ string) error { return nil }

type fakeLogRepo struct {
	appended map[string][]domain.LogLine
}

func newFakeLogRepo() *fakeLogRepo {
	return &fakeLogRepo{appended: map[string][]domain.LogLine{}}
}

func (f *fakeLogRepo) Append(_ context.Context, runID string, lines []domain.LogLine) error {
	f.appended[runID] = append(f.appended[runID], lines...)
	return nil
}

func (f *fakeLogRepo) ListAfter(_ context.Context, runID string, after int) ([]domain.LogLine, error) {
	var out []domain.LogLine
	for _, l := range f.appended[runID] {
		if l.Sequence > after {
			out = append(out, l)
		}
	}
	return out, nil
}

// ---- helpers ----

const (
	testWorkspace = "default"
	testBaseURL   = "http://control.internal:8080"
	testMasterKey = "0123456789abcdef0123456789abcdef"
	testSignKey   = "download-signing-secret"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBox(t *testing.T) *secrets.Box {
	t.Helper()
	box, err := secrets.New(testMasterKey)
	if err != nil {
		t.Fatalf("secrets.New: %v", err)
	}
	return box
}

// dispatchFakes bundles every dependency of DispatchUsecase; nil fields get
// inert defaults so tests only spell out what they exercise.
type dispatchFakes struct {
	workers   *fakeWorkerRepo
	runs      *fakeRunRepo
	creds     *fakeCredentialRepo
	skills    *fakeSkillRepo
	artifacts *fakeArtifactRepo
	store     *fakeObjectStore
	logs      *fakeLogRepo
}

func newDispatch(t *testing.T, f dispatchFakes) *usecase.DispatchUsecase {
	t.Helper()
	if f.workers == nil {
		f.workers = &fakeWorkerRepo{}
	}
	if f.runs == nil {
		f.runs = &fakeRunRepo{}
	}
	if f.creds == nil {
		f.creds = &fakeCredentialRepo{}
	}
	if f.skills == nil {
		f.skills = &fakeSkillRepo{}
	}
	if f.artifacts == nil {
		f.artifacts = &fakeArtifactRepo{}
	}
	if f.store == nil {
		f.store = newFakeObjectStore()
	}
	if f.logs == nil {
		f.logs = newFakeLogRepo()
	}

	logger := discardLogger()
	pipeline := logstream.NewPipeline(f.logs, f.runs, f.artifacts, f.store, logstream.NewHub(), logger)
	lifecycle := usecase.NewLifecycle(f.runs, webhook.NewNotifier(logger), logger)
	return usecase.NewDispatchUsecase(
		f.workers, f.runs, f.creds, f.skills, f.artifacts, f.store,
		newTestBox(t), signing.New(testSignKey, time.Minute),
		pipeline, lifecycle, testBaseURL, logger,
	)
}

func idleWorker(id string, labels map[string]string) *domain.Worker {
	return &domain.Worker{
		ID:          id,
		WorkspaceID: testWorkspace,
		Name:        id,
		Status:      domain.WorkerOnline,
		Labels:      labels,
	}
}

// ---- RegisterWorker ----

func TestRegisterWorker_ScopesToWorkspace(t *testing.T) {
	var captured *domain.Worker
	workers := &fakeWorkerRepo{
		register: func(_ context.Context, w *domain.Worker) (*domain.Worker, error) {
			captured = w
			w.Status = domain.WorkerOnline
			return w, nil
		},
	}
	u := newDispatch(t, dispatchFakes{workers: workers})

	got, err := u.RegisterWorker(context.Background(), testWorkspace, usecase.RegisterWorkerInput{
		Name:   "gpu-box",
		Labels: map[string]string{"gpu": "true"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if captured.WorkspaceID != testWorkspace {
		t.Errorf("workspace = %q, want %q", captured.WorkspaceID, testWorkspace)
	}
	if got.Name != "gpu-box" || got.Labels["gpu"] != "true" {
		t.Errorf("got %+v", got)
	}
}

// ---- Heartbeat ----

func TestHeartbeat_IdleWorkerStaysOnline(t *testing.T) {
	var sentStatus domain.WorkerStatus
	w := idleWorker("w-1", nil)
	workers := &fakeWorkerRepo{
		getByID: func(_ context.Context, _ string) (*domain.Worker, error) { return w, nil },
		heartbeat: func(_ context.Context, _ string, status domain.WorkerStatus) (*domain.Worker, error) {
			sentStatus = status
			return w, nil
		},
	}
	u := newDispatch(t, dispatchFakes{workers: workers})

	result, err := u.Heartbeat(context.Background(), "w-1", testWorkspace)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sentStatus != domain.WorkerOnline {
		t.Errorf("status = %q, want online", sentStatus)
	}
	if result.CancelRunID != nil {
		t.Errorf("CancelRunID = %v, want nil", *result.CancelRunID)
	}
}

func TestHeartbeat_SurfacesCancelledRun(t *testing.T) {
	runID := "run-9"
	w := idleWorker("w-1", nil)
	w.Status = domain.WorkerBusy
	w.CurrentRunID = &runID

	var sentStatus domain.WorkerStatus
	workers := &fakeWorkerRepo{
		getByID: func(_ context.Context, _ string) (*domain.Worker, error) { return w, nil },
		heartbeat: func(_ context.Context, _ string, status domain.WorkerStatus) (*domain.Worker, error) {
			sentStatus = status
			return w, nil
		},
	}
	runs := &fakeRunRepo{
		getByID: func(_ context.Context, id, _ string) (*domain.JobRun, error) {
			return &domain.JobRun{ID: id, Status: domain.RunCancelled}, nil
		},
	}
	u := newDispatch(t, dispatchFakes{workers: workers, runs: runs})

	result, err := u.Heartbeat(context.Background(), "w-1", testWorkspace)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sentStatus != domain.WorkerBusy {
		t.Errorf("status = %q, want busy", sentStatus)
	}
	if result.CancelRunID == nil || *result.CancelRunID != runID {
		t.Errorf("CancelRunID = %v, want %q", result.CancelRunID, runID)
	}
}

func TestHeartbeat_RunStillLiveNoCancel(t *testing.T) {
	runID := "run-9"
	w := idleWorker("w-1", nil)
	w.CurrentRunID = &runID

	workers := &fakeWorkerRepo{
		getByID: func(_ context.Context, _ string) (*domain.Worker, error) { return w, nil },
		heartbeat: func(_ context.Context, _ string, _ domain.WorkerStatus) (*domain.Worker, error) {
			return w, nil
		},
	}
	runs := &fakeRunRepo{
		getByID: func(_ context.Context, id, _ string) (*domain.JobRun, error) {
			return &domain.JobRun{ID: id, Status: domain.RunRunning}, nil
		},
	}
	u := newDispatch(t, dispatchFakes{workers: workers, runs: runs})

	result, err := u.Heartbeat(context.Background(), "w-1", testWorkspace)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.CancelRunID != nil {
		t.Errorf("CancelRunID = %v, want nil for a live run", *result.CancelRunID)
	}
}

func TestHeartbeat_WrongWorkspace(t *testing.T) {
	workers := &fakeWorkerRepo{
		getByID: func(_ context.Context, _ string) (*domain.Worker, error) {
			return &domain.Worker{ID: "w-1", WorkspaceID: "other"}, nil
		},
	}
	u := newDispatch(t, dispatchFakes{workers: workers})

	_, err := u.Heartbeat(context.Background(), "w-1", testWorkspace)
	if !errors.Is(err, domain.ErrWorkerNotFound) {
		t.Errorf("want ErrWorkerNotFound, got %v", err)
	}
}

// ---- Poll ----

func TestPoll_ClaimsAndBuildsEnvelope(t *testing.T) {
	worker := idleWorker("w-1", map[string]string{"gpu": "true"})
	run := &domain.JobRun{
		ID:            "run-1",
		WorkspaceID:   testWorkspace,
		Status:        domain.RunAssigned,
		Name:          "nightly",
		TaskPrompt:    "do the thing",
		CredentialIDs: []string{"github"},
		CreatedAt:     time.Now().Add(-2 * time.Second),
	}

	box := newTestBox(t)
	sealed, err := box.Encrypt("hunter2")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	var claimedBy *domain.Worker
	workers := &fakeWorkerRepo{
		getByID: func(_ context.Context, _ string) (*domain.Worker, error) { return worker, nil },
	}
	runs := &fakeRunRepo{
		claim: func(_ context.Context, w *domain.Worker) (*domain.JobRun, error) {
			claimedBy = w
			return run, nil
		},
	}
	creds := &fakeCredentialRepo{
		getByNames: func(_ context.Context, _ string, names []string) ([]*domain.Credential, error) {
			if len(names) != 1 || names[0] != "github" {
				t.Errorf("resolved names = %v", names)
			}
			return []*domain.Credential{
				{Name: "github", EnvVar: "GITHUB_TOKEN", EncryptedValue: sealed},
			}, nil
		},
	}
	skills := &fakeSkillRepo{
		listByNames: func(_ context.Context, _ string, names *[]string) ([]*domain.Skill, error) {
			if names != nil {
				t.Errorf("names = %v, want nil (all skills)", *names)
			}
			return []*domain.Skill{{ID: "skill-1", Name: "report-writer", Instructions: "write reports"}}, nil
		},
		listFiles: func(_ context.Context, skillID string) ([]*domain.SkillFile, error) {
			return []*domain.SkillFile{{
				SkillID:        skillID,
				FilePath:       "scripts/run.sh",
				SizeBytes:      42,
				ChecksumSHA256: "cafe",
				ContentType:    "text/x-shellscript",
			}}, nil
		},
	}

	u := newDispatch(t, dispatchFakes{workers: workers, runs: runs, creds: creds, skills: skills})

	envelope, err := u.Poll(context.Background(), "w-1", testWorkspace)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if envelope == nil || envelope.Run.ID != "run-1" {
		t.Fatalf("envelope = %+v", envelope)
	}
	if claimedBy != worker {
		t.Error("claim did not receive the polling worker")
	}
	if got := envelope.Credentials["GITHUB_TOKEN"]; got != "hunter2" {
		t.Errorf("credential = %q, want decrypted plaintext", got)
	}
	if len(envelope.Skills) != 1 || len(envelope.Skills[0].Files) != 1 {
		t.Fatalf("skills = %+v", envelope.Skills)
	}

	// The download URL must point at the file route and carry a token bound
	// to exactly this (skill, path) pair.
	fileURL, err := url.Parse(envelope.Skills[0].Files[0].DownloadURL)
	if err != nil {
		t.Fatalf("parse download url: %v", err)
	}
	if want := "/api/v1/skills/skill-1/files/scripts/run.sh"; fileURL.Path != want {
		t.Errorf("path = %q, want %q", fileURL.Path, want)
	}
	skillID, filePath, err := signing.New(testSignKey, time.Minute).VerifyFileToken(fileURL.Query().Get("token"))
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if skillID != "skill-1" || filePath != "scripts/run.sh" {
		t.Errorf("token bound to (%q, %q)", skillID, filePath)
	}
}

func TestPoll_BusyWorkerGetsNothing(t *testing.T) {
	runID := "run-1"
	worker := idleWorker("w-1", nil)
	worker.CurrentRunID = &runID

	claimed := false
	workers := &fakeWorkerRepo{
		getByID: func(_ context.Context, _ string) (*domain.Worker, error) { return worker, nil },
	}
	runs := &fakeRunRepo{
		claim: func(_ context.Context, _ *domain.Worker) (*domain.JobRun, error) {
			claimed = true
			return nil, nil
		},
	}
	u := newDispatch(t, dispatchFakes{workers: workers, runs: runs})

	envelope, err := u.Poll(context.Background(), "w-1", testWorkspace)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if envelope != nil {
		t.Errorf("envelope = %+v, want nil", envelope)
	}
	if claimed {
		t.Error("busy worker must not reach the claim query")
	}
}

func TestPoll_NoEligibleRun(t *testing.T) {
	workers := &fakeWorkerRepo{
		getByID: func(_ context.Context, _ string) (*domain.Worker, error) {
			return idleWorker("w-1", nil), nil
		},
	}
	runs := &fakeRunRepo{
		claim: func(_ context.Context, _ *domain.Worker) (*domain.JobRun, error) { return nil, nil },
	}
	u := newDispatch(t, dispatchFakes{workers: workers, runs: runs})

	envelope, err := u.Poll(context.Background(), "w-1", testWorkspace)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if envelope != nil {
		t.Errorf("envelope = %+v, want nil", envelope)
	}
}

func TestPoll_WrongWorkspace(t *testing.T) {
	workers := &fakeWorkerRepo{
		getByID: func(_ context.Context, _ string) (*domain.Worker, error) {
			return &domain.Worker{ID: "w-1", WorkspaceID: "other"}, nil
		},
	}
	u := newDispatch(t, dispatchFakes{workers: workers})

	_, err := u.Poll(context.Background(), "w-1", testWorkspace)
	if !errors.Is(err, domain.ErrWorkerNotFound) {
		t.Errorf("want ErrWorkerNotFound, got %v", err)
	}
}

func TestPoll_UndecryptableCredentialSkipped(t *testing.T) {
	box := newTestBox(t)
	sealed, err := box.Encrypt("good-value")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	run := &domain.JobRun{
		ID:            "run-1",
		WorkspaceID:   testWorkspace,
		Status:        domain.RunAssigned,
		CredentialIDs: []string{"good", "rotated"},
		CreatedAt:     time.Now(),
	}
	workers := &fakeWorkerRepo{
		getByID: func(_ context.Context, _ string) (*domain.Worker, error) {
			return idleWorker("w-1", nil), nil
		},
	}
	runs := &fakeRunRepo{
		claim: func(_ context.Context, _ *domain.Worker) (*domain.JobRun, error) { return run, nil },
	}
	creds := &fakeCredentialRepo{
		getByNames: func(_ context.Context, _ string, _ []string) ([]*domain.Credential, error) {
			return []*domain.Credential{
				{Name: "good", EnvVar: "GOOD", EncryptedValue: sealed},
				{Name: "rotated", EnvVar: "ROTATED", EncryptedValue: "not-a-ciphertext"},
			}, nil
		},
	}
	skills := &fakeSkillRepo{
		listByNames: func(_ context.Context, _ string, _ *[]string) ([]*domain.Skill, error) {
			return nil, nil
		},
	}
	u := newDispatch(t, dispatchFakes{workers: workers, runs: runs, creds: creds, skills: skills})

	envelope, err := u.Poll(context.Background(), "w-1", testWorkspace)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := envelope.Credentials["GOOD"]; got != "good-value" {
		t.Errorf("GOOD = %q", got)
	}
	if _, present := envelope.Credentials["ROTATED"]; present {
		t.Error("undecryptable credential must be skipped, not shipped")
	}
}

func TestPoll_SkillErrorStillShipsRun(t *testing.T) {
	// The claim has already committed when skill resolution runs; an error
	// there must not strand the run in assigned with no envelope.
	empty := []string{}
	run := &domain.JobRun{
		ID:          "run-1",
		WorkspaceID: testWorkspace,
		Status:      domain.RunAssigned,
		SkillIDs:    &empty,
		CreatedAt:   time.Now(),
	}
	workers := &fakeWorkerRepo{
		getByID: func(_ context.Context, _ string) (*domain.Worker, error) {
			return idleWorker("w-1", nil), nil
		},
	}
	runs := &fakeRunRepo{
		claim: func(_ context.Context, _ *domain.Worker) (*domain.JobRun, error) { return run, nil },
	}
	skills := &fakeSkillRepo{
		listByNames: func(_ context.Context, _ string, _ *[]string) ([]*domain.Skill, error) {
			return nil, errors.New("skill table unavailable")
		},
	}
	u := newDispatch(t, dispatchFakes{workers: workers, runs: runs, skills: skills})

	envelope, err := u.Poll(context.Background(), "w-1", testWorkspace)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if envelope == nil || envelope.Run.ID != "run-1" {
		t.Fatalf("envelope = %+v, want the claimed run", envelope)
	}
	if len(envelope.Skills) != 0 {
		t.Errorf("skills = %+v, want none", envelope.Skills)
	}
}

// ---- AppendLogs ----

func TestAppendLogs_StampsRunID(t *testing.T) {
	logs := newFakeLogRepo()
	runs := &fakeRunRepo{
		getByID: func(_ context.Context, id, _ string) (*domain.JobRun, error) {
			return &domain.JobRun{ID: id, WorkspaceID: testWorkspace, Status: domain.RunRunning}, nil
		},
	}
	u := newDispatch(t, dispatchFakes{runs: runs, logs: logs})

	batch := []domain.LogLine{
		{Sequence: 1, Stream: domain.StreamStdout, Line: "starting"},
		{Sequence: 2, Stream: domain.StreamStderr, Line: "warning"},
	}
	if err := u.AppendLogs(context.Background(), "run-1", testWorkspace, batch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stored := logs.appended["run-1"]
	if len(stored) != 2 {
		t.Fatalf("stored %d lines, want 2", len(stored))
	}
	for _, l := range stored {
		if l.RunID != "run-1" {
			t.Errorf("line %d has RunID %q", l.Sequence, l.RunID)
		}
	}
}

func TestAppendLogs_UnknownRun(t *testing.T) {
	runs := &fakeRunRepo{
		getByID: func(_ context.Context, _, _ string) (*domain.JobRun, error) {
			return nil, domain.ErrRunNotFound
		},
	}
	u := newDispatch(t, dispatchFakes{runs: runs})

	err := u.AppendLogs(context.Background(), "nope", testWorkspace, []domain.LogLine{{Sequence: 1, Line: "x"}})
	if !errors.Is(err, domain.ErrRunNotFound) {
		t.Errorf("want ErrRunNotFound, got %v", err)
	}
}

// ---- UploadArtifact ----

func TestUploadArtifact_StoresUnderRunKey(t *testing.T) {
	store := newFakeObjectStore()
	runs := &fakeRunRepo{
		getByID: func(_ context.Context, id, _ string) (*domain.JobRun, error) {
			return &domain.JobRun{ID: id, WorkspaceID: testWorkspace, Status: domain.RunRunning}, nil
		},
	}
	artifacts := &fakeArtifactRepo{
		create: func(_ context.Context, a *domain.Artifact) (*domain.Artifact, error) {
			a.ID = "art-1"
			return a, nil
		},
	}
	u := newDispatch(t, dispatchFakes{runs: runs, artifacts: artifacts, store: store})

	got, err := u.UploadArtifact(context.Background(), "run-1", testWorkspace, "report.txt", "", strings.NewReader("contents"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.objects["run-1/report.txt"] != "contents" {
		t.Errorf("stored objects: %v", store.objects)
	}
	if got.StoragePath != "run-1/report.txt" {
		t.Errorf("StoragePath = %q", got.StoragePath)
	}
	if got.ContentType != "application/octet-stream" {
		t.Errorf("ContentType = %q, want the octet-stream default", got.ContentType)
	}
	if got.SizeBytes != int64(len("contents")) {
		t.Errorf("SizeBytes = %d", got.SizeBytes)
	}
}

// ---- CompleteRun ----

func TestCompleteRun_RejectsServerOnlyStatuses(t *testing.T) {
	runs := &fakeRunRepo{
		getByID: func(_ context.Context, id, _ string) (*domain.JobRun, error) {
			return &domain.JobRun{ID: id, WorkspaceID: testWorkspace, Status: domain.RunRunning}, nil
		},
	}
	u := newDispatch(t, dispatchFakes{runs: runs})

	for _, status := range []string{"timeout", "cancelled", "running", "bogus"} {
		_, err := u.CompleteRun(context.Background(), "w-1", "run-1", testWorkspace, status, nil, nil)
		if !errors.Is(err, usecase.ErrInvalidRunStatus) {
			t.Errorf("status %q: want ErrInvalidRunStatus, got %v", status, err)
		}
	}
}

func TestCompleteRun_FreesReportingWorker(t *testing.T) {
	var gotWorkerID string
	var gotStatus domain.RunStatus
	exitCode := 0
	runs := &fakeRunRepo{
		getByID: func(_ context.Context, id, _ string) (*domain.JobRun, error) {
			return &domain.JobRun{ID: id, WorkspaceID: testWorkspace, Status: domain.RunRunning}, nil
		},
		complete: func(_ context.Context, id, workerID string, status domain.RunStatus, result *string, code *int) (*domain.JobRun, bool, error) {
			gotWorkerID = workerID
			gotStatus = status
			return &domain.JobRun{ID: id, Status: status, Result: result, ExitCode: code, AttemptNumber: 1}, true, nil
		},
	}
	u := newDispatch(t, dispatchFakes{runs: runs})

	result := "all good"
	run, err := u.CompleteRun(context.Background(), "w-1", "run-1", testWorkspace, "completed", &result, &exitCode)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotWorkerID != "w-1" {
		t.Errorf("workerID = %q, want the reporting worker", gotWorkerID)
	}
	if gotStatus != domain.RunCompleted || run.Status != domain.RunCompleted {
		t.Errorf("status = %q / %q", gotStatus, run.Status)
	}
}

// ---- ListWorkers ----

func TestListWorkers_SweepsStaleFirst(t *testing.T) {
	var sweptCutoff time.Time
	workers := &fakeWorkerRepo{
		markStale: func(_ context.Context, cutoff time.Time, _ int) ([]*domain.Worker, error) {
			sweptCutoff = cutoff
			return nil, nil
		},
		list: func(_ context.Context, _ string) ([]*domain.Worker, error) {
			return []*domain.Worker{idleWorker("w-1", nil)}, nil
		},
	}
	u := newDispatch(t, dispatchFakes{workers: workers})

	got, err := u.ListWorkers(context.Background(), testWorkspace, 90*time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d workers", len(got))
	}
	wantCutoff := time.Now().Add(-90 * time.Second)
	if sweptCutoff.Before(wantCutoff.Add(-5*time.Second)) || sweptCutoff.After(wantCutoff.Add(5*time.Second)) {
		t.Errorf("cutoff = %v, want about %v", sweptCutoff, wantCutoff)
	}
}
