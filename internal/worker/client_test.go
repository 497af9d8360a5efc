package worker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestClientRegisterSendsAuthAndWorkspace(t *testing.T) {
	var gotPath, gotAuth, gotWorkspace string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotWorkspace = r.Header.Get("X-Workspace-ID")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "w-123"})
	}))
	defer srv.Close()

	// Trailing slash on the server URL must not produce a double slash.
	c := NewClient(srv.URL+"/", "fc_key", "default")

	id, err := c.Register(context.Background(), "worker-a", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "w-123" {
		t.Errorf("id = %q", id)
	}
	if gotPath != "/api/v1/workers/register" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer fc_key" {
		t.Errorf("auth = %q", gotAuth)
	}
	if gotWorkspace != "default" {
		t.Errorf("workspace = %q", gotWorkspace)
	}
	if labels, ok := gotBody["labels"].(map[string]any); !ok || len(labels) != 0 {
		t.Errorf("labels = %v, want empty object not null", gotBody["labels"])
	}
}

func TestClientPollNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	envelope, err := NewClient(srv.URL, "k", "default").Poll(context.Background(), "w-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if envelope != nil {
		t.Errorf("envelope = %+v, want nil when idle", envelope)
	}
}

func TestClientPollDecodesEnvelope(t *testing.T) {
	var gotWorkerID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotWorkerID = r.URL.Query().Get("worker_id")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"run_id":          "run-1",
			"name":            "nightly-report",
			"task_prompt":     "write the report",
			"agent_type":      "goose",
			"env_vars":        map[string]string{"REGION": "eu"},
			"credentials":     map[string]string{"API_TOKEN": "s3cr3t"},
			"timeout_seconds": 900,
			"skills": []map[string]any{{
				"id":    "skill-1",
				"name":  "report-writer",
				"files": []map[string]any{{"file_path": "SKILL.md", "download_url": "http://cp/dl"}},
			}},
		})
	}))
	defer srv.Close()

	envelope, err := NewClient(srv.URL, "k", "default").Poll(context.Background(), "w-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotWorkerID != "w-1" {
		t.Errorf("worker_id = %q", gotWorkerID)
	}
	if envelope.RunID != "run-1" || envelope.AgentType != "goose" || envelope.TimeoutSeconds != 900 {
		t.Errorf("envelope = %+v", envelope)
	}
	if envelope.Credentials["API_TOKEN"] != "s3cr3t" {
		t.Errorf("credentials = %v", envelope.Credentials)
	}
	if len(envelope.Skills) != 1 || envelope.Skills[0].Files[0].DownloadURL != "http://cp/dl" {
		t.Errorf("skills = %+v", envelope.Skills)
	}
}

func TestClientHeartbeatSurfacesCancel(t *testing.T) {
	cancel := "run-9"
	responses := []map[string]any{
		{"status": "ok", "cancel_run_id": &cancel},
		{"status": "ok", "cancel_run_id": nil},
	}
	i := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(responses[i])
		i++
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "k", "default")

	got, err := c.Heartbeat(context.Background(), "w-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "run-9" {
		t.Errorf("cancel run = %q, want run-9", got)
	}

	got, err = c.Heartbeat(context.Background(), "w-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "" {
		t.Errorf("cancel run = %q, want none", got)
	}
}

func TestClientPostLogs(t *testing.T) {
	var gotPath string
	var gotBody struct {
		Lines []LogLine `json:"lines"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]int{"appended": 2})
	}))
	defer srv.Close()

	lines := []LogLine{
		{Sequence: 1, Stream: "stdout", Line: "starting"},
		{Sequence: 2, Stream: "stderr", Line: "warning"},
	}
	if err := NewClient(srv.URL, "k", "default").PostLogs(context.Background(), "run-1", lines); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotPath != "/api/v1/workers/runs/run-1/logs" {
		t.Errorf("path = %q", gotPath)
	}
	if len(gotBody.Lines) != 2 || gotBody.Lines[1].Stream != "stderr" {
		t.Errorf("lines = %+v", gotBody.Lines)
	}
}

func TestClientUploadArtifact(t *testing.T) {
	var gotFilename, gotContentType, gotContent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("form file: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer func() { _ = file.Close() }()
		gotFilename = header.Filename
		gotContentType = header.Header.Get("Content-Type")
		data, _ := io.ReadAll(file)
		gotContent = string(data)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "k", "default").
		UploadArtifact(context.Background(), "run-1", "report.txt", "text/plain", []byte("all clear"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotFilename != "report.txt" || gotContentType != "text/plain" || gotContent != "all clear" {
		t.Errorf("got %q %q %q", gotFilename, gotContentType, gotContent)
	}
}

func TestClientUploadArtifactRequiresCreated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, "k", "default").
		UploadArtifact(context.Background(), "run-1", "a.txt", "text/plain", []byte("x"))
	if err == nil {
		t.Fatal("want error when the server does not confirm creation")
	}
}

func TestClientCompleteRun(t *testing.T) {
	var gotWorkerID string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotWorkerID = r.URL.Query().Get("worker_id")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "failed"})
	}))
	defer srv.Close()

	result := "goose exited non-zero"
	exitCode := 2
	err := NewClient(srv.URL, "k", "default").
		CompleteRun(context.Background(), "run-1", "w-1", "failed", &result, &exitCode)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotWorkerID != "w-1" {
		t.Errorf("worker_id = %q", gotWorkerID)
	}
	if gotBody["status"] != "failed" || gotBody["result"] != result || gotBody["exit_code"] != float64(2) {
		t.Errorf("body = %v", gotBody)
	}
}

func TestClientErrorsCarryResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte("worker already has a run"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "k", "default").Register(context.Background(), "w", nil)
	if err == nil {
		t.Fatal("want error")
	}
	if !strings.Contains(err.Error(), "409") || !strings.Contains(err.Error(), "worker already has a run") {
		t.Errorf("error = %v", err)
	}
}

func TestClientDownloadSkillFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte("#!/bin/sh\n"))
	}))
	defer srv.Close()
	c := NewClient("http://unused.invalid", "k", "default")

	data, err := c.DownloadSkillFile(context.Background(), srv.URL+"/api/v1/skills/s1/files/run.sh?token=tok")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != "#!/bin/sh\n" {
		t.Errorf("data = %q", data)
	}

	if _, err := c.DownloadSkillFile(context.Background(), srv.URL+"/api/v1/skills/s1/files/run.sh"); err == nil {
		t.Error("want error without the signed token")
	}
}

func TestClientPing(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "k", "default")

	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	healthy = false
	if err := c.Ping(context.Background()); err == nil {
		t.Error("want error when the control plane is down")
	}
}
