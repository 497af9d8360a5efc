package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"
)

// Client talks to the control plane's worker API. Every request carries the
// worker's bearer key and workspace header.
type Client struct {
	serverURL   string
	apiKey      string
	workspaceID string
	http        *http.Client
}

func NewClient(serverURL, apiKey, workspaceID string) *Client {
	return &Client{
		serverURL:   strings.TrimRight(serverURL, "/"),
		apiKey:      apiKey,
		workspaceID: workspaceID,
		http:        &http.Client{Timeout: 30 * time.Second},
	}
}

// Envelope is the dispatch payload handed out by a successful poll.
type Envelope struct {
	RunID          string            `json:"run_id"`
	Name           string            `json:"name"`
	TaskPrompt     string            `json:"task_prompt"`
	AgentType      string            `json:"agent_type"`
	AgentConfig    map[string]any    `json:"agent_config"`
	MCPServers     []map[string]any  `json:"mcp_servers"`
	EnvVars        map[string]string `json:"env_vars"`
	Credentials    map[string]string `json:"credentials"`
	Skills         []Skill           `json:"skills"`
	TimeoutSeconds int               `json:"timeout_seconds"`
}

// Skill is a skill bundle inside the envelope. Files carry signed download
// URLs; the bytes themselves are fetched separately.
type Skill struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Instructions string      `json:"instructions"`
	AllowedTools *string     `json:"allowed_tools"`
	Files        []SkillFile `json:"files"`
}

type SkillFile struct {
	FilePath       string `json:"file_path"`
	SizeBytes      int64  `json:"size_bytes"`
	ChecksumSHA256 string `json:"checksum_sha256"`
	ContentType    string `json:"content_type"`
	DownloadURL    string `json:"download_url"`
}

// LogLine is one captured output line. Sequences are per-run and 1-based.
type LogLine struct {
	Sequence int    `json:"sequence"`
	Stream   string `json:"stream"`
	Line     string `json:"line"`
}

// Register announces the worker and returns its server-assigned ID.
func (c *Client) Register(ctx context.Context, name string, labels map[string]string) (string, error) {
	if labels == nil {
		labels = map[string]string{}
	}
	body := map[string]any{"name": name, "labels": labels}

	var out struct {
		ID string `json:"id"`
	}
	if err := c.postJSON(ctx, "/api/v1/workers/register", nil, body, &out); err != nil {
		return "", fmt.Errorf("register worker: %w", err)
	}
	return out.ID, nil
}

// Heartbeat refreshes the liveness window. The returned run ID is non-empty
// when the server wants the worker's current run aborted.
func (c *Client) Heartbeat(ctx context.Context, workerID string) (cancelRunID string, err error) {
	body := map[string]any{"worker_id": workerID, "status": "online"}

	var out struct {
		Status      string  `json:"status"`
		CancelRunID *string `json:"cancel_run_id"`
	}
	if err := c.postJSON(ctx, "/api/v1/workers/heartbeat", nil, body, &out); err != nil {
		return "", fmt.Errorf("heartbeat: %w", err)
	}
	if out.CancelRunID != nil {
		cancelRunID = *out.CancelRunID
	}
	return cancelRunID, nil
}

// Poll asks for work. A nil envelope means nothing was eligible.
func (c *Client) Poll(ctx context.Context, workerID string) (*Envelope, error) {
	query := url.Values{"worker_id": {workerID}}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/workers/poll", query, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll: %w", responseError(resp))
	}

	var envelope Envelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("poll: decode envelope: %w", err)
	}
	return &envelope, nil
}

// PostLogs appends a batch of output lines to the run's durable log.
func (c *Client) PostLogs(ctx context.Context, runID string, lines []LogLine) error {
	body := map[string]any{"lines": lines}
	path := fmt.Sprintf("/api/v1/workers/runs/%s/logs", runID)
	if err := c.postJSON(ctx, path, nil, body, nil); err != nil {
		return fmt.Errorf("post logs: %w", err)
	}
	return nil
}

// UploadArtifact stores a file produced by the run.
func (c *Client) UploadArtifact(ctx context.Context, runID, filename, contentType string, data []byte) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename))
	header.Set("Content-Type", contentType)
	part, err := mw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("upload artifact: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("upload artifact: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("upload artifact: %w", err)
	}

	path := fmt.Sprintf("/api/v1/workers/runs/%s/artifacts", runID)
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload artifact: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("upload artifact: %w", responseError(resp))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// CompleteRun reports the run's terminal outcome.
func (c *Client) CompleteRun(ctx context.Context, runID, workerID, status string, result *string, exitCode *int) error {
	query := url.Values{"worker_id": {workerID}}
	body := map[string]any{
		"status":    status,
		"result":    result,
		"exit_code": exitCode,
	}
	path := fmt.Sprintf("/api/v1/workers/runs/%s/complete", runID)
	if err := c.postJSON(ctx, path, query, body, nil); err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	return nil
}

// DownloadSkillFile fetches a skill file via its signed URL from the
// envelope. The token in the URL authenticates the request.
func (c *Client) DownloadSkillFile(ctx context.Context, downloadURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("download skill file: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download skill file: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download skill file: %w", responseError(resp))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("download skill file: %w", err)
	}
	return data, nil
}

// Ping checks that the control plane is reachable. It backs the worker's
// readiness probe.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.serverURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Workspace-ID", c.workspaceID)
	return req, nil
}

func (c *Client) postJSON(ctx context.Context, path string, query url.Values, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, query, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// responseError turns a non-2xx response into an error carrying the status
// and a truncated body for context.
func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return fmt.Errorf("server returned status %d: %s", resp.StatusCode, msg)
}
