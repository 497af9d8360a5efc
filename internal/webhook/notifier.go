// Package webhook delivers run completion notifications. Delivery is
// fire-and-forget: the run outcome is already committed before the webhook
// fires, and a dead endpoint never blocks run finalization.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/flightcontrol-io/flightcontrol/internal/domain"
)

// SignatureHeader carries the HMAC-SHA256 of the payload when the job has a
// webhook secret, formatted "sha256=<hex>".
const SignatureHeader = "X-FlightControl-Signature"

const deliveryTimeout = 30 * time.Second

type payload struct {
	RunID           string   `json:"run_id"`
	JobID           *string  `json:"job_id"`
	Status          string   `json:"status"`
	ExitCode        *int     `json:"exit_code"`
	StartedAt       *string  `json:"started_at"`
	CompletedAt     *string  `json:"completed_at"`
	DurationSeconds *float64 `json:"duration_seconds"`
}

type Notifier struct {
	client *http.Client
	logger *slog.Logger
}

func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{
		client: &http.Client{Timeout: deliveryTimeout},
		logger: logger.With("component", "webhook"),
	}
}

// NotifyCompletion posts the terminal run to its webhook URL in the
// background. The response is ignored apart from logging.
func (n *Notifier) NotifyCompletion(run *domain.JobRun) {
	if run.WebhookURL == nil || *run.WebhookURL == "" {
		return
	}
	go n.deliver(run)
}

func (n *Notifier) deliver(run *domain.JobRun) {
	ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
	defer cancel()

	body, err := json.Marshal(buildPayload(run))
	if err != nil {
		n.logger.Error("encode webhook payload", "run_id", run.ID, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, *run.WebhookURL, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("build webhook request", "run_id", run.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "FlightControl-Webhook/1.0")
	if run.WebhookSecret != nil && *run.WebhookSecret != "" {
		req.Header.Set(SignatureHeader, Sign(*run.WebhookSecret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed", "run_id", run.ID, "error", err)
		return
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body) // drain so the connection can be reused by the pool

	n.logger.Info("webhook delivered", "run_id", run.ID, "status", resp.StatusCode)
}

func buildPayload(run *domain.JobRun) payload {
	p := payload{
		RunID:    run.ID,
		JobID:    run.JobDefinitionID,
		Status:   string(run.Status),
		ExitCode: run.ExitCode,
	}
	if run.StartedAt != nil {
		s := run.StartedAt.UTC().Format(time.RFC3339)
		p.StartedAt = &s
	}
	if run.CompletedAt != nil {
		s := run.CompletedAt.UTC().Format(time.RFC3339)
		p.CompletedAt = &s
	}
	if run.StartedAt != nil && run.CompletedAt != nil {
		d := run.CompletedAt.Sub(*run.StartedAt).Seconds()
		p.DurationSeconds = &d
	}
	return p
}

// Sign computes the signature header value for a payload.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
