// Package remote talks to the upstream demo endpoints: session validation
// and the analytics / security event sink.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/al-bashkir/demo-sessiond/internal/analytics"
	"github.com/al-bashkir/demo-sessiond/internal/validator"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 64 << 10

// Client implements validator.Remote and analytics.Sink over HTTP. A
// zero URL disables the corresponding call.
type Client struct {
	httpClient   *http.Client
	validateURL  string
	analyticsURL string
}

// NewClient creates a client. httpClient may carry an oauth2 transport; nil
// selects a client with the given timeout.
func NewClient(httpClient *http.Client, validateURL, analyticsURL string, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		httpClient:   httpClient,
		validateURL:  validateURL,
		analyticsURL: analyticsURL,
	}
}

type validateResponse struct {
	Valid bool `json:"valid"`
}

// ValidateSession posts {sessionId, ipAddress} and reads {valid}. Transport
// failures, non-2xx statuses and undecodable bodies are errors so the
// caller falls back to local validation.
func (c *Client) ValidateSession(ctx context.Context, req validator.Request) (bool, error) {
	if c.validateURL == "" {
		return false, validator.ErrNoRemote
	}

	var out validateResponse
	if err := c.postJSON(ctx, c.validateURL, req, &out); err != nil {
		return false, fmt.Errorf("validate session: %w", err)
	}
	return out.Valid, nil
}

// Send posts an analytics report. Without an analytics URL the report is
// only logged.
func (c *Client) Send(ctx context.Context, report analytics.Report) error {
	if c.analyticsURL == "" {
		slog.Debug("analytics report dropped, no sink configured",
			"session_id", report.SessionID,
			"events", len(report.Events),
		)
		return nil
	}

	if err := c.postJSON(ctx, c.analyticsURL, report, nil); err != nil {
		return fmt.Errorf("send analytics report: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return &StatusError{StatusCode: resp.StatusCode}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}
