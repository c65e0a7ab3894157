package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/artwise/artwise/internal/reliability"
)

// ChargeRequest is the body of POST /v1/users/{userID}/charges.
type ChargeRequest struct {
	UsageType UsageType `json:"usage_type"`
	SessionID string    `json:"session_id,omitempty"`
}

// RemoteLedger reports usage to the backend's billing routes. Clients use it so they never
// hold database credentials.
type RemoteLedger struct {
	baseURL string
	client  *http.Client
	retry   reliability.Policy
}

func NewRemoteLedger(baseURL string, client *http.Client) *RemoteLedger {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteLedger{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		retry:   reliability.DefaultPolicy,
	}
}

// WithRetry replaces the policy used for session reports. Charges are never retried.
func (r *RemoteLedger) WithRetry(p reliability.Policy) *RemoteLedger {
	r.retry = p
	return r
}

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

func retryableReport(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return reliability.IsRetryableHTTPStatus(se.StatusCode)
	}
	return reliability.IsRetryableNetError(err)
}

func (r *RemoteLedger) ChargeUser(ctx context.Context, userID, sessionID string, usage UsageType) error {
	path := "/v1/users/" + url.PathEscape(userID) + "/charges"
	return r.do(ctx, http.MethodPost, path, ChargeRequest{UsageType: usage, SessionID: sessionID})
}

func (r *RemoteLedger) RecordSession(ctx context.Context, summary SessionSummary) error {
	path := "/v1/users/" + url.PathEscape(summary.UserID) + "/sessions/" + url.PathEscape(summary.ID)
	return r.retry.Do(ctx, func(ctx context.Context) error {
		return r.do(ctx, http.MethodPut, path, summary)
	}, retryableReport)
}

func (r *RemoteLedger) do(ctx context.Context, method, path string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", method, path, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
