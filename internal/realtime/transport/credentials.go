package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/artwise/artwise/internal/realtime"
	"github.com/artwise/artwise/internal/realtime/protocol"
)

const SessionConfigPath = "/v1/realtime/session-config"

// SessionRequest is the body posted to the credential backend.
type SessionRequest struct {
	UserID string                 `json:"user_id"`
	Config protocol.SessionConfig `json:"config"`
}

// CredentialClient asks the trusted backend for an ephemeral, single-use credential.
// It never sees the long-lived upstream key.
type CredentialClient struct {
	baseURL string
	client  *http.Client
}

func NewCredentialClient(baseURL string, client *http.Client) *CredentialClient {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &CredentialClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  client,
	}
}

// CreateSession posts cfg to the backend. Every failure is a *realtime.SessionCreationError.
func (c *CredentialClient) CreateSession(ctx context.Context, userID string, cfg protocol.SessionConfig) (Handle, error) {
	payload, err := json.Marshal(SessionRequest{UserID: userID, Config: cfg})
	if err != nil {
		return Handle{}, &realtime.SessionCreationError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+SessionConfigPath, bytes.NewReader(payload))
	if err != nil {
		return Handle{}, &realtime.SessionCreationError{Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return Handle{}, &realtime.SessionCreationError{Err: fmt.Errorf("send request: %w", err)}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Handle{}, &realtime.SessionCreationError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var h Handle
	if err := json.NewDecoder(res.Body).Decode(&h); err != nil {
		return Handle{}, &realtime.SessionCreationError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if strings.TrimSpace(h.Token) == "" || strings.TrimSpace(h.EndpointURL) == "" {
		return Handle{}, &realtime.SessionCreationError{Err: errors.New("backend returned an incomplete credential")}
	}
	return h, nil
}
