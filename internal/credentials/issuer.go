// Package credentials issues ephemeral realtime credentials on behalf of clients. It is the
// only place the long-lived upstream API key is used.
package credentials

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

	"github.com/artwise/artwise/internal/realtime/protocol"
	"github.com/artwise/artwise/internal/reliability"
	"github.com/artwise/artwise/internal/realtime/transport"
)

const (
	DefaultSessionsURL = "https://api.openai.com/v1/realtime/sessions"
	DefaultRealtimeURL = "https://api.openai.com/v1/realtime"
)

// UpstreamError reports a non-2xx answer from the upstream sessions API.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream sessions api status %d: %s", e.StatusCode, e.Body)
}

func retryableIssue(err error) bool {
	var upstream *UpstreamError
	if errors.As(err, &upstream) {
		return reliability.IsRetryableHTTPStatus(upstream.StatusCode)
	}
	return reliability.IsRetryableNetError(err)
}

type IssuerConfig struct {
	APIKey      string
	SessionsURL string
	RealtimeURL string
	Model       string
	Voice       string
	HTTPClient  *http.Client
	// Retry applies to rate limits, upstream 5xx and network failures. Zero means
	// reliability.DefaultPolicy.
	Retry reliability.Policy
}

// Issuer exchanges a session config for an ephemeral client secret.
type Issuer struct {
	apiKey      string
	sessionsURL string
	realtimeURL string
	model       string
	voice       string
	client      *http.Client
	retry       reliability.Policy
}

func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("upstream api key is required")
	}
	if cfg.SessionsURL == "" {
		cfg.SessionsURL = DefaultSessionsURL
	}
	if cfg.RealtimeURL == "" {
		cfg.RealtimeURL = DefaultRealtimeURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = reliability.DefaultPolicy
	}
	return &Issuer{
		apiKey:      cfg.APIKey,
		sessionsURL: cfg.SessionsURL,
		realtimeURL: cfg.RealtimeURL,
		model:       cfg.Model,
		voice:       cfg.Voice,
		client:      cfg.HTTPClient,
		retry:       cfg.Retry,
	}, nil
}

type upstreamSession struct {
	ID           string `json:"id"`
	Model        string `json:"model"`
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

// Issue posts cfg upstream and returns a handle the client can negotiate with. The model
// and voice fall back to the issuer defaults when cfg leaves them empty.
func (i *Issuer) Issue(ctx context.Context, cfg protocol.SessionConfig) (transport.Handle, error) {
	if err := cfg.Validate(); err != nil {
		return transport.Handle{}, fmt.Errorf("invalid session config: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = i.model
	}
	if cfg.Voice == "" && cfg.HasModality(protocol.ModalityAudio) {
		cfg.Voice = i.voice
	}

	payload, err := json.Marshal(cfg.Upstream())
	if err != nil {
		return transport.Handle{}, fmt.Errorf("marshal upstream session: %w", err)
	}

	var h transport.Handle
	err = i.retry.Do(ctx, func(ctx context.Context) error {
		var err error
		h, err = i.post(ctx, payload, cfg.Model)
		return err
	}, retryableIssue)
	return h, err
}

func (i *Issuer) post(ctx context.Context, payload []byte, model string) (transport.Handle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.sessionsURL, bytes.NewReader(payload))
	if err != nil {
		return transport.Handle{}, fmt.Errorf("create upstream request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+i.apiKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := i.client.Do(req)
	if err != nil {
		return transport.Handle{}, fmt.Errorf("call upstream sessions api: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return transport.Handle{}, &UpstreamError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out upstreamSession
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return transport.Handle{}, fmt.Errorf("decode upstream session: %w", err)
	}
	if out.ClientSecret.Value == "" {
		return transport.Handle{}, errors.New("upstream session has no client secret")
	}

	h := transport.Handle{
		SessionID:   out.ID,
		Token:       out.ClientSecret.Value,
		EndpointURL: i.realtimeURL,
		Model:       out.Model,
	}
	if h.Model == "" {
		h.Model = model
	}
	if out.ClientSecret.ExpiresAt > 0 {
		h.ExpiresAt = time.Unix(out.ClientSecret.ExpiresAt, 0).UTC()
	}
	return h, nil
}
