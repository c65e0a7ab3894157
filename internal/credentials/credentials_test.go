package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/artwise/artwise/internal/realtime/protocol"
	"github.com/artwise/artwise/internal/realtime/transport"
	"github.com/artwise/artwise/internal/reliability"
)

func TestIssuerIssue(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"id":"sess_1","model":"gpt-4o-realtime-preview","client_secret":{"value":"ek_1","expires_at":1893456000}}`))
	}))
	defer srv.Close()

	iss, err := NewIssuer(IssuerConfig{
		APIKey:      "sk-test",
		SessionsURL: srv.URL,
		RealtimeURL: "https://rt.example/v1/realtime",
		Model:       "gpt-4o-realtime-preview",
		Voice:       "alloy",
		HTTPClient:  srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}

	h, err := iss.Issue(context.Background(), protocol.SessionConfig{
		Modalities:    []protocol.Modality{protocol.ModalityAudio, protocol.ModalityText},
		TurnDetection: &protocol.TurnDetection{Type: protocol.TurnDetectionServerVAD, Threshold: 0.8, SilenceDurationMs: 1000},
	})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if h.SessionID != "sess_1" || h.Token != "ek_1" || h.EndpointURL != "https://rt.example/v1/realtime" {
		t.Fatalf("handle = %+v", h)
	}
	if !h.ExpiresAt.Equal(time.Unix(1893456000, 0)) {
		t.Fatalf("ExpiresAt = %v", h.ExpiresAt)
	}
	if got["model"] != "gpt-4o-realtime-preview" || got["voice"] != "alloy" {
		t.Fatalf("upstream body = %v", got)
	}
	td, _ := got["turn_detection"].(map[string]any)
	if td["threshold"] != 0.8 || td["silence_duration_ms"] != float64(1000) {
		t.Fatalf("turn detection altered: %v", td)
	}
}

func TestIssuerUpstreamFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	iss, err := NewIssuer(IssuerConfig{
		APIKey:      "sk",
		SessionsURL: srv.URL,
		HTTPClient:  srv.Client(),
		Retry:       reliability.Policy{Attempts: 2, Base: time.Millisecond, Cap: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	_, err = iss.Issue(context.Background(), protocol.SessionConfig{})
	var upstream *UpstreamError
	if !errors.As(err, &upstream) || upstream.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("Issue() error = %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("upstream calls = %d, want 2", got)
	}
}

func TestIssuerRetriesTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id":"sess_retry","model":"m","client_secret":{"value":"ek","expires_at":0}}`))
	}))
	defer srv.Close()

	iss, err := NewIssuer(IssuerConfig{
		APIKey:      "sk",
		SessionsURL: srv.URL,
		HTTPClient:  srv.Client(),
		Retry:       reliability.Policy{Attempts: 3, Base: time.Millisecond, Cap: time.Millisecond},
	})
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	h, err := iss.Issue(context.Background(), protocol.SessionConfig{})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if h.SessionID != "sess_retry" || calls.Load() != 2 {
		t.Fatalf("handle = %+v after %d calls", h, calls.Load())
	}
}

func TestIssuerDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer srv.Close()

	iss, err := NewIssuer(IssuerConfig{APIKey: "sk", SessionsURL: srv.URL, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	if _, err := iss.Issue(context.Background(), protocol.SessionConfig{}); err == nil {
		t.Fatalf("expected error")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("upstream calls = %d, want 1", got)
	}
}

func TestIssuerRejectsInvalidConfig(t *testing.T) {
	iss, err := NewIssuer(IssuerConfig{APIKey: "sk", SessionsURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("NewIssuer() error = %v", err)
	}
	_, err = iss.Issue(context.Background(), protocol.SessionConfig{Modalities: []protocol.Modality{"video"}})
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestNewIssuerRequiresKey(t *testing.T) {
	if _, err := NewIssuer(IssuerConfig{}); err == nil {
		t.Fatalf("expected error without api key")
	}
}

func TestRegistryAddAndLookup(t *testing.T) {
	r := NewRegistry(time.Minute, nil)
	g := r.Add("u1", transport.Handle{SessionID: "sess_1", Model: "m"})
	if g.ID == "" || g.ExpiresAt.IsZero() {
		t.Fatalf("grant = %+v", g)
	}
	got, err := r.ByRemoteSession("sess_1")
	if err != nil || got.ID != g.ID || got.UserID != "u1" {
		t.Fatalf("ByRemoteSession() = %+v, %v", got, err)
	}
	if _, err := r.Get("missing"); !errors.Is(err, ErrGrantNotFound) {
		t.Fatalf("Get() error = %v", err)
	}
	if r.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d", r.ActiveCount())
	}
}

func TestRegistryJanitorExpiresGrants(t *testing.T) {
	r := NewRegistry(time.Hour, nil)
	expiredCh := make(chan Grant, 1)
	r.SetExpireHook(func(g Grant) { expiredCh <- g })

	g := r.Add("u1", transport.Handle{SessionID: "sess_old", ExpiresAt: time.Now().Add(20 * time.Millisecond)})
	r.Add("u2", transport.Handle{SessionID: "sess_new"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.StartJanitor(ctx, 10*time.Millisecond)

	select {
	case got := <-expiredCh:
		if got.ID != g.ID {
			t.Fatalf("expired %q, want %q", got.ID, g.ID)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for grant expiry")
	}
	if _, err := r.ByRemoteSession("sess_old"); !errors.Is(err, ErrGrantNotFound) {
		t.Fatalf("expired grant still indexed: %v", err)
	}
	if r.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", r.ActiveCount())
	}
}

func TestRegistryOwnershipOutlivesGrant(t *testing.T) {
	r := NewRegistry(time.Minute, nil)
	now := time.Now().UTC()
	r.now = func() time.Time { return now }
	r.Add("u1", transport.Handle{SessionID: "sess_1", ExpiresAt: now.Add(time.Second)})

	now = now.Add(time.Minute)
	r.expire()
	if _, err := r.ByRemoteSession("sess_1"); !errors.Is(err, ErrGrantNotFound) {
		t.Fatalf("grant not expired: %v", err)
	}
	if owner, ok := r.OwnerOf("sess_1"); !ok || owner != "u1" {
		t.Fatalf("OwnerOf() = %q, %v after grant expiry", owner, ok)
	}

	now = now.Add(ownerRetention)
	r.expire()
	if _, ok := r.OwnerOf("sess_1"); ok {
		t.Fatalf("ownership kept past retention")
	}
}
