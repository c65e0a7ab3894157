package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/artwise/artwise/internal/config"
	"github.com/artwise/artwise/internal/realtime/protocol"
	"github.com/artwise/artwise/internal/realtime/session"
)

func testConfig(namespace string) config.Config {
	return config.Config{
		MetricsNamespace:    namespace,
		FreeIncludedCredits: 5,
		CredentialTTL:       time.Minute,
		RealtimeModel:       "gpt-4o-realtime-preview",
		RealtimeVoice:       "alloy",
		TranscriptionModel:  "whisper-1",
		TurnDetection:       protocol.TurnDetectionServerVAD,
		VADThreshold:        0.5,
		VADPrefixPadding:    300 * time.Millisecond,
		VADSilence:          500 * time.Millisecond,
		RealtimeTransport:   "websocket",
		NegotiateTimeout:    time.Second,
		BackendURL:          "http://127.0.0.1:1",
	}
}

func TestBuildInMemoryWithoutIssuer(t *testing.T) {
	built, err := Build(context.Background(), testConfig("test_app_build"), zerolog.Nop())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
	}()
	if built.StoreMode != "in-memory" {
		t.Fatalf("StoreMode = %q, want in-memory", built.StoreMode)
	}

	acct, err := built.Ledger.Account(context.Background(), "user-1")
	if err != nil || acct.AvailableCredits != 5 {
		t.Fatalf("Account() = %+v, %v", acct, err)
	}

	ts := httptest.NewServer(built.API.Router())
	defer ts.Close()
	res, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("readyz without api key = %d, want 503", res.StatusCode)
	}
}

func TestBuildClientTextMode(t *testing.T) {
	client, err := BuildClient(testConfig("test_app_client_text"), zerolog.Nop(), "user-1", "TEXT")
	if err != nil {
		t.Fatalf("BuildClient() error = %v", err)
	}
	defer client.Close()

	if client.Mode != ModeText {
		t.Fatalf("Mode = %q, want text", client.Mode)
	}
	if len(client.Config.Modalities) != 1 || client.Config.Modalities[0] != protocol.ModalityText {
		t.Fatalf("Modalities = %v", client.Config.Modalities)
	}
	if client.Config.TurnDetection != nil {
		t.Fatalf("text mode kept turn detection %+v", client.Config.TurnDetection)
	}
	if _, err := client.Adapter(ModePTT); err == nil {
		t.Fatalf("text mode handed out a capture adapter")
	}
	if err := client.Record(t.TempDir() + "/out.wav"); err == nil {
		t.Fatalf("text mode accepted a recording")
	}
	if got := client.Controller.Bus().HandlerCount(protocol.EventResponseDone); got != 1 {
		t.Fatalf("usage hook handlers = %d, want 1", got)
	}
	if client.Controller.Status() != session.StatusDisconnected {
		t.Fatalf("Status() = %q before connect", client.Controller.Status())
	}
}

func TestBuildClientCloseDetachesHook(t *testing.T) {
	client, err := BuildClient(testConfig("test_app_client_close"), zerolog.Nop(), "user-1", ModeText)
	if err != nil {
		t.Fatalf("BuildClient() error = %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := client.Controller.Bus().HandlerCount(protocol.EventResponseDone); got != 0 {
		t.Fatalf("handlers after Close = %d, want 0", got)
	}
}

func TestBuildClientRejectsBadInput(t *testing.T) {
	cfg := testConfig("test_app_client_bad")
	if _, err := BuildClient(cfg, zerolog.Nop(), " ", ModeText); err == nil {
		t.Fatalf("expected error for empty user")
	}
	if _, err := BuildClient(cfg, zerolog.Nop(), "user-1", "karaoke"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
