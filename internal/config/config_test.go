package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/artwise/artwise/internal/realtime/protocol"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" || cfg.RealtimeTransport != "webrtc" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.FreeIncludedCredits != 1000 {
		t.Fatalf("FreeIncludedCredits = %d, want 1000", cfg.FreeIncludedCredits)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
	if len(cfg.ICEServers) != 1 {
		t.Fatalf("ICEServers = %v", cfg.ICEServers)
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("REALTIME_TRANSPORT", "WebSocket")
	t.Setenv("REALTIME_VAD_THRESHOLD", "0.8")
	t.Setenv("REALTIME_VAD_SILENCE", "1s")
	t.Setenv("REALTIME_ICE_SERVERS", "stun:a.example:3478, turn:b.example:3478")
	t.Setenv("FREE_INCLUDED_CREDITS", "25")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RealtimeTransport != "websocket" {
		t.Fatalf("RealtimeTransport = %q", cfg.RealtimeTransport)
	}
	if cfg.VADThreshold != 0.8 || cfg.VADSilence != time.Second {
		t.Fatalf("VAD = %v / %v", cfg.VADThreshold, cfg.VADSilence)
	}
	if len(cfg.ICEServers) != 2 || cfg.ICEServers[1] != "turn:b.example:3478" {
		t.Fatalf("ICEServers = %v", cfg.ICEServers)
	}
	if cfg.FreeIncludedCredits != 25 || !cfg.AllowAnyOrigin {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"REALTIME_TRANSPORT":         "carrier-pigeon",
		"REALTIME_VAD_THRESHOLD":     "1.5",
		"REALTIME_TURN_DETECTION":    "semantic",
		"REALTIME_NEGOTIATE_TIMEOUT": "0s",
		"FREE_INCLUDED_CREDITS":      "-1",
		"APP_SHUTDOWN_TIMEOUT":       "soon",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q should fail", key, value)
			}
		})
	}
}

func TestSessionConfigPassesTurnDetectionThrough(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("REALTIME_VAD_THRESHOLD", "0.8")
	t.Setenv("REALTIME_VAD_SILENCE", "1000ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	sc, err := cfg.SessionConfig()
	if err != nil {
		t.Fatalf("SessionConfig() error = %v", err)
	}
	td := sc.TurnDetection
	if td == nil || td.Type != protocol.TurnDetectionServerVAD || td.Threshold != 0.8 || td.SilenceDurationMs != 1000 || td.PrefixPaddingMs != 300 {
		t.Fatalf("TurnDetection = %+v", td)
	}
	if !sc.HasModality(protocol.ModalityAudio) || !sc.HasModality(protocol.ModalityText) {
		t.Fatalf("Modalities = %v", sc.Modalities)
	}
}

func TestSessionConfigPresetOverlay(t *testing.T) {
	setCoreEnvEmpty(t)
	preset := filepath.Join(t.TempDir(), "preset.yaml")
	doc := `modalities: [text]
instructions: You are a museum guide.
seed_context: Starry Night, 1889, oil on canvas.
turn_detection:
  silence_duration_ms: 1200
`
	if err := os.WriteFile(preset, []byte(doc), 0o600); err != nil {
		t.Fatalf("write preset: %v", err)
	}
	t.Setenv("REALTIME_PRESET_FILE", preset)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	sc, err := cfg.SessionConfig()
	if err != nil {
		t.Fatalf("SessionConfig() error = %v", err)
	}
	if len(sc.Modalities) != 1 || sc.Modalities[0] != protocol.ModalityText {
		t.Fatalf("Modalities = %v", sc.Modalities)
	}
	if sc.Instructions != "You are a museum guide." || sc.SeedContext == "" {
		t.Fatalf("preset text not applied: %+v", sc)
	}
	if sc.TurnDetection.SilenceDurationMs != 1200 || sc.TurnDetection.Threshold != 0.5 {
		t.Fatalf("TurnDetection = %+v", sc.TurnDetection)
	}
	if sc.Voice != "alloy" {
		t.Fatalf("Voice = %q, default should survive overlay", sc.Voice)
	}
}

func TestSessionConfigBadPreset(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("REALTIME_PRESET_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := cfg.SessionConfig(); err == nil {
		t.Fatalf("expected error for missing preset")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_LOG_LEVEL",
		"APP_LOG_FORMAT",
		"APP_ALLOW_ANY_ORIGIN",
		"DATABASE_URL",
		"FREE_INCLUDED_CREDITS",
		"OPENAI_API_KEY",
		"OPENAI_REALTIME_SESSIONS_URL",
		"OPENAI_REALTIME_URL",
		"OPENAI_REALTIME_MODEL",
		"OPENAI_REALTIME_VOICE",
		"REALTIME_CREDENTIAL_TTL",
		"REALTIME_TRANSCRIPTION_MODEL",
		"REALTIME_TURN_DETECTION",
		"REALTIME_VAD_THRESHOLD",
		"REALTIME_VAD_PREFIX_PADDING",
		"REALTIME_VAD_SILENCE",
		"REALTIME_TRANSPORT",
		"REALTIME_NEGOTIATE_TIMEOUT",
		"REALTIME_ICE_SERVERS",
		"REALTIME_PRESET_FILE",
		"ARTWISE_BACKEND_URL",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
