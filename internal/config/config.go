package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/artwise/artwise/internal/realtime/protocol"
)

// Config contains all runtime settings for the credential backend and the realtime client.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string
	LogFormat        string

	AllowAnyOrigin bool

	DatabaseURL         string
	FreeIncludedCredits int64

	OpenAIAPIKey              string
	OpenAIRealtimeSessionsURL string
	OpenAIRealtimeURL         string
	CredentialTTL             time.Duration

	RealtimeModel      string
	RealtimeVoice      string
	TranscriptionModel string
	TurnDetection      string
	VADThreshold       float64
	VADPrefixPadding   time.Duration
	VADSilence         time.Duration
	RealtimeTransport  string
	NegotiateTimeout   time.Duration
	ICEServers         []string
	PresetFile         string
	BackendURL         string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                  envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:          envOrDefault("APP_METRICS_NAMESPACE", "artwise"),
		LogLevel:                  envOrDefault("APP_LOG_LEVEL", "info"),
		LogFormat:                 envOrDefault("APP_LOG_FORMAT", "console"),
		AllowAnyOrigin:            false,
		DatabaseURL:               stringsTrimSpace("DATABASE_URL"),
		FreeIncludedCredits:       1000,
		OpenAIAPIKey:              stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIRealtimeSessionsURL: envOrDefault("OPENAI_REALTIME_SESSIONS_URL", "https://api.openai.com/v1/realtime/sessions"),
		OpenAIRealtimeURL:         envOrDefault("OPENAI_REALTIME_URL", "https://api.openai.com/v1/realtime"),
		CredentialTTL:             time.Minute,
		RealtimeModel:             envOrDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview"),
		RealtimeVoice:             envOrDefault("OPENAI_REALTIME_VOICE", "alloy"),
		TranscriptionModel:        envOrDefault("REALTIME_TRANSCRIPTION_MODEL", "whisper-1"),
		TurnDetection:             envOrDefault("REALTIME_TURN_DETECTION", protocol.TurnDetectionServerVAD),
		VADThreshold:              0.5,
		VADPrefixPadding:          300 * time.Millisecond,
		VADSilence:                500 * time.Millisecond,
		RealtimeTransport:         strings.ToLower(envOrDefault("REALTIME_TRANSPORT", "webrtc")),
		NegotiateTimeout:          30 * time.Second,
		ICEServers:                []string{"stun:stun.l.google.com:19302"},
		PresetFile:                stringsTrimSpace("REALTIME_PRESET_FILE"),
		BackendURL:                envOrDefault("ARTWISE_BACKEND_URL", "http://localhost:8080"),
		ShutdownTimeout:           15 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.FreeIncludedCredits, err = int64FromEnv("FREE_INCLUDED_CREDITS", cfg.FreeIncludedCredits)
	if err != nil {
		return Config{}, err
	}
	cfg.CredentialTTL, err = durationFromEnv("REALTIME_CREDENTIAL_TTL", cfg.CredentialTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.VADThreshold, err = floatFromEnv("REALTIME_VAD_THRESHOLD", cfg.VADThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.VADPrefixPadding, err = durationFromEnv("REALTIME_VAD_PREFIX_PADDING", cfg.VADPrefixPadding)
	if err != nil {
		return Config{}, err
	}
	cfg.VADSilence, err = durationFromEnv("REALTIME_VAD_SILENCE", cfg.VADSilence)
	if err != nil {
		return Config{}, err
	}
	cfg.NegotiateTimeout, err = durationFromEnv("REALTIME_NEGOTIATE_TIMEOUT", cfg.NegotiateTimeout)
	if err != nil {
		return Config{}, err
	}
	if v, ok := os.LookupEnv("REALTIME_ICE_SERVERS"); ok && trimSpace(v) != "" {
		cfg.ICEServers = splitList(v)
	}

	if cfg.FreeIncludedCredits < 0 {
		return Config{}, fmt.Errorf("FREE_INCLUDED_CREDITS must be >= 0")
	}
	if cfg.VADThreshold < 0 || cfg.VADThreshold > 1 {
		return Config{}, fmt.Errorf("REALTIME_VAD_THRESHOLD must be within [0,1]")
	}
	if cfg.VADPrefixPadding < 0 || cfg.VADSilence < 0 {
		return Config{}, fmt.Errorf("REALTIME_VAD_PREFIX_PADDING and REALTIME_VAD_SILENCE must not be negative")
	}
	if cfg.NegotiateTimeout <= 0 {
		return Config{}, fmt.Errorf("REALTIME_NEGOTIATE_TIMEOUT must be positive")
	}
	switch cfg.RealtimeTransport {
	case "webrtc", "websocket":
	default:
		return Config{}, fmt.Errorf("REALTIME_TRANSPORT must be webrtc or websocket, got %q", cfg.RealtimeTransport)
	}
	switch cfg.TurnDetection {
	case protocol.TurnDetectionServerVAD, protocol.TurnDetectionNone:
	default:
		return Config{}, fmt.Errorf("REALTIME_TURN_DETECTION must be %s or %s", protocol.TurnDetectionServerVAD, protocol.TurnDetectionNone)
	}

	return cfg, nil
}

// SessionConfig builds the default realtime session config, overlaid with the preset file
// when one is configured.
func (c Config) SessionConfig() (protocol.SessionConfig, error) {
	sc := protocol.SessionConfig{
		Model:                   c.RealtimeModel,
		Modalities:              []protocol.Modality{protocol.ModalityAudio, protocol.ModalityText},
		Voice:                   c.RealtimeVoice,
		InputAudioFormat:        "pcm16",
		OutputAudioFormat:       "pcm16",
		InputAudioTranscription: &protocol.InputAudioTranscription{Model: c.TranscriptionModel},
		TurnDetection: &protocol.TurnDetection{
			Type:              c.TurnDetection,
			Threshold:         c.VADThreshold,
			PrefixPaddingMs:   int(c.VADPrefixPadding.Milliseconds()),
			SilenceDurationMs: int(c.VADSilence.Milliseconds()),
		},
	}
	if c.TurnDetection == protocol.TurnDetectionNone {
		sc.TurnDetection = &protocol.TurnDetection{Type: protocol.TurnDetectionNone}
	}
	if c.PresetFile == "" {
		return sc, nil
	}

	raw, err := os.ReadFile(c.PresetFile)
	if err != nil {
		return protocol.SessionConfig{}, fmt.Errorf("read preset %s: %w", c.PresetFile, err)
	}
	// yaml.v3 only touches fields present in the document.
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return protocol.SessionConfig{}, fmt.Errorf("parse preset %s: %w", c.PresetFile, err)
	}
	if err := sc.Validate(); err != nil {
		return protocol.SessionConfig{}, fmt.Errorf("preset %s: %w", c.PresetFile, err)
	}
	return sc, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	return strings.TrimSpace(v)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := trimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func int64FromEnv(key string, fallback int64) (int64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
