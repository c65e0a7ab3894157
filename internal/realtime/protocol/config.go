package protocol

import (
	"fmt"
	"strings"
)

// Modality is an output/input channel the realtime model may use.
type Modality string

const (
	ModalityAudio Modality = "audio"
	ModalityText  Modality = "text"
)

const (
	TurnDetectionServerVAD = "server_vad"
	TurnDetectionNone      = "none"
)

// TurnDetection configures how the remote endpoint decides a spoken turn is over.
// The values are forwarded to the endpoint exactly as supplied.
type TurnDetection struct {
	Type              string  `json:"type" yaml:"type"`
	Threshold         float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty" yaml:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty" yaml:"silence_duration_ms,omitempty"`
	CreateResponse    *bool   `json:"create_response,omitempty" yaml:"create_response,omitempty"`
}

type InputAudioTranscription struct {
	Model string `json:"model" yaml:"model"`
}

// SessionConfig is the immutable configuration of one realtime session. It doubles as the
// "session" object of a session.update event and as the body posted to the credential backend.
type SessionConfig struct {
	Model                   string                   `json:"model,omitempty" yaml:"model,omitempty"`
	Modalities              []Modality               `json:"modalities,omitempty" yaml:"modalities,omitempty"`
	Instructions            string                   `json:"instructions,omitempty" yaml:"instructions,omitempty"`
	Voice                   string                   `json:"voice,omitempty" yaml:"voice,omitempty"`
	InputAudioFormat        string                   `json:"input_audio_format,omitempty" yaml:"input_audio_format,omitempty"`
	OutputAudioFormat       string                   `json:"output_audio_format,omitempty" yaml:"output_audio_format,omitempty"`
	InputAudioTranscription *InputAudioTranscription `json:"input_audio_transcription,omitempty" yaml:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection           `json:"turn_detection,omitempty" yaml:"turn_detection,omitempty"`

	// SeedContext is the artwork narrative injected as the first conversation item.
	// It never leaves the client as part of the session object.
	SeedContext string `json:"-" yaml:"seed_context,omitempty"`
}

// Clone returns a deep copy so callers can hand out configs without sharing pointers.
func (c SessionConfig) Clone() SessionConfig {
	out := c
	if c.Modalities != nil {
		out.Modalities = append([]Modality(nil), c.Modalities...)
	}
	if c.InputAudioTranscription != nil {
		t := *c.InputAudioTranscription
		out.InputAudioTranscription = &t
	}
	if c.TurnDetection != nil {
		td := *c.TurnDetection
		if c.TurnDetection.CreateResponse != nil {
			v := *c.TurnDetection.CreateResponse
			td.CreateResponse = &v
		}
		out.TurnDetection = &td
	}
	return out
}

// HasModality reports whether m was requested.
func (c SessionConfig) HasModality(m Modality) bool {
	for _, have := range c.Modalities {
		if have == m {
			return true
		}
	}
	return false
}

// ServerVAD reports whether the endpoint detects turn ends on its own.
func (c SessionConfig) ServerVAD() bool {
	return c.TurnDetection != nil && c.TurnDetection.Type == TurnDetectionServerVAD
}

func (c SessionConfig) Validate() error {
	for _, m := range c.Modalities {
		if m != ModalityAudio && m != ModalityText {
			return fmt.Errorf("unsupported modality %q", m)
		}
	}
	if td := c.TurnDetection; td != nil {
		switch strings.TrimSpace(td.Type) {
		case TurnDetectionServerVAD, TurnDetectionNone:
		default:
			return fmt.Errorf("unsupported turn detection type %q", td.Type)
		}
		if td.Threshold < 0 || td.Threshold > 1 {
			return fmt.Errorf("turn detection threshold must be within [0,1]")
		}
		if td.SilenceDurationMs < 0 || td.PrefixPaddingMs < 0 {
			return fmt.Errorf("turn detection durations must not be negative")
		}
	}
	return nil
}

// Upstream returns the config in the shape the remote endpoint expects. A "none" turn
// detection becomes an explicit null so the endpoint disables VAD.
func (c SessionConfig) Upstream() map[string]any {
	out := map[string]any{}
	if c.Model != "" {
		out["model"] = c.Model
	}
	if len(c.Modalities) > 0 {
		out["modalities"] = c.Modalities
	}
	if c.Instructions != "" {
		out["instructions"] = c.Instructions
	}
	if c.Voice != "" {
		out["voice"] = c.Voice
	}
	if c.InputAudioFormat != "" {
		out["input_audio_format"] = c.InputAudioFormat
	}
	if c.OutputAudioFormat != "" {
		out["output_audio_format"] = c.OutputAudioFormat
	}
	if c.InputAudioTranscription != nil {
		out["input_audio_transcription"] = c.InputAudioTranscription
	}
	if c.TurnDetection != nil {
		if c.TurnDetection.Type == TurnDetectionNone {
			out["turn_detection"] = nil
		} else {
			out["turn_detection"] = c.TurnDetection
		}
	}
	return out
}
