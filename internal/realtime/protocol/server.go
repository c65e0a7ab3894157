package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/artwise/artwise/internal/realtime"
)

// EventType identifies events received from the remote endpoint, plus the locally
// synthesized connection status event.
type EventType string

const (
	EventError                        EventType = "error"
	EventSessionCreated               EventType = "session.created"
	EventSessionUpdated               EventType = "session.updated"
	EventInputAudioCommitted          EventType = "input_audio_buffer.committed"
	EventInputAudioCleared            EventType = "input_audio_buffer.cleared"
	EventSpeechStarted                EventType = "input_audio_buffer.speech_started"
	EventSpeechStopped                EventType = "input_audio_buffer.speech_stopped"
	EventConversationItemCreated      EventType = "conversation.item.created"
	EventInputTranscriptionDelta      EventType = "conversation.item.input_audio_transcription.delta"
	EventInputTranscriptionCompleted  EventType = "conversation.item.input_audio_transcription.completed"
	EventInputTranscriptionFailed     EventType = "conversation.item.input_audio_transcription.failed"
	EventResponseCreated              EventType = "response.created"
	EventResponseDone                 EventType = "response.done"
	EventResponseTextDelta            EventType = "response.text.delta"
	EventResponseTextDone             EventType = "response.text.done"
	EventResponseAudioTranscriptDelta EventType = "response.audio_transcript.delta"
	EventResponseAudioTranscriptDone  EventType = "response.audio_transcript.done"
	EventResponseAudioDelta           EventType = "response.audio.delta"
	EventResponseAudioDone            EventType = "response.audio.done"
	EventResponseOutputItemAdded      EventType = "response.output_item.added"
	EventResponseOutputItemDone       EventType = "response.output_item.done"
	EventResponseContentPartAdded     EventType = "response.content_part.added"
	EventResponseContentPartDone      EventType = "response.content_part.done"
	EventRateLimitsUpdated            EventType = "rate_limits.updated"
	EventConnectionStatus             EventType = "connection.status"
)

// ErrUnknownEventType is wrapped when an inbound event carries a tag this package does not model.
var ErrUnknownEventType = errors.New("unknown realtime event type")

// ServerEvent is the sum type of every inbound event. Only types in this package implement it.
type ServerEvent interface {
	EventType() EventType
	serverEvent()
}

type header struct {
	Type    EventType `json:"type"`
	EventID string    `json:"event_id,omitempty"`
}

func (h header) EventType() EventType { return h.Type }
func (header) serverEvent()           {}

type ErrorDetail struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

type ErrorEvent struct {
	header
	Error ErrorDetail `json:"error"`
}

type RemoteSession struct {
	ID         string     `json:"id"`
	Model      string     `json:"model,omitempty"`
	Modalities []Modality `json:"modalities,omitempty"`
	Voice      string     `json:"voice,omitempty"`
	ExpiresAt  int64      `json:"expires_at,omitempty"`
}

type SessionCreated struct {
	header
	Session RemoteSession `json:"session"`
}

type SessionUpdated struct {
	header
	Session RemoteSession `json:"session"`
}

type InputAudioCommitted struct {
	header
	PreviousItemID string `json:"previous_item_id,omitempty"`
	ItemID         string `json:"item_id"`
}

type InputAudioCleared struct {
	header
}

type SpeechStarted struct {
	header
	AudioStartMs int    `json:"audio_start_ms"`
	ItemID       string `json:"item_id"`
}

type SpeechStopped struct {
	header
	AudioEndMs int    `json:"audio_end_ms"`
	ItemID     string `json:"item_id"`
}

type ConversationItemCreated struct {
	header
	PreviousItemID string           `json:"previous_item_id,omitempty"`
	Item           ConversationItem `json:"item"`
}

type InputTranscriptionDelta struct {
	header
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Delta        string `json:"delta"`
}

type InputTranscriptionCompleted struct {
	header
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	Transcript   string `json:"transcript"`
}

type InputTranscriptionFailed struct {
	header
	ItemID       string      `json:"item_id"`
	ContentIndex int         `json:"content_index"`
	Error        ErrorDetail `json:"error"`
}

type ResponseUsage struct {
	TotalTokens  int64 `json:"total_tokens"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

type Response struct {
	ID     string             `json:"id"`
	Status string             `json:"status,omitempty"`
	Output []ConversationItem `json:"output,omitempty"`
	Usage  *ResponseUsage     `json:"usage,omitempty"`
}

type ResponseCreated struct {
	header
	Response Response `json:"response"`
}

type ResponseDone struct {
	header
	Response Response `json:"response"`
}

type contentRef struct {
	ResponseID   string `json:"response_id"`
	ItemID       string `json:"item_id"`
	OutputIndex  int    `json:"output_index"`
	ContentIndex int    `json:"content_index"`
}

type ResponseTextDelta struct {
	header
	contentRef
	Delta string `json:"delta"`
}

type ResponseTextDone struct {
	header
	contentRef
	Text string `json:"text"`
}

type ResponseAudioTranscriptDelta struct {
	header
	contentRef
	Delta string `json:"delta"`
}

type ResponseAudioTranscriptDone struct {
	header
	contentRef
	Transcript string `json:"transcript"`
}

type ResponseAudioDelta struct {
	header
	contentRef
	Delta string `json:"delta"`
}

type ResponseAudioDone struct {
	header
	contentRef
}

type ResponseOutputItemAdded struct {
	header
	ResponseID  string           `json:"response_id"`
	OutputIndex int              `json:"output_index"`
	Item        ConversationItem `json:"item"`
}

type ResponseOutputItemDone struct {
	header
	ResponseID  string           `json:"response_id"`
	OutputIndex int              `json:"output_index"`
	Item        ConversationItem `json:"item"`
}

type ResponseContentPartAdded struct {
	header
	contentRef
	Part ContentPart `json:"part"`
}

type ResponseContentPartDone struct {
	header
	contentRef
	Part ContentPart `json:"part"`
}

type RateLimit struct {
	Name         string  `json:"name"`
	Limit        int     `json:"limit"`
	Remaining    int     `json:"remaining"`
	ResetSeconds float64 `json:"reset_seconds"`
}

type RateLimitsUpdated struct {
	header
	RateLimits []RateLimit `json:"rate_limits"`
}

// ConnectionStatusChanged is emitted by the session manager, never received from the wire.
type ConnectionStatusChanged struct {
	header
	Status string `json:"status"`
	// Reason is set on terminal transitions: "closed" or "failed".
	Reason string `json:"reason,omitempty"`
	Err    error  `json:"-"`
}

func NewConnectionStatus(status string, err error) *ConnectionStatusChanged {
	return &ConnectionStatusChanged{header: header{Type: EventConnectionStatus}, Status: status, Err: err}
}

var decoders = map[EventType]func() ServerEvent{
	EventError:                        func() ServerEvent { return &ErrorEvent{} },
	EventSessionCreated:               func() ServerEvent { return &SessionCreated{} },
	EventSessionUpdated:               func() ServerEvent { return &SessionUpdated{} },
	EventInputAudioCommitted:          func() ServerEvent { return &InputAudioCommitted{} },
	EventInputAudioCleared:            func() ServerEvent { return &InputAudioCleared{} },
	EventSpeechStarted:                func() ServerEvent { return &SpeechStarted{} },
	EventSpeechStopped:                func() ServerEvent { return &SpeechStopped{} },
	EventConversationItemCreated:      func() ServerEvent { return &ConversationItemCreated{} },
	EventInputTranscriptionDelta:      func() ServerEvent { return &InputTranscriptionDelta{} },
	EventInputTranscriptionCompleted:  func() ServerEvent { return &InputTranscriptionCompleted{} },
	EventInputTranscriptionFailed:     func() ServerEvent { return &InputTranscriptionFailed{} },
	EventResponseCreated:              func() ServerEvent { return &ResponseCreated{} },
	EventResponseDone:                 func() ServerEvent { return &ResponseDone{} },
	EventResponseTextDelta:            func() ServerEvent { return &ResponseTextDelta{} },
	EventResponseTextDone:             func() ServerEvent { return &ResponseTextDone{} },
	EventResponseAudioTranscriptDelta: func() ServerEvent { return &ResponseAudioTranscriptDelta{} },
	EventResponseAudioTranscriptDone:  func() ServerEvent { return &ResponseAudioTranscriptDone{} },
	EventResponseAudioDelta:           func() ServerEvent { return &ResponseAudioDelta{} },
	EventResponseAudioDone:            func() ServerEvent { return &ResponseAudioDone{} },
	EventResponseOutputItemAdded:      func() ServerEvent { return &ResponseOutputItemAdded{} },
	EventResponseOutputItemDone:       func() ServerEvent { return &ResponseOutputItemDone{} },
	EventResponseContentPartAdded:     func() ServerEvent { return &ResponseContentPartAdded{} },
	EventResponseContentPartDone:      func() ServerEvent { return &ResponseContentPartDone{} },
	EventRateLimitsUpdated:            func() ServerEvent { return &RateLimitsUpdated{} },
}

// Known reports whether t is an inbound event type this package decodes.
func Known(t EventType) bool {
	_, ok := decoders[t]
	return ok
}

// ParseServerEvent decodes one inbound message. Bad JSON yields a MalformedEventError;
// an unrecognized tag yields an error wrapping ErrUnknownEventType.
func ParseServerEvent(raw []byte) (ServerEvent, error) {
	var env header
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &realtime.MalformedEventError{Err: fmt.Errorf("invalid envelope: %w", err)}
	}
	if env.Type == "" {
		return nil, &realtime.MalformedEventError{Err: errors.New("missing type")}
	}
	newEvent, ok := decoders[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}
	ev := newEvent()
	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, &realtime.MalformedEventError{Type: string(env.Type), Err: err}
	}
	return ev, nil
}
