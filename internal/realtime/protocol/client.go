package protocol

import "encoding/json"

// ClientEventType identifies events sent to the remote endpoint.
type ClientEventType string

const (
	ClientSessionUpdate          ClientEventType = "session.update"
	ClientInputAudioAppend       ClientEventType = "input_audio_buffer.append"
	ClientInputAudioCommit       ClientEventType = "input_audio_buffer.commit"
	ClientInputAudioClear        ClientEventType = "input_audio_buffer.clear"
	ClientConversationItemCreate ClientEventType = "conversation.item.create"
	ClientResponseCreate         ClientEventType = "response.create"
	ClientResponseCancel         ClientEventType = "response.cancel"
)

type SessionUpdate struct {
	Type    ClientEventType `json:"type"`
	Session map[string]any  `json:"session"`
}

type InputAudioAppend struct {
	Type  ClientEventType `json:"type"`
	Audio string          `json:"audio"`
}

type InputAudioCommit struct {
	Type ClientEventType `json:"type"`
}

type InputAudioClear struct {
	Type ClientEventType `json:"type"`
}

type ContentPart struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	Audio      string `json:"audio,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

type ConversationItem struct {
	ID      string        `json:"id,omitempty"`
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Status  string        `json:"status,omitempty"`
	Content []ContentPart `json:"content,omitempty"`
}

type ConversationItemCreate struct {
	Type ClientEventType  `json:"type"`
	Item ConversationItem `json:"item"`
}

type ResponseCreate struct {
	Type ClientEventType `json:"type"`
}

type ResponseCancel struct {
	Type ClientEventType `json:"type"`
}

// NewSessionUpdate builds the session.update sent right after the channel opens.
// The model is fixed when credentials are issued and is not repeated here.
func NewSessionUpdate(cfg SessionConfig) SessionUpdate {
	s := cfg.Upstream()
	delete(s, "model")
	return SessionUpdate{Type: ClientSessionUpdate, Session: s}
}

func NewInputAudioAppend(audioBase64 string) InputAudioAppend {
	return InputAudioAppend{Type: ClientInputAudioAppend, Audio: audioBase64}
}

func NewInputAudioCommit() InputAudioCommit { return InputAudioCommit{Type: ClientInputAudioCommit} }

func NewInputAudioClear() InputAudioClear { return InputAudioClear{Type: ClientInputAudioClear} }

func NewResponseCreate() ResponseCreate { return ResponseCreate{Type: ClientResponseCreate} }

func NewResponseCancel() ResponseCancel { return ResponseCancel{Type: ClientResponseCancel} }

// NewTextItem builds a conversation.item.create carrying a text message for role.
func NewTextItem(role, text string) ConversationItemCreate {
	return ConversationItemCreate{
		Type: ClientConversationItemCreate,
		Item: ConversationItem{
			Type:    "message",
			Role:    role,
			Content: []ContentPart{{Type: "input_text", Text: text}},
		},
	}
}

// EncodeClientEvent marshals any client event to its wire form.
func EncodeClientEvent(ev any) ([]byte, error) {
	return json.Marshal(ev)
}

// ClientEventTypeOf returns the type tag of a client event built by this package.
func ClientEventTypeOf(ev any) (ClientEventType, bool) {
	switch m := ev.(type) {
	case SessionUpdate:
		return m.Type, true
	case InputAudioAppend:
		return m.Type, true
	case InputAudioCommit:
		return m.Type, true
	case InputAudioClear:
		return m.Type, true
	case ConversationItemCreate:
		return m.Type, true
	case ResponseCreate:
		return m.Type, true
	case ResponseCancel:
		return m.Type, true
	default:
		return "", false
	}
}
