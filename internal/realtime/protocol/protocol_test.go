package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/artwise/artwise/internal/realtime"
)

func TestParseServerEventResponseDone(t *testing.T) {
	raw := []byte(`{"type":"response.done","event_id":"ev_1","response":{"id":"resp_1","status":"completed","usage":{"total_tokens":30,"input_tokens":10,"output_tokens":20}}}`)
	ev, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("ParseServerEvent() error = %v", err)
	}
	done, ok := ev.(*ResponseDone)
	if !ok {
		t.Fatalf("event type = %T, want *ResponseDone", ev)
	}
	if done.EventType() != EventResponseDone || done.EventID != "ev_1" {
		t.Fatalf("unexpected header: %+v", done.header)
	}
	if done.Response.ID != "resp_1" {
		t.Fatalf("response id = %q, want %q", done.Response.ID, "resp_1")
	}

	u, ok := UsageOf(ev)
	if !ok {
		t.Fatalf("UsageOf() ok = false, want true")
	}
	want := Usage{Responses: 1, InputTokens: 10, OutputTokens: 20, TotalTokens: 30}
	if u != want {
		t.Fatalf("usage = %+v, want %+v", u, want)
	}
}

func TestParseServerEventTranscriptDelta(t *testing.T) {
	raw := []byte(`{"type":"response.audio_transcript.delta","response_id":"r1","item_id":"i1","output_index":0,"content_index":0,"delta":"The Starry"}`)
	ev, err := ParseServerEvent(raw)
	if err != nil {
		t.Fatalf("ParseServerEvent() error = %v", err)
	}
	delta, ok := ev.(*ResponseAudioTranscriptDelta)
	if !ok {
		t.Fatalf("event type = %T, want *ResponseAudioTranscriptDelta", ev)
	}
	if delta.Delta != "The Starry" || delta.ResponseID != "r1" {
		t.Fatalf("unexpected delta: %+v", delta)
	}
}

func TestParseServerEventUnknownType(t *testing.T) {
	_, err := ParseServerEvent([]byte(`{"type":"output_audio_buffer.started"}`))
	if !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("error = %v, want ErrUnknownEventType", err)
	}
}

func TestParseServerEventMalformed(t *testing.T) {
	cases := [][]byte{
		[]byte(`{not json`),
		[]byte(`{"event_id":"x"}`),
		[]byte(`{"type":"response.done","response":"oops"}`),
	}
	for _, raw := range cases {
		_, err := ParseServerEvent(raw)
		var malformed *realtime.MalformedEventError
		if !errors.As(err, &malformed) {
			t.Fatalf("ParseServerEvent(%s) error = %v, want MalformedEventError", raw, err)
		}
	}
}

func TestUsageAddIgnoresNegativeDeltas(t *testing.T) {
	u := Usage{Responses: 1, TotalTokens: 10}
	u = u.Add(Usage{Responses: -1, TotalTokens: -5, InputTokens: 3})
	if u.Responses != 1 || u.TotalTokens != 10 || u.InputTokens != 3 {
		t.Fatalf("usage = %+v", u)
	}
}

func TestSessionUpdatePassesTurnDetectionThrough(t *testing.T) {
	cfg := SessionConfig{
		Model:      "gpt-4o-realtime-preview",
		Modalities: []Modality{ModalityAudio, ModalityText},
		TurnDetection: &TurnDetection{
			Type:              TurnDetectionServerVAD,
			Threshold:         0.8,
			SilenceDurationMs: 1000,
		},
	}
	raw, err := EncodeClientEvent(NewSessionUpdate(cfg))
	if err != nil {
		t.Fatalf("EncodeClientEvent() error = %v", err)
	}

	var decoded struct {
		Type    string `json:"type"`
		Session struct {
			Model         string        `json:"model"`
			TurnDetection TurnDetection `json:"turn_detection"`
		} `json:"session"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != string(ClientSessionUpdate) {
		t.Fatalf("type = %q", decoded.Type)
	}
	if decoded.Session.Model != "" {
		t.Fatalf("model should not be repeated in session.update, got %q", decoded.Session.Model)
	}
	td := decoded.Session.TurnDetection
	if td.Threshold != 0.8 || td.SilenceDurationMs != 1000 || td.Type != TurnDetectionServerVAD {
		t.Fatalf("turn detection altered: %+v", td)
	}
}

func TestUpstreamDisablesVADForNone(t *testing.T) {
	cfg := SessionConfig{TurnDetection: &TurnDetection{Type: TurnDetectionNone}}
	up := cfg.Upstream()
	v, ok := up["turn_detection"]
	if !ok || v != nil {
		t.Fatalf("turn_detection = %v (present=%v), want explicit nil", v, ok)
	}
}

func TestSessionConfigValidate(t *testing.T) {
	good := SessionConfig{
		Modalities:    []Modality{ModalityAudio},
		TurnDetection: &TurnDetection{Type: TurnDetectionServerVAD, Threshold: 0.5},
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	bad := SessionConfig{TurnDetection: &TurnDetection{Type: TurnDetectionServerVAD, Threshold: 1.5}}
	if err := bad.Validate(); err == nil {
		t.Fatalf("Validate() expected error for threshold > 1")
	}
	if err := (SessionConfig{Modalities: []Modality{"video"}}).Validate(); err == nil {
		t.Fatalf("Validate() expected error for unknown modality")
	}
}

func TestCloneDoesNotShareTurnDetection(t *testing.T) {
	orig := SessionConfig{TurnDetection: &TurnDetection{Type: TurnDetectionServerVAD, Threshold: 0.3}}
	c := orig.Clone()
	c.TurnDetection.Threshold = 0.9
	if orig.TurnDetection.Threshold != 0.3 {
		t.Fatalf("Clone shares turn detection pointer")
	}
}
