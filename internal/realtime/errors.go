// Package realtime holds the error taxonomy shared by the realtime voice session packages.
package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionTerminated is returned when a command that needs a fresh session is issued
	// on a session that has already reached a terminal state.
	ErrSessionTerminated = errors.New("realtime session terminated")

	// ErrAdapterActive is returned when a capture adapter is started while another one
	// still holds the microphone.
	ErrAdapterActive = errors.New("capture adapter already active")
)

// SessionCreationError reports a failed ephemeral credential request.
type SessionCreationError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *SessionCreationError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("session creation failed: backend status %d: %s", e.StatusCode, e.Body)
	case e.Err != nil:
		return fmt.Sprintf("session creation failed: %v", e.Err)
	default:
		return "session creation failed"
	}
}

func (e *SessionCreationError) Unwrap() error { return e.Err }

// NegotiationError reports a failed offer/answer exchange or connection establishment.
type NegotiationError struct {
	Stage string
	Err   error
}

func (e *NegotiationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("negotiation failed at %s", e.Stage)
	}
	return fmt.Sprintf("negotiation failed at %s: %v", e.Stage, e.Err)
}

func (e *NegotiationError) Unwrap() error { return e.Err }

// TransportDisconnectedError reports that an established connection dropped without
// the caller asking for it.
type TransportDisconnectedError struct {
	Reason string
	Err    error
}

func (e *TransportDisconnectedError) Error() string {
	if e.Err == nil {
		return "transport disconnected: " + e.Reason
	}
	return fmt.Sprintf("transport disconnected: %s: %v", e.Reason, e.Err)
}

func (e *TransportDisconnectedError) Unwrap() error { return e.Err }

// MalformedEventError reports an inbound protocol message that could not be decoded.
type MalformedEventError struct {
	Type string
	Err  error
}

func (e *MalformedEventError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("malformed realtime event: %v", e.Err)
	}
	return fmt.Sprintf("malformed realtime event %q: %v", e.Type, e.Err)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// CommandMisuseError reports a command issued in a state that does not allow it.
type CommandMisuseError struct {
	Command string
	Status  string
	Err     error
}

func (e *CommandMisuseError) Error() string {
	msg := fmt.Sprintf("%s not allowed while %s", e.Command, e.Status)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandMisuseError) Unwrap() error { return e.Err }
