// Package transport obtains ephemeral credentials and establishes the bidirectional
// channel to the realtime endpoint, either over WebRTC or over a websocket.
package transport

import (
	"sync"
	"time"
)

// Handle is the ephemeral credential returned by the trusted backend.
type Handle struct {
	SessionID   string    `json:"sessionId"`
	Token       string    `json:"token"`
	EndpointURL string    `json:"endpointUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Model       string    `json:"model,omitempty"`
}

// Expired reports whether the credential can no longer be used at now.
func (h Handle) Expired(now time.Time) bool {
	return !h.ExpiresAt.IsZero() && !now.Before(h.ExpiresAt)
}

// AudioSink accepts mono PCM16LE audio for a media track.
type AudioSink interface {
	SampleRate() int
	WritePCM16(pcm []byte) error
}

// Connection is an open realtime channel. Messages carries inbound protocol messages in
// arrival order; Done closes when the channel ends, after which Err reports why
// (nil when Close was called locally).
type Connection interface {
	Send(payload []byte) error
	Messages() <-chan []byte
	Done() <-chan struct{}
	Err() error
	// AudioSink returns the outbound media track, or nil when the transport has none.
	AudioSink() AudioSink
	Close() error
}

type inbox struct {
	messages chan []byte
	done     chan struct{}
	once     sync.Once

	mu  sync.Mutex
	err error
}

func newInbox(size int) *inbox {
	if size <= 0 {
		size = 256
	}
	return &inbox{
		messages: make(chan []byte, size),
		done:     make(chan struct{}),
	}
}

// deliver blocks while the buffer is full so the transport applies backpressure.
func (b *inbox) deliver(data []byte) bool {
	msg := make([]byte, len(data))
	copy(msg, data)
	select {
	case b.messages <- msg:
		return true
	case <-b.done:
		return false
	}
}

func (b *inbox) shutdown(err error) bool {
	first := false
	b.once.Do(func() {
		first = true
		b.mu.Lock()
		b.err = err
		b.mu.Unlock()
		close(b.done)
	})
	return first
}

func (b *inbox) Messages() <-chan []byte { return b.messages }

func (b *inbox) Done() <-chan struct{} { return b.done }

func (b *inbox) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}
