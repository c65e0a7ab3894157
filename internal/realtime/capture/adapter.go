package capture

import (
	"context"

	"github.com/artwise/artwise/internal/realtime/transport"
)

const (
	ModeLive       = "live"
	ModePushToTalk = "ptt"
)

// Outbound is the session surface an adapter feeds.
type Outbound interface {
	SendAudioChunk(base64Audio string) error
	CommitAudioBuffer() error
	// AudioSink returns the live media path, or nil when the session is not connected.
	AudioSink() transport.AudioSink
}

// Adapter owns the microphone between Start and Stop/Close. Start may be called again
// after Stop; every run acquires fresh resources.
type Adapter interface {
	Mode() string
	Start(ctx context.Context, out Outbound) error
	// Stop ends the current turn. Push-to-talk commits the buffered audio.
	Stop() error
	// Close releases the microphone without committing.
	Close() error
}
