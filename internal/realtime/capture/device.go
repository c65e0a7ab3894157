// Package capture acquires microphone audio and hands it to an active realtime session,
// either as a continuous media stream or as discrete push-to-talk chunks.
package capture

// Config describes the stream a capture device should open.
type Config struct {
	SampleRate   uint32
	Channels     uint32
	PeriodFrames uint32
}

// SampleCallback receives one block of interleaved float samples in [-1, 1].
// The slice is only valid for the duration of the call.
type SampleCallback func(samples []float32)

// Device opens capture streams. Each capture holds the microphone from NewCapture until Close.
type Device interface {
	NewCapture(cfg Config) (Capture, error)
}

type Capture interface {
	Start(cb SampleCallback) error
	// Stop halts delivery; no callback runs after Stop returns.
	Stop()
	// Close releases the microphone.
	Close()
}
