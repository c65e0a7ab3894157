package session

import (
	"context"
	"encoding/base64"

	"github.com/artwise/artwise/internal/realtime"
	"github.com/artwise/artwise/internal/realtime/capture"
	"github.com/artwise/artwise/internal/realtime/transport"
)

// chunkSampleRate is the PCM16 rate of input_audio_buffer.append audio.
const chunkSampleRate = 24000

// StartCapture hands the microphone to a. Only one adapter may be active at a time.
func (s *Session) StartCapture(ctx context.Context, a capture.Adapter) error {
	s.mu.Lock()
	if err := s.requireConnectedLocked("startCapture"); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.adapter != nil {
		status := s.status
		s.mu.Unlock()
		return s.misuse("startCapture", status, realtime.ErrAdapterActive)
	}
	s.adapter = a
	s.mu.Unlock()

	if err := a.Start(ctx, s); err != nil {
		s.mu.Lock()
		if s.adapter == a {
			s.adapter = nil
		}
		s.mu.Unlock()
		return err
	}

	// Disconnect or StopCapture may have run while Start was acquiring the microphone.
	s.mu.Lock()
	current := s.adapter == a && s.status == StatusConnected
	status := s.status
	s.mu.Unlock()
	if !current {
		if err := a.Close(); err != nil {
			s.logger.Warn().Err(err).Str("mode", a.Mode()).Msg("capture adapter close failed")
		}
		return s.misuse("startCapture", status, realtime.ErrSessionTerminated)
	}
	s.logger.Debug().Str("mode", a.Mode()).Msg("capture started")
	return nil
}

// StopCapture ends the active adapter's turn; push-to-talk commits its buffered audio.
func (s *Session) StopCapture() error {
	s.mu.Lock()
	a := s.adapter
	s.adapter = nil
	s.mu.Unlock()
	if a == nil {
		return nil
	}
	s.logger.Debug().Str("mode", a.Mode()).Msg("capture stopped")
	return a.Stop()
}

// SwitchCapture releases the active adapter completely before next acquires the microphone.
func (s *Session) SwitchCapture(ctx context.Context, next capture.Adapter) error {
	s.mu.Lock()
	if err := s.requireConnectedLocked("switchCapture"); err != nil {
		s.mu.Unlock()
		return err
	}
	prev := s.adapter
	s.adapter = nil
	s.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			s.logger.Warn().Err(err).Str("mode", prev.Mode()).Msg("capture adapter close failed")
		}
	}
	return s.StartCapture(ctx, next)
}

// CaptureMode returns the active adapter's mode, or "" when none is active.
func (s *Session) CaptureMode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adapter == nil {
		return ""
	}
	return s.adapter.Mode()
}

// AudioSink returns the live audio path for the current connection. Transports without a
// media track get a sink that sends input_audio_buffer.append events instead.
func (s *Session) AudioSink() transport.AudioSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusConnected || s.conn == nil {
		return nil
	}
	if track := s.conn.AudioSink(); track != nil {
		return mutedSink{session: s, next: track}
	}
	return chunkSink{session: s}
}

type mutedSink struct {
	session *Session
	next    transport.AudioSink
}

func (m mutedSink) SampleRate() int { return m.next.SampleRate() }

func (m mutedSink) WritePCM16(pcm []byte) error {
	if m.session.Muted() {
		return nil
	}
	return m.next.WritePCM16(pcm)
}

type chunkSink struct {
	session *Session
}

func (c chunkSink) SampleRate() int { return chunkSampleRate }

func (c chunkSink) WritePCM16(pcm []byte) error {
	if c.session.Muted() {
		return nil
	}
	return c.session.SendAudioChunk(base64.StdEncoding.EncodeToString(pcm))
}
