package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/artwise/artwise/internal/realtime"
)

// Live streams the microphone straight into the session's media path. Turn boundaries
// are left to server-side voice activity detection.
type Live struct {
	device Device
	logger zerolog.Logger

	mu      sync.Mutex
	capture Capture
}

func NewLive(device Device, logger zerolog.Logger) *Live {
	return &Live{device: device, logger: logger}
}

func (l *Live) Mode() string { return ModeLive }

func (l *Live) Start(_ context.Context, out Outbound) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.capture != nil {
		return fmt.Errorf("live start: %w", realtime.ErrAdapterActive)
	}
	sink := out.AudioSink()
	if sink == nil {
		return errors.New("live start: no audio path on the current connection")
	}

	rate := uint32(sink.SampleRate())
	c, err := l.device.NewCapture(Config{
		SampleRate:   rate,
		Channels:     1,
		PeriodFrames: rate / 50,
	})
	if err != nil {
		return fmt.Errorf("live open microphone: %w", err)
	}
	var warned bool
	err = c.Start(func(samples []float32) {
		if len(samples) == 0 {
			return
		}
		if err := sink.WritePCM16(EncodePCM16(samples)); err != nil && !warned {
			warned = true
			l.logger.Warn().Err(err).Msg("live audio write failed")
		}
	})
	if err != nil {
		c.Stop()
		c.Close()
		return fmt.Errorf("live start capture: %w", err)
	}
	l.capture = c
	return nil
}

func (l *Live) Stop() error { return l.Close() }

func (l *Live) Close() error {
	l.mu.Lock()
	c := l.capture
	l.capture = nil
	l.mu.Unlock()
	if c != nil {
		c.Stop()
		c.Close()
	}
	return nil
}
