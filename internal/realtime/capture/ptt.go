package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/artwise/artwise/internal/observability"
	"github.com/artwise/artwise/internal/realtime"
)

const (
	PushToTalkSampleRate   = 24000
	PushToTalkPeriodFrames = 4096
	defaultChunkQueue      = 64
)

// PushToTalk captures 24 kHz mono audio while held, forwards each block as a base64 PCM16
// chunk through a bounded queue, and commits the turn on Stop.
type PushToTalk struct {
	device    Device
	queueSize int
	logger    zerolog.Logger
	metrics   *observability.Metrics

	mu  sync.Mutex
	run *pttRun
}

type PushToTalkOption func(*PushToTalk)

func WithChunkQueue(n int) PushToTalkOption {
	return func(p *PushToTalk) {
		if n > 0 {
			p.queueSize = n
		}
	}
}

func WithPushToTalkLogger(logger zerolog.Logger) PushToTalkOption {
	return func(p *PushToTalk) { p.logger = logger }
}

func WithPushToTalkMetrics(m *observability.Metrics) PushToTalkOption {
	return func(p *PushToTalk) { p.metrics = m }
}

func NewPushToTalk(device Device, opts ...PushToTalkOption) *PushToTalk {
	p := &PushToTalk{
		device:    device,
		queueSize: defaultChunkQueue,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *PushToTalk) Mode() string { return ModePushToTalk }

func (p *PushToTalk) Start(_ context.Context, out Outbound) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.run != nil {
		return fmt.Errorf("push-to-talk start: %w", realtime.ErrAdapterActive)
	}

	c, err := p.device.NewCapture(Config{
		SampleRate:   PushToTalkSampleRate,
		Channels:     1,
		PeriodFrames: PushToTalkPeriodFrames,
	})
	if err != nil {
		return fmt.Errorf("push-to-talk open microphone: %w", err)
	}

	run := &pttRun{
		capture: c,
		out:     out,
		chunks:  make(chan string, p.queueSize),
		done:    make(chan struct{}),
		logger:  p.logger,
		metrics: p.metrics,
	}
	go run.pump()
	if err := c.Start(run.enqueue); err != nil {
		run.finish(true)
		return fmt.Errorf("push-to-talk start capture: %w", err)
	}
	p.run = run
	return nil
}

// Stop releases the microphone, waits for queued chunks to be sent, then commits the turn.
// A turn with no audio commits nothing.
func (p *PushToTalk) Stop() error {
	run := p.take()
	if run == nil {
		return nil
	}
	run.finish(false)
	return run.out.CommitAudioBuffer()
}

// Close releases the microphone and discards audio that has not been sent yet.
func (p *PushToTalk) Close() error {
	if run := p.take(); run != nil {
		run.finish(true)
	}
	return nil
}

// Active reports whether a turn is being captured.
func (p *PushToTalk) Active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.run != nil
}

func (p *PushToTalk) take() *pttRun {
	p.mu.Lock()
	defer p.mu.Unlock()
	run := p.run
	p.run = nil
	return run
}

type pttRun struct {
	capture Capture
	out     Outbound
	chunks  chan string
	done    chan struct{}
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	closed  bool
	dropped int
	discard atomic.Bool
}

// enqueue runs on the device callback and never blocks it.
func (r *pttRun) enqueue(samples []float32) {
	if len(samples) == 0 {
		return
	}
	chunk := EncodeChunk(samples)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.chunks <- chunk:
	default:
		r.dropped++
		r.metrics.ObserveDroppedEvent("audio_queue_full")
		r.logger.Warn().Int("dropped", r.dropped).Msg("push-to-talk chunk queue full, dropping audio")
	}
}

func (r *pttRun) pump() {
	defer close(r.done)
	for chunk := range r.chunks {
		if r.discard.Load() {
			continue
		}
		if err := r.out.SendAudioChunk(chunk); err != nil {
			r.logger.Debug().Err(err).Msg("push-to-talk chunk not sent")
		}
	}
}

func (r *pttRun) finish(discard bool) {
	r.discard.Store(discard)
	r.capture.Stop()
	r.mu.Lock()
	r.closed = true
	close(r.chunks)
	r.mu.Unlock()
	<-r.done
	r.capture.Close()
}
