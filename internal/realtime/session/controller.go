package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/artwise/artwise/internal/observability"
	"github.com/artwise/artwise/internal/realtime/capture"
	"github.com/artwise/artwise/internal/realtime/eventbus"
	"github.com/artwise/artwise/internal/realtime/protocol"
)

// Controller is the command surface handed to UI code. It keeps one event bus for its whole
// lifetime and creates a fresh Session whenever the previous one is no longer live, so
// subscriptions survive reconnects.
type Controller struct {
	userID     string
	negotiator Negotiator
	bus        *eventbus.Bus
	opts       []Option
	logger     zerolog.Logger
	metrics    *observability.Metrics

	mu      sync.Mutex
	current *Session
}

func NewController(userID string, negotiator Negotiator, opts ...Option) *Controller {
	o := buildOptions(opts)
	return &Controller{
		userID:     userID,
		negotiator: negotiator,
		bus:        eventbus.New(o.logger, o.metrics),
		opts:       opts,
		logger:     o.logger,
		metrics:    o.metrics,
	}
}

func (c *Controller) Bus() *eventbus.Bus { return c.bus }

func (c *Controller) On(eventType protocol.EventType, h eventbus.Handler) eventbus.Subscription {
	return c.bus.On(eventType, h)
}

func (c *Controller) Off(eventType protocol.EventType, sub eventbus.Subscription) {
	c.bus.Off(eventType, sub)
}

// Current returns the most recent session, or nil before the first Connect.
func (c *Controller) Current() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Connect starts a new session with cfg unless one is already connecting or connected.
func (c *Controller) Connect(ctx context.Context, cfg protocol.SessionConfig) error {
	c.mu.Lock()
	if cur := c.current; cur != nil {
		switch cur.Status() {
		case StatusConnecting, StatusConnected:
			c.mu.Unlock()
			c.logger.Debug().Str("session_id", cur.ID()).Msg("connect ignored: session already live")
			return nil
		}
	}
	s := New(c.userID, cfg, c.negotiator, c.bus, c.opts...)
	c.current = s
	c.mu.Unlock()
	return s.Connect(ctx)
}

// Disconnect ends the current session. It is safe to call at any time.
func (c *Controller) Disconnect() {
	if s := c.Current(); s != nil {
		s.Disconnect()
	}
}

func (c *Controller) Status() Status {
	if s := c.Current(); s != nil {
		return s.Status()
	}
	return StatusDisconnected
}

func (c *Controller) SendAudioChunk(base64Audio string) error {
	s, err := c.live("sendAudioChunk")
	if err != nil {
		return err
	}
	return s.SendAudioChunk(base64Audio)
}

func (c *Controller) CommitAudioBuffer() error {
	s, err := c.live("commitAudioBuffer")
	if err != nil {
		return err
	}
	return s.CommitAudioBuffer()
}

func (c *Controller) ClearAudioBuffer() error {
	s, err := c.live("clearAudioBuffer")
	if err != nil {
		return err
	}
	return s.ClearAudioBuffer()
}

func (c *Controller) SendTextMessage(text string) error {
	s, err := c.live("sendTextMessage")
	if err != nil {
		return err
	}
	return s.SendTextMessage(text)
}

func (c *Controller) CancelResponse() error {
	s, err := c.live("cancelResponse")
	if err != nil {
		return err
	}
	return s.CancelResponse()
}

func (c *Controller) StartCapture(ctx context.Context, a capture.Adapter) error {
	s, err := c.live("startCapture")
	if err != nil {
		return err
	}
	return s.StartCapture(ctx, a)
}

func (c *Controller) StopCapture() error {
	if s := c.Current(); s != nil {
		return s.StopCapture()
	}
	return nil
}

func (c *Controller) SwitchCapture(ctx context.Context, a capture.Adapter) error {
	s, err := c.live("switchCapture")
	if err != nil {
		return err
	}
	return s.SwitchCapture(ctx, a)
}

func (c *Controller) SetMuted(muted bool) {
	if s := c.Current(); s != nil {
		s.SetMuted(muted)
	}
}

// live returns the current session, reporting misuse when there has never been one.
func (c *Controller) live(command string) (*Session, error) {
	s := c.Current()
	if s == nil {
		return nil, reportMisuse(c.logger, c.metrics, command, StatusDisconnected, nil)
	}
	return s, nil
}
