package billing

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artwise/artwise/internal/observability"
	"github.com/artwise/artwise/internal/realtime/eventbus"
	"github.com/artwise/artwise/internal/realtime/protocol"
)

const (
	defaultHookQueue   = 64
	defaultHookTimeout = 10 * time.Second
)

// UsageHook charges a user once for every response.done event it observes and keeps the
// user's session summary current. Reports run in order on one background worker so the
// event bus is never blocked on the network or the database. When the report queue is
// full the report is dropped and counted rather than stalling the session.
type UsageHook struct {
	recorder Recorder
	usage    UsageType
	timeout  time.Duration
	logger   zerolog.Logger
	metrics  *observability.Metrics
	queue    int
	now      func() time.Time

	mu        sync.Mutex
	summaries map[string]SessionSummary

	sendMu sync.RWMutex
	closed bool
	jobs   chan func(context.Context)
	done   chan struct{}
}

type HookOption func(*UsageHook)

// WithUsageType sets the usage tag charged per response. The default is liveAudioConversation.
func WithUsageType(t UsageType) HookOption {
	return func(h *UsageHook) { h.usage = t }
}

func WithHookLogger(logger zerolog.Logger) HookOption {
	return func(h *UsageHook) { h.logger = logger }
}

func WithHookMetrics(m *observability.Metrics) HookOption {
	return func(h *UsageHook) { h.metrics = m }
}

// WithHookQueue sets how many reports may wait for the worker before new ones are dropped.
func WithHookQueue(n int) HookOption {
	return func(h *UsageHook) {
		if n > 0 {
			h.queue = n
		}
	}
}

func WithHookTimeout(d time.Duration) HookOption {
	return func(h *UsageHook) {
		if d > 0 {
			h.timeout = d
		}
	}
}

func NewUsageHook(recorder Recorder, opts ...HookOption) *UsageHook {
	h := &UsageHook{
		recorder:  recorder,
		usage:     UsageLiveAudioConversation,
		timeout:   defaultHookTimeout,
		logger:    zerolog.Nop(),
		now:       func() time.Time { return time.Now().UTC() },
		queue:     defaultHookQueue,
		summaries: make(map[string]SessionSummary),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.jobs = make(chan func(context.Context), h.queue)
	go h.run()
	return h
}

// Attach subscribes the hook to bus. Events emitted before Attach or after detach are
// never charged. detach is idempotent.
func (h *UsageHook) Attach(bus *eventbus.Bus) (detach func()) {
	done := bus.On(protocol.EventResponseDone, h.onResponseDone)
	status := bus.On(protocol.EventConnectionStatus, h.onStatus)
	var once sync.Once
	return func() {
		once.Do(func() {
			done.Unsubscribe()
			status.Unsubscribe()
		})
	}
}

// Close waits for queued reports to finish. Events observed afterwards are dropped.
func (h *UsageHook) Close() error {
	h.sendMu.Lock()
	if !h.closed {
		h.closed = true
		close(h.jobs)
	}
	h.sendMu.Unlock()
	<-h.done
	return nil
}

func (h *UsageHook) onResponseDone(ev eventbus.Event) {
	if ev.UserID == "" || ev.SessionID == "" {
		h.logger.Warn().Str("session_id", ev.SessionID).Msg("response.done without user or session, not charged")
		return
	}
	cost, err := Cost(h.usage)
	if err != nil {
		h.logger.Error().Err(err).Msg("usage hook misconfigured")
		return
	}

	h.mu.Lock()
	sum := h.summaryLocked(ev)
	sum.Status = "connected"
	sum.Responses = ev.Usage.Responses
	sum.InputTokens = ev.Usage.InputTokens
	sum.OutputTokens = ev.Usage.OutputTokens
	sum.TotalTokens = ev.Usage.TotalTokens
	sum.CreditsCharged += cost
	sum.UpdatedAt = h.now()
	h.summaries[ev.SessionID] = sum
	h.mu.Unlock()

	usage := h.usage
	h.enqueue(sum.ID, func(ctx context.Context) {
		if err := h.recorder.ChargeUser(ctx, sum.UserID, sum.ID, usage); err != nil {
			h.logger.Error().Err(err).
				Str("user_id", sum.UserID).
				Str("session_id", sum.ID).
				Str("usage_type", string(usage)).
				Msg("charge failed")
		}
		h.record(ctx, sum)
	})
}

func (h *UsageHook) onStatus(ev eventbus.Event) {
	st, ok := ev.Payload.(*protocol.ConnectionStatusChanged)
	if !ok || ev.UserID == "" || ev.SessionID == "" {
		return
	}
	switch st.Status {
	case "connected", "disconnected", "error":
	default:
		return
	}

	h.mu.Lock()
	sum := h.summaryLocked(ev)
	sum.Status = st.Status
	sum.UpdatedAt = h.now()
	terminal := st.Status != "connected"
	if terminal {
		end := sum.UpdatedAt
		sum.EndedAt = &end
		sum.EndReason = st.Reason
		delete(h.summaries, ev.SessionID)
	} else {
		h.summaries[ev.SessionID] = sum
	}
	h.mu.Unlock()

	h.enqueue(sum.ID, func(ctx context.Context) { h.record(ctx, sum) })
}

func (h *UsageHook) summaryLocked(ev eventbus.Event) SessionSummary {
	sum, ok := h.summaries[ev.SessionID]
	if !ok {
		sum = SessionSummary{ID: ev.SessionID, UserID: ev.UserID, StartedAt: ev.ReceivedAt}
		if sum.StartedAt.IsZero() {
			sum.StartedAt = h.now()
		}
	}
	if ev.RemoteSessionID != "" {
		sum.RemoteSessionID = ev.RemoteSessionID
	}
	return sum
}

func (h *UsageHook) record(ctx context.Context, sum SessionSummary) {
	if err := h.recorder.RecordSession(ctx, sum); err != nil {
		h.logger.Error().Err(err).Str("session_id", sum.ID).Msg("record session failed")
	}
}

func (h *UsageHook) enqueue(sessionID string, job func(context.Context)) {
	h.sendMu.RLock()
	defer h.sendMu.RUnlock()
	if h.closed {
		h.logger.Warn().Str("session_id", sessionID).Msg("usage hook closed, report dropped")
		return
	}
	select {
	case h.jobs <- job:
	default:
		h.metrics.ObserveDroppedEvent("usage_report_queue_full")
		h.logger.Error().Str("session_id", sessionID).Int("queue", h.queue).Msg("usage report queue full, report dropped")
	}
}

func (h *UsageHook) run() {
	defer close(h.done)
	for job := range h.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		job(ctx)
		cancel()
	}
}
