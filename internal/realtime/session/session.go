// Package session implements the realtime conversation state machine: it negotiates the
// connection, owns the transport and the active capture adapter, turns commands into
// protocol events and republishes inbound events on the event bus.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/artwise/artwise/internal/observability"
	"github.com/artwise/artwise/internal/realtime"
	"github.com/artwise/artwise/internal/realtime/capture"
	"github.com/artwise/artwise/internal/realtime/eventbus"
	"github.com/artwise/artwise/internal/realtime/protocol"
	"github.com/artwise/artwise/internal/realtime/transport"
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// EndReason tells a clean close apart from a failure once a session has ended.
type EndReason string

const (
	EndReasonNone   EndReason = ""
	EndReasonClosed EndReason = "closed"
	EndReasonFailed EndReason = "failed"
)

// Negotiator obtains credentials and opens the realtime connection.
type Negotiator interface {
	CreateSession(ctx context.Context, userID string, cfg protocol.SessionConfig) (transport.Handle, error)
	Negotiate(ctx context.Context, h transport.Handle) (transport.Connection, error)
}

var errConnectAborted = fmt.Errorf("connect aborted by disconnect: %w", realtime.ErrSessionTerminated)

// Summary is a point-in-time snapshot of a session.
type Summary struct {
	ID              string         `json:"id"`
	RemoteSessionID string         `json:"remote_session_id,omitempty"`
	UserID          string         `json:"user_id"`
	Status          Status         `json:"status"`
	EndReason       EndReason      `json:"end_reason,omitempty"`
	CaptureMode     string         `json:"capture_mode,omitempty"`
	Usage           protocol.Usage `json:"usage"`
	CreatedAt       time.Time      `json:"created_at"`
	ConnectedAt     time.Time      `json:"connected_at,omitempty"`
	EndedAt         time.Time      `json:"ended_at,omitempty"`
	LastError       string         `json:"last_error,omitempty"`
}

type Option func(*options)

type options struct {
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Session is one realtime conversation. It moves DISCONNECTED → CONNECTING → CONNECTED →
// DISCONNECTED (or ERROR) exactly once and cannot be reused afterwards.
type Session struct {
	id         string
	userID     string
	cfg        protocol.SessionConfig
	negotiator Negotiator
	bus        *eventbus.Bus
	logger     zerolog.Logger
	metrics    *observability.Metrics

	mu            sync.Mutex
	status        Status
	endReason     EndReason
	started       bool
	remoteID      string
	conn          transport.Connection
	cancelConnect context.CancelFunc
	adapter       capture.Adapter
	pendingChunks int
	usage         protocol.Usage
	muted         bool
	lastErr       error
	createdAt     time.Time
	connectedAt   time.Time
	endedAt       time.Time
	turnEndedAt   time.Time

	queue    []eventbus.Event
	draining bool
}

func New(userID string, cfg protocol.SessionConfig, negotiator Negotiator, bus *eventbus.Bus, opts ...Option) *Session {
	o := buildOptions(opts)
	id := uuid.NewString()
	return &Session{
		id:         id,
		userID:     userID,
		cfg:        cfg.Clone(),
		negotiator: negotiator,
		bus:        bus,
		logger:     o.logger.With().Str("session_id", id).Logger(),
		metrics:    o.metrics,
		status:     StatusDisconnected,
		createdAt:  time.Now().UTC(),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) EndReason() EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

func (s *Session) Usage() protocol.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	sum := Summary{
		ID:              s.id,
		RemoteSessionID: s.remoteID,
		UserID:          s.userID,
		Status:          s.status,
		EndReason:       s.endReason,
		Usage:           s.usage,
		CreatedAt:       s.createdAt,
		ConnectedAt:     s.connectedAt,
		EndedAt:         s.endedAt,
	}
	if s.adapter != nil {
		sum.CaptureMode = s.adapter.Mode()
	}
	if s.lastErr != nil {
		sum.LastError = s.lastErr.Error()
	}
	return sum
}

// Connect requests credentials and negotiates the connection. Errors are returned to the
// caller and leave the session DISCONNECTED with EndReasonFailed. A Disconnect issued while
// Connect is in flight wins: the late connection is closed and never becomes current.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return &realtime.SessionCreationError{Err: fmt.Errorf("invalid session config: %w", err)}
	}

	s.mu.Lock()
	if s.started {
		status := s.status
		s.mu.Unlock()
		return s.misuse("connect", status, realtime.ErrSessionTerminated)
	}
	s.started = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancelConnect = cancel
	s.setStatusLocked(StatusConnecting, EndReasonNone, nil)
	s.mu.Unlock()
	s.flush()

	start := time.Now()
	h, err := s.negotiator.CreateSession(ctx, s.userID, s.cfg)
	if err != nil {
		return s.failConnect("create session", err)
	}

	s.mu.Lock()
	if s.status != StatusConnecting {
		s.mu.Unlock()
		return errConnectAborted
	}
	s.remoteID = h.SessionID
	s.mu.Unlock()

	conn, err := s.negotiator.Negotiate(ctx, h)
	if err != nil {
		return s.failConnect("negotiate", err)
	}

	s.mu.Lock()
	if s.status != StatusConnecting {
		s.mu.Unlock()
		_ = conn.Close()
		s.logger.Debug().Msg("discarding connection negotiated after disconnect")
		return errConnectAborted
	}
	s.conn = conn
	s.connectedAt = time.Now().UTC()
	s.setStatusLocked(StatusConnected, EndReasonNone, nil)
	if err := s.configureLocked(); err != nil {
		s.logger.Warn().Err(err).Msg("initial session configuration not sent")
	}
	go s.readLoop(conn)
	s.mu.Unlock()
	s.flush()

	s.logger.Info().
		Str("remote_session_id", h.SessionID).
		Dur("elapsed", time.Since(start)).
		Msg("realtime session connected")
	return nil
}

func (s *Session) configureLocked() error {
	if err := s.sendLocked(protocol.NewSessionUpdate(s.cfg)); err != nil {
		return err
	}
	if s.cfg.SeedContext != "" {
		return s.sendLocked(protocol.NewTextItem("system", s.cfg.SeedContext))
	}
	return nil
}

func (s *Session) failConnect(stage string, err error) error {
	s.mu.Lock()
	if s.status != StatusConnecting {
		s.mu.Unlock()
		return errConnectAborted
	}
	s.cancelConnect()
	s.lastErr = err
	s.endedAt = time.Now().UTC()
	s.setStatusLocked(StatusDisconnected, EndReasonFailed, err)
	s.mu.Unlock()
	s.flush()

	s.logger.Warn().Err(err).Str("stage", stage).Msg("realtime connect failed")
	return err
}

// Disconnect stops capture, closes the transport and cancels any in-flight negotiation.
// It is valid in every state and idempotent.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.cancelConnect != nil {
		s.cancelConnect()
	}
	adapter := s.adapter
	s.adapter = nil
	conn := s.conn
	s.conn = nil
	s.started = true
	s.pendingChunks = 0
	if s.endedAt.IsZero() {
		s.endedAt = time.Now().UTC()
	}
	reason := s.endReason
	if reason == EndReasonNone {
		reason = EndReasonClosed
	}
	if s.status != StatusDisconnected {
		s.setStatusLocked(StatusDisconnected, reason, nil)
	} else {
		s.endReason = reason
	}
	s.mu.Unlock()

	if adapter != nil {
		if err := adapter.Close(); err != nil {
			s.logger.Warn().Err(err).Str("mode", adapter.Mode()).Msg("capture adapter close failed")
		}
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Debug().Err(err).Msg("transport close failed")
		}
	}
	s.flush()
}

// SendAudioChunk appends base64 PCM16 audio to the remote input buffer.
func (s *Session) SendAudioChunk(base64Audio string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireConnectedLocked("sendAudioChunk"); err != nil {
		return err
	}
	if base64Audio == "" {
		return nil
	}
	if err := s.sendLocked(protocol.NewInputAudioAppend(base64Audio)); err != nil {
		return err
	}
	s.pendingChunks++
	return nil
}

// CommitAudioBuffer ends the current audio turn and asks for a response. With no audio
// appended since the last commit it does nothing.
func (s *Session) CommitAudioBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireConnectedLocked("commitAudioBuffer"); err != nil {
		return err
	}
	if s.pendingChunks == 0 {
		s.logger.Debug().Msg("commit with empty audio buffer ignored")
		return nil
	}
	if err := s.sendLocked(protocol.NewInputAudioCommit()); err != nil {
		return err
	}
	s.pendingChunks = 0
	return s.requestResponseLocked()
}

// ClearAudioBuffer discards audio appended since the last commit.
func (s *Session) ClearAudioBuffer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireConnectedLocked("clearAudioBuffer"); err != nil {
		return err
	}
	if err := s.sendLocked(protocol.NewInputAudioClear()); err != nil {
		return err
	}
	s.pendingChunks = 0
	return nil
}

// SendTextMessage adds a user text turn and asks for a response.
func (s *Session) SendTextMessage(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireConnectedLocked("sendTextMessage"); err != nil {
		return err
	}
	if text == "" {
		return nil
	}
	if err := s.sendLocked(protocol.NewTextItem("user", text)); err != nil {
		return err
	}
	return s.requestResponseLocked()
}

func (s *Session) requestResponseLocked() error {
	if err := s.sendLocked(protocol.NewResponseCreate()); err != nil {
		return err
	}
	s.turnEndedAt = time.Now()
	return nil
}

func (s *Session) CancelResponse() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireConnectedLocked("cancelResponse"); err != nil {
		return err
	}
	return s.sendLocked(protocol.NewResponseCancel())
}

// SetMuted suppresses outbound live audio without releasing the microphone.
func (s *Session) SetMuted(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
}

func (s *Session) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *Session) requireConnectedLocked(command string) error {
	if s.status == StatusConnected && s.conn != nil {
		return nil
	}
	return s.misuse(command, s.status, nil)
}

func (s *Session) misuse(command string, status Status, cause error) error {
	return reportMisuse(s.logger, s.metrics, command, status, cause)
}

func reportMisuse(logger zerolog.Logger, metrics *observability.Metrics, command string, status Status, cause error) error {
	metrics.ObserveCommandMisuse(command)
	logger.Warn().
		Str("command", command).
		Str("status", string(status)).
		Msg("command ignored in current session state")
	return &realtime.CommandMisuseError{Command: command, Status: string(status), Err: cause}
}

func (s *Session) sendLocked(ev any) error {
	payload, err := protocol.EncodeClientEvent(ev)
	if err != nil {
		return fmt.Errorf("encode client event: %w", err)
	}
	t, _ := protocol.ClientEventTypeOf(ev)
	if err := s.conn.Send(payload); err != nil {
		return fmt.Errorf("send %s: %w", t, err)
	}
	s.metrics.ObserveRealtimeEvent("outbound", string(t))
	return nil
}

// setStatusLocked records the transition and queues the matching connection.status event.
func (s *Session) setStatusLocked(status Status, reason EndReason, err error) {
	s.status = status
	if reason != EndReasonNone {
		s.endReason = reason
	}
	s.metrics.ObserveSessionEvent(string(status))
	ev := protocol.NewConnectionStatus(string(status), err)
	ev.Reason = string(reason)
	s.enqueueLocked(ev)
}

func (s *Session) enqueueLocked(payload protocol.ServerEvent) {
	s.queue = append(s.queue, eventbus.Event{
		Type:            payload.EventType(),
		SessionID:       s.id,
		RemoteSessionID: s.remoteID,
		UserID:          s.userID,
		ReceivedAt:      time.Now().UTC(),
		Payload:         payload,
		Usage:           s.usage,
	})
}

// flush publishes queued events in order. Only one goroutine drains at a time and it
// never holds the lock while handlers run, so handlers may call back into the session.
func (s *Session) flush() {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.queue) > 0 {
		ev := s.queue[0]
		s.queue[0] = eventbus.Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.bus.Emit(ev)
		s.mu.Lock()
	}
	s.queue = nil
	s.draining = false
	s.mu.Unlock()
}

func (s *Session) readLoop(conn transport.Connection) {
	for {
		select {
		case raw := <-conn.Messages():
			s.handleMessage(conn, raw)
		case <-conn.Done():
			for {
				select {
				case raw := <-conn.Messages():
					s.handleMessage(conn, raw)
				default:
					s.handleTransportDone(conn)
					return
				}
			}
		}
	}
}

func (s *Session) handleMessage(conn transport.Connection, raw []byte) {
	ev, err := protocol.ParseServerEvent(raw)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, protocol.ErrUnknownEventType) {
			reason = "unknown_type"
		}
		s.metrics.ObserveDroppedEvent(reason)
		s.logger.Warn().Err(err).Str("reason", reason).Msg("inbound realtime event dropped")
		return
	}

	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	if delta, ok := protocol.UsageOf(ev); ok {
		s.usage = s.usage.Add(delta)
	}
	switch e := ev.(type) {
	case *protocol.SessionCreated:
		if s.remoteID == "" {
			s.remoteID = e.Session.ID
		}
	case *protocol.InputAudioCommitted, *protocol.InputAudioCleared:
		// Without server VAD these only acknowledge commits the client already counted,
		// possibly after the next turn's first chunk went out.
		if s.cfg.ServerVAD() {
			s.pendingChunks = 0
		}
	case *protocol.SpeechStopped:
		if s.turnEndedAt.IsZero() {
			s.turnEndedAt = time.Now()
		}
	case *protocol.ResponseTextDelta, *protocol.ResponseAudioTranscriptDelta, *protocol.ResponseAudioDelta:
		if !s.turnEndedAt.IsZero() {
			s.metrics.ObserveStage(observability.StageFirstDelta, time.Since(s.turnEndedAt))
			s.turnEndedAt = time.Time{}
		}
	case *protocol.ErrorEvent:
		s.logger.Warn().
			Str("error_type", e.Error.Type).
			Str("error_code", e.Error.Code).
			Str("message", e.Error.Message).
			Msg("realtime endpoint reported an error")
	}
	s.metrics.ObserveRealtimeEvent("inbound", string(ev.EventType()))
	s.enqueueLocked(ev)
	s.mu.Unlock()
	s.flush()
}

// handleTransportDone runs when the connection ends. A locally closed connection is no
// longer current and is ignored; anything else is an unexpected drop.
func (s *Session) handleTransportDone(conn transport.Connection) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	cause := conn.Err()
	var tde *realtime.TransportDisconnectedError
	if !errors.As(cause, &tde) {
		cause = &realtime.TransportDisconnectedError{Reason: "connection ended", Err: cause}
	}
	s.conn = nil
	adapter := s.adapter
	s.adapter = nil
	s.pendingChunks = 0
	s.lastErr = cause
	s.endedAt = time.Now().UTC()
	if s.cancelConnect != nil {
		s.cancelConnect()
	}
	s.setStatusLocked(StatusError, EndReasonFailed, cause)
	s.mu.Unlock()

	s.logger.Warn().Err(cause).Msg("realtime transport disconnected")
	if adapter != nil {
		_ = adapter.Close()
	}
	_ = conn.Close()
	s.flush()
}
