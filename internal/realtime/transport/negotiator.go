package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/artwise/artwise/internal/observability"
	"github.com/artwise/artwise/internal/realtime"
	"github.com/artwise/artwise/internal/realtime/protocol"
)

const (
	KindWebRTC    = "webrtc"
	KindWebSocket = "websocket"
)

// Dialer opens a Connection with an ephemeral credential.
type Dialer interface {
	Dial(ctx context.Context, h Handle) (Connection, error)
}

// Negotiator pairs the credential client with a dialer.
type Negotiator struct {
	credentials *CredentialClient
	dialer      Dialer
	timeout     time.Duration
	metrics     *observability.Metrics
	now         func() time.Time
}

type NegotiatorConfig struct {
	BackendURL string
	Kind       string
	ICEServers []string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
	Metrics    *observability.Metrics
}

func NewNegotiator(cfg NegotiatorConfig) (*Negotiator, error) {
	var dialer Dialer
	switch strings.ToLower(strings.TrimSpace(cfg.Kind)) {
	case "", KindWebRTC:
		dialer = NewWebRTCDialer(cfg.ICEServers, cfg.HTTPClient, cfg.Logger)
	case KindWebSocket:
		dialer = NewWebSocketDialer(cfg.Logger)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Kind)
	}
	n := NewNegotiatorWithDialer(NewCredentialClient(cfg.BackendURL, cfg.HTTPClient), dialer, cfg.Metrics)
	if cfg.Timeout > 0 {
		n.timeout = cfg.Timeout
	}
	return n, nil
}

func NewNegotiatorWithDialer(credentials *CredentialClient, dialer Dialer, metrics *observability.Metrics) *Negotiator {
	return &Negotiator{
		credentials: credentials,
		dialer:      dialer,
		timeout:     30 * time.Second,
		metrics:     metrics,
		now:         time.Now,
	}
}

func (n *Negotiator) CreateSession(ctx context.Context, userID string, cfg protocol.SessionConfig) (Handle, error) {
	h, err := n.credentials.CreateSession(ctx, userID, cfg)
	if err != nil {
		n.metrics.ObserveCredentialRequest("error")
		return Handle{}, err
	}
	n.metrics.ObserveCredentialRequest("ok")
	return h, nil
}

// Negotiate establishes the connection. The handle is single-use and must not be expired.
func (n *Negotiator) Negotiate(ctx context.Context, h Handle) (Connection, error) {
	if h.Expired(n.now()) {
		return nil, &realtime.NegotiationError{Stage: "credential", Err: errors.New("ephemeral credential expired")}
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	start := time.Now()
	conn, err := n.dialer.Dial(ctx, h)
	if err != nil {
		var negErr *realtime.NegotiationError
		if !errors.As(err, &negErr) {
			err = &realtime.NegotiationError{Stage: "dial", Err: err}
		}
		return nil, err
	}
	n.metrics.ObserveNegotiation(time.Since(start))
	return conn, nil
}
