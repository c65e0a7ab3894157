package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/artwise/artwise/internal/realtime"
)

// WebSocketDialer connects to the realtime endpoint over a websocket. Audio then travels
// as base64 input_audio_buffer.append events rather than a media track.
type WebSocketDialer struct {
	Dialer *websocket.Dialer
	Logger zerolog.Logger
}

func NewWebSocketDialer(logger zerolog.Logger) *WebSocketDialer {
	return &WebSocketDialer{Dialer: websocket.DefaultDialer, Logger: logger}
}

func (d *WebSocketDialer) Dial(ctx context.Context, h Handle) (Connection, error) {
	u, err := websocketURL(h)
	if err != nil {
		return nil, &realtime.NegotiationError{Stage: "endpoint", Err: err}
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+h.Token)
	headers.Set("OpenAI-Beta", "realtime=v1")

	ws, res, err := d.Dialer.DialContext(ctx, u, headers)
	if err != nil {
		if res != nil {
			err = fmt.Errorf("handshake status %d: %w", res.StatusCode, err)
		}
		return nil, &realtime.NegotiationError{Stage: "websocket dial", Err: err}
	}

	conn := &wsConn{inbox: newInbox(0), ws: ws, logger: d.Logger}
	go conn.readLoop()
	return conn, nil
}

func websocketURL(h Handle) (string, error) {
	u, err := url.Parse(strings.TrimSpace(h.EndpointURL))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	if h.Model != "" && u.Query().Get("model") == "" {
		q := u.Query()
		q.Set("model", h.Model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

type wsConn struct {
	*inbox
	ws     *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex
}

func (c *wsConn) Send(payload []byte) error {
	select {
	case <-c.inbox.Done():
		return errors.New("connection closed")
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) AudioSink() AudioSink { return nil }

func (c *wsConn) Close() error {
	if !c.inbox.shutdown(nil) {
		return nil
	}
	c.writeMu.Lock()
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.ws.Close()
}

func (c *wsConn) readLoop() {
	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			reason := "read"
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				reason = "remote closed"
			}
			if c.inbox.shutdown(&realtime.TransportDisconnectedError{Reason: reason, Err: err}) {
				c.logger.Warn().Err(err).Msg("realtime websocket dropped")
				_ = c.ws.Close()
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		if !c.inbox.deliver(data) {
			return
		}
	}
}
