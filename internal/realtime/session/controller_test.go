package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/artwise/artwise/internal/realtime"
	"github.com/artwise/artwise/internal/realtime/eventbus"
	"github.com/artwise/artwise/internal/realtime/protocol"
	"github.com/artwise/artwise/internal/realtime/transport"
)

type sequenceNegotiator struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (n *sequenceNegotiator) CreateSession(context.Context, string, protocol.SessionConfig) (transport.Handle, error) {
	return transport.Handle{SessionID: "remote", Token: "ek", EndpointURL: "https://rt.example"}, nil
}

func (n *sequenceNegotiator) Negotiate(context.Context, transport.Handle) (transport.Connection, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := newFakeConn()
	n.conns = append(n.conns, c)
	return c, nil
}

func TestControllerCommandsBeforeConnectAreMisuse(t *testing.T) {
	c := NewController("u", &sequenceNegotiator{})
	err := c.SendTextMessage("hello")
	var misuse *realtime.CommandMisuseError
	if !errors.As(err, &misuse) || misuse.Status != string(StatusDisconnected) {
		t.Fatalf("SendTextMessage() error = %v", err)
	}
	c.Disconnect()
	if c.Status() != StatusDisconnected {
		t.Fatalf("Status() = %q", c.Status())
	}
}

func TestControllerReusesLiveSession(t *testing.T) {
	neg := &sequenceNegotiator{}
	c := NewController("u", neg)
	if err := c.Connect(context.Background(), protocol.SessionConfig{}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Disconnect()
	first := c.Current()
	if err := c.Connect(context.Background(), protocol.SessionConfig{}); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
	if c.Current() != first || len(neg.conns) != 1 {
		t.Fatalf("connected session was replaced")
	}
}

func TestControllerReconnectKeepsSubscriptions(t *testing.T) {
	neg := &sequenceNegotiator{}
	c := NewController("u", neg)
	deltas := make(chan eventbus.Event, 4)
	c.On(protocol.EventResponseTextDelta, func(ev eventbus.Event) { deltas <- ev })

	if err := c.Connect(context.Background(), protocol.SessionConfig{}); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	first := c.Current()
	c.Disconnect()

	if err := c.Connect(context.Background(), protocol.SessionConfig{}); err != nil {
		t.Fatalf("reconnect error = %v", err)
	}
	defer c.Disconnect()
	second := c.Current()
	if second == first || second.ID() == first.ID() {
		t.Fatalf("reconnect reused the terminated session")
	}
	if first.Status() != StatusDisconnected || second.Status() != StatusConnected {
		t.Fatalf("first=%q second=%q", first.Status(), second.Status())
	}

	neg.conns[1].messages <- []byte(`{"type":"response.text.delta","delta":"again"}`)
	ev := waitForEvent(t, deltas, 2*time.Second)
	if ev.SessionID != second.ID() {
		t.Fatalf("event session = %q, want %q", ev.SessionID, second.ID())
	}
	if err := c.SendTextMessage("and the frame?"); err != nil {
		t.Fatalf("SendTextMessage() error = %v", err)
	}
}
