// Package eventbus lets UI and billing code subscribe to realtime events by type
// without touching the transport.
package eventbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artwise/artwise/internal/observability"
	"github.com/artwise/artwise/internal/realtime/protocol"
)

// Event is what subscribers receive. RemoteSessionID is the upstream session id and stays
// empty until credentials are issued.
type Event struct {
	Type            protocol.EventType
	SessionID       string
	RemoteSessionID string
	UserID          string
	ReceivedAt      time.Time
	Payload         protocol.ServerEvent
	// Usage is the cumulative session usage at the time the event was published.
	Usage protocol.Usage
}

type Handler func(Event)

type entry struct {
	id      uint64
	handler Handler
}

// Subscription identifies one registered handler.
type Subscription struct {
	bus       *Bus
	eventType protocol.EventType
	id        uint64
}

// Unsubscribe removes the handler. It is safe to call more than once.
func (s Subscription) Unsubscribe() {
	if s.bus == nil {
		return
	}
	s.bus.Off(s.eventType, s)
}

type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[protocol.EventType][]entry
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

func New(logger zerolog.Logger, metrics *observability.Metrics) *Bus {
	return &Bus{
		handlers: make(map[protocol.EventType][]entry),
		logger:   logger,
		metrics:  metrics,
	}
}

// On registers h for eventType. Handlers only see events emitted after registration.
func (b *Bus) On(eventType protocol.EventType, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.handlers[eventType] = append(b.handlers[eventType], entry{id: b.nextID, handler: h})
	return Subscription{bus: b, eventType: eventType, id: b.nextID}
}

func (b *Bus) Off(eventType protocol.EventType, sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.handlers[eventType]
	for i, e := range list {
		if e.id != sub.id {
			continue
		}
		next := make([]entry, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(b.handlers, eventType)
		} else {
			b.handlers[eventType] = next
		}
		return
	}
}

// Emit synchronously invokes every handler registered for ev.Type, in registration order.
// A panicking handler is logged and skipped; the remaining handlers still run.
func (b *Bus) Emit(ev Event) {
	if ev.Type == "" && ev.Payload != nil {
		ev.Type = ev.Payload.EventType()
	}
	b.mu.RLock()
	list := b.handlers[ev.Type]
	b.mu.RUnlock()

	for _, e := range list {
		b.invoke(e, ev)
	}
}

// HandlerCount returns how many handlers are registered for eventType.
func (b *Bus) HandlerCount(eventType protocol.EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}

func (b *Bus) invoke(e entry, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.metrics.ObserveHandlerPanic(string(ev.Type))
			b.logger.Warn().
				Str("event_type", string(ev.Type)).
				Str("session_id", ev.SessionID).
				Str("panic", fmt.Sprint(r)).
				Msg("event handler panicked")
		}
	}()
	e.handler(ev)
}
