package credentials

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/artwise/artwise/internal/observability"
	"github.com/artwise/artwise/internal/realtime/transport"
)

var ErrGrantNotFound = errors.New("grant not found")

const (
	defaultGrantTTL = time.Minute

	// ownerRetention is how long remote session ownership is kept after the grant expires.
	ownerRetention = 24 * time.Hour
)

// Grant records one credential handed to a user.
type Grant struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	RemoteSessionID string    `json:"remote_session_id"`
	Model           string    `json:"model,omitempty"`
	IssuedAt        time.Time `json:"issued_at"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Registry tracks credentials that are still usable so the service can report them and
// find the grant behind a remote session id.
type Registry struct {
	mu       sync.RWMutex
	grants   map[string]*Grant
	byRemote map[string]string
	owners   map[string]owner
	ttl      time.Duration
	metrics  *observability.Metrics
	onExpire func(Grant)
	now      func() time.Time
}

type owner struct {
	userID string
	until  time.Time
}

// NewRegistry creates a registry. ttl applies to handles that carry no expiry of their own.
func NewRegistry(ttl time.Duration, metrics *observability.Metrics) *Registry {
	if ttl <= 0 {
		ttl = defaultGrantTTL
	}
	return &Registry{
		grants:   make(map[string]*Grant),
		byRemote: make(map[string]string),
		owners:   make(map[string]owner),
		ttl:      ttl,
		metrics:  metrics,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *Registry) SetExpireHook(hook func(Grant)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onExpire = hook
}

func (r *Registry) Add(userID string, h transport.Handle) Grant {
	now := r.now()
	g := &Grant{
		ID:              uuid.NewString(),
		UserID:          userID,
		RemoteSessionID: h.SessionID,
		Model:           h.Model,
		IssuedAt:        now,
		ExpiresAt:       h.ExpiresAt,
	}
	if g.ExpiresAt.IsZero() {
		g.ExpiresAt = now.Add(r.ttl)
	}

	r.mu.Lock()
	r.grants[g.ID] = g
	if g.RemoteSessionID != "" {
		r.byRemote[g.RemoteSessionID] = g.ID
		r.owners[g.RemoteSessionID] = owner{userID: userID, until: g.ExpiresAt.Add(ownerRetention)}
	}
	n := len(r.grants)
	r.mu.Unlock()

	r.metrics.SetActiveSessions(n)
	return *g
}

func (r *Registry) Get(id string) (Grant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.grants[id]
	if !ok {
		return Grant{}, ErrGrantNotFound
	}
	return *g, nil
}

func (r *Registry) ByRemoteSession(remoteID string) (Grant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byRemote[remoteID]
	if !ok {
		return Grant{}, ErrGrantNotFound
	}
	return *r.grants[id], nil
}

// OwnerOf returns the user a remote session was issued to. Ownership outlives the grant
// itself by ownerRetention.
func (r *Registry) OwnerOf(remoteID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.owners[remoteID]
	return o.userID, ok
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.grants)
}

func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.expire()
			}
		}
	}()
}

func (r *Registry) expire() {
	now := r.now()
	var expired []Grant

	r.mu.Lock()
	for id, g := range r.grants {
		if now.Before(g.ExpiresAt) {
			continue
		}
		expired = append(expired, *g)
		delete(r.grants, id)
		if g.RemoteSessionID != "" {
			delete(r.byRemote, g.RemoteSessionID)
		}
	}
	for remoteID, o := range r.owners {
		if !now.Before(o.until) {
			delete(r.owners, remoteID)
		}
	}
	n := len(r.grants)
	hook := r.onExpire
	r.mu.Unlock()

	r.metrics.SetActiveSessions(n)
	if hook != nil {
		for _, g := range expired {
			hook(g)
		}
	}
}
