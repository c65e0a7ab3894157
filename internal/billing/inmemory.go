package billing

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is an in-process store for local/dev use.
type InMemoryStore struct {
	freeCredits int64

	mu           sync.RWMutex
	accounts     map[string]Account
	transactions map[string][]Transaction
	sessions     map[string]map[string]SessionSummary
}

func NewInMemoryStore(freeCredits int64) *InMemoryStore {
	return &InMemoryStore{
		freeCredits:  freeCredits,
		accounts:     make(map[string]Account),
		transactions: make(map[string][]Transaction),
		sessions:     make(map[string]map[string]SessionSummary),
	}
}

func (s *InMemoryStore) GetAccount(_ context.Context, userID string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accountLocked(userID), nil
}

func (s *InMemoryStore) accountLocked(userID string) Account {
	acct, ok := s.accounts[userID]
	if !ok {
		now := time.Now().UTC()
		acct = Account{UserID: userID, AvailableCredits: s.freeCredits, CreatedAt: now, UpdatedAt: now}
		s.accounts[userID] = acct
	}
	return acct
}

func (s *InMemoryStore) Charge(_ context.Context, tx Transaction) (Account, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.accountLocked(tx.UserID)
	acct.AvailableCredits -= tx.Cost
	acct.UsedCredits += tx.Cost
	at := tx.CreatedAt
	acct.LastTransactionAt = &at
	acct.UpdatedAt = tx.CreatedAt
	s.accounts[tx.UserID] = acct
	s.transactions[tx.UserID] = append(s.transactions[tx.UserID], tx)
	return acct, nil
}

func (s *InMemoryStore) SetBlocked(_ context.Context, userID string, blocked bool) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct := s.accountLocked(userID)
	acct.Blocked = blocked
	acct.UpdatedAt = time.Now().UTC()
	s.accounts[userID] = acct
	return acct, nil
}

func (s *InMemoryStore) ListTransactions(_ context.Context, userID string, limit int) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	arr := s.transactions[userID]
	if limit <= 0 || limit > len(arr) {
		limit = len(arr)
	}
	out := make([]Transaction, 0, limit)
	for i := len(arr) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, arr[i])
	}
	return out, nil
}

func (s *InMemoryStore) RecordSession(_ context.Context, summary SessionSummary) (SessionSummary, error) {
	if summary.UpdatedAt.IsZero() {
		summary.UpdatedAt = time.Now().UTC()
	}
	if summary.StartedAt.IsZero() {
		summary.StartedAt = summary.UpdatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	byID := s.sessions[summary.UserID]
	if byID == nil {
		byID = make(map[string]SessionSummary)
		s.sessions[summary.UserID] = byID
	}
	merged := summary
	if prev, ok := byID[summary.ID]; ok {
		merged = prev.Merge(summary)
	}
	byID[summary.ID] = merged
	return merged, nil
}

func (s *InMemoryStore) GetSession(_ context.Context, userID, sessionID string) (SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.sessions[userID][sessionID]
	if !ok {
		return SessionSummary{}, ErrNotFound
	}
	return sum, nil
}

// ListSessions returns the most recently started sessions first.
func (s *InMemoryStore) ListSessions(_ context.Context, userID string, limit int) ([]SessionSummary, error) {
	s.mu.RLock()
	out := make([]SessionSummary, 0, len(s.sessions[userID]))
	for _, sum := range s.sessions[userID] {
		out = append(out, sum)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) DeleteSession(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[userID][sessionID]; !ok {
		return ErrNotFound
	}
	delete(s.sessions[userID], sessionID)
	return nil
}

func (s *InMemoryStore) Ping(context.Context) error { return nil }

func (s *InMemoryStore) Close() error { return nil }
