// Package billing keeps per-user credit accounts and realtime session summaries, and
// charges users as realtime responses complete.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// UsageType tags a billable action.
type UsageType string

const (
	UsageNewSearch             UsageType = "newSearch"
	UsageGenerateAudioVersion  UsageType = "generateAudioVersion"
	UsageTextConversation      UsageType = "textConversation"
	UsageLiveAudioConversation UsageType = "liveAudioConversation"
)

// FreeIncludedCredits is granted to every account on first use.
const FreeIncludedCredits int64 = 1000

var costs = map[UsageType]int64{
	UsageNewSearch:             1,
	UsageGenerateAudioVersion:  2,
	UsageTextConversation:      1,
	UsageLiveAudioConversation: 1,
}

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrAccountBlocked      = errors.New("account blocked")
)

// Cost returns the credit price of t.
func Cost(t UsageType) (int64, error) {
	c, ok := costs[t]
	if !ok {
		return 0, fmt.Errorf("unknown usage type %q", t)
	}
	return c, nil
}

type Account struct {
	UserID            string     `json:"user_id"`
	AvailableCredits  int64      `json:"available_credits"`
	UsedCredits       int64      `json:"used_credits"`
	Blocked           bool       `json:"is_blocked"`
	LastTransactionAt *time.Time `json:"last_transaction_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Transaction is one applied charge.
type Transaction struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	UsageType UsageType `json:"usage_type"`
	Cost      int64     `json:"cost"`
	SessionID string    `json:"session_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionSummary is the audit record of one realtime session attached to a user.
type SessionSummary struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	RemoteSessionID string     `json:"remote_session_id,omitempty"`
	Status          string     `json:"status,omitempty"`
	EndReason       string     `json:"end_reason,omitempty"`
	Responses       int64      `json:"responses"`
	InputTokens     int64      `json:"input_tokens"`
	OutputTokens    int64      `json:"output_tokens"`
	TotalTokens     int64      `json:"total_tokens"`
	CreditsCharged  int64      `json:"credits_charged"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Merge folds an update into s. Counters never decrease, an end time is never cleared
// and the earliest start time wins.
func (s SessionSummary) Merge(u SessionSummary) SessionSummary {
	out := s
	if u.RemoteSessionID != "" {
		out.RemoteSessionID = u.RemoteSessionID
	}
	if u.Status != "" {
		out.Status = u.Status
	}
	if u.EndReason != "" {
		out.EndReason = u.EndReason
	}
	out.Responses = max(out.Responses, u.Responses)
	out.InputTokens = max(out.InputTokens, u.InputTokens)
	out.OutputTokens = max(out.OutputTokens, u.OutputTokens)
	out.TotalTokens = max(out.TotalTokens, u.TotalTokens)
	out.CreditsCharged = max(out.CreditsCharged, u.CreditsCharged)
	if out.StartedAt.IsZero() || (!u.StartedAt.IsZero() && u.StartedAt.Before(out.StartedAt)) {
		out.StartedAt = u.StartedAt
	}
	if out.EndedAt == nil && u.EndedAt != nil {
		t := *u.EndedAt
		out.EndedAt = &t
	}
	if u.UpdatedAt.After(out.UpdatedAt) {
		out.UpdatedAt = u.UpdatedAt
	}
	return out
}

// Store persists accounts, charges and session summaries. Accounts are created with the
// store's free credit grant the first time a user is seen.
type Store interface {
	GetAccount(ctx context.Context, userID string) (Account, error)
	Charge(ctx context.Context, tx Transaction) (Account, error)
	SetBlocked(ctx context.Context, userID string, blocked bool) (Account, error)
	ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error)
	RecordSession(ctx context.Context, summary SessionSummary) (SessionSummary, error)
	GetSession(ctx context.Context, userID, sessionID string) (SessionSummary, error)
	ListSessions(ctx context.Context, userID string, limit int) ([]SessionSummary, error)
	DeleteSession(ctx context.Context, userID, sessionID string) error
	Ping(ctx context.Context) error
	Close() error
}
