package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/artwise/artwise/internal/observability"
)

// Recorder is what the usage hook reports to: a local Ledger or a RemoteLedger.
type Recorder interface {
	ChargeUser(ctx context.Context, userID, sessionID string, usage UsageType) error
	RecordSession(ctx context.Context, summary SessionSummary) error
}

// Ledger applies the cost table to a Store.
type Ledger struct {
	store   Store
	logger  zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

func NewLedger(store Store, logger zerolog.Logger, metrics *observability.Metrics) *Ledger {
	return &Ledger{
		store:   store,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (l *Ledger) Store() Store { return l.store }

func (l *Ledger) Account(ctx context.Context, userID string) (Account, error) {
	if err := validUser(userID); err != nil {
		return Account{}, err
	}
	return l.store.GetAccount(ctx, userID)
}

// Authorize reports whether userID may start an action of the given type.
func (l *Ledger) Authorize(ctx context.Context, userID string, usage UsageType) (Account, error) {
	cost, err := Cost(usage)
	if err != nil {
		return Account{}, err
	}
	acct, err := l.Account(ctx, userID)
	if err != nil {
		return Account{}, err
	}
	if acct.Blocked {
		return acct, ErrAccountBlocked
	}
	if acct.AvailableCredits < cost {
		return acct, ErrInsufficientCredits
	}
	return acct, nil
}

// Charge debits the cost of usage from userID. Charges are applied even when they take
// the balance below zero; Authorize gates new work.
func (l *Ledger) Charge(ctx context.Context, userID, sessionID string, usage UsageType) (Account, error) {
	if err := validUser(userID); err != nil {
		return Account{}, err
	}
	cost, err := Cost(usage)
	if err != nil {
		l.metrics.ObserveCharge(string(usage), "invalid")
		return Account{}, err
	}
	acct, err := l.store.Charge(ctx, Transaction{
		UserID:    userID,
		UsageType: usage,
		Cost:      cost,
		SessionID: sessionID,
		CreatedAt: l.now(),
	})
	if err != nil {
		l.metrics.ObserveCharge(string(usage), "error")
		return Account{}, err
	}
	l.metrics.ObserveCharge(string(usage), "ok")
	l.logger.Debug().
		Str("user_id", userID).
		Str("session_id", sessionID).
		Str("usage_type", string(usage)).
		Int64("available_credits", acct.AvailableCredits).
		Msg("user charged")
	return acct, nil
}

func (l *Ledger) ChargeUser(ctx context.Context, userID, sessionID string, usage UsageType) error {
	_, err := l.Charge(ctx, userID, sessionID, usage)
	return err
}

func (l *Ledger) RecordSession(ctx context.Context, summary SessionSummary) error {
	_, err := l.Record(ctx, summary)
	return err
}

// Record upserts summary and returns the merged record.
func (l *Ledger) Record(ctx context.Context, summary SessionSummary) (SessionSummary, error) {
	if err := validUser(summary.UserID); err != nil {
		return SessionSummary{}, err
	}
	if strings.TrimSpace(summary.ID) == "" {
		return SessionSummary{}, fmt.Errorf("session id is required")
	}
	if summary.UpdatedAt.IsZero() {
		summary.UpdatedAt = l.now()
	}
	return l.store.RecordSession(ctx, summary)
}

func (l *Ledger) Sessions(ctx context.Context, userID string, limit int) ([]SessionSummary, error) {
	if err := validUser(userID); err != nil {
		return nil, err
	}
	return l.store.ListSessions(ctx, userID, limit)
}

func (l *Ledger) Session(ctx context.Context, userID, sessionID string) (SessionSummary, error) {
	return l.store.GetSession(ctx, userID, sessionID)
}

func (l *Ledger) DeleteSession(ctx context.Context, userID, sessionID string) error {
	return l.store.DeleteSession(ctx, userID, sessionID)
}

func (l *Ledger) Transactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if err := validUser(userID); err != nil {
		return nil, err
	}
	return l.store.ListTransactions(ctx, userID, limit)
}

func (l *Ledger) SetBlocked(ctx context.Context, userID string, blocked bool) (Account, error) {
	if err := validUser(userID); err != nil {
		return Account{}, err
	}
	acct, err := l.store.SetBlocked(ctx, userID, blocked)
	if err == nil {
		l.logger.Info().Str("user_id", userID).Bool("blocked", blocked).Msg("account block state changed")
	}
	return acct, err
}

func validUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("user id is required")
	}
	return nil
}
