package billing

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore persists accounts, charges and session summaries in PostgreSQL.
type PostgresStore struct {
	pool        *pgxpool.Pool
	freeCredits int64
}

func NewPostgresStore(ctx context.Context, databaseURL string, freeCredits int64) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, freeCredits: freeCredits}, nil
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	dir, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, dir)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

const accountColumns = `user_id, available_credits, used_credits, blocked, last_transaction_at, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.UserID, &a.AvailableCredits, &a.UsedCredits, &a.Blocked, &a.LastTransactionAt, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (s *PostgresStore) ensureAccount(ctx context.Context, q pgx.Tx, userID string) error {
	_, err := q.Exec(ctx,
		`INSERT INTO accounts (user_id, available_credits) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING`,
		userID, s.freeCredits,
	)
	if err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, userID string) (Account, error) {
	acct, err := scanAccount(s.pool.QueryRow(ctx,
		`INSERT INTO accounts (user_id, available_credits) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		 RETURNING `+accountColumns,
		userID, s.freeCredits,
	))
	if err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	return acct, nil
}

func (s *PostgresStore) Charge(ctx context.Context, tx Transaction) (Account, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	dbtx, err := s.pool.Begin(ctx)
	if err != nil {
		return Account{}, fmt.Errorf("charge: begin: %w", err)
	}
	defer func() { _ = dbtx.Rollback(ctx) }()

	if err := s.ensureAccount(ctx, dbtx, tx.UserID); err != nil {
		return Account{}, err
	}
	acct, err := scanAccount(dbtx.QueryRow(ctx,
		`UPDATE accounts
		 SET available_credits = available_credits - $2,
		     used_credits = used_credits + $2,
		     last_transaction_at = $3,
		     updated_at = $3
		 WHERE user_id = $1
		 RETURNING `+accountColumns,
		tx.UserID, tx.Cost, tx.CreatedAt,
	))
	if err != nil {
		return Account{}, fmt.Errorf("charge: update account: %w", err)
	}
	if _, err := dbtx.Exec(ctx,
		`INSERT INTO credit_transactions (id, user_id, usage_type, cost, session_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		tx.ID, tx.UserID, string(tx.UsageType), tx.Cost, tx.SessionID, tx.CreatedAt,
	); err != nil {
		return Account{}, fmt.Errorf("charge: insert transaction: %w", err)
	}
	if err := dbtx.Commit(ctx); err != nil {
		return Account{}, fmt.Errorf("charge: commit: %w", err)
	}
	return acct, nil
}

func (s *PostgresStore) SetBlocked(ctx context.Context, userID string, blocked bool) (Account, error) {
	acct, err := scanAccount(s.pool.QueryRow(ctx,
		`INSERT INTO accounts (user_id, available_credits, blocked) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET blocked = EXCLUDED.blocked, updated_at = now()
		 RETURNING `+accountColumns,
		userID, s.freeCredits, blocked,
	))
	if err != nil {
		return Account{}, fmt.Errorf("set blocked: %w", err)
	}
	return acct, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, usage_type, cost, session_id, created_at
		 FROM credit_transactions
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	out := make([]Transaction, 0, limit)
	for rows.Next() {
		var tx Transaction
		var usage string
		if err := rows.Scan(&tx.ID, &tx.UserID, &usage, &tx.Cost, &tx.SessionID, &tx.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.UsageType = UsageType(usage)
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return out, nil
}

const sessionColumns = `id, user_id, remote_session_id, status, end_reason, responses, input_tokens,
	output_tokens, total_tokens, credits_charged, started_at, ended_at, updated_at`

func scanSession(row pgx.Row) (SessionSummary, error) {
	var s SessionSummary
	err := row.Scan(&s.ID, &s.UserID, &s.RemoteSessionID, &s.Status, &s.EndReason, &s.Responses,
		&s.InputTokens, &s.OutputTokens, &s.TotalTokens, &s.CreditsCharged, &s.StartedAt, &s.EndedAt, &s.UpdatedAt)
	return s, err
}

// RecordSession upserts a summary with the same merge rules as SessionSummary.Merge.
func (s *PostgresStore) RecordSession(ctx context.Context, summary SessionSummary) (SessionSummary, error) {
	if summary.UpdatedAt.IsZero() {
		summary.UpdatedAt = time.Now().UTC()
	}
	if summary.StartedAt.IsZero() {
		summary.StartedAt = summary.UpdatedAt
	}

	out, err := scanSession(s.pool.QueryRow(ctx,
		`INSERT INTO realtime_sessions (id, user_id, remote_session_id, status, end_reason, responses,
			input_tokens, output_tokens, total_tokens, credits_charged, started_at, ended_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (user_id, id) DO UPDATE SET
			remote_session_id = COALESCE(NULLIF(EXCLUDED.remote_session_id, ''), realtime_sessions.remote_session_id),
			status = COALESCE(NULLIF(EXCLUDED.status, ''), realtime_sessions.status),
			end_reason = COALESCE(NULLIF(EXCLUDED.end_reason, ''), realtime_sessions.end_reason),
			responses = GREATEST(realtime_sessions.responses, EXCLUDED.responses),
			input_tokens = GREATEST(realtime_sessions.input_tokens, EXCLUDED.input_tokens),
			output_tokens = GREATEST(realtime_sessions.output_tokens, EXCLUDED.output_tokens),
			total_tokens = GREATEST(realtime_sessions.total_tokens, EXCLUDED.total_tokens),
			credits_charged = GREATEST(realtime_sessions.credits_charged, EXCLUDED.credits_charged),
			started_at = LEAST(realtime_sessions.started_at, EXCLUDED.started_at),
			ended_at = COALESCE(realtime_sessions.ended_at, EXCLUDED.ended_at),
			updated_at = GREATEST(realtime_sessions.updated_at, EXCLUDED.updated_at)
		 RETURNING `+sessionColumns,
		summary.ID, summary.UserID, summary.RemoteSessionID, summary.Status, summary.EndReason, summary.Responses,
		summary.InputTokens, summary.OutputTokens, summary.TotalTokens, summary.CreditsCharged,
		summary.StartedAt, summary.EndedAt, summary.UpdatedAt,
	))
	if err != nil {
		return SessionSummary{}, fmt.Errorf("record session: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, userID, sessionID string) (SessionSummary, error) {
	out, err := scanSession(s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM realtime_sessions WHERE user_id = $1 AND id = $2`,
		userID, sessionID,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return SessionSummary{}, ErrNotFound
	}
	if err != nil {
		return SessionSummary{}, fmt.Errorf("get session: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, userID string, limit int) ([]SessionSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM realtime_sessions
		 WHERE user_id = $1
		 ORDER BY started_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]SessionSummary, 0, limit)
	for rows.Next() {
		sum, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, userID, sessionID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM realtime_sessions WHERE user_id = $1 AND id = $2`, userID, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
