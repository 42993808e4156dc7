package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tally/internal/model"
)

// pgQuerier is satisfied by both *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&pgTx{q: tx})
	})
}

func (s *PostgresStore) EnsureAccount(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	return nil
}

func (s *PostgresStore) Increment(ctx context.Context, userID string, amount int64) (int64, error) {
	return pgIncrement(ctx, s.pool, userID, amount)
}

func (s *PostgresStore) Decrement(ctx context.Context, userID string, amount int64) (int64, error) {
	return pgDecrement(ctx, s.pool, userID, amount)
}

func (s *PostgresStore) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx, `SELECT balance FROM accounts WHERE user_id = $1`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

func (s *PostgresStore) CreateIntent(ctx context.Context, intent model.Intent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO intents (id, user_id, quantity, status, redirect_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		intent.ID, intent.UserID, intent.Quantity, string(intent.Status), intent.RedirectURL, intent.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert intent: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetIntent(ctx context.Context, intentID string) (*model.Intent, error) {
	return pgGetIntent(ctx, s.pool, intentID)
}

func (s *PostgresStore) MarkIntentFulfilled(ctx context.Context, intentID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE intents SET status = $2, fulfilled_at = now()
		WHERE id = $1 AND status = $3`, intentID, string(model.IntentFulfilled), string(model.IntentPending))
	if err != nil {
		return fmt.Errorf("mark intent fulfilled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark intent %s fulfilled: %w", intentID, model.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) SpendReceipt(ctx context.Context, key string) (*model.SpendReceipt, error) {
	var r model.SpendReceipt
	err := s.pool.QueryRow(ctx, `
		SELECT key, user_id, amount, balance_after, created_at
		FROM spend_receipts WHERE key = $1`, key).
		Scan(&r.Key, &r.UserID, &r.Amount, &r.BalanceAfter, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get spend receipt: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) ListReviews(ctx context.Context, limit int) ([]model.ReviewRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, notification_id, intent_id, reason, created_at
		FROM review_records ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var out []model.ReviewRecord
	for rows.Next() {
		var r model.ReviewRecord
		if err := rows.Scan(&r.ID, &r.NotificationID, &r.IntentID, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertLedgerEntry(ctx context.Context, e model.LedgerEntry) error {
	return pgInsertLedgerEntry(ctx, s.pool, e)
}

func (s *PostgresStore) LedgerEntries(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, kind, amount, balance_after, reference, created_at
		FROM ledger_entries WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []model.LedgerEntry
	for rows.Next() {
		var (
			e    model.LedgerEntry
			kind string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &kind, &e.Amount, &e.BalanceAfter, &e.Reference, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Kind = model.EntryKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

type pgTx struct {
	q pgQuerier
}

func (t *pgTx) ClaimNotification(ctx context.Context, n model.ProcessedNotification) (bool, error) {
	// Concurrent claims of the same id block on the primary key until the first commits.
	tag, err := t.q.Exec(ctx, `
		INSERT INTO processed_notifications (id, intent_id, event_type, received_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`, n.ID, n.IntentID, string(n.EventType), n.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("claim notification: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) ClaimIntentGrant(ctx context.Context, intentID, notificationID string) (bool, error) {
	tag, err := t.q.Exec(ctx, `
		INSERT INTO intent_grants (intent_id, notification_id)
		VALUES ($1, $2)
		ON CONFLICT (intent_id) DO NOTHING`, intentID, notificationID)
	if err != nil {
		return false, fmt.Errorf("claim intent grant: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) GetIntent(ctx context.Context, intentID string) (*model.Intent, error) {
	return pgGetIntent(ctx, t.q, intentID)
}

func (t *pgTx) Increment(ctx context.Context, userID string, amount int64) (int64, error) {
	return pgIncrement(ctx, t.q, userID, amount)
}

func (t *pgTx) Decrement(ctx context.Context, userID string, amount int64) (int64, error) {
	return pgDecrement(ctx, t.q, userID, amount)
}

func (t *pgTx) RecordReview(ctx context.Context, r model.ReviewRecord) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO review_records (id, notification_id, intent_id, reason, created_at)
		VALUES ($1, $2, $3, $4, $5)`, r.ID, r.NotificationID, r.IntentID, r.Reason, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("record review: %w", err)
	}
	return nil
}

func (t *pgTx) InsertSpendReceipt(ctx context.Context, r model.SpendReceipt) error {
	tag, err := t.q.Exec(ctx, `
		INSERT INTO spend_receipts (key, user_id, amount, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO NOTHING`, r.Key, r.UserID, r.Amount, r.BalanceAfter, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert spend receipt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateSpend
	}
	return nil
}

func (t *pgTx) InsertLedgerEntry(ctx context.Context, e model.LedgerEntry) error {
	return pgInsertLedgerEntry(ctx, t.q, e)
}

func pgInsertLedgerEntry(ctx context.Context, q pgQuerier, e model.LedgerEntry) error {
	_, err := q.Exec(ctx, `
		INSERT INTO ledger_entries (id, user_id, kind, amount, balance_after, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.UserID, string(e.Kind), e.Amount, e.BalanceAfter, e.Reference, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func pgIncrement(ctx context.Context, q pgQuerier, userID string, amount int64) (int64, error) {
	if err := validAmount(amount); err != nil {
		return 0, err
	}
	var balance int64
	err := q.QueryRow(ctx, `
		INSERT INTO accounts (user_id, balance) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = accounts.balance + EXCLUDED.balance, updated_at = now()
		RETURNING balance`, userID, amount).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("increment balance: %w", err)
	}
	return balance, nil
}

func pgDecrement(ctx context.Context, q pgQuerier, userID string, amount int64) (int64, error) {
	if err := validAmount(amount); err != nil {
		return 0, err
	}
	var balance int64
	err := q.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance - $2, updated_at = now()
		WHERE user_id = $1 AND balance >= $2
		RETURNING balance`, userID, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, model.ErrInsufficientBalance
		}
		return 0, fmt.Errorf("decrement balance: %w", err)
	}
	return balance, nil
}

func pgGetIntent(ctx context.Context, q pgQuerier, intentID string) (*model.Intent, error) {
	var (
		in          model.Intent
		status      string
		fulfilledAt *time.Time
	)
	err := q.QueryRow(ctx, `
		SELECT id, user_id, quantity, status, redirect_url, created_at, fulfilled_at
		FROM intents WHERE id = $1`, intentID).
		Scan(&in.ID, &in.UserID, &in.Quantity, &status, &in.RedirectURL, &in.CreatedAt, &fulfilledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get intent: %w", err)
	}
	in.Status = model.IntentStatus(status)
	in.FulfilledAt = fulfilledAt
	return &in, nil
}
