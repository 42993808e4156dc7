package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"tally/internal/model"
)

// sqlQuerier is satisfied by both *sql.DB and *sql.Tx.
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore keeps the ledger in a single SQLite file. All access goes through
// one connection, so transactions are serialized by the pool.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := RunMigrations(ctx, db, DialectSQLite, "up"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func sqliteDSN(path string) string {
	return filepath.Clean(path) + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
}

func (s *SQLiteStore) Close() {
	_ = s.db.Close()
}

func (s *SQLiteStore) WithinTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(&sqliteTx{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback after fn error: %v (fn err: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) EnsureAccount(ctx context.Context, userID string) error {
	now := toMillis(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (user_id, balance, created_at, updated_at) VALUES (?, 0, ?, ?)
		ON CONFLICT (user_id) DO NOTHING`, userID, now, now)
	if err != nil {
		return fmt.Errorf("ensure account: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Increment(ctx context.Context, userID string, amount int64) (int64, error) {
	return sqliteIncrement(ctx, s.db, userID, amount)
}

func (s *SQLiteStore) Decrement(ctx context.Context, userID string, amount int64) (int64, error) {
	return sqliteDecrement(ctx, s.db, userID, amount)
}

func (s *SQLiteStore) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE user_id = ?`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

func (s *SQLiteStore) CreateIntent(ctx context.Context, intent model.Intent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO intents (id, user_id, quantity, status, redirect_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		intent.ID, intent.UserID, intent.Quantity, string(intent.Status), intent.RedirectURL, toMillis(intent.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert intent: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetIntent(ctx context.Context, intentID string) (*model.Intent, error) {
	return sqliteGetIntent(ctx, s.db, intentID)
}

func (s *SQLiteStore) MarkIntentFulfilled(ctx context.Context, intentID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE intents SET status = ?, fulfilled_at = ?
		WHERE id = ? AND status = ?`,
		string(model.IntentFulfilled), toMillis(time.Now()), intentID, string(model.IntentPending))
	if err != nil {
		return fmt.Errorf("mark intent fulfilled: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("mark intent %s fulfilled: %w", intentID, model.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) SpendReceipt(ctx context.Context, key string) (*model.SpendReceipt, error) {
	var (
		r         model.SpendReceipt
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT key, user_id, amount, balance_after, created_at
		FROM spend_receipts WHERE key = ?`, key).
		Scan(&r.Key, &r.UserID, &r.Amount, &r.BalanceAfter, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get spend receipt: %w", err)
	}
	r.CreatedAt = fromMillis(createdAt)
	return &r, nil
}

func (s *SQLiteStore) ListReviews(ctx context.Context, limit int) ([]model.ReviewRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, notification_id, intent_id, reason, created_at
		FROM review_records ORDER BY created_at LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var out []model.ReviewRecord
	for rows.Next() {
		var (
			r         model.ReviewRecord
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &r.NotificationID, &r.IntentID, &r.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		r.CreatedAt = fromMillis(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertLedgerEntry(ctx context.Context, e model.LedgerEntry) error {
	return sqliteInsertLedgerEntry(ctx, s.db, e)
}

// LedgerEntries returns the journal for a user, oldest first.
func (s *SQLiteStore) LedgerEntries(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, amount, balance_after, reference, created_at
		FROM ledger_entries WHERE user_id = ? ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []model.LedgerEntry
	for rows.Next() {
		var (
			e         model.LedgerEntry
			kind      string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.UserID, &kind, &e.Amount, &e.BalanceAfter, &e.Reference, &createdAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Kind = model.EntryKind(kind)
		e.CreatedAt = fromMillis(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

type sqliteTx struct {
	q sqlQuerier
}

func (t *sqliteTx) ClaimNotification(ctx context.Context, n model.ProcessedNotification) (bool, error) {
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO processed_notifications (id, intent_id, event_type, received_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`, n.ID, n.IntentID, string(n.EventType), toMillis(n.ReceivedAt))
	if err != nil {
		return false, fmt.Errorf("claim notification: %w", err)
	}
	return insertedOne(res)
}

func (t *sqliteTx) ClaimIntentGrant(ctx context.Context, intentID, notificationID string) (bool, error) {
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO intent_grants (intent_id, notification_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (intent_id) DO NOTHING`, intentID, notificationID, toMillis(time.Now()))
	if err != nil {
		return false, fmt.Errorf("claim intent grant: %w", err)
	}
	return insertedOne(res)
}

func (t *sqliteTx) GetIntent(ctx context.Context, intentID string) (*model.Intent, error) {
	return sqliteGetIntent(ctx, t.q, intentID)
}

func (t *sqliteTx) Increment(ctx context.Context, userID string, amount int64) (int64, error) {
	return sqliteIncrement(ctx, t.q, userID, amount)
}

func (t *sqliteTx) Decrement(ctx context.Context, userID string, amount int64) (int64, error) {
	return sqliteDecrement(ctx, t.q, userID, amount)
}

func (t *sqliteTx) RecordReview(ctx context.Context, r model.ReviewRecord) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO review_records (id, notification_id, intent_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?)`, r.ID, r.NotificationID, r.IntentID, r.Reason, toMillis(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("record review: %w", err)
	}
	return nil
}

func (t *sqliteTx) InsertSpendReceipt(ctx context.Context, r model.SpendReceipt) error {
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO spend_receipts (key, user_id, amount, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (key) DO NOTHING`, r.Key, r.UserID, r.Amount, r.BalanceAfter, toMillis(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert spend receipt: %w", err)
	}
	inserted, err := insertedOne(res)
	if err != nil {
		return err
	}
	if !inserted {
		return ErrDuplicateSpend
	}
	return nil
}

func (t *sqliteTx) InsertLedgerEntry(ctx context.Context, e model.LedgerEntry) error {
	return sqliteInsertLedgerEntry(ctx, t.q, e)
}

func sqliteInsertLedgerEntry(ctx context.Context, q sqlQuerier, e model.LedgerEntry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, kind, amount, balance_after, reference, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		e.ID, e.UserID, string(e.Kind), e.Amount, e.BalanceAfter, e.Reference, toMillis(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func sqliteIncrement(ctx context.Context, q sqlQuerier, userID string, amount int64) (int64, error) {
	if err := validAmount(amount); err != nil {
		return 0, err
	}
	now := toMillis(time.Now())
	var balance int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO accounts (user_id, balance, created_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = accounts.balance + excluded.balance, updated_at = excluded.updated_at
		RETURNING balance`, userID, amount, now, now).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("increment balance: %w", err)
	}
	return balance, nil
}

func sqliteDecrement(ctx context.Context, q sqlQuerier, userID string, amount int64) (int64, error) {
	if err := validAmount(amount); err != nil {
		return 0, err
	}
	var balance int64
	err := q.QueryRowContext(ctx, `
		UPDATE accounts
		SET balance = balance - ?, updated_at = ?
		WHERE user_id = ? AND balance >= ?
		RETURNING balance`, amount, toMillis(time.Now()), userID, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, model.ErrInsufficientBalance
		}
		return 0, fmt.Errorf("decrement balance: %w", err)
	}
	return balance, nil
}

func sqliteGetIntent(ctx context.Context, q sqlQuerier, intentID string) (*model.Intent, error) {
	var (
		in          model.Intent
		status      string
		createdAt   int64
		fulfilledAt sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, user_id, quantity, status, redirect_url, created_at, fulfilled_at
		FROM intents WHERE id = ?`, intentID).
		Scan(&in.ID, &in.UserID, &in.Quantity, &status, &in.RedirectURL, &createdAt, &fulfilledAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("get intent: %w", err)
	}
	in.Status = model.IntentStatus(status)
	in.CreatedAt = fromMillis(createdAt)
	if fulfilledAt.Valid {
		t := fromMillis(fulfilledAt.Int64)
		in.FulfilledAt = &t
	}
	return &in, nil
}

func insertedOne(res sql.Result) (bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}
