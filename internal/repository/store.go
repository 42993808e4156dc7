package repository

import (
	"context"
	"errors"
	"fmt"

	"tally/internal/model"
)

// ErrDuplicateSpend is returned by Tx.InsertSpendReceipt when the idempotency key
// was already used; the surrounding transaction must be rolled back.
var ErrDuplicateSpend = errors.New("spend already recorded")

// Store is the durable ledger. Every balance mutation goes through Increment and
// Decrement (or their Tx counterparts); nothing reads then writes the balance.
type Store interface {
	EnsureAccount(ctx context.Context, userID string) error
	Increment(ctx context.Context, userID string, amount int64) (int64, error)
	Decrement(ctx context.Context, userID string, amount int64) (int64, error)
	Balance(ctx context.Context, userID string) (int64, error)

	CreateIntent(ctx context.Context, intent model.Intent) error
	GetIntent(ctx context.Context, intentID string) (*model.Intent, error)
	MarkIntentFulfilled(ctx context.Context, intentID string) error

	SpendReceipt(ctx context.Context, key string) (*model.SpendReceipt, error)
	ListReviews(ctx context.Context, limit int) ([]model.ReviewRecord, error)
	InsertLedgerEntry(ctx context.Context, entry model.LedgerEntry) error
	LedgerEntries(ctx context.Context, userID string) ([]model.LedgerEntry, error)

	// WithinTx runs fn in one transaction, committing when fn returns nil.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error

	Close()
}

// Tx is the unit of work used by reconciliation and idempotent spend.
type Tx interface {
	// ClaimNotification inserts the record if absent and reports whether this call inserted it.
	ClaimNotification(ctx context.Context, n model.ProcessedNotification) (bool, error)
	// ClaimIntentGrant records that notificationID credited intentID; false if the intent was already credited.
	ClaimIntentGrant(ctx context.Context, intentID, notificationID string) (bool, error)
	GetIntent(ctx context.Context, intentID string) (*model.Intent, error)
	Increment(ctx context.Context, userID string, amount int64) (int64, error)
	Decrement(ctx context.Context, userID string, amount int64) (int64, error)
	RecordReview(ctx context.Context, r model.ReviewRecord) error
	InsertSpendReceipt(ctx context.Context, r model.SpendReceipt) error
	// InsertLedgerEntry journals the mutation in the same unit of work; replays are ignored.
	InsertLedgerEntry(ctx context.Context, e model.LedgerEntry) error
}

func validAmount(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", model.ErrInvalidRequest)
	}
	return nil
}
