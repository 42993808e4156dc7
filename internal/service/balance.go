package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tally/internal/model"
	"tally/internal/repository"
)

// GetBalance serves from the cache when possible. A missing account reads as 0.
func (l *Ledger) GetBalance(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, fmt.Errorf("%w: user id is required", model.ErrInvalidRequest)
	}

	balance, err := l.cache.Get(ctx, userID)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, repository.ErrCacheMiss) {
		l.logger.WarnContext(ctx, "balance cache read failed", "user_id", userID, "error", err)
	}

	version, verr := l.cache.Version(ctx, userID)
	balance, err = l.store.Balance(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}
	if verr != nil {
		l.logger.WarnContext(ctx, "balance cache version read failed", "user_id", userID, "error", verr)
		return balance, nil
	}
	if _, err := l.cache.Fill(ctx, userID, version, balance); err != nil {
		l.logger.WarnContext(ctx, "balance cache write failed", "user_id", userID, "error", err)
	}
	return balance, nil
}

// Spend debits amount from the user. With an idempotency key, a repeated request
// returns the first result instead of debiting twice.
func (l *Ledger) Spend(ctx context.Context, req model.SpendRequest) (*model.SpendResult, error) {
	ctx, span := tracer.Start(ctx, "ledger.Spend", trace.WithAttributes(
		attribute.String("user_id", req.UserID),
		attribute.Int64("amount", req.Amount),
	))
	defer span.End()

	if strings.TrimSpace(req.UserID) == "" {
		return nil, fmt.Errorf("%w: user id is required", model.ErrInvalidRequest)
	}
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", model.ErrInvalidRequest)
	}

	var (
		res *model.SpendResult
		err error
	)
	if req.IdempotencyKey == "" {
		res, err = l.spendOnce(ctx, req)
	} else {
		res, err = l.spendIdempotent(ctx, req)
	}
	if err != nil {
		if !errors.Is(err, model.ErrInsufficientBalance) {
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("status", res.Status))
	return res, nil
}

func (l *Ledger) spendOnce(ctx context.Context, req model.SpendRequest) (*model.SpendResult, error) {
	entry := l.debitEntry("debit:"+l.newID(), req)
	if err := l.debit(ctx, &entry, nil); err != nil {
		return nil, fmt.Errorf("spend: %w", err)
	}
	l.afterDebit(ctx, entry)
	return &model.SpendResult{NewBalance: entry.BalanceAfter, Status: model.SpendStatusSuccess}, nil
}

func (l *Ledger) spendIdempotent(ctx context.Context, req model.SpendRequest) (*model.SpendResult, error) {
	key := receiptKey(req.UserID, req.IdempotencyKey)

	if res, err := l.replay(ctx, key, req); !errors.Is(err, model.ErrNotFound) {
		return res, err
	}

	entry := l.debitEntry("debit:"+key, req)
	err := l.debit(ctx, &entry, func(tx repository.Tx) error {
		return tx.InsertSpendReceipt(ctx, model.SpendReceipt{
			Key:          key,
			UserID:       req.UserID,
			Amount:       req.Amount,
			BalanceAfter: entry.BalanceAfter,
			CreatedAt:    entry.CreatedAt,
		})
	})
	if err != nil {
		// A concurrent request with the same key may have committed first; its
		// debit can also be why this one ran out of balance.
		if errors.Is(err, repository.ErrDuplicateSpend) || errors.Is(err, model.ErrInsufficientBalance) {
			if res, rerr := l.replay(ctx, key, req); !errors.Is(rerr, model.ErrNotFound) {
				return res, rerr
			}
		}
		return nil, fmt.Errorf("spend: %w", err)
	}

	l.afterDebit(ctx, entry)
	return &model.SpendResult{NewBalance: entry.BalanceAfter, Status: model.SpendStatusSuccess}, nil
}

// debit decrements the balance and journals entry in one transaction. extra runs
// after the decrement, with entry.BalanceAfter already set.
func (l *Ledger) debit(ctx context.Context, entry *model.LedgerEntry, extra func(tx repository.Tx) error) error {
	l.invalidate(ctx, entry.UserID)
	return l.store.WithinTx(ctx, func(tx repository.Tx) error {
		balance, err := tx.Decrement(ctx, entry.UserID, entry.Amount)
		if err != nil {
			return err
		}
		entry.BalanceAfter = balance
		if extra != nil {
			if err := extra(tx); err != nil {
				return err
			}
		}
		return tx.InsertLedgerEntry(ctx, *entry)
	})
}

func (l *Ledger) debitEntry(id string, req model.SpendRequest) model.LedgerEntry {
	return model.LedgerEntry{
		ID:        id,
		UserID:    req.UserID,
		Kind:      model.EntryDebit,
		Amount:    req.Amount,
		Reference: req.IdempotencyKey,
		CreatedAt: l.now().UTC(),
	}
}

// replay returns the stored result for key, model.ErrNotFound if there is none.
func (l *Ledger) replay(ctx context.Context, key string, req model.SpendRequest) (*model.SpendResult, error) {
	receipt, err := l.store.SpendReceipt(ctx, key)
	if err != nil {
		return nil, err
	}
	if receipt.Amount != req.Amount {
		return nil, fmt.Errorf("%w: idempotency key reused with a different amount", model.ErrInvalidRequest)
	}
	return &model.SpendResult{NewBalance: receipt.BalanceAfter, Status: model.SpendStatusDuplicate}, nil
}

func (l *Ledger) afterDebit(ctx context.Context, entry model.LedgerEntry) {
	l.invalidate(ctx, entry.UserID)
	l.logger.InfoContext(ctx, "credits spent",
		"user_id", entry.UserID,
		"amount", entry.Amount,
		"balance", entry.BalanceAfter,
	)
	l.publish(ctx, entry)
}

func receiptKey(userID, key string) string {
	return userID + "/" + key
}

func (l *Ledger) LedgerEntries(ctx context.Context, userID string) ([]model.LedgerEntry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", model.ErrInvalidRequest)
	}
	return l.store.LedgerEntries(ctx, userID)
}

// SyncLedgerEntry stores a journal entry received from the bus. Replays are ignored.
func (l *Ledger) SyncLedgerEntry(ctx context.Context, entry model.LedgerEntry) error {
	if entry.ID == "" || entry.UserID == "" {
		return fmt.Errorf("%w: ledger entry id and user are required", model.ErrInvalidRequest)
	}
	return l.store.InsertLedgerEntry(ctx, entry)
}
