package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tally/internal/model"
	"tally/internal/repository"
)

// Reconcile applies a verified notification to the ledger at most once.
//
// The notification claim, owner resolution, intent grant, increment and journal
// entry share one transaction: if any storage step fails nothing is kept and the processor's
// redelivery retries from scratch. A duplicate claim (same notification id, or a
// second notification for an intent already credited) is a no-op.
func (l *Ledger) Reconcile(ctx context.Context, ev model.VerifiedEvent) (model.ReconcileResult, error) {
	ctx, span := tracer.Start(ctx, "ledger.Reconcile", trace.WithAttributes(
		attribute.String("notification_id", ev.NotificationID),
		attribute.String("event_type", string(ev.Type)),
		attribute.String("intent_id", ev.IntentID),
	))
	defer span.End()

	if !ev.IsCompletion() {
		l.logger.DebugContext(ctx, "ignoring notification",
			"notification_id", ev.NotificationID,
			"type", ev.Type,
			"paid", ev.Paid,
		)
		return model.ReconcileResult{Outcome: model.OutcomeSkipped}, nil
	}
	if ev.NotificationID == "" {
		return model.ReconcileResult{}, fmt.Errorf("%w: notification id is required", model.ErrInvalidRequest)
	}

	var (
		res    model.ReconcileResult
		entry  model.LedgerEntry
		reason string
	)
	err := l.store.WithinTx(ctx, func(tx repository.Tx) error {
		res, reason = model.ReconcileResult{}, ""

		claimed, err := tx.ClaimNotification(ctx, model.ProcessedNotification{
			ID:         ev.NotificationID,
			IntentID:   ev.IntentID,
			EventType:  ev.Type,
			ReceivedAt: ev.ReceivedAt.UTC(),
		})
		if err != nil {
			return err
		}
		if !claimed {
			res.Outcome = model.OutcomeSkipped
			return nil
		}

		intent, why, err := l.resolveOwner(ctx, tx, ev)
		if err != nil {
			return err
		}
		if why != "" {
			reason = why
			res.Outcome = model.OutcomeUnresolved
			return tx.RecordReview(ctx, model.ReviewRecord{
				ID:             l.newID(),
				NotificationID: ev.NotificationID,
				IntentID:       ev.IntentID,
				Reason:         why,
				CreatedAt:      l.now().UTC(),
			})
		}

		granted, err := tx.ClaimIntentGrant(ctx, intent.ID, ev.NotificationID)
		if err != nil {
			return err
		}
		if !granted {
			res.Outcome = model.OutcomeSkipped
			return nil
		}

		// The owner is only known here, so the pre-commit invalidation happens inside the tx.
		l.invalidate(ctx, intent.UserID)
		balance, err := tx.Increment(ctx, intent.UserID, intent.Quantity)
		if err != nil {
			return err
		}
		res = model.ReconcileResult{
			Outcome:    model.OutcomeApplied,
			UserID:     intent.UserID,
			Quantity:   intent.Quantity,
			NewBalance: balance,
		}
		entry = model.LedgerEntry{
			ID:           "credit:" + ev.NotificationID,
			UserID:       intent.UserID,
			Kind:         model.EntryCredit,
			Amount:       intent.Quantity,
			BalanceAfter: balance,
			Reference:    intent.ID,
			CreatedAt:    l.now().UTC(),
		}
		return tx.InsertLedgerEntry(ctx, entry)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return model.ReconcileResult{}, fmt.Errorf("reconcile %s: %w", ev.NotificationID, err)
	}

	span.SetAttributes(attribute.String("outcome", string(res.Outcome)))

	switch res.Outcome {
	case model.OutcomeSkipped:
		l.logger.InfoContext(ctx, "notification already processed",
			"notification_id", ev.NotificationID,
			"intent_id", ev.IntentID,
		)
	case model.OutcomeUnresolved:
		l.logger.WarnContext(ctx, "notification needs manual review",
			"notification_id", ev.NotificationID,
			"intent_id", ev.IntentID,
			"reason", reason,
			"error", model.ErrUnresolvedOwner,
		)
	case model.OutcomeApplied:
		l.afterCredit(ctx, ev, res, entry)
	}

	return res, nil
}

// resolveOwner returns the stored intent, or a non-empty reason when the
// notification cannot be tied to an owner. Quantity always comes from the intent.
func (l *Ledger) resolveOwner(ctx context.Context, tx repository.Tx, ev model.VerifiedEvent) (*model.Intent, string, error) {
	if ev.IntentID == "" {
		return nil, "notification carries no intent id", nil
	}

	intent, err := tx.GetIntent(ctx, ev.IntentID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, "intent was not issued by this ledger", nil
		}
		return nil, "", err
	}
	if intent.UserID == "" {
		return nil, "intent has no owner", nil
	}
	if ev.UserID != "" && ev.UserID != intent.UserID {
		return nil, fmt.Sprintf("reported owner %q does not match intent owner", ev.UserID), nil
	}
	if ev.Quantity != 0 && ev.Quantity != intent.Quantity {
		l.logger.WarnContext(ctx, "processor quantity differs from intent, using intent",
			"notification_id", ev.NotificationID,
			"intent_id", intent.ID,
			"reported", ev.Quantity,
			"intent", intent.Quantity,
		)
	}
	return intent, "", nil
}

// afterCredit runs once the increment is committed. Nothing here may undo the credit.
func (l *Ledger) afterCredit(ctx context.Context, ev model.VerifiedEvent, res model.ReconcileResult, entry model.LedgerEntry) {
	l.invalidate(ctx, res.UserID)

	if err := l.store.MarkIntentFulfilled(ctx, ev.IntentID); err != nil {
		l.logger.ErrorContext(ctx, "failed to mark intent fulfilled",
			"intent_id", ev.IntentID,
			"notification_id", ev.NotificationID,
			"error", err,
		)
	}

	l.logger.InfoContext(ctx, "credits applied",
		"notification_id", ev.NotificationID,
		"intent_id", ev.IntentID,
		"user_id", res.UserID,
		"quantity", res.Quantity,
		"balance", res.NewBalance,
	)

	l.publish(ctx, entry)
}
