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
	"tally/internal/payment"
)

func (l *Ledger) EnsureAccount(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user id is required", model.ErrInvalidRequest)
	}
	return l.store.EnsureAccount(ctx, userID)
}

// CreateIntent asks the processor for a checkout and records it as a pending intent.
// No balance changes here; credits arrive only through Reconcile.
func (l *Ledger) CreateIntent(ctx context.Context, userID string, quantity int64) (*model.Intent, error) {
	ctx, span := tracer.Start(ctx, "ledger.CreateIntent", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.Int64("quantity", quantity),
	))
	defer span.End()

	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", model.ErrInvalidRequest)
	}
	if quantity < 1 || quantity > l.maxQuantity {
		return nil, fmt.Errorf("%w: quantity must be between 1 and %d", model.ErrInvalidRequest, l.maxQuantity)
	}

	if err := l.store.EnsureAccount(ctx, userID); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("ensure account: %w", err)
	}

	checkout, err := l.processor.CreateCheckout(ctx, payment.CheckoutRequest{
		UserID:     userID,
		Quantity:   quantity,
		SuccessURL: payment.SuccessURL(l.successURL, userID),
		CancelURL:  l.cancelURL,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, model.ErrUpstreamUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("create checkout: %w", err)
	}
	if checkout.ID == "" || checkout.URL == "" {
		return nil, fmt.Errorf("%w: processor returned an empty checkout", model.ErrUpstreamUnavailable)
	}

	intent := model.Intent{
		ID:          checkout.ID,
		UserID:      userID,
		Quantity:    quantity,
		Status:      model.IntentPending,
		RedirectURL: checkout.URL,
		CreatedAt:   l.now().UTC(),
	}
	// A checkout that exists only at the processor is harmless: its completion
	// cannot be matched to an intent and goes to manual review.
	if err := l.store.CreateIntent(ctx, intent); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("persist intent: %w", err)
	}

	l.logger.InfoContext(ctx, "purchase intent created",
		"intent_id", intent.ID,
		"user_id", userID,
		"quantity", quantity,
	)
	return &intent, nil
}
