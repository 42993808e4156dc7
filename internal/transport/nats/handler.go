package nats

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nats-io/nats.go"

	"tally/internal/model"
	"tally/internal/repository"
	"tally/internal/service"
)

const queueGroup = "ledger_group"

// Handler subscribes to NATS command topics and delegates to the ledger service.
type Handler struct {
	svc  service.LedgerService
	nc   *nats.Conn
	subs []*nats.Subscription
}

func NewHandler(svc service.LedgerService, nc *nats.Conn) *Handler {
	return &Handler{svc: svc, nc: nc}
}

// HandleSpend executes one spend command. Commands should carry an idempotency key
// so that NATS redelivery cannot debit twice.
func (h *Handler) HandleSpend(ctx context.Context, data []byte) error {
	var req model.SpendRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return err
	}
	_, err := h.svc.Spend(ctx, req)
	return err
}

// Start subscribes to command topics and blocks until ctx is cancelled (graceful shutdown).
func (h *Handler) Start(ctx context.Context) error {
	sub, err := h.nc.QueueSubscribe(repository.TopicSpendCommands, queueGroup, func(m *nats.Msg) {
		err := h.HandleSpend(ctx, m.Data)
		switch {
		case err == nil:
		case errors.Is(err, model.ErrInsufficientBalance):
			slog.WarnContext(ctx, "nats: spend rejected", "error", err)
		default:
			slog.ErrorContext(ctx, "nats: spend failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, sub)

	slog.InfoContext(ctx, "NATS command handler is running", "subject", repository.TopicSpendCommands)

	<-ctx.Done()
	slog.Info("NATS command handler shutting down, draining subscriptions...")

	for _, s := range h.subs {
		_ = s.Drain()
	}
	return nil
}

func (h *Handler) Stop(ctx context.Context) error {
	for _, s := range h.subs {
		_ = s.Unsubscribe()
	}
	return nil
}
