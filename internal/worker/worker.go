package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"tally/internal/repository"
	"tally/internal/service"
)

// JournalWorker listens on the ledger.entries topic and projects every committed
// balance mutation into the ledger_entries table.
type JournalWorker struct {
	svc      service.LedgerService
	natsConn *nats.Conn
}

func NewJournalWorker(svc service.LedgerService, nc *nats.Conn) *JournalWorker {
	return &JournalWorker{
		svc:      svc,
		natsConn: nc,
	}
}

// Handle decodes one bus message and stores it. Replays are no-ops.
func (w *JournalWorker) Handle(ctx context.Context, data []byte) error {
	entry, err := repository.DecodeEntry(data)
	if err != nil {
		return err
	}
	if err := w.svc.SyncLedgerEntry(ctx, entry); err != nil {
		return fmt.Errorf("sync ledger entry %s: %w", entry.ID, err)
	}
	slog.DebugContext(ctx, "worker: ledger entry projected",
		"entry_id", entry.ID,
		"user_id", entry.UserID,
	)
	return nil
}

// Run subscribes to ledger.entries and blocks until ctx is cancelled.
func (w *JournalWorker) Run(ctx context.Context) error {
	// Each entry is received by only one worker in the group.
	sub, err := w.natsConn.QueueSubscribe(repository.TopicLedgerEntries, "worker_group", func(m *nats.Msg) {
		if err := w.Handle(ctx, m.Data); err != nil {
			slog.ErrorContext(ctx, "worker: failed to project ledger entry", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("worker: failed to subscribe to NATS: %w", err)
	}

	slog.InfoContext(ctx, "Journal worker is running")

	<-ctx.Done()

	slog.Info("Worker received shutdown signal, draining subscription...")
	return sub.Drain()
}

// Start implements the infrastructure.Server interface.
func (w *JournalWorker) Start(ctx context.Context) error {
	return w.Run(ctx)
}

// Stop implements the infrastructure.Server interface (no-op, shutdown is via ctx).
func (w *JournalWorker) Stop(ctx context.Context) error {
	return nil
}
