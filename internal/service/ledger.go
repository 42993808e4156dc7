package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"tally/internal/model"
	"tally/internal/payment"
	"tally/internal/repository"
)

// LedgerService defines the business operations for the ledger.
// All transport layers (HTTP, gRPC, NATS) depend on this interface, not on the concrete type.
type LedgerService interface {
	EnsureAccount(ctx context.Context, userID string) error
	CreateIntent(ctx context.Context, userID string, quantity int64) (*model.Intent, error)
	Reconcile(ctx context.Context, event model.VerifiedEvent) (model.ReconcileResult, error)
	Spend(ctx context.Context, req model.SpendRequest) (*model.SpendResult, error)
	GetBalance(ctx context.Context, userID string) (int64, error)
	LedgerEntries(ctx context.Context, userID string) ([]model.LedgerEntry, error)
	SyncLedgerEntry(ctx context.Context, entry model.LedgerEntry) error
}

const DefaultMaxQuantity = 100

var tracer = otel.Tracer("tally/internal/service")

// Ledger implements LedgerService on top of a Store and a payment Processor.
type Ledger struct {
	store     repository.Store
	processor payment.Processor
	cache     repository.BalanceCache
	bus       repository.MessageBus
	logger    *slog.Logger

	maxQuantity int64
	successURL  string
	cancelURL   string

	now   func() time.Time
	newID func() string
}

var _ LedgerService = (*Ledger)(nil)

// Option configures a Ledger.
type Option func(*Ledger)

func WithCache(c repository.BalanceCache) Option {
	return func(l *Ledger) { l.cache = c }
}

func WithBus(b repository.MessageBus) Option {
	return func(l *Ledger) { l.bus = b }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithMaxQuantity bounds the credits a single intent may request.
func WithMaxQuantity(n int64) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxQuantity = n
		}
	}
}

// WithRedirects sets the processor redirect targets. successURL may contain {userId}.
func WithRedirects(successURL, cancelURL string) Option {
	return func(l *Ledger) {
		l.successURL = successURL
		l.cancelURL = cancelURL
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func New(store repository.Store, processor payment.Processor, opts ...Option) *Ledger {
	l := &Ledger{
		store:       store,
		processor:   processor,
		cache:       repository.NopBalanceCache{},
		bus:         repository.NopBus{},
		logger:      slog.Default(),
		maxQuantity: DefaultMaxQuantity,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// publish hands a committed mutation to the bus. Failures are logged, never returned:
// the balance change is already durable.
func (l *Ledger) publish(ctx context.Context, entry model.LedgerEntry) {
	if err := repository.PublishEntry(l.bus, entry); err != nil {
		l.logger.WarnContext(ctx, "failed to publish ledger entry",
			"entry_id", entry.ID,
			"user_id", entry.UserID,
			"error", err,
		)
	}
}

func (l *Ledger) invalidate(ctx context.Context, userID string) {
	if err := l.cache.Invalidate(ctx, userID); err != nil {
		l.logger.ErrorContext(ctx, "failed to invalidate balance cache", "user_id", userID, "error", err)
	}
}
