package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"tally/internal/config"
	"tally/internal/payment"
	"tally/internal/repository"
	"tally/internal/service"
	transportGRPC "tally/internal/transport/grpc"
	transportHTTP "tally/internal/transport/http"
	transportNATS "tally/internal/transport/nats"
	"tally/internal/worker"
)

// Bootstrap initialises all dependencies from config and wires up the application.
// Returns the App, a cleanup function, or an error.
func Bootstrap(ctx context.Context) (*App, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	logger := SetupJSON(cfg.LogLevel)

	var cleanupFns []func()
	fail := func(err error) (*App, func(), error) {
		runCleanup(cleanupFns)()
		return nil, nil, err
	}

	shutdownTracing, err := SetupTracing(ctx, cfg.ServiceName, cfg.OtelEndpoint)
	if err != nil {
		return fail(err)
	}
	cleanupFns = append(cleanupFns, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	})

	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	cleanupFns = append(cleanupFns, store.Close)

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithMaxQuantity(cfg.MaxQuantity),
		service.WithRedirects(cfg.SuccessURL, cfg.CancelURL),
	}

	if addr := cfg.RedisAddr(); addr != "" {
		rdb, err := connectRedis(ctx, addr)
		if err != nil {
			return fail(err)
		}
		cleanupFns = append(cleanupFns, func() { _ = rdb.Close() })
		opts = append(opts, service.WithCache(repository.NewRedisBalanceCache(rdb, cfg.BalanceCacheTTL)))
	}

	// ── Bus wiring ────────────────────────────────────────────────────────────
	var nc *nats.Conn
	natsConn := func() (*nats.Conn, error) {
		if nc != nil {
			return nc, nil
		}
		c, err := connectNats(cfg.NatsAddr())
		if err != nil {
			return nil, err
		}
		nc = c
		cleanupFns = append(cleanupFns, c.Close)
		return nc, nil
	}

	switch cfg.BusProvider {
	case config.ProviderNATS:
		c, err := natsConn()
		if err != nil {
			return fail(err)
		}
		opts = append(opts, service.WithBus(transportNATS.NewBus(c)))
	case config.ProviderGRPC:
		grpcBus, cleanup, err := transportGRPC.NewGrpcBusFromAddr(cfg.GRPCAddr(), cfg.GRPCToken)
		if err != nil {
			return fail(err)
		}
		cleanupFns = append(cleanupFns, cleanup)
		opts = append(opts, service.WithBus(grpcBus))
	}

	processor := payment.NewStripeProcessor(cfg.StripeSecretKey, cfg.StripePriceID)
	svc := service.New(store, processor, opts...)

	// ── Servers ───────────────────────────────────────────────────────────────
	var servers []Server

	if cfg.WorkerProvider == config.ProviderNATS {
		c, err := natsConn()
		if err != nil {
			return fail(err)
		}
		servers = append(servers, worker.NewJournalWorker(svc, c))
	}
	if nc != nil {
		servers = append(servers, transportNATS.NewHandler(svc, nc))
	}

	// The gRPC server also receives bus events when another instance publishes over gRPC.
	if cfg.GRPCEnabled {
		servers = append(servers, transportGRPC.NewServer(cfg.GRPCListenAddr(), cfg.GRPCToken, svc))
	}

	if addr, apiErr := cfg.ApiAddr(); apiErr == nil {
		h := transportHTTP.NewHandler(svc, payment.NewVerifier(cfg.WebhookSecret, cfg.WebhookTolerance), logger)
		auth := transportHTTP.NewAuthenticator(transportHTTP.AuthConfig{
			Secret:   []byte(cfg.JWTSecret),
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		}, h)
		servers = append(servers, transportHTTP.NewServer(addr, transportHTTP.NewRouter(h, auth)))
	} else {
		logger.Info("HTTP API not started", "reason", apiErr)
	}

	logger.Info("application wired",
		"storage", cfg.StorageDriver,
		"bus", cfg.BusProvider,
		"worker", cfg.WorkerProvider,
		"cache", cfg.RedisAddr() != "",
		"grpc", cfg.GRPCEnabled,
	)

	return NewApp(servers), runCleanup(cleanupFns), nil
}

// OpenStore connects the configured storage backend. Postgres schemas are managed by
// cmd/migrate; the sqlite store migrates itself on open.
func OpenStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.StorageDriver {
	case config.StorageSQLite:
		return repository.OpenSQLite(ctx, cfg.SQLitePath)
	case config.StoragePostgres:
		pool, err := connectPostgres(ctx, cfg.DSN())
		if err != nil {
			return nil, err
		}
		return repository.NewPostgresStore(pool), nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

// runCleanup returns a single function that calls all cleanup functions in reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
