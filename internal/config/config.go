package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"

	ProviderNATS = "nats"
	ProviderGRPC = "grpc"
	ProviderNone = "none"
)

type Config struct {
	StorageDriver string `env:"TALLY_STORAGE_DRIVER" envDefault:"postgres"`
	SQLitePath    string `env:"TALLY_SQLITE_PATH" envDefault:"tally.db"`

	DBUser  string `env:"TALLY_POSTGRES_USER"`
	DBPass  string `env:"TALLY_POSTGRES_PASSWORD"`
	DBHost  string `env:"TALLY_POSTGRES_HOST" envDefault:"localhost"`
	DBPort  string `env:"TALLY_POSTGRES_PORT" envDefault:"5432"`
	DBName  string `env:"TALLY_POSTGRES_DB"`
	SSLMode string `env:"TALLY_POSTGRES_SSLMODE" envDefault:"disable"`

	// An empty RedisHost disables the balance cache.
	RedisHost       string        `env:"TALLY_REDIS_HOST"`
	RedisPort       string        `env:"TALLY_REDIS_PORT" envDefault:"6379"`
	BalanceCacheTTL time.Duration `env:"TALLY_BALANCE_CACHE_TTL" envDefault:"30s"`

	// With "none" the journal is still written by the store; the bus only feeds other consumers.
	BusProvider    string `env:"TALLY_BUS_PROVIDER" envDefault:"none"`
	WorkerProvider string `env:"TALLY_WORKER_PROVIDER"`
	NatsHost       string `env:"TALLY_NATS_HOST" envDefault:"localhost"`
	NatsPort       string `env:"TALLY_NATS_PORT" envDefault:"4222"`
	GRPCHost       string `env:"TALLY_GRPC_HOST"`
	GRPCPort       string `env:"TALLY_GRPC_PORT" envDefault:"50051"`

	// The internal gRPC server is off unless enabled and binds to loopback by default.
	GRPCEnabled    bool   `env:"TALLY_GRPC_ENABLED" envDefault:"false"`
	GRPCListenHost string `env:"TALLY_GRPC_LISTEN_HOST" envDefault:"127.0.0.1"`
	GRPCListenPort string `env:"TALLY_GRPC_LISTEN_PORT" envDefault:"50051"`
	GRPCToken      string `env:"TALLY_GRPC_TOKEN"`

	ApiEnabled bool   `env:"TALLY_API_ENABLED" envDefault:"true"`
	ApiPort    string `env:"TALLY_API_PORT" envDefault:"8080"`

	StripeSecretKey  string        `env:"TALLY_STRIPE_SECRET_KEY"`
	StripePriceID    string        `env:"TALLY_STRIPE_PRICE_ID"`
	WebhookSecret    string        `env:"TALLY_WEBHOOK_SECRET"`
	WebhookTolerance time.Duration `env:"TALLY_WEBHOOK_TOLERANCE" envDefault:"5m"`
	SuccessURL       string        `env:"TALLY_SUCCESS_URL" envDefault:"http://localhost:3000/payment-success?userId={userId}"`
	CancelURL        string        `env:"TALLY_CANCEL_URL"`
	MaxQuantity      int64         `env:"TALLY_MAX_QUANTITY" envDefault:"100"`

	JWTSecret   string `env:"TALLY_JWT_SECRET"`
	JWTIssuer   string `env:"TALLY_JWT_ISSUER"`
	JWTAudience string `env:"TALLY_JWT_AUDIENCE"`

	LogLevel     slog.Level `env:"TALLY_LOG_LEVEL" envDefault:"info"`
	OtelEndpoint string     `env:"TALLY_OTEL_ENDPOINT"`
	ServiceName  string     `env:"TALLY_SERVICE_NAME" envDefault:"tally"`
}

// Load reads the environment (and an optional .env file) and validates only the
// storage settings. Tools such as the migrator use it directly.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	switch cfg.StorageDriver {
	case StoragePostgres:
		if cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBName == "" {
			return nil, errors.New("missing required env for database: TALLY_POSTGRES_USER/HOST/DB")
		}
	case StorageSQLite:
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return nil, errors.New("TALLY_SQLITE_PATH is required for the sqlite driver")
		}
	default:
		return nil, fmt.Errorf("invalid storage driver %q, must be 'postgres' or 'sqlite'", cfg.StorageDriver)
	}

	return cfg, nil
}

// New loads and validates the full API configuration.
func New() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if cfg.BusProvider != ProviderNATS && cfg.BusProvider != ProviderGRPC && cfg.BusProvider != ProviderNone {
		return nil, fmt.Errorf("invalid bus provider %q, must be 'nats', 'grpc' or 'none'", cfg.BusProvider)
	}
	if cfg.WorkerProvider == "" {
		cfg.WorkerProvider = cfg.BusProvider
	}
	if cfg.WorkerProvider != ProviderNATS && cfg.WorkerProvider != ProviderGRPC && cfg.WorkerProvider != ProviderNone {
		return nil, fmt.Errorf("invalid worker provider %q, must be 'nats', 'grpc' or 'none'", cfg.WorkerProvider)
	}
	if cfg.BusProvider == ProviderGRPC && (cfg.GRPCHost == "" || cfg.GRPCPort == "") {
		return nil, errors.New("missing required env for grpc bus: TALLY_GRPC_HOST/PORT")
	}
	if (cfg.GRPCEnabled || cfg.BusProvider == ProviderGRPC) && strings.TrimSpace(cfg.GRPCToken) == "" {
		return nil, errors.New("TALLY_GRPC_TOKEN is required when gRPC is used")
	}

	if cfg.StripeSecretKey == "" || cfg.StripePriceID == "" {
		return nil, errors.New("missing required env for payments: TALLY_STRIPE_SECRET_KEY/PRICE_ID")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("TALLY_WEBHOOK_SECRET is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("TALLY_JWT_SECRET is required")
	}
	if cfg.MaxQuantity < 1 {
		return nil, fmt.Errorf("TALLY_MAX_QUANTITY must be positive, got %d", cfg.MaxQuantity)
	}

	return cfg, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

// RedisAddr returns "" when the cache is disabled.
func (c *Config) RedisAddr() string {
	if c.RedisHost == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) NatsAddr() string {
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort)
}

// GRPCAddr is the remote Events service used by the gRPC bus.
func (c *Config) GRPCAddr() string {
	return fmt.Sprintf("%s:%s", c.GRPCHost, c.GRPCPort)
}

func (c *Config) GRPCListenAddr() string {
	return fmt.Sprintf("%s:%s", c.GRPCListenHost, c.GRPCListenPort)
}

// ApiAddr returns the HTTP listen address if the API is enabled.
// Returns an error if TALLY_API_ENABLED is false; callers should skip starting the HTTP server.
func (c *Config) ApiAddr() (string, error) {
	if !c.ApiEnabled {
		return "", errors.New("HTTP API is disabled (TALLY_API_ENABLED=false)")
	}
	if c.ApiPort == "" {
		return "", errors.New("TALLY_API_PORT is required when TALLY_API_ENABLED=true")
	}
	return ":" + c.ApiPort, nil
}
