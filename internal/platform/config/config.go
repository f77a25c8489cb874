package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full service configuration, loaded from the environment.
type Config struct {
	Server         Server         `envPrefix:"SERVER_"`
	Database       Database       `envPrefix:"DATABASE_"`
	Redis          RedisConfig    `envPrefix:"REDIS_"`
	Kafka          Kafka          `envPrefix:"KAFKA_"`
	Auth           Auth           `envPrefix:"AUTH_"`
	Payout         Payout         `envPrefix:"PAYOUT_"`
	Reconciliation Reconciliation `envPrefix:"RECONCILIATION_"`
	Flutterwave    Flutterwave    `envPrefix:"FLUTTERWAVE_"`
	Stripe         Stripe         `envPrefix:"STRIPE_"`
	RateLimit      RateLimit      `envPrefix:"RATE_LIMIT_"`
	Log            Log            `envPrefix:"LOG_"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `env:"ADDR" envDefault:":8080"`
	Version         string        `env:"VERSION" envDefault:"v1"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Database selects Postgres when URL is set; otherwise in-memory stores are used.
type Database struct {
	URL             string        `env:"URL"`
	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"20"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"CONN_MAX_LIFETIME" envDefault:"30m"`
	MigrateOnStart  bool          `env:"MIGRATE_ON_START" envDefault:"true"`
	TxRetries       int           `env:"TX_RETRIES" envDefault:"3"`
}

// RedisConfig is optional; an empty URL disables Redis-backed features.
type RedisConfig struct {
	URL          string        `env:"URL"`
	PoolSize     int           `env:"POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"3s"`
}

type Kafka struct {
	Brokers      []string      `env:"BROKERS" envSeparator:","`
	EventsTopic  string        `env:"EVENTS_TOPIC" envDefault:"kinledger.events"`
	AlertsTopic  string        `env:"ALERTS_TOPIC" envDefault:"kinledger.alerts"`
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"1s"`
	BatchSize    int           `env:"BATCH_SIZE" envDefault:"100"`
}

func (k Kafka) Enabled() bool { return len(k.Brokers) > 0 }

type Auth struct {
	JWTSigningKey string        `env:"JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	JWTIssuer     string        `env:"JWT_ISSUER" envDefault:"kinledger"`
	TokenTTL      time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	// AdminToken guards the provisioning routes. Empty disables them.
	AdminToken string `env:"ADMIN_TOKEN"`
}

type Payout struct {
	Rail                string        `env:"RAIL" envDefault:"sandbox"`
	DispatchTimeout     time.Duration `env:"DISPATCH_TIMEOUT" envDefault:"10s"`
	MaxAttempts         uint64        `env:"MAX_ATTEMPTS" envDefault:"3"`
	RetryInitialBackoff time.Duration `env:"RETRY_INITIAL_BACKOFF" envDefault:"200ms"`
	ApprovalGrace       time.Duration `env:"APPROVAL_GRACE" envDefault:"1m"`
	ConfirmationTimeout time.Duration `env:"CONFIRMATION_TIMEOUT" envDefault:"24h"`
	SchedulerInterval   time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"15s"`
	JobMaxAttempts      int           `env:"JOB_MAX_ATTEMPTS" envDefault:"5"`
	BreakerFailures     uint32        `env:"BREAKER_FAILURES" envDefault:"5"`
	BreakerOpenTimeout  time.Duration `env:"BREAKER_OPEN_TIMEOUT" envDefault:"30s"`
}

type Reconciliation struct {
	OrphanRetention time.Duration `env:"ORPHAN_RETENTION" envDefault:"72h"`
	SweepInterval   time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
}

type Flutterwave struct {
	BaseURL     string `env:"BASE_URL" envDefault:"https://api.flutterwave.com"`
	SecretKey   string `env:"SECRET_KEY"`
	WebhookHash string `env:"WEBHOOK_HASH"`
}

type Stripe struct {
	SecretKey       string `env:"SECRET_KEY"`
	WebhookSecret   string `env:"WEBHOOK_SECRET"`
	PriceMonthly    string `env:"PRICE_MONTHLY"`
	PriceQuarterly  string `env:"PRICE_QUARTERLY"`
	PriceYearly     string `env:"PRICE_YEARLY"`
	SuccessURL      string `env:"SUCCESS_URL" envDefault:"http://localhost:3000/billing/success"`
	CancelURL       string `env:"CANCEL_URL" envDefault:"http://localhost:3000/billing/cancel"`
	PortalReturnURL string `env:"PORTAL_RETURN_URL" envDefault:"http://localhost:3000/settings"`
}

type RateLimit struct {
	Enabled  bool          `env:"ENABLED" envDefault:"true"`
	Requests int           `env:"REQUESTS" envDefault:"120"`
	Window   time.Duration `env:"WINDOW" envDefault:"1m"`
}

type Log struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field rules env tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	switch c.Payout.Rail {
	case "sandbox":
	case "flutterwave":
		if c.Flutterwave.SecretKey == "" {
			errs = append(errs, errors.New("FLUTTERWAVE_SECRET_KEY is required when PAYOUT_RAIL=flutterwave"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown PAYOUT_RAIL %q", c.Payout.Rail))
	}
	if c.Payout.MaxAttempts < 1 {
		errs = append(errs, errors.New("PAYOUT_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Payout.DispatchTimeout <= 0 {
		errs = append(errs, errors.New("PAYOUT_DISPATCH_TIMEOUT must be positive"))
	}
	if c.Reconciliation.OrphanRetention <= 0 {
		errs = append(errs, errors.New("RECONCILIATION_ORPHAN_RETENTION must be positive"))
	}
	if c.RateLimit.Enabled && c.RateLimit.Requests < 1 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS must be at least 1"))
	}
	if len(c.Auth.JWTSigningKey) < 16 {
		errs = append(errs, errors.New("AUTH_JWT_SIGNING_KEY must be at least 16 bytes"))
	}
	return errors.Join(errs...)
}
