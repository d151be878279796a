package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

type Config struct {
	DatabaseURL   string `env:"DATABASE_URL,required"`
	JWTSecret     string `env:"JWT_SECRET,required"`
	GatewaySecret string `env:"GATEWAY_WEBHOOK_SECRET,required"`
	Port          int    `env:"PORT" envDefault:"8080"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv        string `env:"APP_ENV" envDefault:"production"`

	// empty disables the cross-instance relay
	RedisURL     string `env:"REDIS_URL"`
	RelayChannel string `env:"NOTIFY_RELAY_CHANNEL" envDefault:"servicehub:booking-events"`
	ConnBuffer   int    `env:"NOTIFY_CONN_BUFFER" envDefault:"32"`

	ArtifactDir   string `env:"ARTIFACT_DIR" envDefault:"./invoices"`
	InvoiceIssuer string `env:"INVOICE_ISSUER" envDefault:"ServiceHub"`

	InvoiceFeeFlat         decimal.Decimal `env:"INVOICE_FEE_FLAT" envDefault:"0"`
	InvoiceFeePct          decimal.Decimal `env:"INVOICE_FEE_PCT" envDefault:"0"`
	PaymentAmountTolerance decimal.Decimal `env:"PAYMENT_AMOUNT_TOLERANCE" envDefault:"0.01"`

	RenderWorkers         int           `env:"RENDER_WORKERS" envDefault:"2"`
	RenderMaxAttempts     int           `env:"RENDER_MAX_ATTEMPTS" envDefault:"5"`
	RenderInitialInterval time.Duration `env:"RENDER_INITIAL_INTERVAL" envDefault:"500ms"`
	InvoiceSweepInterval  time.Duration `env:"INVOICE_SWEEP_INTERVAL" envDefault:"1m"`
	InvoiceStaleAfter     time.Duration `env:"INVOICE_STALE_AFTER" envDefault:"5m"`

	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if cfg.PaymentAmountTolerance.IsNegative() {
		return nil, fmt.Errorf("config.Load: PAYMENT_AMOUNT_TOLERANCE must not be negative")
	}
	if cfg.RenderMaxAttempts < 1 {
		return nil, fmt.Errorf("config.Load: RENDER_MAX_ATTEMPTS must be at least 1")
	}
	return &cfg, nil
}
