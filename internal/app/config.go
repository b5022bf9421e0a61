package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Config holds the complete application configuration, loadable from
// environment variables (BOOKSHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (BOOKSHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (BOOKSHOP_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Database     DatabaseConfig
	Checkout     CheckoutConfig
	Payment      PaymentConfig
	RateLimit    RateLimitConfig
	Outbox       OutboxConfig
	Graceful     GracefulConfig
}

// DatabaseConfig bounds the pool and every checkout transaction.
type DatabaseConfig struct {
	MaxConns    int32         `default:"20"  usage:"Maximum pool connections" flag:"db-max-conns"`
	TxTimeout   time.Duration `default:"5s"  usage:"Checkout and callback transaction timeout" flag:"db-tx-timeout"`
	LockTimeout time.Duration `default:"2s"  usage:"Row lock wait timeout" flag:"db-lock-timeout"`
}

// CheckoutConfig tunes order placement.
type CheckoutConfig struct {
	OrderNumberAttempts int `default:"5" usage:"Order number generation attempts on collision" flag:"order-number-attempts"`
}

// PaymentConfig controls payment gateway callbacks.
type PaymentConfig struct {
	CallbackSecret    string `usage:"HMAC secret for X-Callback-Signature; empty disables verification" flag:"callback-secret"`
	StrictTransitions bool   `default:"false" usage:"Reject callbacks that move a settled payment backwards" flag:"strict-transitions"`
}

// RateLimitConfig controls the per-client token bucket rate limiter.
type RateLimitConfig struct {
	RPS   float64 `default:"20" usage:"Sustained requests per second per client" flag:"rate-limit-rps"`
	Burst int     `default:"40" usage:"Burst size per client" flag:"rate-limit-burst"`
}

// OutboxConfig enables publishing domain events to Kafka. Events are not
// recorded when Brokers is empty.
type OutboxConfig struct {
	Brokers   []string      `usage:"Kafka brokers for order events" flag:"outbox-brokers"`
	Topic     string        `default:"bookshop.orders" usage:"Kafka topic for order events" flag:"outbox-topic"`
	BatchSize int           `default:"100" usage:"Outbox relay batch size" flag:"outbox-batch-size"`
	Interval  time.Duration `default:"1s"  usage:"Outbox relay poll interval" flag:"outbox-interval"`
}

// Enabled reports whether event publishing is configured.
func (c OutboxConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "BOOKSHOP",
		Files:     []string{"config.yaml", "/etc/bookshop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set BOOKSHOP_DATABASE_URL or DATABASE_URL")
	}
	if cfg.Outbox.Enabled() && cfg.Outbox.Topic == "" {
		return nil, errors.New("outbox topic is required when brokers are set")
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT to the BOOKSHOP_-prefixed
// configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
