// Package configs loads application configuration from the environment.
// A .env file in the working directory is read first when present.
package configs

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// AppConfig holds all application configuration.
// Load it once at startup using Load(); it is not modified afterwards.
type AppConfig struct {
	// Port is the HTTP and websocket listen port.
	Port int `env:"PORT" envDefault:"4000"`

	// GRPCPort is the gRPC health port. 0 disables it.
	GRPCPort int `env:"GRPC_PORT" envDefault:"4001"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Upstream UpstreamConfig

	// ThrottleInterval is the per-symbol window for each downstream client.
	ThrottleInterval time.Duration `env:"THROTTLE_INTERVAL" envDefault:"500ms"`

	Alerts AlertsConfig
	Ingest IngestConfig
	Rules  RulesConfig

	// RedisAddr is required when Rules.Store is "redis".
	RedisAddr string `env:"REDIS_ADDR"`

	Kafka KafkaConfig
	NATS  NATSConfig
	AMQP  AMQPConfig
}

// UpstreamConfig selects the exchange feed.
type UpstreamConfig struct {
	Venue  string `env:"UPSTREAM_VENUE" envDefault:"bybit"`
	URL    string `env:"UPSTREAM_URL"`
	APIKey string `env:"UPSTREAM_API_KEY"`

	// Pairs are venue symbols such as BTCUSDT (comma-separated in env).
	Pairs []string `env:"UPSTREAM_PAIRS" envDefault:"BTCUSDT,ETHUSDT,BNBUSDT,SOLUSDT,XRPUSDT,ADAUSDT,DOGEUSDT,AVAXUSDT" envSeparator:","`

	// PairsFile is a YAML file overriding Venue, URL and Pairs.
	PairsFile string `env:"UPSTREAM_PAIRS_FILE"`

	ReconnectBase time.Duration `env:"UPSTREAM_RECONNECT_BASE" envDefault:"1s"`
	ReconnectMax  time.Duration `env:"UPSTREAM_RECONNECT_MAX" envDefault:"30s"`

	// MaxReconnectAttempts of 0 retries forever.
	MaxReconnectAttempts int `env:"UPSTREAM_MAX_RECONNECT_ATTEMPTS" envDefault:"0"`
}

type AlertsConfig struct {
	MaxTriggered int `env:"ALERTS_MAX_TRIGGERED" envDefault:"200"`
}

// IngestConfig holds settings for the alert ingestion worker.
type IngestConfig struct {
	MaxItems      int           `env:"INGEST_MAX_ITEMS" envDefault:"250"`
	FlushInterval time.Duration `env:"INGEST_FLUSH_INTERVAL" envDefault:"2s"`
}

// RulesConfig selects the persisted rule store.
type RulesConfig struct {
	// Store is one of file, redis, memory.
	Store string `env:"RULES_STORE" envDefault:"file"`
	File  string `env:"RULES_FILE" envDefault:"data/rules.json"`
	Key   string `env:"RULES_KEY" envDefault:"crypto-alerts-rules"`
}

// KafkaConfig enables the Kafka trade sink when Broker is set.
type KafkaConfig struct {
	Broker string `env:"KAFKA_BROKER"`
	Topic  string `env:"KAFKA_TOPIC" envDefault:"relay_trades"`
}

// NATSConfig enables the NATS trade sink when URL is set.
type NATSConfig struct {
	URL           string `env:"NATS_URL"`
	SubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"trades"`
}

// AMQPConfig enables the RabbitMQ alert notifier when URL is set.
type AMQPConfig struct {
	URL      string `env:"AMQP_URL"`
	Exchange string `env:"AMQP_EXCHANGE" envDefault:"crypto_alerts"`
}

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Load reads .env (optional) and the environment, applies the pairs file
// and validates the result.
func Load() (*AppConfig, error) {
	_ = godotenv.Load() // Ignore error - .env is optional

	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, &ConfigError{Field: "env", Reason: err.Error()}
	}

	if cfg.Upstream.PairsFile != "" {
		pf, err := LoadPairsFile(cfg.Upstream.PairsFile)
		if err != nil {
			return nil, err
		}
		pf.apply(&cfg.Upstream)
	}
	cfg.Upstream.Pairs = cleanPairs(cfg.Upstream.Pairs)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate returns a *ConfigError for the first invalid value.
func (c *AppConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return invalid("PORT", "must be between 1 and 65535, got %d", c.Port)
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		return invalid("GRPC_PORT", "must be between 0 and 65535, got %d", c.GRPCPort)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}

	u := c.Upstream
	if u.Venue == "" {
		return invalid("UPSTREAM_VENUE", "is required")
	}
	if len(u.Pairs) == 0 {
		return invalid("UPSTREAM_PAIRS", "at least one pair is required")
	}
	if strings.EqualFold(u.Venue, "cryptocompare") && u.APIKey == "" {
		return invalid("UPSTREAM_API_KEY", "is required for cryptocompare")
	}
	if u.ReconnectBase <= 0 {
		return invalid("UPSTREAM_RECONNECT_BASE", "must be positive")
	}
	if u.ReconnectMax < u.ReconnectBase {
		return invalid("UPSTREAM_RECONNECT_MAX", "must not be below UPSTREAM_RECONNECT_BASE")
	}
	if u.MaxReconnectAttempts < 0 {
		return invalid("UPSTREAM_MAX_RECONNECT_ATTEMPTS", "must not be negative")
	}

	if c.ThrottleInterval <= 0 {
		return invalid("THROTTLE_INTERVAL", "must be positive")
	}
	if c.Alerts.MaxTriggered <= 0 {
		return invalid("ALERTS_MAX_TRIGGERED", "must be positive")
	}
	if c.Ingest.MaxItems <= 0 {
		return invalid("INGEST_MAX_ITEMS", "must be positive")
	}
	if c.Ingest.FlushInterval <= 0 {
		return invalid("INGEST_FLUSH_INTERVAL", "must be positive")
	}

	switch c.Rules.Store {
	case "file":
		if c.Rules.File == "" {
			return invalid("RULES_FILE", "is required for the file store")
		}
	case "redis":
		if c.RedisAddr == "" {
			return invalid("REDIS_ADDR", "is required for the redis store")
		}
	case "memory":
	default:
		return invalid("RULES_STORE", "unknown store %q", c.Rules.Store)
	}
	if c.Rules.Key == "" {
		return invalid("RULES_KEY", "is required")
	}
	return nil
}

// SlogLevel maps LogLevel onto slog.
func (c *AppConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, invalid("LOG_LEVEL", "unknown level %q", c.LogLevel)
}

func cleanPairs(pairs []string) []string {
	out := make([]string, 0, len(pairs))
	seen := make(map[string]bool, len(pairs))
	for _, p := range pairs {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
