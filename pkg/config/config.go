package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config is the immutable application configuration. Components receive only
// the slices of it they need.
type Config struct {
	Equity  EquityConfig  `env:", prefix=EQUITY_"`
	Macro   MacroConfig   `env:", prefix=MACRO_"`
	Redis   RedisConfig   `env:", prefix=REDIS_"`
	Ingest  IngestConfig  `env:", prefix=INGEST_"`
	Server  ServerConfig  `env:", prefix=SERVER_"`
	Logging LoggingConfig `env:", prefix=LOG_"`
}

// EquityConfig holds the equity market-data vendor settings. API_KEY is a
// contract term: EQUITY_API_KEY.
type EquityConfig struct {
	APIKey        string `env:"API_KEY"`
	BaseURL       string `env:"BASE_URL, default=https://www.alphavantage.co/query"`
	RatePerMinute int    `env:"RATE_PER_MINUTE, default=5"`
	RateBurst     int    `env:"RATE_BURST, default=1"`
}

// MacroConfig holds the central-bank data service settings. API_KEY is a
// contract term: MACRO_API_KEY.
type MacroConfig struct {
	APIKey        string `env:"API_KEY"`
	BaseURL       string `env:"BASE_URL, default=https://api.stlouisfed.org/fred"`
	RatePerMinute int    `env:"RATE_PER_MINUTE, default=60"`
	RateBurst     int    `env:"RATE_BURST, default=5"`
}

// RedisConfig holds the optional raw-response cache settings.
type RedisConfig struct {
	Enabled  bool          `env:"ENABLED, default=false"`
	Host     string        `env:"HOST, default=localhost"`
	Port     int           `env:"PORT, default=6379"`
	Password string        `env:"PASSWORD"`
	DB       int           `env:"DB, default=0"`
	CacheTTL time.Duration `env:"CACHE_TTL, default=24h"`
}

// IngestConfig holds orchestrator tuning.
type IngestConfig struct {
	Workers      int           `env:"WORKERS, default=4"`
	FetchTimeout time.Duration `env:"FETCH_TIMEOUT, default=30s"`
}

// ServerConfig holds the serve command's HTTP settings.
type ServerConfig struct {
	Host         string        `env:"HOST, default=0.0.0.0"`
	Port         int           `env:"PORT, default=8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT, default=30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT, default=30s"`
	IdleTimeout  time.Duration `env:"IDLE_TIMEOUT, default=120s"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `env:"LEVEL, default=info"`
	Format string `env:"FORMAT, default=text"`
	Output string `env:"OUTPUT, default=stderr"`
}

// Load reads configuration from the ambient environment.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate rejects configurations no run could use. Credential presence is
// checked later, against the manifest's source set.
func (c *Config) Validate() error {
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("invalid worker count: %d", c.Ingest.Workers)
	}
	if c.Ingest.FetchTimeout <= 0 {
		return fmt.Errorf("invalid fetch timeout: %s", c.Ingest.FetchTimeout)
	}
	if c.Equity.RatePerMinute <= 0 || c.Macro.RatePerMinute <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	return nil
}

// GetServerAddr returns the serve command's listen address.
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetRedisAddr returns the redis address.
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
