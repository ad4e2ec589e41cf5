// Package config defines the top-level configuration for the copy-trading
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYCOPY_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	Copy       CopyConfig       `toml:"copy"`
	Notify     NotifyConfig     `toml:"notify"`
	Paper      PaperConfig      `toml:"paper"`
	Server     ServerConfig     `toml:"server"`
	Archive    ArchiveConfig    `toml:"archive"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds the signing key and the funder address orders are
// placed for.
type WalletConfig struct {
	PrivateKey    string `toml:"private_key"`
	FunderAddress string `toml:"funder_address"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
}

// PolymarketConfig holds Polymarket API endpoints and L2 credentials.
type PolymarketConfig struct {
	ClobHost      string   `toml:"clob_host"`
	DataHost      string   `toml:"data_host"`
	ApiKey        string   `toml:"api_key"`
	ApiSecret     string   `toml:"api_secret"`
	ApiPassphrase string   `toml:"api_passphrase"`
	HTTPTimeout   duration `toml:"http_timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters. An empty DSN and
// Host leaves the engine on in-memory stores (paper mode only).
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// Configured reports whether a database was given.
func (p PostgresConfig) Configured() bool {
	return strings.TrimSpace(p.DSN) != "" || p.Host != ""
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool     `toml:"enabled"`
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	KeyPrefix  string   `toml:"key_prefix"`
	LockTTL    duration `toml:"lock_ttl"`
}

// CopyConfig holds every sizing, slippage and execution knob.
type CopyConfig struct {
	// Sizing
	CopyRatio          float64            `toml:"copy_ratio"`
	MaxOrderSizeUSD    float64            `toml:"max_order_size_usd"`
	MaxPositionSizeUSD float64            `toml:"max_position_size_usd"`
	MinOrderSizeUSD    float64            `toml:"min_order_size_usd"`
	MinOrderSizeTokens float64            `toml:"min_order_size_tokens"`
	DefaultMultiplier  float64            `toml:"default_multiplier"`
	TraderMultipliers  map[string]float64 `toml:"trader_multipliers"`
	WindDownMode       bool               `toml:"wind_down_mode"`

	// Trader scoring
	ScoringEnabled     bool     `toml:"scoring_enabled"`
	MinScoreMultiplier float64  `toml:"min_score_multiplier"`
	MaxScoreMultiplier float64  `toml:"max_score_multiplier"`
	ScoreMaxAge        duration `toml:"score_max_age"`

	// Slippage
	MaxSlippageHighVolatility float64  `toml:"max_slippage_percent_high_volatility"`
	MaxSlippageLowVolatility  float64  `toml:"max_slippage_percent_low_volatility"`
	SlippageRetryEnabled      bool     `toml:"slippage_retry_enabled"`
	SlippageRelaxationPercent float64  `toml:"slippage_retry_relaxation_percent"`
	SlippageRetryDelay        duration `toml:"slippage_retry_delay"`

	// Execution loop
	RetryLimit        int      `toml:"retry_limit"`
	RetryBackoffBase  duration `toml:"retry_backoff_base"`
	RetryBackoffMax   duration `toml:"retry_backoff_max"`
	RateLimitCooldown duration `toml:"rate_limit_cooldown"`
	ClosingEpsilon    float64  `toml:"closing_epsilon"`

	// Poll loop
	PollInterval        duration `toml:"poll_interval"`
	BatchSize           int      `toml:"batch_size"`
	MaxConcurrentTrades int      `toml:"max_concurrent_trades"`
	DedupTTL            duration `toml:"dedup_ttl"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// PaperConfig configures paper mode. Without Postgres the pending trades
// come from TradesFile, a JSON array shaped like copy_trades rows.
type PaperConfig struct {
	StartingBalanceUSD float64 `toml:"starting_balance_usd"`
	TradesFile         string  `toml:"trades_file"`
}

// ServerConfig configures the read-only operator API.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Addr        string   `toml:"addr"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// ArchiveConfig configures the daily S3 archive of processed trades and
// audit entries.
type ArchiveConfig struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
	// Cron is a five-field UTC schedule.
	Cron         string `toml:"cron"`
	BackfillDays int    `toml:"backfill_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	// Throttle is the minimum gap between two alerts for the same event.
	Throttle duration `toml:"throttle"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Wallet: WalletConfig{
			ChainID:       137,
			SignatureType: 2,
		},
		Polymarket: PolymarketConfig{
			ClobHost:    "https://clob.polymarket.com",
			DataHost:    "https://data-api.polymarket.com",
			HTTPTimeout: duration{10 * time.Second},
		},
		Postgres: PostgresConfig{
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "polycopy",
			LockTTL:    duration{10 * time.Second},
		},
		Copy: CopyConfig{
			CopyRatio:                 1.0,
			MaxOrderSizeUSD:           100,
			MaxPositionSizeUSD:        500,
			MinOrderSizeUSD:           1.0,
			MinOrderSizeTokens:        1.0,
			DefaultMultiplier:         1.0,
			TraderMultipliers:         map[string]float64{},
			MinScoreMultiplier:        0.5,
			MaxScoreMultiplier:        2.0,
			ScoreMaxAge:               duration{24 * time.Hour},
			MaxSlippageHighVolatility: 10,
			MaxSlippageLowVolatility:  5,
			SlippageRetryEnabled:      true,
			SlippageRelaxationPercent: 2,
			SlippageRetryDelay:        duration{time.Second},
			RetryLimit:                3,
			RetryBackoffBase:          duration{time.Second},
			RetryBackoffMax:           duration{10 * time.Second},
			RateLimitCooldown:         duration{60 * time.Second},
			ClosingEpsilon:            0.0001,
			PollInterval:              duration{time.Second},
			BatchSize:                 50,
			MaxConcurrentTrades:       4,
			DedupTTL:                  duration{10 * time.Minute},
		},
		Notify: NotifyConfig{
			Events:   []string{"funds_exhausted", "rate_limited", "retry_limit"},
			Throttle: duration{5 * time.Minute},
		},
		Paper: PaperConfig{
			StartingBalanceUSD: 1000,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Archive: ArchiveConfig{
			Region:       "us-east-1",
			UseSSL:       true,
			Prefix:       "archive",
			Cron:         "15 0 * * *",
			BackfillDays: 7,
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":  true,
	"paper": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, paper)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	live := strings.ToLower(c.Mode) == "live"

	// Wallet
	if live && c.Wallet.PrivateKey == "" {
		errs = append(errs, "wallet: private_key must be set for mode live")
	}
	if c.Wallet.ChainID <= 0 {
		errs = append(errs, "wallet: chain_id must be positive")
	}
	if c.Wallet.SignatureType < 0 || c.Wallet.SignatureType > 2 {
		errs = append(errs, fmt.Sprintf("wallet: signature_type must be 0 (EOA), 1 (proxy) or 2 (Safe), got %d", c.Wallet.SignatureType))
	}

	// Polymarket
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.DataHost == "" {
		errs = append(errs, "polymarket: data_host must not be empty")
	}
	if c.Polymarket.HTTPTimeout.Duration <= 0 {
		errs = append(errs, "polymarket: http_timeout must be > 0")
	}
	ak := c.Polymarket.ApiKey != ""
	as := c.Polymarket.ApiSecret != ""
	ap := c.Polymarket.ApiPassphrase != ""
	if (ak || as || ap) && !(ak && as && ap) {
		errs = append(errs, "polymarket: api_key, api_secret, and api_passphrase must all be set together")
	}
	if live && !ak {
		errs = append(errs, "polymarket: api credentials are required for mode live")
	}

	// Postgres
	if live && !c.Postgres.Configured() {
		errs = append(errs, "postgres: dsn or host is required for mode live")
	}
	if c.Postgres.Configured() && strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.LockTTL.Duration <= 0 {
			errs = append(errs, "redis: lock_ttl must be > 0")
		}
	}

	errs = append(errs, c.Copy.validate()...)

	if c.Server.Enabled && c.Server.Addr == "" {
		errs = append(errs, "server: addr must not be empty")
	}
	if live && c.Server.Enabled && c.Server.APIKey == "" {
		errs = append(errs, "server: api_key is required for mode live")
	}

	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			errs = append(errs, "archive: bucket must not be empty")
		}
		if c.Archive.Region == "" {
			errs = append(errs, "archive: region must not be empty")
		}
		if len(strings.Fields(c.Archive.Cron)) != 5 {
			errs = append(errs, "archive: cron must have 5 fields")
		}
		if c.Archive.BackfillDays < 1 {
			errs = append(errs, "archive: backfill_days must be >= 1")
		}
	}

	if !live && c.Paper.StartingBalanceUSD <= 0 {
		errs = append(errs, "paper: starting_balance_usd must be > 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *CopyConfig) validate() []string {
	var errs []string
	if c.CopyRatio <= 0 {
		errs = append(errs, "copy: copy_ratio must be > 0")
	}
	if c.MaxOrderSizeUSD < 0 || c.MaxPositionSizeUSD < 0 {
		errs = append(errs, "copy: max_order_size_usd and max_position_size_usd must be >= 0 (0 disables)")
	}
	if c.MinOrderSizeUSD < 0 || c.MinOrderSizeTokens < 0 {
		errs = append(errs, "copy: minimum order sizes must be >= 0")
	}
	if c.DefaultMultiplier <= 0 {
		errs = append(errs, "copy: default_multiplier must be > 0")
	}
	for trader, m := range c.TraderMultipliers {
		if m <= 0 {
			errs = append(errs, fmt.Sprintf("copy: trader_multipliers[%s] must be > 0", trader))
		}
	}
	if c.ScoringEnabled && (c.MinScoreMultiplier <= 0 || c.MaxScoreMultiplier < c.MinScoreMultiplier) {
		errs = append(errs, "copy: score multiplier bounds must satisfy 0 < min <= max")
	}
	if c.MaxSlippageLowVolatility <= 0 {
		errs = append(errs, "copy: max_slippage_percent_low_volatility must be > 0")
	}
	if c.MaxSlippageHighVolatility < c.MaxSlippageLowVolatility {
		errs = append(errs, "copy: max_slippage_percent_high_volatility must be >= the low volatility value")
	}
	if c.SlippageRelaxationPercent < 0 {
		errs = append(errs, "copy: slippage_retry_relaxation_percent must be >= 0")
	}
	if c.RetryLimit < 1 {
		errs = append(errs, "copy: retry_limit must be >= 1")
	}
	if c.RetryBackoffBase.Duration <= 0 {
		errs = append(errs, "copy: retry_backoff_base must be > 0")
	}
	if c.RetryBackoffMax.Duration < c.RetryBackoffBase.Duration {
		errs = append(errs, "copy: retry_backoff_max must be >= retry_backoff_base")
	}
	if c.RateLimitCooldown.Duration <= 0 {
		errs = append(errs, "copy: rate_limit_cooldown must be > 0")
	}
	if c.ClosingEpsilon < 0 {
		errs = append(errs, "copy: closing_epsilon must be >= 0")
	}
	if c.PollInterval.Duration <= 0 {
		errs = append(errs, "copy: poll_interval must be > 0")
	}
	if c.BatchSize < 1 {
		errs = append(errs, "copy: batch_size must be >= 1")
	}
	if c.MaxConcurrentTrades < 1 {
		errs = append(errs, "copy: max_concurrent_trades must be >= 1")
	}
	if c.DedupTTL.Duration <= 0 {
		errs = append(errs, "copy: dedup_ttl must be > 0")
	}
	return errs
}
