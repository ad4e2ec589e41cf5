package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies POLYCOPY_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYCOPY_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "POLYCOPY_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.PrivateKey, "PRIVATE_KEY") // compatibility alias
	setStr(&cfg.Wallet.FunderAddress, "POLYCOPY_WALLET_FUNDER_ADDRESS")
	setStr(&cfg.Wallet.FunderAddress, "PROXY_WALLET") // compatibility alias
	setInt(&cfg.Wallet.ChainID, "POLYCOPY_WALLET_CHAIN_ID")
	setInt(&cfg.Wallet.SignatureType, "POLYCOPY_WALLET_SIGNATURE_TYPE")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYCOPY_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.DataHost, "POLYCOPY_POLYMARKET_DATA_HOST")
	setStr(&cfg.Polymarket.ApiKey, "POLYCOPY_POLYMARKET_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "POLYCOPY_POLYMARKET_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "POLYCOPY_POLYMARKET_API_PASSPHRASE")
	setDuration(&cfg.Polymarket.HTTPTimeout, "POLYCOPY_POLYMARKET_HTTP_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYCOPY_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "POLYCOPY_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYCOPY_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYCOPY_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYCOPY_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYCOPY_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYCOPY_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYCOPY_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYCOPY_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYCOPY_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "POLYCOPY_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLYCOPY_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYCOPY_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYCOPY_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYCOPY_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYCOPY_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYCOPY_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "POLYCOPY_REDIS_KEY_PREFIX")
	setDuration(&cfg.Redis.LockTTL, "POLYCOPY_REDIS_LOCK_TTL")

	// ── Copy ──
	setFloat64(&cfg.Copy.CopyRatio, "POLYCOPY_COPY_RATIO")
	setFloat64(&cfg.Copy.MaxOrderSizeUSD, "POLYCOPY_MAX_ORDER_SIZE_USD")
	setFloat64(&cfg.Copy.MaxPositionSizeUSD, "POLYCOPY_MAX_POSITION_SIZE_USD")
	setFloat64(&cfg.Copy.MinOrderSizeUSD, "POLYCOPY_MIN_ORDER_SIZE_USD")
	setFloat64(&cfg.Copy.MinOrderSizeTokens, "POLYCOPY_MIN_ORDER_SIZE_TOKENS")
	setFloat64(&cfg.Copy.DefaultMultiplier, "POLYCOPY_DEFAULT_MULTIPLIER")
	setFloatMap(&cfg.Copy.TraderMultipliers, "POLYCOPY_TRADER_MULTIPLIERS")
	setBool(&cfg.Copy.WindDownMode, "POLYCOPY_WIND_DOWN_MODE")
	setBool(&cfg.Copy.ScoringEnabled, "POLYCOPY_SCORING_ENABLED")
	setFloat64(&cfg.Copy.MinScoreMultiplier, "POLYCOPY_MIN_SCORE_MULTIPLIER")
	setFloat64(&cfg.Copy.MaxScoreMultiplier, "POLYCOPY_MAX_SCORE_MULTIPLIER")
	setDuration(&cfg.Copy.ScoreMaxAge, "POLYCOPY_SCORE_MAX_AGE")
	setFloat64(&cfg.Copy.MaxSlippageHighVolatility, "POLYCOPY_MAX_SLIPPAGE_PERCENT_HIGH_VOLATILITY")
	setFloat64(&cfg.Copy.MaxSlippageLowVolatility, "POLYCOPY_MAX_SLIPPAGE_PERCENT_LOW_VOLATILITY")
	setBool(&cfg.Copy.SlippageRetryEnabled, "POLYCOPY_SLIPPAGE_RETRY_ENABLED")
	setFloat64(&cfg.Copy.SlippageRelaxationPercent, "POLYCOPY_SLIPPAGE_RETRY_RELAXATION_PERCENT")
	setDuration(&cfg.Copy.SlippageRetryDelay, "POLYCOPY_SLIPPAGE_RETRY_DELAY")
	setInt(&cfg.Copy.RetryLimit, "POLYCOPY_RETRY_LIMIT")
	setDuration(&cfg.Copy.RetryBackoffBase, "POLYCOPY_RETRY_BACKOFF_BASE")
	setDuration(&cfg.Copy.RetryBackoffMax, "POLYCOPY_RETRY_BACKOFF_MAX")
	setDuration(&cfg.Copy.RateLimitCooldown, "POLYCOPY_RATE_LIMIT_COOLDOWN")
	setFloat64(&cfg.Copy.ClosingEpsilon, "POLYCOPY_CLOSING_EPSILON")
	setDuration(&cfg.Copy.PollInterval, "POLYCOPY_POLL_INTERVAL")
	setInt(&cfg.Copy.BatchSize, "POLYCOPY_BATCH_SIZE")
	setInt(&cfg.Copy.MaxConcurrentTrades, "POLYCOPY_MAX_CONCURRENT_TRADES")
	setDuration(&cfg.Copy.DedupTTL, "POLYCOPY_DEDUP_TTL")

	// ── Paper ──
	setFloat64(&cfg.Paper.StartingBalanceUSD, "POLYCOPY_PAPER_STARTING_BALANCE_USD")
	setStr(&cfg.Paper.TradesFile, "POLYCOPY_PAPER_TRADES_FILE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYCOPY_SERVER_ENABLED")
	setStr(&cfg.Server.Addr, "POLYCOPY_SERVER_ADDR")
	setStr(&cfg.Server.APIKey, "POLYCOPY_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "POLYCOPY_SERVER_CORS_ORIGINS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "POLYCOPY_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Endpoint, "POLYCOPY_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "POLYCOPY_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "POLYCOPY_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "POLYCOPY_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "POLYCOPY_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.ForcePathStyle, "POLYCOPY_ARCHIVE_FORCE_PATH_STYLE")
	setStr(&cfg.Archive.Cron, "POLYCOPY_ARCHIVE_CRON")
	setInt(&cfg.Archive.BackfillDays, "POLYCOPY_ARCHIVE_BACKFILL_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYCOPY_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYCOPY_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "POLYCOPY_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "POLYCOPY_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.Throttle, "POLYCOPY_NOTIFY_THROTTLE")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYCOPY_MODE")
	setStr(&cfg.LogLevel, "POLYCOPY_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setFloatMap parses "key:value" pairs separated by commas. A malformed pair
// discards the whole variable.
func setFloatMap(dst *map[string]float64, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	out := make(map[string]float64)
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, raw, ok := strings.Cut(pair, ":")
		if !ok {
			return
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return
		}
		out[strings.TrimSpace(k)] = f
	}
	if len(out) > 0 {
		*dst = out
	}
}
