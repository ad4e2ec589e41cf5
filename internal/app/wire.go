package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/polycopy/internal/blob/s3"
	"github.com/alanyoungcy/polycopy/internal/cache/redis"
	"github.com/alanyoungcy/polycopy/internal/config"
	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/ledger"
	"github.com/alanyoungcy/polycopy/internal/notify"
	"github.com/alanyoungcy/polycopy/internal/server/handler"
	"github.com/alanyoungcy/polycopy/internal/store/memory"
	"github.com/alanyoungcy/polycopy/internal/store/postgres"
)

// Dependencies bundles the stores, caches and notifier the engine runs on.
// Locks, Cooldown and Scorer are nil when Redis is disabled; Bus falls back
// to an in-process bus.
type Dependencies struct {
	// Stores
	Trades    domain.TradeRepository
	Positions domain.PositionStore
	Audit     domain.AuditStore
	AuditLog  handler.AuditReader

	// Redis
	Locks    domain.LockManager
	Cooldown domain.CooldownStore
	Bus      domain.SignalBus
	Scorer   domain.TraderScorer

	Notifier *notify.Notifier

	// Archiver is nil unless the S3 archive is enabled.
	Archiver domain.Archiver

	// Persistent is false when the stores live in memory.
	Persistent bool
}

// Wire constructs the concrete dependencies and returns them with a cleanup
// function to call on shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	var (
		processed s3blob.ProcessedTradeSource
		auditLog  s3blob.AuditSource
	)

	// --- PostgreSQL, or in-memory stores for paper runs without one ---
	if cfg.Postgres.Configured() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Positions = postgres.NewPositionStore(pool)
		trades := postgres.NewTradeStore(pool)
		audit := postgres.NewAuditStore(pool)
		deps.Trades = trades
		deps.Audit = audit
		deps.AuditLog = audit
		processed, auditLog = trades, audit
		deps.Persistent = true

		// Paper runs may seed the database from the trades file.
		if path := cfg.Paper.TradesFile; path != "" && !strings.EqualFold(cfg.Mode, "live") {
			seed, err := memory.ReadTradesFile(path)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: paper trades: %w", err)
			}
			for _, t := range seed {
				if err := trades.Insert(ctx, t); err != nil {
					cleanup()
					return nil, nil, fmt.Errorf("wire: seed trades: %w", err)
				}
			}
			logger.InfoContext(ctx, "seeded paper trades", slog.String("path", path), slog.Int("count", len(seed)))
		}
	} else {
		trades := memory.NewTradeStore()
		if path := cfg.Paper.TradesFile; path != "" {
			n, err := trades.LoadFile(path)
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: paper trades: %w", err)
			}
			logger.InfoContext(ctx, "loaded paper trades", slog.String("path", path), slog.Int("count", n))
		} else {
			logger.WarnContext(ctx, "no database and no paper trades file, nothing will be copied")
		}
		deps.Trades = trades
		deps.Positions = ledger.NewMemoryStore()
		audit := memory.NewAuditStore()
		deps.Audit = audit
		deps.AuditLog = audit
		processed, auditLog = trades, audit
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Locks = redis.NewLockManager(redisClient)
		deps.Cooldown = redis.NewCooldownStore(redisClient)
		deps.Bus = redis.NewSignalBus(redisClient)
		if cfg.Copy.ScoringEnabled {
			deps.Scorer = redis.NewScoreCache(redisClient,
				cfg.Copy.MinScoreMultiplier, cfg.Copy.MaxScoreMultiplier, cfg.Copy.ScoreMaxAge.Duration)
		}
	} else {
		deps.Bus = memory.NewBus()
		if cfg.Copy.ScoringEnabled {
			logger.WarnContext(ctx, "scoring_enabled needs redis for trader scores, multiplier stays neutral")
		}
	}

	// --- S3 archive ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			UseSSL:         cfg.Archive.UseSSL,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3Client, s3Client, processed, auditLog, deps.Audit, cfg.Archive.Prefix)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.Throttle.Duration, logger)

	return deps, cleanup, nil
}
