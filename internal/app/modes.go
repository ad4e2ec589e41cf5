package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polycopy/internal/crypto"
	"github.com/alanyoungcy/polycopy/internal/domain"
	"github.com/alanyoungcy/polycopy/internal/execution"
	"github.com/alanyoungcy/polycopy/internal/executor"
	"github.com/alanyoungcy/polycopy/internal/ledger"
	"github.com/alanyoungcy/polycopy/internal/pipeline"
	"github.com/alanyoungcy/polycopy/internal/platform/polymarket"
	"github.com/alanyoungcy/polycopy/internal/ratelimit"
	"github.com/alanyoungcy/polycopy/internal/server"
	"github.com/alanyoungcy/polycopy/internal/server/handler"
	"github.com/alanyoungcy/polycopy/internal/server/ws"
	"github.com/alanyoungcy/polycopy/internal/service"
	"github.com/alanyoungcy/polycopy/internal/sizing"
	"github.com/alanyoungcy/polycopy/internal/slippage"
)

const (
	// paperWallet stands in for the bot wallet in paper mode without a key.
	paperWallet    = "paper"
	statusInterval = time.Minute
)

// LiveMode signs and submits real orders through the CLOB.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting live mode")

	signer, negSigner, err := a.signers()
	if err != nil {
		return err
	}
	gate := a.newCoordinator(deps)

	clob := polymarket.NewClobClient(polymarket.ClobConfig{
		BaseURL:       a.cfg.Polymarket.ClobHost,
		Timeout:       a.cfg.Polymarket.HTTPTimeout.Duration,
		Signer:        signer,
		NegRiskSigner: negSigner,
		Auth: &crypto.HMACAuth{
			Key:        a.cfg.Polymarket.ApiKey,
			Secret:     a.cfg.Polymarket.ApiSecret,
			Passphrase: a.cfg.Polymarket.ApiPassphrase,
		},
		FunderAddress: a.cfg.Wallet.FunderAddress,
		SignatureType: a.cfg.Wallet.SignatureType,
	})
	holdings := polymarket.NewHoldings(a.newDataClient(gate), clob)

	wallet := a.cfg.Wallet.FunderAddress
	if wallet == "" {
		wallet = signer.Address().Hex()
	}
	if bal, err := clob.CollateralBalance(ctx); err != nil {
		a.logger.WarnContext(ctx, "collateral balance unavailable", slog.String("error", err.Error()))
	} else {
		a.logger.InfoContext(ctx, "collateral balance", slog.Float64("usdc", bal))
	}

	return a.runEngine(ctx, deps, gate, clob, holdings, wallet)
}

// PaperMode reads live books and data but fills orders in memory.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode",
		slog.Float64("starting_balance_usd", a.cfg.Paper.StartingBalanceUSD),
		slog.Bool("persistent", deps.Persistent),
	)

	gate := a.newCoordinator(deps)
	books := polymarket.NewClobClient(polymarket.ClobConfig{
		BaseURL: a.cfg.Polymarket.ClobHost,
		Timeout: a.cfg.Polymarket.HTTPTimeout.Duration,
	})
	paper := polymarket.NewPaperExchange(books, a.cfg.Paper.StartingBalanceUSD, a.logger)

	wallet := a.cfg.Wallet.FunderAddress
	if wallet == "" {
		wallet = paperWallet
	}
	holdings := polymarket.NewHoldings(a.newDataClient(gate), paper).WithBotPositions(wallet, paper)

	return a.runEngine(ctx, deps, gate, paper, holdings, wallet)
}

func (a *App) signers() (signer, negSigner *crypto.Signer, err error) {
	chainID := int64(a.cfg.Wallet.ChainID)
	signer, err = crypto.NewSigner(a.cfg.Wallet.PrivateKey, chainID, crypto.ExchangeAddress)
	if err != nil {
		return nil, nil, fmt.Errorf("app: signer: %w", err)
	}
	negSigner, err = crypto.NewSigner(a.cfg.Wallet.PrivateKey, chainID, crypto.NegRiskExchangeAddress)
	if err != nil {
		return nil, nil, fmt.Errorf("app: neg risk signer: %w", err)
	}
	return signer, negSigner, nil
}

func (a *App) newCoordinator(deps *Dependencies) *ratelimit.Coordinator {
	var opts []ratelimit.Option
	if deps.Cooldown != nil {
		opts = append(opts, ratelimit.WithMirror(deps.Cooldown))
	}
	return ratelimit.New(a.cfg.Copy.RateLimitCooldown.Duration, a.logger, opts...)
}

func (a *App) newDataClient(gate polymarket.Gate) *polymarket.DataClient {
	return polymarket.NewDataClient(polymarket.DataConfig{
		BaseURL: a.cfg.Polymarket.DataHost,
		Timeout: a.cfg.Polymarket.HTTPTimeout.Duration,
		Gate:    gate,
	}, a.logger)
}

// runEngine builds the ledger, sizing, slippage, loop, strategies and copy
// service on top of exchange and runs the poll loop until ctx ends.
func (a *App) runEngine(
	ctx context.Context,
	deps *Dependencies,
	gate *ratelimit.Coordinator,
	exchange execution.Exchange,
	holdings domain.HoldingsReader,
	wallet string,
) error {
	cc := a.cfg.Copy

	ledgerOpts := []ledger.Option{ledger.WithEpsilon(cc.ClosingEpsilon)}
	if deps.Locks != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithDistributedLock(deps.Locks, a.cfg.Redis.LockTTL.Duration))
	}
	ledgerOpts = append(ledgerOpts, ledger.WithBus(deps.Bus))
	led := ledger.New(deps.Positions, a.logger, ledgerOpts...)

	if open, err := led.List(ctx); err != nil {
		a.logger.WarnContext(ctx, "list ledger positions failed", slog.String("error", err.Error()))
	} else {
		a.logger.InfoContext(ctx, "ledger loaded", slog.Int("open_positions", len(open)))
	}

	sizer := sizing.NewSizer(sizing.Config{
		Strategy: sizing.CopyStrategy{
			CopyRatio:          cc.CopyRatio,
			MaxOrderSizeUSD:    cc.MaxOrderSizeUSD,
			MaxPositionSizeUSD: cc.MaxPositionSizeUSD,
		},
		DefaultMultiplier: cc.DefaultMultiplier,
		TraderMultipliers: cc.TraderMultipliers,
		MinOrderSizeUSD:   cc.MinOrderSizeUSD,
		WindDown:          cc.WindDownMode,
	}, deps.Scorer, a.logger)

	loop := execution.NewLoop(exchange, led, gate, execution.Settings{
		RetryLimit:         cc.RetryLimit,
		MinOrderSizeUSD:    cc.MinOrderSizeUSD,
		MinOrderSizeTokens: cc.MinOrderSizeTokens,
		BackoffBase:        cc.RetryBackoffBase.Duration,
		BackoffMax:         cc.RetryBackoffMax.Duration,
		SlippageRetryDelay: cc.SlippageRetryDelay.Duration,
		Slippage: slippage.Model{
			HighVolatilityPercent: cc.MaxSlippageHighVolatility,
			LowVolatilityPercent:  cc.MaxSlippageLowVolatility,
			RetryEnabled:          cc.SlippageRetryEnabled,
			RelaxationPercent:     cc.SlippageRelaxationPercent,
		},
	}, nil, a.logger)

	sources := execution.SourceChain{
		Sources: []execution.BoughtTokenSource{
			execution.LedgerSource{Ledger: led},
			execution.HistorySource{Trades: deps.Trades},
		},
		Logger: a.logger,
	}
	router := execution.NewRouter(
		execution.NewBuyStrategy(sizer, loop, a.logger),
		execution.NewSellStrategy(sources, loop, cc.MinOrderSizeTokens, a.logger),
		execution.NewMergeStrategy(loop, cc.MinOrderSizeTokens, a.logger),
		a.logger,
	)

	copySvc := service.NewCopyService(deps.Trades, holdings, router, gate, wallet, a.logger).
		WithAudit(deps.Audit).
		WithBus(deps.Bus)
	if deps.Notifier.Enabled() {
		copySvc.WithNotifier(deps.Notifier)
	}

	exec := executor.NewExecutor(deps.Trades, copySvc, gate, executor.Config{
		PollInterval:   cc.PollInterval.Duration,
		BatchSize:      cc.BatchSize,
		MaxConcurrency: cc.MaxConcurrentTrades,
		DedupTTL:       cc.DedupTTL.Duration,
	}, a.logger)

	a.logger.InfoContext(ctx, "copy engine ready",
		slog.String("wallet", wallet),
		slog.Float64("copy_ratio", cc.CopyRatio),
		slog.Bool("wind_down", cc.WindDownMode),
		slog.Bool("redis", deps.Locks != nil),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return exec.Run(ctx)
	})
	g.Go(func() error {
		return a.reportStatus(ctx, led, holdings, gate)
	})
	if deps.Archiver != nil {
		archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.BackfillDays, a.logger)
		g.Go(func() error {
			return archiver.RunCron(ctx, a.cfg.Archive.Cron)
		})
	}
	if a.cfg.Server.Enabled {
		hub, srv := a.newServer(deps, led, gate, wallet)
		g.Go(func() error {
			return hub.Run(ctx)
		})
		g.Go(func() error {
			return srv.Run(ctx)
		})
	}
	return g.Wait()
}

// newServer builds the operator API and the websocket hub relaying
// executions and position changes.
func (a *App) newServer(deps *Dependencies, led *ledger.Ledger, gate *ratelimit.Coordinator, wallet string) (*ws.Hub, *server.Server) {
	hub := ws.NewHub(deps.Bus, ws.Config{
		Channels:       []string{service.ExecutionChannel, ledger.PositionChannel},
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		Status: func() any {
			return map[string]any{
				"mode":               a.cfg.Mode,
				"wallet":             wallet,
				"cooldown_active":    gate.Active(),
				"cooldown_remaining": gate.Remaining().String(),
			}
		},
	}, a.logger)

	srv := server.NewServer(server.Config{
		Addr:        a.cfg.Server.Addr,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(),
		Status:    handler.NewStatusHandler(a.cfg.Mode, wallet, gate),
		Positions: handler.NewPositionHandler(led, a.logger),
		Trades:    handler.NewTradeHandler(deps.Trades, deps.AuditLog, a.logger),
		Hub:       hub,
	}, a.logger)
	return hub, srv
}

// reportStatus logs open positions, balance and cooldown once per
// statusInterval.
func (a *App) reportStatus(ctx context.Context, led *ledger.Ledger, holdings domain.HoldingsReader, gate *ratelimit.Coordinator) error {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		attrs := []any{slog.Duration("cooldown_remaining", gate.Remaining())}
		if open, err := led.List(ctx); err == nil {
			var invested float64
			for _, p := range open {
				invested += p.TotalInvested
			}
			attrs = append(attrs, slog.Int("open_positions", len(open)), slog.Float64("invested_usd", invested))
		}
		// Skip the balance read while rate limited.
		if !gate.Active() {
			if bal, err := holdings.CollateralBalance(ctx); err == nil {
				attrs = append(attrs, slog.Float64("balance_usd", bal))
			}
		}
		a.logger.InfoContext(ctx, "status", attrs...)
	}
}
