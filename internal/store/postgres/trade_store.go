package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// TradeStore implements domain.TradeRepository using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, trader_address, transaction_hash, asset, condition_id,
	side, type, size, price, usdc_size, title, outcome, timestamp,
	bot_processed, bot_executed_at, bot_executed_size, my_bought_size, bot_result`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var t domain.Trade
	var side, typ string
	err := row.Scan(
		&t.ID, &t.TraderAddress, &t.TransactionHash, &t.Asset, &t.ConditionID,
		&side, &typ, &t.Size, &t.Price, &t.USDCSize, &t.Title, &t.Outcome, &t.Timestamp,
		&t.BotProcessed, &t.BotExecutedAt, &t.BotExecutedSize, &t.MyBoughtSize, &t.BotResult,
	)
	t.Side = domain.OrderSide(side)
	t.Type = domain.TradeType(typ)
	return t, err
}

// Insert stores a trade observed by the activity feed. Re-inserting the same
// id is a no-op.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	const query = `
		INSERT INTO copy_trades (
			id, trader_address, transaction_hash, asset, condition_id,
			side, type, size, price, usdc_size, title, outcome, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		t.ID, t.TraderAddress, t.TransactionHash, t.Asset, t.ConditionID,
		string(t.Side), string(t.Type), t.Size, t.Price, t.USDCSize, t.Title, t.Outcome, t.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// Get retrieves a trade by ID.
func (s *TradeStore) Get(ctx context.Context, id string) (domain.Trade, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tradeSelectCols+` FROM copy_trades WHERE id = $1`, id)
	t, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Trade{}, domain.ErrNotFound
		}
		return domain.Trade{}, fmt.Errorf("postgres: get trade %s: %w", id, err)
	}
	return t, nil
}

// ListPending returns up to limit unprocessed trades, oldest first.
func (s *TradeStore) ListPending(ctx context.Context, limit int) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM copy_trades
		 WHERE bot_processed = FALSE
		 ORDER BY timestamp ASC, id ASC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan pending trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pending trades rows: %w", err)
	}
	return trades, nil
}

// MarkProcessed records the outcome of a trade. Only the first call for a
// trade has an effect; later calls return domain.ErrAlreadyProcessed, or
// domain.ErrNotFound if the trade does not exist.
func (s *TradeStore) MarkProcessed(ctx context.Context, id string, f domain.ProcessedFields) error {
	const query = `
		UPDATE copy_trades SET
			bot_processed     = TRUE,
			bot_executed_at   = $2,
			bot_executed_size = $3,
			my_bought_size    = COALESCE($4, my_bought_size),
			bot_result        = $5
		WHERE id = $1 AND bot_processed = FALSE`

	tag, err := s.pool.Exec(ctx, query, id, f.ExecutedAt, f.ExecutedSize, f.MyBoughtSize, f.Result)
	if err != nil {
		return fmt.Errorf("postgres: mark trade %s processed: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM copy_trades WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: check trade %s: %w", id, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrAlreadyProcessed
}

// ListTrackedBuys returns processed BUY copies of trader's trades in asset
// that still carry bought tokens.
func (s *TradeStore) ListTrackedBuys(ctx context.Context, trader, asset string) ([]domain.TrackedBuy, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, my_bought_size FROM copy_trades
		WHERE trader_address = $1 AND asset = $2
		  AND side = 'BUY' AND bot_processed = TRUE AND my_bought_size > 0
		ORDER BY timestamp ASC`, trader, asset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list tracked buys: %w", err)
	}
	defer rows.Close()

	var buys []domain.TrackedBuy
	for rows.Next() {
		var b domain.TrackedBuy
		if err := rows.Scan(&b.TradeID, &b.MyBoughtSize); err != nil {
			return nil, fmt.Errorf("postgres: scan tracked buy: %w", err)
		}
		buys = append(buys, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list tracked buys rows: %w", err)
	}
	return buys, nil
}

// ScaleTrackedBuys multiplies my_bought_size of the given records by factor
// in one statement.
func (s *TradeStore) ScaleTrackedBuys(ctx context.Context, ids []string, factor float64) error {
	if len(ids) == 0 {
		return nil
	}
	if factor < 0 {
		factor = 0
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE copy_trades SET my_bought_size = my_bought_size * $2 WHERE id = ANY($1)`,
		ids, factor)
	if err != nil {
		return fmt.Errorf("postgres: scale tracked buys: %w", err)
	}
	return nil
}

// ListProcessedBetween returns trades processed in [from, to), ordered by
// processing time.
func (s *TradeStore) ListProcessedBetween(ctx context.Context, from, to time.Time) ([]domain.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeSelectCols+` FROM copy_trades
		 WHERE bot_processed = TRUE
		   AND bot_executed_at >= $1 AND bot_executed_at < $2
		 ORDER BY bot_executed_at ASC, id ASC`, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list processed trades: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan processed trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list processed trades rows: %w", err)
	}
	return trades, nil
}
