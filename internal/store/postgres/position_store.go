package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `condition_id, asset, tokens_held, total_invested,
	avg_entry_price, last_updated`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	err := row.Scan(
		&p.ConditionID, &p.Asset, &p.TokensHeld, &p.TotalInvested,
		&p.AvgEntryPrice, &p.LastUpdated,
	)
	return p, err
}

// Get returns the position for conditionID or domain.ErrNotFound.
func (s *PositionStore) Get(ctx context.Context, conditionID string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM bot_positions WHERE condition_id = $1`, conditionID)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", conditionID, err)
	}
	return p, nil
}

// Upsert writes every field of pos, inserting the row if needed.
func (s *PositionStore) Upsert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO bot_positions (
			condition_id, asset, tokens_held, total_invested, avg_entry_price, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (condition_id) DO UPDATE SET
			asset           = EXCLUDED.asset,
			tokens_held     = EXCLUDED.tokens_held,
			total_invested  = EXCLUDED.total_invested,
			avg_entry_price = EXCLUDED.avg_entry_price,
			last_updated    = EXCLUDED.last_updated`

	_, err := s.pool.Exec(ctx, query,
		p.ConditionID, p.Asset, p.TokensHeld, p.TotalInvested, p.AvgEntryPrice, p.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", p.ConditionID, err)
	}
	return nil
}

// Delete removes the position for conditionID. Deleting a missing row is
// not an error.
func (s *PositionStore) Delete(ctx context.Context, conditionID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM bot_positions WHERE condition_id = $1`, conditionID); err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", conditionID, err)
	}
	return nil
}

// List returns every open position ordered by condition ID.
func (s *PositionStore) List(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM bot_positions ORDER BY condition_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return positions, nil
}
