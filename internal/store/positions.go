package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/quantfold/rebalancer/internal/model"
)

const (
	_queryPositions = "SELECT * FROM positions WHERE strategy = $1 AND broker = $2"

	_upsertPosition = `INSERT INTO positions (
							broker, strategy, symbol, quantity, latest_price,
							cost_basis, last_updated
						) VALUES ($1,$2,$3,$4,$5,$6,$7)
						ON CONFLICT (broker, strategy, symbol)
						DO UPDATE SET
							quantity = EXCLUDED.quantity,
							latest_price = EXCLUDED.latest_price,
							cost_basis = EXCLUDED.cost_basis,
							last_updated = EXCLUDED.last_updated`
)

func (s *Store) ListPositions(ctx context.Context, strategy, broker string) ([]model.Position, error) {
	var positions []model.Position
	if err := s.db.SelectContext(ctx, &positions, _queryPositions, strategy, broker); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: can't query positions", err)
	}
	return positions, nil
}

// UpsertPositions writes the whole broker snapshot in one transaction so a
// partially synced tick never becomes visible.
func (s *Store) UpsertPositions(ctx context.Context, positions []model.Position) error {
	if len(positions) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, p := range positions {
			if _, err := tx.ExecContext(ctx, _upsertPosition,
				p.Broker,
				p.Strategy,
				p.Symbol,
				p.Quantity,
				p.LatestPrice,
				p.CostBasis,
				p.LastUpdated,
			); err != nil {
				return fmt.Errorf("%w: can't upsert position %s", err, p.Symbol)
			}
		}
		return nil
	})
}
