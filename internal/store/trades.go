package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/quantfold/rebalancer/internal/model"
)

const (
	_insertTrade = `INSERT INTO trades (
							broker, strategy, symbol, quantity, price, side,
							status, ts, execution_style, client_order_id, is_filled
						) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
						RETURNING id`

	_updateTradeResponse = `UPDATE trades SET
							quantity = $1,
							status = $2,
							broker_order_id = $3,
							client_order_id = $4,
							broker_asset_id = $5,
							broker_asset_class = $6,
							filled_qty = $7,
							is_filled = $8
						WHERE id = $9`

	_deleteTrade = "DELETE FROM trades WHERE id = $1"

	_queryUnfilledTrades = "SELECT * FROM trades WHERE strategy = $1 AND is_filled = false ORDER BY ts DESC"

	_markTradeFilled = "UPDATE trades SET is_filled = true WHERE id = $1"
)

func (s *Store) InsertTrade(ctx context.Context, t *model.Trade) error {
	if err := s.db.QueryRowxContext(ctx, _insertTrade,
		t.Broker,
		t.Strategy,
		t.Symbol,
		t.Quantity,
		t.Price,
		t.Side,
		t.Status,
		t.Timestamp,
		t.ExecutionStyle,
		t.ClientOrderID,
		t.IsFilled,
	).Scan(&t.ID); err != nil {
		return fmt.Errorf("%w: can't insert trade", err)
	}
	return nil
}

func (s *Store) UpdateTradeResponse(ctx context.Context, t *model.Trade) error {
	if _, err := s.db.ExecContext(ctx, _updateTradeResponse,
		t.Quantity,
		t.Status,
		t.BrokerOrderID,
		t.ClientOrderID,
		t.BrokerAssetID,
		t.BrokerAssetClass,
		t.FilledQuantity,
		t.IsFilled,
		t.ID,
	); err != nil {
		return fmt.Errorf("%w: can't update trade %d", err, t.ID)
	}
	return nil
}

func (s *Store) DeleteTrade(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, _deleteTrade, id); err != nil {
		return fmt.Errorf("%w: can't delete trade %d", err, id)
	}
	return nil
}

func (s *Store) UnfilledTrades(ctx context.Context, strategy string) ([]model.Trade, error) {
	var trades []model.Trade
	if err := s.db.SelectContext(ctx, &trades, _queryUnfilledTrades, strategy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: can't query unfilled trades", err)
	}
	return trades, nil
}

func (s *Store) MarkTradeFilled(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, _markTradeFilled, id); err != nil {
		return fmt.Errorf("%w: can't mark trade %d filled", err, id)
	}
	return nil
}
