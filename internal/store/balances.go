package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/quantfold/rebalancer/internal/model"
)

const (
	_insertBalance = `INSERT INTO balances (broker, strategy, type, value, ts)
						VALUES ($1,$2,$3,$4,$5)
						RETURNING id`

	_queryLatestBalance = `SELECT * FROM balances
						WHERE strategy = $1 AND broker = $2
						ORDER BY ts DESC LIMIT 1`

	_queryLatestBalanceByType = `SELECT * FROM balances
						WHERE strategy = $1 AND broker = $2 AND type = $3
						ORDER BY ts DESC LIMIT 1`
)

// AppendBalance adds a new ledger row. Existing rows are never updated; the
// balances table is an audit trail.
func (s *Store) AppendBalance(ctx context.Context, b *model.Balance) error {
	if err := s.db.QueryRowxContext(ctx, _insertBalance,
		b.Broker,
		b.Strategy,
		b.Type,
		b.Value,
		b.Timestamp,
	).Scan(&b.ID); err != nil {
		return fmt.Errorf("%w: can't append balance", err)
	}
	return nil
}

// LatestBalance returns nil when the strategy has never recorded a balance.
func (s *Store) LatestBalance(ctx context.Context, strategy, broker string) (*model.Balance, error) {
	var b model.Balance
	if err := s.db.GetContext(ctx, &b, _queryLatestBalance, strategy, broker); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: can't query latest balance", err)
	}
	return &b, nil
}

func (s *Store) LatestBalanceByType(ctx context.Context, strategy, broker string, typ model.BalanceType) (*model.Balance, error) {
	var b model.Balance
	if err := s.db.GetContext(ctx, &b, _queryLatestBalanceByType, strategy, broker, typ); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: can't query latest %s balance", err, typ)
	}
	return &b, nil
}
