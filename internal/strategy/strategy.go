// Package strategy holds the rebalancing engine: allocation validation,
// position sync, unfilled-trade reconciliation, first-run detection, drift
// computation and order execution. Strategy variants share an Engine instead
// of a base type; each variant decides what to trade, the Engine does the
// bookkeeping.
package strategy

import (
	"context"
	"errors"
	"time"

	"github.com/quantfold/rebalancer/internal/model"
)

var (
	// ErrOpenTrades means open or unconfirmed trades block this tick. It is
	// an expected skip outcome, not a failure.
	ErrOpenTrades = errors.New("open or unfilled trades found")

	// ErrInsufficientFunds means buying power is below the starting capital
	// on the strategy's first run.
	ErrInsufficientFunds = errors.New("insufficient funds to initialize strategy")

	// ErrZeroPortfolio means no allocated symbol holds any market value, so
	// drift against targets is undefined.
	ErrZeroPortfolio = errors.New("allocated portfolio value is zero")
)

type Strategy interface {
	Name() string
	Interval() time.Duration
	// Tick runs one full pass: sync, reconcile, initialize or rebalance,
	// execute. ErrOpenTrades ends the tick without placing orders.
	Tick(ctx context.Context) error
}

// Store is the slice of persistence the engine consumes.
// *store.Store implements it.
type Store interface {
	InsertTrade(ctx context.Context, t *model.Trade) error
	UpdateTradeResponse(ctx context.Context, t *model.Trade) error
	DeleteTrade(ctx context.Context, id int64) error
	UnfilledTrades(ctx context.Context, strategy string) ([]model.Trade, error)
	MarkTradeFilled(ctx context.Context, id int64) error

	AppendBalance(ctx context.Context, b *model.Balance) error
	LatestBalance(ctx context.Context, strategy, broker string) (*model.Balance, error)

	ListPositions(ctx context.Context, strategy, broker string) ([]model.Position, error)
	UpsertPositions(ctx context.Context, positions []model.Position) error
}
