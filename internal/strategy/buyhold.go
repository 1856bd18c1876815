package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/quantfold/rebalancer/internal/logger"
	"github.com/shopspring/decimal"
)

// BuyAndHold buys into the target allocation once and never rebalances.
// Steady-state ticks still sync positions, reconcile trades and append the
// balance ledger row, then stop.
type BuyAndHold struct {
	percentage *ConstantPercentage
	logger     logger.Logger
}

func NewBuyAndHold(
	engine *Engine,
	allocations []AssetAllocation,
	threshold decimal.Decimal,
	interval time.Duration,
	logger logger.Logger,
) (*BuyAndHold, error) {
	inner, err := NewConstantPercentage(engine, allocations, threshold, interval, logger)
	if err != nil {
		return nil, fmt.Errorf("%w: can't build buy-and-hold", err)
	}
	return &BuyAndHold{
		percentage: inner,
		logger:     logger.With("strategy", engine.strategyName),
	}, nil
}

func (s *BuyAndHold) Name() string {
	return s.percentage.Name()
}

func (s *BuyAndHold) Interval() time.Duration {
	return s.percentage.Interval()
}

func (s *BuyAndHold) Tick(ctx context.Context) error {
	engine := s.percentage.engine

	positions, err := engine.SyncPositions(ctx)
	if err != nil {
		return err
	}

	if err := engine.CheckUnfilledTrades(ctx); err != nil {
		return err
	}

	initialized, err := engine.EnsureInitialized(ctx, TotalMarketValue(positions))
	if err != nil {
		return err
	}
	if initialized {
		// The initial purchase is the whole strategy.
		s.logger.Debugf("holding, nothing to do")
		return nil
	}

	intents, err := s.percentage.InitialFillIntents(ctx, positions)
	if err != nil {
		return err
	}
	return engine.ExecuteIntents(ctx, intents)
}
