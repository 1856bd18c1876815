package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/quantfold/rebalancer/internal/broker"
	"github.com/quantfold/rebalancer/internal/logger"
	"github.com/quantfold/rebalancer/internal/model"
	"github.com/shopspring/decimal"
)

// ConstantPercentage keeps each allocated symbol at a fixed share of the
// portfolio's total market value, trading whenever drift exceeds the
// threshold.
type ConstantPercentage struct {
	engine      *Engine
	allocations []AssetAllocation
	threshold   decimal.Decimal
	interval    time.Duration
	logger      logger.Logger
}

func NewConstantPercentage(
	engine *Engine,
	allocations []AssetAllocation,
	threshold decimal.Decimal,
	interval time.Duration,
	logger logger.Logger,
) (*ConstantPercentage, error) {
	if err := ValidateAllocations(allocations); err != nil {
		return nil, fmt.Errorf("%w: invalid allocations for %s", err, engine.strategyName)
	}

	return &ConstantPercentage{
		engine:      engine,
		allocations: allocations,
		threshold:   threshold,
		interval:    interval,
		logger:      logger.With("strategy", engine.strategyName),
	}, nil
}

func (s *ConstantPercentage) Name() string {
	return s.engine.strategyName
}

func (s *ConstantPercentage) Interval() time.Duration {
	return s.interval
}

func (s *ConstantPercentage) Tick(ctx context.Context) error {
	positions, err := s.engine.SyncPositions(ctx)
	if err != nil {
		return err
	}

	if err := s.engine.CheckUnfilledTrades(ctx); err != nil {
		return err
	}

	initialized, err := s.engine.EnsureInitialized(ctx, TotalMarketValue(positions))
	if err != nil {
		return err
	}

	if !initialized {
		s.logger.Debugf("initial purchase allocation")
		intents, err := s.InitialFillIntents(ctx, positions)
		if err != nil {
			return err
		}
		return s.engine.ExecuteIntents(ctx, intents)
	}

	intents, err := s.ComputeTrades(ctx, positions)
	if err != nil {
		return err
	}
	return s.engine.ExecuteIntents(ctx, intents)
}

// ComputeTrades sizes one trade per allocation whose drift exceeds the
// threshold. Symbols held at the broker but missing from the allocation
// model are left alone: dropping a line from the model parks the position
// instead of liquidating it.
func (s *ConstantPercentage) ComputeTrades(ctx context.Context, positions []broker.Position) ([]model.TradeIntent, error) {
	portfolioValue := s.engine.AllocatedValue(s.allocations, positions)
	if portfolioValue.IsZero() {
		return nil, ErrZeroPortfolio
	}
	s.logger.Infof("allocated portfolio value: %s", portfolioValue)

	intents := make([]model.TradeIntent, 0, len(s.allocations))
	for _, allocation := range s.allocations {
		targetValue := portfolioValue.Mul(allocation.Weight)

		position := s.engine.LookupPosition(positions, allocation.Symbol)
		drift := position.MarketValue.Sub(targetValue).Div(targetValue)

		s.logger.Debugf("%s: current %s, target %s, drift %s", allocation.Symbol, position.MarketValue, targetValue, drift)

		if !drift.Abs().GreaterThan(s.threshold) {
			continue
		}
		s.logger.Infof("%s drifted %s, rebalancing", allocation.Symbol, drift)

		price, err := s.engine.broker.GetCurrentPrice(ctx, allocation.Symbol, allocation.Class)
		if err != nil {
			s.logger.Warnf("%s: can't price %s, skipping rebalance", err, allocation.Symbol)
			continue
		}
		if !price.IsPositive() {
			s.logger.Warnf("invalid price %s for %s, skipping rebalance", price, allocation.Symbol)
			continue
		}

		targetQuantity := targetValue.Div(price)
		if allocation.Class != model.Crypto {
			// Whole shares only outside crypto.
			targetQuantity = targetQuantity.Floor()
		}

		quantity := targetQuantity.Sub(position.Quantity)
		if quantity.IsZero() {
			continue
		}

		side := model.Buy
		if quantity.IsNegative() {
			side = model.Sell
		}

		intents = append(intents, model.TradeIntent{
			Symbol:      allocation.Symbol,
			Quantity:    quantity.Abs(),
			Side:        side,
			Price:       price,
			Type:        model.Market,
			TimeInForce: model.GoodTillCancel,
			Class:       allocation.Class,
		})
	}

	return intents, nil
}

// InitialFillIntents prices every allocation and buys each symbol up to its
// desired quantity. It runs only while total holdings sit below the
// threshold-adjusted starting capital.
func (s *ConstantPercentage) InitialFillIntents(ctx context.Context, positions []broker.Position) ([]model.TradeIntent, error) {
	thresholdCapital := s.engine.startingCapital.Sub(s.engine.startingCapital.Mul(s.threshold))
	if TotalMarketValue(positions).GreaterThanOrEqual(thresholdCapital) {
		return nil, nil
	}

	account, err := s.engine.broker.GetAccountInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: can't fetch account info", err)
	}
	if account.BuyingPower.LessThan(s.engine.startingCapital) {
		return nil, fmt.Errorf("%w: need %s, have buying power %s",
			ErrInsufficientFunds, s.engine.startingCapital, account.BuyingPower)
	}

	for i := range s.allocations {
		price, err := s.engine.broker.GetCurrentPrice(ctx, s.allocations[i].Symbol, s.allocations[i].Class)
		if err != nil {
			return nil, fmt.Errorf("%w: can't price %s for initial purchase", err, s.allocations[i].Symbol)
		}
		s.allocations[i].CurrentPrice = &price
	}

	if err := PostValidateAllocations(s.allocations, s.engine.startingCapital); err != nil {
		return nil, err
	}

	intents := make([]model.TradeIntent, 0, len(s.allocations))
	for _, allocation := range s.allocations {
		desired, err := allocation.DesiredQuantity()
		if err != nil {
			return nil, err
		}

		held := s.engine.LookupPosition(positions, allocation.Symbol).Quantity
		if desired.LessThanOrEqual(held) {
			continue
		}

		intents = append(intents, model.TradeIntent{
			Symbol:      allocation.Symbol,
			Quantity:    desired.Sub(held),
			Side:        model.Buy,
			Price:       *allocation.CurrentPrice,
			Type:        model.Market,
			TimeInForce: model.GoodTillCancel,
			Class:       allocation.Class,
		})
	}

	return intents, nil
}
