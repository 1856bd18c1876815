package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/quantfold/rebalancer/internal/broker"
	"github.com/quantfold/rebalancer/internal/logger"
	"github.com/quantfold/rebalancer/internal/model"
	"github.com/quantfold/rebalancer/internal/symbol"
	"github.com/shopspring/decimal"
)

const _clientOrderIDPrefix = "rebalancer-"

// Engine bundles the broker gateway, the store and the strategy identity,
// and implements every step a tick shares across strategy variants.
type Engine struct {
	broker  broker.Broker
	store   Store
	symbols *symbol.Table
	logger  logger.Logger

	strategyName    string
	startingCapital decimal.Decimal
	executionStyle  string
}

func NewEngine(
	b broker.Broker,
	store Store,
	symbols *symbol.Table,
	strategyName string,
	startingCapital decimal.Decimal,
	executionStyle string,
	logger logger.Logger,
) *Engine {
	return &Engine{
		broker:          b,
		store:           store,
		symbols:         symbols,
		strategyName:    strategyName,
		startingCapital: startingCapital,
		executionStyle:  executionStyle,
		logger:          logger.With("strategy", strategyName, "broker", b.Name()),
	}
}

func (e *Engine) Broker() broker.Broker {
	return e.broker
}

func (e *Engine) StartingCapital() decimal.Decimal {
	return e.startingCapital
}

// SyncPositions mirrors the broker's live positions into the store and
// returns the broker snapshot for the rest of the tick. Local rows whose
// symbol no longer exists at the broker are left in place.
func (e *Engine) SyncPositions(ctx context.Context) ([]broker.Position, error) {
	brokerPositions, err := e.broker.GetPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: can't fetch broker positions", err)
	}

	now := time.Now().UTC()
	rows := make([]model.Position, 0, len(brokerPositions))
	for _, p := range brokerPositions {
		rows = append(rows, model.Position{
			Broker:      e.broker.Name(),
			Strategy:    e.strategyName,
			Symbol:      p.Symbol,
			Quantity:    p.Quantity,
			LatestPrice: p.CurrentPrice,
			CostBasis:   decimal.NewNullDecimal(p.AverageEntryPrice),
			LastUpdated: now,
		})
	}

	if err := e.store.UpsertPositions(ctx, rows); err != nil {
		return nil, err
	}

	e.logger.Debugf("synced %d positions", len(rows))
	return brokerPositions, nil
}

// CheckUnfilledTrades re-checks every locally unfilled trade against the
// broker and flips is_filled where the broker confirms a full fill. It
// returns ErrOpenTrades if the broker still reports open orders or any local
// trade remains unfilled: no new orders may be placed behind an unresolved
// one.
func (e *Engine) CheckUnfilledTrades(ctx context.Context) error {
	unfilled, err := e.store.UnfilledTrades(ctx, e.strategyName)
	if err != nil {
		return err
	}

	remaining := 0
	for _, t := range unfilled {
		resp, err := e.broker.GetExistingOrder(ctx, t.BrokerOrderID.String, t.ClientOrderID.String)
		if err != nil {
			// A pending row without a broker order id belongs to a tick that
			// died before the broker answered. If the broker has never seen
			// its client order id, the order was never placed and the row is
			// safe to drop.
			if errors.Is(err, broker.ErrOrderNotFound) && !t.BrokerOrderID.Valid {
				e.logger.Warnf("dropping orphaned pending trade %d (%s), broker has no record of it", t.ID, t.Symbol)
				if err := e.store.DeleteTrade(ctx, t.ID); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("%w: can't reconcile trade %d", err, t.ID)
		}

		if resp.Quantity.Equal(resp.FilledQuantity) {
			if err := e.store.MarkTradeFilled(ctx, t.ID); err != nil {
				return err
			}
			e.logger.Infof("trade %d (%s) confirmed filled", t.ID, t.Symbol)
			continue
		}
		remaining++
	}

	// Extra check against the broker directly, in case an order exists that
	// the local table never recorded.
	openOrders, err := e.broker.GetOpenOrders(ctx, "open")
	if err != nil {
		return fmt.Errorf("%w: can't list open orders", err)
	}

	if len(openOrders) > 0 || remaining > 0 {
		return fmt.Errorf("%w: %d open at broker, %d unfilled locally", ErrOpenTrades, len(openOrders), remaining)
	}
	return nil
}

// EnsureInitialized reports whether the strategy has run before and appends
// this tick's ledger row: a cash row worth the starting capital on the first
// run, a positions row worth the current total otherwise.
func (e *Engine) EnsureInitialized(ctx context.Context, currentTotal decimal.Decimal) (bool, error) {
	latest, err := e.store.LatestBalance(ctx, e.strategyName, e.broker.Name())
	if err != nil {
		return false, err
	}

	now := time.Now().UTC()
	if latest == nil {
		if err := e.store.AppendBalance(ctx, &model.Balance{
			Broker:    e.broker.Name(),
			Strategy:  e.strategyName,
			Type:      model.BalanceCash,
			Value:     e.startingCapital,
			Timestamp: now,
		}); err != nil {
			return false, err
		}
		e.logger.Infof("first run, recorded starting balance %s", e.startingCapital)
		return false, nil
	}

	if err := e.store.AppendBalance(ctx, &model.Balance{
		Broker:    e.broker.Name(),
		Strategy:  e.strategyName,
		Type:      model.BalancePositions,
		Value:     currentTotal.Round(2),
		Timestamp: now,
	}); err != nil {
		return false, err
	}
	return true, nil
}

// PlaceOrder persists a pending trade, submits it, and finalizes the record
// with the broker's response. A failed submission deletes the pending row
// and propagates; the tick must not continue past an ambiguous order.
func (e *Engine) PlaceOrder(ctx context.Context, intent model.TradeIntent) (*model.Trade, error) {
	clientOrderID := _clientOrderIDPrefix + uuid.NewString()

	trade := &model.Trade{
		Broker:         e.broker.Name(),
		Strategy:       e.strategyName,
		Symbol:         intent.Symbol,
		Quantity:       intent.Quantity,
		Price:          decimal.NewNullDecimal(intent.Price),
		Side:           intent.Side,
		Status:         "pending",
		Timestamp:      time.Now().UTC(),
		ExecutionStyle: e.executionStyle,
	}
	trade.ClientOrderID.String = clientOrderID
	trade.ClientOrderID.Valid = true

	if err := e.store.InsertTrade(ctx, trade); err != nil {
		return nil, err
	}

	resp, err := e.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:        intent.Symbol,
		Quantity:      intent.Quantity,
		Side:          intent.Side,
		Price:         intent.Price,
		Type:          intent.Type,
		TimeInForce:   intent.TimeInForce,
		ClientOrderID: clientOrderID,
	})
	if err != nil {
		if delErr := e.store.DeleteTrade(ctx, trade.ID); delErr != nil {
			e.logger.Errorf("%s: can't delete pending trade %d after failed submission", delErr, trade.ID)
		}
		return nil, fmt.Errorf("%w: can't place %s order for %s", err, intent.Side, intent.Symbol)
	}

	trade.Quantity = resp.Quantity
	trade.Status = resp.Status
	trade.BrokerOrderID.String = resp.OrderID
	trade.BrokerOrderID.Valid = resp.OrderID != ""
	trade.ClientOrderID.String = resp.ClientOrderID
	trade.ClientOrderID.Valid = resp.ClientOrderID != ""
	trade.BrokerAssetID.String = resp.AssetID
	trade.BrokerAssetID.Valid = resp.AssetID != ""
	trade.BrokerAssetClass.String = resp.AssetClass
	trade.BrokerAssetClass.Valid = resp.AssetClass != ""
	trade.FilledQuantity = decimal.NewNullDecimal(resp.FilledQuantity)
	trade.IsFilled = resp.Quantity.Equal(resp.FilledQuantity)

	if err := e.store.UpdateTradeResponse(ctx, trade); err != nil {
		return nil, err
	}

	e.logger.Infof("placed %s %s %s at %s (%s)", intent.Side, intent.Quantity, intent.Symbol, intent.Price, resp.Status)
	return trade, nil
}

// ExecuteIntents submits intents in order and stops at the first failure.
func (e *Engine) ExecuteIntents(ctx context.Context, intents []model.TradeIntent) error {
	if len(intents) == 0 {
		return nil
	}

	e.logger.Infof("executing %d trades", len(intents))
	for _, intent := range intents {
		if _, err := e.PlaceOrder(ctx, intent); err != nil {
			return err
		}
	}
	return nil
}

// LookupPosition finds a broker position by symbol, tolerating slashed and
// unslashed spellings. Absent positions come back zero-valued.
func (e *Engine) LookupPosition(positions []broker.Position, sym string) broker.Position {
	for _, p := range positions {
		if e.symbols.Match(p.Symbol, sym) {
			return p
		}
	}
	return broker.Position{Symbol: sym}
}

func TotalMarketValue(positions []broker.Position) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.MarketValue)
	}
	return total
}

// AllocatedValue sums the market value the portfolio currently holds in the
// allocated symbols only.
func (e *Engine) AllocatedValue(allocations []AssetAllocation, positions []broker.Position) decimal.Decimal {
	total := decimal.Zero
	for _, a := range allocations {
		total = total.Add(e.LookupPosition(positions, a.Symbol).MarketValue)
	}
	return total
}
