// Package broker defines the gateway contract the rebalancing engine
// consumes. Implementations own protocol details; the engine only sees these
// types.
package broker

import (
	"context"
	"errors"

	"github.com/quantfold/rebalancer/internal/model"
	"github.com/shopspring/decimal"
)

// ErrOrderNotFound is returned by GetExistingOrder when the gateway has no
// record of either identifier.
var ErrOrderNotFound = errors.New("order not found")

type AccountInfo struct {
	AccountID      string
	Status         string
	PortfolioValue decimal.Decimal
	BuyingPower    decimal.Decimal
}

// Position is the broker's live view of a holding. Ephemeral per tick; the
// engine projects it into a persisted model.Position.
type Position struct {
	Symbol            string
	Quantity          decimal.Decimal
	MarketValue       decimal.Decimal
	Class             model.AssetClass
	CostBasis         decimal.Decimal
	CurrentPrice      decimal.Decimal
	AverageEntryPrice decimal.Decimal
}

type OrderRequest struct {
	Symbol        string
	Quantity      decimal.Decimal
	Side          model.OrderSide
	Price         decimal.Decimal
	Type          model.OrderType
	TimeInForce   model.TimeInForce
	ClientOrderID string
}

type OrderResponse struct {
	OrderID        string
	Status         string
	Symbol         string
	Quantity       decimal.Decimal
	Side           model.OrderSide
	Type           model.OrderType
	LimitPrice     decimal.Decimal
	TimeInForce    model.TimeInForce
	ClientOrderID  string
	AssetID        string
	AssetClass     string
	FilledQuantity decimal.Decimal
}

type BidAsk struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

type CancelResponse struct {
	OrderID string
	Status  string
}

type Broker interface {
	// Name keys all persisted rows for this gateway.
	Name() string

	GetAccountInfo(ctx context.Context) (AccountInfo, error)
	GetPositions(ctx context.Context) ([]Position, error)
	GetCurrentPrice(ctx context.Context, symbol string, class model.AssetClass) (decimal.Decimal, error)
	GetBidAsk(ctx context.Context, symbol string, class model.AssetClass) (BidAsk, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResponse, error)
	// GetExistingOrder requires at least one of the two identifiers.
	GetExistingOrder(ctx context.Context, brokerOrderID, clientOrderID string) (OrderResponse, error)
	GetOpenOrders(ctx context.Context, status string) ([]OrderResponse, error)
	// CancelOrder never fails hard; outcomes come back as a status string.
	CancelOrder(ctx context.Context, orderID string) CancelResponse
}
