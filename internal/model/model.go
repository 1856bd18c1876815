package model

import "github.com/shopspring/decimal"

type AssetClass string

const (
	Equity AssetClass = "equity"
	Crypto AssetClass = "crypto"
	Option AssetClass = "option"
)

type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

type TimeInForce string

const (
	Day            TimeInForce = "day"
	GoodTillCancel TimeInForce = "gtc"
)

type BalanceType string

const (
	BalanceCash      BalanceType = "cash"
	BalancePositions BalanceType = "positions"
)

// TradeIntent is a computed rebalancing order that has not been submitted
// yet. Produced by a strategy's trade computation, consumed by the executor,
// never persisted on its own.
type TradeIntent struct {
	Symbol      string
	Quantity    decimal.Decimal
	Side        OrderSide
	Price       decimal.Decimal
	Type        OrderType
	TimeInForce TimeInForce
	Class       AssetClass
}
