package model

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// Trade is a persisted order record. Inserted in a pending shape before the
// broker call, updated with the broker's response fields afterwards. is_filled
// flips to true either at submission time (fully filled market order) or later
// when the reconciler confirms the fill against the broker.
type Trade struct {
	ID               int64               `db:"id"`
	Broker           string              `db:"broker"`
	Strategy         string              `db:"strategy"`
	Symbol           string              `db:"symbol"`
	Quantity         decimal.Decimal     `db:"quantity"`
	Price            decimal.NullDecimal `db:"price"`
	ExecutedPrice    decimal.NullDecimal `db:"executed_price"`
	Side             OrderSide           `db:"side"`
	Status           string              `db:"status"`
	Timestamp        time.Time           `db:"ts"`
	ExecutionStyle   string              `db:"execution_style"`
	BrokerOrderID    sql.NullString      `db:"broker_order_id"`
	ClientOrderID    sql.NullString      `db:"client_order_id"`
	BrokerAssetID    sql.NullString      `db:"broker_asset_id"`
	BrokerAssetClass sql.NullString      `db:"broker_asset_class"`
	FilledQuantity   decimal.NullDecimal `db:"filled_qty"`
	IsFilled         bool                `db:"is_filled"`
}

// Balance is an append-only ledger row. One row is appended per tick: a
// "cash" row on the strategy's first run, a "positions" row thereafter. The
// newest row by timestamp is the current balance.
type Balance struct {
	ID        int64           `db:"id"`
	Broker    string          `db:"broker"`
	Strategy  string          `db:"strategy"`
	Type      BalanceType     `db:"type"`
	Value     decimal.Decimal `db:"value"`
	Timestamp time.Time       `db:"ts"`
}

// Position mirrors a broker position, unique per (broker, strategy, symbol).
// Upserted on every sync; never deleted here, so a position closed on the
// broker side leaves a stale local row behind.
type Position struct {
	ID          int64               `db:"id"`
	Broker      string              `db:"broker"`
	Strategy    string              `db:"strategy"`
	Symbol      string              `db:"symbol"`
	Quantity    decimal.Decimal     `db:"quantity"`
	LatestPrice decimal.Decimal     `db:"latest_price"`
	CostBasis   decimal.NullDecimal `db:"cost_basis"`
	LastUpdated time.Time           `db:"last_updated"`
	BalanceID   sql.NullInt64       `db:"balance_id"`
}
