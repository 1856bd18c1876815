package alpaca

import (
	"fmt"

	"github.com/quantfold/rebalancer/internal/model"
	"github.com/shopspring/decimal"
)

type accountPayload struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	PortfolioValue string `json:"portfolio_value"`
	BuyingPower    string `json:"buying_power"`
}

type positionPayload struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	MarketValue   string `json:"market_value"`
	AssetClass    string `json:"asset_class"`
	CostBasis     string `json:"cost_basis"`
	CurrentPrice  string `json:"current_price"`
	AvgEntryPrice string `json:"avg_entry_price"`
}

type orderPayload struct {
	ID            string  `json:"id"`
	ClientOrderID string  `json:"client_order_id"`
	Symbol        string  `json:"symbol"`
	Status        string  `json:"status"`
	Qty           string  `json:"qty"`
	FilledQty     string  `json:"filled_qty"`
	Side          string  `json:"side"`
	Type          string  `json:"type"`
	TimeInForce   string  `json:"time_in_force"`
	LimitPrice    *string `json:"limit_price"`
	AssetID       string  `json:"asset_id"`
	AssetClass    string  `json:"asset_class"`
}

type orderBody struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price,omitempty"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

type barPayload struct {
	Close float64 `json:"c"`
}

type latestBarPayload struct {
	Bar barPayload `json:"bar"`
}

type latestCryptoBarsPayload struct {
	Bars map[string]barPayload `json:"bars"`
}

type quotePayload struct {
	BidPrice float64 `json:"bp"`
	AskPrice float64 `json:"ap"`
}

type latestQuotePayload struct {
	Quote quotePayload `json:"quote"`
}

type latestCryptoQuotesPayload struct {
	Quotes map[string]quotePayload `json:"quotes"`
}

type errorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func parseDec(field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Decimal{}, fmt.Errorf("empty %s in broker response", field)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: can't parse %s %q", err, field, s)
	}
	return d, nil
}

// parseDecOr tolerates optional fields the API legitimately omits.
func parseDecOr(s string, fallback decimal.Decimal) decimal.Decimal {
	if s == "" {
		return fallback
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fallback
	}
	return d
}

func assetClassFromAPI(s string) (model.AssetClass, error) {
	switch s {
	case "us_equity":
		return model.Equity, nil
	case "crypto":
		return model.Crypto, nil
	case "us_option":
		return model.Option, nil
	default:
		return "", fmt.Errorf("unknown asset class %q", s)
	}
}

