// Package alpaca implements the broker gateway over Alpaca's paper trading
// REST API.
package alpaca

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/quantfold/rebalancer/internal/broker"
	"github.com/quantfold/rebalancer/internal/logger"
	"github.com/quantfold/rebalancer/internal/model"
	"github.com/quantfold/rebalancer/internal/symbol"
	"github.com/shopspring/decimal"
	"go.uber.org/ratelimit"
	"resty.dev/v3"
)

const (
	_tradingBaseURL = "https://paper-api.alpaca.markets"
	_dataBaseURL    = "https://data.alpaca.markets"

	_brokerName = "alpaca"
)

type Client struct {
	trading *resty.Client
	data    *resty.Client

	rateLimiter ratelimit.Limiter // 200 T/M across both APIs

	symbols *symbol.Table
	logger  logger.Logger
}

func NewClient(apiKey, apiSecret string, symbols *symbol.Table, logger logger.Logger) *Client {
	newAPIClient := func(baseURL string) *resty.Client {
		return resty.New().
			SetLogger(logger).
			SetBaseURL(baseURL).
			SetHeader("APCA-API-KEY-ID", apiKey).
			SetHeader("APCA-API-SECRET-KEY", apiSecret)
	}

	return &Client{
		trading:     newAPIClient(_tradingBaseURL),
		data:        newAPIClient(_dataBaseURL),
		rateLimiter: ratelimit.New(200, ratelimit.Per(time.Minute)),
		symbols:     symbols,
		logger:      logger,
	}
}

func (c *Client) Name() string {
	return _brokerName
}

// do runs one request and decodes the JSON body into out via sonic. The
// HTTP status code comes back alongside the error so callers can tell a 404
// apart from a transport failure.
func (c *Client) do(ctx context.Context, api *resty.Client, method, path string, query map[string]string, body, out any) (int, error) {
	c.rateLimiter.Take()

	req := api.R().SetContext(ctx)
	if query != nil {
		req.SetQueryParams(query)
	}
	if body != nil {
		raw, err := sonic.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("%w: can't marshal request body", err)
		}
		req.SetHeader("Content-Type", "application/json").SetBody(raw)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return 0, fmt.Errorf("%w: can't send request %s %s", err, method, path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode(), fmt.Errorf("%w: can't read response body", err)
	}

	c.logger.Debugf("got response %s %s status: %s", method, path, resp.Status())

	if resp.IsError() {
		var apiErr errorPayload
		if err := sonic.Unmarshal(raw, &apiErr); err == nil && apiErr.Message != "" {
			return resp.StatusCode(), fmt.Errorf("%s %s: %s (%s)", method, path, apiErr.Message, resp.Status())
		}
		return resp.StatusCode(), fmt.Errorf("%s %s: unexpected status %s", method, path, resp.Status())
	}

	if out != nil {
		if err := sonic.Unmarshal(raw, out); err != nil {
			return resp.StatusCode(), fmt.Errorf("%w: can't unmarshal response %s %s", err, method, path)
		}
	}

	return resp.StatusCode(), nil
}

func (c *Client) GetAccountInfo(ctx context.Context) (broker.AccountInfo, error) {
	var payload accountPayload
	if _, err := c.do(ctx, c.trading, http.MethodGet, "/v2/account", nil, nil, &payload); err != nil {
		return broker.AccountInfo{}, fmt.Errorf("%w: can't get account", err)
	}

	portfolioValue, err := parseDec("portfolio_value", payload.PortfolioValue)
	if err != nil {
		return broker.AccountInfo{}, err
	}
	buyingPower, err := parseDec("buying_power", payload.BuyingPower)
	if err != nil {
		return broker.AccountInfo{}, err
	}

	return broker.AccountInfo{
		AccountID:      payload.ID,
		Status:         payload.Status,
		PortfolioValue: portfolioValue,
		BuyingPower:    buyingPower,
	}, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]broker.Position, error) {
	var payload []positionPayload
	if _, err := c.do(ctx, c.trading, http.MethodGet, "/v2/positions", nil, nil, &payload); err != nil {
		return nil, fmt.Errorf("%w: can't list positions", err)
	}

	positions := make([]broker.Position, 0, len(payload))
	for _, p := range payload {
		class, err := assetClassFromAPI(p.AssetClass)
		if err != nil {
			return nil, fmt.Errorf("%w: position %s", err, p.Symbol)
		}
		qty, err := parseDec("qty", p.Qty)
		if err != nil {
			return nil, fmt.Errorf("%w: position %s", err, p.Symbol)
		}
		// A position without a market value or current price breaks every
		// downstream calculation, so it is a hard error.
		marketValue, err := parseDec("market_value", p.MarketValue)
		if err != nil {
			return nil, fmt.Errorf("%w: position %s", err, p.Symbol)
		}
		currentPrice, err := parseDec("current_price", p.CurrentPrice)
		if err != nil {
			return nil, fmt.Errorf("%w: position %s", err, p.Symbol)
		}

		positions = append(positions, broker.Position{
			Symbol:            p.Symbol,
			Quantity:          qty,
			MarketValue:       marketValue,
			Class:             class,
			CostBasis:         parseDecOr(p.CostBasis, decimal.Zero),
			CurrentPrice:      currentPrice,
			AverageEntryPrice: parseDecOr(p.AvgEntryPrice, decimal.Zero),
		})
	}

	return positions, nil
}

func (c *Client) GetCurrentPrice(ctx context.Context, sym string, class model.AssetClass) (decimal.Decimal, error) {
	switch class {
	case model.Equity:
		var payload latestBarPayload
		path := fmt.Sprintf("/v2/stocks/%s/bars/latest", url.PathEscape(sym))
		if _, err := c.do(ctx, c.data, http.MethodGet, path, nil, nil, &payload); err != nil {
			return decimal.Decimal{}, fmt.Errorf("%w: can't get latest bar for %s", err, sym)
		}
		return decimal.NewFromFloat(payload.Bar.Close), nil
	case model.Crypto:
		slashed, _ := c.symbols.Slashed(sym)
		var payload latestCryptoBarsPayload
		query := map[string]string{"symbols": slashed}
		if _, err := c.do(ctx, c.data, http.MethodGet, "/v1beta3/crypto/us/latest/bars", query, nil, &payload); err != nil {
			return decimal.Decimal{}, fmt.Errorf("%w: can't get latest crypto bar for %s", err, sym)
		}
		bar, ok := payload.Bars[slashed]
		if !ok {
			return decimal.Decimal{}, fmt.Errorf("no bar returned for %s", slashed)
		}
		return decimal.NewFromFloat(bar.Close), nil
	default:
		return decimal.Decimal{}, fmt.Errorf("unsupported asset class %q for price lookup", class)
	}
}

func (c *Client) GetBidAsk(ctx context.Context, sym string, class model.AssetClass) (broker.BidAsk, error) {
	switch class {
	case model.Equity:
		var payload latestQuotePayload
		path := fmt.Sprintf("/v2/stocks/%s/quotes/latest", url.PathEscape(sym))
		if _, err := c.do(ctx, c.data, http.MethodGet, path, nil, nil, &payload); err != nil {
			return broker.BidAsk{}, fmt.Errorf("%w: can't get latest quote for %s", err, sym)
		}
		return broker.BidAsk{
			Bid: decimal.NewFromFloat(payload.Quote.BidPrice),
			Ask: decimal.NewFromFloat(payload.Quote.AskPrice),
		}, nil
	case model.Crypto:
		slashed, _ := c.symbols.Slashed(sym)
		var payload latestCryptoQuotesPayload
		query := map[string]string{"symbols": slashed}
		if _, err := c.do(ctx, c.data, http.MethodGet, "/v1beta3/crypto/us/latest/quotes", query, nil, &payload); err != nil {
			return broker.BidAsk{}, fmt.Errorf("%w: can't get latest crypto quote for %s", err, sym)
		}
		quote, ok := payload.Quotes[slashed]
		if !ok {
			return broker.BidAsk{}, fmt.Errorf("no quote returned for %s", slashed)
		}
		return broker.BidAsk{
			Bid: decimal.NewFromFloat(quote.BidPrice),
			Ask: decimal.NewFromFloat(quote.AskPrice),
		}, nil
	default:
		return broker.BidAsk{}, fmt.Errorf("unsupported asset class %q for quote lookup", class)
	}
}

func (c *Client) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResponse, error) {
	body := orderBody{
		Symbol:        req.Symbol,
		Qty:           req.Quantity.String(),
		Side:          string(req.Side),
		Type:          string(req.Type),
		TimeInForce:   string(req.TimeInForce),
		ClientOrderID: req.ClientOrderID,
	}
	if req.Type == model.Limit {
		body.LimitPrice = req.Price.Round(2).String()
	}

	var payload orderPayload
	if _, err := c.do(ctx, c.trading, http.MethodPost, "/v2/orders", nil, body, &payload); err != nil {
		return broker.OrderResponse{}, fmt.Errorf("%w: can't place order for %s", err, req.Symbol)
	}

	return c.toOrderResponse(payload)
}

func (c *Client) GetExistingOrder(ctx context.Context, brokerOrderID, clientOrderID string) (broker.OrderResponse, error) {
	if brokerOrderID == "" && clientOrderID == "" {
		return broker.OrderResponse{}, fmt.Errorf("need broker order id or client order id")
	}

	var payload orderPayload
	if brokerOrderID != "" {
		path := fmt.Sprintf("/v2/orders/%s", url.PathEscape(brokerOrderID))
		if status, err := c.do(ctx, c.trading, http.MethodGet, path, nil, nil, &payload); err != nil {
			if status == http.StatusNotFound {
				return broker.OrderResponse{}, fmt.Errorf("%w: %s", broker.ErrOrderNotFound, brokerOrderID)
			}
			return broker.OrderResponse{}, fmt.Errorf("%w: can't get order %s", err, brokerOrderID)
		}
	} else {
		query := map[string]string{"client_order_id": clientOrderID}
		if status, err := c.do(ctx, c.trading, http.MethodGet, "/v2/orders:by_client_order_id", query, nil, &payload); err != nil {
			if status == http.StatusNotFound {
				return broker.OrderResponse{}, fmt.Errorf("%w: client id %s", broker.ErrOrderNotFound, clientOrderID)
			}
			return broker.OrderResponse{}, fmt.Errorf("%w: can't get order by client id %s", err, clientOrderID)
		}
	}

	return c.toOrderResponse(payload)
}

func (c *Client) GetOpenOrders(ctx context.Context, status string) ([]broker.OrderResponse, error) {
	var payload []orderPayload
	query := map[string]string{"status": status}
	if _, err := c.do(ctx, c.trading, http.MethodGet, "/v2/orders", query, nil, &payload); err != nil {
		return nil, fmt.Errorf("%w: can't list %s orders", err, status)
	}

	orders := make([]broker.OrderResponse, 0, len(payload))
	for _, p := range payload {
		order, err := c.toOrderResponse(p)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) broker.CancelResponse {
	path := fmt.Sprintf("/v2/orders/%s", url.PathEscape(orderID))
	if _, err := c.do(ctx, c.trading, http.MethodDelete, path, nil, nil, nil); err != nil {
		return broker.CancelResponse{OrderID: orderID, Status: fmt.Sprintf("failed: %s", err)}
	}
	return broker.CancelResponse{OrderID: orderID, Status: "canceled"}
}

func (c *Client) toOrderResponse(p orderPayload) (broker.OrderResponse, error) {
	qty, err := parseDec("qty", p.Qty)
	if err != nil {
		return broker.OrderResponse{}, fmt.Errorf("%w: order %s", err, p.ID)
	}

	resp := broker.OrderResponse{
		OrderID:        p.ID,
		Status:         p.Status,
		Symbol:         p.Symbol,
		Quantity:       qty,
		Side:           model.OrderSide(p.Side),
		Type:           model.OrderType(p.Type),
		TimeInForce:    model.TimeInForce(p.TimeInForce),
		ClientOrderID:  p.ClientOrderID,
		AssetID:        p.AssetID,
		AssetClass:     p.AssetClass,
		FilledQuantity: parseDecOr(p.FilledQty, decimal.Zero),
	}
	if p.LimitPrice != nil {
		resp.LimitPrice = parseDecOr(*p.LimitPrice, decimal.Zero)
	}
	return resp, nil
}
