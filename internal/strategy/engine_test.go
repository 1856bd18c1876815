package strategy

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/quantfold/rebalancer/internal/broker"
	"github.com/quantfold/rebalancer/internal/logger"
	"github.com/quantfold/rebalancer/internal/model"
	"github.com/quantfold/rebalancer/internal/symbol"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) With(...interface{}) logger.Logger { return nopLogger{} }
func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Infof(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{}) {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Fatalf(string, ...interface{}) {}
func (nopLogger) Sync() error { return nil }

type fakeStore struct {
	nextID         int64
	trades         map[int64]*model.Trade
	balances       []model.Balance
	positions      map[string]model.Position
	insertTradeErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		trades:    make(map[int64]*model.Trade),
		positions: make(map[string]model.Position),
	}
}

func (s *fakeStore) InsertTrade(_ context.Context, t *model.Trade) error {
	if s.insertTradeErr != nil {
		return s.insertTradeErr
	}
	s.nextID++
	t.ID = s.nextID
	cp := *t
	s.trades[t.ID] = &cp
	return nil
}

func (s *fakeStore) UpdateTradeResponse(_ context.Context, t *model.Trade) error {
	if _, ok := s.trades[t.ID]; !ok {
		return fmt.Errorf("no trade %d", t.ID)
	}
	cp := *t
	s.trades[t.ID] = &cp
	return nil
}

func (s *fakeStore) DeleteTrade(_ context.Context, id int64) error {
	delete(s.trades, id)
	return nil
}

func (s *fakeStore) UnfilledTrades(_ context.Context, strategy string) ([]model.Trade, error) {
	var out []model.Trade
	for _, t := range s.trades {
		if t.Strategy == strategy && !t.IsFilled {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkTradeFilled(_ context.Context, id int64) error {
	t, ok := s.trades[id]
	if !ok {
		return fmt.Errorf("no trade %d", id)
	}
	t.IsFilled = true
	return nil
}

func (s *fakeStore) AppendBalance(_ context.Context, b *model.Balance) error {
	s.nextID++
	b.ID = s.nextID
	s.balances = append(s.balances, *b)
	return nil
}

func (s *fakeStore) LatestBalance(_ context.Context, strategy, broker string) (*model.Balance, error) {
	for i := len(s.balances) - 1; i >= 0; i-- {
		if s.balances[i].Strategy == strategy && s.balances[i].Broker == broker {
			b := s.balances[i]
			return &b, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ListPositions(_ context.Context, strategy, broker string) ([]model.Position, error) {
	var out []model.Position
	for _, p := range s.positions {
		if p.Strategy == strategy && p.Broker == broker {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fakeStore) UpsertPositions(_ context.Context, positions []model.Position) error {
	for _, p := range positions {
		key := p.Broker + "|" + p.Strategy + "|" + p.Symbol
		if existing, ok := s.positions[key]; ok {
			p.ID = existing.ID
		} else {
			s.nextID++
			p.ID = s.nextID
		}
		s.positions[key] = p
	}
	return nil
}

type fakeBroker struct {
	positions   []broker.Position
	prices      map[string]decimal.Decimal
	priceErr    map[string]error
	account     broker.AccountInfo
	open        []broker.OrderResponse
	orders      map[string]broker.OrderResponse
	placed      []broker.OrderRequest
	placeErr    error
	fillOnPlace bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		prices:   make(map[string]decimal.Decimal),
		priceErr: make(map[string]error),
		orders:   make(map[string]broker.OrderResponse),
		account: broker.AccountInfo{
			AccountID:   "acct-1",
			Status:      "ACTIVE",
			BuyingPower: decimal.NewFromInt(1000000),
		},
	}
}

func (b *fakeBroker) Name() string { return "fake" }

func (b *fakeBroker) GetAccountInfo(context.Context) (broker.AccountInfo, error) {
	return b.account, nil
}

func (b *fakeBroker) GetPositions(context.Context) ([]broker.Position, error) {
	return b.positions, nil
}

func (b *fakeBroker) GetCurrentPrice(_ context.Context, sym string, _ model.AssetClass) (decimal.Decimal, error) {
	if err, ok := b.priceErr[sym]; ok {
		return decimal.Decimal{}, err
	}
	p, ok := b.prices[sym]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no price for %s", sym)
	}
	return p, nil
}

func (b *fakeBroker) GetBidAsk(context.Context, string, model.AssetClass) (broker.BidAsk, error) {
	return broker.BidAsk{}, nil
}

func (b *fakeBroker) PlaceOrder(_ context.Context, req broker.OrderRequest) (broker.OrderResponse, error) {
	if b.placeErr != nil {
		return broker.OrderResponse{}, b.placeErr
	}

	b.placed = append(b.placed, req)
	resp := broker.OrderResponse{
		OrderID:       fmt.Sprintf("broker-%d", len(b.placed)),
		Status:        "accepted",
		Symbol:        req.Symbol,
		Quantity:      req.Quantity,
		Side:          req.Side,
		Type:          req.Type,
		TimeInForce:   req.TimeInForce,
		ClientOrderID: req.ClientOrderID,
		AssetID:       "asset-1",
		AssetClass:    "crypto",
	}
	if b.fillOnPlace {
		resp.Status = "filled"
		resp.FilledQuantity = req.Quantity
	}
	b.orders[resp.OrderID] = resp
	b.orders[resp.ClientOrderID] = resp
	return resp, nil
}

func (b *fakeBroker) GetExistingOrder(_ context.Context, brokerOrderID, clientOrderID string) (broker.OrderResponse, error) {
	if o, ok := b.orders[brokerOrderID]; ok && brokerOrderID != "" {
		return o, nil
	}
	if o, ok := b.orders[clientOrderID]; ok && clientOrderID != "" {
		return o, nil
	}
	return broker.OrderResponse{}, fmt.Errorf("%w: %s/%s", broker.ErrOrderNotFound, brokerOrderID, clientOrderID)
}

func (b *fakeBroker) GetOpenOrders(context.Context, string) ([]broker.OrderResponse, error) {
	return b.open, nil
}

func (b *fakeBroker) CancelOrder(_ context.Context, orderID string) broker.CancelResponse {
	return broker.CancelResponse{OrderID: orderID, Status: "canceled"}
}

func newTestEngine(b broker.Broker, s Store) *Engine {
	return NewEngine(b, s, symbol.NewTable(symbol.DefaultPairs()), "teststrat", decimal.NewFromInt(1000), "", nopLogger{})
}

func TestSyncPositionsIdempotent(t *testing.T) {
	b := newFakeBroker()
	b.positions = []broker.Position{
		{Symbol: "BTC/USD", Quantity: decimal.NewFromInt(2), MarketValue: decimal.NewFromInt(200), CurrentPrice: decimal.NewFromInt(100), Class: model.Crypto},
		{Symbol: "AAPL", Quantity: decimal.NewFromInt(3), MarketValue: decimal.NewFromInt(300), CurrentPrice: decimal.NewFromInt(100), Class: model.Equity},
	}
	st := newFakeStore()
	e := newTestEngine(b, st)

	ctx := context.Background()
	_, err := e.SyncPositions(ctx)
	require.NoError(t, err)
	first, err := st.ListPositions(ctx, "teststrat", "fake")
	require.NoError(t, err)
	require.Len(t, first, 2)

	_, err = e.SyncPositions(ctx)
	require.NoError(t, err)
	second, err := st.ListPositions(ctx, "teststrat", "fake")
	require.NoError(t, err)
	require.Len(t, second, 2)

	byID := make(map[int64]model.Position)
	for _, p := range first {
		byID[p.ID] = p
	}
	for _, p := range second {
		prev, ok := byID[p.ID]
		require.True(t, ok, "row id changed between syncs")
		require.Equal(t, prev.Symbol, p.Symbol)
		require.True(t, prev.Quantity.Equal(p.Quantity))
		require.True(t, prev.LatestPrice.Equal(p.LatestPrice))
	}
}

func TestEnsureInitialized(t *testing.T) {
	b := newFakeBroker()
	st := newFakeStore()
	e := newTestEngine(b, st)
	ctx := context.Background()

	initialized, err := e.EnsureInitialized(ctx, decimal.Zero)
	require.NoError(t, err)
	require.False(t, initialized)
	require.Len(t, st.balances, 1)
	require.Equal(t, model.BalanceCash, st.balances[0].Type)
	require.True(t, st.balances[0].Value.Equal(decimal.NewFromInt(1000)))

	total := decimal.RequireFromString("1234.5678")
	initialized, err = e.EnsureInitialized(ctx, total)
	require.NoError(t, err)
	require.True(t, initialized)
	require.Len(t, st.balances, 2)
	require.Equal(t, model.BalancePositions, st.balances[1].Type)
	require.True(t, st.balances[1].Value.Equal(decimal.RequireFromString("1234.57")))
}

func TestCheckUnfilledTradesFlipsFilled(t *testing.T) {
	b := newFakeBroker()
	st := newFakeStore()
	e := newTestEngine(b, st)
	ctx := context.Background()

	trade := &model.Trade{Broker: "fake", Strategy: "teststrat", Symbol: "BTC/USD", Quantity: decimal.NewFromInt(5)}
	trade.BrokerOrderID.String, trade.BrokerOrderID.Valid = "b1", true
	trade.ClientOrderID.String, trade.ClientOrderID.Valid = "c1", true
	require.NoError(t, st.InsertTrade(ctx, trade))

	b.orders["b1"] = broker.OrderResponse{
		OrderID:        "b1",
		Quantity:       decimal.NewFromInt(5),
		FilledQuantity: decimal.NewFromInt(5),
	}

	require.NoError(t, e.CheckUnfilledTrades(ctx))
	require.True(t, st.trades[trade.ID].IsFilled)

	// Once flipped the guard must not trip on this row again.
	require.NoError(t, e.CheckUnfilledTrades(ctx))
}

func TestCheckUnfilledTradesGuard(t *testing.T) {
	b := newFakeBroker()
	st := newFakeStore()
	e := newTestEngine(b, st)
	ctx := context.Background()

	trade := &model.Trade{Broker: "fake", Strategy: "teststrat", Symbol: "BTC/USD", Quantity: decimal.NewFromInt(5)}
	trade.BrokerOrderID.String, trade.BrokerOrderID.Valid = "b1", true
	require.NoError(t, st.InsertTrade(ctx, trade))

	b.orders["b1"] = broker.OrderResponse{
		OrderID:        "b1",
		Quantity:       decimal.NewFromInt(5),
		FilledQuantity: decimal.NewFromInt(2),
	}

	err := e.CheckUnfilledTrades(ctx)
	require.ErrorIs(t, err, ErrOpenTrades)
	require.False(t, st.trades[trade.ID].IsFilled)
}

func TestCheckUnfilledTradesGuardOnBrokerOpenOrders(t *testing.T) {
	b := newFakeBroker()
	b.open = []broker.OrderResponse{{OrderID: "stray"}}
	st := newFakeStore()
	e := newTestEngine(b, st)

	err := e.CheckUnfilledTrades(context.Background())
	require.ErrorIs(t, err, ErrOpenTrades)
}

func TestCheckUnfilledTradesDropsOrphanedPending(t *testing.T) {
	b := newFakeBroker()
	st := newFakeStore()
	e := newTestEngine(b, st)
	ctx := context.Background()

	// A pending row from an interrupted tick: client order id persisted but
	// the broker never saw the order.
	trade := &model.Trade{Broker: "fake", Strategy: "teststrat", Symbol: "BTC/USD", Quantity: decimal.NewFromInt(1), Status: "pending"}
	trade.ClientOrderID.String, trade.ClientOrderID.Valid = "c-orphan", true
	require.NoError(t, st.InsertTrade(ctx, trade))

	require.NoError(t, e.CheckUnfilledTrades(ctx))
	require.Empty(t, st.trades)
}

func TestPlaceOrderSuccess(t *testing.T) {
	b := newFakeBroker()
	b.fillOnPlace = true
	st := newFakeStore()
	e := newTestEngine(b, st)

	trade, err := e.PlaceOrder(context.Background(), model.TradeIntent{
		Symbol:      "BTC/USD",
		Quantity:    decimal.NewFromInt(2),
		Side:        model.Buy,
		Price:       decimal.NewFromInt(100),
		Type:        model.Market,
		TimeInForce: model.GoodTillCancel,
	})
	require.NoError(t, err)
	require.True(t, trade.IsFilled)
	require.Equal(t, "filled", trade.Status)
	require.True(t, trade.BrokerOrderID.Valid)
	require.True(t, trade.ClientOrderID.Valid)
	require.Len(t, b.placed, 1)
	require.Equal(t, b.placed[0].ClientOrderID, trade.ClientOrderID.String)

	stored := st.trades[trade.ID]
	require.True(t, stored.IsFilled)
}

func TestPlaceOrderFailureDeletesPending(t *testing.T) {
	b := newFakeBroker()
	b.placeErr = errors.New("gateway exploded")
	st := newFakeStore()
	e := newTestEngine(b, st)

	_, err := e.PlaceOrder(context.Background(), model.TradeIntent{
		Symbol:   "BTC/USD",
		Quantity: decimal.NewFromInt(2),
		Side:     model.Buy,
		Price:    decimal.NewFromInt(100),
	})
	require.ErrorContains(t, err, "gateway exploded")
	require.Empty(t, st.trades, "pending trade row must be rolled back")
}
