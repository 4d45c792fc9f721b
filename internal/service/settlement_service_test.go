package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memcache "github.com/alanyoungcy/tradeledger/internal/cache/memory"
	"github.com/alanyoungcy/tradeledger/internal/domain"
	memstore "github.com/alanyoungcy/tradeledger/internal/store/memory"
)

type recordingBlob struct {
	mu    sync.Mutex
	puts  map[string][]byte
	types map[string]string
	err   error
}

func (b *recordingBlob) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	if b.err != nil {
		return b.err
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.puts == nil {
		b.puts = make(map[string][]byte)
		b.types = make(map[string]string)
	}
	b.puts[path] = body
	b.types[path] = contentType
	return nil
}

func TestJournalPath(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 1, 23, 30, 0, 0, time.FixedZone("EST", -5*3600))
	assert.Equal(t, "settlements/2024/03/02/ord-1.json", JournalPath("ord-1", at))
}

func TestSettlementJournal_Record(t *testing.T) {
	t.Parallel()

	blob := &recordingBlob{}
	bus := memcache.NewSignalBus()
	j := NewSettlementJournal(blob, bus, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := bus.Subscribe(ctx, domain.ChannelSettlements)
	require.NoError(t, err)

	rec := settlement("t-1", domain.OrderSideBuy, "100", "2", "1", ledgerT0)
	j.Record(ctx, rec)

	path := "settlements/2024/03/01/" + rec.OrderID + ".json"
	require.Contains(t, blob.puts, path)
	assert.Equal(t, "application/json", blob.types[path])

	var archived domain.SettlementRecord
	require.NoError(t, json.Unmarshal(blob.puts[path], &archived))
	assert.Equal(t, rec.OrderID, archived.OrderID)
	assert.Equal(t, domain.OrderSideBuy, archived.Side)
	assert.True(t, rec.Price.Equal(archived.Price))

	select {
	case msg := <-sub:
		assert.JSONEq(t, string(blob.puts[path]), string(msg))
	case <-time.After(time.Second):
		t.Fatal("settlement not published")
	}
}

func TestSettlementJournal_FailuresAreNotFatal(t *testing.T) {
	t.Parallel()

	j := NewSettlementJournal(&recordingBlob{err: errors.New("bucket gone")}, nil, discardLogger())
	j.Record(context.Background(), settlement("t-1", domain.OrderSideBuy, "100", "1", "0", ledgerT0))

	NewSettlementJournal(nil, nil, discardLogger()).Record(context.Background(), domain.SettlementRecord{})
}

func filledAPI(orderID string, fills ...domain.Fill) *scriptedAPI {
	return &scriptedAPI{
		steps: []orderStep{step(order(orderID, domain.OrderStatusFilled))},
		fills: fills,
	}
}

func newTestService(api domain.OrderAPI, store domain.LedgerStore, blob domain.BlobWriter) *SettlementService {
	monitor := newTestMonitor(api, time.Millisecond, time.Second)
	return NewSettlementService(monitor, newTestLedger(store), NewSettlementJournal(blob, nil, discardLogger()), discardLogger())
}

func TestSettle_OpenThenCloseFifo(t *testing.T) {
	t.Parallel()

	store := memstore.NewLedgerStore()
	blob := &recordingBlob{}
	ctx := context.Background()

	buy := newTestService(filledAPI("o-buy", twoFills...), store, blob)
	out, err := buy.Settle(ctx, SettleRequest{OrderID: "o-buy", Action: ActionOpen})
	require.NoError(t, err)
	require.NotNil(t, out.Position)
	assert.Equal(t, domain.PositionLong, out.Position.Side)
	assert.True(t, dec("51250").Equal(out.Position.AcquiredPrice))
	assert.True(t, dec("2").Equal(out.Position.LeftoverQuantity))
	assert.Contains(t, blob.puts, "settlements/2024/03/01/o-buy.json")

	sellFills := []domain.Fill{{TradeID: "t-9", Side: "SELL", ProductID: "BTC-USD", TradeTime: "2024-03-02T10:00:00Z", Price: "60000", Size: "2", Commission: "10"}}
	sell := newTestService(filledAPI("o-sell", sellFills...), store, blob)
	out, err = sell.Settle(ctx, SettleRequest{OrderID: "o-sell", Action: ActionCloseFifo})
	require.NoError(t, err)
	require.NotNil(t, out.Position)
	assert.True(t, out.Position.Closed)
	assert.True(t, dec("17500").Equal(out.Position.ProfitLoss), "pnl %s", out.Position.ProfitLoss)
}

func TestSettle_NoFillsLeavesLedgerAlone(t *testing.T) {
	t.Parallel()

	store := memstore.NewLedgerStore()
	api := &scriptedAPI{steps: []orderStep{step(order("o-1", domain.OrderStatusCancelled))}}
	svc := newTestService(api, store, nil)

	out, err := svc.Settle(context.Background(), SettleRequest{OrderID: "o-1", Action: ActionOpen})
	require.NoError(t, err)
	assert.Nil(t, out.Position)
	assert.Equal(t, domain.OrderStatusCancelled, out.Record.Status)

	open, err := store.ListOpenPositions(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestSettle_ActionNone(t *testing.T) {
	t.Parallel()

	store := memstore.NewLedgerStore()
	svc := newTestService(filledAPI("o-1", twoFills...), store, nil)

	out, err := svc.Settle(context.Background(), SettleRequest{OrderID: "o-1"})
	require.NoError(t, err)
	assert.Nil(t, out.Position)
	assert.True(t, dec("2").Equal(out.Record.Quantity))

	open, err := store.ListOpenPositions(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestSettle_RequestValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  SettleRequest
	}{
		{"missing order id", SettleRequest{Action: ActionOpen}},
		{"unknown action", SettleRequest{OrderID: "o-1", Action: "hedge"}},
		{"close without position", SettleRequest{OrderID: "o-1", Action: ActionClose}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := filledAPI("o-1", twoFills...)
			svc := newTestService(api, memstore.NewLedgerStore(), nil)

			_, err := svc.Settle(context.Background(), tt.req)
			require.ErrorIs(t, err, domain.ErrValidation)
			orders, _ := api.calls()
			assert.Zero(t, orders, "no brokerage calls for a bad request")
		})
	}
}

func TestSettle_LedgerFailureKeepsRecord(t *testing.T) {
	t.Parallel()

	svc := newTestService(filledAPI("o-1", twoFills...), memstore.NewLedgerStore(), nil)

	out, err := svc.Settle(context.Background(), SettleRequest{OrderID: "o-1", Action: ActionClose, PositionID: "missing"})
	require.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, "o-1", out.Record.OrderID)
	assert.Nil(t, out.Position)
}

func TestSettle_MonitorFailure(t *testing.T) {
	t.Parallel()

	api := &scriptedAPI{steps: []orderStep{{err: domain.ErrNotFound}}}
	svc := newTestService(api, memstore.NewLedgerStore(), nil)

	_, err := svc.Settle(context.Background(), SettleRequest{OrderID: "o-1", Action: ActionOpen})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestParseSettleAction(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]SettleAction{
		"":           ActionNone,
		"OPEN":       ActionOpen,
		" close ":    ActionClose,
		"close_fifo": ActionCloseFifo,
		"none":       ActionNone,
	} {
		got, err := ParseSettleAction(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseSettleAction("fifo")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSettleMany_BooksInRequestOrder(t *testing.T) {
	t.Parallel()

	api := &fixedOrdersAPI{
		orders: map[string]domain.BrokerOrder{
			"o-buy":  order("o-buy", domain.OrderStatusFilled),
			"o-sell": order("o-sell", domain.OrderStatusFilled),
		},
		fills: map[string][]domain.Fill{
			"o-buy":  {{TradeID: "t-1", Side: "BUY", ProductID: "BTC-USD", TradeTime: "2024-03-01T10:00:00Z", Price: "100", Size: "2", Commission: "1"}},
			"o-sell": {{TradeID: "t-2", Side: "SELL", ProductID: "BTC-USD", TradeTime: "2024-03-01T11:00:00Z", Price: "110", Size: "1", Commission: "1"}},
		},
	}
	store := memstore.NewLedgerStore()
	svc := newTestService(api, store, nil)

	results := svc.SettleMany(context.Background(), []SettleRequest{
		{OrderID: "o-buy", Action: "OPEN"},
		{OrderID: "", Action: ActionOpen},
		{OrderID: "o-missing", Action: ActionOpen},
		{OrderID: "o-sell", Action: ActionCloseFifo},
	}, 2)
	require.Len(t, results, 4)

	require.NoError(t, results[0].Err)
	assert.Equal(t, ActionOpen, results[0].Request.Action)
	require.NotNil(t, results[0].Outcome.Position)

	assert.ErrorIs(t, results[1].Err, domain.ErrValidation)
	assert.ErrorIs(t, results[2].Err, domain.ErrNotFound)

	require.NoError(t, results[3].Err)
	require.NotNil(t, results[3].Outcome.Position)
	assert.Equal(t, results[0].Outcome.Position.ID, results[3].Outcome.Position.ID)
	assert.True(t, dec("1").Equal(results[3].Outcome.Position.LeftoverQuantity))
	assert.True(t, dec("10").Equal(results[3].Outcome.Position.ProfitLoss))
}

type fixedOrdersAPI struct {
	orders map[string]domain.BrokerOrder
	fills  map[string][]domain.Fill
}

func (a *fixedOrdersAPI) ListOrdersByID(_ context.Context, ids []string) ([]domain.BrokerOrder, error) {
	var out []domain.BrokerOrder
	for _, id := range ids {
		if o, ok := a.orders[id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func (a *fixedOrdersAPI) ListFills(_ context.Context, orderID string) ([]domain.Fill, error) {
	return a.fills[orderID], nil
}
