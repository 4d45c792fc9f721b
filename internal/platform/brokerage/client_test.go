package brokerage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

func TestListOrdersByID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/orders/historical/batch", r.URL.Path)
		assert.Equal(t, []string{"o-1", "o-2"}, r.URL.Query()["order_ids"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"orders":[
			{"order_id":"o-1","status":"filled","side":"BUY","product_id":"BTC-USD","size":"2","end_time":""},
			{"order_id":"o-2","status":"CANCELED","side":"SELL","product_id":"ETH-USD","size":"1","end_time":"2024-03-01T12:00:00Z"}
		]}`))
	}))
	defer srv.Close()

	orders, err := NewClient(srv.URL, time.Second).ListOrdersByID(context.Background(), []string{"o-1", "o-2"})
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.Equal(t, domain.OrderStatusFilled, orders[0].Status)
	assert.Nil(t, orders[0].EndTime)
	assert.Equal(t, "2", orders[0].Size)

	assert.Equal(t, domain.OrderStatusCancelled, orders[1].Status)
	require.NotNil(t, orders[1].EndTime)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), orders[1].EndTime.UTC())
}

func TestListFills_FollowsCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "o-1", r.URL.Query().Get("order_id"))
		switch r.URL.Query().Get("cursor") {
		case "":
			_, _ = w.Write([]byte(`{"fills":[{"trade_id":"t-1","side":"BUY","product_id":"BTC-USD","trade_time":"2024-03-01T10:00:00Z","price":"50000","size":"1.5","commission":"75"}],"cursor":"next"}`))
		case "next":
			_, _ = w.Write([]byte(`{"fills":[{"trade_id":"t-2","side":"BUY","product_id":"BTC-USD","trade_time":"2024-03-01T10:00:01Z","price":"55000","size":"0.5","commission":"25"}],"cursor":""}`))
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	}))
	defer srv.Close()

	fills, err := NewClient(srv.URL+"/", time.Second).ListFills(context.Background(), "o-1")
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, "t-1", fills[0].TradeID)
	assert.Equal(t, "0.5", fills[1].Size)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status    int
		wantErr   error
		transient bool
	}{
		{http.StatusNotFound, domain.ErrNotFound, false},
		{http.StatusTooManyRequests, domain.ErrTransient, true},
		{http.StatusBadGateway, domain.ErrTransient, true},
		{http.StatusUnauthorized, nil, false},
		{http.StatusBadRequest, nil, false},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"X","message":"boom"}`))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, time.Second).ListFills(context.Background(), "o-1")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "boom")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.transient, errors.Is(err, domain.ErrTransient))
		})
	}
}

func TestTransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, time.Second).ListOrdersByID(context.Background(), []string{"o-1"})
	assert.ErrorIs(t, err, domain.ErrTransient)
}

type headerSigner struct{}

func (headerSigner) Sign(req *http.Request) error {
	req.Header.Set("X-Signature", "signed")
	return nil
}

type countingLimiter struct{ n atomic.Int32 }

func (l *countingLimiter) Wait(context.Context, string) error {
	l.n.Add(1)
	return nil
}

func TestSignerAndLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "signed", r.Header.Get("X-Signature"))
		_, _ = w.Write([]byte(`{"orders":[]}`))
	}))
	defer srv.Close()

	limiter := &countingLimiter{}
	c := NewClient(srv.URL, time.Second).WithSigner(headerSigner{}).WithRateLimiter(limiter)

	orders, err := c.ListOrdersByID(context.Background(), []string{"o-1"})
	require.NoError(t, err)
	assert.Empty(t, orders)
	assert.Equal(t, int32(1), limiter.n.Load())
}

func TestBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k-123", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"orders":[]}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).WithSigner(BearerToken("k-123")).
		ListOrdersByID(context.Background(), []string{"o-1"})
	require.NoError(t, err)

	_, err = NewClient(srv.URL, time.Second).WithSigner(BearerToken("")).
		ListOrdersByID(context.Background(), []string{"o-1"})
	assert.ErrorContains(t, err, "empty api key")
}

func TestParseEndTime(t *testing.T) {
	assert.Nil(t, parseEndTime(""))
	assert.Nil(t, parseEndTime("0001-01-01T00:00:00Z"))
	assert.Nil(t, parseEndTime("tomorrow"))
	require.NotNil(t, parseEndTime("2024-03-01T12:00:00.123Z"))
}
