package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeledger/internal/cache/memory"
	"github.com/alanyoungcy/tradeledger/internal/domain"
)

type recordingSender struct {
	mu     sync.Mutex
	name   string
	err    error
	titles []string
	bodies []string
}

func (s *recordingSender) Send(_ context.Context, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titles = append(s.titles, title)
	s.bodies = append(s.bodies, message)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func (s *recordingSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.titles...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotify_FiltersEvents(t *testing.T) {
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"position_closed", " "}, discardLogger())

	require.NoError(t, n.Notify(context.Background(), "position_opened", "opened", ""))
	require.NoError(t, n.Notify(context.Background(), "position_closed", "closed", ""))

	assert.Equal(t, []string{"closed"}, s.sent())
}

func TestNotify_JoinsSenderErrors(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.Notify(context.Background(), "any", "title", "body")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Equal(t, []string{"title"}, good.sent())
}

func TestFormatEvent(t *testing.T) {
	event, title, body, err := FormatEvent([]byte(`{"event":"position_closed","asset_pair":"BTC-USD","side":"LONG","profit_loss":"10","leftover_quantity":"0"}`))
	require.NoError(t, err)
	assert.Equal(t, "position_closed", event)
	assert.Equal(t, "position closed LONG BTC-USD", title)
	assert.Equal(t, "asset_pair: BTC-USD\nleftover_quantity: 0\nprofit_loss: 10\nside: LONG", body)

	_, _, _, err = FormatEvent([]byte(`{"asset_pair":"BTC-USD"}`))
	assert.Error(t, err)
	_, _, _, err = FormatEvent([]byte(`not json`))
	assert.Error(t, err)
}

func TestRelay_ForwardsPositionEvents(t *testing.T) {
	bus := memory.NewSignalBus()
	s := &recordingSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{"position_closed"}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Relay(ctx, bus) }()

	// Relay subscribes asynchronously; keep publishing until it is listening.
	require.Eventually(t, func() bool {
		_ = bus.Publish(ctx, domain.ChannelPositions, []byte(`garbage`))
		_ = bus.Publish(ctx, domain.ChannelPositions, []byte(`{"event":"position_opened","asset_pair":"ETH-USD"}`))
		_ = bus.Publish(ctx, domain.ChannelPositions, []byte(`{"event":"position_closed","asset_pair":"BTC-USD","side":"SHORT"}`))
		return len(s.sent()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}

	for _, title := range s.sent() {
		assert.Equal(t, "position closed SHORT BTC-USD", title)
	}
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("tok", "42")
	s.apiBase = srv.URL

	require.NoError(t, s.Send(context.Background(), "Closed", "pnl: 10"))
	assert.Equal(t, "/bottok/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Closed*\npnl: 10", got["text"])
	assert.Equal(t, "telegram", s.Name())
}

func TestDiscordSender(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusNoContent)
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(int(status.Load()))
		_, _ = w.Write([]byte("rate limited"))
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), "Closed", "pnl: 10"))
	assert.Equal(t, "**Closed**\npnl: 10", got["content"])

	status.Store(http.StatusTooManyRequests)
	err := s.Send(context.Background(), "Closed", "pnl: 10")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 429: rate limited")
}
