package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	memcache "github.com/alanyoungcy/tradeledger/internal/cache/memory"
	"github.com/alanyoungcy/tradeledger/internal/domain"
)

func startHub(t *testing.T) (*memcache.SignalBus, *websocket.Conn) {
	t.Helper()

	bus := memcache.NewSignalBus()
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		cancel()
		<-done
		srv.Close()
	})

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// The status frame is only sent once the hub has registered the client,
	// after its bus subscriptions are live.
	status := readEnvelope(t, conn)
	require.Equal(t, "hub_status", status.Type)

	return bus, conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHub_ForwardsBusEvents(t *testing.T) {
	t.Parallel()
	bus, conn := startHub(t)

	require.NoError(t, bus.Publish(context.Background(), domain.ChannelPositions, []byte(`{"event":"position_opened","position_id":"p-1"}`)))

	env := readEnvelope(t, conn)
	assert.Equal(t, "event", env.Type)
	assert.Equal(t, domain.ChannelPositions, env.Channel)
	assert.JSONEq(t, `{"event":"position_opened","position_id":"p-1"}`, string(env.Payload))
}

func TestHub_WrapsNonJSONPayload(t *testing.T) {
	t.Parallel()
	bus, conn := startHub(t)

	require.NoError(t, bus.Publish(context.Background(), domain.ChannelSettlements, []byte("plain text")))

	env := readEnvelope(t, conn)
	assert.Equal(t, domain.ChannelSettlements, env.Channel)
	assert.JSONEq(t, `"plain text"`, string(env.Payload))
}

func TestClient_Subscriptions(t *testing.T) {
	t.Parallel()

	c := &client{subs: map[string]bool{domain.ChannelPositions: true, domain.ChannelSettlements: true}}

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelPositions}})
	assert.False(t, c.isSubscribed(domain.ChannelPositions))
	assert.True(t, c.isSubscribed(domain.ChannelSettlements))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{domain.ChannelPositions}})
	assert.True(t, c.isSubscribed(domain.ChannelPositions))

	c.handleSubscription(subscribeMsg{Action: "bogus", Channels: []string{domain.ChannelSettlements}})
	assert.True(t, c.isSubscribed(domain.ChannelSettlements))
}
