package server

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeledger/internal/server/handler"
	"github.com/alanyoungcy/tradeledger/internal/server/middleware"
	"github.com/alanyoungcy/tradeledger/internal/service"
	memstore "github.com/alanyoungcy/tradeledger/internal/store/memory"
)

func newTestRouter(cfg Config) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	audit := memstore.NewAuditStore()
	ledger := service.NewPositionLedger(memstore.NewLedgerStore(), logger).WithEvents(nil, audit)
	handlers := Handlers{
		Health:      handler.NewHealthHandler(nil, logger),
		Positions:   handler.NewPositionHandler(ledger, logger),
		Settlements: handler.NewSettlementHandler(nil, logger),
		Audit:       handler.NewAuditHandler(audit, logger),
	}
	return NewRouter(cfg, handlers, nil, logger)
}

func TestRouter_Routes(t *testing.T) {
	t.Parallel()
	h := newTestRouter(Config{})

	tests := []struct {
		method, path, body string
		status             int
	}{
		{http.MethodGet, "/api/health", "", http.StatusOK},
		{http.MethodGet, "/api/positions", "", http.StatusOK},
		{http.MethodGet, "/api/positions/missing", "", http.StatusNotFound},
		{http.MethodGet, "/api/positions/missing/closing-trades", "", http.StatusNotFound},
		{http.MethodPost, "/api/positions/close-fifo", "{", http.StatusBadRequest},
		{http.MethodPost, "/api/positions/missing/close", "{", http.StatusBadRequest},
		{http.MethodGet, "/api/audit?event=position_opened", "", http.StatusOK},
		{http.MethodDelete, "/api/positions/missing", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/markets", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
		})
	}
}

func TestRouter_Auth(t *testing.T) {
	t.Parallel()
	h := newTestRouter(Config{APIKey: "s3cret"})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code, "health stays public")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/positions", nil)
	req.Header.Set("X-API-Key", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_CORS(t *testing.T) {
	t.Parallel()
	h := newTestRouter(Config{CORSOrigins: []string{"https://app.example"}, APIKey: "s3cret"})

	req := httptest.NewRequest(http.MethodOptions, "/api/positions", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/positions", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_KeepsCallerRequestID(t *testing.T) {
	t.Parallel()
	h := newTestRouter(Config{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(middleware.RequestIDHeader))
}
