package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// PositionService defines the ledger operations the position handler needs.
type PositionService interface {
	ListOpenPositions(ctx context.Context, assetPair string) ([]domain.Position, error)
	GetPosition(ctx context.Context, id string) (domain.Position, error)
	ListClosingTrades(ctx context.Context, positionID string) ([]domain.ClosingTrade, error)
	OpenPosition(ctx context.Context, rec domain.SettlementRecord, positionType string) (domain.Position, error)
	CloseAgainstPosition(ctx context.Context, rec domain.SettlementRecord, positionID string) (domain.Position, error)
	CloseFifo(ctx context.Context, rec domain.SettlementRecord) (domain.Position, error)
}

// PositionHandler serves position-related HTTP endpoints. The write routes
// book settlement records that were obtained elsewhere, for instance from a
// settle-mode run with action "none".
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logHandler(logger, "positions"),
	}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

type closingTradesResponse struct {
	PositionID string                `json:"position_id"`
	Trades     []domain.ClosingTrade `json:"trades"`
}

// bookRequest carries a settlement record to apply to the ledger.
type bookRequest struct {
	Record       domain.SettlementRecord `json:"record"`
	PositionType string                  `json:"position_type,omitempty"`
}

// ListPositions returns open positions, optionally for one asset pair.
// GET /api/positions?asset_pair=BTC-USD
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := h.positions.ListOpenPositions(r.Context(), r.URL.Query().Get("asset_pair"))
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// GetPosition returns one position, open or closed.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	pos, err := h.positions.GetPosition(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// ListClosingTrades returns the closing trades booked against a position in
// the order they were applied.
// GET /api/positions/{id}/closing-trades
func (h *PositionHandler) ListClosingTrades(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	trades, err := h.positions.ListClosingTrades(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, "list closing trades", err)
		return
	}
	if trades == nil {
		trades = []domain.ClosingTrade{}
	}
	writeJSON(w, http.StatusOK, closingTradesResponse{PositionID: id, Trades: trades})
}

// OpenPosition opens a position from a settlement record.
// POST /api/positions
func (h *PositionHandler) OpenPosition(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "open position", err)
		return
	}
	pos, err := h.positions.OpenPosition(r.Context(), req.Record, req.PositionType)
	if err != nil {
		writeServiceError(w, r, h.logger, "open position", err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

// ClosePosition closes a settlement against the position in the path.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "close position", err)
		return
	}
	pos, err := h.positions.CloseAgainstPosition(r.Context(), req.Record, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "close position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// CloseFifo closes a settlement against the oldest open positions on the
// opposite side. The response is the last position touched.
// POST /api/positions/close-fifo
func (h *PositionHandler) CloseFifo(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "close fifo", err)
		return
	}
	pos, err := h.positions.CloseFifo(r.Context(), req.Record)
	if err != nil {
		writeServiceError(w, r, h.logger, "close fifo", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}
