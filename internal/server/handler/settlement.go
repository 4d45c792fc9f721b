package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/tradeledger/internal/service"
)

// SettlementService defines the method the settlement handler requires.
type SettlementService interface {
	Settle(ctx context.Context, req service.SettleRequest) (service.SettlementOutcome, error)
}

// SettlementHandler runs the settle pipeline for one order per request.
type SettlementHandler struct {
	settlements SettlementService
	logger      *slog.Logger
}

// NewSettlementHandler creates a SettlementHandler.
func NewSettlementHandler(settlements SettlementService, logger *slog.Logger) *SettlementHandler {
	return &SettlementHandler{
		settlements: settlements,
		logger:      logHandler(logger, "settlements"),
	}
}

type settleErrorResponse struct {
	Error   string                     `json:"error"`
	Outcome *service.SettlementOutcome `json:"outcome,omitempty"`
}

// Settle blocks until the order settles (or the monitor gives up) and books
// it according to the requested action. When only the ledger step fails the
// error response still carries the settlement record.
// POST /api/settlements
func (h *SettlementHandler) Settle(w http.ResponseWriter, r *http.Request) {
	var req service.SettleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeServiceError(w, r, h.logger, "settle", err)
		return
	}

	out, err := h.settlements.Settle(r.Context(), req)
	if err != nil {
		if out.Record.OrderID == "" {
			writeServiceError(w, r, h.logger, "settle", err)
			return
		}
		status := statusFor(err)
		h.logger.ErrorContext(r.Context(), "handler: settle ledger step failed",
			slog.String("order_id", req.OrderID),
			slog.String("error", err.Error()),
		)
		msg := err.Error()
		if status == http.StatusInternalServerError {
			msg = "ledger update failed"
		}
		writeJSON(w, status, settleErrorResponse{Error: msg, Outcome: &out})
		return
	}

	writeJSON(w, http.StatusOK, out)
}
