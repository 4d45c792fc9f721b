package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// AuditReader lists audit log entries.
type AuditReader interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AuditHandler exposes the ledger audit log.
type AuditHandler struct {
	audit  AuditReader
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit AuditReader, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, logger: logHandler(logger, "audit")}
}

type listAuditResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
}

// ListEntries returns audit entries newest first.
// GET /api/audit?event=position_closed&since=2024-03-01T00:00:00Z&limit=50&offset=0
func (h *AuditHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	q := r.URL.Query()
	opts.Event = q.Get("event")

	var err error
	if opts.Since, err = parseTimeParam(q.Get("since")); err != nil {
		writeServiceError(w, r, h.logger, "list audit", fmt.Errorf("since: %w", err))
		return
	}
	if opts.Until, err = parseTimeParam(q.Get("until")); err != nil {
		writeServiceError(w, r, h.logger, "list audit", fmt.Errorf("until: %w", err))
		return
	}

	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, "list audit", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, listAuditResponse{Entries: entries})
}

// parseTimeParam parses an RFC 3339 query value. Empty means unset.
func parseTimeParam(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%w: want RFC 3339 time, got %q", domain.ErrValidation, v)
	}
	return &t, nil
}
