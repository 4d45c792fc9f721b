package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

// SettlementJournal archives settlement records to blob storage and
// announces them on the settlements channel. Both sinks are optional and
// neither failure is returned to the caller.
type SettlementJournal struct {
	blob   domain.BlobWriter
	bus    domain.SignalBus
	logger *slog.Logger
	now    func() time.Time
}

// NewSettlementJournal creates a SettlementJournal. blob and bus may be nil.
func NewSettlementJournal(blob domain.BlobWriter, bus domain.SignalBus, logger *slog.Logger) *SettlementJournal {
	return &SettlementJournal{
		blob:   blob,
		bus:    bus,
		logger: logger,
		now:    time.Now,
	}
}

// JournalPath returns the object key a settlement is archived under:
// settlements/YYYY/MM/DD/<orderID>.json, dated by settlement time.
func JournalPath(orderID string, settledAt time.Time) string {
	return fmt.Sprintf("settlements/%s/%s.json", settledAt.UTC().Format("2006/01/02"), orderID)
}

// Record writes rec to every configured sink.
func (j *SettlementJournal) Record(ctx context.Context, rec domain.SettlementRecord) {
	if j.blob == nil && j.bus == nil {
		return
	}

	data, err := json.Marshal(rec)
	if err != nil {
		j.logger.ErrorContext(ctx, "settlement_journal: marshal record",
			slog.String("order_id", rec.OrderID),
			slog.String("error", err.Error()),
		)
		return
	}

	if j.blob != nil {
		at := rec.SettledAt
		if at.IsZero() {
			at = j.now()
		}
		path := JournalPath(rec.OrderID, at)
		if err := j.blob.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
			j.logger.WarnContext(ctx, "settlement_journal: archive failed",
				slog.String("order_id", rec.OrderID),
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		} else {
			j.logger.DebugContext(ctx, "settlement_journal: archived",
				slog.String("order_id", rec.OrderID),
				slog.String("path", path),
			)
		}
	}

	if j.bus != nil {
		if err := j.bus.Publish(ctx, domain.ChannelSettlements, data); err != nil {
			j.logger.WarnContext(ctx, "settlement_journal: publish failed",
				slog.String("order_id", rec.OrderID),
				slog.String("error", err.Error()),
			)
		}
	}
}
