package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/tradeledger/internal/config"
	"github.com/alanyoungcy/tradeledger/internal/notify"
	"github.com/alanyoungcy/tradeledger/internal/server"
	"github.com/alanyoungcy/tradeledger/internal/server/handler"
	"github.com/alanyoungcy/tradeledger/internal/server/ws"
	"github.com/alanyoungcy/tradeledger/internal/service"
)

// services are the domain services shared by every mode.
type services struct {
	ledger *service.PositionLedger
	settle *service.SettlementService
}

func (a *App) buildServices(deps *Dependencies) services {
	monitor := service.NewSettlementMonitor(deps.OrderAPI, service.MonitorConfig{
		PollInterval: a.cfg.Monitor.PollInterval.Duration,
		Timeout:      a.cfg.Monitor.Timeout.Duration,
	}, a.logger)

	ledger := service.NewPositionLedger(deps.LedgerStore, a.logger).
		WithLockManager(deps.LockManager, a.cfg.Ledger.LockTTL.Duration).
		WithEvents(deps.SignalBus, deps.AuditStore)

	journal := service.NewSettlementJournal(deps.BlobWriter, deps.SignalBus, a.logger)

	return services{
		ledger: ledger,
		settle: service.NewSettlementService(monitor, ledger, journal, a.logger),
	}
}

// ServerMode serves the HTTP API and the WebSocket event stream until ctx is
// cancelled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	svc := a.buildServices(deps)
	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		WriteTimeout: a.cfg.Server.WriteTimeout.Duration,
	}, server.Handlers{
		Health:      handler.NewHealthHandler(deps.Health, a.logger),
		Positions:   handler.NewPositionHandler(svc.ledger, a.logger),
		Settlements: handler.NewSettlementHandler(svc.settle, a.logger),
		Audit:       handler.NewAuditHandler(deps.AuditStore, a.logger),
	}, hub, a.logger)

	if n := newNotifier(a.cfg.Notify, a.logger); n.Enabled() {
		g.Go(func() error {
			return n.Relay(ctx, deps.SignalBus)
		})
	}

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return ctx.Err()
}

// newNotifier builds a sender for every chat channel with credentials.
func newNotifier(cfg config.NotifyConfig, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, cfg.Events, logger)
}

// settleLine is one line of settle mode output.
type settleLine struct {
	service.SettleResult
	Error string `json:"error,omitempty"`
}

// SettleMode settles the configured orders, prints one JSON line per order
// and exits. It fails when any order failed.
func (a *App) SettleMode(ctx context.Context, deps *Dependencies) error {
	if len(a.jobs) == 0 {
		return fmt.Errorf("app: settle mode needs at least one order id")
	}
	a.logger.InfoContext(ctx, "starting settle mode", slog.Int("orders", len(a.jobs)))

	svc := a.buildServices(deps)
	results := svc.settle.SettleMany(ctx, a.jobs, a.cfg.Monitor.Concurrency)

	enc := json.NewEncoder(a.out)
	failed := 0
	for _, r := range results {
		line := settleLine{SettleResult: r}
		if r.Err != nil {
			failed++
			line.Error = r.Err.Error()
			a.logger.ErrorContext(ctx, "settle: order failed",
				slog.String("order_id", r.Request.OrderID),
				slog.String("error", r.Err.Error()),
			)
		}
		if err := enc.Encode(line); err != nil {
			return fmt.Errorf("app: write result: %w", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("app: %d of %d orders failed", failed, len(results))
	}
	return nil
}
