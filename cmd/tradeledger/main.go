// Command tradeledger settles brokerage orders into a position ledger. In
// server mode it exposes the ledger over HTTP and WebSocket; in settle mode
// it settles the orders given on the command line and exits.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alanyoungcy/tradeledger/internal/app"
	"github.com/alanyoungcy/tradeledger/internal/config"
	"github.com/alanyoungcy/tradeledger/internal/service"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file (empty to skip)")
	mode := flag.String("mode", "", "override the configured mode: server or settle")
	orders := flag.String("orders", "", "settle mode: comma-separated order ids")
	action := flag.String("action", "none", "settle mode: open, close, close_fifo or none")
	positionID := flag.String("position", "", "settle mode: position id for action close")
	positionType := flag.String("position-type", "", "settle mode: LONG or SHORT override for action open")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("tradeledger starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
		slog.Any("settings", config.RedactedConfig(cfg)),
	)

	application := app.New(cfg, logger)
	if strings.EqualFold(cfg.Mode, "settle") {
		jobs, err := settleJobs(*orders, *action, *positionID, *positionType)
		if err != nil {
			logger.Error("invalid settle arguments", slog.String("error", err.Error()))
			os.Exit(2)
		}
		application.WithSettleJobs(jobs, os.Stdout)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err = application.Run(ctx)
	stop()
	application.Close()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
			return
		}
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger.Info("tradeledger stopped")
}

// settleJobs builds one request per order id, all sharing the same action.
func settleJobs(orders, action, positionID, positionType string) ([]service.SettleRequest, error) {
	act, err := service.ParseSettleAction(action)
	if err != nil {
		return nil, err
	}

	var jobs []service.SettleRequest
	for _, id := range strings.Split(orders, ",") {
		if id = strings.TrimSpace(id); id == "" {
			continue
		}
		jobs = append(jobs, service.SettleRequest{
			OrderID:      id,
			Action:       act,
			PositionID:   positionID,
			PositionType: positionType,
		})
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("-orders is required in settle mode")
	}
	if act == service.ActionClose && len(jobs) > 1 {
		return nil, fmt.Errorf("action %q takes a single order", act)
	}
	return jobs, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
