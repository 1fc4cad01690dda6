// Command connectord is the market-data/trade-execution connector
// framework's composition root.
//
// Architecture:
//
//	main.go                 — entry point: loads config, wires venues, waits for SIGINT/SIGTERM
//	internal/runtime         — orchestrator: owns connector lifecycles, mixed order books, dashboard feed
//	internal/venue/okex      — one concrete venue adapter (Price + Trade Connector + Factory)
//	internal/factory         — venue name -> Factory{CreatePriceConnector, CreateTradeConnector} registry
//	internal/dashboard       — read-only operator HTTP/WebSocket server
//	internal/metrics         — Prometheus counters/gauges, exposed over its own listener
//
// connectord does not execute trading strategies. It ingests market data,
// dispatches trade commands issued elsewhere, and exposes what it observes
// through the dashboard and metrics endpoints; all trading decisions are a
// strategy layer's responsibility, out of scope here.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradeconnect/internal/config"
	"tradeconnect/internal/dashboard"
	"tradeconnect/internal/factory"
	"tradeconnect/internal/metrics"
	"tradeconnect/internal/runtime"
	"tradeconnect/internal/venue/okex"
	"tradeconnect/pkg/connector"
	"tradeconnect/pkg/registry"
)

// venueRegistrars maps a venue name to the function that loads its
// per-connector config and registers its Factory into the shared
// factory.Registry. Adding a venue means adding one entry here, never
// touching how the registry is constructed or driven below.
var venueRegistrars = map[string]func(freg *factory.Registry, cfgPath string, reg *registry.InstrumentRegistry, logger *slog.Logger, m *metrics.Metrics) error{
	"okex": okex.Register,
}

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("CONNECTORD_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	reg := registry.NewInstrumentRegistry()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(prometheus.DefaultRegisterer)
		metricsServer := &http.Server{Addr: cfg.Metrics.ListenAddress, Handler: promhttp.Handler()}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics server started", "addr", cfg.Metrics.ListenAddress)
	}

	eng := runtime.New(reg, logger)

	// freg is the single, process-wide factory registry: every venue this
	// process runs registers into it exactly once, so a duplicate name is
	// caught by Register's own panic and Factories() enumerates the whole
	// running set, not a registry rebuilt and discarded per venue.
	freg := factory.New()
	for _, vc := range cfg.Venues {
		registerVenue, ok := venueRegistrars[vc.Name]
		if !ok {
			logger.Error("unknown venue", "venue", vc.Name)
			os.Exit(1)
		}
		if err := registerVenue(freg, vc.ConfigFile, reg, logger.With("venue", vc.Name), m); err != nil {
			logger.Error("failed to register venue", "venue", vc.Name, "error", err)
			os.Exit(1)
		}
	}

	for _, vc := range cfg.Venues {
		if err := wireVenue(eng, freg, vc); err != nil {
			logger.Error("failed to wire venue", "venue", vc.Name, "error", err)
			os.Exit(1)
		}
	}

	var dashServer *dashboard.Server
	if cfg.Dashboard.Enabled {
		dashServer = dashboard.NewServer(cfg.Dashboard, eng, logger)
		go func() {
			if err := dashServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "addr", cfg.Dashboard.ListenAddress)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start one or more venues", "error", err)
	}

	logger.Info("connectord started", "venues", len(cfg.Venues))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if dashServer != nil {
		if err := dashServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}

	eng.Stop()
	logger.Info("shutdown complete")
}

// wireVenue looks vc up in the shared factory.Registry (already populated
// by the venueRegistrars pass above), constructs its Price/Trade
// Connector pair against the runtime's observers, and registers the pair
// with eng. It never imports a venue package directly — every venue looks
// identical to it once registered.
func wireVenue(eng *runtime.Engine, freg *factory.Registry, vc config.VenueConfig) error {
	pc := freg.CreatePriceConnector(vc.Name, eng.PriceObserver(vc.Name))
	tc := freg.CreateTradeConnector(vc.Name, eng.TradeObserver(vc.Name))

	reserve, ok := tc.(connector.ReservationSource)
	if !ok {
		return fmt.Errorf("%s: trade connector does not implement reservation accounting", vc.Name)
	}

	eng.AddVenue(vc.Name, pc, tc, reserve, tc.GetTakerFee())
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
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
