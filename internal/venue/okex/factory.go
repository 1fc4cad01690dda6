package okex

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"tradeconnect/internal/factory"
	"tradeconnect/internal/metrics"
	"tradeconnect/internal/transport"
	"tradeconnect/pkg/connector"
	"tradeconnect/pkg/registry"
)

// venueName is this package's registration key in factory.Registry.
const venueName = "okex"

// defaultRESTTimeout bounds every REST call this venue issues.
const defaultRESTTimeout = 10 * time.Second

// Factory constructs okex Price/Trade Connectors sharing one exchange
// dictionary and configuration, implementing factory.Factory so it can
// be registered by a composition root without that root importing this
// package's concrete types.
type Factory struct {
	reg     *registry.InstrumentRegistry
	dict    *registry.ExchangeDictionary
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewFactory constructs a Factory for the okex venue. cfg's dictionary
// must already be validated against reg (see ApplyDictionary). m may be
// nil, in which case no metrics are recorded.
func NewFactory(reg *registry.InstrumentRegistry, dict *registry.ExchangeDictionary, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Factory {
	return &Factory{reg: reg, dict: dict, cfg: cfg, logger: logger, metrics: m}
}

// Register loads the per-connector config at cfgPath, resolves its
// dictionary against reg, and registers the resulting Factory into freg
// under venueName. It is the single entry point a composition root needs
// to wire this venue into a shared, process-wide factory.Registry — the
// root never constructs a Factory or touches Config directly.
func Register(freg *factory.Registry, cfgPath string, reg *registry.InstrumentRegistry, logger *slog.Logger, m *metrics.Metrics) error {
	raw, err := os.ReadFile(cfgPath)
	if err != nil {
		return fmt.Errorf("okex: load connector config: %w", err)
	}
	cfg, err := ParseConfig(raw)
	if err != nil {
		return fmt.Errorf("okex: load connector config: %w", err)
	}

	dict := registry.NewExchangeDictionary()
	if err := ApplyDictionary(cfg, reg, dict); err != nil {
		return fmt.Errorf("okex: apply dictionary: %w", err)
	}

	freg.Register(NewFactory(reg, dict, cfg, logger, m))
	return nil
}

// Name implements factory.Factory.
func (f *Factory) Name() string { return venueName }

// CreatePriceConnector implements factory.Factory.
func (f *Factory) CreatePriceConnector(observer connector.StockDataObserver) factory.PriceConnector {
	stream := transport.NewWSStream(f.logger)
	if f.metrics != nil {
		stream.OnReconnect = func() { f.metrics.Reconnects.WithLabelValues(venueName).Inc() }
	}
	request := transport.NewRestyTransport(f.cfg.RESTURL, defaultRESTTimeout)
	pc := NewPriceConnector(observer, f.dict, stream, request, f.cfg.WSURL, f.logger)
	if f.metrics != nil {
		pc.SetMetrics(f.metrics, venueName)
	}
	return pc
}

// CreateTradeConnector implements factory.Factory.
func (f *Factory) CreateTradeConnector(observer connector.TradeExchangeObserver) factory.TradeConnector {
	stream := transport.NewWSStream(f.logger)
	if f.metrics != nil {
		stream.OnReconnect = func() { f.metrics.Reconnects.WithLabelValues(venueName).Inc() }
	}
	request := transport.NewRestyTransport(f.cfg.RESTURL, defaultRESTTimeout)
	request.SetRateLimit("order", 10, 5)
	request.SetRateLimit("cancel", 10, 5)
	tc := NewTradeConnector(observer, f.reg, f.dict, stream, request, f.cfg, f.logger)
	if f.metrics != nil {
		tc.SetMetrics(f.metrics, venueName)
		tc.Base.SetMetrics(f.metrics, venueName)
	}
	return tc
}
