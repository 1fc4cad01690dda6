package factory

import (
	"context"
	"testing"

	"tradeconnect/pkg/connector"
	"tradeconnect/pkg/registry"
)

type stubConn struct{}

func (stubConn) Start() error { return nil }
func (stubConn) Stop()        {}
func (stubConn) Config(raw []byte, reg *registry.InstrumentRegistry) error { return nil }
func (stubConn) Subscribe(handles []registry.InstrumentHandle)            {}
func (stubConn) FetchStack(ctx context.Context, instrument registry.InstrumentHandle) error {
	return nil
}
func (stubConn) FetchCandleSticks(ctx context.Context, instrument registry.InstrumentHandle, intervalSeconds int64, since int64) error {
	return nil
}
func (stubConn) FetchSymbols(reg *registry.InstrumentRegistry)     {}
func (stubConn) FetchInstruments(reg *registry.InstrumentRegistry) {}
func (stubConn) PlaceOrder(order *connector.TradeOrder) bool       { return true }
func (stubConn) CancelOrder(order *connector.TradeOrder) bool      { return true }
func (stubConn) GetOrderStatus(order *connector.TradeOrder) bool   { return true }
func (stubConn) GetOrdersList() bool                               { return true }
func (stubConn) GetBalance() bool                                  { return true }
func (stubConn) GetTakerFee() float64                               { return 0 }

type stubFactory struct{ name string }

func (f stubFactory) Name() string { return f.name }
func (f stubFactory) CreatePriceConnector(connector.StockDataObserver) PriceConnector {
	return stubConn{}
}
func (f stubFactory) CreateTradeConnector(connector.TradeExchangeObserver) TradeConnector {
	return stubConn{}
}

func TestRegisterAndCreate(t *testing.T) {
	t.Parallel()
	r := New()
	r.Register(stubFactory{name: "okex"})

	if r.CreatePriceConnector("okex", nil) == nil {
		t.Fatal("expected a price connector for a registered venue")
	}
	if r.CreateTradeConnector("okex", nil) == nil {
		t.Fatal("expected a trade connector for a registered venue")
	}
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate venue registration")
		}
	}()
	r := New()
	r.Register(stubFactory{name: "okex"})
	r.Register(stubFactory{name: "okex"})
}

func TestUnknownVenueLookupPanics(t *testing.T) {
	t.Parallel()
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on unknown venue lookup")
		}
	}()
	r := New()
	r.CreatePriceConnector("does-not-exist", nil)
}

func TestFactoriesSortedByName(t *testing.T) {
	t.Parallel()
	r := New()
	r.Register(stubFactory{name: "zebra"})
	r.Register(stubFactory{name: "alpha"})

	names := r.Factories()
	if len(names) != 2 || names[0].Name() != "alpha" || names[1].Name() != "zebra" {
		t.Fatalf("factories not sorted: %+v", names)
	}
}
