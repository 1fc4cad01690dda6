package exchangebase

import (
	"testing"

	"tradeconnect/pkg/connector"
	"tradeconnect/pkg/fixedpoint"
	"tradeconnect/pkg/registry"
)

type nullObserver struct {
	statuses  []connector.OrderStatus
	balances  []fixedpoint.FixedNumber
	errors    []error
}

func (o *nullObserver) OrderStatusChanged(order *connector.TradeOrder, old connector.OrderStatus, tag connector.ProfilingTag) {
	o.statuses = append(o.statuses, old)
}
func (o *nullObserver) BalanceReceived(symbol registry.SymbolHandle, value fixedpoint.FixedNumber, tag connector.ProfilingTag) {
	o.balances = append(o.balances, value)
}
func (o *nullObserver) TradingConnectorError(err error) { o.errors = append(o.errors, err) }

func newTestSymbol() registry.SymbolHandle {
	return &registry.Symbol{Code: "BTC", Name: "Bitcoin"}
}

func TestReservationScenario(t *testing.T) {
	t.Parallel()
	b := New(&nullObserver{}, nil)
	sym := newTestSymbol()
	b.AddSymbol(sym)
	b.UpdateBalance(sym, fixedpoint.FromFloat(1.0, 8), connector.NewProfilingTag())

	if !b.ReserveBalance(sym, 0.4) {
		t.Fatal("reserve 0.4 should succeed on balance 1.0")
	}
	if !b.ReserveBalance(sym, 0.5) {
		t.Fatal("reserve 0.5 should succeed, bringing total reserved to 0.9")
	}
	if b.ReserveBalance(sym, 0.2) {
		t.Fatal("reserve 0.2 should fail: only 0.1 available")
	}
	if !b.UnreserveBalance(sym, 0.4) {
		t.Fatal("unreserve 0.4 should always succeed")
	}
	if got := b.GetBalance(sym); got != 0.5 {
		t.Fatalf("available-reserved = %v, want 0.5", got)
	}
}

func TestReservationNeverNegative(t *testing.T) {
	t.Parallel()
	b := New(&nullObserver{}, nil)
	sym := newTestSymbol()
	b.AddSymbol(sym)
	b.UpdateBalance(sym, fixedpoint.FromFloat(1.0, 8), connector.NewProfilingTag())

	for i := 0; i < 20; i++ {
		b.ReserveBalance(sym, 0.3)
		if got := b.GetBalance(sym); got < 0 {
			t.Fatalf("available-reserved went negative: %v", got)
		}
	}
}

func TestReserveUnreserveRoundTrip(t *testing.T) {
	t.Parallel()
	b := New(&nullObserver{}, nil)
	sym := newTestSymbol()
	b.AddSymbol(sym)
	b.UpdateBalance(sym, fixedpoint.FromFloat(10.0, 8), connector.NewProfilingTag())

	for i := 0; i < 5; i++ {
		if !b.ReserveBalance(sym, 1.5) {
			t.Fatalf("reserve %d should succeed", i)
		}
	}
	for i := 0; i < 5; i++ {
		if !b.UnreserveBalance(sym, 1.5) {
			t.Fatalf("unreserve %d should succeed", i)
		}
	}
	if got := b.GetBalance(sym); got != 10.0 {
		t.Fatalf("balance after equal reserve/unreserve cycles = %v, want 10.0", got)
	}
}

func TestReserveItemAskSide(t *testing.T) {
	t.Parallel()
	b := New(&nullObserver{}, nil)
	base := &registry.Symbol{Code: "BTC"}
	quote := &registry.Symbol{Code: "USDT"}
	inst := &registry.Instrument{Base: base, Quote: quote}
	b.AddInstrument(inst)

	price := fixedpoint.Parse("100.0")
	displayed := fixedpoint.Parse("2.0")

	if !b.ReserveItem(inst, connector.Ask, price, displayed, fixedpoint.Parse("1.0")) {
		t.Fatal("reserving 1.0 of a displayed 2.0 ask should succeed")
	}
	if b.ReserveItem(inst, connector.Ask, price, displayed, fixedpoint.Parse("1.5")) {
		t.Fatal("reserving past the displayed amount should fail")
	}
	if got := b.GetItemReserve(inst, connector.Ask, price); got != 1.0 {
		t.Fatalf("reserved = %v, want 1.0", got)
	}
	b.UnreserveItem(inst, connector.Ask, price, fixedpoint.Parse("1.0"))
	if got := b.GetItemReserve(inst, connector.Ask, price); got != 0 {
		t.Fatalf("reserved after full unreserve = %v, want 0 (evicted)", got)
	}
}

func TestReserveItemBidSideNegativeAmounts(t *testing.T) {
	t.Parallel()
	b := New(&nullObserver{}, nil)
	base := &registry.Symbol{Code: "BTC"}
	quote := &registry.Symbol{Code: "USDT"}
	inst := &registry.Instrument{Base: base, Quote: quote}
	b.AddInstrument(inst)

	price := fixedpoint.Parse("99.0")
	displayed := fixedpoint.Parse("-3.0")

	if !b.ReserveItem(inst, connector.Bid, price, displayed, fixedpoint.Parse("-2.0")) {
		t.Fatal("reserving -2.0 against a displayed -3.0 bid should succeed")
	}
	if b.ReserveItem(inst, connector.Bid, price, displayed, fixedpoint.Parse("-2.0")) {
		t.Fatal("reserving past -3.0 total should fail")
	}
}
