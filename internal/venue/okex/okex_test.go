package okex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"tradeconnect/internal/transport"
	"tradeconnect/pkg/connector"
	"tradeconnect/pkg/fixedpoint"
	"tradeconnect/pkg/registry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// fakeStream is an in-memory transport.StreamTransport: Send/SendRaw
// record every outbound frame, and tests drive onMessage by calling
// deliver directly rather than running Run's reconnect loop.
type fakeStream struct {
	mu   sync.Mutex
	sent []any
}

func (f *fakeStream) Run(ctx context.Context, url string, onConnect func(transport.Sender) error, onMessage func([]byte)) error {
	if onConnect != nil {
		if err := onConnect(f); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}
func (f *fakeStream) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, v)
	return nil
}
func (f *fakeStream) SendRaw(data []byte) error { return f.Send(string(data)) }
func (f *fakeStream) Close() error              { return nil }

func (f *fakeStream) last() any {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeStream) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeRequest answers every Get/Post/Delete from a canned response body,
// routing it through result's JSON unmarshaling the same way resty does.
type fakeRequest struct {
	responses map[string][]byte
	err       error
}

func (f *fakeRequest) respond(path string, result any) error {
	if f.err != nil {
		return f.err
	}
	body, ok := f.responses[path]
	if !ok {
		return fmt.Errorf("fakeRequest: no response configured for %s", path)
	}
	return json.Unmarshal(body, result)
}

func (f *fakeRequest) Get(ctx context.Context, category, path string, query, headers map[string]string, result any) error {
	return f.respond(path, result)
}
func (f *fakeRequest) Post(ctx context.Context, category, path string, headers map[string]string, body, result any) error {
	return f.respond(path, result)
}
func (f *fakeRequest) Delete(ctx context.Context, category, path string, headers map[string]string, body, result any) error {
	return f.respond(path, result)
}

func testDictAndInstrument() (*registry.ExchangeDictionary, *registry.Instrument) {
	dict := registry.NewExchangeDictionary()
	inst := &registry.Instrument{Base: &registry.Symbol{Code: "BTC"}, Quote: &registry.Symbol{Code: "USDT"}}
	dict.AddInstrumentTranslation("btc_usdt", inst)
	return dict, inst
}

// sharedTestRegistry is constructed exactly once: InstrumentRegistry
// enforces a process-wide single-construction invariant, so every test
// in this binary that needs one shares it instead of constructing its
// own.
var sharedTestRegistry = registry.NewInstrumentRegistry()

func TestApplyDictionaryResolvesPairsAndSymbols(t *testing.T) {
	reg := sharedTestRegistry
	btc := reg.AddSymbol("BTC", "Bitcoin")
	usdt := reg.AddSymbol("USDT", "Tether")
	reg.AddInstrument(btc, usdt)

	raw := []byte(`{"dictionary": {"btc_usdt": ["BTC", "USDT"], "usdt": "USDT"}}`)
	cfg, err := ParseConfig(raw)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}

	dict := registry.NewExchangeDictionary()
	if err := ApplyDictionary(cfg, reg, dict); err != nil {
		t.Fatalf("ApplyDictionary: %v", err)
	}

	if got := dict.InstrumentFromExchange("btc_usdt"); got == nil {
		t.Fatal("expected btc_usdt to resolve to the interned instrument")
	}
	if got := dict.SymbolFromExchange("usdt"); got != usdt {
		t.Fatalf("SymbolFromExchange(usdt) = %v, want %v", got, usdt)
	}
}

func TestApplyDictionaryRejectsUnknownInstrument(t *testing.T) {
	reg := sharedTestRegistry

	raw := []byte(`{"dictionary": {"eth_usdt": ["ETH", "USDT"]}}`)
	cfg, err := ParseConfig(raw)
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}

	dict := registry.NewExchangeDictionary()
	if err := ApplyDictionary(cfg, reg, dict); err == nil {
		t.Fatal("expected an error for an instrument never interned in the registry")
	}
}

type recordingStockObserver struct {
	mu      sync.Mutex
	entries []connector.OrderBookEntry
	bulks   int
}

func (o *recordingStockObserver) InvalidateData(registry.InstrumentHandle) {}
func (o *recordingStockObserver) OrderbookEntryAdded(connector.OrderBookEntry) {}
func (o *recordingStockObserver) OrderbookEntriesBulk(entries []connector.OrderBookEntry, _ time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, entries...)
	o.bulks++
}
func (o *recordingStockObserver) CandleStickEntryAdded(connector.CandlestickEntry) {}
func (o *recordingStockObserver) SymbolAdded(registry.SymbolHandle)                {}
func (o *recordingStockObserver) InstrumentAdded(registry.InstrumentHandle)        {}
func (o *recordingStockObserver) DataConnectorError(error)                        {}

func TestPriceConnectorOnMessageAppliesDepth(t *testing.T) {
	t.Parallel()
	dict, _ := testDictAndInstrument()
	obs := &recordingStockObserver{}
	p := NewPriceConnector(obs, dict, &fakeStream{}, &fakeRequest{}, "wss://example.invalid", discardLogger())

	msg := []byte(`[{"channel":"ok_sub_spot_btc_usdt_depth","data":{"asks":[["101.0","2.0"]],"bids":[["99.0","3.0"]]}}]`)
	p.onMessage(msg)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.bulks != 1 || len(obs.entries) != 2 {
		t.Fatalf("expected one bulk update with 2 entries, got bulks=%d entries=%d", obs.bulks, len(obs.entries))
	}
}

func TestPriceConnectorOnMessageIgnoresUnmappedInstrument(t *testing.T) {
	t.Parallel()
	dict := registry.NewExchangeDictionary()
	obs := &recordingStockObserver{}
	p := NewPriceConnector(obs, dict, &fakeStream{}, &fakeRequest{}, "wss://example.invalid", discardLogger())

	msg := []byte(`[{"channel":"ok_sub_spot_eth_usdt_depth","data":{"asks":[["101.0","2.0"]]}}]`)
	p.onMessage(msg)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.bulks != 0 {
		t.Fatalf("expected no bulk update for an unmapped instrument, got %d", obs.bulks)
	}
}

type recordingTradeObserver struct {
	mu       sync.Mutex
	statuses []connector.OrderState
	balances map[registry.SymbolHandle]fixedpoint.FixedNumber
}

func (o *recordingTradeObserver) OrderStatusChanged(order *connector.TradeOrder, old connector.OrderStatus, tag connector.ProfilingTag) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, order.Status.State)
}
func (o *recordingTradeObserver) BalanceReceived(symbol registry.SymbolHandle, value fixedpoint.FixedNumber, tag connector.ProfilingTag) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.balances == nil {
		o.balances = make(map[registry.SymbolHandle]fixedpoint.FixedNumber)
	}
	o.balances[symbol] = value
}
func (o *recordingTradeObserver) TradingConnectorError(error) {}

func newTestTradeConnector(t *testing.T) (*TradeConnector, *recordingTradeObserver, *fakeStream, *registry.Instrument) {
	t.Helper()
	dict, inst := testDictAndInstrument()
	obs := &recordingTradeObserver{}
	stream := &fakeStream{}
	cfg := Config{APIKey: "key123", Secret: "secret123", WSURL: "wss://example.invalid"}
	tc := NewTradeConnector(obs, nil, dict, stream, &fakeRequest{}, cfg, discardLogger())
	return tc, obs, stream, inst
}

func TestPlaceOrderSignsAndSendsParameters(t *testing.T) {
	t.Parallel()
	tc, _, stream, inst := newTestTradeConnector(t)

	order := &connector.TradeOrder{Instrument: inst, Direction: connector.Bid, ExecutionType: connector.Limit}
	if !tc.PlaceOrder(order) {
		t.Fatal("PlaceOrder should succeed for a mapped instrument")
	}
	if stream.count() != 1 {
		t.Fatalf("expected exactly one frame sent, got %d", stream.count())
	}

	frame, ok := stream.last().(map[string]any)
	if !ok || frame["channel"] != "ok_spot_order" {
		t.Fatalf("unexpected frame: %#v", stream.last())
	}
	params, ok := frame["parameters"].(map[string]string)
	if !ok || params["sign"] == "" {
		t.Fatalf("order frame carries no sign parameter: %#v", frame["parameters"])
	}
}

func TestPlaceOrderFailsForUnmappedInstrument(t *testing.T) {
	t.Parallel()
	tc, _, _, _ := newTestTradeConnector(t)
	unmapped := &registry.Instrument{Base: &registry.Symbol{Code: "ETH"}, Quote: &registry.Symbol{Code: "USDT"}}

	order := &connector.TradeOrder{Instrument: unmapped, Direction: connector.Bid}
	if tc.PlaceOrder(order) {
		t.Fatal("PlaceOrder should fail for an instrument the dictionary doesn't know")
	}
}

func TestOrderPlacedResponseAdvancesToPlaced(t *testing.T) {
	t.Parallel()
	tc, obs, _, inst := newTestTradeConnector(t)

	order := &connector.TradeOrder{Instrument: inst, Direction: connector.Bid, ExecutionType: connector.Limit}
	tc.PlaceOrder(order)

	msg := []byte(`[{"channel":"ok_spot_order","data":{"order_id":"42"}}]`)
	tc.onMessage(msg)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.statuses) != 1 || obs.statuses[0] != connector.StatePlaced {
		t.Fatalf("statuses = %v, want [Placed]", obs.statuses)
	}
	if order.Status.OrderID != "42" {
		t.Fatalf("order id = %q, want 42", order.Status.OrderID)
	}
}

func TestIOCOrderTriggersCancelAfterPlaced(t *testing.T) {
	t.Parallel()
	tc, _, stream, inst := newTestTradeConnector(t)

	order := &connector.TradeOrder{Instrument: inst, Direction: connector.Bid, ExecutionType: connector.IOC}
	tc.PlaceOrder(order)

	msg := []byte(`[{"channel":"ok_spot_order","data":{"order_id":"42"}}]`)
	tc.onMessage(msg)

	if stream.count() != 2 {
		t.Fatalf("expected place + emulated cancel frames, got %d sends", stream.count())
	}
	frame, ok := stream.last().(map[string]any)
	if !ok || frame["channel"] != "ok_spot_cancel_order" {
		t.Fatalf("expected the second frame to be the emulated cancel, got %#v", stream.last())
	}
}

func TestCancelResponseAlreadyFilledAdvancesToFilled(t *testing.T) {
	t.Parallel()
	tc, obs, _, inst := newTestTradeConnector(t)

	order := &connector.TradeOrder{Instrument: inst, Direction: connector.Bid, Status: connector.OrderStatus{OrderID: "42"}}
	tc.CancelOrder(order)

	msg := []byte(`[{"channel":"ok_spot_cancel_order","data":{"error_code":1050}}]`)
	tc.onMessage(msg)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.statuses) != 1 || obs.statuses[0] != connector.StateFilled {
		t.Fatalf("statuses = %v, want [Filled]", obs.statuses)
	}
}

func TestOrderInfoResponseMapsVenueStatus(t *testing.T) {
	t.Parallel()
	tc, obs, _, inst := newTestTradeConnector(t)

	order := &connector.TradeOrder{Instrument: inst, Status: connector.OrderStatus{OrderID: "42"}}
	tc.GetOrderStatus(order)

	msg := []byte(`[{"channel":"ok_spot_orderinfo","data":{"status":2}}]`)
	tc.onMessage(msg)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.statuses) != 1 || obs.statuses[0] != connector.StateFilled {
		t.Fatalf("statuses = %v, want [Filled]", obs.statuses)
	}
}
