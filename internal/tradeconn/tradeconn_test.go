package tradeconn

import (
	"strings"
	"testing"
	"time"

	"tradeconnect/internal/exchangebase"
	"tradeconnect/pkg/connector"
	"tradeconnect/pkg/registry"
)

func TestCommandQueueFIFOOrder(t *testing.T) {
	t.Parallel()
	q := NewCommandQueues(nil)
	first := &connector.TradeOrder{}
	second := &connector.TradeOrder{}

	q.Enqueue(ChannelPlaceOrder, first)
	q.Enqueue(ChannelPlaceOrder, second)

	got, ok := q.Dequeue(ChannelPlaceOrder)
	if !ok || got != first {
		t.Fatalf("expected first order dequeued in FIFO order")
	}
	got, ok = q.Dequeue(ChannelPlaceOrder)
	if !ok || got != second {
		t.Fatalf("expected second order dequeued next")
	}
}

func TestDequeueOnEmptyChannelReportsDesync(t *testing.T) {
	t.Parallel()
	var messages []string
	q := NewCommandQueues(func(channel Channel, msg string) { messages = append(messages, msg) })

	if _, ok := q.Dequeue(ChannelCancelOrder); ok {
		t.Fatal("expected dequeue on empty channel to fail")
	}
	if len(messages) != 1 {
		t.Fatalf("expected one desync message, got %v", messages)
	}
}

func TestExecIOCAdvancesToFilledOnAlreadyFilled(t *testing.T) {
	t.Parallel()
	order := &connector.TradeOrder{ExecutionType: connector.IOC}
	state, err := ExecIOC(order, func(*connector.TradeOrder) (bool, error) { return true, nil })
	if err != nil || state != connector.StateFilled {
		t.Fatalf("state=%v err=%v, want Filled/nil", state, err)
	}
}

func TestExecIOCAdvancesToCancelledOnSuccess(t *testing.T) {
	t.Parallel()
	order := &connector.TradeOrder{ExecutionType: connector.IOC}
	state, err := ExecIOC(order, func(*connector.TradeOrder) (bool, error) { return false, nil })
	if err != nil || state != connector.StateCancelled {
		t.Fatalf("state=%v err=%v, want Cancelled/nil", state, err)
	}
}

func TestMapVenueStatusKnownAndUnknown(t *testing.T) {
	t.Parallel()
	if s, ok := MapVenueStatus(2); !ok || s != connector.StateFilled {
		t.Errorf("status 2 = %v, %v, want Filled, true", s, ok)
	}
	if _, ok := MapVenueStatus(999); ok {
		t.Error("expected unknown status code to report ok=false")
	}
}

func TestSignMatchesCanonicalMD5(t *testing.T) {
	t.Parallel()
	params := []KV{{"api_key", "abc"}, {"amount", "1.0"}, {"symbol", "btc_usdt"}}
	sig := Sign(params, "secret123")

	if len(sig) != 32 {
		t.Fatalf("signature length = %d, want 32 (hex md5)", len(sig))
	}
	if sig != strings.ToUpper(sig) {
		t.Errorf("signature must be uppercase hex: %s", sig)
	}
	// signing is deterministic
	if again := Sign(params, "secret123"); again != sig {
		t.Errorf("signing is not deterministic: %s != %s", sig, again)
	}
}

func TestPendingSendFiresOnceThenRearms(t *testing.T) {
	t.Parallel()
	p := NewPendingSend(10 * time.Millisecond)
	base := time.Now()

	p.Sent(base)
	if p.Tick(base) {
		t.Fatal("should not fire immediately")
	}
	late := base.Add(20 * time.Millisecond)
	if !p.Tick(late) {
		t.Fatal("expected timeout to fire once backlog is stale")
	}
	if p.Tick(late) {
		t.Fatal("should not fire a second time before Ack drains the backlog")
	}

	p.Ack()
	p.Sent(late)
	if p.Tick(late) {
		t.Fatal("freshly sent command should not be stale yet")
	}
}

func TestApplyLimitsCSVUpdatesConstraints(t *testing.T) {
	t.Parallel()
	dict := registry.NewExchangeDictionary()
	inst := &registry.Instrument{Base: &registry.Symbol{Code: "BTC"}, Quote: &registry.Symbol{Code: "USDT"}}
	dict.AddInstrumentTranslation("btc_usdt", inst)

	base := exchangebase.New(nil, nil)
	base.AddInstrument(inst)

	csv := "header,ignored,columns\r\n" +
		"1,btc_usdt,0.001,0.0001,0.01\r\n"

	if err := ApplyLimitsCSV(csv, dict, base); err != nil {
		t.Fatalf("ApplyLimitsCSV: %v", err)
	}

	constraints := base.GetConstraints(inst)
	if constraints.AmountMin.Float64() != 0.001 {
		t.Errorf("amount_min = %v, want 0.001", constraints.AmountMin.Float64())
	}
	if constraints.PriceQuantum.Float64() != 0.01 {
		t.Errorf("price_quantum = %v, want 0.01", constraints.PriceQuantum.Float64())
	}
}
