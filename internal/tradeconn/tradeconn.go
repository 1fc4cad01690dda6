// Package tradeconn implements the shared machinery every Trade
// Connector embeds on top of a venue's own wire dialect:
// command-FIFO request/response correlation, IOC emulation, the
// canonical-string signing contract, per-send timeout tracking, and the
// limits-CSV bootstrap. Grounded on BaseTradeExchangeConnector's
// adapter-facing contract in the reference implementation.
package tradeconn

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"tradeconnect/internal/exchangebase"
	"tradeconnect/pkg/connector"
	"tradeconnect/pkg/fixedpoint"
	"tradeconnect/pkg/registry"
)

// Channel names the three logical command FIFOs the reference
// implementation correlates responses against.
type Channel string

const (
	ChannelPlaceOrder  Channel = "order_place"
	ChannelCancelOrder Channel = "order_cancel"
	ChannelOrderInfo   Channel = "order_info"
)

// DesyncLogger receives the channel and a message whenever a reply
// arrives against an empty FIFO — a desynchronisation that is logged and
// dropped without violating the order state machine. Replies are not
// checked against the order ID of the command they are paired with.
type DesyncLogger func(channel Channel, message string)

// CommandQueues correlates outbound commands with their out-of-band
// replies via one FIFO per channel, guarded by a single mutex (the spin
// lock in the reference's adapter is a latency optimisation that this
// lower-frequency command path doesn't need).
type CommandQueues struct {
	mu      sync.Mutex
	queues  map[Channel][]*connector.TradeOrder
	onDesync DesyncLogger
}

// NewCommandQueues constructs an empty set of FIFOs. onDesync may be
// nil, in which case desyncs are silently dropped.
func NewCommandQueues(onDesync DesyncLogger) *CommandQueues {
	return &CommandQueues{
		queues:   make(map[Channel][]*connector.TradeOrder),
		onDesync: onDesync,
	}
}

// Enqueue records order as the next expected reply on channel. Call this
// while still holding whatever lock serialises the write of the
// outbound command frame, so enqueue order matches wire order.
func (q *CommandQueues) Enqueue(channel Channel, order *connector.TradeOrder) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queues[channel] = append(q.queues[channel], order)
}

// Dequeue pops the oldest order expected on channel. An empty FIFO is a
// desynchronisation: it is reported via onDesync and Dequeue returns
// (nil, false) without altering any state machine.
func (q *CommandQueues) Dequeue(channel Channel) (*connector.TradeOrder, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending := q.queues[channel]
	if len(pending) == 0 {
		if q.onDesync != nil {
			q.onDesync(channel, fmt.Sprintf("tradeconn: request desync on channel %q", channel))
		}
		return nil, false
	}
	order := pending[0]
	q.queues[channel] = pending[1:]
	return order, true
}

// ExecIOC runs cancel against order (the emulated IOC follow-up issued
// right after a successful Placed reply) and folds the outcome into the
// order's status: cancel success advances to Cancelled, and the venue's
// "already filled" indication (reported by the caller via
// alreadyFilled) advances to Filled instead.
func ExecIOC(order *connector.TradeOrder, cancel func(*connector.TradeOrder) (alreadyFilled bool, err error)) (connector.OrderState, error) {
	alreadyFilled, err := cancel(order)
	if err != nil {
		return connector.StateUnknown, err
	}
	if alreadyFilled {
		return connector.StateFilled, nil
	}
	return connector.StateCancelled, nil
}

// IsIOC reports whether order should trigger IOC emulation once placed.
func IsIOC(order *connector.TradeOrder) bool {
	return order.ExecutionType == connector.IOC
}

// venueOrderStatus maps OKEx-style numeric status codes onto the
// internal state machine, per the reference adapter's statuses table.
var venueOrderStatus = map[int]connector.OrderState{
	-1: connector.StateCancelled,
	0:  connector.StatePlaced,
	1:  connector.StatePartialFilled,
	2:  connector.StateFilled,
	4:  connector.StatePartialCancelled,
}

// MapVenueStatus translates a venue status code, reporting ok=false for
// any code outside the known table so the caller can log and drop it.
func MapVenueStatus(code int) (connector.OrderState, bool) {
	s, ok := venueOrderStatus[code]
	return s, ok
}

// KV is one key/value pair in a signing payload. A slice rather than a
// map preserves the caller's insertion order, which the canonical string
// is built from.
type KV struct {
	Key   string
	Value string
}

// CanonicalString builds the "k=v&..." string the reference
// implementation signs: parameters in insertion order, joined with '&'.
func CanonicalString(params []KV) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = p.Key + "=" + p.Value
	}
	return strings.Join(parts, "&")
}

// Sign implements the connector's sign(payload, secret) -> hex_digest
// contract: MD5 of (canonical-string + "&secret_key=" + secret),
// uppercased. The secret itself is never part of the transmitted JSON,
// only of what's hashed.
func Sign(params []KV, secret string) string {
	payload := CanonicalString(params) + "&secret_key=" + secret
	sum := md5.Sum([]byte(payload))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// PendingSend is a one-shot response-timeout latch: each outbound send
// is tracked by timestamp, and a stale oldest-pending send fires
// onTimeout exactly once, re-arming only once the backlog drains to
// empty and a new send starts it again.
type PendingSend struct {
	mu      sync.Mutex
	sent    []time.Time
	fired   bool
	timeout time.Duration
}

// NewPendingSend constructs a latch that considers a send stale after
// timeout has elapsed without a matching Ack.
func NewPendingSend(timeout time.Duration) *PendingSend {
	return &PendingSend{timeout: timeout}
}

// Sent records that a command was just written to the wire.
func (p *PendingSend) Sent(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, now)
}

// Ack records that the oldest outstanding send was answered.
func (p *PendingSend) Ack() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sent) > 0 {
		p.sent = p.sent[1:]
	}
	if len(p.sent) == 0 {
		p.fired = false
	}
}

// Tick checks the oldest unacknowledged send against now and reports
// whether a response timeout should fire. It fires at most once per
// backlog: once fired, it stays quiet until Ack drains the backlog to
// empty and a fresh Sent restarts tracking.
func (p *PendingSend) Tick(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fired || len(p.sent) == 0 {
		return false
	}
	if now.Sub(p.sent[0]) > p.timeout {
		p.fired = true
		return true
	}
	return false
}

// ApplyLimitsCSV parses a CR-delimited limits response: header row
// skipped, then rows of (_, instrument, amount_min, amount_quantum,
// price_quantum) update per-instrument constraints on base. Rows whose
// instrument column doesn't resolve via dict are skipped.
func ApplyLimitsCSV(body string, dict *registry.ExchangeDictionary, base *exchangebase.Base) error {
	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Split(splitCR)

	header := true
	for scanner.Scan() {
		if header {
			header = false
			continue
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		cols := strings.Split(line, ",")
		if len(cols) < 5 {
			continue
		}

		instrument := dict.InstrumentFromExchange(cols[1])
		if instrument == nil {
			continue
		}

		amountMin, err := parseFixed(cols[2])
		if err != nil {
			return fmt.Errorf("tradeconn: limits row amount_min: %w", err)
		}
		amountQuantum, err := parseFixed(cols[3])
		if err != nil {
			return fmt.Errorf("tradeconn: limits row amount_quantum: %w", err)
		}
		priceQuantum, err := parseFixed(cols[4])
		if err != nil {
			return fmt.Errorf("tradeconn: limits row price_quantum: %w", err)
		}

		constraints := base.GetConstraints(instrument)
		constraints.AmountMin = amountMin
		constraints.AmountQuantum = amountQuantum
		constraints.PriceQuantum = priceQuantum
		base.AddConstraints(instrument, constraints)
	}
	return scanner.Err()
}

func splitCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\r' {
			return i + 1, data[:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func parseFixed(s string) (fixedpoint.FixedNumber, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fixedpoint.Zero, err
	}
	return fixedpoint.FromFloat(v, fixedpoint.DefaultAccuracy), nil
}
