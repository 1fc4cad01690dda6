package okex

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/valyala/fastjson"

	"tradeconnect/internal/commandqueue"
	"tradeconnect/internal/exchangebase"
	"tradeconnect/internal/metrics"
	"tradeconnect/internal/tradeconn"
	"tradeconnect/internal/transport"
	"tradeconnect/pkg/connector"
	"tradeconnect/pkg/fixedpoint"
	"tradeconnect/pkg/registry"
)

// alreadyFilledErrorCode is the venue's error_code for "tried to cancel
// an order that already filled or was already cancelled", per
// TradeAdapter::onOrderCancelledResponse.
const alreadyFilledErrorCode = 1050

// orderResponseTimeout is how long a place command waits for its reply
// before PendingSend reports a response timeout. Cancel and order-info
// commands are not tracked by PendingSend.
const orderResponseTimeout = 2 * time.Second

// TradeConnector is the OKEx-shaped Trade Connector: it multiplexes one
// authenticated WebSocket connection across place/cancel/info command
// FIFOs, emulates IOC via place-then-cancel, and bootstraps trading
// limits from a CSV REST response. Grounded on TradeAdapter in the
// reference implementation.
type TradeConnector struct {
	*exchangebase.Base

	stream    transport.StreamTransport
	request   transport.RequestTransport
	dict      *registry.ExchangeDictionary
	wsURL     string
	apiKey    string
	secret    string
	limitsURL string
	logger    *slog.Logger

	queues  *tradeconn.CommandQueues
	pending *tradeconn.PendingSend

	metricsMu sync.RWMutex
	metrics   *metrics.Metrics
	venue     string

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
}

// SetMetrics attaches a metrics bundle the connector reports command
// desyncs, response timeouts, and order-state transitions through,
// labelled with venue.
func (t *TradeConnector) SetMetrics(m *metrics.Metrics, venue string) {
	t.metricsMu.Lock()
	defer t.metricsMu.Unlock()
	t.metrics = m
	t.venue = venue
}

func (t *TradeConnector) metricsSnapshot() (*metrics.Metrics, string) {
	t.metricsMu.RLock()
	defer t.metricsMu.RUnlock()
	return t.metrics, t.venue
}

// NewTradeConnector constructs a TradeConnector reporting to observer.
func NewTradeConnector(observer connector.TradeExchangeObserver, reg *registry.InstrumentRegistry, dict *registry.ExchangeDictionary, stream transport.StreamTransport, request transport.RequestTransport, cfg Config, logger *slog.Logger) *TradeConnector {
	t := &TradeConnector{
		Base:      exchangebase.New(observer, reg),
		stream:    stream,
		request:   request,
		dict:      dict,
		wsURL:     cfg.WSURL,
		apiKey:    cfg.APIKey,
		secret:    cfg.Secret,
		limitsURL: cfg.LimitsURL,
		logger:    logger,
		pending:   tradeconn.NewPendingSend(orderResponseTimeout),
	}
	t.queues = tradeconn.NewCommandQueues(func(channel tradeconn.Channel, msg string) {
		t.logger.Warn(msg)
		if m, venue := t.metricsSnapshot(); m != nil {
			m.CommandDesyncs.WithLabelValues(venue, string(channel)).Inc()
		}
	})
	t.applyFeeOverrides(cfg)
	return t
}

// updateStatus forwards to the embedded exchangebase.Base's
// UpdateOrderStatus and, if a metrics bundle is attached, records the
// resulting state as an order_state_transitions_total sample.
func (t *TradeConnector) updateStatus(order *connector.TradeOrder, status connector.OrderStatus, tag connector.ProfilingTag) {
	t.Base.UpdateOrderStatus(order, status, tag)
	if m, venue := t.metricsSnapshot(); m != nil {
		m.OrderStateTransitions.WithLabelValues(venue, status.State.String()).Inc()
	}
}

// setConnectorError records a connector_errors_total observation, if
// metrics are attached, before forwarding err to the observer.
func (t *TradeConnector) setConnectorError(err error) {
	if m, venue := t.metricsSnapshot(); m != nil {
		m.ConnectorErrors.WithLabelValues(venue, "trade").Inc()
	}
	t.SetConnectorError(err)
}

// Config applies a per-connector JSON configuration block: dictionary
// translations, limits URL, and credentials, matching
// TradeAdapter::config.
func (t *TradeConnector) Config(raw []byte, reg *registry.InstrumentRegistry) error {
	cfg, err := ParseConfig(raw)
	if err != nil {
		return err
	}
	if err := ApplyDictionary(cfg, reg, t.dict); err != nil {
		return err
	}

	t.mu.Lock()
	if cfg.LimitsURL != "" {
		t.limitsURL = cfg.LimitsURL
	}
	if cfg.APIKey != "" {
		t.apiKey = cfg.APIKey
	}
	if cfg.Secret != "" {
		t.secret = cfg.Secret
	}
	t.mu.Unlock()

	t.applyFeeOverrides(cfg)
	return nil
}

// applyFeeOverrides installs any maker-fee/taker-fee overrides from cfg
// onto the embedded exchangebase.Base.
func (t *TradeConnector) applyFeeOverrides(cfg Config) {
	if cfg.MakerFee != nil {
		t.SetMakerFee(*cfg.MakerFee)
	}
	if cfg.TakerFee != nil {
		t.SetTakerFee(*cfg.TakerFee)
	}
}

// Start fetches trading limits, then dials the authenticated stream,
// mirroring TradeAdapter::start(): fetchLimits() before WSTradeConnector
// ::start().
func (t *TradeConnector) Start() error {
	if err := t.fetchLimits(context.Background()); err != nil {
		t.setConnectorError(fmt.Errorf("okex: fetch limits: %w", err))
	}

	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.started = true
	t.mu.Unlock()

	go func() {
		err := t.stream.Run(ctx, t.wsURL, t.onConnect, t.onMessage)
		if err != nil && ctx.Err() == nil {
			t.setConnectorError(fmt.Errorf("okex: trade stream terminated: %w", err))
		}
	}()
	go t.runResponseTimeoutTicks(ctx)
	return nil
}

// runResponseTimeoutTicks polls the send-timestamp latch every tick,
// the Go equivalent of the reference adapter checking its oldest
// unacknowledged send on every service tick.
func (t *TradeConnector) runResponseTimeoutTicks(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if t.pending.Tick(now) {
				if m, venue := t.metricsSnapshot(); m != nil {
					m.ResponseTimeouts.WithLabelValues(venue).Inc()
				}
				t.setConnectorError(fmt.Errorf("okex: response timeout"))
			}
		}
	}
}

// Stop tears down the trading stream.
func (t *TradeConnector) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return
	}
	t.started = false
	if t.cancel != nil {
		t.cancel()
	}
	t.stream.Close()
}

func (t *TradeConnector) onConnect(sender transport.Sender) error {
	return sender.Send(map[string]string{
		"event":   "login",
		"api_key": t.apiKey,
	})
}

func (t *TradeConnector) fetchLimits(ctx context.Context) error {
	if t.limitsURL == "" {
		return nil
	}
	var body rawText
	if err := t.request.Get(ctx, "limits", t.limitsURL, nil, nil, &body); err != nil {
		return err
	}
	return tradeconn.ApplyLimitsCSV(string(body), t.dict, t.Base)
}

// rawText captures a non-JSON REST body (the limits CSV) through the
// result-unmarshal path RequestTransport otherwise reserves for JSON.
type rawText string

func (r *rawText) UnmarshalJSON(data []byte) error {
	*r = rawText(data)
	return nil
}

// PlaceOrder enqueues order on the place FIFO and writes the place
// command, mirroring TradeAdapter::placeOrder.
func (t *TradeConnector) PlaceOrder(order *connector.TradeOrder) bool {
	exch, ok := t.dict.InstrumentToExchange(order.Instrument)
	if !ok {
		return false
	}

	orderType := orderTypeFor(order)
	params := []tradeconn.KV{
		{Key: "api_key", Value: t.apiKey},
		{Key: "symbol", Value: exch},
		{Key: "type", Value: orderType},
		{Key: "price", Value: order.Price.String()},
		{Key: "amount", Value: order.Amount.String()},
	}
	sign := tradeconn.Sign(params, t.secret)

	t.queues.Enqueue(tradeconn.ChannelPlaceOrder, order)
	t.pending.Sent(time.Now())
	return t.sendCommand(tradeconn.ChannelPlaceOrder, map[string]any{
		"event":   "addChannel",
		"channel": "ok_spot_order",
		"parameters": map[string]string{
			"api_key": t.apiKey,
			"symbol":  exch,
			"type":    orderType,
			"price":   order.Price.String(),
			"amount":  order.Amount.String(),
			"sign":    sign,
		},
	})
}

func orderTypeFor(order *connector.TradeOrder) string {
	market := order.ExecutionType == connector.Market
	if order.Direction == connector.Bid {
		if market {
			return "buy_market"
		}
		return "buy"
	}
	if market {
		return "sell_market"
	}
	return "sell"
}

// CancelOrder enqueues order on the cancel FIFO and writes the cancel
// command, mirroring TradeAdapter::cancelOrder.
func (t *TradeConnector) CancelOrder(order *connector.TradeOrder) bool {
	exch, ok := t.dict.InstrumentToExchange(order.Instrument)
	if !ok || order.Status.OrderID == "" {
		return false
	}

	params := []tradeconn.KV{
		{Key: "api_key", Value: t.apiKey},
		{Key: "symbol", Value: exch},
		{Key: "order_id", Value: order.Status.OrderID},
	}
	sign := tradeconn.Sign(params, t.secret)

	t.queues.Enqueue(tradeconn.ChannelCancelOrder, order)
	return t.sendCommand(tradeconn.ChannelCancelOrder, map[string]any{
		"event":   "addChannel",
		"channel": "ok_spot_cancel_order",
		"parameters": map[string]string{
			"api_key":  t.apiKey,
			"symbol":   exch,
			"order_id": order.Status.OrderID,
			"sign":     sign,
		},
	})
}

// GetOrderStatus enqueues order on the info FIFO and requests its
// current status, mirroring TradeAdapter::getOrderStatus.
func (t *TradeConnector) GetOrderStatus(order *connector.TradeOrder) bool {
	exch, ok := t.dict.InstrumentToExchange(order.Instrument)
	if !ok || order.Status.OrderID == "" {
		return false
	}

	params := []tradeconn.KV{
		{Key: "api_key", Value: t.apiKey},
		{Key: "symbol", Value: exch},
		{Key: "order_id", Value: order.Status.OrderID},
	}
	sign := tradeconn.Sign(params, t.secret)

	t.queues.Enqueue(tradeconn.ChannelOrderInfo, order)
	return t.sendCommand(tradeconn.ChannelOrderInfo, map[string]any{
		"event":   "addChannel",
		"channel": "ok_spot_orderinfo",
		"parameters": map[string]string{
			"api_key":  t.apiKey,
			"symbol":   exch,
			"order_id": order.Status.OrderID,
			"sign":     sign,
		},
	})
}

// GetOrdersList is a placeholder matching the reference adapter's
// unimplemented getOrdersList (the commented-out getTrades call was
// never wired up there either).
func (t *TradeConnector) GetOrdersList() bool { return true }

// GetBalance requests the account snapshot, mirroring
// TradeAdapter::getBalance -> getUserAccountInfo().
func (t *TradeConnector) GetBalance() bool {
	params := []tradeconn.KV{{Key: "api_key", Value: t.apiKey}}
	sign := tradeconn.Sign(params, t.secret)
	return t.send(map[string]any{
		"event":   "addChannel",
		"channel": "ok_spot_userinfo",
		"parameters": map[string]string{
			"api_key": t.apiKey,
			"sign":    sign,
		},
	})
}

func (t *TradeConnector) send(v any) bool {
	if err := t.stream.Send(v); err != nil {
		t.setConnectorError(fmt.Errorf("okex: send: %w", err))
		return false
	}
	return true
}

// sendCommand mints a correlation ID for one outbound channel command and
// logs it alongside the channel name before handing off to send, so a
// desync or timeout reported later against channel can be traced back to
// this exact send.
func (t *TradeConnector) sendCommand(channel tradeconn.Channel, v any) bool {
	corrID := commandqueue.New()
	t.logger.Debug("sending command", "channel", channel, "correlation_id", corrID)
	return t.send(v)
}

// onMessage dispatches one trade-channel WebSocket frame to the matching
// handler by channel suffix, mirroring the reference adapter's per-
// channel onOrderPlacedResponse/onOrderCancelledResponse/
// onOrderInfoResponse/onUserAccountInfoResponse.
func (t *TradeConnector) onMessage(msg []byte) {
	now := time.Now()

	var parser fastjson.Parser
	doc, err := parser.ParseBytes(msg)
	if err != nil {
		return
	}
	frames, err := doc.Array()
	if err != nil {
		return
	}

	for _, frame := range frames {
		channel := string(frame.GetStringBytes("channel"))
		switch channel {
		case "ok_spot_order":
			t.handlePlaceResponse(frame, now)
		case "ok_spot_cancel_order":
			t.handleCancelResponse(frame, now)
		case "ok_spot_orderinfo":
			t.handleInfoResponse(frame, now)
		case "ok_spot_userinfo":
			t.handleAccountInfo(frame, now)
		}
	}
}

func (t *TradeConnector) handlePlaceResponse(frame *fastjson.Value, now time.Time) {
	order, ok := t.queues.Dequeue(tradeconn.ChannelPlaceOrder)
	if !ok {
		return
	}
	t.pending.Ack()
	tag := connector.NewProfilingTag()

	data := frame.Get("data")
	if data == nil {
		status := order.Status
		status.State = connector.StateFailed
		t.updateStatus(order, status, tag)
		return
	}
	if errCode := data.Get("error_code"); errCode != nil {
		status := order.Status
		status.State = connector.StateFailed
		t.updateStatus(order, status, tag)
		return
	}

	status := order.Status
	status.State = connector.StatePlaced
	status.OrderID = string(data.GetStringBytes("order_id"))
	status.CreatedTs = now

	if tradeconn.IsIOC(order) {
		order.Status = status
		t.CancelOrder(order)
		return
	}
	t.updateStatus(order, status, tag)
}

func (t *TradeConnector) handleCancelResponse(frame *fastjson.Value, now time.Time) {
	order, ok := t.queues.Dequeue(tradeconn.ChannelCancelOrder)
	if !ok {
		return
	}
	tag := connector.NewProfilingTag()

	data := frame.Get("data")
	if data == nil {
		return
	}
	if errCode := data.Get("error_code"); errCode != nil {
		code := errCode.GetInt()
		status := order.Status
		if code == alreadyFilledErrorCode {
			if status.State == connector.StateCancelled {
				return
			}
			status.State = connector.StateFilled
		} else {
			status.State = connector.StateUnknown
		}
		t.updateStatus(order, status, tag)
		return
	}

	status := order.Status
	status.State = connector.StateCancelled
	status.CancelledTs = now
	t.updateStatus(order, status, tag)
}

func (t *TradeConnector) handleInfoResponse(frame *fastjson.Value, now time.Time) {
	order, ok := t.queues.Dequeue(tradeconn.ChannelOrderInfo)
	if !ok {
		return
	}
	data := frame.Get("data")
	if data == nil {
		return
	}
	code := data.GetInt("status")
	state, ok := tradeconn.MapVenueStatus(code)
	if !ok {
		return
	}
	status := order.Status
	status.State = state
	status.FinishedTs = now
	t.updateStatus(order, status, connector.NewProfilingTag())
}

func (t *TradeConnector) handleAccountInfo(frame *fastjson.Value, now time.Time) {
	data := frame.Get("data")
	if data == nil {
		return
	}
	funds := data.Get("funds")
	if funds == nil {
		return
	}
	free := funds.Get("free")
	if free == nil {
		return
	}
	obj, err := free.Object()
	if err != nil {
		return
	}

	tag := connector.NewProfilingTag()
	obj.Visit(func(code []byte, v *fastjson.Value) {
		symbol := t.dict.SymbolFromExchange(string(code))
		if symbol == nil {
			return
		}
		raw, err := v.StringBytes()
		if err != nil {
			return
		}
		amount, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return
		}
		t.UpdateBalance(symbol, fixedpoint.FromFloat(amount, fixedpoint.DefaultAccuracy), tag)
	})
	_ = now
}
