package okex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fastjson"

	"tradeconnect/internal/metrics"
	"tradeconnect/internal/priceconn"
	"tradeconnect/internal/timerservice"
	"tradeconnect/internal/transport"
	"tradeconnect/pkg/connector"
	"tradeconnect/pkg/fixedpoint"
	"tradeconnect/pkg/registry"
)

// depthChannelPrefixLen is the length of the "ok_sub_spot_" prefix every
// depth/ticker channel name carries ahead of the instrument string, per
// the reference adapter's onData channel-name parsing.
const depthChannelPrefixLen = 12

// dataTimeout/pingTimeout bound the keep-alive state machine: a gap this
// long since the last frame arms a ping, and the ping must be answered
// within pingTimeout or the session is declared timed out.
const (
	dataTimeout = 15 * time.Second
	pingTimeout = 5 * time.Second
	tickPeriod  = time.Second
)

// PriceConnector is the OKEx-shaped Price Connector: it speaks a single
// multiplexed WebSocket channel plus a REST fallback for depth snapshots
// and candlesticks, dispatching by channel-name suffix the way the
// reference adapter's onData/parseData do.
type PriceConnector struct {
	*priceconn.Base

	stream    transport.StreamTransport
	request   transport.RequestTransport
	wsURL     string
	logger    *slog.Logger
	keepAlive *priceconn.KeepAlive

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool

	metricsMu sync.RWMutex
	metrics   *metrics.Metrics
	venue     string
}

// SetMetrics attaches a shared metrics bundle, labelling every collector
// with venue. It is safe to call before or after Start.
func (p *PriceConnector) SetMetrics(m *metrics.Metrics, venue string) {
	p.metricsMu.Lock()
	defer p.metricsMu.Unlock()
	p.metrics = m
	p.venue = venue
}

func (p *PriceConnector) metricsSnapshot() (*metrics.Metrics, string) {
	p.metricsMu.RLock()
	defer p.metricsMu.RUnlock()
	return p.metrics, p.venue
}

// setConnectorError records a connector_errors_total observation, if
// metrics are attached, before forwarding err to the observer.
func (p *PriceConnector) setConnectorError(err error) {
	if m, venue := p.metricsSnapshot(); m != nil {
		m.ConnectorErrors.WithLabelValues(venue, "price").Inc()
	}
	p.SetConnectorError(err)
}

// NewPriceConnector constructs a PriceConnector reporting to observer,
// translating instruments through dict, and speaking to the venue over
// stream/request.
func NewPriceConnector(observer connector.StockDataObserver, dict *registry.ExchangeDictionary, stream transport.StreamTransport, request transport.RequestTransport, wsURL string, logger *slog.Logger) *PriceConnector {
	p := &PriceConnector{
		Base:    priceconn.NewBase(observer, dict),
		stream:  stream,
		request: request,
		wsURL:   wsURL,
		logger:  logger,
	}
	p.keepAlive = priceconn.NewKeepAlive(timerservice.New(), dataTimeout, pingTimeout, p.sendPing, p.onPingTimeout)
	return p
}

// Start dials the stream and re-issues whatever subscriptions were
// queued before the connection existed, mirroring the reference
// adapter's start(): WSPriceConnector::start() followed by a drain and
// resubscribe of m_subscriptions.
func (p *PriceConnector) Start() error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.started = true
	p.mu.Unlock()

	go func() {
		err := p.stream.Run(ctx, p.wsURL, p.onConnect, p.onMessage)
		if err != nil && ctx.Err() == nil {
			p.setConnectorError(fmt.Errorf("okex: stream terminated: %w", err))
		}
	}()
	go p.runKeepAliveTicks(ctx)
	return nil
}

// runKeepAliveTicks drives the keep-alive state machine's per-service-
// tick check, the Go equivalent of every service tick invoking
// check_timers() on the streaming handler.
func (p *PriceConnector) runKeepAliveTicks(ctx context.Context) {
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			p.keepAlive.Tick(now)
		}
	}
}

func (p *PriceConnector) sendPing() error {
	return p.stream.Send(map[string]string{"event": "ping"})
}

// onPingTimeout surfaces the keep-alive machine's terminal state: every
// instrument currently subscribed has its cached book invalidated, and
// the failure is reported through the observer without stopping the
// connector, matching the reference adapter's ping-timeout handling.
func (p *PriceConnector) onPingTimeout() {
	for _, h := range p.ActiveSubscriptions() {
		p.InvalidateData(h)
	}
	if m, venue := p.metricsSnapshot(); m != nil {
		m.PingTimeouts.WithLabelValues(venue).Inc()
	}
	p.setConnectorError(fmt.Errorf("okex: ping timeout"))
}

// Stop tears down the stream.
func (p *PriceConnector) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.started = false
	if p.cancel != nil {
		p.cancel()
	}
	p.stream.Close()
}

func (p *PriceConnector) onConnect(sender transport.Sender) error {
	p.keepAlive.OnSubscribed(time.Now())
	pending := p.DrainPendingSubscriptions()
	for _, h := range pending {
		if err := p.sendSubscribe(sender, h); err != nil {
			return err
		}
	}
	return nil
}

// Config applies a per-connector JSON configuration block, adding any
// dictionary translations it carries, matching PriceAdapter::config.
func (p *PriceConnector) Config(raw []byte, reg *registry.InstrumentRegistry) error {
	cfg, err := ParseConfig(raw)
	if err != nil {
		return err
	}
	return ApplyDictionary(cfg, reg, p.Dictionary)
}

func (p *PriceConnector) sendSubscribe(sender transport.Sender, handle registry.InstrumentHandle) error {
	exch, ok := p.Dictionary.InstrumentToExchange(handle)
	if !ok {
		return fmt.Errorf("okex: no mapping for instrument %v", handle)
	}
	return sender.Send(map[string]string{
		"event":   "addChannel",
		"channel": "ok_sub_spot_" + exch + "_depth",
	})
}

// Subscribe records instruments for resubscription and, if already
// connected, issues them immediately, matching the reference adapter's
// subscribe(): translate each handle, then WSPriceConnector::subscribe.
func (p *PriceConnector) Subscribe(handles []registry.InstrumentHandle) {
	mapped, unmapped := p.Base.Subscribe(handles)
	for _, u := range unmapped {
		p.setConnectorError(fmt.Errorf("okex: no mapping for instrument %v", u))
	}
	if len(mapped) == 0 {
		return
	}
	if m, venue := p.metricsSnapshot(); m != nil {
		m.SubscribedInstruments.WithLabelValues(venue).Add(float64(len(mapped)))
	}

	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if !started {
		return
	}
	for _, h := range mapped {
		if err := p.sendSubscribe(p.stream, h); err != nil {
			p.setConnectorError(err)
		}
	}
}

// FetchStack requests a one-shot REST depth snapshot for symbol, matching
// the reference adapter's fetchStack -> getDepth(instrument, 200).
func (p *PriceConnector) FetchStack(ctx context.Context, symbol registry.InstrumentHandle) error {
	exch, ok := p.Dictionary.InstrumentToExchange(symbol)
	if !ok {
		return fmt.Errorf("okex: no mapping for instrument %v", symbol)
	}

	var raw json.RawMessage
	if err := p.request.Get(ctx, "depth", "/depth.do", map[string]string{"symbol": exch, "size": "200"}, nil, &raw); err != nil {
		p.setConnectorError(fmt.Errorf("okex: depth request: %w", err))
		return err
	}

	p.InvalidateData(symbol)
	return p.parseFrame(raw, symbol, time.Now())
}

// FetchCandleSticks requests OHLCV bars for symbol at the given interval
// (seconds) starting at since, bucketed the same way the reference
// adapter's fetchCandleSticks chooses a wire granularity.
func (p *PriceConnector) FetchCandleSticks(ctx context.Context, symbol registry.InstrumentHandle, intervalSeconds int64, since int64) error {
	wireType, ok := priceconn.SelectCandleInterval(intervalSeconds)
	if !ok {
		return fmt.Errorf("okex: interval %ds exceeds the 7-day maximum", intervalSeconds)
	}
	exch, ok := p.Dictionary.InstrumentToExchange(symbol)
	if !ok {
		return fmt.Errorf("okex: no mapping for instrument %v", symbol)
	}

	var raw json.RawMessage
	query := map[string]string{
		"symbol": exch,
		"type":   wireType,
		"size":   "200",
		"since":  fmt.Sprintf("%d", since),
	}
	if err := p.request.Get(ctx, "kline", "/kline.do", query, nil, &raw); err != nil {
		p.setConnectorError(fmt.Errorf("okex: kline request: %w", err))
		return err
	}

	var parser fastjson.Parser
	doc, err := parser.ParseBytes(raw)
	if err != nil {
		return fmt.Errorf("okex: kline response: %w", err)
	}
	bars, err := doc.Array()
	if err != nil {
		return fmt.Errorf("okex: kline response is not an array: %w", err)
	}
	interval := time.Duration(intervalSeconds) * time.Second
	for _, bar := range bars {
		row, err := bar.Array()
		if err != nil || len(row) < 6 {
			continue
		}
		p.AddCandleStickEntry(connector.CandlestickEntry{
			Instrument: symbol,
			Timestamp:  time.UnixMilli(row[0].GetInt64()),
			Interval:   interval,
			Open:       fixedpoint.FromFloat(row[1].GetFloat64(), fixedpoint.DefaultAccuracy),
			High:       fixedpoint.FromFloat(row[2].GetFloat64(), fixedpoint.DefaultAccuracy),
			Low:        fixedpoint.FromFloat(row[3].GetFloat64(), fixedpoint.DefaultAccuracy),
			Close:      fixedpoint.FromFloat(row[4].GetFloat64(), fixedpoint.DefaultAccuracy),
			Volume:     fixedpoint.FromFloat(row[5].GetFloat64(), fixedpoint.DefaultAccuracy),
		})
	}
	return nil
}

// onMessage dispatches one multiplexed WebSocket frame: an array of
// {channel, data} objects, each channel name carrying the instrument
// after a fixed-length prefix, mirroring PriceAdapter::onData.
func (p *PriceConnector) onMessage(msg []byte) {
	recvTime := time.Now()
	p.keepAlive.OnData(recvTime)

	var parser fastjson.Parser
	doc, err := parser.ParseBytes(msg)
	if err != nil {
		return
	}

	if event := doc.Get("event"); event != nil {
		if s, err := event.StringBytes(); err == nil && string(s) == "pong" {
			p.keepAlive.OnPong(recvTime)
		}
		return
	}

	frames, err := doc.Array()
	if err != nil {
		return
	}

	for _, frame := range frames {
		channel := string(frame.GetStringBytes("channel"))
		data := frame.Get("data")
		if channel == "" || data == nil || data.Type() != fastjson.TypeObject {
			continue
		}

		divisor := strings.LastIndexByte(channel, '_')
		if divisor < depthChannelPrefixLen {
			continue
		}
		exch := channel[depthChannelPrefixLen:divisor]

		instrument := p.Dictionary.InstrumentFromExchange(exch)
		if instrument == nil {
			continue
		}

		p.applyDepth(data, instrument, recvTime)
	}
}

func (p *PriceConnector) parseFrame(raw []byte, instrument registry.InstrumentHandle, recvTime time.Time) error {
	var parser fastjson.Parser
	doc, err := parser.ParseBytes(raw)
	if err != nil {
		return fmt.Errorf("okex: depth response: %w", err)
	}
	p.applyDepth(doc, instrument, recvTime)
	return nil
}

func (p *PriceConnector) applyDepth(data *fastjson.Value, instrument registry.InstrumentHandle, recvTime time.Time) {
	var entries []connector.OrderBookEntry
	entries = appendDirection(entries, data, "asks", connector.Ask, instrument, recvTime)
	entries = appendDirection(entries, data, "bids", connector.Bid, instrument, recvTime)
	p.AddOrderbookBulk(entries, recvTime)
}

func appendDirection(entries []connector.OrderBookEntry, data *fastjson.Value, key string, dir connector.OrderDir, instrument registry.InstrumentHandle, recvTime time.Time) []connector.OrderBookEntry {
	arr := data.GetArray(key)
	for _, level := range arr {
		row, err := level.Array()
		if err != nil || len(row) < 2 {
			continue
		}
		entries = append(entries, connector.OrderBookEntry{
			Instrument: instrument,
			Direction:  dir,
			Price:      fixedpoint.FromFloat(row[0].GetFloat64(), fixedpoint.DefaultAccuracy),
			Amount:     fixedpoint.FromFloat(row[1].GetFloat64(), fixedpoint.DefaultAccuracy),
			Timestamp:  recvTime,
		})
	}
	return entries
}

// FetchSymbols forwards every symbol already known to reg to the
// observer, matching the reference adapter's fetchSymbols.
func (p *PriceConnector) FetchSymbols(reg *registry.InstrumentRegistry) {
	for _, s := range reg.Symbols() {
		p.AddSymbol(s)
	}
}

// FetchInstruments forwards every instrument already known to reg to the
// observer, matching the reference adapter's fetchInstruments.
func (p *PriceConnector) FetchInstruments(reg *registry.InstrumentRegistry) {
	for _, i := range reg.Instruments() {
		p.AddInstrument(i)
	}
}
