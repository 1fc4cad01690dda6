// Package runtime wires the registered venue factories, the per-instrument
// mixed order books, and the operator dashboard into one running process.
// It is the orchestrator counterpart of the reference bot's internal/engine
// package: a single owner of connector lifecycles and goroutines that the
// composition root in cmd/connectord merely constructs and starts.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tradeconnect/internal/dashboard"
	"tradeconnect/internal/factory"
	"tradeconnect/internal/mixedbook"
	"tradeconnect/pkg/connector"
	"tradeconnect/pkg/fixedpoint"
	"tradeconnect/pkg/registry"
)

// venueState tracks one registered venue's connector handles and the
// status fields the dashboard reports.
type venueState struct {
	name    string
	price   factory.PriceConnector
	trade   factory.TradeConnector
	reserve connector.ReservationSource
	fee     float64

	mu             sync.RWMutex
	priceConnected bool
	tradeConnected bool
	subscribed     int
	lastError      string
}

// Engine owns every connected venue, the cross-venue mixed order books fed
// from their price streams, and the event/snapshot surface the dashboard
// reads through. One Engine runs for the lifetime of the process.
type Engine struct {
	reg    *registry.InstrumentRegistry
	logger *slog.Logger

	mu     sync.RWMutex
	venues map[string]*venueState
	books  map[registry.InstrumentHandle]*mixedbook.MixedOrderBook

	balancesMu sync.RWMutex
	balances   map[string]map[registry.SymbolHandle]float64

	recentOrders *dashboard.RecentOrders
	events       chan dashboard.Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// recentOrdersCapacity bounds the dashboard's recent-activity ring buffer.
const recentOrdersCapacity = 200

// eventBufferSize bounds the dashboard event channel; a slow consumer
// drops events rather than blocking a connector callback.
const eventBufferSize = 256

// New constructs an Engine with no venues attached yet; call AddVenue for
// each configured venue before Start.
func New(reg *registry.InstrumentRegistry, logger *slog.Logger) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		reg:          reg,
		logger:       logger.With("component", "runtime"),
		venues:       make(map[string]*venueState),
		books:        make(map[registry.InstrumentHandle]*mixedbook.MixedOrderBook),
		balances:     make(map[string]map[registry.SymbolHandle]float64),
		recentOrders: dashboard.NewRecentOrders(recentOrdersCapacity),
		events:       make(chan dashboard.Event, eventBufferSize),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// AddVenue registers a venue's already-constructed Price/Trade Connector
// pair. reserve is the connector.ReservationSource the mixed order book
// delegates reservation accounting to for this venue's price lines —
// concretely the trade connector's embedded exchangebase.Base. takerFee
// feeds the book's price_with_fee index.
func (e *Engine) AddVenue(name string, pc factory.PriceConnector, tc factory.TradeConnector, reserve connector.ReservationSource, takerFee float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.venues[name] = &venueState{name: name, price: pc, trade: tc, reserve: reserve, fee: takerFee}
}

// PriceObserver returns the connector.StockDataObserver a venue's Price
// Connector should be constructed with.
func (e *Engine) PriceObserver(venue string) connector.StockDataObserver {
	return &priceObserver{engine: e, venue: venue}
}

// TradeObserver returns the connector.TradeExchangeObserver a venue's
// Trade Connector should be constructed with.
func (e *Engine) TradeObserver(venue string) connector.TradeExchangeObserver {
	return &tradeObserver{engine: e, venue: venue}
}

// Subscribe forwards to the named venue's Price Connector, translating
// and queuing handles exactly as Subscribe normally would.
func (e *Engine) Subscribe(venue string, handles []registry.InstrumentHandle) error {
	v, ok := e.venue(venue)
	if !ok {
		return fmt.Errorf("runtime: venue %q not registered", venue)
	}
	v.price.Subscribe(handles)
	v.mu.Lock()
	v.subscribed += len(handles)
	v.mu.Unlock()
	return nil
}

// Start dials every registered venue's Price and Trade Connector
// concurrently. Each connector's Start blocks until its streaming
// handshake completes, so every venue gets its own goroutine; the first
// connect failure is returned once all goroutines have reported in.
func (e *Engine) Start() error {
	e.mu.RLock()
	venues := make([]*venueState, 0, len(e.venues))
	for _, v := range e.venues {
		venues = append(venues, v)
	}
	e.mu.RUnlock()

	errs := make(chan error, len(venues)*2)
	for _, v := range venues {
		v := v
		e.wg.Add(2)
		go func() {
			defer e.wg.Done()
			if err := v.price.Start(); err != nil {
				errs <- fmt.Errorf("%s: price connector: %w", v.name, err)
				return
			}
			v.mu.Lock()
			v.priceConnected = true
			v.mu.Unlock()
		}()
		go func() {
			defer e.wg.Done()
			if err := v.trade.Start(); err != nil {
				errs <- fmt.Errorf("%s: trade connector: %w", v.name, err)
				return
			}
			v.mu.Lock()
			v.tradeConnected = true
			v.mu.Unlock()
		}()
	}

	e.wg.Wait()
	close(errs)
	var first error
	for err := range errs {
		e.logger.Error("venue failed to start", "error", err)
		if first == nil {
			first = err
		}
	}
	return first
}

// Stop tears down every venue's connectors and closes the event channel.
func (e *Engine) Stop() {
	e.cancel()

	e.mu.RLock()
	venues := make([]*venueState, 0, len(e.venues))
	for _, v := range e.venues {
		venues = append(venues, v)
	}
	e.mu.RUnlock()

	for _, v := range venues {
		v.price.Stop()
		v.trade.Stop()
	}
	close(e.events)
}

func (e *Engine) venue(name string) (*venueState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.venues[name]
	return v, ok
}

func (e *Engine) bookFor(instrument registry.InstrumentHandle) *mixedbook.MixedOrderBook {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.books[instrument]
	if !ok {
		b = mixedbook.New(instrument)
		e.books[instrument] = b
	}
	return b
}

func (e *Engine) publish(evt dashboard.Event) {
	select {
	case e.events <- evt:
	default:
		e.logger.Warn("dropping dashboard event, channel full", "type", evt.Type)
	}
}

// --- connector.StockDataObserver plumbing ---

func (e *Engine) invalidateData(venue string, instrument registry.InstrumentHandle) {
	e.bookFor(instrument).Clear(e.reserveFor(venue))
}

func (e *Engine) reserveFor(venue string) connector.ReservationSource {
	v, ok := e.venue(venue)
	if !ok {
		return nil
	}
	return v.reserve
}

func (e *Engine) orderbookEntryAdded(venue string, entry connector.OrderBookEntry) {
	v, ok := e.venue(venue)
	if !ok {
		return
	}
	e.bookFor(entry.Instrument).Update(v.reserve, entry, v.fee)
}

func (e *Engine) orderbookEntriesBulk(venue string, entries []connector.OrderBookEntry, recvTimestamp time.Time) {
	v, ok := e.venue(venue)
	if !ok || len(entries) == 0 {
		return
	}
	e.bookFor(entries[0].Instrument).BatchUpdate(v.reserve, entries, v.fee)
}

func (e *Engine) candlestickEntryAdded(venue string, entry connector.CandlestickEntry) {
	e.logger.Debug("candlestick", "venue", venue, "instrument", entry.Instrument, "close", entry.Close.String())
}

func (e *Engine) symbolAdded(venue string, handle registry.SymbolHandle) {
	e.logger.Debug("symbol added", "venue", venue, "symbol", handle.Code)
}

func (e *Engine) instrumentAdded(venue string, handle registry.InstrumentHandle) {
	e.logger.Debug("instrument added", "venue", venue, "instrument", instrumentName(handle))
}

func (e *Engine) dataConnectorError(venue string, err error) {
	e.setVenueError(venue, err)
	e.publish(dashboard.NewVenueErrorEvent(venue, err.Error()))
}

// --- connector.TradeExchangeObserver plumbing ---

func (e *Engine) orderStatusChanged(venue string, order *connector.TradeOrder, oldStatus connector.OrderStatus, tag connector.ProfilingTag) {
	status := dashboard.OrderStatus{
		Venue:      venue,
		OrderID:    order.Status.OrderID,
		Instrument: instrumentName(order.Instrument),
		Direction:  order.Direction.String(),
		State:      order.Status.State.String(),
		Amount:     order.Amount.String(),
		Price:      order.Price.String(),
		Timestamp:  time.Now(),
	}
	e.recentOrders.Add(status)
	e.publish(dashboard.NewOrderTransitionEvent(status))
}

func (e *Engine) balanceReceived(venue string, symbol registry.SymbolHandle, value fixedpoint.FixedNumber, tag connector.ProfilingTag) {
	e.balancesMu.Lock()
	defer e.balancesMu.Unlock()
	perVenue, ok := e.balances[venue]
	if !ok {
		perVenue = make(map[registry.SymbolHandle]float64)
		e.balances[venue] = perVenue
	}
	perVenue[symbol] = value.Float64()
}

func (e *Engine) tradingConnectorError(venue string, err error) {
	e.setVenueError(venue, err)
	e.publish(dashboard.NewVenueErrorEvent(venue, err.Error()))
}

func (e *Engine) setVenueError(venue string, err error) {
	v, ok := e.venue(venue)
	if !ok {
		return
	}
	v.mu.Lock()
	v.lastError = err.Error()
	v.mu.Unlock()
}

func instrumentName(h registry.InstrumentHandle) string {
	if h == nil {
		return ""
	}
	return h.Base.Code + "/" + h.Quote.Code
}

// --- dashboard.Provider ---

// VenueStatuses implements dashboard.Provider.
func (e *Engine) VenueStatuses() []dashboard.VenueStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]dashboard.VenueStatus, 0, len(e.venues))
	for _, v := range e.venues {
		v.mu.RLock()
		out = append(out, dashboard.VenueStatus{
			Name:                  v.name,
			PriceConnected:        v.priceConnected,
			TradeConnected:        v.tradeConnected,
			SubscribedInstruments: v.subscribed,
			LastError:             v.lastError,
		})
		v.mu.RUnlock()
	}
	return out
}

// InstrumentBooks implements dashboard.Provider.
func (e *Engine) InstrumentBooks() []dashboard.InstrumentBook {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]dashboard.InstrumentBook, 0, len(e.books))
	for instrument, book := range e.books {
		ib := dashboard.InstrumentBook{Instrument: instrumentName(instrument)}
		if bid, ok := book.BestBid(); ok {
			ib.BestBid = &dashboard.BookLevel{Price: bid.Price.String(), Amount: bid.Amount.String()}
		}
		if ask, ok := book.BestAsk(); ok {
			ib.BestAsk = &dashboard.BookLevel{Price: ask.Price.String(), Amount: ask.Amount.String()}
		}
		out = append(out, ib)
	}
	return out
}

// Balances implements dashboard.Provider.
func (e *Engine) Balances() []dashboard.BalanceStatus {
	e.balancesMu.RLock()
	defer e.balancesMu.RUnlock()
	out := make([]dashboard.BalanceStatus, 0)
	for venue, perVenue := range e.balances {
		for symbol, available := range perVenue {
			out = append(out, dashboard.BalanceStatus{Venue: venue, Symbol: symbol.Code, Available: available})
		}
	}
	return out
}

// RecentOrders implements dashboard.Provider.
func (e *Engine) RecentOrders() []dashboard.OrderStatus {
	return e.recentOrders.Snapshot()
}

// Events implements dashboard.Provider.
func (e *Engine) Events() <-chan dashboard.Event {
	return e.events
}

// priceObserver adapts Engine to connector.StockDataObserver for one venue.
type priceObserver struct {
	engine *Engine
	venue  string
}

func (o *priceObserver) InvalidateData(instrument registry.InstrumentHandle) {
	o.engine.invalidateData(o.venue, instrument)
}

func (o *priceObserver) OrderbookEntryAdded(entry connector.OrderBookEntry) {
	o.engine.orderbookEntryAdded(o.venue, entry)
}

func (o *priceObserver) OrderbookEntriesBulk(entries []connector.OrderBookEntry, recvTimestamp time.Time) {
	o.engine.orderbookEntriesBulk(o.venue, entries, recvTimestamp)
}

func (o *priceObserver) CandleStickEntryAdded(entry connector.CandlestickEntry) {
	o.engine.candlestickEntryAdded(o.venue, entry)
}

func (o *priceObserver) SymbolAdded(handle registry.SymbolHandle) {
	o.engine.symbolAdded(o.venue, handle)
}

func (o *priceObserver) InstrumentAdded(handle registry.InstrumentHandle) {
	o.engine.instrumentAdded(o.venue, handle)
}

func (o *priceObserver) DataConnectorError(err error) {
	o.engine.dataConnectorError(o.venue, err)
}

// tradeObserver adapts Engine to connector.TradeExchangeObserver for one venue.
type tradeObserver struct {
	engine *Engine
	venue  string
}

func (o *tradeObserver) OrderStatusChanged(order *connector.TradeOrder, oldStatus connector.OrderStatus, tag connector.ProfilingTag) {
	o.engine.orderStatusChanged(o.venue, order, oldStatus, tag)
}

func (o *tradeObserver) BalanceReceived(symbol registry.SymbolHandle, value fixedpoint.FixedNumber, tag connector.ProfilingTag) {
	o.engine.balanceReceived(o.venue, symbol, value, tag)
}

func (o *tradeObserver) TradingConnectorError(err error) {
	o.engine.tradingConnectorError(o.venue, err)
}
