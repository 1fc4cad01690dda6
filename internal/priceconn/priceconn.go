// Package priceconn implements the shared machinery every Price
// Connector embeds on top of a venue's own wire dialect:
// BaseStockDataConnector in the reference implementation. It owns
// symbol/instrument bookkeeping, the normalised callback surface to the
// market-data observer, the keep-alive state machine, and candlestick
// interval-bucket selection.
package priceconn

import (
	"sync"
	"time"

	"tradeconnect/pkg/connector"
	"tradeconnect/pkg/registry"
)

// Base is embedded by every venue's Price Connector. It translates raw
// parsed entries into observer callbacks and tracks per-instrument
// subscription state.
type Base struct {
	Observer   connector.StockDataObserver
	Dictionary *registry.ExchangeDictionary

	mu            sync.Mutex
	subscriptions []registry.InstrumentHandle
	active        []registry.InstrumentHandle
}

// NewBase constructs a Base reporting to observer.
func NewBase(observer connector.StockDataObserver, dict *registry.ExchangeDictionary) *Base {
	return &Base{Observer: observer, Dictionary: dict}
}

// AddSymbol forwards a freshly seen symbol to the observer.
func (b *Base) AddSymbol(handle registry.SymbolHandle) {
	if b.Observer != nil {
		b.Observer.SymbolAdded(handle)
	}
}

// AddInstrument forwards a freshly seen instrument to the observer.
func (b *Base) AddInstrument(handle registry.InstrumentHandle) {
	if b.Observer != nil {
		b.Observer.InstrumentAdded(handle)
	}
}

// InvalidateData tells the observer to discard any cached book state for
// instrument, ahead of applying a fresh full snapshot.
func (b *Base) InvalidateData(instrument registry.InstrumentHandle) {
	if b.Observer != nil {
		b.Observer.InvalidateData(instrument)
	}
}

// AddOrderbookEntry delivers one book line.
func (b *Base) AddOrderbookEntry(entry connector.OrderBookEntry) {
	if b.Observer != nil {
		b.Observer.OrderbookEntryAdded(entry)
	}
}

// AddOrderbookBulk delivers a batch of book lines parsed from a single
// wire message, tagged with the time the message was received.
func (b *Base) AddOrderbookBulk(entries []connector.OrderBookEntry, recvTimestamp time.Time) {
	if b.Observer != nil {
		b.Observer.OrderbookEntriesBulk(entries, recvTimestamp)
	}
}

// AddCandleStickEntry delivers one OHLCV bar.
func (b *Base) AddCandleStickEntry(entry connector.CandlestickEntry) {
	if b.Observer != nil {
		b.Observer.CandleStickEntryAdded(entry)
	}
}

// SetConnectorError forwards a connector-level failure to the observer.
// HTTP errors, response timeouts, an unexpected remote close while
// started, and ping timeouts all funnel through here; none of them stop
// the connector on their own.
func (b *Base) SetConnectorError(err error) {
	if b.Observer != nil {
		b.Observer.DataConnectorError(err)
	}
}

// Subscribe translates each handle through the dictionary and hands back
// the subset with a known venue mapping, recording them as the current
// subscription set; unmapped handles are returned separately for the
// caller to log. Held under a lock so concurrent
// Subscribe/DrainPendingSubscriptions calls don't interleave.
func (b *Base) Subscribe(handles []registry.InstrumentHandle) (mapped []registry.InstrumentHandle, unmapped []registry.InstrumentHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, h := range handles {
		if _, ok := b.Dictionary.InstrumentToExchange(h); ok {
			mapped = append(mapped, h)
			b.subscriptions = append(b.subscriptions, h)
			b.active = append(b.active, h)
		} else {
			unmapped = append(unmapped, h)
		}
	}
	return mapped, unmapped
}

// ActiveSubscriptions returns every instrument ever successfully
// subscribed, for use by the keep-alive machine when a ping timeout
// requires invalidating all cached book state.
func (b *Base) ActiveSubscriptions() []registry.InstrumentHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]registry.InstrumentHandle, len(b.active))
	copy(out, b.active)
	return out
}

// DrainPendingSubscriptions empties and returns every subscription
// Subscribe recorded since the previous drain, whether or not the
// connector was connected at the time, so start() can issue them once
// connected.
func (b *Base) DrainPendingSubscriptions() []registry.InstrumentHandle {
	b.mu.Lock()
	defer b.mu.Unlock()
	pending := b.subscriptions
	b.subscriptions = nil
	return pending
}

// intervalBucket is one candidate candlestick granularity.
type intervalBucket struct {
	wireType string
	seconds  int64
}

var minuteBuckets = []intervalBucket{
	{"1min", 60}, {"3min", 180}, {"5min", 300}, {"15min", 900}, {"30min", 1800},
}

var hourBuckets = []intervalBucket{
	{"1hour", 3600}, {"2hour", 7200}, {"4hour", 14400}, {"6hour", 21600}, {"12hour", 43200},
}

const daySeconds = 86400
const weekSeconds = 7 * daySeconds

// SelectCandleInterval maps a requested interval (in seconds) onto the
// smallest qualifying venue bucket: {1,3,5,15,30}min, else
// {1,2,4,6,12}hour, else day, else week. Intervals beyond 7 days are
// rejected, matching the reference adapter's fetchCandleSticks.
func SelectCandleInterval(intervalSeconds int64) (wireType string, ok bool) {
	for _, b := range minuteBuckets {
		if intervalSeconds <= b.seconds {
			return b.wireType, true
		}
	}
	for _, b := range hourBuckets {
		if intervalSeconds <= b.seconds {
			return b.wireType, true
		}
	}
	if intervalSeconds <= daySeconds {
		return "day", true
	}
	if intervalSeconds <= weekSeconds {
		return "week", true
	}
	return "", false
}
