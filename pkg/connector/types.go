// Package connector defines the shared vocabulary every price and trade
// connector speaks: order-book/candlestick entries, the trade-order state
// machine, trade constraints, and the observer interfaces a connector
// reports through. It corresponds to fin/market.h, fin/order.h,
// fin/instrument.h and fin/orderbook.h in the reference implementation.
package connector

import (
	"time"

	"tradeconnect/pkg/commission"
	"tradeconnect/pkg/fixedpoint"
	"tradeconnect/pkg/registry"
)

// OrderDir is the side of an order or order-book line. Buy and Sell are
// aliases for Bid and Ask respectively, matching the source's
// Bid==Buy==0, Ask==Sell==1 encoding.
type OrderDir int

const (
	Bid OrderDir = 0
	Ask OrderDir = 1

	Buy  = Bid
	Sell = Ask
)

func (d OrderDir) String() string {
	if d == Bid {
		return "bid"
	}
	return "ask"
}

// ExecutionType is how aggressively an order is meant to fill.
type ExecutionType int

const (
	Limit ExecutionType = iota
	IOC
	Market
)

// ProfilingTag is a nanosecond-resolution capture attached to events that
// cross the connector/observer boundary, so a caller can measure
// end-to-end latency. It is "monotonic-ish": built from wall-clock time,
// not a hardware monotonic counter.
type ProfilingTag struct {
	timestampNs int64
}

// NewProfilingTag captures the current instant.
func NewProfilingTag() ProfilingTag {
	return ProfilingTag{timestampNs: time.Now().UnixNano()}
}

// Elapsed returns the duration since the tag was captured.
func (t ProfilingTag) Elapsed() time.Duration {
	return time.Duration(time.Now().UnixNano() - t.timestampNs)
}

// TimestampNs returns the raw capture instant.
func (t ProfilingTag) TimestampNs() int64 { return t.timestampNs }

// OrderBookEntry is one price level of a venue's order book.
// Amount == 0 is the sentinel meaning "remove this price level".
type OrderBookEntry struct {
	Instrument registry.InstrumentHandle
	Direction  OrderDir
	Price      fixedpoint.FixedNumber
	Amount     fixedpoint.FixedNumber
	Timestamp  time.Time
}

// CandlestickEntry is one OHLCV bar.
type CandlestickEntry struct {
	Instrument registry.InstrumentHandle
	Timestamp  time.Time
	Interval   time.Duration
	Open       fixedpoint.FixedNumber
	High       fixedpoint.FixedNumber
	Low        fixedpoint.FixedNumber
	Close      fixedpoint.FixedNumber
	Volume     fixedpoint.FixedNumber
}

// OrderState is a node in the trade-order lifecycle state machine:
//
//	None -> Unknown -> {Placed, Failed}
//	Placed -> {PartialFilled, Filled, PartialCancelled, Cancelled, Unknown}
//	PartialFilled -> {Filled, Cancelled, PartialCancelled}
//
// Failed, Filled and Cancelled are terminal from the connector's point
// of view.
type OrderState int

const (
	StateNone OrderState = iota
	StateUnknown
	StatePlaced
	StateFilled
	StatePartialFilled
	StatePartialCancelled
	StateCancelled
	StateFailed
)

func (s OrderState) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateUnknown:
		return "unknown"
	case StatePlaced:
		return "placed"
	case StateFilled:
		return "filled"
	case StatePartialFilled:
		return "partial_filled"
	case StatePartialCancelled:
		return "partial_cancelled"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// OrderStatus is the mutable sub-record of a TradeOrder.
type OrderStatus struct {
	State          OrderState
	OrderID        string
	FilledAmount   fixedpoint.FixedNumber
	FilledPrice    fixedpoint.FixedNumber
	CreatedTs      time.Time
	FinishedTs     time.Time
	CancelledTs    time.Time
}

// Swap exchanges the contents of s and other, used by UpdateOrderStatus
// to hand back the old status while installing the new one. The
// exchange is not atomic.
func (s *OrderStatus) Swap(other *OrderStatus) {
	*s, *other = *other, *s
}

// TradeOrder is owned by its creator (the strategy, conceptually) and
// carries everything needed to place, track and cancel it.
type TradeOrder struct {
	Instrument    registry.InstrumentHandle
	Direction     OrderDir
	ExecutionType ExecutionType
	Amount        fixedpoint.FixedNumber
	Price         fixedpoint.FixedNumber
	Status        OrderStatus
	UserData      any
	ConnectorRef  string // name of the owning connector, for routing/logging
}

// TradeConstraints are the per-instrument trading limits and commission
// policy a connector enforces before placing an order.
type TradeConstraints struct {
	PriceMin    fixedpoint.FixedNumber
	PriceMax    fixedpoint.FixedNumber
	PriceQuantum  fixedpoint.FixedNumber
	AmountMin    fixedpoint.FixedNumber
	AmountMax    fixedpoint.FixedNumber
	AmountQuantum fixedpoint.FixedNumber
	TotalMin    fixedpoint.FixedNumber
	TotalMax    fixedpoint.FixedNumber
	TotalQuantum  fixedpoint.FixedNumber

	CommissionStrategy commission.Strategy
}

// ReservationSource is the capability a Mixed Order Book item delegates
// its reservation accounting to: the exchange that actually owns the
// balance/order-book bookkeeping for that price line.
type ReservationSource interface {
	ReserveItem(instrument registry.InstrumentHandle, dir OrderDir, price, currentAmount, amountToReserve fixedpoint.FixedNumber) bool
	UnreserveItem(instrument registry.InstrumentHandle, dir OrderDir, price, amountToReserve fixedpoint.FixedNumber) bool
	GetItemReserve(instrument registry.InstrumentHandle, dir OrderDir, price fixedpoint.FixedNumber) float64
}

// StockDataObserver receives normalised market-data callbacks from a
// Price Connector.
type StockDataObserver interface {
	InvalidateData(instrument registry.InstrumentHandle)
	OrderbookEntryAdded(entry OrderBookEntry)
	OrderbookEntriesBulk(entries []OrderBookEntry, recvTimestamp time.Time)
	CandleStickEntryAdded(entry CandlestickEntry)
	SymbolAdded(handle registry.SymbolHandle)
	InstrumentAdded(handle registry.InstrumentHandle)
	DataConnectorError(err error)
}

// TradeExchangeObserver receives order/balance/error callbacks from a
// Trade Connector.
type TradeExchangeObserver interface {
	OrderStatusChanged(order *TradeOrder, oldStatus OrderStatus, tag ProfilingTag)
	BalanceReceived(symbol registry.SymbolHandle, value fixedpoint.FixedNumber, tag ProfilingTag)
	TradingConnectorError(err error)
}
