// Package exchangebase implements the balance and order-book reservation
// bookkeeping shared by every trade connector: BaseTradeExchangeConnector
// in the reference implementation.
package exchangebase

import (
	"math"
	"sync"
	"sync/atomic"

	"tradeconnect/internal/metrics"
	"tradeconnect/pkg/commission"
	"tradeconnect/pkg/connector"
	"tradeconnect/pkg/fixedpoint"
	"tradeconnect/pkg/registry"
)

// residualZero is the tolerance within which a reservation residual is
// treated as exactly zero and the entry evicted, matching the source's
// ±1e-13 cleanup after floating point unreserve.
const residualZero = 0.0000000000001

// balanceCell is an (available, reserved) pair updated via lock-free
// compare-and-swap retry loops, mirroring the source's
// atomic<double> pair.
type balanceCell struct {
	available atomic.Uint64 // math.Float64bits
	reserved  atomic.Uint64
}

func loadFloat(a *atomic.Uint64) float64  { return math.Float64frombits(a.Load()) }
func storeFloat(a *atomic.Uint64, v float64) { a.Store(math.Float64bits(v)) }
func casFloat(a *atomic.Uint64, old, new float64) bool {
	return a.CompareAndSwap(math.Float64bits(old), math.Float64bits(new))
}

// instrumentReserve is the per-instrument order-book reservation map,
// keyed by (direction, price).
type instrumentReserve struct {
	mu      sync.Mutex
	reserve [2]map[string]float64 // index by connector.OrderDir
}

func newInstrumentReserve() *instrumentReserve {
	return &instrumentReserve{reserve: [2]map[string]float64{make(map[string]float64), make(map[string]float64)}}
}

// Base implements balance bookkeeping with atomic reservation accounting
// and per-instrument order-book reservations. Venue-specific trade
// connectors embed it and add their own wire-protocol handling on top.
type Base struct {
	observer connector.TradeExchangeObserver
	name     string

	makerFee, takerFee        atomic.Uint64 // math.Float64bits
	defaultCommissionStrategy atomic.Value  // commission.Strategy

	mu               sync.RWMutex
	balances         map[registry.SymbolHandle]*balanceCell
	orderBookReserve map[registry.InstrumentHandle]*instrumentReserve
	constraints      map[registry.InstrumentHandle]connector.TradeConstraints

	metricsMu sync.RWMutex
	metrics   *metrics.Metrics
	venue     string
}

// SetMetrics attaches a shared metrics bundle the base reports
// reservation failures through, labelled with venue. It is safe to call
// at any time.
func (b *Base) SetMetrics(m *metrics.Metrics, venue string) {
	b.metricsMu.Lock()
	defer b.metricsMu.Unlock()
	b.metrics = m
	b.venue = venue
}

func (b *Base) metricsSnapshot() (*metrics.Metrics, string) {
	b.metricsMu.RLock()
	defer b.metricsMu.RUnlock()
	return b.metrics, b.venue
}

func (b *Base) recordReservationFailure(kind string) {
	if m, venue := b.metricsSnapshot(); m != nil {
		m.ReservationFailures.WithLabelValues(venue, kind).Inc()
	}
}

// New constructs a Base, pre-populating it with every symbol and
// instrument already known to reg — matching the source constructor,
// which seeds the new connector from whatever the process-wide registry
// already holds.
func New(observer connector.TradeExchangeObserver, reg *registry.InstrumentRegistry) *Base {
	b := &Base{
		observer:         observer,
		balances:         make(map[registry.SymbolHandle]*balanceCell),
		orderBookReserve: make(map[registry.InstrumentHandle]*instrumentReserve),
		constraints:      make(map[registry.InstrumentHandle]connector.TradeConstraints),
	}
	b.defaultCommissionStrategy.Store(commission.External())

	if reg != nil {
		for _, s := range reg.Symbols() {
			b.AddSymbol(s)
		}
		for _, i := range reg.Instruments() {
			b.AddInstrument(i)
		}
	}
	return b
}

// CreateOrder returns a freshly zeroed TradeOrder owned by this connector.
func (b *Base) CreateOrder() *connector.TradeOrder {
	return &connector.TradeOrder{ConnectorRef: b.GetName()}
}

// UpdateOrderStatus swaps the new status into order and forwards the
// previous status to the observer, if one is set, together with a
// profiling tag. The swap is a plain struct exchange and is not
// synchronised against concurrent readers of order.Status.
func (b *Base) UpdateOrderStatus(order *connector.TradeOrder, status connector.OrderStatus, tag connector.ProfilingTag) {
	order.Status.Swap(&status)
	if b.observer == nil {
		return
	}
	b.observer.OrderStatusChanged(order, status, tag)
}

// GetBalance returns available-reserved for symbol, lazily initialising
// an unseen symbol to (0, 0).
func (b *Base) GetBalance(symbol registry.SymbolHandle) float64 {
	b.mu.RLock()
	cell, ok := b.balances[symbol]
	b.mu.RUnlock()
	if !ok {
		b.mu.Lock()
		cell, ok = b.balances[symbol]
		if !ok {
			cell = &balanceCell{}
			b.balances[symbol] = cell
		}
		b.mu.Unlock()
		return 0
	}
	return loadFloat(&cell.available) - loadFloat(&cell.reserved)
}

// ReserveBalance reserves quantity against symbol's balance via a
// compare-and-swap retry loop so concurrent reservers never double-book.
// After a successful CAS, it re-reads available and, if it has since
// dropped below the new reservation, compensates by unreserving —
// best-effort consistency against stock balance updates racing in.
func (b *Base) ReserveBalance(symbol registry.SymbolHandle, quantity float64) bool {
	b.mu.RLock()
	cell, ok := b.balances[symbol]
	b.mu.RUnlock()
	if !ok {
		b.recordReservationFailure("balance")
		return false
	}

	currentReserve := loadFloat(&cell.reserved)
	var newReserve float64
	for {
		available := loadFloat(&cell.available)
		newReserve = currentReserve + quantity
		if available-currentReserve-quantity < 0 || newReserve < 0 {
			b.recordReservationFailure("balance")
			return false
		}
		if casFloat(&cell.reserved, currentReserve, newReserve) {
			break
		}
		currentReserve = loadFloat(&cell.reserved)
	}

	currentBalance := loadFloat(&cell.available) - newReserve
	if currentBalance < 0 {
		b.UnreserveBalance(symbol, quantity)
		b.recordReservationFailure("balance")
		return false
	}
	return true
}

// UnreserveBalance releases quantity from symbol's reservation. It should
// always succeed for a known symbol.
func (b *Base) UnreserveBalance(symbol registry.SymbolHandle, quantity float64) bool {
	b.mu.RLock()
	cell, ok := b.balances[symbol]
	b.mu.RUnlock()
	if !ok {
		return false
	}

	for {
		currentReserve := loadFloat(&cell.reserved)
		newReserve := currentReserve - quantity
		if casFloat(&cell.reserved, currentReserve, newReserve) {
			return true
		}
	}
}

// ReserveItem reserves amountToReserve against the (direction, price)
// line of an order book. currentAmount is the displayed amount at that
// price — on the Ask side it must stay >= the cumulative reservation; on
// the Bid side (where amounts are negative) the cumulative reservation
// must stay >= the displayed amount, i.e. no more negative than it.
func (b *Base) ReserveItem(instrument registry.InstrumentHandle, dir connector.OrderDir, price, currentAmount, amountToReserve fixedpoint.FixedNumber) bool {
	b.mu.RLock()
	ir, ok := b.orderBookReserve[instrument]
	b.mu.RUnlock()
	if !ok {
		b.recordReservationFailure("orderbook")
		return false
	}

	ir.mu.Lock()
	defer ir.mu.Unlock()

	key := price.String()
	current := ir.reserve[dir][key]
	next := current + amountToReserve.Float64()

	if currentAmount.Float64() > 0 {
		if next > currentAmount.Float64() {
			b.recordReservationFailure("orderbook")
			return false
		}
	} else {
		if next < currentAmount.Float64() {
			b.recordReservationFailure("orderbook")
			return false
		}
	}

	ir.reserve[dir][key] = next
	return true
}

// GetItemReserve returns the currently reserved amount at (direction,
// price), or 0 if nothing is reserved there.
func (b *Base) GetItemReserve(instrument registry.InstrumentHandle, dir connector.OrderDir, price fixedpoint.FixedNumber) float64 {
	b.mu.RLock()
	ir, ok := b.orderBookReserve[instrument]
	b.mu.RUnlock()
	if !ok {
		return 0
	}

	ir.mu.Lock()
	defer ir.mu.Unlock()
	return ir.reserve[dir][price.String()]
}

// UnreserveItem decrements the reservation at (direction, price),
// evicting the entry once the residual is within ±1e-13 of zero.
func (b *Base) UnreserveItem(instrument registry.InstrumentHandle, dir connector.OrderDir, price, amountToReserve fixedpoint.FixedNumber) bool {
	b.mu.RLock()
	ir, ok := b.orderBookReserve[instrument]
	b.mu.RUnlock()
	if !ok {
		return false
	}

	ir.mu.Lock()
	defer ir.mu.Unlock()

	key := price.String()
	remaining := ir.reserve[dir][key] - amountToReserve.Float64()
	if remaining > -residualZero && remaining < residualZero {
		delete(ir.reserve[dir], key)
	} else {
		ir.reserve[dir][key] = remaining
	}
	return true
}

// AddSymbol registers symbol with a zeroed balance cell.
func (b *Base) AddSymbol(symbol registry.SymbolHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[symbol] = &balanceCell{}
}

// AddInstrument registers instrument with an empty reservation map.
func (b *Base) AddInstrument(instrument registry.InstrumentHandle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orderBookReserve[instrument] = newInstrumentReserve()
}

// UpdateBalance stores the new available balance and forwards it to the
// observer.
func (b *Base) UpdateBalance(symbol registry.SymbolHandle, value fixedpoint.FixedNumber, tag connector.ProfilingTag) {
	b.mu.RLock()
	cell, ok := b.balances[symbol]
	b.mu.RUnlock()
	if ok {
		storeFloat(&cell.available, value.Float64())
	}
	if b.observer != nil {
		b.observer.BalanceReceived(symbol, value, tag)
	}
}

// SetConnectorError forwards err to the observer.
func (b *Base) SetConnectorError(err error) {
	if b.observer != nil {
		b.observer.TradingConnectorError(err)
	}
}

// GetTakerFee returns the configured taker fee.
func (b *Base) GetTakerFee() float64 { return math.Float64frombits(b.takerFee.Load()) }

// SetTakerFee overrides the taker fee.
func (b *Base) SetTakerFee(fee float64) { b.takerFee.Store(math.Float64bits(fee)) }

// GetMakerFee returns the configured maker fee.
func (b *Base) GetMakerFee() float64 { return math.Float64frombits(b.makerFee.Load()) }

// SetMakerFee overrides the maker fee.
func (b *Base) SetMakerFee(fee float64) { b.makerFee.Store(math.Float64bits(fee)) }

// GetConstraints returns the constraints configured for handle, falling
// back to a zero-valued constraint carrying the default commission
// strategy if none was set.
func (b *Base) GetConstraints(handle registry.InstrumentHandle) connector.TradeConstraints {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if c, ok := b.constraints[handle]; ok {
		return c
	}
	return connector.TradeConstraints{CommissionStrategy: b.defaultCommissionStrategy.Load().(commission.Strategy)}
}

// AddConstraints sets the constraints for handle, defaulting the
// commission strategy if the caller left it nil.
func (b *Base) AddConstraints(handle registry.InstrumentHandle, c connector.TradeConstraints) {
	if c.CommissionStrategy == nil {
		c.CommissionStrategy = b.defaultCommissionStrategy.Load().(commission.Strategy)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.constraints[handle] = c
}

// SetDefaultCommissionStrategy changes the fallback used by
// GetConstraints/AddConstraints.
func (b *Base) SetDefaultCommissionStrategy(s commission.Strategy) {
	b.defaultCommissionStrategy.Store(s)
}

// GetName returns the connector's configured name.
func (b *Base) GetName() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.name
}

// SetName sets the connector's name, as it appears in configuration.
func (b *Base) SetName(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.name = name
}
