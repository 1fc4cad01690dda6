// Package mixedbook implements the cross-venue consolidated order book:
// MixedOrderBook in the reference implementation. It merges the order
// book lines reported by every connected exchange for one instrument
// into a single queryable view, keyed by (exchange, price).
package mixedbook

import (
	"sort"
	"sync"
	"time"

	"tradeconnect/pkg/connector"
	"tradeconnect/pkg/fixedpoint"
	"tradeconnect/pkg/registry"
)

// Item is one consolidated price line: the displayed amount an exchange
// reports at a price, and the fee-adjusted price that line actually
// clears at once commission is taken into account.
type Item struct {
	Exchange     connector.ReservationSource
	Instrument   registry.InstrumentHandle
	Direction    connector.OrderDir
	Price        fixedpoint.FixedNumber
	PriceWithFee fixedpoint.FixedNumber
	Amount       fixedpoint.FixedNumber
	Timestamp    time.Time
}

// Reserve delegates to the owning exchange's item-reservation accounting
// for this price line.
func (it Item) Reserve(amountToReserve fixedpoint.FixedNumber) bool {
	return it.Exchange.ReserveItem(it.Instrument, it.Direction, it.Price, it.Amount, amountToReserve)
}

// Unreserve delegates to the owning exchange.
func (it Item) Unreserve(amountToUnreserve fixedpoint.FixedNumber) bool {
	return it.Exchange.UnreserveItem(it.Instrument, it.Direction, it.Price, amountToUnreserve)
}

// Reserved returns the amount currently reserved against this price line.
func (it Item) Reserved() float64 {
	return it.Exchange.GetItemReserve(it.Instrument, it.Direction, it.Price)
}

// UnreserveAll releases whatever is currently reserved against this
// price line.
func (it Item) UnreserveAll() {
	it.Unreserve(fixedpoint.FromFloat(it.Reserved(), 8))
}

// exchangePriceKey is the unique-index key a real implementation would
// get from boost::multi_index's composite_key<exchange, price>. Price is
// reduced to its canonical string form (its decimal.Decimal rendering,
// which drops trailing fractional zeros) rather than compared as a raw
// FixedNumber struct, so that two FixedNumbers that are arithmetically
// Equal but differently scaled collide in the map the same way they
// would under FixedNumber's own comparison operators.
type exchangePriceKey struct {
	exchange connector.ReservationSource
	price    string
}

// side holds one direction's book for an instrument. The source keeps
// four live boost::multi_index indexes (exchange+price unique,
// price-ordered, price-with-fee-ordered, exchange-hashed); Go has no
// standard ordered multimap, so the ordered views here are produced by
// sorting a snapshot of the unique index on read. For book sizes typical
// of a handful of venues this is a reasonable trade against maintaining
// three additional live indexes by hand.
type side struct {
	mu    sync.RWMutex
	items map[exchangePriceKey]*Item
	less  func(a, b fixedpoint.FixedNumber) bool
}

func newSide(less func(a, b fixedpoint.FixedNumber) bool) *side {
	return &side{items: make(map[exchangePriceKey]*Item), less: less}
}

func (s *side) update(item Item) {
	key := exchangePriceKey{exchange: item.Exchange, price: item.Price.Decimal().String()}

	s.mu.Lock()
	defer s.mu.Unlock()
	if item.Amount.IsZero() {
		delete(s.items, key)
		return
	}
	stored := item
	s.items[key] = &stored
}

func (s *side) clear(exchange connector.ReservationSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.items {
		if key.exchange == exchange {
			delete(s.items, key)
		}
	}
}

func (s *side) clearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[exchangePriceKey]*Item)
}

// best returns the item whose Price sorts first under s.less, or false
// if the side is empty.
func (s *side) best() (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *Item
	for _, it := range s.items {
		if found == nil || s.less(it.Price, found.Price) {
			found = it
		}
	}
	if found == nil {
		return Item{}, false
	}
	return *found, true
}

func (s *side) sortedByPrice() []Item {
	return s.sortedBy(func(it Item) fixedpoint.FixedNumber { return it.Price })
}

func (s *side) sortedByPriceWithFee() []Item {
	return s.sortedBy(func(it Item) fixedpoint.FixedNumber { return it.PriceWithFee })
}

func (s *side) sortedBy(key func(Item) fixedpoint.FixedNumber) []Item {
	s.mu.RLock()
	out := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, *it)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return s.less(key(out[i]), key(out[j])) })
	return out
}

// MixedOrderBook consolidates the order-book lines reported by every
// connected exchange into one (bids, asks) view for a single
// instrument.
type MixedOrderBook struct {
	instrument registry.InstrumentHandle
	bids       *side
	asks       *side
}

// New constructs an empty book for instrument. Asks sort ascending
// (cheapest first); bids sort descending (highest bid first).
func New(instrument registry.InstrumentHandle) *MixedOrderBook {
	return &MixedOrderBook{
		instrument: instrument,
		bids:       newSide(func(a, b fixedpoint.FixedNumber) bool { return a.Greater(b) }),
		asks:       newSide(func(a, b fixedpoint.FixedNumber) bool { return a.Less(b) }),
	}
}

// Instrument returns the instrument this book consolidates.
func (b *MixedOrderBook) Instrument() registry.InstrumentHandle { return b.instrument }

// Update folds one order-book line reported by exchange into the
// consolidated view, applying fee to derive the effective
// (priceWithFee) the line clears at. Amount == 0 removes the price
// level. Entries for any other instrument are silently dropped.
func (b *MixedOrderBook) Update(exchange connector.ReservationSource, entry connector.OrderBookEntry, fee float64) {
	if entry.Instrument != b.instrument {
		return
	}

	var priceWithFee fixedpoint.FixedNumber
	if entry.Direction == connector.Bid {
		priceWithFee = fixedpoint.FromFloat(entry.Price.Float64()*(1-fee), 8)
	} else {
		priceWithFee = fixedpoint.FromFloat(entry.Price.Float64()/(1-fee), 8)
	}

	item := Item{
		Exchange:     exchange,
		Instrument:   b.instrument,
		Direction:    entry.Direction,
		Price:        entry.Price,
		PriceWithFee: priceWithFee,
		Amount:       entry.Amount,
		Timestamp:    entry.Timestamp,
	}

	if entry.Direction == connector.Bid {
		b.bids.update(item)
	} else {
		b.asks.update(item)
	}
}

// BatchUpdate applies every entry for this instrument in entries,
// skipping ones for other instruments.
func (b *MixedOrderBook) BatchUpdate(exchange connector.ReservationSource, entries []connector.OrderBookEntry, fee float64) {
	for _, e := range entries {
		b.Update(exchange, e, fee)
	}
}

// Snapshot replaces exchange's contribution to the book with entries,
// clearing whatever it previously reported first.
func (b *MixedOrderBook) Snapshot(exchange connector.ReservationSource, entries []connector.OrderBookEntry, fee float64) {
	b.Clear(exchange)
	b.BatchUpdate(exchange, entries, fee)
}

// Clear removes every line contributed by exchange.
func (b *MixedOrderBook) Clear(exchange connector.ReservationSource) {
	b.bids.clear(exchange)
	b.asks.clear(exchange)
}

// ClearAll empties the book across every exchange.
func (b *MixedOrderBook) ClearAll() {
	b.bids.clearAll()
	b.asks.clearAll()
}

// BestBid returns the highest-priced bid line, or the zero Item and
// false if no bids are present.
func (b *MixedOrderBook) BestBid() (Item, bool) { return b.bids.best() }

// BestAsk returns the lowest-priced ask line, or the zero Item and
// false if no asks are present.
func (b *MixedOrderBook) BestAsk() (Item, bool) { return b.asks.best() }

// BestBidPrice mirrors getBestBidPrice: zero if the book has no bids.
func (b *MixedOrderBook) BestBidPrice() fixedpoint.FixedNumber {
	it, ok := b.bids.best()
	if !ok {
		return fixedpoint.Zero
	}
	return it.Price
}

// BestAskPrice mirrors getBestAskPrice: zero if the book has no asks.
func (b *MixedOrderBook) BestAskPrice() fixedpoint.FixedNumber {
	it, ok := b.asks.best()
	if !ok {
		return fixedpoint.Zero
	}
	return it.Price
}

// AsksSortedByPrice returns every ask line ordered cheapest-first.
func (b *MixedOrderBook) AsksSortedByPrice() []Item { return b.asks.sortedByPrice() }

// BidsSortedByPrice returns every bid line ordered highest-first.
func (b *MixedOrderBook) BidsSortedByPrice() []Item { return b.bids.sortedByPrice() }

// AsksSortedByPriceWithFee returns every ask line ordered by its
// fee-adjusted clearing price, cheapest-first.
func (b *MixedOrderBook) AsksSortedByPriceWithFee() []Item { return b.asks.sortedByPriceWithFee() }

// BidsSortedByPriceWithFee returns every bid line ordered by its
// fee-adjusted clearing price, highest-first.
func (b *MixedOrderBook) BidsSortedByPriceWithFee() []Item { return b.bids.sortedByPriceWithFee() }
