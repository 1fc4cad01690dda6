package dashboard

import "time"

// Snapshot is the complete dashboard state served by /api/snapshot and
// pushed as the first WebSocket message after a client connects.
type Snapshot struct {
	Timestamp time.Time        `json:"timestamp"`
	Venues    []VenueStatus    `json:"venues"`
	Books     []InstrumentBook `json:"books"`
	Balances  []BalanceStatus  `json:"balances"`
	Orders    []OrderStatus    `json:"orders"`
}

// VenueStatus reports one venue's connector lifecycle state.
type VenueStatus struct {
	Name                  string `json:"name"`
	PriceConnected        bool   `json:"price_connected"`
	TradeConnected        bool   `json:"trade_connected"`
	SubscribedInstruments int    `json:"subscribed_instruments"`
	LastError             string `json:"last_error,omitempty"`
}

// BookLevel is one side of an instrument's best price: the venue's raw
// price and amount, not fee-adjusted.
type BookLevel struct {
	Price  string `json:"price"`
	Amount string `json:"amount"`
}

// InstrumentBook is the mixed order book's best bid/ask for one
// instrument across every contributing venue.
type InstrumentBook struct {
	Instrument string     `json:"instrument"`
	BestBid    *BookLevel `json:"best_bid,omitempty"`
	BestAsk    *BookLevel `json:"best_ask,omitempty"`
}

// BalanceStatus reports one symbol's available balance on one venue;
// reserved amounts are not reported.
type BalanceStatus struct {
	Venue     string  `json:"venue"`
	Symbol    string  `json:"symbol"`
	Available float64 `json:"available"`
}

// OrderStatus is a recent order state-machine transition, kept in a
// bounded ring so the dashboard can show recent activity without
// retaining full order history.
type OrderStatus struct {
	Venue      string    `json:"venue"`
	OrderID    string    `json:"order_id"`
	Instrument string    `json:"instrument"`
	Direction  string    `json:"direction"`
	State      string    `json:"state"`
	Amount     string    `json:"amount"`
	Price      string    `json:"price"`
	Timestamp  time.Time `json:"timestamp"`
}
