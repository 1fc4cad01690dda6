// Package factory implements the venue factory registry:
// ExchangeFactoryManager/TradeExchangeFactory in the reference
// implementation. Each venue package exposes a Register function that
// the composition root calls explicitly (cmd/connectord's registrar
// table) to add a Factory under the venue's own name; the root then
// looks venues up by name rather than using each venue package's types.
package factory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"tradeconnect/pkg/connector"
	"tradeconnect/pkg/registry"
)

// PriceConnector is the venue-agnostic surface the composition root drives
// a Price Connector through: the public operations of §4.6, not just
// construction. Every venue package's concrete connector type must satisfy
// this so the root never imports a venue package directly.
type PriceConnector interface {
	Config(raw []byte, reg *registry.InstrumentRegistry) error
	Start() error
	Stop()
	Subscribe(handles []registry.InstrumentHandle)
	FetchStack(ctx context.Context, instrument registry.InstrumentHandle) error
	FetchCandleSticks(ctx context.Context, instrument registry.InstrumentHandle, intervalSeconds int64, since int64) error
	FetchSymbols(reg *registry.InstrumentRegistry)
	FetchInstruments(reg *registry.InstrumentRegistry)
}

// TradeConnector is the trade-side equivalent of PriceConnector, covering
// the public operations of §4.7.
type TradeConnector interface {
	Config(raw []byte, reg *registry.InstrumentRegistry) error
	Start() error
	Stop()
	PlaceOrder(order *connector.TradeOrder) bool
	CancelOrder(order *connector.TradeOrder) bool
	GetOrderStatus(order *connector.TradeOrder) bool
	GetOrdersList() bool
	GetBalance() bool
	GetTakerFee() float64
}

// Factory constructs both connector halves for one venue.
type Factory interface {
	Name() string
	CreatePriceConnector(observer connector.StockDataObserver) PriceConnector
	CreateTradeConnector(observer connector.TradeExchangeObserver) TradeConnector
}

// Registry is the process-wide table of registered venue factories.
// Unlike the reference implementation's singleton ExchangeFactoryManager,
// Registry is an explicit handle threaded through the composition root —
// but registering two factories under the same name is still fatal, the
// same invariant the source enforced with its map.emplace failure check.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds f under f.Name(). Registering a second factory under a
// name already present panics, mirroring the source's
// "Exchange '<name>' already exists!" failure.
func (r *Registry) Register(f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := f.Name()
	if _, exists := r.factories[name]; exists {
		panic(fmt.Sprintf("factory: venue %q already registered", name))
	}
	r.factories[name] = f
}

// Factories returns every registered factory, sorted by name for
// deterministic iteration.
func (r *Registry) Factories() []Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Factory, 0, len(r.factories))
	for _, f := range r.factories {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// CreatePriceConnector looks up name and constructs its Price Connector.
// An unknown venue name panics, mirroring the source's
// "Exchange '<type>' does not exist!" failure.
func (r *Registry) CreatePriceConnector(name string, observer connector.StockDataObserver) PriceConnector {
	f := r.lookup(name)
	return f.CreatePriceConnector(observer)
}

// CreateTradeConnector looks up name and constructs its Trade Connector.
func (r *Registry) CreateTradeConnector(name string, observer connector.TradeExchangeObserver) TradeConnector {
	f := r.lookup(name)
	return f.CreateTradeConnector(observer)
}

func (r *Registry) lookup(name string) Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.factories[name]
	if !ok {
		panic(fmt.Sprintf("factory: venue %q does not exist", name))
	}
	return f
}
