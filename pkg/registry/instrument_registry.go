// Package registry interns trading symbols and currency-pair instruments
// as stable pointer handles, and provides the per-connector bidirectional
// mapping between a venue's own string identifiers and those handles.
package registry

import (
	"sync"
	"sync/atomic"
)

// Symbol is an interned currency code, e.g. "BTC".
type Symbol struct {
	Code string
	Name string
}

// SymbolHandle is an opaque, stable reference to a Symbol. Equality is
// pointer identity.
type SymbolHandle = *Symbol

// Instrument is an ordered (base, quote) pair of symbols, e.g. BTC/USDT.
type Instrument struct {
	Base  SymbolHandle
	Quote SymbolHandle
}

// InstrumentHandle is an opaque, stable reference to an Instrument.
type InstrumentHandle = *Instrument

type instrumentKey struct {
	base, quote SymbolHandle
}

// InstrumentRegistry is the process-wide, append-only set of interned
// symbols and instruments. Per the design note that process-wide state
// should be an explicit dependency handle rather than hidden globals, it
// is constructed once via NewInstrumentRegistry and threaded through the
// connectors that need it — but construction itself still enforces the
// "only one per process" invariant the source's singleton carried,
// surfacing a second construction as the Fatal "duplicate singleton"
// condition from the error taxonomy.
type InstrumentRegistry struct {
	mu sync.RWMutex

	symbols      []SymbolHandle
	symbolByCode map[string]SymbolHandle

	instruments      []InstrumentHandle
	instrumentByKey  map[instrumentKey]InstrumentHandle
	instrumentByName map[[2]string]InstrumentHandle
}

var registryConstructed atomic.Bool

// NewInstrumentRegistry constructs the single process-wide registry.
// Calling it a second time is fatal, mirroring the source's
// constructor-throws-if-instance-exists guard.
func NewInstrumentRegistry() *InstrumentRegistry {
	if !registryConstructed.CompareAndSwap(false, true) {
		panic("registry: InstrumentRegistry already constructed for this process")
	}
	return &InstrumentRegistry{
		symbolByCode:     make(map[string]SymbolHandle),
		instrumentByKey:  make(map[instrumentKey]InstrumentHandle),
		instrumentByName: make(map[[2]string]InstrumentHandle),
	}
}

// resetForTest releases the singleton guard. Test-only.
func resetForTest() {
	registryConstructed.Store(false)
}

// AddSymbol interns code (idempotent: a second call with the same code
// returns the existing handle and does not update name).
func (r *InstrumentRegistry) AddSymbol(code, name string) SymbolHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.symbolByCode[code]; ok {
		return h
	}
	h := &Symbol{Code: code, Name: name}
	r.symbols = append(r.symbols, h)
	r.symbolByCode[code] = h
	return h
}

// FindSymbol returns the handle for code, or nil if never interned.
func (r *InstrumentRegistry) FindSymbol(code string) SymbolHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.symbolByCode[code]
}

// Symbols returns a snapshot of every interned symbol.
func (r *InstrumentRegistry) Symbols() []SymbolHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SymbolHandle, len(r.symbols))
	copy(out, r.symbols)
	return out
}

// AddInstrument interns the (base, quote) pair, idempotent by handle pair.
func (r *InstrumentRegistry) AddInstrument(base, quote SymbolHandle) InstrumentHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := instrumentKey{base, quote}
	if h, ok := r.instrumentByKey[key]; ok {
		return h
	}
	h := &Instrument{Base: base, Quote: quote}
	r.instruments = append(r.instruments, h)
	r.instrumentByKey[key] = h
	r.instrumentByName[[2]string{base.Code, quote.Code}] = h
	return h
}

// AddInstrumentByName interns the symbols (if not already known) and the
// resulting instrument pair.
func (r *InstrumentRegistry) AddInstrumentByName(baseCode, quoteCode string) InstrumentHandle {
	base := r.AddSymbol(baseCode, baseCode)
	quote := r.AddSymbol(quoteCode, quoteCode)
	return r.AddInstrument(base, quote)
}

// FindInstrument returns the handle for (base, quote), or nil.
func (r *InstrumentRegistry) FindInstrument(base, quote SymbolHandle) InstrumentHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instrumentByKey[instrumentKey{base, quote}]
}

// FindInstrumentByName returns the handle for the named pair, or nil if
// either symbol or the pair itself was never interned.
func (r *InstrumentRegistry) FindInstrumentByName(baseCode, quoteCode string) InstrumentHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instrumentByName[[2]string{baseCode, quoteCode}]
}

// Instruments returns a snapshot of every interned instrument.
func (r *InstrumentRegistry) Instruments() []InstrumentHandle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]InstrumentHandle, len(r.instruments))
	copy(out, r.instruments)
	return out
}
