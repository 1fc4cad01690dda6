// Package okex is one concrete venue adapter: it wires priceconn and
// tradeconn onto an OKEx-shaped websocket/REST dialect, grounded on
// adapter_price.cpp/adapter_trade.cpp in the reference implementation.
// It exists to exercise the framework end to end, not as a complete
// trading integration.
package okex

import (
	"encoding/json"
	"fmt"

	"tradeconnect/pkg/registry"
)

// Config is the per-connector JSON configuration block: the exchange
// dictionary plus venue credentials and endpoints.
type Config struct {
	// Dictionary maps a venue instrument string (e.g. "btc_usdt") to a
	// [base, quote] symbol code pair, or a venue symbol string to a
	// single internal symbol code.
	Dictionary map[string]json.RawMessage `json:"dictionary"`
	LimitsURL  string                     `json:"limits-url"`
	APIKey     string                     `json:"api-key"`
	Secret     string                     `json:"secret"`
	WSURL      string                     `json:"ws-url"`
	RESTURL    string                     `json:"rest-url"`
	// MakerFee/TakerFee override the default commission rates a Trade
	// Connector reports to its constraints lookup. nil means "not
	// configured"; the connector keeps whatever default it started with.
	MakerFee *float64 `json:"maker-fee,omitempty"`
	TakerFee *float64 `json:"taker-fee,omitempty"`
}

// ParseConfig decodes raw into a Config.
func ParseConfig(raw []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("okex: parse config: %w", err)
	}
	return cfg, nil
}

// ApplyDictionary resolves every configured translation against reg and
// records it in dict. An entry whose value is a two-element array maps
// an instrument pair; a bare string maps a single symbol.
func ApplyDictionary(cfg Config, reg *registry.InstrumentRegistry, dict *registry.ExchangeDictionary) error {
	for exchangeKey, raw := range cfg.Dictionary {
		var pair [2]string
		if err := json.Unmarshal(raw, &pair); err == nil {
			instrument := reg.FindInstrumentByName(pair[0], pair[1])
			if instrument == nil {
				return fmt.Errorf("okex: dictionary entry %q references unknown instrument %s/%s", exchangeKey, pair[0], pair[1])
			}
			dict.AddInstrumentTranslation(exchangeKey, instrument)
			continue
		}

		var symbolCode string
		if err := json.Unmarshal(raw, &symbolCode); err != nil {
			return fmt.Errorf("okex: dictionary entry %q is neither a pair nor a symbol: %w", exchangeKey, err)
		}
		symbol := reg.FindSymbol(symbolCode)
		if symbol == nil {
			return fmt.Errorf("okex: dictionary entry %q references unknown symbol %s", exchangeKey, symbolCode)
		}
		dict.AddSymbolTranslation(exchangeKey, symbol)
	}
	return nil
}
