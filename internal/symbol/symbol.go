// Package symbol resolves the two spellings brokers use for the same
// instrument: the slashed display form ("BTC/USD") and the compact form
// ("BTCUSD"). The table is built once at startup from config and passed to
// whatever needs to compare symbols.
package symbol

import "strings"

type Table struct {
	slashed map[string]string // compact -> slashed, e.g. BTCUSD -> BTC/USD
}

func NewTable(pairs map[string]string) *Table {
	t := &Table{slashed: make(map[string]string, len(pairs))}
	for compact, slash := range pairs {
		t.slashed[strings.ToUpper(compact)] = strings.ToUpper(slash)
	}
	return t
}

// DefaultPairs covers the crypto pairs the bot trades out of the box.
func DefaultPairs() map[string]string {
	return map[string]string{
		"BTCUSD": "BTC/USD",
		"ETHUSD": "ETH/USD",
		"LTCUSD": "LTC/USD",
	}
}

// Normalize returns the canonical compact uppercase form of a symbol.
// Equity tickers pass through unchanged apart from case.
func (t *Table) Normalize(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "/", ""))
}

// Slashed returns the display form for a registered pair. Unregistered
// symbols report ok=false and keep their input form.
func (t *Table) Slashed(s string) (string, bool) {
	v, ok := t.slashed[t.Normalize(s)]
	if !ok {
		return s, false
	}
	return v, true
}

// Match reports whether two spellings refer to the same instrument.
func (t *Table) Match(a, b string) bool {
	return t.Normalize(a) == t.Normalize(b)
}
