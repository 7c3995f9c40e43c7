// Package kraken adapts the Kraken v2 websocket and public REST APIs to the
// normalized trade stream.
package kraken

import (
	"strings"

	"github.com/marketflow/marketflow/internal/domain"
)

// ToPair converts a canonical symbol to Kraken's slashed pair form, e.g.
// XRPUSD -> XRP/USD. The quote currency is the trailing three characters, so
// the conversion round-trips for 6- and 7-character symbols.
func ToPair(s domain.Symbol) string {
	return s.Base() + "/" + s.Quote()
}

// FromPair converts a Kraken pair back to the canonical symbol.
func FromPair(pair string) (domain.Symbol, error) {
	return domain.ParseSymbol(strings.ReplaceAll(pair, "/", ""))
}
