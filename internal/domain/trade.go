package domain

import (
	"fmt"
	"time"
)

// Exchange identifies the venue a trade was executed on.
type Exchange string

const (
	ExchangeKraken   Exchange = "KRAKEN"
	ExchangeBinance  Exchange = "BINANCE"
	ExchangeBybit    Exchange = "BYBIT"
	ExchangeBitmex   Exchange = "BITMEX"
	ExchangeBitfinex Exchange = "BITFINEX"
	ExchangeBitget   Exchange = "BITGET"
	ExchangeBitstamp Exchange = "BITSTAMP"
	ExchangeBittrex  Exchange = "BITTREX"
	ExchangeCoinbase Exchange = "COINBASE"
	ExchangeGemini   Exchange = "GEMINI"
)

// Asset is the base currency of a symbol.
type Asset string

const (
	AssetBTC Asset = "BTC"
	AssetETH Asset = "ETH"
	AssetXRP Asset = "XRP"
	AssetXLM Asset = "XLM"
)

// Symbol is a market pair identifier, e.g. BTCUSD. The canonical form is the
// exchange pair with punctuation stripped; the quote currency is always the
// trailing three characters.
type Symbol string

const (
	SymbolXRPUSD Symbol = "XRPUSD"
	SymbolXLMUSD Symbol = "XLMUSD"
	SymbolBTCUSD Symbol = "BTCUSD"
	SymbolETHUSD Symbol = "ETHUSD"
	SymbolBTCEUR Symbol = "BTCEUR"
	SymbolXRPEUR Symbol = "XRPEUR"
	SymbolXLMEUR Symbol = "XLMEUR"
	SymbolETHEUR Symbol = "ETHEUR"
)

var symbolAssets = map[Symbol]Asset{
	SymbolXRPUSD: AssetXRP,
	SymbolXRPEUR: AssetXRP,
	SymbolXLMUSD: AssetXLM,
	SymbolXLMEUR: AssetXLM,
	SymbolBTCUSD: AssetBTC,
	SymbolBTCEUR: AssetBTC,
	SymbolETHUSD: AssetETH,
	SymbolETHEUR: AssetETH,
}

// ParseSymbol validates the given pair string against the closed symbol set.
func ParseSymbol(s string) (Symbol, error) {
	sym := Symbol(s)
	if _, ok := symbolAssets[sym]; !ok {
		return "", fmt.Errorf("unknown symbol %q", s)
	}
	return sym, nil
}

// Asset returns the base asset of the symbol.
func (s Symbol) Asset() Asset {
	return symbolAssets[s]
}

// Base returns the base currency code, e.g. XRP for XRPUSD.
func (s Symbol) Base() string {
	if len(s) < 4 {
		return string(s)
	}
	return string(s[:len(s)-3])
}

// Quote returns the quote currency code, e.g. USD for XRPUSD.
func (s Symbol) Quote() string {
	if len(s) < 4 {
		return ""
	}
	return string(s[len(s)-3:])
}

// IngestionMode selects between the live and the historical trade sources.
type IngestionMode string

const (
	IngestionLive       IngestionMode = "LIVE"
	IngestionHistorical IngestionMode = "HISTORICAL"
)

// StartOffset maps the ingestion mode to the consumer group start position on
// the bus: live consumers pick up only new messages, historical consumers
// replay the topic from the beginning.
func (m IngestionMode) StartOffset() string {
	if m == IngestionHistorical {
		return "0"
	}
	return "$"
}

// Trade is a normalized market trade.
type Trade struct {
	Symbol    Symbol   `json:"symbol"`
	Price     float64  `json:"price"`
	Volume    float64  `json:"volume"`
	Timestamp int64    `json:"timestamp"`
	Exchange  Exchange `json:"exchange"`
}

// Validate checks the trade invariants: positive price and volume, a
// non-negative timestamp and a symbol from the closed set.
func (t Trade) Validate() error {
	if _, err := ParseSymbol(string(t.Symbol)); err != nil {
		return err
	}
	if t.Price <= 0 {
		return fmt.Errorf("trade %s: price must be positive, got %v", t.Symbol, t.Price)
	}
	if t.Volume <= 0 {
		return fmt.Errorf("trade %s: volume must be positive, got %v", t.Symbol, t.Volume)
	}
	if t.Timestamp < 0 {
		return fmt.Errorf("trade %s: negative timestamp %d", t.Symbol, t.Timestamp)
	}
	return nil
}

// Key is the partition key a trade is published under.
func (t Trade) Key() string {
	return string(t.Symbol)
}

// NowTimestamp returns the current wall clock in milliseconds since epoch.
func NowTimestamp() int64 {
	return time.Now().UnixMilli()
}
