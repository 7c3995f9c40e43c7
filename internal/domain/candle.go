package domain

import "fmt"

// Timeframe is the window length of a candle.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1D  Timeframe = "1D"
	Timeframe1W  Timeframe = "1W"
	Timeframe1M  Timeframe = "1M"
)

var timeframeSeconds = map[Timeframe]int64{
	Timeframe1m:  60,
	Timeframe5m:  60 * 5,
	Timeframe15m: 60 * 15,
	Timeframe30m: 60 * 30,
	Timeframe1h:  60 * 60,
	Timeframe4h:  60 * 60 * 4,
	Timeframe1D:  60 * 60 * 24,
	Timeframe1W:  60 * 60 * 24 * 7,
	Timeframe1M:  60 * 60 * 24 * 30,
}

// ParseTimeframe validates a timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeSeconds[tf]; !ok {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

// Seconds returns the window length in seconds.
func (tf Timeframe) Seconds() int64 {
	return timeframeSeconds[tf]
}

// Millis returns the window length in milliseconds.
func (tf Timeframe) Millis() int64 {
	return tf.Seconds() * 1000
}

// WindowBounds returns the epoch-aligned tumbling window that contains the
// given millisecond timestamp.
func (tf Timeframe) WindowBounds(ts int64) (start, end int64) {
	t := tf.Millis()
	start = (ts / t) * t
	return start, start + t
}

// EmissionMode selects when the candle operator emits.
//
// LIVE emits the partial candle after every trade, FULL emits once per closed
// window.
type EmissionMode string

const (
	EmissionLive EmissionMode = "LIVE"
	EmissionFull EmissionMode = "FULL"
)

// Candle is an OHLCV bar over one tumbling window. Start and End are zero
// until the window is stamped by CloseWindow.
type Candle struct {
	Symbol    Symbol    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Exchange  Exchange  `json:"exchange"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp int64     `json:"timestamp"`
	Start     int64     `json:"start"`
	End       int64     `json:"end"`
}

// NewCandle initializes a candle from the first trade of a window.
func NewCandle(tf Timeframe, first Trade) Candle {
	return Candle{
		Symbol:    first.Symbol,
		Timeframe: tf,
		Exchange:  first.Exchange,
		Open:      first.Price,
		High:      first.Price,
		Low:       first.Price,
		Close:     first.Price,
		Volume:    first.Volume,
		Timestamp: first.Timestamp,
	}
}

// Update folds one more trade into the candle: high/low widen, close and
// timestamp advance, volume accumulates.
func (c *Candle) Update(t Trade) {
	if t.Price > c.High {
		c.High = t.Price
	}
	if t.Price < c.Low {
		c.Low = t.Price
	}
	c.Close = t.Price
	c.Volume += t.Volume
	c.Timestamp = t.Timestamp
}

// CloseWindow stamps the window bounds onto a copy of the candle. Stamping the
// same bounds twice yields the same candle.
func (c Candle) CloseWindow(start, end int64) Candle {
	c.Start = start
	c.End = end
	return c
}

// IsCompatible reports whether both candles share symbol and timeframe.
func (c Candle) IsCompatible(other *Candle) bool {
	if other == nil {
		return false
	}
	return c.Symbol == other.Symbol && c.Timeframe == other.Timeframe
}

// IsSameWindow reports whether both candles are compatible and cover the same
// stamped window.
func (c Candle) IsSameWindow(other *Candle) bool {
	return c.IsCompatible(other) && c.Start == other.Start && c.End == other.End
}

// Key is the partition key a candle is published under.
func (c Candle) Key() string {
	return fmt.Sprintf("%s|%s", c.Exchange, c.Symbol)
}
