package domain

import "fmt"

// TechnicalAnalysis is the indicator vector computed for one candle. Indicator
// fields are pointers: an indicator whose period exceeds the available history
// is nil and serializes as JSON null.
type TechnicalAnalysis struct {
	Symbol    Symbol    `json:"symbol"`
	Timeframe Timeframe `json:"timeframe"`
	Exchange  Exchange  `json:"exchange"`
	Asset     Asset     `json:"asset"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	Timestamp int64     `json:"timestamp"`
	Start     int64     `json:"start"`
	End       int64     `json:"end"`

	RSI9  *float64 `json:"rsi_9"`
	RSI14 *float64 `json:"rsi_14"`
	RSI21 *float64 `json:"rsi_21"`
	RSI28 *float64 `json:"rsi_28"`

	MACD       *float64 `json:"macd"`
	MACDSignal *float64 `json:"macd_signal"`
	MACDHist   *float64 `json:"macd_hist"`

	BBandsUpper  *float64 `json:"bbands_upper"`
	BBandsMiddle *float64 `json:"bbands_middle"`
	BBandsLower  *float64 `json:"bbands_lower"`

	StochRSIFastK *float64 `json:"stochrsi_fastk"`
	StochRSIFastD *float64 `json:"stochrsi_fastd"`

	ADX *float64 `json:"adx"`

	VolumeEMA *float64 `json:"volume_ema"`

	IchimokuConv  *float64 `json:"ichimoku_conv"`
	IchimokuBase  *float64 `json:"ichimoku_base"`
	IchimokuSpanA *float64 `json:"ichimoku_span_a"`
	IchimokuSpanB *float64 `json:"ichimoku_span_b"`

	MFI *float64 `json:"mfi"`
	ATR *float64 `json:"atr"`
	ROC *float64 `json:"roc"`

	SMA7  *float64 `json:"sma_7"`
	SMA14 *float64 `json:"sma_14"`
	SMA21 *float64 `json:"sma_21"`
	SMA28 *float64 `json:"sma_28"`
}

// NewTechnicalAnalysis copies the candle properties into an indicator record
// with every indicator still unset.
func NewTechnicalAnalysis(c Candle) TechnicalAnalysis {
	return TechnicalAnalysis{
		Symbol:    c.Symbol,
		Timeframe: c.Timeframe,
		Exchange:  c.Exchange,
		Asset:     c.Symbol.Asset(),
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
		Timestamp: c.Timestamp,
		Start:     c.Start,
		End:       c.End,
	}
}

// Key identifies one TA record: "{symbol}-{timeframe}-{timestamp}".
func (ta TechnicalAnalysis) Key() string {
	return fmt.Sprintf("%s-%s-%d", ta.Symbol, ta.Timeframe, ta.Timestamp)
}
