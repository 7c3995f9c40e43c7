// Package ta computes the fixed technical-indicator bundle over the most
// recent candles of one (symbol, timeframe) key.
package ta

import (
	"github.com/markcheno/go-talib"

	"github.com/marketflow/marketflow/internal/domain"
)

// Indicator periods. The bundle is fixed; changing a period changes the
// meaning of the downstream feature columns.
const (
	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9

	bbandsPeriod = 20
	bbandsNbDev  = 2.0

	stochRSIPeriod = 10
	stochRSIFastK  = 5
	stochRSIFastD  = 3

	adxPeriod       = 14
	volumeEMAPeriod = 10
	mfiPeriod       = 14
	atrPeriod       = 10
	rocPeriod       = 6

	ichimokuConvPeriod = 9
	ichimokuBasePeriod = 20
	ichimokuSpanPeriod = 40
)

// tail returns the final element of a talib output series, or nil when the
// series is shorter than the indicator's lookback. Each indicator therefore
// yields the single scalar at the end of the input, mirroring streaming
// last-value semantics.
func tail(out []float64, lookback int) *float64 {
	if len(out) == 0 || len(out)-1 < lookback {
		return nil
	}
	v := out[len(out)-1]
	return &v
}

func rsi(close []float64, period int) *float64 {
	if len(close) <= period {
		return nil
	}
	return tail(talib.Rsi(close, period), period)
}

func sma(close []float64, period int) *float64 {
	if len(close) < period {
		return nil
	}
	return tail(talib.Sma(close, period), period-1)
}

func ema(values []float64, period int) *float64 {
	if len(values) < period {
		return nil
	}
	return tail(talib.Ema(values, period), period-1)
}

func macd(close []float64) (m, signal, hist *float64) {
	// MACD output starts after the slow EMA plus the signal EMA warm up.
	lookback := macdSlow - 1 + macdSignal - 1
	if len(close) <= lookback {
		return nil, nil, nil
	}
	outMACD, outSignal, outHist := talib.Macd(close, macdFast, macdSlow, macdSignal)
	return tail(outMACD, lookback), tail(outSignal, lookback), tail(outHist, lookback)
}

func bbands(close []float64) (upper, middle, lower *float64) {
	if len(close) < bbandsPeriod {
		return nil, nil, nil
	}
	u, m, l := talib.BBands(close, bbandsPeriod, bbandsNbDev, bbandsNbDev, talib.SMA)
	lookback := bbandsPeriod - 1
	return tail(u, lookback), tail(m, lookback), tail(l, lookback)
}

func stochRSI(close []float64) (fastK, fastD *float64) {
	// RSI warm-up plus the fast %K and %D smoothing windows.
	lookback := stochRSIPeriod + stochRSIFastK - 1 + stochRSIFastD - 1
	if len(close) <= lookback {
		return nil, nil
	}
	k, d := talib.StochRsi(close, stochRSIPeriod, stochRSIFastK, stochRSIFastD, talib.SMA)
	return tail(k, lookback), tail(d, lookback)
}

func adx(high, low, close []float64) *float64 {
	lookback := 2*adxPeriod - 1
	if len(close) <= lookback {
		return nil
	}
	return tail(talib.Adx(high, low, close, adxPeriod), lookback)
}

func mfi(high, low, close, volume []float64) *float64 {
	if len(close) <= mfiPeriod {
		return nil
	}
	return tail(talib.Mfi(high, low, close, volume, mfiPeriod), mfiPeriod)
}

func atr(high, low, close []float64) *float64 {
	if len(close) <= atrPeriod {
		return nil
	}
	return tail(talib.Atr(high, low, close, atrPeriod), atrPeriod)
}

func roc(close []float64) *float64 {
	if len(close) <= rocPeriod {
		return nil
	}
	return tail(talib.Roc(close, rocPeriod), rocPeriod)
}

// ichimoku follows the EMA-based variant: conversion and base are EMAs of the
// close, span A is their midpoint and span B a longer EMA.
func ichimoku(close []float64) (conv, base, spanA, spanB *float64) {
	conv = ema(close, ichimokuConvPeriod)
	base = ema(close, ichimokuBasePeriod)
	if conv != nil && base != nil {
		mid := (*conv + *base) / 2
		spanA = &mid
	}
	spanB = ema(close, ichimokuSpanPeriod)
	return conv, base, spanA, spanB
}

// Compute fills the indicator bundle for the given candle using the buffered
// high/low/close/volume series (oldest first, the candle itself last). Any
// indicator whose lookback exceeds the series stays nil.
func Compute(candle domain.Candle, high, low, close, volume []float64) domain.TechnicalAnalysis {
	out := domain.NewTechnicalAnalysis(candle)

	out.RSI9 = rsi(close, 9)
	out.RSI14 = rsi(close, 14)
	out.RSI21 = rsi(close, 21)
	out.RSI28 = rsi(close, 28)

	out.MACD, out.MACDSignal, out.MACDHist = macd(close)
	out.BBandsUpper, out.BBandsMiddle, out.BBandsLower = bbands(close)
	out.StochRSIFastK, out.StochRSIFastD = stochRSI(close)

	out.ADX = adx(high, low, close)
	out.VolumeEMA = ema(volume, volumeEMAPeriod)
	out.IchimokuConv, out.IchimokuBase, out.IchimokuSpanA, out.IchimokuSpanB = ichimoku(close)
	out.MFI = mfi(high, low, close, volume)
	out.ATR = atr(high, low, close)
	out.ROC = roc(close)

	out.SMA7 = sma(close, 7)
	out.SMA14 = sma(close, 14)
	out.SMA21 = sma(close, 21)
	out.SMA28 = sma(close, 28)

	return out
}
