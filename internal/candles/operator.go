// Package candles reduces the trade stream into OHLCV candles over tumbling,
// epoch-aligned windows.
package candles

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/marketflow/marketflow/internal/domain"
	"github.com/marketflow/marketflow/internal/metrics"
	"github.com/marketflow/marketflow/internal/stream"
)

// EmitFunc receives each candle the operator emits. Start and End are always
// stamped: in LIVE mode they describe the currently open window.
type EmitFunc func(ctx context.Context, c domain.Candle) error

// window is the per-key reducer state: the running candle plus its bounds.
type window struct {
	candle domain.Candle
	start  int64
	end    int64
}

// Operator is the tumbling-window reducer, keyed by (exchange, symbol).
// Windowing uses message time from the trade payload, never broker time.
type Operator struct {
	timeframe domain.Timeframe
	mode      domain.EmissionMode
	emit      EmitFunc
	state     map[string]*window
}

// NewOperator creates a reducer for one timeframe and emission mode.
func NewOperator(tf domain.Timeframe, mode domain.EmissionMode, emit EmitFunc) *Operator {
	return &Operator{
		timeframe: tf,
		mode:      mode,
		emit:      emit,
		state:     make(map[string]*window),
	}
}

// OnTrade folds one trade into its window. The first trade of a window
// installs a fresh candle; later trades update it. Crossing a window boundary
// finalizes the previous candle first (FULL mode emits it exactly once).
func (o *Operator) OnTrade(ctx context.Context, t domain.Trade) error {
	key := fmt.Sprintf("%s|%s", t.Exchange, t.Symbol)
	start, end := o.timeframe.WindowBounds(t.Timestamp)

	w, ok := o.state[key]
	switch {
	case !ok:
		w = &window{candle: domain.NewCandle(o.timeframe, t), start: start, end: end}
		o.state[key] = w

	case t.Timestamp >= w.end:
		if o.mode == domain.EmissionFull {
			if err := o.emit(ctx, w.candle.CloseWindow(w.start, w.end)); err != nil {
				return err
			}
			metrics.CandlesEmitted.WithLabelValues(string(o.mode)).Inc()
		}
		w.candle = domain.NewCandle(o.timeframe, t)
		w.start, w.end = start, end

	case t.Timestamp < w.start:
		// A trade behind the open window would corrupt a candle that may
		// already have been emitted downstream.
		log.Warn().
			Str("key", key).
			Int64("timestamp", t.Timestamp).
			Int64("window_start", w.start).
			Msg("dropping trade behind the open window")
		metrics.RecordsDropped.WithLabelValues("candles").Inc()
		return nil

	default:
		w.candle.Update(t)
	}

	if o.mode == domain.EmissionLive {
		if err := o.emit(ctx, w.candle.CloseWindow(w.start, w.end)); err != nil {
			return err
		}
		metrics.CandlesEmitted.WithLabelValues(string(o.mode)).Inc()
	}
	return nil
}

// Handler adapts the operator to a bus subscription: it decodes and validates
// each trade payload, dropping malformed records.
func (o *Operator) Handler() stream.Handler {
	return func(ctx context.Context, msg *stream.Message) error {
		var t domain.Trade
		if err := json.Unmarshal(msg.Payload, &t); err != nil {
			log.Error().Err(err).Str("key", msg.Key).Msg("dropping unparseable trade")
			metrics.RecordsDropped.WithLabelValues("candles").Inc()
			return nil
		}
		if err := t.Validate(); err != nil {
			log.Error().Err(err).Str("key", msg.Key).Msg("dropping invalid trade")
			metrics.RecordsDropped.WithLabelValues("candles").Inc()
			return nil
		}
		return o.OnTrade(ctx, t)
	}
}

// PublishEmit returns an EmitFunc that serializes candles onto the bus topic,
// keyed by (exchange, symbol).
func PublishEmit(producer stream.Producer, topic string, mode domain.EmissionMode) EmitFunc {
	return func(ctx context.Context, c domain.Candle) error {
		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode candle: %w", err)
		}
		if err := producer.Publish(ctx, topic, c.Key(), payload); err != nil {
			return err
		}
		log.Info().
			Str("exchange", string(c.Exchange)).
			Str("symbol", string(c.Symbol)).
			Str("timeframe", string(c.Timeframe)).
			Str("mode", string(mode)).
			Int64("timestamp", c.Timestamp).
			Msg("candle")
		return nil
	}
}
