package ta

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/marketflow/marketflow/internal/domain"
	"github.com/marketflow/marketflow/internal/metrics"
	"github.com/marketflow/marketflow/internal/stream"
)

// DefaultMaxCandles is the default ring capacity per state key.
const DefaultMaxCandles = 60

// EmitFunc receives each computed indicator record.
type EmitFunc func(ctx context.Context, ta domain.TechnicalAnalysis) error

// Operator is the keyed stateful indicator stage. Per (symbol, timeframe) key
// it keeps a bounded ring of the most recent candles; every incoming candle
// updates the ring and produces one indicator record.
type Operator struct {
	maxCandles int
	emit       EmitFunc
	state      map[string][]domain.Candle
}

// NewOperator creates the operator with the given ring capacity; zero or
// negative selects DefaultMaxCandles.
func NewOperator(maxCandles int, emit EmitFunc) *Operator {
	if maxCandles <= 0 {
		maxCandles = DefaultMaxCandles
	}
	return &Operator{
		maxCandles: maxCandles,
		emit:       emit,
		state:      make(map[string][]domain.Candle),
	}
}

// OnCandle applies the ring update rules under the partition key and emits the
// indicator bundle:
//
//  1. a candle incompatible with the buffered series is dropped;
//  2. a re-emission of the open window replaces the ring tail;
//  3. a new window appends, evicting the oldest candle beyond capacity.
//
// The key is the bus partition key, so a partition that mixes symbols or
// timeframes is caught by the compatibility filter instead of corrupting the
// ring.
func (o *Operator) OnCandle(ctx context.Context, key string, c domain.Candle) error {
	ring := o.state[key]

	if len(ring) > 0 {
		last := ring[len(ring)-1]
		if !c.IsCompatible(&last) {
			log.Warn().
				Str("key", key).
				Str("symbol", string(c.Symbol)).
				Str("timeframe", string(c.Timeframe)).
				Msg("dropping candle incompatible with buffered series")
			metrics.RecordsDropped.WithLabelValues("ta").Inc()
			return nil
		}
		if c.IsSameWindow(&last) {
			ring[len(ring)-1] = c
		} else {
			ring = append(ring, c)
		}
	} else {
		ring = append(ring, c)
	}

	if len(ring) > o.maxCandles {
		ring = ring[len(ring)-o.maxCandles:]
	}
	o.state[key] = ring
	metrics.TABufferDepth.WithLabelValues(key).Set(float64(len(ring)))

	high := make([]float64, len(ring))
	low := make([]float64, len(ring))
	close := make([]float64, len(ring))
	volume := make([]float64, len(ring))
	for i, b := range ring {
		high[i] = b.High
		low[i] = b.Low
		close[i] = b.Close
		volume[i] = b.Volume
	}

	return o.emit(ctx, Compute(c, high, low, close, volume))
}

// BufferLen reports the current ring depth for a partition key.
func (o *Operator) BufferLen(key string) int {
	return len(o.state[key])
}

// Handler adapts the operator to a bus subscription, partitioning state by the
// message key.
func (o *Operator) Handler() stream.Handler {
	return func(ctx context.Context, msg *stream.Message) error {
		var c domain.Candle
		if err := json.Unmarshal(msg.Payload, &c); err != nil {
			log.Error().Err(err).Str("key", msg.Key).Msg("dropping unparseable candle")
			metrics.RecordsDropped.WithLabelValues("ta").Inc()
			return nil
		}
		metrics.RecordsConsumed.WithLabelValues("ta").Inc()
		key := msg.Key
		if key == "" {
			key = c.Key()
		}
		return o.OnCandle(ctx, key, c)
	}
}

// PublishEmit returns an EmitFunc that serializes indicator records onto the
// bus, keyed "{symbol}-{timeframe}-{timestamp}".
func PublishEmit(producer stream.Producer, topic string) EmitFunc {
	return func(ctx context.Context, rec domain.TechnicalAnalysis) error {
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode technical analysis: %w", err)
		}
		if err := producer.Publish(ctx, topic, rec.Key(), payload); err != nil {
			return err
		}
		metrics.RecordsProduced.WithLabelValues("ta").Inc()
		log.Info().Str("key", rec.Key()).Msg("technical analysis")
		return nil
	}
}
