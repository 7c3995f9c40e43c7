// Package features materializes the indicator stream into Postgres, one row
// per closed candle window. Because partial candles re-emit the same window
// bounds, the sink upserts on (symbol, timeframe, start_ms, end_ms) and keeps
// the last-seen row.
package features

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/marketflow/marketflow/internal/domain"
	"github.com/marketflow/marketflow/internal/metrics"
	"github.com/marketflow/marketflow/internal/stream"
)

const tableName = "ta_features"

const schema = `
CREATE TABLE IF NOT EXISTS ta_features (
	symbol     TEXT             NOT NULL,
	timeframe  TEXT             NOT NULL,
	start_ms   BIGINT           NOT NULL,
	end_ms     BIGINT           NOT NULL,
	ts_ms      BIGINT           NOT NULL,
	exchange   TEXT             NOT NULL,
	open       DOUBLE PRECISION NOT NULL,
	high       DOUBLE PRECISION NOT NULL,
	low        DOUBLE PRECISION NOT NULL,
	close      DOUBLE PRECISION NOT NULL,
	volume     DOUBLE PRECISION NOT NULL,
	features   JSONB            NOT NULL,
	updated_at TIMESTAMPTZ      NOT NULL DEFAULT now(),
	PRIMARY KEY (symbol, timeframe, start_ms, end_ms)
)`

const upsert = `
INSERT INTO ta_features
	(symbol, timeframe, start_ms, end_ms, ts_ms, exchange, open, high, low, close, volume, features)
VALUES
	($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (symbol, timeframe, start_ms, end_ms) DO UPDATE SET
	ts_ms = EXCLUDED.ts_ms,
	open = EXCLUDED.open,
	high = EXCLUDED.high,
	low = EXCLUDED.low,
	close = EXCLUDED.close,
	volume = EXCLUDED.volume,
	features = EXCLUDED.features,
	updated_at = now()`

// retryAfter is how long the consumer pauses when Postgres rejects a write.
const retryAfter = time.Second

// Sink writes indicator rows into Postgres.
type Sink struct {
	db *sqlx.DB
}

// NewSink wraps an open connection pool.
func NewSink(db *sqlx.DB) *Sink {
	return &Sink{db: db}
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*Sink, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect feature store: %w", err)
	}
	return NewSink(db), nil
}

// EnsureSchema creates the feature table when it does not exist.
func (s *Sink) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure feature schema: %w", err)
	}
	return nil
}

// flattenFeatures encodes the record with warm-up nulls replaced by zero, the
// form downstream training jobs consume.
func flattenFeatures(rec domain.TechnicalAnalysis) ([]byte, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var flat map[string]any
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, err
	}
	for k, v := range flat {
		if v == nil {
			flat[k] = 0.0
		}
	}
	return json.Marshal(flat)
}

// Write upserts one indicator record.
func (s *Sink) Write(ctx context.Context, rec domain.TechnicalAnalysis) error {
	featuresJSON, err := flattenFeatures(rec)
	if err != nil {
		return fmt.Errorf("encode feature row: %w", err)
	}
	_, err = s.db.ExecContext(ctx, upsert,
		rec.Symbol, rec.Timeframe, rec.Start, rec.End, rec.Timestamp, rec.Exchange,
		rec.Open, rec.High, rec.Low, rec.Close, rec.Volume, featuresJSON)
	if err != nil {
		return fmt.Errorf("upsert feature row: %w", err)
	}
	metrics.FeatureRowsWritten.WithLabelValues(tableName).Inc()
	return nil
}

// Close releases the connection pool.
func (s *Sink) Close() error {
	return s.db.Close()
}

// Handler adapts the sink to a bus subscription on the indicator topic. A
// failed write surfaces as backpressure so the partition pauses and retries
// instead of losing the row.
func (s *Sink) Handler() stream.Handler {
	return func(ctx context.Context, msg *stream.Message) error {
		var rec domain.TechnicalAnalysis
		if err := json.Unmarshal(msg.Payload, &rec); err != nil {
			log.Error().Err(err).Str("key", msg.Key).Msg("dropping unparseable indicator record")
			metrics.RecordsDropped.WithLabelValues("features").Inc()
			return nil
		}
		metrics.RecordsConsumed.WithLabelValues("features").Inc()
		if err := s.Write(ctx, rec); err != nil {
			log.Warn().Err(err).Str("key", msg.Key).Msg("feature write failed, applying backpressure")
			return &stream.BackpressureError{
				RetryAfter: retryAfter,
				Topic:      msg.Topic,
				Partition:  msg.Partition,
			}
		}
		return nil
	}
}
