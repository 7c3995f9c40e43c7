// Package trades publishes normalized exchange trades onto the bus: live
// trades to the shared live topic, backfills to a dedicated per-job topic so
// historical pages never interleave with live partitions.
package trades

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/marketflow/marketflow/internal/domain"
	"github.com/marketflow/marketflow/internal/exchange"
	"github.com/marketflow/marketflow/internal/metrics"
	"github.com/marketflow/marketflow/internal/stream"
)

// Producer serializes trades onto one topic, keyed by symbol.
type Producer struct {
	producer stream.Producer
	topic    string
	mode     domain.IngestionMode
}

func NewProducer(producer stream.Producer, topic string, mode domain.IngestionMode) *Producer {
	return &Producer{producer: producer, topic: topic, mode: mode}
}

// Topic returns the topic this producer publishes to.
func (p *Producer) Topic() string {
	return p.topic
}

// Emit adapts the producer to the exchange client callback. A publish failure
// is logged and counted; the stream itself keeps running.
func (p *Producer) Emit(ctx context.Context) exchange.EmitFunc {
	return func(t domain.Trade) {
		payload, err := json.Marshal(t)
		if err != nil {
			log.Error().Err(err).Str("symbol", string(t.Symbol)).Msg("encode trade")
			metrics.RecordsDropped.WithLabelValues("trades").Inc()
			return
		}
		if err := p.producer.Publish(ctx, p.topic, t.Key(), payload); err != nil {
			log.Error().Err(err).Str("symbol", string(t.Symbol)).Str("topic", p.topic).Msg("publish trade")
			metrics.RecordsDropped.WithLabelValues("trades").Inc()
			return
		}
		metrics.TradesIngested.WithLabelValues(string(t.Exchange), string(p.mode)).Inc()
		metrics.RecordsProduced.WithLabelValues("trades").Inc()
	}
}

// RunLive connects the websocket client and streams trades onto the live
// topic until the connection closes or ctx is cancelled. An abnormal close
// surfaces as an error so the supervisor restarts the service.
func RunLive(ctx context.Context, client exchange.LiveClient, p *Producer) error {
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer client.Close()
	log.Info().Str("topic", p.topic).Msg("live trade ingestion started")
	return client.StreamTrades(ctx, p.Emit(ctx))
}

// RunBackfill pages history for each symbol onto a fresh per-job topic and
// returns the job ID. The backfill stops at the first fatal error.
func RunBackfill(ctx context.Context, client exchange.HistoricalClient, bus stream.Producer, baseTopic string, symbols []domain.Symbol, since time.Time) (string, error) {
	jobID := uuid.NewString()
	topic := stream.HistoricalTopic(baseTopic, jobID)
	p := NewProducer(bus, topic, domain.IngestionHistorical)
	log.Info().Str("topic", topic).Time("since", since).Int("symbols", len(symbols)).Msg("historical backfill started")

	for _, sym := range symbols {
		if err := client.StreamTrades(ctx, sym, since, p.Emit(ctx)); err != nil {
			return jobID, err
		}
		log.Info().Str("symbol", string(sym)).Str("job_id", jobID).Msg("symbol backfill complete")
	}
	return jobID, nil
}
