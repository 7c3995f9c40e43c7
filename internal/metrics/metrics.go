// Package metrics holds the prometheus instruments shared by the pipeline
// stages. Everything is registered on the default registry and exposed through
// the health server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsConsumed counts records read from the bus, labeled by stage.
	RecordsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketflow_records_consumed_total",
		Help: "Records consumed from the message bus",
	}, []string{"stage"})

	// RecordsProduced counts records published to the bus, labeled by stage.
	RecordsProduced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketflow_records_produced_total",
		Help: "Records produced to the message bus",
	}, []string{"stage"})

	// RecordsDropped counts malformed or incompatible records dropped by a
	// stage instead of crashing its partition.
	RecordsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketflow_records_dropped_total",
		Help: "Records dropped after failed validation",
	}, []string{"stage"})

	// TradesIngested counts normalized trades per exchange and ingestion mode.
	TradesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketflow_trades_ingested_total",
		Help: "Normalized trades ingested from exchanges",
	}, []string{"exchange", "mode"})

	// CandlesEmitted counts candle emissions per emission mode.
	CandlesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketflow_candles_emitted_total",
		Help: "Candles emitted by the candle operator",
	}, []string{"mode"})

	// TABufferDepth tracks the candle ring depth per state key.
	TABufferDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "marketflow_ta_buffer_depth",
		Help: "Candles buffered per (symbol, timeframe) state key",
	}, []string{"key"})

	// NewsStoriesPublished counts stories published per source.
	NewsStoriesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketflow_news_stories_published_total",
		Help: "News stories published to the bus",
	}, []string{"source"})

	// LLMRequests counts sentiment LLM calls by provider and outcome.
	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketflow_llm_requests_total",
		Help: "LLM sentiment requests by provider and outcome",
	}, []string{"provider", "outcome"})

	// FeatureRowsWritten counts rows upserted into the feature store.
	FeatureRowsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketflow_feature_rows_written_total",
		Help: "Feature rows upserted into the feature store",
	}, []string{"table"})
)
