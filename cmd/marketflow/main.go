// marketflow runs the market intelligence pipeline services: trade ingestion,
// candle aggregation, technical analysis, news ingestion, sentiment signals
// and the feature store sink. Each subcommand is one deployable service.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/marketflow/marketflow/internal/candles"
	"github.com/marketflow/marketflow/internal/config"
	"github.com/marketflow/marketflow/internal/domain"
	"github.com/marketflow/marketflow/internal/exchange"
	"github.com/marketflow/marketflow/internal/exchange/kraken"
	"github.com/marketflow/marketflow/internal/features"
	"github.com/marketflow/marketflow/internal/httpapi"
	"github.com/marketflow/marketflow/internal/logging"
	"github.com/marketflow/marketflow/internal/news"
	"github.com/marketflow/marketflow/internal/service"
	"github.com/marketflow/marketflow/internal/signals"
	"github.com/marketflow/marketflow/internal/stream"
	"github.com/marketflow/marketflow/internal/ta"
	"github.com/marketflow/marketflow/internal/trades"
)

var version = "dev"

var (
	flagConfig     string
	flagLogLevel   string
	flagHealthAddr string
)

func main() {
	root := &cobra.Command{
		Use:     "marketflow",
		Short:   "Real-time crypto market intelligence pipeline",
		Version: version,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level override")
	root.PersistentFlags().StringVar(&flagHealthAddr, "health-addr", "", "health/metrics listen address override")

	root.AddCommand(
		tradesCmd(),
		candlesCmd(),
		taCmd(),
		newsCmd(),
		newsSignalsCmd(),
		featuresCmd(),
	)

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("service exited with error")
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration for one service, applying
// the flag overrides last.
func loadConfig(serviceName string) (*config.Config, error) {
	cfg, err := config.Load(serviceName, flagConfig)
	if err != nil {
		return nil, err
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagHealthAddr != "" {
		cfg.HealthAddr = flagHealthAddr
	}
	logging.Setup(serviceName, cfg.LogLevel)
	return cfg, nil
}

func newBus(cfg *config.Config, mode domain.IngestionMode) *stream.RedisBus {
	host, err := os.Hostname()
	if err != nil {
		host = "worker-1"
	}
	return stream.NewRedisBus(stream.RedisConfig{
		Addr:        cfg.Broker.Addr,
		Password:    cfg.Broker.Password,
		DB:          cfg.Broker.DB,
		Consumer:    host,
		StartOffset: mode.StartOffset(),
	})
}

// httpComponent runs the health server as a runner component.
func httpComponent(srv *httpapi.Server) service.Component {
	return func(ctx context.Context) error {
		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()
		select {
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		case err := <-errCh:
			return err
		}
	}
}

func runService(build func(r *service.Runner, cfg *config.Config) error, serviceName string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(serviceName)
		if err != nil {
			return err
		}
		r := service.NewRunner(service.DefaultDrainTimeout)
		r.Add("http", httpComponent(httpapi.NewServer(cfg.HealthAddr)))
		if err := build(r, cfg); err != nil {
			return err
		}
		log.Info().Str("service", serviceName).Str("version", version).Msg("starting")
		return r.Run(cmd.Context())
	}
}

func tradesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trades",
		Short: "Ingest exchange trades onto the bus",
		RunE: runService(func(r *service.Runner, cfg *config.Config) error {
			mode, err := config.IngestionMode(cfg.Trades.Mode)
			if err != nil {
				return err
			}
			symbols, err := config.Symbols(cfg.Trades.Symbols)
			if err != nil {
				return err
			}
			bus := newBus(cfg, mode)
			r.OnShutdown("bus", func(context.Context) error { return bus.Close() })

			switch mode {
			case domain.IngestionLive:
				client := kraken.NewWSClient(cfg.Trades.WSURL, symbols)
				producer := trades.NewProducer(bus, cfg.Trades.Topic, mode)
				r.Add("live-ingestion", func(ctx context.Context) error {
					return trades.RunLive(ctx, client, producer)
				})
			case domain.IngestionHistorical:
				since, err := parseSince(cfg.Trades.BackfillSince)
				if err != nil {
					return err
				}
				var client exchange.HistoricalClient = kraken.NewRESTClient(cfg.Trades.RESTURL, cfg.Trades.PageInterval)
				r.Add("backfill", func(ctx context.Context) error {
					jobID, err := trades.RunBackfill(ctx, client, bus, cfg.Trades.Topic, symbols, since)
					if err != nil {
						return fmt.Errorf("backfill job %s: %w", jobID, err)
					}
					log.Info().Str("job_id", jobID).Msg("backfill finished")
					return nil
				})
			}
			return nil
		}, "trades"),
	}
}

func parseSince(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("historical mode requires TRADES_BACKFILL_SINCE")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable backfill since %q", raw)
}

func candlesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "candles",
		Short: "Aggregate trades into OHLCV candles",
		RunE: runService(func(r *service.Runner, cfg *config.Config) error {
			mode, err := config.IngestionMode(cfg.Candles.Mode)
			if err != nil {
				return err
			}
			tf, err := config.Timeframe(cfg.Candles.Timeframe)
			if err != nil {
				return err
			}
			emission, err := config.EmissionMode(cfg.Candles.Emission)
			if err != nil {
				return err
			}
			bus := newBus(cfg, mode)
			r.OnShutdown("bus", func(context.Context) error { return bus.Close() })

			op := candles.NewOperator(tf, emission, candles.PublishEmit(bus, cfg.Candles.OutputTopic, emission))
			r.Add("candle-operator", func(ctx context.Context) error {
				return bus.Subscribe(ctx, cfg.Candles.InputTopic, cfg.Candles.Group, op.Handler())
			})
			return nil
		}, "candles"),
	}
}

func taCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ta",
		Short: "Compute technical indicators over the candle stream",
		RunE: runService(func(r *service.Runner, cfg *config.Config) error {
			mode, err := config.IngestionMode(cfg.TA.Mode)
			if err != nil {
				return err
			}
			bus := newBus(cfg, mode)
			r.OnShutdown("bus", func(context.Context) error { return bus.Close() })

			op := ta.NewOperator(cfg.TA.MaxCandles, ta.PublishEmit(bus, cfg.TA.OutputTopic))
			r.Add("ta-operator", func(ctx context.Context) error {
				return bus.Subscribe(ctx, cfg.TA.InputTopic, cfg.TA.Group, op.Handler())
			})
			return nil
		}, "ta"),
	}
}

func newsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "news",
		Short: "Ingest news stories onto the bus",
		RunE: runService(func(r *service.Runner, cfg *config.Config) error {
			bus := newBus(cfg, domain.IngestionLive)
			r.OnShutdown("bus", func(context.Context) error { return bus.Close() })
			emit := news.PublishEmit(bus, cfg.News.Topic)

			if cfg.News.HistoricalCSV != "" {
				src := news.NewCSVSource(cfg.News.HistoricalCSV, emit)
				r.Add("csv-replay", src.Replay)
				return nil
			}

			client := news.NewCryptoPanicClient(cfg.News.Endpoint, cfg.News.AuthToken)
			stateClient := redis.NewClient(&redis.Options{
				Addr:     cfg.Broker.Addr,
				Password: cfg.Broker.Password,
				DB:       cfg.Broker.DB,
			})
			r.OnShutdown("state", func(context.Context) error { return stateClient.Close() })
			src := news.NewLiveSource(
				string(domain.OutletCryptoPanic),
				client,
				news.NewRedisWatermarkStore(stateClient),
				cfg.News.PollInterval,
				emit,
			)
			r.Add("news-poller", src.Run)
			return nil
		}, "news"),
	}
}

func newsSignalsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "news-signals",
		Short: "Score news stories with an LLM into per-asset signals",
		RunE: runService(func(r *service.Runner, cfg *config.Config) error {
			assets, err := config.Assets(cfg.NewsSignals.Assets)
			if err != nil {
				return err
			}
			var llm signals.LLM
			switch cfg.NewsSignals.Provider {
			case "anthropic":
				llm = signals.NewAnthropicClient(cfg.NewsSignals.LLMURL, cfg.NewsSignals.APIKey, cfg.NewsSignals.Model)
			case "ollama":
				llm = signals.NewOllamaClient(cfg.NewsSignals.LLMURL, cfg.NewsSignals.Model)
			default:
				return fmt.Errorf("unknown llm provider %q", cfg.NewsSignals.Provider)
			}
			bus := newBus(cfg, domain.IngestionLive)
			r.OnShutdown("bus", func(context.Context) error { return bus.Close() })

			analyzer := signals.NewAnalyzer(llm, assets)
			handler := analyzer.Handler(signals.PublishEmit(bus, cfg.NewsSignals.OutputTopic))
			r.Add("sentiment-operator", func(ctx context.Context) error {
				return bus.Subscribe(ctx, cfg.NewsSignals.InputTopic, cfg.NewsSignals.Group, handler)
			})
			return nil
		}, "news_signals"),
	}
}

func featuresCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "features",
		Short: "Materialize the indicator stream into the feature store",
		RunE: runService(func(r *service.Runner, cfg *config.Config) error {
			mode, err := config.IngestionMode(cfg.Features.Mode)
			if err != nil {
				return err
			}
			if cfg.Features.PostgresDSN == "" {
				return fmt.Errorf("features service requires FEATURES_POSTGRES_DSN")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			sink, err := features.Open(ctx, cfg.Features.PostgresDSN)
			if err != nil {
				return err
			}
			if err := sink.EnsureSchema(ctx); err != nil {
				return err
			}
			bus := newBus(cfg, mode)
			r.OnShutdown("bus", func(context.Context) error { return bus.Close() })
			r.OnShutdown("sink", func(context.Context) error { return sink.Close() })

			r.Add("feature-sink", func(ctx context.Context) error {
				return bus.Subscribe(ctx, cfg.Features.InputTopic, cfg.Features.Group, sink.Handler())
			})
			return nil
		}, "features"),
	}
}
