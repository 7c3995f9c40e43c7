// Package config loads service configuration from an optional YAML file with
// environment overrides. Every service reads the same document; env vars carry
// the service prefix (TRADES_, CANDLES_, TA_, NEWS_, NEWS_SIGNALS_, FEATURES_)
// and always win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/marketflow/marketflow/internal/domain"
)

// Config is the full pipeline configuration document.
type Config struct {
	LogLevel   string `yaml:"log_level"`
	HealthAddr string `yaml:"health_addr"`

	Broker      Broker      `yaml:"broker"`
	Trades      Trades      `yaml:"trades"`
	Candles     Candles     `yaml:"candles"`
	TA          TA          `yaml:"ta"`
	News        News        `yaml:"news"`
	NewsSignals NewsSignals `yaml:"news_signals"`
	Features    Features    `yaml:"features"`
}

// Broker is the message bus connection.
type Broker struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Trades configures the trade producer service.
type Trades struct {
	Topic         string        `yaml:"topic"`
	Mode          string        `yaml:"mode"`
	Symbols       []string      `yaml:"symbols"`
	WSURL         string        `yaml:"ws_url"`
	RESTURL       string        `yaml:"rest_url"`
	BackfillSince string        `yaml:"backfill_since"`
	PageInterval  time.Duration `yaml:"page_interval"`
}

// Candles configures the candle operator service.
type Candles struct {
	InputTopic  string `yaml:"input_topic"`
	OutputTopic string `yaml:"output_topic"`
	Group       string `yaml:"group"`
	Timeframe   string `yaml:"timeframe"`
	Emission    string `yaml:"emission"`
	Mode        string `yaml:"mode"`
}

// TA configures the indicator operator service.
type TA struct {
	InputTopic  string `yaml:"input_topic"`
	OutputTopic string `yaml:"output_topic"`
	Group       string `yaml:"group"`
	MaxCandles  int    `yaml:"max_candles"`
	Mode        string `yaml:"mode"`
}

// News configures the news source service. A non-empty HistoricalCSV switches
// the service from live polling to CSV replay.
type News struct {
	Topic         string        `yaml:"topic"`
	Endpoint      string        `yaml:"endpoint"`
	AuthToken     string        `yaml:"auth_token"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	HistoricalCSV string        `yaml:"historical_csv"`
}

// NewsSignals configures the sentiment operator service.
type NewsSignals struct {
	InputTopic  string   `yaml:"input_topic"`
	OutputTopic string   `yaml:"output_topic"`
	Group       string   `yaml:"group"`
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	APIKey      string   `yaml:"api_key"`
	LLMURL      string   `yaml:"llm_url"`
	Assets      []string `yaml:"assets"`
}

// Features configures the feature store sink service.
type Features struct {
	InputTopic  string `yaml:"input_topic"`
	Group       string `yaml:"group"`
	PostgresDSN string `yaml:"postgres_dsn"`
	Mode        string `yaml:"mode"`
}

// Default returns the configuration every load starts from.
func Default() *Config {
	return &Config{
		LogLevel:   "info",
		HealthAddr: ":8080",
		Broker:     Broker{Addr: "localhost:6379"},
		Trades: Trades{
			Topic:        "trades",
			Mode:         string(domain.IngestionLive),
			Symbols:      []string{string(domain.SymbolXRPUSD)},
			PageInterval: time.Second,
		},
		Candles: Candles{
			InputTopic:  "trades",
			OutputTopic: "candles",
			Group:       "candles",
			Timeframe:   string(domain.Timeframe1m),
			Emission:    string(domain.EmissionFull),
			Mode:        string(domain.IngestionLive),
		},
		TA: TA{
			InputTopic:  "candles",
			OutputTopic: "ta",
			Group:       "ta",
			MaxCandles:  60,
			Mode:        string(domain.IngestionLive),
		},
		News: News{
			Topic:        "news",
			PollInterval: 10 * time.Second,
		},
		NewsSignals: NewsSignals{
			InputTopic:  "news",
			OutputTopic: "news_signals",
			Group:       "news_signals",
			Provider:    "anthropic",
			Model:       "claude-3-5-haiku-latest",
		},
		Features: Features{
			InputTopic: "ta",
			Group:      "features",
			Mode:       string(domain.IngestionLive),
		},
	}
}

// Load builds the configuration for one service: defaults, then the YAML file
// when path is non-empty, then environment overrides. The service name scopes
// the shared keys (broker, log level, health address) so e.g.
// TRADES_BROKER_ADDR beats BROKER_ADDR for the trades service.
func Load(service, path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(strings.ToUpper(service)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(service string) error {
	var err error
	setString(service, "LOG_LEVEL", &c.LogLevel)
	setString(service, "HEALTH_ADDR", &c.HealthAddr)
	setString(service, "BROKER_ADDR", &c.Broker.Addr)
	setString(service, "BROKER_PASSWORD", &c.Broker.Password)
	err = firstErr(err, setInt(service, "BROKER_DB", &c.Broker.DB))

	setString("TRADES", "TOPIC", &c.Trades.Topic)
	setString("TRADES", "MODE", &c.Trades.Mode)
	setStrings("TRADES", "SYMBOLS", &c.Trades.Symbols)
	setString("TRADES", "WS_URL", &c.Trades.WSURL)
	setString("TRADES", "REST_URL", &c.Trades.RESTURL)
	setString("TRADES", "BACKFILL_SINCE", &c.Trades.BackfillSince)
	err = firstErr(err, setDuration("TRADES", "PAGE_INTERVAL", &c.Trades.PageInterval))

	setString("CANDLES", "INPUT_TOPIC", &c.Candles.InputTopic)
	setString("CANDLES", "OUTPUT_TOPIC", &c.Candles.OutputTopic)
	setString("CANDLES", "GROUP", &c.Candles.Group)
	setString("CANDLES", "TIMEFRAME", &c.Candles.Timeframe)
	setString("CANDLES", "EMISSION", &c.Candles.Emission)
	setString("CANDLES", "MODE", &c.Candles.Mode)

	setString("TA", "INPUT_TOPIC", &c.TA.InputTopic)
	setString("TA", "OUTPUT_TOPIC", &c.TA.OutputTopic)
	setString("TA", "GROUP", &c.TA.Group)
	setString("TA", "MODE", &c.TA.Mode)
	err = firstErr(err, setInt("TA", "MAX_CANDLES", &c.TA.MaxCandles))

	setString("NEWS", "TOPIC", &c.News.Topic)
	setString("NEWS", "ENDPOINT", &c.News.Endpoint)
	setString("NEWS", "AUTH_TOKEN", &c.News.AuthToken)
	setString("NEWS", "HISTORICAL_CSV", &c.News.HistoricalCSV)
	err = firstErr(err, setDuration("NEWS", "POLL_INTERVAL", &c.News.PollInterval))

	setString("NEWS_SIGNALS", "INPUT_TOPIC", &c.NewsSignals.InputTopic)
	setString("NEWS_SIGNALS", "OUTPUT_TOPIC", &c.NewsSignals.OutputTopic)
	setString("NEWS_SIGNALS", "GROUP", &c.NewsSignals.Group)
	setString("NEWS_SIGNALS", "PROVIDER", &c.NewsSignals.Provider)
	setString("NEWS_SIGNALS", "MODEL", &c.NewsSignals.Model)
	setString("NEWS_SIGNALS", "API_KEY", &c.NewsSignals.APIKey)
	setString("NEWS_SIGNALS", "LLM_URL", &c.NewsSignals.LLMURL)
	setStrings("NEWS_SIGNALS", "ASSETS", &c.NewsSignals.Assets)

	setString("FEATURES", "INPUT_TOPIC", &c.Features.InputTopic)
	setString("FEATURES", "GROUP", &c.Features.Group)
	setString("FEATURES", "POSTGRES_DSN", &c.Features.PostgresDSN)
	setString("FEATURES", "MODE", &c.Features.Mode)

	return err
}

// lookup resolves PREFIX_KEY first, then the bare KEY.
func lookup(prefix, key string) (string, bool) {
	if v, ok := os.LookupEnv(prefix + "_" + key); ok {
		return v, true
	}
	return os.LookupEnv(key)
}

func setString(prefix, key string, dst *string) {
	if v, ok := lookup(prefix, key); ok {
		*dst = v
	}
}

func setStrings(prefix, key string, dst *[]string) {
	if v, ok := lookup(prefix, key); ok {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		*dst = out
	}
}

func setInt(prefix, key string, dst *int) error {
	v, ok := lookup(prefix, key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("env %s_%s: %w", prefix, key, err)
	}
	*dst = n
	return nil
}

func setDuration(prefix, key string, dst *time.Duration) error {
	v, ok := lookup(prefix, key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("env %s_%s: %w", prefix, key, err)
	}
	*dst = d
	return nil
}

func firstErr(a, b error) error {
	if a != nil {
		return a
	}
	return b
}

// IngestionMode parses a mode string against the closed set.
func IngestionMode(s string) (domain.IngestionMode, error) {
	switch domain.IngestionMode(strings.ToUpper(s)) {
	case domain.IngestionLive:
		return domain.IngestionLive, nil
	case domain.IngestionHistorical:
		return domain.IngestionHistorical, nil
	}
	return "", fmt.Errorf("unknown ingestion mode %q", s)
}

// EmissionMode parses an emission string against the closed set.
func EmissionMode(s string) (domain.EmissionMode, error) {
	switch domain.EmissionMode(strings.ToUpper(s)) {
	case domain.EmissionLive:
		return domain.EmissionLive, nil
	case domain.EmissionFull:
		return domain.EmissionFull, nil
	}
	return "", fmt.Errorf("unknown emission mode %q", s)
}

// Timeframe parses a timeframe string against the closed set.
func Timeframe(s string) (domain.Timeframe, error) {
	return domain.ParseTimeframe(s)
}

// Symbols parses a symbol list against the closed set.
func Symbols(names []string) ([]domain.Symbol, error) {
	out := make([]domain.Symbol, 0, len(names))
	for _, name := range names {
		sym, err := domain.ParseSymbol(strings.ToUpper(name))
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, nil
}

// Assets parses an asset list; unknown assets are rejected.
func Assets(names []string) ([]domain.Asset, error) {
	known := map[domain.Asset]struct{}{
		domain.AssetBTC: {}, domain.AssetETH: {}, domain.AssetXRP: {}, domain.AssetXLM: {},
	}
	out := make([]domain.Asset, 0, len(names))
	for _, name := range names {
		asset := domain.Asset(strings.ToUpper(name))
		if _, ok := known[asset]; !ok {
			return nil, fmt.Errorf("unknown asset %q", name)
		}
		out = append(out, asset)
	}
	return out, nil
}
