// Package signals scores news stories with an LLM, turning each story into a
// validated list of per-asset bullish/bearish signals.
package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/marketflow/marketflow/internal/domain"
	"github.com/marketflow/marketflow/internal/metrics"
	"github.com/marketflow/marketflow/internal/stream"
)

// signalsKey is the bus key for every analysis; the signal stream is
// low-volume and single partition by contract.
const signalsKey = "news"

// DefaultAllowedAssets is the asset universe scored when none is configured.
var DefaultAllowedAssets = []domain.Asset{domain.AssetBTC, domain.AssetETH, domain.AssetXRP}

// EmitFunc receives each completed analysis.
type EmitFunc func(ctx context.Context, analysis domain.NewsStorySentimentAnalysis) error

// Analyzer prompts an LLM per story and filters the response down to known
// assets and labels. LLM failures degrade to an empty sentiment list; a bad
// model answer never stalls the stream.
type Analyzer struct {
	llm     LLM
	allowed map[domain.Asset]struct{}
	order   []domain.Asset
}

// NewAnalyzer builds the analyzer; an empty asset list selects
// DefaultAllowedAssets.
func NewAnalyzer(llm LLM, allowed []domain.Asset) *Analyzer {
	if len(allowed) == 0 {
		allowed = DefaultAllowedAssets
	}
	set := make(map[domain.Asset]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	return &Analyzer{llm: llm, allowed: set, order: allowed}
}

func (a *Analyzer) prompt(title string) string {
	assets := make([]string, len(a.order))
	for i, asset := range a.order {
		assets[i] = string(asset)
	}
	var b strings.Builder
	b.WriteString("You are a crypto market analyst. Classify how the news headline below affects each asset it mentions.\n\n")
	fmt.Fprintf(&b, "Allowed assets: %s\n", strings.Join(assets, ", "))
	fmt.Fprintf(&b, "Allowed sentiments: %s, %s\n\n", domain.SentimentBullish, domain.SentimentBearish)
	b.WriteString("Respond with only a JSON array of objects of the form ")
	b.WriteString(`[{"asset": "<asset>", "sentiment": "<sentiment>"}]. `)
	b.WriteString("Include only assets from the allowed list that the headline concerns. If none apply, respond with [].\n\n")
	fmt.Fprintf(&b, "Headline: %s\n", title)
	return b.String()
}

// Analyze scores one story. The returned analysis always carries the story
// title, a fresh timestamp and the model name; the sentiment list is empty
// when the LLM fails or answers with nothing usable.
func (a *Analyzer) Analyze(ctx context.Context, story domain.NewsStory) domain.NewsStorySentimentAnalysis {
	analysis := domain.NewsStorySentimentAnalysis{
		Story:           story.Title,
		Timestamp:       domain.NowTimestamp(),
		LLMModel:        a.llm.Model(),
		AssetSentiments: []domain.AssetSentiment{},
	}

	answer, err := a.llm.Complete(ctx, a.prompt(story.Title))
	if err != nil {
		log.Error().Err(err).Str("title", story.Title).Msg("llm completion failed")
		metrics.LLMRequests.WithLabelValues(a.llm.Provider(), "error").Inc()
		return analysis
	}
	metrics.LLMRequests.WithLabelValues(a.llm.Provider(), "ok").Inc()

	analysis.AssetSentiments = a.parse(answer, story.Title)
	return analysis
}

// parse extracts the first JSON array from the model answer and keeps only
// entries with a known asset and label.
func (a *Analyzer) parse(answer, title string) []domain.AssetSentiment {
	raw, ok := firstJSONArray(answer)
	if !ok {
		log.Warn().Str("title", title).Msg("llm answer carried no JSON array")
		return []domain.AssetSentiment{}
	}

	var entries []struct {
		Asset     string `json:"asset"`
		Sentiment string `json:"sentiment"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		log.Warn().Err(err).Str("title", title).Msg("unparseable llm answer")
		return []domain.AssetSentiment{}
	}

	out := make([]domain.AssetSentiment, 0, len(entries))
	for _, e := range entries {
		asset := domain.Asset(strings.ToUpper(strings.TrimSpace(e.Asset)))
		signal := domain.SentimentSignal(strings.ToUpper(strings.TrimSpace(e.Sentiment)))
		if _, known := a.allowed[asset]; !known {
			log.Warn().Str("asset", e.Asset).Str("title", title).Msg("dropping sentiment for asset outside allowed set")
			continue
		}
		if !signal.Valid() {
			log.Warn().Str("sentiment", e.Sentiment).Str("title", title).Msg("dropping unknown sentiment label")
			continue
		}
		out = append(out, domain.AssetSentiment{Asset: asset, Sentiment: signal})
	}
	return out
}

// firstJSONArray returns the first balanced top-level JSON array in s.
func firstJSONArray(s string) (string, bool) {
	start := strings.IndexByte(s, '[')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// Handler adapts the analyzer to a bus subscription on the news topic.
func (a *Analyzer) Handler(emit EmitFunc) stream.Handler {
	return func(ctx context.Context, msg *stream.Message) error {
		var story domain.NewsStory
		if err := json.Unmarshal(msg.Payload, &story); err != nil {
			log.Error().Err(err).Str("key", msg.Key).Msg("dropping unparseable news story")
			metrics.RecordsDropped.WithLabelValues("signals").Inc()
			return nil
		}
		metrics.RecordsConsumed.WithLabelValues("signals").Inc()
		return emit(ctx, a.Analyze(ctx, story))
	}
}

// PublishEmit returns an EmitFunc that publishes the flattened encoding on the
// bus.
func PublishEmit(producer stream.Producer, topic string) EmitFunc {
	return func(ctx context.Context, analysis domain.NewsStorySentimentAnalysis) error {
		payload, err := json.Marshal(analysis.Encode())
		if err != nil {
			return fmt.Errorf("encode sentiment analysis: %w", err)
		}
		if err := producer.Publish(ctx, topic, signalsKey, payload); err != nil {
			return err
		}
		metrics.RecordsProduced.WithLabelValues("signals").Inc()
		log.Info().Str("story", analysis.Story).Int("assets", len(analysis.AssetSentiments)).Msg("sentiment analysis")
		return nil
	}
}
