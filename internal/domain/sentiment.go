package domain

// SentimentSignal is the direction an LLM expects an asset price to move.
type SentimentSignal string

const (
	SentimentBullish SentimentSignal = "BULLISH"
	SentimentBearish SentimentSignal = "BEARISH"
)

// Encoded maps the signal to the numeric form used downstream: BULLISH is +1,
// BEARISH is -1.
func (s SentimentSignal) Encoded() int {
	if s == SentimentBearish {
		return -1
	}
	return 1
}

// Valid reports whether the signal is one of the two known labels.
func (s SentimentSignal) Valid() bool {
	return s == SentimentBullish || s == SentimentBearish
}

// AssetSentiment is one (asset, signal) pair extracted from a story.
type AssetSentiment struct {
	Asset     Asset           `json:"asset"`
	Sentiment SentimentSignal `json:"sentiment"`
}

// NewsStorySentimentAnalysis is the validated result of scoring one story.
type NewsStorySentimentAnalysis struct {
	Story           string           `json:"story"`
	Timestamp       int64            `json:"timestamp"`
	LLMModel        string           `json:"llm_name"`
	AssetSentiments []AssetSentiment `json:"asset_sentiments"`
}

// Encode flattens the analysis for downstream consumers: one numeric field per
// scored asset, assets without a signal absent.
func (a NewsStorySentimentAnalysis) Encode() map[string]any {
	out := map[string]any{
		"story":     a.Story,
		"timestamp": a.Timestamp,
		"llm_name": a.LLMModel,
	}
	for _, s := range a.AssetSentiments {
		out[string(s.Asset)] = s.Sentiment.Encoded()
	}
	return out
}
