package news

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketflow/marketflow/internal/domain"
	"github.com/marketflow/marketflow/internal/metrics"
	"github.com/marketflow/marketflow/internal/stream"
)

// DefaultPollInterval is the live polling period.
const DefaultPollInterval = 10 * time.Second

// newsKey is the bus key for every story; news is low-volume and single
// partition by contract.
const newsKey = "news"

// EmitFunc receives each story to publish downstream.
type EmitFunc func(ctx context.Context, story domain.NewsStory) error

// Fetcher retrieves the current batch of stories from a provider.
type Fetcher interface {
	Fetch(ctx context.Context) ([]domain.NewsStory, error)
}

// csv exports use a space-separated layout, the API uses RFC 3339
var publishedAtLayouts = []string{"2006-01-02 15:04:05", time.RFC3339}

func parsePublishedAt(raw string) (time.Time, error) {
	var lastErr error
	for _, layout := range publishedAtLayouts {
		t, err := time.Parse(layout, raw)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// LiveSource polls a provider and emits only stories newer than the
// published-at watermark. The watermark is checkpointed after each batch so a
// restart never re-emits a story.
type LiveSource struct {
	source   string
	fetcher  Fetcher
	store    WatermarkStore
	interval time.Duration
	emit     EmitFunc

	last    time.Time
	lastRaw string
}

// NewLiveSource builds the poller; a non-positive interval selects
// DefaultPollInterval.
func NewLiveSource(source string, fetcher Fetcher, store WatermarkStore, interval time.Duration, emit EmitFunc) *LiveSource {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &LiveSource{
		source:   source,
		fetcher:  fetcher,
		store:    store,
		interval: interval,
		emit:     emit,
	}
}

// Run restores the watermark and polls until ctx is cancelled.
func (s *LiveSource) Run(ctx context.Context) error {
	raw, err := s.store.Load(ctx, s.source)
	if err != nil {
		return err
	}
	if raw != "" {
		ts, err := parsePublishedAt(raw)
		if err != nil {
			return fmt.Errorf("corrupt news watermark %q: %w", raw, err)
		}
		s.last, s.lastRaw = ts, raw
		log.Info().Str("source", s.source).Str("watermark", raw).Msg("restored news watermark")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.Poll(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll runs one fetch/filter/emit cycle and advances the watermark. Fetch
// failures are logged and skipped; the next cycle retries from the same
// watermark.
func (s *LiveSource) Poll(ctx context.Context) error {
	stories, err := s.fetcher.Fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error().Err(err).Str("source", s.source).Msg("news fetch failed, will retry next cycle")
		return nil
	}
	if len(stories) == 0 {
		return nil
	}

	type timed struct {
		story domain.NewsStory
		at    time.Time
	}
	batch := make([]timed, 0, len(stories))
	for _, story := range stories {
		at, err := parsePublishedAt(story.PublishedAt)
		if err != nil {
			log.Warn().Err(err).Str("title", story.Title).Msg("dropping story with unparseable published_at")
			metrics.RecordsDropped.WithLabelValues("news").Inc()
			continue
		}
		batch = append(batch, timed{story: story, at: at})
	}
	sort.SliceStable(batch, func(i, j int) bool { return batch[i].at.Before(batch[j].at) })

	emitted := 0
	for _, item := range batch {
		if !item.at.After(s.last) {
			continue
		}
		if err := s.emit(ctx, item.story); err != nil {
			return err
		}
		emitted++
		s.last, s.lastRaw = item.at, item.story.PublishedAt
	}
	if emitted > 0 {
		if err := s.store.Save(ctx, s.source, s.lastRaw); err != nil {
			return err
		}
		log.Info().Str("source", s.source).Int("stories", emitted).Str("watermark", s.lastRaw).Msg("news batch published")
	}
	return nil
}

// Watermark exposes the current raw watermark value.
func (s *LiveSource) Watermark() string {
	return s.lastRaw
}

// CSVSource replays a historical news export at full speed. Expected header:
// title,source,url,published_at.
type CSVSource struct {
	path string
	emit EmitFunc
}

func NewCSVSource(path string, emit EmitFunc) *CSVSource {
	return &CSVSource{path: path, emit: emit}
}

// Replay reads the file and emits every row. Rows with unparseable timestamps
// are logged and skipped.
func (s *CSVSource) Replay(ctx context.Context) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open news csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return fmt.Errorf("read news csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"title", "source", "url", "published_at"} {
		if _, ok := col[required]; !ok {
			return fmt.Errorf("news csv missing column %q", required)
		}
	}

	rows := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read news csv row: %w", err)
		}
		publishedAt := record[col["published_at"]]
		if _, err := parsePublishedAt(publishedAt); err != nil {
			log.Warn().Err(err).Str("published_at", publishedAt).Msg("skipping csv row with unparseable timestamp")
			metrics.RecordsDropped.WithLabelValues("news").Inc()
			continue
		}
		story := domain.NewNewsStory(
			domain.OutletCryptoPanic,
			record[col["title"]],
			record[col["source"]],
			record[col["url"]],
			publishedAt,
		)
		if err := s.emit(ctx, story); err != nil {
			return err
		}
		rows++
	}
	log.Info().Str("path", s.path).Int("stories", rows).Msg("news csv replay complete")
	return nil
}

// PublishEmit returns an EmitFunc that serializes stories onto the bus under
// the fixed "news" key.
func PublishEmit(producer stream.Producer, topic string) EmitFunc {
	return func(ctx context.Context, story domain.NewsStory) error {
		payload, err := json.Marshal(story)
		if err != nil {
			return fmt.Errorf("encode news story: %w", err)
		}
		if err := producer.Publish(ctx, topic, newsKey, payload); err != nil {
			return err
		}
		metrics.NewsStoriesPublished.WithLabelValues(string(story.Outlet)).Inc()
		metrics.RecordsProduced.WithLabelValues("news").Inc()
		return nil
	}
}
