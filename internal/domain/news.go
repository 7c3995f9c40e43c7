package domain

// NewsOutlet is a provider news stories are obtained from.
type NewsOutlet string

const (
	OutletCryptoPanic NewsOutlet = "cryptopanic"
)

// NewsStory is one published news item.
type NewsStory struct {
	Outlet      NewsOutlet `json:"outlet"`
	Title       string     `json:"title"`
	Source      string     `json:"source"`
	URL         string     `json:"url"`
	PublishedAt string     `json:"published_at"`
	Timestamp   int64      `json:"timestamp"`
}

// NewNewsStory builds a story stamped with the current time.
func NewNewsStory(outlet NewsOutlet, title, source, url, publishedAt string) NewsStory {
	return NewsStory{
		Outlet:      outlet,
		Title:       title,
		Source:      source,
		URL:         url,
		PublishedAt: publishedAt,
		Timestamp:   NowTimestamp(),
	}
}
