// Package news ingests stories from external providers and publishes them on
// the bus. The live path polls CryptoPanic with a published-at watermark so a
// story is emitted exactly once across polls and restarts; the historical path
// replays a CSV export at full speed.
package news

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketflow/marketflow/internal/domain"
)

// DefaultCryptoPanicURL is the free-tier posts endpoint.
const DefaultCryptoPanicURL = "https://cryptopanic.com/api/v1/posts/"

const (
	pageRetryWait  = time.Second
	pageMaxRetries = 3
)

// CryptoPanicClient fetches news pages from the CryptoPanic REST API.
type CryptoPanicClient struct {
	endpoint  string
	authToken string
	client    *http.Client
}

// NewCryptoPanicClient builds a client for the given endpoint; an empty
// endpoint selects DefaultCryptoPanicURL.
func NewCryptoPanicClient(endpoint, authToken string) *CryptoPanicClient {
	if endpoint == "" {
		endpoint = DefaultCryptoPanicURL
	}
	return &CryptoPanicClient{
		endpoint:  endpoint,
		authToken: authToken,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

type cryptoPanicPage struct {
	Results []cryptoPanicPost `json:"results"`
	Next    *string           `json:"next"`
}

type cryptoPanicPost struct {
	Title       string `json:"title"`
	Domain      string `json:"domain"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at"`
}

// Fetch retrieves every available page for this cycle, following the
// provider's next links. A transport error waits one second and retries the
// same URL; an empty or malformed page yields an empty batch so the caller's
// watermark stays put and the next cycle refetches.
func (c *CryptoPanicClient) Fetch(ctx context.Context) ([]domain.NewsStory, error) {
	pageURL, err := c.firstPageURL()
	if err != nil {
		return nil, err
	}

	var stories []domain.NewsStory
	for pageURL != "" {
		page, err := c.fetchPage(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		if len(page.Results) == 0 {
			log.Warn().Str("url", pageURL).Msg("empty or malformed news page, discarding batch")
			return nil, nil
		}
		for _, post := range page.Results {
			stories = append(stories, domain.NewNewsStory(
				domain.OutletCryptoPanic, post.Title, post.Domain, post.URL, post.PublishedAt))
		}
		if page.Next == nil {
			break
		}
		pageURL = *page.Next
	}
	return stories, nil
}

func (c *CryptoPanicClient) firstPageURL() (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse news endpoint: %w", err)
	}
	q := u.Query()
	q.Set("auth_token", c.authToken)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *CryptoPanicClient) fetchPage(ctx context.Context, pageURL string) (*cryptoPanicPage, error) {
	var lastErr error
	for attempt := 0; attempt <= pageMaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn().Err(lastErr).Str("url", pageURL).Msg("news page fetch failed, retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(pageRetryWait):
			}
		}
		page, err := c.doPage(ctx, pageURL)
		if err == nil {
			return page, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("fetch news page: %w", lastErr)
}

func (c *CryptoPanicClient) doPage(ctx context.Context, pageURL string) (*cryptoPanicPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("news provider returned %s", resp.Status)
	}
	var page cryptoPanicPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		// Malformed body is not a transport failure; the cycle yields nothing.
		log.Warn().Err(err).Str("url", pageURL).Msg("undecodable news page")
		return &cryptoPanicPage{}, nil
	}
	return &page, nil
}
