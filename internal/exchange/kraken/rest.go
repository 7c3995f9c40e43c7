package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/marketflow/marketflow/internal/domain"
	"github.com/marketflow/marketflow/internal/exchange"
)

// DefaultRESTURL is the Kraken public trade history endpoint.
const DefaultRESTURL = "https://api.kraken.com/0/public/Trades"

// MinPageInterval is the minimum pause between history pages.
const MinPageInterval = time.Second

// RESTClient pages historical trades from the Kraken public REST API using
// the nanosecond "since" cursor the API returns with each page.
type RESTClient struct {
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker
}

// NewRESTClient creates a backfill client. An empty endpoint selects the
// production API; intervals below one second are raised to the API rate limit.
func NewRESTClient(endpoint string, pageInterval time.Duration) *RESTClient {
	if endpoint == "" {
		endpoint = DefaultRESTURL
	}
	if pageInterval < MinPageInterval {
		pageInterval = MinPageInterval
	}
	return &RESTClient{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(rate.Every(pageInterval), 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "kraken-rest",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		}),
	}
}

// tradesResponse is the raw page shape: an error array plus a result object
// holding the pair rows and the opaque "last" cursor in nanoseconds.
type tradesResponse struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

// StreamTrades pages history for one symbol from since until the wall clock
// captured at call time. Each page's "last" cursor seeds the next request;
// API-level errors and empty pages are fatal.
func (c *RESTClient) StreamTrades(ctx context.Context, symbol domain.Symbol, since time.Time, emit exchange.EmitFunc) error {
	stopNs := time.Now().UnixNano()
	cursor := since.UnixNano()

	log.Info().
		Str("symbol", string(symbol)).
		Time("since", since).
		Msg("starting Kraken trade backfill")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		trades, last, err := c.fetchPage(ctx, symbol, cursor)
		if err != nil {
			return err
		}
		for _, t := range trades {
			emit(t)
		}

		log.Debug().
			Str("symbol", string(symbol)).
			Int("trades", len(trades)).
			Int64("cursor", last).
			Msg("backfill page consumed")

		if last >= stopNs {
			return nil
		}
		cursor = last
	}
}

// fetchPage retrieves one history page and decodes it into normalized trades
// plus the next cursor.
func (c *RESTClient) fetchPage(ctx context.Context, symbol domain.Symbol, sinceNs int64) ([]domain.Trade, int64, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, 0, fmt.Errorf("kraken rest endpoint: %w", err)
	}
	q := u.Query()
	q.Set("pair", string(symbol))
	q.Set("since", strconv.FormatInt(sinceNs, 10))
	u.RawQuery = q.Encode()

	body, err := c.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("kraken rest: unexpected status %d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("kraken rest page: %w", err)
	}

	var page tradesResponse
	if err := json.Unmarshal(body.([]byte), &page); err != nil {
		return nil, 0, &exchange.FatalAPIError{
			Exchange: domain.ExchangeKraken,
			Reason:   fmt.Sprintf("malformed trades response: %v", err),
		}
	}
	if len(page.Error) > 0 {
		return nil, 0, &exchange.FatalAPIError{
			Exchange: domain.ExchangeKraken,
			Reason:   fmt.Sprintf("trades request failed: %v", page.Error),
		}
	}

	var last int64
	var trades []domain.Trade
	for key, raw := range page.Result {
		if key == "last" {
			var cursor string
			if err := json.Unmarshal(raw, &cursor); err != nil {
				return nil, 0, &exchange.FatalAPIError{
					Exchange: domain.ExchangeKraken,
					Reason:   "malformed last cursor",
				}
			}
			last, err = strconv.ParseInt(cursor, 10, 64)
			if err != nil {
				return nil, 0, &exchange.FatalAPIError{
					Exchange: domain.ExchangeKraken,
					Reason:   fmt.Sprintf("non-numeric last cursor %q", cursor),
				}
			}
			continue
		}
		trades, err = decodeTradeRows(symbol, raw)
		if err != nil {
			return nil, 0, err
		}
	}

	if len(trades) == 0 || last == 0 {
		return nil, 0, &exchange.FatalAPIError{
			Exchange: domain.ExchangeKraken,
			Reason:   "empty trades page where history was expected",
		}
	}
	return trades, last, nil
}

// decodeTradeRows converts the pair's [[price, volume, time, ...], ...] rows.
// Price and volume arrive as strings, time as a float of seconds.
func decodeTradeRows(symbol domain.Symbol, raw json.RawMessage) ([]domain.Trade, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, &exchange.FatalAPIError{
			Exchange: domain.ExchangeKraken,
			Reason:   fmt.Sprintf("malformed trade rows: %v", err),
		}
	}

	trades := make([]domain.Trade, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			log.Error().Int("fields", len(row)).Msg("skipping short Kraken trade row")
			continue
		}
		var priceStr, volumeStr string
		var tsSec float64
		if err := json.Unmarshal(row[0], &priceStr); err != nil {
			log.Error().Err(err).Msg("skipping Kraken trade row: bad price")
			continue
		}
		if err := json.Unmarshal(row[1], &volumeStr); err != nil {
			log.Error().Err(err).Msg("skipping Kraken trade row: bad volume")
			continue
		}
		if err := json.Unmarshal(row[2], &tsSec); err != nil {
			log.Error().Err(err).Msg("skipping Kraken trade row: bad timestamp")
			continue
		}
		price, err := strconv.ParseFloat(priceStr, 64)
		if err != nil {
			log.Error().Err(err).Msg("skipping Kraken trade row: unparseable price")
			continue
		}
		volume, err := strconv.ParseFloat(volumeStr, 64)
		if err != nil {
			log.Error().Err(err).Msg("skipping Kraken trade row: unparseable volume")
			continue
		}

		trade := domain.Trade{
			Symbol:    symbol,
			Price:     price,
			Volume:    volume,
			Timestamp: int64(tsSec * 1000),
			Exchange:  domain.ExchangeKraken,
		}
		if err := trade.Validate(); err != nil {
			log.Error().Err(err).Msg("skipping invalid historical trade")
			continue
		}
		trades = append(trades, trade)
	}
	return trades, nil
}
