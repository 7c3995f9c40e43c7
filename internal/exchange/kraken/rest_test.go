package kraken

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketflow/marketflow/internal/domain"
	"github.com/marketflow/marketflow/internal/exchange"
)

func TestRESTClientPagination(t *testing.T) {
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	firstCursor := int64(1704067201000000000)
	// The second page's cursor is far in the future so the loop terminates.
	finalCursor := time.Now().Add(time.Hour).UnixNano()

	var requests []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests = append(requests, r.URL.Query().Get("since"))
		assert.Equal(t, "XRPUSD", r.URL.Query().Get("pair"))

		var body string
		switch len(requests) {
		case 1:
			body = fmt.Sprintf(`{"error":[],"result":{"XRPUSD":[
				["0.50","100",1704067200.1,"b","m",""],
				["0.51","50",1704067200.5,"s","l",""],
				["0.52","25",1704067201.0,"b","m",""]
			],"last":"%d"}}`, firstCursor)
		default:
			body = fmt.Sprintf(`{"error":[],"result":{"XRPUSD":[
				["0.53","10",1704067202.0,"b","m",""]
			],"last":"%d"}}`, finalCursor)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, time.Millisecond)
	// Shrink the limiter so the test does not wait out real rate limits.
	client.limiter.SetLimit(1000)

	var trades []domain.Trade
	err := client.StreamTrades(context.Background(), domain.SymbolXRPUSD, since, func(tr domain.Trade) {
		trades = append(trades, tr)
	})
	require.NoError(t, err)

	require.Len(t, requests, 2)
	assert.Equal(t, fmt.Sprint(since.UnixNano()), requests[0])
	assert.Equal(t, fmt.Sprint(firstCursor), requests[1], "the last cursor seeds the next page")

	require.Len(t, trades, 4)
	assert.Equal(t, 0.50, trades[0].Price)
	assert.Equal(t, 100.0, trades[0].Volume)
	assert.Equal(t, int64(1704067200100), trades[0].Timestamp)
	assert.Equal(t, domain.ExchangeKraken, trades[0].Exchange)
	assert.Equal(t, int64(1704067202000), trades[3].Timestamp)
}

func TestRESTClientAPIErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":["EGeneral:Invalid arguments"],"result":{}}`)
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, time.Millisecond)
	client.limiter.SetLimit(1000)

	err := client.StreamTrades(context.Background(), domain.SymbolXRPUSD, time.Now().Add(-time.Hour), func(domain.Trade) {})
	var fatal *exchange.FatalAPIError
	require.True(t, errors.As(err, &fatal))
	assert.Contains(t, fatal.Reason, "EGeneral")
}

func TestRESTClientEmptyPageIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":[],"result":{"XRPUSD":[],"last":"1704067201000000000"}}`)
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, time.Millisecond)
	client.limiter.SetLimit(1000)

	err := client.StreamTrades(context.Background(), domain.SymbolXRPUSD, time.Now().Add(-time.Hour), func(domain.Trade) {})
	var fatal *exchange.FatalAPIError
	require.True(t, errors.As(err, &fatal))
	assert.Contains(t, fatal.Reason, "empty")
}

func TestRESTClientMalformedResponseIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":[],"result"`)
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, time.Millisecond)
	client.limiter.SetLimit(1000)

	err := client.StreamTrades(context.Background(), domain.SymbolXRPUSD, time.Now().Add(-time.Hour), func(domain.Trade) {})
	var fatal *exchange.FatalAPIError
	require.True(t, errors.As(err, &fatal))
}
