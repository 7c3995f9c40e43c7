// Package exchange defines the ingestion contracts every venue adapter
// implements: a live websocket subscription and a paginated REST backfill,
// both emitting normalized domain trades.
package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/marketflow/marketflow/internal/domain"
)

// EmitFunc receives each normalized trade as it is decoded.
type EmitFunc func(domain.Trade)

// LiveClient is a websocket trade subscription for one exchange and a fixed
// symbol set.
type LiveClient interface {
	// Connect opens the transport and subscribes to the trade channel for the
	// configured symbols.
	Connect(ctx context.Context) error

	// StreamTrades reads frames until the connection closes, emitting each
	// valid trade. A normal close returns nil; an abnormal close returns the
	// transport error. Malformed individual frames are logged and skipped.
	StreamTrades(ctx context.Context, emit EmitFunc) error

	Close() error
}

// HistoricalClient pages trade history from a REST endpoint.
type HistoricalClient interface {
	// StreamTrades fetches all trades from since up to the wall clock at call
	// time, emitting them in cursor order. The per-page rate limit is at least
	// one second.
	StreamTrades(ctx context.Context, symbol domain.Symbol, since time.Time, emit EmitFunc) error
}

// FatalAPIError is an explicit error reported by an exchange API, or a
// malformed response where data was required. It terminates the stream.
type FatalAPIError struct {
	Exchange domain.Exchange
	Reason   string
}

func (e *FatalAPIError) Error() string {
	return fmt.Sprintf("%s api: %s", e.Exchange, e.Reason)
}
