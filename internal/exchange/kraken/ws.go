package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/marketflow/marketflow/internal/domain"
	"github.com/marketflow/marketflow/internal/exchange"
)

// DefaultWSURL is the Kraken v2 public websocket endpoint.
const DefaultWSURL = "wss://ws.kraken.com/v2"

// WSClient streams live trades from the Kraken v2 websocket API.
type WSClient struct {
	url     string
	symbols []domain.Symbol
	conn    *websocket.Conn
}

// NewWSClient creates a client for the given symbols. An empty url selects the
// production endpoint.
func NewWSClient(url string, symbols []domain.Symbol) *WSClient {
	if url == "" {
		url = DefaultWSURL
	}
	return &WSClient{url: url, symbols: symbols}
}

// subscribeRequest is the Kraken v2 trade channel subscription frame.
type subscribeRequest struct {
	Method string          `json:"method"`
	Params subscribeParams `json:"params"`
}

type subscribeParams struct {
	Channel  string   `json:"channel"`
	Symbol   []string `json:"symbol"`
	Snapshot bool     `json:"snapshot"`
}

// wsEnvelope is the common shape of channel messages.
type wsEnvelope struct {
	Channel string            `json:"channel"`
	Data    []json.RawMessage `json:"data"`
}

// wsTrade is one trade entry on the v2 trade channel.
type wsTrade struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Qty       float64 `json:"qty"`
	Timestamp string  `json:"timestamp"`
}

// normalize maps the wire trade to the canonical record: the pair loses its
// slash, the RFC 3339 timestamp becomes integer milliseconds and the exchange
// tag is applied.
func (t wsTrade) normalize() (domain.Trade, error) {
	sym, err := FromPair(t.Symbol)
	if err != nil {
		return domain.Trade{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, t.Timestamp)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("parse trade timestamp %q: %w", t.Timestamp, err)
	}
	trade := domain.Trade{
		Symbol:    sym,
		Price:     t.Price,
		Volume:    t.Qty,
		Timestamp: ts.UnixMilli(),
		Exchange:  domain.ExchangeKraken,
	}
	return trade, trade.Validate()
}

// Connect dials the websocket and subscribes to the trade channel for the
// configured symbols, requesting the initial snapshot.
func (c *WSClient) Connect(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 30 * time.Second

	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("kraken websocket dial: %w", err)
	}
	c.conn = conn

	pairs := make([]string, len(c.symbols))
	for i, s := range c.symbols {
		pairs[i] = ToPair(s)
	}
	sub := subscribeRequest{
		Method: "subscribe",
		Params: subscribeParams{Channel: "trade", Symbol: pairs, Snapshot: true},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		c.conn = nil
		return fmt.Errorf("kraken trade subscription: %w", err)
	}

	log.Info().Strs("symbols", pairs).Str("url", c.url).Msg("subscribed to Kraken trades")
	return nil
}

// StreamTrades reads frames until the connection closes. Trade entries are
// normalized and emitted; heartbeats and other channel messages are logged and
// skipped; malformed entries are dropped one at a time.
func (c *WSClient) StreamTrades(ctx context.Context, emit exchange.EmitFunc) error {
	if c.conn == nil {
		return fmt.Errorf("kraken websocket: not connected, call Connect first")
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info().Msg("kraken websocket closed normally")
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kraken websocket closed abnormally: %w", err)
		}

		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Error().Err(err).Msg("skipping unparseable frame from Kraken")
			continue
		}

		switch env.Channel {
		case "trade":
			for _, raw := range env.Data {
				var wt wsTrade
				if err := json.Unmarshal(raw, &wt); err != nil {
					log.Error().Err(err).Msg("skipping malformed Kraken trade")
					continue
				}
				trade, err := wt.normalize()
				if err != nil {
					log.Error().Err(err).Msg("skipping invalid Kraken trade")
					continue
				}
				emit(trade)
			}
		case "heartbeat":
			log.Info().Str("exchange", string(domain.ExchangeKraken)).Msg("heartbeat")
		default:
			log.Info().Str("channel", env.Channel).Msg("non-trade message from Kraken")
		}
	}
}

// Close shuts the websocket down.
func (c *WSClient) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
