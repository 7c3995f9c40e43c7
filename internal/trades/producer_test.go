package trades

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketflow/marketflow/internal/domain"
	"github.com/marketflow/marketflow/internal/exchange"
	"github.com/marketflow/marketflow/internal/stream"
)

type fakeLiveClient struct {
	trades    []domain.Trade
	streamErr error
	connected bool
	closed    bool
}

func (c *fakeLiveClient) Connect(context.Context) error {
	c.connected = true
	return nil
}

func (c *fakeLiveClient) StreamTrades(_ context.Context, emit exchange.EmitFunc) error {
	for _, t := range c.trades {
		emit(t)
	}
	return c.streamErr
}

func (c *fakeLiveClient) Close() error {
	c.closed = true
	return nil
}

type fakeHistoricalClient struct {
	pages map[domain.Symbol][]domain.Trade
	err   error
}

func (c *fakeHistoricalClient) StreamTrades(_ context.Context, symbol domain.Symbol, _ time.Time, emit exchange.EmitFunc) error {
	for _, t := range c.pages[symbol] {
		emit(t)
	}
	return c.err
}

func xrpTrade(price float64, ts int64) domain.Trade {
	return domain.Trade{
		Symbol:    domain.SymbolXRPUSD,
		Price:     price,
		Volume:    1,
		Timestamp: ts,
		Exchange:  domain.ExchangeKraken,
	}
}

func TestRunLivePublishesKeyedBySymbol(t *testing.T) {
	bus := stream.NewMemoryBus("0")
	p := NewProducer(bus, "trades", domain.IngestionLive)
	client := &fakeLiveClient{trades: []domain.Trade{xrpTrade(0.52, 1000), xrpTrade(0.53, 2000)}}

	require.NoError(t, RunLive(context.Background(), client, p))
	assert.True(t, client.connected)
	assert.True(t, client.closed)

	msgs := bus.Messages("trades")
	require.Len(t, msgs, 2)
	assert.Equal(t, "XRPUSD", msgs[0].Key)

	var back domain.Trade
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &back))
	assert.Equal(t, 0.52, back.Price)
	assert.Equal(t, int64(1000), stream.MessageTimestamp(msgs[0].Payload))
}

func TestRunLiveSurfacesAbnormalClose(t *testing.T) {
	bus := stream.NewMemoryBus("0")
	p := NewProducer(bus, "trades", domain.IngestionLive)
	client := &fakeLiveClient{streamErr: errors.New("websocket: close 1006")}

	err := RunLive(context.Background(), client, p)
	require.Error(t, err)
	assert.True(t, client.closed, "the transport is released even on abnormal close")
}

func TestRunBackfillUsesPerJobTopic(t *testing.T) {
	bus := stream.NewMemoryBus("0")
	client := &fakeHistoricalClient{pages: map[domain.Symbol][]domain.Trade{
		domain.SymbolXRPUSD: {xrpTrade(0.52, 1000)},
		domain.SymbolBTCUSD: {{Symbol: domain.SymbolBTCUSD, Price: 42000, Volume: 1, Timestamp: 1000, Exchange: domain.ExchangeKraken}},
	}}

	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	jobID, err := RunBackfill(context.Background(), client, bus, "trades",
		[]domain.Symbol{domain.SymbolXRPUSD, domain.SymbolBTCUSD}, since)
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	topic := stream.HistoricalTopic("trades", jobID)
	assert.True(t, strings.HasPrefix(topic, "trades_historical_"))
	assert.Len(t, bus.Messages(topic), 2)
	assert.Empty(t, bus.Messages("trades"), "backfill never touches the live topic")
}

func TestRunBackfillStopsOnFatalError(t *testing.T) {
	bus := stream.NewMemoryBus("0")
	client := &fakeHistoricalClient{
		pages: map[domain.Symbol][]domain.Trade{domain.SymbolXRPUSD: {xrpTrade(0.52, 1000)}},
		err:   &exchange.FatalAPIError{Exchange: domain.ExchangeKraken, Reason: "empty trades page"},
	}

	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := RunBackfill(context.Background(), client, bus, "trades", []domain.Symbol{domain.SymbolXRPUSD}, since)

	var fatal *exchange.FatalAPIError
	require.ErrorAs(t, err, &fatal)
}
