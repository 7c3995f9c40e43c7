package candles

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketflow/marketflow/internal/domain"
	"github.com/marketflow/marketflow/internal/stream"
)

func trade(price, volume float64, ts int64) domain.Trade {
	return domain.Trade{
		Symbol:    domain.SymbolXRPUSD,
		Price:     price,
		Volume:    volume,
		Timestamp: ts,
		Exchange:  domain.ExchangeKraken,
	}
}

func collector() (*[]domain.Candle, EmitFunc) {
	var out []domain.Candle
	return &out, func(_ context.Context, c domain.Candle) error {
		out = append(out, c)
		return nil
	}
}

func TestLiveEmissionSingleWindow(t *testing.T) {
	out, emit := collector()
	op := NewOperator(domain.Timeframe1m, domain.EmissionLive, emit)
	ctx := context.Background()

	require.NoError(t, op.OnTrade(ctx, trade(10, 1, 1000)))
	require.NoError(t, op.OnTrade(ctx, trade(12, 2, 5000)))
	require.NoError(t, op.OnTrade(ctx, trade(11, 3, 59000)))

	require.Len(t, *out, 3, "LIVE emits after every trade")

	final := (*out)[2]
	assert.Equal(t, 10.0, final.Open)
	assert.Equal(t, 12.0, final.High)
	assert.Equal(t, 10.0, final.Low)
	assert.Equal(t, 11.0, final.Close)
	assert.Equal(t, 6.0, final.Volume)
	assert.Equal(t, int64(0), final.Start)
	assert.Equal(t, int64(60000), final.End)
	assert.Equal(t, int64(59000), final.Timestamp)

	// Every partial carries the bounds of the open window.
	for _, c := range *out {
		assert.Equal(t, int64(0), c.Start)
		assert.Equal(t, int64(60000), c.End)
	}
}

func TestFullEmissionAtWindowBoundary(t *testing.T) {
	out, emit := collector()
	op := NewOperator(domain.Timeframe1m, domain.EmissionFull, emit)
	ctx := context.Background()

	require.NoError(t, op.OnTrade(ctx, trade(10, 1, 1000)))
	require.NoError(t, op.OnTrade(ctx, trade(12, 2, 5000)))
	require.NoError(t, op.OnTrade(ctx, trade(11, 3, 59000)))
	assert.Empty(t, *out, "FULL emits nothing until the window closes")

	// The trade at the boundary starts a new window and flushes the old one.
	require.NoError(t, op.OnTrade(ctx, trade(13, 1, 60000)))
	require.Len(t, *out, 1)

	final := (*out)[0]
	assert.Equal(t, 10.0, final.Open)
	assert.Equal(t, 12.0, final.High)
	assert.Equal(t, 10.0, final.Low)
	assert.Equal(t, 11.0, final.Close)
	assert.Equal(t, 6.0, final.Volume, "the boundary trade does not enter the prior candle")
	assert.Equal(t, int64(0), final.Start)
	assert.Equal(t, int64(60000), final.End)
	assert.Equal(t, int64(59000), final.Timestamp)
}

func TestKeysDoNotShareWindows(t *testing.T) {
	out, emit := collector()
	op := NewOperator(domain.Timeframe1m, domain.EmissionLive, emit)
	ctx := context.Background()

	btc := trade(42000, 1, 1000)
	btc.Symbol = domain.SymbolBTCUSD
	require.NoError(t, op.OnTrade(ctx, trade(10, 1, 1000)))
	require.NoError(t, op.OnTrade(ctx, btc))

	require.Len(t, *out, 2)
	assert.Equal(t, 1.0, (*out)[0].Volume)
	assert.Equal(t, 1.0, (*out)[1].Volume, "a second key starts its own candle")
	assert.Equal(t, domain.SymbolBTCUSD, (*out)[1].Symbol)
}

func TestLateTradeBehindWindowIsDropped(t *testing.T) {
	out, emit := collector()
	op := NewOperator(domain.Timeframe1m, domain.EmissionLive, emit)
	ctx := context.Background()

	require.NoError(t, op.OnTrade(ctx, trade(10, 1, 61000)))
	require.NoError(t, op.OnTrade(ctx, trade(99, 1, 1000)))

	require.Len(t, *out, 1, "the stale trade does not re-open a closed window")
	assert.Equal(t, 10.0, (*out)[0].Close)
}

func TestHandlerDropsMalformedTrades(t *testing.T) {
	out, emit := collector()
	op := NewOperator(domain.Timeframe1m, domain.EmissionLive, emit)
	h := op.Handler()
	ctx := context.Background()

	require.NoError(t, h(ctx, &stream.Message{Payload: []byte(`garbage`)}))
	require.NoError(t, h(ctx, &stream.Message{Payload: []byte(`{"symbol":"XRPUSD","price":-1,"volume":1,"timestamp":0,"exchange":"KRAKEN"}`)}))
	assert.Empty(t, *out)

	payload, err := json.Marshal(trade(10, 1, 1000))
	require.NoError(t, err)
	require.NoError(t, h(ctx, &stream.Message{Payload: payload}))
	assert.Len(t, *out, 1)
}

func TestPublishEmitKeysByExchangeAndSymbol(t *testing.T) {
	bus := stream.NewMemoryBus("0")
	emit := PublishEmit(bus, "candles", domain.EmissionLive)
	op := NewOperator(domain.Timeframe1m, domain.EmissionLive, emit)

	require.NoError(t, op.OnTrade(context.Background(), trade(10, 1, 1000)))

	msgs := bus.Messages("candles")
	require.Len(t, msgs, 1)
	assert.Equal(t, "KRAKEN|XRPUSD", msgs[0].Key)

	var c domain.Candle
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &c))
	assert.Equal(t, 10.0, c.Open)
	assert.Equal(t, stream.MessageTimestamp(msgs[0].Payload), c.Timestamp)
}
