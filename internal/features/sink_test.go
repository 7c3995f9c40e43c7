package features

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketflow/marketflow/internal/domain"
	"github.com/marketflow/marketflow/internal/stream"
)

func newMockSink(t *testing.T) (*Sink, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSink(sqlx.NewDb(db, "sqlmock")), mock
}

func indicatorRecord() domain.TechnicalAnalysis {
	candle := domain.Candle{
		Symbol:    domain.SymbolBTCUSD,
		Timeframe: domain.Timeframe1m,
		Exchange:  domain.ExchangeKraken,
		Open:      100,
		High:      110,
		Low:       95,
		Close:     105,
		Volume:    42,
		Timestamp: 59000,
		Start:     0,
		End:       60000,
	}
	return domain.NewTechnicalAnalysis(candle)
}

func TestWriteUpsertsOnWindowBounds(t *testing.T) {
	sink, mock := newMockSink(t)
	rec := indicatorRecord()

	mock.ExpectExec("INSERT INTO ta_features").
		WithArgs("BTCUSD", "1m", int64(0), int64(60000), int64(59000), "KRAKEN",
			100.0, 110.0, 95.0, 105.0, 42.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, sink.Write(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFlattenReplacesWarmupNullsWithZero(t *testing.T) {
	rec := indicatorRecord()
	rsi := 61.8
	rec.RSI14 = &rsi

	data, err := flattenFeatures(rec)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(data, &flat))
	assert.Equal(t, 61.8, flat["rsi_14"])
	assert.Equal(t, 0.0, flat["rsi_21"], "indicators still warming up are stored as zero")
	assert.Equal(t, 0.0, flat["macd"])
	assert.Equal(t, 105.0, flat["close"])
}

func TestEnsureSchemaCreatesTable(t *testing.T) {
	sink, mock := newMockSink(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS ta_features").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, sink.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlerAppliesBackpressureOnWriteFailure(t *testing.T) {
	sink, mock := newMockSink(t)
	h := sink.Handler()

	mock.ExpectExec("INSERT INTO ta_features").
		WillReturnError(errors.New("too many connections"))

	payload, err := json.Marshal(indicatorRecord())
	require.NoError(t, err)

	err = h(context.Background(), &stream.Message{Topic: "ta", Partition: 2, Payload: payload})
	var bp *stream.BackpressureError
	require.ErrorAs(t, err, &bp)
	assert.Equal(t, time.Second, bp.RetryAfter)
	assert.Equal(t, "ta", bp.Topic)
	assert.Equal(t, int32(2), bp.Partition)
}

func TestHandlerDropsUnparseableRecords(t *testing.T) {
	sink, mock := newMockSink(t)
	h := sink.Handler()

	require.NoError(t, h(context.Background(), &stream.Message{Payload: []byte("garbage")}))
	require.NoError(t, mock.ExpectationsWereMet())
}
