package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryBusFIFOPerKey(t *testing.T) {
	bus := NewMemoryBus("0")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, payload := range []string{"1", "2", "3", "4"} {
		require.NoError(t, bus.Publish(ctx, "trades", "XRPUSD", []byte(payload)))
	}

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	go func() {
		_ = bus.Subscribe(ctx, "trades", "cg_test", func(_ context.Context, msg *Message) error {
			mu.Lock()
			got = append(got, string(msg.Payload))
			if len(got) == 4 {
				close(done)
			}
			mu.Unlock()
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for messages")
	}
	mu.Lock()
	assert.Equal(t, []string{"1", "2", "3", "4"}, got)
	mu.Unlock()
}

func TestMemoryBusLatestOffsetSkipsHistory(t *testing.T) {
	bus := NewMemoryBus("$")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Publish(ctx, "trades", "k", []byte("old")))

	got := make(chan string, 1)
	go func() {
		_ = bus.Subscribe(ctx, "trades", "cg", func(_ context.Context, msg *Message) error {
			got <- string(msg.Payload)
			return nil
		})
	}()

	// Give the subscriber time to record its start position.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, bus.Publish(ctx, "trades", "k", []byte("new")))

	select {
	case payload := <-got:
		assert.Equal(t, "new", payload, "live consumers must not replay history")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for live message")
	}
}

func TestBackpressureRetriesSameMessage(t *testing.T) {
	bus := NewMemoryBus("0")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Publish(ctx, "ta", "k", []byte("x")))

	attempts := make(chan int, 4)
	n := 0
	done := make(chan struct{})
	go func() {
		_ = bus.Subscribe(ctx, "ta", "cg", func(_ context.Context, msg *Message) error {
			n++
			attempts <- n
			if n < 3 {
				return &BackpressureError{RetryAfter: 10 * time.Millisecond, Topic: msg.Topic}
			}
			close(done)
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for retries")
	}
	assert.Equal(t, 1, <-attempts)
	assert.Equal(t, 2, <-attempts)
	assert.Equal(t, 3, <-attempts)
}

func TestMessageTimestamp(t *testing.T) {
	assert.Equal(t, int64(59000), MessageTimestamp([]byte(`{"symbol":"XRPUSD","timestamp":59000}`)))
	assert.Equal(t, int64(0), MessageTimestamp([]byte(`not json`)))
	assert.Equal(t, int64(0), MessageTimestamp([]byte(`{}`)))
}

func TestHistoricalTopic(t *testing.T) {
	assert.Equal(t, "trades_historical_job42", HistoricalTopic("trades", "job42"))
}

func TestBackpressureErrorMessage(t *testing.T) {
	err := &BackpressureError{RetryAfter: 2 * time.Second, Topic: "candles", Partition: 3}
	assert.Contains(t, err.Error(), "candles")
	assert.Contains(t, err.Error(), "2s")
}
