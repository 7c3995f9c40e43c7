package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MemoryBus is an in-process Bus used by tests and local development. It keeps
// every published message per topic and supports the same start-offset
// semantics as the broker-backed bus: "0" replays history, "$" delivers only
// messages published after the subscription.
type MemoryBus struct {
	mu          sync.Mutex
	topics      map[string][]*Message
	waiters     map[string][]chan struct{}
	startOffset string
	closed      bool
}

// NewMemoryBus creates an in-process bus starting consumers at the given
// offset ("$" or "0").
func NewMemoryBus(startOffset string) *MemoryBus {
	if startOffset == "" {
		startOffset = "0"
	}
	return &MemoryBus{
		topics:      make(map[string][]*Message),
		waiters:     make(map[string][]chan struct{}),
		startOffset: startOffset,
	}
}

// Publish appends the message to the topic and wakes subscribers.
func (b *MemoryBus) Publish(_ context.Context, topic, key string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("bus closed")
	}

	msg := &Message{
		ID:      fmt.Sprintf("%d-%d", time.Now().UnixMilli(), len(b.topics[topic])),
		Topic:   topic,
		Key:     key,
		Payload: payload,
		Offset:  int64(len(b.topics[topic])),
	}
	b.topics[topic] = append(b.topics[topic], msg)

	for _, ch := range b.waiters[topic] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return nil
}

// Subscribe consumes the topic until ctx is cancelled, preserving publish
// order. Handler errors follow the same policy as the broker bus: backpressure
// pauses and retries, anything else drops the message.
func (b *MemoryBus) Subscribe(ctx context.Context, topic, _ string, h Handler) error {
	wake := make(chan struct{}, 1)

	b.mu.Lock()
	b.waiters[topic] = append(b.waiters[topic], wake)
	var next int
	if b.startOffset == "$" {
		next = len(b.topics[topic])
	}
	b.mu.Unlock()

	for {
		b.mu.Lock()
		var pending []*Message
		if next < len(b.topics[topic]) {
			pending = b.topics[topic][next:]
			next = len(b.topics[topic])
		}
		b.mu.Unlock()

		for _, msg := range pending {
			for {
				err := h(ctx, msg)
				if err == nil {
					break
				}
				var bp *BackpressureError
				if errors.As(err, &bp) {
					if !sleepCtx(ctx, bp.RetryAfter) {
						return nil
					}
					continue
				}
				log.Error().Err(err).Str("topic", topic).Str("key", msg.Key).Msg("dropping message")
				break
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-wake:
		}
	}
}

// Ping always succeeds for the in-process bus.
func (b *MemoryBus) Ping(context.Context) error {
	return nil
}

// Close stops accepting publishes.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Messages returns a snapshot of everything published to the topic, in order.
func (b *MemoryBus) Messages(topic string) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Message, len(b.topics[topic]))
	copy(out, b.topics[topic])
	return out
}
