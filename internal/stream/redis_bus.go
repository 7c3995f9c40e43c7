package stream

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisConfig configures the Redis Streams bus.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Consumer is this process's name inside its consumer group.
	Consumer string `yaml:"consumer"`

	// StartOffset is where a newly created consumer group begins: "$" for
	// latest-only-on-start (LIVE) or "0" for replay-from-earliest (HISTORICAL).
	StartOffset string `yaml:"start_offset"`

	// Block bounds each broker poll so shutdown is responsive.
	Block time.Duration `yaml:"block"`

	// MaxLen caps topic length; 0 keeps everything.
	MaxLen int64 `yaml:"max_len"`
}

// RedisBus implements Bus on Redis Streams. A topic is one stream key; each
// service consumes through its own consumer group, which gives per-topic FIFO
// and at-least-once delivery with explicit acks.
type RedisBus struct {
	client *redis.Client
	cfg    RedisConfig
}

// NewRedisBus connects a Redis Streams bus.
func NewRedisBus(cfg RedisConfig) *RedisBus {
	if cfg.StartOffset == "" {
		cfg.StartOffset = "$"
	}
	if cfg.Block <= 0 {
		cfg.Block = time.Second
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}
	return &RedisBus{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		cfg: cfg,
	}
}

// Ping verifies broker connectivity.
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Publish appends one record to the topic stream.
func (b *RedisBus) Publish(ctx context.Context, topic, key string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: topic,
		Values: map[string]any{"key": key, "payload": payload},
	}
	if b.cfg.MaxLen > 0 {
		args.MaxLen = b.cfg.MaxLen
		args.Approx = true
	}
	return b.client.XAdd(ctx, args).Err()
}

// Subscribe consumes the topic within the consumer group until ctx ends. The
// group is created on first use at the configured start offset; subsequent
// runs resume from the group's committed position.
func (b *RedisBus) Subscribe(ctx context.Context, topic, group string, h Handler) error {
	if err := b.ensureGroup(ctx, topic, group); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: b.cfg.Consumer,
			Streams:  []string{topic, ">"},
			Count:    64,
			Block:    b.cfg.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Str("topic", topic).Str("group", group).Msg("bus read failed")
			sleepCtx(ctx, time.Second)
			continue
		}

		for _, s := range streams {
			for _, entry := range s.Messages {
				b.dispatch(ctx, topic, group, entry, h)
			}
		}
	}
}

// dispatch runs the handler for one entry, honoring backpressure retries, and
// acks the entry once it is either handled or dropped.
func (b *RedisBus) dispatch(ctx context.Context, topic, group string, entry redis.XMessage, h Handler) {
	msg := &Message{
		ID:      entry.ID,
		Topic:   topic,
		Key:     stringValue(entry.Values, "key"),
		Payload: []byte(stringValue(entry.Values, "payload")),
	}

	for {
		err := h(ctx, msg)
		if err == nil {
			break
		}

		var bp *BackpressureError
		if errors.As(err, &bp) {
			log.Warn().
				Str("topic", topic).
				Dur("retry_after", bp.RetryAfter).
				Msg("sink backpressure, pausing partition")
			if !sleepCtx(ctx, bp.RetryAfter) {
				return
			}
			continue
		}

		log.Error().Err(err).Str("topic", topic).Str("key", msg.Key).Msg("dropping message")
		break
	}

	if err := b.client.XAck(ctx, topic, group, entry.ID).Err(); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Str("topic", topic).Str("id", entry.ID).Msg("ack failed")
	}
}

func (b *RedisBus) ensureGroup(ctx context.Context, topic, group string) error {
	err := b.client.XGroupCreateMkStream(ctx, topic, group, b.cfg.StartOffset).Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Close releases the broker connection.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

func stringValue(values map[string]any, key string) string {
	if v, ok := values[key].(string); ok {
		return v
	}
	return ""
}

// sleepCtx sleeps for d unless ctx ends first; it reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
