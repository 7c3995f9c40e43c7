package news

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// WatermarkStore checkpoints the published-at watermark per source so dedupe
// survives restarts.
type WatermarkStore interface {
	Load(ctx context.Context, source string) (string, error)
	Save(ctx context.Context, source, watermark string) error
}

const watermarkKeyPrefix = "marketflow:news:watermark:"

// RedisWatermarkStore persists watermarks as plain Redis strings.
type RedisWatermarkStore struct {
	client *redis.Client
}

func NewRedisWatermarkStore(client *redis.Client) *RedisWatermarkStore {
	return &RedisWatermarkStore{client: client}
}

func (s *RedisWatermarkStore) Load(ctx context.Context, source string) (string, error) {
	val, err := s.client.Get(ctx, watermarkKeyPrefix+source).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load news watermark: %w", err)
	}
	return val, nil
}

func (s *RedisWatermarkStore) Save(ctx context.Context, source, watermark string) error {
	if err := s.client.Set(ctx, watermarkKeyPrefix+source, watermark, 0).Err(); err != nil {
		return fmt.Errorf("save news watermark: %w", err)
	}
	return nil
}

// MemoryWatermarkStore keeps watermarks in process. Used in tests and when no
// checkpoint backend is configured.
type MemoryWatermarkStore struct {
	mu   sync.Mutex
	data map[string]string
}

func NewMemoryWatermarkStore() *MemoryWatermarkStore {
	return &MemoryWatermarkStore{data: make(map[string]string)}
}

func (s *MemoryWatermarkStore) Load(_ context.Context, source string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[source], nil
}

func (s *MemoryWatermarkStore) Save(_ context.Context, source, watermark string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[source] = watermark
	return nil
}
