package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend 生产环境默认后端
type RedisBackend struct {
	rdb *redis.Client
}

func NewRedisBackend(rdb *redis.Client) *RedisBackend {
	return &RedisBackend{rdb: rdb}
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	bs, err := b.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return bs, err
}

func (b *RedisBackend) Set(ctx context.Context, key string, value []byte, retention time.Duration) error {
	return b.rdb.Set(ctx, key, value, retention).Err()
}

func (b *RedisBackend) Del(ctx context.Context, key string) error {
	return b.rdb.Del(ctx, key).Err()
}

// MemoryBackend 进程内后端：测试用，Redis 不可用时也作为降级方案
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[string]memoryItem
}

type memoryItem struct {
	value    []byte
	deadline time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: make(map[string]memoryItem)}
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	it, ok := b.items[key]
	b.mu.RUnlock()
	if !ok || time.Now().After(it.deadline) {
		return nil, ErrMiss
	}
	return it.value, nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte, retention time.Duration) error {
	b.mu.Lock()
	b.items[key] = memoryItem{value: value, deadline: time.Now().Add(retention)}
	b.mu.Unlock()
	return nil
}

func (b *MemoryBackend) Del(_ context.Context, key string) error {
	b.mu.Lock()
	delete(b.items, key)
	b.mu.Unlock()
	return nil
}
