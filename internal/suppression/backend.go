package suppression

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryBackend keeps entries in a map. Err, when set, fails every call.
type MemoryBackend struct {
	mu      sync.Mutex
	entries map[string]Entry
	Err     error
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]Entry)}
}

func (b *MemoryBackend) Get(_ context.Context, key string) (Entry, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return Entry{}, false, b.Err
	}
	e, ok := b.entries[key]
	return e, ok, nil
}

func (b *MemoryBackend) Put(_ context.Context, e Entry, _ time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return b.Err
	}
	b.entries[e.Key] = e
	return nil
}

func (b *MemoryBackend) Prune(_ context.Context, now time.Time, retention time.Duration) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.Err != nil {
		return 0, b.Err
	}
	n := 0
	for k, e := range b.entries {
		if now.Sub(e.LastAlertAt) > max(e.Window, retention) {
			delete(b.entries, k)
			n++
		}
	}
	return n, nil
}

// RedisBackend stores each entry as a JSON string with a TTL, so expiry is
// handled by Redis and Prune has nothing to do.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisBackend wraps client. Keys are stored as prefix + suppression key.
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "sentinel:suppression:"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return e, true, nil
}

func (b *RedisBackend) Put(ctx context.Context, e Entry, ttl time.Duration) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.client.Set(ctx, b.prefix+e.Key, raw, ttl).Err()
}

func (b *RedisBackend) Prune(context.Context, time.Time, time.Duration) (int, error) { return 0, nil }
