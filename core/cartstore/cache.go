package cartstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/comprepues/vault/core/vault"
	"github.com/redis/go-redis/v9"
)

// Cache keeps the last known good snapshot per buyer and store so a new
// session has something to show while its first load is in flight.
type Cache interface {
	// Get returns nil without error on a miss.
	Get(ctx context.Context, key string) (*vault.Cart, error)
	Set(ctx context.Context, key string, cart *vault.Cart) error
	Delete(ctx context.Context, key string) error
}

func Key(buyerID vault.ID, storeName string) string {
	return fmt.Sprintf("vault:snapshot:%s:%s", storeName, buyerID)
}

type entry struct {
	cart    *vault.Cart
	expires time.Time
}

type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func (m *MemoryCache) Get(_ context.Context, key string) (*vault.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, nil
	}
	if m.ttl > 0 && m.now().After(e.expires) {
		delete(m.entries, key)
		return nil, nil
	}
	return e.cart.Clone(), nil
}

func (m *MemoryCache) Set(_ context.Context, key string, cart *vault.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = entry{cart: cart.Clone(), expires: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

type RedisCache struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisCache(rdb redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, key string) (*vault.Cart, error) {
	b, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", key, err)
	}

	var cart vault.Cart
	if err := json.Unmarshal(b, &cart); err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", key, err)
	}
	return &cart, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, cart *vault.Cart) error {
	b, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("encoding snapshot %s: %w", key, err)
	}
	if err := r.rdb.Set(ctx, key, b, r.ttl).Err(); err != nil {
		return fmt.Errorf("writing snapshot %s: %w", key, err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("deleting snapshot %s: %w", key, err)
	}
	return nil
}
