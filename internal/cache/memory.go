package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryCache is an in-process Cache used when no Redis URL is configured.
// Expired entries are hidden from Get and swept in the background.
type MemoryCache struct {
	items     *ttlcache.Cache[string, string]
	closeOnce sync.Once
}

var _ Cache = (*MemoryCache)(nil)

func NewMemory() *MemoryCache {
	items := ttlcache.New[string, string](
		ttlcache.WithDisableTouchOnHit[string, string](),
	)
	go items.Start()
	return &MemoryCache{items: items}
}

func (m *MemoryCache) Get(_ context.Context, key string) (string, error) {
	item := m.items.Get(key)
	if item == nil {
		return "", ErrMiss
	}
	return item.Value(), nil
}

// Set stores value; a ttl <= 0 never expires.
func (m *MemoryCache) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	m.items.Set(key, value, ttl)
	return nil
}

// Close stops the expiry sweeper. Further calls are no-ops.
func (m *MemoryCache) Close() error {
	m.closeOnce.Do(m.items.Stop)
	return nil
}
