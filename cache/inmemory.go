// Package cache provides the in-process implementation of the
// gamecore.Cache interface: a mutex-guarded map with per-key TTL,
// expired entries reaped on read. It serves single-process hosts and
// tests; multi-process hosts use the redis package instead.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/sharedcode/gamecore"
)

func init() {
	gamecore.RegisterCache(gamecore.InMemory, NewInMemory)
}

type item struct {
	data       []byte
	expiration time.Time
}

// Zero expiration time means the entry never expires.
func (it item) expired() bool {
	return !it.expiration.IsZero() && time.Now().After(it.expiration)
}

// InMemory is a process-local cache. All operations are safe for
// concurrent use.
type InMemory struct {
	mu    sync.RWMutex
	items map[string]item
}

// NewInMemory returns an empty in-memory cache.
func NewInMemory() gamecore.Cache {
	return &InMemory{
		items: map[string]item{},
	}
}

func (c *InMemory) put(key string, data []byte, expiration time.Duration) {
	// No caching if expiration < 0, matching the redis client.
	if expiration < 0 {
		return
	}
	var exp time.Time
	if expiration > 0 {
		exp = time.Now().Add(expiration)
	}
	c.mu.Lock()
	c.items[key] = item{data: data, expiration: exp}
	c.mu.Unlock()
}

// fetch reads an entry, evicting it first if its TTL has lapsed.
func (c *InMemory) fetch(key string) ([]byte, bool) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if it.expired() {
		c.mu.Lock()
		if cur, ok := c.items[key]; ok && cur.expired() {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return it.data, true
}

func (c *InMemory) Set(ctx context.Context, key string, value string, expiration time.Duration) error {
	c.put(key, []byte(value), expiration)
	return nil
}

func (c *InMemory) Get(ctx context.Context, key string) (bool, string, error) {
	data, ok := c.fetch(key)
	if !ok {
		return false, "", nil
	}
	return true, string(data), nil
}

func (c *InMemory) SetStruct(ctx context.Context, key string, value any, expiration time.Duration) error {
	ba, err := gamecore.DefaultMarshaler.Marshal(value)
	if err != nil {
		return err
	}
	c.put(key, ba, expiration)
	return nil
}

func (c *InMemory) GetStruct(ctx context.Context, key string, target any) (bool, error) {
	data, ok := c.fetch(key)
	if !ok {
		return false, nil
	}
	if err := gamecore.DefaultMarshaler.Unmarshal(data, target); err != nil {
		return false, err
	}
	return true, nil
}

func (c *InMemory) Delete(ctx context.Context, keys []string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	found := false
	for _, k := range keys {
		if _, ok := c.items[k]; ok {
			delete(c.items, k)
			found = true
		}
	}
	return found, nil
}

func (c *InMemory) Ping(ctx context.Context) error {
	return nil
}

func (c *InMemory) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.items = map[string]item{}
	c.mu.Unlock()
	return nil
}
