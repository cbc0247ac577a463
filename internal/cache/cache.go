// Package cache implements a sharded in-memory key/value cache with a fixed
// time-to-live per instance.
//
// An entry is visible while now-storedAt < ttl. Reads never extend an entry's
// life. Expired entries are removed lazily when their key is read, or by Clear.
package cache

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/fairyhunter13/drug-price-aggregator/internal/obs"
)

// Entry is a stored value with its write time.
type Entry[V any] struct {
	Key      string
	Value    V
	StoredAt time.Time
}

type shard[V any] struct {
	mu sync.RWMutex
	m  map[string]Entry[V]
}

// Cache is safe for concurrent use. Distinct keys in different shards never
// contend on the same lock.
type Cache[V any] struct {
	name   string
	ttl    time.Duration
	now    func() time.Time
	shards []*shard[V]
}

type settings struct {
	name   string
	shards int
	now    func() time.Time
}

// Option configures a Cache.
type Option func(*settings)

// WithName labels the cache in metrics.
func WithName(name string) Option { return func(s *settings) { s.name = name } }

// WithShards sets the number of lock shards. Values below 1 mean 1.
func WithShards(n int) Option { return func(s *settings) { s.shards = n } }

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option { return func(s *settings) { s.now = now } }

// New creates a cache whose entries live for ttl after being written.
func New[V any](ttl time.Duration, opts ...Option) *Cache[V] {
	st := settings{name: "default", shards: 16, now: time.Now}
	for _, o := range opts {
		o(&st)
	}
	if st.shards < 1 {
		st.shards = 1
	}
	c := &Cache[V]{name: st.name, ttl: ttl, now: st.now, shards: make([]*shard[V], st.shards)}
	for i := range c.shards {
		c.shards[i] = &shard[V]{m: make(map[string]Entry[V])}
	}
	return c
}

// TTL returns the configured time-to-live.
func (c *Cache[V]) TTL() time.Duration { return c.ttl }

func (c *Cache[V]) shardFor(key string) *shard[V] {
	return c.shards[xxhash.Sum64String(key)%uint64(len(c.shards))]
}

func (c *Cache[V]) expired(e Entry[V], now time.Time) bool {
	return now.Sub(e.StoredAt) >= c.ttl
}

// Get returns the value stored under key unless it is absent or expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	sh := c.shardFor(key)
	now := c.now()

	sh.mu.RLock()
	e, ok := sh.m[key]
	sh.mu.RUnlock()
	if !ok {
		obs.CacheEvents.WithLabelValues(c.name, "miss").Inc()
		var zero V
		return zero, false
	}
	if !c.expired(e, now) {
		obs.CacheEvents.WithLabelValues(c.name, "hit").Inc()
		return e.Value, true
	}

	sh.mu.Lock()
	// a concurrent Set may have refreshed the key since the read above
	if cur, ok := sh.m[key]; ok && c.expired(cur, now) {
		delete(sh.m, key)
	}
	sh.mu.Unlock()
	obs.CacheEvents.WithLabelValues(c.name, "expired").Inc()
	var zero V
	return zero, false
}

// Set stores value under key, stamped with the current time.
func (c *Cache[V]) Set(key string, value V) {
	sh := c.shardFor(key)
	e := Entry[V]{Key: key, Value: value, StoredAt: c.now()}
	sh.mu.Lock()
	sh.m[key] = e
	sh.mu.Unlock()
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	sh := c.shardFor(key)
	sh.mu.Lock()
	delete(sh.m, key)
	sh.mu.Unlock()
}

// Clear drops every entry.
func (c *Cache[V]) Clear() {
	for _, sh := range c.shards {
		sh.mu.Lock()
		sh.m = make(map[string]Entry[V])
		sh.mu.Unlock()
	}
}

// Len reports stored entries, including expired ones not yet evicted.
func (c *Cache[V]) Len() int {
	n := 0
	for _, sh := range c.shards {
		sh.mu.RLock()
		n += len(sh.m)
		sh.mu.RUnlock()
	}
	return n
}
