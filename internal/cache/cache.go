// Package cache provides named, bounded, TTL'd response caches with the
// master's coherent invalidation policy. Caches store both success and
// negative results so a known-absent lookup stays cheap.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

var cacheRequests = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "amon_cache_requests_total",
		Help: "Cache lookups by cache name and result.",
	},
	[]string{"name", "result"},
)

func init() {
	prometheus.MustRegister(cacheRequests)
}

// Cache is a single named cache. Capacity 0 means unbounded; otherwise
// least-recently-used entries are evicted. Entries expire after the TTL.
type Cache struct {
	name     string
	lru      *expirable.LRU[string, any]
	disabled bool
}

// New creates a cache. When disabled is set every Get is a miss and every
// Set is a no-op (the global cache-off sentinel).
func New(name string, capacity int, ttl time.Duration, disabled bool) *Cache {
	return &Cache{
		name:     name,
		lru:      expirable.NewLRU[string, any](capacity, nil, ttl),
		disabled: disabled,
	}
}

// Name returns the cache's name.
func (c *Cache) Name() string {
	return c.name
}

// Get returns the cached value for key. The second return distinguishes a
// cached nil (negative result) from a miss.
func (c *Cache) Get(key string) (any, bool) {
	if c.disabled {
		cacheRequests.WithLabelValues(c.name, "disabled").Inc()
		return nil, false
	}
	val, ok := c.lru.Get(key)
	if ok {
		cacheRequests.WithLabelValues(c.name, "hit").Inc()
	} else {
		cacheRequests.WithLabelValues(c.name, "miss").Inc()
	}
	return val, ok
}

// Set stores value under key, replacing any prior entry and refreshing
// its TTL.
func (c *Cache) Set(key string, value any) {
	if c.disabled {
		return
	}
	c.lru.Add(key, value)
}

// Del removes key.
func (c *Cache) Del(key string) {
	c.lru.Remove(key)
}

// Reset empties the cache.
func (c *Cache) Reset() {
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Registry owns the master's named caches and enforces the invalidation
// policy applied on every write.
type Registry struct {
	mu       sync.RWMutex
	caches   map[string]*Cache
	disabled bool
	logger   *zap.Logger
}

// NewRegistry creates an empty cache registry. When disabled is set, every
// cache created through it is disabled.
func NewRegistry(disabled bool, logger *zap.Logger) *Registry {
	return &Registry{
		caches:   make(map[string]*Cache),
		disabled: disabled,
		logger:   logger,
	}
}

// Create registers a named cache. Creating an existing name returns the
// original.
func (r *Registry) Create(name string, capacity int, ttl time.Duration) *Cache {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.caches[name]; ok {
		return c
	}
	c := New(name, capacity, ttl, r.disabled)
	r.caches[name] = c
	return c
}

// Get returns the named cache, or nil if it was never created.
func (r *Registry) Get(name string) *Cache {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.caches[name]
}

// InvalidateWrite applies the write-invalidation policy for an entity of
// the given kind: the "<kind>List" cache is cleared entirely and the
// entity's key is dropped from "<kind>Get".
func (r *Registry) InvalidateWrite(kind, key string) {
	if c := r.Get(kind + "List"); c != nil {
		c.Reset()
	}
	if c := r.Get(kind + "Get"); c != nil {
		c.Del(key)
	}
	r.logger.Debug("cache invalidated", zap.String("kind", kind), zap.String("key", key))
}
