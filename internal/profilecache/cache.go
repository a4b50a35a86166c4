// Package profilecache holds the process-wide role cache keyed by user id.
// Reads are served from memory; the durable store is a write-behind mirror
// loaded once at construction.
package profilecache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/auth-session/internal/cachestore"
	"github.com/spec-kit/auth-session/internal/domain"
	"github.com/spec-kit/auth-session/internal/observability"
)

// DefaultTTL is the maximum age of a servable entry.
const DefaultTTL = 10 * time.Minute

// Cache is safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]domain.ProfileCacheEntry
	version uint64
	// touched records the version of the last Set or Delete per user.
	touched   map[string]uint64
	clearedAt uint64

	ttl     time.Duration
	now     func() time.Time
	store   *cachestore.Store
	metrics *observability.Metrics
	logger  *zap.Logger

	// write-behind state
	pmu           sync.Mutex
	pending       map[string]domain.ProfileCacheEntry
	queuedVersion uint64
	dirty         bool
	flushing      bool
	idle          chan struct{}
}

// Option customises a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock injects the time source used for WrittenAt and expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithMetrics counts hits and misses.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) { c.logger = observability.OrNop(logger).Named("profilecache") }
}

// New builds a cache and loads the durable mirror once. store may be nil.
func New(ctx context.Context, store *cachestore.Store, opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]domain.ProfileCacheEntry),
		touched: make(map[string]uint64),
		ttl:     DefaultTTL,
		now:     time.Now,
		store:   store,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if store != nil {
		if !store.Probe(ctx) {
			c.logger.Warn("durable profile cache unavailable; running memory-only")
		}
		c.entries = store.Load(ctx)
		c.logger.Debug("profile cache loaded", zap.Int("entries", len(c.entries)))
	}
	return c
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the entry for userID when it is younger than the TTL.
// Expired entries are reported as misses but left in place.
func (c *Cache) Get(userID string) (domain.ProfileCacheEntry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()

	fresh := ok && c.now().Sub(entry.WrittenAt) < c.ttl
	c.metrics.RecordCacheLookup(fresh)
	if !fresh {
		return domain.ProfileCacheEntry{}, false
	}
	return entry, true
}

// Set stores a fresh entry and persists the mapping.
func (c *Cache) Set(userID string, role domain.Role, displayName string) {
	if userID == "" {
		return
	}
	c.mu.Lock()
	c.setLocked(userID, role, displayName)
}

// Stamp returns the current mutation version. Pass it to SetIfUnchanged to
// write a value computed from data read after the stamp was taken.
func (c *Cache) Stamp() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// SetIfUnchanged stores the entry unless userID was set, deleted or the cache
// cleared after stamp. It reports whether the entry was written.
func (c *Cache) SetIfUnchanged(userID string, stamp uint64, role domain.Role, displayName string) bool {
	if userID == "" {
		return false
	}
	c.mu.Lock()
	if c.touched[userID] > stamp || c.clearedAt > stamp {
		c.mu.Unlock()
		return false
	}
	c.setLocked(userID, role, displayName)
	return true
}

// setLocked writes the entry, releases mu and persists.
func (c *Cache) setLocked(userID string, role domain.Role, displayName string) {
	c.entries[userID] = domain.ProfileCacheEntry{
		Role:        role,
		DisplayName: displayName,
		WrittenAt:   c.now(),
	}
	snapshot, version := c.snapshotLocked()
	c.touched[userID] = version
	c.mu.Unlock()

	c.schedulePersist(snapshot, version)
}

// Delete removes one entry and persists the mapping.
func (c *Cache) Delete(userID string) {
	c.mu.Lock()
	if _, ok := c.entries[userID]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.entries, userID)
	snapshot, version := c.snapshotLocked()
	c.touched[userID] = version
	c.mu.Unlock()

	c.schedulePersist(snapshot, version)
}

// Clear empties the cache and the durable store.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]domain.ProfileCacheEntry)
	snapshot, version := c.snapshotLocked()
	c.touched = make(map[string]uint64)
	c.clearedAt = version
	c.mu.Unlock()

	c.schedulePersist(snapshot, version)
}

// Prune evicts expired entries and returns how many were removed.
func (c *Cache) Prune() int {
	now := c.now()

	c.mu.Lock()
	removed := 0
	for userID, entry := range c.entries {
		if now.Sub(entry.WrittenAt) >= c.ttl {
			delete(c.entries, userID)
			removed++
		}
	}
	if removed == 0 {
		c.mu.Unlock()
		return 0
	}
	snapshot, version := c.snapshotLocked()
	c.mu.Unlock()

	c.schedulePersist(snapshot, version)
	return removed
}

// Len returns the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Flush blocks until pending writes reached the durable store.
func (c *Cache) Flush() {
	for {
		c.pmu.Lock()
		if !c.flushing {
			c.pmu.Unlock()
			return
		}
		idle := c.idle
		c.pmu.Unlock()
		<-idle
	}
}

func (c *Cache) snapshotLocked() (map[string]domain.ProfileCacheEntry, uint64) {
	c.version++
	out := make(map[string]domain.ProfileCacheEntry, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out, c.version
}

// schedulePersist hands the snapshot to the single writer goroutine. Only the
// newest snapshot is written; older ones arriving late are dropped.
func (c *Cache) schedulePersist(snapshot map[string]domain.ProfileCacheEntry, version uint64) {
	if c.store == nil {
		return
	}
	c.pmu.Lock()
	if version <= c.queuedVersion {
		c.pmu.Unlock()
		return
	}
	c.queuedVersion = version
	c.pending = snapshot
	c.dirty = true
	if c.flushing {
		c.pmu.Unlock()
		return
	}
	c.flushing = true
	c.idle = make(chan struct{})
	c.pmu.Unlock()

	go c.drain()
}

func (c *Cache) drain() {
	for {
		c.pmu.Lock()
		if !c.dirty {
			c.flushing = false
			close(c.idle)
			c.pmu.Unlock()
			return
		}
		snapshot := c.pending
		c.pending = nil
		c.dirty = false
		c.pmu.Unlock()

		c.store.Save(context.Background(), snapshot)
	}
}
