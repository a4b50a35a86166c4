package profilecache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/auth-session/internal/cachestore"
	"github.com/spec-kit/auth-session/internal/domain"
	"github.com/spec-kit/auth-session/internal/observability"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newCache(t *testing.T, storage cachestore.Storage, clock *fakeClock, opts ...Option) *Cache {
	t.Helper()
	store := cachestore.New(storage, "profile_cache", zaptest.NewLogger(t))
	opts = append([]Option{WithClock(clock.Now), WithLogger(zaptest.NewLogger(t))}, opts...)
	return New(context.Background(), store, opts...)
}

func TestCache_TTLBoundary(t *testing.T) {
	clock := newFakeClock()
	cache := newCache(t, cachestore.NewMemoryStorage(), clock)

	cache.Set("user-1", domain.RoleInstructor, "Ada")

	clock.Advance(DefaultTTL - time.Nanosecond)
	entry, ok := cache.Get("user-1")
	require.True(t, ok, "entry younger than TTL is a hit")
	assert.Equal(t, domain.RoleInstructor, entry.Role)
	assert.Equal(t, "Ada", entry.DisplayName)

	clock.Advance(time.Nanosecond)
	_, ok = cache.Get("user-1")
	assert.False(t, ok, "entry at exactly TTL is a miss")
	assert.Equal(t, 1, cache.Len(), "expiry is lazy")
}

func TestCache_PersistsAndReloads(t *testing.T) {
	clock := newFakeClock()
	storage := cachestore.NewMemoryStorage()

	first := newCache(t, storage, clock)
	first.Set("user-1", domain.RoleAdmin, "Grace")
	first.Set("user-2", domain.RoleStudent, "")
	first.Delete("user-2")
	first.Flush()

	second := newCache(t, storage, clock)
	entry, ok := second.Get("user-1")
	require.True(t, ok)
	assert.Equal(t, domain.RoleAdmin, entry.Role)
	_, ok = second.Get("user-2")
	assert.False(t, ok)
}

func TestCache_ClearEmptiesDurableStore(t *testing.T) {
	clock := newFakeClock()
	storage := cachestore.NewMemoryStorage()

	cache := newCache(t, storage, clock)
	cache.Set("user-1", domain.RoleAdmin, "")
	cache.Flush()

	cache.Clear()
	cache.Flush()

	assert.Equal(t, 0, cache.Len())
	_, found, err := storage.GetItem(context.Background(), "profile_cache")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCache_WorksWithoutStore(t *testing.T) {
	clock := newFakeClock()
	cache := New(context.Background(), nil, WithClock(clock.Now))

	cache.Set("user-1", domain.RoleStudent, "")
	cache.Flush()

	_, ok := cache.Get("user-1")
	assert.True(t, ok)
}

func TestCache_LoadedExpiredEntriesAreMisses(t *testing.T) {
	clock := newFakeClock()
	storage := cachestore.NewMemoryStorage()

	writer := newCache(t, storage, clock)
	writer.Set("user-1", domain.RoleInstructor, "")
	writer.Flush()

	clock.Advance(DefaultTTL)
	reader := newCache(t, storage, clock)
	_, ok := reader.Get("user-1")
	assert.False(t, ok)
}

func TestCache_Prune(t *testing.T) {
	clock := newFakeClock()
	cache := newCache(t, cachestore.NewMemoryStorage(), clock, WithTTL(time.Minute))

	cache.Set("old", domain.RoleStudent, "")
	clock.Advance(30 * time.Second)
	cache.Set("new", domain.RoleStudent, "")
	clock.Advance(30 * time.Second)

	assert.Equal(t, 1, cache.Prune())
	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, 0, cache.Prune())
	cache.Flush()
}

func TestCache_RecordsHitsAndMisses(t *testing.T) {
	clock := newFakeClock()
	metrics := observability.NewMetrics()
	cache := newCache(t, nil, clock, WithMetrics(metrics))

	cache.Get("user-1")
	cache.Set("user-1", domain.RoleStudent, "")
	cache.Get("user-1")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheMisses))
}

func TestCache_ConcurrentWritersKeepLatestSnapshot(t *testing.T) {
	clock := newFakeClock()
	storage := cachestore.NewMemoryStorage()
	cache := newCache(t, storage, clock)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cache.Set("user", domain.RoleStudent, "")
			cache.Set("user-"+string(rune('a'+i%26)), domain.RoleInstructor, "")
		}(i)
	}
	wg.Wait()
	cache.Flush()

	reloaded := newCache(t, storage, clock)
	assert.Equal(t, cache.Len(), reloaded.Len())
}

func TestCache_SetIfUnchanged(t *testing.T) {
	clock := newFakeClock()
	cache := newCache(t, cachestore.NewMemoryStorage(), clock)

	stamp := cache.Stamp()
	cache.Set("user-1", domain.RoleInstructor, "Ada")
	assert.False(t, cache.SetIfUnchanged("user-1", stamp, domain.RoleStudent, "Ada"), "newer write wins")
	entry, ok := cache.Get("user-1")
	require.True(t, ok)
	assert.Equal(t, domain.RoleInstructor, entry.Role)

	assert.True(t, cache.SetIfUnchanged("user-2", stamp, domain.RoleAdmin, ""), "other users are unaffected")

	stamp = cache.Stamp()
	cache.Delete("user-2")
	assert.False(t, cache.SetIfUnchanged("user-2", stamp, domain.RoleAdmin, ""))

	stamp = cache.Stamp()
	cache.Clear()
	assert.False(t, cache.SetIfUnchanged("user-3", stamp, domain.RoleAdmin, ""))

	stamp = cache.Stamp()
	assert.True(t, cache.SetIfUnchanged("user-3", stamp, domain.RoleAdmin, ""))
	cache.Flush()
}

func TestCache_FlushConcurrentWithWriters(t *testing.T) {
	clock := newFakeClock()
	storage := cachestore.NewMemoryStorage()
	cache := newCache(t, storage, clock)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			cache.Set("user-1", domain.RoleStudent, "")
		}()
		go func() {
			defer wg.Done()
			cache.Flush()
		}()
	}
	wg.Wait()
	cache.Flush()

	reloaded := newCache(t, storage, clock)
	_, ok := reloaded.Get("user-1")
	assert.True(t, ok)
}
