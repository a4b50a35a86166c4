package cachestore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/spec-kit/auth-session/internal/domain"
)

type brokenStorage struct {
	err   error
	panic bool
}

func (b brokenStorage) GetItem(context.Context, string) (string, bool, error) {
	if b.panic {
		panic("storage unavailable")
	}
	return "", false, b.err
}

func (b brokenStorage) SetItem(context.Context, string, string) error {
	if b.panic {
		panic("storage unavailable")
	}
	return b.err
}

func (b brokenStorage) RemoveItem(context.Context, string) error {
	if b.panic {
		panic("storage unavailable")
	}
	return b.err
}

func sampleEntries() map[string]domain.ProfileCacheEntry {
	written := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return map[string]domain.ProfileCacheEntry{
		"user-1": {Role: domain.RoleInstructor, DisplayName: "Ada", WrittenAt: written},
		"user-2": {Role: domain.RoleStudent, WrittenAt: written},
	}
}

func TestStore_RoundTripMemory(t *testing.T) {
	ctx := context.Background()
	store := New(NewMemoryStorage(), "profile_cache", zaptest.NewLogger(t))

	assert.True(t, store.Probe(ctx))
	assert.Empty(t, store.Load(ctx))

	store.Save(ctx, sampleEntries())
	assert.Equal(t, sampleEntries(), store.Load(ctx))

	store.Save(ctx, map[string]domain.ProfileCacheEntry{})
	assert.Empty(t, store.Load(ctx))
}

func TestStore_ProbeLeavesNoSentinel(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	store := New(storage, "profile_cache", nil)

	require.True(t, store.Probe(ctx))
	_, found, err := storage.GetItem(ctx, probeKey)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStore_FailuresDegrade(t *testing.T) {
	tests := []struct {
		name    string
		storage Storage
	}{
		{name: "nil storage", storage: nil},
		{name: "erroring storage", storage: brokenStorage{err: errors.New("quota exceeded")}},
		{name: "panicking storage", storage: brokenStorage{panic: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := New(tt.storage, "profile_cache", zaptest.NewLogger(t))

			assert.NotPanics(t, func() {
				assert.False(t, store.Probe(ctx))
				assert.Empty(t, store.Load(ctx))
				store.Save(ctx, sampleEntries())
				store.Save(ctx, nil)
			})
		})
	}
}

func TestStore_CorruptPayloadIgnored(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	require.NoError(t, storage.SetItem(ctx, "profile_cache", "{not json"))

	store := New(storage, "profile_cache", zaptest.NewLogger(t))
	assert.Empty(t, store.Load(ctx))
}

func TestStore_DropsUnknownRoles(t *testing.T) {
	ctx := context.Background()
	storage := NewMemoryStorage()
	require.NoError(t, storage.SetItem(ctx, "profile_cache",
		`{"user-1":{"role":"student","displayName":"","writtenAt":"2026-01-02T03:04:05Z"},"user-2":{"role":"wizard"}}`))

	loaded := New(storage, "profile_cache", nil).Load(ctx)
	require.Len(t, loaded, 1)
	assert.Equal(t, domain.RoleStudent, loaded["user-1"].Role)
}

func TestStore_RedisStorage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	store := New(NewRedisStorage(client, "auth", time.Hour), "profile_cache", zaptest.NewLogger(t))

	require.True(t, store.Probe(ctx))
	store.Save(ctx, sampleEntries())
	assert.True(t, mr.Exists("auth:profile_cache"))
	assert.Equal(t, sampleEntries(), store.Load(ctx))

	store.Save(ctx, nil)
	assert.False(t, mr.Exists("auth:profile_cache"))
}

func TestStore_RedisUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	ctx := context.Background()
	store := New(NewRedisStorage(client, "", 0), "profile_cache", zaptest.NewLogger(t))

	assert.False(t, store.Probe(ctx))
	assert.Empty(t, store.Load(ctx))
	assert.NotPanics(t, func() { store.Save(ctx, sampleEntries()) })
}
