package cachestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/auth-session/internal/domain"
	"github.com/spec-kit/auth-session/internal/observability"
)

const (
	probeKey       = "__profile_cache_probe__"
	defaultTimeout = 2 * time.Second
)

// Store serialises the profile cache mapping into a Storage. Every method is
// best-effort: failures are logged and never returned.
type Store struct {
	storage Storage
	key     string
	timeout time.Duration
	logger  *zap.Logger
}

// New builds a store writing the mapping under key. A nil storage turns the
// store into a no-op so the cache runs memory-only.
func New(storage Storage, key string, logger *zap.Logger) *Store {
	return &Store{
		storage: storage,
		key:     key,
		timeout: defaultTimeout,
		logger:  observability.OrNop(logger).Named("cachestore"),
	}
}

// Probe reports whether the storage accepts a write and delete.
func (s *Store) Probe(ctx context.Context) (ok bool) {
	if s == nil || s.storage == nil {
		return false
	}
	defer s.recoverInto("probe", func() { ok = false })

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.storage.SetItem(ctx, probeKey, probeKey); err != nil {
		s.logger.Debug("storage probe write failed", zap.Error(err))
		return false
	}
	if err := s.storage.RemoveItem(ctx, probeKey); err != nil {
		s.logger.Debug("storage probe delete failed", zap.Error(err))
		return false
	}
	return true
}

// Load returns the persisted mapping, or an empty mapping on any failure.
func (s *Store) Load(ctx context.Context) (entries map[string]domain.ProfileCacheEntry) {
	entries = make(map[string]domain.ProfileCacheEntry)
	if s == nil || s.storage == nil {
		return entries
	}
	defer s.recoverInto("load", func() { entries = make(map[string]domain.ProfileCacheEntry) })

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, found, err := s.storage.GetItem(ctx, s.key)
	if err != nil {
		s.logger.Warn("profile cache load failed", zap.Error(err))
		return entries
	}
	if !found || raw == "" {
		return entries
	}

	var decoded map[string]domain.ProfileCacheEntry
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		s.logger.Warn("profile cache payload corrupt; ignoring", zap.Error(err))
		return entries
	}
	for userID, entry := range decoded {
		if userID == "" || !entry.Role.Valid() {
			continue
		}
		entries[userID] = entry
	}
	return entries
}

// Save writes the mapping. An empty mapping removes the persisted key.
func (s *Store) Save(ctx context.Context, entries map[string]domain.ProfileCacheEntry) {
	if s == nil || s.storage == nil {
		return
	}
	defer s.recoverInto("save", nil)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if len(entries) == 0 {
		if err := s.storage.RemoveItem(ctx, s.key); err != nil {
			s.logger.Warn("profile cache clear failed", zap.Error(err))
		}
		return
	}

	payload, err := json.Marshal(entries)
	if err != nil {
		s.logger.Warn("profile cache encode failed", zap.Error(err))
		return
	}
	if err := s.storage.SetItem(ctx, s.key, string(payload)); err != nil {
		s.logger.Warn("profile cache save failed", zap.Error(err), zap.Int("entries", len(entries)))
	}
}

func (s *Store) recoverInto(op string, reset func()) {
	if r := recover(); r != nil {
		s.logger.Error("storage panicked", zap.String("op", op), zap.String("panic", fmt.Sprint(r)))
		if reset != nil {
			reset()
		}
	}
}
