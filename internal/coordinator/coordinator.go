// Package coordinator resolves user roles through the profile cache, with a
// single coordinator-wide remote fetch at any instant.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/auth-session/internal/domain"
	"github.com/spec-kit/auth-session/internal/observability"
	"github.com/spec-kit/auth-session/internal/profilecache"
)

// DefaultFetchTimeout bounds one remote profile lookup.
const DefaultFetchTimeout = 3 * time.Second

// Resolution outcomes, also used as metric labels.
const (
	OutcomeHit       = "hit"
	OutcomeCoalesced = "coalesced"
	OutcomeFetched   = "fetched"
	OutcomeCreated   = "created"
	OutcomeTimeout   = "timeout"
	OutcomeError     = "error"
)

// ProfileStore is the remote source of truth for profiles.
type ProfileStore interface {
	// ReadProfile returns domain.ErrProfileNotFound when no record exists.
	ReadProfile(ctx context.Context, userID string) (*domain.Profile, error)
	CreateProfile(ctx context.Context, userID string, defaults domain.ProfileDefaults) (*domain.Profile, error)
}

// Coordinator implements role resolution. ResolveRole never fails.
type Coordinator struct {
	cache   *profilecache.Cache
	store   ProfileStore
	gate    Gate
	timeout time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics
}

// Config wires a Coordinator.
type Config struct {
	Cache   *profilecache.Cache
	Store   ProfileStore
	Timeout time.Duration
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// New builds a coordinator.
func New(cfg Config) *Coordinator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Coordinator{
		cache:   cfg.Cache,
		store:   cfg.Store,
		timeout: timeout,
		logger:  observability.OrNop(cfg.Logger).Named("coordinator"),
		metrics: cfg.Metrics,
	}
}

// Cache exposes the backing profile cache.
func (c *Coordinator) Cache() *profilecache.Cache {
	return c.cache
}

// InFlight reports whether a remote fetch is outstanding.
func (c *Coordinator) InFlight() bool {
	return c.gate.InFlight()
}

// ResolveRole returns the cached role for userID, fetching it when missing.
// Any failure yields domain.DefaultRole and is not cached.
func (c *Coordinator) ResolveRole(ctx context.Context, userID string) domain.Role {
	if userID == "" {
		return domain.DefaultRole
	}

	for {
		if entry, ok := c.cache.Get(userID); ok {
			c.metrics.RecordRoleResolution(OutcomeHit)
			return entry.Role
		}

		flight, leader := c.gate.Acquire(userID)
		if leader {
			role, ok := c.fetch(ctx, userID)
			c.gate.Complete(flight, role, ok)
			return role
		}

		select {
		case <-flight.Done():
		case <-ctx.Done():
			return domain.DefaultRole
		}

		if entry, ok := c.cache.Get(userID); ok {
			c.metrics.RecordRoleResolution(OutcomeCoalesced)
			return entry.Role
		}
		// The flight belonged to this user and failed: share its fallback
		// instead of queueing another fetch behind it.
		if flight.Key() == userID {
			role, _ := flight.Result()
			c.metrics.RecordRoleResolution(OutcomeCoalesced)
			return role
		}
		// Another user's flight finished; compete for the gate again.
	}
}

type lookupResult struct {
	profile *domain.Profile
	created bool
	err     error
}

// fetch races the remote lookup against the timeout. The losing goroutine is
// left to finish on its own; its result is dropped.
func (c *Coordinator) fetch(ctx context.Context, userID string) (domain.Role, bool) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	stamp := c.cache.Stamp()
	results := make(chan lookupResult, 1)
	go func() {
		results <- c.lookup(ctx, userID)
	}()

	select {
	case res := <-results:
		if res.err != nil {
			c.logger.Warn("profile lookup failed; using default role",
				zap.String("user_id", userID), zap.Error(res.err))
			c.metrics.RecordRoleResolution(OutcomeError)
			return domain.DefaultRole, false
		}

		role := res.profile.Role
		if !role.Valid() {
			c.logger.Warn("profile carries unknown role", zap.String("user_id", userID), zap.String("role", string(role)))
			role = domain.DefaultRole
		}
		if !c.cache.SetIfUnchanged(userID, stamp, role, res.profile.DisplayName) {
			// A newer write landed while the lookup was outstanding; it wins.
			if entry, ok := c.cache.Get(userID); ok {
				c.logger.Debug("discarding profile lookup older than cached entry", zap.String("user_id", userID))
				role = entry.Role
			}
		}

		if res.created {
			c.metrics.RecordRoleResolution(OutcomeCreated)
		} else {
			c.metrics.RecordRoleResolution(OutcomeFetched)
		}
		return role, true
	case <-ctx.Done():
		c.logger.Warn("profile lookup timed out; using default role",
			zap.String("user_id", userID), zap.Duration("timeout", c.timeout))
		c.metrics.RecordRoleResolution(OutcomeTimeout)
		return domain.DefaultRole, false
	}
}

func (c *Coordinator) lookup(ctx context.Context, userID string) (res lookupResult) {
	defer func() {
		if r := recover(); r != nil {
			res = lookupResult{err: fmt.Errorf("profile store panicked: %v", r)}
		}
	}()

	profile, err := c.store.ReadProfile(ctx, userID)
	switch {
	case err == nil && profile != nil:
		return lookupResult{profile: profile}
	case err != nil && !errors.Is(err, domain.ErrProfileNotFound):
		return lookupResult{err: fmt.Errorf("read profile: %w", err)}
	}

	created, err := c.store.CreateProfile(ctx, userID, domain.ProfileDefaults{Role: domain.DefaultRole})
	if err != nil {
		return lookupResult{err: fmt.Errorf("create profile: %w", err)}
	}
	if created == nil {
		return lookupResult{err: errors.New("create profile: empty record")}
	}
	return lookupResult{profile: created, created: true}
}
