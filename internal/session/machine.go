// Package session owns the published {session, user, role, loading, error}
// tuple and reconciles identity provider events with direct call results.
//
// Transitions are serialised behind one mutex. Role resolution runs in the
// background and is tagged with the session generation that started it;
// results for a generation that is no longer current are dropped.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/auth-session/internal/domain"
	"github.com/spec-kit/auth-session/internal/observability"
	"github.com/spec-kit/auth-session/internal/profilecache"
)

const (
	DefaultSignInTimeout = 10 * time.Second
	DefaultLoadingGuard  = 50 * time.Millisecond
	DefaultRemoteTimeout = 10 * time.Second
)

// IdentityProvider is the consumed identity service contract.
type IdentityProvider interface {
	GetSession(ctx context.Context) (*domain.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (domain.AuthResponse, error)
	SignUp(ctx context.Context, email, password string, opts domain.SignUpOptions) (domain.AuthResponse, error)
	SignOut(ctx context.Context) error
	OnAuthStateChange(handler func(domain.AuthEvent)) (unsubscribe func())
}

// RoleResolver maps a user id to a role without failing.
type RoleResolver interface {
	ResolveRole(ctx context.Context, userID string) domain.Role
}

// ProfileWriter persists role changes to the remote profile store.
type ProfileWriter interface {
	UpdateProfile(ctx context.Context, userID string, fields domain.ProfileUpdate) error
	AssignRole(ctx context.Context, assignment domain.RoleAssignment) error
}

// Config wires a Machine.
type Config struct {
	Provider IdentityProvider
	Roles    RoleResolver
	Profiles ProfileWriter
	Cache    *profilecache.Cache

	SignInTimeout time.Duration
	LoadingGuard  time.Duration
	RemoteTimeout time.Duration

	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Machine is the session state machine.
type Machine struct {
	provider IdentityProvider
	roles    RoleResolver
	profiles ProfileWriter
	cache    *profilecache.Cache

	signInTimeout time.Duration
	loadingGuard  time.Duration
	remoteTimeout time.Duration

	logger  *zap.Logger
	metrics *observability.Metrics

	mu         sync.Mutex
	state      State
	generation uint64
	roleEpoch  uint64
	settled    bool
	ctx        context.Context
	guard      *time.Timer
	unsub      func()

	pending    []State
	delivering bool

	lmu       sync.Mutex
	listeners map[int]func(State)
	nextID    int

	bg sync.WaitGroup
}

// New builds a machine in the uninitialized phase.
func New(cfg Config) *Machine {
	m := &Machine{
		provider:      cfg.Provider,
		roles:         cfg.Roles,
		profiles:      cfg.Profiles,
		cache:         cfg.Cache,
		signInTimeout: orDefault(cfg.SignInTimeout, DefaultSignInTimeout),
		loadingGuard:  orDefault(cfg.LoadingGuard, DefaultLoadingGuard),
		remoteTimeout: orDefault(cfg.RemoteTimeout, DefaultRemoteTimeout),
		logger:        observability.OrNop(cfg.Logger).Named("session"),
		metrics:       cfg.Metrics,
		ctx:           context.Background(),
		listeners:     make(map[int]func(State)),
	}
	return m
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// Start mounts the machine: it arms the loading guard, subscribes to provider
// events and probes for an existing session once. Calling Start twice is a no-op.
func (m *Machine) Start(ctx context.Context) {
	m.mu.Lock()
	if m.state.started {
		m.mu.Unlock()
		return
	}
	m.ctx = context.WithoutCancel(ctx)
	m.state.started = true
	m.state.Loading = true
	m.guard = time.AfterFunc(m.loadingGuard, m.forceLoaded)
	m.unlockAndNotify()

	unsub := m.provider.OnAuthStateChange(m.Apply)
	m.mu.Lock()
	m.unsub = unsub
	m.mu.Unlock()

	m.bg.Add(1)
	go m.probeSession(ctx)
}

// Stop unsubscribes from the provider and waits for background work.
func (m *Machine) Stop() {
	m.mu.Lock()
	m.stopGuardLocked()
	unsub := m.unsub
	m.unsub = nil
	m.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	m.bg.Wait()
}

// WaitIdle blocks until background role resolutions and remote calls finished.
func (m *Machine) WaitIdle() {
	m.bg.Wait()
}

// Snapshot returns a copy of the published state.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Subscribe registers fn to receive every published state in publication
// order. fn runs on whichever goroutine published and should return quickly.
func (m *Machine) Subscribe(fn func(State)) (unsubscribe func()) {
	m.lmu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.lmu.Unlock()

	return func() {
		m.lmu.Lock()
		delete(m.listeners, id)
		m.lmu.Unlock()
	}
}

// Apply is the single entry point for provider events.
func (m *Machine) Apply(evt domain.AuthEvent) {
	m.mu.Lock()
	if ignored(evt) {
		m.mu.Unlock()
		m.logger.Debug("ignoring update for unconfirmed user", zap.String("user_id", evt.Session.UserID()))
		return
	}
	m.settled = true
	m.stopGuardLocked()
	job := m.applyLocked(evt)
	m.unlockAndNotify()

	m.logger.Debug("auth event applied", zap.String("event", string(evt.Type)), zap.String("user_id", evt.Session.UserID()))
	if job != nil {
		m.spawnResolve(*job)
	}
}

type resolveJob struct {
	userID     string
	generation uint64
	epoch      uint64
}

// ignored reports events that leave the state untouched, loading included.
func ignored(evt domain.AuthEvent) bool {
	return evt.Type == domain.EventUserUpdated && (evt.Session == nil || !evt.Session.User.Confirmed())
}

func (m *Machine) applyLocked(evt domain.AuthEvent) *resolveJob {
	if ignored(evt) {
		return nil
	}
	switch evt.Type {
	case domain.EventSignedOut:
		previous := m.currentUserIDLocked()
		m.clearLocked()
		m.state.Loading = false
		if previous != "" && m.cache != nil {
			m.cache.Delete(previous)
		}
		return nil

	default:
		if evt.Session == nil || evt.Session.User == nil {
			m.clearLocked()
			m.state.Loading = false
			return nil
		}
		return m.adoptSessionLocked(evt.Session)
	}
}

// adoptSessionLocked publishes session and user and schedules role
// resolution. A different user starts a new generation with no role.
func (m *Machine) adoptSessionLocked(sess *domain.Session) *resolveJob {
	userID := sess.UserID()
	if userID != m.currentUserIDLocked() {
		m.generation++
		m.state.Role = nil
	}
	m.state.Session = sess
	m.state.User = sess.User
	m.state.Loading = false
	return &resolveJob{userID: userID, generation: m.generation, epoch: m.roleEpoch}
}

func (m *Machine) clearLocked() {
	m.generation++
	m.state.Session = nil
	m.state.User = nil
	m.state.Role = nil
}

func (m *Machine) currentUserIDLocked() string {
	if m.state.User == nil {
		return ""
	}
	return m.state.User.ID
}

func (m *Machine) isCurrentLocked(userID string, generation uint64) bool {
	return m.generation == generation && m.currentUserIDLocked() == userID
}

func (m *Machine) spawnResolve(job resolveJob) {
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()

		role := m.resolveRole(job.userID)

		m.mu.Lock()
		if !m.isCurrentLocked(job.userID, job.generation) || job.epoch != m.roleEpoch {
			m.mu.Unlock()
			m.logger.Debug("discarding stale role resolution", zap.String("user_id", job.userID))
			return
		}
		m.state.Role = role.Ptr()
		m.unlockAndNotify()
	}()
}

func (m *Machine) resolveRole(userID string) (role domain.Role) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("role resolution panicked", zap.String("user_id", userID), zap.String("panic", fmt.Sprint(r)))
			role = domain.DefaultRole
		}
	}()
	if m.roles == nil {
		return domain.DefaultRole
	}
	role = m.roles.ResolveRole(m.baseContext(), userID)
	if !role.Valid() {
		return domain.DefaultRole
	}
	return role
}

func (m *Machine) probeSession(ctx context.Context) {
	defer m.bg.Done()

	sess, err := m.provider.GetSession(ctx)

	m.mu.Lock()
	if m.settled {
		m.mu.Unlock()
		return
	}
	m.settled = true
	m.stopGuardLocked()

	var job *resolveJob
	if err != nil {
		m.logger.Warn("session probe failed", zap.Error(err))
		m.clearLocked()
		m.state.Loading = false
	} else {
		job = m.applyLocked(domain.AuthEvent{Type: domain.EventInitialSession, Session: sess})
	}
	m.unlockAndNotify()

	if job != nil {
		m.spawnResolve(*job)
	}
}

func (m *Machine) forceLoaded() {
	m.mu.Lock()
	m.guard = nil
	if !m.state.Loading {
		m.mu.Unlock()
		return
	}
	m.state.Loading = false
	m.logger.Debug("loading guard elapsed before identity resolved")
	m.unlockAndNotify()
}

func (m *Machine) stopGuardLocked() {
	if m.guard != nil {
		m.guard.Stop()
		m.guard = nil
	}
}

func (m *Machine) baseContext() context.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ctx
}

// unlockAndNotify queues the guarded state and releases mu. The first
// publisher to find no delivery running drains the queue, so listeners see
// states in publication order without holding mu.
func (m *Machine) unlockAndNotify() {
	m.pending = append(m.pending, m.state.clone())
	if m.delivering {
		m.mu.Unlock()
		return
	}
	m.delivering = true
	m.mu.Unlock()

	for {
		m.mu.Lock()
		batch := m.pending
		m.pending = nil
		if len(batch) == 0 {
			m.delivering = false
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		listeners := m.snapshotListeners()
		for _, st := range batch {
			for _, fn := range listeners {
				fn(st)
			}
		}
	}
}

func (m *Machine) snapshotListeners() []func(State) {
	m.lmu.Lock()
	defer m.lmu.Unlock()
	out := make([]func(State), 0, len(m.listeners))
	for id := 0; id < m.nextID; id++ {
		if fn, ok := m.listeners[id]; ok {
			out = append(out, fn)
		}
	}
	return out
}
