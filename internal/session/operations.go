package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/auth-session/internal/domain"
)

var (
	ErrSignInTimeout = errors.New("sign in timed out, please try again")
	ErrSignUpTimeout = errors.New("sign up timed out, please try again")
)

// race runs call against timeout. The call is not aborted when it loses; its
// result is dropped.
func race[T any](ctx context.Context, timeout time.Duration, timeoutErr error, call func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("provider panicked: %v", r)}
			}
		}()
		val, err := call(ctx)
		done <- outcome{val: val, err: err}
	}()

	select {
	case out := <-done:
		return out.val, out.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, timeoutErr
		}
		return zero, ctx.Err()
	}
}

// SignIn authenticates with email and password. Role resolution follows from
// the provider's SIGNED_IN event.
func (m *Machine) SignIn(ctx context.Context, email, password string) Result {
	m.beginAttempt()

	resp, err := race(ctx, m.signInTimeout, ErrSignInTimeout, func(ctx context.Context) (domain.AuthResponse, error) {
		return m.provider.SignInWithPassword(ctx, email, password)
	})
	if err == nil && resp.User == nil {
		err = domain.ErrInvalidCredentials
	}
	if err != nil {
		m.logger.Info("sign in failed", zap.String("email", email), zap.Error(err))
		return m.failAttempt(err)
	}

	m.mu.Lock()
	m.settled = true
	m.adoptUserLocked(resp)
	m.state.Loading = false
	m.unlockAndNotify()

	return Result{Success: true, User: resp.User}
}

// SignUp registers a new account and records the requested role in the
// background. A failed role write does not fail the sign-up.
func (m *Machine) SignUp(ctx context.Context, email, password string, requestedRole domain.Role) Result {
	if requestedRole == "" {
		requestedRole = domain.DefaultRole
	}
	if !requestedRole.Valid() {
		authErr := domain.NewAuthError(fmt.Errorf("%w: %q", domain.ErrInvalidRole, requestedRole))
		m.mu.Lock()
		m.state.Error = authErr
		m.unlockAndNotify()
		return Result{Success: false, Error: authErr}
	}

	m.beginAttempt()

	opts := domain.SignUpOptions{Metadata: map[string]any{"role": string(requestedRole)}}
	resp, err := race(ctx, m.signInTimeout, ErrSignUpTimeout, func(ctx context.Context) (domain.AuthResponse, error) {
		return m.provider.SignUp(ctx, email, password, opts)
	})
	if err == nil && resp.User == nil {
		err = errors.New("sign up returned no user")
	}
	if err != nil {
		m.logger.Info("sign up failed", zap.String("email", email), zap.Error(err))
		return m.failAttempt(err)
	}

	m.mu.Lock()
	m.settled = true
	m.adoptUserLocked(resp)
	m.state.Loading = false
	m.unlockAndNotify()

	m.assignRoleInBackground(resp.User.ID, requestedRole)
	return Result{Success: true, User: resp.User}
}

func (m *Machine) beginAttempt() {
	m.mu.Lock()
	m.stopGuardLocked()
	m.state.Loading = true
	m.state.Error = nil
	m.unlockAndNotify()
}

func (m *Machine) failAttempt(err error) Result {
	authErr := domain.NewAuthError(err)
	m.mu.Lock()
	m.state.Loading = false
	m.state.Error = authErr
	m.unlockAndNotify()
	return Result{Success: false, Error: authErr}
}

// adoptUserLocked stores the user returned by a direct call. The session is
// only replaced when the provider returned one.
func (m *Machine) adoptUserLocked(resp domain.AuthResponse) {
	if resp.User.ID != m.currentUserIDLocked() {
		m.generation++
		m.state.Role = nil
	}
	m.state.User = resp.User
	if resp.Session != nil {
		m.state.Session = resp.Session
	}
}

func (m *Machine) assignRoleInBackground(userID string, role domain.Role) {
	if m.profiles == nil {
		return
	}
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("role assignment panicked; sign up kept",
					zap.String("user_id", userID), zap.String("panic", fmt.Sprint(r)))
			}
		}()
		ctx, cancel := context.WithTimeout(m.baseContext(), m.remoteTimeout)
		defer cancel()

		err := m.profiles.AssignRole(ctx, domain.RoleAssignment{
			UserID:    userID,
			Role:      role,
			CreatedAt: time.Now(),
		})
		if err != nil {
			m.logger.Warn("role assignment failed; sign up kept",
				zap.String("user_id", userID), zap.String("role", string(role)), zap.Error(err))
		}
	}()
}

// SignOut clears local state immediately, wipes the profile cache and then
// signs out remotely without waiting for the result.
func (m *Machine) SignOut(ctx context.Context) {
	m.mu.Lock()
	m.settled = true
	m.stopGuardLocked()
	userID := m.currentUserIDLocked()
	m.clearLocked()
	m.state.Loading = false
	m.state.Error = nil
	m.unlockAndNotify()

	if m.cache != nil {
		m.cache.Clear()
	}

	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.remoteTimeout)
		defer cancel()
		if err := m.provider.SignOut(ctx); err != nil {
			m.logger.Warn("remote sign out failed", zap.String("user_id", userID), zap.Error(err))
		}
	}()
}

// UpdateRole publishes newRole optimistically, writes it remotely and
// reverts to the previous role if the write fails.
func (m *Machine) UpdateRole(ctx context.Context, newRole domain.Role) RoleUpdate {
	if !newRole.Valid() {
		m.metrics.RecordRoleUpdate(string(OutcomeRejected))
		return RoleUpdate{Outcome: OutcomeRejected, Requested: newRole, Err: domain.ErrInvalidRole}
	}

	m.mu.Lock()
	if m.state.User == nil {
		m.mu.Unlock()
		m.metrics.RecordRoleUpdate(string(OutcomeRejected))
		return RoleUpdate{Outcome: OutcomeRejected, Requested: newRole, Err: domain.ErrNoSession}
	}
	userID := m.state.User.ID
	generation := m.generation
	// Resolutions started before this update must not overwrite it.
	m.roleEpoch++
	cached, hadEntry := m.cachedEntry(userID)
	previous := domain.DefaultRole
	switch {
	case m.state.Role != nil:
		previous = *m.state.Role
	case hadEntry:
		previous = cached.Role
	}
	m.state.Role = newRole.Ptr()
	m.unlockAndNotify()

	if m.cache != nil {
		m.cache.Set(userID, newRole, cached.DisplayName)
	}

	err := m.writeRole(ctx, userID, newRole)
	outcome := OutcomeApplied
	if err != nil {
		outcome = OutcomeReverted
	}
	final := Revert(previous, newRole, outcome)

	if outcome == OutcomeReverted {
		m.logger.Warn("role update rejected; reverting",
			zap.String("user_id", userID),
			zap.String("requested", string(newRole)),
			zap.String("restored", string(final)),
			zap.Error(err))

		m.mu.Lock()
		if m.isCurrentLocked(userID, generation) && m.state.Role != nil && *m.state.Role == newRole {
			m.state.Role = final.Ptr()
			m.restoreCacheEntry(userID, cached, hadEntry)
			m.unlockAndNotify()
		} else {
			m.mu.Unlock()
		}
	}

	m.metrics.RecordRoleUpdate(string(outcome))
	return RoleUpdate{
		Outcome:   outcome,
		Previous:  previous,
		Requested: newRole,
		Current:   final,
		Err:       err,
	}
}

func (m *Machine) writeRole(ctx context.Context, userID string, role domain.Role) (err error) {
	if m.profiles == nil {
		return errors.New("profile store not configured")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("profile store panicked: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, m.remoteTimeout)
	defer cancel()
	return m.profiles.UpdateProfile(ctx, userID, domain.ProfileUpdate{Role: &role})
}

func (m *Machine) cachedEntry(userID string) (domain.ProfileCacheEntry, bool) {
	if m.cache == nil {
		return domain.ProfileCacheEntry{}, false
	}
	return m.cache.Get(userID)
}

func (m *Machine) restoreCacheEntry(userID string, entry domain.ProfileCacheEntry, existed bool) {
	if m.cache == nil {
		return
	}
	if existed {
		m.cache.Set(userID, entry.Role, entry.DisplayName)
		return
	}
	m.cache.Delete(userID)
}

// ClearError drops the last sign-in or sign-up error.
func (m *Machine) ClearError() {
	m.mu.Lock()
	if m.state.Error == nil {
		m.mu.Unlock()
		return
	}
	m.state.Error = nil
	m.unlockAndNotify()
}
