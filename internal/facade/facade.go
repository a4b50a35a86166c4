// Package facade is the surface consumers program against: a state snapshot
// plus sign-in, sign-up, sign-out, role update and error clearing.
//
// Loading=true means role-based routing must wait. Role may be nil while User
// is set because role resolution runs after the session is published.
package facade

import (
	"context"

	"github.com/spec-kit/auth-session/internal/domain"
	"github.com/spec-kit/auth-session/internal/session"
)

// Auth is the consumed contract.
type Auth interface {
	Snapshot() session.State
	SignIn(ctx context.Context, email, password string) session.Result
	SignUp(ctx context.Context, email, password string, role domain.Role) session.Result
	SignOut(ctx context.Context)
	UpdateRole(ctx context.Context, role domain.Role) session.RoleUpdate
	ClearError()
	Subscribe(fn func(session.State)) (unsubscribe func())
}

var _ Auth = (*session.Machine)(nil)

// New exposes m through the Auth contract.
func New(m *session.Machine) Auth {
	return m
}

// RoleFor returns the role consumers may branch on, or false while the
// identity or its role is still being resolved.
func RoleFor(s session.State) (domain.Role, bool) {
	if !s.RoleResolved() || s.User == nil {
		return "", false
	}
	return *s.Role, true
}

// HasRole reports whether the resolved role is one of allowed.
func HasRole(s session.State, allowed ...domain.Role) bool {
	role, ok := RoleFor(s)
	if !ok {
		return false
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}
