package session

import "github.com/spec-kit/auth-session/internal/domain"

// Phase is a coarse view of State for logging and routing decisions.
type Phase string

const (
	PhaseUninitialized   Phase = "uninitialized"
	PhaseLoading         Phase = "loading"
	PhaseAuthenticated   Phase = "authenticated"
	PhaseUnauthenticated Phase = "unauthenticated"
)

// State is the published identity tuple. Role may be nil while User is set:
// role resolution runs after the session is published.
type State struct {
	Session *domain.Session   `json:"session"`
	User    *domain.User      `json:"user"`
	Role    *domain.Role      `json:"role"`
	Loading bool              `json:"loading"`
	Error   *domain.AuthError `json:"error"`

	started bool
}

// Phase derives the state machine phase.
func (s State) Phase() Phase {
	switch {
	case !s.started:
		return PhaseUninitialized
	case s.Loading:
		return PhaseLoading
	case s.User != nil:
		return PhaseAuthenticated
	default:
		return PhaseUnauthenticated
	}
}

// RoleResolved reports whether consumers may branch on Role.
func (s State) RoleResolved() bool {
	return !s.Loading && s.Role != nil
}

func (s State) clone() State {
	out := s
	if s.Role != nil {
		out.Role = s.Role.Ptr()
	}
	if s.Error != nil {
		e := *s.Error
		out.Error = &e
	}
	return out
}

// Result is returned by SignIn and SignUp. Operations never return Go errors.
type Result struct {
	Success bool              `json:"success"`
	User    *domain.User      `json:"user,omitempty"`
	Error   *domain.AuthError `json:"error,omitempty"`
}

// Outcome tags the result of an optimistic role update.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeReverted Outcome = "reverted"
	OutcomeRejected Outcome = "rejected"
)

// RoleUpdate describes what UpdateRole did.
type RoleUpdate struct {
	Outcome   Outcome
	Previous  domain.Role
	Requested domain.Role
	Current   domain.Role
	Err       error
}

// Revert picks the role to publish once the remote write settled.
func Revert(previous, requested domain.Role, outcome Outcome) domain.Role {
	if outcome == OutcomeApplied {
		return requested
	}
	return previous
}
