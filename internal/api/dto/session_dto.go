package dto

import (
	"time"

	"github.com/spec-kit/auth-session/internal/domain"
	"github.com/spec-kit/auth-session/internal/session"
	apperrors "github.com/spec-kit/auth-session/pkg/util"
)

// SignInRequest payload for password sign-in.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignUpRequest payload for registration. Role defaults to student.
type SignUpRequest struct {
	Email    string      `json:"email"`
	Password string      `json:"password"`
	Role     domain.Role `json:"role"`
}

// UpdateRoleRequest payload for PUT /session/role.
type UpdateRoleRequest struct {
	Role domain.Role `json:"role"`
}

// ConfirmEmailRequest payload for POST /session/confirm.
type ConfirmEmailRequest struct {
	UserID string `json:"user_id"`
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Confirmed bool   `json:"confirmed"`
}

// SessionInfo omits the tokens of a session.
type SessionInfo struct {
	ID        string    `json:"id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionResponse renders a state snapshot.
type SessionResponse struct {
	Phase        session.Phase `json:"phase"`
	Loading      bool          `json:"loading"`
	User         *UserResponse `json:"user"`
	Session      *SessionInfo  `json:"session"`
	Role         *domain.Role  `json:"role"`
	RoleResolved bool          `json:"role_resolved"`
	Error        *string       `json:"error"`
}

// RoleUpdateResponse renders an UpdateRole outcome.
type RoleUpdateResponse struct {
	Outcome   session.Outcome `json:"outcome"`
	Previous  domain.Role     `json:"previous"`
	Requested domain.Role     `json:"requested"`
	Current   domain.Role     `json:"current"`
}

// PruneResponse reports a cache prune.
type PruneResponse struct {
	Removed   int `json:"removed"`
	Remaining int `json:"remaining"`
}

// NewUserResponse maps a domain user.
func NewUserResponse(u *domain.User) *UserResponse {
	if u == nil {
		return nil
	}
	return &UserResponse{ID: u.ID, Email: u.Email, Confirmed: u.Confirmed()}
}

// NewSessionResponse maps a snapshot.
func NewSessionResponse(s session.State) SessionResponse {
	resp := SessionResponse{
		Phase:        s.Phase(),
		Loading:      s.Loading,
		User:         NewUserResponse(s.User),
		Role:         s.Role,
		RoleResolved: s.RoleResolved(),
	}
	if s.Session != nil {
		resp.Session = &SessionInfo{ID: s.Session.ID, ExpiresAt: s.Session.ExpiresAt}
	}
	if s.Error != nil {
		msg := s.Error.Message
		resp.Error = &msg
	}
	return resp
}

// NewRoleUpdateResponse maps an UpdateRole result.
func NewRoleUpdateResponse(u session.RoleUpdate) RoleUpdateResponse {
	return RoleUpdateResponse{
		Outcome:   u.Outcome,
		Previous:  u.Previous,
		Requested: u.Requested,
		Current:   u.Current,
	}
}

// ErrorBody is the error envelope content. Phase is set when the session
// middleware ran for the request.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Phase   session.Phase  `json:"phase,omitempty"`
}

// ErrorResponse wraps ErrorBody under "error".
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse maps a domain error and the request's session snapshot.
func NewErrorResponse(err *apperrors.DomainError, state *session.State) ErrorResponse {
	body := ErrorBody{Code: err.Code, Message: err.Message, Details: err.Details}
	if state != nil {
		body.Phase = state.Phase()
	}
	return ErrorResponse{Error: body}
}
