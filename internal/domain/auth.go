package domain

// AuthEventType enumerates identity provider notifications.
type AuthEventType string

const (
	EventInitialSession   AuthEventType = "INITIAL_SESSION"
	EventSignedIn         AuthEventType = "SIGNED_IN"
	EventSignedOut        AuthEventType = "SIGNED_OUT"
	EventTokenRefreshed   AuthEventType = "TOKEN_REFRESHED"
	EventUserUpdated      AuthEventType = "USER_UPDATED"
	EventPasswordRecovery AuthEventType = "PASSWORD_RECOVERY"
)

// AuthEvent pairs a provider notification with the session it carries.
type AuthEvent struct {
	Type    AuthEventType
	Session *Session
}

// AuthError is surfaced to callers of sign-in and sign-up only.
type AuthError struct {
	Message string `json:"message"`
}

func (e *AuthError) Error() string {
	return e.Message
}

// NewAuthError wraps a provider failure into the user-facing shape.
func NewAuthError(err error) *AuthError {
	if err == nil {
		return nil
	}
	return &AuthError{Message: err.Error()}
}

// AuthResponse is what the identity provider returns for sign-in and sign-up.
// Session is nil when the provider requires email confirmation first.
type AuthResponse struct {
	User    *User
	Session *Session
}

// SignUpOptions carries provider-side options for a new account.
type SignUpOptions struct {
	Metadata map[string]any
}
