package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/auth-session/internal/facade"
	"github.com/spec-kit/auth-session/internal/session"
	apperrors "github.com/spec-kit/auth-session/pkg/util"
)

const stateKey = "auth_state"

// SessionMiddleware captures the current session snapshot for the request.
type SessionMiddleware struct {
	auth facade.Auth
}

// NewSessionMiddleware constructs middleware.
func NewSessionMiddleware(auth facade.Auth) *SessionMiddleware {
	return &SessionMiddleware{auth: auth}
}

// Handle stores the snapshot in the request locals.
func (m *SessionMiddleware) Handle(c *fiber.Ctx) error {
	c.Locals(stateKey, m.auth.Snapshot())
	return c.Next()
}

// StateFromContext retrieves the snapshot captured by Handle.
func StateFromContext(c *fiber.Ctx) (session.State, bool) {
	val := c.Locals(stateKey)
	if val == nil {
		return session.State{}, false
	}
	state, ok := val.(session.State)
	return state, ok
}

// RequireSignedIn rejects requests without a signed-in user.
func RequireSignedIn() fiber.Handler {
	return func(c *fiber.Ctx) error {
		state, ok := StateFromContext(c)
		if !ok || state.User == nil {
			return apperrors.NewUnauthorized("sign in required")
		}
		return c.Next()
	}
}
