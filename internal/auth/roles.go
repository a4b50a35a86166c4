package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/auth-session/internal/domain"
	"github.com/spec-kit/auth-session/internal/facade"
	apperrors "github.com/spec-kit/auth-session/pkg/util"
)

// RequireRole ensures the signed-in user has one of the allowed roles. While
// the role is unresolved the request is refused with ROLE_PENDING so callers
// can retry instead of being misrouted.
func RequireRole(allowed ...domain.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		state, ok := StateFromContext(c)
		if !ok || state.User == nil {
			return apperrors.NewUnauthorized("sign in required")
		}
		if _, resolved := facade.RoleFor(state); !resolved {
			return apperrors.NewRolePending()
		}
		if len(allowed) > 0 && !facade.HasRole(state, allowed...) {
			return apperrors.NewForbidden("insufficient role")
		}
		return c.Next()
	}
}
