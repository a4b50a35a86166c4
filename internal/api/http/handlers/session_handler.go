package handlers

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/auth-session/internal/api/dto"
	"github.com/spec-kit/auth-session/internal/domain"
	"github.com/spec-kit/auth-session/internal/facade"
	"github.com/spec-kit/auth-session/internal/session"
	apperrors "github.com/spec-kit/auth-session/pkg/util"
)

// SessionHandler exposes the auth facade over HTTP.
type SessionHandler struct {
	auth facade.Auth
}

// NewSessionHandler constructs handler.
func NewSessionHandler(auth facade.Auth) *SessionHandler {
	return &SessionHandler{auth: auth}
}

// Get handles GET /session.
func (h *SessionHandler) Get(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": dto.NewSessionResponse(h.auth.Snapshot())})
}

// SignIn handles POST /session/sign-in.
func (h *SessionHandler) SignIn(c *fiber.Ctx) error {
	var req dto.SignInRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}

	res := h.auth.SignIn(c.UserContext(), req.Email, req.Password)
	if !res.Success {
		return authFailure(res.Error, session.ErrSignInTimeout)
	}
	return c.JSON(fiber.Map{"data": dto.NewSessionResponse(h.auth.Snapshot())})
}

// SignUp handles POST /session/sign-up.
func (h *SessionHandler) SignUp(c *fiber.Ctx) error {
	var req dto.SignUpRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}
	if req.Role != "" && !req.Role.Valid() {
		return apperrors.NewValidationError("invalid role", map[string]any{"role": req.Role})
	}

	res := h.auth.SignUp(c.UserContext(), req.Email, req.Password, req.Role)
	if !res.Success {
		return authFailure(res.Error, session.ErrSignUpTimeout)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"data": fiber.Map{
			"user":  dto.NewUserResponse(res.User),
			"state": dto.NewSessionResponse(h.auth.Snapshot()),
		},
	})
}

// SignOut handles POST /session/sign-out.
func (h *SessionHandler) SignOut(c *fiber.Ctx) error {
	h.auth.SignOut(c.UserContext())
	return c.SendStatus(http.StatusNoContent)
}

// UpdateRole handles PUT /session/role.
func (h *SessionHandler) UpdateRole(c *fiber.Ctx) error {
	var req dto.UpdateRoleRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	update := h.auth.UpdateRole(c.UserContext(), req.Role)
	switch update.Outcome {
	case session.OutcomeApplied:
		return c.JSON(fiber.Map{"data": dto.NewRoleUpdateResponse(update)})
	case session.OutcomeReverted:
		return apperrors.NewDomainError("ROLE_UPDATE_REVERTED", "role update failed and was reverted",
			http.StatusBadGateway, map[string]any{"current": update.Current, "requested": update.Requested})
	default:
		if errors.Is(update.Err, domain.ErrInvalidRole) {
			return apperrors.NewValidationError("invalid role", map[string]any{"role": req.Role})
		}
		return apperrors.MapError(update.Err)
	}
}

// ClearError handles DELETE /session/error.
func (h *SessionHandler) ClearError(c *fiber.Ctx) error {
	h.auth.ClearError()
	return c.SendStatus(http.StatusNoContent)
}

func authFailure(authErr *domain.AuthError, timeout error) error {
	if authErr == nil {
		return apperrors.NewUnauthorized("authentication failed")
	}
	if authErr.Message == timeout.Error() {
		return apperrors.NewDomainError("AUTH_TIMEOUT", authErr.Message, http.StatusGatewayTimeout, nil)
	}
	return apperrors.NewDomainError("AUTH_FAILED", authErr.Message, http.StatusUnauthorized, nil)
}
