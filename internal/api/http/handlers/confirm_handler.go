package handlers

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/auth-session/internal/api/dto"
	"github.com/spec-kit/auth-session/internal/domain"
	"github.com/spec-kit/auth-session/internal/facade"
	apperrors "github.com/spec-kit/auth-session/pkg/util"
)

// EmailConfirmer completes a pending sign-up.
type EmailConfirmer interface {
	ConfirmEmail(ctx context.Context, userID string) (*domain.Session, error)
}

// ConfirmHandler exposes email confirmation.
type ConfirmHandler struct {
	confirmer EmailConfirmer
	auth      facade.Auth
}

// NewConfirmHandler constructs handler.
func NewConfirmHandler(confirmer EmailConfirmer, auth facade.Auth) *ConfirmHandler {
	return &ConfirmHandler{confirmer: confirmer, auth: auth}
}

// Confirm handles POST /session/confirm. The provider publishes USER_UPDATED,
// which the session machine adopts before this returns.
func (h *ConfirmHandler) Confirm(c *fiber.Ctx) error {
	var req dto.ConfirmEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}
	if req.UserID == "" {
		return apperrors.NewValidationError("user_id required", nil)
	}

	sess, err := h.confirmer.ConfirmEmail(c.UserContext(), req.UserID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"user":  dto.NewUserResponse(sess.User),
			"state": dto.NewSessionResponse(h.auth.Snapshot()),
		},
	})
}
