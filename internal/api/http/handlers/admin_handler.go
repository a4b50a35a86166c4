package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/auth-session/internal/api/dto"
	"github.com/spec-kit/auth-session/internal/profilecache"
)

// AdminHandler exposes maintenance endpoints.
type AdminHandler struct {
	cache *profilecache.Cache
}

// NewAdminHandler constructs handler.
func NewAdminHandler(cache *profilecache.Cache) *AdminHandler {
	return &AdminHandler{cache: cache}
}

// PruneCache handles POST /admin/cache/prune.
func (h *AdminHandler) PruneCache(c *fiber.Ctx) error {
	removed := h.cache.Prune()
	return c.JSON(fiber.Map{"data": dto.PruneResponse{Removed: removed, Remaining: h.cache.Len()}})
}
