package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/transflow/api/internal/auth"
	"github.com/transflow/api/internal/logger"
)

// AuthHandler handles ForwardAuth verification for the API gateway
type AuthHandler struct {
	verifier auth.TokenVerifier
}

func NewAuthHandler(verifier auth.TokenVerifier) *AuthHandler {
	return &AuthHandler{verifier: verifier}
}

// Verify handles GET /auth/verify, called by the gateway's ForwardAuth.
// Returns 200 with X-User-* and X-Tenant-Id headers on success, 401 on failure.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	parts := strings.SplitN(c.Get(fiber.HeaderAuthorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || h.verifier == nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	id, err := h.verifier.Validate(parts[1])
	if err != nil {
		logger.CtxDebug(c.UserContext(), "forward auth rejected: %v", err)
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	c.Set("X-User-Id", id.UserID)
	c.Set("X-User-Email", id.Email)
	c.Set("X-User-Name", id.Name)
	if id.TenantID != "" {
		c.Set("X-Tenant-Id", id.TenantID)
	}
	return c.SendStatus(fiber.StatusOK)
}
