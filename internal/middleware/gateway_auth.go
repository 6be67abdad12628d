package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/transflow/api/internal/auth"
	"github.com/transflow/api/pkg/response"
)

// GatewayAuthMiddleware reads the caller identity from X-User-* and
// X-Tenant-Id headers set by the gateway's forward auth.
func GatewayAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-Id")
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}
		setIdentity(c, &auth.Identity{
			UserID:   userID,
			Email:    c.Get("X-User-Email"),
			Name:     c.Get("X-User-Name"),
			TenantID: c.Get("X-Tenant-Id"),
		})
		return c.Next()
	}
}
