package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/transflow/api/internal/auth"
	"github.com/transflow/api/internal/model"
	"github.com/transflow/api/pkg/response"
)

// Locals keys set by the auth middlewares
const (
	LocalUserID   = "userId"
	LocalEmail    = "email"
	LocalName     = "name"
	LocalTenantID = "tenantId"
)

// AuthMiddleware handles JWT authentication
type AuthMiddleware struct {
	verifier auth.TokenVerifier
}

// NewAuthMiddleware creates a new auth middleware. Pass an auth.Chain to
// accept both Zitadel and HMAC tokens.
func NewAuthMiddleware(verifier auth.TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// Authenticate validates JWT token from Authorization header
func (m *AuthMiddleware) Authenticate() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m.verifier == nil {
			return response.Unauthorized(c, "Authentication not configured")
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return response.Unauthorized(c, "Missing authorization header")
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return response.Unauthorized(c, "Invalid authorization header format")
		}

		id, err := m.verifier.Validate(parts[1])
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}
		setIdentity(c, id)
		return c.Next()
	}
}

func setIdentity(c *fiber.Ctx, id *auth.Identity) {
	c.Locals(LocalUserID, id.UserID)
	c.Locals(LocalEmail, id.Email)
	c.Locals(LocalName, id.Name)
	c.Locals(LocalTenantID, id.TenantID)
}

func local(c *fiber.Ctx, key string) string {
	if v, ok := c.Locals(key).(string); ok {
		return v
	}
	return ""
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	return local(c, LocalUserID)
}

// GetTenantID extracts the caller's tenant from context
func GetTenantID(c *fiber.Ctx) string {
	return local(c, LocalTenantID)
}

// Scope returns the glossary scope of the caller. projectID comes from the
// request since a user may work across projects.
func Scope(c *fiber.Ctx, projectID string) model.DictionaryScope {
	return model.DictionaryScope{TenantID: GetTenantID(c), ProjectID: projectID, UserID: GetUserID(c)}
}
