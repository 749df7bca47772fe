package middleware

import (
	"log/slog"
	"strconv"
	"strings"

	"reward-engine/models"
	"reward-engine/services"

	"github.com/gofiber/fiber/v2"
)

const identityKey = "identity"

// UserContextMiddleware turns the identity headers set by the gateway into a
// services.Identity and makes sure the user row exists.
func UserContextMiddleware(users *services.UserService, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))
		platformID, err := strconv.ParseInt(strings.TrimSpace(c.Get("X-Platform-ID")), 10, 64)
		if userID == "" || err != nil || platformID == 0 {
			logger.Warn("user context missing", "path", c.Path(), "user_id", userID)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID or X-Platform-ID, request must come through gateway with auth context",
				"code":  "unauthorized",
			})
		}

		id := services.Identity{
			UserID:     userID,
			PlatformID: platformID,
			Username:   c.Get("X-Username"),
			Role:       models.RoleUser,
		}
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			if strings.TrimSpace(r) == models.RoleAdmin {
				id.Role = models.RoleAdmin
			}
		}

		if _, err := users.Ensure(c.UserContext(), id); err != nil {
			return err
		}
		c.Locals(identityKey, id)
		return c.Next()
	}
}

// RequireRole rejects callers that lack role. Must run after UserContextMiddleware.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := c.Locals(identityKey).(services.Identity)
		if !ok || id.Role != role {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "forbidden",
				"code":  "forbidden",
			})
		}
		return c.Next()
	}
}

// IdentityFrom returns the identity stored by UserContextMiddleware.
func IdentityFrom(c *fiber.Ctx) services.Identity {
	id, _ := c.Locals(identityKey).(services.Identity)
	return id
}
