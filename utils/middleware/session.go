package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/school-connect/services"
	"github.com/sahilchouksey/school-connect/utils/response"
)

// Session attaches the viewer's session from registry. Use after Required.
func Session(registry *services.SessionRegistry) fiber.Handler {
	return func(c *fiber.Ctx) error {
		viewer, ok := GetViewer(c)
		if !ok {
			return response.Unauthorized(c, "User not authenticated")
		}

		session, err := registry.Get(c.Context(), viewer)
		if err != nil {
			return response.InternalServerError(c, "Failed to open session")
		}

		c.Locals("session", session)
		return c.Next()
	}
}

// GetSession extracts the session attached by Session
func GetSession(c *fiber.Ctx) (*services.Session, bool) {
	session, ok := c.Locals("session").(*services.Session)
	return session, ok && session != nil
}
