package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/aviary-app/entitlement-service/internal/pkg/usercontext"
)

// RequireAPIAuth ensures an authenticated caller on API routes and returns
// JSON 401 otherwise. It runs after APIKeyAuthMiddleware.
func RequireAPIAuth(c *fiber.Ctx) error {
	if !usercontext.IsLoggedIn(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "login required",
		})
	}
	return c.Next()
}

// RequireAdmin ensures the caller carries the admin claim; 403 otherwise.
func RequireAdmin(c *fiber.Ctx) error {
	if !usercontext.IsLoggedIn(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "login required",
		})
	}
	if !usercontext.IsAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "forbidden",
			"message": "admin privileges required",
		})
	}
	return c.Next()
}
