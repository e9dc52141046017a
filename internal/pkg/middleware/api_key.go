package middleware

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/aviary-app/entitlement-service/app/models"
	"github.com/aviary-app/entitlement-service/app/repository"
	"github.com/aviary-app/entitlement-service/internal/pkg/claims"
	"github.com/aviary-app/entitlement-service/internal/pkg/usercontext"
)

// APIKeyAuthMiddleware authenticates requests carrying a user API key header
// and attaches the caller identity to the request. The caller's plan is read
// from the claims cache first and falls back to the durable entitlement.
func APIKeyAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}

		hash := models.HashAPIKey(apiKey)
		repos := repository.GetGlobalRepositories()
		user, err := repos.User.GetByAPIKeyHash(hash)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
			}
			log.Printf("api key lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "API key verification failed"})
		}

		if user.Status != models.STATUS_ACTIVE {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "User inactive"})
		}

		plan := lookupPlan(c, repos, user.ID)

		// Refresh last-used timestamp best-effort.
		if err := repos.User.TouchAPIKeyUsage(user.ID); err != nil {
			log.Printf("failed to update api key usage timestamp for user %d: %v", user.ID, err)
		}

		usercontext.SetUserContext(c, usercontext.UserContext{
			UserID:     user.ID,
			Username:   user.Name,
			IsLoggedIn: true,
			IsAdmin:    user.IsAdmin(),
			Plan:       plan,
		})

		return c.Next()
	}
}

// lookupPlan prefers the claims cache; a miss or cache error falls back to
// the durable entitlement record.
func lookupPlan(c *fiber.Ctx, repos *repository.Repositories, userID uint) string {
	if plan, _, err := claims.NewRedisPropagator().Lookup(c.Context(), userID); err == nil && plan != "" {
		return plan
	}
	if e, err := repos.Entitlement.GetEntitlement(userID); err == nil && e.Plan != "" {
		return e.Plan
	}
	return models.PlanFree
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
