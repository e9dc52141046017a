package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/aviary-app/entitlement-service/app/controllers"
	"github.com/aviary-app/entitlement-service/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "entitlement service",
		})
	})

	v1 := api.Group("/v1")

	// Billing relay webhook: POST only, authorized solely by shared secret.
	v1.Post("/billing/webhook", controllers.HandleBillingWebhook)

	// Client RPCs: API-key authenticated, the caller is always the target.
	subs := v1.Group("/subscriptions", middleware.APIKeyAuthMiddleware(), middleware.RequireAPIAuth)
	subs.Get("/me", controllers.HandleGetMyEntitlement)
	subs.Post("/ios/validate", controllers.HandleValidateIOSReceipt)
	subs.Post("/android/validate", controllers.HandleValidateAndroidPurchase)

	// Admin overrides require the admin claim on the caller.
	admin := v1.Group("/admin", middleware.APIKeyAuthMiddleware(), middleware.RequireAdmin)
	admin.Post("/subscriptions/upgrade", controllers.HandleAdminUpgrade)
	admin.Post("/subscriptions/downgrade", controllers.HandleAdminDowngrade)

	// Account provisioning: accounts and their API keys are minted here.
	admin.Post("/users", controllers.HandleAdminCreateUser)
	admin.Post("/users/:id/apikey", controllers.HandleAdminIssueAPIKey)

	// Operational billing counters.
	admin.Get("/metrics/billing", controllers.HandleAdminBillingMetrics)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
