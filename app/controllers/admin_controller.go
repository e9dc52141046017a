package controllers

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/aviary-app/entitlement-service/internal/pkg/entitlement"
	"github.com/aviary-app/entitlement-service/internal/pkg/metrics/counter"
	"github.com/aviary-app/entitlement-service/internal/pkg/usercontext"
)

type adminOverrideRequest struct {
	TargetUserID uint `json:"target_user_id" validate:"required"`
}

// HandleAdminUpgrade grants premium to the target user for one year.
// The route is guarded by the admin middleware; the target must exist.
func HandleAdminUpgrade(c *fiber.Ctx) error {
	return handleAdminOverride(c, "upgrade")
}

// HandleAdminDowngrade returns the target user to the free plan, matching
// the user-driven downgrade path.
func HandleAdminDowngrade(c *fiber.Ctx) error {
	return handleAdminOverride(c, "downgrade")
}

func handleAdminOverride(c *fiber.Ctx, direction string) error {
	var req adminOverrideRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "invalid request body"})
	}
	if err := validate.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "target_user_id is required"})
	}

	ctx, cancel := requestContext()
	defer cancel()

	svc := getEntitlementService()
	var (
		res *entitlement.SyncResult
		err error
	)
	if direction == "upgrade" {
		res, err = svc.AdminUpgrade(ctx, req.TargetUserID)
	} else {
		res, err = svc.AdminDowngrade(ctx, req.TargetUserID)
	}
	if err != nil {
		if errors.Is(err, entitlement.ErrUserNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "message": "user not found"})
		}
		log.Printf("admin %s for user %d by admin %d failed: %v", direction, req.TargetUserID, usercontext.GetUserID(c), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "message": "override failed"})
	}

	if !res.Applied {
		log.Printf("admin %s for user %d skipped: %s", direction, req.TargetUserID, res.SkipReason)
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"success": false, "message": "override was not applied"})
	}
	if res.PropagationErr != nil {
		log.Printf("admin %s for user %d: claims propagation failed: %v", direction, req.TargetUserID, res.PropagationErr)
	}
	log.Printf("admin %s applied to user %d by admin %d", direction, req.TargetUserID, usercontext.GetUserID(c))

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"success": true,
		"message": "user " + direction + " applied",
	})
}

// HandleAdminBillingMetrics reports the Redis-backed billing counters:
// webhook deliveries by event type and receipt validations by platform and
// outcome.
func HandleAdminBillingMetrics(c *fiber.Ctx) error {
	webhookEvents, err := counter.WebhookEventCounts()
	if err != nil {
		log.Printf("billing metrics: reading webhook counters failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "counters unavailable"})
	}
	validations, err := counter.ValidationCounts()
	if err != nil {
		log.Printf("billing metrics: reading validation counters failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "counters unavailable"})
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"webhook_events": webhookEvents,
		"validations":    validations,
	})
}
