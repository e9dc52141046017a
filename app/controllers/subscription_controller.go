package controllers

import (
	"log"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/aviary-app/entitlement-service/app/models"
	"github.com/aviary-app/entitlement-service/internal/pkg/metrics/counter"
	"github.com/aviary-app/entitlement-service/internal/pkg/receipt"
	"github.com/aviary-app/entitlement-service/internal/pkg/usercontext"
)

var validate = validator.New()

type iosReceiptRequest struct {
	ReceiptData  string `json:"receipt_data" validate:"required"`
	PurchaseData string `json:"purchase_data"`
	ProductID    string `json:"product_id" validate:"required"`
}

type androidPurchaseRequest struct {
	PurchaseToken string `json:"purchase_token" validate:"required"`
	ProductID     string `json:"product_id" validate:"required"`
	PackageName   string `json:"package_name" validate:"required"`
}

// HandleValidateIOSReceipt validates a client-submitted App Store receipt
// for the authenticated caller. The caller's own id is always the target.
// An invalid receipt is a structured failure, not an HTTP error.
func HandleValidateIOSReceipt(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req iosReceiptRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return badRequest(c, "receipt_data and product_id are required")
	}

	ctx, cancel := requestContext()
	defer cancel()

	outcome, res, err := getEntitlementService().ValidateIOSReceipt(ctx, userCtx.UserID, req.ReceiptData, req.ProductID)
	_ = counter.AddValidation(models.PlatformIOS, outcome.Valid)
	if err != nil {
		log.Printf("ios receipt processing failed for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "receipt processing failed",
		})
	}
	if res != nil && res.PropagationErr != nil {
		log.Printf("claims propagation failed for user %d: %v", userCtx.UserID, res.PropagationErr)
	}

	return c.Status(fiber.StatusOK).JSON(validationResponse(outcome))
}

// HandleValidateAndroidPurchase validates a Play Store purchase token for
// the authenticated caller. Same contract as the iOS endpoint.
func HandleValidateAndroidPurchase(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req androidPurchaseRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return badRequest(c, "purchase_token, product_id and package_name are required")
	}

	ctx, cancel := requestContext()
	defer cancel()

	outcome, res, err := getEntitlementService().ValidateAndroidPurchase(ctx, userCtx.UserID, req.PackageName, req.ProductID, req.PurchaseToken)
	_ = counter.AddValidation(models.PlatformAndroid, outcome.Valid)
	if err != nil {
		log.Printf("android purchase processing failed for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"success": false,
			"error":   "purchase processing failed",
		})
	}
	if res != nil && res.PropagationErr != nil {
		log.Printf("claims propagation failed for user %d: %v", userCtx.UserID, res.PropagationErr)
	}

	return c.Status(fiber.StatusOK).JSON(validationResponse(outcome))
}

// HandleGetMyEntitlement returns the caller's durable entitlement record.
func HandleGetMyEntitlement(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	e, err := getEntitlementService().GetEntitlement(userCtx.UserID)
	if err != nil {
		log.Printf("entitlement lookup failed for user %d: %v", userCtx.UserID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal_server_error",
			"message": "entitlement lookup failed",
		})
	}
	return c.Status(fiber.StatusOK).JSON(e)
}

func validationResponse(outcome receipt.Outcome) fiber.Map {
	if !outcome.Valid {
		// Fail-closed: no positive validation, no entitlement.
		return fiber.Map{
			"success": false,
			"error":   "purchase could not be validated",
		}
	}
	return fiber.Map{
		"success": true,
		"data": fiber.Map{
			"valid":           true,
			"transaction_id":  outcome.TransactionID,
			"expiration_date": formatTimePtr(outcome.ExpirationDate),
		},
	}
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"success": false,
		"error":   msg,
	})
}
