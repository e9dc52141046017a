package controllers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/aviary-app/entitlement-service/app/models"
	"github.com/aviary-app/entitlement-service/app/repository"
	"github.com/aviary-app/entitlement-service/internal/pkg/entitlement"
	"github.com/aviary-app/entitlement-service/internal/pkg/env"
	"github.com/aviary-app/entitlement-service/internal/pkg/metrics/counter"
)

// webhookEnvelope is the billing relay's event contract. Timestamps are
// epoch milliseconds; a zero expiration means the relay supplied none.
type webhookEnvelope struct {
	Event struct {
		ID               string `json:"id"`
		Type             string `json:"type"`
		AppUserID        string `json:"app_user_id"`
		ProductID        string `json:"product_id"`
		PurchasedAtMs    int64  `json:"purchased_at_ms"`
		ExpirationAtMs   int64  `json:"expiration_at_ms"`
		EventTimestampMs int64  `json:"event_timestamp_ms"`
		TransactionID    string `json:"transaction_id"`
		Store            string `json:"store"`
	} `json:"event"`
}

// HandleBillingWebhook ingests one billing relay delivery.
//
// Authorization is solely the shared-secret check: 500 when the secret is
// unconfigured, 401 when the header is missing or wrong. Once authorized the
// endpoint always answers 200 so the relay never retry-storms; internal
// failures are recorded on the stored event row and logged with its ingest
// id instead of being surfaced.
func HandleBillingWebhook(c *fiber.Ctx) error {
	secret := env.GetEnv("BILLING_WEBHOOK_SECRET", "")
	if strings.TrimSpace(secret) == "" {
		log.Print("billing webhook rejected: BILLING_WEBHOOK_SECRET is not configured")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook secret unconfigured"})
	}
	if !entitlement.AuthorizeWebhook(c.Get("Authorization"), secret) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	rawBody := append([]byte(nil), c.Body()...)

	var envelope webhookEnvelope
	parseErr := json.Unmarshal(rawBody, &envelope)

	eventID := strings.TrimSpace(envelope.Event.ID)
	if eventID == "" {
		// Deterministic fallback keeps relay retries deduplicatable.
		sum := sha256.Sum256(rawBody)
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	repo := repository.GetGlobalRepositories().Entitlement
	created, stored, err := repo.CreateWebhookEventIfNotExists(&models.BillingWebhookEvent{
		IngestID:        uuid.NewString(),
		Provider:        models.BillingProviderRelay,
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(envelope.Event.Type),
		PayloadJSON:     string(rawBody),
	})
	if err != nil {
		log.Printf("billing webhook: persisting event failed: %v", err)
		return errorLogged(c)
	}
	if !created {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true, "ingest_id": stored.IngestID})
	}
	_ = counter.AddWebhookEvent(stored.EventType)
	if parseErr != nil {
		finishWebhook(repo, stored, "invalid payload: "+parseErr.Error())
		return errorLogged(c)
	}

	kind, ok := entitlement.ParseEventKind(envelope.Event.Type)
	if !ok {
		// Unrecognized kinds are logged and ignored, never errors.
		log.Printf("billing webhook %s: ignoring unrecognized event type %q", stored.IngestID, envelope.Event.Type)
		finishWebhook(repo, stored, "")
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true, "ingest_id": stored.IngestID})
	}

	userID, err := strconv.ParseUint(strings.TrimSpace(envelope.Event.AppUserID), 10, 64)
	if err != nil || userID == 0 {
		finishWebhook(repo, stored, "invalid app_user_id: "+envelope.Event.AppUserID)
		return errorLogged(c)
	}

	ev := entitlement.BillingEvent{
		Kind:          kind,
		TargetUserID:  uint(userID),
		ProductID:     strings.TrimSpace(envelope.Event.ProductID),
		Platform:      storeToPlatform(envelope.Event.Store),
		TransactionID: strings.TrimSpace(envelope.Event.TransactionID),
		PurchasedAt:   millisPtr(envelope.Event.PurchasedAtMs),
		ExpiresAt:     millisPtr(envelope.Event.ExpirationAtMs),
	}
	if envelope.Event.EventTimestampMs > 0 {
		ev.OccurredAt = time.UnixMilli(envelope.Event.EventTimestampMs).UTC()
	}

	ctx, cancel := requestContext()
	defer cancel()

	res, err := getEntitlementService().ProcessBillingEvent(ctx, ev)
	if err != nil {
		finishWebhook(repo, stored, err.Error())
		return errorLogged(c)
	}
	if res.PropagationErr != nil {
		// Durable write succeeded; the stale claims cache self-heals on the
		// next propagation and readers fall back to the durable record.
		finishWebhook(repo, stored, "claims propagation: "+res.PropagationErr.Error())
	} else {
		finishWebhook(repo, stored, "")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":        true,
		"applied":   res.Applied,
		"ingest_id": stored.IngestID,
	})
}

// errorLogged is the deliberate always-200 answer for post-auth failures.
func errorLogged(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).SendString("Error logged")
}

func finishWebhook(repo repository.EntitlementRepository, stored *models.BillingWebhookEvent, processingError string) {
	if processingError != "" {
		log.Printf("billing webhook %s: %s", stored.IngestID, processingError)
	}
	if err := repo.MarkWebhookProcessed(stored.ID, processingError); err != nil {
		log.Printf("billing webhook %s: marking processed failed: %v", stored.IngestID, err)
	}
}

func millisPtr(ms int64) *time.Time {
	if ms <= 0 {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

func storeToPlatform(store string) string {
	switch strings.ToUpper(strings.TrimSpace(store)) {
	case "APP_STORE":
		return models.PlatformIOS
	case "PLAY_STORE":
		return models.PlatformAndroid
	default:
		return ""
	}
}
