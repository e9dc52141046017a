// Package entitlement reconciles purchase and cancellation events from the
// app stores and the billing relay into the durable premium decision and its
// claims mirror.
package entitlement

import (
	"strings"
	"time"
)

// EventKind enumerates the billing triggers the state machine understands.
type EventKind string

const (
	EventInitialPurchase EventKind = "INITIAL_PURCHASE"
	EventRenewal         EventKind = "RENEWAL"
	EventCancellation    EventKind = "CANCELLATION"
	EventExpiration      EventKind = "EXPIRATION"
	EventAdminUpgrade    EventKind = "ADMIN_UPGRADE"
	EventAdminDowngrade  EventKind = "ADMIN_DOWNGRADE"
	EventClientReceipt   EventKind = "CLIENT_RECEIPT"
)

// ParseEventKind maps a relay event type string to a known kind.
// Unrecognized kinds are reported via ok=false and must be ignored, not
// treated as errors.
func ParseEventKind(raw string) (EventKind, bool) {
	switch EventKind(strings.ToUpper(strings.TrimSpace(raw))) {
	case EventInitialPurchase:
		return EventInitialPurchase, true
	case EventRenewal:
		return EventRenewal, true
	case EventCancellation:
		return EventCancellation, true
	case EventExpiration:
		return EventExpiration, true
	case EventAdminUpgrade:
		return EventAdminUpgrade, true
	case EventAdminDowngrade:
		return EventAdminDowngrade, true
	case EventClientReceipt:
		return EventClientReceipt, true
	default:
		return "", false
	}
}

// BillingEvent is one inbound trigger: a client-submitted receipt, a relay
// webhook delivery, or an admin override. It is ephemeral and never
// persisted as its own entity.
type BillingEvent struct {
	Kind          EventKind
	TargetUserID  uint
	ProductID     string
	Platform      string
	TransactionID string
	PurchasedAt   *time.Time
	ExpiresAt     *time.Time
	// OccurredAt orders events explicitly; a zero value means the source
	// supplied no timestamp and the event is applied in arrival order.
	OccurredAt time.Time
	IsTrial    bool
}
