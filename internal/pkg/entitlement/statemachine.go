package entitlement

import (
	"time"

	"github.com/aviary-app/entitlement-service/app/models"
)

// fallbackSubscriptionDays bounds a purchase whose platform reported no
// expiration: end = purchase date + 365 days.
const fallbackSubscriptionDays = 365

// Transition is the set of durable mutations computed for one event: the
// updated entitlement and the subscription-record projection to upsert.
type Transition struct {
	Entitlement models.UserEntitlement
	Record      *models.SubscriptionRecord
}

// Apply maps an incoming event onto a target entitlement state. It is a pure
// function: cur is not mutated, and persistence is the caller's concern.
//
// A non-empty skip reason means the event must cause no state change:
// unrecognized kinds, renewals without an expiration timestamp, and stale
// relay events. Staleness is decided by comparing the event's occurred-at
// timestamp against the last applied one, so a delayed CANCELLATION cannot
// cancel a period a newer RENEWAL already extended. Only relay purchase
// lifecycle kinds are guarded: EXPIRATION is terminal and applies whatever
// the arrival order, and admin overrides and client receipts are locally
// timestamped commands that must always take effect.
func Apply(cur *models.UserEntitlement, ev BillingEvent, now time.Time) (*Transition, string) {
	if staleGuarded(ev.Kind) && !ev.OccurredAt.IsZero() &&
		cur.LastEventAt != nil && ev.OccurredAt.Before(*cur.LastEventAt) {
		return nil, "stale event: older than last applied event"
	}

	next := *cur

	switch ev.Kind {
	case EventInitialPurchase, EventClientReceipt:
		next.Plan = models.PlanPremium
		next.SubscriptionStatus = models.SubscriptionStatusActive
		next.IsTrial = ev.IsTrial
		if ev.ProductID != "" {
			next.SubscriptionProductID = ev.ProductID
		}
		if ev.Platform != "" {
			next.SubscriptionPlatform = ev.Platform
		}
		if ev.TransactionID != "" {
			next.SubscriptionTransactionID = ev.TransactionID
		}
		start := now
		if ev.PurchasedAt != nil {
			start = *ev.PurchasedAt
		}
		next.SubscriptionStartDate = &start
		if ev.ExpiresAt != nil {
			next.SubscriptionEndDate = ev.ExpiresAt
		} else {
			end := start.AddDate(0, 0, fallbackSubscriptionDays)
			next.SubscriptionEndDate = &end
		}

	case EventRenewal:
		if ev.ExpiresAt == nil {
			return nil, "renewal without expiration timestamp"
		}
		next.Plan = models.PlanPremium
		next.SubscriptionStatus = models.SubscriptionStatusActive
		next.SubscriptionEndDate = ev.ExpiresAt
		if ev.TransactionID != "" {
			next.SubscriptionTransactionID = ev.TransactionID
		}

	case EventCancellation:
		next.SubscriptionStatus = models.SubscriptionStatusCanceled
		// Absence of data must never erase a known expiry: without an
		// explicit expiration the stored end date stays untouched. The plan
		// stays premium until an EXPIRATION event arrives.
		if ev.ExpiresAt != nil {
			next.SubscriptionEndDate = ev.ExpiresAt
		}

	case EventExpiration:
		next.Plan = models.PlanFree
		next.SubscriptionStatus = models.SubscriptionStatusCanceled
		next.IsTrial = false

	case EventAdminUpgrade:
		next.Plan = models.PlanPremium
		next.SubscriptionStatus = models.SubscriptionStatusActive
		next.IsTrial = false
		start := now
		end := now.AddDate(1, 0, 0)
		next.SubscriptionStartDate = &start
		next.SubscriptionEndDate = &end

	case EventAdminDowngrade:
		next.Plan = models.PlanFree
		next.SubscriptionStatus = models.SubscriptionStatusCanceled
		next.IsTrial = false

	default:
		return nil, "unrecognized event kind: " + string(ev.Kind)
	}

	// Clamp to now so a relay timestamp ahead of this server's clock can
	// never park last_event_at in the future and veto later events.
	applied := ev.OccurredAt
	if applied.IsZero() || applied.After(now) {
		applied = now
	}
	next.LastEventAt = &applied

	record := &models.SubscriptionRecord{
		UserID:             next.UserID,
		Plan:               next.Plan,
		Status:             next.SubscriptionStatus,
		CurrentPeriodStart: next.SubscriptionStartDate,
		CurrentPeriodEnd:   next.SubscriptionEndDate,
	}

	return &Transition{Entitlement: next, Record: record}, ""
}

// staleGuarded reports whether delayed deliveries of a kind may be skipped.
// Only the relay purchase lifecycle carries provider timestamps worth
// ordering against each other.
func staleGuarded(kind EventKind) bool {
	switch kind {
	case EventInitialPurchase, EventRenewal, EventCancellation:
		return true
	}
	return false
}
