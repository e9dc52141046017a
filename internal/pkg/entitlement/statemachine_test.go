package entitlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aviary-app/entitlement-service/app/models"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func freeEntitlement() *models.UserEntitlement {
	return &models.UserEntitlement{
		UserID:             1,
		Plan:               models.PlanFree,
		SubscriptionStatus: models.SubscriptionStatusNone,
	}
}

func TestApply_InitialPurchase(t *testing.T) {
	expires := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	purchased := testNow.Add(-time.Hour)

	tr, skip := Apply(freeEntitlement(), BillingEvent{
		Kind:          EventInitialPurchase,
		TargetUserID:  1,
		ProductID:     "premium_annual",
		Platform:      models.PlatformIOS,
		TransactionID: "1000000123",
		PurchasedAt:   &purchased,
		ExpiresAt:     &expires,
		OccurredAt:    testNow,
	}, testNow)

	require.Empty(t, skip)
	assert.Equal(t, models.PlanPremium, tr.Entitlement.Plan)
	assert.Equal(t, models.SubscriptionStatusActive, tr.Entitlement.SubscriptionStatus)
	assert.Equal(t, "premium_annual", tr.Entitlement.SubscriptionProductID)
	assert.Equal(t, models.PlatformIOS, tr.Entitlement.SubscriptionPlatform)
	assert.Equal(t, "1000000123", tr.Entitlement.SubscriptionTransactionID)
	require.NotNil(t, tr.Entitlement.SubscriptionEndDate)
	assert.Equal(t, expires, *tr.Entitlement.SubscriptionEndDate)
	require.NotNil(t, tr.Record)
	assert.Equal(t, models.PlanPremium, tr.Record.Plan)
	assert.Equal(t, expires, *tr.Record.CurrentPeriodEnd)
}

func TestApply_PurchaseWithoutExpiryFallsBackTo365Days(t *testing.T) {
	purchased := testNow
	tr, skip := Apply(freeEntitlement(), BillingEvent{
		Kind:        EventClientReceipt,
		PurchasedAt: &purchased,
		OccurredAt:  testNow,
	}, testNow)

	require.Empty(t, skip)
	require.NotNil(t, tr.Entitlement.SubscriptionEndDate)
	assert.Equal(t, purchased.AddDate(0, 0, 365), *tr.Entitlement.SubscriptionEndDate)
}

func TestApply_PurchaseThenExpirationEndsFree(t *testing.T) {
	expires := testNow.AddDate(1, 0, 0)
	tr, skip := Apply(freeEntitlement(), BillingEvent{
		Kind:       EventInitialPurchase,
		ExpiresAt:  &expires,
		OccurredAt: testNow,
	}, testNow)
	require.Empty(t, skip)

	// Expiration arriving with an older timestamp must still apply: the
	// terminal state wins regardless of arrival order.
	tr2, skip := Apply(&tr.Entitlement, BillingEvent{
		Kind:       EventExpiration,
		OccurredAt: testNow.Add(-time.Minute),
	}, testNow)
	require.Empty(t, skip)
	assert.Equal(t, models.PlanFree, tr2.Entitlement.Plan)
	assert.Equal(t, models.SubscriptionStatusCanceled, tr2.Entitlement.SubscriptionStatus)
}

func TestApply_RenewalIsIdempotent(t *testing.T) {
	expires := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ev := BillingEvent{
		Kind:       EventRenewal,
		ExpiresAt:  &expires,
		OccurredAt: testNow,
	}

	tr, skip := Apply(freeEntitlement(), ev, testNow)
	require.Empty(t, skip)
	tr2, skip := Apply(&tr.Entitlement, ev, testNow.Add(time.Second))
	require.Empty(t, skip)

	assert.Equal(t, expires, *tr2.Entitlement.SubscriptionEndDate)
	assert.Equal(t, models.SubscriptionStatusActive, tr2.Entitlement.SubscriptionStatus)
}

func TestApply_RenewalWithoutExpirationIsSkipped(t *testing.T) {
	tr, skip := Apply(freeEntitlement(), BillingEvent{Kind: EventRenewal, OccurredAt: testNow}, testNow)
	assert.Nil(t, tr)
	assert.NotEmpty(t, skip)
}

func TestApply_CancellationPreservesKnownExpiry(t *testing.T) {
	knownEnd := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	cur := freeEntitlement()
	cur.Plan = models.PlanPremium
	cur.SubscriptionStatus = models.SubscriptionStatusActive
	cur.SubscriptionEndDate = &knownEnd

	tr, skip := Apply(cur, BillingEvent{Kind: EventCancellation, OccurredAt: testNow}, testNow)
	require.Empty(t, skip)

	// Absence of data must never erase a known expiry, and the plan stays
	// premium until expiration.
	assert.Equal(t, models.PlanPremium, tr.Entitlement.Plan)
	assert.Equal(t, models.SubscriptionStatusCanceled, tr.Entitlement.SubscriptionStatus)
	require.NotNil(t, tr.Entitlement.SubscriptionEndDate)
	assert.Equal(t, knownEnd, *tr.Entitlement.SubscriptionEndDate)
}

func TestApply_CancellationWithExpirySetsIt(t *testing.T) {
	newEnd := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cur := freeEntitlement()
	cur.Plan = models.PlanPremium

	tr, skip := Apply(cur, BillingEvent{Kind: EventCancellation, ExpiresAt: &newEnd, OccurredAt: testNow}, testNow)
	require.Empty(t, skip)
	assert.Equal(t, newEnd, *tr.Entitlement.SubscriptionEndDate)
}

func TestApply_AdminUpgradeThenDowngrade(t *testing.T) {
	tr, skip := Apply(freeEntitlement(), BillingEvent{Kind: EventAdminUpgrade, OccurredAt: testNow}, testNow)
	require.Empty(t, skip)
	assert.Equal(t, models.PlanPremium, tr.Entitlement.Plan)
	require.NotNil(t, tr.Entitlement.SubscriptionEndDate)
	assert.Equal(t, testNow.AddDate(1, 0, 0), *tr.Entitlement.SubscriptionEndDate)
	require.NotNil(t, tr.Record)

	tr2, skip := Apply(&tr.Entitlement, BillingEvent{Kind: EventAdminDowngrade, OccurredAt: testNow.Add(time.Minute)}, testNow.Add(time.Minute))
	require.Empty(t, skip)
	assert.Equal(t, models.PlanFree, tr2.Entitlement.Plan)
	assert.Equal(t, models.SubscriptionStatusCanceled, tr2.Entitlement.SubscriptionStatus)
}

func TestApply_StaleEventIsSkipped(t *testing.T) {
	newer := testNow
	cur := freeEntitlement()
	cur.Plan = models.PlanPremium
	cur.SubscriptionStatus = models.SubscriptionStatusActive
	cur.LastEventAt = &newer

	// A delayed cancellation older than the last applied event must not
	// cancel the newer period.
	tr, skip := Apply(cur, BillingEvent{
		Kind:       EventCancellation,
		OccurredAt: testNow.Add(-time.Hour),
	}, testNow)
	assert.Nil(t, tr)
	assert.NotEmpty(t, skip)
}

func TestApply_AdminOverrideIgnoresNewerLastEvent(t *testing.T) {
	future := testNow.Add(2 * time.Minute)
	cur := freeEntitlement()
	cur.Plan = models.PlanPremium
	cur.SubscriptionStatus = models.SubscriptionStatusActive
	cur.LastEventAt = &future

	// An admin override is a locally timestamped command: a relay event that
	// parked last_event_at ahead of this clock must not veto it.
	tr, skip := Apply(cur, BillingEvent{Kind: EventAdminDowngrade, OccurredAt: testNow}, testNow)
	require.Empty(t, skip)
	assert.Equal(t, models.PlanFree, tr.Entitlement.Plan)
	assert.Equal(t, models.SubscriptionStatusCanceled, tr.Entitlement.SubscriptionStatus)
}

func TestApply_ClientReceiptIgnoresNewerLastEvent(t *testing.T) {
	future := testNow.Add(2 * time.Minute)
	expires := testNow.AddDate(1, 0, 0)
	cur := freeEntitlement()
	cur.LastEventAt = &future

	tr, skip := Apply(cur, BillingEvent{
		Kind:       EventClientReceipt,
		ExpiresAt:  &expires,
		OccurredAt: testNow,
	}, testNow)
	require.Empty(t, skip)
	assert.Equal(t, models.PlanPremium, tr.Entitlement.Plan)
}

func TestApply_FutureTimestampClampedToNow(t *testing.T) {
	expires := testNow.AddDate(0, 1, 0)
	tr, skip := Apply(freeEntitlement(), BillingEvent{
		Kind:       EventRenewal,
		ExpiresAt:  &expires,
		OccurredAt: testNow.Add(time.Hour),
	}, testNow)

	require.Empty(t, skip)
	require.NotNil(t, tr.Entitlement.LastEventAt)
	assert.Equal(t, testNow, *tr.Entitlement.LastEventAt)
}

func TestApply_UnrecognizedKindIsIgnored(t *testing.T) {
	tr, skip := Apply(freeEntitlement(), BillingEvent{Kind: "BILLING_ISSUE", OccurredAt: testNow}, testNow)
	assert.Nil(t, tr)
	assert.Contains(t, skip, "unrecognized")
}

func TestParseEventKind(t *testing.T) {
	kind, ok := ParseEventKind(" renewal ")
	assert.True(t, ok)
	assert.Equal(t, EventRenewal, kind)

	_, ok = ParseEventKind("SOMETHING_ELSE")
	assert.False(t, ok)
}
