package entitlement

import (
	"context"
	"errors"
	"log"
	"time"

	"gorm.io/gorm"

	"github.com/aviary-app/entitlement-service/app/models"
	"github.com/aviary-app/entitlement-service/app/repository"
	"github.com/aviary-app/entitlement-service/internal/pkg/receipt"
)

// ErrUserNotFound is reported when a mutation targets a user record that
// does not exist. Admin callers see it as an explicit error; the webhook
// handler only logs it.
var ErrUserNotFound = errors.New("target user not found")

// AppleVerifier validates an App Store receipt blob for an expected product.
type AppleVerifier interface {
	VerifyReceipt(ctx context.Context, receiptData, productID string) receipt.Outcome
}

// GoogleVerifier looks up a Play Store subscription purchase token.
type GoogleVerifier interface {
	VerifySubscription(ctx context.Context, packageName, subscriptionID, purchaseToken string) receipt.Outcome
}

// ClaimsPropagator mirrors the durable entitlement decision into the user's
// authorization claims. Implementations are a latency-optimizing cache, not
// a source of truth.
type ClaimsPropagator interface {
	PropagateClaims(ctx context.Context, userID uint, plan, subscriptionStatus string) error
}

// SyncResult pairs the durable outcome of a billing transition with the
// best-effort claims propagation result, so callers and tests can assert on
// propagation failures without them masking the primary result.
type SyncResult struct {
	Entitlement    *models.UserEntitlement
	Applied        bool
	SkipReason     string
	PropagationErr error
}

// Service orchestrates receipt validation, the subscription state machine,
// the durable store and the claims mirror for every entry point.
type Service struct {
	users  repository.UserRepository
	repo   repository.EntitlementRepository
	apple  AppleVerifier
	google GoogleVerifier
	claims ClaimsPropagator
	now    func() time.Time
}

// NewService creates an entitlement service from injected ports.
func NewService(
	users repository.UserRepository,
	repo repository.EntitlementRepository,
	apple AppleVerifier,
	google GoogleVerifier,
	claims ClaimsPropagator,
) *Service {
	return &Service{
		users:  users,
		repo:   repo,
		apple:  apple,
		google: google,
		claims: claims,
		now:    time.Now,
	}
}

// ValidateIOSReceipt validates a client-submitted App Store receipt and, on
// a positive validation, applies the resulting purchase to the caller's own
// entitlement. The caller id is always the target; no client-supplied target
// is trusted. An invalid receipt performs no mutation.
func (s *Service) ValidateIOSReceipt(ctx context.Context, callerID uint, receiptData, productID string) (receipt.Outcome, *SyncResult, error) {
	outcome := s.apple.VerifyReceipt(ctx, receiptData, productID)
	if !outcome.Valid {
		return outcome, nil, nil
	}
	res, err := s.applyEvent(ctx, callerID, s.receiptEvent(callerID, models.PlatformIOS, productID, outcome))
	return outcome, res, err
}

// ValidateAndroidPurchase validates a Play Store purchase token for the
// caller and applies it on success. Same contract as ValidateIOSReceipt.
func (s *Service) ValidateAndroidPurchase(ctx context.Context, callerID uint, packageName, productID, purchaseToken string) (receipt.Outcome, *SyncResult, error) {
	outcome := s.google.VerifySubscription(ctx, packageName, productID, purchaseToken)
	if !outcome.Valid {
		return outcome, nil, nil
	}
	res, err := s.applyEvent(ctx, callerID, s.receiptEvent(callerID, models.PlatformAndroid, productID, outcome))
	return outcome, res, err
}

// ProcessBillingEvent applies a relay webhook event to its target user.
// The target user id comes from the (already authorized) request body.
func (s *Service) ProcessBillingEvent(ctx context.Context, ev BillingEvent) (*SyncResult, error) {
	if err := s.requireUser(ev.TargetUserID); err != nil {
		return nil, err
	}
	return s.applyEvent(ctx, ev.TargetUserID, ev)
}

// AdminUpgrade grants premium to an existing user for one year.
func (s *Service) AdminUpgrade(ctx context.Context, targetUserID uint) (*SyncResult, error) {
	if err := s.requireUser(targetUserID); err != nil {
		return nil, err
	}
	return s.applyEvent(ctx, targetUserID, BillingEvent{
		Kind:         EventAdminUpgrade,
		TargetUserID: targetUserID,
		OccurredAt:   s.now(),
	})
}

// AdminDowngrade returns an existing user to the free plan.
func (s *Service) AdminDowngrade(ctx context.Context, targetUserID uint) (*SyncResult, error) {
	if err := s.requireUser(targetUserID); err != nil {
		return nil, err
	}
	return s.applyEvent(ctx, targetUserID, BillingEvent{
		Kind:         EventAdminDowngrade,
		TargetUserID: targetUserID,
		OccurredAt:   s.now(),
	})
}

// GetEntitlement returns the durable entitlement for a user, creating the
// free/none default when none exists yet.
func (s *Service) GetEntitlement(userID uint) (*models.UserEntitlement, error) {
	return s.repo.GetOrCreateEntitlement(userID)
}

func (s *Service) requireUser(userID uint) error {
	if userID == 0 {
		return ErrUserNotFound
	}
	if _, err := s.users.GetByID(userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUserNotFound
		}
		return err
	}
	return nil
}

// applyEvent runs the state machine and persists the transition. The claims
// mirror is written after the durable write and its failure is logged and
// carried in the result, never rolled back or retried.
func (s *Service) applyEvent(ctx context.Context, userID uint, ev BillingEvent) (*SyncResult, error) {
	current, err := s.repo.GetOrCreateEntitlement(userID)
	if err != nil {
		return nil, err
	}

	transition, skip := Apply(current, ev, s.now())
	if skip != "" {
		log.Printf("entitlement: skipping %s for user %d: %s", ev.Kind, userID, skip)
		return &SyncResult{Entitlement: current, SkipReason: skip}, nil
	}

	if err := s.repo.SaveEntitlementAndRecord(&transition.Entitlement, transition.Record); err != nil {
		return nil, err
	}

	res := &SyncResult{Entitlement: &transition.Entitlement, Applied: true}
	if err := s.claims.PropagateClaims(ctx, userID, transition.Entitlement.Plan, transition.Entitlement.SubscriptionStatus); err != nil {
		// Durable record stays authoritative; claims are eventually
		// consistent and re-validated against it when staleness matters.
		log.Printf("entitlement: claims propagation failed for user %d: %v", userID, err)
		res.PropagationErr = err
	}
	return res, nil
}

func (s *Service) receiptEvent(callerID uint, platform, productID string, outcome receipt.Outcome) BillingEvent {
	product := outcome.ProductID
	if product == "" {
		product = productID
	}
	purchased := outcome.PurchaseDate
	ev := BillingEvent{
		Kind:          EventClientReceipt,
		TargetUserID:  callerID,
		ProductID:     product,
		Platform:      platform,
		TransactionID: outcome.TransactionID,
		ExpiresAt:     outcome.ExpirationDate,
		OccurredAt:    s.now(),
		IsTrial:       outcome.IsTrial,
	}
	if !purchased.IsZero() {
		ev.PurchasedAt = &purchased
	}
	return ev
}
