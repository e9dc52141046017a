package repository

import (
	"github.com/aviary-app/entitlement-service/app/models"
	"gorm.io/gorm"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	GetByAPIKeyHash(hash string) (*models.User, error)
	Update(user *models.User) error
	TouchAPIKeyUsage(userID uint) error
}

// EntitlementRepository defines the durable entitlement store. It is the
// only shared mutable resource of the entitlement core and is injected into
// the service so the state machine stays testable without a live database.
type EntitlementRepository interface {
	GetEntitlement(userID uint) (*models.UserEntitlement, error)
	GetOrCreateEntitlement(userID uint) (*models.UserEntitlement, error)
	// SaveEntitlementAndRecord persists an entitlement mutation and, when rec
	// is non-nil, upserts the subscription record in the same transaction.
	SaveEntitlementAndRecord(e *models.UserEntitlement, rec *models.SubscriptionRecord) error
	GetSubscriptionRecord(userID uint) (*models.SubscriptionRecord, error)
	CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error
}

// Repositories contains all repository instances
type Repositories struct {
	User        UserRepository
	Entitlement EntitlementRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:        NewUserRepository(db),
		Entitlement: NewEntitlementRepository(db),
	}
}
