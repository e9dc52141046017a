package repository

import (
	"time"

	"github.com/aviary-app/entitlement-service/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// entitlementRepository implements EntitlementRepository on GORM.
type entitlementRepository struct {
	db *gorm.DB
}

// NewEntitlementRepository creates an entitlement repository backed by GORM.
func NewEntitlementRepository(db *gorm.DB) EntitlementRepository {
	return &entitlementRepository{db: db}
}

func (r *entitlementRepository) GetEntitlement(userID uint) (*models.UserEntitlement, error) {
	var e models.UserEntitlement
	if err := r.db.Where("user_id = ?", userID).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *entitlementRepository) GetOrCreateEntitlement(userID uint) (*models.UserEntitlement, error) {
	return models.GetOrCreateUserEntitlement(r.db, userID)
}

// SaveEntitlementAndRecord writes both durable entities in one transaction
// so the projection can never diverge from the entitlement on a partial
// failure. UpdatedAt is server-assigned by GORM on both rows.
func (r *entitlementRepository) SaveEntitlementAndRecord(e *models.UserEntitlement, rec *models.SubscriptionRecord) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(e).Error; err != nil {
			return err
		}
		if rec == nil {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"plan",
				"status",
				"current_period_start",
				"current_period_end",
				"updated_at",
			}),
		}).Create(rec).Error
	})
}

func (r *entitlementRepository) GetSubscriptionRecord(userID uint) (*models.SubscriptionRecord, error) {
	var rec models.SubscriptionRecord
	if err := r.db.Where("user_id = ?", userID).First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *entitlementRepository) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *entitlementRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
