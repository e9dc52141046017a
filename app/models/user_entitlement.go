package models

import (
	"time"

	"gorm.io/gorm"
)

// Plan values for UserEntitlement and SubscriptionRecord.
const (
	PlanFree    = "free"
	PlanPremium = "premium"
)

// Subscription status values.
const (
	SubscriptionStatusNone     = "none"
	SubscriptionStatusActive   = "active"
	SubscriptionStatusCanceled = "canceled"
)

// Subscription platforms.
const (
	PlatformIOS     = "ios"
	PlatformAndroid = "android"
)

// UserEntitlement is the durable source of truth for whether a user has
// premium access. It is created with free/none defaults alongside the user
// account and mutated by every billing event.
type UserEntitlement struct {
	ID                        uint       `gorm:"primaryKey" json:"id"`
	UserID                    uint       `gorm:"uniqueIndex;not null" json:"user_id"`
	Plan                      string     `gorm:"type:varchar(50);not null;default:'free';index" json:"plan"`
	SubscriptionStatus        string     `gorm:"type:varchar(32);not null;default:'none'" json:"subscription_status"`
	SubscriptionProductID     string     `gorm:"type:varchar(191);default:''" json:"subscription_product_id,omitempty"`
	SubscriptionPlatform      string     `gorm:"type:varchar(16);default:''" json:"subscription_platform,omitempty"`
	SubscriptionTransactionID string     `gorm:"type:varchar(191);default:''" json:"subscription_transaction_id,omitempty"`
	SubscriptionStartDate     *time.Time `gorm:"type:timestamp;default:null" json:"subscription_start_date,omitempty"`
	SubscriptionEndDate       *time.Time `gorm:"type:timestamp;default:null" json:"subscription_end_date,omitempty"`
	IsTrial                   bool       `gorm:"default:false" json:"is_trial"`
	LastEventAt               *time.Time `gorm:"type:timestamp;default:null" json:"last_event_at,omitempty"`
	CreatedAt                 time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                 time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsPremium reports whether the entitlement currently grants premium access.
func (e *UserEntitlement) IsPremium() bool {
	return e != nil && e.Plan == PlanPremium
}

// GetOrCreateUserEntitlement returns the entitlement row for a user,
// creating free/none defaults when none exists yet.
func GetOrCreateUserEntitlement(db *gorm.DB, userID uint) (*UserEntitlement, error) {
	var e UserEntitlement
	if err := db.Where("user_id = ?", userID).First(&e).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			e = UserEntitlement{
				UserID:             userID,
				Plan:               PlanFree,
				SubscriptionStatus: SubscriptionStatusNone,
			}
			if err := db.Create(&e).Error; err != nil {
				return nil, err
			}
			return &e, nil
		}
		return nil, err
	}
	return &e, nil
}
