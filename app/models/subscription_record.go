package models

import "time"

// SubscriptionRecord is a denormalized projection of a user's subscription
// for billing-facing queries. It is created lazily on the first paid
// transition and updated on every subsequent billing event.
type SubscriptionRecord struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	UserID             uint       `gorm:"uniqueIndex;not null" json:"user_id"`
	Plan               string     `gorm:"type:varchar(50);not null;default:'free'" json:"plan"`
	Status             string     `gorm:"type:varchar(32);not null;default:'none'" json:"status"`
	CurrentPeriodStart *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
