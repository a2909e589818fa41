package models

import (
	"time"

	"github.com/coachly/fitcoach-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Coupon is a gifted plan waiting to be redeemed. The payer's authorization
// is kept so the plan can be billed to them when the recipient has no card.
type Coupon struct {
	ID                uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	Code              string                `gorm:"column:code;not null;uniqueIndex:ux_coupons_code"`
	Reference         string                `gorm:"column:reference;not null;uniqueIndex:ux_coupons_reference"`
	CoachID           string                `gorm:"column:coach_id;not null"`
	PlanID            string                `gorm:"column:plan_id;not null"`
	CategoryID        string                `gorm:"column:category_id"`
	Duration          enums.BillingInterval `gorm:"column:duration;not null"`
	GiftedByUserID    string                `gorm:"column:gifted_by_user_id;not null;index"`
	UsedByUserID      *string               `gorm:"column:used_by_user_id"`
	RecipientEmail    string                `gorm:"column:recipient_email;not null"`
	RecipientPhone    *string               `gorm:"column:recipient_phone"`
	ExpiresAt         time.Time             `gorm:"column:expires_at;not null"`
	Used              bool                  `gorm:"column:used;not null;default:false"`
	UsedAt            *time.Time            `gorm:"column:used_at"`
	AuthorizationCode string                `gorm:"column:authorization_code"`
	CustomerCode      string                `gorm:"column:customer_code"`
	SubscriptionCode  *string               `gorm:"column:subscription_code"`
	CreatedAt         time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (Coupon) TableName() string { return "coupons" }

func (c *Coupon) BeforeCreate(*gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
