package models

import (
	"time"

	"github.com/coachly/fitcoach-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Subscription is a user's recurring plan with a coach. At most one row per
// (user_id, plan_id) may be active; the partial unique index enforces it.
type Subscription struct {
	ID                uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	UserID            string                   `gorm:"column:user_id;not null;uniqueIndex:ux_subscriptions_active_user_plan,where:status = 'active'"`
	PlanID            string                   `gorm:"column:plan_id;not null;uniqueIndex:ux_subscriptions_active_user_plan,where:status = 'active'"`
	CoachID           string                   `gorm:"column:coach_id;not null"`
	CategoryID        string                   `gorm:"column:category_id;not null"`
	Interval          enums.BillingInterval    `gorm:"column:billing_interval;not null;default:'monthly'"`
	Status            enums.SubscriptionStatus `gorm:"column:status;not null;default:'pending';index"`
	StartDate         time.Time                `gorm:"column:start_date;not null"`
	CurrentPeriodEnd  *time.Time               `gorm:"column:current_period_end;index"`
	NextPaymentDate   *time.Time               `gorm:"column:next_payment_date"`
	SubscriptionCode  *string                  `gorm:"column:subscription_code;uniqueIndex:ux_subscriptions_code"`
	EmailToken        *string                  `gorm:"column:email_token"`
	AuthorizationCode string                   `gorm:"column:authorization_code;not null"`
	CustomerCode      string                   `gorm:"column:customer_code;not null"`
	LastReference     *string                  `gorm:"column:last_reference"`
	CancelledAt       *time.Time               `gorm:"column:cancelled_at"`
	FailedAt          *time.Time               `gorm:"column:failed_at"`
	ExpiredAt         *time.Time               `gorm:"column:expired_at"`
	LastSyncedAt      *time.Time               `gorm:"column:last_synced_at"`
	CreatedAt         time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (Subscription) TableName() string { return "subscriptions" }

func (s *Subscription) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
