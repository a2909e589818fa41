package models

import (
	"time"

	"github.com/coachly/fitcoach-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order carries only the columns this service reads or writes. The rest of
// the orders table belongs to the shop module.
type Order struct {
	ID               uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	UserID           string                   `gorm:"column:user_id;not null;index"`
	TotalAmount      decimal.Decimal          `gorm:"column:total_amount;type:numeric(12,2);not null"`
	PaymentStatus    enums.OrderPaymentStatus `gorm:"column:payment_status;not null;default:'pending'"`
	PaymentReference *string                  `gorm:"column:payment_reference"`
	PaymentDate      *time.Time               `gorm:"column:payment_date"`
	PaymentMethod    *string                  `gorm:"column:payment_method"`
	CreatedAt        time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }
