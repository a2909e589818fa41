package models

import (
	"time"

	"github.com/coachly/fitcoach-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentEvent is the append-only ledger of processor events. The unique
// reference index is what makes webhook redelivery safe.
type PaymentEvent struct {
	ID        uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	Reference string                   `gorm:"column:reference;not null;uniqueIndex:ux_payment_events_reference"`
	Event     string                   `gorm:"column:event;not null"`
	UserID    *string                  `gorm:"column:user_id;index"`
	Amount    int64                    `gorm:"column:amount;not null;default:0"`
	Currency  string                   `gorm:"column:currency;not null;default:'NGN'"`
	Status    enums.PaymentEventStatus `gorm:"column:status;not null"`
	Type      *enums.PaymentEventType  `gorm:"column:type"`
	Channel   string                   `gorm:"column:channel"`
	PaidAt    *time.Time               `gorm:"column:paid_at"`
	Metadata  datatypes.JSON           `gorm:"column:metadata"`
	CreatedAt time.Time                `gorm:"column:created_at;autoCreateTime"`
}

func (PaymentEvent) TableName() string { return "payment_events" }

func (e *PaymentEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
