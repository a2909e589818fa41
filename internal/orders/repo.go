package orders

import (
	"context"
	"errors"
	"time"

	"github.com/coachly/fitcoach-backend/pkg/db/models"
	"github.com/coachly/fitcoach-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PaymentUpdate is the payment projection written when a charge succeeds.
type PaymentUpdate struct {
	Reference string
	PaidAt    time.Time
	Method    string
}

// Repository touches only the payment columns of orders.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	MarkPaid(ctx context.Context, id uuid.UUID, update PaymentUpdate) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// MarkPaid flips the order to success unless it already is. The returned
// bool is false when no row changed.
func (r *repository) MarkPaid(ctx context.Context, id uuid.UUID, update PaymentUpdate) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND payment_status <> ?", id, enums.OrderPaymentStatusSuccess).
		Updates(map[string]any{
			"payment_status":    enums.OrderPaymentStatusSuccess,
			"payment_reference": update.Reference,
			"payment_date":      update.PaidAt,
			"payment_method":    update.Method,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
