package ledger

import (
	"context"
	"errors"

	"github.com/coachly/fitcoach-backend/pkg/db"
	"github.com/coachly/fitcoach-backend/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrDuplicateReference is returned when a payment event with the same
// processor reference has already been recorded.
var ErrDuplicateReference = errors.New("payment event reference already recorded")

// Repository persists the payment event ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Record(ctx context.Context, event *models.PaymentEvent) error
	FindByReference(ctx context.Context, reference string) (*models.PaymentEvent, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Record inserts the event once. A concurrent insert of the same reference
// waits on the unique index and then reports ErrDuplicateReference, so the
// check and the write are a single statement.
func (r *repository) Record(ctx context.Context, event *models.PaymentEvent) error {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	if res.Error != nil {
		if db.IsUniqueViolation(res.Error, "ux_payment_events_reference") {
			return ErrDuplicateReference
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicateReference
	}
	return nil
}

func (r *repository) FindByReference(ctx context.Context, reference string) (*models.PaymentEvent, error) {
	var event models.PaymentEvent
	err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}
