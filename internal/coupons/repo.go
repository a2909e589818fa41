package coupons

import (
	"context"
	"errors"

	"github.com/coachly/fitcoach-backend/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// errNotInserted means the insert hit a unique index (reference or code).
var errNotInserted = errors.New("coupon not inserted")

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, coupon *models.Coupon) error
	FindByReference(ctx context.Context, reference string) (*models.Coupon, error)
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

func (r *repository) Insert(ctx context.Context, coupon *models.Coupon) error {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(coupon)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errNotInserted
	}
	return nil
}

func (r *repository) FindByReference(ctx context.Context, reference string) (*models.Coupon, error) {
	var coupon models.Coupon
	err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&coupon).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &coupon, nil
}
