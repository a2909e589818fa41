package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/coachly/fitcoach-backend/pkg/db"
	"github.com/coachly/fitcoach-backend/pkg/db/models"
	"github.com/coachly/fitcoach-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const activeIndex = "ux_subscriptions_active_user_plan"

var (
	// ErrActiveExists means the user already holds an active subscription
	// for the plan.
	ErrActiveExists = errors.New("active subscription already exists for user and plan")
	// ErrStaleState means the row left the expected state before the write.
	ErrStaleState = errors.New("subscription state changed concurrently")
)

// Repository persists subscriptions. Every status write is conditional on
// the status the caller read.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindActive(ctx context.Context, userID, planID string) (*models.Subscription, error)
	FindRetryable(ctx context.Context, userID, planID string) (*models.Subscription, error)
	FindByCode(ctx context.Context, code string) (*models.Subscription, error)
	Insert(ctx context.Context, sub *models.Subscription) error
	Transition(ctx context.Context, id uuid.UUID, from enums.SubscriptionStatus, changes map[string]any) error
	ListForSync(ctx context.Context, after uuid.UUID, limit int) ([]models.Subscription, error)
	ExpireOverdue(ctx context.Context, cutoff, now time.Time) (int64, error)
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

func (r *repository) FindActive(ctx context.Context, userID, planID string) (*models.Subscription, error) {
	return r.first(ctx, r.db.WithContext(ctx).
		Where("user_id = ? AND plan_id = ? AND status = ?", userID, planID, enums.SubscriptionStatusActive))
}

// FindRetryable returns the newest pending or failed row for the pair.
func (r *repository) FindRetryable(ctx context.Context, userID, planID string) (*models.Subscription, error) {
	return r.first(ctx, r.db.WithContext(ctx).
		Where("user_id = ? AND plan_id = ?", userID, planID).
		Where("status IN ?", []enums.SubscriptionStatus{enums.SubscriptionStatusPending, enums.SubscriptionStatusFailed}).
		Order("created_at DESC"))
}

func (r *repository) FindByCode(ctx context.Context, code string) (*models.Subscription, error) {
	return r.first(ctx, r.db.WithContext(ctx).Where("subscription_code = ?", code))
}

func (r *repository) first(_ context.Context, q *gorm.DB) (*models.Subscription, error) {
	var sub models.Subscription
	err := q.First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Insert relies on ux_subscriptions_active_user_plan: a concurrent insert
// of a second active row is a no-op reported as ErrActiveExists.
func (r *repository) Insert(ctx context.Context, sub *models.Subscription) error {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(sub)
	if res.Error != nil {
		if db.IsUniqueViolation(res.Error, "") {
			return ErrActiveExists
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrActiveExists
	}
	return nil
}

// Transition applies changes only while the row is still in `from`. Inside a
// transaction the write runs under a savepoint so a unique violation on the
// active index does not poison the surrounding transaction.
func (r *repository) Transition(ctx context.Context, id uuid.UUID, from enums.SubscriptionStatus, changes map[string]any) error {
	q := r.db.WithContext(ctx)
	_, inTx := q.Statement.ConnPool.(gorm.TxCommitter)
	if inTx {
		if err := q.SavePoint("sub_transition").Error; err != nil {
			return err
		}
	}

	res := q.Model(&models.Subscription{}).
		Where("id = ? AND status = ?", id, from).
		Updates(changes)
	if res.Error != nil {
		if inTx {
			if err := q.RollbackTo("sub_transition").Error; err != nil {
				return err
			}
		}
		if db.IsUniqueViolation(res.Error, activeIndex) {
			return ErrActiveExists
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleState
	}
	return nil
}

// ListForSync pages through every subscription that has a processor code,
// terminal ones included, ordered by id.
func (r *repository) ListForSync(ctx context.Context, after uuid.UUID, limit int) ([]models.Subscription, error) {
	q := r.db.WithContext(ctx).
		Where("subscription_code IS NOT NULL AND subscription_code <> ''").
		Order("id ASC")
	if after != uuid.Nil {
		q = q.Where("id > ?", after)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var subs []models.Subscription
	if err := q.Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// ExpireOverdue flips every subscription that the table allows to expire and
// whose period ended before cutoff. It is one statement, so a concurrent
// renewal either lands before it (and moves the period end) or after it.
func (r *repository) ExpireOverdue(ctx context.Context, cutoff, now time.Time) (int64, error) {
	to, err := Next(enums.SubscriptionStatusActive, EventExpire)
	if err != nil {
		return 0, err
	}
	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("status IN ?", SourcesFor(EventExpire)).
		Where("current_period_end IS NOT NULL AND current_period_end < ?", cutoff).
		Updates(map[string]any{
			"status":     to,
			"expired_at": now,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}
