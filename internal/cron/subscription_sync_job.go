package cron

import (
	"context"
	"fmt"

	"github.com/coachly/fitcoach-backend/internal/subscriptions"
	"github.com/coachly/fitcoach-backend/pkg/db/models"
	"github.com/coachly/fitcoach-backend/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/multierr"
)

const (
	subscriptionSyncJobName = "subscription-sync"
	defaultSyncBatchLimit   = 500
)

type subscriptionSyncer interface {
	ListForSync(ctx context.Context, after uuid.UUID, limit int) ([]models.Subscription, error)
	Sync(ctx context.Context, sub models.Subscription) (subscriptions.SyncResult, error)
}

// SubscriptionSyncJobParams configure the sync job.
type SubscriptionSyncJobParams struct {
	Logger        *logger.Logger
	Subscriptions subscriptionSyncer
	BatchLimit    int
}

// subscriptionSyncJob pulls every subscription that has a provider code and
// refreshes its status and billing dates from Paystack.
type subscriptionSyncJob struct {
	logg  *logger.Logger
	subs  subscriptionSyncer
	limit int
}

// NewSubscriptionSyncJob builds the nightly sync job.
func NewSubscriptionSyncJob(params SubscriptionSyncJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	limit := params.BatchLimit
	if limit <= 0 {
		limit = defaultSyncBatchLimit
	}
	return &subscriptionSyncJob{
		logg:  params.Logger,
		subs:  params.Subscriptions,
		limit: limit,
	}, nil
}

func (j *subscriptionSyncJob) Name() string { return subscriptionSyncJobName }

func (j *subscriptionSyncJob) Run(ctx context.Context) (Report, error) {
	var (
		errs      error
		after     uuid.UUID
		scanned   int
		activated int
		refreshed int
	)

	for {
		batch, err := j.subs.ListForSync(ctx, after, j.limit)
		if err != nil {
			return Report{Affected: activated + refreshed}, multierr.Append(errs, fmt.Errorf("list subscriptions: %w", err))
		}
		for _, sub := range batch {
			scanned++
			res, err := j.subs.Sync(ctx, sub)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("sync subscription %s: %w", sub.ID, err))
				j.logg.Error(j.logg.WithField(ctx, "subscription_id", sub.ID.String()), "subscription sync failed", err)
				continue
			}
			switch {
			case res.StatusChanged:
				activated++
			case res.DatesChanged:
				refreshed++
			}
		}
		if len(batch) < j.limit {
			break
		}
		after = batch[len(batch)-1].ID
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"scanned":   scanned,
		"activated": activated,
		"refreshed": refreshed,
		"failed":    len(multierr.Errors(errs)),
	}), "subscription sync completed")

	return Report{Affected: activated + refreshed}, errs
}
