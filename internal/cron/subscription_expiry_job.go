package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/coachly/fitcoach-backend/pkg/logger"
)

const (
	subscriptionExpiryJobName = "subscription-expiry"
	defaultGracePeriod        = 72 * time.Hour
)

type subscriptionExpirer interface {
	ExpireOverdue(ctx context.Context, grace time.Duration) (int64, error)
}

type SubscriptionExpiryJobParams struct {
	Logger        *logger.Logger
	Subscriptions subscriptionExpirer
	GracePeriod   time.Duration
}

// subscriptionExpiryJob moves active subscriptions whose period ended more
// than the grace period ago to expired. It never calls the provider.
type subscriptionExpiryJob struct {
	logg  *logger.Logger
	subs  subscriptionExpirer
	grace time.Duration
}

func NewSubscriptionExpiryJob(params SubscriptionExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	grace := params.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}
	return &subscriptionExpiryJob{
		logg:  params.Logger,
		subs:  params.Subscriptions,
		grace: grace,
	}, nil
}

func (j *subscriptionExpiryJob) Name() string { return subscriptionExpiryJobName }

func (j *subscriptionExpiryJob) Run(ctx context.Context) (Report, error) {
	expired, err := j.subs.ExpireOverdue(ctx, j.grace)
	if err != nil {
		return Report{}, fmt.Errorf("expire overdue subscriptions: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"expired":      expired,
		"grace_period": j.grace.String(),
	}), "subscription expiry completed")
	return Report{Affected: int(expired)}, nil
}
