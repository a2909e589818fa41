package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coachly/fitcoach-backend/pkg/db/models"
	"github.com/coachly/fitcoach-backend/pkg/enums"
	pkgerrors "github.com/coachly/fitcoach-backend/pkg/errors"
	"github.com/coachly/fitcoach-backend/pkg/logger"
	"github.com/coachly/fitcoach-backend/pkg/paystack"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Provider is the part of the Paystack client subscriptions depend on.
type Provider interface {
	CreateSubscription(ctx context.Context, params paystack.CreateSubscriptionParams) (*paystack.Subscription, error)
	FetchSubscription(ctx context.Context, code string) (*paystack.Subscription, error)
	ListSubscriptions(ctx context.Context, customer, plan string) ([]paystack.Subscription, error)
	DisableSubscription(ctx context.Context, code, emailToken string) error
}

// Outcome says what a webhook-driven call did.
type Outcome string

const (
	OutcomeCreated       Outcome = "created"
	OutcomeReactivated   Outcome = "reactivated"
	OutcomeAlreadyActive Outcome = "already_active"
	OutcomeRenewed       Outcome = "renewed"
	OutcomeCancelled     Outcome = "cancelled"
	OutcomeFailed        Outcome = "failed"
	OutcomeUpdated       Outcome = "updated"
	OutcomeNotFound      Outcome = "not_found"
	OutcomeRejected      Outcome = "rejected"
)

type ServiceParams struct {
	Repo     Repository
	Provider Provider
	Logger   *logger.Logger
	Now      func() time.Time
}

type Service struct {
	repo     Repository
	provider Provider
	logg     *logger.Logger
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription repository required")
	}
	if params.Provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription provider required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{repo: params.Repo, provider: params.Provider, logg: params.Logger, now: now}, nil
}

// ActivateInput is a first successful charge for a plan with a reusable card.
type ActivateInput struct {
	UserID            string
	PlanID            string
	CoachID           string
	CategoryID        string
	Interval          enums.BillingInterval
	CustomerID        string
	CustomerCode      string
	AuthorizationCode string
	Reference         string
	PaidAt            time.Time
}

func (in ActivateInput) validate() error {
	var missing []string
	for _, f := range [][2]string{
		{"userId", in.UserID},
		{"planId", in.PlanID},
		{"coachId", in.CoachID},
		{"categoryId", in.CategoryID},
		{"customer_code", in.CustomerCode},
		{"authorization_code", in.AuthorizationCode},
	} {
		if f[1] == "" {
			missing = append(missing, f[0])
		}
	}
	if len(missing) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription metadata incomplete").
			WithDetails(map[string]any{"missing": missing})
	}
	return nil
}

// Activate creates (or revives a failed row into) the active subscription for
// a first charge. The remote subscription is adopted when Paystack already has
// an active one for the customer and plan, otherwise created. A provider error
// leaves no local row. Losing the race on the active index unwinds a remote
// subscription created here and reports OutcomeAlreadyActive.
func (s *Service) Activate(ctx context.Context, tx *gorm.DB, in ActivateInput) (*models.Subscription, Outcome, error) {
	if err := in.validate(); err != nil {
		return nil, "", err
	}
	repo := s.repo.WithTx(tx)
	ctx = s.logg.WithFields(ctx, map[string]any{"user_id": in.UserID, "plan_id": in.PlanID})

	existing, err := repo.FindActive(ctx, in.UserID, in.PlanID)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load active subscription")
	}
	if existing != nil {
		s.logg.Info(ctx, "subscription already active; first charge ignored")
		return existing, OutcomeAlreadyActive, nil
	}

	remote, created, err := s.remoteFor(ctx, repo, in)
	if err != nil {
		return nil, "", err
	}

	paidAt := in.PaidAt
	if paidAt.IsZero() {
		paidAt = s.now()
	}
	periodEnd := in.Interval.After(paidAt)
	if remote.NextPaymentDate != nil {
		periodEnd = *remote.NextPaymentDate
	}
	code := remote.SubscriptionCode

	retry, err := repo.FindRetryable(ctx, in.UserID, in.PlanID)
	if err != nil {
		return nil, "", s.unwind(ctx, remote, created, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load retryable subscription"))
	}

	if retry != nil {
		to, err := Next(retry.Status, EventActivate)
		if err != nil {
			return nil, "", s.unwind(ctx, remote, created, err)
		}
		changes := map[string]any{
			"status":             to,
			"coach_id":           in.CoachID,
			"category_id":        in.CategoryID,
			"billing_interval":   intervalOrDefault(in.Interval),
			"start_date":         paidAt,
			"current_period_end": periodEnd,
			"next_payment_date":  remote.NextPaymentDate,
			"subscription_code":  code,
			"email_token":        nullable(remote.EmailToken),
			"authorization_code": in.AuthorizationCode,
			"customer_code":      in.CustomerCode,
			"last_reference":     nullable(in.Reference),
			"failed_at":          nil,
		}
		if err := repo.Transition(ctx, retry.ID, retry.Status, changes); err != nil {
			switch {
			case errors.Is(err, ErrActiveExists):
				s.logg.Info(ctx, "lost active-subscription race while reviving row")
				return nil, OutcomeAlreadyActive, s.unwind(ctx, remote, created, nil)
			case errors.Is(err, ErrStaleState):
				// another first charge revived the same row since we read it
				winner, findErr := repo.FindActive(ctx, in.UserID, in.PlanID)
				if findErr != nil {
					return nil, "", s.unwind(ctx, remote, created, pkgerrors.Wrap(pkgerrors.CodeInternal, findErr, "load active subscription"))
				}
				if winner != nil {
					s.logg.Info(ctx, "lost active-subscription race while reviving row")
					return winner, OutcomeAlreadyActive, s.unwind(ctx, remote, created, nil)
				}
			}
			return nil, "", s.unwind(ctx, remote, created, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "reactivate subscription"))
		}
		revived, err := repo.FindByCode(ctx, code)
		if err != nil {
			return nil, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload subscription")
		}
		s.logg.Info(s.logg.WithField(ctx, "subscription_code", code), "subscription reactivated")
		return revived, OutcomeReactivated, nil
	}

	sub := &models.Subscription{
		UserID:            in.UserID,
		PlanID:            in.PlanID,
		CoachID:           in.CoachID,
		CategoryID:        in.CategoryID,
		Interval:          intervalOrDefault(in.Interval),
		Status:            enums.SubscriptionStatusActive,
		StartDate:         paidAt,
		CurrentPeriodEnd:  &periodEnd,
		NextPaymentDate:   remote.NextPaymentDate,
		SubscriptionCode:  &code,
		EmailToken:        nullable(remote.EmailToken),
		AuthorizationCode: in.AuthorizationCode,
		CustomerCode:      in.CustomerCode,
		LastReference:     nullable(in.Reference),
	}
	if err := repo.Insert(ctx, sub); err != nil {
		if errors.Is(err, ErrActiveExists) {
			s.logg.Info(ctx, "lost active-subscription race on insert")
			return nil, OutcomeAlreadyActive, s.unwind(ctx, remote, created, nil)
		}
		return nil, "", s.unwind(ctx, remote, created, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert subscription"))
	}

	s.logg.Info(s.logg.WithField(ctx, "subscription_code", code), "subscription activated")
	return sub, OutcomeCreated, nil
}

// remoteFor finds an active Paystack subscription for the customer and plan
// or creates one. created reports whether this call made it.
func (s *Service) remoteFor(ctx context.Context, repo Repository, in ActivateInput) (*paystack.Subscription, bool, error) {
	customer := in.CustomerID
	if customer == "" {
		customer = in.CustomerCode
	}
	existing, err := s.provider.ListSubscriptions(ctx, customer, in.PlanID)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list paystack subscriptions")
	}
	for i := range existing {
		remote := existing[i]
		if !remote.IsActive() || remote.SubscriptionCode == "" {
			continue
		}
		if remote.Plan != nil && remote.Plan.PlanCode != "" && remote.Plan.PlanCode != in.PlanID {
			continue
		}
		local, err := repo.FindByCode(ctx, remote.SubscriptionCode)
		if err != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check adopted subscription")
		}
		if local != nil && IsTerminal(local.Status) {
			continue
		}
		s.logg.Info(s.logg.WithField(ctx, "subscription_code", remote.SubscriptionCode), "adopting existing paystack subscription")
		return &remote, false, nil
	}

	created, err := s.provider.CreateSubscription(ctx, paystack.CreateSubscriptionParams{
		Customer:      in.CustomerCode,
		Plan:          in.PlanID,
		Authorization: in.AuthorizationCode,
	})
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create paystack subscription")
	}
	return created, true, nil
}

// unwind disables a remote subscription this call created and returns cause.
func (s *Service) unwind(ctx context.Context, remote *paystack.Subscription, created bool, cause error) error {
	if !created || remote == nil {
		return cause
	}
	if err := s.provider.DisableSubscription(ctx, remote.SubscriptionCode, remote.EmailToken); err != nil {
		s.logg.Error(s.logg.WithField(ctx, "subscription_code", remote.SubscriptionCode), "failed to disable orphaned paystack subscription", err)
	}
	return cause
}

// RenewInput is a successful recurring charge.
type RenewInput struct {
	SubscriptionCode string
	Reference        string
	PaidAt           time.Time
	NextPaymentDate  *time.Time
}

// Renew extends the paid period of the subscription identified by code.
func (s *Service) Renew(ctx context.Context, tx *gorm.DB, in RenewInput) (*models.Subscription, Outcome, error) {
	repo := s.repo.WithTx(tx)
	sub, err := repo.FindByCode(ctx, in.SubscriptionCode)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	if sub == nil {
		return nil, OutcomeNotFound, nil
	}

	to, err := Next(sub.Status, EventRenew)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "subscription_code", in.SubscriptionCode), err.Error())
		return sub, OutcomeRejected, nil
	}

	paidAt := in.PaidAt
	if paidAt.IsZero() {
		paidAt = s.now()
	}
	periodEnd := nextPeriodEnd(sub, paidAt, in.NextPaymentDate)
	changes := map[string]any{
		"status":             to,
		"current_period_end": periodEnd,
		"next_payment_date":  periodEnd,
		"last_reference":     nullable(in.Reference),
		"failed_at":          nil,
	}
	if err := s.apply(ctx, repo, sub, changes); err != nil {
		return nil, "", err
	}
	sub.Status = to
	sub.CurrentPeriodEnd = &periodEnd
	sub.NextPaymentDate = &periodEnd
	return sub, OutcomeRenewed, nil
}

// nextPeriodEnd prefers the processor's next payment date. Without one the
// period is extended from whichever is later, the current end or the charge.
func nextPeriodEnd(sub *models.Subscription, paidAt time.Time, next *time.Time) time.Time {
	if next != nil && !next.IsZero() {
		return *next
	}
	base := paidAt
	if sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(base) {
		base = *sub.CurrentPeriodEnd
	}
	return sub.Interval.After(base)
}

// Disable cancels the subscription after a subscription.disable event.
func (s *Service) Disable(ctx context.Context, tx *gorm.DB, code string, at time.Time) (*models.Subscription, Outcome, error) {
	return s.simpleTransition(ctx, tx, code, EventDisable, OutcomeCancelled, map[string]any{"cancelled_at": at})
}

// Fail marks the subscription failed after an invoice or charge failure.
func (s *Service) Fail(ctx context.Context, tx *gorm.DB, code string, at time.Time) (*models.Subscription, Outcome, error) {
	return s.simpleTransition(ctx, tx, code, EventFail, OutcomeFailed, map[string]any{"failed_at": at})
}

func (s *Service) simpleTransition(ctx context.Context, tx *gorm.DB, code string, ev Event, outcome Outcome, changes map[string]any) (*models.Subscription, Outcome, error) {
	repo := s.repo.WithTx(tx)
	sub, err := repo.FindByCode(ctx, code)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	if sub == nil {
		return nil, OutcomeNotFound, nil
	}
	to, err := Next(sub.Status, ev)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "subscription_code", code), err.Error())
		return sub, OutcomeRejected, nil
	}
	if to == sub.Status {
		return sub, outcome, nil
	}
	changes["status"] = to
	if err := s.apply(ctx, repo, sub, changes); err != nil {
		return nil, "", err
	}
	sub.Status = to
	return sub, outcome, nil
}

// SetNextPaymentDate records the processor's schedule from subscription.create
// without touching the status.
func (s *Service) SetNextPaymentDate(ctx context.Context, tx *gorm.DB, code string, next *time.Time) (Outcome, error) {
	repo := s.repo.WithTx(tx)
	sub, err := repo.FindByCode(ctx, code)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load subscription")
	}
	if sub == nil {
		return OutcomeNotFound, nil
	}
	if next == nil || IsTerminal(sub.Status) {
		return OutcomeUpdated, nil
	}
	if err := s.apply(ctx, repo, sub, map[string]any{"next_payment_date": *next}); err != nil {
		return "", err
	}
	return OutcomeUpdated, nil
}

func (s *Service) apply(ctx context.Context, repo Repository, sub *models.Subscription, changes map[string]any) error {
	changes["updated_at"] = s.now()
	err := repo.Transition(ctx, sub.ID, sub.Status, changes)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStaleState), errors.Is(err, ErrActiveExists):
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, fmt.Sprintf("update subscription %s", sub.ID))
	default:
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update subscription")
	}
}

// SyncResult summarizes one reconciliation pass over a subscription.
type SyncResult struct {
	StatusChanged bool
	DatesChanged  bool
}

// Sync pulls the processor's view of sub and applies it. Status is only ever
// raised to active, through the same table the webhooks use, and never for a
// cancelled or expired row; dates follow the processor whenever it reports
// them.
func (s *Service) Sync(ctx context.Context, sub models.Subscription) (SyncResult, error) {
	if sub.SubscriptionCode == nil || *sub.SubscriptionCode == "" {
		return SyncResult{}, nil
	}
	remote, err := s.provider.FetchSubscription(ctx, *sub.SubscriptionCode)
	if err != nil {
		return SyncResult{}, fmt.Errorf("fetch %s: %w", *sub.SubscriptionCode, err)
	}

	now := s.now()
	changes := map[string]any{"last_synced_at": now}
	var result SyncResult

	if remote.NextPaymentDate != nil && !sameTime(sub.NextPaymentDate, remote.NextPaymentDate) {
		changes["next_payment_date"] = *remote.NextPaymentDate
		changes["current_period_end"] = *remote.NextPaymentDate
		result.DatesChanged = true
	}
	if remote.IsActive() && sub.Status != enums.SubscriptionStatusActive && !IsTerminal(sub.Status) {
		to, err := Next(sub.Status, EventSyncActive)
		if err != nil {
			return SyncResult{}, err
		}
		changes["status"] = to
		changes["failed_at"] = nil
		result.StatusChanged = true
	}

	if err := s.apply(ctx, s.repo, &sub, changes); err != nil {
		return SyncResult{}, err
	}
	return result, nil
}

// ListForSync exposes paging for the reconciliation job.
func (s *Service) ListForSync(ctx context.Context, after uuid.UUID, limit int) ([]models.Subscription, error) {
	return s.repo.ListForSync(ctx, after, limit)
}

// ExpireOverdue moves active subscriptions whose period ended more than grace
// ago to expired. It never calls the processor.
func (s *Service) ExpireOverdue(ctx context.Context, grace time.Duration) (int64, error) {
	now := s.now()
	return s.repo.ExpireOverdue(ctx, now.Add(-grace), now)
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func intervalOrDefault(i enums.BillingInterval) enums.BillingInterval {
	if i.IsValid() {
		return i
	}
	return enums.BillingIntervalMonthly
}

// PendingInput describes a checkout that will become a subscription once
// the first charge succeeds.
type PendingInput struct {
	UserID     string
	PlanID     string
	CoachID    string
	CategoryID string
	Interval   enums.BillingInterval
}

// EnsurePending returns the retryable row for the user and plan, inserting a
// pending one when none exists. It fails with CodeConflict when the user is
// already subscribed to the plan.
func (s *Service) EnsurePending(ctx context.Context, in PendingInput) (*models.Subscription, error) {
	active, err := s.repo.FindActive(ctx, in.UserID, in.PlanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load active subscription")
	}
	if active != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "user already has an active subscription for this plan")
	}
	retry, err := s.repo.FindRetryable(ctx, in.UserID, in.PlanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load retryable subscription")
	}
	if retry != nil {
		return retry, nil
	}
	sub := &models.Subscription{
		UserID:     in.UserID,
		PlanID:     in.PlanID,
		CoachID:    in.CoachID,
		CategoryID: in.CategoryID,
		Interval:   intervalOrDefault(in.Interval),
		Status:     enums.SubscriptionStatusPending,
		StartDate:  s.now(),
	}
	if err := s.repo.Insert(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert pending subscription")
	}
	return sub, nil
}
