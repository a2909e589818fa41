package paystackwebhook

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/coachly/fitcoach-backend/internal/coupons"
	"github.com/coachly/fitcoach-backend/internal/ledger"
	"github.com/coachly/fitcoach-backend/internal/notifications"
	"github.com/coachly/fitcoach-backend/internal/orders"
	"github.com/coachly/fitcoach-backend/internal/subscriptions"
	"github.com/coachly/fitcoach-backend/pkg/db/models"
	"github.com/coachly/fitcoach-backend/pkg/enums"
	pkgerrors "github.com/coachly/fitcoach-backend/pkg/errors"
	"github.com/coachly/fitcoach-backend/pkg/logger"
	"github.com/coachly/fitcoach-backend/pkg/metrics"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Outcome is how an acknowledged delivery was handled.
type Outcome string

const (
	OutcomeProcessed    Outcome = "processed"
	OutcomeRecorded     Outcome = "recorded"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeIgnored      Outcome = "ignored"
	OutcomePrecondition Outcome = "precondition"
	OutcomeNotFound     Outcome = "not_found"
)

type subscriptionService interface {
	Activate(ctx context.Context, tx *gorm.DB, in subscriptions.ActivateInput) (*models.Subscription, subscriptions.Outcome, error)
	Renew(ctx context.Context, tx *gorm.DB, in subscriptions.RenewInput) (*models.Subscription, subscriptions.Outcome, error)
	Disable(ctx context.Context, tx *gorm.DB, code string, at time.Time) (*models.Subscription, subscriptions.Outcome, error)
	Fail(ctx context.Context, tx *gorm.DB, code string, at time.Time) (*models.Subscription, subscriptions.Outcome, error)
	SetNextPaymentDate(ctx context.Context, tx *gorm.DB, code string, next *time.Time) (subscriptions.Outcome, error)
}

type couponIssuer interface {
	Issue(ctx context.Context, tx *gorm.DB, in coupons.IssueInput) (*models.Coupon, bool, error)
}

type orderUpdater interface {
	MarkPaid(ctx context.Context, tx *gorm.DB, in orders.MarkPaidInput) (*models.Order, orders.Result, error)
}

type notifier interface {
	Dispatch(ctx context.Context, msg notifications.Message)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type ServiceParams struct {
	Ledger            ledger.Repository
	Subscriptions     subscriptionService
	Coupons           couponIssuer
	Orders            orderUpdater
	Notifier          notifier
	TransactionRunner txRunner
	Metrics           *metrics.WebhookMetrics
	Logger            *logger.Logger
	Now               func() time.Time
}

// Service applies verified Paystack events. The ledger row and the business
// effect commit together; notifications go out only after the commit.
type Service struct {
	ledger        ledger.Repository
	subscriptions subscriptionService
	coupons       couponIssuer
	orders        orderUpdater
	notifier      notifier
	txRunner      txRunner
	metrics       *metrics.WebhookMetrics
	logg          *logger.Logger
	now           func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repo required")
	}
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription service required")
	}
	if params.Coupons == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "coupon issuer required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order updater required")
	}
	if params.Notifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "notifier required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		ledger:        params.Ledger,
		subscriptions: params.Subscriptions,
		coupons:       params.Coupons,
		orders:        params.Orders,
		notifier:      params.Notifier,
		txRunner:      params.TransactionRunner,
		metrics:       params.Metrics,
		logg:          params.Logger,
		now:           now,
	}, nil
}

type route int

const (
	routeIgnore route = iota
	routeCharge
	routeSubscriptionCreate
	routeRenew
	routeDisable
	routeFail
)

func routeFor(name string) route {
	switch name {
	case EventChargeSuccess:
		return routeCharge
	case EventSubscriptionCreate:
		return routeSubscriptionCreate
	case EventSubscriptionChargeSuccess:
		return routeRenew
	case EventSubscriptionDisable, EventSubscriptionNotRenew:
		return routeDisable
	case EventInvoicePaymentFailed, EventChargeFailed:
		return routeFail
	default:
		return routeIgnore
	}
}

// HandleEvent records ev in the ledger and applies it in one transaction.
// A returned error means nothing was committed and the delivery should be
// retried by the processor.
func (s *Service) HandleEvent(ctx context.Context, ev *Event) (Outcome, error) {
	if ev == nil {
		return OutcomeIgnored, nil
	}
	key := ev.IdempotencyKey()
	ctx = s.logg.WithPaymentEvent(ctx, ev.Name, key)

	r := routeFor(ev.Name)
	if r == routeIgnore {
		s.logg.Debug(ctx, "paystack event ignored")
		s.metrics.Observe(ev.Name, string(OutcomeIgnored))
		return OutcomeIgnored, nil
	}

	var (
		outcome Outcome
		outbox  []notifications.Message
	)
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.ledger.WithTx(tx).Record(ctx, s.ledgerRow(ev, key)); err != nil {
			if errors.Is(err, ledger.ErrDuplicateReference) {
				outcome = OutcomeDuplicate
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record payment event")
		}
		var err error
		outcome, outbox, err = s.apply(ctx, tx, r, ev)
		return err
	})
	if err != nil {
		s.metrics.Observe(ev.Name, "error")
		return "", err
	}

	for _, msg := range outbox {
		s.notifier.Dispatch(ctx, msg)
	}
	s.metrics.Observe(ev.Name, string(outcome))
	s.logg.Info(s.logg.WithField(ctx, "outcome", string(outcome)), "paystack event handled")
	return outcome, nil
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, r route, ev *Event) (Outcome, []notifications.Message, error) {
	at := ev.PaidAt(s.now())
	switch r {
	case routeCharge:
		return s.applyCharge(ctx, tx, ev)
	case routeRenew:
		return s.renew(ctx, tx, ev)
	case routeSubscriptionCreate:
		code := ev.SubscriptionCode()
		if code == "" {
			return OutcomeRecorded, nil, nil
		}
		result, err := s.subscriptions.SetNextPaymentDate(ctx, tx, code, ev.Data.NextPaymentDate)
		if err != nil {
			return "", nil, err
		}
		return fromSubscriptionOutcome(result), nil, nil
	case routeDisable:
		code := ev.SubscriptionCode()
		if code == "" {
			return OutcomeRecorded, nil, nil
		}
		sub, result, err := s.subscriptions.Disable(ctx, tx, code, at)
		if err != nil {
			return "", nil, err
		}
		if result == subscriptions.OutcomeCancelled {
			return OutcomeProcessed, []notifications.Message{notifications.SubscriptionCancelled(*sub)}, nil
		}
		return fromSubscriptionOutcome(result), nil, nil
	case routeFail:
		code := ev.SubscriptionCode()
		if code == "" {
			return OutcomeRecorded, nil, nil
		}
		sub, result, err := s.subscriptions.Fail(ctx, tx, code, at)
		if err != nil {
			return "", nil, err
		}
		if result == subscriptions.OutcomeFailed {
			return OutcomeProcessed, []notifications.Message{notifications.SubscriptionFailed(*sub)}, nil
		}
		return fromSubscriptionOutcome(result), nil, nil
	}
	return OutcomeIgnored, nil, nil
}

// applyCharge routes charge.success by metadata type. A charge that carries
// a known subscription code is a renewal whatever its metadata says.
func (s *Service) applyCharge(ctx context.Context, tx *gorm.DB, ev *Event) (Outcome, []notifications.Message, error) {
	md := ev.Data.Metadata
	switch md.Kind {
	case enums.PaymentEventTypeOrder:
		return s.markOrderPaid(ctx, tx, ev)
	case enums.PaymentEventTypeGiftSubscription:
		return s.issueGift(ctx, tx, ev)
	}

	if ev.Data.SubscriptionCode != "" {
		outcome, msgs, err := s.renew(ctx, tx, ev)
		if err != nil || outcome != OutcomeNotFound || md.Kind != enums.PaymentEventTypeSubscription {
			return outcome, msgs, err
		}
	}

	if md.Kind != enums.PaymentEventTypeSubscription {
		s.logg.Info(ctx, "charge without actionable metadata recorded")
		return OutcomeRecorded, nil, nil
	}
	if !ev.Reusable() {
		s.logg.Warn(ctx, "subscription charge without reusable authorization; recorded only")
		return OutcomeRecorded, nil, nil
	}
	return s.activate(ctx, tx, ev)
}

func (s *Service) markOrderPaid(ctx context.Context, tx *gorm.DB, ev *Event) (Outcome, []notifications.Message, error) {
	order, result, err := s.orders.MarkPaid(ctx, tx, orders.MarkPaidInput{
		OrderID:   ev.Data.Metadata.Order.OrderID,
		Reference: ev.Data.Reference,
		PaidAt:    ev.PaidAt(s.now()),
		Channel:   ev.Data.Channel,
	})
	if err != nil {
		return "", nil, err
	}
	switch result {
	case orders.ResultPaid:
		return OutcomeProcessed, []notifications.Message{notifications.OrderPaid(*order, ev.CustomerEmail(), ev.Data.Amount)}, nil
	case orders.ResultNotFound:
		return OutcomeNotFound, nil, nil
	default:
		return OutcomePrecondition, nil, nil
	}
}

func (s *Service) issueGift(ctx context.Context, tx *gorm.DB, ev *Event) (Outcome, []notifications.Message, error) {
	gift := ev.Data.Metadata.Gift
	in := coupons.IssueInput{
		Reference:      ev.Data.Reference,
		PayerUserID:    ev.Data.Metadata.UserID,
		CoachID:        gift.CoachID,
		PlanID:         firstNonEmpty(gift.PlanID, planCode(ev)),
		CategoryID:     gift.CategoryID,
		Duration:       parseInterval(gift.Duration, ev),
		RecipientEmail: gift.RecipientEmail,
		RecipientPhone: gift.RecipientPhone,
	}
	if in.Reference == "" {
		in.Reference = ev.IdempotencyKey()
	}
	if ev.Data.Authorization != nil {
		in.AuthorizationCode = ev.Data.Authorization.AuthorizationCode
	}
	if ev.Data.Customer != nil {
		in.CustomerCode = ev.Data.Customer.CustomerCode
	}
	in.SubscriptionCode = ev.Data.SubscriptionCode

	coupon, created, err := s.coupons.Issue(ctx, tx, in)
	if err != nil {
		return "", nil, err
	}
	if !created {
		return OutcomePrecondition, nil, nil
	}
	return OutcomeProcessed, []notifications.Message{notifications.GiftIssued(*coupon)}, nil
}

func (s *Service) activate(ctx context.Context, tx *gorm.DB, ev *Event) (Outcome, []notifications.Message, error) {
	md := ev.Data.Metadata
	in := subscriptions.ActivateInput{
		UserID:            md.UserID,
		PlanID:            firstNonEmpty(md.Subscription.PlanID, planCode(ev)),
		CoachID:           md.Subscription.CoachID,
		CategoryID:        md.Subscription.CategoryID,
		Interval:          parseInterval(md.Subscription.Interval, ev),
		AuthorizationCode: ev.Data.Authorization.AuthorizationCode,
		Reference:         ev.Data.Reference,
		PaidAt:            ev.PaidAt(s.now()),
	}
	if c := ev.Data.Customer; c != nil {
		in.CustomerCode = c.CustomerCode
		if c.ID != 0 {
			in.CustomerID = strconv.FormatInt(c.ID, 10)
		}
	}

	sub, result, err := s.subscriptions.Activate(ctx, tx, in)
	if err != nil {
		return "", nil, err
	}
	switch result {
	case subscriptions.OutcomeCreated, subscriptions.OutcomeReactivated:
		return OutcomeProcessed, []notifications.Message{notifications.SubscriptionActivated(*sub, ev.CustomerEmail())}, nil
	default:
		return fromSubscriptionOutcome(result), nil, nil
	}
}

func (s *Service) renew(ctx context.Context, tx *gorm.DB, ev *Event) (Outcome, []notifications.Message, error) {
	code := ev.SubscriptionCode()
	if code == "" {
		s.logg.Warn(ctx, "renewal without subscription code recorded only")
		return OutcomeRecorded, nil, nil
	}
	_, result, err := s.subscriptions.Renew(ctx, tx, subscriptions.RenewInput{
		SubscriptionCode: code,
		Reference:        ev.Data.Reference,
		PaidAt:           ev.PaidAt(s.now()),
		NextPaymentDate:  ev.Data.NextPaymentDate,
	})
	if err != nil {
		return "", nil, err
	}
	return fromSubscriptionOutcome(result), nil, nil
}

func (s *Service) ledgerRow(ev *Event, key string) *models.PaymentEvent {
	row := &models.PaymentEvent{
		Reference: key,
		Event:     ev.Name,
		Amount:    ev.Data.Amount,
		Currency:  ev.Data.Currency,
		Status:    enums.PaymentEventStatusSuccess,
		Channel:   ev.Data.Channel,
		PaidAt:    ev.Data.PaidAt,
	}
	if r := routeFor(ev.Name); r == routeFail {
		row.Status = enums.PaymentEventStatusFailed
	}
	md := ev.Data.Metadata
	if md.UserID != "" {
		userID := md.UserID
		row.UserID = &userID
	}
	if md.Kind.IsValid() {
		kind := md.Kind
		row.Type = &kind
	}
	if len(md.Raw) > 0 {
		row.Metadata = datatypes.JSON(md.Raw)
	}
	return row
}

func fromSubscriptionOutcome(o subscriptions.Outcome) Outcome {
	switch o {
	case subscriptions.OutcomeNotFound:
		return OutcomeNotFound
	case subscriptions.OutcomeAlreadyActive, subscriptions.OutcomeRejected:
		return OutcomePrecondition
	default:
		return OutcomeProcessed
	}
}

func planCode(ev *Event) string {
	if ev.Data.Plan == nil {
		return ""
	}
	return ev.Data.Plan.PlanCode
}

func parseInterval(value string, ev *Event) enums.BillingInterval {
	if i, err := enums.ParseBillingInterval(value); err == nil {
		return i
	}
	if ev.Data.Plan != nil {
		if i, err := enums.ParseBillingInterval(ev.Data.Plan.Interval); err == nil {
			return i
		}
	}
	return enums.BillingIntervalMonthly
}
