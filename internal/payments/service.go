package payments

import (
	"context"
	"strings"

	"github.com/coachly/fitcoach-backend/internal/subscriptions"
	"github.com/coachly/fitcoach-backend/pkg/db/models"
	"github.com/coachly/fitcoach-backend/pkg/enums"
	pkgerrors "github.com/coachly/fitcoach-backend/pkg/errors"
	"github.com/coachly/fitcoach-backend/pkg/logger"
	"github.com/coachly/fitcoach-backend/pkg/paystack"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type transactionInitializer interface {
	InitializeTransaction(ctx context.Context, params paystack.InitializeParams) (*paystack.InitializeResult, error)
}

type pendingSubscriptions interface {
	EnsurePending(ctx context.Context, in subscriptions.PendingInput) (*models.Subscription, error)
}

type ServiceParams struct {
	Provider      transactionInitializer
	Subscriptions pendingSubscriptions
	Logger        *logger.Logger
	Currency      string
	CallbackURL   string
}

// Service starts Paystack checkouts and stamps them with the metadata the
// webhook later routes on.
type Service struct {
	provider      transactionInitializer
	subscriptions pendingSubscriptions
	logg          *logger.Logger
	currency      string
	callbackURL   string
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "paystack provider required")
	}
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		provider:      params.Provider,
		subscriptions: params.Subscriptions,
		logg:          params.Logger,
		currency:      params.Currency,
		callbackURL:   params.CallbackURL,
	}, nil
}

type GiftInput struct {
	RecipientEmail string
	RecipientPhone string
	Duration       enums.BillingInterval
}

// InitializeInput is a checkout request. Amount is in naira.
type InitializeInput struct {
	UserID     string
	Email      string
	Amount     decimal.Decimal
	Type       enums.PaymentEventType
	PlanID     string
	CategoryID string
	CoachID    string
	OrderID    string
	Interval   enums.BillingInterval
	IsGift     bool
	Gift       *GiftInput
}

type InitializeResult struct {
	AuthorizationURL string `json:"authorizationUrl"`
	AccessCode       string `json:"accessCode"`
	Reference        string `json:"reference"`
}

func (s *Service) Initialize(ctx context.Context, in InitializeInput) (*InitializeResult, error) {
	kind := in.Type
	if kind == enums.PaymentEventTypeSubscription && in.IsGift {
		kind = enums.PaymentEventTypeGiftSubscription
	}
	amount, err := toKobo(in.Amount)
	if err != nil {
		return nil, err
	}
	metadata, err := buildMetadata(kind, in)
	if err != nil {
		return nil, err
	}

	if kind == enums.PaymentEventTypeSubscription {
		if _, err := s.subscriptions.EnsurePending(ctx, subscriptions.PendingInput{
			UserID:     in.UserID,
			PlanID:     in.PlanID,
			CoachID:    in.CoachID,
			CategoryID: in.CategoryID,
			Interval:   in.Interval,
		}); err != nil {
			return nil, err
		}
	}

	reference := newReference()
	res, err := s.provider.InitializeTransaction(ctx, paystack.InitializeParams{
		Email:       strings.TrimSpace(in.Email),
		Amount:      amount,
		Currency:    s.currency,
		Reference:   reference,
		CallbackURL: s.callbackURL,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "initialize paystack transaction")
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"reference": res.Reference, "type": string(kind)}), "paystack transaction initialized")
	return &InitializeResult{
		AuthorizationURL: res.AuthorizationURL,
		AccessCode:       res.AccessCode,
		Reference:        res.Reference,
	}, nil
}

// toKobo converts major units to the minor unit Paystack charges in.
func toKobo(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	kobo := amount.Shift(2)
	if !kobo.Equal(kobo.Truncate(0)) {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "amount has more than two decimal places")
	}
	return kobo.IntPart(), nil
}

func buildMetadata(kind enums.PaymentEventType, in InitializeInput) (map[string]any, error) {
	md := map[string]any{"type": string(kind), "userId": in.UserID}
	switch kind {
	case enums.PaymentEventTypeOrder:
		if in.OrderID == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "orderId required for order payments")
		}
		md["orderId"] = in.OrderID
	case enums.PaymentEventTypeSubscription:
		if in.PlanID == "" || in.CategoryID == "" || in.CoachID == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "planId, categoryId and coachId required for subscriptions")
		}
		md["planId"] = in.PlanID
		md["categoryId"] = in.CategoryID
		md["coachId"] = in.CoachID
		md["isGift"] = false
		if in.Interval.IsValid() {
			md["interval"] = string(in.Interval)
		}
	case enums.PaymentEventTypeGiftSubscription:
		if in.PlanID == "" || in.CoachID == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "planId and coachId required for gifts")
		}
		if in.Gift == nil || strings.TrimSpace(in.Gift.RecipientEmail) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "gift recipientEmail required")
		}
		duration := in.Gift.Duration
		if !duration.IsValid() {
			duration = enums.BillingIntervalMonthly
		}
		md["planId"] = in.PlanID
		md["categoryId"] = in.CategoryID
		md["coachId"] = in.CoachID
		md["isGift"] = true
		md["gift"] = map[string]any{
			"recipientEmail": strings.TrimSpace(in.Gift.RecipientEmail),
			"recipientPhone": strings.TrimSpace(in.Gift.RecipientPhone),
			"duration":       string(duration),
		}
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment type")
	}
	return md, nil
}

func newReference() string {
	return "fc_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
