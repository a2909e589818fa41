package payments

import (
	"context"
	"net/http"

	"github.com/coachly/fitcoach-backend/api/middleware"
	"github.com/coachly/fitcoach-backend/api/responses"
	"github.com/coachly/fitcoach-backend/api/validators"
	paymentsvc "github.com/coachly/fitcoach-backend/internal/payments"
	"github.com/coachly/fitcoach-backend/pkg/enums"
	pkgerrors "github.com/coachly/fitcoach-backend/pkg/errors"
	"github.com/coachly/fitcoach-backend/pkg/logger"
	"github.com/shopspring/decimal"
)

type initializer interface {
	Initialize(ctx context.Context, in paymentsvc.InitializeInput) (*paymentsvc.InitializeResult, error)
}

type giftRequest struct {
	RecipientEmail string `json:"recipientEmail" validate:"required,email"`
	RecipientPhone string `json:"recipientPhone" validate:"omitempty,e164"`
	Duration       string `json:"duration" validate:"omitempty,oneof=monthly yearly"`
}

type initializeRequest struct {
	Type       string          `json:"type" validate:"required,oneof=order subscription gift_subscription"`
	Amount     decimal.Decimal `json:"amount"`
	Email      string          `json:"email" validate:"omitempty,email"`
	OrderID    string          `json:"orderId" validate:"omitempty,uuid"`
	PlanID     string          `json:"planId" validate:"max=128"`
	CategoryID string          `json:"categoryId" validate:"max=128"`
	CoachID    string          `json:"coachId" validate:"max=128"`
	Interval   string          `json:"interval" validate:"omitempty,oneof=monthly yearly"`
	IsGift     bool            `json:"isGift"`
	Gift       *giftRequest    `json:"gift" validate:"omitempty"`
}

// Initialize starts a Paystack checkout for the signed-in user.
func Initialize(svc initializer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := middleware.UserIDFromContext(ctx)
		if userID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		var req initializeRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		email := validators.SanitizeString(req.Email, 254)
		if email == "" {
			email = middleware.EmailFromContext(ctx)
		}
		if email == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "email required").
				WithDetails(map[string]string{"email": "is required"}))
			return
		}

		in := paymentsvc.InitializeInput{
			UserID:     userID,
			Email:      email,
			Amount:     req.Amount,
			Type:       enums.PaymentEventType(req.Type),
			PlanID:     validators.SanitizeString(req.PlanID, 128),
			CategoryID: validators.SanitizeString(req.CategoryID, 128),
			CoachID:    validators.SanitizeString(req.CoachID, 128),
			OrderID:    req.OrderID,
			Interval:   enums.BillingInterval(req.Interval),
			IsGift:     req.IsGift || req.Type == string(enums.PaymentEventTypeGiftSubscription),
		}
		if req.Gift != nil {
			in.Gift = &paymentsvc.GiftInput{
				RecipientEmail: req.Gift.RecipientEmail,
				RecipientPhone: req.Gift.RecipientPhone,
				Duration:       enums.BillingInterval(req.Gift.Duration),
			}
		}
		if in.IsGift {
			in.Type = enums.PaymentEventTypeSubscription
		}

		res, err := svc.Initialize(ctx, in)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, res)
	}
}
