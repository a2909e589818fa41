package coupons

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/coachly/fitcoach-backend/pkg/db/models"
	"github.com/coachly/fitcoach-backend/pkg/enums"
	pkgerrors "github.com/coachly/fitcoach-backend/pkg/errors"
	"github.com/coachly/fitcoach-backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const maxCodeAttempts = 5

type IssuerParams struct {
	Repo     Repository
	Logger   *logger.Logger
	Now      func() time.Time
	Generate func() (string, error)
}

// Issuer mints gift coupons. It never creates a subscription.
type Issuer struct {
	repo     Repository
	logg     *logger.Logger
	now      func() time.Time
	generate func() (string, error)
}

func NewIssuer(params IssuerParams) (*Issuer, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "coupon repository required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	issuer := &Issuer{repo: params.Repo, logg: params.Logger, now: params.Now, generate: params.Generate}
	if issuer.now == nil {
		issuer.now = time.Now
	}
	if issuer.generate == nil {
		issuer.generate = GenerateCode
	}
	return issuer, nil
}

// IssueInput is one paid gift.
type IssueInput struct {
	Reference         string
	PayerUserID       string
	CoachID           string
	PlanID            string
	CategoryID        string
	Duration          enums.BillingInterval
	RecipientEmail    string
	RecipientPhone    string
	AuthorizationCode string
	CustomerCode      string
	SubscriptionCode  string
}

func (in IssueInput) validate() error {
	var missing []string
	for _, f := range [][2]string{
		{"reference", in.Reference},
		{"userId", in.PayerUserID},
		{"coachId", in.CoachID},
		{"planId", in.PlanID},
		{"recipientEmail", in.RecipientEmail},
	} {
		if strings.TrimSpace(f[1]) == "" {
			missing = append(missing, f[0])
		}
	}
	if len(missing) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "gift metadata incomplete").
			WithDetails(map[string]any{"missing": missing})
	}
	return nil
}

// Issue creates one unused coupon for the payment reference. created is false
// when the reference already produced a coupon, in which case that coupon is
// returned unchanged.
func (i *Issuer) Issue(ctx context.Context, tx *gorm.DB, in IssueInput) (coupon *models.Coupon, created bool, err error) {
	if err := in.validate(); err != nil {
		return nil, false, err
	}
	duration := in.Duration
	if !duration.IsValid() {
		duration = enums.BillingIntervalMonthly
	}
	repo := i.repo.WithTx(tx)
	issuedAt := i.now()

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := i.generate()
		if err != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate coupon code")
		}
		coupon := &models.Coupon{
			ID:                uuid.New(),
			Code:              code,
			Reference:         in.Reference,
			CoachID:           in.CoachID,
			PlanID:            in.PlanID,
			CategoryID:        in.CategoryID,
			Duration:          duration,
			GiftedByUserID:    in.PayerUserID,
			RecipientEmail:    strings.TrimSpace(in.RecipientEmail),
			RecipientPhone:    optional(in.RecipientPhone),
			ExpiresAt:         duration.After(issuedAt),
			AuthorizationCode: in.AuthorizationCode,
			CustomerCode:      in.CustomerCode,
			SubscriptionCode:  optional(in.SubscriptionCode),
		}
		err = repo.Insert(ctx, coupon)
		if err == nil {
			i.logg.Info(i.logg.WithFields(ctx, map[string]any{"coupon_id": coupon.ID.String(), "reference": in.Reference}), "gift coupon issued")
			return coupon, true, nil
		}
		if !errors.Is(err, errNotInserted) {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "insert coupon")
		}

		existing, err := repo.FindByReference(ctx, in.Reference)
		if err != nil {
			return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load coupon")
		}
		if existing != nil {
			return existing, false, nil
		}
		i.logg.Warn(ctx, "coupon code collision; regenerating")
	}
	return nil, false, pkgerrors.New(pkgerrors.CodeInternal, "could not allocate a unique coupon code")
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
