package orders

import (
	"context"
	"strings"
	"time"

	"github.com/coachly/fitcoach-backend/pkg/db/models"
	pkgerrors "github.com/coachly/fitcoach-backend/pkg/errors"
	"github.com/coachly/fitcoach-backend/pkg/logger"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Result reports what MarkPaid did.
type Result string

const (
	ResultPaid        Result = "paid"
	ResultAlreadyPaid Result = "already_paid"
	ResultNotFound    Result = "not_found"
)

type ServiceParams struct {
	Repo   Repository
	Logger *logger.Logger
	Now    func() time.Time
}

// Service records successful order payments.
type Service struct {
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repository required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{repo: params.Repo, logg: params.Logger, now: now}, nil
}

// MarkPaidInput identifies the order and the charge that paid it.
type MarkPaidInput struct {
	OrderID   string
	Reference string
	PaidAt    time.Time
	Channel   string
}

// MarkPaid is idempotent: an order already in success keeps its original
// reference and date and ResultAlreadyPaid is returned.
func (s *Service) MarkPaid(ctx context.Context, tx *gorm.DB, in MarkPaidInput) (*models.Order, Result, error) {
	raw := strings.TrimSpace(in.OrderID)
	if raw == "" {
		return nil, "", pkgerrors.New(pkgerrors.CodeValidation, "orderId missing from payment metadata")
	}
	ctx = s.logg.WithField(ctx, "order_id", raw)
	id, err := uuid.Parse(raw)
	if err != nil {
		s.logg.Warn(ctx, "order id is not a uuid")
		return nil, ResultNotFound, nil
	}

	paidAt := in.PaidAt
	if paidAt.IsZero() {
		paidAt = s.now()
	}
	method := in.Channel
	if method == "" {
		method = "paystack"
	}

	repo := s.repo.WithTx(tx)
	changed, err := repo.MarkPaid(ctx, id, PaymentUpdate{Reference: in.Reference, PaidAt: paidAt, Method: method})
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark order paid")
	}
	order, err := repo.FindByID(ctx, id)
	if err != nil {
		return nil, "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	if order == nil {
		s.logg.Warn(ctx, "order not found for payment")
		return nil, ResultNotFound, nil
	}
	if !changed {
		s.logg.Info(ctx, "order already paid")
		return order, ResultAlreadyPaid, nil
	}
	s.logg.Info(ctx, "order marked paid")
	return order, ResultPaid, nil
}
