package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/coachly/fitcoach-backend/api/responses"
	paystackwebhook "github.com/coachly/fitcoach-backend/internal/webhooks/paystack"
	pkgerrors "github.com/coachly/fitcoach-backend/pkg/errors"
	"github.com/coachly/fitcoach-backend/pkg/logger"
	"github.com/coachly/fitcoach-backend/pkg/paystack"
)

const defaultMaxBodyBytes = 1 << 20

type PaystackWebhookService interface {
	HandleEvent(ctx context.Context, ev *paystackwebhook.Event) (paystackwebhook.Outcome, error)
}

// PaystackWebhookGuard remembers keys whose events were already handled.
type PaystackWebhookGuard interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

type PaystackWebhookParams struct {
	Service      PaystackWebhookService
	Guard        PaystackWebhookGuard
	SecretKey    string
	MaxBodyBytes int64
	Logger       *logger.Logger
}

type webhookAck struct {
	Status string `json:"status"`
}

// PaystackWebhook verifies and applies Paystack event deliveries. Anything
// handled, including duplicates and events we do not act on, is answered 200;
// only signature failures and retryable errors are not.
func PaystackWebhook(params PaystackWebhookParams) http.HandlerFunc {
	svc, guard, logg := params.Service, params.Guard, params.Logger
	limit := params.MaxBodyBytes
	if limit <= 0 {
		limit = defaultMaxBodyBytes
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if params.SecretKey == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "paystack secret unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payload too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		if !paystack.VerifySignature(params.SecretKey, payload, r.Header.Get(paystack.SignatureHeader)) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature"))
			return
		}

		ev, err := paystackwebhook.Decode(payload)
		if err != nil {
			if logg != nil {
				logg.Warn(logg.WithField(ctx, "event", "paystack.malformed"), "malformed webhook acknowledged: "+err.Error())
			}
			responses.WriteJSON(w, http.StatusOK, webhookAck{Status: string(paystackwebhook.OutcomeIgnored)})
			return
		}
		key := ev.IdempotencyKey()
		if logg != nil {
			ctx = logg.WithPaymentEvent(ctx, ev.Name, key)
		}

		if guard != nil {
			seen, err := guard.Seen(ctx, key)
			if err != nil {
				// the ledger still deduplicates; the cache is only a fast path
				if logg != nil {
					logg.Warn(ctx, "idempotency cache unavailable: "+err.Error())
				}
			} else if seen {
				responses.WriteJSON(w, http.StatusOK, webhookAck{Status: string(paystackwebhook.OutcomeDuplicate)})
				return
			}
		}

		outcome, err := svc.HandleEvent(ctx, ev)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		// marked only once handled; the caller may already have hung up
		if guard != nil {
			if err := guard.Mark(context.WithoutCancel(ctx), key); err != nil && logg != nil {
				logg.Warn(ctx, "failed to mark webhook handled: "+err.Error())
			}
		}

		responses.WriteJSON(w, http.StatusOK, webhookAck{Status: string(outcome)})
	}
}
