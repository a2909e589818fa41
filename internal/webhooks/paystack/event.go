package paystackwebhook

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/coachly/fitcoach-backend/pkg/paystack"
)

// Event names the dispatcher understands.
const (
	EventChargeSuccess             = "charge.success"
	EventChargeFailed              = "charge.failed"
	EventSubscriptionCreate        = "subscription.create"
	EventSubscriptionChargeSuccess = "subscription.charge.success"
	EventSubscriptionDisable       = "subscription.disable"
	EventSubscriptionNotRenew      = "subscription.not_renew"
	EventInvoicePaymentFailed      = "invoice.payment_failed"
)

// ErrMalformed marks a payload without an event name or data object. Such
// deliveries are acknowledged and dropped.
var ErrMalformed = errors.New("malformed paystack event")

// Event is a decoded webhook delivery.
type Event struct {
	Name string
	Data Data
	raw  json.RawMessage
}

// Data holds the fields of data the dispatcher reads. Paystack varies the
// shape per event, so each field is optional.
type Data struct {
	ID               int64
	Reference        string
	Status           string
	Amount           int64
	Currency         string
	Channel          string
	PaidAt           *time.Time
	CreatedAt        *time.Time
	SubscriptionCode string
	EmailToken       string
	NextPaymentDate  *time.Time
	Customer         *paystack.Customer
	Authorization    *paystack.Authorization
	Plan             *paystack.Plan
	Metadata         Metadata
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type wireData struct {
	ID               int64           `json:"id"`
	Reference        string          `json:"reference"`
	Status           string          `json:"status"`
	Amount           int64           `json:"amount"`
	Currency         string          `json:"currency"`
	Channel          string          `json:"channel"`
	PaidAt           flexTime        `json:"paid_at"`
	PaidAtCamel      flexTime        `json:"paidAt"`
	CreatedAt        flexTime        `json:"created_at"`
	CreatedAtCamel   flexTime        `json:"createdAt"`
	SubscriptionCode string          `json:"subscription_code"`
	EmailToken       string          `json:"email_token"`
	NextPaymentDate  flexTime        `json:"next_payment_date"`
	Customer         json.RawMessage `json:"customer"`
	Authorization    json.RawMessage `json:"authorization"`
	Plan             json.RawMessage `json:"plan"`
	Subscription     json.RawMessage `json:"subscription"`
	Transaction      json.RawMessage `json:"transaction"`
	Metadata         json.RawMessage `json:"metadata"`
}

type wireSubscription struct {
	SubscriptionCode string   `json:"subscription_code"`
	EmailToken       string   `json:"email_token"`
	NextPaymentDate  flexTime `json:"next_payment_date"`
}

type wireTransaction struct {
	Reference string `json:"reference"`
}

// Decode parses a verified body. It returns ErrMalformed when event or data
// is missing or data is not an object.
func Decode(payload []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, ErrMalformed
	}
	data := bytes.TrimSpace(env.Data)
	if strings.TrimSpace(env.Event) == "" || len(data) == 0 || data[0] != '{' {
		return nil, ErrMalformed
	}

	var wire wireData
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, ErrMalformed
	}

	out := Data{
		ID:               wire.ID,
		Reference:        strings.TrimSpace(wire.Reference),
		Status:           wire.Status,
		Amount:           wire.Amount,
		Currency:         wire.Currency,
		Channel:          wire.Channel,
		PaidAt:           wire.PaidAt.or(wire.PaidAtCamel),
		CreatedAt:        wire.CreatedAt.or(wire.CreatedAtCamel),
		SubscriptionCode: wire.SubscriptionCode,
		EmailToken:       wire.EmailToken,
		NextPaymentDate:  wire.NextPaymentDate.t,
		Customer:         objectOrNil[paystack.Customer](wire.Customer),
		Authorization:    objectOrNil[paystack.Authorization](wire.Authorization),
		Plan:             objectOrNil[paystack.Plan](wire.Plan),
		Metadata:         decodeMetadata(wire.Metadata),
	}

	// data.subscription.subscription_code is the canonical code on charge and
	// invoice events; subscription.* events carry it at the top level.
	if nested := objectOrNil[wireSubscription](wire.Subscription); nested != nil {
		if nested.SubscriptionCode != "" {
			out.SubscriptionCode = nested.SubscriptionCode
		}
		if out.EmailToken == "" {
			out.EmailToken = nested.EmailToken
		}
		if out.NextPaymentDate == nil {
			out.NextPaymentDate = nested.NextPaymentDate.t
		}
	}
	if out.Reference == "" {
		if tx := objectOrNil[wireTransaction](wire.Transaction); tx != nil {
			out.Reference = strings.TrimSpace(tx.Reference)
		}
	}

	return &Event{Name: strings.TrimSpace(env.Event), Data: out, raw: data}, nil
}

// SubscriptionCode returns the processor code for the event, falling back to
// the code the checkout stored in metadata.
func (e *Event) SubscriptionCode() string {
	if e.Data.SubscriptionCode != "" {
		return e.Data.SubscriptionCode
	}
	if e.Data.Metadata.Subscription != nil {
		return e.Data.Metadata.Subscription.PaystackSubscriptionCode
	}
	return ""
}

// IdempotencyKey is the transaction reference when there is one. Events
// without a reference use event:code:date, and as a last resort a digest of
// the data object.
func (e *Event) IdempotencyKey() string {
	if e.Data.Reference != "" {
		return e.Data.Reference
	}
	if code := e.SubscriptionCode(); code != "" {
		stamp := e.Data.NextPaymentDate
		if stamp == nil {
			stamp = e.Data.CreatedAt
		}
		suffix := "none"
		if stamp != nil {
			suffix = stamp.UTC().Format(time.RFC3339)
		}
		return e.Name + ":" + code + ":" + suffix
	}
	if e.Data.ID != 0 {
		return e.Name + ":id:" + strconv.FormatInt(e.Data.ID, 10)
	}
	sum := sha256.Sum256(e.raw)
	return e.Name + ":sha256:" + hex.EncodeToString(sum[:16])
}

// PaidAt returns when the charge settled, or fallback.
func (e *Event) PaidAt(fallback time.Time) time.Time {
	if e.Data.PaidAt != nil {
		return *e.Data.PaidAt
	}
	return fallback
}

// CustomerEmail is the payer's email if Paystack sent a customer object.
func (e *Event) CustomerEmail() string {
	if e.Data.Customer == nil {
		return ""
	}
	return e.Data.Customer.Email
}

// Reusable reports whether the charge left a card that can be billed again.
func (e *Event) Reusable() bool {
	return e.Data.Authorization != nil && e.Data.Authorization.Reusable && e.Data.Authorization.AuthorizationCode != ""
}

type flexTime struct {
	t *time.Time
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil || strings.TrimSpace(s) == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return nil
	}
	f.t = &parsed
	return nil
}

func (f flexTime) or(other flexTime) *time.Time {
	if f.t != nil {
		return f.t
	}
	return other.t
}

func objectOrNil[T any](raw json.RawMessage) *T {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return &out
}
