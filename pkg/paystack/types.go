package paystack

import (
	"encoding/json"
	"time"
)

// Remote subscription statuses as reported by Paystack.
const (
	SubscriptionStatusActive      = "active"
	SubscriptionStatusNonRenewing = "non-renewing"
	SubscriptionStatusAttention   = "attention"
	SubscriptionStatusCompleted   = "completed"
	SubscriptionStatusCancelled   = "cancelled"
)

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// InitializeParams describes a checkout. Amount is in the currency's minor
// unit (kobo for NGN).
type InitializeParams struct {
	Email       string `json:"email"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency,omitempty"`
	Reference   string `json:"reference,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
	Plan        string `json:"plan,omitempty"`
	Metadata    any    `json:"metadata,omitempty"`
}

type InitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// CreateSubscriptionParams binds a customer to a plan using a saved card.
type CreateSubscriptionParams struct {
	Customer      string     `json:"customer"`
	Plan          string     `json:"plan"`
	Authorization string     `json:"authorization,omitempty"`
	StartDate     *time.Time `json:"start_date,omitempty"`
}

type Plan struct {
	PlanCode string `json:"plan_code"`
	Name     string `json:"name"`
	Interval string `json:"interval"`
	Amount   int64  `json:"amount"`
}

type Customer struct {
	ID           int64  `json:"id"`
	CustomerCode string `json:"customer_code"`
	Email        string `json:"email"`
}

type Authorization struct {
	AuthorizationCode string `json:"authorization_code"`
	Reusable          bool   `json:"reusable"`
	Channel           string `json:"channel"`
	CardType          string `json:"card_type"`
	Last4             string `json:"last4"`
}

// Subscription is the remote view used for create, fetch and list. Plan and
// Customer come back as objects on fetch/list and as bare ids on create, so
// they are decoded leniently.
type Subscription struct {
	ID               int64          `json:"id"`
	SubscriptionCode string         `json:"subscription_code"`
	EmailToken       string         `json:"email_token"`
	Status           string         `json:"status"`
	Amount           int64          `json:"amount"`
	NextPaymentDate  *time.Time     `json:"next_payment_date"`
	CreatedAt        *time.Time     `json:"createdAt"`
	Plan             *Plan          `json:"-"`
	Customer         *Customer      `json:"-"`
	Authorization    *Authorization `json:"-"`
}

func (s *Subscription) UnmarshalJSON(b []byte) error {
	type plain Subscription
	aux := struct {
		*plain
		Plan          json.RawMessage `json:"plan"`
		Customer      json.RawMessage `json:"customer"`
		Authorization json.RawMessage `json:"authorization"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	s.Plan = decodeObject[Plan](aux.Plan)
	s.Customer = decodeObject[Customer](aux.Customer)
	s.Authorization = decodeObject[Authorization](aux.Authorization)
	return nil
}

// IsActive reports whether Paystack considers the subscription active.
// non-renewing is deliberately excluded; it only runs out the paid period.
func (s Subscription) IsActive() bool {
	return s.Status == SubscriptionStatusActive
}

func decodeObject[T any](raw json.RawMessage) *T {
	if len(raw) == 0 || raw[0] != '{' {
		return nil
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return &out
}
