package paystackwebhook

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/coachly/fitcoach-backend/pkg/enums"
)

// Metadata is data.metadata decoded once into the variant named by its type.
// Exactly one of Order, Subscription and Gift is set when Kind is valid.
type Metadata struct {
	Kind         enums.PaymentEventType
	UserID       string
	Order        *OrderMetadata
	Subscription *SubscriptionMetadata
	Gift         *GiftMetadata
	// Raw is the metadata object as JSON, for the ledger.
	Raw json.RawMessage
}

type OrderMetadata struct {
	OrderID string
}

type SubscriptionMetadata struct {
	PlanID                   string
	CategoryID               string
	CoachID                  string
	Interval                 string
	PaystackSubscriptionCode string
}

type GiftMetadata struct {
	PlanID         string
	CategoryID     string
	CoachID        string
	Duration       string
	RecipientEmail string
	RecipientPhone string
}

type wireMetadata struct {
	Type                     string   `json:"type"`
	UserID                   flexText `json:"userId"`
	OrderID                  flexText `json:"orderId"`
	PlanID                   flexText `json:"planId"`
	CategoryID               flexText `json:"categoryId"`
	CoachID                  flexText `json:"coachId"`
	Interval                 string   `json:"interval"`
	Duration                 string   `json:"duration"`
	IsGift                   flexBool `json:"isGift"`
	RecipientEmail           string   `json:"recipientEmail"`
	RecipientPhone           string   `json:"recipientPhone"`
	PaystackSubscriptionCode string   `json:"paystackSubscriptionCode"`
	Gift                     *struct {
		RecipientEmail string `json:"recipientEmail"`
		RecipientPhone string `json:"recipientPhone"`
		Duration       string `json:"duration"`
	} `json:"gift"`
}

// decodeMetadata accepts an object or a JSON string holding an object.
// Anything else yields an empty Metadata.
func decodeMetadata(raw json.RawMessage) Metadata {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Metadata{}
		}
		raw = bytes.TrimSpace([]byte(s))
	}
	if len(raw) == 0 || raw[0] != '{' {
		return Metadata{}
	}

	var wire wireMetadata
	if err := json.Unmarshal(raw, &wire); err != nil {
		if json.Valid(raw) {
			return Metadata{Raw: raw}
		}
		return Metadata{}
	}

	md := Metadata{UserID: string(wire.UserID), Raw: raw}
	kind, err := enums.ParsePaymentEventType(strings.TrimSpace(wire.Type))
	if err != nil {
		return md
	}
	if kind == enums.PaymentEventTypeSubscription && bool(wire.IsGift) {
		kind = enums.PaymentEventTypeGiftSubscription
	}
	md.Kind = kind

	switch kind {
	case enums.PaymentEventTypeOrder:
		md.Order = &OrderMetadata{OrderID: string(wire.OrderID)}
	case enums.PaymentEventTypeSubscription:
		md.Subscription = &SubscriptionMetadata{
			PlanID:                   string(wire.PlanID),
			CategoryID:               string(wire.CategoryID),
			CoachID:                  string(wire.CoachID),
			Interval:                 wire.Interval,
			PaystackSubscriptionCode: wire.PaystackSubscriptionCode,
		}
	case enums.PaymentEventTypeGiftSubscription:
		gift := &GiftMetadata{
			PlanID:         string(wire.PlanID),
			CategoryID:     string(wire.CategoryID),
			CoachID:        string(wire.CoachID),
			Duration:       firstNonEmpty(wire.Duration, wire.Interval),
			RecipientEmail: wire.RecipientEmail,
			RecipientPhone: wire.RecipientPhone,
		}
		if wire.Gift != nil {
			gift.RecipientEmail = firstNonEmpty(wire.Gift.RecipientEmail, gift.RecipientEmail)
			gift.RecipientPhone = firstNonEmpty(wire.Gift.RecipientPhone, gift.RecipientPhone)
			gift.Duration = firstNonEmpty(wire.Gift.Duration, gift.Duration)
		}
		md.Gift = gift
	}
	return md
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// flexText takes a string or a number; ids arrive as either.
type flexText string

func (f *flexText) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexText(strings.TrimSpace(s))
		return nil
	}
	*f = flexText(string(b))
	return nil
}

// flexBool takes true/false or their string forms.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, _ := strconv.ParseBool(strings.TrimSpace(s))
		*f = flexBool(v)
		return nil
	}
	var v bool
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	*f = flexBool(v)
	return nil
}
