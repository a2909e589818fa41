package enums

import "fmt"

// PaymentEventType is the purpose a payment was initialized for.
type PaymentEventType string

const (
	PaymentEventTypeOrder            PaymentEventType = "order"
	PaymentEventTypeSubscription     PaymentEventType = "subscription"
	PaymentEventTypeGiftSubscription PaymentEventType = "gift_subscription"
)

var validPaymentEventTypes = []PaymentEventType{
	PaymentEventTypeOrder,
	PaymentEventTypeSubscription,
	PaymentEventTypeGiftSubscription,
}

// String implements fmt.Stringer.
func (p PaymentEventType) String() string {
	return string(p)
}

// IsValid reports whether the value is known.
func (p PaymentEventType) IsValid() bool {
	for _, candidate := range validPaymentEventTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentEventType converts raw input into a PaymentEventType.
func ParsePaymentEventType(value string) (PaymentEventType, error) {
	for _, candidate := range validPaymentEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment event type %q", value)
}
