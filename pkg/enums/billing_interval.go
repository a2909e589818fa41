package enums

import (
	"fmt"
	"strings"
	"time"
)

// BillingInterval is how long one paid period of a plan lasts. Gifted plans
// use it for the coupon lifetime.
type BillingInterval string

const (
	BillingIntervalMonthly BillingInterval = "monthly"
	BillingIntervalYearly  BillingInterval = "yearly"
)

func (b BillingInterval) String() string {
	return string(b)
}

func (b BillingInterval) IsValid() bool {
	return b == BillingIntervalMonthly || b == BillingIntervalYearly
}

// After returns the end of one period starting at from. Unknown values are
// treated as monthly.
func (b BillingInterval) After(from time.Time) time.Time {
	if b == BillingIntervalYearly {
		return from.AddDate(1, 0, 0)
	}
	return from.AddDate(0, 1, 0)
}

// ParseBillingInterval accepts our names and Paystack's plan intervals.
func ParseBillingInterval(value string) (BillingInterval, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "monthly", "month":
		return BillingIntervalMonthly, nil
	case "yearly", "annually", "year":
		return BillingIntervalYearly, nil
	}
	return "", fmt.Errorf("invalid billing interval %q", value)
}
