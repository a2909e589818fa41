package notifications

import (
	"fmt"
	"html"
	"time"

	"github.com/coachly/fitcoach-backend/pkg/db/models"
	"github.com/shopspring/decimal"
)

// OrderPaid tells the buyer their order payment went through.
func OrderPaid(order models.Order, email string, amountKobo int64) Message {
	amount := decimal.New(amountKobo, -2).StringFixed(2)
	return Message{
		UserID:  order.UserID,
		Title:   "Payment received",
		Body:    fmt.Sprintf("Your payment of NGN %s for order %s was successful.", amount, order.ID),
		Email:   email,
		Subject: "Your order payment was successful",
		HTML: fmt.Sprintf("<p>We received your payment of <strong>NGN %s</strong> for order %s.</p>",
			amount, html.EscapeString(order.ID.String())),
	}
}

// GiftIssued delivers a coupon code to the gift recipient and tells the payer.
func GiftIssued(coupon models.Coupon) Message {
	expires := coupon.ExpiresAt.Format(time.DateOnly)
	msg := Message{
		UserID:  coupon.GiftedByUserID,
		Title:   "Gift sent",
		Body:    fmt.Sprintf("Your gift subscription was sent to %s.", coupon.RecipientEmail),
		Email:   coupon.RecipientEmail,
		Subject: "You have received a coaching gift",
		HTML: fmt.Sprintf("<p>Someone gifted you a %s coaching plan.</p><p>Your code: <strong>%s</strong></p><p>Redeem it before %s.</p>",
			coupon.Duration, html.EscapeString(coupon.Code), expires),
	}
	if coupon.RecipientPhone != nil && *coupon.RecipientPhone != "" {
		msg.Phone = *coupon.RecipientPhone
		msg.SMS = fmt.Sprintf("You have a %s coaching gift. Code %s, valid until %s.", coupon.Duration, coupon.Code, expires)
	}
	return msg
}

// SubscriptionActivated confirms a new or revived subscription.
func SubscriptionActivated(sub models.Subscription, email string) Message {
	msg := Message{
		UserID:  sub.UserID,
		Title:   "Subscription active",
		Body:    "Your coaching subscription is now active.",
		Email:   email,
		Subject: "Your subscription is active",
		HTML:    "<p>Your coaching subscription is now active.</p>",
	}
	if sub.CurrentPeriodEnd != nil {
		msg.Body = fmt.Sprintf("Your coaching subscription is active until %s.", sub.CurrentPeriodEnd.Format(time.DateOnly))
		msg.HTML = fmt.Sprintf("<p>%s</p>", msg.Body)
	}
	return msg
}

// SubscriptionFailed asks the user to update their card. In-app only.
func SubscriptionFailed(sub models.Subscription) Message {
	return Message{
		UserID: sub.UserID,
		Title:  "Payment failed",
		Body:   "We could not charge your card for your coaching subscription. Please update your payment method.",
	}
}

// SubscriptionCancelled confirms a cancellation. In-app only.
func SubscriptionCancelled(sub models.Subscription) Message {
	return Message{
		UserID: sub.UserID,
		Title:  "Subscription cancelled",
		Body:   "Your coaching subscription has been cancelled.",
	}
}
