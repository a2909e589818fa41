package subscriptions

import (
	"errors"
	"fmt"

	"github.com/coachly/fitcoach-backend/pkg/enums"
)

// Event is something that can move a subscription between states.
type Event string

const (
	EventActivate   Event = "activate"
	EventRenew      Event = "renew"
	EventDisable    Event = "disable"
	EventFail       Event = "fail"
	EventExpire     Event = "expire"
	EventSyncActive Event = "sync_active"
)

// ErrInvalidTransition is returned when the table has no entry for the
// (state, event) pair.
var ErrInvalidTransition = errors.New("invalid subscription transition")

// transitions is the only place state changes are decided. Webhooks and the
// reconciliation jobs both go through Next. Missing pairs are rejected, so
// cancelled and expired can never be revived by a stray renewal.
var transitions = map[enums.SubscriptionStatus]map[Event]enums.SubscriptionStatus{
	enums.SubscriptionStatusPending: {
		EventActivate:   enums.SubscriptionStatusActive,
		EventRenew:      enums.SubscriptionStatusActive,
		EventDisable:    enums.SubscriptionStatusCancelled,
		EventFail:       enums.SubscriptionStatusFailed,
		EventSyncActive: enums.SubscriptionStatusActive,
	},
	enums.SubscriptionStatusActive: {
		EventRenew:      enums.SubscriptionStatusActive,
		EventDisable:    enums.SubscriptionStatusCancelled,
		EventFail:       enums.SubscriptionStatusFailed,
		EventExpire:     enums.SubscriptionStatusExpired,
		EventSyncActive: enums.SubscriptionStatusActive,
	},
	enums.SubscriptionStatusFailed: {
		EventActivate:   enums.SubscriptionStatusActive,
		EventRenew:      enums.SubscriptionStatusActive,
		EventDisable:    enums.SubscriptionStatusCancelled,
		EventFail:       enums.SubscriptionStatusFailed,
		EventSyncActive: enums.SubscriptionStatusActive,
	},
	enums.SubscriptionStatusCancelled: {
		EventDisable: enums.SubscriptionStatusCancelled,
	},
	enums.SubscriptionStatusExpired: {
		EventExpire: enums.SubscriptionStatusExpired,
	},
}

// Next returns the state reached from `from` on ev.
func Next(from enums.SubscriptionStatus, ev Event) (enums.SubscriptionStatus, error) {
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return "", fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
}

// SourcesFor lists the states from which ev leads somewhere else. Bulk
// updates use it to build their WHERE clause from the same table.
func SourcesFor(ev Event) []enums.SubscriptionStatus {
	var out []enums.SubscriptionStatus
	for _, from := range []enums.SubscriptionStatus{
		enums.SubscriptionStatusPending,
		enums.SubscriptionStatusActive,
		enums.SubscriptionStatusFailed,
		enums.SubscriptionStatusCancelled,
		enums.SubscriptionStatusExpired,
	} {
		if to, ok := transitions[from][ev]; ok && to != from {
			out = append(out, from)
		}
	}
	return out
}

// IsTerminal reports whether no event can move the subscription to
// another state.
func IsTerminal(status enums.SubscriptionStatus) bool {
	for _, to := range transitions[status] {
		if to != status {
			return false
		}
	}
	return true
}
