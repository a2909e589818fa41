package paystackwebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coachly/fitcoach-backend/pkg/redis"
)

// IdempotencyGuard is the Redis fast path in front of the ledger. A key is
// marked only after its event was handled, so a delivery that failed, was
// cut off or panicked is never short-circuited on retry. Concurrent first
// deliveries both reach the ledger, whose unique reference decides.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &IdempotencyGuard{store: store, ttl: ttl, scope: scope}, nil
}

// Seen reports whether key was marked as handled.
func (g *IdempotencyGuard) Seen(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("idempotency key is required")
	}
	ok, err := g.store.Exists(ctx, g.store.IdempotencyKey(g.scope, key))
	if err != nil {
		return false, fmt.Errorf("read idempotency key: %w", err)
	}
	return ok, nil
}

// Mark records key as handled. Marking twice is harmless.
func (g *IdempotencyGuard) Mark(ctx context.Context, key string) error {
	if key == "" {
		return errors.New("idempotency key is required")
	}
	if _, err := g.store.SetNX(ctx, g.store.IdempotencyKey(g.scope, key), "1", g.ttl); err != nil {
		return fmt.Errorf("set idempotency key: %w", err)
	}
	return nil
}
