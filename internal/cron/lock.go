package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coachly/fitcoach-backend/pkg/instance"
	"github.com/coachly/fitcoach-backend/pkg/redis"
	"github.com/google/uuid"
)

const defaultLockTTL = 30 * time.Minute

// Lock coordinates exclusive runs of one job across instances.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Locker hands out the lock for a job name.
type Locker interface {
	Lock(job string) Lock
}

type lockClient interface {
	redis.LockStore
	LockKey(name string) string
}

// RedisLocker creates one RedisLock per job under the shared lock namespace.
type RedisLocker struct {
	client lockClient
	ttl    time.Duration
}

func NewRedisLocker(client lockClient, ttl time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLocker{client: client, ttl: ttl}, nil
}

func (l *RedisLocker) Lock(job string) Lock {
	return &RedisLock{client: l.client, key: l.client.LockKey("cron:" + job), ttl: l.ttl}
}

// RedisLock implements Lock using SET NX with a TTL and an owner token, so a
// run whose lock expired cannot release a newer holder's lock.
type RedisLock struct {
	client redis.LockStore
	key    string
	ttl    time.Duration
	owner  string
}

// Acquire tries to own the lock for the configured TTL.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := instance.GetID() + ":" + uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

// Release frees the lock only if the owner value still matches.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	if _, err := l.client.DelIfValue(ctx, l.key, l.owner); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	l.owner = ""
	return nil
}
