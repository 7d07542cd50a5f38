package redis

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
)

// ErrLockNotAcquired is returned when another holder owns the key.
var ErrLockNotAcquired = errors.New("lock not acquired")

// Lock is a held distributed lock.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out short-lived exclusive locks keyed by name.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

type RedisLocker struct {
	client    *Client
	locker    *redislock.Client
	keyPrefix string
}

func NewLocker(client *Client, keyPrefix string) *RedisLocker {
	if keyPrefix == "" {
		keyPrefix = "sage:lock:"
	}
	return &RedisLocker{
		client:    client,
		locker:    redislock.New(client.rdb),
		keyPrefix: keyPrefix,
	}
}

// Acquire tries once to obtain the lock.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	lock, err := l.locker.Obtain(ctx, l.keyPrefix+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockNotAcquired
	}
	if err != nil {
		return nil, err
	}

	l.client.logger.WithContext(ctx).Debugf("Acquired lock: %s", key)
	return &heldLock{lock: lock}, nil
}

type heldLock struct {
	lock *redislock.Lock
}

func (h *heldLock) Release(ctx context.Context) error {
	err := h.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return err
}

// WithLock runs fn while holding key.
func WithLock(ctx context.Context, locker Locker, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	lock, err := locker.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	defer lock.Release(context.WithoutCancel(ctx))

	return fn(ctx)
}

// NoopLocker always succeeds. It is used when redis is not configured, leaving the database
// constraints as the only guard.
type NoopLocker struct{}

func (NoopLocker) Acquire(context.Context, string, time.Duration) (Lock, error) {
	return noopLock{}, nil
}

type noopLock struct{}

func (noopLock) Release(context.Context) error { return nil }
