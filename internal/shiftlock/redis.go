package shiftlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"go.uber.org/zap"
)

const retryInterval = 50 * time.Millisecond

type RedisLocker struct {
	client *redislock.Client
	local  *LocalLocker
	ttl    time.Duration
	wait   time.Duration
	prefix string
	log    *zap.Logger
}

func NewRedis(client redislock.RedisClient, ttl time.Duration, wait time.Duration, log *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if wait <= 0 {
		wait = 3 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{
		client: redislock.New(client),
		local:  NewLocal(wait),
		ttl:    ttl,
		wait:   wait,
		prefix: "apotekpos:lock:",
		log:    log,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	releaseLocal, err := l.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}

	retries := int(l.wait / retryInterval)
	lock, err := l.client.Obtain(ctx, l.prefix+key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(retryInterval), retries),
	})
	if err != nil {
		releaseLocal()
		if errors.Is(err, redislock.ErrNotObtained) {
			l.log.Warn("shift lock contended", zap.String("key", key))
			return nil, ErrBusy
		}
		return nil, fmt.Errorf("obtain shift lock: %w", err)
	}

	return func() {
		// The caller's context may already be cancelled; the lease must still be returned.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			l.log.Warn("release shift lock failed", zap.String("key", key), zap.Error(err))
		}
		releaseLocal()
	}, nil
}
