package lease

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisLocker holds leases as Redis locks.
type RedisLocker struct {
	client *redislock.Client
}

// NewRedisLocker creates a locker over an existing Redis client.
func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{client: redislock.New(rdb)}
}

// Acquire tries once to obtain the document lock.
func (l *RedisLocker) Acquire(ctx context.Context, documentID string, ttl time.Duration) (Lease, error) {
	lock, err := l.client.Obtain(ctx, Key(documentID), ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, eris.Wrapf(ErrNotObtained, "lease: %s", documentID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "lease: obtain %s", documentID)
	}
	return &redisLease{lock: lock}, nil
}

type redisLease struct {
	lock *redislock.Lock
}

func (r *redisLease) Release(ctx context.Context) error {
	err := r.lock.Release(ctx)
	if errors.Is(err, redislock.ErrLockNotHeld) {
		return nil
	}
	return eris.Wrap(err, "lease: release")
}
