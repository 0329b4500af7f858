// Package lease grants exclusive, expiring ownership of a document so that
// only one worker advances it at a time.
package lease

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/ledger-cli/internal/config"
)

// ErrNotObtained is returned when another owner holds the lease.
var ErrNotObtained = eris.New("lease: not obtained")

// Lease is a held lock. Release is safe to call once the lease has expired.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out leases keyed by document id.
type Locker interface {
	Acquire(ctx context.Context, documentID string, ttl time.Duration) (Lease, error)
}

// Key is the shared lock key of a document.
func Key(documentID string) string {
	return "ledger:doc:" + documentID
}

// LeaseStore is the subset of the metadata store used for store-backed leases.
type LeaseStore interface {
	AcquireLease(ctx context.Context, documentID, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, documentID, owner string) error
}

// New returns a Redis locker when redis.addr is configured and a store-backed
// locker otherwise. The returned close function releases the Redis client.
func New(ctx context.Context, cfg config.RedisConfig, st LeaseStore, owner string) (Locker, func() error, error) {
	if cfg.Addr == "" {
		return NewStoreLocker(st, owner), func() error { return nil }, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, eris.Wrapf(err, "lease: ping redis %s", cfg.Addr)
	}
	zap.L().Info("lease: using redis", zap.String("addr", cfg.Addr))
	return NewRedisLocker(rdb), rdb.Close, nil
}
