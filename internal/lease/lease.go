// Package lease keeps a single process writing the ledger when several
// schedulers run the agent.
package lease

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Lease is a single-writer lock held for the duration of a tick.
type Lease interface {
	// Acquire returns false when another holder owns the lease.
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// Noop always grants the lease. Used when no Redis is configured.
type Noop struct{}

// Acquire implements Lease.
func (Noop) Acquire(context.Context) (bool, error) { return true, nil }

// Release implements Lease.
func (Noop) Release(context.Context) error { return nil }

// deletes the key only while it still holds our token
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// RedisLease SET NX PX lease released by compare-and-delete.
type RedisLease struct {
	client redis.Cmdable
	key    string
	token  string
	ttl    time.Duration
}

// NewRedisLease creates a lease on key with a per-process token.
func NewRedisLease(client redis.Cmdable, key string, ttl time.Duration) *RedisLease {
	return &RedisLease{
		client: client,
		key:    key,
		token:  uuid.NewString(),
		ttl:    ttl,
	}
}

// Token identifies this holder.
func (l *RedisLease) Token() string {
	return l.token
}

// Acquire implements Lease.
func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, errors.Wrapf(err, "failed to acquire lease %s", l.key)
	}
	return ok, nil
}

// Release implements Lease. Releasing a lease that expired or was taken over is not an error.
func (l *RedisLease) Release(ctx context.Context) error {
	err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrapf(err, "failed to release lease %s", l.key)
	}
	return nil
}
