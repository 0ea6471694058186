package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockRepository implements the aggregation lease on Redis. Acquire is SET NX
// with a TTL; release and extension compare the stored owner token so one
// process can never drop or stretch another's lease.
type LockRepository struct {
	client *redis.Client
}

// NewLockRepository constructs a lock repository.
func NewLockRepository(client *redis.Client) *LockRepository {
	return &LockRepository{client: client}
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// Acquire attempts to take the lease. Returns false when another owner holds
// it. A nil client reports the lease as free so a cache outage does not stop
// the scheduler entirely.
func (r *LockRepository) Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return true, nil
	}
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	return ok, nil
}

// Release drops the lease when the token still matches the owner.
func (r *LockRepository) Release(ctx context.Context, key, token string) error {
	if r.client == nil {
		return nil
	}
	if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", key, err)
	}
	return nil
}

// Extend pushes the lease expiry out while a run is still in flight. Returns
// false when the lease is no longer owned by the given token.
func (r *LockRepository) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if r.client == nil {
		return true, nil
	}
	res, err := extendScript.Run(ctx, r.client, []string{key}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("extend lease %s: %w", key, err)
	}
	return res == 1, nil
}
