// Package lock provides the advisory deploy lock. Two runs must never mutate
// the same target concurrently; the lock is keyed by target-environment name
// and acquired before the first mutating step.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// ErrHeld indicates another run already holds the lock for the target.
var ErrHeld = errors.New("lock: target already locked")

// Locker guards a target environment for the duration of a run.
type Locker interface {
	Acquire(ctx context.Context, target string) (release func(context.Context) error, err error)
}

// RedisLocker implements Locker with SET NX PX against a shared Redis.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// releaseScript deletes the key only when it still carries our token, so an
// expired-and-reacquired lock is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0
`)

// NewRedis connects to Redis and returns a locker. The connection is
// verified up front with a short ping.
func NewRedis(addr, password string, db int, ttl time.Duration) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("lock: redis ping: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisLocker{client: client, prefix: "nwp:deploy:", ttl: ttl}, nil
}

// Acquire takes the lock for target or fails with ErrHeld.
func (l *RedisLocker) Acquire(ctx context.Context, target string) (func(context.Context) error, error) {
	if target == "" {
		return nil, errors.New("lock: empty target")
	}
	key := l.prefix + target
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %s: %w", target, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHeld, target)
	}
	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("lock: release %s: %w", target, err)
		}
		return nil
	}
	return release, nil
}

// Close releases the underlying Redis connection.
func (l *RedisLocker) Close() error {
	if l.client == nil {
		return nil
	}
	return l.client.Close()
}

// Noop is a Locker for single-operator setups with no shared Redis; it
// grants every acquisition.
type Noop struct{}

// Acquire implements Locker.
func (Noop) Acquire(_ context.Context, _ string) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}
