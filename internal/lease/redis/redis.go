// Package redis implements lease.Lease on a Redis SET NX PX key.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"fuelsync/internal/lease"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lease taken over by another run is never released by us.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *goredis.Cmd
}

// Options configure the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Lease is a Redis-backed lease.Lease.
type Lease struct {
	rdb   client
	close func() error
	token func() string
}

var _ lease.Lease = (*Lease)(nil)

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, opts Options) (*Lease, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("lease: connect to redis at %s: %w", opts.Addr, err)
	}
	return &Lease{rdb: rdb, close: rdb.Close, token: newToken}, nil
}

func newToken() string { return uuid.NewString() }

// Acquire sets key to a fresh token if it is not already set.
//
// Errors:
//   - lease.ErrLeaseHeld when the key exists.
//   - Redis errors are returned wrapped.
func (l *Lease) Acquire(ctx context.Context, key string, ttl time.Duration) (lease.ReleaseFunc, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("lease: ttl must be positive")
	}
	token := l.token()

	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lease: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", lease.ErrLeaseHeld, key)
	}

	return func(ctx context.Context) error {
		if err := l.rdb.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("lease: release %s: %w", key, err)
		}
		return nil
	}, nil
}

// Close closes the Redis client.
func (l *Lease) Close() error {
	if l.close == nil {
		return nil
	}
	return l.close()
}
