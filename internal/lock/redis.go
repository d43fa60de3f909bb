package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

var (
	// ErrNotAcquired is returned when the lock could not be taken before the
	// wait timeout.
	ErrNotAcquired = eris.New("lock: not acquired")
	// ErrNotHeld is returned when releasing a lock that expired or was taken
	// over by another holder.
	ErrNotHeld = eris.New("lock: not held")
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// Redis is a distributed Locker built on SET NX with an owner token.
type Redis struct {
	rdb     redis.UniversalClient
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

// RedisOptions configures a Redis locker.
type RedisOptions struct {
	Prefix  string
	TTL     time.Duration
	Timeout time.Duration
}

// NewRedis creates a Redis locker.
func NewRedis(rdb redis.UniversalClient, opts RedisOptions) *Redis {
	if opts.Prefix == "" {
		opts.Prefix = "match:lock:"
	}
	if opts.TTL <= 0 {
		opts.TTL = 30 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Redis{rdb: rdb, prefix: opts.Prefix, ttl: opts.TTL, timeout: opts.Timeout}
}

// WithLock implements Locker. It polls with capped exponential backoff until
// the lock is taken or the wait timeout passes.
func (r *Redis) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	k := r.prefix + key
	token := uuid.NewString()

	if err := r.acquire(ctx, k, token); err != nil {
		return err
	}
	defer func() {
		if err := r.release(context.WithoutCancel(ctx), k, token); err != nil {
			zap.L().Warn("lock: release failed", zap.String("key", key), zap.Error(err))
		}
	}()

	return fn(ctx)
}

func (r *Redis) acquire(ctx context.Context, key, token string) error {
	deadline := time.Now().Add(r.timeout)
	backoff := 10 * time.Millisecond

	for {
		ok, err := r.rdb.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return eris.Wrapf(err, "lock: acquire %s", key)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return eris.Wrapf(ErrNotAcquired, "lock: %s", key)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff = min(backoff*2, 500*time.Millisecond)
		}
	}
}

func (r *Redis) release(ctx context.Context, key, token string) error {
	n, err := releaseScript.Run(ctx, r.rdb, []string{key}, token).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return eris.Wrapf(err, "lock: release %s", key)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
