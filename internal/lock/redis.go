package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockLua deletes a lock key only if it still holds the caller's token,
// so an expired holder cannot release someone else's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// Redis is a Locker shared by every engine instance pointing at the same
// Redis. Each key is a SET NX PX entry holding a random token.
type Redis struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	ttl      time.Duration
	retry    time.Duration
	prefix   string
}

// NewRedis creates a distributed locker. ttl bounds how long a crashed
// holder can keep a key; retry is the polling interval while waiting.
func NewRedis(rdb *redis.Client, ttl, retry time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if retry <= 0 {
		retry = 10 * time.Millisecond
	}
	return &Redis{
		rdb:      rdb,
		unlockSc: redis.NewScript(unlockLua),
		ttl:      ttl,
		retry:    retry,
		prefix:   "cazino:lock:",
	}
}

// Lock polls each key in order until it is held or ctx is done.
func (r *Redis) Lock(ctx context.Context, keys ...string) (func(), error) {
	token := uuid.New().String()
	keys = ordered(keys)
	held := make([]string, 0, len(keys))

	release := func() {
		// Background context so release works after the caller's ctx ends.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for i := len(held) - 1; i >= 0; i-- {
			_ = r.unlockSc.Run(ctx, r.rdb, []string{held[i]}, token).Err()
		}
	}

	for _, k := range keys {
		lk := r.prefix + k
		if err := r.acquire(ctx, lk, token); err != nil {
			release()
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		held = append(held, lk)
	}
	return once(release), nil
}

func (r *Redis) acquire(ctx context.Context, key, token string) error {
	ticker := time.NewTicker(r.retry)
	defer ticker.Stop()
	for {
		ok, err := r.rdb.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
			}
			return fmt.Errorf("redis: acquire lock: %w", err)
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

var _ Locker = (*Redis)(nil)
