package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/labrun/pkg/ports"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

const unlockScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Locker implements ports.DistributedLocker using Redis.
type Locker struct {
	client *backend.Client
	prefix string
}

// NewLocker creates a new Redis locker.
func NewLocker(client *backend.Client, prefix string) *Locker {
	return &Locker{
		client: client,
		prefix: prefix,
	}
}

// Lock acquires the lock for key with SET NX PX, polling with a capped
// exponential backoff while another holder has it. Only the holder's token
// can release the key.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	lockKey := l.prefix + "lock:" + key
	token := uuid.NewString()

	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(20*time.Millisecond),
		backoff.WithMaxInterval(250*time.Millisecond),
		backoff.WithMaxElapsedTime(0),
	)

	acquire := func() error {
		ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return backoff.Permanent(fmt.Errorf("redis error acquiring lock: %w", err))
		}
		if !ok {
			return fmt.Errorf("lock %s is held", key)
		}
		return nil
	}

	if err := backoff.Retry(acquire, backoff.WithContext(b, ctx)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	return func(ctx context.Context) error {
		return l.client.Eval(ctx, unlockScript, []string{lockKey}, token).Err()
	}, nil
}
