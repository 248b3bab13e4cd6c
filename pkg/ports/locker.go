package ports

import (
	"context"
	"time"
)

// UnlockFunc releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker keeps two processes from driving the same run, and so the
// same devices, at once.
type DistributedLocker interface {
	// Lock blocks until the lock for key is acquired or ctx is cancelled.
	// The returned UnlockFunc MUST be called to release the lock.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
