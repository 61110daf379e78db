package utils

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"

	"bitbucket.org/mmdatafocus/invoice_recon/config"
)

// TryMergeKeyLock takes a short Redis lock on a merge key so concurrent
// deliveries of the same invoice queue up before reaching MySQL. It is
// best-effort: without Redis, or when the lock is busy, it returns a no-op
// release and false, and callers carry on.
func TryMergeKeyLock(ctx context.Context, mergeKey string, ttl time.Duration, moduleName, functionName string) (release func(), obtained bool) {
	noop := func() {}
	locker := config.GetRedisLock()
	if locker == nil || mergeKey == "" {
		return noop, false
	}

	lock, err := locker.Obtain(ctx, "MergeKey:"+mergeKey, ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 20),
	})
	if err != nil {
		if !errors.Is(err, redislock.ErrNotObtained) {
			config.LogError(config.GetLogger(), moduleName, functionName, "obtain merge key lock", mergeKey, err)
		}
		return noop, false
	}
	return func() { _ = lock.Release(context.WithoutCancel(ctx)) }, true
}
