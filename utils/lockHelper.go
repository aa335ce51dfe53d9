package utils

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/tradeledger_backend/config"
	"github.com/bsm/redislock"
)

const LedgerLockTTL = 30 * time.Second

// ObtainLocks takes the redis locks for keys in the given order and returns a release func.
// On failure every lock already taken is released.
func ObtainLocks(ctx context.Context, moduleName string, functionName string, keys ...string) (func(), error) {
	logger := config.GetLogger()
	locker := config.GetRedisLock()
	if locker == nil {
		config.LogError(logger, moduleName, functionName, "Redis lock not initialized", keys, errors.New("redis lock is nil"))
		return nil, errors.New("service not ready (redis lock not initialized)")
	}

	var held []*redislock.Lock
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			_ = held[i].Release(ctx)
		}
	}
	for _, key := range keys {
		lock, err := locker.Obtain(ctx, key, LedgerLockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			config.LogError(logger, moduleName, functionName, "Could not obtain lock", key, err)
			release()
			return nil, ErrorLockNotObtained
		} else if err != nil {
			config.LogError(logger, moduleName, functionName, "Error obtaining lock", key, err)
			release()
			return nil, err
		}
		held = append(held, lock)
	}
	return release, nil
}
