package utils

import (
	"time"

	"bitbucket.org/mmdatafocus/tradeledger_backend/config"
)

/* Redis */

// read a cached object stored under key; returns nil when absent or redis is disabled
func RetrieveRedis[T any](key string) (*T, error) {
	var result T
	exists, err := config.GetRedisObject(key, &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return &result, nil
}

// store obj under key and remember key in setKey so the whole group can be dropped at once
func StoreRedisInSet(setKey string, key string, obj any, exp time.Duration) error {
	if err := config.SetRedisObject(key, obj, exp); err != nil {
		return err
	}
	return config.AddRedisSet(setKey, key)
}

// remove every key recorded in setKey, then the set itself
func ClearRedisSet(setKey string) error {
	keys, err := config.GetRedisSetMembers(setKey)
	if err != nil {
		return err
	}
	return config.RemoveRedisKey(append(keys, setKey)...)
}
