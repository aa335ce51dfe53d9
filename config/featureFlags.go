package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// OperationLockingEnabled serializes ledger writes through Redis locks (bsm/redislock).
//
// Set via env:
// - OPERATION_LOCKING=true
func OperationLockingEnabled() bool {
	return boolFromEnv("OPERATION_LOCKING")
}

// StrictScheduleKind rejects schedule entries without an explicit kind tag,
// disabling the legacy description-based classification.
//
// Set via env:
// - STRICT_SCHEDULE_KIND=true
func StrictScheduleKind() bool {
	return boolFromEnv("STRICT_SCHEDULE_KIND")
}

// SequentialReconciliation switches installments from the aggregate threshold model
// to sequential consumption in sequence-number order.
//
// Set via env:
// - RECONCILIATION_MODE=sequential
func SequentialReconciliation() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("RECONCILIATION_MODE")), "sequential")
}

// BalanceCacheTTL is how long a computed balance snapshot is kept in Redis.
// Zero disables caching.
//
// Set via env:
// - BALANCE_CACHE_TTL_SECONDS (default 60)
func BalanceCacheTTL() time.Duration {
	raw := strings.TrimSpace(os.Getenv("BALANCE_CACHE_TTL_SECONDS"))
	if raw == "" {
		return 60 * time.Second
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 60 * time.Second
	}
	return time.Duration(n) * time.Second
}

// ImportArchiveBucket is the GCS bucket receiving raw import uploads; empty disables archiving.
func ImportArchiveBucket() string {
	return strings.TrimSpace(os.Getenv("IMPORT_ARCHIVE_BUCKET"))
}

func boolFromEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
