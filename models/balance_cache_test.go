package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBalanceCacheKey(t *testing.T) {
	cutoff := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "balance:0:2025-03-10", balanceCacheKey(0, cutoff))
	assert.Equal(t, "balance:7:2025-03-10", balanceCacheKey(7, cutoff))
	assert.NotEqual(t, balanceCacheKey(1, cutoff), balanceCacheKey(2, cutoff), "a ledger write retires earlier snapshots")
	assert.NotEqual(t, balanceCacheKey(1, cutoff), balanceCacheKey(1, cutoff.AddDate(0, 0, 1)))
}
