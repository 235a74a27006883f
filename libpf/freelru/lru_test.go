// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package freelru

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hashUint32(k uint32) uint32 { return k }

func TestSyncedLRUStatistics(t *testing.T) {
	cache, err := NewSynced[uint32, string](2, hashUint32)
	require.NoError(t, err)

	cache.Add(1, "a")
	cache.Add(2, "b")
	assert.True(t, cache.Add(3, "c"))
	assert.Equal(t, 2, cache.Len())

	_, ok := cache.Get(1)
	assert.False(t, ok)
	v, ok := cache.Get(3)
	assert.True(t, ok)
	assert.Equal(t, "c", v)

	assert.True(t, cache.Remove(2))
	assert.False(t, cache.Remove(2))

	assert.Equal(t, Statistics{Hit: 1, Miss: 1, Added: 3, Deleted: 2},
		cache.GetAndResetStatistics())
	assert.Equal(t, Statistics{}, cache.GetAndResetStatistics())
}
