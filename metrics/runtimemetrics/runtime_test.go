// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package runtimemetrics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"go.opentelemetry.io/rejit/metrics"
)

func TestSample(t *testing.T) {
	got := sample(func() (int, uint64) { return 3, 4096 })

	values := make(map[metrics.MetricID]metrics.MetricValue)
	for _, m := range got {
		values[m.ID] = m.Value
	}
	assert.Len(t, values, 4)
	assert.Positive(t, values[metrics.IDRuntimeGoRoutines])
	assert.Positive(t, values[metrics.IDRuntimeHeapAlloc])
	assert.Equal(t, metrics.MetricValue(3), values[metrics.IDCodeHeapBlocks])
	assert.Equal(t, metrics.MetricValue(4096), values[metrics.IDCodeHeapUsed])
}

func TestSampleWithoutHeap(t *testing.T) {
	assert.Len(t, sample(nil), 2)
}
