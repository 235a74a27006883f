// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package runtimemetrics implements the sampling and reporting of process and code heap
// metrics of the simulated runtime.
package runtimemetrics // import "go.opentelemetry.io/rejit/metrics/runtimemetrics"

import (
	"context"
	"runtime"
	"time"

	"go.opentelemetry.io/rejit/metrics"
	"go.opentelemetry.io/rejit/periodiccaller"
)

// CodeHeapStats reports the number of allocated blocks and used bytes of a code heap.
type CodeHeapStats func() (blocks int, used uint64)

// sample collects the current values.
func sample(heapStats CodeHeapStats) []metrics.Metric {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	out := []metrics.Metric{
		{
			ID:    metrics.IDRuntimeGoRoutines,
			Value: metrics.MetricValue(runtime.NumGoroutine()),
		},
		{
			ID:    metrics.IDRuntimeHeapAlloc,
			Value: metrics.MetricValue(stats.HeapAlloc),
		},
	}
	if heapStats != nil {
		blocks, used := heapStats()
		out = append(out,
			metrics.Metric{ID: metrics.IDCodeHeapBlocks, Value: metrics.MetricValue(blocks)},
			metrics.Metric{ID: metrics.IDCodeHeapUsed, Value: metrics.MetricValue(used)})
	}
	return out
}

// Start starts the periodic sampling and reporting. The returned function stops it.
func Start(mainCtx context.Context, interval time.Duration, heapStats CodeHeapStats) func() {
	ctx, cancel := context.WithCancel(mainCtx)
	stopReporting := periodiccaller.Start(ctx, interval, func() {
		metrics.AddSlice(sample(heapStats))
	})

	return func() {
		cancel()
		stopReporting()
	}
}
