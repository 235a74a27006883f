// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReporter struct {
	result chan []Metric
}

func (f fakeReporter) ReportMetrics(_ uint32, ids []uint32, values []int64) {
	metricsResult := make([]Metric, len(ids))

	for j := range ids {
		metricsResult[j].ID = MetricID(ids[j])
		metricsResult[j].Value = MetricValue(values[j])
	}

	// send the result back for comparison with client-side input
	f.result <- metricsResult
}

func TestMetrics(t *testing.T) {
	reporter := &fakeReporter{result: make(chan []Metric, 128)}
	SetReporter(reporter)
	t.Cleanup(func() { SetReporter(nil) })

	origNow := now
	t.Cleanup(func() { now = origNow })
	ts := uint32(1000)
	now = func() uint32 { return ts }

	inputMetrics := []Metric{
		{IDRejitRequests, MetricValue(33)},
		{IDRejitCompiles, MetricValue(55)},
		{IDRuntimeGoRoutines, MetricValue(66)},
		{IDCodeHeapUsed, MetricValue(20)},
		{IDRejitDiscarded, MetricValue(0)},
	}

	AddSlice(inputMetrics[0:2])                    // 33, 55
	Add(inputMetrics[1].ID, inputMetrics[1].Value) // 55, dropped
	Add(inputMetrics[2].ID, inputMetrics[2].Value) // 66
	AddSlice(inputMetrics[3:4])                    // 20
	Add(inputMetrics[0].ID, inputMetrics[0].Value) // 33, dropped
	AddSlice(inputMetrics[2:5])                    // 66 dropped, 20 dropped, 0 dropped
	Add(IDInvalid, 1)                              // out of range, dropped
	Add(IDMax, 1)                                  // out of range, dropped

	// Drop counter with 0 value as we don't expect it to appear in output
	inputMetrics = inputMetrics[:4]

	// the next timestamp triggers reporting
	ts++
	AddSlice(nil)

	select {
	case got := <-reporter.result:
		assert.Equal(t, inputMetrics, got)
	default:
		require.Fail(t, "no metrics reported")
	}
}

func TestSummarize(t *testing.T) {
	got := Summarize(
		[]Metric{{IDRejitCompiles, 2}, {IDRejitRequests, 1}},
		[]Metric{{IDRejitCompiles, 3}},
		nil,
	)
	assert.Equal(t, []Metric{{IDRejitRequests, 1}, {IDRejitCompiles, 5}}, got)
}

func TestDefinitionsCoverAllIDs(t *testing.T) {
	seen := make(map[MetricID]bool)
	for _, d := range GetDefinitions() {
		assert.False(t, seen[d.ID], "duplicate definition for %d", d.ID)
		seen[d.ID] = true
		assert.NotEmpty(t, d.Name)
	}
	for id := MetricID(IDInvalid + 1); id < IDMax; id++ {
		assert.True(t, seen[id], "missing definition for %d", id)
	}
}
