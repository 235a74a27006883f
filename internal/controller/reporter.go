// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/rejit/internal/controller"

import (
	"context"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/rejit/metrics"
	"go.opentelemetry.io/rejit/periodiccaller"
)

// statsJitter keeps the statistics reports from running in lockstep with the reclaim sweep.
const statsJitter = 0.2

// logReporter logs the buffered metrics of every timestamp at debug level.
type logReporter struct {
	names map[uint32]string
}

func newLogReporter() *logReporter {
	defs := metrics.GetDefinitions()
	names := make(map[uint32]string, len(defs))
	for _, md := range defs {
		names[uint32(md.ID)] = md.Name
	}
	return &logReporter{names: names}
}

func (r *logReporter) ReportMetrics(timestamp uint32, ids []uint32, values []int64) {
	if !log.IsLevelEnabled(log.DebugLevel) {
		return
	}
	fields := make(log.Fields, len(ids))
	for i, id := range ids {
		fields[r.names[id]] = values[i]
	}
	log.WithFields(fields).Debugf("Metrics at %d", timestamp)
}

// startReporter sets up the metrics reporter and the periodic statistics of the controller.
// The returned function stops the reporting.
func (c *Controller) startReporter(ctx context.Context) func() {
	if c.metricsReporter == nil {
		c.metricsReporter = newLogReporter()
	}
	metrics.SetReporter(c.metricsReporter)

	return periodiccaller.StartWithJitter(ctx, c.config.StatsInterval, statsJitter, c.report)
}

// report pushes the rejit metrics and logs the current statistics.
func (c *Controller) report() {
	metrics.AddSlice(c.coord.GetAndResetMetrics())
	metrics.Add(metrics.IDCallErrors, metrics.MetricValue(c.newCallErrors()))

	stats := c.coord.Stats()
	calls := c.runtime.Stats()
	log.WithFields(log.Fields{
		"requests":       stats.Requests,
		"live_requests":  stats.LiveRequests,
		"method_states":  stats.MethodStates,
		"stamped":        stats.StampedMethods,
		"calls":          calls.Calls,
		"slow_path":      calls.SlowPath,
		"first_compiles": calls.FirstCompiles,
	}).Info("Rejit statistics")
}

// newCallErrors returns the number of failed calls since the previous report.
func (c *Controller) newCallErrors() uint64 {
	for {
		prev := c.reportedCallErrors.Load()
		cur := c.callErrors.Load()
		if c.reportedCallErrors.CompareAndSwap(prev, cur) {
			return cur - prev
		}
	}
}
