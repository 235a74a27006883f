// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

/*
Package metrics contains the code for receiving and reporting rejit metrics.

Metric providers (the per-module rejit managers and the runtime sampler in runtimemetrics)
hand over slices of id/value pairs. The values are buffered per second and then forwarded to
OTel instruments and, if set, to a Reporter.

Example code to report the metrics of a coordinator once per second:

	stop := periodiccaller.Start(ctx, time.Second, func() {
		metrics.AddSlice(coordinator.GetAndResetMetrics())
	})
	defer stop()

# Directory Structure

	metrics
	├── runtimemetrics/ // goroutine, heap and code heap sampling
	├── definitions.go  // metric names, types and units
	├── doc.go          // this file
	├── ids.go          // metric ids
	├── metrics.go      // implement Add() and AddSlice()
	├── metrics_test.go // tests the metrics package
	└── types.go        // Metric, MetricID, MetricValue
*/
package metrics // import "go.opentelemetry.io/rejit/metrics"
