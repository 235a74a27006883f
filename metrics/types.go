// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metrics // import "go.opentelemetry.io/rejit/metrics"

// MetricID is the type for metric IDs.
type MetricID uint16

// MetricValue is the type for metric values.
type MetricValue int64

// Metric is the type for a metric id/value pair.
type Metric struct {
	ID    MetricID
	Value MetricValue
}

// MetricType is the type of a metric.
type MetricType string

const (
	MetricTypeGauge   MetricType = "gauge"
	MetricTypeCounter MetricType = "counter"
)

// MetricDefinition is used for metric documentation and instrument creation.
type MetricDefinition struct {
	Description string
	Type        MetricType
	Name        string
	Unit        string
	ID          MetricID
}

// Summary helps summarizing metrics of the same ID from different sources before
// processing it further.
type Summary map[MetricID]MetricValue

// Reporter receives the buffered metrics of one timestamp.
type Reporter interface {
	ReportMetrics(timestamp uint32, ids []uint32, values []int64)
}
