// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metrics // import "go.opentelemetry.io/rejit/metrics"

var definitions = []MetricDefinition{
	{ID: IDRejitRequests, Type: MetricTypeCounter, Name: "rejit.requests",
		Description: "Rejit requests accepted per method token"},
	{ID: IDRejitReverts, Type: MetricTypeCounter, Name: "rejit.reverts",
		Description: "Revert requests accepted per method token"},
	{ID: IDRequestFailures, Type: MetricTypeCounter, Name: "rejit.request_failures",
		Description: "Targets of request or revert batches that could not be processed"},
	{ID: IDPreRejits, Type: MetricTypeCounter, Name: "rejit.prerejits",
		Description: "Methods stamped to the prestub on their first compilation"},
	{ID: IDRejitCompiles, Type: MetricTypeCounter, Name: "rejit.compiles",
		Description: "Successful compilations of rejitted code"},
	{ID: IDRejitCompileFailures, Type: MetricTypeCounter, Name: "rejit.compile_failures",
		Description: "Failed compilations of rejitted code"},
	{ID: IDParameterFetchFailures, Type: MetricTypeCounter, Name: "rejit.fetch_failures",
		Description: "Failed parameter fetches from the controller"},
	{ID: IDPatchFailures, Type: MetricTypeCounter, Name: "rejit.patch_failures",
		Description: "Failed jump stamp installs or removals"},
	{ID: IDRejitInstalled, Type: MetricTypeCounter, Name: "rejit.installed",
		Description: "Methods redirected to rejitted code"},
	{ID: IDRejitDiscarded, Type: MetricTypeCounter, Name: "rejit.discarded",
		Description: "Compiled versions discarded because of a racing revert"},
	{ID: IDReclaimedRequests, Type: MetricTypeCounter, Name: "rejit.reclaimed_requests",
		Description: "Reverted request states dropped by the reclaim sweep"},
	{ID: IDReclaimedMethods, Type: MetricTypeCounter, Name: "rejit.reclaimed_methods",
		Description: "Stale method states dropped by the reclaim sweep"},
	{ID: IDRuntimeGoRoutines, Type: MetricTypeGauge, Name: "runtime.goroutines",
		Description: "Number of goroutines"},
	{ID: IDRuntimeHeapAlloc, Type: MetricTypeGauge, Name: "runtime.heap_alloc",
		Description: "Bytes of allocated heap objects", Unit: "By"},
	{ID: IDCodeHeapUsed, Type: MetricTypeGauge, Name: "codeheap.used",
		Description: "Bytes used in the code heap", Unit: "By"},
	{ID: IDCodeHeapBlocks, Type: MetricTypeGauge, Name: "codeheap.blocks",
		Description: "Blocks allocated in the code heap"},
	{ID: IDErrorHistoryAdded, Type: MetricTypeCounter, Name: "rejit.error_history.added",
		Description: "Failures recorded in the error history"},
	{ID: IDErrorHistoryDeleted, Type: MetricTypeCounter, Name: "rejit.error_history.deleted",
		Description: "Error history entries evicted or removed"},
	{ID: IDParameterFetches, Type: MetricTypeCounter, Name: "rejit.fetches",
		Description: "Successful parameter fetches from the controller"},
	{ID: IDCallErrors, Type: MetricTypeCounter, Name: "workload.call_errors",
		Description: "Failed calls of the simulated workload"},
}

// GetDefinitions returns the metric definitions.
func GetDefinitions() []MetricDefinition {
	return definitions
}
