// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package metrics // import "go.opentelemetry.io/rejit/metrics"

// To add a new metric append an entry here and to definitions.go. ONLY APPEND !

// Below are the different metric IDs that we currently implement.
const (
	// Leave out the 0 value. It's an indication of not explicitly initialized variables.
	IDInvalid = 0

	// Number of rejit requests accepted (one per method token)
	IDRejitRequests = 1

	// Number of revert requests accepted (one per method token)
	IDRejitReverts = 2

	// Number of per-target failures of request/revert batches
	IDRequestFailures = 3

	// Number of methods stamped to the prestub on their first compilation (pre-rejit)
	IDPreRejits = 4

	// Number of successful compiler invocations for rejitted code
	IDRejitCompiles = 5

	// Number of failed compiler invocations for rejitted code
	IDRejitCompileFailures = 6

	// Number of failed parameter fetches from the controller
	IDParameterFetchFailures = 7

	// Number of failed jump stamp installs or removals
	IDPatchFailures = 8

	// Number of methods redirected to rejitted code
	IDRejitInstalled = 9

	// Number of compiled rejit versions thrown away because of a racing revert
	IDRejitDiscarded = 10

	// Number of request states dropped by the reclaim sweep
	IDReclaimedRequests = 11

	// Number of method states dropped by the reclaim sweep
	IDReclaimedMethods = 12

	// Absolute number of goroutines when the metric was collected
	IDRuntimeGoRoutines = 13

	// Absolute number in bytes of allocated heap objects
	IDRuntimeHeapAlloc = 14

	// Absolute number of bytes used in the code heap
	IDCodeHeapUsed = 15

	// Absolute number of blocks allocated in the code heap
	IDCodeHeapBlocks = 16

	// Number of failures recorded in the error history
	IDErrorHistoryAdded = 17

	// Number of error history entries evicted or removed
	IDErrorHistoryDeleted = 18

	// Number of successful parameter fetches from the controller
	IDParameterFetches = 19

	// Number of failed calls of the simulated workload
	IDCallErrors = 20

	// max number of ID values, keep this as *last entry*
	IDMax = 21
)
