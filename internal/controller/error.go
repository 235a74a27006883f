// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/rejit/internal/controller"

// Exit codes of the rejit simulator.
const (
	ExitFailure = 1
	// ExitParseError matches what the flag package uses on ExitOnError.
	ExitParseError = 2
	// ExitIncomplete signals a workload that finished with failed calls or batches.
	ExitIncomplete = 3
)

// ErrorWithExitCode provides an error with an exit code
// Used to be able to return errors with the exit code the CLI is expected to
// return when exiting.
type ErrorWithExitCode struct {
	error
	code int
}

// NewErrorWithExitCode wraps err with the code the CLI exits with.
func NewErrorWithExitCode(err error, code int) ErrorWithExitCode {
	return ErrorWithExitCode{error: err, code: code}
}

func (e ErrorWithExitCode) Code() int {
	return e.code
}

func (e ErrorWithExitCode) Unwrap() error {
	return e.error
}
