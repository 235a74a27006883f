// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package rejit // import "go.opentelemetry.io/rejit/rejit"

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrModuleNotFound       = errors.New("module not found")
	ErrInvalidToken         = errors.New("invalid method token")
	ErrNotRejittable        = errors.New("method can not be rejitted")
	ErrNoActiveRequest      = errors.New("no active rejit request")
	ErrModuleUnloaded       = errors.New("module unloaded")
	ErrInvalidCodeVersion   = errors.New("compiler returned an invalid code version")
	ErrInvalidInstantiation = errors.New("instantiation does not belong to method")

	// ErrRequestReverted ends a rejit attempt whose request was reverted or superseded in the
	// meantime. The compiled code, if any, is discarded.
	ErrRequestReverted = errors.New("rejit request reverted")
)

// TargetError is the failure of a single target of a request or revert batch.
type TargetError struct {
	Key RequestKey
	// Instance is set when the failure is specific to one instantiation.
	Instance *CompiledMethodID
	Err      error
}

func (e *TargetError) Error() string {
	if e.Instance != nil {
		return fmt.Sprintf("%v: %v", *e.Instance, e.Err)
	}
	return fmt.Sprintf("%v: %v", e.Key, e.Err)
}

func (e *TargetError) Unwrap() error {
	return e.Err
}

// RequestError enumerates the targets of a batch that could not be processed. The remaining
// targets were processed.
type RequestError struct {
	Op       string
	Failures []*TargetError
}

func (e *RequestError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %d target(s) failed", e.Op, len(e.Failures))
	for i, f := range e.Failures {
		if i == 0 {
			sb.WriteString(": ")
		} else {
			sb.WriteString("; ")
		}
		sb.WriteString(f.Error())
	}
	return sb.String()
}

func (e *RequestError) Unwrap() []error {
	out := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f
	}
	return out
}

// requestErrorOrNil returns nil for an empty failure list.
func requestErrorOrNil(op string, failures []*TargetError) error {
	if len(failures) == 0 {
		return nil
	}
	return &RequestError{Op: op, Failures: failures}
}
