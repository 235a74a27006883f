// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// successfailurecounter provides a wrapper to atomically increment the outcome counters of a
// single rejit attempt: success, failure or, for attempts that lost a race against a revert,
// discard.
//
// This package is **not** thread safe. Multiple increments to the same SuccessFailureCounter from
// different threads can result in incorrect counter results.
package successfailurecounter // import "go.opentelemetry.io/rejit/successfailurecounter"

import (
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// SuccessFailureCounter implements a wrapper to increment outcome counters exactly once.
type SuccessFailureCounter struct {
	success, fail, discard *atomic.Uint64
	sealed                 bool
}

// New returns a SuccessFailureCounter that can be incremented exactly once.
func New(success, fail *atomic.Uint64) SuccessFailureCounter {
	return SuccessFailureCounter{success: success, fail: fail}
}

// NewWithDiscard returns a SuccessFailureCounter that additionally tracks discarded attempts.
func NewWithDiscard(success, fail, discard *atomic.Uint64) SuccessFailureCounter {
	return SuccessFailureCounter{success: success, fail: fail, discard: discard}
}

func (sfc *SuccessFailureCounter) seal(counter *atomic.Uint64, what string) {
	if sfc.sealed {
		log.Errorf("Attempted to report %s status after the outcome was already reported.", what)
		return
	}
	if counter != nil {
		counter.Add(1)
	}
	sfc.sealed = true
}

// ReportSuccess increments the success counter or logs an error otherwise.
func (sfc *SuccessFailureCounter) ReportSuccess() {
	sfc.seal(sfc.success, "success")
}

// ReportFailure increments the failure counter or logs an error otherwise.
func (sfc *SuccessFailureCounter) ReportFailure() {
	sfc.seal(sfc.fail, "failure")
}

// ReportDiscard increments the discard counter or logs an error otherwise. Without a discard
// counter the outcome is only sealed.
func (sfc *SuccessFailureCounter) ReportDiscard() {
	sfc.seal(sfc.discard, "discard")
}

// DefaultToSuccess increments the success counter if no counter was updated before.
func (sfc *SuccessFailureCounter) DefaultToSuccess() {
	if !sfc.sealed {
		sfc.success.Add(1)
	}
}

// DefaultToFailure increments the failure counter if no counter was updated before.
func (sfc *SuccessFailureCounter) DefaultToFailure() {
	if !sfc.sealed {
		sfc.fail.Add(1)
	}
}
