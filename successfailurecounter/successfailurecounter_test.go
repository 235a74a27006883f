// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package successfailurecounter

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

type outcome int

const (
	none outcome = iota
	success
	failure
	discard
)

func report(sfc *SuccessFailureCounter, o outcome) {
	switch o {
	case success:
		sfc.ReportSuccess()
	case failure:
		sfc.ReportFailure()
	case discard:
		sfc.ReportDiscard()
	}
}

func TestSuccessFailureCounter(t *testing.T) {
	tests := map[string]struct {
		toSuccess bool
		report    outcome
		want      [3]uint64 // success, failure, discard
	}{
		"success default, no report":      {toSuccess: true, want: [3]uint64{1, 0, 0}},
		"success default, report success": {toSuccess: true, report: success, want: [3]uint64{1, 0, 0}},
		"success default, report failure": {toSuccess: true, report: failure, want: [3]uint64{0, 1, 0}},
		"success default, report discard": {toSuccess: true, report: discard, want: [3]uint64{0, 0, 1}},
		"failure default, no report":      {want: [3]uint64{0, 1, 0}},
		"failure default, report success": {report: success, want: [3]uint64{1, 0, 0}},
		"failure default, report failure": {report: failure, want: [3]uint64{0, 1, 0}},
		"failure default, report discard": {report: discard, want: [3]uint64{0, 0, 1}},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			var s, f, d atomic.Uint64
			func() {
				sfc := NewWithDiscard(&s, &f, &d)
				if test.toSuccess {
					defer sfc.DefaultToSuccess()
				} else {
					defer sfc.DefaultToFailure()
				}
				report(&sfc, test.report)
			}()
			assert.Equal(t, test.want, [3]uint64{s.Load(), f.Load(), d.Load()})
		})
	}
}

func TestReportTwice(t *testing.T) {
	var s, f atomic.Uint64
	sfc := New(&s, &f)
	sfc.ReportSuccess()
	sfc.ReportFailure()
	// Without a discard counter the outcome is sealed but nothing is counted.
	sfc.ReportDiscard()
	sfc.DefaultToFailure()

	assert.Equal(t, uint64(1), s.Load())
	assert.Equal(t, uint64(0), f.Load())
}
