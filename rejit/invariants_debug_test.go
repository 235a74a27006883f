// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build debug

package rejit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyTwoLiveRequests(t *testing.T) {
	tables := newModuleTables()
	tables.addRequest(newSharedState(key(1), 1))
	tables.addRequest(newSharedState(key(1), 2))

	assert.Panics(t, tables.verify)
}

func TestVerifyRejittedCodeOfInactiveRequest(t *testing.T) {
	tables := newModuleTables()
	s := newSharedState(key(1), 1)
	tables.addRequest(s)
	ms := newMethodState(CompiledMethod{ID: methodID(1, 0), Entry: 0x8000}, s)
	ms.jump = JumpToRejittedCode
	tables.addMethod(ms)

	assert.Panics(t, tables.verify)

	s.state.Store(int32(StateActive))
	assert.NotPanics(t, tables.verify)
}
