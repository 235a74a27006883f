// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package rejit // import "go.opentelemetry.io/rejit/rejit"

import (
	"weak"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/rejit/libpf"
	"go.opentelemetry.io/rejit/libpf/xsync"
)

// methodState tracks where calls to one compiled method instance land.
//
// jump and version are guarded by the module lock. The state never owns its request: the
// request table does.
type methodState struct {
	id    CompiledMethodID
	entry libpf.Address

	shared weak.Pointer[sharedState]

	jump    JumpState
	version CodeVersion

	// compiled holds the code generated for this instance. Only one compile runs at a time
	// and a failed compile is retried by the next caller. Callers waiting for it share its error.
	compiled xsync.Once[CodeVersion]
}

func newMethodState(cm CompiledMethod, shared *sharedState) *methodState {
	return &methodState{
		id:     cm.ID,
		entry:  cm.Entry,
		shared: weak.Make(shared),
	}
}

func (ms *methodState) setJump(to JumpState) {
	log.Debugf("Method %v @%v: %v -> %v", ms.id, ms.entry, ms.jump, to)
	ms.jump = to
}

// toPrestub redirects the entry into the slow dispatch path. An entry that is already stamped,
// for example by a superseded state, is retargeted.
func (ms *methodState) toPrestub(p CodePatcher, prestub libpf.Address) error {
	if err := p.InstallRedirect(ms.entry, prestub); err != nil {
		return err
	}
	ms.setJump(JumpToPrestub)
	return nil
}

// toRejittedCode redirects the entry into freshly generated code.
func (ms *methodState) toRejittedCode(p CodePatcher, v CodeVersion) error {
	if err := p.InstallRedirect(ms.entry, v.Start); err != nil {
		return err
	}
	ms.version = v
	ms.setJump(JumpToRejittedCode)
	return nil
}

// toNone removes the redirect so calls fall through to the original body. The state leaves the
// stamped set even if the stamp could not be removed.
func (ms *methodState) toNone(p CodePatcher) error {
	if ms.jump == JumpNone {
		return nil
	}
	err := p.RemoveRedirect(ms.entry)
	ms.setJump(JumpNone)
	return err
}

// supersede hands the stamp over to a newer state without touching the code. Returns whether
// the entry was stamped.
func (ms *methodState) supersede() bool {
	stamped := ms.jump != JumpNone
	if stamped {
		ms.setJump(JumpNone)
	}
	return stamped
}

// request returns the request the state was created for, or nil once it was collected.
func (ms *methodState) request() *sharedState {
	return ms.shared.Value()
}
