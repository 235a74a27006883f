// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package host // import "go.opentelemetry.io/rejit/host"

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/rejit/codegen"
	"go.opentelemetry.io/rejit/libpf"
	"go.opentelemetry.io/rejit/libpf/xsync"
	"go.opentelemetry.io/rejit/rejit"
)

// maxDispatch bounds the number of times a call re-reads a stamp that changed under it.
const maxDispatch = 8

var ErrDispatch = errors.New("method entry kept changing during dispatch")

// Call runs a method and returns its result. The first call of a method instance compiles it.
// Calls to a method redirected to the prestub take the rejit slow path: a failed rejit fails the
// call and the next call retries.
func (r *Runtime) Call(ctx context.Context, id rejit.CompiledMethodID) (uint8, error) {
	r.counters.calls.Add(1)
	coord := r.coord.Load()
	if coord == nil {
		return 0, ErrNotAttached
	}
	mgr, err := coord.Manager(id.Module)
	if err != nil {
		return 0, err
	}
	first, err := r.ensureCompiled(ctx, mgr, id)
	if err != nil {
		return 0, err
	}
	if first.ran {
		return first.result, first.err
	}

	for range maxDispatch {
		result, onPrestub, err := r.run(first.entry)
		if !onPrestub {
			return result, err
		}

		r.counters.slowPath.Add(1)
		v, err := mgr.Rejit(ctx, id)
		switch {
		case err == nil:
			// Jump straight into the new code instead of waiting for the next call.
			result, _, err = r.run(v.Start)
			return result, err
		case errors.Is(err, rejit.ErrNoActiveRequest), errors.Is(err, rejit.ErrRequestReverted):
			// The stamp changed under us: dispatch again.
			continue
		default:
			return 0, fmt.Errorf("rejit of %v failed: %w", id, err)
		}
	}
	return 0, fmt.Errorf("%v: %w", id, ErrDispatch)
}

// run executes the code a call to entry lands in. It reports instead whether the call lands in
// the prestub.
func (r *Runtime) run(entry libpf.Address) (result uint8, onPrestub bool, err error) {
	r.world.RLock()
	defer r.world.RUnlock()

	snap, err := r.patcher.Load(entry)
	if err != nil {
		return 0, false, err
	}
	if snap.Target == r.prestub {
		return 0, true, nil
	}
	result, err = codegen.Run(snap.Code)
	return result, false, err
}

// firstCall is the outcome of ensureCompiled.
type firstCall struct {
	entry libpf.Address
	// ran is set for the call that compiled the method and already ran the fresh code.
	ran    bool
	result uint8
	err    error
}

// ensureCompiled returns the entry of a method instance, compiling it on first use. The
// instance is published before the rejit manager learns about it so that a concurrent request
// either sees it or leaves it to the pre-rejit hook.
func (r *Runtime) ensureCompiled(ctx context.Context, mgr *rejit.Manager,
	id rejit.CompiledMethodID) (firstCall, error) {
	r.mu.Lock()
	m, err := r.methodLocked(id.Module, id.Token)
	if err != nil {
		r.mu.Unlock()
		return firstCall{}, err
	}
	if entry, ok := m.instances[id.Instantiation]; ok {
		r.mu.Unlock()
		return firstCall{entry: entry}, nil
	}
	if m.def.NativeOnly {
		r.mu.Unlock()
		return firstCall{}, fmt.Errorf("%v: native only methods can not be called", id)
	}
	if !m.def.Generic && id.Instantiation != 0 {
		r.mu.Unlock()
		return firstCall{}, fmt.Errorf("%v: %w", id, rejit.ErrInvalidInstantiation)
	}
	once, ok := r.compiled[id]
	if !ok {
		once = &xsync.Once[libpf.Address]{}
		r.compiled[id] = once
	}
	il := m.def.IL
	r.mu.Unlock()

	var first firstCall
	entry, err := once.GetOrInit(func() (libpf.Address, error) {
		flags := mgr.GetCurrentRejitFlags(id)
		v, err := r.compiler.Compile(ctx, id, il, flags)
		if err != nil {
			return 0, fmt.Errorf("failed to compile %v: %w", id, err)
		}

		r.mu.Lock()
		m, err := r.methodLocked(id.Module, id.Token)
		if err == nil {
			m.instances[id.Instantiation] = v.Start
		}
		r.mu.Unlock()
		if err != nil {
			return 0, err
		}
		r.counters.firstCompiles.Add(1)

		// The compiling thread runs the code it just generated, unless a concurrent request
		// already stamped it.
		var onPrestub bool
		first.result, onPrestub, first.err = r.run(v.Start)
		first.ran = !onPrestub

		jump := mgr.OnMethodCompiled(rejit.CompiledMethod{ID: id, Entry: v.Start})
		log.Debugf("First compilation of %v at %v: %v", id, v.Start, jump)
		return v.Start, nil
	})
	if err != nil {
		return firstCall{}, err
	}
	first.entry = *entry
	return first, nil
}
