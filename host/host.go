// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package host implements the simulated managed runtime hosting the re-compilation manager:
// modules with ordinary and generic methods, first-call compilation, and call dispatch through
// the jump stamps of the code heap.
package host // import "go.opentelemetry.io/rejit/host"

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/rejit/codegen"
	"go.opentelemetry.io/rejit/codeheap"
	"go.opentelemetry.io/rejit/libpf"
	"go.opentelemetry.io/rejit/libpf/xsync"
	"go.opentelemetry.io/rejit/rejit"
)

// prestubBody is the code of the slow dispatch stub. It is never run: reaching it means the
// dispatcher takes the rejit slow path.
var prestubBody = []byte{0x55, 0x48, 0x89, 0xe5, 0x31, 0xc0, 0x5d, 0xc3}

var ErrNotAttached = errors.New("runtime not attached to a rejit coordinator")

// MethodDef describes a method of a module.
type MethodDef struct {
	Token libpf.MethodToken
	IL    rejit.IntermediateCode
	// Generic methods are compiled once per instantiation.
	Generic bool
	// NativeOnly methods have no intermediate code and can not be rejitted.
	NativeOnly bool
}

type method struct {
	def MethodDef
	// instances maps instantiations to the entry of their first compilation.
	instances map[rejit.InstantiationID]libpf.Address
}

type module struct {
	id      libpf.ModuleID
	methods map[libpf.MethodToken]*method
}

type counters struct {
	calls         atomic.Uint64
	slowPath      atomic.Uint64
	firstCompiles atomic.Uint64
}

// Stats are the call statistics of the runtime.
type Stats struct {
	Calls         uint64
	SlowPath      uint64
	FirstCompiles uint64
}

// Runtime is the simulated managed runtime. It implements rejit.MethodResolver and
// rejit.Suspender.
type Runtime struct {
	heap     *codeheap.Heap
	patcher  *codeheap.Patcher
	compiler rejit.Compiler
	prestub  libpf.Address

	coord atomic.Pointer[rejit.Coordinator]

	// mu guards modules and the first compilations. It is never held while calling into the
	// rejit manager.
	mu       sync.RWMutex
	modules  map[libpf.ModuleID]*module
	compiled map[rejit.CompiledMethodID]*xsync.Once[libpf.Address]

	// world is held for reading while a thread runs method code and for writing while the
	// runtime is suspended.
	world sync.RWMutex

	counters counters
}

// New creates a runtime on top of a code heap and allocates its prestub.
func New(heap *codeheap.Heap, patcher *codeheap.Patcher, compiler rejit.Compiler) (*Runtime,
	error) {
	prestub, err := heap.Alloc("prestub", prestubBody)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate prestub: %w", err)
	}
	return &Runtime{
		heap:     heap,
		patcher:  patcher,
		compiler: compiler,
		prestub:  prestub,
		modules:  make(map[libpf.ModuleID]*module),
		compiled: make(map[rejit.CompiledMethodID]*xsync.Once[libpf.Address]),
	}, nil
}

// Prestub returns the address of the slow dispatch stub.
func (r *Runtime) Prestub() libpf.Address {
	return r.prestub
}

// Attach connects the runtime to the rejit coordinator. Modules loaded before are registered.
func (r *Runtime) Attach(coord *rejit.Coordinator) {
	r.coord.Store(coord)

	r.mu.RLock()
	ids := libpf.MapKeysToSlice(r.modules)
	r.mu.RUnlock()
	for _, id := range ids {
		coord.RegisterModule(id)
	}
}

// LoadModule adds a module with the given methods.
func (r *Runtime) LoadModule(id libpf.ModuleID, defs []MethodDef) error {
	mod := &module{
		id:      id,
		methods: make(map[libpf.MethodToken]*method, len(defs)),
	}
	for _, def := range defs {
		if !def.Token.IsMethodDef() {
			return fmt.Errorf("%w: %v", rejit.ErrInvalidToken, def.Token)
		}
		if !def.NativeOnly && len(def.IL) == 0 {
			return fmt.Errorf("method %v: %w", def.Token, codegen.ErrEmptyIL)
		}
		mod.methods[def.Token] = &method{
			def:       def,
			instances: make(map[rejit.InstantiationID]libpf.Address),
		}
	}

	r.mu.Lock()
	if _, ok := r.modules[id]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%v already loaded", id)
	}
	r.modules[id] = mod
	r.mu.Unlock()

	// Registration takes the global rejit lock and must happen outside of mu.
	if coord := r.coord.Load(); coord != nil {
		coord.RegisterModule(id)
	}
	log.Debugf("Loaded %v with %d method(s)", id, len(defs))
	return nil
}

// UnloadModule removes a module and drops its rejit state.
func (r *Runtime) UnloadModule(id libpf.ModuleID) error {
	r.mu.Lock()
	_, ok := r.modules[id]
	delete(r.modules, id)
	for cid := range r.compiled {
		if cid.Module == id {
			delete(r.compiled, cid)
		}
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %v", rejit.ErrModuleNotFound, id)
	}

	if coord := r.coord.Load(); coord != nil {
		return coord.UnloadModule(id)
	}
	return nil
}

// ResolveMethod classifies a method token. Implements rejit.MethodResolver.
func (r *Runtime) ResolveMethod(id libpf.ModuleID,
	token libpf.MethodToken) (rejit.MethodShape, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, err := r.methodLocked(id, token)
	if err != nil {
		return rejit.MethodShape{}, err
	}
	if m.def.NativeOnly {
		return rejit.MethodShape{}, fmt.Errorf("%w: %v is native only", rejit.ErrNotRejittable,
			token)
	}

	shape := rejit.MethodShape{Kind: rejit.KindOrdinary}
	switch {
	case m.def.Generic:
		shape.Kind = rejit.KindGeneric
	case len(m.instances) == 0:
		shape.Kind = rejit.KindNotYetCompiled
	}
	for inst, entry := range m.instances {
		shape.Instances = append(shape.Instances, rejit.CompiledMethod{
			ID: rejit.CompiledMethodID{
				Module:        id,
				Token:         token,
				Instantiation: inst,
			},
			Entry: entry,
		})
	}
	slices.SortFunc(shape.Instances, func(a, b rejit.CompiledMethod) int {
		return int(a.ID.Instantiation) - int(b.ID.Instantiation)
	})
	return shape, nil
}

func (r *Runtime) methodLocked(id libpf.ModuleID, token libpf.MethodToken) (*method, error) {
	mod, ok := r.modules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", rejit.ErrModuleNotFound, id)
	}
	m, ok := mod.methods[token]
	if !ok {
		return nil, fmt.Errorf("%w: %v not defined in %v", rejit.ErrInvalidToken, token, id)
	}
	return m, nil
}

// SuspendRuntime waits for all running method code to return and blocks new calls until the
// returned function is called. Implements rejit.Suspender.
func (r *Runtime) SuspendRuntime() func() {
	r.world.Lock()
	return r.world.Unlock
}

// Stats returns the call statistics.
func (r *Runtime) Stats() Stats {
	return Stats{
		Calls:         r.counters.calls.Load(),
		SlowPath:      r.counters.slowPath.Load(),
		FirstCompiles: r.counters.firstCompiles.Load(),
	}
}
