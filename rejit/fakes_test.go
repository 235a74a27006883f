// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package rejit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/rejit/libpf"
)

const (
	testModule  libpf.ModuleID = 1
	testPrestub libpf.Address  = 0x1000
	testDefault                = MinOpts
)

var (
	errFetch   = errors.New("controller unavailable")
	errCompile = errors.New("compiler out of memory")
	errPatch   = errors.New("entry not writable")
)

type fakeController struct {
	mu       sync.Mutex
	params   map[RequestKey]rejitParameters
	reported []error

	fetches       atomic.Int32
	fetchFailures atomic.Int32
	started       atomic.Int32
	completed     atomic.Int32

	// entered and block pause GetRejitParameters when set.
	entered chan struct{}
	block   chan struct{}
}

func (c *fakeController) set(key RequestKey, il IntermediateCode, flags CompileFlags) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params[key] = rejitParameters{il: il, flags: flags}
}

func (c *fakeController) GetRejitParameters(_ context.Context, module libpf.ModuleID,
	token libpf.MethodToken) (IntermediateCode, CompileFlags, error) {
	c.fetches.Add(1)
	if c.entered != nil {
		c.entered <- struct{}{}
	}
	if c.block != nil {
		<-c.block
	}
	if c.fetchFailures.Add(-1) >= 0 {
		return nil, 0, errFetch
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.params[RequestKey{Module: module, Token: token}]
	if !ok {
		return IntermediateCode{0x2a}, NoInline, nil
	}
	return p.il, p.flags, nil
}

func (c *fakeController) NotifyRejitStarted(CompiledMethodID, RejitID) {
	c.started.Add(1)
}

func (c *fakeController) NotifyRejitCompleted(CompiledMethodID, RejitID, error) {
	c.completed.Add(1)
}

func (c *fakeController) ReportRejitError(_ libpf.ModuleID, _ libpf.MethodToken,
	_ CompiledMethodID, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reported = append(c.reported, err)
}

func (c *fakeController) reportedErrors() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.reported...)
}

type fakeCompiler struct {
	calls    atomic.Int32
	failures atomic.Int32
	next     atomic.Uint64

	entered chan struct{}
	block   chan struct{}
}

func (c *fakeCompiler) Compile(_ context.Context, id CompiledMethodID, il IntermediateCode,
	flags CompileFlags) (CodeVersion, error) {
	c.calls.Add(1)
	if c.entered != nil {
		c.entered <- struct{}{}
	}
	if c.block != nil {
		<-c.block
	}
	if c.failures.Add(-1) >= 0 {
		return CodeVersion{}, errCompile
	}
	start := 0x100000 + c.next.Add(1)*0x100
	return CodeVersion{
		Method: id,
		Start:  libpf.Address(start),
		Size:   uint32(len(il)),
		Flags:  flags,
	}, nil
}

type fakePatcher struct {
	mu          sync.Mutex
	stamps      map[libpf.Address]libpf.Address
	failInstall libpf.Set[libpf.Address]
	installs    int
}

func (p *fakePatcher) InstallRedirect(entry, target libpf.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.failInstall[entry]; ok {
		return errPatch
	}
	p.stamps[entry] = target
	p.installs++
	return nil
}

func (p *fakePatcher) RemoveRedirect(entry libpf.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.stamps[entry]; !ok {
		return fmt.Errorf("no stamp at %v", entry)
	}
	delete(p.stamps, entry)
	return nil
}

func (p *fakePatcher) target(entry libpf.Address) (libpf.Address, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	target, ok := p.stamps[entry]
	return target, ok
}

type fakeResolver struct {
	mu     sync.Mutex
	shapes map[RequestKey]MethodShape
	errs   map[RequestKey]error
}

func (r *fakeResolver) set(key RequestKey, shape MethodShape) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shapes[key] = shape
}

func (r *fakeResolver) ResolveMethod(module libpf.ModuleID,
	token libpf.MethodToken) (MethodShape, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := RequestKey{Module: module, Token: token}
	if err, ok := r.errs[key]; ok {
		return MethodShape{}, err
	}
	shape, ok := r.shapes[key]
	if !ok {
		return MethodShape{}, fmt.Errorf("%w: %v", ErrInvalidToken, key)
	}
	return shape, nil
}

type fakeSuspender struct {
	suspended atomic.Int32
	resumed   atomic.Int32
}

func (s *fakeSuspender) SuspendRuntime() func() {
	s.suspended.Add(1)
	return func() { s.resumed.Add(1) }
}

type fixture struct {
	ctrl      *fakeController
	comp      *fakeCompiler
	patcher   *fakePatcher
	resolver  *fakeResolver
	suspender *fakeSuspender
	coord     *Coordinator
	mgr       *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctrl: &fakeController{params: make(map[RequestKey]rejitParameters)},
		comp: &fakeCompiler{},
		patcher: &fakePatcher{
			stamps:      make(map[libpf.Address]libpf.Address),
			failInstall: make(libpf.Set[libpf.Address]),
		},
		resolver: &fakeResolver{
			shapes: make(map[RequestKey]MethodShape),
			errs:   make(map[RequestKey]error),
		},
		suspender: &fakeSuspender{},
	}
	coord, err := NewCoordinator(Config{
		Controller:       f.ctrl,
		Compiler:         f.comp,
		Patcher:          f.patcher,
		Resolver:         f.resolver,
		Suspender:        f.suspender,
		Prestub:          testPrestub,
		DefaultFlags:     testDefault,
		ErrorHistorySize: 16,
	})
	require.NoError(t, err)
	f.coord = coord
	f.mgr = coord.RegisterModule(testModule)
	return f
}

func key(row uint32) RequestKey {
	return RequestKey{Module: testModule, Token: libpf.MethodDefToken(row)}
}

func methodID(row uint32, inst InstantiationID) CompiledMethodID {
	return CompiledMethodID{Module: testModule, Token: libpf.MethodDefToken(row),
		Instantiation: inst}
}

func entryOf(id CompiledMethodID) libpf.Address {
	return libpf.Address(0x8000 + uint64(id.Token&0xffff)*0x100 + uint64(id.Instantiation)*0x10)
}

// addOrdinary registers a compiled non-generic method.
func (f *fixture) addOrdinary(row uint32) CompiledMethod {
	cm := CompiledMethod{ID: methodID(row, 0)}
	cm.Entry = entryOf(cm.ID)
	f.resolver.set(key(row), MethodShape{Kind: KindOrdinary, Instances: []CompiledMethod{cm}})
	return cm
}

// addGeneric registers a generic method with n compiled instantiations.
func (f *fixture) addGeneric(row uint32, n int) []CompiledMethod {
	shape := MethodShape{Kind: KindGeneric}
	for i := 1; i <= n; i++ {
		cm := CompiledMethod{ID: methodID(row, InstantiationID(i))}
		cm.Entry = entryOf(cm.ID)
		shape.Instances = append(shape.Instances, cm)
	}
	f.resolver.set(key(row), shape)
	return shape.Instances
}

// addNotYetCompiled registers a method that was never called.
func (f *fixture) addNotYetCompiled(row uint32) CompiledMethod {
	cm := CompiledMethod{ID: methodID(row, 0)}
	cm.Entry = entryOf(cm.ID)
	f.resolver.set(key(row), MethodShape{Kind: KindNotYetCompiled})
	return cm
}
