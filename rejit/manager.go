// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package rejit // import "go.opentelemetry.io/rejit/rejit"

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/rejit/libpf"
	"go.opentelemetry.io/rejit/libpf/xsync"
	"go.opentelemetry.io/rejit/metrics"
	"go.opentelemetry.io/rejit/successfailurecounter"
)

// managerCounters are the statistics of one Manager.
type managerCounters struct {
	requests          atomic.Uint64
	reverts           atomic.Uint64
	preRejits         atomic.Uint64
	compiles          atomic.Uint64
	compileFailures   atomic.Uint64
	fetches           atomic.Uint64
	fetchFailures     atomic.Uint64
	patchFailures     atomic.Uint64
	installed         atomic.Uint64
	discarded         atomic.Uint64
	reclaimedRequests atomic.Uint64
	reclaimedMethods  atomic.Uint64
}

// Manager owns the rejit tables of one module.
//
// Lock order: the global lock of the Coordinator is always taken before the module lock. Neither
// lock is held while calling the Controller or the Compiler.
type Manager struct {
	module libpf.ModuleID
	coord  *Coordinator

	tables xsync.RWMutex[moduleTables]

	counters managerCounters
}

// Stats is a snapshot of the tables and counters of a Manager.
type Stats struct {
	Requests       int
	MethodStates   int
	LiveRequests   int
	StampedMethods int
}

func newManager(module libpf.ModuleID, coord *Coordinator) *Manager {
	return &Manager{
		module: module,
		coord:  coord,
		tables: xsync.NewRWMutex(newModuleTables()),
	}
}

// Module returns the module the manager is responsible for.
func (mgr *Manager) Module() libpf.ModuleID {
	return mgr.module
}

func (mgr *Manager) keys(tokens []libpf.MethodToken) []RequestKey {
	keys := make([]RequestKey, len(tokens))
	for i, token := range tokens {
		keys[i] = RequestKey{Module: mgr.module, Token: token}
	}
	return keys
}

// RequestRejit requests rejit of the given methods of this module. It takes the global lock.
func (mgr *Manager) RequestRejit(tokens []libpf.MethodToken) error {
	return mgr.coord.RequestRejit(mgr.keys(tokens))
}

// RequestRevert reverts the rejit of the given methods of this module. It takes the global lock.
func (mgr *Manager) RequestRevert(tokens []libpf.MethodToken) error {
	return mgr.coord.RequestRevert(mgr.keys(tokens))
}

// requestRejitLocked creates a request for each token and stamps all compiled instances to the
// prestub. The caller holds the global lock.
func (mgr *Manager) requestRejitLocked(tokens []libpf.MethodToken) []*TargetError {
	cfg := &mgr.coord.cfg

	t := mgr.tables.WLock()
	defer mgr.tables.WUnlock(&t)
	defer t.verify()

	var failures []*TargetError
	for _, token := range tokens {
		key := RequestKey{Module: mgr.module, Token: token}
		if t.unloaded {
			failures = append(failures, &TargetError{Key: key, Err: ErrModuleUnloaded})
			continue
		}
		if !token.IsMethodDef() {
			failures = append(failures, &TargetError{Key: key, Err: ErrInvalidToken})
			continue
		}
		// The shape is resolved under the module lock: a method published by the host
		// afterwards reaches OnMethodCompiled only once this request exists.
		shape, err := cfg.Resolver.ResolveMethod(mgr.module, token)
		if err != nil {
			failures = append(failures, &TargetError{Key: key, Err: err})
			continue
		}

		prev := liveRequest(t.requests[key])
		if prev != nil {
			prev.markReverted()
		}
		s := newSharedState(key, mgr.coord.nextRejitID())
		t.addRequest(s)
		mgr.counters.requests.Add(1)

		stamped := make(libpf.Set[CompiledMethodID], len(shape.Instances))
		for _, cm := range shape.Instances {
			if cm.ID.Key() != key {
				id := cm.ID
				failures = append(failures, &TargetError{Key: key, Instance: &id,
					Err: ErrInvalidInstantiation})
				continue
			}
			if err := mgr.stampLocked(t, cm, s); err != nil {
				id := cm.ID
				failures = append(failures, &TargetError{Key: key, Instance: &id, Err: err})
				continue
			}
			stamped[cm.ID] = libpf.Void{}
		}

		// Instances of the superseded request the resolver no longer reports.
		for _, ms := range t.liveMethodsFor(key) {
			if _, ok := stamped[ms.id]; ok {
				continue
			}
			if err := mgr.unstampLocked(ms); err != nil {
				id := ms.id
				failures = append(failures, &TargetError{Key: key, Instance: &id, Err: err})
			}
		}
		log.Debugf("Rejit request %v #%d: %v with %d instance(s)",
			key, s.rejitID, shape.Kind, len(stamped))
	}
	return failures
}

// stampLocked creates a method state under s and redirects the method to the prestub. A
// stamped state of an older request hands over its stamp.
func (mgr *Manager) stampLocked(t *moduleTables, cm CompiledMethod, s *sharedState) error {
	ms := newMethodState(cm, s)
	old := liveMethod(t.methods[cm.ID])
	wasStamped := old != nil && old.supersede()

	if err := ms.toPrestub(mgr.coord.cfg.Patcher, mgr.coord.cfg.Prestub); err != nil {
		mgr.counters.patchFailures.Add(1)
		if wasStamped {
			// The stamp of the old state still points to its target.
			if rerr := mgr.coord.cfg.Patcher.RemoveRedirect(cm.Entry); rerr != nil {
				err = errors.Join(err, rerr)
			}
		}
		err = fmt.Errorf("failed to stamp %v: %w", cm.Entry, err)
		mgr.coord.recordError(cm.ID, err)
		return err
	}
	t.addMethod(ms)
	return nil
}

func (mgr *Manager) unstampLocked(ms *methodState) error {
	if err := ms.toNone(mgr.coord.cfg.Patcher); err != nil {
		mgr.counters.patchFailures.Add(1)
		err = fmt.Errorf("failed to remove stamp at %v: %w", ms.entry, err)
		mgr.coord.recordError(ms.id, err)
		return err
	}
	return nil
}

// requestRevertLocked reverts the request of each token and removes the stamps of its
// instances. The caller holds the global lock.
func (mgr *Manager) requestRevertLocked(tokens []libpf.MethodToken) []*TargetError {
	t := mgr.tables.WLock()
	defer mgr.tables.WUnlock(&t)
	defer t.verify()

	var failures []*TargetError
	for _, token := range tokens {
		key := RequestKey{Module: mgr.module, Token: token}
		if t.unloaded {
			failures = append(failures, &TargetError{Key: key, Err: ErrModuleUnloaded})
			continue
		}
		if !token.IsMethodDef() {
			failures = append(failures, &TargetError{Key: key, Err: ErrInvalidToken})
			continue
		}
		s := liveRequest(t.requests[key])
		if s == nil {
			failures = append(failures, &TargetError{Key: key, Err: ErrNoActiveRequest})
			continue
		}
		s.markReverted()
		mgr.counters.reverts.Add(1)

		for _, ms := range t.liveMethodsFor(key) {
			if err := mgr.unstampLocked(ms); err != nil {
				id := ms.id
				failures = append(failures, &TargetError{Key: key, Instance: &id, Err: err})
			}
		}
	}
	return failures
}

// DoRejitIfNecessary is called from the slow dispatch path of a method redirected to the
// prestub. It compiles the rejitted code if needed, redirects the method to it and returns the
// new version so the caller can jump there right away.
//
// The second return value is false if the method has no live request or the attempt failed.
// Failures leave the method on the prestub and the next call retries.
func (mgr *Manager) DoRejitIfNecessary(ctx context.Context, id CompiledMethodID) (CodeVersion,
	bool) {
	v, err := mgr.Rejit(ctx, id)
	if err != nil {
		return CodeVersion{}, false
	}
	return v, true
}

// Rejit is DoRejitIfNecessary with the reason of a failed attempt. ErrNoActiveRequest means
// the method is not redirected, ErrRequestReverted means a revert won the race.
func (mgr *Manager) Rejit(ctx context.Context, id CompiledMethodID) (CodeVersion, error) {
	t := mgr.tables.RLock()
	if t.unloaded {
		mgr.tables.RUnlock(&t)
		return CodeVersion{}, ErrModuleUnloaded
	}
	ms := liveMethod(t.methods[id])
	var jump JumpState
	var installed CodeVersion
	if ms != nil {
		jump, installed = ms.jump, ms.version
	}
	mgr.tables.RUnlock(&t)

	if ms == nil {
		return CodeVersion{}, ErrNoActiveRequest
	}
	if jump == JumpToRejittedCode {
		return installed, nil
	}
	s := ms.request()
	if s == nil {
		return CodeVersion{}, ErrRequestReverted
	}

	v, err := ms.compiled.GetOrInitShared(func() (CodeVersion, error) {
		return mgr.compile(ctx, ms, s)
	})
	if err != nil {
		return CodeVersion{}, err
	}
	return mgr.install(ms, s, *v)
}

// compile fetches the parameters of the request and compiles the method. Runs without any lock
// held, at most once at a time per method state.
func (mgr *Manager) compile(ctx context.Context, ms *methodState, s *sharedState) (CodeVersion,
	error) {
	cfg := &mgr.coord.cfg
	sfc := successfailurecounter.NewWithDiscard(&mgr.counters.compiles,
		&mgr.counters.compileFailures, &mgr.counters.discarded)

	params, err := s.parameters(ctx, cfg.Controller, &mgr.counters)
	if err != nil {
		if errors.Is(err, ErrRequestReverted) {
			sfc.ReportDiscard()
			return CodeVersion{}, err
		}
		// Counted as a fetch failure, the compile never started.
		err = fmt.Errorf("failed to get rejit parameters: %w", err)
		mgr.coord.recordError(ms.id, err)
		mgr.coord.reportError(ms.id, err)
		return CodeVersion{}, err
	}
	defer sfc.DefaultToFailure()

	cfg.Controller.NotifyRejitStarted(ms.id, s.rejitID)
	v, err := cfg.Compiler.Compile(ctx, ms.id, params.il, params.flags)
	if err == nil && !v.IsValid() {
		err = ErrInvalidCodeVersion
	}
	cfg.Controller.NotifyRejitCompleted(ms.id, s.rejitID, err)
	if err != nil {
		err = fmt.Errorf("failed to compile: %w", err)
		mgr.coord.recordError(ms.id, err)
		mgr.coord.reportError(ms.id, err)
		return CodeVersion{}, err
	}

	v.Method = ms.id
	v.RejitID = s.rejitID
	v.Flags = params.flags
	sfc.ReportSuccess()
	log.Debugf("Compiled %v with %v", v, params.flags)
	return v, nil
}

// install redirects the method from the prestub into v, unless a revert or a newer request won
// the race in the meantime.
func (mgr *Manager) install(ms *methodState, s *sharedState, v CodeVersion) (CodeVersion, error) {
	v, err := mgr.installLocked(ms, s, v)
	if err != nil && !errors.Is(err, ErrRequestReverted) && !errors.Is(err, ErrModuleUnloaded) {
		mgr.coord.reportError(ms.id, err)
	}
	return v, err
}

func (mgr *Manager) installLocked(ms *methodState, s *sharedState, v CodeVersion) (CodeVersion,
	error) {
	t := mgr.tables.WLock()
	defer mgr.tables.WUnlock(&t)
	defer t.verify()

	if t.unloaded {
		return CodeVersion{}, ErrModuleUnloaded
	}
	if liveMethod(t.methods[ms.id]) != ms || s.State() != StateActive {
		mgr.counters.discarded.Add(1)
		log.Debugf("Discarding %v: request no longer live", v)
		return CodeVersion{}, ErrRequestReverted
	}
	if ms.jump == JumpToRejittedCode {
		return ms.version, nil
	}
	if err := ms.toRejittedCode(mgr.coord.cfg.Patcher, v); err != nil {
		mgr.counters.patchFailures.Add(1)
		err = fmt.Errorf("failed to redirect %v to %v: %w", ms.entry, v.Start, err)
		mgr.coord.recordError(ms.id, err)
		return CodeVersion{}, err
	}
	mgr.counters.installed.Add(1)
	return v, nil
}

// GetCurrentRejitFlags returns the flags the method is compiled with: those of its live request
// once the parameters are known, the default flags otherwise.
func (mgr *Manager) GetCurrentRejitFlags(id CompiledMethodID) CompileFlags {
	t := mgr.tables.RLock()
	defer mgr.tables.RUnlock(&t)

	if s := liveRequest(t.requests[id.Key()]); s != nil {
		if flags, ok := s.flags(); ok {
			return flags
		}
	}
	return mgr.coord.cfg.DefaultFlags
}

// OnMethodCompiled is called by the host after it published the first compilation of a method.
// Under a live request the method is redirected to the prestub right away (pre-rejit). Returns
// where calls to the method land.
func (mgr *Manager) OnMethodCompiled(cm CompiledMethod) JumpState {
	jump, err := mgr.onMethodCompiledLocked(cm)
	if err != nil {
		mgr.coord.reportError(cm.ID, err)
	}
	return jump
}

func (mgr *Manager) onMethodCompiledLocked(cm CompiledMethod) (JumpState, error) {
	t := mgr.tables.WLock()
	defer mgr.tables.WUnlock(&t)
	defer t.verify()

	if t.unloaded {
		return JumpNone, nil
	}
	if ms := liveMethod(t.methods[cm.ID]); ms != nil {
		return ms.jump, nil
	}
	s := liveRequest(t.requests[cm.ID.Key()])
	if s == nil {
		return JumpNone, nil
	}
	if err := mgr.stampLocked(t, cm, s); err != nil {
		return JumpNone, err
	}
	mgr.counters.preRejits.Add(1)
	log.Debugf("Pre-rejit of %v under request #%d", cm.ID, s.rejitID)
	return JumpToPrestub, nil
}

// JumpState returns where calls to the method currently land.
func (mgr *Manager) JumpState(id CompiledMethodID) JumpState {
	t := mgr.tables.RLock()
	defer mgr.tables.RUnlock(&t)

	if ms := liveMethod(t.methods[id]); ms != nil {
		return ms.jump
	}
	return JumpNone
}

// RequestState returns the state of the newest request for key.
func (mgr *Manager) RequestState(token libpf.MethodToken) (SharedState, bool) {
	t := mgr.tables.RLock()
	defer mgr.tables.RUnlock(&t)

	states := t.requests[RequestKey{Module: mgr.module, Token: token}]
	if len(states) == 0 {
		return 0, false
	}
	return states[len(states)-1].State(), true
}

// Reclaim drops reverted requests and stale method states.
func (mgr *Manager) Reclaim() (requests, methods int) {
	t := mgr.tables.WLock()
	defer mgr.tables.WUnlock(&t)

	requests, methods = t.reclaim()
	t.verify()
	mgr.counters.reclaimedRequests.Add(uint64(requests))
	mgr.counters.reclaimedMethods.Add(uint64(methods))
	return requests, methods
}

// unload drops both tables. The caller holds the global lock.
func (mgr *Manager) unload() []RequestKey {
	t := mgr.tables.WLock()
	defer mgr.tables.WUnlock(&t)

	keys := libpf.MapKeysToSlice(t.requests)
	for _, states := range t.requests {
		for _, s := range states {
			s.markReverted()
		}
	}
	*t = newModuleTables()
	t.unloaded = true
	return keys
}

// Stats returns a snapshot of the tables and counters.
func (mgr *Manager) Stats() Stats {
	t := mgr.tables.RLock()
	defer mgr.tables.RUnlock(&t)

	var st Stats
	st.Requests, st.MethodStates = t.counts()
	for _, states := range t.requests {
		if liveRequest(states) != nil {
			st.LiveRequests++
		}
	}
	for _, states := range t.methods {
		if liveMethod(states) != nil {
			st.StampedMethods++
		}
	}
	return st
}

// GetAndResetMetrics returns the counters since the previous call.
func (mgr *Manager) GetAndResetMetrics() []metrics.Metric {
	c := &mgr.counters
	return []metrics.Metric{
		{ID: metrics.IDRejitRequests, Value: metrics.MetricValue(c.requests.Swap(0))},
		{ID: metrics.IDRejitReverts, Value: metrics.MetricValue(c.reverts.Swap(0))},
		{ID: metrics.IDPreRejits, Value: metrics.MetricValue(c.preRejits.Swap(0))},
		{ID: metrics.IDRejitCompiles, Value: metrics.MetricValue(c.compiles.Swap(0))},
		{ID: metrics.IDRejitCompileFailures,
			Value: metrics.MetricValue(c.compileFailures.Swap(0))},
		{ID: metrics.IDParameterFetches, Value: metrics.MetricValue(c.fetches.Swap(0))},
		{ID: metrics.IDParameterFetchFailures,
			Value: metrics.MetricValue(c.fetchFailures.Swap(0))},
		{ID: metrics.IDPatchFailures, Value: metrics.MetricValue(c.patchFailures.Swap(0))},
		{ID: metrics.IDRejitInstalled, Value: metrics.MetricValue(c.installed.Swap(0))},
		{ID: metrics.IDRejitDiscarded, Value: metrics.MetricValue(c.discarded.Swap(0))},
		{ID: metrics.IDReclaimedRequests,
			Value: metrics.MetricValue(c.reclaimedRequests.Swap(0))},
		{ID: metrics.IDReclaimedMethods,
			Value: metrics.MetricValue(c.reclaimedMethods.Swap(0))},
	}
}
