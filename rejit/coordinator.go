// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package rejit implements the dynamic re-compilation manager of the runtime: an external
// profiling agent requests that compiled methods are recompiled from new intermediate code while
// the program keeps running, and calls are steered from the old code to the new one by jump
// stamps on the method entries.
//
// The Coordinator owns the global lock taken by request and revert batches. Every module has a
// Manager owning the module lock that guards its request and method tables.
package rejit // import "go.opentelemetry.io/rejit/rejit"

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/rejit/libpf"
	"go.opentelemetry.io/rejit/libpf/freelru"
	"go.opentelemetry.io/rejit/metrics"
	"go.opentelemetry.io/rejit/periodiccaller"
)

// DefaultErrorHistorySize is the number of request keys whose last failure is remembered.
const DefaultErrorHistorySize = 1024

// Config wires the collaborators of the Coordinator.
type Config struct {
	Controller Controller
	Compiler   Compiler
	Patcher    CodePatcher
	Resolver   MethodResolver
	// Suspender is optional. If set, the runtime is suspended while a batch patches code.
	Suspender Suspender

	// Prestub is the redirect target of methods waiting for their rejitted code.
	Prestub libpf.Address
	// DefaultFlags are the flags of methods without an active request.
	DefaultFlags CompileFlags
	// ErrorHistorySize bounds the error history. Zero selects DefaultErrorHistorySize.
	ErrorHistorySize uint32
}

func (cfg *Config) validate() error {
	switch {
	case cfg.Controller == nil:
		return errors.New("missing controller")
	case cfg.Compiler == nil:
		return errors.New("missing compiler")
	case cfg.Patcher == nil:
		return errors.New("missing code patcher")
	case cfg.Resolver == nil:
		return errors.New("missing method resolver")
	case cfg.Prestub == 0:
		return errors.New("missing prestub address")
	}
	return nil
}

// Coordinator dispatches rejit requests to the managers of the affected modules.
type Coordinator struct {
	cfg Config

	// mu is the global lock. It serializes request and revert batches and module
	// (un)registration and is never held across a controller or compiler call.
	mu sync.Mutex

	// modulesMu guards modules. Writers also hold mu.
	modulesMu sync.RWMutex
	modules   map[libpf.ModuleID]*Manager

	rejitIDs atomic.Uint64

	// errors remembers the last failure per request key.
	errors *freelru.SyncedLRU[RequestKey, error]

	requestFailures atomic.Uint64

	// reclaimTrigger requests an early reclaim sweep after a revert.
	reclaimTrigger chan bool
}

// NewCoordinator creates a Coordinator without any module.
func NewCoordinator(cfg Config) (*Coordinator, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid rejit configuration: %w", err)
	}
	size := cfg.ErrorHistorySize
	if size == 0 {
		size = DefaultErrorHistorySize
	}
	history, err := freelru.NewSynced[RequestKey, error](size, RequestKey.Hash32)
	if err != nil {
		return nil, fmt.Errorf("failed to create error history: %w", err)
	}
	return &Coordinator{
		cfg:            cfg,
		modules:        make(map[libpf.ModuleID]*Manager),
		errors:         history,
		reclaimTrigger: make(chan bool, 1),
	}, nil
}

func (c *Coordinator) nextRejitID() RejitID {
	return RejitID(c.rejitIDs.Add(1))
}

// DefaultFlags returns the flags of methods without an active request.
func (c *Coordinator) DefaultFlags() CompileFlags {
	return c.cfg.DefaultFlags
}

// RegisterModule creates the manager of a freshly loaded module. Registering a module twice
// returns the existing manager.
func (c *Coordinator) RegisterModule(module libpf.ModuleID) *Manager {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modulesMu.Lock()
	defer c.modulesMu.Unlock()

	if mgr, ok := c.modules[module]; ok {
		return mgr
	}
	mgr := newManager(module, c)
	c.modules[module] = mgr
	log.Debugf("Registered %v", module)
	return mgr
}

// Manager returns the manager of a registered module.
func (c *Coordinator) Manager(module libpf.ModuleID) (*Manager, error) {
	c.modulesMu.RLock()
	defer c.modulesMu.RUnlock()

	mgr, ok := c.modules[module]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrModuleNotFound, module)
	}
	return mgr, nil
}

// Modules returns the registered modules in ascending order.
func (c *Coordinator) Modules() []libpf.ModuleID {
	c.modulesMu.RLock()
	modules := libpf.MapKeysToSlice(c.modules)
	c.modulesMu.RUnlock()

	slices.Sort(modules)
	return modules
}

// UnloadModule drops all rejit state of a module. Method states and requests still referenced by
// running threads stay valid for them.
func (c *Coordinator) UnloadModule(module libpf.ModuleID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.modulesMu.Lock()
	mgr, ok := c.modules[module]
	delete(c.modules, module)
	c.modulesMu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %v", ErrModuleNotFound, module)
	}
	for _, key := range mgr.unload() {
		c.errors.Remove(key)
	}
	log.Infof("Unloaded %v", module)
	return nil
}

// RequestRejit requests rejit of the given methods. Methods in different modules may be mixed.
// Failing targets are listed in the returned *RequestError, the others are processed.
func (c *Coordinator) RequestRejit(targets []RequestKey) error {
	return c.batch("rejit", targets, (*Manager).requestRejitLocked)
}

// RequestRevert reverts the rejit of the given methods. Failing targets are listed in the
// returned *RequestError, the others are processed.
func (c *Coordinator) RequestRevert(targets []RequestKey) error {
	err := c.batch("revert", targets, (*Manager).requestRevertLocked)
	select {
	case c.reclaimTrigger <- true:
	default:
	}
	return err
}

type batchFunc func(mgr *Manager, tokens []libpf.MethodToken) []*TargetError

func (c *Coordinator) batch(op string, targets []RequestKey, fn batchFunc) error {
	if len(targets) == 0 {
		return nil
	}
	fields := log.Fields{
		"batch":   uuid.New().String(),
		"targets": len(targets),
	}
	start := time.Now()

	failures := c.batchLocked(targets, fn)

	c.requestFailures.Add(uint64(len(failures)))
	for _, f := range failures {
		id := CompiledMethodID{Module: f.Key.Module, Token: f.Key.Token}
		if f.Instance != nil {
			id = *f.Instance
		}
		log.WithFields(fields).Warnf("Failed to %s %v", op, f)
		c.recordError(id, f.Err)
		c.reportError(id, f.Err)
	}
	fields["failures"] = len(failures)
	fields["duration"] = time.Since(start)
	log.WithFields(fields).Infof("Processed %s batch", op)
	return requestErrorOrNil(op, failures)
}

// batchLocked runs fn for every module of targets under the global lock.
func (c *Coordinator) batchLocked(targets []RequestKey, fn batchFunc) []*TargetError {
	c.mu.Lock()
	defer c.mu.Unlock()

	byModule := make(map[libpf.ModuleID][]libpf.MethodToken)
	for key := range libpf.SliceToSet(targets) {
		byModule[key.Module] = append(byModule[key.Module], key.Token)
	}
	for _, tokens := range byModule {
		slices.Sort(tokens)
	}
	modules := libpf.MapKeysToSlice(byModule)
	slices.Sort(modules)

	var failures []*TargetError
	managers := make([]*Manager, 0, len(modules))
	c.modulesMu.RLock()
	for _, module := range modules {
		mgr, ok := c.modules[module]
		if !ok {
			for _, token := range byModule[module] {
				failures = append(failures, &TargetError{
					Key: RequestKey{Module: module, Token: token},
					Err: ErrModuleNotFound,
				})
			}
			continue
		}
		managers = append(managers, mgr)
	}
	c.modulesMu.RUnlock()

	if c.cfg.Suspender != nil && len(managers) > 0 {
		resume := c.cfg.Suspender.SuspendRuntime()
		defer resume()
	}
	for _, mgr := range managers {
		failures = append(failures, fn(mgr, byModule[mgr.module])...)
	}
	return failures
}

// recordError logs a failure and remembers it as the last error of its key. Safe to call with
// locks held.
func (c *Coordinator) recordError(id CompiledMethodID, err error) {
	log.WithFields(log.Fields{
		"module": id.Module,
		"method": id,
	}).Debugf("Recording rejit error: %v", err)
	c.errors.Add(id.Key(), err)
}

// reportError hands a failure to the controller. Must not be called with any lock held.
func (c *Coordinator) reportError(id CompiledMethodID, err error) {
	c.cfg.Controller.ReportRejitError(id.Module, id.Token, id, err)
}

// LastError returns the most recent failure recorded for key, or nil.
func (c *Coordinator) LastError(key RequestKey) error {
	err, _ := c.errors.Get(key)
	return err
}

// Reclaim runs the reclaim sweep over all modules.
func (c *Coordinator) Reclaim() (requests, methods int) {
	for _, module := range c.Modules() {
		mgr, err := c.Manager(module)
		if err != nil {
			// Unloaded in the meantime.
			continue
		}
		r, m := mgr.Reclaim()
		requests += r
		methods += m
	}
	if requests+methods > 0 {
		log.Debugf("Reclaimed %d request and %d method states", requests, methods)
	}
	return requests, methods
}

// StartReclaim runs the reclaim sweep every interval and after revert batches until ctx is
// done. The returned function stops the sweep.
func (c *Coordinator) StartReclaim(ctx context.Context, interval time.Duration) func() {
	return periodiccaller.StartWithManualTrigger(ctx, interval, c.reclaimTrigger,
		func(manualTrigger bool) {
			if manualTrigger {
				log.Debug("Reclaim sweep triggered by revert")
			}
			c.Reclaim()
		})
}

// Stats sums the statistics of all managers.
func (c *Coordinator) Stats() Stats {
	var total Stats
	for _, module := range c.Modules() {
		mgr, err := c.Manager(module)
		if err != nil {
			continue
		}
		st := mgr.Stats()
		total.Requests += st.Requests
		total.MethodStates += st.MethodStates
		total.LiveRequests += st.LiveRequests
		total.StampedMethods += st.StampedMethods
	}
	return total
}

// GetAndResetMetrics returns the counters of the coordinator and all managers since the previous
// call.
func (c *Coordinator) GetAndResetMetrics() []metrics.Metric {
	history := c.errors.GetAndResetStatistics()
	all := [][]metrics.Metric{{
		{ID: metrics.IDRequestFailures,
			Value: metrics.MetricValue(c.requestFailures.Swap(0))},
		{ID: metrics.IDErrorHistoryAdded, Value: metrics.MetricValue(history.Added)},
		{ID: metrics.IDErrorHistoryDeleted, Value: metrics.MetricValue(history.Deleted)},
	}}
	for _, module := range c.Modules() {
		if mgr, err := c.Manager(module); err == nil {
			all = append(all, mgr.GetAndResetMetrics())
		}
	}
	return metrics.Summarize(all...)
}
