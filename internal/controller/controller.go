// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/rejit/internal/controller"

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"go.opentelemetry.io/rejit/agent"
	"go.opentelemetry.io/rejit/codegen"
	"go.opentelemetry.io/rejit/codeheap"
	"go.opentelemetry.io/rejit/host"
	"go.opentelemetry.io/rejit/libpf"
	"go.opentelemetry.io/rejit/metrics"
	"go.opentelemetry.io/rejit/metrics/runtimemetrics"
	"go.opentelemetry.io/rejit/rejit"
)

const (
	// genericEvery makes every n-th method of a module generic.
	genericEvery = 4
	// rejitMarker tags the last byte of rejitted intermediate code.
	rejitMarker = 0x80
)

// Summary describes a finished workload.
type Summary struct {
	host.Stats
	Compiles      uint64
	CallErrors    uint64
	Batches       uint64
	BatchFailures uint64
	Rejit         rejit.Stats
}

// Controller is an instance that runs, manages and stops the simulator.
type Controller struct {
	config          *Config
	agent           *agent.Agent
	metricsReporter metrics.Reporter

	heap     *codeheap.Heap
	compiler *codegen.Compiler
	runtime  *host.Runtime
	coord    *rejit.Coordinator

	keys []rejit.RequestKey
	ids  []rejit.CompiledMethodID

	callErrors    atomic.Uint64
	batches       atomic.Uint64
	batchFailures atomic.Uint64
	// reportedCallErrors is the value of callErrors at the previous report.
	reportedCallErrors atomic.Uint64

	stop []func()
}

// New creates a new controller.
func New(cfg *Config, opts ...Option) *Controller {
	c := &Controller{config: cfg}
	for _, opt := range opts {
		c = opt.applyOption(c)
	}
	if c.agent == nil {
		c.agent = agent.New()
	}
	return c
}

// Start builds the simulated runtime and the rejit coordinator and starts the background
// reclaim and reporting.
// The controller should only be started once.
func (c *Controller) Start(ctx context.Context) error {
	if c.config == nil {
		return errors.New("missing configuration")
	}
	if err := c.config.Validate(); err != nil {
		return NewErrorWithExitCode(err, ExitParseError)
	}
	defaultFlags, err := c.config.CompileFlags()
	if err != nil {
		return err
	}

	size := codeHeapSize(&c.config.Config)
	heap, err := codeheap.New(size)
	if err != nil {
		return fmt.Errorf("failed to create code heap: %w", err)
	}
	c.heap = heap
	c.stop = append(c.stop, func() {
		if err := heap.Close(); err != nil {
			log.Errorf("Failed to release code heap: %v", err)
		}
	})
	log.Debugf("Code heap of %d bytes at %v", size, heap.Base())

	patcher := codeheap.NewPatcher(heap)
	c.compiler = codegen.NewCompiler(heap)
	c.runtime, err = host.New(heap, patcher, c.compiler)
	if err != nil {
		return err
	}

	c.coord, err = rejit.NewCoordinator(rejit.Config{
		Controller:       c.agent,
		Compiler:         c.compiler,
		Patcher:          patcher,
		Resolver:         c.runtime,
		Suspender:        c.runtime,
		Prestub:          c.runtime.Prestub(),
		DefaultFlags:     defaultFlags,
		ErrorHistorySize: uint32(c.config.ErrorHistorySize),
	})
	if err != nil {
		return fmt.Errorf("failed to create rejit coordinator: %w", err)
	}
	c.runtime.Attach(c.coord)

	if err = c.loadModules(); err != nil {
		return err
	}

	c.stop = append(c.stop,
		c.coord.StartReclaim(ctx, c.config.ReclaimInterval),
		runtimemetrics.Start(ctx, c.config.StatsInterval, heap.Stats),
		c.startReporter(ctx))

	log.Infof("Simulating %d module(s) with %d method instance(s)", c.config.Modules,
		len(c.ids))
	return nil
}

// loadModules loads the simulated modules. Every method returns its row number and every
// genericEvery-th method is generic.
func (c *Controller) loadModules() error {
	cfg := c.config
	for m := range cfg.Modules {
		module := libpf.ModuleID(m + 1)
		defs := make([]host.MethodDef, 0, cfg.MethodsPerModule)
		for row := uint32(1); row <= uint32(cfg.MethodsPerModule); row++ {
			def := host.MethodDef{
				Token:   libpf.MethodDefToken(row),
				IL:      rejit.IntermediateCode{byte(row)},
				Generic: cfg.Instantiations > 0 && row%genericEvery == 0,
			}
			defs = append(defs, def)
			c.keys = append(c.keys, rejit.RequestKey{Module: module, Token: def.Token})

			if !def.Generic {
				c.ids = append(c.ids, rejit.CompiledMethodID{Module: module, Token: def.Token})
				continue
			}
			for inst := range cfg.Instantiations {
				c.ids = append(c.ids, rejit.CompiledMethodID{
					Module:        module,
					Token:         def.Token,
					Instantiation: rejit.InstantiationID(inst + 1),
				})
			}
		}
		if err := c.runtime.LoadModule(module, defs); err != nil {
			return fmt.Errorf("failed to load %v: %w", module, err)
		}
	}
	return nil
}

// Run runs the workload: worker goroutines call the simulated methods while the rejit driver
// alternates between requesting and reverting rejits of all methods.
func (c *Controller) Run(ctx context.Context) (Summary, error) {
	if c.coord == nil {
		return Summary{}, errors.New("controller not started")
	}
	started := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	for w := range c.config.Workers {
		g.Go(func() error {
			return c.work(gctx, int(w))
		})
	}
	g.Go(func() error {
		return c.drive(gctx)
	})
	err := g.Wait()

	summary := c.Summary()
	log.Infof("Workload finished after %v: %d call(s), %d slow path, %d compile(s)",
		time.Since(started), summary.Calls, summary.SlowPath, summary.Compiles)
	if err != nil {
		return summary, err
	}
	if summary.CallErrors > 0 || summary.BatchFailures > 0 {
		return summary, NewErrorWithExitCode(fmt.Errorf("%d call(s) and %d batch(es) failed",
			summary.CallErrors, summary.BatchFailures), ExitIncomplete)
	}
	return summary, nil
}

// work makes the calls of one worker. Failed calls are counted and do not stop the worker.
func (c *Controller) work(ctx context.Context, worker int) error {
	for i := range int(c.config.CallsPerWorker) {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := c.ids[(worker*7+i)%len(c.ids)]
		if _, err := c.runtime.Call(ctx, id); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.callErrors.Add(1)
			log.Debugf("Call of %v failed: %v", id, err)
		}
	}
	return nil
}

// drive issues the rejit rounds. Even rounds request a rejit of all methods with freshly
// scripted parameters, odd rounds revert them.
func (c *Controller) drive(ctx context.Context) error {
	if c.config.RejitRounds == 0 {
		return nil
	}
	ticker := time.NewTicker(c.config.RejitInterval)
	defer ticker.Stop()

	for round := range c.config.RejitRounds {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		var err error
		if round%2 == 0 {
			c.script(round)
			err = c.coord.RequestRejit(c.keys)
		} else {
			err = c.coord.RequestRevert(c.keys)
		}
		c.batches.Add(1)
		if err != nil {
			c.batchFailures.Add(1)
			log.Warnf("Rejit round %d: %v", round, err)
		}
	}
	return nil
}

// script sets the agent parameters of a request round. Rejitted methods return the round
// tagged with rejitMarker.
func (c *Controller) script(round uint) {
	for _, key := range c.keys {
		c.agent.SetScript(key, agent.Script{
			IL:    rejit.IntermediateCode{byte(key.Token.Row()), rejitMarker | byte(round&0x7f)},
			Flags: rejit.ProfilerEnterLeave | rejit.NoInline,
		})
		if n := c.config.FetchFailures; n > 0 {
			c.agent.FailFetches(key, int(n))
		}
	}
}

// Summary returns the statistics of the workload so far.
func (c *Controller) Summary() Summary {
	return Summary{
		Stats:         c.runtime.Stats(),
		Compiles:      c.compiler.Compiles(),
		CallErrors:    c.callErrors.Load(),
		Batches:       c.batches.Load(),
		BatchFailures: c.batchFailures.Load(),
		Rejit:         c.coord.Stats(),
	}
}

// Shutdown stops the controller
func (c *Controller) Shutdown() {
	log.Info("Stop processing ...")
	if c.coord != nil {
		c.report()
		metrics.Flush()
	}
	for i := len(c.stop) - 1; i >= 0; i-- {
		c.stop[i]()
	}
	c.stop = nil
}
