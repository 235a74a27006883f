// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements a scripted profiling agent. It hands out the intermediate code and
// compile flags scripted per method and records every notification it receives.
package agent // import "go.opentelemetry.io/rejit/agent"

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/rejit/libpf"
	"go.opentelemetry.io/rejit/rejit"
)

var (
	ErrNoScript        = errors.New("no rejit script for method")
	ErrInjectedFailure = errors.New("injected parameter fetch failure")
)

// EventKind is the type of a recorded controller callback.
type EventKind uint8

const (
	EventFetched EventKind = iota
	EventStarted
	EventCompleted
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventFetched:
		return "fetched"
	case EventStarted:
		return "started"
	case EventCompleted:
		return "completed"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event is one recorded controller callback.
type Event struct {
	Kind    EventKind
	Key     rejit.RequestKey
	Method  rejit.CompiledMethodID
	RejitID rejit.RejitID
	Err     error
}

// Script is the rejit input of one method.
type Script struct {
	IL    rejit.IntermediateCode
	Flags rejit.CompileFlags
}

// Agent implements rejit.Controller.
type Agent struct {
	mu       sync.Mutex
	scripts  map[rejit.RequestKey]Script
	failures map[rejit.RequestKey]int
	events   []Event
}

var _ rejit.Controller = (*Agent)(nil)

// New returns an agent without scripts.
func New() *Agent {
	return &Agent{
		scripts:  make(map[rejit.RequestKey]Script),
		failures: make(map[rejit.RequestKey]int),
	}
}

// SetScript sets what the agent returns for key.
func (a *Agent) SetScript(key rejit.RequestKey, script Script) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scripts[key] = script
}

// FailFetches makes the next n parameter fetches of key fail.
func (a *Agent) FailFetches(key rejit.RequestKey, n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[key] = n
}

// GetRejitParameters implements rejit.Controller.
func (a *Agent) GetRejitParameters(ctx context.Context, module libpf.ModuleID,
	token libpf.MethodToken) (rejit.IntermediateCode, rejit.CompileFlags, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	key := rejit.RequestKey{Module: module, Token: token}

	a.mu.Lock()
	defer a.mu.Unlock()
	if n := a.failures[key]; n > 0 {
		a.failures[key] = n - 1
		return nil, 0, fmt.Errorf("%v: %w", key, ErrInjectedFailure)
	}
	script, ok := a.scripts[key]
	if !ok {
		return nil, 0, fmt.Errorf("%w %v", ErrNoScript, key)
	}
	a.events = append(a.events, Event{Kind: EventFetched, Key: key})
	log.Debugf("Agent: parameters for %v: %d bytes, %v", key, len(script.IL), script.Flags)
	return script.IL, script.Flags, nil
}

// NotifyRejitStarted implements rejit.Controller.
func (a *Agent) NotifyRejitStarted(id rejit.CompiledMethodID, rejitID rejit.RejitID) {
	a.record(Event{Kind: EventStarted, Key: id.Key(), Method: id, RejitID: rejitID})
}

// NotifyRejitCompleted implements rejit.Controller.
func (a *Agent) NotifyRejitCompleted(id rejit.CompiledMethodID, rejitID rejit.RejitID,
	err error) {
	a.record(Event{Kind: EventCompleted, Key: id.Key(), Method: id, RejitID: rejitID, Err: err})
}

// ReportRejitError implements rejit.Controller.
func (a *Agent) ReportRejitError(module libpf.ModuleID, token libpf.MethodToken,
	id rejit.CompiledMethodID, err error) {
	log.WithFields(log.Fields{
		"module": module,
		"token":  token,
	}).Warnf("Agent: rejit error for %v: %v", id, err)
	a.record(Event{Kind: EventError, Key: rejit.RequestKey{Module: module, Token: token},
		Method: id, Err: err})
}

func (a *Agent) record(ev Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, ev)
}

// Events returns a copy of the recorded events.
func (a *Agent) Events() []Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Event(nil), a.events...)
}

// Count returns the number of recorded events of a kind.
func (a *Agent) Count(kind EventKind) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, ev := range a.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// Reset drops the recorded events.
func (a *Agent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = nil
}
