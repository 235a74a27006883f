// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package xsync // import "go.opentelemetry.io/rejit/libpf/xsync"

import (
	"sync"
	"sync/atomic"
)

// NOTE: synchronization logic closely borrowed from sync.Once

// Once is a lock that ensures that some data is initialized exactly once.
//
// Unlike sync.Once a failing initializer leaves the Once uninitialized and the next caller
// retries.
//
// Does not need explicit construction: simply do Once[MyType]{}.
type Once[T any] struct {
	done atomic.Bool
	mu   sync.Mutex
	data T

	// failures counts failed init calls, err is the error of the latest one. err is guarded
	// by mu.
	failures atomic.Uint64
	err      error
}

// GetOrInit the data protected by this lock.
//
// If the init function fails, the error is returned and the data is still
// considered to be uninitialized. The init function will then be called
// again on the next GetOrInit call. Only one thread will ever call init
// at the same time.
func (l *Once[T]) GetOrInit(init func() (T, error)) (*T, error) {
	if !l.done.Load() {
		// Outlined slow-path to allow inlining of the fast-path.
		return l.initSlow(init, false)
	}

	return &l.data, nil
}

// GetOrInitShared is GetOrInit, except that callers blocked while a failing
// init ran receive its error instead of calling init again. Only callers
// arriving after the failure retry.
func (l *Once[T]) GetOrInitShared(init func() (T, error)) (*T, error) {
	if !l.done.Load() {
		return l.initSlow(init, true)
	}

	return &l.data, nil
}

func (l *Once[T]) initSlow(init func() (T, error), share bool) (*T, error) {
	failures := l.failures.Load()

	l.mu.Lock()
	defer l.mu.Unlock()

	// Contending call might have initialized while we waited for the lock.
	if l.done.Load() {
		return &l.data, nil
	}
	// Or failed to.
	if share && l.failures.Load() != failures {
		return nil, l.err
	}

	data, err := init()
	if err != nil {
		l.err = err
		l.failures.Add(1)
		return nil, err
	}

	l.data = data
	l.done.Store(true)
	return &l.data, nil
}

// Get the previously initialized value.
//
// If the Once is not yet initialized, nil is returned.
func (l *Once[T]) Get() *T {
	if !l.done.Load() {
		return nil
	}

	return &l.data
}
