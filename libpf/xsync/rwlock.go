// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package xsync // import "go.opentelemetry.io/rejit/libpf/xsync"

import "sync"

// RWMutex is a thin wrapper around sync.RWMutex that hides away the data it protects to ensure it's
// not accidentally accessed without actually holding the lock.
//
// The re-compilation manager keeps its request and method tables behind one of these so that the
// only way to reach a table is through the module lock:
//
//	type moduleTables struct {
//		requests map[RequestKey][]*sharedState
//	}
//
//	type Manager struct {
//		tables xsync.RWMutex[moduleTables]
//	}
//
//	func (mgr *Manager) RequestState(token libpf.MethodToken) (SharedState, bool) {
//		t := mgr.tables.RLock()
//		defer mgr.tables.RUnlock(&t)
//		states := t.requests[RequestKey{Module: mgr.module, Token: token}]
//		if len(states) == 0 {
//			return 0, false
//		}
//		return states[len(states)-1].State(), true
//	}
//
// Forgetting the lock doesn't compile, and using the pointer after unlocking crashes immediately
// because the unlock functions nil out the caller's reference.
type RWMutex[T any] struct {
	guarded T
	mutex   sync.RWMutex
}

// NewRWMutex creates a new read-write mutex.
func NewRWMutex[T any](guarded T) RWMutex[T] {
	return RWMutex[T]{
		guarded: guarded,
	}
}

// RLock locks the mutex for reading, returning a pointer to the protected data.
//
// The caller **must not** write to the data pointed to by the returned pointer.
//
// Further, the caller **must not** let the returned pointer leak out of the scope of the function
// where it was originally created, except for temporarily borrowing it to other functions.
func (mtx *RWMutex[T]) RLock() *T {
	mtx.mutex.RLock()
	return &mtx.guarded
}

// RUnlock unlocks the mutex after previously being locked by RLock.
//
// Pass a reference to the pointer returned from RLock here to ensure it is invalidated.
func (mtx *RWMutex[T]) RUnlock(ref **T) {
	*ref = nil
	mtx.mutex.RUnlock()
}

// WLock locks the mutex for writing, returning a pointer to the protected data.
//
// The same leaking rules as for RLock apply.
func (mtx *RWMutex[T]) WLock() *T {
	mtx.mutex.Lock()
	return &mtx.guarded
}

// WUnlock unlocks the mutex after previously being locked by WLock.
//
// Pass a reference to the pointer returned from WLock here to ensure it is invalidated.
func (mtx *RWMutex[T]) WUnlock(ref **T) {
	*ref = nil
	mtx.mutex.Unlock()
}
