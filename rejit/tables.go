// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package rejit // import "go.opentelemetry.io/rejit/rejit"

import (
	"go.opentelemetry.io/rejit/libpf"
)

// moduleTables holds the request and the method table of one module. Guarded by the module
// lock of the owning Manager.
type moduleTables struct {
	// requests holds every request state per key. At most one of them is not reverted.
	requests map[RequestKey][]*sharedState
	// methods holds every method state per compiled method. At most one of them is stamped.
	methods map[CompiledMethodID][]*methodState
	// byKey indexes the compiled methods that ever had a state per request key.
	byKey map[RequestKey]libpf.Set[CompiledMethodID]

	unloaded bool
}

func newModuleTables() moduleTables {
	return moduleTables{
		requests: make(map[RequestKey][]*sharedState),
		methods:  make(map[CompiledMethodID][]*methodState),
		byKey:    make(map[RequestKey]libpf.Set[CompiledMethodID]),
	}
}

// liveRequest returns the request that is not reverted, if any.
func liveRequest(states []*sharedState) *sharedState {
	for i := len(states) - 1; i >= 0; i-- {
		if states[i].State() != StateReverted {
			return states[i]
		}
	}
	return nil
}

// liveMethod returns the method state that is stamped, if any.
func liveMethod(states []*methodState) *methodState {
	for i := len(states) - 1; i >= 0; i-- {
		if states[i].jump != JumpNone {
			return states[i]
		}
	}
	return nil
}

func (t *moduleTables) addRequest(s *sharedState) {
	t.requests[s.key] = append(t.requests[s.key], s)
}

func (t *moduleTables) addMethod(ms *methodState) {
	t.methods[ms.id] = append(t.methods[ms.id], ms)
	key := ms.id.Key()
	ids, ok := t.byKey[key]
	if !ok {
		ids = make(libpf.Set[CompiledMethodID])
		t.byKey[key] = ids
	}
	ids[ms.id] = libpf.Void{}
}

// liveMethodsFor returns the stamped method states of all instances of key.
func (t *moduleTables) liveMethodsFor(key RequestKey) []*methodState {
	var out []*methodState
	for id := range t.byKey[key] {
		if ms := liveMethod(t.methods[id]); ms != nil {
			out = append(out, ms)
		}
	}
	return out
}

// reclaim drops reverted requests and unstamped method states. Threads still working with a
// dropped state keep their own reference to it.
func (t *moduleTables) reclaim() (requests, methods int) {
	for key, states := range t.requests {
		live := liveRequest(states)
		requests += len(states)
		if live == nil {
			delete(t.requests, key)
			continue
		}
		requests--
		t.requests[key] = []*sharedState{live}
	}
	for id, states := range t.methods {
		live := liveMethod(states)
		methods += len(states)
		if live == nil {
			delete(t.methods, id)
			key := id.Key()
			delete(t.byKey[key], id)
			if len(t.byKey[key]) == 0 {
				delete(t.byKey, key)
			}
			continue
		}
		methods--
		t.methods[id] = []*methodState{live}
	}
	return requests, methods
}

// counts returns the number of request and method states held.
func (t *moduleTables) counts() (requests, methods int) {
	for _, states := range t.requests {
		requests += len(states)
	}
	for _, states := range t.methods {
		methods += len(states)
	}
	return requests, methods
}
