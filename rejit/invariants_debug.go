// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build debug

package rejit // import "go.opentelemetry.io/rejit/rejit"

import "fmt"

// verify panics if the tables are inconsistent. The caller holds the module lock.
func (t *moduleTables) verify() {
	for key, states := range t.requests {
		live := 0
		for _, s := range states {
			if s.key != key {
				panic(fmt.Sprintf("request %v filed under %v", s.key, key))
			}
			if s.State() != StateReverted {
				live++
			}
		}
		if live > 1 {
			panic(fmt.Sprintf("%d live rejit requests for %v", live, key))
		}
	}
	for id, states := range t.methods {
		live := 0
		for _, ms := range states {
			if ms.jump == JumpNone {
				continue
			}
			live++
			if ms.jump != JumpToRejittedCode {
				continue
			}
			s := ms.request()
			if s == nil || s.State() != StateActive {
				panic(fmt.Sprintf("method %v runs rejitted code of an inactive request", id))
			}
		}
		if live > 1 {
			panic(fmt.Sprintf("%d stamped method states for %v", live, id))
		}
	}
}
