// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package rejit // import "go.opentelemetry.io/rejit/rejit"

import (
	"context"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/rejit/libpf/xsync"
	"go.opentelemetry.io/rejit/successfailurecounter"
)

// rejitParameters are the controller supplied inputs of a request.
type rejitParameters struct {
	il    IntermediateCode
	flags CompileFlags
}

// sharedState is the request level record of a rejit, shared by all instantiations of the
// requested method.
//
// The state only moves forward, except for a failed parameter fetch which moves it back from
// StateGettingParameters to StateRequested. StateReverted is terminal.
type sharedState struct {
	key     RequestKey
	rejitID RejitID

	state atomic.Int32

	// params is filled by the single winner of the parameter fetch. A failed fetch leaves it
	// empty so the next caller retries. Callers waiting for the failed fetch share its error.
	params xsync.Once[rejitParameters]
}

func newSharedState(key RequestKey, rejitID RejitID) *sharedState {
	s := &sharedState{key: key, rejitID: rejitID}
	s.state.Store(int32(StateRequested))
	return s
}

// State returns the current state.
func (s *sharedState) State() SharedState {
	return SharedState(s.state.Load())
}

func (s *sharedState) transition(from, to SharedState) bool {
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	log.Debugf("Rejit request %v #%d: %v -> %v", s.key, s.rejitID, from, to)
	return true
}

// parameters returns the intermediate code and flags of the request, fetching them from the
// controller on first use. Concurrent callers wait for the single fetch in progress and share
// its outcome. Must not be called with any rejit lock held.
func (s *sharedState) parameters(ctx context.Context, ctrl Controller,
	counters *managerCounters) (*rejitParameters, error) {
	p, err := s.params.GetOrInitShared(func() (rejitParameters, error) {
		if !s.transition(StateRequested, StateGettingParameters) {
			return rejitParameters{}, ErrRequestReverted
		}
		sfc := successfailurecounter.New(&counters.fetches, &counters.fetchFailures)
		defer sfc.DefaultToFailure()

		il, flags, err := ctrl.GetRejitParameters(ctx, s.key.Module, s.key.Token)
		if err != nil {
			s.transition(StateGettingParameters, StateRequested)
			return rejitParameters{}, err
		}
		sfc.ReportSuccess()
		return rejitParameters{il: il, flags: flags}, nil
	})
	if err != nil {
		return nil, err
	}

	// All callers race for this transition. Losing against a revert ends the attempt.
	if !s.transition(StateGettingParameters, StateActive) && s.State() != StateActive {
		return nil, ErrRequestReverted
	}
	return p, nil
}

// flags returns the cached compile flags once the request is active.
func (s *sharedState) flags() (CompileFlags, bool) {
	if s.State() != StateActive {
		return 0, false
	}
	p := s.params.Get()
	if p == nil {
		return 0, false
	}
	return p.flags, true
}

// markReverted ends the request. The caller holds the global and the module lock.
func (s *sharedState) markReverted() {
	prev := SharedState(s.state.Swap(int32(StateReverted)))
	if prev != StateReverted {
		log.Debugf("Rejit request %v #%d: %v -> %v", s.key, s.rejitID, prev, StateReverted)
	}
}
