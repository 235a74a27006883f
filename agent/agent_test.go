// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/rejit/libpf"
	"go.opentelemetry.io/rejit/rejit"
)

func TestAgentParameters(t *testing.T) {
	a := New()
	key := rejit.RequestKey{Module: 1, Token: libpf.MethodDefToken(1)}
	ctx := context.Background()

	_, _, err := a.GetRejitParameters(ctx, key.Module, key.Token)
	require.ErrorIs(t, err, ErrNoScript)

	a.SetScript(key, Script{IL: rejit.IntermediateCode{1, 2}, Flags: rejit.NoInline})
	a.FailFetches(key, 1)
	_, _, err = a.GetRejitParameters(ctx, key.Module, key.Token)
	require.ErrorIs(t, err, ErrInjectedFailure)

	il, flags, err := a.GetRejitParameters(ctx, key.Module, key.Token)
	require.NoError(t, err)
	assert.Equal(t, rejit.IntermediateCode{1, 2}, il)
	assert.Equal(t, rejit.NoInline, flags)

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	_, _, err = a.GetRejitParameters(canceled, key.Module, key.Token)
	assert.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, 1, a.Count(EventFetched))
}

func TestAgentEvents(t *testing.T) {
	a := New()
	id := rejit.CompiledMethodID{Module: 2, Token: libpf.MethodDefToken(3), Instantiation: 1}
	failure := errors.New("boom")

	a.NotifyRejitStarted(id, 7)
	a.NotifyRejitCompleted(id, 7, nil)
	a.ReportRejitError(id.Module, id.Token, id, failure)

	assert.Equal(t, []Event{
		{Kind: EventStarted, Key: id.Key(), Method: id, RejitID: 7},
		{Kind: EventCompleted, Key: id.Key(), Method: id, RejitID: 7},
		{Kind: EventError, Key: id.Key(), Method: id, Err: failure},
	}, a.Events())
	assert.Equal(t, "completed", EventCompleted.String())

	a.Reset()
	assert.Empty(t, a.Events())
}
