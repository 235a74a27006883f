// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/rejit/internal/controller"
	"go.opentelemetry.io/rejit/rejit"
)

func TestParseArgsDefaults(t *testing.T) {
	cfg, err := parseArgs(nil)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, defaultArgReclaimInterval, cfg.ReclaimInterval)
	assert.Equal(t, uint(rejit.DefaultErrorHistorySize), cfg.ErrorHistorySize)
	assert.Equal(t, uint(defaultArgWorkers), cfg.Workers)
	flags, err := cfg.CompileFlags()
	require.NoError(t, err)
	assert.Zero(t, flags)
}

func TestParseArgs(t *testing.T) {
	cfg, err := parseArgs([]string{"-v", "-workers", "2", "-rejit-interval", "1s",
		"-default-flags", "debug,minopts"})
	require.NoError(t, err)
	assert.True(t, cfg.VerboseMode)
	assert.Equal(t, uint(2), cfg.Workers)
	assert.Equal(t, time.Second, cfg.RejitInterval)
	flags, err := cfg.CompileFlags()
	require.NoError(t, err)
	assert.Equal(t, rejit.DebugCode|rejit.MinOpts, flags)
}

func TestParseArgsEnvironment(t *testing.T) {
	t.Setenv("REJIT_MODULES", "7")
	cfg, err := parseArgs(nil)
	require.NoError(t, err)
	assert.Equal(t, uint(7), cfg.Modules)
}

func TestParseArgsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rejit.conf")
	require.NoError(t, os.WriteFile(path,
		[]byte("methods-per-module 9\nunknown-option 1\n"), 0o600))

	cfg, err := parseArgs([]string{"-config", path})
	require.NoError(t, err)
	assert.Equal(t, uint(9), cfg.MethodsPerModule)
}

func TestParseArgsUnknownFlag(t *testing.T) {
	_, err := parseArgs([]string{"-no-such-flag"})
	require.Error(t, err)
}

func TestFailureExitCode(t *testing.T) {
	assert.Equal(t, exitFailure, failure(errors.New("boom"), "boom"))
	err := controller.NewErrorWithExitCode(errors.New("incomplete"), controller.ExitIncomplete)
	assert.Equal(t, exitCode(controller.ExitIncomplete), failure(err, "incomplete"))
}
