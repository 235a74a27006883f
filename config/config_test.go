// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/rejit/rejit"
)

func validConfig() Config {
	return Config{
		DefaultFlags:     "minopts",
		ReclaimInterval:  time.Second,
		ErrorHistorySize: 16,
		StatsInterval:    time.Second,
		Modules:          2,
		MethodsPerModule: 8,
		Instantiations:   2,
		Workers:          4,
		CallsPerWorker:   100,
		RejitRounds:      3,
		RejitInterval:    time.Millisecond,
	}
}

func TestValidate(t *testing.T) {
	tests := map[string]struct {
		modify  func(cfg *Config)
		wantErr string
	}{
		"valid":      {modify: func(*Config) {}},
		"bad flags":  {modify: func(cfg *Config) { cfg.DefaultFlags = "fast" }, wantErr: "fast"},
		"no reclaim": {modify: func(cfg *Config) { cfg.ReclaimInterval = 0 }, wantErr: "reclaim"},
		"no stats":   {modify: func(cfg *Config) { cfg.StatsInterval = 0 }, wantErr: "stats"},
		"no history": {modify: func(cfg *Config) { cfg.ErrorHistorySize = 0 }, wantErr: "history"},
		"no modules": {modify: func(cfg *Config) { cfg.Modules = 0 }, wantErr: "modules"},
		"too many methods": {
			modify:  func(cfg *Config) { cfg.MethodsPerModule = 256 },
			wantErr: "methods",
		},
		"no workers": {modify: func(cfg *Config) { cfg.Workers = 0 }, wantErr: "worker"},
		"no rejit interval": {
			modify:  func(cfg *Config) { cfg.RejitInterval = 0 },
			wantErr: "interval",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			test.modify(&cfg)
			err := cfg.Validate()
			if test.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), test.wantErr)
		})
	}
}

func TestCompileFlags(t *testing.T) {
	cfg := validConfig()
	cfg.DefaultFlags = "noinline,minopts"
	flags, err := cfg.CompileFlags()
	require.NoError(t, err)
	assert.Equal(t, rejit.NoInline|rejit.MinOpts, flags)
}
