// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package config holds the settings of the rejit simulator: the rejit manager itself and the
// simulated workload driving it.
package config // import "go.opentelemetry.io/rejit/config"

import (
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/rejit/rejit"
)

const (
	// MaxModules is the largest number of simulated modules.
	MaxModules = 1024
	// MaxMethodsPerModule keeps the method tokens of a module within one byte of IL.
	MaxMethodsPerModule = 255
)

// Config is the configuration of the rejit simulator.
type Config struct {
	// DefaultFlags are the compile flags of methods without an active rejit request,
	// as accepted by rejit.ParseCompileFlags.
	DefaultFlags string
	// ReclaimInterval is the period of the reclaim sweep.
	ReclaimInterval time.Duration
	// ErrorHistorySize is the number of request keys whose last failure is remembered.
	ErrorHistorySize uint
	// StatsInterval is the period of the statistics and metrics reports.
	StatsInterval time.Duration
	// CodeHeapSize overrides the estimated size of the code heap in bytes.
	CodeHeapSize uint

	// Modules is the number of simulated modules.
	Modules uint
	// MethodsPerModule is the number of methods per module.
	MethodsPerModule uint
	// Instantiations is the number of instantiations called for every generic method.
	Instantiations uint
	// Workers is the number of goroutines calling methods.
	Workers uint
	// CallsPerWorker is the number of calls each worker makes.
	CallsPerWorker uint
	// RejitRounds is the number of request or revert batches issued during the workload.
	RejitRounds uint
	// RejitInterval is the pause between two batches.
	RejitInterval time.Duration
	// FetchFailures injects parameter fetch failures per rejitted method.
	FetchFailures uint

	VerboseMode bool
}

// Validate runs validations on the provided configuration, and returns errors
// if invalid values were provided.
func (cfg *Config) Validate() error {
	if _, err := cfg.CompileFlags(); err != nil {
		return err
	}
	if cfg.ReclaimInterval <= 0 {
		return errors.New("reclaim interval must be positive")
	}
	if cfg.StatsInterval <= 0 {
		return errors.New("stats interval must be positive")
	}
	if cfg.ErrorHistorySize == 0 || cfg.ErrorHistorySize > 1<<20 {
		return fmt.Errorf("invalid error history size %d", cfg.ErrorHistorySize)
	}
	if cfg.Modules == 0 || cfg.Modules > MaxModules {
		return fmt.Errorf("number of modules must be between 1 and %d", MaxModules)
	}
	if cfg.MethodsPerModule == 0 || cfg.MethodsPerModule > MaxMethodsPerModule {
		return fmt.Errorf("methods per module must be between 1 and %d",
			MaxMethodsPerModule)
	}
	if cfg.Workers == 0 {
		return errors.New("at least one worker is required")
	}
	if cfg.RejitRounds > 0 && cfg.RejitInterval <= 0 {
		return errors.New("rejit interval must be positive")
	}
	return nil
}

// CompileFlags returns the parsed default compile flags.
func (cfg *Config) CompileFlags() (rejit.CompileFlags, error) {
	flags, err := rejit.ParseCompileFlags(cfg.DefaultFlags)
	if err != nil {
		return 0, fmt.Errorf("invalid default compile flags: %w", err)
	}
	return flags, nil
}
