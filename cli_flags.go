// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"time"

	"github.com/peterbourgon/ff/v3"

	"go.opentelemetry.io/rejit/internal/controller"
	"go.opentelemetry.io/rejit/rejit"
)

const (
	// Default values for CLI flags
	defaultArgDefaultFlags     = "none"
	defaultArgReclaimInterval  = 5 * time.Second
	defaultArgStatsInterval    = 5 * time.Second
	defaultArgModules          = 4
	defaultArgMethodsPerModule = 32
	defaultArgInstantiations   = 2
	defaultArgWorkers          = 8
	defaultArgCallsPerWorker   = 10000
	defaultArgRejitRounds      = 6
	defaultArgRejitInterval    = 100 * time.Millisecond
)

// Help strings for command line arguments
var (
	defaultFlagsHelp = "Compile flags of methods without an active rejit request. " +
		"Comma-separated list of noinline, debug, enterleave and minopts."
	reclaimIntervalHelp  = "Set the interval of the sweep reclaiming reverted rejit state."
	errorHistoryHelp     = "Number of methods whose last rejit failure is remembered."
	statsIntervalHelp    = "Set the interval of the statistics and metrics reports."
	configHelp           = "Path of a configuration file with one flag per line."
	codeHeapSizeHelp     = "Size of the code heap in bytes. Zero estimates it from the workload."
	modulesHelp          = "Number of simulated modules."
	methodsPerModuleHelp = "Number of methods per simulated module."
	instantiationsHelp   = "Number of instantiations called for every generic method. " +
		"Zero disables generic methods."
	workersHelp        = "Number of goroutines calling the simulated methods."
	callsPerWorkerHelp = "Number of calls made by every worker."
	rejitRoundsHelp    = "Number of rejit batches. Even rounds request a rejit of all methods, " +
		"odd rounds revert it."
	rejitIntervalHelp = "Set the pause between two rejit batches."
	fetchFailuresHelp = "Number of injected parameter fetch failures per rejitted method."
	verboseModeHelp   = "Enable verbose logging and debugging capabilities."
	versionHelp       = "Show version."
)

func parseArgs(arguments []string) (*controller.Config, error) {
	var args controller.Config

	fs := flag.NewFlagSet("rejit", flag.ContinueOnError)

	// Please keep the parameters ordered alphabetically in the source-code.
	fs.UintVar(&args.CallsPerWorker, "calls-per-worker", defaultArgCallsPerWorker,
		callsPerWorkerHelp)

	fs.UintVar(&args.CodeHeapSize, "code-heap-size", 0, codeHeapSizeHelp)
	fs.String("config", "", configHelp)

	fs.StringVar(&args.DefaultFlags, "default-flags", defaultArgDefaultFlags, defaultFlagsHelp)

	fs.UintVar(&args.ErrorHistorySize, "error-history-size", rejit.DefaultErrorHistorySize,
		errorHistoryHelp)

	fs.UintVar(&args.FetchFailures, "fetch-failures", 0, fetchFailuresHelp)

	fs.UintVar(&args.Instantiations, "instantiations", defaultArgInstantiations,
		instantiationsHelp)

	fs.UintVar(&args.MethodsPerModule, "methods-per-module", defaultArgMethodsPerModule,
		methodsPerModuleHelp)
	fs.UintVar(&args.Modules, "modules", defaultArgModules, modulesHelp)

	fs.DurationVar(&args.ReclaimInterval, "reclaim-interval", defaultArgReclaimInterval,
		reclaimIntervalHelp)
	fs.DurationVar(&args.RejitInterval, "rejit-interval", defaultArgRejitInterval,
		rejitIntervalHelp)
	fs.UintVar(&args.RejitRounds, "rejit-rounds", defaultArgRejitRounds, rejitRoundsHelp)

	fs.DurationVar(&args.StatsInterval, "stats-interval", defaultArgStatsInterval,
		statsIntervalHelp)

	fs.BoolVar(&args.VerboseMode, "v", false, "Shorthand for -verbose.")
	fs.BoolVar(&args.VerboseMode, "verbose", false, verboseModeHelp)
	fs.BoolVar(&args.Version, "version", false, versionHelp)

	fs.UintVar(&args.Workers, "workers", defaultArgWorkers, workersHelp)

	fs.Usage = func() {
		fs.PrintDefaults()
	}

	args.Fs = fs

	return &args, ff.Parse(fs, arguments,
		ff.WithEnvVarPrefix("REJIT"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		// This will ignore configuration file (only) options that the current version
		// does not recognize.
		ff.WithIgnoreUndefined(true),
		ff.WithAllowMissingConfigFile(true),
	)
}
