// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// rejit runs a simulated managed runtime whose methods are re-compiled and reverted while
// worker goroutines keep calling them.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"go.opentelemetry.io/rejit/internal/controller"
	"go.opentelemetry.io/rejit/vc"
)

type exitCode int

const (
	exitSuccess exitCode = 0
	exitFailure exitCode = controller.ExitFailure

	// Go 'flag' package calls os.Exit(2) on flag parse errors, if ExitOnError is set
	exitParseError exitCode = controller.ExitParseError
)

func main() {
	os.Exit(int(mainWithExitCode()))
}

func mainWithExitCode() exitCode {
	cfg, err := parseArgs(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitSuccess
		}
		return parseError("Failure to parse arguments: %v", err)
	}

	if cfg.Version {
		fmt.Printf("%s\n", vc.Version())
		return exitSuccess
	}

	if cfg.VerboseMode {
		log.SetLevel(log.DebugLevel)
		// Dump the arguments in debug mode.
		cfg.Dump()
	}

	if err = cfg.Validate(); err != nil {
		return parseError("Invalid configuration: %v", err)
	}

	// Context to drive main goroutine and the workload.
	mainCtx, mainCancel := signal.NotifyContext(context.Background(),
		unix.SIGINT, unix.SIGTERM, unix.SIGABRT)
	defer mainCancel()

	log.Infof("Starting rejit simulator %s", vc.Summary())

	ctlr := controller.New(cfg)
	if err = ctlr.Start(mainCtx); err != nil {
		return failure(err, "Failed to start: %v", err)
	}
	defer ctlr.Shutdown()

	summary, err := ctlr.Run(mainCtx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("Interrupted")
			return exitSuccess
		}
		return failure(err, "Workload failed: %v", err)
	}
	log.Infof("Done: %d call(s), %d rejit batch(es), %d request(s) left",
		summary.Calls, summary.Batches, summary.Rejit.Requests)

	log.Info("Exiting ...")
	return exitSuccess
}

func parseError(msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	return exitParseError
}

// failure logs and maps err to the exit code it carries.
func failure(err error, msg string, args ...any) exitCode {
	log.Errorf(msg, args...)
	var exitErr controller.ErrorWithExitCode
	if errors.As(err, &exitErr) {
		return exitCode(exitErr.Code())
	}
	return exitFailure
}
