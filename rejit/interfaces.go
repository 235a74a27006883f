// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package rejit // import "go.opentelemetry.io/rejit/rejit"

import (
	"context"

	"go.opentelemetry.io/rejit/libpf"
)

// Controller is the external profiling agent driving rejit requests.
//
// None of the methods is ever called while a rejit lock is held.
type Controller interface {
	// GetRejitParameters returns the intermediate code and compile flags of a requested method.
	GetRejitParameters(ctx context.Context, module libpf.ModuleID,
		token libpf.MethodToken) (IntermediateCode, CompileFlags, error)
	// NotifyRejitStarted is called before a method instance is compiled for a request.
	NotifyRejitStarted(id CompiledMethodID, rejitID RejitID)
	// NotifyRejitCompleted is called after the compile attempt of a method instance.
	NotifyRejitCompleted(id CompiledMethodID, rejitID RejitID, err error)
	// ReportRejitError reports a failed fetch, compile or patch.
	ReportRejitError(module libpf.ModuleID, token libpf.MethodToken, id CompiledMethodID,
		err error)
}

// Compiler generates native code.
type Compiler interface {
	Compile(ctx context.Context, id CompiledMethodID, il IntermediateCode,
		flags CompileFlags) (CodeVersion, error)
}

// CodePatcher installs and removes jump stamps on method entries. Both operations must be
// fast and non-blocking since they run under the module lock.
type CodePatcher interface {
	InstallRedirect(entry, target libpf.Address) error
	RemoveRedirect(entry libpf.Address) error
}

// MethodResolver classifies a method token and lists its compiled instances.
type MethodResolver interface {
	ResolveMethod(module libpf.ModuleID, token libpf.MethodToken) (MethodShape, error)
}

// Suspender stops all managed threads. The returned function resumes them.
type Suspender interface {
	SuspendRuntime() (resume func())
}
