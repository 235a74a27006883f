// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package rejit // import "go.opentelemetry.io/rejit/rejit"

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"

	"go.opentelemetry.io/rejit/libpf"
)

// RequestKey identifies a method definition across all of its instantiations.
type RequestKey struct {
	Module libpf.ModuleID
	Token  libpf.MethodToken
}

func (k RequestKey) String() string {
	return fmt.Sprintf("%v:%v", k.Module, k.Token)
}

// Hash32 returns a 32 bits hash of the key.
// It's main purpose is to be used as key for caching.
func (k RequestKey) Hash32() uint32 {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(k.Module))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(k.Token))
	return uint32(xxh3.Hash(buf[:]))
}

// InstantiationID distinguishes the instantiations of a generic method. Non-generic methods
// only ever have instantiation 0.
type InstantiationID uint32

// CompiledMethodID identifies one concrete compiled method.
type CompiledMethodID struct {
	Module        libpf.ModuleID
	Token         libpf.MethodToken
	Instantiation InstantiationID
}

// Key returns the request key the method belongs to.
func (id CompiledMethodID) Key() RequestKey {
	return RequestKey{Module: id.Module, Token: id.Token}
}

func (id CompiledMethodID) String() string {
	if id.Instantiation == 0 {
		return id.Key().String()
	}
	return fmt.Sprintf("%v<%d>", id.Key(), id.Instantiation)
}

// IntermediateCode is the method body handed to the compiler.
type IntermediateCode []byte

// CompileFlags control the behavior of the compiler.
type CompileFlags uint32

const (
	// NoInline forbids inlining callees into the method.
	NoInline CompileFlags = 1 << iota
	// DebugCode requests unoptimized, debuggable code.
	DebugCode
	// ProfilerEnterLeave emits enter/leave hooks for the profiler.
	ProfilerEnterLeave
	// MinOpts compiles with minimal optimizations.
	MinOpts
)

var compileFlagNames = []struct {
	flag CompileFlags
	name string
}{
	{NoInline, "noinline"},
	{DebugCode, "debug"},
	{ProfilerEnterLeave, "enterleave"},
	{MinOpts, "minopts"},
}

func (f CompileFlags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, fn := range compileFlagNames {
		if f&fn.flag != 0 {
			parts = append(parts, fn.name)
			f &^= fn.flag
		}
	}
	if f != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", uint32(f)))
	}
	return strings.Join(parts, "|")
}

// ParseCompileFlags parses a comma or pipe separated list of flag names.
func ParseCompileFlags(s string) (CompileFlags, error) {
	var flags CompileFlags
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '|' || r == ' '
	})
	for _, field := range fields {
		if field == "none" {
			continue
		}
		found := false
		for _, fn := range compileFlagNames {
			if strings.EqualFold(field, fn.name) {
				flags |= fn.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown compile flag %q", field)
		}
	}
	return flags, nil
}

// RejitID is the process-unique number of a rejit request. Newer requests have larger IDs.
type RejitID uint64

// CodeVersion identifies one compiled instance of a method body.
type CodeVersion struct {
	Method  CompiledMethodID
	RejitID RejitID
	Start   libpf.Address
	Size    uint32
	Flags   CompileFlags
}

// IsValid checks if the version points to generated code.
func (v CodeVersion) IsValid() bool {
	return v.Start != 0 && v.Size != 0
}

func (v CodeVersion) String() string {
	return fmt.Sprintf("%v#%d@%v+%d", v.Method, v.RejitID, v.Start, v.Size)
}

// SharedState is the state of a rejit request.
type SharedState int32

const (
	StateRequested SharedState = iota
	StateGettingParameters
	StateActive
	StateReverted
)

func (s SharedState) String() string {
	switch s {
	case StateRequested:
		return "Requested"
	case StateGettingParameters:
		return "GettingParameters"
	case StateActive:
		return "Active"
	case StateReverted:
		return "Reverted"
	default:
		return fmt.Sprintf("SharedState(%d)", int32(s))
	}
}

// JumpState describes where calls to a compiled method currently land.
type JumpState uint8

const (
	// JumpNone means the method runs its normally compiled code.
	JumpNone JumpState = iota
	// JumpToPrestub means calls are redirected into the slow dispatch path.
	JumpToPrestub
	// JumpToRejittedCode means calls are redirected into the rejitted code.
	JumpToRejittedCode
)

func (s JumpState) String() string {
	switch s {
	case JumpNone:
		return "None"
	case JumpToPrestub:
		return "ToPrestub"
	case JumpToRejittedCode:
		return "ToRejittedCode"
	default:
		return fmt.Sprintf("JumpState(%d)", uint8(s))
	}
}

// MethodKind classifies a method token at request time.
type MethodKind uint8

const (
	// KindOrdinary is a non-generic method that was already compiled.
	KindOrdinary MethodKind = iota
	// KindGeneric is a generic method with zero or more compiled instantiations.
	KindGeneric
	// KindNotYetCompiled is a non-generic method that was never called.
	KindNotYetCompiled
)

func (k MethodKind) String() string {
	switch k {
	case KindOrdinary:
		return "ordinary"
	case KindGeneric:
		return "generic"
	case KindNotYetCompiled:
		return "not-yet-compiled"
	default:
		return fmt.Sprintf("MethodKind(%d)", uint8(k))
	}
}

// CompiledMethod is a method instance known to the runtime together with its entry point.
type CompiledMethod struct {
	ID    CompiledMethodID
	Entry libpf.Address
}

// MethodShape is the resolution of a method token into concrete compiled methods.
type MethodShape struct {
	Kind MethodKind
	// Instances lists the compiled instances. Empty for KindNotYetCompiled.
	Instances []CompiledMethod
}
