// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package codegen is the code generator of the simulated runtime. Every byte of intermediate
// code becomes a `mov al, imm8`, so running a method yields the last byte of its intermediate
// code. The generated bodies are real x86-64 machine code and can be stamped by the
// codeheap.Patcher.
package codegen // import "go.opentelemetry.io/rejit/codegen"

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/rejit/codeheap"
	"go.opentelemetry.io/rejit/rejit"
)

var (
	prologue = []byte{
		0x55,             // push rbp
		0x48, 0x89, 0xe5, // mov rbp, rsp
	}
	epilogue = []byte{
		0x5d, // pop rbp
		0xc3, // ret
	}
	// enterLeaveHook is the patchable slot of profiler enter/leave hooks:
	// nop dword ptr [rax+rax*1+0x0]
	enterLeaveHook = []byte{0x0f, 0x1f, 0x44, 0x00, 0x00}
)

const opMovALImm8 = 0xb0

// ErrEmptyIL is returned for intermediate code without a single instruction.
var ErrEmptyIL = errors.New("empty intermediate code")

// Generate translates intermediate code into a method body.
func Generate(il rejit.IntermediateCode, flags rejit.CompileFlags) ([]byte, error) {
	if len(il) == 0 {
		return nil, ErrEmptyIL
	}
	code := make([]byte, 0, len(prologue)+2*len(enterLeaveHook)+2*len(il)+len(epilogue))
	code = append(code, prologue...)
	if flags&rejit.ProfilerEnterLeave != 0 {
		code = append(code, enterLeaveHook...)
	}
	for _, b := range il {
		code = append(code, opMovALImm8, b)
	}
	if flags&rejit.ProfilerEnterLeave != 0 {
		code = append(code, enterLeaveHook...)
	}
	return append(code, epilogue...), nil
}

// Compiler implements rejit.Compiler on top of a code heap.
type Compiler struct {
	heap *codeheap.Heap

	compiles atomic.Uint64
}

// NewCompiler returns a compiler emitting into heap.
func NewCompiler(heap *codeheap.Heap) *Compiler {
	return &Compiler{heap: heap}
}

// Compile generates the body and copies it into the code heap.
func (c *Compiler) Compile(ctx context.Context, id rejit.CompiledMethodID,
	il rejit.IntermediateCode, flags rejit.CompileFlags) (rejit.CodeVersion, error) {
	if err := ctx.Err(); err != nil {
		return rejit.CodeVersion{}, err
	}
	code, err := Generate(il, flags)
	if err != nil {
		return rejit.CodeVersion{}, fmt.Errorf("%v: %w", id, err)
	}
	start, err := c.heap.Alloc(id.String(), code)
	if err != nil {
		return rejit.CodeVersion{}, fmt.Errorf("%v: %w", id, err)
	}
	c.compiles.Add(1)
	log.Debugf("Generated %d bytes for %v at %v (%v)", len(code), id, start, flags)

	return rejit.CodeVersion{
		Method: id,
		Start:  start,
		Size:   uint32(len(code)),
		Flags:  flags,
	}, nil
}

// Compiles returns the number of successful compilations.
func (c *Compiler) Compiles() uint64 {
	return c.compiles.Load()
}
