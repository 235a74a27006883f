// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package codegen // import "go.opentelemetry.io/rejit/codegen"

import (
	"errors"
	"fmt"

	"golang.org/x/arch/x86/x86asm"
)

var (
	ErrNoReturn     = errors.New("method body does not return")
	ErrUnsupported  = errors.New("unsupported instruction")
	ErrStackBalance = errors.New("unbalanced stack")
)

// Run executes a generated method body and returns the value of AL at the `ret`.
//
// Only the instructions emitted by Generate are understood. A jump stamp is not: callers resolve
// redirects before running a body.
func Run(code []byte) (uint8, error) {
	var al uint8
	depth := 0
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			return 0, fmt.Errorf("failed to decode at +%d: %w", off, err)
		}
		switch inst.Op {
		case x86asm.PUSH:
			depth++
		case x86asm.POP:
			depth--
		case x86asm.NOP:
		case x86asm.MOV:
			if inst.Args[0] == x86asm.AL {
				imm, ok := inst.Args[1].(x86asm.Imm)
				if !ok {
					return 0, fmt.Errorf("%w at +%d: %v", ErrUnsupported, off, inst)
				}
				al = uint8(imm)
			}
		case x86asm.RET:
			if depth != 0 {
				return 0, fmt.Errorf("%w at +%d", ErrStackBalance, off)
			}
			return al, nil
		default:
			return 0, fmt.Errorf("%w at +%d: %v", ErrUnsupported, off, inst)
		}
		off += inst.Len
	}
	return 0, ErrNoReturn
}
