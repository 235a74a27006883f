// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package libpf holds the small value types shared by every package of the
// re-compilation manager: module and method identities and code addresses.
package libpf // import "go.opentelemetry.io/rejit/libpf"

import "fmt"

// ModuleID identifies a loaded module (assembly) of the managed runtime.
type ModuleID uint32

func (m ModuleID) String() string {
	return fmt.Sprintf("module#%d", uint32(m))
}

// MethodToken is the metadata token of a method definition inside its module.
// Definition tokens carry the 0x06 table tag in their top byte.
type MethodToken uint32

const (
	// methodDefTable is the metadata table tag of method definitions.
	methodDefTable = 0x06000000
	tableMask      = 0xff000000
)

// IsMethodDef checks if the token refers to a method definition row.
func (t MethodToken) IsMethodDef() bool {
	return uint32(t)&tableMask == methodDefTable && uint32(t)&^tableMask != 0
}

func (t MethodToken) String() string {
	return fmt.Sprintf("0x%08x", uint32(t))
}

// Row returns the 1-based row number of the token in its metadata table.
func (t MethodToken) Row() uint32 {
	return uint32(t) &^ tableMask
}

// MethodDefToken builds a method definition token from a 1-based row number.
func MethodDefToken(row uint32) MethodToken {
	return MethodToken(methodDefTable | (row &^ tableMask))
}

// Void allows to use maps as sets without memory allocation for the values.
// From the "Go Programming Language":
//
//	The struct type with no fields is called the empty struct, written struct{}. It has size zero
//	and carries no information but may be useful nonetheless. Some Go programmers
//	use it instead of bool as the value type of a map that represents a set, to emphasize
//	that only the keys are significant, but the space saving is marginal and the syntax more
//	cumbersome, so we generally avoid it.
type Void struct{}
