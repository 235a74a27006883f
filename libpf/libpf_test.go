// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMethodTokenRow(t *testing.T) {
	assert.Equal(t, uint32(42), MethodDefToken(42).Row())
	assert.Equal(t, uint32(0x123456), MethodDefToken(0xff123456).Row())
}

func TestMethodToken(t *testing.T) {
	tests := []struct {
		name  string
		token MethodToken
		isDef bool
		str   string
	}{
		{
			name:  "first row",
			token: MethodDefToken(1),
			isDef: true,
			str:   "0x06000001",
		},
		{
			name:  "row zero",
			token: MethodToken(0x06000000),
			isDef: false,
			str:   "0x06000000",
		},
		{
			name:  "typedef table",
			token: MethodToken(0x02000004),
			isDef: false,
			str:   "0x02000004",
		},
		{
			name:  "nil token",
			token: 0,
			isDef: false,
			str:   "0x00000000",
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.isDef, test.token.IsMethodDef())
			assert.Equal(t, test.str, test.token.String())
		})
	}
}

func TestAddressString(t *testing.T) {
	assert.Equal(t, "0x7f0000001000", Address(0x7f0000001000).String())
}

func TestSliceToSet(t *testing.T) {
	set := SliceToSet([]ModuleID{1, 2, 2, 3})
	assert.Len(t, set, 3)
	assert.ElementsMatch(t, []ModuleID{1, 2, 3}, MapKeysToSlice(set))
}
