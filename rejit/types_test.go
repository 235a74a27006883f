// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package rejit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileFlags(t *testing.T) {
	tests := map[string]struct {
		input    string
		expected CompileFlags
		str      string
	}{
		"empty":      {input: "", expected: 0, str: "none"},
		"none":       {input: "none", expected: 0, str: "none"},
		"single":     {input: "noinline", expected: NoInline, str: "noinline"},
		"comma list": {input: "minopts,debug", expected: MinOpts | DebugCode, str: "debug|minopts"},
		"pipe list": {input: "NoInline|EnterLeave", expected: NoInline | ProfilerEnterLeave,
			str: "noinline|enterleave"},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			flags, err := ParseCompileFlags(test.input)
			require.NoError(t, err)
			assert.Equal(t, test.expected, flags)
			assert.Equal(t, test.str, flags.String())
		})
	}

	_, err := ParseCompileFlags("noinline,turbo")
	assert.ErrorContains(t, err, "turbo")
	assert.Equal(t, "noinline|0x100", (NoInline | 0x100).String())
}

func TestRequestKeyHash(t *testing.T) {
	a := key(1)
	assert.Equal(t, a.Hash32(), key(1).Hash32())
	assert.NotEqual(t, a.Hash32(), key(2).Hash32())
	assert.Equal(t, a, methodID(1, 3).Key())
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "GettingParameters", StateGettingParameters.String())
	assert.Equal(t, "ToRejittedCode", JumpToRejittedCode.String())
	assert.Equal(t, "not-yet-compiled", KindNotYetCompiled.String())
	assert.Equal(t, "SharedState(9)", SharedState(9).String())
}
