// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "go.opentelemetry.io/rejit/internal/controller"

import (
	"math/bits"

	"go.opentelemetry.io/rejit/config"
)

const (
	// maxBodySize bounds a generated method body: prologue, two enter/leave hooks, two
	// instructions of intermediate code, epilogue and block alignment.
	maxBodySize = 32
	heapMinSize = 64 << 10
	heapMaxSize = 1 << 30
)

// codeHeapSize defines the size of the code heap backing the workload.
//
// The heap never frees code: every method instance is compiled once on its first call and
// once more for every rejit round that requests it. The estimate is rounded up to a power of
// two and kept within sane bounds. A configured size always wins.
func codeHeapSize(cfg *config.Config) int {
	if cfg.CodeHeapSize != 0 {
		return int(cfg.CodeHeapSize)
	}
	instances := uint64(cfg.Modules) * uint64(cfg.MethodsPerModule) *
		uint64(max(cfg.Instantiations, 1))
	versions := 1 + uint64(cfg.RejitRounds+1)/2
	size := min(max(instances*versions*maxBodySize, heapMinSize), heapMaxSize)
	return int(nextPowerOfTwo(size))
}

func nextPowerOfTwo(v uint64) uint64 {
	if v <= 1 {
		return 1
	}
	return 1 << bits.Len64(v-1)
}
