// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package codeheap // import "go.opentelemetry.io/rejit/codeheap"

import "golang.org/x/sys/unix"

// mapMemory reserves an anonymous private mapping. The simulated code is never executed by the
// CPU, so the mapping stays read/write only.
func mapMemory(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
}

func unmapMemory(mem []byte) error {
	return unix.Munmap(mem)
}
