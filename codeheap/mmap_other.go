// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package codeheap // import "go.opentelemetry.io/rejit/codeheap"

func mapMemory(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapMemory([]byte) error {
	return nil
}
