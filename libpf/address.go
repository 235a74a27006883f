// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package libpf // import "go.opentelemetry.io/rejit/libpf"

import "fmt"

// Address represents an address inside the simulated code heap.
type Address uintptr

func (adr Address) String() string {
	return fmt.Sprintf("0x%x", uint64(adr))
}
