// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package codeheap simulates the executable memory of the managed runtime. Generated method
// bodies and stubs are allocated from a single mapping and indexed by address so that a code
// address can be traced back to the block owning it.
package codeheap // import "go.opentelemetry.io/rejit/codeheap"

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/btree"
	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/rejit/libpf"
)

const (
	// DefaultBase is the simulated virtual address of the first heap byte.
	DefaultBase libpf.Address = 0x7f3a00000000

	// blockAlignment matches the function alignment used by common x86-64 code generators.
	blockAlignment = 16

	// btreeDegree is the fan-out of the address index.
	btreeDegree = 8
)

var (
	ErrHeapFull     = errors.New("code heap exhausted")
	ErrEmptyCode    = errors.New("empty code block")
	ErrOutOfBounds  = errors.New("address outside of code heap")
	ErrUnknownBlock = errors.New("address not inside an allocated block")
)

// Block describes one allocation of the code heap.
type Block struct {
	Start libpf.Address
	Size  uint32
	Name  string
}

// End returns the first address past the block.
func (b Block) End() libpf.Address {
	return b.Start + libpf.Address(b.Size)
}

// Contains checks if addr belongs to the block.
func (b Block) Contains(addr libpf.Address) bool {
	return addr >= b.Start && addr < b.End()
}

// Heap is a bump allocator over a fixed mapping. Blocks are never freed: code a thread may still
// be executing stays valid for the lifetime of the heap.
type Heap struct {
	mu sync.RWMutex

	base libpf.Address
	mem  []byte
	used uint64

	blocks *btree.BTreeG[Block]
}

// New maps size bytes of memory for the heap.
func New(size int) (*Heap, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid code heap size %d", size)
	}
	mem, err := mapMemory(size)
	if err != nil {
		return nil, fmt.Errorf("failed to map code heap: %w", err)
	}
	log.Debugf("Mapped %d bytes of code heap at %v", size, DefaultBase)

	return &Heap{
		base: DefaultBase,
		mem:  mem,
		blocks: btree.NewG[Block](btreeDegree, func(a, b Block) bool {
			return a.Start < b.Start
		}),
	}, nil
}

// Close releases the mapping. The heap must not be used afterwards.
func (h *Heap) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.mem == nil {
		return nil
	}
	err := unmapMemory(h.mem)
	h.mem = nil
	return err
}

// Base returns the address of the first heap byte.
func (h *Heap) Base() libpf.Address {
	return h.base
}

// Alloc copies code into a fresh block and returns its start address.
func (h *Heap) Alloc(name string, code []byte) (libpf.Address, error) {
	if len(code) == 0 {
		return 0, ErrEmptyCode
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	start := alignUp(h.used, blockAlignment)
	end := start + uint64(len(code))
	if end > uint64(len(h.mem)) {
		return 0, fmt.Errorf("%w: need %d bytes, %d free", ErrHeapFull,
			len(code), uint64(len(h.mem))-min(start, uint64(len(h.mem))))
	}
	copy(h.mem[start:end], code)
	h.used = end

	blk := Block{
		Start: h.base + libpf.Address(start),
		Size:  uint32(len(code)),
		Name:  name,
	}
	h.blocks.ReplaceOrInsert(blk)
	return blk.Start, nil
}

// Lookup returns the block containing addr.
func (h *Heap) Lookup(addr libpf.Address) (Block, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lookup(addr)
}

func (h *Heap) lookup(addr libpf.Address) (Block, bool) {
	var found Block
	var ok bool
	h.blocks.DescendLessOrEqual(Block{Start: addr}, func(b Block) bool {
		found, ok = b, b.Contains(addr)
		return false
	})
	return found, ok
}

// Read returns a copy of n bytes starting at addr.
func (h *Heap) Read(addr libpf.Address, n int) ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	off, err := h.offset(addr, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, h.mem[off:off+uint64(n)])
	return out, nil
}

// readBlockTail returns the bytes from addr to the end of its block.
func (h *Heap) readBlockTail(addr libpf.Address) ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	blk, ok := h.lookup(addr)
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownBlock, addr)
	}
	n := int(blk.End() - addr)
	off, err := h.offset(addr, n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, h.mem[off:off+uint64(n)])
	return out, nil
}

// write overwrites bytes in place. The whole write is performed under the heap lock so readers
// never observe a torn instruction.
func (h *Heap) write(addr libpf.Address, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	off, err := h.offset(addr, len(data))
	if err != nil {
		return err
	}
	copy(h.mem[off:], data)
	return nil
}

// Stats returns the number of blocks and bytes allocated.
func (h *Heap) Stats() (blocks int, used uint64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.blocks.Len(), h.used
}

func (h *Heap) offset(addr libpf.Address, n int) (uint64, error) {
	if h.mem == nil || addr < h.base {
		return 0, fmt.Errorf("%w: %v", ErrOutOfBounds, addr)
	}
	off := uint64(addr - h.base)
	if off+uint64(n) > h.used {
		return 0, fmt.Errorf("%w: %v+%d", ErrOutOfBounds, addr, n)
	}
	return off, nil
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
