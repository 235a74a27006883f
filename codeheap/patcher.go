// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package codeheap // import "go.opentelemetry.io/rejit/codeheap"

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/arch/x86/x86asm"

	"go.opentelemetry.io/rejit/libpf"
)

const (
	opJmpRel32 = 0xe9
	opInt3     = 0xcc

	// StampSize is the length of a `jmp rel32` jump stamp.
	StampSize = 5
)

var (
	ErrMethodTooSmall = errors.New("method entry too small for a jump stamp")
	ErrNotStamped     = errors.New("no jump stamp installed at entry")
	ErrBadTarget      = errors.New("redirect target outside of code heap")
)

// Patcher installs and removes jump stamps on method entries of a Heap.
//
// A stamp replaces the smallest run of whole instructions covering StampSize bytes with
// `jmp rel32` followed by int3 padding. The replaced bytes are kept so the stamp can later be
// removed, and retargeting an existing stamp only rewrites its displacement.
type Patcher struct {
	heap *Heap

	mu sync.Mutex
	// saved holds the original bytes for every stamped entry.
	saved map[libpf.Address][]byte
}

// NewPatcher creates a patcher for the given heap.
func NewPatcher(heap *Heap) *Patcher {
	return &Patcher{
		heap:  heap,
		saved: make(map[libpf.Address][]byte),
	}
}

// InstallRedirect stamps entry so that calls land at target.
func (p *Patcher) InstallRedirect(entry, target libpf.Address) error {
	if _, ok := p.heap.Lookup(target); !ok {
		return fmt.Errorf("%w: %v", ErrBadTarget, target)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	orig, stamped := p.saved[entry]
	if !stamped {
		code, err := p.heap.readBlockTail(entry)
		if err != nil {
			return err
		}
		n, err := patchableLength(code)
		if err != nil {
			return fmt.Errorf("entry %v: %w", entry, err)
		}
		orig = code[:n]
	}

	stamp, err := encodeStamp(entry, target, len(orig))
	if err != nil {
		return err
	}
	if err = p.heap.write(entry, stamp); err != nil {
		return err
	}
	if !stamped {
		p.saved[entry] = orig
	}
	log.Debugf("Jump stamp %v -> %v", entry, target)
	return nil
}

// RemoveRedirect restores the original bytes at entry.
func (p *Patcher) RemoveRedirect(entry libpf.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	orig, ok := p.saved[entry]
	if !ok {
		return fmt.Errorf("%w: %v", ErrNotStamped, entry)
	}
	if err := p.heap.write(entry, orig); err != nil {
		return err
	}
	delete(p.saved, entry)
	log.Debugf("Jump stamp %v removed", entry)
	return nil
}

// Resolve reports where a call to entry lands. For a stamped entry this is the decoded jump
// target, otherwise entry itself.
func (p *Patcher) Resolve(entry libpf.Address) (libpf.Address, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, stamped := p.saved[entry]; !stamped {
		return entry, false, nil
	}
	code, err := p.heap.Read(entry, StampSize)
	if err != nil {
		return 0, false, err
	}
	target, err := decodeStamp(entry, code)
	if err != nil {
		return 0, false, err
	}
	return target, true, nil
}

// Snapshot is the code a call to an entry lands in.
type Snapshot struct {
	Target  libpf.Address
	Stamped bool
	// Code holds the bytes from Target to the end of its block.
	Code []byte
}

// Load resolves entry and reads the code the call lands in as one step. No stamp is installed,
// retargeted or removed between the two, so Code always matches Target.
func (p *Patcher) Load(entry libpf.Address) (Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	code, err := p.heap.readBlockTail(entry)
	if err != nil {
		return Snapshot{}, err
	}
	if _, stamped := p.saved[entry]; !stamped {
		return Snapshot{Target: entry, Code: code}, nil
	}
	target, err := decodeStamp(entry, code)
	if err != nil {
		return Snapshot{}, err
	}
	if code, err = p.heap.readBlockTail(target); err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Target: target, Stamped: true, Code: code}, nil
}

// decodeStamp returns the target of the jump stamp at the start of code.
func decodeStamp(entry libpf.Address, code []byte) (libpf.Address, error) {
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to decode stamp at %v: %w", entry, err)
	}
	rel, ok := inst.Args[0].(x86asm.Rel)
	if inst.Op != x86asm.JMP || !ok {
		return 0, fmt.Errorf("unexpected instruction %v at stamped entry %v", inst, entry)
	}
	return entry + libpf.Address(inst.Len) + libpf.Address(int64(rel)), nil
}

// patchableLength returns the length of the shortest instruction prefix of code that covers a
// whole jump stamp.
func patchableLength(code []byte) (int, error) {
	off := 0
	for off < StampSize {
		if off >= len(code) {
			return 0, ErrMethodTooSmall
		}
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			return 0, fmt.Errorf("failed to decode instruction at +%d: %w", off, err)
		}
		off += inst.Len
		if inst.Op == x86asm.RET && off < StampSize {
			// A stamp would run past the end of the method body.
			return 0, ErrMethodTooSmall
		}
	}
	return off, nil
}

func encodeStamp(entry, target libpf.Address, length int) ([]byte, error) {
	rel := int64(target) - int64(entry+StampSize)
	if rel < math.MinInt32 || rel > math.MaxInt32 {
		return nil, fmt.Errorf("%w: %v unreachable from %v", ErrBadTarget, target, entry)
	}
	stamp := make([]byte, length)
	stamp[0] = opJmpRel32
	binary.LittleEndian.PutUint32(stamp[1:StampSize], uint32(int32(rel)))
	for i := StampSize; i < length; i++ {
		stamp[i] = opInt3
	}
	return stamp, nil
}
