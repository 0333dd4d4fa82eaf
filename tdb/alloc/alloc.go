// Copyright 2023-2024 The Tern Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package alloc implements the arena allocator underneath every on-media
// structure. The arena is a flat byte space addressed by 63-bit refs; all
// higher-level structures (arrays, trees, indices) are encoded into
// allocations obtained here.
package alloc

import (
	"sort"

	"github.com/terndb/tern/tdb"
)

// Ref names a location in the arena. Refs are non-negative, even, 63-bit
// integers; zero is the null ref.
type Ref uint64

// NullRef is the zero ref.
const NullRef Ref = 0

// IsNull reports whether the ref points nowhere.
func (r Ref) IsNull() bool { return r == 0 }

// refAlignment keeps every ref even with room for tagged literals in ref
// slots (low bit set means literal, not ref).
const refAlignment = 8

// baseOffset reserves the file header region so that no valid allocation has
// ref zero.
const baseOffset = HeaderSize

type freeBlock struct {
	ref  Ref
	size int
}

// Alloc is the arena: bump allocation at the tail, a free list for recycled
// blocks, and a pending list for blocks released inside the current
// transaction. Pending blocks join the free list only on EndTransaction so
// that concurrent readers of the previous snapshot never observe reuse.
type Alloc struct {
	buf     []byte
	top     int
	free    []freeBlock
	pending []freeBlock
	topRef  Ref
}

// New builds an empty arena.
func New() *Alloc {
	a := &Alloc{top: baseOffset}
	a.buf = make([]byte, 1024)
	return a
}

// Attach builds an arena over an existing file image and returns it along
// with the current top ref from the header.
func Attach(image []byte) (*Alloc, Ref, error) {
	hdr, err := DecodeHeader(image)
	if err != nil {
		return nil, NullRef, err
	}
	a := &Alloc{buf: append([]byte(nil), image...), top: len(image)}
	if a.top < baseOffset {
		a.top = baseOffset
	}
	top := hdr.CurrentTopRef()
	a.topRef = top
	return a, top, nil
}

func (a *Alloc) grow(needed int) {
	size := len(a.buf)
	for size < needed {
		size *= 2
	}
	next := make([]byte, size)
	copy(next, a.buf)
	a.buf = next
}

// Allocate reserves size bytes and returns their ref. The block is zeroed.
func (a *Alloc) Allocate(size int) Ref {
	aligned := (size + refAlignment - 1) &^ (refAlignment - 1)

	// First fit from the free list.
	for i, blk := range a.free {
		if blk.size >= aligned {
			a.free = append(a.free[:i], a.free[i+1:]...)
			zero(a.buf[blk.ref : int(blk.ref)+aligned])
			if blk.size > aligned {
				a.free = append(a.free, freeBlock{blk.ref + Ref(aligned), blk.size - aligned})
			}
			return blk.ref
		}
	}

	ref := Ref(a.top)
	if a.top+aligned > len(a.buf) {
		a.grow(a.top + aligned)
	}
	a.top += aligned
	return ref
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Free releases a block at the end of the current write transaction. The
// block stays readable until EndTransaction.
func (a *Alloc) Free(ref Ref, size int) {
	if ref.IsNull() {
		return
	}
	aligned := (size + refAlignment - 1) &^ (refAlignment - 1)
	a.pending = append(a.pending, freeBlock{ref, aligned})
}

// EndTransaction recycles every block freed since the previous call,
// coalescing adjacent blocks.
func (a *Alloc) EndTransaction() {
	a.free = append(a.free, a.pending...)
	a.pending = a.pending[:0]
	sort.Slice(a.free, func(i, j int) bool { return a.free[i].ref < a.free[j].ref })
	merged := a.free[:0]
	for _, blk := range a.free {
		if n := len(merged); n > 0 && merged[n-1].ref+Ref(merged[n-1].size) == blk.ref {
			merged[n-1].size += blk.size
		} else {
			merged = append(merged, blk)
		}
	}
	a.free = merged
}

// PendingFreeCount returns the number of blocks awaiting recycling. Exposed
// for the commit log.
func (a *Alloc) PendingFreeCount() int { return len(a.pending) }

// FreeBlock describes one recyclable block for persistence.
type FreeBlock struct {
	Ref  Ref
	Size int
}

// FreeBlocks returns the current free list.
func (a *Alloc) FreeBlocks() []FreeBlock {
	out := make([]FreeBlock, len(a.free))
	for i, blk := range a.free {
		out[i] = FreeBlock{Ref: blk.ref, Size: blk.size}
	}
	return out
}

// RestoreFreeBlocks reinstates a persisted free list.
func (a *Alloc) RestoreFreeBlocks(blocks []FreeBlock) {
	a.free = a.free[:0]
	for _, blk := range blocks {
		a.free = append(a.free, freeBlock{ref: blk.Ref, size: blk.Size})
	}
}

// Translate returns the bytes of the block starting at ref. The slice
// remains valid until the next Allocate.
func (a *Alloc) Translate(ref Ref) []byte {
	if ref.IsNull() || int(ref) >= a.top {
		return nil
	}
	return a.buf[ref:a.top]
}

// Bytes returns the raw arena image up to the allocation frontier.
func (a *Alloc) Bytes() []byte { return a.buf[:a.top] }

// TopRef returns the last committed top ref.
func (a *Alloc) TopRef() Ref { return a.topRef }

// SetTopRef publishes a new top ref into the arena's header image. The
// caller serializes writers; readers pick the ref up under a short critical
// section.
func (a *Alloc) SetTopRef(ref Ref) error {
	if int(ref)&1 != 0 {
		return tdb.ErrCorrupt.New("top ref is tagged")
	}
	hdr, err := DecodeHeader(a.buf)
	if err != nil {
		// Fresh arena with no header yet.
		hdr = NewHeader()
	}
	hdr.SwapTopRef(ref)
	hdr.EncodeTo(a.buf)
	a.topRef = ref
	return nil
}
