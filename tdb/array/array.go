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

// Package array implements the width-compressed integer arrays that form the
// leaves of every higher-level structure: cluster trees, search indices and
// the group directory all encode into arrays.
//
// On-media layout: an 8-byte header followed by a densely bit-packed body.
// Byte 0 packs [flags:4|wtype:4]; byte 1 is the element width code for
// widths {0,1,2,4,8,16,32,64} bits; bytes 2-4 hold the 24-bit element count
// and bytes 5-7 the 24-bit capacity, both little-endian. The arena is
// directly addressable, so no byte swapping happens on access.
package array

import (
	"github.com/terndb/tern/tdb/alloc"
)

// Type selects the shape of a new array.
type Type int

const (
	// TypeNormal is a plain scalar array.
	TypeNormal Type = iota
	// TypeInnerBptreeNode marks an inner B+-tree node.
	TypeInnerBptreeNode
	// TypeHasRefs marks an array whose slots are refs (or tagged literals)
	// rather than scalars.
	TypeHasRefs
)

const (
	headerSize = 8

	wtypeBits   = 0
	wtypeMulti  = 1
	wtypeIgnore = 2

	flagInner   = 0x1
	flagHasRefs = 0x2
	flagContext = 0x4

	initialCapacity = 8

	// maxSize is the largest element count a 24-bit size field can carry.
	maxSize = 1<<24 - 1
)

var widths = [8]uint{0, 1, 2, 4, 8, 16, 32, 64}

func widthCode(w uint) byte {
	for i, x := range widths {
		if x == w {
			return byte(i)
		}
	}
	return 7
}

// Array is an accessor over one array allocation. Mutations may move the
// allocation; the owner must read Ref() back after every mutating call and
// update the slot it came from (copy-on-write at ref granularity).
type Array struct {
	alloc *alloc.Alloc
	ref   alloc.Ref

	width    uint
	size     int
	capacity int
	flags    byte
}

// New builds an unattached accessor.
func New(a *alloc.Alloc) *Array {
	return &Array{alloc: a}
}

// Create allocates a fresh array of the given type.
func Create(a *alloc.Alloc, typ Type, contextFlag bool) *Array {
	arr := &Array{alloc: a}
	switch typ {
	case TypeInnerBptreeNode:
		arr.flags = flagInner | flagHasRefs
	case TypeHasRefs:
		arr.flags = flagHasRefs
	}
	if contextFlag {
		arr.flags |= flagContext
	}
	if arr.flags&flagHasRefs != 0 {
		arr.width = 64
	}
	arr.capacity = initialCapacity
	arr.ref = a.Allocate(headerSize + bodyBytes(arr.width, arr.capacity))
	arr.writeHeader()
	return arr
}

// InitFromRef attaches the accessor to an existing array.
func (arr *Array) InitFromRef(ref alloc.Ref) *Array {
	arr.ref = ref
	h := arr.alloc.Translate(ref)
	arr.flags = h[0] >> 4
	arr.width = widths[h[1]&7]
	arr.size = int(h[2]) | int(h[3])<<8 | int(h[4])<<16
	arr.capacity = int(h[5]) | int(h[6])<<8 | int(h[7])<<16
	return arr
}

func (arr *Array) writeHeader() {
	h := arr.alloc.Translate(arr.ref)
	wtype := byte(wtypeBits)
	if arr.width >= 8 {
		wtype = wtypeMulti
	}
	h[0] = arr.flags<<4 | wtype
	h[1] = widthCode(arr.width)
	h[2] = byte(arr.size)
	h[3] = byte(arr.size >> 8)
	h[4] = byte(arr.size >> 16)
	h[5] = byte(arr.capacity)
	h[6] = byte(arr.capacity >> 8)
	h[7] = byte(arr.capacity >> 16)
}

func bodyBytes(width uint, capacity int) int {
	return (int(width)*capacity + 7) / 8
}

// Ref returns the array's current ref.
func (arr *Array) Ref() alloc.Ref { return arr.ref }

// Size returns the element count.
func (arr *Array) Size() int { return arr.size }

// Width returns the current element width in bits.
func (arr *Array) Width() uint { return arr.width }

// IsInnerBptreeNode reports the inner-node flag.
func (arr *Array) IsInnerBptreeNode() bool { return arr.flags&flagInner != 0 }

// HasRefs reports whether slots hold refs instead of scalars.
func (arr *Array) HasRefs() bool { return arr.flags&flagHasRefs != 0 }

// ContextFlag reports the user-overloaded context flag.
func (arr *Array) ContextFlag() bool { return arr.flags&flagContext != 0 }

// SetContextFlag sets the context flag.
func (arr *Array) SetContextFlag(on bool) {
	if on {
		arr.flags |= flagContext
	} else {
		arr.flags &^= flagContext
	}
	arr.writeHeader()
}

func (arr *Array) body() []byte {
	b := arr.alloc.Translate(arr.ref)
	return b[headerSize : headerSize+bodyBytes(arr.width, arr.capacity)]
}

// Get returns element i, sign-extended for the byte-level widths.
func (arr *Array) Get(i int) int64 {
	return getDirect(arr.body(), arr.width, i)
}

// getDirect reads one element at the given width. The lower-bound
// specializations in lowerbound.go call it with a constant width.
func getDirect(body []byte, width uint, i int) int64 {
	switch width {
	case 0:
		return 0
	case 1:
		return int64(body[i>>3]>>(uint(i)&7)) & 1
	case 2:
		return int64(body[i>>2]>>((uint(i)&3)<<1)) & 3
	case 4:
		return int64(body[i>>1]>>((uint(i)&1)<<2)) & 15
	case 8:
		return int64(int8(body[i]))
	case 16:
		off := i << 1
		return int64(int16(uint16(body[off]) | uint16(body[off+1])<<8))
	case 32:
		off := i << 2
		return int64(int32(uint32(body[off]) | uint32(body[off+1])<<8 |
			uint32(body[off+2])<<16 | uint32(body[off+3])<<24))
	default:
		off := i << 3
		return int64(uint64(body[off]) | uint64(body[off+1])<<8 |
			uint64(body[off+2])<<16 | uint64(body[off+3])<<24 |
			uint64(body[off+4])<<32 | uint64(body[off+5])<<40 |
			uint64(body[off+6])<<48 | uint64(body[off+7])<<56)
	}
}

func setDirect(body []byte, width uint, i int, v int64) {
	switch width {
	case 0:
	case 1:
		mask := byte(1) << (uint(i) & 7)
		if v != 0 {
			body[i>>3] |= mask
		} else {
			body[i>>3] &^= mask
		}
	case 2:
		shift := (uint(i) & 3) << 1
		body[i>>2] = body[i>>2]&^(3<<shift) | byte(v&3)<<shift
	case 4:
		shift := (uint(i) & 1) << 2
		body[i>>1] = body[i>>1]&^(15<<shift) | byte(v&15)<<shift
	case 8:
		body[i] = byte(v)
	case 16:
		off := i << 1
		body[off] = byte(v)
		body[off+1] = byte(v >> 8)
	case 32:
		off := i << 2
		body[off] = byte(v)
		body[off+1] = byte(v >> 8)
		body[off+2] = byte(v >> 16)
		body[off+3] = byte(v >> 24)
	default:
		off := i << 3
		for b := 0; b < 8; b++ {
			body[off+b] = byte(v >> (uint(b) * 8))
		}
	}
}

// bitsForValue returns the narrowest width that can hold v. The sub-byte
// widths are unsigned; the byte-level widths are signed.
func bitsForValue(v int64) uint {
	if v >= 0 {
		switch {
		case v < 2:
			return 1
		case v < 4:
			return 2
		case v < 16:
			return 4
		case v < 0x80:
			return 8
		case v < 0x8000:
			return 16
		case v < 0x80000000:
			return 32
		}
		return 64
	}
	switch {
	case v >= -0x80:
		return 8
	case v >= -0x8000:
		return 16
	case v >= -0x80000000:
		return 32
	}
	return 64
}

// ensureWidth upgrades the element width transparently when a value does not
// fit, rewriting the body at the new width.
func (arr *Array) ensureWidth(v int64) {
	need := bitsForValue(v)
	if need <= arr.width {
		return
	}
	old := make([]int64, arr.size)
	for i := 0; i < arr.size; i++ {
		old[i] = arr.Get(i)
	}
	oldRef, oldWidth, oldCap := arr.ref, arr.width, arr.capacity
	arr.width = need
	arr.ref = arr.alloc.Allocate(headerSize + bodyBytes(need, arr.capacity))
	arr.writeHeader()
	body := arr.body()
	for i, x := range old {
		setDirect(body, need, i, x)
	}
	arr.alloc.Free(oldRef, headerSize+bodyBytes(oldWidth, oldCap))
}

func (arr *Array) ensureCapacity(n int) {
	if n <= arr.capacity {
		return
	}
	capacity := arr.capacity
	if capacity == 0 {
		capacity = initialCapacity
	}
	for capacity < n {
		capacity *= 2
	}
	if capacity > maxSize {
		capacity = maxSize
	}
	oldRef, oldCap := arr.ref, arr.capacity
	oldBody := append([]byte(nil), arr.body()...)
	arr.capacity = capacity
	arr.ref = arr.alloc.Allocate(headerSize + bodyBytes(arr.width, capacity))
	arr.writeHeader()
	copy(arr.body(), oldBody)
	arr.alloc.Free(oldRef, headerSize+bodyBytes(arr.width, oldCap))
}

// Set stores v at position i.
func (arr *Array) Set(i int, v int64) {
	arr.ensureWidth(v)
	setDirect(arr.body(), arr.width, i, v)
}

// Add appends v.
func (arr *Array) Add(v int64) {
	arr.Insert(arr.size, v)
}

// Insert places v at position i, shifting the tail.
func (arr *Array) Insert(i int, v int64) {
	arr.ensureWidth(v)
	arr.ensureCapacity(arr.size + 1)
	body := arr.body()
	for j := arr.size; j > i; j-- {
		setDirect(body, arr.width, j, getDirect(body, arr.width, j-1))
	}
	setDirect(body, arr.width, i, v)
	arr.size++
	arr.writeHeader()
}

// Erase removes the element at position i, shifting the tail down.
func (arr *Array) Erase(i int) {
	body := arr.body()
	for j := i; j < arr.size-1; j++ {
		setDirect(body, arr.width, j, getDirect(body, arr.width, j+1))
	}
	arr.size--
	arr.writeHeader()
}

// Truncate drops every element at position n and beyond.
func (arr *Array) Truncate(n int) {
	if n < arr.size {
		arr.size = n
		arr.writeHeader()
	}
}

// Back returns the last element.
func (arr *Array) Back() int64 {
	return arr.Get(arr.size - 1)
}

// GetAsRef reads slot i as a ref. Tagged literal slots return the null ref.
func (arr *Array) GetAsRef(i int) alloc.Ref {
	v := arr.Get(i)
	if v&1 != 0 {
		return alloc.NullRef
	}
	return alloc.Ref(v)
}

// SetRef stores a ref into slot i.
func (arr *Array) SetRef(i int, ref alloc.Ref) {
	arr.Set(i, int64(ref))
}

// Destroy releases the array's own allocation. Children of has-refs arrays
// are the owner's responsibility.
func (arr *Array) Destroy() {
	arr.alloc.Free(arr.ref, headerSize+bodyBytes(arr.width, arr.capacity))
	arr.ref = alloc.NullRef
	arr.size = 0
}

// TagValue encodes a 63-bit value as a tagged literal for storage in a ref
// slot.
func TagValue(v int64) int64 { return v<<1 | 1 }

// IsTagged reports whether a slot value is a tagged literal.
func IsTagged(v int64) bool { return v&1 != 0 }

// UntagValue decodes a tagged literal.
func UntagValue(v int64) int64 { return int64(uint64(v) >> 1) }

// ContextFlagFromRef peeks at the context flag of the array at ref without
// attaching an accessor. The search index uses it to tell sub-indexes from
// plain row lists.
func ContextFlagFromRef(a *alloc.Alloc, ref alloc.Ref) bool {
	h := a.Translate(ref)
	return (h[0]>>4)&flagContext != 0
}

// IsInnerFromRef peeks at the inner-node flag of the array at ref.
func IsInnerFromRef(a *alloc.Alloc, ref alloc.Ref) bool {
	h := a.Translate(ref)
	return (h[0]>>4)&flagInner != 0
}
