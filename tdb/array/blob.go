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

package array

import (
	"github.com/terndb/tern/tdb/alloc"
)

// Blobs are byte payloads (strings, binaries, packed timestamps, decimal and
// uuid cells) stored as width-8 arrays. The size field carries the byte
// length, so payloads are capped at the same 24-bit limit as element counts.

// WriteBlob allocates a blob holding data and returns its ref.
func WriteBlob(a *alloc.Alloc, data []byte) alloc.Ref {
	ref := a.Allocate(headerSize + len(data))
	arr := Array{alloc: a, ref: ref, width: 8, size: len(data), capacity: len(data)}
	arr.writeHeader()
	copy(a.Translate(ref)[headerSize:headerSize+len(data)], data)
	return ref
}

// ReadBlob returns the payload of the blob at ref. The slice aliases arena
// memory and is only valid within the current transaction.
func ReadBlob(a *alloc.Alloc, ref alloc.Ref) []byte {
	h := a.Translate(ref)
	size := int(h[2]) | int(h[3])<<8 | int(h[4])<<16
	return h[headerSize : headerSize+size]
}

// FreeBlob releases the blob at ref.
func FreeBlob(a *alloc.Alloc, ref alloc.Ref) {
	h := a.Translate(ref)
	size := int(h[2]) | int(h[3])<<8 | int(h[4])<<16
	a.Free(ref, headerSize+size)
}

// BlobSize returns the payload length of the blob at ref.
func BlobSize(a *alloc.Alloc, ref alloc.Ref) int {
	h := a.Translate(ref)
	return int(h[2]) | int(h[3])<<8 | int(h[4])<<16
}
