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

package alloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocateAligned(t *testing.T) {
	a := New()
	r1 := a.Allocate(10)
	r2 := a.Allocate(1)
	require.False(t, r1.IsNull())
	require.Zero(t, uint64(r1)%8)
	require.Zero(t, uint64(r2)%8)
	require.NotEqual(t, r1, r2)
}

func TestFreeIsDeferredUntilEndTransaction(t *testing.T) {
	a := New()
	r1 := a.Allocate(64)
	a.Free(r1, 64)
	// Freed blocks stay unavailable until the transaction ends, so a
	// reader of the previous snapshot never sees reuse.
	r2 := a.Allocate(64)
	require.NotEqual(t, r1, r2)

	a.EndTransaction()
	r3 := a.Allocate(64)
	require.Equal(t, r1, r3)
}

func TestFreeListCoalesces(t *testing.T) {
	a := New()
	r1 := a.Allocate(8)
	r2 := a.Allocate(8)
	require.Equal(t, r1+8, r2)
	a.Free(r1, 8)
	a.Free(r2, 8)
	a.EndTransaction()
	// Both blocks merged: a 16-byte request fits in the recycled space.
	r3 := a.Allocate(16)
	require.Equal(t, r1, r3)
}

func TestHeaderRoundTrip(t *testing.T) {
	h := NewHeader()
	require.Equal(t, Ref(0), h.CurrentTopRef())

	h.SwapTopRef(128)
	require.Equal(t, Ref(128), h.CurrentTopRef())
	require.Equal(t, Ref(0), h.PreviousTopRef())

	h.SwapTopRef(256)
	require.Equal(t, Ref(256), h.CurrentTopRef())
	require.Equal(t, Ref(128), h.PreviousTopRef())

	buf := make([]byte, HeaderSize)
	h.EncodeTo(buf)
	require.Equal(t, byte('T'), buf[0])
	require.Equal(t, byte('-'), buf[1])
	require.Equal(t, byte('D'), buf[2])
	require.Equal(t, byte('B'), buf[3])

	decoded, err := DecodeHeader(buf)
	require.NoError(t, err)
	require.Equal(t, Ref(256), decoded.CurrentTopRef())
	require.Equal(t, Ref(128), decoded.PreviousTopRef())
}

func TestDecodeHeaderRejectsGarbage(t *testing.T) {
	_, err := DecodeHeader([]byte("notadatabasefile........"))
	require.Error(t, err)
	_, err = DecodeHeader([]byte("T-"))
	require.Error(t, err)
}

func TestAttachRestoresTopRef(t *testing.T) {
	a := New()
	ref := a.Allocate(32)
	require.NoError(t, a.SetTopRef(ref))

	b, top, err := Attach(a.Bytes())
	require.NoError(t, err)
	require.Equal(t, ref, top)
	require.NotNil(t, b.Translate(top))
}
