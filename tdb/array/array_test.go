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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/terndb/tern/tdb/alloc"
)

func TestWidthUpgrade(t *testing.T) {
	a := alloc.New()
	arr := Create(a, TypeNormal, false)

	arr.Add(1)
	require.Equal(t, uint(1), arr.Width())
	arr.Add(3)
	require.Equal(t, uint(2), arr.Width())
	arr.Add(15)
	require.Equal(t, uint(4), arr.Width())
	arr.Add(127)
	require.Equal(t, uint(8), arr.Width())
	arr.Add(-1)
	require.Equal(t, uint(8), arr.Width())
	arr.Add(1 << 20)
	require.Equal(t, uint(32), arr.Width())
	arr.Add(1 << 40)
	require.Equal(t, uint(64), arr.Width())

	// Every earlier element survives each upgrade.
	expected := []int64{1, 3, 15, 127, -1, 1 << 20, 1 << 40}
	require.Equal(t, len(expected), arr.Size())
	for i, want := range expected {
		require.Equal(t, want, arr.Get(i))
	}
}

func TestInsertEraseTruncate(t *testing.T) {
	a := alloc.New()
	arr := Create(a, TypeNormal, false)

	for i := int64(0); i < 100; i++ {
		arr.Add(i)
	}
	arr.Insert(50, 1000)
	require.Equal(t, int64(1000), arr.Get(50))
	require.Equal(t, int64(50), arr.Get(51))
	require.Equal(t, 101, arr.Size())

	arr.Erase(50)
	require.Equal(t, int64(50), arr.Get(50))
	require.Equal(t, 100, arr.Size())

	arr.Truncate(10)
	require.Equal(t, 10, arr.Size())
	require.Equal(t, int64(9), arr.Back())
}

func TestNegativeValues(t *testing.T) {
	a := alloc.New()
	arr := Create(a, TypeNormal, false)
	values := []int64{-1, -128, -129, -32768, -32769, -(1 << 40)}
	for _, v := range values {
		arr.Add(v)
	}
	for i, v := range values {
		require.Equal(t, v, arr.Get(i))
	}
}

func TestReinitFromRef(t *testing.T) {
	a := alloc.New()
	arr := Create(a, TypeHasRefs, true)
	arr.Add(TagValue(42))
	ref := arr.Ref()

	loaded := New(a).InitFromRef(ref)
	require.True(t, loaded.HasRefs())
	require.True(t, loaded.ContextFlag())
	require.False(t, loaded.IsInnerBptreeNode())
	require.Equal(t, 1, loaded.Size())
	require.True(t, IsTagged(loaded.Get(0)))
	require.Equal(t, int64(42), UntagValue(loaded.Get(0)))
}

func TestLowerBound(t *testing.T) {
	a := alloc.New()
	for _, width := range []int64{1 << 20, 1 << 40} { // 32- and 64-bit paths
		arr := Create(a, TypeNormal, false)
		arr.Add(width) // force width before the sorted fill
		arr.Truncate(0)
		for i := int64(0); i < 1000; i += 2 {
			arr.Add(i)
		}
		require.Equal(t, 0, arr.LowerBound(-5))
		require.Equal(t, 0, arr.LowerBound(0))
		require.Equal(t, 1, arr.LowerBound(1))
		require.Equal(t, 1, arr.LowerBound(2))
		require.Equal(t, 250, arr.LowerBound(500))
		require.Equal(t, 250, arr.LowerBound(499))
		require.Equal(t, 500, arr.LowerBound(999))
		require.Equal(t, 500, arr.LowerBound(10000))
		require.Equal(t, 251, arr.UpperBound(500))
	}
}

func TestLowerBoundEmpty(t *testing.T) {
	a := alloc.New()
	arr := Create(a, TypeNormal, false)
	require.Equal(t, 0, arr.LowerBound(7))
}

func TestBlobRoundTrip(t *testing.T) {
	a := alloc.New()
	payload := []byte("hello \x00 world")
	ref := WriteBlob(a, payload)
	require.Equal(t, payload, ReadBlob(a, ref))
	require.Equal(t, len(payload), BlobSize(a, ref))

	empty := WriteBlob(a, nil)
	require.False(t, empty.IsNull())
	require.Len(t, ReadBlob(a, empty), 0)
}
