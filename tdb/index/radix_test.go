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

package index

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/terndb/tern/tdb"
	"github.com/terndb/tern/tdb/alloc"
)

func (a *mapAccessor) setInt(rt *RadixTree, key tdb.ObjKey, value int64) {
	a.m[key] = EncodeCanonical(value)
	rt.Insert(key, EncodeCanonical(value), false)
}

func TestRadixInsertFind(t *testing.T) {
	a := alloc.New()
	acc := newMapAccessor()
	rt := NewRadixTree(a, acc, DefaultChunkWidth)

	values := []int64{0, 1, -1, 42, -42, 1 << 40, -(1 << 40), 9e15}
	for i, v := range values {
		acc.setInt(rt, tdb.ObjKey(i), v)
	}
	for i, v := range values {
		k, ok := rt.FindFirst(EncodeCanonical(v), false)
		require.True(t, ok, "value %d", v)
		require.Equal(t, tdb.ObjKey(i), k)
	}
	_, ok := rt.FindFirst(EncodeCanonical(777), false)
	require.False(t, ok)
	require.NoError(t, rt.Verify())
}

func TestRadixCompactListExpansion(t *testing.T) {
	a := alloc.New()
	acc := newMapAccessor()
	rt := NewRadixTree(a, acc, DefaultChunkWidth)

	// Values sharing their top chunk pile into one compact list until it
	// crosses the threshold and fans out.
	n := 4 * compactThreshold
	for i := 0; i < n; i++ {
		acc.setInt(rt, tdb.ObjKey(i), int64(i))
	}
	require.NoError(t, rt.Verify())
	for i := 0; i < n; i++ {
		k, ok := rt.FindFirst(EncodeCanonical(int64(i)), false)
		require.True(t, ok)
		require.Equal(t, tdb.ObjKey(i), k)
	}
}

func TestRadixDuplicates(t *testing.T) {
	a := alloc.New()
	acc := newMapAccessor()
	rt := NewRadixTree(a, acc, DefaultChunkWidth)

	for i := 0; i < 6; i++ {
		acc.setInt(rt, tdb.ObjKey(i), int64(i%2))
	}
	require.True(t, rt.HasDuplicates())
	require.Equal(t, 3, rt.Count(EncodeCanonical(0), false))
	require.Equal(t, []tdb.ObjKey{1, 3, 5}, rt.FindAll(EncodeCanonical(1), false))

	distinct := rt.Distinct()
	sortKeys(distinct)
	require.Equal(t, []tdb.ObjKey{0, 1}, distinct)
}

func TestRadixRange(t *testing.T) {
	a := alloc.New()
	acc := newMapAccessor()
	rt := NewRadixTree(a, acc, DefaultChunkWidth)

	for i := int64(-50); i <= 50; i++ {
		acc.setInt(rt, tdb.ObjKey(i+50), i)
	}
	got := rt.FindAllRange(EncodeCanonical(-3), EncodeCanonical(3))
	require.Equal(t, []tdb.ObjKey{47, 48, 49, 50, 51, 52, 53}, got)
}

func TestRadixEraseAndIdempotence(t *testing.T) {
	a := alloc.New()
	acc := newMapAccessor()
	rt := NewRadixTree(a, acc, DefaultChunkWidth)

	r := rand.New(rand.NewSource(7))
	values := make(map[tdb.ObjKey]int64)
	for i := 0; i < 500; i++ {
		v := r.Int63n(1 << 20)
		values[tdb.ObjKey(i)] = v
		acc.setInt(rt, tdb.ObjKey(i), v)
		// A second insert of the same pair must not duplicate.
		rt.Insert(tdb.ObjKey(i), EncodeCanonical(v), false)
	}
	for key, v := range values {
		found := rt.FindAll(EncodeCanonical(v), false)
		count := 0
		for _, k := range found {
			if k == key {
				count++
			}
		}
		require.Equal(t, 1, count)
	}
	for key, v := range values {
		rt.Erase(key, EncodeCanonical(v), false)
		delete(acc.m, key)
	}
	require.True(t, rt.IsEmpty())
}

func TestRadixChunkWidthBounds(t *testing.T) {
	a := alloc.New()
	acc := newMapAccessor()
	// An out-of-range width falls back to the default.
	rt := NewRadixTree(a, acc, 99)
	require.Equal(t, uint(DefaultChunkWidth), rt.chunkWidth)

	for _, w := range []uint{4, 10} {
		rt := NewRadixTree(alloc.New(), acc, w)
		acc.setInt(rt, 1, 123456)
		k, ok := rt.FindFirst(EncodeCanonical(123456), false)
		require.True(t, ok)
		require.Equal(t, tdb.ObjKey(1), k)
	}
}
