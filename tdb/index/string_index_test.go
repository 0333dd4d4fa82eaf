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
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/terndb/tern/tdb"
	"github.com/terndb/tern/tdb/alloc"
)

// mapAccessor is the test stand-in for the indexed column.
type mapAccessor struct {
	m map[tdb.ObjKey][]byte
}

func newMapAccessor() *mapAccessor {
	return &mapAccessor{m: make(map[tdb.ObjKey][]byte)}
}

func (a *mapAccessor) IndexData(key tdb.ObjKey) ([]byte, bool) {
	v, ok := a.m[key]
	return v, ok
}

func (a *mapAccessor) set(ix *StringIndex, key tdb.ObjKey, value string) {
	a.m[key] = []byte(value)
	ix.Insert(key, []byte(value), false)
}

func TestDuplicatesAndDistinct(t *testing.T) {
	// Scenario: "alpha", "beta", "alpha", "gamma", "beta", "beta" at keys
	// k0..k5.
	a := alloc.New()
	acc := newMapAccessor()
	ix := NewStringIndex(a, acc)

	values := []string{"alpha", "beta", "alpha", "gamma", "beta", "beta"}
	for i, v := range values {
		acc.set(ix, tdb.ObjKey(i), v)
	}

	require.True(t, ix.HasDuplicates())
	require.Equal(t, 3, ix.Count([]byte("beta"), false))
	require.Equal(t, []tdb.ObjKey{1, 4, 5}, ix.FindAll([]byte("beta"), false))

	first, ok := ix.FindFirst([]byte("beta"), false)
	require.True(t, ok)
	require.Equal(t, tdb.ObjKey(1), first)

	distinct := ix.Distinct()
	sortKeys(distinct)
	require.Equal(t, []tdb.ObjKey{0, 1, 3}, distinct)

	require.NoError(t, ix.Verify())
}

func TestLongPrefixSplit(t *testing.T) {
	a := alloc.New()
	acc := newMapAccessor()
	ix := NewStringIndex(a, acc)

	s1 := strings.Repeat("a", 107) + "b"
	s2 := strings.Repeat("a", 107) + "c"
	acc.set(ix, 0, s1)
	acc.set(ix, 1, s2)

	k, ok := ix.FindFirst([]byte(s1), false)
	require.True(t, ok)
	require.Equal(t, tdb.ObjKey(0), k)
	k, ok = ix.FindFirst([]byte(s2), false)
	require.True(t, ok)
	require.Equal(t, tdb.ObjKey(1), k)

	// A much longer value with the same run of 'a's diverges from both at
	// offset 104, gets its own slot there, and still resolves.
	huge := strings.Repeat("a", 100000) + "b"
	acc.m[2] = []byte(huge)
	ix.Insert(2, []byte(huge), false)
	k, ok = ix.FindFirst([]byte(huge), false)
	require.True(t, ok)
	require.Equal(t, tdb.ObjKey(2), k)

	require.NoError(t, ix.Verify())
}

func TestOffsetLimitForcesTerminalList(t *testing.T) {
	a := alloc.New()
	acc := newMapAccessor()
	ix := NewStringIndex(a, acc)

	// Two values sharing a prefix longer than the offset limit must be
	// disambiguated by a list, not more trie depth.
	base := strings.Repeat("x", maxKeyOffset+8)
	acc.set(ix, 10, base+"1")
	acc.set(ix, 11, base+"2")

	k, ok := ix.FindFirst([]byte(base+"1"), false)
	require.True(t, ok)
	require.Equal(t, tdb.ObjKey(10), k)
	k, ok = ix.FindFirst([]byte(base+"2"), false)
	require.True(t, ok)
	require.Equal(t, tdb.ObjKey(11), k)
	require.NoError(t, ix.Verify())
}

func TestEmbeddedNulDistinctFromPrefix(t *testing.T) {
	a := alloc.New()
	acc := newMapAccessor()
	ix := NewStringIndex(a, acc)

	acc.set(ix, 0, "abc")
	acc.set(ix, 1, "abc\x00")

	k, ok := ix.FindFirst([]byte("abc"), false)
	require.True(t, ok)
	require.Equal(t, tdb.ObjKey(0), k)

	k, ok = ix.FindFirst([]byte("abc\x00"), false)
	require.True(t, ok)
	require.Equal(t, tdb.ObjKey(1), k)

	require.Equal(t, 1, ix.Count([]byte("abc"), false))
}

func TestInsertIsIdempotent(t *testing.T) {
	a := alloc.New()
	acc := newMapAccessor()
	ix := NewStringIndex(a, acc)

	acc.m[0] = []byte("twin")
	ix.Insert(0, []byte("twin"), false)
	ix.Insert(0, []byte("twin"), false)
	require.Equal(t, 1, ix.Count([]byte("twin"), false))
	require.Equal(t, []tdb.ObjKey{0}, ix.FindAll([]byte("twin"), false))
}

// splitVal varies the leading chunk so that index nodes fill and split.
func splitVal(i int) string {
	return fmt.Sprintf("%c%c%c-%06d", 'a'+i%26, 'a'+(i/26)%26, 'a'+(i/676)%26, i)
}

func TestNodeSplits(t *testing.T) {
	a := alloc.New()
	acc := newMapAccessor()
	ix := NewStringIndex(a, acc)

	// Enough distinct leading chunks to overflow index nodes repeatedly.
	n := 3 * maxNodeSize
	for i := 0; i < n; i++ {
		acc.set(ix, tdb.ObjKey(i), splitVal(i))
	}
	require.NoError(t, ix.Verify())
	for i := 0; i < n; i++ {
		k, ok := ix.FindFirst([]byte(splitVal(i)), false)
		require.True(t, ok, "value %d", i)
		require.Equal(t, tdb.ObjKey(i), k)
	}
	require.False(t, ix.HasDuplicates())
}

func TestEraseCollapses(t *testing.T) {
	a := alloc.New()
	acc := newMapAccessor()
	ix := NewStringIndex(a, acc)

	n := 2 * maxNodeSize
	for i := 0; i < n; i++ {
		acc.set(ix, tdb.ObjKey(i), splitVal(i))
	}
	for i := 0; i < n; i++ {
		v := splitVal(i)
		ix.Erase(tdb.ObjKey(i), []byte(v), false)
		delete(acc.m, tdb.ObjKey(i))
		_, ok := ix.FindFirst([]byte(v), false)
		require.False(t, ok)
	}
	require.True(t, ix.IsEmpty())
}

func TestEraseFromDuplicateList(t *testing.T) {
	a := alloc.New()
	acc := newMapAccessor()
	ix := NewStringIndex(a, acc)

	for i := 0; i < 5; i++ {
		acc.set(ix, tdb.ObjKey(i), "same")
	}
	ix.Erase(2, []byte("same"), false)
	delete(acc.m, 2)
	require.Equal(t, []tdb.ObjKey{0, 1, 3, 4}, ix.FindAll([]byte("same"), false))

	// Erasing a pair that is not present is a no-op.
	ix.Erase(99, []byte("same"), false)
	require.Equal(t, 4, ix.Count([]byte("same"), false))
}

func TestFindAllNoCopyKinds(t *testing.T) {
	a := alloc.New()
	acc := newMapAccessor()
	ix := NewStringIndex(a, acc)

	require.Equal(t, FindNotFound, ix.FindAllNoCopy([]byte("nope")).Kind)

	acc.set(ix, 0, "solo")
	res := ix.FindAllNoCopy([]byte("solo"))
	require.Equal(t, FindSingle, res.Kind)
	require.Equal(t, tdb.ObjKey(0), res.Key)

	acc.set(ix, 1, "dup")
	acc.set(ix, 2, "dup")
	acc.set(ix, 3, "dup")
	res = ix.FindAllNoCopy([]byte("dup"))
	require.Equal(t, FindColumn, res.Kind)
	require.Equal(t, 3, res.End-res.Start)
}

func TestCaseInsensitiveFind(t *testing.T) {
	// Scenario: values ["John", "john", "JOHN", "Jane"]; a folded search
	// for "JOHN" returns the first three keys ascending.
	a := alloc.New()
	acc := newMapAccessor()
	ix := NewStringIndex(a, acc)

	for i, v := range []string{"John", "john", "JOHN", "Jane"} {
		acc.set(ix, tdb.ObjKey(i), v)
	}
	require.Equal(t, []tdb.ObjKey{0, 1, 2}, ix.FindAllFold("JOHN"))
	require.Equal(t, []tdb.ObjKey{3}, ix.FindAllFold("jane"))
	require.Empty(t, ix.FindAllFold("jim"))
}

func TestNullEntries(t *testing.T) {
	a := alloc.New()
	acc := newMapAccessor()
	ix := NewStringIndex(a, acc)

	ix.Insert(5, nil, true)
	ix.Insert(3, nil, true)
	acc.set(ix, 1, "present")

	require.Equal(t, []tdb.ObjKey{3, 5}, ix.FindAll(nil, true))
	require.Equal(t, 2, ix.Count(nil, true))

	k, ok := ix.FindFirst(nil, true)
	require.True(t, ok)
	require.Equal(t, tdb.ObjKey(3), k)

	ix.Erase(3, nil, true)
	require.Equal(t, []tdb.ObjKey{5}, ix.FindAll(nil, true))
}

func TestFindAllRangeOnStrings(t *testing.T) {
	a := alloc.New()
	acc := newMapAccessor()
	ix := NewStringIndex(a, acc)

	for i, v := range []string{"apple", "banana", "cherry", "date", "fig"} {
		acc.set(ix, tdb.ObjKey(i), v)
	}
	got := ix.FindAllRange([]byte("banana"), []byte("date"))
	require.Equal(t, []tdb.ObjKey{1, 2, 3}, got)
}
