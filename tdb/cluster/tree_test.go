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

package cluster

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/terndb/tern/tdb"
	"github.com/terndb/tern/tdb/alloc"
)

func testColumns() []tdb.ColumnSpec {
	return []tdb.ColumnSpec{
		{Key: 0, Name: "n", Type: tdb.TypeInt, Nullable: true},
		{Key: 1, Name: "s", Type: tdb.TypeString, Nullable: true},
	}
}

func TestInsertAndIterateInOrder(t *testing.T) {
	a := alloc.New()
	tree := NewTree(a, testColumns())

	keys := rand.New(rand.NewSource(1)).Perm(2000)
	for _, k := range keys {
		require.NoError(t, tree.InsertRow(tdb.ObjKey(k)))
	}
	require.Equal(t, int64(2000), tree.Size())
	require.NoError(t, tree.Verify())

	// Iteration yields every key in strictly ascending order.
	var got []tdb.ObjKey
	tree.Traverse(func(key tdb.ObjKey) bool {
		got = append(got, key)
		return true
	})
	require.Len(t, got, 2000)
	for i, k := range got {
		require.Equal(t, tdb.ObjKey(i), k)
	}
}

func TestDuplicateKeyFails(t *testing.T) {
	a := alloc.New()
	tree := NewTree(a, testColumns())
	require.NoError(t, tree.InsertRow(7))
	err := tree.InsertRow(7)
	require.Error(t, err)
	require.True(t, tdb.ErrInvalidKey.Is(err))
}

func TestValueRoundTrip(t *testing.T) {
	a := alloc.New()
	tree := NewTree(a, testColumns())

	for i := int64(0); i < 600; i++ {
		require.NoError(t, tree.InsertRow(tdb.ObjKey(i)))
		require.NoError(t, tree.SetValue(tdb.ObjKey(i), 0, tdb.NewInt(i*3)))
		require.NoError(t, tree.SetValue(tdb.ObjKey(i), 1, tdb.NewString("row")))
	}
	for i := int64(0); i < 600; i++ {
		v, err := tree.GetValue(tdb.ObjKey(i), 0)
		require.NoError(t, err)
		require.Equal(t, i*3, v.Int())
		s, err := tree.GetValue(tdb.ObjKey(i), 1)
		require.NoError(t, err)
		require.Equal(t, "row", s.Str())
	}
	require.NoError(t, tree.Verify())
}

func TestNullAndEmptyStringAreDistinct(t *testing.T) {
	a := alloc.New()
	tree := NewTree(a, testColumns())
	require.NoError(t, tree.InsertRow(0))
	require.NoError(t, tree.InsertRow(1))

	require.NoError(t, tree.SetValue(0, 1, tdb.NewString("")))
	require.NoError(t, tree.SetValue(1, 1, tdb.Null))

	empty, err := tree.GetValue(0, 1)
	require.NoError(t, err)
	require.False(t, empty.IsNull())
	require.Equal(t, "", empty.Str())

	null, err := tree.GetValue(1, 1)
	require.NoError(t, err)
	require.True(t, null.IsNull())
}

func TestInteriorSplitIsBalanced(t *testing.T) {
	a := alloc.New()
	tree := NewTree(a, testColumns())

	// Fill one leaf to the fan-out, leaving a hole in the middle.
	for i := 0; i <= FanOut; i++ {
		if i == FanOut/2 {
			continue
		}
		require.NoError(t, tree.InsertRow(tdb.ObjKey(i)))
	}
	// The interior insert splits the full leaf at its midpoint; both
	// halves end up with at least half the rows.
	require.NoError(t, tree.InsertRow(tdb.ObjKey(FanOut/2)))
	require.NoError(t, tree.Verify())

	root := tree.loadInner(tree.Root())
	require.Equal(t, 2, root.childCount())
	left := tree.loadLeaf(root.child(0))
	right := tree.loadLeaf(root.child(1))
	require.GreaterOrEqual(t, left.count(), FanOut/2)
	require.GreaterOrEqual(t, right.count(), FanOut/2)
}

func TestRemoveCollapsesEmptyNodes(t *testing.T) {
	a := alloc.New()
	tree := NewTree(a, testColumns())

	for i := 0; i < 3*FanOut; i++ {
		require.NoError(t, tree.InsertRow(tdb.ObjKey(i)))
	}
	for i := 0; i < 3*FanOut; i++ {
		require.NoError(t, tree.RemoveRow(tdb.ObjKey(i)))
		require.NoError(t, tree.Verify())
	}
	require.Equal(t, int64(0), tree.Size())

	// Removing the last row empties the tree completely; a fresh insert
	// still works.
	require.NoError(t, tree.InsertRow(42))
	require.Equal(t, int64(1), tree.Size())
}

func TestRemoveMissingKeyFails(t *testing.T) {
	a := alloc.New()
	tree := NewTree(a, testColumns())
	require.NoError(t, tree.InsertRow(1))
	err := tree.RemoveRow(99)
	require.True(t, tdb.ErrInvalidKey.Is(err))
	require.NoError(t, tree.RemoveRow(1))
	err = tree.RemoveRow(1)
	require.True(t, tdb.ErrInvalidKey.Is(err))
}

func TestFindGEAndNextKey(t *testing.T) {
	a := alloc.New()
	tree := NewTree(a, testColumns())
	for _, k := range []tdb.ObjKey{5, 10, 500, 1000} {
		require.NoError(t, tree.InsertRow(k))
	}
	key, ok := tree.FindGE(0)
	require.True(t, ok)
	require.Equal(t, tdb.ObjKey(5), key)

	key, ok = tree.FindGE(6)
	require.True(t, ok)
	require.Equal(t, tdb.ObjKey(10), key)

	key, ok = tree.NextKey(500)
	require.True(t, ok)
	require.Equal(t, tdb.ObjKey(1000), key)

	_, ok = tree.NextKey(1000)
	require.False(t, ok)
}

func TestAddAndRemoveColumn(t *testing.T) {
	a := alloc.New()
	tree := NewTree(a, testColumns())
	for i := 0; i < 600; i++ {
		require.NoError(t, tree.InsertRow(tdb.ObjKey(i)))
	}
	tree.AddColumn(tdb.ColumnSpec{Key: 2, Name: "d", Type: tdb.TypeDouble, Nullable: true})
	require.NoError(t, tree.Verify())

	v, err := tree.GetValue(10, 2)
	require.NoError(t, err)
	require.True(t, v.IsNull())
	require.NoError(t, tree.SetValue(10, 2, tdb.NewDouble(2.5)))
	v, err = tree.GetValue(10, 2)
	require.NoError(t, err)
	require.Equal(t, 2.5, v.Double())

	tree.RemoveColumn(1)
	require.NoError(t, tree.Verify())
	// Column slots shift down; the double column now lives at slot 1.
	v, err = tree.GetValue(10, 1)
	require.NoError(t, err)
	require.Equal(t, 2.5, v.Double())
}

func TestClearReleasesEverything(t *testing.T) {
	a := alloc.New()
	tree := NewTree(a, testColumns())
	for i := 0; i < 1000; i++ {
		require.NoError(t, tree.InsertRow(tdb.ObjKey(i)))
		require.NoError(t, tree.SetValue(tdb.ObjKey(i), 1, tdb.NewString("payload")))
	}
	tree.Clear()
	require.Equal(t, int64(0), tree.Size())
	_, ok := tree.FirstKey()
	require.False(t, ok)
	require.NoError(t, tree.Verify())
}
