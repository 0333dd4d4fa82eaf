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

package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/terndb/tern/tdb"
	"github.com/terndb/tern/tdb/alloc"
	"github.com/terndb/tern/tdb/expression"
	"github.com/terndb/tern/tdb/table"
)

type testResolver struct {
	byKey  map[tdb.TableKey]*table.Table
	byName map[string]*table.Table
}

func newTestResolver() *testResolver {
	return &testResolver{
		byKey:  make(map[tdb.TableKey]*table.Table),
		byName: make(map[string]*table.Table),
	}
}

func (r *testResolver) TableByKey(key tdb.TableKey) (*table.Table, bool) {
	t, ok := r.byKey[key]
	return t, ok
}

func (r *testResolver) TableByName(name string) (*table.Table, bool) {
	t, ok := r.byName[name]
	return t, ok
}

func (r *testResolver) add(a *alloc.Alloc, key tdb.TableKey, name string) *table.Table {
	t := table.New(a, key, name, r, nil)
	r.byKey[key] = t
	r.byName[name] = t
	return t
}

func intTable(t *testing.T) (*table.Table, tdb.ColKey) {
	t.Helper()
	a := alloc.New()
	tbl := newTestResolver().add(a, 0, "t")
	col, err := tbl.AddColumn(tdb.TypeInt, "n", true)
	require.NoError(t, err)
	return tbl, col
}

func equalsExpr(tbl *table.Table, col tdb.ColKey, v tdb.Mixed) expression.Expression {
	return &expression.Compare{
		Op:    expression.OpEqual,
		Left:  expression.NewProperty(expression.NewLinkChain(tbl), col),
		Right: expression.NewConstant(v),
	}
}

func TestViewSyncIfNeeded(t *testing.T) {
	tbl, col := intTable(t)
	for i := int64(0); i < 6; i++ {
		obj, err := tbl.CreateObject()
		require.NoError(t, err)
		require.NoError(t, obj.Set(col, tdb.NewInt(i%2)))
	}

	q := New(tdb.NewEmptyContext(), tbl, equalsExpr(tbl, col, tdb.NewInt(0)))
	view, err := q.FindAll()
	require.NoError(t, err)
	require.Equal(t, []tdb.ObjKey{0, 2, 4}, view.Keys())
	require.True(t, view.IsInSync())

	// A later mutation makes the view stale; re-syncing re-runs the query
	// with its descriptor chain.
	obj, err := tbl.CreateObject()
	require.NoError(t, err)
	require.NoError(t, obj.Set(col, tdb.NewInt(0)))
	require.False(t, view.IsInSync())

	_, err = view.SyncIfNeeded()
	require.NoError(t, err)
	require.True(t, view.IsInSync())
	require.Equal(t, []tdb.ObjKey{0, 2, 4, 6}, view.Keys())
}

func TestViewDescriptorChainSurvivesSync(t *testing.T) {
	tbl, col := intTable(t)
	for i := int64(0); i < 5; i++ {
		obj, err := tbl.CreateObject()
		require.NoError(t, err)
		require.NoError(t, obj.Set(col, tdb.NewInt(10-i)))
	}
	q := New(tdb.NewEmptyContext(), tbl, nil)
	q.Sort(SortDescriptor{Columns: []SortColumn{{Chain: ColumnChain{col}, Ascending: true}}})
	q.Limit(3)

	view, err := q.FindAll()
	require.NoError(t, err)
	require.Equal(t, []tdb.ObjKey{4, 3, 2}, view.Keys())

	obj, err := tbl.CreateObject()
	require.NoError(t, err)
	require.NoError(t, obj.Set(col, tdb.NewInt(0)))

	_, err = view.SyncIfNeeded()
	require.NoError(t, err)
	// The fresh smallest value leads; the limit still applies.
	require.Equal(t, []tdb.ObjKey{5, 4, 3}, view.Keys())
}

func TestViewAggregatesSkipNulls(t *testing.T) {
	tbl, col := intTable(t)
	values := []tdb.Mixed{tdb.NewInt(4), tdb.Null, tdb.NewInt(10), tdb.Null, tdb.NewInt(1)}
	for _, v := range values {
		obj, err := tbl.CreateObject()
		require.NoError(t, err)
		require.NoError(t, obj.Set(col, v))
	}
	q := New(tdb.NewEmptyContext(), tbl, nil)
	view, err := q.FindAll()
	require.NoError(t, err)

	require.Equal(t, int64(1), view.Min(col).Int())
	require.Equal(t, int64(10), view.Max(col).Int())
	require.Equal(t, int64(15), view.Sum(col).Int())
	require.Equal(t, float64(5), view.Avg(col).Double())
	require.Equal(t, int64(3), view.CountNonNull(col))
}

func TestViewRemoveAndClear(t *testing.T) {
	tbl, col := intTable(t)
	for i := int64(0); i < 4; i++ {
		obj, err := tbl.CreateObject()
		require.NoError(t, err)
		require.NoError(t, obj.Set(col, tdb.NewInt(i)))
	}
	q := New(tdb.NewEmptyContext(), tbl, nil)
	view, err := q.FindAll()
	require.NoError(t, err)

	require.NoError(t, view.Remove(0))
	require.Equal(t, 3, view.Size())
	require.Equal(t, int64(3), tbl.Size())

	require.NoError(t, view.RemoveLast())
	require.Equal(t, 2, view.Size())

	require.NoError(t, view.Clear())
	require.Equal(t, 0, view.Size())
	require.Equal(t, int64(0), tbl.Size())
}

func TestViewFindInView(t *testing.T) {
	tbl, col := intTable(t)
	for i := int64(0); i < 6; i++ {
		obj, err := tbl.CreateObject()
		require.NoError(t, err)
		require.NoError(t, obj.Set(col, tdb.NewInt(i%3)))
	}
	view, err := New(tdb.NewEmptyContext(), tbl, nil).FindAll()
	require.NoError(t, err)

	require.Equal(t, 1, view.FindFirstInView(col, tdb.NewInt(1)))
	require.Equal(t, []int{2, 5}, view.FindAllInView(col, tdb.NewInt(2)))
	require.Equal(t, -1, view.FindFirstInView(col, tdb.NewInt(9)))
}

func TestAnchoredViewGoesEmptyWithItsObject(t *testing.T) {
	tbl, col := intTable(t)
	anchor, err := tbl.CreateObject()
	require.NoError(t, err)
	other, err := tbl.CreateObject()
	require.NoError(t, err)
	require.NoError(t, other.Set(col, tdb.NewInt(1)))

	view := NewAnchoredView(tdb.NewEmptyContext(), tbl, anchor.Key(), []tdb.ObjKey{other.Key()})
	require.False(t, view.DependsOnDeletedObject())

	require.NoError(t, tbl.RemoveObject(anchor.Key()))
	require.True(t, view.DependsOnDeletedObject())

	// The view becomes permanently in sync and empty.
	_, err = view.SyncIfNeeded()
	require.NoError(t, err)
	require.True(t, view.IsInSync())
	require.Equal(t, 0, view.Size())
}

func TestFindFirstIteratesFromStart(t *testing.T) {
	tbl, col := intTable(t)
	for i := int64(0); i < 10; i++ {
		obj, err := tbl.CreateObject()
		require.NoError(t, err)
		require.NoError(t, obj.Set(col, tdb.NewInt(i%2)))
	}
	q := New(tdb.NewEmptyContext(), tbl, equalsExpr(tbl, col, tdb.NewInt(1)))

	key, ok, err := q.FindFirst(0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tdb.ObjKey(1), key)

	key, ok, err = q.FindFirst(key + 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, tdb.ObjKey(3), key)

	count, err := q.Count()
	require.NoError(t, err)
	require.Equal(t, int64(5), count)
}
