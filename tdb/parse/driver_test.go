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

package parse

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

func mustSet(t *testing.T, obj *table.Obj, col tdb.ColKey, v tdb.Mixed) {
	t.Helper()
	require.NoError(t, obj.Set(col, v))
}

func runKeys(t *testing.T, tbl *table.Table, predicate string, args tdb.Arguments) []tdb.ObjKey {
	t.Helper()
	q, err := ParseQuery(tdb.NewEmptyContext(), tbl, predicate, args, nil)
	require.NoError(t, err)
	view, err := q.FindAll()
	require.NoError(t, err)
	return view.Keys()
}

func TestQueryLinkTraversal(t *testing.T) {
	// Three rows chained r0 -> r1 -> r2, with r2 named "Alice".
	a := alloc.New()
	r := newTestResolver()
	people := r.add(a, 0, "people")
	name, err := people.AddColumn(tdb.TypeString, "name", true)
	require.NoError(t, err)
	friend, err := people.AddColumnLink(tdb.TypeLink, "friend", people)
	require.NoError(t, err)

	r0, _ := people.CreateObject()
	r1, _ := people.CreateObject()
	r2, _ := people.CreateObject()
	mustSet(t, r0, friend, tdb.NewLink(r1.Key()))
	mustSet(t, r1, friend, tdb.NewLink(r2.Key()))
	mustSet(t, r2, name, tdb.NewString("Alice"))

	keys := runKeys(t, people, `friend.friend.name == "Alice"`, nil)
	require.Equal(t, []tdb.ObjKey{r0.Key()}, keys)

	// A broken link is "no match", not an error.
	keys = runKeys(t, people, `friend.name == "Alice"`, nil)
	require.Equal(t, []tdb.ObjKey{r1.Key()}, keys)
}

func TestQueryInFastPath(t *testing.T) {
	a := alloc.New()
	r := newTestResolver()
	tbl := r.add(a, 0, "t")
	id, err := tbl.AddColumn(tdb.TypeInt, "id", false)
	require.NoError(t, err)
	for i := int64(1); i <= 5; i++ {
		obj, err := tbl.CreateObject()
		require.NoError(t, err)
		mustSet(t, obj, id, tdb.NewInt(i))
	}
	require.NoError(t, tbl.AddSearchIndex(id))

	q, err := ParseQuery(tdb.NewEmptyContext(), tbl, `id IN {2, 4, 99}`, nil, nil)
	require.NoError(t, err)

	// The plan is the specialized in() node driving the index.
	in, ok := q.Root().(*expression.InConstList)
	require.True(t, ok)
	candidates, driven := in.Candidates()
	require.True(t, driven)
	require.Equal(t, []tdb.ObjKey{1, 3}, candidates)

	view, err := q.FindAll()
	require.NoError(t, err)
	require.Equal(t, []tdb.ObjKey{1, 3}, view.Keys())
}

func TestQueryMonotonicKeyOrder(t *testing.T) {
	a := alloc.New()
	tbl := newTestResolver().add(a, 0, "t")
	n, err := tbl.AddColumn(tdb.TypeInt, "n", true)
	require.NoError(t, err)
	for i := int64(0); i < 300; i++ {
		obj, err := tbl.CreateObject()
		require.NoError(t, err)
		mustSet(t, obj, n, tdb.NewInt(i%7))
	}
	keys := runKeys(t, tbl, `n == 3`, nil)
	require.NotEmpty(t, keys)
	for i := 1; i < len(keys); i++ {
		require.Greater(t, keys[i], keys[i-1])
	}
}

func TestQuerySortDistinctStability(t *testing.T) {
	// Values ["", null, "", null, "foo", "foo", "bar"]; descending sort
	// puts nulls last, distinct keeps first occurrences.
	a := alloc.New()
	tbl := newTestResolver().add(a, 0, "t")
	s, err := tbl.AddColumn(tdb.TypeString, "s", true)
	require.NoError(t, err)

	values := []tdb.Mixed{
		tdb.NewString(""), tdb.Null, tdb.NewString(""), tdb.Null,
		tdb.NewString("foo"), tdb.NewString("foo"), tdb.NewString("bar"),
	}
	for _, v := range values {
		obj, err := tbl.CreateObject()
		require.NoError(t, err)
		mustSet(t, obj, s, v)
	}

	keys := runKeys(t, tbl, `TRUEPREDICATE SORT(s DESC) DISTINCT(s)`, nil)
	require.Equal(t, []tdb.ObjKey{4, 6, 0, 1}, keys)
}

func TestQueryStringOperators(t *testing.T) {
	a := alloc.New()
	tbl := newTestResolver().add(a, 0, "t")
	s, err := tbl.AddColumn(tdb.TypeString, "s", true)
	require.NoError(t, err)
	for _, v := range []string{"apple pie", "Apple sauce", "banana split", "cherry"} {
		obj, err := tbl.CreateObject()
		require.NoError(t, err)
		mustSet(t, obj, s, tdb.NewString(v))
	}

	require.Equal(t, []tdb.ObjKey{0}, runKeys(t, tbl, `s BEGINSWITH "apple"`, nil))
	require.Equal(t, []tdb.ObjKey{0, 1}, runKeys(t, tbl, `s BEGINSWITH[c] "apple"`, nil))
	require.Equal(t, []tdb.ObjKey{2}, runKeys(t, tbl, `s ENDSWITH "split"`, nil))
	require.Equal(t, []tdb.ObjKey{0, 1}, runKeys(t, tbl, `s CONTAINS[c] "APPLE"`, nil))
	require.Equal(t, []tdb.ObjKey{0, 1}, runKeys(t, tbl, `s LIKE "*p?e*"`, nil))
	require.Equal(t, []tdb.ObjKey{1}, runKeys(t, tbl, `s TEXT "sauce apple"`, nil))
}

func TestQueryLogicAndPredicates(t *testing.T) {
	a := alloc.New()
	tbl := newTestResolver().add(a, 0, "t")
	n, err := tbl.AddColumn(tdb.TypeInt, "n", true)
	require.NoError(t, err)
	for i := int64(0); i < 10; i++ {
		obj, err := tbl.CreateObject()
		require.NoError(t, err)
		mustSet(t, obj, n, tdb.NewInt(i))
	}

	require.Len(t, runKeys(t, tbl, `TRUEPREDICATE`, nil), 10)
	require.Empty(t, runKeys(t, tbl, `FALSEPREDICATE`, nil))
	require.Equal(t, []tdb.ObjKey{3, 4}, runKeys(t, tbl, `n >= 3 AND n < 5`, nil))
	require.Equal(t, []tdb.ObjKey{0, 9}, runKeys(t, tbl, `n == 0 OR n == 9`, nil))
	require.Equal(t, []tdb.ObjKey{0, 1, 2}, runKeys(t, tbl, `NOT n > 2`, nil))
	// Implicit conjunction by juxtaposition.
	require.Equal(t, []tdb.ObjKey{4}, runKeys(t, tbl, `n > 3 n < 5`, nil))
}

func TestQueryArguments(t *testing.T) {
	a := alloc.New()
	tbl := newTestResolver().add(a, 0, "t")
	n, err := tbl.AddColumn(tdb.TypeInt, "n", true)
	require.NoError(t, err)
	s, err := tbl.AddColumn(tdb.TypeString, "s", true)
	require.NoError(t, err)
	obj, err := tbl.CreateObject()
	require.NoError(t, err)
	mustSet(t, obj, n, tdb.NewInt(42))
	mustSet(t, obj, s, tdb.NewString("x"))

	args := tdb.NewMixedArguments(int64(42), "x", []interface{}{int64(41), int64(42)})
	require.Len(t, runKeys(t, tbl, `n == $0`, args), 1)
	require.Len(t, runKeys(t, tbl, `s == $1`, args), 1)
	// List arguments are disclosed via IsArgumentList and feed IN.
	require.Len(t, runKeys(t, tbl, `n IN $2`, args), 1)

	// A lossy argument cannot be coerced to the column type.
	bad := tdb.NewMixedArguments(1.5)
	_, err = ParseQuery(tdb.NewEmptyContext(), tbl, `n == $0`, bad, nil)
	require.Error(t, err)
	require.True(t, tdb.ErrInvalidQueryArg.Is(err))
}

func TestQueryAggregatesAndSize(t *testing.T) {
	a := alloc.New()
	tbl := newTestResolver().add(a, 0, "t")
	scores, err := tbl.AddColumnCollection(tdb.CollectionList, tdb.TypeInt, "scores", true, nil)
	require.NoError(t, err)

	for _, rows := range [][]int64{{1, 2, 3}, {10, 20}, {}} {
		obj, err := tbl.CreateObject()
		require.NoError(t, err)
		list, err := obj.ListOf(scores)
		require.NoError(t, err)
		for _, v := range rows {
			require.NoError(t, list.Add(tdb.NewInt(v)))
		}
	}

	require.Equal(t, []tdb.ObjKey{1}, runKeys(t, tbl, `scores.@max >= 10`, nil))
	require.Equal(t, []tdb.ObjKey{0}, runKeys(t, tbl, `scores.@sum == 6`, nil))
	require.Equal(t, []tdb.ObjKey{0, 1}, runKeys(t, tbl, `scores.@size > 0`, nil))
	require.Equal(t, []tdb.ObjKey{0, 1}, runKeys(t, tbl, `ANY scores > 1`, nil))
	require.Equal(t, []tdb.ObjKey{1, 2}, runKeys(t, tbl, `ALL scores >= 10`, nil))
	require.Equal(t, []tdb.ObjKey{2}, runKeys(t, tbl, `NONE scores > 0`, nil))
}

func TestQueryBacklinks(t *testing.T) {
	a := alloc.New()
	r := newTestResolver()
	people := r.add(a, 0, "people")
	friend, err := people.AddColumnLink(tdb.TypeLink, "friend", people)
	require.NoError(t, err)

	popular, _ := people.CreateObject()
	fan1, _ := people.CreateObject()
	fan2, _ := people.CreateObject()
	mustSet(t, fan1, friend, tdb.NewLink(popular.Key()))
	mustSet(t, fan2, friend, tdb.NewLink(popular.Key()))

	keys := runKeys(t, people, `@links.people.friend.@count >= 2`, nil)
	require.Equal(t, []tdb.ObjKey{popular.Key()}, keys)
}

func TestQuerySubquery(t *testing.T) {
	a := alloc.New()
	r := newTestResolver()
	orders := r.add(a, 0, "orders")
	items := r.add(a, 1, "items")
	price, err := items.AddColumn(tdb.TypeInt, "price", true)
	require.NoError(t, err)
	lines, err := orders.AddColumnCollection(tdb.CollectionList, tdb.TypeLink, "items", true, items)
	require.NoError(t, err)

	makeOrder := func(prices ...int64) *table.Obj {
		order, err := orders.CreateObject()
		require.NoError(t, err)
		list, err := order.ListOf(lines)
		require.NoError(t, err)
		for _, p := range prices {
			item, err := items.CreateObject()
			require.NoError(t, err)
			mustSet(t, item, price, tdb.NewInt(p))
			require.NoError(t, list.Add(tdb.NewLink(item.Key())))
		}
		return order
	}
	cheap := makeOrder(5, 10)
	pricey := makeOrder(200, 300, 50)

	keys := runKeys(t, orders, `SUBQUERY(items, $x, $x.price > 100).@count >= 2`, nil)
	require.Equal(t, []tdb.ObjKey{pricey.Key()}, keys)
	require.NotEqual(t, cheap.Key(), pricey.Key())
}

func TestQueryTypeErrors(t *testing.T) {
	a := alloc.New()
	r := newTestResolver()
	tbl := r.add(a, 0, "t")
	_, err := tbl.AddColumn(tdb.TypeInt, "n", true)
	require.NoError(t, err)
	_, err = tbl.AddColumnLink(tdb.TypeLink, "ref", tbl)
	require.NoError(t, err)

	cases := []string{
		`unknown == 1`,       // unknown property
		`ref > 5`,            // ordered compare on a link
		`n BEGINSWITH "x"`,   // string operator on int column
		`n ==[c] 1`,          // case modifier on int operands
		`n == "not-an-int"`,  // incomparable constant
		`ANY n == 1`,         // quantifier without a collection
	}
	for _, input := range cases {
		_, err := ParseQuery(tdb.NewEmptyContext(), tbl, input, nil, nil)
		require.Error(t, err, "input %q", input)
		require.True(t, tdb.ErrInvalidQuery.Is(err), "input %q got %v", input, err)
	}
}

func TestKeyPathMappingAliases(t *testing.T) {
	a := alloc.New()
	tbl := newTestResolver().add(a, 0, "t")
	n, err := tbl.AddColumn(tdb.TypeInt, "total", true)
	require.NoError(t, err)
	obj, err := tbl.CreateObject()
	require.NoError(t, err)
	mustSet(t, obj, n, tdb.NewInt(9))

	mapping := tdb.NewKeyPathMapping()
	mapping.AddMapping(tbl.Key(), "sum", "total")
	q, err := ParseQuery(tdb.NewEmptyContext(), tbl, `sum == 9`, nil, mapping)
	require.NoError(t, err)
	view, err := q.FindAll()
	require.NoError(t, err)
	require.Equal(t, 1, view.Size())
}

func TestKeyPathMappingCycle(t *testing.T) {
	a := alloc.New()
	tbl := newTestResolver().add(a, 0, "t")
	_, err := tbl.AddColumn(tdb.TypeInt, "n", true)
	require.NoError(t, err)

	mapping := tdb.NewKeyPathMapping()
	mapping.AddMapping(tbl.Key(), "a", "b")
	mapping.AddMapping(tbl.Key(), "b", "a")
	_, err = ParseQuery(tdb.NewEmptyContext(), tbl, `a == 1`, nil, mapping)
	require.Error(t, err)
	require.True(t, tdb.ErrMapping.Is(err))
}

func TestConstantFolding(t *testing.T) {
	a := alloc.New()
	tbl := newTestResolver().add(a, 0, "t")
	_, err := tbl.AddColumn(tdb.TypeInt, "n", true)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := tbl.CreateObject()
		require.NoError(t, err)
	}

	// Both sides constant: the comparison folds at compile time.
	q, err := ParseQuery(tdb.NewEmptyContext(), tbl, `1 == 1`, nil, nil)
	require.NoError(t, err)
	_, ok := q.Root().(expression.TruePredicate)
	require.True(t, ok)

	q, err = ParseQuery(tdb.NewEmptyContext(), tbl, `1 == 2`, nil, nil)
	require.NoError(t, err)
	_, ok = q.Root().(expression.FalsePredicate)
	require.True(t, ok)
}

func TestQueryLimit(t *testing.T) {
	a := alloc.New()
	tbl := newTestResolver().add(a, 0, "t")
	_, err := tbl.AddColumn(tdb.TypeInt, "n", true)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		_, err := tbl.CreateObject()
		require.NoError(t, err)
	}
	keys := runKeys(t, tbl, `TRUEPREDICATE LIMIT(4)`, nil)
	require.Equal(t, []tdb.ObjKey{0, 1, 2, 3}, keys)
}
