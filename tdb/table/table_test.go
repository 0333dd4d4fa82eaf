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

package table

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/terndb/tern/tdb"
	"github.com/terndb/tern/tdb/alloc"
)

// testResolver is a minimal stand-in for the group.
type testResolver struct {
	byKey  map[tdb.TableKey]*Table
	byName map[string]*Table
}

func newTestResolver() *testResolver {
	return &testResolver{
		byKey:  make(map[tdb.TableKey]*Table),
		byName: make(map[string]*Table),
	}
}

func (r *testResolver) TableByKey(key tdb.TableKey) (*Table, bool) {
	t, ok := r.byKey[key]
	return t, ok
}

func (r *testResolver) TableByName(name string) (*Table, bool) {
	t, ok := r.byName[name]
	return t, ok
}

func (r *testResolver) add(a *alloc.Alloc, key tdb.TableKey, name string) *Table {
	t := New(a, key, name, r, nil)
	r.byKey[key] = t
	r.byName[name] = t
	return t
}

func TestCreateGetRemove(t *testing.T) {
	a := alloc.New()
	r := newTestResolver()
	tbl := r.add(a, 0, "items")
	col, err := tbl.AddColumn(tdb.TypeInt, "n", true)
	require.NoError(t, err)

	obj, err := tbl.CreateObject()
	require.NoError(t, err)
	require.NoError(t, obj.Set(col, tdb.NewInt(11)))

	got, err := tbl.GetObject(obj.Key())
	require.NoError(t, err)
	v, err := got.Get(col)
	require.NoError(t, err)
	require.Equal(t, int64(11), v.Int())

	require.NoError(t, tbl.RemoveObject(obj.Key()))
	_, err = tbl.GetObject(obj.Key())
	require.True(t, tdb.ErrInvalidKey.Is(err))

	// Keys are never reused after deletion.
	next, err := tbl.CreateObject()
	require.NoError(t, err)
	require.NotEqual(t, obj.Key(), next.Key())
}

func TestDuplicateExplicitKey(t *testing.T) {
	a := alloc.New()
	tbl := newTestResolver().add(a, 0, "t")
	_, err := tbl.CreateObjectWithKey(9)
	require.NoError(t, err)
	_, err = tbl.CreateObjectWithKey(9)
	require.True(t, tdb.ErrInvalidKey.Is(err))
}

func TestNullabilityAndTypeChecks(t *testing.T) {
	a := alloc.New()
	tbl := newTestResolver().add(a, 0, "t")
	strict, err := tbl.AddColumn(tdb.TypeInt, "strict", false)
	require.NoError(t, err)
	str, err := tbl.AddColumn(tdb.TypeString, "s", true)
	require.NoError(t, err)

	obj, err := tbl.CreateObject()
	require.NoError(t, err)

	err = obj.Set(strict, tdb.Null)
	require.True(t, tdb.ErrColumnNotNullable.Is(err))

	err = obj.Set(strict, tdb.NewString("nope"))
	require.True(t, tdb.ErrTypeMismatch.Is(err))

	// Lossless numeric coercion is fine.
	require.NoError(t, obj.Set(strict, tdb.NewDouble(4)))
	v, err := obj.Get(strict)
	require.NoError(t, err)
	require.Equal(t, int64(4), v.Int())

	require.NoError(t, obj.Set(str, tdb.NewString("ok")))
}

func TestUnknownColumnSuggestion(t *testing.T) {
	a := alloc.New()
	tbl := newTestResolver().add(a, 0, "t")
	_, err := tbl.AddColumn(tdb.TypeString, "firstName", true)
	require.NoError(t, err)

	_, err = tbl.ColumnForName("firstNme")
	require.True(t, tdb.ErrColumnNotFound.Is(err))
	require.Contains(t, err.Error(), "maybe you mean firstName")
}

func TestColumnNameTooLong(t *testing.T) {
	a := alloc.New()
	tbl := newTestResolver().add(a, 0, "t")
	_, err := tbl.AddColumn(tdb.TypeInt, strings.Repeat("x", 64), true)
	require.True(t, tdb.ErrColumnNameTooLong.Is(err))
	_, err = tbl.AddColumn(tdb.TypeInt, strings.Repeat("x", 63), true)
	require.NoError(t, err)
}

func TestStringTooBig(t *testing.T) {
	a := alloc.New()
	tbl := newTestResolver().add(a, 0, "t")
	col, err := tbl.AddColumn(tdb.TypeString, "s", true)
	require.NoError(t, err)
	obj, err := tbl.CreateObject()
	require.NoError(t, err)

	err = obj.Set(col, tdb.NewString(strings.Repeat("x", tdb.MaxStringSize+1)))
	require.True(t, tdb.ErrStringTooBig.Is(err))
}

func TestLinksAndBacklinks(t *testing.T) {
	a := alloc.New()
	r := newTestResolver()
	people := r.add(a, 0, "people")
	_, err := people.AddColumn(tdb.TypeString, "name", true)
	require.NoError(t, err)
	friend, err := people.AddColumnLink(tdb.TypeLink, "friend", people)
	require.NoError(t, err)

	alice, err := people.CreateObject()
	require.NoError(t, err)
	bob, err := people.CreateObject()
	require.NoError(t, err)

	require.NoError(t, alice.Set(friend, tdb.NewLink(bob.Key())))

	back, err := bob.Backlinks(people.Key(), friend)
	require.NoError(t, err)
	require.Equal(t, []tdb.ObjKey{alice.Key()}, back)

	// Re-linking moves the backlink.
	carol, err := people.CreateObject()
	require.NoError(t, err)
	require.NoError(t, alice.Set(friend, tdb.NewLink(carol.Key())))
	back, err = bob.Backlinks(people.Key(), friend)
	require.NoError(t, err)
	require.Empty(t, back)
	back, err = carol.Backlinks(people.Key(), friend)
	require.NoError(t, err)
	require.Equal(t, []tdb.ObjKey{alice.Key()}, back)

	// Removing the target nullifies the forward link.
	require.NoError(t, people.RemoveObject(carol.Key()))
	v, err := alice.Get(friend)
	require.NoError(t, err)
	require.True(t, v.IsNull())
}

func TestLinkTargetMustExist(t *testing.T) {
	a := alloc.New()
	r := newTestResolver()
	people := r.add(a, 0, "people")
	friend, err := people.AddColumnLink(tdb.TypeLink, "friend", people)
	require.NoError(t, err)

	obj, err := people.CreateObject()
	require.NoError(t, err)
	err = obj.Set(friend, tdb.NewLink(999))
	require.True(t, tdb.ErrTargetRowIndexOutOfRange.Is(err))
}

func TestLinkListBacklinks(t *testing.T) {
	a := alloc.New()
	r := newTestResolver()
	people := r.add(a, 0, "people")
	dogs := r.add(a, 1, "dogs")
	pets, err := people.AddColumnCollection(tdb.CollectionList, tdb.TypeLink, "pets", true, dogs)
	require.NoError(t, err)

	owner, err := people.CreateObject()
	require.NoError(t, err)
	rex, err := dogs.CreateObject()
	require.NoError(t, err)
	fido, err := dogs.CreateObject()
	require.NoError(t, err)

	list, err := owner.ListOf(pets)
	require.NoError(t, err)
	require.NoError(t, list.Add(tdb.NewLink(rex.Key())))
	require.NoError(t, list.Add(tdb.NewLink(fido.Key())))
	require.Equal(t, 2, list.Size())

	back, err := rex.Backlinks(people.Key(), pets)
	require.NoError(t, err)
	require.Equal(t, []tdb.ObjKey{owner.Key()}, back)

	// Removing a dog removes it from the list via the backlink.
	require.NoError(t, dogs.RemoveObject(rex.Key()))
	list, err = owner.ListOf(pets)
	require.NoError(t, err)
	require.Equal(t, 1, list.Size())
	v, err := list.Get(0)
	require.NoError(t, err)
	require.Equal(t, fido.Key(), v.Link())
}

func TestContentVersionBumps(t *testing.T) {
	a := alloc.New()
	tbl := newTestResolver().add(a, 0, "t")
	col, err := tbl.AddColumn(tdb.TypeInt, "n", true)
	require.NoError(t, err)

	v0 := tbl.ContentVersion()
	obj, err := tbl.CreateObject()
	require.NoError(t, err)
	v1 := tbl.ContentVersion()
	require.Greater(t, v1, v0)

	require.NoError(t, obj.Set(col, tdb.NewInt(1)))
	require.Greater(t, tbl.ContentVersion(), v1)
}

func TestIndexMaintenance(t *testing.T) {
	a := alloc.New()
	tbl := newTestResolver().add(a, 0, "t")
	col, err := tbl.AddColumn(tdb.TypeString, "s", true)
	require.NoError(t, err)

	// Index built over existing rows.
	for _, v := range []string{"alpha", "beta", "alpha"} {
		obj, err := tbl.CreateObject()
		require.NoError(t, err)
		require.NoError(t, obj.Set(col, tdb.NewString(v)))
	}
	require.NoError(t, tbl.AddSearchIndex(col))
	require.True(t, tbl.HasSearchIndex(col))

	keys, err := tbl.FindAllValue(col, tdb.NewString("alpha"))
	require.NoError(t, err)
	require.Equal(t, []tdb.ObjKey{0, 2}, keys)

	// Updates keep the index current.
	obj, err := tbl.GetObject(0)
	require.NoError(t, err)
	require.NoError(t, obj.Set(col, tdb.NewString("gamma")))
	keys, err = tbl.FindAllValue(col, tdb.NewString("alpha"))
	require.NoError(t, err)
	require.Equal(t, []tdb.ObjKey{2}, keys)

	key, found, err := tbl.FindFirstValue(col, tdb.NewString("gamma"))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, tdb.ObjKey(0), key)

	require.NoError(t, tbl.Verify())
}

func TestIndexIllegalCombination(t *testing.T) {
	a := alloc.New()
	tbl := newTestResolver().add(a, 0, "t")
	dcol, err := tbl.AddColumn(tdb.TypeDouble, "d", true)
	require.NoError(t, err)
	err = tbl.AddSearchIndex(dcol)
	require.True(t, tdb.ErrIllegalCombination.Is(err))

	lcol, err := tbl.AddColumnCollection(tdb.CollectionList, tdb.TypeInt, "ns", true, nil)
	require.NoError(t, err)
	err = tbl.AddSearchIndex(lcol)
	require.True(t, tdb.ErrIllegalCombination.Is(err))
}

func TestPrimaryKeyCreate(t *testing.T) {
	a := alloc.New()
	tbl := newTestResolver().add(a, 0, "t")
	pk, err := tbl.AddColumn(tdb.TypeString, "id", false)
	require.NoError(t, err)
	require.NoError(t, tbl.SetPrimaryKeyColumn(pk))

	first, isNew, err := tbl.CreateObjectWithPrimaryKey(tdb.NewString("a-1"))
	require.NoError(t, err)
	require.True(t, isNew)

	again, isNew, err := tbl.CreateObjectWithPrimaryKey(tdb.NewString("a-1"))
	require.NoError(t, err)
	require.False(t, isNew)
	require.Equal(t, first.Key(), again.Key())

	other, isNew, err := tbl.CreateObjectWithPrimaryKey(tdb.NewString("a-2"))
	require.NoError(t, err)
	require.True(t, isNew)
	require.NotEqual(t, first.Key(), other.Key())
}

func TestDictionary(t *testing.T) {
	a := alloc.New()
	tbl := newTestResolver().add(a, 0, "t")
	col, err := tbl.AddColumnCollection(tdb.CollectionDict, tdb.TypeMixed, "attrs", true, nil)
	require.NoError(t, err)
	obj, err := tbl.CreateObject()
	require.NoError(t, err)

	d, err := obj.DictOf(col)
	require.NoError(t, err)
	require.NoError(t, d.Set("color", tdb.NewString("red")))
	require.NoError(t, d.Set("size", tdb.NewInt(42)))
	require.NoError(t, d.Set("color", tdb.NewString("blue")))

	require.Equal(t, 2, d.Size())
	v, ok := d.Get("color")
	require.True(t, ok)
	require.Equal(t, "blue", v.Str())
	require.Equal(t, []string{"color", "size"}, d.Keys())

	removed, err := d.Erase("size")
	require.NoError(t, err)
	require.True(t, removed)
	require.Equal(t, 1, d.Size())
}

func TestSetUniqueness(t *testing.T) {
	a := alloc.New()
	tbl := newTestResolver().add(a, 0, "t")
	col, err := tbl.AddColumnCollection(tdb.CollectionSet, tdb.TypeInt, "tags", true, nil)
	require.NoError(t, err)
	obj, err := tbl.CreateObject()
	require.NoError(t, err)

	s, err := obj.SetOf(col)
	require.NoError(t, err)
	changed, err := s.Add(tdb.NewInt(1))
	require.NoError(t, err)
	require.True(t, changed)
	changed, err = s.Add(tdb.NewInt(1))
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, 1, s.Size())
}

func TestObjToJSON(t *testing.T) {
	a := alloc.New()
	r := newTestResolver()
	tbl := r.add(a, 0, "t")
	name, err := tbl.AddColumn(tdb.TypeString, "name", true)
	require.NoError(t, err)
	obj, err := tbl.CreateObject()
	require.NoError(t, err)
	require.NoError(t, obj.Set(name, tdb.NewString("zed")))

	out, err := obj.ToJSON(0)
	require.NoError(t, err)
	require.JSONEq(t, `{"_key": 0, "name": "zed"}`, out)
}

func TestSetMixedJSON(t *testing.T) {
	a := alloc.New()
	tbl := newTestResolver().add(a, 0, "t")
	col, err := tbl.AddColumn(tdb.TypeMixed, "m", true)
	require.NoError(t, err)
	obj, err := tbl.CreateObject()
	require.NoError(t, err)

	require.NoError(t, obj.SetMixedJSON(col, `"hello"`))
	v, err := obj.Get(col)
	require.NoError(t, err)
	require.Equal(t, "hello", v.Str())

	require.NoError(t, obj.SetMixedJSON(col, `12`))
	v, err = obj.Get(col)
	require.NoError(t, err)
	require.Equal(t, int64(12), v.Int())

	err = obj.SetMixedJSON(col, `{not json`)
	require.True(t, tdb.ErrMalformedJson.Is(err))
}
