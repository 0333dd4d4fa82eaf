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
	"github.com/terndb/tern/tdb"
	"github.com/terndb/tern/tdb/index"
)

// encodeIndexValue produces the canonical index bytes for a value of the
// column type. The second result is false for null.
func encodeIndexValue(t tdb.DataType, v tdb.Mixed) ([]byte, bool) {
	if v.IsNull() {
		return nil, false
	}
	switch t {
	case tdb.TypeString:
		return []byte(v.Str()), true
	case tdb.TypeInt:
		return index.EncodeCanonical(v.Int()), true
	case tdb.TypeBool:
		if v.Bool() {
			return index.EncodeCanonical(1), true
		}
		return index.EncodeCanonical(0), true
	case tdb.TypeTimestamp:
		return v.Timestamp().IndexData(), true
	case tdb.TypeObjectID:
		id := v.ObjectID()
		return id[:], true
	case tdb.TypeUUID:
		u := v.UUID()
		return u[:], true
	}
	return nil, false
}

// colAccessor lets an index confirm candidate rows by fetching the live
// column value.
type colAccessor struct {
	t    *Table
	col  tdb.ColKey
}

func (c colAccessor) IndexData(key tdb.ObjKey) ([]byte, bool) {
	slot, err := c.t.slotOf(c.col)
	if err != nil {
		return nil, false
	}
	return c.t.indexData(key, slot)
}

func (t *Table) indexData(key tdb.ObjKey, slot int) ([]byte, bool) {
	v, err := t.tree.GetValue(key, slot)
	if err != nil || v.IsNull() {
		return nil, false
	}
	return encodeIndexValue(t.cols[slot].Type, v)
}

// AddSearchIndex builds a search index over the column from its current
// rows. Unindexable types fail with illegal_combination.
func (t *Table) AddSearchIndex(col tdb.ColKey) error {
	spec, err := t.Spec(col)
	if err != nil {
		return err
	}
	if _, ok := t.indexes[col]; ok {
		return nil
	}
	if spec.Collection != tdb.CollectionNone || !spec.Type.Indexable() {
		return tdb.ErrIllegalCombination.New("cannot index a " + spec.Collection.String() + " " + spec.Type.String() + " column")
	}
	var idx index.SearchIndex
	acc := colAccessor{t: t, col: col}
	switch spec.Type {
	case tdb.TypeInt, tdb.TypeBool:
		idx = index.NewRadixTree(t.alloc, acc, index.DefaultChunkWidth)
	default:
		idx = index.NewStringIndex(t.alloc, acc)
	}
	slot, err := t.slotOf(col)
	if err != nil {
		return err
	}
	t.tree.Traverse(func(key tdb.ObjKey) bool {
		data, ok := t.indexData(key, slot)
		idx.Insert(key, data, !ok)
		return true
	})
	t.indexes[col] = idx
	t.bump()
	return nil
}

// RemoveSearchIndex drops the column's index.
func (t *Table) RemoveSearchIndex(col tdb.ColKey) error {
	idx, ok := t.indexes[col]
	if !ok {
		return nil
	}
	idx.Destroy()
	delete(t.indexes, col)
	t.bump()
	return nil
}

// HasSearchIndex reports whether the column carries an index.
func (t *Table) HasSearchIndex(col tdb.ColKey) bool {
	_, ok := t.indexes[col]
	return ok
}

// SearchIndex returns the column's index when one exists.
func (t *Table) SearchIndex(col tdb.ColKey) (index.SearchIndex, bool) {
	idx, ok := t.indexes[col]
	return idx, ok
}

// FindAllFold returns the keys whose string value case-folds equal to
// value, ascending, using the index's permutation search when available.
func (t *Table) FindAllFold(col tdb.ColKey, value string) ([]tdb.ObjKey, error) {
	slot, err := t.slotOf(col)
	if err != nil {
		return nil, err
	}
	if t.cols[slot].Type != tdb.TypeString {
		return nil, tdb.ErrIllegalCombination.New("case-insensitive find requires a string column")
	}
	if idx, ok := t.indexes[col]; ok {
		if si, ok := idx.(*index.StringIndex); ok {
			return si.FindAllFold(value), nil
		}
	}
	var out []tdb.ObjKey
	t.tree.Traverse(func(key tdb.ObjKey) bool {
		v, err := t.tree.GetValue(key, slot)
		if err == nil && !v.IsNull() && tdb.NewString(value).EqualFold(v) {
			out = append(out, key)
		}
		return true
	})
	return out, nil
}
