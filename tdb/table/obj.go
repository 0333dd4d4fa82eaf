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
	"sort"

	"github.com/terndb/tern/tdb"
)

// Obj is a handle on one row. It stays valid for the row's lifetime within
// the owning transaction.
type Obj struct {
	table *Table
	key   tdb.ObjKey
}

// Key returns the row's object key.
func (o *Obj) Key() tdb.ObjKey { return o.key }

// Table returns the owning table.
func (o *Obj) Table() *Table { return o.table }

// IsValid reports whether the row still exists.
func (o *Obj) IsValid() bool { return o.table.tree.HasKey(o.key) }

// Get reads a cell. Collection columns are read through their accessors.
func (o *Obj) Get(col tdb.ColKey) (tdb.Mixed, error) {
	slot, err := o.table.slotOf(col)
	if err != nil {
		return tdb.Null, err
	}
	spec := &o.table.cols[slot]
	if spec.IsCollection() {
		return tdb.Null, tdb.ErrIllegalCombination.New("column " + spec.Name + " is a " + spec.Collection.String())
	}
	return o.table.tree.GetValue(o.key, slot)
}

// IsNull reports whether the cell is null.
func (o *Obj) IsNull(col tdb.ColKey) (bool, error) {
	v, err := o.Get(col)
	if err != nil {
		return false, err
	}
	return v.IsNull(), nil
}

// Set writes a cell, enforcing type, nullability and payload caps, and
// keeping search indices and backlinks current.
func (o *Obj) Set(col tdb.ColKey, value tdb.Mixed) error {
	slot, err := o.table.slotOf(col)
	if err != nil {
		return err
	}
	spec := &o.table.cols[slot]
	if spec.IsCollection() {
		return tdb.ErrIllegalCombination.New("column " + spec.Name + " is a " + spec.Collection.String())
	}
	if value.IsNull() {
		if !spec.Nullable {
			return tdb.ErrColumnNotNullable.New(spec.Name)
		}
	} else if spec.Type != tdb.TypeMixed && value.Type() != spec.Type {
		coerced, err := value.CoerceTo(spec.Type)
		if err != nil {
			return tdb.ErrTypeMismatch.New(value.Type(), spec.Type)
		}
		value = coerced
	}
	switch value.Type() {
	case tdb.TypeString:
		if len(value.Str()) > tdb.MaxStringSize {
			return tdb.ErrStringTooBig.New(len(value.Str()), tdb.MaxStringSize)
		}
	case tdb.TypeBinary:
		if len(value.Binary()) > tdb.MaxBinarySize {
			return tdb.ErrBinaryTooBig.New(len(value.Binary()), tdb.MaxBinarySize)
		}
	}

	old, err := o.table.tree.GetValue(o.key, slot)
	if err != nil {
		return err
	}

	if spec.IsLink() && !spec.Backlink {
		if err := o.relinkSingle(spec, old, value); err != nil {
			return err
		}
	}

	if err := o.table.tree.SetValue(o.key, slot, value); err != nil {
		return err
	}

	if idx, ok := o.table.indexes[col]; ok {
		oldData, oldOk := encodeIndexValue(spec.Type, old)
		idx.Erase(o.key, oldData, !oldOk)
		newData, newOk := encodeIndexValue(spec.Type, value)
		idx.Insert(o.key, newData, !newOk)
	}
	o.table.bump()
	return nil
}

// SetNull clears a cell.
func (o *Obj) SetNull(col tdb.ColKey) error {
	return o.Set(col, tdb.Null)
}

// SetAll writes several cells in column-key order.
func (o *Obj) SetAll(values map[tdb.ColKey]tdb.Mixed) error {
	cols := make([]tdb.ColKey, 0, len(values))
	for col := range values {
		cols = append(cols, col)
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i] < cols[j] })
	for _, col := range cols {
		if err := o.Set(col, values[col]); err != nil {
			return err
		}
	}
	return nil
}

// Backlinks returns the keys of rows in the origin table whose link column
// points at this row.
func (o *Obj) Backlinks(originTable tdb.TableKey, originCol tdb.ColKey) ([]tdb.ObjKey, error) {
	slot, ok := o.table.backlinkSlot(originTable, originCol)
	if !ok {
		return nil, tdb.ErrIllegalCombination.New("no backlink column for that origin")
	}
	return o.table.backlinkKeys(o.key, slot)
}

// BacklinkCount returns the number of incoming links from the origin
// column.
func (o *Obj) BacklinkCount(originTable tdb.TableKey, originCol tdb.ColKey) (int, error) {
	keys, err := o.Backlinks(originTable, originCol)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}
