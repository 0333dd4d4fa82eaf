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
	"github.com/terndb/tern/tdb/cluster"
)

// Resolver returns the table resolver this table was created with; the
// query layer uses it to follow links across tables.
func (t *Table) Resolver() Resolver { return t.resolver }

// CollectionValues returns the elements of a list or set column, or the
// values of a dictionary column, in storage order.
func (o *Obj) CollectionValues(col tdb.ColKey) ([]tdb.Mixed, error) {
	slot, err := o.table.slotOf(col)
	if err != nil {
		return nil, err
	}
	spec := &o.table.cols[slot]
	if spec.Collection == tdb.CollectionNone {
		return nil, tdb.ErrIllegalCombination.New("column " + spec.Name + " is not a collection")
	}
	ref, err := o.table.tree.CollectionRef(o.key, slot, false)
	if err != nil || ref.IsNull() {
		return nil, err
	}
	if spec.Collection == tdb.CollectionDict {
		_, values := cluster.DictEntries(o.table.alloc, ref)
		return values, nil
	}
	return cluster.CollectionAll(o.table.alloc, ref), nil
}

// CollectionLen returns the element count of a collection column.
func (o *Obj) CollectionLen(col tdb.ColKey) (int, error) {
	slot, err := o.table.slotOf(col)
	if err != nil {
		return 0, err
	}
	spec := &o.table.cols[slot]
	if spec.Collection == tdb.CollectionNone {
		return 0, tdb.ErrIllegalCombination.New("column " + spec.Name + " is not a collection")
	}
	ref, err := o.table.tree.CollectionRef(o.key, slot, false)
	if err != nil || ref.IsNull() {
		return 0, err
	}
	n := cluster.CollectionSize(o.table.alloc, ref)
	if spec.Collection == tdb.CollectionDict {
		n /= 2
	}
	return n, nil
}

// ResolveLink returns the row a link value of the given column points at.
func (o *Obj) ResolveLink(col tdb.ColKey, v tdb.Mixed) (*Obj, bool) {
	spec, err := o.table.Spec(col)
	if err != nil {
		return nil, false
	}
	target, key, ok := o.linkTarget(spec, v)
	if !ok {
		return nil, false
	}
	linked, err := target.GetObject(key)
	if err != nil {
		return nil, false
	}
	return linked, true
}
