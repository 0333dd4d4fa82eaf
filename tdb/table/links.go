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

// Backlink columns are hidden lists of origin keys, one per link column
// pointing at this table. They are maintained on every link mutation, so
// reverse traversal never scans.

func (t *Table) backlinkKeys(key tdb.ObjKey, slot int) ([]tdb.ObjKey, error) {
	ref, err := t.tree.CollectionRef(key, slot, false)
	if err != nil {
		return nil, err
	}
	if ref.IsNull() {
		return nil, nil
	}
	values := cluster.CollectionAll(t.alloc, ref)
	out := make([]tdb.ObjKey, 0, len(values))
	for _, v := range values {
		if v.Type() == tdb.TypeLink {
			out = append(out, v.Link())
		}
	}
	return out, nil
}

func (t *Table) backlinkInsert(key tdb.ObjKey, slot int, origin tdb.ObjKey) error {
	ref, err := t.tree.CollectionRef(key, slot, true)
	if err != nil {
		return err
	}
	newRef := cluster.CollectionAppend(t.alloc, ref, tdb.NewLink(origin))
	return t.tree.SetCollectionRef(key, slot, newRef)
}

func (t *Table) backlinkErase(key tdb.ObjKey, slot int, origin tdb.ObjKey) error {
	ref, err := t.tree.CollectionRef(key, slot, false)
	if err != nil || ref.IsNull() {
		return err
	}
	if pos := cluster.CollectionFind(t.alloc, ref, tdb.NewLink(origin)); pos >= 0 {
		newRef := cluster.CollectionErase(t.alloc, ref, pos)
		return t.tree.SetCollectionRef(key, slot, newRef)
	}
	return nil
}

// linkTarget resolves the table a link value points into.
func (o *Obj) linkTarget(spec *tdb.ColumnSpec, v tdb.Mixed) (*Table, tdb.ObjKey, bool) {
	if v.IsNull() {
		return nil, 0, false
	}
	var tk tdb.TableKey
	var key tdb.ObjKey
	switch v.Type() {
	case tdb.TypeLink:
		tk, key = spec.Target, v.Link()
	case tdb.TypeTypedLink:
		l := v.TypedLink()
		tk, key = l.Table, l.Key
	default:
		return nil, 0, false
	}
	if o.table.resolver == nil {
		return nil, 0, false
	}
	target, ok := o.table.resolver.TableByKey(tk)
	if !ok {
		return nil, 0, false
	}
	return target, key, true
}

// relinkSingle moves the backlink of a single-valued link column from the
// old target to the new one, verifying the new target exists.
func (o *Obj) relinkSingle(spec *tdb.ColumnSpec, old, value tdb.Mixed) error {
	if target, key, ok := o.linkTarget(spec, value); ok {
		if !target.tree.HasKey(key) {
			return tdb.ErrTargetRowIndexOutOfRange.New(key, target.name)
		}
	} else if !value.IsNull() {
		return tdb.ErrTargetRowIndexOutOfRange.New(value, "unknown table")
	}
	if target, key, ok := o.linkTarget(spec, old); ok {
		if slot, found := target.backlinkSlot(o.table.key, spec.Key); found {
			if err := target.backlinkErase(key, slot, o.key); err != nil {
				return err
			}
		}
	}
	if target, key, ok := o.linkTarget(spec, value); ok {
		if slot, found := target.backlinkSlot(o.table.key, spec.Key); found {
			if err := target.backlinkInsert(key, slot, o.key); err != nil {
				return err
			}
		}
	}
	return nil
}

// clearIncomingLinks walks this row's backlink columns and detaches every
// forward link still pointing here: single links go null, collection
// entries are removed.
func (o *Obj) clearIncomingLinks() error {
	for slot := range o.table.cols {
		spec := &o.table.cols[slot]
		if !spec.Backlink {
			continue
		}
		origins, err := o.table.backlinkKeys(o.key, slot)
		if err != nil {
			return err
		}
		originTable, ok := o.table.resolver.TableByKey(spec.OriginTable)
		if !ok {
			continue
		}
		for _, originKey := range origins {
			originObj, err := originTable.GetObject(originKey)
			if err != nil {
				continue
			}
			if err := originObj.detachLinksTo(spec.OriginColumn, o.table.key, o.key); err != nil {
				return err
			}
		}
	}
	return nil
}

// detachLinksTo removes every link in the given column that points at
// (targetTable, targetKey).
func (o *Obj) detachLinksTo(col tdb.ColKey, targetTable tdb.TableKey, targetKey tdb.ObjKey) error {
	slot, err := o.table.slotOf(col)
	if err != nil {
		return err
	}
	spec := &o.table.cols[slot]
	match := func(v tdb.Mixed) bool {
		switch v.Type() {
		case tdb.TypeLink:
			return spec.Target == targetTable && v.Link() == targetKey
		case tdb.TypeTypedLink:
			l := v.TypedLink()
			return l.Table == targetTable && l.Key == targetKey
		}
		return false
	}
	if spec.Collection == tdb.CollectionNone {
		v, err := o.table.tree.GetValue(o.key, slot)
		if err != nil {
			return err
		}
		if match(v) {
			return o.Set(col, tdb.Null)
		}
		return nil
	}
	list := &List{obj: o, col: col}
	for i := list.Size() - 1; i >= 0; i-- {
		v, err := list.Get(i)
		if err != nil {
			return err
		}
		if match(v) {
			if err := list.Remove(i); err != nil {
				return err
			}
		}
	}
	return nil
}

// unregisterOutgoingLinks erases this row from the backlink lists of every
// row its link cells point at.
func (o *Obj) unregisterOutgoingLinks() error {
	for slot := range o.table.cols {
		spec := &o.table.cols[slot]
		if spec.Backlink || !spec.IsLink() {
			continue
		}
		drop := func(v tdb.Mixed) error {
			target, key, ok := o.linkTarget(spec, v)
			if !ok {
				return nil
			}
			if bslot, found := target.backlinkSlot(o.table.key, spec.Key); found {
				return target.backlinkErase(key, bslot, o.key)
			}
			return nil
		}
		if spec.Collection == tdb.CollectionNone {
			v, err := o.table.tree.GetValue(o.key, slot)
			if err != nil {
				return err
			}
			if err := drop(v); err != nil {
				return err
			}
			continue
		}
		ref, err := o.table.tree.CollectionRef(o.key, slot, false)
		if err != nil || ref.IsNull() {
			continue
		}
		for _, v := range cluster.CollectionAll(o.table.alloc, ref) {
			if err := drop(v); err != nil {
				return err
			}
		}
	}
	return nil
}
