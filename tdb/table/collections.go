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
	"github.com/terndb/tern/tdb/alloc"
	"github.com/terndb/tern/tdb/cluster"
)

// List is an accessor on a list column cell. Lists of links maintain the
// target's backlinks on every mutation.
type List struct {
	obj *Obj
	col tdb.ColKey
}

// ListOf returns an accessor for the list column on obj.
func (o *Obj) ListOf(col tdb.ColKey) (*List, error) {
	slot, err := o.table.slotOf(col)
	if err != nil {
		return nil, err
	}
	if o.table.cols[slot].Collection != tdb.CollectionList {
		return nil, tdb.ErrIllegalCombination.New("column " + o.table.cols[slot].Name + " is not a list")
	}
	return &List{obj: o, col: col}, nil
}

func (l *List) spec() *tdb.ColumnSpec {
	spec, _ := l.obj.table.Spec(l.col)
	return spec
}

func (l *List) ref(create bool) (alloc.Ref, int, error) {
	slot, err := l.obj.table.slotOf(l.col)
	if err != nil {
		return alloc.NullRef, 0, err
	}
	ref, err := l.obj.table.tree.CollectionRef(l.obj.key, slot, create)
	return ref, slot, err
}

// Size returns the element count.
func (l *List) Size() int {
	ref, _, err := l.ref(false)
	if err != nil || ref.IsNull() {
		return 0
	}
	return cluster.CollectionSize(l.obj.table.alloc, ref)
}

// Get returns element i.
func (l *List) Get(i int) (tdb.Mixed, error) {
	ref, _, err := l.ref(false)
	if err != nil {
		return tdb.Null, err
	}
	if ref.IsNull() || i < 0 || i >= cluster.CollectionSize(l.obj.table.alloc, ref) {
		return tdb.Null, tdb.ErrInvalidKey.New(i)
	}
	return cluster.CollectionGet(l.obj.table.alloc, ref, i), nil
}

// All returns every element.
func (l *List) All() []tdb.Mixed {
	ref, _, err := l.ref(false)
	if err != nil || ref.IsNull() {
		return nil
	}
	return cluster.CollectionAll(l.obj.table.alloc, ref)
}

func (l *List) prepare(v tdb.Mixed) (tdb.Mixed, error) {
	spec := l.spec()
	if v.IsNull() {
		if !spec.Nullable {
			return tdb.Null, tdb.ErrColumnNotNullable.New(spec.Name)
		}
		return v, nil
	}
	if spec.Type != tdb.TypeMixed && v.Type() != spec.Type {
		coerced, err := v.CoerceTo(spec.Type)
		if err != nil {
			return tdb.Null, tdb.ErrTypeMismatch.New(v.Type(), spec.Type)
		}
		v = coerced
	}
	if spec.IsLink() {
		if target, key, ok := l.obj.linkTarget(spec, v); ok {
			if !target.tree.HasKey(key) {
				return tdb.Null, tdb.ErrTargetRowIndexOutOfRange.New(key, target.name)
			}
		}
	}
	return v, nil
}

func (l *List) linkBacklink(v tdb.Mixed, add bool) error {
	spec := l.spec()
	if !spec.IsLink() {
		return nil
	}
	target, key, ok := l.obj.linkTarget(spec, v)
	if !ok {
		return nil
	}
	slot, found := target.backlinkSlot(l.obj.table.key, spec.Key)
	if !found {
		return nil
	}
	if add {
		return target.backlinkInsert(key, slot, l.obj.key)
	}
	return target.backlinkErase(key, slot, l.obj.key)
}

// Insert places v at position i.
func (l *List) Insert(i int, v tdb.Mixed) error {
	v, err := l.prepare(v)
	if err != nil {
		return err
	}
	ref, slot, err := l.ref(true)
	if err != nil {
		return err
	}
	newRef := cluster.CollectionInsert(l.obj.table.alloc, ref, i, v)
	if err := l.obj.table.tree.SetCollectionRef(l.obj.key, slot, newRef); err != nil {
		return err
	}
	if err := l.linkBacklink(v, true); err != nil {
		return err
	}
	l.obj.table.bump()
	return nil
}

// Add appends v.
func (l *List) Add(v tdb.Mixed) error {
	return l.Insert(l.Size(), v)
}

// Set overwrites element i.
func (l *List) Set(i int, v tdb.Mixed) error {
	v, err := l.prepare(v)
	if err != nil {
		return err
	}
	old, err := l.Get(i)
	if err != nil {
		return err
	}
	ref, slot, err := l.ref(true)
	if err != nil {
		return err
	}
	newRef := cluster.CollectionSet(l.obj.table.alloc, ref, i, v)
	if err := l.obj.table.tree.SetCollectionRef(l.obj.key, slot, newRef); err != nil {
		return err
	}
	if err := l.linkBacklink(old, false); err != nil {
		return err
	}
	if err := l.linkBacklink(v, true); err != nil {
		return err
	}
	l.obj.table.bump()
	return nil
}

// Remove erases element i.
func (l *List) Remove(i int) error {
	old, err := l.Get(i)
	if err != nil {
		return err
	}
	ref, slot, err := l.ref(false)
	if err != nil {
		return err
	}
	newRef := cluster.CollectionErase(l.obj.table.alloc, ref, i)
	if err := l.obj.table.tree.SetCollectionRef(l.obj.key, slot, newRef); err != nil {
		return err
	}
	if err := l.linkBacklink(old, false); err != nil {
		return err
	}
	l.obj.table.bump()
	return nil
}

// Clear removes every element.
func (l *List) Clear() error {
	for l.Size() > 0 {
		if err := l.Remove(l.Size() - 1); err != nil {
			return err
		}
	}
	return nil
}

// Find returns the position of the first element equal to v, or -1.
func (l *List) Find(v tdb.Mixed) int {
	ref, _, err := l.ref(false)
	if err != nil || ref.IsNull() {
		return -1
	}
	return cluster.CollectionFind(l.obj.table.alloc, ref, v)
}

// Set columns reuse the list machinery with uniqueness enforced.
type Set struct {
	list List
}

// SetOf returns an accessor for the set column on obj.
func (o *Obj) SetOf(col tdb.ColKey) (*Set, error) {
	slot, err := o.table.slotOf(col)
	if err != nil {
		return nil, err
	}
	if o.table.cols[slot].Collection != tdb.CollectionSet {
		return nil, tdb.ErrIllegalCombination.New("column " + o.table.cols[slot].Name + " is not a set")
	}
	return &Set{list: List{obj: o, col: col}}, nil
}

// Size returns the element count.
func (s *Set) Size() int { return s.list.Size() }

// Contains reports membership.
func (s *Set) Contains(v tdb.Mixed) bool { return s.list.Find(v) >= 0 }

// All returns every element.
func (s *Set) All() []tdb.Mixed { return s.list.All() }

// Add inserts v unless it is already present. It reports whether the set
// changed.
func (s *Set) Add(v tdb.Mixed) (bool, error) {
	if s.Contains(v) {
		return false, nil
	}
	if err := s.list.Add(v); err != nil {
		return false, err
	}
	return true, nil
}

// Remove erases v if present. It reports whether the set changed.
func (s *Set) Remove(v tdb.Mixed) (bool, error) {
	pos := s.list.Find(v)
	if pos < 0 {
		return false, nil
	}
	if err := s.list.Remove(pos); err != nil {
		return false, err
	}
	return true, nil
}

// Clear removes every element.
func (s *Set) Clear() error { return s.list.Clear() }

// Dict is an accessor on a dictionary column cell.
type Dict struct {
	obj *Obj
	col tdb.ColKey
}

// DictOf returns an accessor for the dictionary column on obj.
func (o *Obj) DictOf(col tdb.ColKey) (*Dict, error) {
	slot, err := o.table.slotOf(col)
	if err != nil {
		return nil, err
	}
	if o.table.cols[slot].Collection != tdb.CollectionDict {
		return nil, tdb.ErrIllegalCombination.New("column " + o.table.cols[slot].Name + " is not a dictionary")
	}
	return &Dict{obj: o, col: col}, nil
}

func (d *Dict) ref(create bool) (alloc.Ref, int, error) {
	slot, err := d.obj.table.slotOf(d.col)
	if err != nil {
		return alloc.NullRef, 0, err
	}
	ref, err := d.obj.table.tree.CollectionRef(d.obj.key, slot, create)
	return ref, slot, err
}

// Size returns the entry count.
func (d *Dict) Size() int {
	ref, _, err := d.ref(false)
	if err != nil || ref.IsNull() {
		return 0
	}
	return cluster.CollectionSize(d.obj.table.alloc, ref) / 2
}

// Get looks up a key; the second result reports presence.
func (d *Dict) Get(key string) (tdb.Mixed, bool) {
	ref, _, err := d.ref(false)
	if err != nil || ref.IsNull() {
		return tdb.Null, false
	}
	return cluster.DictGet(d.obj.table.alloc, ref, key)
}

// Set inserts or overwrites an entry.
func (d *Dict) Set(key string, v tdb.Mixed) error {
	spec, err := d.obj.table.Spec(d.col)
	if err != nil {
		return err
	}
	if !v.IsNull() && spec.Type != tdb.TypeMixed && v.Type() != spec.Type {
		coerced, err := v.CoerceTo(spec.Type)
		if err != nil {
			return tdb.ErrTypeMismatch.New(v.Type(), spec.Type)
		}
		v = coerced
	}
	old, hadOld := d.Get(key)
	ref, slot, err := d.ref(true)
	if err != nil {
		return err
	}
	newRef := cluster.DictSet(d.obj.table.alloc, ref, key, v)
	if err := d.obj.table.tree.SetCollectionRef(d.obj.key, slot, newRef); err != nil {
		return err
	}
	if spec.IsLink() {
		l := List{obj: d.obj, col: d.col}
		if hadOld {
			if err := l.linkBacklink(old, false); err != nil {
				return err
			}
		}
		if err := l.linkBacklink(v, true); err != nil {
			return err
		}
	}
	d.obj.table.bump()
	return nil
}

// Erase removes an entry if present; it reports whether the dictionary
// changed.
func (d *Dict) Erase(key string) (bool, error) {
	old, had := d.Get(key)
	if !had {
		return false, nil
	}
	ref, slot, err := d.ref(false)
	if err != nil {
		return false, err
	}
	newRef, removed := cluster.DictErase(d.obj.table.alloc, ref, key)
	if err := d.obj.table.tree.SetCollectionRef(d.obj.key, slot, newRef); err != nil {
		return false, err
	}
	if removed {
		spec, _ := d.obj.table.Spec(d.col)
		if spec.IsLink() {
			l := List{obj: d.obj, col: d.col}
			if err := l.linkBacklink(old, false); err != nil {
				return false, err
			}
		}
		d.obj.table.bump()
	}
	return removed, nil
}

// Keys returns the sorted keys.
func (d *Dict) Keys() []string {
	ref, _, err := d.ref(false)
	if err != nil || ref.IsNull() {
		return nil
	}
	keys, _ := cluster.DictEntries(d.obj.table.alloc, ref)
	return keys
}

// Values returns the values in key order.
func (d *Dict) Values() []tdb.Mixed {
	ref, _, err := d.ref(false)
	if err != nil || ref.IsNull() {
		return nil
	}
	_, values := cluster.DictEntries(d.obj.table.alloc, ref)
	return values
}
