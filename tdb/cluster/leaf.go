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
	"github.com/terndb/tern/tdb"
	"github.com/terndb/tern/tdb/alloc"
	"github.com/terndb/tern/tdb/array"
)

// Leaf layout: slot 0 holds the ref of the key-offset array, slot 1 the
// tagged base key, slots 2…C+1 one ref per column. A row's full key is
// base + offset[i]; rows are physically ordered by key.
const (
	slotOffsets     = 0
	slotBaseKey     = 1
	leafHeaderSlots = 2
)

type leafNode struct {
	t       *Tree
	arr     *array.Array
	offsets *array.Array
	base    int64
}

func (t *Tree) newLeaf(base int64) *leafNode {
	l := &leafNode{t: t}
	l.arr = array.Create(t.alloc, array.TypeHasRefs, false)
	l.offsets = array.Create(t.alloc, array.TypeNormal, false)
	l.base = base
	l.arr.Add(int64(l.offsets.Ref()))
	l.arr.Add(array.TagValue(base))
	for _, spec := range t.cols {
		typ := array.TypeHasRefs
		if inlineColumn(spec.Type) && spec.Collection == tdb.CollectionNone {
			typ = array.TypeNormal
		}
		col := array.Create(t.alloc, typ, false)
		l.arr.Add(int64(col.Ref()))
	}
	return l
}

func (t *Tree) loadLeaf(ref alloc.Ref) *leafNode {
	l := &leafNode{t: t}
	l.arr = array.New(t.alloc).InitFromRef(ref)
	l.offsets = array.New(t.alloc).InitFromRef(l.arr.GetAsRef(slotOffsets))
	l.base = array.UntagValue(l.arr.Get(slotBaseKey))
	return l
}

func (l *leafNode) ref() alloc.Ref { return l.arr.Ref() }

func (l *leafNode) count() int { return l.offsets.Size() }

func (l *leafNode) keyAt(i int) int64 { return l.base + l.offsets.Get(i) }

func (l *leafNode) maxKey() int64 { return l.keyAt(l.count() - 1) }

// find returns the position of key, or the position it would occupy.
func (l *leafNode) find(key int64) (int, bool) {
	pos := l.offsets.LowerBound(key - l.base)
	if key < l.base {
		pos = 0
	}
	if pos < l.count() && l.keyAt(pos) == key {
		return pos, true
	}
	return pos, false
}

func (l *leafNode) colArray(ci int) *array.Array {
	return array.New(l.t.alloc).InitFromRef(l.arr.GetAsRef(leafHeaderSlots + ci))
}

func (l *leafNode) syncOffsets() {
	l.arr.SetRef(slotOffsets, l.offsets.Ref())
}

func (l *leafNode) syncCol(ci int, col *array.Array) {
	l.arr.SetRef(leafHeaderSlots+ci, col.Ref())
}

// rebase lowers the base key so that a smaller key fits; offsets stay
// non-negative.
func (l *leafNode) rebase(newBase int64) {
	delta := l.base - newBase
	for i := 0; i < l.offsets.Size(); i++ {
		l.offsets.Set(i, l.offsets.Get(i)+delta)
	}
	l.base = newBase
	l.arr.Set(slotBaseKey, array.TagValue(newBase))
	l.syncOffsets()
}

// insertRow creates an all-null row for key at pos, keeping every column
// array in lockstep with the offsets.
func (l *leafNode) insertRow(pos int, key int64) {
	if key < l.base {
		l.rebase(key)
	}
	l.offsets.Insert(pos, key-l.base)
	l.syncOffsets()
	for ci, spec := range l.t.cols {
		col := l.colArray(ci)
		if inlineColumn(spec.Type) && spec.Collection == tdb.CollectionNone {
			col.Insert(pos, encodeInline(spec.Type, tdb.Null))
		} else {
			col.Insert(pos, 0)
		}
		l.syncCol(ci, col)
	}
}

// eraseRow removes the row at pos, releasing its payload blobs.
func (l *leafNode) eraseRow(pos int) {
	for ci, spec := range l.t.cols {
		col := l.colArray(ci)
		if !inlineColumn(spec.Type) || spec.Collection != tdb.CollectionNone {
			if ref := col.GetAsRef(pos); !ref.IsNull() {
				if spec.Collection != tdb.CollectionNone {
					CollectionDestroy(l.t.alloc, ref)
				} else {
					array.FreeBlob(l.t.alloc, ref)
				}
			}
		}
		col.Erase(pos)
		l.syncCol(ci, col)
	}
	l.offsets.Erase(pos)
	l.syncOffsets()
}

// eraseRowShallow removes the row without touching its payloads; used when
// rows migrate between leaves during a split.
func (l *leafNode) eraseRowShallow(pos int) {
	for ci := range l.t.cols {
		col := l.colArray(ci)
		col.Erase(pos)
		l.syncCol(ci, col)
	}
	l.offsets.Erase(pos)
	l.syncOffsets()
}

// appendRowFrom appends src's row i, transferring payload ownership.
func (l *leafNode) appendRowFrom(src *leafNode, i int) {
	key := src.keyAt(i)
	if l.count() == 0 {
		l.base = key
		l.arr.Set(slotBaseKey, array.TagValue(key))
	}
	l.offsets.Add(key - l.base)
	l.syncOffsets()
	for ci := range l.t.cols {
		col := l.colArray(ci)
		col.Add(src.colArray(ci).Get(i))
		l.syncCol(ci, col)
	}
}

// getValue reads column ci of the row at pos.
func (l *leafNode) getValue(pos, ci int) tdb.Mixed {
	spec := &l.t.cols[ci]
	col := l.colArray(ci)
	if spec.Collection != tdb.CollectionNone {
		// Collection cells surface as links to their sub-tree; callers use
		// the collection accessors.
		ref := col.GetAsRef(pos)
		if ref.IsNull() {
			return tdb.Null
		}
		return tdb.NewInt(int64(ref))
	}
	if inlineColumn(spec.Type) {
		return decodeInline(spec.Type, col.Get(pos))
	}
	return readCellBlob(l.t.alloc, spec.Type, col.GetAsRef(pos))
}

// setValue writes column ci of the row at pos.
func (l *leafNode) setValue(pos, ci int, v tdb.Mixed) {
	spec := &l.t.cols[ci]
	col := l.colArray(ci)
	if inlineColumn(spec.Type) && spec.Collection == tdb.CollectionNone {
		col.Set(pos, encodeInline(spec.Type, v))
	} else {
		if old := col.GetAsRef(pos); !old.IsNull() {
			if spec.Collection != tdb.CollectionNone {
				CollectionDestroy(l.t.alloc, old)
			} else {
				array.FreeBlob(l.t.alloc, old)
			}
		}
		col.Set(pos, int64(writeCellBlob(l.t.alloc, spec.Type, v)))
	}
	l.syncCol(ci, col)
}

// collectionRef returns the collection root for column ci at pos, creating
// it when create is set.
func (l *leafNode) collectionRef(pos, ci int, create bool) alloc.Ref {
	col := l.colArray(ci)
	ref := col.GetAsRef(pos)
	if ref.IsNull() && create {
		ref = CreateCollection(l.t.alloc)
		col.Set(pos, int64(ref))
		l.syncCol(ci, col)
	}
	return ref
}

func (l *leafNode) setCollectionRef(pos, ci int, ref alloc.Ref) {
	col := l.colArray(ci)
	col.Set(pos, int64(ref))
	l.syncCol(ci, col)
}

// destroy releases the leaf and everything it owns.
func (l *leafNode) destroy() {
	for l.count() > 0 {
		l.eraseRow(l.count() - 1)
	}
	for ci := range l.t.cols {
		l.colArray(ci).Destroy()
	}
	l.offsets.Destroy()
	l.arr.Destroy()
}
