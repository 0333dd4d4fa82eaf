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

// Package cluster implements the per-table B+-tree of clusters: leaves of up
// to FanOut rows stored column-wise, keyed by object key.
package cluster

import (
	"fmt"

	"github.com/terndb/tern/tdb"
	"github.com/terndb/tern/tdb/alloc"
	"github.com/terndb/tern/tdb/array"
)

// FanOut is the maximum number of rows per cluster and children per inner
// node. It must be a power of two.
const FanOut = 256

// Inner node layout: slot 0 holds the ref of the keys array (keys[i] is the
// maximum key in child i's subtree), slots 1… the child refs.
const (
	slotKeys        = 0
	innerHeaderSlots = 1
)

type changeType int

const (
	changeNone changeType = iota
	changeInsertBefore
	changeInsertAfter
	changeSplit
)

// nodeChange propagates the result of an insertion to the parent, which
// re-links accordingly.
type nodeChange struct {
	typ  changeType
	ref1 alloc.Ref
	ref2 alloc.Ref
}

// Tree is a per-table cluster tree. The column layout is fixed at
// construction; adding or removing a column rewrites every leaf in lockstep.
type Tree struct {
	alloc *alloc.Alloc
	cols  []tdb.ColumnSpec
	root  alloc.Ref
	size  int64
}

// NewTree creates an empty tree: a single leaf with no rows.
func NewTree(a *alloc.Alloc, cols []tdb.ColumnSpec) *Tree {
	t := &Tree{alloc: a, cols: cols}
	t.root = t.newLeaf(0).ref()
	return t
}

// InitFromRef attaches a tree to an existing root.
func InitFromRef(a *alloc.Alloc, cols []tdb.ColumnSpec, root alloc.Ref, size int64) *Tree {
	return &Tree{alloc: a, cols: cols, root: root, size: size}
}

// Root returns the tree's root ref for persistence.
func (t *Tree) Root() alloc.Ref { return t.root }

// Size returns the number of rows.
func (t *Tree) Size() int64 { return t.size }

// Columns returns the physical column layout.
func (t *Tree) Columns() []tdb.ColumnSpec { return t.cols }

func (t *Tree) isInner(ref alloc.Ref) bool {
	return array.IsInnerFromRef(t.alloc, ref)
}

type innerNode struct {
	t    *Tree
	arr  *array.Array
	keys *array.Array
}

func (t *Tree) newInner() *innerNode {
	n := &innerNode{t: t}
	n.arr = array.Create(t.alloc, array.TypeInnerBptreeNode, false)
	n.keys = array.Create(t.alloc, array.TypeNormal, false)
	n.arr.Add(int64(n.keys.Ref()))
	return n
}

func (t *Tree) loadInner(ref alloc.Ref) *innerNode {
	n := &innerNode{t: t}
	n.arr = array.New(t.alloc).InitFromRef(ref)
	n.keys = array.New(t.alloc).InitFromRef(n.arr.GetAsRef(slotKeys))
	return n
}

func (n *innerNode) ref() alloc.Ref { return n.arr.Ref() }

func (n *innerNode) childCount() int { return n.keys.Size() }

func (n *innerNode) child(i int) alloc.Ref { return n.arr.GetAsRef(innerHeaderSlots + i) }

func (n *innerNode) syncKeys() { n.arr.SetRef(slotKeys, n.keys.Ref()) }

// addChild appends a child with its subtree max key.
func (n *innerNode) addChild(ref alloc.Ref) {
	n.keys.Add(n.t.maxKey(ref))
	n.syncKeys()
	n.arr.Add(int64(ref))
}

// insertChild places a child at position i.
func (n *innerNode) insertChild(i int, ref alloc.Ref) {
	n.keys.Insert(i, n.t.maxKey(ref))
	n.syncKeys()
	n.arr.Insert(innerHeaderSlots+i, int64(ref))
}

func (n *innerNode) eraseChild(i int) {
	n.keys.Erase(i)
	n.syncKeys()
	n.arr.Erase(innerHeaderSlots + i)
}

// maxKey returns the maximum key in the subtree at ref.
func (t *Tree) maxKey(ref alloc.Ref) int64 {
	if t.isInner(ref) {
		n := t.loadInner(ref)
		return n.keys.Back()
	}
	return t.loadLeaf(ref).maxKey()
}

// InsertRow adds an all-null row for key. Duplicate keys fail with
// InvalidKey.
func (t *Tree) InsertRow(key tdb.ObjKey) error {
	nc, newRoot, err := t.insertRec(t.root, int64(key))
	if err != nil {
		return err
	}
	t.root = newRoot
	switch nc.typ {
	case changeNone:
	case changeInsertBefore:
		root := t.newInner()
		root.addChild(nc.ref1)
		root.addChild(t.root)
		t.root = root.ref()
	case changeInsertAfter:
		root := t.newInner()
		root.addChild(t.root)
		root.addChild(nc.ref1)
		t.root = root.ref()
	case changeSplit:
		root := t.newInner()
		root.addChild(nc.ref1)
		root.addChild(nc.ref2)
		t.root = root.ref()
	}
	t.size++
	return nil
}

func (t *Tree) insertRec(ref alloc.Ref, key int64) (nodeChange, alloc.Ref, error) {
	if !t.isInner(ref) {
		return t.leafInsert(ref, key)
	}
	n := t.loadInner(ref)
	childNdx := n.keys.LowerBound(key)
	if childNdx == n.childCount() {
		// Inner nodes are never empty; fall into the last child.
		childNdx = n.childCount() - 1
	}
	nc, newChild, err := t.insertRec(n.child(childNdx), key)
	if err != nil {
		return nodeChange{}, ref, err
	}
	n.arr.SetRef(innerHeaderSlots+childNdx, newChild)
	n.keys.Set(childNdx, t.maxKey(newChild))
	n.syncKeys()
	if nc.typ == changeNone {
		return nodeChange{}, n.ref(), nil
	}

	// A new sibling arrived from below; link it in.
	insNdx := childNdx
	if nc.typ == changeInsertAfter || nc.typ == changeSplit {
		insNdx = childNdx + 1
	}
	newRef := nc.ref1
	if nc.typ == changeSplit {
		// Left half stayed in place under newChild; the new right half is
		// the ref to link.
		newRef = nc.ref2
	}
	if n.childCount() < FanOut {
		n.insertChild(insNdx, newRef)
		return nodeChange{}, n.ref(), nil
	}

	// This node is full as well: split at the midpoint and retry the link
	// in the proper half.
	half := n.childCount() / 2
	right := t.newInner()
	for i := half; i < n.childCount(); i++ {
		right.addChild(n.child(i))
	}
	n.keys.Truncate(half)
	n.syncKeys()
	n.arr.Truncate(innerHeaderSlots + half)
	if insNdx <= half {
		n.insertChild(insNdx, newRef)
	} else {
		right.insertChild(insNdx-half, newRef)
	}
	return nodeChange{typ: changeSplit, ref1: n.ref(), ref2: right.ref()}, n.ref(), nil
}

func (t *Tree) leafInsert(ref alloc.Ref, key int64) (nodeChange, alloc.Ref, error) {
	l := t.loadLeaf(ref)
	pos, found := l.find(key)
	if found {
		return nodeChange{}, ref, tdb.ErrInvalidKey.New(tdb.ObjKey(key))
	}
	if l.count() < FanOut {
		l.insertRow(pos, key)
		return nodeChange{}, l.ref(), nil
	}

	// Leaf is full. Inserting at either end starts a fresh leaf so that
	// sequential loads stay dense; interior inserts split at the midpoint,
	// leaving both halves at least half full.
	if pos == 0 {
		fresh := t.newLeaf(key)
		fresh.insertRow(0, key)
		return nodeChange{typ: changeInsertBefore, ref1: fresh.ref()}, l.ref(), nil
	}
	if pos == l.count() {
		fresh := t.newLeaf(key)
		fresh.insertRow(0, key)
		return nodeChange{typ: changeInsertAfter, ref1: fresh.ref()}, l.ref(), nil
	}
	half := l.count() / 2
	right := t.newLeaf(l.keyAt(half))
	for i := half; i < l.count(); i++ {
		right.appendRowFrom(l, i)
	}
	for l.count() > half {
		l.eraseRowShallow(l.count() - 1)
	}
	if key <= l.maxKey() {
		p, _ := l.find(key)
		l.insertRow(p, key)
	} else {
		p, _ := right.find(key)
		right.insertRow(p, key)
	}
	return nodeChange{typ: changeSplit, ref1: l.ref(), ref2: right.ref()}, l.ref(), nil
}

// findLeaf descends to the leaf that holds key.
func (t *Tree) findLeaf(key int64) (*leafNode, int, error) {
	ref := t.root
	for t.isInner(ref) {
		n := t.loadInner(ref)
		childNdx := n.keys.LowerBound(key)
		if childNdx == n.childCount() {
			return nil, 0, tdb.ErrInvalidKey.New(tdb.ObjKey(key))
		}
		ref = n.child(childNdx)
	}
	l := t.loadLeaf(ref)
	pos, found := l.find(key)
	if !found {
		return nil, 0, tdb.ErrInvalidKey.New(tdb.ObjKey(key))
	}
	return l, pos, nil
}

// HasKey reports whether key names a live row.
func (t *Tree) HasKey(key tdb.ObjKey) bool {
	_, _, err := t.findLeaf(int64(key))
	return err == nil
}

// GetValue reads the cell at (key, column slot ci).
func (t *Tree) GetValue(key tdb.ObjKey, ci int) (tdb.Mixed, error) {
	l, pos, err := t.findLeaf(int64(key))
	if err != nil {
		return tdb.Null, err
	}
	return l.getValue(pos, ci), nil
}

// SetValue writes the cell at (key, column slot ci). Validation of type and
// nullability happens in the table layer.
func (t *Tree) SetValue(key tdb.ObjKey, ci int, v tdb.Mixed) error {
	l, pos, err := t.findLeaf(int64(key))
	if err != nil {
		return err
	}
	l.setValue(pos, ci, v)
	return nil
}

// CollectionRef returns the collection root cell at (key, ci), creating an
// empty collection when create is set.
func (t *Tree) CollectionRef(key tdb.ObjKey, ci int, create bool) (alloc.Ref, error) {
	l, pos, err := t.findLeaf(int64(key))
	if err != nil {
		return alloc.NullRef, err
	}
	return l.collectionRef(pos, ci, create), nil
}

// SetCollectionRef stores a (possibly moved) collection root back into its
// cell.
func (t *Tree) SetCollectionRef(key tdb.ObjKey, ci int, ref alloc.Ref) error {
	l, pos, err := t.findLeaf(int64(key))
	if err != nil {
		return err
	}
	l.setCollectionRef(pos, ci, ref)
	return nil
}

// RemoveRow deletes the row at key, collapsing empty nodes upward.
func (t *Tree) RemoveRow(key tdb.ObjKey) error {
	empty, newRoot, err := t.eraseRec(t.root, int64(key))
	if err != nil {
		return err
	}
	t.root = newRoot
	t.size--
	if empty || t.size == 0 {
		t.Clear()
		return nil
	}
	// A root holding a single child hands its role to that child.
	for t.isInner(t.root) {
		n := t.loadInner(t.root)
		if n.childCount() > 1 {
			break
		}
		child := n.child(0)
		n.keys.Destroy()
		n.arr.Destroy()
		t.root = child
	}
	return nil
}

func (t *Tree) eraseRec(ref alloc.Ref, key int64) (bool, alloc.Ref, error) {
	if !t.isInner(ref) {
		l := t.loadLeaf(ref)
		pos, found := l.find(key)
		if !found {
			return false, ref, tdb.ErrInvalidKey.New(tdb.ObjKey(key))
		}
		l.eraseRow(pos)
		return l.count() == 0, l.ref(), nil
	}
	n := t.loadInner(ref)
	childNdx := n.keys.LowerBound(key)
	if childNdx == n.childCount() {
		return false, ref, tdb.ErrInvalidKey.New(tdb.ObjKey(key))
	}
	empty, newChild, err := t.eraseRec(n.child(childNdx), key)
	if err != nil {
		return false, ref, err
	}
	n.arr.SetRef(innerHeaderSlots+childNdx, newChild)
	if empty {
		t.destroyNode(newChild)
		n.eraseChild(childNdx)
	} else {
		n.keys.Set(childNdx, t.maxKey(newChild))
		n.syncKeys()
	}
	return n.childCount() == 0, n.ref(), nil
}

func (t *Tree) destroyNode(ref alloc.Ref) {
	if t.isInner(ref) {
		n := t.loadInner(ref)
		for i := 0; i < n.childCount(); i++ {
			t.destroyNode(n.child(i))
		}
		n.keys.Destroy()
		n.arr.Destroy()
		return
	}
	t.loadLeaf(ref).destroy()
}

// Clear removes every row and releases all refs, leaving a fresh empty
// leaf as root.
func (t *Tree) Clear() {
	t.destroyNode(t.root)
	t.root = t.newLeaf(0).ref()
	t.size = 0
}

// Traverse visits every key in ascending order until fn returns false.
func (t *Tree) Traverse(fn func(key tdb.ObjKey) bool) {
	t.traverseRec(t.root, fn)
}

func (t *Tree) traverseRec(ref alloc.Ref, fn func(key tdb.ObjKey) bool) bool {
	if t.isInner(ref) {
		n := t.loadInner(ref)
		for i := 0; i < n.childCount(); i++ {
			if !t.traverseRec(n.child(i), fn) {
				return false
			}
		}
		return true
	}
	l := t.loadLeaf(ref)
	for i := 0; i < l.count(); i++ {
		if !fn(tdb.ObjKey(l.keyAt(i))) {
			return false
		}
	}
	return true
}

// FindGE returns the first live key >= key.
func (t *Tree) FindGE(key tdb.ObjKey) (tdb.ObjKey, bool) {
	ref := t.root
	target := int64(key)
	for t.isInner(ref) {
		n := t.loadInner(ref)
		childNdx := n.keys.LowerBound(target)
		if childNdx == n.childCount() {
			return 0, false
		}
		ref = n.child(childNdx)
	}
	l := t.loadLeaf(ref)
	pos, _ := l.find(target)
	if pos >= l.count() {
		// Only possible when the root itself is a leaf; the descent above
		// otherwise guarantees the subtree max is >= target.
		return 0, false
	}
	return tdb.ObjKey(l.keyAt(pos)), true
}

// NextKey returns the first live key strictly greater than key.
func (t *Tree) NextKey(key tdb.ObjKey) (tdb.ObjKey, bool) {
	return t.FindGE(key + 1)
}

// FirstKey returns the smallest live key.
func (t *Tree) FirstKey() (tdb.ObjKey, bool) {
	if t.size == 0 {
		return 0, false
	}
	ref := t.root
	for t.isInner(ref) {
		ref = t.loadInner(ref).child(0)
	}
	l := t.loadLeaf(ref)
	if l.count() == 0 {
		return 0, false
	}
	return tdb.ObjKey(l.keyAt(0)), true
}

// AddColumn appends a column with all-null cells to every leaf.
func (t *Tree) AddColumn(spec tdb.ColumnSpec) {
	t.root = t.addColRec(t.root, spec)
	t.cols = append(t.cols, spec)
}

func (t *Tree) addColRec(ref alloc.Ref, spec tdb.ColumnSpec) alloc.Ref {
	if t.isInner(ref) {
		n := t.loadInner(ref)
		for i := 0; i < n.childCount(); i++ {
			newChild := t.addColRec(n.child(i), spec)
			n.arr.SetRef(innerHeaderSlots+i, newChild)
		}
		return n.ref()
	}
	l := t.loadLeaf(ref)
	typ := array.TypeHasRefs
	if inlineColumn(spec.Type) && spec.Collection == tdb.CollectionNone {
		typ = array.TypeNormal
	}
	col := array.Create(t.alloc, typ, false)
	for i := 0; i < l.count(); i++ {
		if typ == array.TypeNormal {
			col.Add(encodeInline(spec.Type, tdb.Null))
		} else {
			col.Add(0)
		}
	}
	l.arr.Add(int64(col.Ref()))
	return l.ref()
}

// RemoveColumn drops column slot ci from every leaf, releasing payloads.
func (t *Tree) RemoveColumn(ci int) {
	t.removeColRec(t.root, ci)
	t.cols = append(t.cols[:ci], t.cols[ci+1:]...)
}

func (t *Tree) removeColRec(ref alloc.Ref, ci int) {
	if t.isInner(ref) {
		n := t.loadInner(ref)
		for i := 0; i < n.childCount(); i++ {
			t.removeColRec(n.child(i), ci)
		}
		return
	}
	l := t.loadLeaf(ref)
	spec := &t.cols[ci]
	col := l.colArray(ci)
	if !inlineColumn(spec.Type) || spec.Collection != tdb.CollectionNone {
		for i := 0; i < col.Size(); i++ {
			if payload := col.GetAsRef(i); !payload.IsNull() {
				if spec.Collection != tdb.CollectionNone {
					CollectionDestroy(t.alloc, payload)
				} else {
					array.FreeBlob(t.alloc, payload)
				}
			}
		}
	}
	col.Destroy()
	l.arr.Erase(leafHeaderSlots + ci)
}

// Verify walks the tree asserting its structural invariants: sorted keys
// within and across leaves, key arrays matching subtree maxima, and column
// arrays in lockstep with the row count.
func (t *Tree) Verify() error {
	last := int64(-1)
	return t.verifyRec(t.root, &last)
}

func (t *Tree) verifyRec(ref alloc.Ref, last *int64) error {
	if t.isInner(ref) {
		n := t.loadInner(ref)
		if n.childCount() == 0 {
			return tdb.ErrCorrupt.New("empty inner node")
		}
		for i := 0; i < n.childCount(); i++ {
			child := n.child(i)
			if err := t.verifyRec(child, last); err != nil {
				return err
			}
			if n.keys.Get(i) != t.maxKey(child) {
				return tdb.ErrCorrupt.New(fmt.Sprintf("inner key %d does not match subtree max", i))
			}
		}
		return nil
	}
	l := t.loadLeaf(ref)
	for i := 0; i < l.count(); i++ {
		k := l.keyAt(i)
		if k <= *last {
			return tdb.ErrCorrupt.New(fmt.Sprintf("key %d out of order", k))
		}
		*last = k
	}
	for ci := range t.cols {
		if l.colArray(ci).Size() != l.count() {
			return tdb.ErrCorrupt.New(fmt.Sprintf("column %d out of lockstep", ci))
		}
	}
	return nil
}
