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

package index

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/terndb/tern/tdb"
	"github.com/terndb/tern/tdb/alloc"
	"github.com/terndb/tern/tdb/array"
)

// The trie consumes the encoded value four bytes at a time. Once the offset
// passes maxKeyOffset further disambiguation is stored in a terminal sorted
// list instead of more trie depth.
const (
	indexKeyLength = 4
	maxKeyOffset   = 200
)

// createKey derives the 4-byte chunk key at offset. Bytes past the end of
// the value read as zero; the full-value confirmation compare distinguishes
// a short value from one padded with NULs.
func createKey(v []byte, offset int) int64 {
	var key uint32
	for i := 0; i < indexKeyLength; i++ {
		key <<= 8
		if offset+i < len(v) {
			key |= uint32(v[offset+i])
		}
	}
	return int64(key)
}

// StringIndex is the prefix-trie search index. Inner nodes fan out on the
// next 4-byte chunk of the encoded value; leaf slots hold tagged literal
// object keys, refs to sorted duplicate lists, or refs to deeper sub-indexes
// (the context flag on the node header tells the latter two apart).
//
// The index owns a two-slot container array: slot 0 is the root node, slot 1
// the sorted list of keys whose value is null.
type StringIndex struct {
	alloc *alloc.Alloc
	cont  *array.Array
	acc   Accessor
}

// NewStringIndex creates an empty index.
func NewStringIndex(a *alloc.Alloc, acc Accessor) *StringIndex {
	ix := &StringIndex{alloc: a, acc: acc}
	ix.cont = array.Create(a, array.TypeHasRefs, true)
	root := ix.newNode(false)
	ix.cont.Add(int64(root))
	ix.cont.Add(0)
	return ix
}

// StringIndexFromRef attaches to an existing index.
func StringIndexFromRef(a *alloc.Alloc, ref alloc.Ref, acc Accessor) *StringIndex {
	return &StringIndex{alloc: a, cont: array.New(a).InitFromRef(ref), acc: acc}
}

// Ref returns the container ref for persistence.
func (ix *StringIndex) Ref() alloc.Ref { return ix.cont.Ref() }

func (ix *StringIndex) root() alloc.Ref { return ix.cont.GetAsRef(0) }

func (ix *StringIndex) setRoot(ref alloc.Ref) { ix.cont.SetRef(0, ref) }

// newNode allocates an index node: slot 0 the sorted keys array, further
// slots the parallel children. The context flag marks it as an index node.
func (ix *StringIndex) newNode(inner bool) alloc.Ref {
	typ := array.TypeHasRefs
	if inner {
		typ = array.TypeInnerBptreeNode
	}
	arr := array.Create(ix.alloc, typ, true)
	keys := array.Create(ix.alloc, array.TypeNormal, false)
	arr.Add(int64(keys.Ref()))
	return arr.Ref()
}

type node struct {
	arr  *array.Array
	keys *array.Array
}

func (ix *StringIndex) load(ref alloc.Ref) *node {
	arr := array.New(ix.alloc).InitFromRef(ref)
	keys := array.New(ix.alloc).InitFromRef(arr.GetAsRef(0))
	return &node{arr: arr, keys: keys}
}

func (n *node) syncKeys() { n.arr.SetRef(0, n.keys.Ref()) }

// lastKey returns the greatest chunk key reachable in the node.
func (ix *StringIndex) lastKey(ref alloc.Ref) int64 {
	return ix.load(ref).keys.Back()
}

// nodeAddKey appends a child to an inner node.
func (ix *StringIndex) nodeAddKey(innerRef, child alloc.Ref) {
	n := ix.load(innerRef)
	n.keys.Add(ix.lastKey(child))
	n.syncKeys()
	n.arr.Add(int64(child))
}

// valueOf fetches the stored value bytes for a row.
func (ix *StringIndex) valueOf(row int64) []byte {
	data, ok := ix.acc.IndexData(tdb.ObjKey(row))
	if !ok {
		return nil
	}
	return data
}

// newList builds a sorted two-entry duplicate list. The order is by value
// first, key second, so lists that mix values past the offset limit stay
// lexicographically sorted.
func (ix *StringIndex) newList(rowA, rowB int64, byValue bool) alloc.Ref {
	list := array.Create(ix.alloc, array.TypeNormal, false)
	first, second := rowA, rowB
	if byValue {
		if bytes.Compare(ix.valueOf(rowA), ix.valueOf(rowB)) > 0 {
			first, second = rowB, rowA
		}
	} else if rowA > rowB {
		first, second = rowB, rowA
	}
	list.Add(first)
	list.Add(second)
	return list.Ref()
}

// listLowerBound returns the first list position whose stored value is >=
// value.
func (ix *StringIndex) listLowerBound(list *array.Array, value []byte) int {
	lo, hi := 0, list.Size()
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if bytes.Compare(ix.valueOf(list.Get(mid)), value) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// listUpperBound returns the first position past every entry whose value
// equals value, searching from lo.
func (ix *StringIndex) listUpperBound(list *array.Array, value []byte, lo int) int {
	hi := list.Size()
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if bytes.Compare(ix.valueOf(list.Get(mid)), value) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// insertToExistingListAtLower inserts row among its duplicates so rows stay
// ascending. The tail is tried first: most inserts append.
func (ix *StringIndex) insertToExistingListAtLower(row int64, value []byte, list *array.Array, lower int) {
	upper := ix.listUpperBound(list, value, lower)
	last := list.Get(upper - 1)
	if row >= last {
		list.Insert(upper, row)
		return
	}
	lo, hi := lower, upper
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if list.Get(mid) < row {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	list.Insert(lo, row)
}

// insertToExistingList inserts row into a list that may span values.
func (ix *StringIndex) insertToExistingList(row int64, value []byte, list *array.Array) {
	lower := ix.listLowerBound(list, value)
	if lower == list.Size() {
		list.Add(row)
		return
	}
	if !bytes.Equal(ix.valueOf(list.Get(lower)), value) {
		list.Insert(lower, row)
		return
	}
	ix.insertToExistingListAtLower(row, value, list, lower)
}

// insertRowList re-links an existing duplicate list under a fresh sub-index
// at the given offset, returning the node's (possibly moved) ref. Only
// called while building sub-indexes, so the key is always new in the node.
func (ix *StringIndex) insertRowList(nodeRef alloc.Ref, listRef alloc.Ref, offset int, value []byte) alloc.Ref {
	n := ix.load(nodeRef)
	key := createKey(value, offset)
	insPos := n.keys.LowerBound(key)
	n.keys.Insert(insPos, key)
	n.syncKeys()
	n.arr.Insert(insPos+1, int64(listRef))
	return n.arr.Ref()
}

// Insert adds (value, key) to the index. Inserting a pair that is already
// present is a no-op, keeping insertion idempotent.
func (ix *StringIndex) Insert(key tdb.ObjKey, value []byte, isNull bool) {
	if isNull {
		ix.insertNull(int64(key))
		return
	}
	if ix.FindFirstExact(value, key) {
		return
	}
	ix.treeInsert(int64(key), createKey(value, 0), 0, value)
}

// FindFirstExact reports whether (value, key) is already present.
func (ix *StringIndex) FindFirstExact(value []byte, key tdb.ObjKey) bool {
	for _, k := range ix.FindAll(value, false) {
		if k == key {
			return true
		}
	}
	return false
}

// treeInsert performs the insertion and grows a new root when the old one
// reports a change.
func (ix *StringIndex) treeInsert(row int64, key int64, offset int, value []byte) {
	nc, newRoot := ix.doInsert(ix.root(), row, key, offset, value)
	ix.setRoot(newRoot)
	switch nc.typ {
	case changeNone:
		return
	case changeInsertBefore:
		root := ix.newNode(true)
		ix.nodeAddKey(root, nc.ref1)
		ix.nodeAddKey(root, ix.root())
		ix.setRoot(root)
	case changeInsertAfter:
		root := ix.newNode(true)
		ix.nodeAddKey(root, ix.root())
		ix.nodeAddKey(root, nc.ref1)
		ix.setRoot(root)
	case changeSplit:
		root := ix.newNode(true)
		ix.nodeAddKey(root, nc.ref1)
		ix.nodeAddKey(root, nc.ref2)
		ix.setRoot(root)
	}
}

func (ix *StringIndex) doInsert(ref alloc.Ref, row, key int64, offset int, value []byte) (nodeChange, alloc.Ref) {
	if array.IsInnerFromRef(ix.alloc, ref) {
		n := ix.load(ref)
		nodeNdx := n.keys.LowerBound(key)
		if nodeNdx == n.keys.Size() {
			// Inner nodes are never empty; fit into the last child.
			nodeNdx = n.keys.Size() - 1
		}
		refsNdx := nodeNdx + 1
		child := n.arr.GetAsRef(refsNdx)
		nc, newChild := ix.doInsert(child, row, key, offset, value)
		n.arr.SetRef(refsNdx, newChild)
		if nc.typ == changeNone {
			n.keys.Set(nodeNdx, ix.lastKey(newChild))
			n.syncKeys()
			return nodeChange{}, n.arr.Ref()
		}
		if nc.typ == changeInsertAfter {
			nodeNdx++
			refsNdx++
		}
		if n.keys.Size() < maxNodeSize {
			if nc.typ == changeSplit {
				ix.nodeInsertSplit(n, nodeNdx, nc.ref2)
			} else {
				ix.nodeInsert(n, nodeNdx, nc.ref1)
			}
			return nodeChange{}, n.arr.Ref()
		}

		newNode := ix.newNode(true)
		if nc.typ == changeSplit {
			n.keys.Set(nodeNdx, ix.lastKey(newChild))
			n.syncKeys()
			ix.nodeAddKey(newNode, nc.ref2)
			nodeNdx++
			refsNdx++
		} else {
			ix.nodeAddKey(newNode, nc.ref1)
		}
		switch nodeNdx {
		case 0:
			return nodeChange{typ: changeInsertBefore, ref1: newNode}, n.arr.Ref()
		case maxNodeSize:
			if nc.typ == changeSplit {
				return nodeChange{typ: changeSplit, ref1: n.arr.Ref(), ref2: newNode}, n.arr.Ref()
			}
			return nodeChange{typ: changeInsertAfter, ref1: newNode}, n.arr.Ref()
		default:
			// Move the tail past the split point to the new node.
			for i := refsNdx; i < n.arr.Size(); i++ {
				ix.nodeAddKey(newNode, n.arr.GetAsRef(i))
			}
			n.keys.Truncate(nodeNdx)
			n.syncKeys()
			n.arr.Truncate(refsNdx)
			return nodeChange{typ: changeSplit, ref1: n.arr.Ref(), ref2: newNode}, n.arr.Ref()
		}
	}

	// Leaf.
	n := ix.load(ref)
	noextend := n.keys.Size() >= maxNodeSize
	if ok := ix.leafInsert(n, row, key, offset, value, noextend); ok {
		return nodeChange{}, n.arr.Ref()
	}

	// No room: open a fresh leaf for the new key and tell the parent.
	newRef := ix.newNode(false)
	fresh := ix.load(newRef)
	ix.leafInsert(fresh, row, key, offset, value, false)

	ndx := n.keys.LowerBound(key)
	switch {
	case ndx == 0:
		return nodeChange{typ: changeInsertBefore, ref1: fresh.arr.Ref()}, n.arr.Ref()
	case ndx == n.keys.Size():
		return nodeChange{typ: changeInsertAfter, ref1: fresh.arr.Ref()}, n.arr.Ref()
	default:
		// Split: move everything at and past the insertion point over. The
		// moved keys all sort above the freshly inserted one.
		for i := ndx; i < n.keys.Size(); i++ {
			fresh.keys.Add(n.keys.Get(i))
			fresh.syncKeys()
			fresh.arr.Add(n.arr.Get(i + 1))
		}
		n.keys.Truncate(ndx)
		n.syncKeys()
		n.arr.Truncate(ndx + 1)
		return nodeChange{typ: changeSplit, ref1: n.arr.Ref(), ref2: fresh.arr.Ref()}, n.arr.Ref()
	}
}

func (ix *StringIndex) nodeInsertSplit(n *node, ndx int, newRef alloc.Ref) {
	refsNdx := ndx + 1
	orig := n.arr.GetAsRef(refsNdx)
	n.keys.Set(ndx, ix.lastKey(orig))
	n.keys.Insert(ndx+1, ix.lastKey(newRef))
	n.syncKeys()
	n.arr.Insert(ndx+2, int64(newRef))
}

func (ix *StringIndex) nodeInsert(n *node, ndx int, ref alloc.Ref) {
	n.keys.Insert(ndx, ix.lastKey(ref))
	n.syncKeys()
	n.arr.Insert(ndx+1, int64(ref))
}

// leafInsert tries to place (key, row) in the leaf. It reports false when
// the leaf is full and cannot absorb the entry.
func (ix *StringIndex) leafInsert(n *node, row, key int64, offset int, value []byte, noextend bool) bool {
	insPos := n.keys.LowerBound(key)
	if insPos == n.keys.Size() {
		if noextend {
			return false
		}
		n.keys.Add(key)
		n.syncKeys()
		n.arr.Add(array.TagValue(row))
		return true
	}
	insPosRefs := insPos + 1
	k := n.keys.Get(insPos)

	if k != key {
		if noextend {
			return false
		}
		n.keys.Insert(insPos, key)
		n.syncKeys()
		n.arr.Insert(insPosRefs, array.TagValue(row))
		return true
	}

	// The leaf already has a slot for this chunk key.
	slotValue := n.arr.Get(insPosRefs)
	suboffset := offset + indexKeyLength

	if array.IsTagged(slotValue) {
		row2 := array.UntagValue(slotValue)
		v2 := ix.valueOf(row2)
		switch {
		case bytes.Equal(v2, value):
			// Same value twice: convert the slot to a sorted list of both.
			n.arr.Set(insPosRefs, int64(ix.newList(row, row2, false)))
		case suboffset > maxKeyOffset:
			// Common prefix but distinct values with the offset exhausted:
			// store both in a list sorted by value.
			n.arr.Set(insPosRefs, int64(ix.newList(row, row2, true)))
		default:
			// Extend the trie until the prefixes differ.
			subRef := ix.newNode(false)
			subRef = ix.subInsert(subRef, row2, suboffset, v2)
			subRef = ix.subInsert(subRef, row, suboffset, value)
			n.arr.Set(insPosRefs, int64(subRef))
		}
		return true
	}

	childRef := alloc.Ref(slotValue)
	if !array.ContextFlagFromRef(ix.alloc, childRef) {
		// A duplicate list lives here.
		list := array.New(ix.alloc).InitFromRef(childRef)
		lower := ix.listLowerBound(list, value)
		valueExists := lower != list.Size() && bytes.Equal(ix.valueOf(list.Get(lower)), value)

		switch {
		case valueExists:
			ix.insertToExistingListAtLower(row, value, list, lower)
		case suboffset > maxKeyOffset:
			ix.insertToExistingList(row, value, list)
		default:
			// The list holds only duplicates of some other value; branch
			// into a sub-index carrying the existing list as one leaf.
			rowOfDup := list.Get(0)
			v2 := ix.valueOf(rowOfDup)
			subRef := ix.newNode(false)
			subRef = ix.insertRowList(subRef, list.Ref(), suboffset, v2)
			subRef = ix.subInsert(subRef, row, suboffset, value)
			n.arr.Set(insPosRefs, int64(subRef))
			return true
		}
		n.arr.Set(insPosRefs, int64(list.Ref()))
		return true
	}

	// A sub-index: go down a level.
	newSub := ix.subTreeInsert(childRef, row, suboffset, value)
	n.arr.Set(insPosRefs, int64(newSub))
	return true
}

// subInsert inserts into a sub-index rooted at subRef without root-change
// handling (fresh sub-indexes cannot overflow) and returns the sub-index's
// possibly moved ref.
func (ix *StringIndex) subInsert(subRef alloc.Ref, row int64, offset int, value []byte) alloc.Ref {
	key := createKey(value, offset)
	nc, newRef := ix.doInsert(subRef, row, key, offset, value)
	if nc.typ != changeNone {
		panic("fresh sub-index overflowed")
	}
	return newRef
}

// subTreeInsert inserts into an existing sub-index, growing its root on
// demand, and returns the sub-index's (possibly new) root ref.
func (ix *StringIndex) subTreeInsert(subRef alloc.Ref, row int64, offset int, value []byte) alloc.Ref {
	key := createKey(value, offset)
	nc, newRoot := ix.doInsert(subRef, row, key, offset, value)
	switch nc.typ {
	case changeNone:
		return newRoot
	case changeInsertBefore:
		root := ix.newNode(true)
		ix.nodeAddKey(root, nc.ref1)
		ix.nodeAddKey(root, newRoot)
		return root
	case changeInsertAfter:
		root := ix.newNode(true)
		ix.nodeAddKey(root, newRoot)
		ix.nodeAddKey(root, nc.ref1)
		return root
	default:
		root := ix.newNode(true)
		ix.nodeAddKey(root, nc.ref1)
		ix.nodeAddKey(root, nc.ref2)
		return root
	}
}

func loadPlain(a *alloc.Alloc, ref alloc.Ref) *array.Array {
	return array.New(a).InitFromRef(ref)
}

func (ix *StringIndex) nullsList() *array.Array {
	ref := ix.cont.GetAsRef(1)
	if ref.IsNull() {
		list := array.Create(ix.alloc, array.TypeNormal, false)
		ix.cont.SetRef(1, list.Ref())
		return list
	}
	return loadPlain(ix.alloc, ref)
}

func (ix *StringIndex) insertNull(row int64) {
	list := ix.nullsList()
	pos := list.LowerBound(row)
	if pos < list.Size() && list.Get(pos) == row {
		return
	}
	list.Insert(pos, row)
	ix.cont.SetRef(1, list.Ref())
}

func (ix *StringIndex) eraseNull(row int64) {
	ref := ix.cont.GetAsRef(1)
	if ref.IsNull() {
		return
	}
	list := loadPlain(ix.alloc, ref)
	pos := list.LowerBound(row)
	if pos < list.Size() && list.Get(pos) == row {
		list.Erase(pos)
	}
	ix.cont.SetRef(1, list.Ref())
}

// Erase removes (value, key). Missing pairs are a no-op.
func (ix *StringIndex) Erase(key tdb.ObjKey, value []byte, isNull bool) {
	if isNull {
		ix.eraseNull(int64(key))
		return
	}
	newRoot, _ := ix.doErase(ix.root(), int64(key), createKey(value, 0), 0, value)
	ix.setRoot(newRoot)
	// A root inner node left with a single child hands over to it.
	for array.IsInnerFromRef(ix.alloc, ix.root()) {
		n := ix.load(ix.root())
		if n.keys.Size() != 1 {
			break
		}
		child := n.arr.GetAsRef(1)
		n.keys.Destroy()
		n.arr.Destroy()
		ix.setRoot(child)
	}
}

// doErase removes the pair below ref and reports the node's new ref and
// whether it is now empty.
func (ix *StringIndex) doErase(ref alloc.Ref, row, key int64, offset int, value []byte) (alloc.Ref, bool) {
	n := ix.load(ref)
	if n.arr.IsInnerBptreeNode() {
		nodeNdx := n.keys.LowerBound(key)
		if nodeNdx == n.keys.Size() {
			return n.arr.Ref(), false
		}
		refsNdx := nodeNdx + 1
		child := n.arr.GetAsRef(refsNdx)
		newChild, childEmpty := ix.doErase(child, row, key, offset, value)
		if childEmpty {
			ix.destroyNode(newChild)
			n.keys.Erase(nodeNdx)
			n.syncKeys()
			n.arr.Erase(refsNdx)
		} else {
			n.arr.SetRef(refsNdx, newChild)
			n.keys.Set(nodeNdx, ix.lastKey(newChild))
			n.syncKeys()
		}
		return n.arr.Ref(), n.keys.Size() == 0
	}

	pos := n.keys.LowerBound(key)
	if pos == n.keys.Size() || n.keys.Get(pos) != key {
		return n.arr.Ref(), false
	}
	posRefs := pos + 1
	slotValue := n.arr.Get(posRefs)
	if array.IsTagged(slotValue) {
		if array.UntagValue(slotValue) != row {
			return n.arr.Ref(), false
		}
		n.keys.Erase(pos)
		n.syncKeys()
		n.arr.Erase(posRefs)
		return n.arr.Ref(), n.keys.Size() == 0
	}

	childRef := alloc.Ref(slotValue)
	if !array.ContextFlagFromRef(ix.alloc, childRef) {
		list := loadPlain(ix.alloc, childRef)
		erased := false
		for i := 0; i < list.Size(); i++ {
			if list.Get(i) == row {
				list.Erase(i)
				erased = true
				break
			}
		}
		if !erased {
			return n.arr.Ref(), false
		}
		if list.Size() == 0 {
			list.Destroy()
			n.keys.Erase(pos)
			n.syncKeys()
			n.arr.Erase(posRefs)
		} else {
			n.arr.SetRef(posRefs, list.Ref())
		}
		return n.arr.Ref(), n.keys.Size() == 0
	}

	newSub, subEmpty := ix.doErase(childRef, row, createKey(value, offset+indexKeyLength), offset+indexKeyLength, value)
	if subEmpty {
		ix.destroyNode(newSub)
		n.keys.Erase(pos)
		n.syncKeys()
		n.arr.Erase(posRefs)
		return n.arr.Ref(), n.keys.Size() == 0
	}
	// Collapse a sub-index that shrank to a single literal.
	sub := ix.load(newSub)
	if !sub.arr.IsInnerBptreeNode() && sub.keys.Size() == 1 && array.IsTagged(sub.arr.Get(1)) {
		literal := sub.arr.Get(1)
		sub.keys.Destroy()
		sub.arr.Destroy()
		n.arr.Set(posRefs, literal)
	} else {
		n.arr.SetRef(posRefs, newSub)
	}
	return n.arr.Ref(), n.keys.Size() == 0
}

// UpdateRef repoints (value, oldKey) at newKey.
func (ix *StringIndex) UpdateRef(oldKey, newKey tdb.ObjKey, value []byte, isNull bool) {
	ix.Erase(oldKey, value, isNull)
	ix.Insert(newKey, value, isNull)
}

// FindFirst returns the lowest key holding value.
func (ix *StringIndex) FindFirst(value []byte, isNull bool) (tdb.ObjKey, bool) {
	if isNull {
		ref := ix.cont.GetAsRef(1)
		if ref.IsNull() {
			return 0, false
		}
		list := loadPlain(ix.alloc, ref)
		if list.Size() == 0 {
			return 0, false
		}
		return tdb.ObjKey(list.Get(0)), true
	}
	res := ix.FindAllNoCopy(value)
	switch res.Kind {
	case FindSingle:
		return res.Key, true
	case FindColumn:
		list := loadPlain(ix.alloc, res.List)
		return tdb.ObjKey(list.Get(res.Start)), true
	}
	return 0, false
}

// FindAllNoCopy locates value without copying list payloads.
func (ix *StringIndex) FindAllNoCopy(value []byte) FindResult {
	ref := ix.root()
	offset := 0
	key := createKey(value, 0)
	for {
		n := ix.load(ref)
		if n.arr.IsInnerBptreeNode() {
			ndx := n.keys.LowerBound(key)
			if ndx == n.keys.Size() {
				return FindResult{Kind: FindNotFound}
			}
			ref = n.arr.GetAsRef(ndx + 1)
			continue
		}
		pos := n.keys.LowerBound(key)
		if pos == n.keys.Size() || n.keys.Get(pos) != key {
			return FindResult{Kind: FindNotFound}
		}
		slotValue := n.arr.Get(pos + 1)
		if array.IsTagged(slotValue) {
			row := array.UntagValue(slotValue)
			if !bytes.Equal(ix.valueOf(row), value) {
				return FindResult{Kind: FindNotFound}
			}
			return FindResult{Kind: FindSingle, Key: tdb.ObjKey(row)}
		}
		childRef := alloc.Ref(slotValue)
		if array.ContextFlagFromRef(ix.alloc, childRef) {
			ref = childRef
			offset += indexKeyLength
			key = createKey(value, offset)
			continue
		}
		return ix.fromList(childRef, value)
	}
}

// fromList resolves a find inside a sorted leaf list, testing the tail
// before a full upper-bound search.
func (ix *StringIndex) fromList(listRef alloc.Ref, value []byte) FindResult {
	list := loadPlain(ix.alloc, listRef)
	lower := ix.listLowerBound(list, value)
	if lower == list.Size() {
		return FindResult{Kind: FindNotFound}
	}
	if !bytes.Equal(ix.valueOf(list.Get(lower)), value) {
		return FindResult{Kind: FindNotFound}
	}
	last := list.Size() - 1
	if last == lower {
		return FindResult{Kind: FindSingle, Key: tdb.ObjKey(list.Get(lower))}
	}
	if bytes.Equal(ix.valueOf(list.Get(last)), value) {
		return FindResult{Kind: FindColumn, List: list.Ref(), Start: lower, End: list.Size()}
	}
	upper := ix.listUpperBound(list, value, lower)
	if upper-lower == 1 {
		return FindResult{Kind: FindSingle, Key: tdb.ObjKey(list.Get(lower))}
	}
	return FindResult{Kind: FindColumn, List: list.Ref(), Start: lower, End: upper}
}

// FindAll returns every key holding value, ascending.
func (ix *StringIndex) FindAll(value []byte, isNull bool) []tdb.ObjKey {
	if isNull {
		ref := ix.cont.GetAsRef(1)
		if ref.IsNull() {
			return nil
		}
		list := loadPlain(ix.alloc, ref)
		out := make([]tdb.ObjKey, list.Size())
		for i := range out {
			out[i] = tdb.ObjKey(list.Get(i))
		}
		return out
	}
	res := ix.FindAllNoCopy(value)
	switch res.Kind {
	case FindSingle:
		return []tdb.ObjKey{res.Key}
	case FindColumn:
		list := loadPlain(ix.alloc, res.List)
		out := make([]tdb.ObjKey, 0, res.End-res.Start)
		for i := res.Start; i < res.End; i++ {
			out = append(out, tdb.ObjKey(list.Get(i)))
		}
		return out
	}
	return nil
}

// Count returns the number of keys holding value.
func (ix *StringIndex) Count(value []byte, isNull bool) int {
	if isNull {
		ref := ix.cont.GetAsRef(1)
		if ref.IsNull() {
			return 0
		}
		return loadPlain(ix.alloc, ref).Size()
	}
	res := ix.FindAllNoCopy(value)
	switch res.Kind {
	case FindSingle:
		return 1
	case FindColumn:
		return res.End - res.Start
	}
	return 0
}

// FindAllRange collects every key whose value lies in [lo, hi], ascending by
// key.
func (ix *StringIndex) FindAllRange(lo, hi []byte) []tdb.ObjKey {
	var out []tdb.ObjKey
	ix.walkRows(ix.root(), func(row int64) {
		v := ix.valueOf(row)
		if bytes.Compare(v, lo) >= 0 && bytes.Compare(v, hi) <= 0 {
			out = append(out, tdb.ObjKey(row))
		}
	})
	sortKeys(out)
	return out
}

// walkRows visits every indexed row below ref.
func (ix *StringIndex) walkRows(ref alloc.Ref, fn func(row int64)) {
	n := ix.load(ref)
	for i := 1; i < n.arr.Size(); i++ {
		v := n.arr.Get(i)
		if array.IsTagged(v) {
			fn(array.UntagValue(v))
			continue
		}
		childRef := alloc.Ref(v)
		if n.arr.IsInnerBptreeNode() || array.ContextFlagFromRef(ix.alloc, childRef) {
			ix.walkRows(childRef, fn)
			continue
		}
		list := loadPlain(ix.alloc, childRef)
		for j := 0; j < list.Size(); j++ {
			fn(list.Get(j))
		}
	}
}

// Distinct returns, for every distinct value, the lowest key holding it.
func (ix *StringIndex) Distinct() []tdb.ObjKey {
	var out []tdb.ObjKey
	ix.distinctRec(ix.root(), &out)
	ref := ix.cont.GetAsRef(1)
	if !ref.IsNull() {
		if list := loadPlain(ix.alloc, ref); list.Size() > 0 {
			out = append(out, tdb.ObjKey(list.Get(0)))
		}
	}
	return out
}

func (ix *StringIndex) distinctRec(ref alloc.Ref, out *[]tdb.ObjKey) {
	n := ix.load(ref)
	for i := 1; i < n.arr.Size(); i++ {
		v := n.arr.Get(i)
		if array.IsTagged(v) {
			*out = append(*out, tdb.ObjKey(array.UntagValue(v)))
			continue
		}
		childRef := alloc.Ref(v)
		if n.arr.IsInnerBptreeNode() || array.ContextFlagFromRef(ix.alloc, childRef) {
			ix.distinctRec(childRef, out)
			continue
		}
		list := loadPlain(ix.alloc, childRef)
		// Lists past the offset limit can mix values; emit the first key of
		// each run.
		var prev []byte
		for j := 0; j < list.Size(); j++ {
			v := ix.valueOf(list.Get(j))
			if j == 0 || !bytes.Equal(v, prev) {
				*out = append(*out, tdb.ObjKey(list.Get(j)))
			}
			prev = v
		}
	}
}

// HasDuplicates reports whether any value is held by more than one key.
func (ix *StringIndex) HasDuplicates() bool {
	dup := false
	ix.dupRec(ix.root(), &dup)
	if dup {
		return true
	}
	ref := ix.cont.GetAsRef(1)
	return !ref.IsNull() && loadPlain(ix.alloc, ref).Size() > 1
}

func (ix *StringIndex) dupRec(ref alloc.Ref, dup *bool) {
	if *dup {
		return
	}
	n := ix.load(ref)
	for i := 1; i < n.arr.Size() && !*dup; i++ {
		v := n.arr.Get(i)
		if array.IsTagged(v) {
			continue
		}
		childRef := alloc.Ref(v)
		if n.arr.IsInnerBptreeNode() || array.ContextFlagFromRef(ix.alloc, childRef) {
			ix.dupRec(childRef, dup)
			continue
		}
		list := loadPlain(ix.alloc, childRef)
		for j := 1; j < list.Size(); j++ {
			if bytes.Equal(ix.valueOf(list.Get(j)), ix.valueOf(list.Get(j-1))) {
				*dup = true
				break
			}
		}
	}
}

// IsEmpty reports whether the index holds no entries.
func (ix *StringIndex) IsEmpty() bool {
	n := ix.load(ix.root())
	if n.keys.Size() > 0 {
		return false
	}
	ref := ix.cont.GetAsRef(1)
	return ref.IsNull() || loadPlain(ix.alloc, ref).Size() == 0
}

func (ix *StringIndex) destroyNode(ref alloc.Ref) {
	n := ix.load(ref)
	for i := 1; i < n.arr.Size(); i++ {
		v := n.arr.Get(i)
		if array.IsTagged(v) {
			continue
		}
		childRef := alloc.Ref(v)
		if n.arr.IsInnerBptreeNode() || array.ContextFlagFromRef(ix.alloc, childRef) {
			ix.destroyNode(childRef)
		} else {
			loadPlain(ix.alloc, childRef).Destroy()
		}
	}
	n.keys.Destroy()
	n.arr.Destroy()
}

// Clear removes every entry.
func (ix *StringIndex) Clear() {
	ix.destroyNode(ix.root())
	if ref := ix.cont.GetAsRef(1); !ref.IsNull() {
		loadPlain(ix.alloc, ref).Destroy()
	}
	ix.setRoot(ix.newNode(false))
	ix.cont.SetRef(1, 0)
}

// Destroy releases the whole index.
func (ix *StringIndex) Destroy() {
	ix.destroyNode(ix.root())
	if ref := ix.cont.GetAsRef(1); !ref.IsNull() {
		loadPlain(ix.alloc, ref).Destroy()
	}
	ix.cont.Destroy()
}

// Verify asserts that every reachable key still resolves in the indexed
// column with a value matching its position in the trie.
func (ix *StringIndex) Verify() error {
	return ix.verifyNode(ix.root(), 0)
}

func (ix *StringIndex) verifyNode(ref alloc.Ref, offset int) error {
	n := ix.load(ref)
	if n.arr.Size() != n.keys.Size()+1 {
		return tdb.ErrCorrupt.New(fmt.Sprintf("index node slot count %d does not match %d keys", n.arr.Size(), n.keys.Size()))
	}
	for i := 1; i < n.keys.Size(); i++ {
		if n.keys.Get(i-1) > n.keys.Get(i) {
			return tdb.ErrCorrupt.New("index node keys out of order")
		}
	}
	for i := 1; i < n.arr.Size(); i++ {
		v := n.arr.Get(i)
		chunk := n.keys.Get(i - 1)
		if array.IsTagged(v) {
			row := array.UntagValue(v)
			data, ok := ix.acc.IndexData(tdb.ObjKey(row))
			if !ok {
				return tdb.ErrCorrupt.New(fmt.Sprintf("indexed row %d has null value", row))
			}
			if createKey(data, offset) != chunk {
				return tdb.ErrCorrupt.New(fmt.Sprintf("indexed row %d does not match its chunk key", row))
			}
			continue
		}
		childRef := alloc.Ref(v)
		if n.arr.IsInnerBptreeNode() {
			if err := ix.verifyNode(childRef, offset); err != nil {
				return err
			}
			if ix.lastKey(childRef) != chunk {
				return tdb.ErrCorrupt.New("inner node key does not match child's last key")
			}
			continue
		}
		if array.ContextFlagFromRef(ix.alloc, childRef) {
			if err := ix.verifyNode(childRef, offset+indexKeyLength); err != nil {
				return err
			}
			continue
		}
		list := loadPlain(ix.alloc, childRef)
		for j := 0; j < list.Size(); j++ {
			row := list.Get(j)
			if _, ok := ix.acc.IndexData(tdb.ObjKey(row)); !ok {
				return tdb.ErrCorrupt.New(fmt.Sprintf("listed row %d has null value", row))
			}
		}
	}
	return nil
}

func sortKeys(keys []tdb.ObjKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
}
