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
	"encoding/binary"
	"fmt"

	"github.com/terndb/tern/tdb"
	"github.com/terndb/tern/tdb/alloc"
	"github.com/terndb/tern/tdb/array"
)

// DefaultChunkWidth is the bits-per-level of the radix tree. Any width in
// [4, 10] works; six levels out a 64-bit key in eleven steps.
const DefaultChunkWidth = 6

// compactThreshold is the compact-representation limit: while a subtree
// holds no more entries than this it stays a flat sorted list, expanded into
// a fanned-out node on overflow.
const compactThreshold = 32

// CanonicalInt flips the sign bit of v, mapping the signed order onto the
// unsigned order so that radix chunks taken from the most significant bits
// preserve ordering.
func CanonicalInt(v int64) uint64 {
	return uint64(v) ^ (1 << 63)
}

// EncodeCanonical returns the 8-byte big-endian canonical form, which is
// what the accessor of a radix-indexed column yields.
func EncodeCanonical(v int64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], CanonicalInt(v))
	return buf[:]
}

// RadixTree is the search index for integer-like columns. Each level
// consumes chunkWidth bits of the canonical value, most significant first.
// Node slots hold tagged literal rows, refs to compact sorted lists, or refs
// to deeper nodes.
type RadixTree struct {
	alloc      *alloc.Alloc
	cont       *array.Array
	acc        Accessor
	chunkWidth uint
}

// NewRadixTree creates an empty radix index.
func NewRadixTree(a *alloc.Alloc, acc Accessor, chunkWidth uint) *RadixTree {
	if chunkWidth < 4 || chunkWidth > 10 {
		chunkWidth = DefaultChunkWidth
	}
	rt := &RadixTree{alloc: a, acc: acc, chunkWidth: chunkWidth}
	rt.cont = array.Create(a, array.TypeHasRefs, true)
	rt.cont.Add(int64(rt.newNode()))
	rt.cont.Add(0)
	return rt
}

// RadixTreeFromRef attaches to an existing radix index.
func RadixTreeFromRef(a *alloc.Alloc, ref alloc.Ref, acc Accessor, chunkWidth uint) *RadixTree {
	return &RadixTree{alloc: a, cont: array.New(a).InitFromRef(ref), acc: acc, chunkWidth: chunkWidth}
}

// Ref returns the container ref for persistence.
func (rt *RadixTree) Ref() alloc.Ref { return rt.cont.Ref() }

func (rt *RadixTree) root() alloc.Ref { return rt.cont.GetAsRef(0) }

func (rt *RadixTree) setRoot(ref alloc.Ref) { rt.cont.SetRef(0, ref) }

func (rt *RadixTree) newNode() alloc.Ref {
	arr := array.Create(rt.alloc, array.TypeHasRefs, true)
	keys := array.Create(rt.alloc, array.TypeNormal, false)
	arr.Add(int64(keys.Ref()))
	return arr.Ref()
}

func (rt *RadixTree) levels() int {
	return int((64 + rt.chunkWidth - 1) / rt.chunkWidth)
}

// chunkAt extracts the level'th chunk of the canonical value, MSB first.
func (rt *RadixTree) chunkAt(v uint64, level int) int64 {
	w := rt.chunkWidth
	shift := 64 - w*uint(level+1)
	if int(shift) < 0 {
		// The last level holds whatever bits remain.
		rem := 64 - w*uint(level)
		return int64(v & (1<<rem - 1))
	}
	return int64((v >> shift) & (1<<w - 1))
}

func (rt *RadixTree) canonicalOf(value []byte) uint64 {
	return binary.BigEndian.Uint64(value)
}

func (rt *RadixTree) valueOf(row int64) []byte {
	data, ok := rt.acc.IndexData(tdb.ObjKey(row))
	if !ok {
		return nil
	}
	return data
}

func (rt *RadixTree) nullsList() *array.Array {
	ref := rt.cont.GetAsRef(1)
	if ref.IsNull() {
		list := array.Create(rt.alloc, array.TypeNormal, false)
		rt.cont.SetRef(1, list.Ref())
		return list
	}
	return loadPlain(rt.alloc, ref)
}

// Insert adds (value, key); present pairs are a no-op.
func (rt *RadixTree) Insert(key tdb.ObjKey, value []byte, isNull bool) {
	row := int64(key)
	if isNull {
		list := rt.nullsList()
		pos := list.LowerBound(row)
		if pos < list.Size() && list.Get(pos) == row {
			return
		}
		list.Insert(pos, row)
		rt.cont.SetRef(1, list.Ref())
		return
	}
	newRoot := rt.doInsert(rt.root(), row, rt.canonicalOf(value), value, 0)
	rt.setRoot(newRoot)
}

// listInsert places row into a compact list ordered by (value, row),
// skipping exact duplicates.
func (rt *RadixTree) listInsert(list *array.Array, row int64, value []byte) {
	lo, hi := 0, list.Size()
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		c := bytes.Compare(rt.valueOf(list.Get(mid)), value)
		if c < 0 || (c == 0 && list.Get(mid) < row) {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < list.Size() && list.Get(lo) == row && bytes.Equal(rt.valueOf(list.Get(lo)), value) {
		return
	}
	list.Insert(lo, row)
}

func (rt *RadixTree) doInsert(ref alloc.Ref, row int64, canonical uint64, value []byte, level int) alloc.Ref {
	n := rt.load(ref)
	ck := rt.chunkAt(canonical, level)
	pos := n.keys.LowerBound(ck)
	if pos == n.keys.Size() || n.keys.Get(pos) != ck {
		n.keys.Insert(pos, ck)
		n.syncKeys()
		n.arr.Insert(pos+1, array.TagValue(row))
		return n.arr.Ref()
	}
	posRefs := pos + 1
	slotValue := n.arr.Get(posRefs)
	if array.IsTagged(slotValue) {
		row2 := array.UntagValue(slotValue)
		if row2 == row && bytes.Equal(rt.valueOf(row2), value) {
			return n.arr.Ref()
		}
		list := array.Create(rt.alloc, array.TypeNormal, false)
		rt.listInsert(list, row2, rt.valueOf(row2))
		rt.listInsert(list, row, value)
		n.arr.Set(posRefs, int64(list.Ref()))
		return n.arr.Ref()
	}
	childRef := alloc.Ref(slotValue)
	if array.ContextFlagFromRef(rt.alloc, childRef) {
		newChild := rt.doInsert(childRef, row, canonical, value, level+1)
		n.arr.SetRef(posRefs, newChild)
		return n.arr.Ref()
	}

	list := loadPlain(rt.alloc, childRef)
	rt.listInsert(list, row, value)
	if list.Size() > compactThreshold && level+1 < rt.levels() && !rt.allEqual(list) {
		// Overflow: fan the list out one level deeper.
		node := rt.expandList(list, level+1)
		list.Destroy()
		n.arr.SetRef(posRefs, node)
	} else {
		n.arr.SetRef(posRefs, list.Ref())
	}
	return n.arr.Ref()
}

// allEqual reports whether every entry of a sorted list holds one value, in
// which case fanning out cannot separate them.
func (rt *RadixTree) allEqual(list *array.Array) bool {
	if list.Size() < 2 {
		return true
	}
	return bytes.Equal(rt.valueOf(list.Get(0)), rt.valueOf(list.Back()))
}

// expandList redistributes a compact list into a fresh node at level.
func (rt *RadixTree) expandList(list *array.Array, level int) alloc.Ref {
	nodeRef := rt.newNode()
	for i := 0; i < list.Size(); i++ {
		row := list.Get(i)
		v := rt.valueOf(row)
		nodeRef = rt.doInsert(nodeRef, row, rt.canonicalOf(v), v, level)
	}
	return nodeRef
}

func (rt *RadixTree) load(ref alloc.Ref) *node {
	arr := array.New(rt.alloc).InitFromRef(ref)
	keys := array.New(rt.alloc).InitFromRef(arr.GetAsRef(0))
	return &node{arr: arr, keys: keys}
}

// Erase removes (value, key); missing pairs are a no-op.
func (rt *RadixTree) Erase(key tdb.ObjKey, value []byte, isNull bool) {
	row := int64(key)
	if isNull {
		ref := rt.cont.GetAsRef(1)
		if ref.IsNull() {
			return
		}
		list := loadPlain(rt.alloc, ref)
		pos := list.LowerBound(row)
		if pos < list.Size() && list.Get(pos) == row {
			list.Erase(pos)
		}
		rt.cont.SetRef(1, list.Ref())
		return
	}
	newRoot, _ := rt.doErase(rt.root(), row, rt.canonicalOf(value), value, 0)
	rt.setRoot(newRoot)
}

func (rt *RadixTree) doErase(ref alloc.Ref, row int64, canonical uint64, value []byte, level int) (alloc.Ref, bool) {
	n := rt.load(ref)
	ck := rt.chunkAt(canonical, level)
	pos := n.keys.LowerBound(ck)
	if pos == n.keys.Size() || n.keys.Get(pos) != ck {
		return n.arr.Ref(), false
	}
	posRefs := pos + 1
	slotValue := n.arr.Get(posRefs)
	eraseSlot := func() {
		n.keys.Erase(pos)
		n.syncKeys()
		n.arr.Erase(posRefs)
	}
	if array.IsTagged(slotValue) {
		if array.UntagValue(slotValue) == row {
			eraseSlot()
		}
		return n.arr.Ref(), n.keys.Size() == 0
	}
	childRef := alloc.Ref(slotValue)
	if array.ContextFlagFromRef(rt.alloc, childRef) {
		newChild, childEmpty := rt.doErase(childRef, row, canonical, value, level+1)
		if childEmpty {
			rt.destroyNode(newChild)
			eraseSlot()
		} else {
			// Collapse a child that shrank to a single literal.
			c := rt.load(newChild)
			if c.keys.Size() == 1 && array.IsTagged(c.arr.Get(1)) {
				literal := c.arr.Get(1)
				c.keys.Destroy()
				c.arr.Destroy()
				n.arr.Set(posRefs, literal)
			} else {
				n.arr.SetRef(posRefs, newChild)
			}
		}
		return n.arr.Ref(), n.keys.Size() == 0
	}
	list := loadPlain(rt.alloc, childRef)
	for i := 0; i < list.Size(); i++ {
		if list.Get(i) == row {
			list.Erase(i)
			break
		}
	}
	switch list.Size() {
	case 0:
		list.Destroy()
		eraseSlot()
	case 1:
		literal := array.TagValue(list.Get(0))
		list.Destroy()
		n.arr.Set(posRefs, literal)
	default:
		n.arr.SetRef(posRefs, list.Ref())
	}
	return n.arr.Ref(), n.keys.Size() == 0
}

// UpdateRef repoints (value, oldKey) at newKey.
func (rt *RadixTree) UpdateRef(oldKey, newKey tdb.ObjKey, value []byte, isNull bool) {
	rt.Erase(oldKey, value, isNull)
	rt.Insert(newKey, value, isNull)
}

// FindAllNoCopy locates value without copying list payloads.
func (rt *RadixTree) FindAllNoCopy(value []byte) FindResult {
	canonical := rt.canonicalOf(value)
	ref := rt.root()
	for level := 0; ; level++ {
		n := rt.load(ref)
		ck := rt.chunkAt(canonical, level)
		pos := n.keys.LowerBound(ck)
		if pos == n.keys.Size() || n.keys.Get(pos) != ck {
			return FindResult{Kind: FindNotFound}
		}
		slotValue := n.arr.Get(pos + 1)
		if array.IsTagged(slotValue) {
			row := array.UntagValue(slotValue)
			if !bytes.Equal(rt.valueOf(row), value) {
				return FindResult{Kind: FindNotFound}
			}
			return FindResult{Kind: FindSingle, Key: tdb.ObjKey(row)}
		}
		childRef := alloc.Ref(slotValue)
		if array.ContextFlagFromRef(rt.alloc, childRef) {
			ref = childRef
			continue
		}
		return rt.fromCompactList(childRef, value)
	}
}

func (rt *RadixTree) fromCompactList(listRef alloc.Ref, value []byte) FindResult {
	list := loadPlain(rt.alloc, listRef)
	lo, hi := 0, list.Size()
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if bytes.Compare(rt.valueOf(list.Get(mid)), value) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == list.Size() || !bytes.Equal(rt.valueOf(list.Get(lo)), value) {
		return FindResult{Kind: FindNotFound}
	}
	upper := lo + 1
	for upper < list.Size() && bytes.Equal(rt.valueOf(list.Get(upper)), value) {
		upper++
	}
	if upper-lo == 1 {
		return FindResult{Kind: FindSingle, Key: tdb.ObjKey(list.Get(lo))}
	}
	return FindResult{Kind: FindColumn, List: list.Ref(), Start: lo, End: upper}
}

// FindFirst returns the lowest key holding value.
func (rt *RadixTree) FindFirst(value []byte, isNull bool) (tdb.ObjKey, bool) {
	if isNull {
		ref := rt.cont.GetAsRef(1)
		if ref.IsNull() {
			return 0, false
		}
		list := loadPlain(rt.alloc, ref)
		if list.Size() == 0 {
			return 0, false
		}
		return tdb.ObjKey(list.Get(0)), true
	}
	res := rt.FindAllNoCopy(value)
	switch res.Kind {
	case FindSingle:
		return res.Key, true
	case FindColumn:
		list := loadPlain(rt.alloc, res.List)
		// Entries with one value sort by row, so the first is the lowest.
		return tdb.ObjKey(list.Get(res.Start)), true
	}
	return 0, false
}

// FindAll returns every key holding value, ascending.
func (rt *RadixTree) FindAll(value []byte, isNull bool) []tdb.ObjKey {
	if isNull {
		ref := rt.cont.GetAsRef(1)
		if ref.IsNull() {
			return nil
		}
		list := loadPlain(rt.alloc, ref)
		out := make([]tdb.ObjKey, list.Size())
		for i := range out {
			out[i] = tdb.ObjKey(list.Get(i))
		}
		return out
	}
	res := rt.FindAllNoCopy(value)
	switch res.Kind {
	case FindSingle:
		return []tdb.ObjKey{res.Key}
	case FindColumn:
		list := loadPlain(rt.alloc, res.List)
		out := make([]tdb.ObjKey, 0, res.End-res.Start)
		for i := res.Start; i < res.End; i++ {
			out = append(out, tdb.ObjKey(list.Get(i)))
		}
		return out
	}
	return nil
}

// Count returns the number of keys holding value.
func (rt *RadixTree) Count(value []byte, isNull bool) int {
	if isNull {
		ref := rt.cont.GetAsRef(1)
		if ref.IsNull() {
			return 0
		}
		return loadPlain(rt.alloc, ref).Size()
	}
	res := rt.FindAllNoCopy(value)
	switch res.Kind {
	case FindSingle:
		return 1
	case FindColumn:
		return res.End - res.Start
	}
	return 0
}

// FindAllRange collects every key whose value lies in [lo, hi], ascending by
// key. Every node is visited; only the scan of a compact list stops early,
// at the first value above hi.
func (rt *RadixTree) FindAllRange(lo, hi []byte) []tdb.ObjKey {
	var out []tdb.ObjKey
	rt.rangeRec(rt.root(), lo, hi, &out)
	return sortAndDedup(out)
}

func (rt *RadixTree) rangeRec(ref alloc.Ref, lo, hi []byte, out *[]tdb.ObjKey) {
	n := rt.load(ref)
	for i := 1; i < n.arr.Size(); i++ {
		v := n.arr.Get(i)
		if array.IsTagged(v) {
			row := array.UntagValue(v)
			data := rt.valueOf(row)
			if bytes.Compare(data, lo) >= 0 && bytes.Compare(data, hi) <= 0 {
				*out = append(*out, tdb.ObjKey(row))
			}
			continue
		}
		childRef := alloc.Ref(v)
		if array.ContextFlagFromRef(rt.alloc, childRef) {
			rt.rangeRec(childRef, lo, hi, out)
			continue
		}
		list := loadPlain(rt.alloc, childRef)
		for j := 0; j < list.Size(); j++ {
			row := list.Get(j)
			data := rt.valueOf(row)
			if bytes.Compare(data, hi) > 0 {
				break // the list is sorted by value; nothing further matches
			}
			if bytes.Compare(data, lo) >= 0 {
				*out = append(*out, tdb.ObjKey(row))
			}
		}
	}
}

// Distinct returns, for every distinct value, the lowest key holding it.
func (rt *RadixTree) Distinct() []tdb.ObjKey {
	var out []tdb.ObjKey
	rt.distinctRec(rt.root(), &out)
	if ref := rt.cont.GetAsRef(1); !ref.IsNull() {
		if list := loadPlain(rt.alloc, ref); list.Size() > 0 {
			out = append(out, tdb.ObjKey(list.Get(0)))
		}
	}
	return out
}

func (rt *RadixTree) distinctRec(ref alloc.Ref, out *[]tdb.ObjKey) {
	n := rt.load(ref)
	for i := 1; i < n.arr.Size(); i++ {
		v := n.arr.Get(i)
		if array.IsTagged(v) {
			*out = append(*out, tdb.ObjKey(array.UntagValue(v)))
			continue
		}
		childRef := alloc.Ref(v)
		if array.ContextFlagFromRef(rt.alloc, childRef) {
			rt.distinctRec(childRef, out)
			continue
		}
		list := loadPlain(rt.alloc, childRef)
		var prev []byte
		for j := 0; j < list.Size(); j++ {
			data := rt.valueOf(list.Get(j))
			if j == 0 || !bytes.Equal(data, prev) {
				*out = append(*out, tdb.ObjKey(list.Get(j)))
			}
			prev = data
		}
	}
}

// HasDuplicates reports whether any value is held by more than one key.
func (rt *RadixTree) HasDuplicates() bool {
	dup := false
	rt.dupRec(rt.root(), &dup)
	if dup {
		return true
	}
	ref := rt.cont.GetAsRef(1)
	return !ref.IsNull() && loadPlain(rt.alloc, ref).Size() > 1
}

func (rt *RadixTree) dupRec(ref alloc.Ref, dup *bool) {
	if *dup {
		return
	}
	n := rt.load(ref)
	for i := 1; i < n.arr.Size() && !*dup; i++ {
		v := n.arr.Get(i)
		if array.IsTagged(v) {
			continue
		}
		childRef := alloc.Ref(v)
		if array.ContextFlagFromRef(rt.alloc, childRef) {
			rt.dupRec(childRef, dup)
			continue
		}
		list := loadPlain(rt.alloc, childRef)
		for j := 1; j < list.Size(); j++ {
			if bytes.Equal(rt.valueOf(list.Get(j)), rt.valueOf(list.Get(j-1))) {
				*dup = true
				break
			}
		}
	}
}

// IsEmpty reports whether the index holds no entries.
func (rt *RadixTree) IsEmpty() bool {
	n := rt.load(rt.root())
	if n.keys.Size() > 0 {
		return false
	}
	ref := rt.cont.GetAsRef(1)
	return ref.IsNull() || loadPlain(rt.alloc, ref).Size() == 0
}

func (rt *RadixTree) destroyNode(ref alloc.Ref) {
	n := rt.load(ref)
	for i := 1; i < n.arr.Size(); i++ {
		v := n.arr.Get(i)
		if array.IsTagged(v) {
			continue
		}
		childRef := alloc.Ref(v)
		if array.ContextFlagFromRef(rt.alloc, childRef) {
			rt.destroyNode(childRef)
		} else {
			loadPlain(rt.alloc, childRef).Destroy()
		}
	}
	n.keys.Destroy()
	n.arr.Destroy()
}

// Clear removes every entry.
func (rt *RadixTree) Clear() {
	rt.destroyNode(rt.root())
	if ref := rt.cont.GetAsRef(1); !ref.IsNull() {
		loadPlain(rt.alloc, ref).Destroy()
	}
	rt.setRoot(rt.newNode())
	rt.cont.SetRef(1, 0)
}

// Destroy releases the whole index.
func (rt *RadixTree) Destroy() {
	rt.destroyNode(rt.root())
	if ref := rt.cont.GetAsRef(1); !ref.IsNull() {
		loadPlain(rt.alloc, ref).Destroy()
	}
	rt.cont.Destroy()
}

// Verify asserts that every reachable key resolves with a value matching
// its chunk path.
func (rt *RadixTree) Verify() error {
	return rt.verifyNode(rt.root(), 0)
}

func (rt *RadixTree) verifyNode(ref alloc.Ref, level int) error {
	n := rt.load(ref)
	if n.arr.Size() != n.keys.Size()+1 {
		return tdb.ErrCorrupt.New(fmt.Sprintf("radix node slot count %d does not match %d keys", n.arr.Size(), n.keys.Size()))
	}
	for i := 1; i < n.keys.Size(); i++ {
		if n.keys.Get(i-1) >= n.keys.Get(i) {
			return tdb.ErrCorrupt.New("radix node keys out of order")
		}
	}
	for i := 1; i < n.arr.Size(); i++ {
		v := n.arr.Get(i)
		chunk := n.keys.Get(i - 1)
		if array.IsTagged(v) {
			row := array.UntagValue(v)
			data, ok := rt.acc.IndexData(tdb.ObjKey(row))
			if !ok {
				return tdb.ErrCorrupt.New(fmt.Sprintf("indexed row %d has null value", row))
			}
			if rt.chunkAt(rt.canonicalOf(data), level) != chunk {
				return tdb.ErrCorrupt.New(fmt.Sprintf("indexed row %d does not match its chunk", row))
			}
			continue
		}
		childRef := alloc.Ref(v)
		if array.ContextFlagFromRef(rt.alloc, childRef) {
			if err := rt.verifyNode(childRef, level+1); err != nil {
				return err
			}
			continue
		}
		list := loadPlain(rt.alloc, childRef)
		for j := 0; j < list.Size(); j++ {
			if _, ok := rt.acc.IndexData(tdb.ObjKey(list.Get(j))); !ok {
				return tdb.ErrCorrupt.New(fmt.Sprintf("listed row %d has null value", list.Get(j)))
			}
		}
	}
	return nil
}
