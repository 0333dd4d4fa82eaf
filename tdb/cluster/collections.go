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
	"sort"

	"github.com/terndb/tern/tdb"
	"github.com/terndb/tern/tdb/alloc"
	"github.com/terndb/tern/tdb/array"
)

// Collections (lists, sets, dictionaries) live behind a ref in the column
// array. A list/set is a has-refs array whose slots point at mixed-encoded
// cell blobs (null ref = null element). A dictionary interleaves key blobs
// and value cells: even slots are string keys, odd slots their values, kept
// sorted by key.

// CreateCollection allocates an empty collection and returns its ref.
func CreateCollection(a *alloc.Alloc) alloc.Ref {
	return array.Create(a, array.TypeHasRefs, false).Ref()
}

// CollectionSize returns the element count of the list/set at ref. For
// dictionaries this is twice the entry count.
func CollectionSize(a *alloc.Alloc, ref alloc.Ref) int {
	if ref.IsNull() {
		return 0
	}
	return array.New(a).InitFromRef(ref).Size()
}

// CollectionGet returns element i of the list at ref.
func CollectionGet(a *alloc.Alloc, ref alloc.Ref, i int) tdb.Mixed {
	arr := array.New(a).InitFromRef(ref)
	cellRef := arr.GetAsRef(i)
	if cellRef.IsNull() {
		return tdb.Null
	}
	return decodeMixedCell(array.ReadBlob(a, cellRef))
}

// CollectionAll decodes every element of the list at ref.
func CollectionAll(a *alloc.Alloc, ref alloc.Ref) []tdb.Mixed {
	if ref.IsNull() {
		return nil
	}
	arr := array.New(a).InitFromRef(ref)
	out := make([]tdb.Mixed, arr.Size())
	for i := range out {
		out[i] = CollectionGet(a, ref, i)
	}
	return out
}

// CollectionInsert places v at position i and returns the (possibly moved)
// collection ref.
func CollectionInsert(a *alloc.Alloc, ref alloc.Ref, i int, v tdb.Mixed) alloc.Ref {
	arr := array.New(a).InitFromRef(ref)
	var cellRef alloc.Ref
	if !v.IsNull() {
		cellRef = array.WriteBlob(a, encodeMixedCell(v))
	}
	arr.Insert(i, int64(cellRef))
	return arr.Ref()
}

// CollectionAppend appends v.
func CollectionAppend(a *alloc.Alloc, ref alloc.Ref, v tdb.Mixed) alloc.Ref {
	arr := array.New(a).InitFromRef(ref)
	return CollectionInsert(a, ref, arr.Size(), v)
}

// CollectionSet overwrites element i.
func CollectionSet(a *alloc.Alloc, ref alloc.Ref, i int, v tdb.Mixed) alloc.Ref {
	arr := array.New(a).InitFromRef(ref)
	if old := arr.GetAsRef(i); !old.IsNull() {
		array.FreeBlob(a, old)
	}
	var cellRef alloc.Ref
	if !v.IsNull() {
		cellRef = array.WriteBlob(a, encodeMixedCell(v))
	}
	arr.Set(i, int64(cellRef))
	return arr.Ref()
}

// CollectionErase removes element i.
func CollectionErase(a *alloc.Alloc, ref alloc.Ref, i int) alloc.Ref {
	arr := array.New(a).InitFromRef(ref)
	if old := arr.GetAsRef(i); !old.IsNull() {
		array.FreeBlob(a, old)
	}
	arr.Erase(i)
	return arr.Ref()
}

// CollectionFind returns the position of the first element equal to v, or -1.
func CollectionFind(a *alloc.Alloc, ref alloc.Ref, v tdb.Mixed) int {
	if ref.IsNull() {
		return -1
	}
	arr := array.New(a).InitFromRef(ref)
	for i := 0; i < arr.Size(); i++ {
		if CollectionGet(a, ref, i).Equal(v) || (v.IsNull() && CollectionGet(a, ref, i).IsNull()) {
			return i
		}
	}
	return -1
}

// CollectionDestroy frees the collection and its cells.
func CollectionDestroy(a *alloc.Alloc, ref alloc.Ref) {
	if ref.IsNull() {
		return
	}
	arr := array.New(a).InitFromRef(ref)
	for i := 0; i < arr.Size(); i++ {
		if cellRef := arr.GetAsRef(i); !cellRef.IsNull() {
			array.FreeBlob(a, cellRef)
		}
	}
	arr.Destroy()
}

// DictEntries returns the sorted keys and their values.
func DictEntries(a *alloc.Alloc, ref alloc.Ref) ([]string, []tdb.Mixed) {
	if ref.IsNull() {
		return nil, nil
	}
	arr := array.New(a).InitFromRef(ref)
	n := arr.Size() / 2
	keys := make([]string, n)
	values := make([]tdb.Mixed, n)
	for i := 0; i < n; i++ {
		keys[i] = string(array.ReadBlob(a, arr.GetAsRef(2*i)))
		values[i] = CollectionGet(a, ref, 2*i+1)
	}
	return keys, values
}

func dictFind(a *alloc.Alloc, arr *array.Array, key string) (int, bool) {
	n := arr.Size() / 2
	i := sort.Search(n, func(i int) bool {
		return string(array.ReadBlob(a, arr.GetAsRef(2*i))) >= key
	})
	if i < n && string(array.ReadBlob(a, arr.GetAsRef(2*i))) == key {
		return i, true
	}
	return i, false
}

// DictGet looks up a key. The second result reports presence.
func DictGet(a *alloc.Alloc, ref alloc.Ref, key string) (tdb.Mixed, bool) {
	if ref.IsNull() {
		return tdb.Null, false
	}
	arr := array.New(a).InitFromRef(ref)
	i, ok := dictFind(a, arr, key)
	if !ok {
		return tdb.Null, false
	}
	return CollectionGet(a, ref, 2*i+1), true
}

// DictSet inserts or overwrites a key and returns the collection ref.
func DictSet(a *alloc.Alloc, ref alloc.Ref, key string, v tdb.Mixed) alloc.Ref {
	arr := array.New(a).InitFromRef(ref)
	i, ok := dictFind(a, arr, key)
	if ok {
		return CollectionSet(a, arr.Ref(), 2*i+1, v)
	}
	keyRef := array.WriteBlob(a, []byte(key))
	var cellRef alloc.Ref
	if !v.IsNull() {
		cellRef = array.WriteBlob(a, encodeMixedCell(v))
	}
	arr.Insert(2*i, int64(keyRef))
	arr.Insert(2*i+1, int64(cellRef))
	return arr.Ref()
}

// DictErase removes a key if present.
func DictErase(a *alloc.Alloc, ref alloc.Ref, key string) (alloc.Ref, bool) {
	arr := array.New(a).InitFromRef(ref)
	i, ok := dictFind(a, arr, key)
	if !ok {
		return arr.Ref(), false
	}
	array.FreeBlob(a, arr.GetAsRef(2*i))
	if cellRef := arr.GetAsRef(2*i + 1); !cellRef.IsNull() {
		array.FreeBlob(a, cellRef)
	}
	arr.Erase(2*i + 1)
	arr.Erase(2 * i)
	return arr.Ref(), true
}
