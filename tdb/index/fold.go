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
	"sort"
	"strings"

	"github.com/terndb/tern/tdb"
	"github.com/terndb/tern/tdb/alloc"
	"github.com/terndb/tern/tdb/array"
)

// Case-insensitive find walks the trie visiting every upper/lower
// permutation of the 4-byte chunk key at each level: 2^4 = 16 search keys.
// Key generation folds ASCII only; multi-byte characters crossing a chunk
// boundary are a known boundary of this scheme, so every candidate is
// confirmed with a full case-folded compare before it is reported.
const numPermutations = 1 << indexKeyLength

func asciiLower(b []byte) []byte {
	out := append([]byte(nil), b...)
	for i, c := range out {
		if c >= 'A' && c <= 'Z' {
			out[i] = c + 'a' - 'A'
		}
	}
	return out
}

func asciiUpper(b []byte) []byte {
	out := append([]byte(nil), b...)
	for i, c := range out {
		if c >= 'a' && c <= 'z' {
			out[i] = c - ('a' - 'A')
		}
	}
	return out
}

// generateKey mixes the upper- and lower-case chunk keys: bit i of the
// permutation selects the case of byte i.
func generateKey(upper, lower int64, permutation int) int64 {
	key := int64(0)
	for i := 0; i < indexKeyLength; i++ {
		shift := uint(8 * (indexKeyLength - 1 - i))
		var b int64
		if permutation&(1<<uint(i)) != 0 {
			b = (upper >> shift) & 0xFF
		} else {
			b = (lower >> shift) & 0xFF
		}
		key |= b << shift
	}
	return key
}

// caseKeys returns the distinct chunk keys to probe at offset.
func caseKeys(upperValue, lowerValue []byte, offset int) []int64 {
	upperKey := createKey(upperValue, offset)
	lowerKey := createKey(lowerValue, offset)
	seen := make([]int64, 0, numPermutations)
	for p := 0; p < numPermutations; p++ {
		key := generateKey(upperKey, lowerKey, p)
		dup := false
		for _, s := range seen {
			if s == key {
				dup = true
				break
			}
		}
		if !dup {
			seen = append(seen, key)
		}
	}
	return seen
}

// FindAllFold returns every key whose stored value case-folds equal to
// value, ascending by key.
func (ix *StringIndex) FindAllFold(value string) []tdb.ObjKey {
	upper := asciiUpper([]byte(value))
	lower := asciiLower([]byte(value))
	var out []tdb.ObjKey
	ix.foldSearch(ix.root(), 0, upper, lower, value, &out)
	// Permutation probes can reach the same list through several chunk
	// keys; keep each key once.
	return sortAndDedup(out)
}

func (ix *StringIndex) foldConfirm(row int64, value string, out *[]tdb.ObjKey) {
	if strings.EqualFold(string(ix.valueOf(row)), value) {
		*out = append(*out, tdb.ObjKey(row))
	}
}

func (ix *StringIndex) foldSearch(ref alloc.Ref, offset int, upper, lower []byte, value string, out *[]tdb.ObjKey) {
	n := ix.load(ref)
	keys := caseKeys(upper, lower, offset)
	if n.arr.IsInnerBptreeNode() {
		visited := make(map[alloc.Ref]bool)
		for _, key := range keys {
			ndx := n.keys.LowerBound(key)
			if ndx == n.keys.Size() {
				continue
			}
			child := n.arr.GetAsRef(ndx + 1)
			if !visited[child] {
				visited[child] = true
				ix.foldSearch(child, offset, upper, lower, value, out)
			}
		}
		return
	}
	for _, key := range keys {
		pos := n.keys.LowerBound(key)
		if pos == n.keys.Size() || n.keys.Get(pos) != key {
			continue
		}
		slotValue := n.arr.Get(pos + 1)
		if array.IsTagged(slotValue) {
			ix.foldConfirm(array.UntagValue(slotValue), value, out)
			continue
		}
		childRef := alloc.Ref(slotValue)
		if array.ContextFlagFromRef(ix.alloc, childRef) {
			ix.foldSearch(childRef, offset+indexKeyLength, upper, lower, value, out)
			continue
		}
		list := loadPlain(ix.alloc, childRef)
		for j := 0; j < list.Size(); j++ {
			ix.foldConfirm(list.Get(j), value, out)
		}
	}
}

// sortAndDedup is shared by the fold and range paths.
func sortAndDedup(keys []tdb.ObjKey) []tdb.ObjKey {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := keys[:0]
	for i, k := range keys {
		if i == 0 || k != keys[i-1] {
			out = append(out, k)
		}
	}
	return out
}
