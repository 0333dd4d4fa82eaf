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

// Package index implements the search-index subsystem: a string-keyed
// prefix trie and an integer radix tree sharing one contract, each mapping
// a column value to the set of object keys holding it.
package index

import (
	"github.com/terndb/tern/tdb"
	"github.com/terndb/tern/tdb/alloc"
)

// FindResultKind discriminates FindResult.
type FindResultKind int

const (
	// FindNotFound means no key holds the value.
	FindNotFound FindResultKind = iota
	// FindSingle means exactly one key holds the value.
	FindSingle
	// FindColumn means the matches are a slice of a pre-existing sorted
	// leaf list; the caller reads them in place without copying.
	FindColumn
)

// FindResult is the no-copy result of FindAllNoCopy: not found, a single
// key, or a [Start, End) slice of the sorted list at ListRef.
type FindResult struct {
	Kind  FindResultKind
	Key   tdb.ObjKey
	List  alloc.Ref
	Start int
	End   int
}

// Accessor fetches the indexed column's canonical value bytes for a key.
// The index uses it to confirm candidate matches with a full-value compare.
type Accessor interface {
	// IndexData returns the encoded value for key; ok is false for null.
	IndexData(key tdb.ObjKey) (data []byte, ok bool)
}

// SearchIndex is the contract shared by the trie and radix implementations.
type SearchIndex interface {
	Insert(key tdb.ObjKey, value []byte, isNull bool)
	Erase(key tdb.ObjKey, value []byte, isNull bool)
	UpdateRef(oldKey, newKey tdb.ObjKey, value []byte, isNull bool)
	FindFirst(value []byte, isNull bool) (tdb.ObjKey, bool)
	FindAll(value []byte, isNull bool) []tdb.ObjKey
	FindAllNoCopy(value []byte) FindResult
	Count(value []byte, isNull bool) int
	FindAllRange(lo, hi []byte) []tdb.ObjKey
	Distinct() []tdb.ObjKey
	HasDuplicates() bool
	IsEmpty() bool
	Clear()
	Destroy()
	Ref() alloc.Ref
	Verify() error
}

// maxNodeSize is the fan-out limit of index nodes, shared with the cluster
// tree.
const maxNodeSize = 256

type changeType int

const (
	changeNone changeType = iota
	changeInsertBefore
	changeInsertAfter
	changeSplit
)

// nodeChange propagates splits upward; the parent re-links according to the
// kind: a fresh sibling before or after this node, or a two-way split.
type nodeChange struct {
	typ  changeType
	ref1 alloc.Ref
	ref2 alloc.Ref
}
