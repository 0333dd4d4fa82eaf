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

package query

import (
	"sort"

	"github.com/mitchellh/hashstructure"

	"github.com/terndb/tern/tdb"
	"github.com/terndb/tern/tdb/table"
)

// Descriptor is one step of a view's shaping chain. Descriptors are plain
// values: a view re-applies its chain verbatim on every re-sync.
type Descriptor interface {
	apply(v *TableView) error
}

// ColumnChain addresses a sortable value: zero or more single-valued link
// hops followed by a final column.
type ColumnChain []tdb.ColKey

// chainValue follows the chain from obj; a broken hop yields null.
func chainValue(obj *table.Obj, chain ColumnChain) tdb.Mixed {
	current := obj
	for i, col := range chain {
		if i == len(chain)-1 {
			v, err := current.Get(col)
			if err != nil {
				return tdb.Null
			}
			return v
		}
		v, err := current.Get(col)
		if err != nil || v.IsNull() {
			return tdb.Null
		}
		next, ok := current.ResolveLink(col, v)
		if !ok {
			return tdb.Null
		}
		current = next
	}
	return tdb.Null
}

// SortColumn pairs a column chain with a direction.
type SortColumn struct {
	Chain     ColumnChain
	Ascending bool
}

// SortDescriptor orders a view by one or more column chains. The sort is
// stable, so earlier descriptors and input order break ties; null compares
// less than any non-null value.
type SortDescriptor struct {
	Columns []SortColumn
}

func (d *SortDescriptor) apply(v *TableView) error {
	type entry struct {
		key    tdb.ObjKey
		values []tdb.Mixed
	}
	entries := make([]entry, len(v.keys))
	for i, key := range v.keys {
		e := entry{key: key}
		if obj, err := v.tbl.GetObject(key); err == nil {
			e.values = make([]tdb.Mixed, len(d.Columns))
			for ci, sc := range d.Columns {
				e.values[ci] = chainValue(obj, sc.Chain)
			}
		}
		entries[i] = e
	}
	sort.SliceStable(entries, func(i, j int) bool {
		for ci, sc := range d.Columns {
			var a, b tdb.Mixed
			if entries[i].values != nil {
				a = entries[i].values[ci]
			}
			if entries[j].values != nil {
				b = entries[j].values[ci]
			}
			cmp := a.Compare(b)
			if cmp == 0 {
				continue
			}
			if sc.Ascending {
				return cmp < 0
			}
			return cmp > 0
		}
		return false
	})
	for i := range entries {
		v.keys[i] = entries[i].key
	}
	return nil
}

// DistinctDescriptor keeps the first occurrence per value tuple, in the
// view's current order.
type DistinctDescriptor struct {
	Columns []ColumnChain
}

func (d *DistinctDescriptor) apply(v *TableView) error {
	seen := make(map[uint64][][]string)
	out := v.keys[:0]
	for _, key := range v.keys {
		obj, err := v.tbl.GetObject(key)
		if err != nil {
			continue
		}
		tuple := make([]string, len(d.Columns))
		for i, chain := range d.Columns {
			tuple[i] = chainValue(obj, chain).String()
		}
		h, err := hashstructure.Hash(tuple, nil)
		if err != nil {
			return err
		}
		// Hash buckets resolve collisions by comparing the full tuple.
		dup := false
		for _, prev := range seen[h] {
			if equalTuple(prev, tuple) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		seen[h] = append(seen[h], tuple)
		out = append(out, key)
	}
	v.keys = out
	return nil
}

func equalTuple(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// LimitDescriptor truncates the view's tail.
type LimitDescriptor struct {
	Max int
}

func (d *LimitDescriptor) apply(v *TableView) error {
	if d.Max >= 0 && len(v.keys) > d.Max {
		v.keys = v.keys[:d.Max]
	}
	return nil
}
