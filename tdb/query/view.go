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
	"github.com/terndb/tern/tdb"
	"github.com/terndb/tern/tdb/expression"
	"github.com/terndb/tern/tdb/table"
)

// TableView is a materialized result: an owned list of object keys, the
// content version they were captured at, and the descriptor chain that
// shaped them. A view can outlive its transaction and be re-synced.
type TableView struct {
	ctx         *tdb.Context
	tbl         *table.Table
	query       *Query
	keys        []tdb.ObjKey
	versions    []uint64
	version     uint64
	descriptors []Descriptor

	// anchor is set for views derived from one row's backlinks; once the
	// anchor dies the view is permanently empty and in sync.
	anchorKey   tdb.ObjKey
	hasAnchor   bool
	anchorDead  bool
}

func newView(ctx *tdb.Context, tbl *table.Table, q *Query, keys []tdb.ObjKey, descriptors []Descriptor) *TableView {
	v := &TableView{
		ctx:         ctx,
		tbl:         tbl,
		query:       q,
		keys:        keys,
		version:     tbl.ContentVersion(),
		descriptors: descriptors,
		anchorKey:   tdb.InvalidObjKey,
	}
	v.snapshotVersions()
	return v
}

// NewViewFromKeys builds a view over an explicit key list, outside any
// query.
func NewViewFromKeys(ctx *tdb.Context, tbl *table.Table, keys []tdb.ObjKey) *TableView {
	return newView(ctx, tbl, nil, keys, nil)
}

// NewAnchoredView builds a view whose contents derive from one row (e.g.
// its backlinks). When the anchor row dies, the view empties for good.
func NewAnchoredView(ctx *tdb.Context, tbl *table.Table, anchor tdb.ObjKey, keys []tdb.ObjKey) *TableView {
	v := newView(ctx, tbl, nil, keys, nil)
	v.anchorKey = anchor
	v.hasAnchor = true
	return v
}

func (v *TableView) snapshotVersions() {
	v.versions = make([]uint64, len(v.keys))
	for i := range v.versions {
		v.versions[i] = v.version
	}
}

func (v *TableView) applyDescriptors() error {
	for _, d := range v.descriptors {
		if err := d.apply(v); err != nil {
			return err
		}
	}
	v.snapshotVersions()
	return nil
}

// Size returns the number of rows in the view.
func (v *TableView) Size() int { return len(v.keys) }

// Keys returns the view's keys in view order.
func (v *TableView) Keys() []tdb.ObjKey {
	out := make([]tdb.ObjKey, len(v.keys))
	copy(out, v.keys)
	return out
}

// GetKey returns the key at position i.
func (v *TableView) GetKey(i int) tdb.ObjKey { return v.keys[i] }

// Obj returns the row at position i.
func (v *TableView) Obj(i int) (*table.Obj, error) {
	return v.tbl.GetObject(v.keys[i])
}

// ForEach visits the rows in view order until fn returns false. Rows
// deleted since materialization are skipped.
func (v *TableView) ForEach(fn func(obj *table.Obj) bool) {
	for _, key := range v.keys {
		obj, err := v.tbl.GetObject(key)
		if err != nil {
			continue
		}
		if !fn(obj) {
			return
		}
	}
}

// IsInSync reports whether the source table is unchanged since the view
// was materialized.
func (v *TableView) IsInSync() bool {
	if v.anchorDead {
		return true
	}
	return v.version == v.tbl.ContentVersion()
}

// DependsOnDeletedObject reports whether the view's anchor row is gone.
func (v *TableView) DependsOnDeletedObject() bool {
	if !v.hasAnchor {
		return false
	}
	if v.anchorDead {
		return true
	}
	if _, err := v.tbl.GetObject(v.anchorKey); err != nil {
		v.anchorDead = true
	}
	return v.anchorDead
}

// SyncIfNeeded re-runs the originating query and re-applies the descriptor
// chain verbatim. It returns the new content version.
func (v *TableView) SyncIfNeeded() (uint64, error) {
	if v.hasAnchor && v.DependsOnDeletedObject() {
		v.keys = nil
		v.versions = nil
		return v.version, nil
	}
	if v.IsInSync() {
		return v.version, nil
	}
	if v.query != nil {
		keys, err := v.query.matchingKeys()
		if err != nil {
			return v.version, err
		}
		v.keys = keys
	} else {
		// Views without a query drop keys whose rows died.
		alive := v.keys[:0]
		for _, key := range v.keys {
			if _, err := v.tbl.GetObject(key); err == nil {
				alive = append(alive, key)
			}
		}
		v.keys = alive
	}
	v.version = v.tbl.ContentVersion()
	if err := v.applyDescriptors(); err != nil {
		return v.version, err
	}
	return v.version, nil
}

// Sort re-orders the view in place and appends the descriptor to the chain
// so that re-syncs repeat it.
func (v *TableView) Sort(d SortDescriptor) error {
	v.descriptors = append(v.descriptors, &d)
	return v.applyDescriptors()
}

// Distinct dedupes the view in place and appends the descriptor to the
// chain.
func (v *TableView) Distinct(d DistinctDescriptor) error {
	v.descriptors = append(v.descriptors, &d)
	return v.applyDescriptors()
}

// Limit truncates the view and appends the descriptor to the chain.
func (v *TableView) Limit(n int) error {
	v.descriptors = append(v.descriptors, &LimitDescriptor{Max: n})
	return v.applyDescriptors()
}

// FindFirstInView returns the position of the first row whose column equals
// value, or -1.
func (v *TableView) FindFirstInView(col tdb.ColKey, value tdb.Mixed) int {
	for i, key := range v.keys {
		obj, err := v.tbl.GetObject(key)
		if err != nil {
			continue
		}
		got, err := obj.Get(col)
		if err == nil && (got.Equal(value) || (got.IsNull() && value.IsNull())) {
			return i
		}
	}
	return -1
}

// FindAllInView returns the positions of every row whose column equals
// value.
func (v *TableView) FindAllInView(col tdb.ColKey, value tdb.Mixed) []int {
	var out []int
	for i, key := range v.keys {
		obj, err := v.tbl.GetObject(key)
		if err != nil {
			continue
		}
		got, err := obj.Get(col)
		if err == nil && (got.Equal(value) || (got.IsNull() && value.IsNull())) {
			out = append(out, i)
		}
	}
	return out
}

func (v *TableView) columnValues(col tdb.ColKey) []tdb.Mixed {
	values := make([]tdb.Mixed, 0, len(v.keys))
	for _, key := range v.keys {
		obj, err := v.tbl.GetObject(key)
		if err != nil {
			continue
		}
		if got, err := obj.Get(col); err == nil {
			values = append(values, got)
		}
	}
	return values
}

// Min returns the smallest non-null value of the column, or null.
func (v *TableView) Min(col tdb.ColKey) tdb.Mixed {
	return expression.FoldAggregate(expression.AggMin, v.columnValues(col))
}

// Max returns the largest non-null value of the column, or null.
func (v *TableView) Max(col tdb.ColKey) tdb.Mixed {
	return expression.FoldAggregate(expression.AggMax, v.columnValues(col))
}

// Sum adds the non-null values of the column.
func (v *TableView) Sum(col tdb.ColKey) tdb.Mixed {
	return expression.FoldAggregate(expression.AggSum, v.columnValues(col))
}

// Avg averages the non-null values of the column, or null when none.
func (v *TableView) Avg(col tdb.ColKey) tdb.Mixed {
	return expression.FoldAggregate(expression.AggAvg, v.columnValues(col))
}

// CountNonNull counts the non-null values of the column.
func (v *TableView) CountNonNull(col tdb.ColKey) int64 {
	agg := expression.FoldAggregate(expression.AggCount, v.columnValues(col))
	return agg.Int()
}

// Remove deletes the underlying row at position i and drops it from the
// view.
func (v *TableView) Remove(i int) error {
	if err := v.tbl.RemoveObject(v.keys[i]); err != nil {
		return err
	}
	v.keys = append(v.keys[:i], v.keys[i+1:]...)
	v.versions = append(v.versions[:i], v.versions[i+1:]...)
	v.version = v.tbl.ContentVersion()
	return nil
}

// RemoveLast deletes the last row of the view.
func (v *TableView) RemoveLast() error {
	if len(v.keys) == 0 {
		return nil
	}
	return v.Remove(len(v.keys) - 1)
}

// Clear deletes every underlying row of the view.
func (v *TableView) Clear() error {
	for len(v.keys) > 0 {
		if err := v.Remove(len(v.keys) - 1); err != nil {
			return err
		}
	}
	return nil
}
