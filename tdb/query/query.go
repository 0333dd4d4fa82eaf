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

// Package query executes compiled predicates against a table, producing
// materialized table views shaped by sort, distinct and limit descriptors.
package query

import (
	opentracing "github.com/opentracing/opentracing-go"

	"github.com/terndb/tern/tdb"
	"github.com/terndb/tern/tdb/expression"
	"github.com/terndb/tern/tdb/table"
)

// Query is a compiled predicate bound to a table, plus its descriptor
// chain.
type Query struct {
	ctx         *tdb.Context
	tbl         *table.Table
	root        expression.Expression
	descriptors []Descriptor
}

// New builds a query over tbl with the given root expression.
func New(ctx *tdb.Context, tbl *table.Table, root expression.Expression) *Query {
	if root == nil {
		root = expression.TruePredicate{}
	}
	return &Query{ctx: ctx, tbl: tbl, root: root}
}

// Table returns the queried table.
func (q *Query) Table() *table.Table { return q.tbl }

// Root returns the root expression.
func (q *Query) Root() expression.Expression { return q.root }

// Descriptors returns the descriptor chain.
func (q *Query) Descriptors() []Descriptor { return q.descriptors }

// Sort appends a sort descriptor.
func (q *Query) Sort(d SortDescriptor) *Query {
	q.descriptors = append(q.descriptors, &d)
	return q
}

// Distinct appends a distinct descriptor.
func (q *Query) Distinct(d DistinctDescriptor) *Query {
	q.descriptors = append(q.descriptors, &d)
	return q
}

// Limit appends a limit descriptor.
func (q *Query) Limit(n int) *Query {
	q.descriptors = append(q.descriptors, &LimitDescriptor{Max: n})
	return q
}

// FindFirst returns the first matching key at or above start, iterating
// cluster leaves in key order.
func (q *Query) FindFirst(start tdb.ObjKey) (tdb.ObjKey, bool, error) {
	key, ok := q.tbl.FindGE(start)
	for ok {
		obj, err := q.tbl.GetObject(key)
		if err != nil {
			return 0, false, err
		}
		matched, err := q.root.Matches(obj)
		if err != nil {
			return 0, false, err
		}
		if matched {
			return key, true, nil
		}
		key, ok = q.tbl.FindGE(key + 1)
	}
	return 0, false, nil
}

// matchingKeys materializes every matching key in ascending order, taking
// the index-driven path when the root expression offers one.
func (q *Query) matchingKeys() ([]tdb.ObjKey, error) {
	var span opentracing.Span
	if q.ctx != nil {
		span = q.ctx.Span("query.matchingKeys")
		defer span.Finish()
	}
	if kd, ok := q.root.(expression.KeyDriven); ok {
		if candidates, ok := kd.Candidates(); ok {
			out := make([]tdb.ObjKey, 0, len(candidates))
			for _, key := range candidates {
				obj, err := q.tbl.GetObject(key)
				if err != nil {
					continue
				}
				matched, err := q.root.Matches(obj)
				if err != nil {
					return nil, err
				}
				if matched {
					out = append(out, key)
				}
			}
			return out, nil
		}
	}
	var out []tdb.ObjKey
	key, ok := q.tbl.FindGE(0)
	for ok {
		obj, err := q.tbl.GetObject(key)
		if err != nil {
			return nil, err
		}
		matched, err := q.root.Matches(obj)
		if err != nil {
			return nil, err
		}
		if matched {
			out = append(out, key)
		}
		key, ok = q.tbl.FindGE(key + 1)
	}
	return out, nil
}

// FindAll materializes the matches into a view and applies the descriptor
// chain.
func (q *Query) FindAll() (*TableView, error) {
	keys, err := q.matchingKeys()
	if err != nil {
		return nil, err
	}
	v := newView(q.ctx, q.tbl, q, keys, q.descriptors)
	if err := v.applyDescriptors(); err != nil {
		return nil, err
	}
	return v, nil
}

// Count returns the number of matches without materializing a view.
func (q *Query) Count() (int64, error) {
	keys, err := q.matchingKeys()
	if err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

// Aggregate folds a column over the matches, skipping nulls.
func (q *Query) Aggregate(kind expression.AggregateKind, col tdb.ColKey) (tdb.Mixed, error) {
	keys, err := q.matchingKeys()
	if err != nil {
		return tdb.Null, err
	}
	values := make([]tdb.Mixed, 0, len(keys))
	for _, key := range keys {
		obj, err := q.tbl.GetObject(key)
		if err != nil {
			return tdb.Null, err
		}
		v, err := obj.Get(col)
		if err != nil {
			return tdb.Null, err
		}
		values = append(values, v)
	}
	return expression.FoldAggregate(kind, values), nil
}
