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

// Package expression implements the two node families a compiled query is
// built from: value-producing subexpressions and boolean predicates, plus
// the link chains that bind key paths to the schema.
package expression

import (
	"github.com/terndb/tern/tdb"
	"github.com/terndb/tern/tdb/table"
)

// ChainStep is one hop of a link chain.
type ChainStep struct {
	Col tdb.ColKey
	// Backlink marks a reverse hop through the named origin column.
	Backlink     bool
	OriginTable  tdb.TableKey
	OriginColumn tdb.ColKey
}

// LinkChain is a compiled path through link columns from a base table to a
// reachable target table. An empty chain stays on the base table.
type LinkChain struct {
	base    *table.Table
	steps   []ChainStep
	tables  []*table.Table
	current *table.Table
	// multi is set once the path crosses a list-typed column or a
	// backlink, making operands multi-valued.
	multi bool
}

// NewLinkChain starts a chain at the base table.
func NewLinkChain(base *table.Table) *LinkChain {
	return &LinkChain{base: base, current: base}
}

// Current returns the table the chain has reached.
func (lc *LinkChain) Current() *table.Table { return lc.current }

// Base returns the chain's starting table.
func (lc *LinkChain) Base() *table.Table { return lc.base }

// HasMultipleValues reports whether the chain fans out.
func (lc *LinkChain) HasMultipleValues() bool { return lc.multi }

// Steps returns the compiled hops.
func (lc *LinkChain) Steps() []ChainStep { return lc.steps }

// AddStep extends the chain through a link column of the current table.
func (lc *LinkChain) AddStep(col tdb.ColKey) error {
	spec, err := lc.current.Spec(col)
	if err != nil {
		return err
	}
	if !spec.IsLink() {
		return tdb.ErrInvalidQuery.New("property " + spec.Name + " is not a link")
	}
	resolver := lc.current.Resolver()
	if resolver == nil {
		return tdb.ErrInvalidQuery.New("table " + lc.current.Name() + " cannot resolve links")
	}
	target, ok := resolver.TableByKey(spec.Target)
	if !ok {
		return tdb.ErrInvalidQuery.New("link target table of " + spec.Name + " does not exist")
	}
	if spec.Collection != tdb.CollectionNone {
		lc.multi = true
	}
	lc.steps = append(lc.steps, ChainStep{Col: col})
	lc.tables = append(lc.tables, target)
	lc.current = target
	return nil
}

// AddBacklinkStep extends the chain backwards through the origin table's
// link column. Backlinks always fan out.
func (lc *LinkChain) AddBacklinkStep(origin *table.Table, originCol tdb.ColKey) error {
	if _, err := origin.Spec(originCol); err != nil {
		return err
	}
	lc.steps = append(lc.steps, ChainStep{
		Backlink:     true,
		OriginTable:  origin.Key(),
		OriginColumn: originCol,
	})
	lc.tables = append(lc.tables, origin)
	lc.multi = true
	lc.current = origin
	return nil
}

// Objects resolves the chain from obj, returning every reachable row of the
// target table. A broken or null link yields no rows rather than an error.
func (lc *LinkChain) Objects(obj *table.Obj) ([]*table.Obj, error) {
	current := []*table.Obj{obj}
	tbl := lc.base
	for i, step := range lc.steps {
		next := make([]*table.Obj, 0, len(current))
		if step.Backlink {
			origin := lc.tables[i]
			for _, o := range current {
				keys, err := o.Backlinks(step.OriginTable, step.OriginColumn)
				if err != nil {
					return nil, err
				}
				for _, k := range keys {
					if linked, err := origin.GetObject(k); err == nil {
						next = append(next, linked)
					}
				}
			}
			tbl = origin
			current = next
			continue
		}
		spec, err := tbl.Spec(step.Col)
		if err != nil {
			return nil, err
		}
		for _, o := range current {
			var values []tdb.Mixed
			if spec.Collection == tdb.CollectionNone {
				v, err := o.Get(step.Col)
				if err != nil {
					return nil, err
				}
				values = []tdb.Mixed{v}
			} else {
				values, err = o.CollectionValues(step.Col)
				if err != nil {
					return nil, err
				}
			}
			for _, v := range values {
				if v.IsNull() {
					continue
				}
				if linked, ok := o.ResolveLink(step.Col, v); ok {
					next = append(next, linked)
				}
			}
		}
		tbl = lc.tables[i]
		current = next
	}
	return current, nil
}
