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

package table

import (
	"github.com/sirupsen/logrus"

	"github.com/terndb/tern/tdb"
	"github.com/terndb/tern/tdb/alloc"
	"github.com/terndb/tern/tdb/cluster"
	"github.com/terndb/tern/tdb/index"
)

// State is the persisted shape of a table: what the group writes at commit
// and restores on attach.
type State struct {
	Key        tdb.TableKey
	Name       string
	Cols       []tdb.ColumnSpec
	TreeRoot   alloc.Ref
	TreeSize   int64
	NextObjKey int64
	NextColKey uint32
	PrimaryKey tdb.ColKey
	Version    uint64
	// Indexes maps column keys to index container refs.
	Indexes map[tdb.ColKey]alloc.Ref
}

// State captures the table's persistable fields.
func (t *Table) State() State {
	s := State{
		Key:        t.key,
		Name:       t.name,
		Cols:       append([]tdb.ColumnSpec(nil), t.cols...),
		TreeRoot:   t.tree.Root(),
		TreeSize:   t.tree.Size(),
		NextObjKey: t.nextObjKey,
		NextColKey: t.nextColKey,
		PrimaryKey: t.pkCol,
		Version:    t.version,
		Indexes:    make(map[tdb.ColKey]alloc.Ref, len(t.indexes)),
	}
	for col, idx := range t.indexes {
		s.Indexes[col] = idx.Ref()
	}
	return s
}

// FromState rebuilds a table over an existing arena.
func FromState(a *alloc.Alloc, s State, resolver Resolver, logger *logrus.Entry) *Table {
	t := &Table{
		alloc:      a,
		resolver:   resolver,
		logger:     logger,
		key:        s.Key,
		name:       s.Name,
		cols:       s.Cols,
		indexes:    make(map[tdb.ColKey]index.SearchIndex, len(s.Indexes)),
		nextColKey: s.NextColKey,
		nextObjKey: s.NextObjKey,
		pkCol:      s.PrimaryKey,
		version:    s.Version,
	}
	t.tree = cluster.InitFromRef(a, s.Cols, s.TreeRoot, s.TreeSize)
	for col, ref := range s.Indexes {
		acc := colAccessor{t: t, col: col}
		spec, err := t.Spec(col)
		if err != nil {
			continue
		}
		switch spec.Type {
		case tdb.TypeInt, tdb.TypeBool:
			t.indexes[col] = index.RadixTreeFromRef(a, ref, acc, index.DefaultChunkWidth)
		default:
			t.indexes[col] = index.StringIndexFromRef(a, ref, acc)
		}
	}
	return t
}
