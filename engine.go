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

// Package tern is an embedded, single-file object database engine: typed
// tables of rows with stable 64-bit keys, persisted in an arena of
// immutable refs that encode arrays, cluster trees and search indices.
package tern

import (
	"github.com/sirupsen/logrus"

	"github.com/terndb/tern/internal/similartext"
	"github.com/terndb/tern/tdb"
	"github.com/terndb/tern/tdb/alloc"
	"github.com/terndb/tern/tdb/parse"
	"github.com/terndb/tern/tdb/query"
	"github.com/terndb/tern/tdb/table"
)

// Group is one database: a set of named tables over a shared arena. A
// Group is owned by a single writer; readers work against the snapshot
// published by the last commit.
type Group struct {
	ctx    *tdb.Context
	alloc  *alloc.Alloc
	config Config

	tables       map[tdb.TableKey]*table.Table
	byName       map[string]tdb.TableKey
	nextTableKey uint32
}

// NewGroup creates an empty in-memory database.
func NewGroup(ctx *tdb.Context, opts ...Option) *Group {
	g := &Group{
		ctx:    ctx,
		alloc:  alloc.New(),
		config: DefaultConfig(),
		tables: make(map[tdb.TableKey]*table.Table),
		byName: make(map[string]tdb.TableKey),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.config.applyLogLevel()
	return g
}

// Option configures a Group.
type Option func(*Group)

// WithConfig installs a configuration.
func WithConfig(c Config) Option {
	return func(g *Group) { g.config = c }
}

// Attach opens a database over an existing file image, loading the table
// directory referenced by the current top ref.
func Attach(ctx *tdb.Context, image []byte, opts ...Option) (*Group, error) {
	a, topRef, err := alloc.Attach(image)
	if err != nil {
		return nil, err
	}
	g := &Group{
		ctx:    ctx,
		alloc:  a,
		config: DefaultConfig(),
		tables: make(map[tdb.TableKey]*table.Table),
		byName: make(map[string]tdb.TableKey),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.config.applyLogLevel()
	if err := g.loadDirectory(topRef); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Group) logger() *logrus.Entry {
	if g.ctx != nil {
		return g.ctx.Logger()
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// TableByKey implements table.Resolver.
func (g *Group) TableByKey(key tdb.TableKey) (*table.Table, bool) {
	t, ok := g.tables[key]
	return t, ok
}

// TableByName implements table.Resolver.
func (g *Group) TableByName(name string) (*table.Table, bool) {
	key, ok := g.byName[name]
	if !ok {
		return nil, false
	}
	return g.tables[key], true
}

// Table resolves a table by name, suggesting close names on a miss.
func (g *Group) Table(name string) (*table.Table, error) {
	if t, ok := g.TableByName(name); ok {
		return t, nil
	}
	return nil, tdb.ErrTableNotFound.New(name, similartext.FindFromMap(g.byName, name))
}

// TableNames returns the table names in creation order.
func (g *Group) TableNames() []string {
	out := make([]string, 0, len(g.tables))
	for key := uint32(0); key < g.nextTableKey; key++ {
		if t, ok := g.tables[tdb.TableKey(key)]; ok {
			out = append(out, t.Name())
		}
	}
	return out
}

// AddTable creates a table.
func (g *Group) AddTable(name string) (*table.Table, error) {
	if _, ok := g.byName[name]; ok {
		return nil, tdb.ErrTableNameInUse.New(name)
	}
	key := tdb.TableKey(g.nextTableKey)
	g.nextTableKey++
	t := table.New(g.alloc, key, name, g, g.logger())
	g.tables[key] = t
	g.byName[name] = key
	return t, nil
}

// RemoveTable drops a table and every row in it, clearing cross-table
// links first.
func (g *Group) RemoveTable(name string) error {
	t, err := g.Table(name)
	if err != nil {
		return err
	}
	if err := t.Clear(); err != nil {
		return err
	}
	delete(g.tables, t.Key())
	delete(g.byName, name)
	return nil
}

// Size returns the number of tables.
func (g *Group) Size() int { return len(g.tables) }

// Query compiles a predicate string over the named table.
func (g *Group) Query(tableName, predicate string, args tdb.Arguments, mapping *tdb.KeyPathMapping) (*query.Query, error) {
	t, err := g.Table(tableName)
	if err != nil {
		return nil, err
	}
	return parse.ParseQuery(g.ctx, t, predicate, args, mapping)
}

// Commit persists the table directory, publishes a new top ref and
// recycles the refs freed during the transaction.
func (g *Group) Commit() (alloc.Ref, error) {
	topRef, err := g.writeDirectory()
	if err != nil {
		return alloc.NullRef, err
	}
	if err := g.alloc.SetTopRef(topRef); err != nil {
		return alloc.NullRef, err
	}
	freed := g.alloc.PendingFreeCount()
	g.alloc.EndTransaction()
	g.logger().WithFields(logrus.Fields{
		"top_ref":    uint64(topRef),
		"tables":     len(g.tables),
		"refs_freed": freed,
	}).Debug("commit published")
	return topRef, nil
}

// Rollback reloads the directory from the last committed top ref,
// discarding directory-level changes made since. Full shadow-paging of row
// data is the transaction layer's concern.
func (g *Group) Rollback() error {
	topRef := g.alloc.TopRef()
	g.tables = make(map[tdb.TableKey]*table.Table)
	g.byName = make(map[string]tdb.TableKey)
	g.nextTableKey = 0
	if topRef.IsNull() {
		return nil
	}
	return g.loadDirectory(topRef)
}

// Image returns the raw arena image, suitable for writing to the database
// file after a commit.
func (g *Group) Image() []byte { return g.alloc.Bytes() }

// Verify checks every table's cluster tree and indices.
func (g *Group) Verify() error {
	for _, t := range g.tables {
		if err := t.Verify(); err != nil {
			return err
		}
	}
	return nil
}
