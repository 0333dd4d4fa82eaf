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

// Package table binds a cluster tree, its schema, its search indices and
// the link graph into the Table and Obj handles the rest of the engine
// works with.
package table

import (
	"hash/fnv"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/terndb/tern/internal/similartext"
	"github.com/terndb/tern/tdb"
	"github.com/terndb/tern/tdb/alloc"
	"github.com/terndb/tern/tdb/cluster"
	"github.com/terndb/tern/tdb/index"
)

// Resolver looks up sibling tables; link columns use it to reach their
// target for backlink maintenance, and the query driver uses it to resolve
// table names in backlink key paths.
type Resolver interface {
	TableByKey(key tdb.TableKey) (*Table, bool)
	TableByName(name string) (*Table, bool)
}

// Table is a handle on one typed table of rows.
type Table struct {
	alloc    *alloc.Alloc
	resolver Resolver
	logger   *logrus.Entry

	key  tdb.TableKey
	name string

	tree    *cluster.Tree
	cols    []tdb.ColumnSpec
	indexes map[tdb.ColKey]index.SearchIndex

	nextColKey uint32
	nextObjKey int64
	pkCol      tdb.ColKey

	// version is the content version: bumped on every successful mutation,
	// observed by table views to detect staleness.
	version uint64
}

// New creates an empty table.
func New(a *alloc.Alloc, key tdb.TableKey, name string, resolver Resolver, logger *logrus.Entry) *Table {
	t := &Table{
		alloc:    a,
		resolver: resolver,
		logger:   logger,
		key:      key,
		name:     name,
		indexes:  make(map[tdb.ColKey]index.SearchIndex),
		pkCol:    tdb.InvalidColKey,
	}
	t.tree = cluster.NewTree(a, nil)
	return t
}

// Key returns the table's key.
func (t *Table) Key() tdb.TableKey { return t.key }

// Name returns the table's name.
func (t *Table) Name() string { return t.name }

// Size returns the number of live rows.
func (t *Table) Size() int64 { return t.tree.Size() }

// ContentVersion returns the mutation counter.
func (t *Table) ContentVersion() uint64 { return t.version }

func (t *Table) bump() { t.version++ }

// Tree exposes the underlying cluster tree root for persistence.
func (t *Table) Tree() *cluster.Tree { return t.tree }

// Columns returns the visible (non-backlink) column specs.
func (t *Table) Columns() []tdb.ColumnSpec {
	out := make([]tdb.ColumnSpec, 0, len(t.cols))
	for _, c := range t.cols {
		if !c.Backlink {
			out = append(out, c)
		}
	}
	return out
}

// Spec returns the column spec for key.
func (t *Table) Spec(col tdb.ColKey) (*tdb.ColumnSpec, error) {
	for i := range t.cols {
		if t.cols[i].Key == col {
			return &t.cols[i], nil
		}
	}
	return nil, tdb.ErrColumnIndexOutOfRange.New(col, t.name)
}

func (t *Table) slotOf(col tdb.ColKey) (int, error) {
	for i := range t.cols {
		if t.cols[i].Key == col {
			return i, nil
		}
	}
	return 0, tdb.ErrColumnIndexOutOfRange.New(col, t.name)
}

// ColumnForName resolves a column by name. Unknown names come back with a
// "maybe you mean" suggestion.
func (t *Table) ColumnForName(name string) (tdb.ColKey, error) {
	names := make([]string, 0, len(t.cols))
	for i := range t.cols {
		if t.cols[i].Name == name {
			return t.cols[i].Key, nil
		}
		if !t.cols[i].Backlink {
			names = append(names, t.cols[i].Name)
		}
	}
	return tdb.InvalidColKey, tdb.ErrColumnNotFound.New(name, t.name, similartext.Find(names, name))
}

func (t *Table) addColumnSpec(spec tdb.ColumnSpec) (tdb.ColKey, error) {
	if len(spec.Name) > tdb.MaxColumnNameLength {
		return tdb.InvalidColKey, tdb.ErrColumnNameTooLong.New(spec.Name)
	}
	for i := range t.cols {
		if t.cols[i].Name == spec.Name {
			return tdb.InvalidColKey, tdb.ErrIllegalCombination.New("column name " + spec.Name + " is already in use")
		}
	}
	spec.Key = tdb.ColKey(t.nextColKey)
	t.nextColKey++
	t.tree.AddColumn(spec)
	t.cols = append(t.cols, spec)
	t.bump()
	return spec.Key, nil
}

// AddColumn adds a scalar column.
func (t *Table) AddColumn(typ tdb.DataType, name string, nullable bool) (tdb.ColKey, error) {
	if typ == tdb.TypeLink || typ == tdb.TypeTypedLink {
		return tdb.InvalidColKey, tdb.ErrIllegalCombination.New("link columns require a target table")
	}
	return t.addColumnSpec(tdb.ColumnSpec{Name: name, Type: typ, Nullable: nullable})
}

// AddColumnLink adds a link column targeting another table, creating the
// hidden backlink column on the target.
func (t *Table) AddColumnLink(typ tdb.DataType, name string, target *Table) (tdb.ColKey, error) {
	if typ != tdb.TypeLink && typ != tdb.TypeTypedLink {
		return tdb.InvalidColKey, tdb.ErrIllegalCombination.New("not a link type: " + typ.String())
	}
	col, err := t.addColumnSpec(tdb.ColumnSpec{Name: name, Type: typ, Nullable: true, Target: target.key})
	if err != nil {
		return tdb.InvalidColKey, err
	}
	target.addBacklinkColumn(t, col)
	return col, nil
}

// AddColumnCollection adds a list, set or dictionary column. Link element
// types get backlinks on the target.
func (t *Table) AddColumnCollection(kind tdb.CollectionKind, elem tdb.DataType, name string, nullable bool, target *Table) (tdb.ColKey, error) {
	spec := tdb.ColumnSpec{Name: name, Type: elem, Nullable: nullable, Collection: kind}
	if elem == tdb.TypeLink || elem == tdb.TypeTypedLink {
		if target == nil {
			return tdb.InvalidColKey, tdb.ErrIllegalCombination.New("link collections require a target table")
		}
		spec.Target = target.key
	}
	col, err := t.addColumnSpec(spec)
	if err != nil {
		return tdb.InvalidColKey, err
	}
	if spec.Target.IsValid() && target != nil {
		target.addBacklinkColumn(t, col)
	}
	return col, nil
}

// addBacklinkColumn installs the hidden inverse of origin's link column.
func (t *Table) addBacklinkColumn(origin *Table, originCol tdb.ColKey) {
	// Each link column from an origin gets its own backlink column; the
	// name is unique per origin column.
	spec, _ := origin.Spec(originCol)
	name := "@backlink(" + origin.name + "." + spec.Name + ")"
	_, err := t.addColumnSpec(tdb.ColumnSpec{
		Name:         name,
		Type:         tdb.TypeLink,
		Nullable:     true,
		Collection:   tdb.CollectionList,
		Target:       origin.key,
		Backlink:     true,
		OriginTable:  origin.key,
		OriginColumn: originCol,
	})
	if err != nil && t.logger != nil {
		t.logger.WithError(err).WithFields(logrus.Fields{
			"table":  t.name,
			"origin": origin.name,
		}).Warn("backlink column could not be added")
	}
}

// backlinkSlot finds the physical slot of the backlink column mirroring
// (originTable, originCol).
func (t *Table) backlinkSlot(originTable tdb.TableKey, originCol tdb.ColKey) (int, bool) {
	for i := range t.cols {
		c := &t.cols[i]
		if c.Backlink && c.OriginTable == originTable && c.OriginColumn == originCol {
			return i, true
		}
	}
	return 0, false
}

// RemoveColumn drops a column. Link columns tear down their backlink
// column; indexed columns lose their index.
func (t *Table) RemoveColumn(col tdb.ColKey) error {
	slot, err := t.slotOf(col)
	if err != nil {
		return err
	}
	spec := t.cols[slot]
	if idx, ok := t.indexes[col]; ok {
		idx.Destroy()
		delete(t.indexes, col)
	}
	if spec.Target.IsValid() && !spec.Backlink && t.resolver != nil {
		if target, ok := t.resolver.TableByKey(spec.Target); ok {
			if bslot, ok := target.backlinkSlot(t.key, col); ok {
				target.tree.RemoveColumn(bslot)
				target.cols = append(target.cols[:bslot], target.cols[bslot+1:]...)
			}
		}
	}
	t.tree.RemoveColumn(slot)
	t.cols = append(t.cols[:slot], t.cols[slot+1:]...)
	t.bump()
	return nil
}

// SetPrimaryKeyColumn declares the column whose value derives object keys.
func (t *Table) SetPrimaryKeyColumn(col tdb.ColKey) error {
	spec, err := t.Spec(col)
	if err != nil {
		return err
	}
	switch spec.Type {
	case tdb.TypeInt, tdb.TypeString, tdb.TypeObjectID, tdb.TypeUUID:
	default:
		return tdb.ErrIllegalCombination.New("type " + spec.Type.String() + " cannot be a primary key")
	}
	t.pkCol = col
	return nil
}

// PrimaryKeyColumn returns the declared primary key column, if any.
func (t *Table) PrimaryKeyColumn() tdb.ColKey { return t.pkCol }

// CreateObject adds a row under a fresh counter-assigned key.
func (t *Table) CreateObject() (*Obj, error) {
	for t.tree.HasKey(tdb.ObjKey(t.nextObjKey)) {
		t.nextObjKey++
	}
	key := tdb.ObjKey(t.nextObjKey)
	t.nextObjKey++
	return t.CreateObjectWithKey(key)
}

// CreateObjectWithKey adds a row under the given key. An existing key fails
// with InvalidKey.
func (t *Table) CreateObjectWithKey(key tdb.ObjKey) (*Obj, error) {
	if err := t.tree.InsertRow(key); err != nil {
		return nil, err
	}
	if int64(key) >= t.nextObjKey {
		t.nextObjKey = int64(key) + 1
	}
	// Freshly created rows are all null; indexed columns learn the nulls.
	for _, idx := range t.indexes {
		idx.Insert(key, nil, true)
	}
	t.bump()
	return &Obj{table: t, key: key}, nil
}

// CreateObjectWithPrimaryKey derives the object key from the primary key
// value and returns the existing object when the value is already present.
func (t *Table) CreateObjectWithPrimaryKey(pk tdb.Mixed) (*Obj, bool, error) {
	if !t.pkCol.IsValid() {
		return nil, false, tdb.ErrIllegalCombination.New("table " + t.name + " has no primary key column")
	}
	spec, err := t.Spec(t.pkCol)
	if err != nil {
		return nil, false, err
	}
	value, err := pk.CoerceTo(spec.Type)
	if err != nil {
		return nil, false, err
	}
	key := t.objKeyForPrimaryKey(value)
	for {
		if !t.tree.HasKey(key) {
			obj, err := t.CreateObjectWithKey(key)
			if err != nil {
				return nil, false, err
			}
			if err := obj.Set(t.pkCol, value); err != nil {
				return nil, false, err
			}
			return obj, true, nil
		}
		existing := &Obj{table: t, key: key}
		got, err := existing.Get(t.pkCol)
		if err != nil {
			return nil, false, err
		}
		if got.Equal(value) {
			return existing, false, nil
		}
		// Hash collision with a different value: probe the next key.
		key = (key + 1) & (1<<62 - 1)
	}
}

func (t *Table) objKeyForPrimaryKey(value tdb.Mixed) tdb.ObjKey {
	h := fnv.New64a()
	switch value.Type() {
	case tdb.TypeInt:
		return tdb.ObjKey(value.Int() & (1<<62 - 1))
	case tdb.TypeString:
		h.Write([]byte(value.Str()))
	case tdb.TypeObjectID:
		id := value.ObjectID()
		h.Write(id[:])
	case tdb.TypeUUID:
		u := value.UUID()
		h.Write(u[:])
	}
	return tdb.ObjKey(int64(h.Sum64() & (1<<62 - 1)))
}

// GetObject returns a handle on the row at key, failing with InvalidKey for
// absent or removed rows.
func (t *Table) GetObject(key tdb.ObjKey) (*Obj, error) {
	if !t.tree.HasKey(key) {
		return nil, tdb.ErrInvalidKey.New(key)
	}
	return &Obj{table: t, key: key}, nil
}

// RemoveObject deletes the row at key: incoming links are cleared through
// the backlinks, outgoing links are unregistered, index entries erased.
func (t *Table) RemoveObject(key tdb.ObjKey) error {
	obj, err := t.GetObject(key)
	if err != nil {
		return err
	}
	if err := obj.clearIncomingLinks(); err != nil {
		return err
	}
	if err := obj.unregisterOutgoingLinks(); err != nil {
		return err
	}
	for col, idx := range t.indexes {
		slot, err := t.slotOf(col)
		if err != nil {
			continue
		}
		data, ok := t.indexData(key, slot)
		idx.Erase(key, data, !ok)
	}
	if err := t.tree.RemoveRow(key); err != nil {
		return err
	}
	t.bump()
	return nil
}

// Clear removes every row. Incoming cross-table links are cleared row by
// row first.
func (t *Table) Clear() error {
	keys := t.Keys()
	for _, k := range keys {
		if err := t.RemoveObject(k); err != nil {
			return err
		}
	}
	t.bump()
	return nil
}

// Keys returns every live key in ascending order.
func (t *Table) Keys() []tdb.ObjKey {
	out := make([]tdb.ObjKey, 0, t.tree.Size())
	t.tree.Traverse(func(key tdb.ObjKey) bool {
		out = append(out, key)
		return true
	})
	return out
}

// ForEach visits every row in key order until fn returns false.
func (t *Table) ForEach(fn func(obj *Obj) bool) {
	t.tree.Traverse(func(key tdb.ObjKey) bool {
		return fn(&Obj{table: t, key: key})
	})
}

// FindGE returns the first live key >= key; used by the query evaluator's
// leaf iteration.
func (t *Table) FindGE(key tdb.ObjKey) (tdb.ObjKey, bool) { return t.tree.FindGE(key) }

// FindFirstValue scans (or uses the index) for the first row holding value
// in the column.
func (t *Table) FindFirstValue(col tdb.ColKey, value tdb.Mixed) (tdb.ObjKey, bool, error) {
	slot, err := t.slotOf(col)
	if err != nil {
		return 0, false, err
	}
	if idx, ok := t.indexes[col]; ok {
		data, notNull := encodeIndexValue(t.cols[slot].Type, value)
		key, found := idx.FindFirst(data, !notNull)
		return key, found, nil
	}
	found := tdb.InvalidObjKey
	t.tree.Traverse(func(key tdb.ObjKey) bool {
		v, err := t.tree.GetValue(key, slot)
		if err == nil && (v.Equal(value) || (v.IsNull() && value.IsNull())) {
			found = key
			return false
		}
		return true
	})
	if found.IsValid() {
		return found, true, nil
	}
	return 0, false, nil
}

// FindAllValue returns every row holding value in the column, in key order.
func (t *Table) FindAllValue(col tdb.ColKey, value tdb.Mixed) ([]tdb.ObjKey, error) {
	slot, err := t.slotOf(col)
	if err != nil {
		return nil, err
	}
	if idx, ok := t.indexes[col]; ok {
		data, notNull := encodeIndexValue(t.cols[slot].Type, value)
		return idx.FindAll(data, !notNull), nil
	}
	var out []tdb.ObjKey
	t.tree.Traverse(func(key tdb.ObjKey) bool {
		v, err := t.tree.GetValue(key, slot)
		if err == nil && (v.Equal(value) || (v.IsNull() && value.IsNull())) {
			out = append(out, key)
		}
		return true
	})
	return out, nil
}

// Distinct returns, in key order, the first row of every distinct value in
// the column.
func (t *Table) Distinct(col tdb.ColKey) ([]tdb.ObjKey, error) {
	slot, err := t.slotOf(col)
	if err != nil {
		return nil, err
	}
	if idx, ok := t.indexes[col]; ok {
		keys := idx.Distinct()
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		return keys, nil
	}
	seen := make(map[string]bool)
	var out []tdb.ObjKey
	t.tree.Traverse(func(key tdb.ObjKey) bool {
		v, err := t.tree.GetValue(key, slot)
		if err != nil {
			return true
		}
		repr := v.String()
		if !seen[repr] {
			seen[repr] = true
			out = append(out, key)
		}
		return true
	})
	return out, nil
}

// Verify checks the cluster tree and every index.
func (t *Table) Verify() error {
	if err := t.tree.Verify(); err != nil {
		return err
	}
	for col, idx := range t.indexes {
		if err := idx.Verify(); err != nil {
			if t.logger != nil {
				t.logger.WithError(err).WithField("column", col).Error("index verification failed")
			}
			return err
		}
	}
	return nil
}
