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

package expression

import (
	"sort"

	"github.com/terndb/tern/tdb"
	"github.com/terndb/tern/tdb/table"
)

// And matches when every child does.
type And struct {
	Children []Expression
}

// Matches implements Expression.
func (a *And) Matches(obj *table.Obj) (bool, error) {
	for _, c := range a.Children {
		ok, err := c.Matches(obj)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Candidates implements KeyDriven: any key-driven child's candidates are a
// superset of the conjunction's matches, so the narrowest child wins.
func (a *And) Candidates() ([]tdb.ObjKey, bool) {
	var best []tdb.ObjKey
	found := false
	for _, c := range a.Children {
		kd, ok := c.(KeyDriven)
		if !ok {
			continue
		}
		keys, ok := kd.Candidates()
		if !ok {
			continue
		}
		if !found || len(keys) < len(best) {
			best, found = keys, true
		}
	}
	return best, found
}

// Or matches when any child does.
type Or struct {
	Children []Expression
}

// Matches implements Expression.
func (o *Or) Matches(obj *table.Obj) (bool, error) {
	for _, c := range o.Children {
		ok, err := c.Matches(obj)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Candidates implements KeyDriven: a disjunction is key-driven only when
// every child is.
func (o *Or) Candidates() ([]tdb.ObjKey, bool) {
	seen := make(map[tdb.ObjKey]bool)
	var out []tdb.ObjKey
	for _, c := range o.Children {
		kd, ok := c.(KeyDriven)
		if !ok {
			return nil, false
		}
		keys, ok := kd.Candidates()
		if !ok {
			return nil, false
		}
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	sortObjKeys(out)
	return out, true
}

// Not inverts its child.
type Not struct {
	Child Expression
}

// Matches implements Expression.
func (n *Not) Matches(obj *table.Obj) (bool, error) {
	ok, err := n.Child.Matches(obj)
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// TruePredicate matches every row.
type TruePredicate struct{}

// Matches implements Expression.
func (TruePredicate) Matches(*table.Obj) (bool, error) { return true, nil }

// FalsePredicate matches no row.
type FalsePredicate struct{}

// Matches implements Expression.
func (FalsePredicate) Matches(*table.Obj) (bool, error) { return false, nil }

// Candidates implements KeyDriven: a constant false has no candidates at
// all.
func (FalsePredicate) Candidates() ([]tdb.ObjKey, bool) { return nil, true }

func sortObjKeys(keys []tdb.ObjKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
}
