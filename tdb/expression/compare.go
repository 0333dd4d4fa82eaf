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
	"bytes"
	"strings"

	"github.com/terndb/tern/tdb"
	"github.com/terndb/tern/tdb/table"
)

// Expression is a boolean predicate over rows.
type Expression interface {
	Matches(obj *table.Obj) (bool, error)
}

// KeyDriven is implemented by expressions that can enumerate their
// candidate keys through an index, letting the evaluator skip the scan.
type KeyDriven interface {
	Candidates() ([]tdb.ObjKey, bool)
}

// CompareOp enumerates the comparison operators.
type CompareOp int

const (
	// OpEqual is ==.
	OpEqual CompareOp = iota
	// OpNotEqual is !=.
	OpNotEqual
	// OpGreater is >.
	OpGreater
	// OpGreaterEqual is >=.
	OpGreaterEqual
	// OpLess is <.
	OpLess
	// OpLessEqual is <=.
	OpLessEqual
	// OpBeginsWith is BEGINSWITH.
	OpBeginsWith
	// OpEndsWith is ENDSWITH.
	OpEndsWith
	// OpContains is CONTAINS.
	OpContains
	// OpLike is LIKE.
	OpLike
	// OpIn is IN.
	OpIn
	// OpText is TEXT, a tokenized full-text match.
	OpText
)

var compareOpNames = map[CompareOp]string{
	OpEqual:        "==",
	OpNotEqual:     "!=",
	OpGreater:      ">",
	OpGreaterEqual: ">=",
	OpLess:         "<",
	OpLessEqual:    "<=",
	OpBeginsWith:   "BEGINSWITH",
	OpEndsWith:     "ENDSWITH",
	OpContains:     "CONTAINS",
	OpLike:         "LIKE",
	OpIn:           "IN",
	OpText:         "TEXT",
}

func (op CompareOp) String() string { return compareOpNames[op] }

// IsOrdered reports whether the operator needs an ordering on its operands.
func (op CompareOp) IsOrdered() bool {
	switch op {
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
		return true
	}
	return false
}

// IsStringOp reports whether the operator is defined on strings/binaries
// only.
func (op CompareOp) IsStringOp() bool {
	switch op {
	case OpBeginsWith, OpEndsWith, OpContains, OpLike, OpText:
		return true
	}
	return false
}

// Quantifier selects how a multi-valued left operand matches.
type Quantifier int

const (
	// QuantAny matches when any value does. The default.
	QuantAny Quantifier = iota
	// QuantAll matches when every value does.
	QuantAll
	// QuantNone matches when no value does.
	QuantNone
)

// Compare is a two-operand comparison predicate.
type Compare struct {
	Op              CompareOp
	Left            Subexpr
	Right           Subexpr
	CaseInsensitive bool
	Quant           Quantifier
}

// Matches implements Expression.
func (c *Compare) Matches(obj *table.Obj) (bool, error) {
	ls, err := c.Left.Eval(obj)
	if err != nil {
		return false, err
	}
	rs, err := c.Right.Eval(obj)
	if err != nil {
		return false, err
	}
	if len(ls) == 0 {
		// An empty left operand (broken link, empty collection) matches
		// nothing; ALL and NONE hold vacuously.
		return c.Quant == QuantNone || c.Quant == QuantAll, nil
	}
	switch c.Quant {
	case QuantAll:
		for _, l := range ls {
			if !matchesAnyRight(c.Op, l, rs, c.CaseInsensitive) {
				return false, nil
			}
		}
		return true, nil
	case QuantNone:
		for _, l := range ls {
			if matchesAnyRight(c.Op, l, rs, c.CaseInsensitive) {
				return false, nil
			}
		}
		return true, nil
	default:
		for _, l := range ls {
			if matchesAnyRight(c.Op, l, rs, c.CaseInsensitive) {
				return true, nil
			}
		}
		return false, nil
	}
}

func matchesAnyRight(op CompareOp, l tdb.Mixed, rs []tdb.Mixed, fold bool) bool {
	for _, r := range rs {
		if comparePair(op, l, r, fold) {
			return true
		}
	}
	return false
}

// comparePair decides one operand pair. Null ordering never matches; null
// equality matches null.
func comparePair(op CompareOp, l, r tdb.Mixed, fold bool) bool {
	switch op {
	case OpEqual, OpIn:
		if l.IsNull() || r.IsNull() {
			return l.IsNull() && r.IsNull()
		}
		if fold {
			return l.EqualFold(r)
		}
		return l.Equal(r)
	case OpNotEqual:
		return !comparePair(OpEqual, l, r, fold)
	case OpGreater, OpGreaterEqual, OpLess, OpLessEqual:
		if l.IsNull() || r.IsNull() {
			return false
		}
		cmp := l.Compare(r)
		switch op {
		case OpGreater:
			return cmp > 0
		case OpGreaterEqual:
			return cmp >= 0
		case OpLess:
			return cmp < 0
		default:
			return cmp <= 0
		}
	case OpBeginsWith, OpEndsWith, OpContains, OpLike, OpText:
		return stringPair(op, l, r, fold)
	}
	return false
}

func stringPair(op CompareOp, l, r tdb.Mixed, fold bool) bool {
	// Binary payloads support BEGINSWITH, ENDSWITH and CONTAINS, compared
	// bytewise and case-sensitively; LIKE, TEXT and [c] never match them.
	if l.Type() == tdb.TypeBinary && r.Type() == tdb.TypeBinary && !fold {
		lb, rb := l.Binary(), r.Binary()
		switch op {
		case OpBeginsWith:
			return bytes.HasPrefix(lb, rb)
		case OpEndsWith:
			return bytes.HasSuffix(lb, rb)
		case OpContains:
			return bytes.Contains(lb, rb)
		}
		return false
	}
	if l.Type() != tdb.TypeString || r.Type() != tdb.TypeString {
		return false
	}
	ls, rs := l.Str(), r.Str()
	if fold && op != OpLike && op != OpText {
		ls, rs = strings.ToLower(ls), strings.ToLower(rs)
	}
	switch op {
	case OpBeginsWith:
		return strings.HasPrefix(ls, rs)
	case OpEndsWith:
		return strings.HasSuffix(ls, rs)
	case OpContains:
		return strings.Contains(ls, rs)
	case OpLike:
		return likeMatch(ls, rs, fold)
	case OpText:
		return textMatch(ls, rs)
	}
	return false
}

// textMatch is a tokenized containment: every word of the needle appears as
// a word of the haystack, case-folded.
func textMatch(haystack, needle string) bool {
	words := strings.Fields(strings.ToLower(needle))
	have := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(haystack), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r > 127)
	}) {
		have[w] = true
	}
	for _, w := range words {
		if !have[w] {
			return false
		}
	}
	return len(words) > 0
}

// Candidates implements KeyDriven for equality on an indexed plain property
// against a constant.
func (c *Compare) Candidates() ([]tdb.ObjKey, bool) {
	if c.Op != OpEqual || c.Quant != QuantAny {
		return nil, false
	}
	prop, ok := c.Left.(*Property)
	if !ok || len(prop.Chain.Steps()) > 0 || prop.Post != PostOpNone {
		return nil, false
	}
	konst, ok := c.Right.(*Constant)
	if !ok {
		return nil, false
	}
	tbl := prop.Chain.Base()
	if !tbl.HasSearchIndex(prop.Col) {
		return nil, false
	}
	if c.CaseInsensitive {
		if konst.Value.Type() != tdb.TypeString {
			return nil, false
		}
		keys, err := tbl.FindAllFold(prop.Col, konst.Value.Str())
		if err != nil {
			return nil, false
		}
		return keys, true
	}
	spec, err := prop.Spec()
	if err != nil {
		return nil, false
	}
	value, err := konst.Value.CoerceTo(spec.Type)
	if err != nil {
		return nil, false
	}
	keys, err := tbl.FindAllValue(prop.Col, value)
	if err != nil {
		return nil, false
	}
	return keys, true
}

// InConstList is the specialized in(col, begin, end) node: a plain property
// on the base table against a constant list. When the column is indexed the
// candidates come straight from it.
type InConstList struct {
	Prop   *Property
	Values []tdb.Mixed
}

// Matches implements Expression.
func (n *InConstList) Matches(obj *table.Obj) (bool, error) {
	vs, err := n.Prop.Eval(obj)
	if err != nil {
		return false, err
	}
	for _, v := range vs {
		for _, want := range n.Values {
			if comparePair(OpEqual, v, want, false) {
				return true, nil
			}
		}
	}
	return false, nil
}

// Candidates implements KeyDriven.
func (n *InConstList) Candidates() ([]tdb.ObjKey, bool) {
	tbl := n.Prop.Chain.Base()
	if len(n.Prop.Chain.Steps()) > 0 || n.Prop.Post != PostOpNone || !tbl.HasSearchIndex(n.Prop.Col) {
		return nil, false
	}
	spec, err := n.Prop.Spec()
	if err != nil {
		return nil, false
	}
	seen := make(map[tdb.ObjKey]bool)
	var out []tdb.ObjKey
	for _, want := range n.Values {
		value, err := want.CoerceTo(spec.Type)
		if err != nil {
			continue
		}
		keys, err := tbl.FindAllValue(n.Prop.Col, value)
		if err != nil {
			continue
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
