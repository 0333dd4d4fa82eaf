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
	"github.com/terndb/tern/tdb"
	"github.com/terndb/tern/tdb/table"
)

// Subexpr produces operand values for a row. Operands are multi-valued when
// the underlying key path crosses a collection or backlink.
type Subexpr interface {
	// Eval returns the operand's values for the row.
	Eval(obj *table.Obj) ([]tdb.Mixed, error)
	// Type returns the operand's declared type, TypeMixed when dynamic.
	Type() tdb.DataType
	// HasMultipleValues reports whether Eval can yield more than one value.
	HasMultipleValues() bool
}

// Constant is a literal operand.
type Constant struct {
	Value tdb.Mixed
}

// NewConstant builds a constant operand.
func NewConstant(v tdb.Mixed) *Constant { return &Constant{Value: v} }

// Eval implements Subexpr.
func (c *Constant) Eval(*table.Obj) ([]tdb.Mixed, error) { return []tdb.Mixed{c.Value}, nil }

// Type implements Subexpr.
func (c *Constant) Type() tdb.DataType { return c.Value.Type() }

// HasMultipleValues implements Subexpr.
func (c *Constant) HasMultipleValues() bool { return false }

// ConstantList is a literal list operand, the right side of IN.
type ConstantList struct {
	Values []tdb.Mixed
}

// NewConstantList builds a constant list operand.
func NewConstantList(vs []tdb.Mixed) *ConstantList { return &ConstantList{Values: vs} }

// Eval implements Subexpr.
func (c *ConstantList) Eval(*table.Obj) ([]tdb.Mixed, error) { return c.Values, nil }

// Type implements Subexpr.
func (c *ConstantList) Type() tdb.DataType { return tdb.TypeMixed }

// HasMultipleValues implements Subexpr.
func (c *ConstantList) HasMultipleValues() bool { return true }

// PostOp selects a derived value of a property.
type PostOp int

const (
	// PostOpNone reads the property itself.
	PostOpNone PostOp = iota
	// PostOpSize is .@size / .@count: elements of a collection, bytes of a
	// string or binary.
	PostOpSize
	// PostOpType is .@type: the dynamic type name of the cell.
	PostOpType
	// PostOpKeys is @keys on a dictionary.
	PostOpKeys
	// PostOpValues is @values on a dictionary.
	PostOpValues
)

// Property reads a column at the end of a link chain, optionally through a
// post-op, a list index or a dictionary key.
type Property struct {
	Chain *LinkChain
	Col   tdb.ColKey
	Post  PostOp
	// ListIndex picks one element of a list column; -1 reads all.
	ListIndex int
	// DictKey picks one entry of a dictionary column; empty reads all
	// values.
	DictKey string
	HasDictKey bool
}

// NewProperty builds a property operand.
func NewProperty(chain *LinkChain, col tdb.ColKey) *Property {
	return &Property{Chain: chain, Col: col, ListIndex: -1}
}

// Spec returns the property's column spec.
func (p *Property) Spec() (*tdb.ColumnSpec, error) {
	return p.Chain.Current().Spec(p.Col)
}

// Type implements Subexpr.
func (p *Property) Type() tdb.DataType {
	switch p.Post {
	case PostOpSize:
		return tdb.TypeInt
	case PostOpType, PostOpKeys:
		return tdb.TypeString
	}
	spec, err := p.Spec()
	if err != nil {
		return tdb.TypeMixed
	}
	return spec.Type
}

// HasMultipleValues implements Subexpr.
func (p *Property) HasMultipleValues() bool {
	if p.Chain.HasMultipleValues() {
		return true
	}
	spec, err := p.Spec()
	if err != nil {
		return false
	}
	if spec.IsCollection() && p.Post == PostOpNone && p.ListIndex < 0 && !p.HasDictKey {
		return true
	}
	return p.Post == PostOpKeys || p.Post == PostOpValues
}

// Eval implements Subexpr.
func (p *Property) Eval(obj *table.Obj) ([]tdb.Mixed, error) {
	objs, err := p.Chain.Objects(obj)
	if err != nil {
		return nil, err
	}
	spec, err := p.Spec()
	if err != nil {
		return nil, err
	}
	var out []tdb.Mixed
	for _, o := range objs {
		vs, err := p.evalOne(o, spec)
		if err != nil {
			return nil, err
		}
		out = append(out, vs...)
	}
	return out, nil
}

func (p *Property) evalOne(o *table.Obj, spec *tdb.ColumnSpec) ([]tdb.Mixed, error) {
	switch p.Post {
	case PostOpSize:
		if spec.IsCollection() {
			n, err := o.CollectionLen(p.Col)
			if err != nil {
				return nil, err
			}
			return []tdb.Mixed{tdb.NewInt(int64(n))}, nil
		}
		v, err := o.Get(p.Col)
		if err != nil {
			return nil, err
		}
		switch v.Type() {
		case tdb.TypeString:
			return []tdb.Mixed{tdb.NewInt(int64(len(v.Str())))}, nil
		case tdb.TypeBinary:
			return []tdb.Mixed{tdb.NewInt(int64(len(v.Binary())))}, nil
		case tdb.TypeNull:
			return []tdb.Mixed{tdb.Null}, nil
		}
		return nil, tdb.ErrInvalidQuery.New("@size is not defined for " + v.Type().String())
	case PostOpType:
		if spec.IsCollection() {
			return []tdb.Mixed{tdb.NewString(spec.Collection.String())}, nil
		}
		v, err := o.Get(p.Col)
		if err != nil {
			return nil, err
		}
		return []tdb.Mixed{tdb.NewString(v.Type().String())}, nil
	case PostOpKeys:
		d, err := o.DictOf(p.Col)
		if err != nil {
			return nil, err
		}
		keys := d.Keys()
		out := make([]tdb.Mixed, len(keys))
		for i, k := range keys {
			out[i] = tdb.NewString(k)
		}
		return out, nil
	case PostOpValues:
		d, err := o.DictOf(p.Col)
		if err != nil {
			return nil, err
		}
		return d.Values(), nil
	}

	if spec.IsCollection() {
		if p.HasDictKey {
			d, err := o.DictOf(p.Col)
			if err != nil {
				return nil, err
			}
			v, _ := d.Get(p.DictKey)
			return []tdb.Mixed{v}, nil
		}
		values, err := o.CollectionValues(p.Col)
		if err != nil {
			return nil, err
		}
		if p.ListIndex >= 0 {
			if p.ListIndex >= len(values) {
				return nil, nil
			}
			return []tdb.Mixed{values[p.ListIndex]}, nil
		}
		return values, nil
	}
	v, err := o.Get(p.Col)
	if err != nil {
		return nil, err
	}
	return []tdb.Mixed{v}, nil
}

// KeyValue surfaces the row's own object key as an operand. The parser
// does not produce it: the lexer has no $K argument form.
type KeyValue struct{}

// Eval implements Subexpr.
func (KeyValue) Eval(obj *table.Obj) ([]tdb.Mixed, error) {
	return []tdb.Mixed{tdb.NewLink(obj.Key())}, nil
}

// Type implements Subexpr.
func (KeyValue) Type() tdb.DataType { return tdb.TypeLink }

// HasMultipleValues implements Subexpr.
func (KeyValue) HasMultipleValues() bool { return false }

// ArithmeticOp enumerates the arithmetic operators.
type ArithmeticOp int

const (
	// OpAdd is +.
	OpAdd ArithmeticOp = iota
	// OpSub is -.
	OpSub
	// OpMul is *.
	OpMul
	// OpDiv is /.
	OpDiv
)

// Arithmetic combines two numeric operands on the {int, float, double,
// decimal} semilattice.
type Arithmetic struct {
	Op    ArithmeticOp
	Left  Subexpr
	Right Subexpr
}

// Eval implements Subexpr. Multi-valued operands combine pairwise on the
// cartesian product.
func (a *Arithmetic) Eval(obj *table.Obj) ([]tdb.Mixed, error) {
	ls, err := a.Left.Eval(obj)
	if err != nil {
		return nil, err
	}
	rs, err := a.Right.Eval(obj)
	if err != nil {
		return nil, err
	}
	var out []tdb.Mixed
	for _, l := range ls {
		for _, r := range rs {
			out = append(out, Fold(a.Op, l, r))
		}
	}
	return out, nil
}

// Type implements Subexpr.
func (a *Arithmetic) Type() tdb.DataType {
	lt, rt := a.Left.Type(), a.Right.Type()
	switch {
	case lt == tdb.TypeDecimal || rt == tdb.TypeDecimal:
		return tdb.TypeDecimal
	case lt == tdb.TypeDouble || rt == tdb.TypeDouble:
		return tdb.TypeDouble
	case lt == tdb.TypeFloat || rt == tdb.TypeFloat:
		return tdb.TypeFloat
	}
	return tdb.TypeInt
}

// HasMultipleValues implements Subexpr.
func (a *Arithmetic) HasMultipleValues() bool {
	return a.Left.HasMultipleValues() || a.Right.HasMultipleValues()
}

// Fold evaluates one arithmetic combination with numeric promotion. Null
// operands and division by zero yield null.
func Fold(op ArithmeticOp, l, r tdb.Mixed) tdb.Mixed {
	if l.IsNull() || r.IsNull() {
		return tdb.Null
	}
	if !l.Type().IsNumeric() || !r.Type().IsNumeric() {
		return tdb.Null
	}
	if l.Type() == tdb.TypeDecimal || r.Type() == tdb.TypeDecimal {
		a, _ := l.CoerceTo(tdb.TypeDecimal)
		b, _ := r.CoerceTo(tdb.TypeDecimal)
		switch op {
		case OpAdd:
			return tdb.NewDecimal(a.Decimal().Add(b.Decimal()))
		case OpSub:
			return tdb.NewDecimal(a.Decimal().Sub(b.Decimal()))
		case OpMul:
			return tdb.NewDecimal(a.Decimal().Mul(b.Decimal()))
		default:
			if b.Decimal().IsZero() {
				return tdb.Null
			}
			return tdb.NewDecimal(a.Decimal().DivRound(b.Decimal(), 34))
		}
	}
	if l.Type() == tdb.TypeDouble || r.Type() == tdb.TypeDouble ||
		l.Type() == tdb.TypeFloat || r.Type() == tdb.TypeFloat {
		a, _ := l.CoerceTo(tdb.TypeDouble)
		b, _ := r.CoerceTo(tdb.TypeDouble)
		switch op {
		case OpAdd:
			return tdb.NewDouble(a.Double() + b.Double())
		case OpSub:
			return tdb.NewDouble(a.Double() - b.Double())
		case OpMul:
			return tdb.NewDouble(a.Double() * b.Double())
		default:
			if b.Double() == 0 {
				return tdb.Null
			}
			return tdb.NewDouble(a.Double() / b.Double())
		}
	}
	a, _ := l.CoerceTo(tdb.TypeInt)
	b, _ := r.CoerceTo(tdb.TypeInt)
	switch op {
	case OpAdd:
		return tdb.NewInt(a.Int() + b.Int())
	case OpSub:
		return tdb.NewInt(a.Int() - b.Int())
	case OpMul:
		return tdb.NewInt(a.Int() * b.Int())
	default:
		if b.Int() == 0 {
			return tdb.Null
		}
		return tdb.NewInt(a.Int() / b.Int())
	}
}

// AggregateKind enumerates the collection aggregates.
type AggregateKind int

const (
	// AggMin is .@min.
	AggMin AggregateKind = iota
	// AggMax is .@max.
	AggMax
	// AggSum is .@sum.
	AggSum
	// AggAvg is .@avg.
	AggAvg
	// AggCount is .@count.
	AggCount
)

// Aggregate folds a multi-valued operand into one value. Nulls are skipped;
// an empty input yields null for min, max and avg, and zero for sum and
// count.
type Aggregate struct {
	Kind   AggregateKind
	Target Subexpr
}

// Eval implements Subexpr.
func (a *Aggregate) Eval(obj *table.Obj) ([]tdb.Mixed, error) {
	values, err := a.Target.Eval(obj)
	if err != nil {
		return nil, err
	}
	return []tdb.Mixed{FoldAggregate(a.Kind, values)}, nil
}

// Type implements Subexpr.
func (a *Aggregate) Type() tdb.DataType {
	switch a.Kind {
	case AggCount:
		return tdb.TypeInt
	case AggAvg:
		return tdb.TypeDouble
	}
	return a.Target.Type()
}

// HasMultipleValues implements Subexpr.
func (a *Aggregate) HasMultipleValues() bool { return false }

// FoldAggregate reduces values under the aggregate's rules.
func FoldAggregate(kind AggregateKind, values []tdb.Mixed) tdb.Mixed {
	if kind == AggCount {
		n := 0
		for _, v := range values {
			if !v.IsNull() {
				n++
			}
		}
		return tdb.NewInt(int64(n))
	}
	var acc tdb.Mixed
	n := 0
	for _, v := range values {
		if v.IsNull() {
			continue
		}
		if n == 0 {
			acc = v
			n = 1
			continue
		}
		n++
		switch kind {
		case AggMin:
			if v.Compare(acc) < 0 {
				acc = v
			}
		case AggMax:
			if v.Compare(acc) > 0 {
				acc = v
			}
		case AggSum, AggAvg:
			acc = Fold(OpAdd, acc, v)
		}
	}
	if n == 0 {
		if kind == AggSum {
			return tdb.NewInt(0)
		}
		return tdb.Null
	}
	if kind == AggAvg {
		return Fold(OpDiv, acc, tdb.NewDouble(float64(n)))
	}
	return acc
}
