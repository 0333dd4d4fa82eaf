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

package parse

import (
	"encoding/base64"
	"strconv"

	"github.com/terndb/tern/tdb"
	"github.com/terndb/tern/tdb/expression"
	"github.com/terndb/tern/tdb/query"
	"github.com/terndb/tern/tdb/table"
)

// ParserDriver lowers a parsed AST onto a schema: it holds the base table,
// the key-path alias mapping and the bound arguments, and produces a
// compiled query whose expression nodes it owns.
type ParserDriver struct {
	ctx     *tdb.Context
	base    *table.Table
	args    tdb.Arguments
	mapping *tdb.KeyPathMapping
	// subVar names the live subquery variable while its inner predicate
	// lowers; paths starting with it resolve against subBase.
	subVar  string
	subBase *table.Table
}

// NewParserDriver builds a driver. args and mapping may be nil.
func NewParserDriver(ctx *tdb.Context, base *table.Table, args tdb.Arguments, mapping *tdb.KeyPathMapping) *ParserDriver {
	if args == nil {
		args = tdb.NewMixedArguments()
	}
	if mapping == nil {
		mapping = tdb.NewKeyPathMapping()
	}
	return &ParserDriver{ctx: ctx, base: base, args: args, mapping: mapping}
}

// ParseQuery compiles a predicate string into a query over base.
func ParseQuery(ctx *tdb.Context, base *table.Table, input string, args tdb.Arguments, mapping *tdb.KeyPathMapping) (*query.Query, error) {
	var span interface{ Finish() }
	if ctx != nil {
		span = ctx.Span("query.parse")
		defer span.Finish()
	}
	root, descriptors, err := Parse(input)
	if err != nil {
		return nil, err
	}
	drv := NewParserDriver(ctx, base, args, mapping)
	expr, err := drv.VisitQuery(root)
	if err != nil {
		return nil, err
	}
	q := query.New(ctx, base, expr)
	for _, d := range descriptors {
		if err := drv.applyDescriptor(q, d); err != nil {
			return nil, err
		}
	}
	if ctx != nil {
		ctx.Logger().WithField("query", input).Debug("compiled predicate")
	}
	return q, nil
}

// VisitQuery lowers a predicate node.
func (d *ParserDriver) VisitQuery(node QueryNode) (expression.Expression, error) {
	switch n := node.(type) {
	case *TrueNode:
		return expression.TruePredicate{}, nil
	case *FalseNode:
		return expression.FalsePredicate{}, nil
	case *NotNode:
		child, err := d.VisitQuery(n.Child)
		if err != nil {
			return nil, err
		}
		return &expression.Not{Child: child}, nil
	case *AndNode:
		children := make([]expression.Expression, len(n.Children))
		for i, c := range n.Children {
			child, err := d.VisitQuery(c)
			if err != nil {
				return nil, err
			}
			children[i] = child
		}
		return &expression.And{Children: children}, nil
	case *OrNode:
		children := make([]expression.Expression, len(n.Children))
		for i, c := range n.Children {
			child, err := d.VisitQuery(c)
			if err != nil {
				return nil, err
			}
			children[i] = child
		}
		return &expression.Or{Children: children}, nil
	case *CompareNode:
		return d.visitCompare(n)
	}
	return nil, tdb.ErrInvalidQuery.New("unsupported predicate node")
}

var opByName = map[string]expression.CompareOp{
	"==": expression.OpEqual, "!=": expression.OpNotEqual,
	">": expression.OpGreater, ">=": expression.OpGreaterEqual,
	"<": expression.OpLess, "<=": expression.OpLessEqual,
	"BEGINSWITH": expression.OpBeginsWith, "ENDSWITH": expression.OpEndsWith,
	"CONTAINS": expression.OpContains, "LIKE": expression.OpLike,
	"IN": expression.OpIn, "TEXT": expression.OpText,
}

func (d *ParserDriver) visitCompare(n *CompareNode) (expression.Expression, error) {
	op, ok := opByName[n.Op]
	if !ok {
		return nil, tdb.ErrInvalidQuery.New("unknown operator " + n.Op)
	}

	// IN and == against a constant list on a plain base-table property take
	// the specialized in() node, which can drive the column index.
	if values, isList, err := d.constantListOf(n.Right); err != nil {
		return nil, err
	} else if isList && (op == expression.OpIn || op == expression.OpEqual) {
		if prop, ok := d.plainProperty(n.Left); ok {
			if err := d.coerceListToProperty(prop, values); err != nil {
				return nil, err
			}
			return &expression.InConstList{Prop: prop, Values: values}, nil
		}
		left, err := d.visitValue(n.Left, tdb.TypeMixed)
		if err != nil {
			return nil, err
		}
		return &expression.Compare{
			Op: expression.OpIn, Left: left,
			Right: expression.NewConstantList(values),
		}, nil
	}

	// Resolve the non-constant side first, so the constant side can be
	// coerced to its declared type.
	leftConst, rightConst := isConstantNode(n.Left), isConstantNode(n.Right)
	var left, right expression.Subexpr
	var err error
	switch {
	case leftConst && rightConst:
		left, err = d.visitValue(n.Left, tdb.TypeMixed)
		if err != nil {
			return nil, err
		}
		right, err = d.visitValue(n.Right, left.Type())
		if err != nil {
			return nil, err
		}
		// Both sides constant: fold the comparison now.
		return d.foldConstantCompare(op, left, right, n.CaseInsensitive)
	case rightConst:
		left, err = d.visitValue(n.Left, tdb.TypeMixed)
		if err != nil {
			return nil, err
		}
		right, err = d.visitValue(n.Right, left.Type())
		if err != nil {
			return nil, err
		}
	default:
		right, err = d.visitValue(n.Right, tdb.TypeMixed)
		if err != nil {
			return nil, err
		}
		left, err = d.visitValue(n.Left, right.Type())
		if err != nil {
			return nil, err
		}
	}

	if err := checkOperandTypes(op, left, right, n.CaseInsensitive); err != nil {
		return nil, err
	}

	quant := expression.QuantAny
	switch n.Quantifier {
	case "ALL":
		quant = expression.QuantAll
	case "NONE":
		quant = expression.QuantNone
	case "ANY":
		quant = expression.QuantAny
	}
	if n.Quantifier != "" && !left.HasMultipleValues() {
		return nil, tdb.ErrInvalidQuery.New(n.Quantifier + " requires a key path crossing a collection")
	}
	return &expression.Compare{
		Op: op, Left: left, Right: right,
		CaseInsensitive: n.CaseInsensitive, Quant: quant,
	}, nil
}

// checkOperandTypes enforces the comparability rules at compile time.
func checkOperandTypes(op expression.CompareOp, left, right expression.Subexpr, fold bool) error {
	lt, rt := left.Type(), right.Type()
	if op.IsOrdered() {
		if !lt.Ordered() || !rt.Ordered() {
			return tdb.ErrInvalidQuery.New("ordered comparison is not defined for " + lt.String() + " and " + rt.String())
		}
	}
	if op.IsStringOp() {
		if rt != tdb.TypeString && rt != tdb.TypeBinary && rt != tdb.TypeMixed {
			return tdb.ErrInvalidQuery.New(op.String() + " requires a string or binary operand")
		}
	}
	if fold {
		stringish := func(t tdb.DataType) bool {
			return t == tdb.TypeString || t == tdb.TypeBinary || t == tdb.TypeMixed
		}
		if !stringish(lt) || !stringish(rt) {
			return tdb.ErrInvalidQuery.New("the case-insensitive modifier requires string or binary operands")
		}
	}
	if !lt.Comparable(rt) {
		return tdb.ErrInvalidQuery.New("cannot compare " + lt.String() + " with " + rt.String())
	}
	return nil
}

func (d *ParserDriver) foldConstantCompare(op expression.CompareOp, left, right expression.Subexpr, fold bool) (expression.Expression, error) {
	if err := checkOperandTypes(op, left, right, fold); err != nil {
		return nil, err
	}
	cmp := &expression.Compare{Op: op, Left: left, Right: right, CaseInsensitive: fold}
	matched, err := cmp.Matches(nil)
	if err != nil {
		return nil, err
	}
	if matched {
		return expression.TruePredicate{}, nil
	}
	return expression.FalsePredicate{}, nil
}

func isConstantNode(v ValueNode) bool {
	switch v.(type) {
	case *ConstantNode, *ListNode:
		return true
	}
	return false
}

// constantListOf extracts a constant list from a braced list or a list
// argument (disclosed via IsArgumentList, never via TypeForArgument).
func (d *ParserDriver) constantListOf(v ValueNode) ([]tdb.Mixed, bool, error) {
	switch n := v.(type) {
	case *ListNode:
		values := make([]tdb.Mixed, 0, len(n.Elems))
		for _, e := range n.Elems {
			c, ok := e.(*ConstantNode)
			if !ok {
				return nil, false, tdb.ErrInvalidQuery.New("lists may only hold constants")
			}
			mv, err := d.constantValue(c, tdb.TypeMixed)
			if err != nil {
				return nil, false, err
			}
			values = append(values, mv)
		}
		return values, true, nil
	case *ConstantNode:
		if n.Kind != ConstArg {
			return nil, false, nil
		}
		isList, err := d.args.IsArgumentList(n.Arg)
		if err != nil {
			return nil, false, err
		}
		if !isList {
			return nil, false, nil
		}
		values, err := d.args.ListForArgument(n.Arg)
		if err != nil {
			return nil, false, err
		}
		return values, true, nil
	}
	return nil, false, nil
}

// plainProperty recognizes a post-op-free property on the base table.
func (d *ParserDriver) plainProperty(v ValueNode) (*expression.Property, bool) {
	path, ok := v.(*PathNode)
	if !ok || path.PostOp != "" || path.Aggr != "" || len(path.Elems) != 1 {
		return nil, false
	}
	elem := path.Elems[0]
	if elem.Kind != PathProperty {
		return nil, false
	}
	sub, err := d.visitPath(path, tdb.TypeMixed)
	if err != nil {
		return nil, false
	}
	prop, ok := sub.(*expression.Property)
	if !ok || len(prop.Chain.Steps()) > 0 {
		return nil, false
	}
	return prop, true
}

func (d *ParserDriver) coerceListToProperty(prop *expression.Property, values []tdb.Mixed) error {
	spec, err := prop.Spec()
	if err != nil {
		return err
	}
	for i, v := range values {
		if v.IsNull() {
			continue
		}
		coerced, err := v.CoerceTo(spec.Type)
		if err != nil {
			// A list element that cannot fit the column's type can never
			// match; keep it as is so evaluation just skips it.
			continue
		}
		values[i] = coerced
	}
	return nil
}

// visitValue lowers a value node, coercing constants toward hint.
func (d *ParserDriver) visitValue(v ValueNode, hint tdb.DataType) (expression.Subexpr, error) {
	switch n := v.(type) {
	case *ConstantNode:
		mv, err := d.constantValue(n, hint)
		if err != nil {
			return nil, err
		}
		return expression.NewConstant(mv), nil
	case *ListNode:
		values, _, err := d.constantListOf(n)
		if err != nil {
			return nil, err
		}
		return expression.NewConstantList(values), nil
	case *PathNode:
		return d.visitPath(n, hint)
	case *SubqueryNode:
		return d.visitSubquery(n)
	}
	return nil, tdb.ErrInvalidQuery.New("unsupported value node")
}

// constantValue materializes a literal or argument, applying the numeric
// truncation guards when a hint narrows the type.
func (d *ParserDriver) constantValue(n *ConstantNode, hint tdb.DataType) (tdb.Mixed, error) {
	var mv tdb.Mixed
	switch n.Kind {
	case ConstNull:
		return tdb.Null, nil
	case ConstTrue:
		mv = tdb.NewBool(true)
	case ConstFalse:
		mv = tdb.NewBool(false)
	case ConstInt:
		i, err := strconv.ParseInt(n.Text, 10, 64)
		if err != nil {
			return tdb.Null, tdb.ErrSyntax.New("bad integer literal " + n.Text)
		}
		mv = tdb.NewInt(i)
	case ConstFloat:
		f, err := strconv.ParseFloat(n.Text, 64)
		if err != nil {
			return tdb.Null, tdb.ErrSyntax.New("bad float literal " + n.Text)
		}
		mv = tdb.NewDouble(f)
	case ConstString:
		mv = tdb.NewString(n.Text)
	case ConstBase64:
		decoded, err := base64.StdEncoding.DecodeString(n.Text)
		if err != nil {
			return tdb.Null, tdb.ErrSyntax.New("bad base64 literal")
		}
		mv = tdb.NewBinary(decoded)
	case ConstArg:
		isNull, err := d.args.IsArgumentNull(n.Arg)
		if err != nil {
			return tdb.Null, err
		}
		if isNull {
			return tdb.Null, nil
		}
		mv, err = d.args.MixedForArgument(n.Arg)
		if err != nil {
			return tdb.Null, err
		}
	default:
		return tdb.Null, tdb.ErrInvalidQuery.New("unsupported constant")
	}
	if hint != tdb.TypeMixed && hint != tdb.TypeNull && mv.Type() != hint {
		coerced, err := mv.CoerceTo(hint)
		if err != nil {
			if n.Kind == ConstArg {
				return tdb.Null, err
			}
			return tdb.Null, tdb.ErrInvalidQuery.New("constant " + mv.String() + " cannot be coerced to " + hint.String())
		}
		return coerced, nil
	}
	return mv, nil
}

// visitPath resolves a key path through the alias mapping into a link
// chain and final property, wrapping post-ops and aggregates.
func (d *ParserDriver) visitPath(n *PathNode, hint tdb.DataType) (expression.Subexpr, error) {
	base := d.base
	elems := n.Elems
	if d.subVar != "" && len(elems) > 0 && elems[0].Kind == PathProperty && elems[0].Name == d.subVar {
		base = d.subBase
		elems = elems[1:]
	}
	chain := expression.NewLinkChain(base)
	var prop *expression.Property

	for i := 0; i < len(elems); i++ {
		elem := elems[i]
		switch elem.Kind {
		case PathBacklink:
			tableName, err := d.mapping.TranslateTableName(elem.BacklinkTable)
			if err != nil {
				return nil, err
			}
			resolver := chain.Current().Resolver()
			origin, ok := resolver.TableByName(tableName)
			if !ok {
				return nil, tdb.ErrInvalidQuery.New("unknown table " + elem.BacklinkTable + " in backlink path")
			}
			colName, err := d.mapping.Translate(origin.Key(), elem.BacklinkColumn)
			if err != nil {
				return nil, err
			}
			col, err := origin.ColumnForName(colName)
			if err != nil {
				return nil, tdb.ErrInvalidQuery.New(err.Error())
			}
			if err := chain.AddBacklinkStep(origin, col); err != nil {
				return nil, err
			}
		case PathProperty:
			name, err := d.mapping.Translate(chain.Current().Key(), elem.Name)
			if err != nil {
				return nil, err
			}
			col, err := chain.Current().ColumnForName(name)
			if err != nil {
				return nil, tdb.ErrInvalidQuery.New(err.Error())
			}
			spec, err := chain.Current().Spec(col)
			if err != nil {
				return nil, err
			}
			last := i == len(elems)-1
			// A link column mid-path extends the chain; subscripts on the
			// element keep it a terminal property. A link column at the
			// end of a counted path also extends the chain, so @count
			// counts the reachable rows.
			countedLink := last && spec.IsLink() &&
				(n.PostOp == "count" || n.PostOp == "size") && n.Aggr == ""
			if !last && (elems[i+1].Kind == PathProperty || elems[i+1].Kind == PathBacklink) || countedLink {
				if !spec.IsLink() {
					return nil, tdb.ErrInvalidQuery.New("property " + spec.Name + " is not a link")
				}
				if err := chain.AddStep(col); err != nil {
					return nil, err
				}
				continue
			}
			prop = expression.NewProperty(chain, col)
			// Consume trailing subscripts.
			for !last {
				i++
				sub := elems[i]
				switch sub.Kind {
				case PathIndex:
					prop.ListIndex = sub.Index
				case PathDictKey:
					prop.DictKey = sub.Name
					prop.HasDictKey = true
				case PathDictAll:
					// All values: the default multi-valued read.
				default:
					return nil, tdb.ErrInvalidQuery.New("unexpected path element after subscript")
				}
				last = i == len(elems)-1
			}
		default:
			return nil, tdb.ErrInvalidQuery.New("misplaced subscript in key path")
		}
	}

	if prop == nil {
		// The path ends on a link hop (possibly a backlink); only counting
		// is meaningful there.
		switch n.PostOp {
		case "count", "size":
			return &expression.SubqueryCount{Chain: chain, Inner: expression.TruePredicate{}}, nil
		}
		return nil, tdb.ErrInvalidQuery.New("key path must end in a property")
	}

	switch n.PostOp {
	case "size", "count":
		prop.Post = expression.PostOpSize
	case "type":
		prop.Post = expression.PostOpType
	case "keys":
		prop.Post = expression.PostOpKeys
	case "values":
		prop.Post = expression.PostOpValues
	}

	if n.Aggr != "" {
		if !prop.HasMultipleValues() {
			return nil, tdb.ErrInvalidQuery.New("@" + n.Aggr + " requires a collection key path")
		}
		kind := map[string]expression.AggregateKind{
			"min": expression.AggMin, "max": expression.AggMax,
			"sum": expression.AggSum, "avg": expression.AggAvg,
		}[n.Aggr]
		return &expression.Aggregate{Kind: kind, Target: prop}, nil
	}

	return prop, nil
}

func (d *ParserDriver) visitSubquery(n *SubqueryNode) (expression.Subexpr, error) {
	// Resolve the collection path into a link chain.
	pathExpr, err := d.visitPath(&PathNode{Elems: n.Path.Elems, PostOp: "count"}, tdb.TypeMixed)
	if err != nil {
		return nil, err
	}
	counted, ok := pathExpr.(*expression.SubqueryCount)
	if !ok {
		return nil, tdb.ErrInvalidQuery.New("SUBQUERY needs a key path of links")
	}
	chain := counted.Chain

	prevVar, prevBase := d.subVar, d.subBase
	d.subVar, d.subBase = n.Var, chain.Current()
	inner, err := d.VisitQuery(n.Inner)
	d.subVar, d.subBase = prevVar, prevBase
	if err != nil {
		return nil, err
	}
	return &expression.SubqueryCount{Chain: chain, Inner: inner}, nil
}

// applyDescriptor lowers a trailing SORT/DISTINCT/LIMIT clause onto the
// query.
func (d *ParserDriver) applyDescriptor(q *query.Query, n DescriptorNode) error {
	resolveChain := func(parts []string) (query.ColumnChain, error) {
		tbl := d.base
		chain := make(query.ColumnChain, 0, len(parts))
		for i, part := range parts {
			name, err := d.mapping.Translate(tbl.Key(), part)
			if err != nil {
				return nil, err
			}
			col, err := tbl.ColumnForName(name)
			if err != nil {
				return nil, tdb.ErrInvalidQuery.New(err.Error())
			}
			chain = append(chain, col)
			if i < len(parts)-1 {
				spec, err := tbl.Spec(col)
				if err != nil {
					return nil, err
				}
				if !spec.IsLink() || spec.Collection != tdb.CollectionNone {
					return nil, tdb.ErrIllegalCombination.New("sort and distinct may only cross single links")
				}
				next, ok := tbl.Resolver().TableByKey(spec.Target)
				if !ok {
					return nil, tdb.ErrInvalidQuery.New("link target table does not exist")
				}
				tbl = next
			}
		}
		return chain, nil
	}

	switch n.Kind {
	case DescSort:
		var sd query.SortDescriptor
		for i, parts := range n.Paths {
			chain, err := resolveChain(parts)
			if err != nil {
				return err
			}
			sd.Columns = append(sd.Columns, query.SortColumn{Chain: chain, Ascending: n.Ascending[i]})
		}
		q.Sort(sd)
	case DescDistinct:
		var dd query.DistinctDescriptor
		for _, parts := range n.Paths {
			chain, err := resolveChain(parts)
			if err != nil {
				return err
			}
			dd.Columns = append(dd.Columns, chain)
		}
		q.Distinct(dd)
	case DescLimit:
		q.Limit(n.Limit)
	}
	return nil
}
