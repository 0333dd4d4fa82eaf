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

// The AST lives only as long as its parse; the driver lowers it into owned
// expression nodes, so parser nodes carry no schema state.

// QueryNode is a predicate-producing AST node.
type QueryNode interface{ queryNode() }

// AndNode conjoins its children.
type AndNode struct{ Children []QueryNode }

// OrNode disjoins its children.
type OrNode struct{ Children []QueryNode }

// NotNode negates its child.
type NotNode struct{ Child QueryNode }

// TrueNode is TRUEPREDICATE.
type TrueNode struct{}

// FalseNode is FALSEPREDICATE.
type FalseNode struct{}

// CompareNode is a two-operand comparison.
type CompareNode struct {
	Op              string
	Left, Right     ValueNode
	CaseInsensitive bool
	// Quantifier is "", "ANY", "ALL" or "NONE".
	Quantifier string
}

func (*AndNode) queryNode()     {}
func (*OrNode) queryNode()      {}
func (*NotNode) queryNode()     {}
func (*TrueNode) queryNode()    {}
func (*FalseNode) queryNode()   {}
func (*CompareNode) queryNode() {}

// ValueNode is a value-producing AST node.
type ValueNode interface{ valueNode() }

// ConstantKind classifies constants.
type ConstantKind int

const (
	// ConstInt is an integer literal.
	ConstInt ConstantKind = iota
	// ConstFloat is a floating-point literal.
	ConstFloat
	// ConstString is a string literal.
	ConstString
	// ConstBase64 is a B64"…" literal.
	ConstBase64
	// ConstNull is NULL.
	ConstNull
	// ConstTrue is TRUE.
	ConstTrue
	// ConstFalse is FALSE.
	ConstFalse
	// ConstArg is a numbered argument $N.
	ConstArg
)

// ConstantNode is a literal or argument operand.
type ConstantNode struct {
	Kind ConstantKind
	Text string
	Arg  int
}

// ListNode is a braced constant list.
type ListNode struct{ Elems []ValueNode }

// PathElemKind classifies key-path elements.
type PathElemKind int

const (
	// PathProperty is a plain property hop.
	PathProperty PathElemKind = iota
	// PathIndex is a [i] list index.
	PathIndex
	// PathDictKey is a [key] dictionary lookup.
	PathDictKey
	// PathDictAll is [ALL]: every dictionary value.
	PathDictAll
	// PathBacklink is @links.Table.Column.
	PathBacklink
)

// PathElem is one element of a key path.
type PathElem struct {
	Kind  PathElemKind
	Name  string
	Index int
	// BacklinkTable/BacklinkColumn carry the @links target.
	BacklinkTable  string
	BacklinkColumn string
}

// PathNode is a keypath with optional post-op or aggregate.
type PathNode struct {
	Elems []PathElem
	// PostOp is "", "size", "count", "type", "keys" or "values".
	PostOp string
	// Aggr is "", "min", "max", "sum" or "avg".
	Aggr string
}

// SubqueryNode is SUBQUERY(path, $var, predicate).@count.
type SubqueryNode struct {
	Path  *PathNode
	Var   string
	Inner QueryNode
}

func (*ConstantNode) valueNode() {}
func (*ListNode) valueNode()     {}
func (*PathNode) valueNode()     {}
func (*SubqueryNode) valueNode() {}

// DescriptorKind classifies trailing clauses.
type DescriptorKind int

const (
	// DescSort is SORT(...).
	DescSort DescriptorKind = iota
	// DescDistinct is DISTINCT(...).
	DescDistinct
	// DescLimit is LIMIT(n).
	DescLimit
)

// DescriptorNode is one trailing SORT/DISTINCT/LIMIT clause.
type DescriptorNode struct {
	Kind      DescriptorKind
	Paths     [][]string
	Ascending []bool
	Limit     int
}
