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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/terndb/tern/tdb"
)

func TestParseComparison(t *testing.T) {
	root, descriptors, err := Parse(`age >= 21`)
	require.NoError(t, err)
	require.Empty(t, descriptors)

	cmp, ok := root.(*CompareNode)
	require.True(t, ok)
	require.Equal(t, ">=", cmp.Op)

	left, ok := cmp.Left.(*PathNode)
	require.True(t, ok)
	require.Len(t, left.Elems, 1)
	require.Equal(t, "age", left.Elems[0].Name)

	right, ok := cmp.Right.(*ConstantNode)
	require.True(t, ok)
	require.Equal(t, ConstInt, right.Kind)
	require.Equal(t, "21", right.Text)
}

func TestParsePrecedence(t *testing.T) {
	// AND binds tighter than OR; NOT tighter than both.
	root, _, err := Parse(`a == 1 OR NOT b == 2 AND c == 3`)
	require.NoError(t, err)

	or, ok := root.(*OrNode)
	require.True(t, ok)
	require.Len(t, or.Children, 2)

	and, ok := or.Children[1].(*AndNode)
	require.True(t, ok)
	require.Len(t, and.Children, 2)
	_, ok = and.Children[0].(*NotNode)
	require.True(t, ok)
}

func TestParseImplicitAnd(t *testing.T) {
	root, _, err := Parse(`a == 1 b == 2`)
	require.NoError(t, err)
	and, ok := root.(*AndNode)
	require.True(t, ok)
	require.Len(t, and.Children, 2)
}

func TestParseCaseModifierAndQuantifier(t *testing.T) {
	root, _, err := Parse(`ANY friends.name CONTAINS[c] "al"`)
	require.NoError(t, err)
	cmp := root.(*CompareNode)
	require.Equal(t, "CONTAINS", cmp.Op)
	require.True(t, cmp.CaseInsensitive)
	require.Equal(t, "ANY", cmp.Quantifier)

	path := cmp.Left.(*PathNode)
	require.Len(t, path.Elems, 2)
}

func TestParseConstants(t *testing.T) {
	root, _, err := Parse(`flag == TRUE AND s != NULL AND data == B64"aGk=" AND n == $3`)
	require.NoError(t, err)
	and := root.(*AndNode)
	require.Len(t, and.Children, 4)

	c1 := and.Children[0].(*CompareNode).Right.(*ConstantNode)
	require.Equal(t, ConstTrue, c1.Kind)
	c2 := and.Children[1].(*CompareNode).Right.(*ConstantNode)
	require.Equal(t, ConstNull, c2.Kind)
	c3 := and.Children[2].(*CompareNode).Right.(*ConstantNode)
	require.Equal(t, ConstBase64, c3.Kind)
	c4 := and.Children[3].(*CompareNode).Right.(*ConstantNode)
	require.Equal(t, ConstArg, c4.Kind)
	require.Equal(t, 3, c4.Arg)
}

func TestParseInList(t *testing.T) {
	root, _, err := Parse(`id IN {2, 4, 99}`)
	require.NoError(t, err)
	cmp := root.(*CompareNode)
	require.Equal(t, "IN", cmp.Op)
	list := cmp.Right.(*ListNode)
	require.Len(t, list.Elems, 3)
}

func TestParseBacklinkPath(t *testing.T) {
	root, _, err := Parse(`@links.people.friend.@count > 0`)
	require.NoError(t, err)
	cmp := root.(*CompareNode)
	path := cmp.Left.(*PathNode)
	require.Equal(t, "count", path.PostOp)
	require.Equal(t, PathBacklink, path.Elems[0].Kind)
	require.Equal(t, "people", path.Elems[0].BacklinkTable)
	require.Equal(t, "friend", path.Elems[0].BacklinkColumn)
}

func TestParseAggregateAndPostOp(t *testing.T) {
	root, _, err := Parse(`scores.@max >= 10 AND name.@size > 3`)
	require.NoError(t, err)
	and := root.(*AndNode)
	agg := and.Children[0].(*CompareNode).Left.(*PathNode)
	require.Equal(t, "max", agg.Aggr)
	size := and.Children[1].(*CompareNode).Left.(*PathNode)
	require.Equal(t, "size", size.PostOp)
}

func TestParseSubquery(t *testing.T) {
	root, _, err := Parse(`SUBQUERY(items, $x, $x.price > 100).@count >= 2`)
	require.NoError(t, err)
	cmp := root.(*CompareNode)
	sub := cmp.Left.(*SubqueryNode)
	require.Equal(t, "$x", sub.Var)
	require.NotNil(t, sub.Inner)
}

func TestParseDescriptors(t *testing.T) {
	_, descriptors, err := Parse(`TRUEPREDICATE SORT(age DESC, name ASC) DISTINCT(name) LIMIT(10)`)
	require.NoError(t, err)
	require.Len(t, descriptors, 3)

	require.Equal(t, DescSort, descriptors[0].Kind)
	require.Equal(t, [][]string{{"age"}, {"name"}}, descriptors[0].Paths)
	require.Equal(t, []bool{false, true}, descriptors[0].Ascending)

	require.Equal(t, DescDistinct, descriptors[1].Kind)
	require.Equal(t, DescLimit, descriptors[2].Kind)
	require.Equal(t, 10, descriptors[2].Limit)
}

func TestParseSyntaxErrors(t *testing.T) {
	for _, input := range []string{
		``,
		`age >`,
		`(age > 1`,
		`age >> 2`,
		`SORT(age`,
		`name == "unterminated`,
		`age == 1 garbage ==`,
		`LIMIT(-1)`,
	} {
		_, _, err := Parse(input)
		require.Error(t, err, "input %q", input)
		require.True(t, tdb.ErrSyntax.Is(err), "input %q got %v", input, err)
	}
}
