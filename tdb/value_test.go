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

package tdb

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestTimestampSignValidation(t *testing.T) {
	_, err := NewTimestamp(1, -1)
	require.True(t, ErrInvalidTimestamp.Is(err))
	_, err = NewTimestamp(-1, 1)
	require.True(t, ErrInvalidTimestamp.Is(err))

	ts, err := NewTimestamp(-1, -500)
	require.NoError(t, err)
	later, err := NewTimestamp(0, 0)
	require.NoError(t, err)
	require.Equal(t, -1, ts.Compare(later))
	require.Len(t, ts.IndexData(), 12)
}

func TestMixedNullOrdering(t *testing.T) {
	// Null compares less than any non-null value of any type.
	for _, v := range []Mixed{
		NewInt(math.MinInt64), NewBool(false), NewString(""),
		NewDouble(math.Inf(-1)), NewBinary(nil),
	} {
		require.Equal(t, -1, Null.Compare(v))
		require.Equal(t, 1, v.Compare(Null))
	}
	require.Equal(t, 0, Null.Compare(Null))
}

func TestMixedNumericPromotion(t *testing.T) {
	require.True(t, NewInt(3).Equal(NewDouble(3)))
	require.True(t, NewInt(3).Equal(NewDecimal(decimal.NewFromInt(3))))
	require.Equal(t, -1, NewInt(3).Compare(NewDouble(3.5)))
	require.Equal(t, 1, NewDecimal(decimal.NewFromFloat(2.5)).Compare(NewInt(2)))
	require.False(t, NewInt(1).Equal(NewString("1")))
}

func TestMixedStringBinaryCompare(t *testing.T) {
	require.True(t, NewString("abc").Equal(NewBinary([]byte("abc"))))
	require.Equal(t, -1, NewString("abc").Compare(NewString("abd")))
	// Null and empty are distinct.
	require.False(t, NewString("").IsNull())
	require.False(t, NewString("").Equal(Null))
}

func TestCoerceTruncationGuards(t *testing.T) {
	_, err := NewDouble(1.5).CoerceTo(TypeInt)
	require.True(t, ErrInvalidQueryArg.Is(err))
	_, err = NewDouble(math.NaN()).CoerceTo(TypeInt)
	require.True(t, ErrInvalidQueryArg.Is(err))
	_, err = NewDouble(math.Inf(1)).CoerceTo(TypeInt)
	require.True(t, ErrInvalidQueryArg.Is(err))

	v, err := NewDouble(7).CoerceTo(TypeInt)
	require.NoError(t, err)
	require.Equal(t, int64(7), v.Int())

	d, err := NewInt(12).CoerceTo(TypeDecimal)
	require.NoError(t, err)
	require.True(t, d.Decimal().Equal(decimal.NewFromInt(12)))
}

func TestEqualFold(t *testing.T) {
	require.True(t, NewString("HeLLo").EqualFold(NewString("hello")))
	require.False(t, NewString("HeLLo").EqualFold(NewString("hellos")))
	require.True(t, NewInt(2).EqualFold(NewInt(2)))
}

func TestKeyPathMappingTranslate(t *testing.T) {
	m := NewKeyPathMapping()
	require.True(t, m.AddMapping(1, "nick", "name"))
	require.False(t, m.AddMapping(1, "nick", "other"))

	got, err := m.Translate(1, "nick")
	require.NoError(t, err)
	require.Equal(t, "name", got)

	// Chains substitute repeatedly.
	m.AddMapping(1, "alias", "nick")
	got, err = m.Translate(1, "alias")
	require.NoError(t, err)
	require.Equal(t, "name", got)

	require.True(t, m.RemoveMapping(1, "alias"))
	got, err = m.Translate(1, "alias")
	require.NoError(t, err)
	require.Equal(t, "alias", got)
}

func TestKeyPathMappingLoopDetection(t *testing.T) {
	m := NewKeyPathMapping()
	m.AddMapping(1, "a", "b")
	m.AddMapping(1, "b", "a")
	_, err := m.Translate(1, "a")
	require.True(t, ErrMapping.Is(err))

	m.AddTableMapping("Real", "Alias")
	m.AddTableMapping("Alias", "Loop")
	m.AddTableMapping("Loop", "Real")
	_, err = m.TranslateTableName("Alias")
	require.True(t, ErrMapping.Is(err))
}

func TestBacklinkClassPrefix(t *testing.T) {
	m := NewKeyPathMapping()
	m.SetBacklinkClassPrefix("class_")
	got, err := m.TranslateTableName("Person")
	require.NoError(t, err)
	require.Equal(t, "class_Person", got)

	// Mapped names bypass the prefix.
	m.AddTableMapping("RealTable", "Person")
	got, err = m.TranslateTableName("Person")
	require.NoError(t, err)
	require.Equal(t, "RealTable", got)
}

func TestMixedArguments(t *testing.T) {
	args := NewMixedArguments(int64(5), "hi", nil, []interface{}{int64(1)}, true)
	require.Equal(t, 5, args.ArgumentCount())

	n, err := args.LongForArgument(0)
	require.NoError(t, err)
	require.Equal(t, int64(5), n)

	s, err := args.StringForArgument(1)
	require.NoError(t, err)
	require.Equal(t, "hi", s)

	isNull, err := args.IsArgumentNull(2)
	require.NoError(t, err)
	require.True(t, isNull)

	isList, err := args.IsArgumentList(3)
	require.NoError(t, err)
	require.True(t, isList)
	list, err := args.ListForArgument(3)
	require.NoError(t, err)
	require.Len(t, list, 1)

	b, err := args.BoolForArgument(4)
	require.NoError(t, err)
	require.True(t, b)

	_, err = args.MixedForArgument(9)
	require.True(t, ErrInvalidQueryArg.Is(err))
	_, err = args.MixedForArgument(3)
	require.True(t, ErrInvalidQueryArg.Is(err))
}
