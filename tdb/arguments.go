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
	"fmt"

	"github.com/spf13/cast"
)

// Arguments provides typed access to the numbered parameters $0, $1, … bound
// to a query. List arguments are disclosed exclusively via IsArgumentList;
// TypeForArgument is never consulted for them.
type Arguments interface {
	// ArgumentCount returns the number of bound arguments.
	ArgumentCount() int
	// IsArgumentNull reports whether argument n is null.
	IsArgumentNull(n int) (bool, error)
	// IsArgumentList reports whether argument n is a list.
	IsArgumentList(n int) (bool, error)
	// TypeForArgument returns the scalar type of argument n.
	TypeForArgument(n int) (DataType, error)
	// MixedForArgument returns scalar argument n as a Mixed.
	MixedForArgument(n int) (Mixed, error)
	// BoolForArgument returns argument n coerced to bool.
	BoolForArgument(n int) (bool, error)
	// LongForArgument returns argument n coerced to int64.
	LongForArgument(n int) (int64, error)
	// StringForArgument returns argument n coerced to string.
	StringForArgument(n int) (string, error)
	// ListForArgument returns list argument n.
	ListForArgument(n int) ([]Mixed, error)
}

// MixedArguments adapts a slice of dynamically typed Go values to the
// Arguments interface. Elements that are slices become list arguments.
type MixedArguments struct {
	args []interface{}
}

// NewMixedArguments wraps the given values.
func NewMixedArguments(args ...interface{}) *MixedArguments {
	return &MixedArguments{args: args}
}

// ArgumentCount implements Arguments.
func (m *MixedArguments) ArgumentCount() int { return len(m.args) }

func (m *MixedArguments) at(n int) (interface{}, error) {
	if n < 0 || n >= len(m.args) {
		return nil, ErrInvalidQueryArg.New(fmt.Sprintf("request for argument at index %d but only %d arguments are provided", n, len(m.args)))
	}
	return m.args[n], nil
}

// IsArgumentNull implements Arguments.
func (m *MixedArguments) IsArgumentNull(n int) (bool, error) {
	v, err := m.at(n)
	if err != nil {
		return false, err
	}
	return v == nil, nil
}

// IsArgumentList implements Arguments.
func (m *MixedArguments) IsArgumentList(n int) (bool, error) {
	v, err := m.at(n)
	if err != nil {
		return false, err
	}
	switch v.(type) {
	case []interface{}, []Mixed:
		return true, nil
	}
	return false, nil
}

// TypeForArgument implements Arguments.
func (m *MixedArguments) TypeForArgument(n int) (DataType, error) {
	mv, err := m.MixedForArgument(n)
	if err != nil {
		return TypeNull, err
	}
	return mv.Type(), nil
}

// MixedForArgument implements Arguments.
func (m *MixedArguments) MixedForArgument(n int) (Mixed, error) {
	v, err := m.at(n)
	if err != nil {
		return Null, err
	}
	if isList, _ := m.IsArgumentList(n); isList {
		return Null, ErrInvalidQueryArg.New(fmt.Sprintf("argument $%d is a list where a scalar was expected", n))
	}
	return MixedFromInterface(v)
}

// BoolForArgument implements Arguments.
func (m *MixedArguments) BoolForArgument(n int) (bool, error) {
	v, err := m.at(n)
	if err != nil {
		return false, err
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, ErrInvalidQueryArg.New(fmt.Sprintf("argument $%d is not a bool: %v", n, err))
	}
	return b, nil
}

// LongForArgument implements Arguments.
func (m *MixedArguments) LongForArgument(n int) (int64, error) {
	v, err := m.at(n)
	if err != nil {
		return 0, err
	}
	i, err := cast.ToInt64E(v)
	if err != nil {
		return 0, ErrInvalidQueryArg.New(fmt.Sprintf("argument $%d is not an int: %v", n, err))
	}
	return i, nil
}

// StringForArgument implements Arguments.
func (m *MixedArguments) StringForArgument(n int) (string, error) {
	v, err := m.at(n)
	if err != nil {
		return "", err
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", ErrInvalidQueryArg.New(fmt.Sprintf("argument $%d is not a string: %v", n, err))
	}
	return s, nil
}

// ListForArgument implements Arguments.
func (m *MixedArguments) ListForArgument(n int) ([]Mixed, error) {
	v, err := m.at(n)
	if err != nil {
		return nil, err
	}
	switch list := v.(type) {
	case []Mixed:
		return list, nil
	case []interface{}:
		out := make([]Mixed, len(list))
		for i, e := range list {
			mv, err := MixedFromInterface(e)
			if err != nil {
				return nil, err
			}
			out[i] = mv
		}
		return out, nil
	}
	return nil, ErrInvalidQueryArg.New(fmt.Sprintf("argument $%d is not a list", n))
}
