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

// SubqueryCount counts the rows reached through a link chain that satisfy
// an inner predicate; it backs SUBQUERY(list, $x, pred).@count.
type SubqueryCount struct {
	Chain *LinkChain
	Inner Expression
}

// Eval implements Subexpr.
func (s *SubqueryCount) Eval(obj *table.Obj) ([]tdb.Mixed, error) {
	objs, err := s.Chain.Objects(obj)
	if err != nil {
		return nil, err
	}
	n := int64(0)
	for _, o := range objs {
		ok, err := s.Inner.Matches(o)
		if err != nil {
			return nil, err
		}
		if ok {
			n++
		}
	}
	return []tdb.Mixed{tdb.NewInt(n)}, nil
}

// Type implements Subexpr.
func (s *SubqueryCount) Type() tdb.DataType { return tdb.TypeInt }

// HasMultipleValues implements Subexpr.
func (s *SubqueryCount) HasMultipleValues() bool { return false }
