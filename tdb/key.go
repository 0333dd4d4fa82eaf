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

import "fmt"

// ObjKey identifies a row within a table for the lifetime of that row. Keys
// occupy 63 bits, are never reused after deletion and are never reassigned on
// compaction. The zero value is a valid key; InvalidObjKey marks "no key".
type ObjKey int64

// InvalidObjKey is the sentinel for a missing object key.
const InvalidObjKey ObjKey = -1

// IsValid reports whether k names an object.
func (k ObjKey) IsValid() bool { return k >= 0 }

func (k ObjKey) String() string {
	if !k.IsValid() {
		return "ObjKey(invalid)"
	}
	return fmt.Sprintf("ObjKey(%d)", int64(k))
}

// TableKey identifies a table within a group for the lifetime of the table.
type TableKey uint32

// InvalidTableKey is the sentinel for a missing table key.
const InvalidTableKey TableKey = 0xFFFFFFFF

// IsValid reports whether t names a table.
func (t TableKey) IsValid() bool { return t != InvalidTableKey }

// ColKey identifies a column within a table. The key is stable across column
// additions and removals; the table maps it to the column's physical slot.
type ColKey uint32

// InvalidColKey is the sentinel for a missing column key.
const InvalidColKey ColKey = 0xFFFFFFFF

// IsValid reports whether c names a column.
func (c ColKey) IsValid() bool { return c != InvalidColKey }

// ObjLink is a cross-table reference: the target table plus the target row.
type ObjLink struct {
	Table TableKey
	Key   ObjKey
}

// IsNull reports whether the link points nowhere.
func (l ObjLink) IsNull() bool { return !l.Table.IsValid() || !l.Key.IsValid() }

func (l ObjLink) String() string {
	return fmt.Sprintf("ObjLink(%d, %d)", uint32(l.Table), int64(l.Key))
}
