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

// DataType enumerates the storable cell types.
type DataType int

const (
	// TypeNull is the type of a null Mixed value. Columns are never declared
	// with this type.
	TypeNull DataType = iota
	// TypeInt is a 64-bit signed integer, stored width-compressed.
	TypeInt
	// TypeBool is a boolean.
	TypeBool
	// TypeFloat is a 32-bit IEEE float.
	TypeFloat
	// TypeDouble is a 64-bit IEEE float.
	TypeDouble
	// TypeDecimal is a 128-bit decimal.
	TypeDecimal
	// TypeString is an UTF-8 string; null and empty are distinct.
	TypeString
	// TypeBinary is a byte blob; null and empty are distinct.
	TypeBinary
	// TypeTimestamp is a (seconds, nanoseconds) pair.
	TypeTimestamp
	// TypeObjectID is a 12-byte object identifier.
	TypeObjectID
	// TypeUUID is a 16-byte universally unique identifier.
	TypeUUID
	// TypeLink is an ObjKey reference into a fixed target table.
	TypeLink
	// TypeTypedLink is an ObjLink carrying its own target table.
	TypeTypedLink
	// TypeMixed is a dynamically typed cell; a tagged union over the scalar
	// types and link.
	TypeMixed
)

var typeNames = map[DataType]string{
	TypeNull:      "null",
	TypeInt:       "int",
	TypeBool:      "bool",
	TypeFloat:     "float",
	TypeDouble:    "double",
	TypeDecimal:   "decimal",
	TypeString:    "string",
	TypeBinary:    "binary",
	TypeTimestamp: "timestamp",
	TypeObjectID:  "objectId",
	TypeUUID:      "uuid",
	TypeLink:      "link",
	TypeTypedLink: "typedLink",
	TypeMixed:     "mixed",
}

func (t DataType) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "unknown"
}

// IsNumeric reports whether values of this type participate in the numeric
// promotion semilattice {int, float, double, decimal}. Bool counts as
// numeric too, with false as 0 and true as 1.
func (t DataType) IsNumeric() bool {
	switch t {
	case TypeInt, TypeFloat, TypeDouble, TypeDecimal, TypeBool:
		return true
	}
	return false
}

// Indexable reports whether a column of this type may carry a search index.
func (t DataType) Indexable() bool {
	switch t {
	case TypeInt, TypeBool, TypeString, TypeTimestamp, TypeObjectID, TypeUUID:
		return true
	}
	return false
}

// Comparable reports whether values of types t and u may be compared under
// the promotion rules.
func (t DataType) Comparable(u DataType) bool {
	if t == TypeNull || u == TypeNull {
		return true
	}
	if t == u {
		return true
	}
	if t.IsNumeric() && u.IsNumeric() {
		return true
	}
	if t == TypeMixed || u == TypeMixed {
		return true
	}
	// Strings compare against binary payloads byte-wise.
	if (t == TypeString && u == TypeBinary) || (t == TypeBinary && u == TypeString) {
		return true
	}
	if (t == TypeLink && u == TypeTypedLink) || (t == TypeTypedLink && u == TypeLink) {
		return true
	}
	return false
}

// Ordered reports whether <, <=, > and >= are defined for this type.
func (t DataType) Ordered() bool {
	switch t {
	case TypeLink, TypeTypedLink:
		return false
	}
	return true
}

// CollectionKind distinguishes the collection shapes a column may take.
type CollectionKind int

const (
	// CollectionNone marks a plain single-valued column.
	CollectionNone CollectionKind = iota
	// CollectionList is an ordered list with duplicates.
	CollectionList
	// CollectionSet is an unordered set without duplicates.
	CollectionSet
	// CollectionDict is a dictionary keyed by string.
	CollectionDict
)

func (c CollectionKind) String() string {
	switch c {
	case CollectionList:
		return "list"
	case CollectionSet:
		return "set"
	case CollectionDict:
		return "dictionary"
	}
	return "single"
}

// ColumnSpec describes one column of a table schema.
type ColumnSpec struct {
	Key        ColKey
	Name       string
	Type       DataType
	Nullable   bool
	Collection CollectionKind
	// Target is the target table for link columns.
	Target TableKey
	// Backlink marks the hidden inverse column that mirrors a link column on
	// the target table. Origin identifies the forward column.
	Backlink     bool
	OriginTable  TableKey
	OriginColumn ColKey
}

// IsCollection reports whether the column holds a collection payload.
func (c *ColumnSpec) IsCollection() bool { return c.Collection != CollectionNone }

// IsLink reports whether the column holds link payloads.
func (c *ColumnSpec) IsLink() bool {
	return c.Type == TypeLink || c.Type == TypeTypedLink
}
