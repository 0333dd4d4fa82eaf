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
	"gopkg.in/src-d/go-errors.v1"
)

var (
	// ErrInvalidKey is returned when an object is looked up by a key that
	// does not exist, has been removed, or when an object is created with a
	// key that is already in use.
	ErrInvalidKey = errors.NewKind("invalid key: %v")

	// ErrColumnNotNullable is returned when null is assigned to a column
	// that was not declared nullable.
	ErrColumnNotNullable = errors.NewKind("column %q is not nullable")

	// ErrColumnIndexOutOfRange is returned when a column key does not belong
	// to the table it is used with.
	ErrColumnIndexOutOfRange = errors.NewKind("column key %v not found in table %q")

	// ErrIllegalCombination is returned for operations that are not defined
	// for the given operand types, such as indexing an unindexable column
	// type or sorting on an incomparable operand.
	ErrIllegalCombination = errors.NewKind("illegal combination: %s")

	// ErrTargetRowIndexOutOfRange is returned when a link is set to a target
	// row that does not exist.
	ErrTargetRowIndexOutOfRange = errors.NewKind("target row %v does not exist in table %q")

	// ErrColumnNameTooLong is returned when a column name exceeds 63 bytes.
	ErrColumnNameTooLong = errors.NewKind("column name %q is too long")

	// ErrTableNameInUse is returned when a table is added with a name that
	// already names another table.
	ErrTableNameInUse = errors.NewKind("table name %q is already in use")

	// ErrTableNotFound is returned when a table name cannot be resolved.
	// The message may carry a "maybe you mean" suggestion.
	ErrTableNotFound = errors.NewKind("table %q not found%s")

	// ErrColumnNotFound is returned when a column name cannot be resolved.
	// The message may carry a "maybe you mean" suggestion.
	ErrColumnNotFound = errors.NewKind("column %q not found in table %q%s")

	// ErrStringTooBig is returned when a string payload exceeds the
	// per-payload cap.
	ErrStringTooBig = errors.NewKind("string of size %d exceeds the maximum of %d bytes")

	// ErrBinaryTooBig is returned when a binary payload exceeds the
	// per-payload cap.
	ErrBinaryTooBig = errors.NewKind("binary of size %d exceeds the maximum of %d bytes")

	// ErrSyntax is returned when a predicate string fails to parse.
	ErrSyntax = errors.NewKind("invalid predicate: %s")

	// ErrInvalidQuery is returned when a predicate references an unknown
	// property, combines incompatible operands, or uses an illegal
	// quantifier.
	ErrInvalidQuery = errors.NewKind("invalid query: %s")

	// ErrInvalidQueryArg is returned when a bound argument's runtime type
	// cannot be coerced to the operand's declared type.
	ErrInvalidQueryArg = errors.NewKind("invalid query argument: %s")

	// ErrMapping is returned when key-path alias substitution loops beyond
	// the substitution bound.
	ErrMapping = errors.NewKind("substitution loop detected while processing mapping from %q to %q")

	// ErrMalformedJson is returned when a payload handed to a Mixed column
	// cannot be parsed as JSON.
	ErrMalformedJson = errors.NewKind("malformed json: %s")

	// ErrInvalidTimestamp is returned when a timestamp is constructed with
	// seconds and nanoseconds of opposing signs.
	ErrInvalidTimestamp = errors.NewKind("invalid timestamp: seconds %d and nanoseconds %d have opposing signs")

	// ErrTypeMismatch is returned when a value of the wrong type is written
	// to a column.
	ErrTypeMismatch = errors.NewKind("type mismatch: cannot store %s in a %s column")

	// ErrCorrupt is returned by verification when an on-media structure does
	// not satisfy its invariants. Detection is best effort.
	ErrCorrupt = errors.NewKind("corrupted structure: %s")
)

// MaxStringSize is the upper limit for string payloads. The same limit is
// applied uniformly to binary payloads as MaxBinarySize.
const MaxStringSize = (1 << 24) - 1

// MaxBinarySize is the upper limit for binary payloads.
const MaxBinarySize = (1 << 24) - 1

// MaxColumnNameLength is the longest accepted column name, in bytes.
const MaxColumnNameLength = 63
