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
	"bytes"
	"fmt"
	"math"
	"strings"

	uuid "github.com/satori/go.uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
)

// Mixed is a dynamically typed cell value: a tagged union over the scalar
// types and links. The zero value is null.
type Mixed struct {
	t DataType
	v interface{}
}

// Null is the null Mixed value.
var Null = Mixed{}

// NewInt builds an int Mixed.
func NewInt(v int64) Mixed { return Mixed{TypeInt, v} }

// NewBool builds a bool Mixed.
func NewBool(v bool) Mixed { return Mixed{TypeBool, v} }

// NewFloat builds a 32-bit float Mixed.
func NewFloat(v float32) Mixed { return Mixed{TypeFloat, v} }

// NewDouble builds a 64-bit float Mixed.
func NewDouble(v float64) Mixed { return Mixed{TypeDouble, v} }

// NewDecimal builds a decimal Mixed.
func NewDecimal(v decimal.Decimal) Mixed { return Mixed{TypeDecimal, v} }

// NewString builds a string Mixed. The empty string is not null.
func NewString(v string) Mixed { return Mixed{TypeString, v} }

// NewBinary builds a binary Mixed. An empty payload is not null.
func NewBinary(v []byte) Mixed { return Mixed{TypeBinary, v} }

// NewTimestampValue builds a timestamp Mixed.
func NewTimestampValue(v Timestamp) Mixed { return Mixed{TypeTimestamp, v} }

// NewObjectID builds an objectId Mixed.
func NewObjectID(v ObjectID) Mixed { return Mixed{TypeObjectID, v} }

// NewUUID builds a uuid Mixed.
func NewUUID(v uuid.UUID) Mixed { return Mixed{TypeUUID, v} }

// NewLink builds a link Mixed holding a bare ObjKey.
func NewLink(v ObjKey) Mixed { return Mixed{TypeLink, v} }

// NewTypedLink builds a typed link Mixed.
func NewTypedLink(v ObjLink) Mixed { return Mixed{TypeTypedLink, v} }

// Type returns the tag of the value. Null values report TypeNull.
func (m Mixed) Type() DataType { return m.t }

// IsNull reports whether the value is null.
func (m Mixed) IsNull() bool { return m.t == TypeNull }

// Int returns the int payload. Valid only when Type() == TypeInt.
func (m Mixed) Int() int64 { return m.v.(int64) }

// Bool returns the bool payload.
func (m Mixed) Bool() bool { return m.v.(bool) }

// Float returns the 32-bit float payload.
func (m Mixed) Float() float32 { return m.v.(float32) }

// Double returns the 64-bit float payload.
func (m Mixed) Double() float64 { return m.v.(float64) }

// Decimal returns the decimal payload.
func (m Mixed) Decimal() decimal.Decimal { return m.v.(decimal.Decimal) }

// String returns a printable rendering of the value.
func (m Mixed) String() string {
	if m.IsNull() {
		return "NULL"
	}
	switch m.t {
	case TypeString:
		return fmt.Sprintf("%q", m.v.(string))
	case TypeBinary:
		return fmt.Sprintf("B64%q", m.v.([]byte))
	}
	return fmt.Sprintf("%v", m.v)
}

// Str returns the string payload. Valid only when Type() == TypeString.
func (m Mixed) Str() string { return m.v.(string) }

// Binary returns the binary payload.
func (m Mixed) Binary() []byte { return m.v.([]byte) }

// Timestamp returns the timestamp payload.
func (m Mixed) Timestamp() Timestamp { return m.v.(Timestamp) }

// ObjectID returns the objectId payload.
func (m Mixed) ObjectID() ObjectID { return m.v.(ObjectID) }

// UUID returns the uuid payload.
func (m Mixed) UUID() uuid.UUID { return m.v.(uuid.UUID) }

// Link returns the link payload.
func (m Mixed) Link() ObjKey { return m.v.(ObjKey) }

// TypedLink returns the typed link payload.
func (m Mixed) TypedLink() ObjLink { return m.v.(ObjLink) }

// numeric class ranks used to produce a total order across disparate types.
func typeRank(t DataType) int {
	switch t {
	case TypeNull:
		return 0
	case TypeBool, TypeInt, TypeFloat, TypeDouble, TypeDecimal:
		return 1
	case TypeString, TypeBinary:
		return 2
	case TypeTimestamp:
		return 3
	case TypeObjectID:
		return 4
	case TypeUUID:
		return 5
	}
	return 6
}

func (m Mixed) asDecimal() decimal.Decimal {
	switch m.t {
	case TypeDecimal:
		return m.v.(decimal.Decimal)
	case TypeInt:
		return decimal.NewFromInt(m.v.(int64))
	case TypeBool:
		if m.v.(bool) {
			return decimal.NewFromInt(1)
		}
		return decimal.NewFromInt(0)
	case TypeFloat:
		return decimal.NewFromFloat32(m.v.(float32))
	case TypeDouble:
		return decimal.NewFromFloat(m.v.(float64))
	}
	return decimal.Decimal{}
}

func (m Mixed) asDouble() (float64, bool) {
	switch m.t {
	case TypeInt:
		return float64(m.v.(int64)), true
	case TypeBool:
		if m.v.(bool) {
			return 1, true
		}
		return 0, true
	case TypeFloat:
		return float64(m.v.(float32)), true
	case TypeDouble:
		return m.v.(float64), true
	}
	return 0, false
}

func compareFloats(a, b float64) int {
	// NaN sorts below every other value but above null.
	an, bn := math.IsNaN(a), math.IsNaN(b)
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Compare produces a total order over Mixed values. Null compares less than
// any non-null value; values of different non-numeric types order by type
// class; numeric values compare on the {int, float, double, decimal}
// promotion semilattice.
func (m Mixed) Compare(o Mixed) int {
	if m.IsNull() || o.IsNull() {
		switch {
		case m.IsNull() && o.IsNull():
			return 0
		case m.IsNull():
			return -1
		default:
			return 1
		}
	}
	ra, rb := typeRank(m.t), typeRank(o.t)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 1: // numeric
		if m.t == TypeDecimal || o.t == TypeDecimal {
			return m.asDecimal().Cmp(o.asDecimal())
		}
		if m.t == TypeInt && o.t == TypeInt {
			a, b := m.v.(int64), o.v.(int64)
			switch {
			case a < b:
				return -1
			case a > b:
				return 1
			}
			return 0
		}
		a, _ := m.asDouble()
		b, _ := o.asDouble()
		return compareFloats(a, b)
	case 2: // string/binary, byte-wise
		return bytes.Compare(m.rawBytes(), o.rawBytes())
	case 3:
		return m.v.(Timestamp).Compare(o.v.(Timestamp))
	case 4:
		return m.v.(ObjectID).Compare(o.v.(ObjectID))
	case 5:
		a, b := m.v.(uuid.UUID), o.v.(uuid.UUID)
		return bytes.Compare(a[:], b[:])
	default: // links: equality only, but give a stable order for sorting
		a, b := m.linkPair(), o.linkPair()
		if a.Table != b.Table {
			if a.Table < b.Table {
				return -1
			}
			return 1
		}
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	}
}

func (m Mixed) linkPair() ObjLink {
	if m.t == TypeTypedLink {
		return m.v.(ObjLink)
	}
	return ObjLink{Table: InvalidTableKey, Key: m.v.(ObjKey)}
}

func (m Mixed) rawBytes() []byte {
	if m.t == TypeBinary {
		return m.v.([]byte)
	}
	return []byte(m.v.(string))
}

// Equal reports value equality under the same promotion rules as Compare.
func (m Mixed) Equal(o Mixed) bool {
	if m.t.Comparable(o.t) && typeRank(m.t) == typeRank(o.t) {
		return m.Compare(o) == 0
	}
	return false
}

// EqualFold reports case-folded equality for string payloads and falls back
// to Equal for everything else.
func (m Mixed) EqualFold(o Mixed) bool {
	if m.t == TypeString && o.t == TypeString {
		return strings.EqualFold(m.v.(string), o.v.(string))
	}
	return m.Equal(o)
}

// CoerceTo converts the value to the target column type. The conversion is
// strict: lossy float to int conversions, NaN and infinities on integer
// targets, and cross-class conversions fail. The one cross-class conversion
// allowed is a string that parses as a decimal number to a decimal.
func (m Mixed) CoerceTo(t DataType) (Mixed, error) {
	if m.IsNull() {
		return Null, nil
	}
	if m.t == t || t == TypeMixed {
		return m, nil
	}
	switch t {
	case TypeInt:
		if f, ok := m.asDouble(); ok {
			if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
				return Null, ErrInvalidQueryArg.New(fmt.Sprintf("%s cannot be converted to int without loss", m))
			}
			return NewInt(int64(f)), nil
		}
		if m.t == TypeDecimal {
			d := m.v.(decimal.Decimal)
			if !d.IsInteger() {
				return Null, ErrInvalidQueryArg.New(fmt.Sprintf("%s cannot be converted to int without loss", m))
			}
			return NewInt(d.IntPart()), nil
		}
	case TypeBool:
		if m.t == TypeInt {
			return NewBool(m.v.(int64) != 0), nil
		}
	case TypeFloat:
		if f, ok := m.asDouble(); ok {
			return NewFloat(float32(f)), nil
		}
		if m.t == TypeDecimal {
			f, _ := m.v.(decimal.Decimal).Float64()
			return NewFloat(float32(f)), nil
		}
	case TypeDouble:
		if f, ok := m.asDouble(); ok {
			return NewDouble(f), nil
		}
		if m.t == TypeDecimal {
			f, _ := m.v.(decimal.Decimal).Float64()
			return NewDouble(f), nil
		}
	case TypeDecimal:
		if m.t.IsNumeric() {
			return NewDecimal(m.asDecimal()), nil
		}
		if m.t == TypeString {
			if d, err := decimal.NewFromString(m.v.(string)); err == nil {
				return NewDecimal(d), nil
			}
		}
	case TypeString:
		if m.t == TypeBinary {
			return NewString(string(m.v.([]byte))), nil
		}
	case TypeBinary:
		if m.t == TypeString {
			return NewBinary([]byte(m.v.(string))), nil
		}
	case TypeLink:
		if m.t == TypeTypedLink {
			return NewLink(m.v.(ObjLink).Key), nil
		}
	case TypeTypedLink:
	}
	return Null, ErrInvalidQueryArg.New(fmt.Sprintf("cannot convert %s to %s", m.t, t))
}

// MixedFromInterface builds a Mixed from a dynamically typed Go value, as
// handed in by argument providers. Numeric Go types funnel through cast.
func MixedFromInterface(v interface{}) (Mixed, error) {
	switch x := v.(type) {
	case nil:
		return Null, nil
	case Mixed:
		return x, nil
	case bool:
		return NewBool(x), nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32:
		return NewInt(cast.ToInt64(x)), nil
	case float32:
		return NewFloat(x), nil
	case float64:
		return NewDouble(x), nil
	case string:
		return NewString(x), nil
	case []byte:
		return NewBinary(x), nil
	case decimal.Decimal:
		return NewDecimal(x), nil
	case Timestamp:
		return NewTimestampValue(x), nil
	case ObjectID:
		return NewObjectID(x), nil
	case uuid.UUID:
		return NewUUID(x), nil
	case ObjKey:
		return NewLink(x), nil
	case ObjLink:
		return NewTypedLink(x), nil
	}
	return Null, ErrInvalidQueryArg.New(fmt.Sprintf("unsupported argument type %T", v))
}
