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

package cluster

import (
	"encoding/binary"
	"math"

	uuid "github.com/satori/go.uuid"
	"github.com/shopspring/decimal"

	"github.com/terndb/tern/tdb"
	"github.com/terndb/tern/tdb/alloc"
	"github.com/terndb/tern/tdb/array"
)

// Scalar columns (Int, Bool, Float, Double, Link) store inline at compressed
// widths; every other type stores a ref to a payload blob, with the null ref
// standing for null. The sentinels below reserve one representation per
// inline type for null.
const (
	nullInt    = math.MinInt64
	nullBool   = 2
	nullFloat  = int64(0xFFFFFFFF)         // all-ones float32: a quiet NaN payload
	nullDouble = int64(-1)                 // all-ones float64 bits
)

// inlineColumn reports whether the column type stores inline scalars.
func inlineColumn(t tdb.DataType) bool {
	switch t {
	case tdb.TypeInt, tdb.TypeBool, tdb.TypeFloat, tdb.TypeDouble, tdb.TypeLink:
		return true
	}
	return false
}

// encodeInline packs a value for an inline column. Null maps to the type's
// sentinel.
func encodeInline(t tdb.DataType, v tdb.Mixed) int64 {
	if v.IsNull() {
		switch t {
		case tdb.TypeInt:
			return nullInt
		case tdb.TypeBool:
			return nullBool
		case tdb.TypeFloat:
			return nullFloat
		case tdb.TypeDouble:
			return nullDouble
		case tdb.TypeLink:
			return 0
		}
	}
	switch t {
	case tdb.TypeInt:
		return v.Int()
	case tdb.TypeBool:
		if v.Bool() {
			return 1
		}
		return 0
	case tdb.TypeFloat:
		return int64(math.Float32bits(v.Float()))
	case tdb.TypeDouble:
		return int64(math.Float64bits(v.Double()))
	case tdb.TypeLink:
		// Links store key+1 so that 0 remains the null link.
		return int64(v.Link()) + 1
	}
	return 0
}

func decodeInline(t tdb.DataType, raw int64) tdb.Mixed {
	switch t {
	case tdb.TypeInt:
		if raw == nullInt {
			return tdb.Null
		}
		return tdb.NewInt(raw)
	case tdb.TypeBool:
		if raw == nullBool {
			return tdb.Null
		}
		return tdb.NewBool(raw != 0)
	case tdb.TypeFloat:
		if raw == nullFloat {
			return tdb.Null
		}
		return tdb.NewFloat(math.Float32frombits(uint32(raw)))
	case tdb.TypeDouble:
		if raw == nullDouble {
			return tdb.Null
		}
		return tdb.NewDouble(math.Float64frombits(uint64(raw)))
	case tdb.TypeLink:
		if raw == 0 {
			return tdb.Null
		}
		return tdb.NewLink(tdb.ObjKey(raw - 1))
	}
	return tdb.Null
}

// Mixed cells carry a one-byte tag in front of the payload; typed blob cells
// store the bare payload.
const (
	tagInt byte = iota + 1
	tagBool
	tagFloat
	tagDouble
	tagDecimal
	tagString
	tagBinary
	tagTimestamp
	tagObjectID
	tagUUID
	tagLink
	tagTypedLink
)

func encodePayload(t tdb.DataType, v tdb.Mixed) []byte {
	switch t {
	case tdb.TypeString:
		return []byte(v.Str())
	case tdb.TypeBinary:
		return v.Binary()
	case tdb.TypeTimestamp:
		return v.Timestamp().IndexData()
	case tdb.TypeDecimal:
		return []byte(v.Decimal().String())
	case tdb.TypeObjectID:
		id := v.ObjectID()
		return id[:]
	case tdb.TypeUUID:
		u := v.UUID()
		return u[:]
	case tdb.TypeTypedLink:
		l := v.TypedLink()
		var buf [12]byte
		binary.LittleEndian.PutUint32(buf[0:4], uint32(l.Table))
		binary.LittleEndian.PutUint64(buf[4:12], uint64(l.Key))
		return buf[:]
	case tdb.TypeMixed:
		return encodeMixedCell(v)
	}
	return nil
}

func decodePayload(t tdb.DataType, data []byte) tdb.Mixed {
	switch t {
	case tdb.TypeString:
		return tdb.NewString(string(data))
	case tdb.TypeBinary:
		return tdb.NewBinary(append([]byte(nil), data...))
	case tdb.TypeTimestamp:
		s := int64(binary.LittleEndian.Uint64(data[0:8]))
		ns := int32(binary.LittleEndian.Uint32(data[8:12]))
		return tdb.NewTimestampValue(tdb.Timestamp{Seconds: s, Nanos: ns})
	case tdb.TypeDecimal:
		d, err := decimal.NewFromString(string(data))
		if err != nil {
			return tdb.Null
		}
		return tdb.NewDecimal(d)
	case tdb.TypeObjectID:
		var id tdb.ObjectID
		copy(id[:], data)
		return tdb.NewObjectID(id)
	case tdb.TypeUUID:
		var u uuid.UUID
		copy(u[:], data)
		return tdb.NewUUID(u)
	case tdb.TypeTypedLink:
		return tdb.NewTypedLink(tdb.ObjLink{
			Table: tdb.TableKey(binary.LittleEndian.Uint32(data[0:4])),
			Key:   tdb.ObjKey(binary.LittleEndian.Uint64(data[4:12])),
		})
	case tdb.TypeMixed:
		return decodeMixedCell(data)
	}
	return tdb.Null
}

func encodeMixedCell(v tdb.Mixed) []byte {
	var buf [9]byte
	switch v.Type() {
	case tdb.TypeInt:
		buf[0] = tagInt
		binary.LittleEndian.PutUint64(buf[1:], uint64(v.Int()))
		return append([]byte(nil), buf[:]...)
	case tdb.TypeBool:
		buf[0] = tagBool
		if v.Bool() {
			buf[1] = 1
		}
		return append([]byte(nil), buf[:2]...)
	case tdb.TypeFloat:
		buf[0] = tagFloat
		binary.LittleEndian.PutUint32(buf[1:], math.Float32bits(v.Float()))
		return append([]byte(nil), buf[:5]...)
	case tdb.TypeDouble:
		buf[0] = tagDouble
		binary.LittleEndian.PutUint64(buf[1:], math.Float64bits(v.Double()))
		return append([]byte(nil), buf[:]...)
	case tdb.TypeLink:
		buf[0] = tagLink
		binary.LittleEndian.PutUint64(buf[1:], uint64(v.Link()))
		return append([]byte(nil), buf[:]...)
	case tdb.TypeDecimal:
		return append([]byte{tagDecimal}, encodePayload(tdb.TypeDecimal, v)...)
	case tdb.TypeString:
		return append([]byte{tagString}, encodePayload(tdb.TypeString, v)...)
	case tdb.TypeBinary:
		return append([]byte{tagBinary}, encodePayload(tdb.TypeBinary, v)...)
	case tdb.TypeTimestamp:
		return append([]byte{tagTimestamp}, encodePayload(tdb.TypeTimestamp, v)...)
	case tdb.TypeObjectID:
		return append([]byte{tagObjectID}, encodePayload(tdb.TypeObjectID, v)...)
	case tdb.TypeUUID:
		return append([]byte{tagUUID}, encodePayload(tdb.TypeUUID, v)...)
	case tdb.TypeTypedLink:
		return append([]byte{tagTypedLink}, encodePayload(tdb.TypeTypedLink, v)...)
	}
	return nil
}

func decodeMixedCell(data []byte) tdb.Mixed {
	if len(data) == 0 {
		return tdb.Null
	}
	tag, payload := data[0], data[1:]
	switch tag {
	case tagInt:
		return tdb.NewInt(int64(binary.LittleEndian.Uint64(payload)))
	case tagBool:
		return tdb.NewBool(payload[0] != 0)
	case tagFloat:
		return tdb.NewFloat(math.Float32frombits(binary.LittleEndian.Uint32(payload)))
	case tagDouble:
		return tdb.NewDouble(math.Float64frombits(binary.LittleEndian.Uint64(payload)))
	case tagLink:
		return tdb.NewLink(tdb.ObjKey(binary.LittleEndian.Uint64(payload)))
	case tagDecimal:
		return decodePayload(tdb.TypeDecimal, payload)
	case tagString:
		return decodePayload(tdb.TypeString, payload)
	case tagBinary:
		return decodePayload(tdb.TypeBinary, payload)
	case tagTimestamp:
		return decodePayload(tdb.TypeTimestamp, payload)
	case tagObjectID:
		return decodePayload(tdb.TypeObjectID, payload)
	case tagUUID:
		return decodePayload(tdb.TypeUUID, payload)
	case tagTypedLink:
		return decodePayload(tdb.TypeTypedLink, payload)
	}
	return tdb.Null
}

// writeCellBlob stores a cell payload and returns its ref, or the null ref
// for null values.
func writeCellBlob(a *alloc.Alloc, t tdb.DataType, v tdb.Mixed) alloc.Ref {
	if v.IsNull() {
		return alloc.NullRef
	}
	return array.WriteBlob(a, encodePayload(t, v))
}

// readCellBlob loads the cell stored at ref.
func readCellBlob(a *alloc.Alloc, t tdb.DataType, ref alloc.Ref) tdb.Mixed {
	if ref.IsNull() {
		return tdb.Null
	}
	return decodePayload(t, array.ReadBlob(a, ref))
}
