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
	"encoding/binary"
	"fmt"
	"time"
)

// Timestamp is a point in time as (seconds, nanoseconds) since the Unix
// epoch. Seconds and nanoseconds must agree in sign; mixed signs are rejected
// at construction.
type Timestamp struct {
	Seconds int64
	Nanos   int32
}

// NewTimestamp validates and builds a Timestamp.
func NewTimestamp(seconds int64, nanos int32) (Timestamp, error) {
	if (seconds > 0 && nanos < 0) || (seconds < 0 && nanos > 0) {
		return Timestamp{}, ErrInvalidTimestamp.New(seconds, nanos)
	}
	return Timestamp{Seconds: seconds, Nanos: nanos}, nil
}

// TimestampFromTime converts a time.Time.
func TimestampFromTime(t time.Time) Timestamp {
	ts, err := NewTimestamp(t.Unix(), int32(t.Nanosecond()))
	if err != nil {
		// time.Time nanoseconds are always non-negative; normalize the
		// pre-epoch case by borrowing one second.
		ts = Timestamp{Seconds: t.Unix() + 1, Nanos: int32(t.Nanosecond()) - 1e9}
	}
	return ts
}

// Compare orders timestamps chronologically.
func (t Timestamp) Compare(o Timestamp) int {
	if t.Seconds != o.Seconds {
		if t.Seconds < o.Seconds {
			return -1
		}
		return 1
	}
	if t.Nanos != o.Nanos {
		if t.Nanos < o.Nanos {
			return -1
		}
		return 1
	}
	return 0
}

// Time converts to time.Time.
func (t Timestamp) Time() time.Time {
	return time.Unix(t.Seconds, int64(t.Nanos)).UTC()
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d:%d", t.Seconds, t.Nanos)
}

// IndexData packs the timestamp into the 12-byte buffer consumed by the
// string code path of the search index.
func (t Timestamp) IndexData() []byte {
	var buf [12]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(t.Seconds))
	binary.LittleEndian.PutUint32(buf[8:], uint32(t.Nanos))
	return buf[:]
}
