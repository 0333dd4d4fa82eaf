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
	"encoding/hex"
	"fmt"
)

// ObjectID is a 12-byte object identifier: a 4-byte big-endian timestamp
// followed by 8 random bytes.
type ObjectID [12]byte

// ObjectIDFromString parses a 24-character hex representation.
func ObjectIDFromString(s string) (ObjectID, error) {
	var id ObjectID
	if len(s) != 24 {
		return id, fmt.Errorf("objectId %q must be 24 hex characters", s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, err
	}
	copy(id[:], b)
	return id, nil
}

// Compare orders object ids bytewise, which orders them by creation time
// first.
func (id ObjectID) Compare(o ObjectID) int {
	return bytes.Compare(id[:], o[:])
}

func (id ObjectID) String() string {
	return hex.EncodeToString(id[:])
}
