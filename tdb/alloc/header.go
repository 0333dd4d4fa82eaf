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

package alloc

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// HeaderSize is the size of the file header in bytes.
const HeaderSize = 24

// FileFormatVersion is the current on-media format version.
const FileFormatVersion = 1

// magic opens every database file.
var magic = [4]byte{'T', '-', 'D', 'B'}

// slotFlag selects which of the two top-ref slots is current. Commits write
// the new top ref into the other slot and flip the flag, so a torn write
// never destroys the previous consistent snapshot.
const slotFlag = 0x01

// Header is the decoded 24-byte file header: magic, format version, flags
// and two top refs used for MVCC commit.
type Header struct {
	Version byte
	Flags   byte
	TopRefs [2]Ref
}

// NewHeader builds a header for an empty file.
func NewHeader() *Header {
	return &Header{Version: FileFormatVersion}
}

// DecodeHeader reads a header from the start of an image.
func DecodeHeader(image []byte) (*Header, error) {
	if len(image) < HeaderSize {
		return nil, errors.Errorf("file of %d bytes is too small to hold a header", len(image))
	}
	if image[0] != magic[0] || image[1] != magic[1] || image[2] != magic[2] || image[3] != magic[3] {
		return nil, errors.New("bad magic, not a database file")
	}
	h := &Header{
		Version: image[4],
		Flags:   image[5],
	}
	if h.Version > FileFormatVersion {
		return nil, errors.Errorf("unsupported file format version %d", h.Version)
	}
	h.TopRefs[0] = Ref(binary.LittleEndian.Uint64(image[6:14]))
	h.TopRefs[1] = Ref(binary.LittleEndian.Uint64(image[14:22]))
	return h, nil
}

// EncodeTo writes the header into the start of an image.
func (h *Header) EncodeTo(image []byte) {
	copy(image[0:4], magic[:])
	image[4] = h.Version
	image[5] = h.Flags
	binary.LittleEndian.PutUint64(image[6:14], uint64(h.TopRefs[0]))
	binary.LittleEndian.PutUint64(image[14:22], uint64(h.TopRefs[1]))
	image[22] = 0
	image[23] = 0
}

// CurrentTopRef returns the top ref selected by the flags byte.
func (h *Header) CurrentTopRef() Ref {
	return h.TopRefs[h.Flags&slotFlag]
}

// PreviousTopRef returns the top ref of the preceding commit.
func (h *Header) PreviousTopRef() Ref {
	return h.TopRefs[(h.Flags&slotFlag)^1]
}

// SwapTopRef stores ref into the non-current slot and flips the selector.
func (h *Header) SwapTopRef(ref Ref) {
	slot := (h.Flags & slotFlag) ^ 1
	h.TopRefs[slot] = ref
	h.Flags ^= slotFlag
}
