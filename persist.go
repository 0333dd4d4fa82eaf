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

package tern

import (
	"encoding/binary"

	"github.com/terndb/tern/tdb"
	"github.com/terndb/tern/tdb/alloc"
	"github.com/terndb/tern/tdb/array"
	"github.com/terndb/tern/tdb/table"
)

// Persisted directory layout, all little-endian:
//
//	top array:        slot 0 = tables dir ref, slot 1 = free-list ref
//	tables dir:       one slot per table-state ref
//	table state:      slot 0 = name blob, 1 = tagged table key,
//	                  2 = schema array ref, 3 = cluster tree root,
//	                  4 = tagged row count, 5 = tagged next object key,
//	                  6 = tagged next column key, 7 = tagged primary key,
//	                  8 = tagged content version, 9 = index map ref
//	schema array:     one column-spec blob per column
//	index map:        pairs of (tagged column key, index container ref)
//	free list:        flat pairs of (tagged ref, tagged size)
const (
	stateSlotName = iota
	stateSlotKey
	stateSlotSchema
	stateSlotTreeRoot
	stateSlotTreeSize
	stateSlotNextObjKey
	stateSlotNextColKey
	stateSlotPrimaryKey
	stateSlotVersion
	stateSlotIndexes
	stateSlotCount
)

func encodeColumnSpec(spec tdb.ColumnSpec) []byte {
	buf := make([]byte, 0, 22+len(spec.Name))
	var scratch [4]byte
	putU32 := func(v uint32) {
		binary.LittleEndian.PutUint32(scratch[:], v)
		buf = append(buf, scratch[:]...)
	}
	putU32(uint32(spec.Key))
	buf = append(buf, byte(spec.Type), boolByte(spec.Nullable), byte(spec.Collection), boolByte(spec.Backlink))
	putU32(uint32(spec.Target))
	putU32(uint32(spec.OriginTable))
	putU32(uint32(spec.OriginColumn))
	buf = append(buf, []byte(spec.Name)...)
	return buf
}

func decodeColumnSpec(data []byte) tdb.ColumnSpec {
	spec := tdb.ColumnSpec{
		Key:          tdb.ColKey(binary.LittleEndian.Uint32(data[0:4])),
		Type:         tdb.DataType(data[4]),
		Nullable:     data[5] != 0,
		Collection:   tdb.CollectionKind(data[6]),
		Backlink:     data[7] != 0,
		Target:       tdb.TableKey(binary.LittleEndian.Uint32(data[8:12])),
		OriginTable:  tdb.TableKey(binary.LittleEndian.Uint32(data[12:16])),
		OriginColumn: tdb.ColKey(binary.LittleEndian.Uint32(data[16:20])),
	}
	spec.Name = string(data[20:])
	return spec
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// writeDirectory serializes every table's state and returns the new top
// ref. The previous directory is released into the pending free list.
func (g *Group) writeDirectory() (alloc.Ref, error) {
	if prev := g.alloc.TopRef(); !prev.IsNull() {
		g.freeDirectory(prev)
	}

	dir := array.Create(g.alloc, array.TypeHasRefs, false)
	for key := uint32(0); key < g.nextTableKey; key++ {
		t, ok := g.tables[tdb.TableKey(key)]
		if !ok {
			continue
		}
		dir.Add(int64(g.writeTableState(t.State())))
	}

	freeList := array.Create(g.alloc, array.TypeNormal, false)
	for _, blk := range g.alloc.FreeBlocks() {
		freeList.Add(array.TagValue(int64(blk.Ref)))
		freeList.Add(array.TagValue(int64(blk.Size)))
	}

	top := array.Create(g.alloc, array.TypeHasRefs, false)
	top.Add(int64(dir.Ref()))
	top.Add(int64(freeList.Ref()))
	return top.Ref(), nil
}

func (g *Group) writeTableState(s table.State) alloc.Ref {
	schema := array.Create(g.alloc, array.TypeHasRefs, false)
	for _, spec := range s.Cols {
		schema.Add(int64(array.WriteBlob(g.alloc, encodeColumnSpec(spec))))
	}

	indexes := array.Create(g.alloc, array.TypeHasRefs, false)
	for _, spec := range s.Cols {
		if ref, ok := s.Indexes[spec.Key]; ok {
			indexes.Add(array.TagValue(int64(spec.Key)))
			indexes.Add(int64(ref))
		}
	}

	state := array.Create(g.alloc, array.TypeHasRefs, false)
	for i := 0; i < stateSlotCount; i++ {
		state.Add(0)
	}
	state.SetRef(stateSlotName, array.WriteBlob(g.alloc, []byte(s.Name)))
	state.Set(stateSlotKey, array.TagValue(int64(s.Key)))
	state.SetRef(stateSlotSchema, schema.Ref())
	state.SetRef(stateSlotTreeRoot, s.TreeRoot)
	state.Set(stateSlotTreeSize, array.TagValue(s.TreeSize))
	state.Set(stateSlotNextObjKey, array.TagValue(s.NextObjKey))
	state.Set(stateSlotNextColKey, array.TagValue(int64(s.NextColKey)))
	state.Set(stateSlotPrimaryKey, array.TagValue(int64(uint32(s.PrimaryKey))))
	state.Set(stateSlotVersion, array.TagValue(int64(s.Version)))
	state.SetRef(stateSlotIndexes, indexes.Ref())
	return state.Ref()
}

// freeDirectory releases the directory arrays at topRef. Table data (trees,
// indexes) is owned by the live tables and stays.
func (g *Group) freeDirectory(topRef alloc.Ref) {
	top := array.New(g.alloc).InitFromRef(topRef)
	dirRef := top.GetAsRef(0)
	if !dirRef.IsNull() {
		dir := array.New(g.alloc).InitFromRef(dirRef)
		for i := 0; i < dir.Size(); i++ {
			stateRef := dir.GetAsRef(i)
			if stateRef.IsNull() {
				continue
			}
			state := array.New(g.alloc).InitFromRef(stateRef)
			if nameRef := state.GetAsRef(stateSlotName); !nameRef.IsNull() {
				array.FreeBlob(g.alloc, nameRef)
			}
			if schemaRef := state.GetAsRef(stateSlotSchema); !schemaRef.IsNull() {
				schema := array.New(g.alloc).InitFromRef(schemaRef)
				for j := 0; j < schema.Size(); j++ {
					if blobRef := schema.GetAsRef(j); !blobRef.IsNull() {
						array.FreeBlob(g.alloc, blobRef)
					}
				}
				schema.Destroy()
			}
			if idxRef := state.GetAsRef(stateSlotIndexes); !idxRef.IsNull() {
				array.New(g.alloc).InitFromRef(idxRef).Destroy()
			}
			state.Destroy()
		}
		dir.Destroy()
	}
	if freeRef := top.GetAsRef(1); !freeRef.IsNull() {
		array.New(g.alloc).InitFromRef(freeRef).Destroy()
	}
	top.Destroy()
}

// loadDirectory rebuilds the tables from the directory at topRef.
func (g *Group) loadDirectory(topRef alloc.Ref) error {
	if topRef.IsNull() {
		return nil
	}
	top := array.New(g.alloc).InitFromRef(topRef)
	if top.Size() < 2 {
		return tdb.ErrCorrupt.New("top array is too small")
	}

	dirRef := top.GetAsRef(0)
	dir := array.New(g.alloc).InitFromRef(dirRef)
	for i := 0; i < dir.Size(); i++ {
		stateRef := dir.GetAsRef(i)
		if stateRef.IsNull() {
			continue
		}
		s, err := g.readTableState(stateRef)
		if err != nil {
			return err
		}
		t := table.FromState(g.alloc, s, g, g.logger())
		g.tables[s.Key] = t
		g.byName[s.Name] = s.Key
		if uint32(s.Key) >= g.nextTableKey {
			g.nextTableKey = uint32(s.Key) + 1
		}
	}

	if freeRef := top.GetAsRef(1); !freeRef.IsNull() {
		freeList := array.New(g.alloc).InitFromRef(freeRef)
		blocks := make([]alloc.FreeBlock, 0, freeList.Size()/2)
		for i := 0; i+1 < freeList.Size(); i += 2 {
			blocks = append(blocks, alloc.FreeBlock{
				Ref:  alloc.Ref(array.UntagValue(freeList.Get(i))),
				Size: int(array.UntagValue(freeList.Get(i + 1))),
			})
		}
		g.alloc.RestoreFreeBlocks(blocks)
	}
	return nil
}

func (g *Group) readTableState(stateRef alloc.Ref) (table.State, error) {
	state := array.New(g.alloc).InitFromRef(stateRef)
	if state.Size() < stateSlotCount {
		return table.State{}, tdb.ErrCorrupt.New("table state array is too small")
	}
	s := table.State{
		Name:       string(array.ReadBlob(g.alloc, state.GetAsRef(stateSlotName))),
		Key:        tdb.TableKey(array.UntagValue(state.Get(stateSlotKey))),
		TreeRoot:   state.GetAsRef(stateSlotTreeRoot),
		TreeSize:   array.UntagValue(state.Get(stateSlotTreeSize)),
		NextObjKey: array.UntagValue(state.Get(stateSlotNextObjKey)),
		NextColKey: uint32(array.UntagValue(state.Get(stateSlotNextColKey))),
		PrimaryKey: tdb.ColKey(uint32(array.UntagValue(state.Get(stateSlotPrimaryKey)))),
		Version:    uint64(array.UntagValue(state.Get(stateSlotVersion))),
		Indexes:    make(map[tdb.ColKey]alloc.Ref),
	}

	schema := array.New(g.alloc).InitFromRef(state.GetAsRef(stateSlotSchema))
	for i := 0; i < schema.Size(); i++ {
		s.Cols = append(s.Cols, decodeColumnSpec(array.ReadBlob(g.alloc, schema.GetAsRef(i))))
	}

	indexes := array.New(g.alloc).InitFromRef(state.GetAsRef(stateSlotIndexes))
	for i := 0; i+1 < indexes.Size(); i += 2 {
		col := tdb.ColKey(array.UntagValue(indexes.Get(i)))
		s.Indexes[col] = indexes.GetAsRef(i + 1)
	}
	return s, nil
}
