// Copyright (C) 2024 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package blockmap

// streamEntry is one (type, write-cursor) pair. HeadIdx is a byte offset
// within the last allocated block of that type where the next write lands;
// 0 means the stream has never been written.
type streamEntry struct {
	Type    uint32
	HeadIdx uint32
}

// StreamsBlock is the single, fixed-size logical block (number 3) recording
// the current write cursor for every block type that has ever been used as
// a stream. It starts clean: unlike the type map and physical map, which
// must describe the other reserved blocks from the moment the store is
// created, the streams block carries no information until a caller actually
// appends to a stream for the first time.
type StreamsBlock struct {
	block   *Block
	entries []streamEntry
}

// streamsCapacity returns how many distinct stream types a block of this size can
// track (spec section 4.6).
func streamsCapacity(blockSize int) int {
	return blockSize / 8
}

func initStreamsBlock(blockSize int) *StreamsBlock {
	b := newBlock(StreamsNr, blockSize, Streams)
	entries := ViewArray[streamEntry](b)
	return &StreamsBlock{block: b, entries: entries}
}

func loadStreamsBlock(f File, blockSize int, pnr PhysicalNr) (*StreamsBlock, error) {
	s := initStreamsBlock(blockSize)
	if err := loadRaw(f, StreamsNr, pnr, s.block.data); err != nil {
		return nil, err
	}
	return s, nil
}

// headIdx returns the current write cursor for t, and whether the type has
// an entry at all. Absent types read as offset 0 (spec section 4.6).
func (s *StreamsBlock) headIdx(t BlockType) (uint32, bool) {
	for i := range s.entries {
		e := &s.entries[i]
		if e.Type == 0 && e.HeadIdx == 0 {
			continue
		}
		if BlockType(e.Type) == t {
			return e.HeadIdx, true
		}
	}
	return 0, false
}

// setHeadIdx records off as the new write cursor for t, allocating a fresh
// entry slot the first time t is seen. Returns ErrMaxStreams if every
// slot is already bound to some other type.
func (s *StreamsBlock) setHeadIdx(t BlockType, off uint32) error {
	free := -1
	for i := range s.entries {
		e := &s.entries[i]
		if BlockType(e.Type) == t && (e.Type != 0 || e.HeadIdx != 0) {
			e.HeadIdx = off
			s.block.dirty = true
			return nil
		}
		if free == -1 && e.Type == 0 && e.HeadIdx == 0 && t != Free {
			free = i
		}
	}
	if free == -1 {
		return newUsageError(KindMaxStreamsExceeded, 0)
	}
	s.entries[free] = streamEntry{Type: uint32(t), HeadIdx: off}
	s.block.dirty = true
	return nil
}

// iterTypes calls fn for every stream type currently tracked.
func (s *StreamsBlock) iterTypes(fn func(BlockType, uint32)) {
	for _, e := range s.entries {
		if e.Type == 0 && e.HeadIdx == 0 {
			continue
		}
		fn(BlockType(e.Type), e.HeadIdx)
	}
}
