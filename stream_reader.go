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

import "io"

// StreamReader sequentially reads every block of one type in allocation
// order, treating the last block's write cursor as the logical end of the
// stream (spec section 4.8).
type StreamReader struct {
	store  *Store
	t      BlockType
	blocks []LogicalNr
	head   uint32

	idx   int
	block *Block
	pos   uint32
}

// ReadStream snapshots the ordered list of blocks currently holding type t
// and opens a reader over their concatenated contents.
func (s *Store) ReadStream(t BlockType) (*StreamReader, error) {
	if t < FirstUserBlockType {
		return nil, ErrNotStreamable
	}

	var nrs []LogicalNr
	s.types.IterTypes(func(bt BlockType) bool { return bt == t }, func(nr LogicalNr, _ BlockType) {
		nrs = append(nrs, nr)
	})
	head, _ := s.streams.headIdx(t)

	r := &StreamReader{store: s, t: t, blocks: nrs, head: head}
	if len(nrs) > 0 {
		b, err := s.Get(nrs[0])
		if err != nil {
			return nil, err
		}
		r.block = b
	}
	return r, nil
}

// limit returns how many bytes of the current block belong to the stream:
// the whole block, unless it is the last one, in which case only up to the
// recorded write cursor.
func (r *StreamReader) limit() uint32 {
	if r.idx == len(r.blocks)-1 {
		return r.head
	}
	return uint32(len(r.block.data))
}

// Read implements io.Reader, advancing across block boundaries transparently
// and discarding each block from the cache once fully consumed.
func (r *StreamReader) Read(p []byte) (int, error) {
	if r.block == nil {
		return 0, io.EOF
	}

	read := 0
	for len(p) > 0 {
		lim := r.limit()
		if r.pos >= lim {
			r.store.Discard(r.block.BlockNr())
			r.idx++
			r.pos = 0
			if r.idx >= len(r.blocks) {
				r.block = nil
				if read == 0 {
					return 0, io.EOF
				}
				return read, nil
			}
			b, err := r.store.Get(r.blocks[r.idx])
			if err != nil {
				return read, err
			}
			r.block = b
			continue
		}

		n := copy(p, r.block.data[r.pos:lim])
		r.pos += uint32(n)
		p = p[n:]
		read += n
	}
	return read, nil
}
