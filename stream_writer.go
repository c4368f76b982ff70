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

// lastOfType returns the highest logical number currently holding type t, in
// allocation order (ascending logical number, which IterTypes already walks
// in), and whether any block of that type exists at all.
func (s *Store) lastOfType(t BlockType) (LogicalNr, bool) {
	var last LogicalNr
	found := false
	s.types.IterTypes(func(bt BlockType) bool { return bt == t }, func(nr LogicalNr, _ BlockType) {
		last = nr
		found = true
	})
	return last, found
}

// StreamWriter appends bytes across a sequence of same-typed blocks,
// allocating a new block whenever the current one fills (spec section 4.8).
type StreamWriter struct {
	store *Store
	t     BlockType
	align int
	block *Block
	head  uint32
}

// AppendStream opens a writer for t, continuing from wherever the stream last
// left off (or starting a fresh block if t has never been written).
func (s *Store) AppendStream(t BlockType, align int) (*StreamWriter, error) {
	if t < FirstUserBlockType {
		return nil, ErrNotStreamable
	}

	nr, found := s.lastOfType(t)
	var b *Block
	var head uint32
	if found {
		bl, err := s.GetMut(nr)
		if err != nil {
			return nil, err
		}
		b = bl
		head, _ = s.streams.headIdx(t)
	} else {
		bl, err := s.Alloc(t, align)
		if err != nil {
			return nil, err
		}
		b = bl
	}
	b.dirty = true
	b.discard = true

	return &StreamWriter{store: s, t: t, align: align, block: b, head: head}, nil
}

// Write appends p to the stream, crossing block boundaries as needed. It
// always either writes every byte of p or returns a non-nil error.
func (w *StreamWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		room := len(w.block.data) - int(w.head)
		n := len(p)
		if n > room {
			n = room
		}
		copy(w.block.data[w.head:], p[:n])
		w.head += uint32(n)
		p = p[n:]
		written += n

		if len(p) > 0 {
			nb, err := w.store.Alloc(w.t, w.align)
			if err != nil {
				w.store.streams.setHeadIdx(w.t, w.head)
				return written, err
			}
			nb.dirty = true
			nb.discard = true
			w.block = nb
			w.head = 0
		}
	}
	if err := w.store.streams.setHeadIdx(w.t, w.head); err != nil {
		return written, err
	}
	return written, nil
}
