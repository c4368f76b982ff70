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

import (
	"fmt"
	"unsafe"

	"github.com/SnellerInc/blockmap/internal/ints"
)

// Block is one in-memory, block-size buffer plus the bookkeeping the
// allocator needs to decide whether (and where) to persist it.
type Block struct {
	nr         LogicalNr
	blockType  BlockType
	physical   PhysicalNr
	data       []byte
	dirty      bool
	discard    bool
	generation uint32
}

// newBlock allocates a zeroed, block-size buffer for logical number nr.
func newBlock(nr LogicalNr, blockSize int, blockType BlockType) *Block {
	return &Block{
		nr:        nr,
		blockType: blockType,
		data:      make([]byte, blockSize),
	}
}

// BlockNr returns the block's logical number.
func (b *Block) BlockNr() LogicalNr { return b.nr }

// Type returns the block's type tag.
func (b *Block) Type() BlockType { return b.blockType }

// Dirty reports whether the block has pending changes not yet committed.
func (b *Block) Dirty() bool { return b.dirty }

// SetDirty marks the block as having pending changes. Callers mutating a
// block through a *T view obtained from View/ViewArray/ViewHeaderArray must
// call this themselves; the views do not do it implicitly.
func (b *Block) SetDirty(dirty bool) { b.dirty = dirty }

// Discard reports whether the block will be evicted from the cache once the
// in-progress (or next) commit finishes.
func (b *Block) Discard() bool { return b.discard }

// SetDiscard marks the block for eviction after the next successful commit.
// If the block isn't dirty, callers should prefer evicting it immediately
// instead (see Store.Discard).
func (b *Block) SetDiscard(discard bool) { b.discard = discard }

// Generation returns the commit generation at which this block was last
// written to disk, or 0 if it has never been committed.
func (b *Block) Generation() uint32 { return b.generation }

// Bytes returns the block's raw backing buffer.
func (b *Block) Bytes() []byte { return b.data }

// Len returns the block size in bytes.
func (b *Block) Len() int { return len(b.data) }

func checkView[T any](data []byte) (*T, error) {
	var zero T
	size := int(unsafe.Sizeof(zero))
	align := int(unsafe.Alignof(zero))
	if size > len(data) {
		return nil, fmt.Errorf("blockmap: view of %d bytes exceeds block size %d", size, len(data))
	}
	if uintptr(unsafe.Pointer(&data[0]))%uintptr(align) != 0 {
		return nil, fmt.Errorf("blockmap: block buffer not aligned to %d bytes for view", align)
	}
	return (*T)(unsafe.Pointer(&data[0])), nil
}

// View casts the block's buffer to a fixed-size header type T. It panics if
// T doesn't fit within the block, mirroring a programmer error rather than a
// recoverable runtime condition (the block size / type pairing is decided at
// compile time by the caller).
func View[T any](b *Block) *T {
	v, err := checkView[T](b.data)
	if err != nil {
		panic(err)
	}
	return v
}

// ViewArray casts the block's entire buffer to a slice of T.
func ViewArray[T any](b *Block) []T {
	var zero T
	size := int(unsafe.Sizeof(zero))
	n := len(b.data) / size
	return unsafe.Slice((*T)(unsafe.Pointer(&b.data[0])), n)
}

// ViewHeaderArray casts the block's buffer as a fixed header H followed,
// after padding to T's alignment, by as many T as fit in the remainder.
func ViewHeaderArray[H, T any](b *Block) (*H, []T) {
	h := View[H](b)
	var zeroT T
	hsize := int(unsafe.Sizeof(*h))
	talign := int(unsafe.Alignof(zeroT))
	tsize := int(unsafe.Sizeof(zeroT))
	off := ints.AlignUp(uint(hsize), uint(talign))
	n := (len(b.data) - int(off)) / tsize
	if n < 0 {
		n = 0
	}
	arr := unsafe.Slice((*T)(unsafe.Pointer(&b.data[off])), n)
	return h, arr
}
