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

import "fmt"

// LogicalNr is a stable logical block number. Once assigned to a block it
// never changes; after Store.Free it returns to the free list and a later
// Alloc may hand it out again.
type LogicalNr uint32

// String implements fmt.Stringer.
func (n LogicalNr) String() string {
	return fmt.Sprintf("[%d]", uint32(n))
}

// PhysicalNr is the index of a block-sized slot within the backing file.
// Offset of the slot is PhysicalNr * block size. Zero denotes both the
// header's slot and "no slot assigned" for every other block.
type PhysicalNr uint32

// String implements fmt.Stringer.
func (n PhysicalNr) String() string {
	return fmt.Sprintf("*%d", uint32(n))
}

// BlockType is a small integer tag distinguishing kinds of blocks.
type BlockType uint32

// Reserved block types. Applications may use any value >= FirstUserBlockType.
const (
	// Free marks a logical number that carries no live data. It is the
	// type of every entry on the type map's free list, and the only
	// "unused" state ever surfaced to callers (spec section 9: a single
	// Free state, not split between "never allocated" and "freed").
	Free BlockType = iota
	Header
	Types
	Physical
	Streams

	// FirstUserBlockType is the first block type value available to
	// applications.
	FirstUserBlockType
)

func (t BlockType) String() string {
	switch t {
	case Free:
		return "Free"
	case Header:
		return "Header"
	case Types:
		return "Types"
	case Physical:
		return "Physical"
	case Streams:
		return "Streams"
	default:
		return fmt.Sprintf("User(%d)", uint32(t))
	}
}

// Reserved logical numbers. Each has a fixed role and is never reassigned.
const (
	HeaderNr      LogicalNr = 0
	TypesNr       LogicalNr = 1
	PhysicalMapNr LogicalNr = 2
	StreamsNr     LogicalNr = 3

	// firstFreeNr is the first logical number available to applications.
	firstFreeNr LogicalNr = 4
)

// MinBlockSize is the minimum block size named by the format (spec section
// 6). HeaderSize is the true minimum a store can function with, since the
// header's dual root triples need all 32 bytes; see DESIGN.md.
const (
	MinBlockSize = 24
	HeaderSize   = 32
)
