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

type typeMapHeader struct {
	StartNr uint32
	NextNr  uint32
}

type typeMapPage struct {
	block   *Block
	header  *typeMapHeader
	entries []uint32 // BlockType, host order via ViewHeaderArray
}

func newTypeMapPage(nr LogicalNr, blockSize int, startNr LogicalNr) *typeMapPage {
	b := newBlock(nr, blockSize, Types)
	h, entries := ViewHeaderArray[typeMapHeader, uint32](b)
	h.StartNr = uint32(startNr)
	h.NextNr = 0
	return &typeMapPage{block: b, header: h, entries: entries}
}

func (p *typeMapPage) startNr() LogicalNr { return LogicalNr(p.header.StartNr) }
func (p *typeMapPage) nextNr() LogicalNr  { return LogicalNr(p.header.NextNr) }
func (p *typeMapPage) endNr() LogicalNr   { return p.startNr() + LogicalNr(len(p.entries)) }
func (p *typeMapPage) setNextNr(nr LogicalNr) {
	p.header.NextNr = uint32(nr)
	p.block.dirty = true
}

// entriesPerTypePage returns N from spec section 3.
func entriesPerTypePage(blockSize int) int {
	return (blockSize - 8) / 4
}

// TypeMap owns the logical->BlockType chain and the logical free list.
type TypeMap struct {
	blockSize int
	pages     []*typeMapPage
	free      []LogicalNr
}

func initTypeMap(blockSize int) *TypeMap {
	page := newTypeMapPage(TypesNr, blockSize, 0)
	page.entries[HeaderNr] = uint32(Header)
	page.entries[TypesNr] = uint32(Types)
	page.entries[PhysicalMapNr] = uint32(Physical)
	page.entries[StreamsNr] = uint32(Streams)
	page.block.dirty = true

	tm := &TypeMap{blockSize: blockSize, pages: []*typeMapPage{page}}
	for nr := LogicalNr(len(page.entries)) - 1; nr >= firstFreeNr; nr-- {
		tm.free = append(tm.free, nr)
	}
	return tm
}

func loadTypeMap(f File, blockSize int, rootPnr PhysicalNr, pm *PhysicalMap) (*TypeMap, error) {
	tm := &TypeMap{blockSize: blockSize}

	first := newTypeMapPage(TypesNr, blockSize, 0)
	if err := loadRaw(f, TypesNr, rootPnr, first.block.data); err != nil {
		return nil, err
	}
	tm.pages = []*typeMapPage{first}

	next := first.nextNr()
	for next != 0 {
		nextPnr, err := pm.physicalNr(next)
		if err != nil {
			return nil, err
		}
		page := newTypeMapPage(next, blockSize, 0)
		if err := loadRaw(f, next, nextPnr, page.block.data); err != nil {
			return nil, err
		}
		tm.pages = append(tm.pages, page)
		next = page.nextNr()
	}

	if err := tm.verify(); err != nil {
		return nil, err
	}
	tm.rebuildFreeList()
	return tm, nil
}

func (tm *TypeMap) verify() error {
	wantStart := LogicalNr(0)
	for _, page := range tm.pages {
		if page.startNr() != wantStart {
			return &StructuralError{Reason: fmt.Sprintf("type map page %s: start_nr %s != expected %s", page.block.nr, page.startNr(), wantStart)}
		}
		wantStart = page.endNr()
		for _, raw := range page.entries {
			if raw >= uint32(FirstUserBlockType) {
				continue // application-defined type, nothing further to validate
			}
			switch BlockType(raw) {
			case Free, Header, Types, Physical, Streams:
			default:
				return &StructuralError{Reason: fmt.Sprintf("unknown block type byte %d on disk", raw)}
			}
		}
	}
	if tm.pages[0].startNr() != 0 {
		return &StructuralError{Reason: "type map chain does not start at logical 0"}
	}
	if BlockType(tm.pages[0].entries[HeaderNr]) != Header ||
		BlockType(tm.pages[0].entries[TypesNr]) != Types ||
		BlockType(tm.pages[0].entries[PhysicalMapNr]) != Physical ||
		BlockType(tm.pages[0].entries[StreamsNr]) != Streams {
		return &StructuralError{Reason: "reserved logical numbers 0-3 do not have their fixed types"}
	}
	return nil
}

// rebuildFreeList recomputes the free list from the on-disk type bytes.
// Used after load, where there is no separate free-list bookkeeping on
// disk: a logical number is free iff its stored type is Free.
func (tm *TypeMap) rebuildFreeList() {
	tm.free = tm.free[:0]
	for _, page := range tm.pages {
		for i := len(page.entries) - 1; i >= 0; i-- {
			if BlockType(page.entries[i]) == Free {
				tm.free = append(tm.free, page.startNr()+LogicalNr(i))
			}
		}
	}
}

func (tm *TypeMap) popFree() (LogicalNr, bool) {
	n := len(tm.free)
	if n == 0 {
		return 0, false
	}
	nr := tm.free[n-1]
	tm.free = tm.free[:n-1]
	return nr, true
}

func (tm *TypeMap) pushFree(nr LogicalNr) {
	tm.free = append(tm.free, nr)
}

// freeCount reports how many logical numbers remain on the free list.
func (tm *TypeMap) freeCount() int { return len(tm.free) }

func (tm *TypeMap) pageFor(nr LogicalNr) (*typeMapPage, int, error) {
	idx := int(nr) / entriesPerTypePage(tm.blockSize)
	if idx < 0 || idx >= len(tm.pages) {
		return nil, 0, newUsageError(KindInvalidBlockNr, nr)
	}
	page := tm.pages[idx]
	off := int(nr) - int(page.startNr())
	if off < 0 || off >= len(page.entries) {
		return nil, 0, newUsageError(KindInvalidBlockNr, nr)
	}
	return page, off, nil
}

func (tm *TypeMap) typeOf(nr LogicalNr) (BlockType, error) {
	page, off, err := tm.pageFor(nr)
	if err != nil {
		return 0, err
	}
	return BlockType(page.entries[off]), nil
}

func (tm *TypeMap) setType(nr LogicalNr, t BlockType) error {
	page, off, err := tm.pageFor(nr)
	if err != nil {
		return err
	}
	page.entries[off] = uint32(t)
	page.block.dirty = true
	return nil
}

// appendBlockmap links a freshly allocated page (logical number newNr) as
// the chain's new tail and prepends its entire range to the free list.
func (tm *TypeMap) appendBlockmap(newNr LogicalNr) {
	last := tm.pages[len(tm.pages)-1]
	last.setNextNr(newNr)
	start := last.endNr()
	page := newTypeMapPage(newNr, tm.blockSize, start)
	page.block.dirty = true
	tm.pages = append(tm.pages, page)

	for i := len(page.entries) - 1; i >= 0; i-- {
		tm.free = append(tm.free, start+LogicalNr(i))
	}
}

// iterDirty yields the logical numbers of every dirty type-map page.
func (tm *TypeMap) iterDirty() []LogicalNr {
	var out []LogicalNr
	for _, page := range tm.pages {
		if page.block.dirty {
			out = append(out, page.block.nr)
		}
	}
	return out
}

func (tm *TypeMap) pageByNr(nr LogicalNr) *typeMapPage {
	for _, page := range tm.pages {
		if page.block.nr == nr {
			return page
		}
	}
	return nil
}

// IterTypes calls fn for every (logical number, type) pair matching filter,
// in ascending logical order. A nil filter matches everything.
func (tm *TypeMap) IterTypes(filter func(BlockType) bool, fn func(LogicalNr, BlockType)) {
	for _, page := range tm.pages {
		for i, raw := range page.entries {
			t := BlockType(raw)
			if filter == nil || filter(t) {
				fn(page.startNr()+LogicalNr(i), t)
			}
		}
	}
}

// IterTypesReverse is the descending-order counterpart of IterTypes, for
// callers that need to scan from the high end of the address space (e.g. a
// future compaction pass looking for the last live block).
func (tm *TypeMap) IterTypesReverse(filter func(BlockType) bool, fn func(LogicalNr, BlockType)) {
	for i := len(tm.pages) - 1; i >= 0; i-- {
		page := tm.pages[i]
		for j := len(page.entries) - 1; j >= 0; j-- {
			t := BlockType(page.entries[j])
			if filter == nil || filter(t) {
				fn(page.startNr()+LogicalNr(j), t)
			}
		}
	}
}
