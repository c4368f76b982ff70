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

	"github.com/SnellerInc/blockmap/internal/ints"
)

// physMapHeader is the fixed part of a physical-map page.
type physMapHeader struct {
	StartNr uint32
	NextNr  uint32
}

type physMapPage struct {
	block   *Block
	header  *physMapHeader
	entries []uint32 // PhysicalNr, host order via ViewHeaderArray
}

func newPhysMapPage(nr LogicalNr, blockSize int, startNr LogicalNr) *physMapPage {
	b := newBlock(nr, blockSize, Physical)
	h, entries := ViewHeaderArray[physMapHeader, uint32](b)
	h.StartNr = uint32(startNr)
	h.NextNr = 0
	return &physMapPage{block: b, header: h, entries: entries}
}

func (p *physMapPage) startNr() LogicalNr { return LogicalNr(p.header.StartNr) }
func (p *physMapPage) nextNr() LogicalNr  { return LogicalNr(p.header.NextNr) }
func (p *physMapPage) endNr() LogicalNr   { return p.startNr() + LogicalNr(len(p.entries)) }
func (p *physMapPage) setNextNr(nr LogicalNr) {
	p.header.NextNr = uint32(nr)
	p.block.dirty = true
}

// PhysicalMap owns the logical->physical mapping chain, the physical
// free-slot list, and the high-water mark for never-yet-used slots.
type PhysicalMap struct {
	blockSize int
	pages     []*physMapPage
	free      []PhysicalNr
	maxPnr    PhysicalNr
}

// entriesPerPhysPage returns M from spec section 3.
func entriesPerPhysPage(blockSize int) int {
	return (blockSize - 8) / 4
}

func initPhysicalMap(blockSize int) *PhysicalMap {
	page := newPhysMapPage(PhysicalMapNr, blockSize, 0)
	page.block.dirty = true
	pm := &PhysicalMap{blockSize: blockSize, pages: []*physMapPage{page}}
	pm.rebuildFreeList(0)
	return pm
}

func loadPhysicalMap(f File, blockSize int, rootPnr PhysicalNr) (*PhysicalMap, error) {
	pm := &PhysicalMap{blockSize: blockSize}

	first := newPhysMapPage(PhysicalMapNr, blockSize, 0)
	if err := loadRaw(f, PhysicalMapNr, rootPnr, first.block.data); err != nil {
		return nil, err
	}
	pm.pages = []*physMapPage{first}

	next := first.nextNr()
	for next != 0 {
		nextPnr, err := pm.physicalNr(next)
		if err != nil {
			return nil, err
		}
		page := newPhysMapPage(next, blockSize, 0)
		if err := loadRaw(f, next, nextPnr, page.block.data); err != nil {
			return nil, err
		}
		pm.pages = append(pm.pages, page)
		next = page.nextNr()
	}

	if err := pm.verify(); err != nil {
		return nil, err
	}

	fileSize, err := size(f)
	if err != nil {
		return nil, err
	}
	pm.rebuildFreeList(fileSize)
	return pm, nil
}

func (pm *PhysicalMap) verify() error {
	seen := make(map[PhysicalNr]LogicalNr)
	wantStart := LogicalNr(0)
	for _, page := range pm.pages {
		if page.startNr() != wantStart {
			return &StructuralError{Reason: fmt.Sprintf("physical map page %s: start_nr %s != expected %s", page.block.nr, page.startNr(), wantStart)}
		}
		wantStart = page.endNr()
		for i, raw := range page.entries {
			if raw == 0 {
				continue
			}
			pnr := PhysicalNr(raw)
			nr := page.startNr() + LogicalNr(i)
			if prior, ok := seen[pnr]; ok {
				return &StructuralError{Reason: fmt.Sprintf("physical slot %s referenced by both %s and %s", pnr, prior, nr)}
			}
			seen[pnr] = nr
		}
	}
	return nil
}

// rebuildFreeList rebuilds the free-slot stack from the set of slots
// actually referenced by the map and the current file size (spec section
// 4.5). Slot 0 (the header) is always considered used.
func (pm *PhysicalMap) rebuildFreeList(fileSize int64) {
	numSlots := int(fileSize / int64(pm.blockSize))
	words := make([]uint64, (numSlots+63)/64+1)
	ints.SetBit(words, 0)
	for _, page := range pm.pages {
		for _, raw := range page.entries {
			if raw != 0 {
				ints.SetBit(words, int(raw))
			}
		}
	}

	pm.free = pm.free[:0]
	pm.maxPnr = 0
	if numSlots > 0 {
		pm.maxPnr = PhysicalNr(numSlots - 1)
	}
	for i := numSlots - 1; i >= 0; i-- {
		if !ints.TestBit(words, i) {
			pm.free = append(pm.free, PhysicalNr(i))
		}
	}
}

// popFree returns a physical slot to write into: a reclaimed hole if one is
// available, otherwise the next slot past the current high-water mark.
func (pm *PhysicalMap) popFree() PhysicalNr {
	if n := len(pm.free); n > 0 {
		nr := pm.free[n-1]
		pm.free = pm.free[:n-1]
		return nr
	}
	pm.maxPnr++
	return pm.maxPnr
}

func (pm *PhysicalMap) pageFor(nr LogicalNr) (*physMapPage, int, error) {
	idx := int(nr) / entriesPerPhysPage(pm.blockSize)
	if idx < 0 || idx >= len(pm.pages) {
		return nil, 0, newUsageError(KindInvalidBlockNr, nr)
	}
	page := pm.pages[idx]
	off := int(nr) - int(page.startNr())
	if off < 0 || off >= len(page.entries) {
		return nil, 0, newUsageError(KindInvalidBlockNr, nr)
	}
	return page, off, nil
}

func (pm *PhysicalMap) physicalNr(nr LogicalNr) (PhysicalNr, error) {
	page, off, err := pm.pageFor(nr)
	if err != nil {
		return 0, err
	}
	return PhysicalNr(page.entries[off]), nil
}

func (pm *PhysicalMap) setPhysicalNr(nr LogicalNr, pnr PhysicalNr) error {
	page, off, err := pm.pageFor(nr)
	if err != nil {
		return err
	}
	page.entries[off] = uint32(pnr)
	page.block.dirty = true
	return nil
}

// appendBlockmap links a freshly allocated page (logical number newNr) as
// the chain's new tail.
func (pm *PhysicalMap) appendBlockmap(newNr LogicalNr) {
	last := pm.pages[len(pm.pages)-1]
	last.setNextNr(newNr)
	page := newPhysMapPage(newNr, pm.blockSize, last.endNr())
	page.block.dirty = true
	pm.pages = append(pm.pages, page)
}

// iterDirty yields the logical numbers of every dirty physical-map page.
func (pm *PhysicalMap) iterDirty() []LogicalNr {
	var out []LogicalNr
	for _, page := range pm.pages {
		if page.block.dirty {
			out = append(out, page.block.nr)
		}
	}
	return out
}

func (pm *PhysicalMap) pageByNr(nr LogicalNr) *physMapPage {
	for _, page := range pm.pages {
		if page.block.nr == nr {
			return page
		}
	}
	return nil
}

// maxLogical returns one past the highest logical number this map covers.
func (pm *PhysicalMap) maxLogical() LogicalNr {
	if len(pm.pages) == 0 {
		return 0
	}
	return pm.pages[len(pm.pages)-1].endNr()
}

// freeSlotCount reports the number of reusable holes currently on the
// physical free list (for diagnostics; see Store.FreePhysicalCount).
func (pm *PhysicalMap) freeSlotCount() int { return len(pm.free) }
