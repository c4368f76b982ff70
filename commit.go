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

// crashPhases names the eleven numbered phases of the commit protocol (spec
// section 4.7), used only by setCrashPhase in tests.
const crashPhases = 11

// setCrashPhase arranges for Commit to panic immediately after completing
// phase n, simulating a crash mid-commit. n must be in [1, crashPhases]. Used
// exclusively by this package's own recovery tests.
func (s *Store) setCrashPhase(n int) {
	s.storePanic = n
}

func (s *Store) maybeCrash(phase int) {
	if s.storePanic != 0 && phase == s.storePanic {
		panic(fmt.Sprintf("blockmap: simulated crash after commit phase %d", phase))
	}
}

// Commit runs the ordered copy-on-write commit protocol: every dirty user
// block, the streams block, and dirty type-/physical-map pages are written to
// freshly allocated physical slots; the inactive header root triple is
// updated to point at them; then the header's state byte is flipped and
// synced. That state flip is the sole atomic commit point (phase 9) — a
// crash at any earlier phase leaves the file reading as the previous
// generation in its entirety.
func (s *Store) Commit() error {
	// Phase 1.
	s.generation++
	s.maybeCrash(1)

	// Phase 2: the very first commit ever made against this file has to
	// plant the header, since nothing has been written to slot 0 yet.
	fileSize, err := size(s.file)
	if err != nil {
		return err
	}
	if fileSize == 0 {
		if err := s.header.persist(s.file); err != nil {
			return err
		}
	}
	s.maybeCrash(2)

	var touched []PhysicalNr

	// Phase 3: user blocks.
	for nr, b := range s.cache {
		if !b.dirty {
			continue
		}
		pnr := s.physical.popFree()
		if err := s.physical.setPhysicalNr(nr, pnr); err != nil {
			return err
		}
		if err := storeRaw(s.file, nr, pnr, b.data); err != nil {
			return err
		}
		b.dirty = false
		b.generation = s.generation
		touched = append(touched, pnr)
	}
	s.maybeCrash(3)

	// Phase 4: streams block.
	if s.streams.block.dirty {
		pnr := s.physical.popFree()
		if err := s.physical.setPhysicalNr(StreamsNr, pnr); err != nil {
			return err
		}
		if err := storeRaw(s.file, StreamsNr, pnr, s.streams.block.data); err != nil {
			return err
		}
		s.streams.block.dirty = false
		s.streams.block.generation = s.generation
		touched = append(touched, pnr)
	}
	s.maybeCrash(4)

	// Phase 5: type-map pages.
	for _, nr := range s.types.iterDirty() {
		page := s.types.pageByNr(nr)
		pnr := s.physical.popFree()
		if err := s.physical.setPhysicalNr(nr, pnr); err != nil {
			return err
		}
		if err := storeRaw(s.file, nr, pnr, page.block.data); err != nil {
			return err
		}
		page.block.dirty = false
		page.block.generation = s.generation
		touched = append(touched, pnr)
	}
	s.maybeCrash(5)

	// Phase 6: physical-map pages, assignment pass. Assigning a pnr to one
	// page can dirty another (the page whose range covers the first page's
	// own logical number), so this runs to a fixed point before any writes
	// happen (see DESIGN.md, "two-pass physical-map write").
	assigned := make(map[LogicalNr]PhysicalNr)
	for {
		progressed := false
		for _, nr := range s.physical.iterDirty() {
			if _, done := assigned[nr]; done {
				continue
			}
			pnr := s.physical.popFree()
			if err := s.physical.setPhysicalNr(nr, pnr); err != nil {
				return err
			}
			assigned[nr] = pnr
			progressed = true
		}
		if !progressed {
			break
		}
	}
	s.maybeCrash(6)

	// Phase 7: physical-map pages, write pass.
	for nr, pnr := range assigned {
		page := s.physical.pageByNr(nr)
		if err := storeRaw(s.file, nr, pnr, page.block.data); err != nil {
			return err
		}
		page.block.dirty = false
		page.block.generation = s.generation
		touched = append(touched, pnr)
	}
	s.maybeCrash(7)

	// Phase 8: inactive root triple.
	typesPnr, err := s.physical.physicalNr(TypesNr)
	if err != nil {
		return err
	}
	physPnr, err := s.physical.physicalNr(PhysicalMapNr)
	if err != nil {
		return err
	}
	streamsPnr, err := s.physical.physicalNr(StreamsNr)
	if err != nil {
		return err
	}
	if s.header.State() == Low {
		err = s.header.storeHigh(s.file, typesPnr, physPnr, streamsPnr)
	} else {
		err = s.header.storeLow(s.file, typesPnr, physPnr, streamsPnr)
	}
	if err != nil {
		return err
	}
	if err := sync(s.file); err != nil {
		return err
	}
	s.maybeCrash(8)

	// Phase 9: the state flip. This is the atomic commit point.
	if err := s.header.storeState(s.file, s.header.State().Opposite()); err != nil {
		return err
	}
	if err := sync(s.file); err != nil {
		return err
	}
	s.maybeCrash(9)

	// Phase 10: rebuild the physical free list from the new file length.
	newSize, err := size(s.file)
	if err != nil {
		return err
	}
	s.physical.rebuildFreeList(newSize)
	s.maybeCrash(10)

	// Phase 11: evict blocks marked for discard.
	for nr, b := range s.cache {
		if b.discard {
			delete(s.cache, nr)
		}
	}
	s.maybeCrash(11)

	sid, _ := s.header.StoreID().MarshalBinary()
	var storeID [16]byte
	copy(storeID[:], sid)
	s.lastFingerprint = commitFingerprint(storeID, s.generation, touched)

	return nil
}
