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

	"github.com/google/uuid"
)

// ErrInvalidBlockSize is returned by Load when block_size is below the
// header's true functional minimum, and by Create for sizes from
// MinBlockSize up to that minimum (Create rejects sizes below MinBlockSize
// with a separate error). See DESIGN.md for why the two constants differ.
var ErrInvalidBlockSize = fmt.Errorf("blockmap: block size below %d", HeaderSize)

// Store ties together the header, type map, physical map, streams block and
// the in-memory user-block cache, and runs the ordered commit protocol. It
// owns the backing file for its entire lifetime and is not safe for
// concurrent use (spec section 5): callers serialize access themselves.
type Store struct {
	file      File
	blockSize int

	header   *HeaderBlock
	types    *TypeMap
	physical *PhysicalMap
	streams  *StreamsBlock

	cache      map[LogicalNr]*Block
	generation uint32

	lastFingerprint uint64

	// storePanic, when nonzero, makes the next Commit panic immediately
	// after completing the named phase (spec section 4.7 numbering). It is
	// unexported: only this package's own tests reach for it, the same way
	// fileblocks.rs's set_store_panic is compiled out of release builds.
	storePanic int
}

// Create initializes a brand-new store over an empty file. Nothing is
// written to disk until the first Commit (spec section 4.7, commit step 2).
func Create(f File, blockSize int) (*Store, error) {
	if f == nil {
		return nil, errNoBackingFile
	}
	if blockSize < MinBlockSize {
		return nil, fmt.Errorf("blockmap: block size %d below minimum %d", blockSize, MinBlockSize)
	}
	if blockSize < HeaderSize {
		return nil, ErrInvalidBlockSize
	}

	return &Store{
		file:      f,
		blockSize: blockSize,
		header:    initHeader(blockSize),
		types:     initTypeMap(blockSize),
		physical:  initPhysicalMap(blockSize),
		streams:   initStreamsBlock(blockSize),
		cache:     make(map[LogicalNr]*Block),
	}, nil
}

// Load opens an existing store, walking and verifying its type map and
// physical map chains (spec section 4.7, "Load").
func Load(f File, blockSize int) (*Store, error) {
	if f == nil {
		return nil, errNoBackingFile
	}
	if blockSize < HeaderSize {
		return nil, ErrInvalidBlockSize
	}

	header, err := loadHeader(f, blockSize)
	if err != nil {
		return nil, err
	}
	typesPnr, physicalPnr, streamsPnr := header.Active()

	physical, err := loadPhysicalMap(f, blockSize, physicalPnr)
	if err != nil {
		return nil, err
	}
	types, err := loadTypeMap(f, blockSize, typesPnr, physical)
	if err != nil {
		return nil, err
	}

	var streams *StreamsBlock
	if streamsPnr != 0 {
		streams, err = loadStreamsBlock(f, blockSize, streamsPnr)
		if err != nil {
			return nil, err
		}
	} else {
		streams = initStreamsBlock(blockSize)
	}

	return &Store{
		file:      f,
		blockSize: blockSize,
		header:    header,
		types:     types,
		physical:  physical,
		streams:   streams,
		cache:     make(map[LogicalNr]*Block),
	}, nil
}

// Generation returns the commit generation last assigned, or 0 if the store
// has never been committed in this process.
func (s *Store) Generation() uint32 { return s.generation }

// BlockSize returns the fixed block size this store was created/opened with.
func (s *Store) BlockSize() int { return s.blockSize }

// State returns which of the header's two root triples is currently active.
func (s *Store) State() HeaderState { return s.header.State() }

// LastFingerprint returns the diagnostic commit fingerprint (see
// fingerprint.go) computed by the most recent Commit. Zero before any commit.
func (s *Store) LastFingerprint() uint64 { return s.lastFingerprint }

// StoreID returns the random identifier stamped into the header at create
// time, for log correlation across process restarts.
func (s *Store) StoreID() uuid.UUID { return s.header.StoreID() }

// Roots returns the currently active (types, physical, streams) root
// pointers, the same triple the header's active state names.
func (s *Store) Roots() (types, physical, streams PhysicalNr) {
	return s.header.Active()
}

// FreeLogicalCount reports how many logical numbers remain on the type map's
// free list.
func (s *Store) FreeLogicalCount() int { return s.types.freeCount() }

// FreePhysicalCount reports how many reclaimed physical slots remain on the
// physical map's free list.
func (s *Store) FreePhysicalCount() int { return s.physical.freeSlotCount() }

// MaxLogical returns one past the highest logical number the type map chain
// currently covers.
func (s *Store) MaxLogical() LogicalNr { return s.physical.maxLogical() }

// BlockType looks up a logical number's type without pulling it into the
// user-block cache.
func (s *Store) BlockType(nr LogicalNr) (BlockType, error) {
	return s.types.typeOf(nr)
}

func isReserved(nr LogicalNr) bool {
	return nr == HeaderNr || nr == TypesNr || nr == PhysicalMapNr
}

// Alloc assigns a fresh logical number of the given user type, inserts a
// zeroed block into the cache, and returns it. align must be a power of two
// no larger than the block size; pass 1 if the caller has no special
// requirement.
func (s *Store) Alloc(t BlockType, align int) (*Block, error) {
	if t < FirstUserBlockType {
		return nil, fmt.Errorf("blockmap: cannot allocate reserved type %s directly", t)
	}
	if align < 1 || align&(align-1) != 0 {
		return nil, fmt.Errorf("blockmap: alignment %d is not a power of two", align)
	}
	if align > s.blockSize {
		return nil, fmt.Errorf("blockmap: alignment %d exceeds block size %d", align, s.blockSize)
	}

	if s.types.freeCount() <= 2 {
		if err := s.growBlockmaps(); err != nil {
			return nil, err
		}
	}

	nr, ok := s.types.popFree()
	if !ok {
		return nil, ErrNoFreeBlocks
	}
	if err := s.types.setType(nr, t); err != nil {
		return nil, err
	}

	b := newBlock(nr, s.blockSize, t)
	s.cache[nr] = b
	return b, nil
}

// growBlockmaps extends both the type-map and physical-map chains by one
// page each, keeping their logical ranges in lockstep (spec section 4.7,
// alloc's "≤ 2 remaining" rule).
func (s *Store) growBlockmaps() error {
	newTypesNr, ok := s.types.popFree()
	if !ok {
		return ErrNoFreeBlocks
	}
	newPhysNr, ok := s.types.popFree()
	if !ok {
		return ErrNoFreeBlocks
	}
	if err := s.types.setType(newTypesNr, Types); err != nil {
		return err
	}
	if err := s.types.setType(newPhysNr, Physical); err != nil {
		return err
	}
	s.types.appendBlockmap(newTypesNr)
	s.physical.appendBlockmap(newPhysNr)
	return nil
}

// Free releases a logical number: it is dropped from the cache, its physical
// mapping is cleared, and its type flips back to Free.
func (s *Store) Free(nr LogicalNr) error {
	if isReserved(nr) || nr == StreamsNr {
		return ErrAccessDenied
	}
	delete(s.cache, nr)
	if err := s.types.setType(nr, Free); err != nil {
		return err
	}
	if err := s.physical.setPhysicalNr(nr, 0); err != nil {
		return err
	}
	s.types.pushFree(nr)
	return nil
}

// Discard marks a cached dirty block for eviction once the next commit
// finishes, or evicts it immediately if it is already clean.
func (s *Store) Discard(nr LogicalNr) {
	b, ok := s.cache[nr]
	if !ok {
		return
	}
	if b.dirty {
		b.discard = true
		return
	}
	delete(s.cache, nr)
}

func (s *Store) fetch(nr LogicalNr) (*Block, error) {
	if isReserved(nr) {
		return nil, ErrAccessDenied
	}
	if nr == StreamsNr {
		// The streams block is reachable through Get (unlike Header/Types/
		// Physical), but it carries no content until the first commit that
		// ever dirties it has run; before that it reads as NotAllocated
		// rather than as an all-zero block.
		pnr, err := s.physical.physicalNr(StreamsNr)
		if err != nil {
			return nil, err
		}
		if pnr == 0 {
			return nil, newUsageError(KindNotAllocated, nr)
		}
		return s.streams.block, nil
	}
	if b, ok := s.cache[nr]; ok {
		return b, nil
	}

	t, err := s.types.typeOf(nr)
	if err != nil {
		return nil, err
	}
	if t == Free {
		return nil, newUsageError(KindNotAllocated, nr)
	}

	b := newBlock(nr, s.blockSize, t)
	pnr, err := s.physical.physicalNr(nr)
	if err != nil {
		return nil, err
	}
	if pnr != 0 {
		if err := loadRaw(s.file, nr, pnr, b.data); err != nil {
			return nil, err
		}
	}
	s.cache[nr] = b
	return b, nil
}

// Get returns the block at nr, loading it from disk into the cache on first
// access. Attempts to address the Header, Types, or Physical blocks through
// this path fail with ErrAccessDenied; those are managed internally.
func (s *Store) Get(nr LogicalNr) (*Block, error) {
	return s.fetch(nr)
}

// GetMut is Get plus marking the returned block dirty, since the caller's
// stated intent is to mutate it.
func (s *Store) GetMut(nr LogicalNr) (*Block, error) {
	b, err := s.fetch(nr)
	if err != nil {
		return nil, err
	}
	b.dirty = true
	return b, nil
}

// Retain evicts every cached, non-reserved block for which keep returns
// false, the same way Discard would: dirty blocks are marked discard and
// survive until the next commit, clean blocks drop immediately. Unlike Free,
// it never changes on-disk state; it only bounds how much of the cache a
// long-running caller holds between commits.
func (s *Store) Retain(keep func(nr LogicalNr, b *Block) bool) {
	for nr, b := range s.cache {
		if nr < firstFreeNr {
			continue
		}
		if !keep(nr, b) {
			s.Discard(nr)
		}
	}
}

// IterBlocks calls fn for every logical number currently resident in the
// user-block cache, in unspecified order.
func (s *Store) IterBlocks(fn func(*Block)) {
	for _, b := range s.cache {
		fn(b)
	}
}

// IterMetadata calls fn for every allocated, non-reserved (logical number,
// type) pair known to the type map, regardless of cache residency.
func (s *Store) IterMetadata(fn func(nr LogicalNr, t BlockType)) {
	s.types.IterTypes(func(t BlockType) bool { return t != Free }, func(nr LogicalNr, t BlockType) {
		if nr < firstFreeNr {
			return
		}
		fn(nr, t)
	})
}
