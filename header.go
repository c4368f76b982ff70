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
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// HeaderState selects which of the header's two root-pointer triples is
// currently live. The other triple is scratch space for the next commit.
type HeaderState uint32

const (
	Low HeaderState = iota
	High
)

func (s HeaderState) String() string {
	if s == Low {
		return "Low"
	}
	return "High"
}

// Opposite returns the other state: the one the next commit will write to.
func (s HeaderState) Opposite() HeaderState {
	if s == Low {
		return High
	}
	return Low
}

// headerLayout is the fixed 32-byte header (spec section 6). It is never
// used directly as a Go struct view (field order across platforms would be
// unsafe to rely on for a persisted format); instead offsets are read/written
// explicitly through binary.NativeEndian-equivalent host order, matching
// "host-endian is acceptable because files are not portable" (spec section 3).
const (
	offState           = 0
	offBlockSize       = 4
	offLowTypesPnr     = 8
	offLowPhysicalPnr  = 12
	offLowStreamsPnr   = 16
	offHighTypesPnr    = 20
	offHighPhysicalPnr = 24
	offHighStreamsPnr  = 28
	offStoreID         = 32
	storeIDSize        = 16
)

var hostOrder = binary.NativeEndian

// HeaderBlock is the distinguished block at physical slot 0.
type HeaderBlock struct {
	block *Block

	state     HeaderState
	blockSize uint32
	low       [3]PhysicalNr
	high      [3]PhysicalNr
	storeID   uuid.UUID
}

// initHeader builds a fresh header: state starts at High so the first commit
// writes the Low triple and flips to Low, which then becomes the steady
// state toggle for every later commit.
func initHeader(blockSize int) *HeaderBlock {
	h := &HeaderBlock{
		block:     newBlock(HeaderNr, blockSize, Header),
		state:     High,
		blockSize: uint32(blockSize),
		storeID:   uuid.New(),
	}
	h.encode()
	h.block.dirty = true
	return h
}

// loadHeader reads the header from physical slot 0 and validates it.
func loadHeader(f File, blockSize int) (*HeaderBlock, error) {
	h := &HeaderBlock{block: newBlock(HeaderNr, blockSize, Header)}
	if err := loadRaw0(f, h.block.data); err != nil {
		return nil, err
	}
	if err := h.decode(); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *HeaderBlock) decode() error {
	data := h.block.data
	if len(data) < HeaderSize {
		return &StructuralError{Reason: fmt.Sprintf("block size %d too small for header", len(data))}
	}
	state := hostOrder.Uint32(data[offState:])
	if state != uint32(Low) && state != uint32(High) {
		return &StructuralError{Reason: fmt.Sprintf("header corrupted: invalid state %d", state)}
	}
	h.state = HeaderState(state)
	h.blockSize = hostOrder.Uint32(data[offBlockSize:])
	if h.blockSize == 0 || int(h.blockSize) != len(data) {
		return &StructuralError{Reason: fmt.Sprintf("stored block size %d does not match open block size %d", h.blockSize, len(data))}
	}
	h.low[0] = PhysicalNr(hostOrder.Uint32(data[offLowTypesPnr:]))
	h.low[1] = PhysicalNr(hostOrder.Uint32(data[offLowPhysicalPnr:]))
	h.low[2] = PhysicalNr(hostOrder.Uint32(data[offLowStreamsPnr:]))
	h.high[0] = PhysicalNr(hostOrder.Uint32(data[offHighTypesPnr:]))
	h.high[1] = PhysicalNr(hostOrder.Uint32(data[offHighPhysicalPnr:]))
	h.high[2] = PhysicalNr(hostOrder.Uint32(data[offHighStreamsPnr:]))

	active := h.active()
	if active[0] == 0 || active[1] == 0 {
		return &StructuralError{Reason: "header corrupted: active root triple is zero"}
	}
	if len(data) >= offStoreID+storeIDSize {
		copy(h.storeID[:], data[offStoreID:offStoreID+storeIDSize])
	}
	return nil
}

func (h *HeaderBlock) encode() {
	data := h.block.data
	hostOrder.PutUint32(data[offState:], uint32(h.state))
	hostOrder.PutUint32(data[offBlockSize:], h.blockSize)
	hostOrder.PutUint32(data[offLowTypesPnr:], uint32(h.low[0]))
	hostOrder.PutUint32(data[offLowPhysicalPnr:], uint32(h.low[1]))
	hostOrder.PutUint32(data[offLowStreamsPnr:], uint32(h.low[2]))
	hostOrder.PutUint32(data[offHighTypesPnr:], uint32(h.high[0]))
	hostOrder.PutUint32(data[offHighPhysicalPnr:], uint32(h.high[1]))
	hostOrder.PutUint32(data[offHighStreamsPnr:], uint32(h.high[2]))
	if len(data) >= offStoreID+storeIDSize {
		sid, _ := h.storeID.MarshalBinary()
		copy(data[offStoreID:offStoreID+storeIDSize], sid)
	}
}

// State returns the currently active root triple.
func (h *HeaderBlock) State() HeaderState { return h.state }

// BlockSize returns the block size stored in the header.
func (h *HeaderBlock) BlockSize() int { return int(h.blockSize) }

// StoreID returns the random identifier stamped into the header when the
// store was first created. It is for log correlation across process
// restarts only; nothing in the commit protocol depends on it.
func (h *HeaderBlock) StoreID() uuid.UUID { return h.storeID }

func (h *HeaderBlock) active() [3]PhysicalNr {
	if h.state == Low {
		return h.low
	}
	return h.high
}

// Active returns the currently-live (types, physical, streams) root pointers.
func (h *HeaderBlock) Active() (types, physical, streams PhysicalNr) {
	a := h.active()
	return a[0], a[1], a[2]
}

// storeState overwrites the header's state field in place and updates the
// in-memory copy. This is the atomic commit point: a crash before this call
// returns leaves the previous generation live; a crash after it (once synced)
// lands on the new one.
func (h *HeaderBlock) storeState(f File, state HeaderState) error {
	var b [4]byte
	hostOrder.PutUint32(b[:], uint32(state))
	if err := subStoreRaw0(f, offState, b[:]); err != nil {
		return err
	}
	h.state = state
	return nil
}

// storeLow persists the Low root triple at its fixed sub-offset.
func (h *HeaderBlock) storeLow(f File, types, physical, streams PhysicalNr) error {
	var b [12]byte
	hostOrder.PutUint32(b[0:], uint32(types))
	hostOrder.PutUint32(b[4:], uint32(physical))
	hostOrder.PutUint32(b[8:], uint32(streams))
	if err := subStoreRaw0(f, offLowTypesPnr, b[:]); err != nil {
		return err
	}
	h.low = [3]PhysicalNr{types, physical, streams}
	return nil
}

// storeHigh persists the High root triple at its fixed sub-offset.
func (h *HeaderBlock) storeHigh(f File, types, physical, streams PhysicalNr) error {
	var b [12]byte
	hostOrder.PutUint32(b[0:], uint32(types))
	hostOrder.PutUint32(b[4:], uint32(physical))
	hostOrder.PutUint32(b[8:], uint32(streams))
	if err := subStoreRaw0(f, offHighTypesPnr, b[:]); err != nil {
		return err
	}
	h.high = [3]PhysicalNr{types, physical, streams}
	return nil
}

// persist writes the whole header block to physical slot 0. Used once, the
// first time a store is ever committed (spec section 4.7, commit step 2).
func (h *HeaderBlock) persist(f File) error {
	h.encode()
	return storeRaw0(f, h.block.data)
}
