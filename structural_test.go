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
	"testing"
)

func TestLoadRejectsCorruptedHeaderState(t *testing.T) {
	f := newMemFile()
	st, err := Create(f, 128)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	if err := st.Commit(); err != nil {
		t.Fatalf("Commit: %s", err)
	}

	// Corrupt the state field to a value outside {Low, High}.
	var bad [4]byte
	hostOrder.PutUint32(bad[:], 7)
	if _, err := f.WriteAt(bad[:], offState); err != nil {
		t.Fatalf("corrupt state: %s", err)
	}

	if _, err := Load(f, 128); err == nil {
		t.Fatalf("Load accepted a header with an invalid state byte")
	}
}

func TestLoadRejectsZeroActiveRootTriple(t *testing.T) {
	f := newMemFile()
	st, err := Create(f, 128)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	if err := st.Commit(); err != nil {
		t.Fatalf("Commit: %s", err)
	}

	// Active state is Low after one commit; zero out its types_pnr.
	var zero [4]byte
	if _, err := f.WriteAt(zero[:], offLowTypesPnr); err != nil {
		t.Fatalf("corrupt root: %s", err)
	}

	if _, err := Load(f, 128); err == nil {
		t.Fatalf("Load accepted a zeroed active root triple")
	}
}

func TestLoadRejectsWrongBlockSize(t *testing.T) {
	f := newMemFile()
	st, err := Create(f, 128)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	if err := st.Commit(); err != nil {
		t.Fatalf("Commit: %s", err)
	}

	if _, err := Load(f, 64); err == nil {
		t.Fatalf("Load accepted a block size that doesn't match the stored header")
	}
}

func TestLoadRejectsStompedReservedType(t *testing.T) {
	f := newMemFile()
	st, err := Create(f, 128)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	if err := st.Commit(); err != nil {
		t.Fatalf("Commit: %s", err)
	}

	// The type map's own page is the first page in its chain, anchored at
	// the root pointer the header names. Stomp the reserved entry for the
	// header's logical number (0) so it no longer reads back as Header.
	typesPnr, _, _ := st.Roots()
	pageOff := blockOffset(128, typesPnr)
	var bad [4]byte
	binary.NativeEndian.PutUint32(bad[:], uint32(FirstUserBlockType))
	// Entry 0 lives right after the 8-byte (start_nr, next_nr) page header.
	if _, err := f.WriteAt(bad[:], pageOff+8); err != nil {
		t.Fatalf("corrupt reserved type: %s", err)
	}

	if _, err := Load(f, 128); err == nil {
		t.Fatalf("Load accepted a reserved logical number with the wrong type")
	}
}
