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

// File is the byte-addressed random-access resource a store is built on top
// of. *os.File (via OSFile) satisfies it; so does any in-memory stand-in used
// by tests. Section 1 of the format treats "the file-open/create wrapper" as
// an external collaborator: a File is handed to Create/Load already open.
type File interface {
	io.ReaderAt
	io.WriterAt
	// Sync flushes any OS-level buffering so that prior writes are
	// durable before it returns.
	Sync() error
	// Size returns the current length of the file in bytes.
	Size() (int64, error)
	// Truncate grows or shrinks the file to exactly size bytes.
	Truncate(size int64) error
}

func blockOffset(blockSize int, pnr PhysicalNr) int64 {
	return int64(pnr) * int64(blockSize)
}

// storeRaw writes exactly one block-size buffer at physical slot pnr.
// pnr must be nonzero; use storeRaw0 for the header's slot.
func storeRaw(f File, nr LogicalNr, pnr PhysicalNr, buf []byte) error {
	_, err := f.WriteAt(buf, blockOffset(len(buf), pnr))
	if err != nil {
		return &IOError{Op: "store_raw", Logical: nr, Physical: pnr, Err: err}
	}
	return nil
}

// storeRaw0 writes the header's whole buffer at physical slot 0.
func storeRaw0(f File, buf []byte) error {
	_, err := f.WriteAt(buf, 0)
	if err != nil {
		return &IOError{Op: "store_raw_0", Physical: 0, Err: err}
	}
	return nil
}

// loadRaw reads exactly one block-size buffer from physical slot pnr.
func loadRaw(f File, nr LogicalNr, pnr PhysicalNr, buf []byte) error {
	_, err := f.ReadAt(buf, blockOffset(len(buf), pnr))
	if err != nil && err != io.EOF {
		return &IOError{Op: "load_raw", Logical: nr, Physical: pnr, Err: err}
	}
	return nil
}

// loadRaw0 reads the header's whole buffer from physical slot 0.
func loadRaw0(f File, buf []byte) error {
	_, err := f.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return &IOError{Op: "load_raw_0", Physical: 0, Err: err}
	}
	return nil
}

// subStoreRaw0 writes a slice into the header's slot at a known sub-offset,
// leaving the rest of the header block untouched. Used for the header state
// flip and for updating a single root triple.
func subStoreRaw0(f File, offset int, buf []byte) error {
	_, err := f.WriteAt(buf, int64(offset))
	if err != nil {
		return &IOError{Op: "sub_store_raw_0", Physical: 0, Err: err}
	}
	return nil
}

// sync flushes the file to stable storage.
func sync(f File) error {
	if err := f.Sync(); err != nil {
		return &IOError{Op: "sync", Err: err}
	}
	return nil
}

// size returns the file's current length in bytes.
func size(f File) (int64, error) {
	n, err := f.Size()
	if err != nil {
		return 0, &IOError{Op: "metadata", Err: err}
	}
	return n, nil
}
