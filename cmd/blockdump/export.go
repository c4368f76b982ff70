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

package main

import (
	"encoding/binary"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/SnellerInc/blockmap"
)

// exportSnapshot writes every non-reserved, non-free block's raw content to
// path as a zstd-compressed stream of (logical number, type, length, data)
// records, for offline diffing between two generations of the same store.
// This adds no new on-disk format to the store itself; it is a throwaway
// dump consumed only by this tool.
func exportSnapshot(st *blockmap.Store, path string) (int, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	zw, err := zstd.NewWriter(out)
	if err != nil {
		return 0, err
	}

	var hdr [16]byte
	n := 0
	var walkErr error
	st.IterMetadata(func(nr blockmap.LogicalNr, t blockmap.BlockType) {
		if walkErr != nil {
			return
		}
		b, err := st.Get(nr)
		if err != nil {
			walkErr = err
			return
		}
		binary.LittleEndian.PutUint32(hdr[0:], uint32(nr))
		binary.LittleEndian.PutUint32(hdr[4:], uint32(t))
		binary.LittleEndian.PutUint64(hdr[8:], uint64(len(b.Bytes())))
		if _, err := zw.Write(hdr[:]); err != nil {
			walkErr = err
			return
		}
		if _, err := zw.Write(b.Bytes()); err != nil {
			walkErr = err
			return
		}
		n++
	})
	if walkErr != nil {
		return 0, walkErr
	}
	if err := zw.Close(); err != nil {
		return 0, err
	}
	return n, nil
}
