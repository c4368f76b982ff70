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
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/SnellerInc/blockmap"
)

// verifyBlocks prints a blake2b-256 digest of every non-reserved, non-free
// block's content. The engine itself never checksums block contents (spec
// section 1, "no checksums of block contents" is a Non-goal); this exists
// purely so an operator can diff two copies of a file without a full binary
// compare.
func verifyBlocks(st *blockmap.Store) error {
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
		sum := blake2b.Sum256(b.Bytes())
		fmt.Printf("  %s\ttype=%s\tb2:%x\n", nr, t, sum)
	})
	return walkErr
}
