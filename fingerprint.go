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
	"sort"

	"github.com/dchest/siphash"
)

// commitFingerprint hashes the set of physical slots touched by one commit,
// keyed by the store's own identifier. It exists purely so operators can spot
// "did the same commit happen twice" across log lines; nothing in the engine
// ever reads it back, and it is not a content checksum.
func commitFingerprint(storeID [16]byte, generation uint32, touched []PhysicalNr) uint64 {
	k0 := binary.LittleEndian.Uint64(storeID[0:8])
	k1 := binary.LittleEndian.Uint64(storeID[8:16])

	sorted := append([]PhysicalNr(nil), touched...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	buf := make([]byte, 4+4*len(sorted))
	binary.LittleEndian.PutUint32(buf, generation)
	for i, pnr := range sorted {
		binary.LittleEndian.PutUint32(buf[4+4*i:], uint32(pnr))
	}
	return siphash.Hash(k0, k1, buf)
}
