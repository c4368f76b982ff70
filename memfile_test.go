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

// memFile is an in-memory File used by the recovery tests, which need to
// simulate a crash mid-commit by panicking before any write actually lands
// on an OS file. It grows on WriteAt past the current length, mirroring how
// *os.File behaves for sparse writes.
type memFile struct {
	data  []byte
	fsync int
}

func newMemFile() *memFile { return &memFile{} }

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, nil
	}
	n := copy(p, m.data[off:])
	return n, nil
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	copy(m.data[off:end], p)
	return len(p), nil
}

func (m *memFile) Sync() error {
	m.fsync++
	return nil
}

func (m *memFile) Size() (int64, error) { return int64(len(m.data)), nil }

func (m *memFile) Truncate(size int64) error {
	if size <= int64(len(m.data)) {
		m.data = m.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, m.data)
	m.data = grown
	return nil
}

// snapshot returns a copy of the backing bytes, so a "crash" can be
// simulated by reopening a fresh memFile over a snapshot taken right after
// the panic instead of continuing to mutate the same buffer.
func (m *memFile) snapshot() *memFile {
	cp := make([]byte, len(m.data))
	copy(cp, m.data)
	return &memFile{data: cp}
}

var _ File = (*memFile)(nil)
