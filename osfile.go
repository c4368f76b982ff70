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

import "os"

// OSFile adapts *os.File to the File interface. Sync() is platform-specific;
// see osfile_linux.go and osfile_other.go.
type OSFile struct {
	f *os.File
}

var _ File = (*OSFile)(nil)

// NewOSFile wraps an already-open *os.File.
func NewOSFile(f *os.File) *OSFile { return &OSFile{f: f} }

// OpenOSFile opens (creating if necessary) path for read/write use as a
// store's backing file, mirroring FileBlocks::load's OpenOptions in the
// original implementation.
func OpenOSFile(path string) (*OSFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return &OSFile{f: f}, nil
}

// CreateOSFile truncates (or creates) path for a fresh store.
func CreateOSFile(path string) (*OSFile, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &OSFile{f: f}, nil
}

func (o *OSFile) ReadAt(b []byte, off int64) (int, error)  { return o.f.ReadAt(b, off) }
func (o *OSFile) WriteAt(b []byte, off int64) (int, error) { return o.f.WriteAt(b, off) }
func (o *OSFile) Truncate(size int64) error                { return o.f.Truncate(size) }
func (o *OSFile) Close() error                             { return o.f.Close() }

func (o *OSFile) Size() (int64, error) {
	info, err := o.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
