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

//go:build linux

package blockmap

import "golang.org/x/sys/unix"

// Sync commits the file's data (and enough metadata to read it back) to
// stable storage. fdatasync skips the inode-mtime-only metadata update that
// fsync would also flush, which is unobserved by this format anyway.
func (o *OSFile) Sync() error {
	return unix.Fdatasync(int(o.f.Fd()))
}
