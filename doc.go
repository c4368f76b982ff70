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

// Package blockmap implements a block-addressed file store with crash-safe
// copy-on-write commits.
//
// A store partitions a file into fixed-size blocks and assigns each block a
// stable logical number that survives rewrites. A dual-rooted header commits
// all pending changes with a single atomic state flip: after a crash the
// file is either in its previous state or its newly committed state, never a
// mix of the two.
package blockmap
