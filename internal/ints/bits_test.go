// Copyright (C) 2022 Sneller, Inc.
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

package ints

import "testing"

func TestTestSetBit(t *testing.T) {
	words := make([]uint64, 4)
	for _, k := range []int{0, 1, 63, 64, 65, 255} {
		if TestBit(words, k) {
			t.Fatalf("bit %d set before SetBit", k)
		}
		SetBit(words, k)
		if !TestBit(words, k) {
			t.Fatalf("bit %d not set after SetBit", k)
		}
	}
	if got := PopCount(words); got != 6 {
		t.Fatalf("PopCount = %d, want 6", got)
	}
}

func TestPopCountEmpty(t *testing.T) {
	if got := PopCount([]uint64{0, 0, 0}); got != 0 {
		t.Fatalf("PopCount of zero words = %d, want 0", got)
	}
}
