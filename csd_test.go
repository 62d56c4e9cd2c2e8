// go-mmcspi
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-mmcspi.
//
// go-mmcspi is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-mmcspi is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-mmcspi; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package mmcspi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapacityFromCSD(t *testing.T) {
	t.Parallel()

	// 512 MB version 1.0 layout: READ_BL_LEN=9, C_SIZE=2047,
	// C_SIZE_MULT=7, so (2047+1) << (7+2+9) bytes.
	var v1 [16]byte
	v1[5] = 0x09
	v1[6] = byte(2047 >> 10 & 0x03)
	v1[7] = byte(2047 >> 2 & 0xFF)
	v1[8] = byte(2047&0x03) << 6
	v1[9] = byte(7 >> 1 & 0x03)
	v1[10] = byte(7&0x01) << 7

	// 8 GB class version 2.0 layout: C_SIZE=15359, so
	// (15359+1)*1024 sectors.
	var v2 [16]byte
	v2[0] = 0x40
	v2[7] = byte(15359 >> 16 & 0x3F)
	v2[8] = byte(15359 >> 8)
	v2[9] = byte(15359 & 0xFF)

	// Reserved layout version bits.
	var unknown [16]byte
	unknown[0] = 0x80

	tests := []struct {
		name string
		csd  [16]byte
		want uint32
	}{
		{name: "Version1_512MB", csd: v1, want: 1048576},
		{name: "Version2_8GB", csd: v2, want: 15728640},
		{name: "Unknown_Layout", csd: unknown, want: 0},
		{name: "Zero_Register", csd: [16]byte{}, want: 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, capacityFromCSD(tt.csd))
		})
	}
}
