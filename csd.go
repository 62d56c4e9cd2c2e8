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

import "fmt"

// readCSD fetches the 16-byte card-specific data register. The card
// answers CMD9 with an R1 status and then streams the register as a data
// block, so the exchange keeps the card selected across both phases.
func (d *Driver) readCSD() ([16]byte, error) {
	var csd [16]byte

	if err := d.bus.Select(); err != nil {
		return csd, fmt.Errorf("read csd: select: %w", err)
	}
	defer func() { _ = d.bus.Deselect() }()

	if err := d.sendHeader("read csd", cmdSendCSD, 0); err != nil {
		return csd, err
	}
	status, err := d.receiveR1()
	if err != nil {
		return csd, fmt.Errorf("read csd: %w", err)
	}
	if status != r1Ready {
		return csd, newCommandError("read csd", cmdSendCSD, status)
	}
	if err := d.readDataBlock("read csd", csd[:]); err != nil {
		return csd, err
	}
	return csd, nil
}

// capacityFromCSD computes the card capacity in 512-byte sectors. Both
// register layouts are handled: version 1.0 encodes size as
// (C_SIZE+1) << (C_SIZE_MULT+2) blocks of READ_BL_LEN bytes, version 2.0
// counts (C_SIZE+1) half-megabyte units. An unknown layout yields 0.
func capacityFromCSD(csd [16]byte) uint32 {
	switch csd[0] >> 6 {
	case 0: // CSD version 1.0
		readBlockLen := uint(csd[5] & 0x0F)
		cSize := uint32(csd[6]&0x03)<<10 | uint32(csd[7])<<2 | uint32(csd[8])>>6
		cSizeMult := uint(csd[9]&0x03)<<1 | uint(csd[10])>>7
		bytes := uint64(cSize+1) << (cSizeMult + 2 + readBlockLen)
		return uint32(bytes / SectorSize)
	case 1: // CSD version 2.0
		cSize := uint32(csd[7]&0x3F)<<16 | uint32(csd[8])<<8 | uint32(csd[9])
		return (cSize + 1) * 1024
	default:
		return 0
	}
}
