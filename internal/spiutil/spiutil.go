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

// Package spiutil provides byte-level helpers shared by the bus
// transports: idle fill patterns and the checksums memory cards use on
// the wire.
package spiutil

// IdleByte is the value an undriven SPI data line clocks: all ones.
// Cards expect it on MOSI whenever the host only wants to read.
const IdleByte = 0xFF

// idleSlab backs Idle so the common transfer sizes never allocate.
var idleSlab = func() []byte {
	slab := make([]byte, 4096)
	for i := range slab {
		slab[i] = IdleByte
	}
	return slab
}()

// Idle returns n idle bytes. The result aliases a shared read-only slab
// for sizes up to the slab length and must not be written to.
func Idle(n int) []byte {
	if n <= len(idleSlab) {
		return idleSlab[:n]
	}
	big := make([]byte, n)
	for i := range big {
		big[i] = IdleByte
	}
	return big
}

// Fill overwrites buf with idle bytes.
func Fill(buf []byte) {
	for i := range buf {
		buf[i] = IdleByte
	}
}

// CRC7 computes the 7-bit command checksum over the five header bytes
// and returns it in wire form, left-shifted with the end bit set. Cards
// verify it on the reset command; afterwards SPI operation disables
// checking and any trailer passes.
func CRC7(data []byte) byte {
	var crc byte
	for _, octet := range data {
		d := octet
		for bit := 0; bit < 8; bit++ {
			crc <<= 1
			if (d&0x80)^(crc&0x80) != 0 {
				crc ^= 0x09
			}
			d <<= 1
		}
	}
	return (crc << 1) | 0x01
}

// CRC16 computes the CCITT checksum that trails every data block on the
// wire. Initial value zero, polynomial 0x1021, no reflection.
func CRC16(data []byte) uint16 {
	var crc uint16
	for _, octet := range data {
		crc ^= uint16(octet) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
