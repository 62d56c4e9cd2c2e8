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

// DriverState represents the lifecycle state of a Driver instance.
type DriverState int

const (
	// StateUninitialized is the zero value; the driver has no bus yet.
	StateUninitialized DriverState = iota
	// StateStopped means the driver is configured but not monitoring.
	StateStopped
	// StateWaiting means the monitor is armed and no card is confirmed.
	StateWaiting
	// StateInserted means a card is present but not yet negotiated.
	StateInserted
	// StateReady means the card is negotiated and idle.
	StateReady
	// StateReading means a sequential read is in progress.
	StateReading
	// StateWriting means a sequential write is in progress.
	StateWriting
)

// String returns a human-readable state name.
func (s DriverState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStopped:
		return "stopped"
	case StateWaiting:
		return "waiting"
	case StateInserted:
		return "inserted"
	case StateReady:
		return "ready"
	case StateReading:
		return "reading"
	case StateWriting:
		return "writing"
	default:
		return "unknown"
	}
}

// CardType identifies the card dialect discovered during Connect.
type CardType int

const (
	// CardTypeUnknown means no card has been negotiated.
	CardTypeUnknown CardType = iota
	// CardTypeMMC is a legacy card that rejects CMD8 and initializes via
	// CMD1. MMC and SD 1.x cards are indistinguishable on this path.
	CardTypeMMC
	// CardTypeSDV2 is a byte-addressed SD 2.0 card.
	CardTypeSDV2
	// CardTypeSDHC is a block-addressed high-capacity SD card.
	CardTypeSDHC
)

// String returns a human-readable card type name.
func (t CardType) String() string {
	switch t {
	case CardTypeMMC:
		return "MMC"
	case CardTypeSDV2:
		return "SDv2"
	case CardTypeSDHC:
		return "SDHC"
	default:
		return "unknown"
	}
}
