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

// Bus defines the interface to the synchronous serial link the card sits
// on. Implementations live under transport/ and may be backed by a native
// SPI controller, a USB bridge, or a test double.
//
// The driver holds the card selected across multi-byte exchanges, so
// Select/Deselect are explicit rather than folded into each transfer.
// While the card is deselected, transfers still clock the bus (the card
// needs filler clocks with chip select high during initialization).
type Bus interface {
	// Select asserts the card's chip select line.
	Select() error

	// Deselect releases the card's chip select line.
	Deselect() error

	// Send clocks the given bytes out to the card.
	Send(data []byte) error

	// Receive fills buf with bytes from the card, clocking idle (0xFF)
	// bytes out while reading.
	Receive(buf []byte) error

	// Ignore clocks n bytes through the bus and discards whatever the
	// card returns.
	Ignore(n int) error

	// Configure applies a bus profile. The driver switches between a
	// low-speed profile for card negotiation and a full-speed profile
	// for data transfer.
	Configure(profile BusProfile) error

	// Close releases the bus.
	Close() error

	// Type returns the bus type
	Type() BusType
}

// BusType represents the type of bus backend
type BusType string

const (
	// BusSPIDev represents a native SPI controller (periph.io spidev).
	BusSPIDev BusType = "spidev"
	// BusBusPirate represents a Bus Pirate binary-mode serial bridge.
	BusBusPirate BusType = "buspirate"
	// BusMock represents a mock bus for testing
	BusMock BusType = "mock"
)

// BusProfile describes the bus configuration for one phase of operation.
// SD cards in SPI mode always use clock mode 0; only the rate varies.
type BusProfile struct {
	// Clock is the bus clock rate in hertz.
	Clock uint32
}

const (
	// DefaultLowSpeedClock is the negotiation clock rate. Cards must be
	// initialized below 400 kHz.
	DefaultLowSpeedClock = 400_000

	// DefaultFullSpeedClock is the transfer clock rate once the card is
	// connected.
	DefaultFullSpeedClock = 25_000_000
)

// DefaultLowSpeedProfile returns the bus profile used during card
// negotiation.
func DefaultLowSpeedProfile() BusProfile {
	return BusProfile{Clock: DefaultLowSpeedClock}
}

// DefaultFullSpeedProfile returns the bus profile used for data transfer.
func DefaultFullSpeedProfile() BusProfile {
	return BusProfile{Clock: DefaultFullSpeedClock}
}
