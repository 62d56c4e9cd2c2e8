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

/*
Package mmcspi provides a pure Go block driver for MMC and SD memory
cards attached over SPI.

Cards in SPI mode speak a simple command/response protocol: six-byte
command frames, one-byte (R1) or five-byte (R3/R7) responses, and tagged
data blocks of one 512-byte sector each. This library implements the full
card lifecycle on top of any byte-level bus: debounced insertion and
removal detection, the two-generation connection handshake (legacy
byte-addressed cards and high-capacity block-addressed cards), and
sequential multi-sector read and write streams.

Features:
  - Multiple bus backends: native SPI controllers (periph.io) and
    Bus Pirate style serial bridges
  - Debounced card detect with insertion/removal event channels
  - Automatic dialect negotiation: MMC, SDv2 and SDHC
  - Capacity discovery from the card's CSD register
  - Sequential multi-sector reads and writes with strict state checking
  - Optional verified I/O layer with read-back checking and metrics
  - Comprehensive error handling with retry classification

Basic Usage:

	import (
	    "github.com/ZaparooProject/go-mmcspi"
	    "github.com/ZaparooProject/go-mmcspi/transport/spidev"
	)

	// Open a native SPI port with a GPIO card-detect line
	bus, err := spidev.New("/dev/spidev0.0", spidev.WithCardDetect("GPIO25"))
	if err != nil {
	    log.Fatal(err)
	}
	defer bus.Close()

	drv, err := mmcspi.New(bus, mmcspi.WithPresenceSensor(bus.CardDetect()))
	if err != nil {
	    log.Fatal(err)
	}

	// Arm the presence monitor and wait for a card
	inserted := drv.InsertedEvents()
	if err := drv.Start(); err != nil {
	    log.Fatal(err)
	}
	<-inserted

	// Negotiate the card and stream some sectors
	if err := drv.Connect(); err != nil {
	    log.Fatal(err)
	}
	buf := make([]byte, mmcspi.SectorSize)
	if err := drv.ReadStart(0); err != nil {
	    log.Fatal(err)
	}
	for i := 0; i < 16; i++ {
	    if err := drv.ReadStep(buf); err != nil {
	        log.Fatal(err)
	    }
	    // consume buf
	}
	if err := drv.ReadStop(); err != nil {
	    log.Fatal(err)
	}

Transfer Model:

There is no random-access read or write call. A transfer is opened at a
starting sector with ReadStart or WriteStart, advanced one sector at a
time with ReadStep or WriteStep, and closed with ReadStop or WriteStop.
The card streams consecutive sectors on its own; seeking means stopping
and starting a new transfer. The VerifiedDriver wrapper builds whole-range
operations with read-back verification on top of these primitives.

Error Handling:

All operations return errors that can be inspected:

	if errors.Is(err, mmcspi.ErrCardGone) {
	    // card was pulled mid-operation
	}

Thread Safety:

All Driver methods are safe for concurrent use; the state machine is
re-validated around every blocking bus exchange. The bus itself is not
multiplexed: only one protocol or transfer step runs at a time, and
concurrent transfer callers must serialize themselves.
*/
package mmcspi
