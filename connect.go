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
	"fmt"
	"time"
)

// Connect negotiates a freshly inserted card up to the ready state and
// discovers its addressing dialect. Calling it while already ready is a
// no-op success. A failure leaves the state untouched, so the caller may
// retry; the card stays Inserted until the monitor says otherwise.
//
// The whole negotiation runs without the driver mutex. The final commit
// re-checks that the card is still inserted; if the monitor saw it
// vanish mid-protocol, Connect fails with ErrCardGone.
func (d *Driver) Connect() error {
	d.mu.Lock()
	switch d.state {
	case StateReady:
		d.mu.Unlock()
		return nil
	case StateInserted:
		d.mu.Unlock()
	default:
		state := d.state
		d.mu.Unlock()
		return fmt.Errorf("connect from %s: %w", state, ErrInvalidState)
	}

	cardType, blockAddr, err := d.negotiate()
	if err != nil {
		return err
	}

	// Capacity is informational; a card that will not yield its CSD is
	// still usable for raw transfers.
	var capacity uint32
	csd, csdErr := d.readCSD()
	if csdErr != nil {
		debugf("connect: CSD read failed: %v", csdErr)
	} else {
		capacity = capacityFromCSD(csd)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateInserted {
		debugf("connect: card vanished during negotiation, state %s", d.state)
		return fmt.Errorf("connect: %w", ErrCardGone)
	}
	d.state = StateReady
	d.cardType = cardType
	d.blockAddressing = blockAddr
	d.csd = csd
	d.csdValid = csdErr == nil
	d.capacityBlocks = capacity
	debugf("connect: %s card ready, block addressing %v, %d sectors",
		cardType, blockAddr, capacity)
	return nil
}

// negotiate runs the command sequence that takes a card from power-up to
// transfer-ready: reset, dialect probe, initialization and block length.
func (d *Driver) negotiate() (CardType, bool, error) {
	if err := d.bus.Configure(d.lowProfile); err != nil {
		return CardTypeUnknown, false, fmt.Errorf("connect: configure low speed: %w", err)
	}
	// The card needs 74+ clocks with chip select released before it
	// accepts commands.
	if err := d.bus.Ignore(warmUpBytes); err != nil {
		return CardTypeUnknown, false, fmt.Errorf("connect: warm-up clocks: %w", err)
	}

	if err := d.goIdle(); err != nil {
		return CardTypeUnknown, false, err
	}

	cardType := CardTypeMMC
	blockAddr := false

	status, _, err := d.commandR3("connect", cmdSendIfCond, cmd8Argument)
	if err != nil {
		return CardTypeUnknown, false, err
	}
	if status != r1IllegalCommand {
		// The card answered the interface condition, so it speaks the
		// 2.0 dialect and initializes through ACMD41.
		if err := d.initAppOpCond(); err != nil {
			return CardTypeUnknown, false, err
		}
		cardType = CardTypeSDV2

		// The original stack never checks this status byte; the OCR
		// payload is inspected regardless.
		_, ocr, err := d.commandR3("connect", cmdReadOCR, 0)
		if err != nil {
			return CardTypeUnknown, false, err
		}
		if ocr[0]&ocrHighCapacity != 0 {
			blockAddr = true
			cardType = CardTypeSDHC
		}
	}

	if err := d.sendOpCond(); err != nil {
		return CardTypeUnknown, false, err
	}

	if err := d.bus.Configure(d.fullProfile); err != nil {
		return CardTypeUnknown, false, fmt.Errorf("connect: configure full speed: %w", err)
	}

	status, err = d.commandR1("connect", cmdSetBlockLen, SectorSize)
	if err != nil {
		return CardTypeUnknown, false, err
	}
	if status != r1Ready {
		return CardTypeUnknown, false, newCommandError("connect", cmdSetBlockLen, status)
	}

	return cardType, blockAddr, nil
}

// goIdle resets the card into the idle state with a bounded CMD0 loop.
func (d *Driver) goIdle() error {
	for i := 0; ; i++ {
		status, err := d.commandR1("connect", cmdGoIdleState, 0)
		if err != nil {
			return err
		}
		if status == r1Idle {
			return nil
		}
		if i+1 >= cmd0Retries {
			return newCommandError("connect", cmdGoIdleState, status)
		}
		time.Sleep(initRetryDelay * time.Millisecond)
	}
}

// initAppOpCond runs bounded CMD55+ACMD41 rounds until the card reports
// ready. ACMD41 is only issued when the CMD55 prefix was accepted.
func (d *Driver) initAppOpCond() error {
	for i := 0; ; i++ {
		status, err := d.commandR1("connect", cmdAppCmd, 0)
		if err != nil {
			return err
		}
		if status == r1Idle {
			status, err = d.commandR1("connect", cmdSDAppOpCond, acmd41Argument)
			if err != nil {
				return err
			}
			if status == r1Ready {
				return nil
			}
		}
		if i+1 >= acmd41Retries {
			return newCommandError("connect", cmdSDAppOpCond, status)
		}
		time.Sleep(initRetryDelay * time.Millisecond)
	}
}

// sendOpCond runs the bounded legacy CMD1 initialization loop. It runs
// for every card; one that finished ACMD41 initialization answers ready
// on the first attempt. A status other than ready or idle is fatal.
func (d *Driver) sendOpCond() error {
	for i := 0; ; i++ {
		status, err := d.commandR1("connect", cmdSendOpCond, 0)
		if err != nil {
			return err
		}
		switch status {
		case r1Ready:
			return nil
		case r1Idle:
		default:
			return newCommandError("connect", cmdSendOpCond, status)
		}
		if i+1 >= cmd1Retries {
			return newCommandError("connect", cmdSendOpCond, status)
		}
		time.Sleep(initRetryDelay * time.Millisecond)
	}
}

// Disconnect takes a ready card back to the inserted state, first
// letting any background programming drain. From Inserted it is a no-op
// success; transfer states must be stopped explicitly first.
func (d *Driver) Disconnect() error {
	d.mu.Lock()
	switch d.state {
	case StateReady:
		d.mu.Unlock()
	case StateInserted:
		d.mu.Unlock()
		return nil
	default:
		state := d.state
		d.mu.Unlock()
		return fmt.Errorf("disconnect from %s: %w", state, ErrInvalidState)
	}

	if err := d.flushCard("disconnect"); err != nil {
		return err
	}

	d.mu.Lock()
	if d.state == StateReady {
		d.state = StateInserted
	}
	d.mu.Unlock()
	debugln("card disconnected")
	return nil
}
