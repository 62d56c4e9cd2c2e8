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

// waitWhileBusy clocks single bytes until the card releases the bus by
// answering 0xFF. The first polls run back to back; after that the driver
// yields between polls unless busy polling is enabled. A zero busy timeout
// waits forever, matching cards that stretch programming indefinitely.
//
// None of the communication helpers may be called with the driver mutex
// held.
func (d *Driver) waitWhileBusy(op string) error {
	var b [1]byte
	for i := 0; i < quickBusyPolls; i++ {
		if err := d.bus.Receive(b[:]); err != nil {
			return fmt.Errorf("%s: busy poll: %w", op, err)
		}
		if b[0] == busIdle {
			return nil
		}
	}

	deadline := time.Time{}
	if d.busyTimeout > 0 {
		deadline = time.Now().Add(d.busyTimeout)
	}
	for {
		if err := d.bus.Receive(b[:]); err != nil {
			return fmt.Errorf("%s: busy poll: %w", op, err)
		}
		if b[0] == busIdle {
			return nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("%s: %w", op, ErrBusyTimeout)
		}
		if !d.busyPolling {
			time.Sleep(d.busyPollDelay)
		}
	}
}

// sendHeader waits out any busy state and clocks the 6-byte command frame.
func (d *Driver) sendHeader(op string, cmd byte, arg uint32) error {
	if err := d.waitWhileBusy(op); err != nil {
		return err
	}
	frame := commandFrame(cmd, arg)
	if err := d.bus.Send(frame[:]); err != nil {
		return fmt.Errorf("%s: send CMD%d: %w", op, cmd, err)
	}
	return nil
}

// receiveR1 polls for the single-byte R1 response. The card answers
// within a bounded number of clocks; an exhausted poll yields
// r1NoResponse, which no live card can produce.
func (d *Driver) receiveR1() (byte, error) {
	var b [1]byte
	for i := 0; i < r1PollLimit; i++ {
		if err := d.bus.Receive(b[:]); err != nil {
			return r1NoResponse, fmt.Errorf("receive R1: %w", err)
		}
		if b[0] != busIdle {
			return b[0], nil
		}
	}
	return r1NoResponse, nil
}

// receiveR3 reads an R1 status followed by the 4-byte payload of an R3 or
// R7 response. The payload bytes are clocked out even when the status is
// an error, keeping the card's shift register in step.
func (d *Driver) receiveR3() (byte, [4]byte, error) {
	var payload [4]byte
	status, err := d.receiveR1()
	if err != nil {
		return status, payload, err
	}
	if err := d.bus.Receive(payload[:]); err != nil {
		return status, payload, fmt.Errorf("receive R3 payload: %w", err)
	}
	return status, payload, nil
}

// commandR1 runs a complete select/command/response/deselect exchange for
// commands with a plain R1 response.
func (d *Driver) commandR1(op string, cmd byte, arg uint32) (byte, error) {
	if err := d.bus.Select(); err != nil {
		return r1NoResponse, fmt.Errorf("%s: select: %w", op, err)
	}
	defer func() { _ = d.bus.Deselect() }()

	if err := d.sendHeader(op, cmd, arg); err != nil {
		return r1NoResponse, err
	}
	status, err := d.receiveR1()
	if err != nil {
		return status, fmt.Errorf("%s: %w", op, err)
	}
	debugf("%s: CMD%d arg=0x%08X status=0x%02X", op, cmd, arg, status)
	return status, nil
}

// commandR3 runs a complete exchange for commands with an R3/R7 response.
func (d *Driver) commandR3(op string, cmd byte, arg uint32) (byte, [4]byte, error) {
	var payload [4]byte
	if err := d.bus.Select(); err != nil {
		return r1NoResponse, payload, fmt.Errorf("%s: select: %w", op, err)
	}
	defer func() { _ = d.bus.Deselect() }()

	if err := d.sendHeader(op, cmd, arg); err != nil {
		return r1NoResponse, payload, err
	}
	status, payload, err := d.receiveR3()
	if err != nil {
		return status, payload, fmt.Errorf("%s: %w", op, err)
	}
	debugf("%s: CMD%d arg=0x%08X status=0x%02X payload=% 02X", op, cmd, arg, status, payload)
	return status, payload, nil
}

// waitDataToken polls for the 0xFE token that precedes a data block. Only
// the token terminates the poll; anything else, including card error
// tokens, keeps polling until the attempt budget runs out.
func (d *Driver) waitDataToken(op string) error {
	var b [1]byte
	for i := 0; i < d.dataWaitAttempts; i++ {
		if err := d.bus.Receive(b[:]); err != nil {
			return fmt.Errorf("%s: token poll: %w", op, err)
		}
		if b[0] == tokenStartData {
			return nil
		}
	}
	return fmt.Errorf("%s: %w", op, ErrDataTimeout)
}

// readDataBlock waits for the data token and reads a block plus its CRC.
// The CRC bytes are clocked through and discarded, not checked.
func (d *Driver) readDataBlock(op string, buf []byte) error {
	if err := d.waitDataToken(op); err != nil {
		return err
	}
	if err := d.bus.Receive(buf); err != nil {
		return fmt.Errorf("%s: read data: %w", op, err)
	}
	if err := d.bus.Ignore(2); err != nil {
		return fmt.Errorf("%s: discard crc: %w", op, err)
	}
	return nil
}

// flushCard selects the card and clocks until it reports idle, forcing
// any background programming to finish before the driver moves on.
func (d *Driver) flushCard(op string) error {
	if err := d.bus.Select(); err != nil {
		return fmt.Errorf("%s: select: %w", op, err)
	}
	defer func() { _ = d.bus.Deselect() }()
	return d.waitWhileBusy(op)
}

// startTransfer opens a multi-block command at full bus speed. On success
// the card stays selected and streaming; any failure deselects the card
// and reverts the state to Ready unless the monitor has already moved it.
func (d *Driver) startTransfer(op string, cmd byte, arg uint32, from DriverState) error {
	if err := d.bus.Configure(d.fullProfile); err != nil {
		d.revert(from, StateReady)
		return fmt.Errorf("%s: configure full speed: %w", op, err)
	}
	if err := d.bus.Select(); err != nil {
		d.revert(from, StateReady)
		return fmt.Errorf("%s: select: %w", op, err)
	}

	fail := func(err error) error {
		_ = d.bus.Deselect()
		d.revert(from, StateReady)
		return err
	}
	if err := d.sendHeader(op, cmd, arg); err != nil {
		return fail(err)
	}
	status, err := d.receiveR1()
	if err != nil {
		return fail(fmt.Errorf("%s: %w", op, err))
	}
	if status != r1Ready {
		return fail(newCommandError(op, cmd, status))
	}
	debugf("%s: CMD%d arg=0x%08X streaming", op, cmd, arg)
	return nil
}
