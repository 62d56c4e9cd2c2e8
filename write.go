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

// WriteStart opens a sequential write at the given sector. On success
// the driver is in the writing state; the caller streams sectors with
// WriteStep and finishes with WriteStop. The write-protect sensor is not
// consulted here; callers decide their own policy.
func (d *Driver) WriteStart(block uint32) error {
	arg, err := d.beginTransfer("write start", StateWriting, block)
	if err != nil {
		return err
	}
	return d.startTransfer("write start", cmdWriteMultipleBlock, arg, StateWriting)
}

// WriteStep sends the next sector of an open sequential write from buf,
// which must be exactly one sector long. The card acknowledges each
// sector with a data response; anything but the accepted code aborts the
// sequence, releases the bus and reverts the state to Ready. An accepted
// sector is followed by a busy wait while the card programs it.
func (d *Driver) WriteStep(buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("write step: buffer length %d: %w", len(buf), ErrInvalidParameter)
	}

	d.mu.Lock()
	if d.state != StateWriting {
		state := d.state
		d.mu.Unlock()
		return fmt.Errorf("write step from %s: %w", state, ErrInvalidState)
	}
	d.mu.Unlock()

	fail := func(err error) error {
		_ = d.bus.Deselect()
		d.revert(StateWriting, StateReady)
		return err
	}

	// One idle gap byte, then the multi-block data token.
	start := [2]byte{busIdle, tokenStartWriteMulti}
	if err := d.bus.Send(start[:]); err != nil {
		return fail(fmt.Errorf("write step: send token: %w", err))
	}
	if err := d.bus.Send(buf); err != nil {
		return fail(fmt.Errorf("write step: send data: %w", err))
	}
	// Dummy CRC; the card ignores it in this mode.
	if err := d.bus.Ignore(2); err != nil {
		return fail(fmt.Errorf("write step: send crc: %w", err))
	}

	var resp [1]byte
	if err := d.bus.Receive(resp[:]); err != nil {
		return fail(fmt.Errorf("write step: data response: %w", err))
	}
	if resp[0]&dataResponseMask != dataAccepted {
		debugf("write step: data response 0x%02X", resp[0])
		return fail(fmt.Errorf("write step: data response 0x%02X: %w", resp[0], ErrWriteRejected))
	}

	if err := d.waitWhileBusy("write step"); err != nil {
		return fail(err)
	}
	return nil
}

// WriteStop terminates a sequential write with the stop-transmission
// token. It fails with ErrCardGone if the card vanished while the last
// sectors were in flight, because their fate is unknown.
func (d *Driver) WriteStop() error {
	d.mu.Lock()
	if d.state != StateWriting {
		state := d.state
		d.mu.Unlock()
		return fmt.Errorf("write stop from %s: %w", state, ErrInvalidState)
	}
	d.mu.Unlock()

	stop := [2]byte{tokenStopTran, busIdle}
	if err := d.bus.Send(stop[:]); err != nil {
		_ = d.bus.Deselect()
		d.revert(StateWriting, StateReady)
		return fmt.Errorf("write stop: send stop token: %w", err)
	}
	_ = d.bus.Deselect()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateWriting {
		return fmt.Errorf("write stop: %w", ErrCardGone)
	}
	d.state = StateReady
	return nil
}
