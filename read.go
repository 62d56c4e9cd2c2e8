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

// ReadStart opens a sequential read at the given sector. On success the
// driver is in the reading state and the caller must invoke ReadStep for
// every sector wanted, then ReadStop. There is no random access: the
// card streams consecutive sectors until stopped.
func (d *Driver) ReadStart(block uint32) error {
	arg, err := d.beginTransfer("read start", StateReading, block)
	if err != nil {
		return err
	}
	return d.startTransfer("read start", cmdReadMultipleBlock, arg, StateReading)
}

// ReadStep reads the next sector of an open sequential read into buf,
// which must be exactly one sector long. A data token timeout is fatal
// to the sequence: the bus is released, the state reverts to Ready and
// the caller must not step again.
func (d *Driver) ReadStep(buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("read step: buffer length %d: %w", len(buf), ErrInvalidParameter)
	}

	d.mu.Lock()
	if d.state != StateReading {
		state := d.state
		d.mu.Unlock()
		return fmt.Errorf("read step from %s: %w", state, ErrInvalidState)
	}
	d.mu.Unlock()

	if err := d.readDataBlock("read step", buf); err != nil {
		_ = d.bus.Deselect()
		d.revert(StateReading, StateReady)
		return err
	}
	return nil
}

// ReadStop terminates a sequential read. The stop command's status byte
// is read and deliberately ignored: some cards answer it with a spurious
// non-zero value, a quirk this driver tolerates rather than fails on.
func (d *Driver) ReadStop() error {
	d.mu.Lock()
	if d.state != StateReading {
		state := d.state
		d.mu.Unlock()
		return fmt.Errorf("read stop from %s: %w", state, ErrInvalidState)
	}
	d.mu.Unlock()

	// CMD12 goes out as a literal frame: its trailer differs from the
	// shared header layout and one extra idle byte chases it before the
	// response window.
	stopFrame := []byte{0x40 | cmdStopTransmission, 0, 0, 0, 0, 1, busIdle}
	if err := d.bus.Send(stopFrame); err != nil {
		_ = d.bus.Deselect()
		d.revert(StateReading, StateReady)
		return fmt.Errorf("read stop: send CMD12: %w", err)
	}

	status, err := d.receiveR1()
	if err != nil {
		_ = d.bus.Deselect()
		d.revert(StateReading, StateReady)
		return fmt.Errorf("read stop: %w", err)
	}
	debugf("read stop: CMD12 status 0x%02X (ignored)", status)

	_ = d.bus.Deselect()
	d.revert(StateReading, StateReady)
	return nil
}
