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
	"sync"
	"time"
)

// Driver drives one memory card socket on a synchronous serial bus.
//
// Thread safety: all methods may be called from any goroutine. The state
// machine is guarded by a single mutex held only across state checks and
// transitions, never across bus I/O. Blocking operations re-validate the
// state after the bus work completes, because the presence monitor can
// move the state concurrently (card removal) at any time. The bus itself
// carries no internal locking: one protocol or transfer step at a time,
// concurrent transfer callers must serialize themselves.
type Driver struct {
	bus          Bus
	presence     PresenceSensor
	writeProtect WriteProtectSensor

	lowProfile  BusProfile
	fullProfile BusProfile

	// Fixed after New; see the corresponding options.
	debounceCount    int
	pollInterval     time.Duration
	busyTimeout      time.Duration
	busyPollDelay    time.Duration
	busyPolling      bool
	dataWaitAttempts int

	inserted eventSource
	removed  eventSource

	mu        sync.Mutex
	state     DriverState
	debounce  int
	pollTimer *time.Timer

	// Latched by Connect, valid from the first successful connection.
	blockAddressing bool
	cardType        CardType
	capacityBlocks  uint32
	csd             [16]byte
	csdValid        bool
}

// New creates a driver bound to the given bus. The driver starts in the
// stopped state; call Start to arm the presence monitor.
func New(bus Bus, opts ...Option) (*Driver, error) {
	if bus == nil {
		return nil, fmt.Errorf("%w: nil bus", ErrInvalidParameter)
	}

	d := &Driver{
		bus:              bus,
		presence:         StaticPresence(true),
		writeProtect:     StaticWriteProtect(false),
		lowProfile:       DefaultLowSpeedProfile(),
		fullProfile:      DefaultFullSpeedProfile(),
		debounceCount:    defaultDebounceCount,
		pollInterval:     defaultPollInterval,
		busyTimeout:      defaultBusyTimeout,
		busyPollDelay:    defaultBusyPollDelay,
		dataWaitAttempts: defaultDataWaitAttempts,
		state:            StateStopped,
	}

	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	return d, nil
}

// Start arms the presence monitor and begins watching for a card. The
// driver moves to the waiting state; insertion is reported through
// InsertedEvents once the debounce filter confirms it.
func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateStopped {
		return fmt.Errorf("start from %s: %w", d.state, ErrInvalidState)
	}
	d.state = StateWaiting
	d.debounce = d.debounceCount
	if d.pollTimer == nil {
		d.pollTimer = time.AfterFunc(d.pollInterval, d.pollTick)
	} else {
		d.pollTimer.Reset(d.pollInterval)
	}
	debugf("monitor armed, poll interval %v, debounce %d", d.pollInterval, d.debounceCount)
	return nil
}

// Stop disarms the presence monitor and returns the driver to the
// stopped state. Stopping during an active transfer is an error; finish
// or abort the transfer first.
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case StateUninitialized, StateReading, StateWriting:
		return fmt.Errorf("stop from %s: %w", d.state, ErrInvalidState)
	case StateStopped, StateWaiting, StateInserted, StateReady:
	}
	if d.pollTimer != nil {
		d.pollTimer.Stop()
	}
	d.state = StateStopped
	debugln("monitor stopped")
	return nil
}

// Close stops the driver and releases the bus. The driver cannot be used
// afterwards.
func (d *Driver) Close() error {
	if err := d.Stop(); err != nil {
		return err
	}
	if err := d.bus.Close(); err != nil {
		return fmt.Errorf("close bus: %w", err)
	}
	return nil
}

// State returns the current lifecycle state.
func (d *Driver) State() DriverState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// CardType returns the dialect discovered by the last successful
// Connect, or CardTypeUnknown before one.
func (d *Driver) CardType() CardType {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cardType
}

// BlockAddressed reports whether the connected card uses block-number
// addressing. Only meaningful after a successful Connect.
func (d *Driver) BlockAddressed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.blockAddressing
}

// Capacity returns the card capacity in sectors as computed from the CSD
// register, or 0 if it could not be read.
func (d *Driver) Capacity() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.capacityBlocks
}

// CSD returns a copy of the card-specific data register read during
// Connect. ok is false if the register could not be read.
func (d *Driver) CSD() (csd [16]byte, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.csd, d.csdValid
}

// WriteProtected reports the write-protect sensor. The transfer engine
// does not consult it; callers that intend to write should.
func (d *Driver) WriteProtected() bool {
	return d.writeProtect.WriteProtected()
}

// Bus returns the underlying bus.
func (d *Driver) Bus() Bus {
	return d.bus
}

// transferAddress converts a sector number into the command argument for
// the card's addressing dialect.
func (d *Driver) transferAddress(block uint32) uint32 {
	if d.blockAddressing {
		return block
	}
	return block * SectorSize
}

// beginTransfer moves Ready into a transfer state and computes the
// command argument for the card's addressing dialect, in one critical
// section.
func (d *Driver) beginTransfer(op string, to DriverState, block uint32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateReady {
		return 0, fmt.Errorf("%s from %s: %w", op, d.state, ErrInvalidState)
	}
	d.state = to
	return d.transferAddress(block), nil
}

// revert moves the state from one transfer state back under the lock,
// but only if the monitor has not already moved it elsewhere. It returns
// true when the transition was applied.
func (d *Driver) revert(from, to DriverState) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != from {
		return false
	}
	d.state = to
	return true
}
