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

// Defaults applied by New. The retry ceilings of the connection protocol
// itself are fixed (see commands.go); these cover the tunable knobs.
const (
	defaultDebounceCount = 10
	defaultPollInterval  = 10 * time.Millisecond
	defaultBusyTimeout   = time.Second
	defaultBusyPollDelay = time.Millisecond
)

// Option is a functional option for configuring a Driver
type Option func(*Driver) error

// WithLowSpeedProfile overrides the bus profile used during card
// negotiation. Cards require the negotiation clock below 400 kHz.
func WithLowSpeedProfile(profile BusProfile) Option {
	return func(d *Driver) error {
		if profile.Clock == 0 {
			return fmt.Errorf("%w: zero clock in low speed profile", ErrInvalidParameter)
		}
		d.lowProfile = profile
		return nil
	}
}

// WithFullSpeedProfile overrides the bus profile used for data transfer.
func WithFullSpeedProfile(profile BusProfile) Option {
	return func(d *Driver) error {
		if profile.Clock == 0 {
			return fmt.Errorf("%w: zero clock in full speed profile", ErrInvalidParameter)
		}
		d.fullProfile = profile
		return nil
	}
}

// WithPresenceSensor wires in the card-detect sensor sampled by the
// monitor. Defaults to StaticPresence(true) for sockets without a
// detect line.
func WithPresenceSensor(sensor PresenceSensor) Option {
	return func(d *Driver) error {
		if sensor == nil {
			return fmt.Errorf("%w: nil presence sensor", ErrInvalidParameter)
		}
		d.presence = sensor
		return nil
	}
}

// WithWriteProtectSensor wires in the write-protect tab sensor.
func WithWriteProtectSensor(sensor WriteProtectSensor) Option {
	return func(d *Driver) error {
		if sensor == nil {
			return fmt.Errorf("%w: nil write protect sensor", ErrInvalidParameter)
		}
		d.writeProtect = sensor
		return nil
	}
}

// WithDebounceCount sets how many consecutive positive presence samples
// confirm an insertion.
func WithDebounceCount(count int) Option {
	return func(d *Driver) error {
		if count < 1 {
			return fmt.Errorf("%w: debounce count %d", ErrInvalidParameter, count)
		}
		d.debounceCount = count
		return nil
	}
}

// WithPollInterval sets the presence monitor's sampling period.
func WithPollInterval(interval time.Duration) Option {
	return func(d *Driver) error {
		if interval <= 0 {
			return fmt.Errorf("%w: poll interval %v", ErrInvalidParameter, interval)
		}
		d.pollInterval = interval
		return nil
	}
}

// WithBusyTimeout bounds how long the driver waits for the card to leave
// the busy state before failing with ErrBusyTimeout. Zero disables the
// ceiling and restores the historical unbounded wait, which hangs the
// calling goroutine if the card never recovers.
func WithBusyTimeout(timeout time.Duration) Option {
	return func(d *Driver) error {
		if timeout < 0 {
			return fmt.Errorf("%w: busy timeout %v", ErrInvalidParameter, timeout)
		}
		d.busyTimeout = timeout
		return nil
	}
}

// WithBusyPolling disables the cooperative yield between busy polls.
// Latency-critical callers trade a spinning goroutine for earlier
// detection of the card going idle.
func WithBusyPolling(spin bool) Option {
	return func(d *Driver) error {
		d.busyPolling = spin
		return nil
	}
}

// WithDataWaitAttempts sets how many single-byte polls may pass while
// waiting for a data start token before the transfer fails.
func WithDataWaitAttempts(attempts int) Option {
	return func(d *Driver) error {
		if attempts < 1 {
			return fmt.Errorf("%w: data wait attempts %d", ErrInvalidParameter, attempts)
		}
		d.dataWaitAttempts = attempts
		return nil
	}
}
