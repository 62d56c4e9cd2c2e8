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

// pollTick is the presence monitor. It runs on the poll timer's
// goroutine, re-arms itself every pass, and performs no bus I/O: a
// single sample of the presence sensor plus a state mutation at most.
//
// The debounce counter implements "N consecutive positive samples to
// confirm, one negative sample to revoke": while counting down, any
// negative sample reloads the counter; once it reaches zero the card is
// confirmed and only a negative sample matters again, regardless of how
// far past Inserted the protocol has taken the state. An in-flight
// transfer is not interrupted here; its own post-I/O state check
// observes the transition and fails the commit.
func (d *Driver) pollTick() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateStopped || d.state == StateUninitialized {
		return
	}

	if d.debounce > 0 {
		if d.presence.CardPresent() {
			d.debounce--
			if d.debounce == 0 {
				d.state = StateInserted
				debugln("card inserted")
				d.inserted.broadcast()
			}
		} else {
			d.debounce = d.debounceCount
		}
	} else if !d.presence.CardPresent() {
		d.state = StateWaiting
		d.debounce = d.debounceCount
		debugln("card removed")
		d.removed.broadcast()
	}

	d.pollTimer.Reset(d.pollInterval)
}
