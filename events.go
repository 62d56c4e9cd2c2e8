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

import "sync"

// eventSource fans one edge-triggered event out to any number of
// subscribers. Each subscriber channel has capacity one and delivery
// never blocks: a subscriber that has not drained the previous signal
// sees consecutive events coalesced, the same latching the original
// event flags provide. The monitor tick broadcasts from timer context,
// so blocking here is not an option.
type eventSource struct {
	mu   sync.Mutex
	subs []chan struct{}
}

// subscribe registers and returns a new subscriber channel.
func (s *eventSource) subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// broadcast signals every subscriber without blocking.
func (s *eventSource) broadcast() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// InsertedEvents returns a channel that receives a signal each time the
// monitor confirms a card insertion. The channel is never closed; signals
// coalesce if the receiver is slow.
func (d *Driver) InsertedEvents() <-chan struct{} {
	return d.inserted.subscribe()
}

// RemovedEvents returns a channel that receives a signal each time the
// monitor detects a card removal.
func (d *Driver) RemovedEvents() <-chan struct{} {
	return d.removed.subscribe()
}
