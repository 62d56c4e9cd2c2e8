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
	"sync"
	"time"
)

// BlockingBus is a mock bus whose Receive calls block until released.
// It exists to test that the driver never holds its state mutex across
// bus I/O: while one goroutine is parked inside Receive, the monitor and
// every state accessor must still make progress.
type BlockingBus struct {
	blockChan chan struct{}
	timeout   time.Duration
	mu        sync.Mutex
	closed    bool

	// FillByte is what Receive hands back once unblocked. The 0xFF
	// default reads as an idle bus.
	FillByte byte
}

// NewBlockingBus creates a blocking mock bus
func NewBlockingBus() *BlockingBus {
	return &BlockingBus{
		blockChan: make(chan struct{}),
		timeout:   5 * time.Second,
		FillByte:  busIdle,
	}
}

// Select asserts the mock chip select
func (*BlockingBus) Select() error { return nil }

// Deselect releases the mock chip select
func (*BlockingBus) Deselect() error { return nil }

// Send accepts and discards data
func (*BlockingBus) Send(_ []byte) error { return nil }

// Ignore discards clock bytes
func (*BlockingBus) Ignore(_ int) error { return nil }

// Configure accepts any profile
func (*BlockingBus) Configure(_ BusProfile) error { return nil }

// Receive blocks until Unblock or Close is called, or the timeout
// expires, then fills buf with FillByte.
func (b *BlockingBus) Receive(buf []byte) error {
	b.mu.Lock()
	blockChan := b.blockChan
	closed := b.closed
	fill := b.FillByte
	timeout := b.timeout
	b.mu.Unlock()

	if closed {
		return NewBusError("receive", "mock", ErrBusFailure, ErrorTypePermanent)
	}

	select {
	case <-blockChan:
	case <-time.After(timeout):
		return NewTimeoutError("receive", "mock")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return NewBusError("receive", "mock", ErrBusFailure, ErrorTypePermanent)
	}
	for i := range buf {
		buf[i] = fill
	}
	return nil
}

// Unblock releases every Receive currently parked
func (b *BlockingBus) Unblock() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		close(b.blockChan)
		b.blockChan = make(chan struct{})
	}
}

// SetTimeout configures how long a blocked Receive waits before failing
func (b *BlockingBus) SetTimeout(timeout time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.timeout = timeout
}

// Close unblocks all operations and marks the bus as closed
func (b *BlockingBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.blockChan)
	}
	return nil
}

// Type returns BusMock
func (*BlockingBus) Type() BusType {
	return BusMock
}

// ByteExchanger is the card side of a simulated bus: one byte clocked in,
// one byte clocked out, plus the chip select line.
type ByteExchanger interface {
	ExchangeByte(mosi byte) byte
	SetSelected(selected bool)
}

// SimulatorBus adapts a byte-level card simulator to the Bus contract.
// Besides clocking bytes it records every configured profile and can
// inject sticky faults into individual operations.
type SimulatorBus struct {
	// SelectErr, SendErr and ReceiveErr fail the matching operation
	// while non-nil.
	SelectErr  error
	SendErr    error
	ReceiveErr error

	exchanger ByteExchanger
	mu        sync.Mutex
	closed    bool
	selected  bool
	profiles  []BusProfile
}

// NewSimulatorBus wraps a card simulator in a bus.
func NewSimulatorBus(exchanger ByteExchanger) *SimulatorBus {
	return &SimulatorBus{exchanger: exchanger}
}

// Profiles returns every profile configured so far, in order.
func (b *SimulatorBus) Profiles() []BusProfile {
	b.mu.Lock()
	defer b.mu.Unlock()
	profiles := make([]BusProfile, len(b.profiles))
	copy(profiles, b.profiles)
	return profiles
}

// Selected reports whether the card is currently addressed.
func (b *SimulatorBus) Selected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.selected
}

// Select asserts the simulated chip select
func (b *SimulatorBus) Select() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return NewBusError("select", "sim", ErrBusFailure, ErrorTypePermanent)
	}
	if b.SelectErr != nil {
		return b.SelectErr
	}
	b.selected = true
	b.exchanger.SetSelected(true)
	return nil
}

// Deselect releases the simulated chip select
func (b *SimulatorBus) Deselect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.selected = false
	b.exchanger.SetSelected(false)
	return nil
}

// Send clocks data bytes into the simulated card
func (b *SimulatorBus) Send(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return NewBusError("send", "sim", ErrBusFailure, ErrorTypePermanent)
	}
	if b.SendErr != nil {
		return b.SendErr
	}
	for _, octet := range data {
		b.exchanger.ExchangeByte(octet)
	}
	return nil
}

// Receive clocks idle bytes and collects the card's answers
func (b *SimulatorBus) Receive(buf []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return NewBusError("receive", "sim", ErrBusFailure, ErrorTypePermanent)
	}
	if b.ReceiveErr != nil {
		return b.ReceiveErr
	}
	for i := range buf {
		buf[i] = b.exchanger.ExchangeByte(busIdle)
	}
	return nil
}

// Ignore clocks bytes through the card and discards the answers
func (b *SimulatorBus) Ignore(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return NewBusError("ignore", "sim", ErrBusFailure, ErrorTypePermanent)
	}
	for i := 0; i < n; i++ {
		b.exchanger.ExchangeByte(busIdle)
	}
	return nil
}

// Configure records the requested profile
func (b *SimulatorBus) Configure(profile BusProfile) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return NewBusError("configure", "sim", ErrBusFailure, ErrorTypePermanent)
	}
	b.profiles = append(b.profiles, profile)
	return nil
}

// Close marks the bus as closed; further operations fail
func (b *SimulatorBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Type returns BusMock
func (*SimulatorBus) Type() BusType {
	return BusMock
}
