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

// Package buspirate provides bus access through a Bus Pirate probe in
// binary scripting mode, bridged over a serial port. It suits bench
// work and card bring-up more than production use; the probe tops out
// at 8 MHz.
package buspirate

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	mmcspi "github.com/ZaparooProject/go-mmcspi"
	"github.com/ZaparooProject/go-mmcspi/internal/spiutil"
	"go.bug.st/serial"
)

const (
	// The probe always talks binary mode at 115200 baud.
	binaryBaudRate = 115200

	// bulkMax is the largest payload one bulk transfer opcode carries.
	bulkMax = 16

	// Raw bitbang opcodes.
	opResetBitbang   = 0x00
	opEnterSPI       = 0x01
	opExitToTerminal = 0x0F

	// Raw SPI mode opcodes.
	opChipSelectLow  = 0x02
	opChipSelectHigh = 0x03
	opBulkTransfer   = 0x10
	opConfigPeriph   = 0x40
	opSetSpeed       = 0x60
	opConfigSPI      = 0x80

	// Peripheral config bits for opConfigPeriph.
	periphPower = 0x08

	// SPI config bits for opConfigSPI. Together they select clock
	// mode 0 with 3.3V push-pull drivers.
	spiOut3V3      = 0x08
	spiEdgeAtoIdle = 0x02

	ack = 0x01

	bitbangBanner = "BBIO1"
	spiBanner     = "SPI1"

	// handshakeAttempts bounds the reset bytes sent while fishing for
	// the bitbang banner. The probe needs up to twenty to fall out of
	// whatever state the terminal left it in.
	handshakeAttempts = 20

	// defaultReadTimeout bounds a single serial read while waiting on
	// the probe.
	defaultReadTimeout = 100 * time.Millisecond
)

// speedSteps are the probe's discrete clock rates, fastest first.
var speedSteps = []struct {
	hz   uint32
	code byte
}{
	{8_000_000, 0x07},
	{4_000_000, 0x06},
	{2_600_000, 0x05},
	{2_000_000, 0x04},
	{1_000_000, 0x03},
	{250_000, 0x02},
	{125_000, 0x01},
	{30_000, 0x00},
}

// Bus implements the mmcspi.Bus interface over a Bus Pirate in binary
// SPI mode.
type Bus struct {
	port     serial.Port
	portName string
	mu       sync.Mutex
	closed   bool
}

// New opens the probe on the named serial port and switches it into
// binary SPI mode with the socket powered and the card deselected.
func New(portName string) (*Bus, error) {
	mode := &serial.Mode{
		BaudRate: binaryBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(defaultReadTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	bus := &Bus{port: port, portName: portName}
	if err := bus.setup(); err != nil {
		_ = port.Close()
		return nil, err
	}
	return bus, nil
}

// setup drives the probe from an unknown state into binary SPI mode
// and applies the fixed card wiring: power on, mode 0, select released.
func (b *Bus) setup() error {
	if err := b.enterBinarySPI(); err != nil {
		return err
	}
	if err := b.command("setup", opConfigPeriph|periphPower); err != nil {
		return err
	}
	if err := b.command("setup", opConfigSPI|spiOut3V3|spiEdgeAtoIdle); err != nil {
		return err
	}
	return b.command("setup", opChipSelectHigh)
}

// enterBinarySPI resets the probe into raw bitbang mode and then into
// raw SPI mode, verifying both banners.
func (b *Bus) enterBinarySPI() error {
	_ = b.port.ResetInputBuffer()

	var window []byte
	scratch := make([]byte, 16)
	found := false
	for attempt := 0; attempt < handshakeAttempts && !found; attempt++ {
		if err := b.writeFull("handshake", []byte{opResetBitbang}); err != nil {
			return err
		}
		n, err := b.port.Read(scratch)
		if err != nil {
			return mmcspi.NewBusError("handshake", b.portName,
				fmt.Errorf("serial read: %w", err), mmcspi.ErrorTypeTransient)
		}
		window = append(window, scratch[:n]...)
		found = bytes.Contains(window, []byte(bitbangBanner))
	}
	if !found {
		return mmcspi.NewBusError("handshake", b.portName,
			fmt.Errorf("no %s banner from probe", bitbangBanner), mmcspi.ErrorTypeTransient)
	}

	// Later resets echo the banner again; drop any stragglers before
	// switching modes.
	_ = b.port.ResetInputBuffer()

	if err := b.writeFull("handshake", []byte{opEnterSPI}); err != nil {
		return err
	}
	banner := make([]byte, len(spiBanner))
	if err := b.readFull("handshake", banner); err != nil {
		return err
	}
	if string(banner) != spiBanner {
		return mmcspi.NewBusError("handshake", b.portName,
			fmt.Errorf("unexpected SPI mode banner %q", banner), mmcspi.ErrorTypeTransient)
	}
	return nil
}

// Select asserts the card's chip select line.
func (b *Bus) Select() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return mmcspi.NewBusError("select", b.portName, mmcspi.ErrBusFailure, mmcspi.ErrorTypePermanent)
	}
	return b.command("select", opChipSelectLow)
}

// Deselect releases the card's chip select line.
func (b *Bus) Deselect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return mmcspi.NewBusError("deselect", b.portName, mmcspi.ErrBusFailure, mmcspi.ErrorTypePermanent)
	}
	return b.command("deselect", opChipSelectHigh)
}

// Send clocks the given bytes out to the card.
func (b *Bus) Send(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return mmcspi.NewBusError("send", b.portName, mmcspi.ErrBusFailure, mmcspi.ErrorTypePermanent)
	}
	return b.bulk("send", data, nil)
}

// Receive fills buf with bytes from the card, clocking idle bytes out
// while reading.
func (b *Bus) Receive(buf []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return mmcspi.NewBusError("receive", b.portName, mmcspi.ErrBusFailure, mmcspi.ErrorTypePermanent)
	}
	return b.bulk("receive", nil, buf)
}

// Ignore clocks n bytes through the bus and discards the card's answer.
func (b *Bus) Ignore(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return mmcspi.NewBusError("ignore", b.portName, mmcspi.ErrBusFailure, mmcspi.ErrorTypePermanent)
	}
	for n > 0 {
		step := n
		if step > bulkMax {
			step = bulkMax
		}
		if err := b.bulk("ignore", spiutil.Idle(step), nil); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// bulk runs a duplex exchange through the probe's bulk transfer opcode,
// sixteen bytes at a time. Exactly one of w and r is nil; the other
// side is idle fill or discarded. Callers hold b.mu.
func (b *Bus) bulk(op string, w, r []byte) error {
	var cmd [1 + bulkMax]byte
	var resp [1 + bulkMax]byte

	for len(w) > 0 || len(r) > 0 {
		var wc []byte
		switch {
		case w != nil:
			step := len(w)
			if step > bulkMax {
				step = bulkMax
			}
			wc, w = w[:step], w[step:]
		default:
			step := len(r)
			if step > bulkMax {
				step = bulkMax
			}
			wc = spiutil.Idle(step)
		}

		cmd[0] = opBulkTransfer | byte(len(wc)-1)
		copy(cmd[1:], wc)
		if err := b.writeFull(op, cmd[:1+len(wc)]); err != nil {
			return err
		}

		if err := b.readFull(op, resp[:1+len(wc)]); err != nil {
			return err
		}
		if resp[0] != ack {
			return mmcspi.NewBusError(op, b.portName,
				fmt.Errorf("bulk transfer rejected: %#02x", resp[0]), mmcspi.ErrorTypeTransient)
		}
		if r != nil {
			copy(r, resp[1:1+len(wc)])
			r = r[len(wc):]
		}
	}
	return nil
}

// command sends a single opcode and consumes its acknowledge byte.
func (b *Bus) command(op string, cmd byte) error {
	if err := b.writeFull(op, []byte{cmd}); err != nil {
		return err
	}
	var resp [1]byte
	if err := b.readFull(op, resp[:]); err != nil {
		return err
	}
	if resp[0] != ack {
		return mmcspi.NewBusError(op, b.portName,
			fmt.Errorf("opcode %#02x rejected: %#02x", cmd, resp[0]), mmcspi.ErrorTypeTransient)
	}
	return nil
}

// writeFull pushes all of data out the serial port.
func (b *Bus) writeFull(op string, data []byte) error {
	for len(data) > 0 {
		n, err := b.port.Write(data)
		if err != nil {
			return mmcspi.NewBusError(op, b.portName,
				fmt.Errorf("serial write: %w", err), mmcspi.ErrorTypeTransient)
		}
		data = data[n:]
	}
	return nil
}

// readFull fills buf from the serial port. A read that returns nothing
// means the port timeout expired with the probe silent.
func (b *Bus) readFull(op string, buf []byte) error {
	got := 0
	for got < len(buf) {
		n, err := b.port.Read(buf[got:])
		if err != nil {
			return mmcspi.NewBusError(op, b.portName,
				fmt.Errorf("serial read: %w", err), mmcspi.ErrorTypeTransient)
		}
		if n == 0 {
			return mmcspi.NewTimeoutError(op, b.portName)
		}
		got += n
	}
	return nil
}

// Configure selects the fastest probe clock at or below the profile's
// rate. Rates below the probe's slowest step get the slowest step.
func (b *Bus) Configure(profile mmcspi.BusProfile) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return mmcspi.NewBusError("configure", b.portName, mmcspi.ErrBusFailure, mmcspi.ErrorTypePermanent)
	}
	if profile.Clock == 0 {
		return fmt.Errorf("%w: zero clock rate", mmcspi.ErrInvalidParameter)
	}
	return b.command("configure", opSetSpeed|speedCode(profile.Clock))
}

// speedCode maps a clock rate to the probe's nearest step below it.
func speedCode(clock uint32) byte {
	for _, step := range speedSteps {
		if step.hz <= clock {
			return step.code
		}
	}
	return speedSteps[len(speedSteps)-1].code
}

// Close drops the probe back to its terminal and releases the port.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	// Exit SPI mode, then reset to the user terminal. The probe sends
	// banners in reply; they go down with the port.
	_, _ = b.port.Write([]byte{opResetBitbang})
	_, _ = b.port.Write([]byte{opExitToTerminal})

	if err := b.port.Close(); err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return nil
}

// Type returns the bus type.
func (*Bus) Type() mmcspi.BusType {
	return mmcspi.BusBusPirate
}

// Ensure Bus implements mmcspi.Bus
var _ mmcspi.Bus = (*Bus)(nil)
