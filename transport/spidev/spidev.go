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

// Package spidev provides bus access through a native SPI controller
// exposed by the operating system, using periph.io for port and pin
// handling.
package spidev

import (
	"fmt"
	"sync"

	mmcspi "github.com/ZaparooProject/go-mmcspi"
	"github.com/ZaparooProject/go-mmcspi/internal/spiutil"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// txChunk caps a single kernel transfer. Linux spidev buffers commonly
// stop at one page.
const txChunk = 4096

// Config describes the controller port and the socket wiring.
type Config struct {
	// Port is the spireg name, like "SPI0.0" or "/dev/spidev0.0". Empty
	// selects the first available port.
	Port string

	// CS names the GPIO pin wired to the card's chip select line. The
	// protocol holds the card selected across many kernel transfers, so
	// the controller's own select line cannot be used and this pin is
	// required.
	CS string

	// Detect optionally names the card detect pin. The socket switch is
	// expected to ground the pin while a card sits in it; set
	// DetectActiveHigh for sockets wired the other way around.
	Detect           string
	DetectActiveHigh bool

	// WriteProtect optionally names the write protect pin, grounded
	// while the tab sits in the lock position unless
	// WriteProtectActiveHigh is set.
	WriteProtect           string
	WriteProtectActiveHigh bool

	// MaxClock caps the bus clock in hertz. The port connects once at
	// this ceiling and profile changes clamp the per-transfer speed
	// below it. Zero means the default full-speed rate.
	MaxClock uint32
}

// Bus implements the mmcspi.Bus interface on top of a kernel SPI
// controller with a GPIO driven chip select.
type Bus struct {
	port       spi.PortCloser
	conn       spi.Conn
	cs         gpio.PinIO
	detect     gpio.PinIO
	wp         gpio.PinIO
	portName   string
	mu         sync.Mutex
	closed     bool
	detectHigh bool
	wpHigh     bool
}

// New opens the named SPI port with the card's chip select wired to
// csPin. Sockets with detect or write protect lines should use
// NewWithConfig instead.
func New(portName, csPin string) (*Bus, error) {
	return NewWithConfig(Config{Port: portName, CS: csPin})
}

// NewWithConfig opens an SPI port per the given configuration.
func NewWithConfig(cfg Config) (*Bus, error) {
	if cfg.CS == "" {
		return nil, fmt.Errorf("%w: chip select pin is required", mmcspi.ErrInvalidParameter)
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	port, err := spireg.Open(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port %q: %w", cfg.Port, err)
	}

	maxClock := cfg.MaxClock
	if maxClock == 0 {
		maxClock = mmcspi.DefaultFullSpeedClock
	}

	// Cards use clock mode 0. Selection is handled on a GPIO pin, so
	// the controller is asked to leave its own line alone; controllers
	// that reject that are connected plainly, their unwired select line
	// toggling without effect.
	mode := spi.Mode0 | spi.NoCS
	conn, err := port.Connect(physic.Frequency(maxClock)*physic.Hertz, mode, 8)
	if err != nil {
		conn, err = port.Connect(physic.Frequency(maxClock)*physic.Hertz, spi.Mode0, 8)
	}
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to connect SPI port %q: %w", cfg.Port, err)
	}

	cs := gpioreg.ByName(cfg.CS)
	if cs == nil {
		_ = port.Close()
		return nil, fmt.Errorf("%w: unknown chip select pin %q", mmcspi.ErrInvalidParameter, cfg.CS)
	}
	if err := cs.Out(gpio.High); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("failed to release chip select pin %q: %w", cfg.CS, err)
	}

	bus := &Bus{
		port:       port,
		conn:       conn,
		cs:         cs,
		portName:   cfg.Port,
		detectHigh: cfg.DetectActiveHigh,
		wpHigh:     cfg.WriteProtectActiveHigh,
	}

	if cfg.Detect != "" {
		bus.detect, err = openSensePin(cfg.Detect)
		if err != nil {
			_ = port.Close()
			return nil, err
		}
	}
	if cfg.WriteProtect != "" {
		bus.wp, err = openSensePin(cfg.WriteProtect)
		if err != nil {
			_ = port.Close()
			return nil, err
		}
	}

	return bus, nil
}

// openSensePin resolves a socket sense line and arms its pull-up.
func openSensePin(name string) (gpio.PinIO, error) {
	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("%w: unknown pin %q", mmcspi.ErrInvalidParameter, name)
	}
	if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("failed to configure pin %q as input: %w", name, err)
	}
	return pin, nil
}

// Select asserts the card's chip select line.
func (b *Bus) Select() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return mmcspi.NewBusError("select", b.portName, mmcspi.ErrBusFailure, mmcspi.ErrorTypePermanent)
	}
	if err := b.cs.Out(gpio.Low); err != nil {
		return mmcspi.NewBusError("select", b.portName, fmt.Errorf("chip select: %w", err), mmcspi.ErrorTypeTransient)
	}
	return nil
}

// Deselect releases the card's chip select line.
func (b *Bus) Deselect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return mmcspi.NewBusError("deselect", b.portName, mmcspi.ErrBusFailure, mmcspi.ErrorTypePermanent)
	}
	if err := b.cs.Out(gpio.High); err != nil {
		return mmcspi.NewBusError("deselect", b.portName, fmt.Errorf("chip select: %w", err), mmcspi.ErrorTypeTransient)
	}
	return nil
}

// Send clocks the given bytes out to the card.
func (b *Bus) Send(data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transfer("send", data, nil)
}

// Receive fills buf with bytes from the card, clocking idle bytes out
// while reading.
func (b *Bus) Receive(buf []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transfer("receive", nil, buf)
}

// Ignore clocks n bytes through the bus and discards the card's answer.
func (b *Bus) Ignore(n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for n > 0 {
		step := n
		if step > txChunk {
			step = txChunk
		}
		if err := b.transfer("ignore", spiutil.Idle(step), nil); err != nil {
			return err
		}
		n -= step
	}
	return nil
}

// transfer runs one duplex exchange, chunked to the kernel buffer size.
// Exactly one of w and r is nil. Callers hold b.mu.
func (b *Bus) transfer(op string, w, r []byte) error {
	if b.closed {
		return mmcspi.NewBusError(op, b.portName, mmcspi.ErrBusFailure, mmcspi.ErrorTypePermanent)
	}
	for len(w) > 0 || len(r) > 0 {
		var wc, rc []byte
		switch {
		case w != nil:
			step := len(w)
			if step > txChunk {
				step = txChunk
			}
			wc, w = w[:step], w[step:]
		default:
			step := len(r)
			if step > txChunk {
				step = txChunk
			}
			rc, r = r[:step], r[step:]
			wc = spiutil.Idle(step)
		}
		if err := b.conn.Tx(wc, rc); err != nil {
			return mmcspi.NewBusError(op, b.portName, fmt.Errorf("spi transfer: %w", err), mmcspi.ErrorTypeTransient)
		}
	}
	return nil
}

// Configure clamps the per-transfer clock to the profile's rate. Rates
// above the connect ceiling are capped by the port.
func (b *Bus) Configure(profile mmcspi.BusProfile) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return mmcspi.NewBusError("configure", b.portName, mmcspi.ErrBusFailure, mmcspi.ErrorTypePermanent)
	}
	if profile.Clock == 0 {
		return fmt.Errorf("%w: zero clock rate", mmcspi.ErrInvalidParameter)
	}
	if err := b.port.LimitSpeed(physic.Frequency(profile.Clock) * physic.Hertz); err != nil {
		return mmcspi.NewBusError("configure", b.portName, fmt.Errorf("limit speed: %w", err), mmcspi.ErrorTypeTransient)
	}
	return nil
}

// Close releases the chip select line and the port.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	_ = b.cs.Out(gpio.High)
	if err := b.port.Close(); err != nil {
		return fmt.Errorf("failed to close SPI port: %w", err)
	}
	return nil
}

// Type returns the bus type.
func (*Bus) Type() mmcspi.BusType {
	return mmcspi.BusSPIDev
}

// PresenceSensor returns a sensor backed by the configured detect pin,
// or nil when the socket has none.
func (b *Bus) PresenceSensor() mmcspi.PresenceSensor {
	if b.detect == nil {
		return nil
	}
	return mmcspi.PresenceFunc(func() bool {
		return b.detect.Read() == activeLevel(b.detectHigh)
	})
}

// WriteProtectSensor returns a sensor backed by the configured write
// protect pin, or nil when the socket has none.
func (b *Bus) WriteProtectSensor() mmcspi.WriteProtectSensor {
	if b.wp == nil {
		return nil
	}
	return mmcspi.WriteProtectFunc(func() bool {
		return b.wp.Read() == activeLevel(b.wpHigh)
	})
}

// activeLevel maps a polarity flag to the pin level that means asserted.
func activeLevel(activeHigh bool) gpio.Level {
	if activeHigh {
		return gpio.High
	}
	return gpio.Low
}

// Ensure Bus implements mmcspi.Bus
var _ mmcspi.Bus = (*Bus)(nil)
