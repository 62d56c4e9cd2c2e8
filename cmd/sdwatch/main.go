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

// sdwatch monitors a card socket and prints insertion, negotiation and
// removal transitions until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	mmcspi "github.com/ZaparooProject/go-mmcspi"
	"github.com/ZaparooProject/go-mmcspi/detection"
	// Import all detectors to register them
	_ "github.com/ZaparooProject/go-mmcspi/detection/buspirate"
	_ "github.com/ZaparooProject/go-mmcspi/detection/spidev"
	"github.com/ZaparooProject/go-mmcspi/session"
	"github.com/ZaparooProject/go-mmcspi/transport/buspirate"
	"github.com/ZaparooProject/go-mmcspi/transport/spidev"
)

type config struct {
	devicePath   *string
	csPin        *string
	detectPin    *string
	wpPin        *string
	pollInterval *time.Duration
	debounce     *int
	debug        *bool
}

func parseFlags() *config {
	cfg := &config{
		devicePath: flag.String("device", "",
			"Bus device path (e.g., /dev/spidev0.0 or /dev/ttyUSB0). Leave empty for auto-detection."),
		csPin:     flag.String("cs", "", "GPIO pin wired to the socket's chip select (spidev only)"),
		detectPin: flag.String("detect", "", "GPIO pin wired to the card detect switch (spidev only)"),
		wpPin:     flag.String("wp", "", "GPIO pin wired to the write protect switch (spidev only)"),
		pollInterval: flag.Duration("poll-interval", 10*time.Millisecond,
			"Presence sampling period (default: 10ms)"),
		debounce: flag.Int("debounce", 10,
			"Consecutive positive samples required to confirm insertion (default: 10)"),
		debug: flag.Bool("debug", false, "Enable debug output"),
	}
	flag.Parse()

	if *cfg.debug {
		mmcspi.SetDebugEnabled(true)
	}
	return cfg
}

func main() {
	cfg := parseFlags()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	driver, err := openDriver(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = driver.Close() }()

	if err := driver.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	sess := session.New(driver, nil)
	sess.OnCardReady = func(d *mmcspi.Driver) {
		fmt.Printf("[%s] card ready: %s, %d sectors (%d MiB), write protect %v\n",
			timestamp(), d.CardType(), d.Capacity(),
			uint64(d.Capacity())*mmcspi.SectorSize/(1024*1024), d.WriteProtected())
	}
	sess.OnCardRemoved = func() {
		fmt.Printf("[%s] card removed\n", timestamp())
	}
	sess.OnConnectError = func(err error) {
		fmt.Printf("[%s] connect failed: %v\n", timestamp(), err)
	}

	fmt.Println("Watching for cards. Press Ctrl+C to stop.")
	if err := sess.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("\nStopped.")
}

func timestamp() string {
	return time.Now().Format("15:04:05.000")
}

// openDriver builds the bus from the flags, auto-detecting a device when
// none is named, and wires the socket's sensors into the driver.
func openDriver(cfg *config) (*mmcspi.Driver, error) {
	path := *cfg.devicePath
	transportName := ""

	if path == "" {
		fmt.Println("Auto-detecting card sockets...")
		opts := detection.DefaultOptions()
		devices, err := detection.DetectAll(&opts)
		if err != nil {
			return nil, fmt.Errorf("auto-detection failed: %w", err)
		}
		device := devices[0]
		path = device.Path
		transportName = device.Transport
		fmt.Printf("Using %s device %s (%s confidence)\n",
			device.Transport, device.Path, device.Confidence)
	}

	var (
		bus     mmcspi.Bus
		options []mmcspi.Option
		err     error
	)
	if transportName == "buspirate" || (transportName == "" && looksSerial(path)) {
		bus, err = buspirate.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open serial bridge: %w", err)
		}
	} else {
		if *cfg.csPin == "" {
			return nil, errors.New("-cs is required for spidev transports")
		}
		spiBus, err := spidev.NewWithConfig(spidev.Config{
			Port:         path,
			CS:           *cfg.csPin,
			Detect:       *cfg.detectPin,
			WriteProtect: *cfg.wpPin,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open SPI port: %w", err)
		}
		bus = spiBus
		if *cfg.detectPin != "" {
			options = append(options, mmcspi.WithPresenceSensor(spiBus.PresenceSensor()))
		}
		if *cfg.wpPin != "" {
			options = append(options, mmcspi.WithWriteProtectSensor(spiBus.WriteProtectSensor()))
		}
	}

	options = append(options,
		mmcspi.WithPollInterval(*cfg.pollInterval),
		mmcspi.WithDebounceCount(*cfg.debounce),
	)
	driver, err := mmcspi.New(bus, options...)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	return driver, nil
}

// looksSerial guesses the transport for an explicit path with no
// transport hint: serial bridges live on tty or COM ports.
func looksSerial(path string) bool {
	for _, prefix := range []string{"/dev/tty", "/dev/cu.", "COM", "com"} {
		if len(path) >= len(prefix) && path[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
