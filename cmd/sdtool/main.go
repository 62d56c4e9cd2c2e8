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

// sdtool inspects and copies raw sectors of a memory card:
//
//	sdtool info                          print card identity and capacity
//	sdtool dump -out img [-start N] [-count N]    copy sectors to a file
//	sdtool restore -in img [-start N]             copy a file onto the card
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	mmcspi "github.com/ZaparooProject/go-mmcspi"
	"github.com/ZaparooProject/go-mmcspi/detection"
	// Import all detectors to register them
	_ "github.com/ZaparooProject/go-mmcspi/detection/buspirate"
	_ "github.com/ZaparooProject/go-mmcspi/detection/spidev"
	"github.com/ZaparooProject/go-mmcspi/transport/buspirate"
	"github.com/ZaparooProject/go-mmcspi/transport/spidev"
)

type config struct {
	devicePath *string
	csPin      *string
	detectPin  *string
	wpPin      *string
	timeout    *time.Duration
	outFile    *string
	inFile     *string
	start      *uint
	count      *uint
	force      *bool
	verify     *bool
	debug      *bool
}

func parseFlags() *config {
	cfg := &config{
		devicePath: flag.String("device", "",
			"Bus device path (e.g., /dev/spidev0.0 or /dev/ttyUSB0). Leave empty for auto-detection."),
		csPin:     flag.String("cs", "", "GPIO pin wired to the socket's chip select (spidev only)"),
		detectPin: flag.String("detect", "", "GPIO pin wired to the card detect switch (spidev only)"),
		wpPin:     flag.String("wp", "", "GPIO pin wired to the write protect switch (spidev only)"),
		timeout:   flag.Duration("timeout", 10*time.Second, "Timeout for card insertion (default: 10s)"),
		outFile:   flag.String("out", "", "Output file for dump"),
		inFile:    flag.String("in", "", "Input file for restore"),
		start:     flag.Uint("start", 0, "First sector of the transfer (default: 0)"),
		count:     flag.Uint("count", 0, "Sector count for dump; 0 means through the end of the card"),
		force:     flag.Bool("force", false, "Restore even when the write protect tab is set"),
		verify:    flag.Bool("verify", false, "Read back and verify written sectors"),
		debug:     flag.Bool("debug", false, "Enable debug output"),
	}
	flag.Parse()

	if *cfg.debug {
		mmcspi.SetDebugEnabled(true)
	}
	return cfg
}

func main() {
	cfg := parseFlags()

	command := flag.Arg(0)
	if command == "" {
		command = "info"
	}

	if err := run(cfg, command); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config, command string) error {
	driver, err := openDriver(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = driver.Close() }()

	if err := waitForCard(driver, *cfg.timeout); err != nil {
		return err
	}
	if err := driver.Connect(); err != nil {
		return fmt.Errorf("card negotiation failed: %w", err)
	}
	defer func() { _ = driver.Disconnect() }()

	switch command {
	case "info":
		return printInfo(driver)
	case "dump":
		return dump(driver, cfg)
	case "restore":
		return restore(driver, cfg)
	default:
		return fmt.Errorf("unknown command %q (want info, dump or restore)", command)
	}
}

// waitForCard arms the monitor and waits until the debounce filter
// confirms a card, or the timeout expires.
func waitForCard(driver *mmcspi.Driver, timeout time.Duration) error {
	inserted := driver.InsertedEvents()
	if err := driver.Start(); err != nil {
		return err
	}
	if driver.State() == mmcspi.StateInserted {
		return nil
	}

	fmt.Println("Waiting for card...")
	select {
	case <-inserted:
		return nil
	case <-time.After(timeout):
		return errors.New("timed out waiting for a card")
	}
}

func printInfo(driver *mmcspi.Driver) error {
	capacity := driver.Capacity()
	fmt.Printf("Card type:      %s\n", driver.CardType())
	fmt.Printf("Addressing:     %s\n", addressing(driver.BlockAddressed()))
	if capacity > 0 {
		fmt.Printf("Capacity:       %d sectors (%d MiB)\n",
			capacity, uint64(capacity)*mmcspi.SectorSize/(1024*1024))
	} else {
		fmt.Printf("Capacity:       unknown\n")
	}
	if csd, ok := driver.CSD(); ok {
		fmt.Printf("CSD:            % 02X\n", csd)
	}
	fmt.Printf("Write protect:  %v\n", driver.WriteProtected())
	return nil
}

func addressing(block bool) string {
	if block {
		return "block (high capacity)"
	}
	return "byte (standard capacity)"
}

// dump streams sectors from the card into the output file.
func dump(driver *mmcspi.Driver, cfg *config) error {
	if *cfg.outFile == "" {
		return errors.New("dump requires -out")
	}

	count := uint32(*cfg.count)
	start := uint32(*cfg.start)
	if count == 0 {
		capacity := driver.Capacity()
		if capacity == 0 {
			return errors.New("card capacity unknown; pass an explicit -count")
		}
		if start >= capacity {
			return fmt.Errorf("start sector %d beyond card end %d", start, capacity)
		}
		count = capacity - start
	}

	out, err := os.Create(*cfg.outFile)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer func() { _ = out.Close() }()

	if err := driver.ReadStart(start); err != nil {
		return fmt.Errorf("open read at sector %d: %w", start, err)
	}

	buf := make([]byte, mmcspi.SectorSize)
	for i := uint32(0); i < count; i++ {
		if err := driver.ReadStep(buf); err != nil {
			return fmt.Errorf("read sector %d: %w", start+i, err)
		}
		if _, err := out.Write(buf); err != nil {
			_ = driver.ReadStop()
			return fmt.Errorf("write output: %w", err)
		}
		progress("Dumped", i+1, count)
	}
	fmt.Println()

	if err := driver.ReadStop(); err != nil {
		return fmt.Errorf("close read: %w", err)
	}
	return out.Close()
}

// restore streams the input file onto the card, whole sectors at a time.
// A short final sector is padded with 0xFF, the flash idle value.
func restore(driver *mmcspi.Driver, cfg *config) error {
	if *cfg.inFile == "" {
		return errors.New("restore requires -in")
	}
	if driver.WriteProtected() && !*cfg.force {
		return errors.New("card is write protected (use -force to override)")
	}

	in, err := os.Open(*cfg.inFile)
	if err != nil {
		return fmt.Errorf("open input file: %w", err)
	}
	defer func() { _ = in.Close() }()

	stat, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat input file: %w", err)
	}
	count := uint32((stat.Size() + mmcspi.SectorSize - 1) / mmcspi.SectorSize)
	if count == 0 {
		return errors.New("input file is empty")
	}
	start := uint32(*cfg.start)

	if *cfg.verify {
		return restoreVerified(driver, in, start, count)
	}

	if err := driver.WriteStart(start); err != nil {
		return fmt.Errorf("open write at sector %d: %w", start, err)
	}

	buf := make([]byte, mmcspi.SectorSize)
	for i := uint32(0); i < count; i++ {
		if err := readSector(in, buf); err != nil {
			_ = driver.WriteStop()
			return err
		}
		if err := driver.WriteStep(buf); err != nil {
			return fmt.Errorf("write sector %d: %w", start+i, err)
		}
		progress("Restored", i+1, count)
	}
	fmt.Println()

	if err := driver.WriteStop(); err != nil {
		return fmt.Errorf("close write: %w", err)
	}
	return nil
}

// verifyChunk bounds how much of the image is written and read back per
// verified operation.
const verifyChunk = 64

// restoreVerified writes through the verified layer, which reads each
// chunk back and retries the write on mismatch.
func restoreVerified(driver *mmcspi.Driver, in io.Reader, start, count uint32) error {
	verified, err := mmcspi.NewVerifiedDriver(driver, nil)
	if err != nil {
		return err
	}

	buf := make([]byte, verifyChunk*mmcspi.SectorSize)
	for done := uint32(0); done < count; {
		sectors := count - done
		if sectors > verifyChunk {
			sectors = verifyChunk
		}
		chunk := buf[:sectors*mmcspi.SectorSize]
		for i := uint32(0); i < sectors; i++ {
			if err := readSector(in, chunk[i*mmcspi.SectorSize:(i+1)*mmcspi.SectorSize]); err != nil {
				return err
			}
		}
		if err := verified.WriteBlocks(start+done, chunk); err != nil {
			return fmt.Errorf("write sectors %d-%d: %w", start+done, start+done+sectors-1, err)
		}
		done += sectors
		progress("Restored", done, count)
	}
	fmt.Println()

	metrics := verified.Metrics()
	fmt.Printf("Verified %d operations, %d retries, %d failures\n",
		metrics.TotalOperations, metrics.Retries, metrics.FailedVerifications)
	return nil
}

// readSector fills buf from the input, padding a short final read.
func readSector(in io.Reader, buf []byte) error {
	n, err := io.ReadFull(in, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read input: %w", err)
	}
	for i := n; i < len(buf); i++ {
		buf[i] = 0xFF
	}
	return nil
}

func progress(verb string, done, total uint32) {
	if done%64 == 0 || done == total {
		fmt.Printf("\r%s %d/%d sectors", verb, done, total)
	}
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
	)
	if transportName == "buspirate" || (transportName == "" && looksSerial(path)) {
		serialBus, err := buspirate.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open serial bridge: %w", err)
		}
		bus = serialBus
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
