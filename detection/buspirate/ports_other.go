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

//go:build !darwin && !windows

package buspirate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.bug.st/serial"
)

// listPorts enumerates serial ports through the serial library and, on
// Linux, fills in USB identity from sysfs. Virtual consoles and other
// non-USB ports are kept only when nothing better exists; a bridge is
// always a USB device.
func listPorts(_ context.Context) ([]serialPort, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}

	var usb, other []serialPort
	for _, name := range names {
		port := serialPort{Path: name, Name: filepath.Base(name)}
		if isUSBSerial(name) {
			port.VIDPID, port.Product = sysfsIdentity(name)
			usb = append(usb, port)
		} else {
			other = append(other, port)
		}
	}
	if len(usb) > 0 {
		return usb, nil
	}
	return other, nil
}

func isUSBSerial(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, "ttyUSB") || strings.HasPrefix(base, "ttyACM")
}

// sysfsIdentity resolves a tty device to its USB parent and reads the
// vendor and product identity, best effort.
func sysfsIdentity(path string) (vidpid, product string) {
	base := filepath.Base(path)
	deviceDir, err := filepath.EvalSymlinks(filepath.Join("/sys/class/tty", base, "device"))
	if err != nil {
		return "", ""
	}

	// The USB device directory with idVendor sits a level or two above
	// the tty's interface directory.
	for dir := deviceDir; strings.HasPrefix(dir, "/sys"); dir = filepath.Dir(dir) {
		vendor, err := os.ReadFile(filepath.Join(dir, "idVendor"))
		if err != nil {
			continue
		}
		prod, err := os.ReadFile(filepath.Join(dir, "idProduct"))
		if err != nil {
			continue
		}
		vidpid = strings.ToUpper(strings.TrimSpace(string(vendor))) + ":" +
			strings.ToUpper(strings.TrimSpace(string(prod)))
		if name, err := os.ReadFile(filepath.Join(dir, "product")); err == nil {
			product = strings.TrimSpace(string(name))
		}
		return vidpid, product
	}
	return "", ""
}
