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

//go:build darwin

package buspirate

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	calloutRe = regexp.MustCompile(`"IOCalloutDevice"\s*=\s*"([^"]+)"`)
	vendorRe  = regexp.MustCompile(`"idVendor"\s*=\s*(\d+)`)
	productRe = regexp.MustCompile(`"idProduct"\s*=\s*(\d+)`)
	mfgRe     = regexp.MustCompile(`"USB Vendor Name"\s*=\s*"([^"]+)"`)
	prodRe    = regexp.MustCompile(`"USB Product Name"\s*=\s*"([^"]+)"`)
	serialRe  = regexp.MustCompile(`"USB Serial Number"\s*=\s*"([^"]+)"`)
)

// listPorts enumerates USB serial devices through ioreg, which carries
// the USB identity the raw /dev listing lacks. When ioreg fails the
// lister falls back to globbing the callout devices.
func listPorts(ctx context.Context) ([]serialPort, error) {
	out, err := exec.CommandContext(ctx, "ioreg", "-r", "-c", "IOSerialBSDClient", "-a").Output()
	if err != nil {
		return globPorts(), nil
	}

	var ports []serialPort
	for _, entry := range strings.Split(string(out), "+-o ") {
		if !strings.Contains(entry, "IOCalloutDevice") {
			continue
		}
		m := calloutRe.FindStringSubmatch(entry)
		if len(m) < 2 {
			continue
		}
		port := serialPort{
			Path:         m[1],
			Name:         filepath.Base(m[1]),
			VIDPID:       ioregVIDPID(entry),
			Manufacturer: firstMatch(mfgRe, entry),
			Product:      firstMatch(prodRe, entry),
			SerialNumber: firstMatch(serialRe, entry),
		}
		if !systemDevice(port.Name) {
			ports = append(ports, port)
		}
	}
	if len(ports) == 0 {
		return globPorts(), nil
	}
	return ports, nil
}

// globPorts lists callout devices without metadata. The cu.* node is
// preferred over its tty.* twin for exclusive access.
func globPorts() []serialPort {
	var ports []serialPort
	seen := map[string]bool{}

	cu, _ := filepath.Glob("/dev/cu.*")
	for _, path := range cu {
		name := filepath.Base(path)
		if strings.HasPrefix(name, "cu.Bluetooth") || systemDevice(name) {
			continue
		}
		ports = append(ports, serialPort{Path: path, Name: name})
		seen[strings.TrimPrefix(name, "cu.")] = true
	}

	tty, _ := filepath.Glob("/dev/tty.*")
	for _, path := range tty {
		name := filepath.Base(path)
		if strings.HasPrefix(name, "tty.Bluetooth") || systemDevice(name) {
			continue
		}
		if seen[strings.TrimPrefix(name, "tty.")] {
			continue
		}
		ports = append(ports, serialPort{Path: path, Name: name})
	}
	return ports
}

// ioregVIDPID converts ioreg's decimal vendor and product values into
// the hexadecimal VID:PID form the blocklist uses.
func ioregVIDPID(entry string) string {
	vendor := vendorRe.FindStringSubmatch(entry)
	product := productRe.FindStringSubmatch(entry)
	if len(vendor) < 2 || len(product) < 2 {
		return ""
	}
	var vid, pid int
	if _, err := fmt.Sscanf(vendor[1], "%d", &vid); err != nil {
		return ""
	}
	if _, err := fmt.Sscanf(product[1], "%d", &pid); err != nil {
		return ""
	}
	return fmt.Sprintf("%04X:%04X", vid, pid)
}

func firstMatch(re *regexp.Regexp, s string) string {
	if m := re.FindStringSubmatch(s); len(m) >= 2 {
		return m[1]
	}
	return ""
}

func systemDevice(name string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range []string{"console", "debug", "system", "kernel"} {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
