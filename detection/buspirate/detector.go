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

// Package buspirate detects serial ports that look like Bus Pirate
// style SPI bridges.
package buspirate

import (
	"context"

	"github.com/ZaparooProject/go-mmcspi/detection"
)

// serialPort is one candidate port as reported by the platform lister.
type serialPort struct {
	Path         string
	Name         string
	VIDPID       string
	Manufacturer string
	Product      string
	SerialNumber string
}

// Bridge boards ship with well-known USB serial chips: the v3 hardware
// uses an FTDI FT232RL, the v4 a Microchip PIC with its own VID.
var knownBridgeIDs = map[string]string{
	"0403:6001": "Bus Pirate v3",
	"04D8:FB00": "Bus Pirate v4",
}

// detector implements the Detector interface for serial SPI bridges
type detector struct{}

// New creates a new serial bridge detector
func New() detection.Detector {
	return &detector{}
}

// init registers the detector on package import
func init() {
	detection.RegisterDetector(New())
}

// Transport returns the transport type
func (*detector) Transport() string {
	return "buspirate"
}

// Detect lists the machine's serial ports and grades each as a bridge
// candidate. Ports are never opened; a port that merely exists cannot be
// told apart from any other serial device, so unknown hardware is
// reported with low confidence rather than probed.
func (*detector) Detect(ctx context.Context, opts *detection.Options) ([]detection.DeviceInfo, error) {
	ports, err := listPorts(ctx)
	if err != nil {
		return nil, err
	}
	devices := gradePorts(ports, opts)
	if len(devices) == 0 {
		return nil, detection.ErrNoDevicesFound
	}
	return devices, nil
}

// gradePorts filters the raw port list and assigns confidence grades.
func gradePorts(ports []serialPort, opts *detection.Options) []detection.DeviceInfo {
	var devices []detection.DeviceInfo
	for _, port := range ports {
		if opts != nil {
			if detection.IsPathIgnored(port.Path, opts.IgnorePaths) {
				continue
			}
			if port.VIDPID != "" && detection.IsBlocked(port.VIDPID, opts.Blocklist) {
				continue
			}
		}

		info := detection.DeviceInfo{
			Transport:  "buspirate",
			Path:       port.Path,
			Name:       port.Name,
			Confidence: detection.Low,
			Metadata:   map[string]string{},
		}
		if port.VIDPID != "" {
			info.Metadata["vidpid"] = port.VIDPID
		}
		if port.Manufacturer != "" {
			info.Metadata["manufacturer"] = port.Manufacturer
		}
		if port.Product != "" {
			info.Metadata["product"] = port.Product
		}
		if port.SerialNumber != "" {
			info.Metadata["serial"] = port.SerialNumber
		}

		if name, ok := knownBridgeIDs[port.VIDPID]; ok {
			info.Confidence = detection.Medium
			if info.Name == "" || info.Name == port.Path {
				info.Name = name
			}
			info.Metadata["board"] = name
		}

		devices = append(devices, info)
	}
	return devices
}
