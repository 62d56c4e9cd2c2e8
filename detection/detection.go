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

// Package detection discovers card sockets reachable from this machine:
// native SPI controllers and serial bridge probes. Importing a detector
// subpackage registers it; DetectAll runs every registered detector.
package detection

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Detection errors
var (
	// ErrNoDevicesFound means a detector ran but found nothing.
	ErrNoDevicesFound = errors.New("no devices found")

	// ErrUnsupportedPlatform means a detector cannot run on this OS.
	ErrUnsupportedPlatform = errors.New("detection not supported on this platform")

	// ErrDetectionTimeout means detection was cut short by its deadline.
	ErrDetectionTimeout = errors.New("detection timed out")
)

// Mode controls how invasive detection is allowed to be.
type Mode int

const (
	// Passive only lists devices from system metadata. Nothing is
	// opened.
	Passive Mode = iota

	// Safe may open devices read-only to confirm what they are, but
	// sends nothing that could disturb other hardware.
	Safe

	// Full may open candidates and challenge them, including mode
	// switches on bridge probes. Do not use it while other software
	// owns the ports.
	Full
)

// Confidence grades how sure a detector is that a device is usable.
type Confidence int

const (
	// Low marks a device that merely exists.
	Low Confidence = iota
	// Medium marks a device whose identity matches a known socket or
	// probe.
	Medium
	// High marks a device that answered a probe.
	High
)

// String returns the confidence grade as text.
func (c Confidence) String() string {
	switch c {
	case Low:
		return "low"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return "unknown"
	}
}

// DeviceInfo describes one detected device.
type DeviceInfo struct {
	// Metadata carries detector specific details, like VID:PID or bus
	// numbers.
	Metadata map[string]string

	// Transport names the transport package that can open this device:
	// "spidev" or "buspirate".
	Transport string

	// Path is what the transport's New accepts.
	Path string

	// Name is a human readable description.
	Name string

	// Confidence grades the detection.
	Confidence Confidence
}

// Options tunes a detection run.
type Options struct {
	// Mode bounds how invasive detection may be.
	Mode Mode

	// IgnorePaths lists device paths that must not be reported.
	IgnorePaths []string

	// Blocklist lists VID:PID pairs that must not be probed.
	Blocklist []string

	// Timeout bounds the whole run. Zero means no deadline.
	Timeout time.Duration
}

// DefaultOptions returns the options most callers want: safe probing
// with the default blocklist and a short deadline.
func DefaultOptions() Options {
	return Options{
		Mode:      Safe,
		Blocklist: DefaultBlocklist(),
		Timeout:   2 * time.Second,
	}
}

// Detector finds devices for one transport.
type Detector interface {
	// Transport returns the transport name the detector serves.
	Transport() string

	// Detect returns the devices found under the given options.
	Detect(ctx context.Context, opts *Options) ([]DeviceInfo, error)
}

var (
	registryMu sync.RWMutex
	registry   []Detector
)

// RegisterDetector adds a detector to the global registry. Detector
// subpackages call it from init; importing them is enough.
func RegisterDetector(d Detector) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = append(registry, d)
}

// registeredDetectors snapshots the registry.
func registeredDetectors() []Detector {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]Detector, len(registry))
	copy(out, registry)
	return out
}

// DetectAll runs every registered detector and merges the results.
func DetectAll(opts *Options) ([]DeviceInfo, error) {
	return DetectAllContext(context.Background(), opts)
}

// DetectAllContext runs every registered detector under the given
// context and merges the results, best confidence first.
func DetectAllContext(ctx context.Context, opts *Options) ([]DeviceInfo, error) {
	return detectWith(ctx, opts, registeredDetectors())
}

// detectWith runs the given detectors. Unsupported platforms and empty
// detectors are not errors; only a run that yields nothing at all is.
func detectWith(ctx context.Context, opts *Options, detectors []Detector) ([]DeviceInfo, error) {
	if opts == nil {
		o := DefaultOptions()
		opts = &o
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var devices []DeviceInfo
	for _, detector := range detectors {
		select {
		case <-ctx.Done():
			return devices, ErrDetectionTimeout
		default:
		}

		found, err := detector.Detect(ctx, opts)
		if err != nil {
			if errors.Is(err, ErrUnsupportedPlatform) || errors.Is(err, ErrNoDevicesFound) {
				continue
			}
			return devices, err
		}
		for _, device := range found {
			if IsPathIgnored(device.Path, opts.IgnorePaths) {
				continue
			}
			devices = append(devices, device)
		}
	}

	sort.SliceStable(devices, func(i, j int) bool {
		if devices[i].Confidence != devices[j].Confidence {
			return devices[i].Confidence > devices[j].Confidence
		}
		return devices[i].Path < devices[j].Path
	})

	if len(devices) == 0 {
		return nil, ErrNoDevicesFound
	}
	return devices, nil
}
