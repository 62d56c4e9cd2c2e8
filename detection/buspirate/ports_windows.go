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

//go:build windows

package buspirate

import (
	"context"
	"errors"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

// listPorts merges COM ports from the registry and from SetupAPI. The
// registry knows every port; SetupAPI adds the USB identity needed to
// recognize a bridge, so its entries win on overlap.
func listPorts(_ context.Context) ([]serialPort, error) {
	registryPorts, registryErr := registryCOMPorts()
	setupPorts, setupErr := setupAPICOMPorts()
	if registryErr != nil && setupErr != nil {
		return nil, errors.Join(registryErr, setupErr)
	}

	merged := make(map[string]serialPort)
	for _, port := range registryPorts {
		merged[port.Path] = port
	}
	for _, port := range setupPorts {
		merged[port.Path] = port
	}

	ports := make([]serialPort, 0, len(merged))
	for _, port := range merged {
		ports = append(ports, port)
	}
	return ports, nil
}

// registryCOMPorts lists ports from HARDWARE\DEVICEMAP\SERIALCOMM.
func registryCOMPorts() ([]serialPort, error) {
	key, err := registry.OpenKey(registry.LOCAL_MACHINE,
		`HARDWARE\DEVICEMAP\SERIALCOMM`, registry.QUERY_VALUE)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	values, err := key.ReadValueNames(-1)
	if err != nil {
		return nil, err
	}

	ports := make([]serialPort, 0, len(values))
	for _, value := range values {
		name, _, err := key.GetStringValue(value)
		if err != nil {
			continue
		}
		ports = append(ports, serialPort{Path: name, Name: name})
	}
	return ports, nil
}

// Device registry properties read through SetupAPI.
const (
	spdrpHardwareID   = 0x00000001
	spdrpManufacturer = 0x0000000B
	spdrpFriendlyName = 0x0000000C
	digcfPresent      = 0x00000002
)

type spDevinfoData struct {
	cbSize    uint32
	classGuid windows.GUID
	devInst   uint32
	reserved  uintptr
}

// setupAPICOMPorts enumerates the Ports device class and reads each
// device's friendly name, hardware ID and manufacturer.
func setupAPICOMPorts() ([]serialPort, error) {
	setupapi := windows.NewLazySystemDLL("setupapi.dll")
	getClassDevs := setupapi.NewProc("SetupDiGetClassDevsW")
	enumDeviceInfo := setupapi.NewProc("SetupDiEnumDeviceInfo")
	getProperty := setupapi.NewProc("SetupDiGetDeviceRegistryPropertyW")
	destroyList := setupapi.NewProc("SetupDiDestroyDeviceInfoList")

	// GUID_DEVCLASS_PORTS
	guidPorts := windows.GUID{
		Data1: 0x4d36e978,
		Data2: 0xe325,
		Data3: 0x11ce,
		Data4: [8]byte{0xbf, 0xc1, 0x08, 0x00, 0x2b, 0xe1, 0x03, 0x18},
	}

	devInfo, _, _ := getClassDevs.Call(
		uintptr(unsafe.Pointer(&guidPorts)), 0, 0, digcfPresent)
	if devInfo == uintptr(windows.InvalidHandle) {
		return nil, windows.GetLastError()
	}
	defer destroyList.Call(devInfo)

	var ports []serialPort
	var data spDevinfoData
	data.cbSize = uint32(unsafe.Sizeof(data))

	for i := uint32(0); ; i++ {
		ret, _, _ := enumDeviceInfo.Call(devInfo, uintptr(i), uintptr(unsafe.Pointer(&data)))
		if ret == 0 {
			break
		}

		name := deviceProperty(getProperty, devInfo, &data, spdrpFriendlyName)
		comPort := comPortFromName(name)
		if comPort == "" {
			continue
		}

		port := serialPort{Path: comPort, Name: name}
		if hwid := deviceProperty(getProperty, devInfo, &data, spdrpHardwareID); hwid != "" {
			port.VIDPID = parseHardwareID(hwid)
		}
		port.Manufacturer = deviceProperty(getProperty, devInfo, &data, spdrpManufacturer)
		if n := strings.Index(name, " ("); n > 0 {
			port.Product = name[:n]
		}
		ports = append(ports, port)
	}
	return ports, nil
}

// deviceProperty reads one string property with the usual two-call
// size-then-data pattern, returning "" when the property is absent.
func deviceProperty(getProperty *windows.LazyProc, devInfo uintptr, data *spDevinfoData, property uintptr) string {
	var size uint32
	getProperty.Call(devInfo, uintptr(unsafe.Pointer(data)), property,
		0, 0, 0, uintptr(unsafe.Pointer(&size)))
	if size == 0 {
		return ""
	}

	buf := make([]uint16, size/2)
	var propertyType uint32
	ret, _, _ := getProperty.Call(devInfo, uintptr(unsafe.Pointer(data)), property,
		uintptr(unsafe.Pointer(&propertyType)),
		uintptr(unsafe.Pointer(&buf[0])), uintptr(size), 0)
	if ret == 0 {
		return ""
	}
	return windows.UTF16ToString(buf)
}

// comPortFromName pulls the "COMn" token out of a friendly name like
// "USB Serial Port (COM7)".
func comPortFromName(name string) string {
	n := strings.LastIndex(name, "(COM")
	if n < 0 {
		return ""
	}
	m := strings.Index(name[n:], ")")
	if m < 0 {
		return ""
	}
	return name[n+1 : n+m]
}

// parseHardwareID extracts VID:PID from a hardware ID in the
// USB\VID_xxxx&PID_xxxx format.
func parseHardwareID(hwid string) string {
	hwid = strings.ToUpper(hwid)
	vidIdx := strings.Index(hwid, "VID_")
	pidIdx := strings.Index(hwid, "PID_")
	if vidIdx < 0 || pidIdx < 0 || vidIdx+8 > len(hwid) || pidIdx+8 > len(hwid) {
		return ""
	}
	vid := hwid[vidIdx+4 : vidIdx+8]
	pid := hwid[pidIdx+4 : pidIdx+8]
	for _, r := range vid + pid {
		if (r < '0' || r > '9') && (r < 'A' || r > 'F') {
			return ""
		}
	}
	return vid + ":" + pid
}
