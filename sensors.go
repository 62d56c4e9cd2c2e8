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

// PresenceSensor reports whether a card sits in the socket. The monitor
// samples it on every poll tick, so implementations must be cheap and
// callable from any goroutine. Sockets without a detect line can use
// StaticPresence(true) and rely on protocol errors to notice absence.
type PresenceSensor interface {
	CardPresent() bool
}

// WriteProtectSensor reports the mechanical write-protect tab. The core
// write path does not enforce it; enforcement belongs to the layers that
// decide to write.
type WriteProtectSensor interface {
	WriteProtected() bool
}

// PresenceFunc adapts a function to the PresenceSensor interface.
type PresenceFunc func() bool

// CardPresent implements PresenceSensor.
func (f PresenceFunc) CardPresent() bool { return f() }

// WriteProtectFunc adapts a function to the WriteProtectSensor interface.
type WriteProtectFunc func() bool

// WriteProtected implements WriteProtectSensor.
func (f WriteProtectFunc) WriteProtected() bool { return f() }

// StaticPresence returns a sensor with a fixed reading.
func StaticPresence(present bool) PresenceSensor {
	return PresenceFunc(func() bool { return present })
}

// StaticWriteProtect returns a write-protect sensor with a fixed reading.
func StaticWriteProtect(protected bool) WriteProtectSensor {
	return WriteProtectFunc(func() bool { return protected })
}
