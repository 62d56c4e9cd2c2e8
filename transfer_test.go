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

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZaparooProject/go-mmcspi/internal/cardsim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// patternSector fills one sector with a recognizable per-block pattern.
func patternSector(seed byte) []byte {
	sector := make([]byte, SectorSize)
	for i := range sector {
		sector[i] = seed + byte(i)
	}
	return sector
}

func TestDriver_ReadRoundTrip(t *testing.T) {
	t.Parallel()

	driver, card, bus := newTestDriver(t, cardsim.ProfileSDHC)
	card.LoadSector(5, patternSector(0x10))
	card.LoadSector(6, patternSector(0x20))
	connectCard(t, driver)

	require.NoError(t, driver.ReadStart(5))
	assert.Equal(t, StateReading, driver.State())
	assert.True(t, bus.Selected(), "card streams while selected")

	buf := make([]byte, SectorSize)
	require.NoError(t, driver.ReadStep(buf))
	assert.Equal(t, patternSector(0x10), buf)

	require.NoError(t, driver.ReadStep(buf))
	assert.Equal(t, patternSector(0x20), buf)

	require.NoError(t, driver.ReadStop())
	assert.Equal(t, StateReady, driver.State())
	assert.False(t, bus.Selected())

	// High-capacity cards take the sector number as-is.
	assert.Equal(t, uint32(5), card.LastReadArg())
}

func TestDriver_ReadByteAddressedArgument(t *testing.T) {
	t.Parallel()

	driver, card, _ := newTestDriver(t, cardsim.ProfileLegacy)
	card.LoadSector(5, patternSector(0x30))
	connectCard(t, driver)

	require.NoError(t, driver.ReadStart(5))
	buf := make([]byte, SectorSize)
	require.NoError(t, driver.ReadStep(buf))
	require.NoError(t, driver.ReadStop())

	assert.Equal(t, patternSector(0x30), buf)
	assert.Equal(t, uint32(5*SectorSize), card.LastReadArg(),
		"byte-addressed cards take byte offsets")
}

func TestDriver_ReadInvalidUses(t *testing.T) {
	t.Parallel()

	driver, _, _ := newTestDriver(t, cardsim.ProfileSDHC)
	connectCard(t, driver)

	t.Run("Step_Without_Start", func(t *testing.T) {
		err := driver.ReadStep(make([]byte, SectorSize))
		require.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("Stop_Without_Start", func(t *testing.T) {
		err := driver.ReadStop()
		require.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("Short_Buffer", func(t *testing.T) {
		require.NoError(t, driver.ReadStart(0))
		defer func() { require.NoError(t, driver.ReadStop()) }()

		err := driver.ReadStep(make([]byte, 100))
		require.ErrorIs(t, err, ErrInvalidParameter)
		// A parameter error does not abort the sequence.
		assert.Equal(t, StateReading, driver.State())
	})
}

func TestDriver_ReadStartNotConnected(t *testing.T) {
	t.Parallel()

	driver, _, _ := newTestDriver(t, cardsim.ProfileSDHC)
	startAndInsert(t, driver)

	err := driver.ReadStart(0)
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateInserted, driver.State())
}

func TestDriver_ReadTokenTimeout(t *testing.T) {
	t.Parallel()

	driver, card, bus := newTestDriver(t, cardsim.ProfileSDHC,
		WithDataWaitAttempts(50))
	connectCard(t, driver)

	card.SetReadTokenDelay(500)
	require.NoError(t, driver.ReadStart(0))

	err := driver.ReadStep(make([]byte, SectorSize))
	require.ErrorIs(t, err, ErrDataTimeout)
	assert.Equal(t, ErrorTypeTimeout, GetErrorType(err))

	// The failed step released the bus and closed the sequence.
	assert.Equal(t, StateReady, driver.State())
	assert.False(t, bus.Selected())
	err = driver.ReadStep(make([]byte, SectorSize))
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestDriver_ReadStopIgnoresStatus(t *testing.T) {
	t.Parallel()

	driver, card, _ := newTestDriver(t, cardsim.ProfileSDHC)
	card.SetStopStatus(0x7F)
	card.LoadSector(0, patternSector(1))
	connectCard(t, driver)

	require.NoError(t, driver.ReadStart(0))
	buf := make([]byte, SectorSize)
	require.NoError(t, driver.ReadStep(buf))

	// Some cards answer stop-transmission with garbage; the sequence
	// still ends cleanly.
	require.NoError(t, driver.ReadStop())
	assert.Equal(t, StateReady, driver.State())
}

func TestDriver_WriteRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		profile cardsim.Profile
		wantArg uint32
	}{
		{name: "Block_Addressed", profile: cardsim.ProfileSDHC, wantArg: 3},
		{name: "Byte_Addressed", profile: cardsim.ProfileLegacy, wantArg: 3 * SectorSize},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			driver, card, bus := newTestDriver(t, tt.profile)
			connectCard(t, driver)

			first := patternSector(0x40)
			second := patternSector(0x50)

			require.NoError(t, driver.WriteStart(3))
			assert.Equal(t, StateWriting, driver.State())
			require.NoError(t, driver.WriteStep(first))
			require.NoError(t, driver.WriteStep(second))
			require.NoError(t, driver.WriteStop())

			assert.Equal(t, StateReady, driver.State())
			assert.False(t, bus.Selected())
			assert.Equal(t, first, card.SectorData(3))
			assert.Equal(t, second, card.SectorData(4))
			assert.Equal(t, tt.wantArg, card.LastWriteArg())
		})
	}
}

func TestDriver_WriteRejected(t *testing.T) {
	t.Parallel()

	driver, card, bus := newTestDriver(t, cardsim.ProfileSDHC)
	card.SetWriteResponse(0x0B) // CRC error pattern
	connectCard(t, driver)

	require.NoError(t, driver.WriteStart(0))
	err := driver.WriteStep(patternSector(0))
	require.ErrorIs(t, err, ErrWriteRejected)

	assert.Equal(t, StateReady, driver.State())
	assert.False(t, bus.Selected())

	err = driver.WriteStep(patternSector(0))
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestDriver_WriteBusyTimeout(t *testing.T) {
	t.Parallel()

	driver, card, _ := newTestDriver(t, cardsim.ProfileSDHC,
		WithBusyTimeout(30*time.Millisecond))
	connectCard(t, driver)

	// The card accepts the sector and then never finishes programming.
	card.SetBusyBytes(1 << 30)
	require.NoError(t, driver.WriteStart(0))

	err := driver.WriteStep(patternSector(0))
	require.ErrorIs(t, err, ErrBusyTimeout)
	assert.Equal(t, ErrorTypeTimeout, GetErrorType(err))
	assert.Equal(t, StateReady, driver.State())
}

func TestDriver_WriteStopAfterRemoval(t *testing.T) {
	t.Parallel()

	var present atomic.Bool
	present.Store(true)
	driver, _, _ := newTestDriver(t, cardsim.ProfileSDHC,
		WithPresenceSensor(PresenceFunc(present.Load)))
	connectCard(t, driver)

	require.NoError(t, driver.WriteStart(0))
	require.NoError(t, driver.WriteStep(patternSector(0)))

	present.Store(false)
	require.Eventually(t, func() bool {
		return driver.State() == StateWaiting
	}, 2*time.Second, time.Millisecond)

	// Once the monitor has revoked the card the sequence cannot be
	// finalized; the written sectors' fate is unknown.
	err := driver.WriteStop()
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestDriver_ReadStepAfterRemoval(t *testing.T) {
	t.Parallel()

	var present atomic.Bool
	present.Store(true)
	driver, card, _ := newTestDriver(t, cardsim.ProfileSDHC,
		WithPresenceSensor(PresenceFunc(present.Load)))
	card.LoadSector(0, patternSector(9))
	connectCard(t, driver)

	require.NoError(t, driver.ReadStart(0))
	buf := make([]byte, SectorSize)
	require.NoError(t, driver.ReadStep(buf))

	present.Store(false)
	require.Eventually(t, func() bool {
		return driver.State() == StateWaiting
	}, 2*time.Second, time.Millisecond)

	err := driver.ReadStep(buf)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestDriver_WriteIgnoresProtectSensor(t *testing.T) {
	t.Parallel()

	driver, card, _ := newTestDriver(t, cardsim.ProfileSDHC,
		WithWriteProtectSensor(StaticWriteProtect(true)))
	connectCard(t, driver)

	// The tab is advisory; the transfer engine does not enforce it.
	require.True(t, driver.WriteProtected())
	require.NoError(t, driver.WriteStart(7))
	require.NoError(t, driver.WriteStep(patternSector(0x70)))
	require.NoError(t, driver.WriteStop())
	assert.Equal(t, patternSector(0x70), card.SectorData(7))
}

func TestDriver_TransfersSwitchToFullSpeed(t *testing.T) {
	t.Parallel()

	driver, _, bus := newTestDriver(t, cardsim.ProfileSDHC)
	connectCard(t, driver)

	require.NoError(t, driver.ReadStart(0))
	require.NoError(t, driver.ReadStop())

	profiles := bus.Profiles()
	require.NotEmpty(t, profiles)
	assert.Equal(t, uint32(DefaultFullSpeedClock), profiles[len(profiles)-1].Clock)
}
