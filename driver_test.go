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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ZaparooProject/go-mmcspi/internal/cardsim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// presenceScript replays a fixed sequence of presence samples, one per
// monitor poll, then holds the last value forever.
type presenceScript struct {
	mu   sync.Mutex
	seq  []bool
	last bool
}

func newPresenceScript(seq ...bool) *presenceScript {
	return &presenceScript{seq: seq}
}

func (p *presenceScript) CardPresent() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.seq) > 0 {
		p.last = p.seq[0]
		p.seq = p.seq[1:]
	}
	return p.last
}

// newTestDriver wires a simulated card to a driver with a fast monitor.
// The returned driver is not started.
func newTestDriver(t *testing.T, profile cardsim.Profile, opts ...Option) (*Driver, *cardsim.Card, *SimulatorBus) {
	t.Helper()

	card := cardsim.NewCard(profile)
	bus := NewSimulatorBus(card)
	base := []Option{
		WithDebounceCount(1),
		WithPollInterval(time.Millisecond),
	}
	driver, err := New(bus, append(base, opts...)...)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = driver.Stop()
		_ = bus.Close()
	})
	return driver, card, bus
}

// startAndInsert arms the monitor and waits for the insertion event.
func startAndInsert(t *testing.T, driver *Driver) {
	t.Helper()

	inserted := driver.InsertedEvents()
	require.NoError(t, driver.Start())
	select {
	case <-inserted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for card insertion")
	}
}

// connectCard brings a freshly created test driver all the way to Ready.
func connectCard(t *testing.T, driver *Driver) {
	t.Helper()

	startAndInsert(t, driver)
	require.NoError(t, driver.Connect())
	require.Equal(t, StateReady, driver.State())
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		makeBus func() Bus
		name    string
		opts    []Option
		wantErr bool
	}{
		{
			name:    "Valid_SimulatorBus",
			makeBus: func() Bus { return NewSimulatorBus(cardsim.NewCard(cardsim.ProfileSDHC)) },
			wantErr: false,
		},
		{
			name:    "Nil_Bus",
			makeBus: func() Bus { return nil },
			wantErr: true,
		},
		{
			name:    "Invalid_Option",
			makeBus: func() Bus { return NewSimulatorBus(cardsim.NewCard(cardsim.ProfileSDHC)) },
			opts:    []Option{WithDebounceCount(0)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			driver, err := New(tt.makeBus(), tt.opts...)
			if tt.wantErr {
				require.Error(t, err)
				require.ErrorIs(t, err, ErrInvalidParameter)
				assert.Nil(t, driver)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, driver)
			assert.Equal(t, StateStopped, driver.State())
		})
	}
}

func TestDriver_StartStop(t *testing.T) {
	t.Parallel()

	driver, _, _ := newTestDriver(t, cardsim.ProfileSDHC,
		WithPresenceSensor(StaticPresence(false)))

	require.NoError(t, driver.Start())
	assert.Equal(t, StateWaiting, driver.State())

	err := driver.Start()
	require.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, driver.Stop())
	assert.Equal(t, StateStopped, driver.State())

	// Stopping an already stopped driver is harmless.
	require.NoError(t, driver.Stop())

	// The monitor can be re-armed after a stop.
	require.NoError(t, driver.Start())
	assert.Equal(t, StateWaiting, driver.State())
}

func TestDriver_StopDuringTransferRefused(t *testing.T) {
	t.Parallel()

	driver, _, _ := newTestDriver(t, cardsim.ProfileSDHC)
	connectCard(t, driver)

	require.NoError(t, driver.ReadStart(0))
	err := driver.Stop()
	require.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, StateReading, driver.State())

	require.NoError(t, driver.ReadStop())
	require.NoError(t, driver.Stop())
	assert.Equal(t, StateStopped, driver.State())
}

func TestDriver_Close(t *testing.T) {
	t.Parallel()

	driver, _, _ := newTestDriver(t, cardsim.ProfileSDHC)
	connectCard(t, driver)

	require.NoError(t, driver.Close())
	assert.Equal(t, StateStopped, driver.State())

	// The bus is gone; a fresh start still works but connecting fails.
	require.NoError(t, driver.Start())
	time.Sleep(20 * time.Millisecond)
	err := driver.Connect()
	require.Error(t, err)
}

func TestDriver_InsertionDebounce(t *testing.T) {
	t.Parallel()

	// Two positive samples interrupted by a negative one must not
	// confirm with a debounce of three; only the third consecutive
	// positive run does.
	script := newPresenceScript(false, true, true, false, true, true, true)
	driver, _, _ := newTestDriver(t, cardsim.ProfileSDHC,
		WithDebounceCount(3),
		WithPresenceSensor(script))

	inserted := driver.InsertedEvents()
	require.NoError(t, driver.Start())

	select {
	case <-inserted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for debounced insertion")
	}
	assert.Equal(t, StateInserted, driver.State())

	// Confirmation fires exactly once; further present samples are quiet.
	time.Sleep(20 * time.Millisecond)
	select {
	case <-inserted:
		t.Fatal("insertion reported twice")
	default:
	}
}

func TestDriver_RemovalAndReinsertion(t *testing.T) {
	t.Parallel()

	var present atomic.Bool
	present.Store(true)
	driver, _, _ := newTestDriver(t, cardsim.ProfileSDHC,
		WithPresenceSensor(PresenceFunc(present.Load)))

	connectCard(t, driver)

	removed := driver.RemovedEvents()
	inserted := driver.InsertedEvents()
	present.Store(false)

	select {
	case <-removed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for removal")
	}
	assert.Equal(t, StateWaiting, driver.State())

	// Connection data from the old card is gone with the next insert.
	err := driver.Connect()
	require.ErrorIs(t, err, ErrInvalidState)

	present.Store(true)
	select {
	case <-inserted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reinsertion")
	}
	require.NoError(t, driver.Connect())
	assert.Equal(t, StateReady, driver.State())
}

func TestDriver_EventsLatchWithoutListener(t *testing.T) {
	t.Parallel()

	driver, _, _ := newTestDriver(t, cardsim.ProfileSDHC)

	// Subscribe but do not consume until well after the event fired.
	inserted := driver.InsertedEvents()
	require.NoError(t, driver.Start())
	time.Sleep(50 * time.Millisecond)

	select {
	case <-inserted:
	default:
		t.Fatal("insertion event was not latched")
	}
}

func TestDriver_Accessors(t *testing.T) {
	t.Parallel()

	driver, card, bus := newTestDriver(t, cardsim.ProfileSDHC,
		WithWriteProtectSensor(StaticWriteProtect(true)))
	connectCard(t, driver)

	assert.Equal(t, CardTypeSDHC, driver.CardType())
	assert.True(t, driver.BlockAddressed())
	assert.Equal(t, card.Capacity(), driver.Capacity())
	csd, ok := driver.CSD()
	assert.True(t, ok)
	assert.NotEqual(t, [16]byte{}, csd)
	assert.True(t, driver.WriteProtected())
	assert.Equal(t, Bus(bus), driver.Bus())
}

func TestDriverState_String(t *testing.T) {
	t.Parallel()

	states := map[DriverState]string{
		StateUninitialized: "uninitialized",
		StateStopped:       "stopped",
		StateWaiting:       "waiting",
		StateInserted:      "inserted",
		StateReady:         "ready",
		StateReading:       "reading",
		StateWriting:       "writing",
	}
	for state, want := range states {
		assert.Equal(t, want, state.String())
	}
	assert.NotEmpty(t, DriverState(99).String())
}

func TestCardType_String(t *testing.T) {
	t.Parallel()

	types := map[CardType]string{
		CardTypeUnknown: "unknown",
		CardTypeMMC:     "MMC",
		CardTypeSDV2:    "SDv2",
		CardTypeSDHC:    "SDHC",
	}
	for cardType, want := range types {
		assert.Equal(t, want, cardType.String())
	}
}
