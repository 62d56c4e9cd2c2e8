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
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// TestStateAccessWhileBusBlocked verifies that the state mutex is never
// held across bus I/O: while a connection attempt is parked inside a
// blocked Receive, every state accessor must answer immediately.
func TestStateAccessWhileBusBlocked(t *testing.T) {
	t.Parallel()

	bus := NewBlockingBus()
	defer func() { _ = bus.Close() }()

	driver, err := New(bus,
		WithDebounceCount(1),
		WithPollInterval(time.Millisecond))
	require.NoError(t, err)
	defer func() { _ = driver.Stop() }()

	startAndInsert(t, driver)

	connectDone := make(chan error, 1)
	go func() { connectDone <- driver.Connect() }()

	// Give Connect time to park inside the blocked Receive.
	time.Sleep(50 * time.Millisecond)

	accessorDone := make(chan struct{})
	go func() {
		_ = driver.State()
		_ = driver.CardType()
		_ = driver.Capacity()
		_, _ = driver.CSD()
		close(accessorDone)
	}()

	select {
	case <-accessorDone:
	case <-time.After(time.Second):
		t.Fatal("state accessors blocked behind bus I/O")
	}

	// Drain the blocked Receive loop: the idle pattern never answers a
	// reset, so the attempt fails without reaching the card.
	stopUnblock := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				bus.Unblock()
			case <-stopUnblock:
				return
			}
		}
	}()

	select {
	case err := <-connectDone:
		require.ErrorIs(t, err, ErrCommandFailed)
	case <-time.After(10 * time.Second):
		t.Fatal("Connect never returned")
	}
	close(stopUnblock)
}

// TestMonitorRunsWhileBusBlocked verifies that card removal is detected
// even while a protocol exchange is stuck on the bus.
func TestMonitorRunsWhileBusBlocked(t *testing.T) {
	t.Parallel()

	bus := NewBlockingBus()
	defer func() { _ = bus.Close() }()

	var present atomic.Bool
	present.Store(true)
	driver, err := New(bus,
		WithDebounceCount(1),
		WithPollInterval(time.Millisecond),
		WithPresenceSensor(PresenceFunc(present.Load)))
	require.NoError(t, err)
	defer func() { _ = driver.Stop() }()

	startAndInsert(t, driver)

	removed := driver.RemovedEvents()
	connectDone := make(chan error, 1)
	go func() { connectDone <- driver.Connect() }()
	time.Sleep(50 * time.Millisecond)

	present.Store(false)
	select {
	case <-removed:
	case <-time.After(time.Second):
		t.Fatal("removal not detected while bus blocked")
	}
	assert.Equal(t, StateWaiting, driver.State())

	bus.SetTimeout(10 * time.Millisecond)
	stopUnblock := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				bus.Unblock()
			case <-stopUnblock:
				return
			}
		}
	}()

	select {
	case err := <-connectDone:
		require.Error(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Connect never returned")
	}
	close(stopUnblock)
}

// TestBlockedBusTimesOut verifies that a wedged bus surfaces as a
// retryable timeout instead of hanging the caller.
func TestBlockedBusTimesOut(t *testing.T) {
	t.Parallel()

	bus := NewBlockingBus()
	defer func() { _ = bus.Close() }()
	bus.SetTimeout(20 * time.Millisecond)

	driver, err := New(bus,
		WithDebounceCount(1),
		WithPollInterval(time.Millisecond))
	require.NoError(t, err)
	defer func() { _ = driver.Stop() }()

	startAndInsert(t, driver)

	err = driver.Connect()
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, ErrorTypeTimeout, GetErrorType(err))
	assert.Equal(t, StateInserted, driver.State())
}

// TestConcurrentAccessorsAndTransfers runs readers of driver state
// against an active transfer loop and the presence monitor. The test
// passes when nothing deadlocks and the race detector stays quiet.
func TestConcurrentAccessorsAndTransfers(t *testing.T) {
	t.Parallel()

	driver, card, _ := newTestDriver(t, cardsim.ProfileSDHC)
	card.LoadSector(0, patternSector(0x77))
	connectCard(t, driver)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = driver.State()
					_ = driver.CardType()
					_ = driver.Capacity()
					_ = driver.WriteProtected()
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, SectorSize)
		for i := 0; i < 50; i++ {
			if err := driver.ReadStart(0); err != nil {
				continue
			}
			_ = driver.ReadStep(buf)
			_ = driver.ReadStop()
		}
	}()

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	time.Sleep(200 * time.Millisecond)
	close(stop)

	select {
	case <-finished:
	case <-time.After(10 * time.Second):
		t.Fatal("concurrent access deadlocked")
	}
}
