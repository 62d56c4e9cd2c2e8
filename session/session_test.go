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

package session

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	mmcspi "github.com/ZaparooProject/go-mmcspi"
	"github.com/ZaparooProject/go-mmcspi/internal/cardsim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRig wires a simulated card to a driver with a switchable presence
// sensor so tests can insert and remove the card at will.
type testRig struct {
	driver  *mmcspi.Driver
	card    *cardsim.Card
	present atomic.Bool
}

func newTestRig(t *testing.T, profile cardsim.Profile) *testRig {
	t.Helper()

	rig := &testRig{card: cardsim.NewCard(profile)}
	bus := mmcspi.NewSimulatorBus(rig.card)

	driver, err := mmcspi.New(bus,
		mmcspi.WithDebounceCount(1),
		mmcspi.WithPollInterval(time.Millisecond),
		mmcspi.WithPresenceSensor(mmcspi.PresenceFunc(rig.present.Load)),
	)
	require.NoError(t, err)
	rig.driver = driver

	t.Cleanup(func() {
		_ = driver.Stop()
		_ = bus.Close()
	})
	return rig
}

func TestSession_CardReadyOnInsertion(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, cardsim.ProfileSDHC)
	require.NoError(t, rig.driver.Start())

	ready := make(chan mmcspi.CardType, 1)
	sess := New(rig.driver, nil)
	sess.OnCardReady = func(d *mmcspi.Driver) {
		ready <- d.CardType()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()

	rig.present.Store(true)

	select {
	case cardType := <-ready:
		assert.Equal(t, mmcspi.CardTypeSDHC, cardType)
		assert.Equal(t, mmcspi.StateReady, rig.driver.State())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnCardReady")
	}

	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Run to return")
	}
}

func TestSession_RemovalCallback(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, cardsim.ProfileSDV2)
	require.NoError(t, rig.driver.Start())

	ready := make(chan struct{}, 1)
	removed := make(chan struct{}, 1)
	sess := New(rig.driver, nil)
	sess.OnCardReady = func(*mmcspi.Driver) { ready <- struct{}{} }
	sess.OnCardRemoved = func() { removed <- struct{}{} }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sess.Run(ctx) }()

	rig.present.Store(true)
	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnCardReady")
	}

	rig.present.Store(false)
	select {
	case <-removed:
		assert.Equal(t, mmcspi.StateWaiting, rig.driver.State())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnCardRemoved")
	}
}

func TestSession_ConnectErrorAfterRetryBudget(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, cardsim.ProfileSDHC)
	// The card permanently rejects CMD16, so every Connect attempt
	// fails with a retryable command error until the budget runs out.
	rig.card.SetBlockLenStatus(0x04)
	require.NoError(t, rig.driver.Start())

	failed := make(chan error, 1)
	sess := New(rig.driver, &Config{
		ConnectInitialInterval: time.Millisecond,
		ConnectMaxInterval:     5 * time.Millisecond,
		ConnectMaxElapsed:      50 * time.Millisecond,
	})
	sess.OnCardReady = func(*mmcspi.Driver) { t.Error("unexpected OnCardReady") }
	sess.OnConnectError = func(err error) { failed <- err }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sess.Run(ctx) }()

	rig.present.Store(true)

	select {
	case err := <-failed:
		require.ErrorIs(t, err, mmcspi.ErrCommandFailed)
		assert.Equal(t, mmcspi.StateInserted, rig.driver.State())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnConnectError")
	}
}

func TestSession_ConnectsCardAlreadyInserted(t *testing.T) {
	t.Parallel()

	rig := newTestRig(t, cardsim.ProfileLegacy)
	rig.present.Store(true)

	inserted := rig.driver.InsertedEvents()
	require.NoError(t, rig.driver.Start())
	select {
	case <-inserted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for insertion")
	}

	// The insertion event fired before the session existed; Run must
	// pick the card up from the state alone.
	ready := make(chan struct{}, 1)
	sess := New(rig.driver, nil)
	sess.OnCardReady = func(*mmcspi.Driver) { ready <- struct{}{} }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sess.Run(ctx) }()

	select {
	case <-ready:
		assert.Equal(t, mmcspi.StateReady, rig.driver.State())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnCardReady")
	}
}
