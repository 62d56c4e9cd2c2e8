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

// Package session turns the driver's insertion and removal events into a
// supervised card lifecycle: when a card appears the session negotiates
// it with exponential backoff, hands the ready driver to a callback, and
// reports removals. It is the convenience layer for programs that just
// want "tell me when a card is usable".
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	mmcspi "github.com/ZaparooProject/go-mmcspi"
)

// Config tunes the session's connect retry policy.
type Config struct {
	// ConnectInitialInterval is the first retry delay after a failed
	// Connect.
	ConnectInitialInterval time.Duration

	// ConnectMaxInterval caps the delay between retries.
	ConnectMaxInterval time.Duration

	// ConnectMaxElapsed bounds the total time spent retrying one
	// insertion before giving up and reporting the failure. Zero means
	// keep retrying until the card goes away or the context ends.
	ConnectMaxElapsed time.Duration
}

// DefaultConfig returns the retry policy most callers want.
func DefaultConfig() *Config {
	return &Config{
		ConnectInitialInterval: 100 * time.Millisecond,
		ConnectMaxInterval:     2 * time.Second,
		ConnectMaxElapsed:      30 * time.Second,
	}
}

// Session supervises one driver. Set the callbacks before calling Run;
// they are invoked from Run's goroutine, never concurrently.
type Session struct {
	driver *mmcspi.Driver
	config *Config

	// OnCardReady runs after a card has been negotiated to the ready
	// state.
	OnCardReady func(driver *mmcspi.Driver)

	// OnCardRemoved runs when the monitor reports the card gone.
	OnCardRemoved func()

	// OnConnectError runs when an insertion could not be negotiated
	// within the retry budget.
	OnConnectError func(err error)
}

// New creates a session over the given driver. A nil config selects
// DefaultConfig.
func New(driver *mmcspi.Driver, config *Config) *Session {
	if config == nil {
		config = DefaultConfig()
	}
	return &Session{
		driver: driver,
		config: config,
	}
}

// Driver returns the supervised driver.
func (s *Session) Driver() *mmcspi.Driver {
	return s.driver
}

// Run subscribes to the driver's events and dispatches callbacks until
// the context ends. The driver must already be started. A card that is
// sitting in the socket when Run begins is connected immediately, so
// callers do not race the insertion event against their own setup.
func (s *Session) Run(ctx context.Context) error {
	inserted := s.driver.InsertedEvents()
	removed := s.driver.RemovedEvents()

	if state := s.driver.State(); state == mmcspi.StateInserted || state == mmcspi.StateReady {
		s.connect(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("session: %w", ctx.Err())
		case <-inserted:
			s.connect(ctx)
		case <-removed:
			if s.OnCardRemoved != nil {
				s.OnCardRemoved()
			}
		}
	}
}

// connect negotiates the inserted card, retrying transient protocol
// failures with exponential backoff. A card that vanished mid-protocol
// is not an error worth reporting; the removal event covers it.
func (s *Session) connect(ctx context.Context) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.config.ConnectInitialInterval
	policy.MaxInterval = s.config.ConnectMaxInterval
	policy.MaxElapsedTime = s.config.ConnectMaxElapsed

	op := func() error {
		err := s.driver.Connect()
		if err == nil {
			return nil
		}
		if errors.Is(err, mmcspi.ErrCardGone) || errors.Is(err, mmcspi.ErrInvalidState) {
			// The card left the socket or the driver was stopped;
			// retrying cannot help.
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(policy, ctx))
	switch {
	case err == nil:
		if s.OnCardReady != nil {
			s.OnCardReady(s.driver)
		}
	case errors.Is(err, mmcspi.ErrCardGone), errors.Is(err, mmcspi.ErrInvalidState),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The card is gone or the driver moved on; the removal event
		// tells the caller everything it needs.
	default:
		if s.OnConnectError != nil {
			s.OnConnectError(err)
		}
	}
}
