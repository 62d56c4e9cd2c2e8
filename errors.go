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
	"errors"
	"fmt"
)

// Common errors returned by the driver.
var (
	// ErrInvalidState is returned when an operation is attempted from a
	// driver state that does not permit it.
	ErrInvalidState = errors.New("operation not permitted in current state")

	// ErrCardGone is returned when the post-I/O state check finds that the
	// card was removed (or the driver stopped) while the bus operation was
	// in flight.
	ErrCardGone = errors.New("card removed during operation")

	// ErrCommandFailed is returned when a card command receives no response
	// or an unexpected status byte.
	ErrCommandFailed = errors.New("card command failed")

	// ErrDataTimeout is returned when the card does not produce a data
	// start token within the bounded number of polls.
	ErrDataTimeout = errors.New("timeout waiting for data token")

	// ErrBusyTimeout is returned when the card holds the bus busy longer
	// than the configured ceiling. See WithBusyTimeout.
	ErrBusyTimeout = errors.New("timeout waiting for card to leave busy state")

	// ErrWriteRejected is returned when the card's data response indicates
	// the block was not accepted.
	ErrWriteRejected = errors.New("card rejected write data")

	// ErrBusFailure indicates an error on the underlying serial bus.
	ErrBusFailure = errors.New("bus communication failed")

	// ErrNotSupported is returned when a transport cannot satisfy a
	// requested bus profile or capability.
	ErrNotSupported = errors.New("not supported by transport")

	// ErrInvalidParameter indicates an invalid function parameter.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// ErrorType categorizes errors for retry logic
type ErrorType int

const (
	// ErrorTypeTransient indicates a temporary error that may succeed on retry
	ErrorTypeTransient ErrorType = iota
	// ErrorTypePermanent indicates a permanent error that won't succeed on retry
	ErrorTypePermanent
	// ErrorTypeTimeout indicates a timeout error
	ErrorTypeTimeout
)

// BusError provides detailed error information for bus-level failures
type BusError struct {
	Err       error
	Op        string
	Port      string
	Type      ErrorType
	Retryable bool
}

// Error implements the error interface
func (e *BusError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("mmcspi %s %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("mmcspi %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *BusError) Unwrap() error {
	return e.Err
}

// NewBusError creates a new BusError with the given details
func NewBusError(op, port string, err error, errType ErrorType) *BusError {
	return &BusError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTransient || errType == ErrorTypeTimeout,
	}
}

// NewTimeoutError creates a BusError for bus timeout conditions
func NewTimeoutError(op, port string) *BusError {
	return &BusError{
		Op:        op,
		Port:      port,
		Err:       ErrBusFailure,
		Type:      ErrorTypeTimeout,
		Retryable: true,
	}
}

// CommandError reports a card command that returned an unexpected status.
// Status is the raw R1 byte; 0xFF means the card never answered.
type CommandError struct {
	Err    error
	Op     string
	Cmd    byte
	Status byte
}

// Error implements the error interface
func (e *CommandError) Error() string {
	return fmt.Sprintf("mmcspi %s: CMD%d status 0x%02X: %v", e.Op, e.Cmd, e.Status, e.Err)
}

// Unwrap returns the underlying error
func (e *CommandError) Unwrap() error {
	return e.Err
}

func newCommandError(op string, cmd, status byte) *CommandError {
	return &CommandError{
		Op:     op,
		Cmd:    cmd,
		Status: status,
		Err:    ErrCommandFailed,
	}
}

// IsRetryable returns true if the error is likely to succeed on retry.
// For command and data errors this means the card may recover after a
// fresh Connect; bus errors carry their own retryable flag.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var busErr *BusError
	if errors.As(err, &busErr) {
		return busErr.Retryable
	}

	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return IsRetryable(cmdErr.Err)
	}

	switch {
	case errors.Is(err, ErrCommandFailed),
		errors.Is(err, ErrDataTimeout),
		errors.Is(err, ErrBusFailure):
		return true
	default:
		return false
	}
}

// GetErrorType returns the error type for categorization
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}

	var busErr *BusError
	if errors.As(err, &busErr) {
		return busErr.Type
	}

	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return GetErrorType(cmdErr.Err)
	}

	switch {
	case errors.Is(err, ErrDataTimeout),
		errors.Is(err, ErrBusyTimeout):
		return ErrorTypeTimeout
	case errors.Is(err, ErrCommandFailed),
		errors.Is(err, ErrBusFailure):
		return ErrorTypeTransient
	default:
		return ErrorTypePermanent
	}
}
