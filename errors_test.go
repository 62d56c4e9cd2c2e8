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
	"strings"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want bool
	}{
		{name: "Nil_Error", err: nil, want: false},
		{name: "Command_Failed", err: ErrCommandFailed, want: true},
		{name: "Wrapped_Data_Timeout", err: fmt.Errorf("read step: %w", ErrDataTimeout), want: true},
		{name: "Bus_Failure", err: ErrBusFailure, want: true},
		{name: "Invalid_State", err: ErrInvalidState, want: false},
		{name: "Card_Gone", err: ErrCardGone, want: false},
		{name: "Invalid_Parameter", err: ErrInvalidParameter, want: false},
		{
			name: "Transient_Bus_Error",
			err:  NewBusError("send", "/dev/spidev0.0", errors.New("EAGAIN"), ErrorTypeTransient),
			want: true,
		},
		{
			name: "Permanent_Bus_Error",
			err:  NewBusError("open", "/dev/spidev0.0", errors.New("ENOENT"), ErrorTypePermanent),
			want: false,
		},
		{name: "Timeout_Bus_Error", err: NewTimeoutError("receive", "COM3"), want: true},
		{
			name: "Command_Error",
			err:  newCommandError("connect", 0, 0xFF),
			want: true,
		},
		{name: "Plain_Error", err: errors.New("something else"), want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := IsRetryable(tt.err)
			if got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestGetErrorType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		name string
		want ErrorType
	}{
		{name: "Nil_Error", err: nil, want: ErrorTypePermanent},
		{name: "Data_Timeout", err: ErrDataTimeout, want: ErrorTypeTimeout},
		{name: "Busy_Timeout", err: fmt.Errorf("write step: %w", ErrBusyTimeout), want: ErrorTypeTimeout},
		{name: "Command_Failed", err: ErrCommandFailed, want: ErrorTypeTransient},
		{name: "Bus_Failure", err: ErrBusFailure, want: ErrorTypeTransient},
		{name: "Invalid_State", err: ErrInvalidState, want: ErrorTypePermanent},
		{name: "Card_Gone", err: ErrCardGone, want: ErrorTypePermanent},
		{
			name: "Explicit_Bus_Error_Type",
			err:  NewBusError("configure", "", errors.New("bad ioctl"), ErrorTypePermanent),
			want: ErrorTypePermanent,
		},
		{name: "Timeout_Bus_Error", err: NewTimeoutError("receive", ""), want: ErrorTypeTimeout},
		{name: "Command_Error", err: newCommandError("connect", 16, 0x04), want: ErrorTypeTransient},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := GetErrorType(tt.err)
			if got != tt.want {
				t.Errorf("GetErrorType(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestBusError_Error(t *testing.T) {
	t.Parallel()

	withPort := NewBusError("send", "/dev/spidev0.0", errors.New("broken pipe"), ErrorTypeTransient)
	msg := withPort.Error()
	if !strings.Contains(msg, "send") || !strings.Contains(msg, "/dev/spidev0.0") {
		t.Errorf("message missing op or port: %q", msg)
	}

	withoutPort := NewBusError("select", "", errors.New("gpio busy"), ErrorTypeTransient)
	msg = withoutPort.Error()
	if !strings.Contains(msg, "select") || strings.Contains(msg, "  ") {
		t.Errorf("unexpected message without port: %q", msg)
	}
}

func TestBusError_Unwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("io failure")
	busErr := NewBusError("receive", "COM7", inner, ErrorTypeTransient)
	if !errors.Is(busErr, inner) {
		t.Error("BusError does not unwrap to its cause")
	}
}

func TestNewTimeoutError(t *testing.T) {
	t.Parallel()

	err := NewTimeoutError("receive", "/dev/ttyUSB0")
	if err.Type != ErrorTypeTimeout {
		t.Errorf("Type = %v, want ErrorTypeTimeout", err.Type)
	}
	if !err.Retryable {
		t.Error("timeout errors must be retryable")
	}
	if !errors.Is(err, ErrBusFailure) {
		t.Error("timeout errors wrap ErrBusFailure")
	}
}

func TestCommandError(t *testing.T) {
	t.Parallel()

	err := newCommandError("read start", 18, 0x20)
	msg := err.Error()
	if !strings.Contains(msg, "CMD18") || !strings.Contains(msg, "0x20") {
		t.Errorf("message missing command or status: %q", msg)
	}
	if !errors.Is(err, ErrCommandFailed) {
		t.Error("CommandError does not unwrap to ErrCommandFailed")
	}

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatal("errors.As failed")
	}
	if cmdErr.Cmd != 18 || cmdErr.Status != 0x20 {
		t.Errorf("Cmd/Status = %d/0x%02X, want 18/0x20", cmdErr.Cmd, cmdErr.Status)
	}
}
