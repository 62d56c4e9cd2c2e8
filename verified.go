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
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"
)

// VerifyConfig holds configuration for verified block I/O
type VerifyConfig struct {
	// RetryDelay specifies delay between retry attempts
	RetryDelay time.Duration

	// ReadRetries specifies max number of re-reads on verification failure
	ReadRetries int

	// WriteRetries specifies max number of write retries on verification failure
	WriteRetries int

	// EnableReadVerification enables consistency checking of read data
	EnableReadVerification bool

	// EnableWriteVerification enables read-back checking of written data
	EnableWriteVerification bool
}

// DefaultVerifyConfig returns default verification configuration
func DefaultVerifyConfig() *VerifyConfig {
	return &VerifyConfig{
		EnableReadVerification:  true,
		ReadRetries:             3,
		EnableWriteVerification: true,
		WriteRetries:            3,
		RetryDelay:              50 * time.Millisecond,
	}
}

// VerifyMetrics tracks verification statistics
type VerifyMetrics struct {
	LastOperation       time.Time
	TotalOperations     uint64
	FailedVerifications uint64
	Retries             uint64
}

// VerifiedDriver wraps a Driver with whole-range block operations and
// verification. Reads are repeated until two consecutive passes agree;
// writes are read back and compared. Both loops are bounded and feed the
// metrics. The underlying start/step/stop primitives stay available
// through the embedded Driver.
type VerifiedDriver struct {
	*Driver
	config  *VerifyConfig
	metrics VerifyMetrics
	mu      sync.RWMutex
}

// NewVerifiedDriver wraps an existing driver with verification features
func NewVerifiedDriver(driver *Driver, config *VerifyConfig) (*VerifiedDriver, error) {
	if driver == nil {
		return nil, fmt.Errorf("%w: nil driver", ErrInvalidParameter)
	}
	if config == nil {
		config = DefaultVerifyConfig()
	}
	return &VerifiedDriver{
		Driver: driver,
		config: config,
	}, nil
}

// Metrics returns a copy of the current verification metrics
func (v *VerifiedDriver) Metrics() VerifyMetrics {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.metrics
}

func (v *VerifiedDriver) record(failed bool, retries uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.metrics.TotalOperations++
	v.metrics.LastOperation = time.Now()
	v.metrics.Retries += retries
	if failed {
		v.metrics.FailedVerifications++
	}
}

// ReadBlocks reads count consecutive sectors starting at the given block
// number. With read verification enabled the range is re-read until two
// consecutive passes return identical data, bounded by ReadRetries.
func (v *VerifiedDriver) ReadBlocks(block uint32, count int) ([]byte, error) {
	if count < 1 {
		return nil, fmt.Errorf("read blocks: count %d: %w", count, ErrInvalidParameter)
	}

	data, err := v.readRange(block, count)
	if err != nil || !v.config.EnableReadVerification {
		v.record(err != nil, 0)
		return data, err
	}

	lastData := data
	consecutiveMatches := 0
	var retries uint64
	for retry := 0; retry < v.config.ReadRetries; retry++ {
		if retry > 0 {
			time.Sleep(v.config.RetryDelay)
		}
		retries++

		verifyData, err := v.readRange(block, count)
		if err != nil {
			consecutiveMatches = 0
			continue
		}
		if bytes.Equal(lastData, verifyData) {
			consecutiveMatches++
		} else {
			consecutiveMatches = 0
			lastData = verifyData
		}
		if consecutiveMatches >= 1 {
			v.record(false, retries)
			return verifyData, nil
		}
	}

	v.record(true, retries)
	return nil, fmt.Errorf("read blocks: inconsistent data after %d retries", v.config.ReadRetries)
}

// WriteBlocks writes data, a whole number of sectors, starting at the
// given block number. With write verification enabled the range is read
// back and compared; mismatches retry the whole write, bounded by
// WriteRetries.
func (v *VerifiedDriver) WriteBlocks(block uint32, data []byte) error {
	if len(data) == 0 || len(data)%SectorSize != 0 {
		return fmt.Errorf("write blocks: data length %d: %w", len(data), ErrInvalidParameter)
	}
	count := len(data) / SectorSize

	var lastErr error
	var retries uint64
	for retry := 0; retry <= v.config.WriteRetries; retry++ {
		if retry > 0 {
			time.Sleep(v.config.RetryDelay)
			retries++
		}

		if err := v.writeRange(block, data); err != nil {
			lastErr = err
			continue
		}
		if !v.config.EnableWriteVerification {
			v.record(false, retries)
			return nil
		}

		// Let the card's internal programming settle before reading back.
		time.Sleep(10 * time.Millisecond)

		readBack, err := v.readRange(block, count)
		if err != nil {
			lastErr = err
			continue
		}
		if bytes.Equal(data, readBack) {
			v.record(false, retries)
			return nil
		}
		lastErr = errors.New("write verification failed: data mismatch")
	}

	v.record(true, retries)
	return fmt.Errorf("write blocks: failed after %d retries: %w", v.config.WriteRetries, lastErr)
}

// readRange streams count sectors through the sequential read engine.
func (v *VerifiedDriver) readRange(block uint32, count int) ([]byte, error) {
	buf := make([]byte, count*SectorSize)
	if err := v.ReadStart(block); err != nil {
		return nil, err
	}
	for i := 0; i < count; i++ {
		if err := v.ReadStep(buf[i*SectorSize : (i+1)*SectorSize]); err != nil {
			// A failed step has already released the bus and reverted
			// the state; stopping now would be an invalid operation.
			return nil, err
		}
	}
	if err := v.ReadStop(); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeRange streams data through the sequential write engine.
func (v *VerifiedDriver) writeRange(block uint32, data []byte) error {
	if err := v.WriteStart(block); err != nil {
		return err
	}
	for off := 0; off < len(data); off += SectorSize {
		if err := v.WriteStep(data[off : off+SectorSize]); err != nil {
			return err
		}
	}
	return v.WriteStop()
}
