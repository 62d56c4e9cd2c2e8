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

// Package cardsim emulates a memory card on the far side of the SPI bus,
// one exchanged byte at a time. Tests drive the real driver against a
// Card with a chosen personality and failure knobs instead of hardware.
package cardsim

import (
	"sync"

	"github.com/ZaparooProject/go-mmcspi/internal/spiutil"
)

// Profile selects the card generation the simulator impersonates.
type Profile int

const (
	// ProfileSDHC answers the interface condition and reports the
	// high-capacity bit: block addressing.
	ProfileSDHC Profile = iota
	// ProfileSDV2 answers the interface condition with the capacity bit
	// clear: byte addressing.
	ProfileSDV2
	// ProfileLegacy rejects the interface condition as an illegal
	// command and initializes through CMD1 only.
	ProfileLegacy
)

// Command indexes the simulator dispatches on.
const (
	cmdGoIdle    = 0
	cmdSendOp    = 1
	cmdIfCond    = 8
	cmdSendCSD   = 9
	cmdStopTran  = 12
	cmdBlockLen  = 16
	cmdReadMulti = 18
	cmdWriteMul  = 25
	cmdAppOpCond = 41
	cmdApp       = 55
	cmdReadOCR   = 58
)

const sectorSize = 512

// CommandRecord is one dispatched command with its raw argument.
type CommandRecord struct {
	Cmd byte
	Arg uint32
}

// Card is a byte-level card simulator. All methods are safe for
// concurrent use; the driver exchanges bytes from its goroutines while
// the test inspects state from its own.
type Card struct {
	mu      sync.Mutex
	profile Profile

	// Protocol state.
	selected    bool
	idle        bool
	initialized bool
	appCmd      bool
	blockLen    uint32

	// Byte-exchange state.
	collecting   bool
	cmdBuf       [6]byte
	cmdLen       int
	outQueue     []byte
	busyRemain   int
	reading      bool
	readBlock    uint32
	writing      bool
	writeCollect bool
	writeBuf     []byte
	writeBlock   uint32

	// Content.
	sectors  map[uint32][]byte
	capacity uint32
	csd      [16]byte

	// Observability.
	log          []CommandRecord
	lastReadArg  uint32
	lastWriteArg uint32

	// Failure and timing knobs.
	cmd0Ignores    int
	initAttempts   int
	cmd1Status     byte
	blockLenStatus byte
	failCSD        bool
	tokenDelay     int
	writeResponse  byte
	stopStatus     byte
	busyBytes      int
	corruptWrites  bool
	flakyReads     bool
	flakyCounter   byte
}

// NewCard creates a card simulator with sensible defaults: two
// initialization polls before ready, a couple of filler bytes before
// data tokens and a short busy tail after writes.
func NewCard(profile Profile) *Card {
	c := &Card{
		profile:       profile,
		blockLen:      sectorSize,
		sectors:       make(map[uint32][]byte),
		initAttempts:  2,
		tokenDelay:    2,
		writeResponse: 0xE5, // accepted pattern in the low five bits
		busyBytes:     2,
	}
	switch profile {
	case ProfileSDHC:
		c.capacity = 1024 * 1024 // 512 MiB
		c.csd = makeCSDv2(c.capacity)
	case ProfileSDV2:
		c.capacity = 16384 // 8 MiB
		c.csd = makeCSDv2(c.capacity)
	case ProfileLegacy:
		c.capacity = 16384
		c.csd = makeCSDv1(c.capacity)
	}
	return c
}

// makeCSDv1 encodes a version 1.0 CSD for the given sector count, using
// a 512-byte read block length and the smallest size multiplier. The
// count must be a multiple of 4 and at most 16384.
func makeCSDv1(blocks uint32) [16]byte {
	var csd [16]byte
	cSize := blocks/4 - 1
	csd[5] = 0x09 // READ_BL_LEN = 2^9
	csd[6] = byte(cSize>>10) & 0x03
	csd[7] = byte(cSize >> 2)
	csd[8] = byte(cSize&0x03) << 6
	// C_SIZE_MULT = 0 occupies already-zero bits in csd[9] and csd[10].
	return csd
}

// makeCSDv2 encodes a version 2.0 CSD for the given sector count; the
// count must be a multiple of 1024.
func makeCSDv2(blocks uint32) [16]byte {
	var csd [16]byte
	cSize := blocks/1024 - 1
	csd[0] = 0x40
	csd[7] = byte(cSize>>16) & 0x3F
	csd[8] = byte(cSize >> 8)
	csd[9] = byte(cSize)
	return csd
}

// Capacity returns the simulated capacity in sectors.
func (c *Card) Capacity() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

// LoadSector stores sector content served by subsequent reads. Data is
// copied and padded or truncated to one sector.
func (c *Card) LoadSector(block uint32, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sector := make([]byte, sectorSize)
	copy(sector, data)
	c.sectors[block] = sector
}

// SectorData returns a copy of the given sector's content; absent
// sectors read as zeroes.
func (c *Card) SectorData(block uint32) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	sector := make([]byte, sectorSize)
	copy(sector, c.sectors[block])
	return sector
}

// CommandLog returns a copy of every command frame dispatched so far.
func (c *Card) CommandLog() []CommandRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	log := make([]CommandRecord, len(c.log))
	copy(log, c.log)
	return log
}

// LastReadArg returns the raw argument of the most recent read command.
func (c *Card) LastReadArg() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastReadArg
}

// LastWriteArg returns the raw argument of the most recent write command.
func (c *Card) LastWriteArg() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastWriteArg
}

// SetCMD0Ignores leaves the first n reset commands unanswered.
func (c *Card) SetCMD0Ignores(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmd0Ignores = n
}

// SetInitAttempts sets how many initialization polls report idle before
// the card turns ready.
func (c *Card) SetInitAttempts(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initAttempts = n
}

// SetCMD1Status forces every CMD1 response to the given status.
func (c *Card) SetCMD1Status(status byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmd1Status = status
}

// SetBlockLenStatus forces the set-block-length response.
func (c *Card) SetBlockLenStatus(status byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockLenStatus = status
}

// SetCSDFailure makes CMD9 answer with an error status.
func (c *Card) SetCSDFailure(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failCSD = fail
}

// SetReadTokenDelay sets how many filler bytes precede each data token.
func (c *Card) SetReadTokenDelay(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenDelay = n
}

// SetWriteResponse overrides the data response byte sent after each
// written sector.
func (c *Card) SetWriteResponse(resp byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeResponse = resp
}

// SetStopStatus sets the status byte answered to stop-transmission.
// Real cards are known to answer junk here.
func (c *Card) SetStopStatus(status byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopStatus = status
}

// SetBusyBytes sets how many busy bytes the card holds after a write.
func (c *Card) SetBusyBytes(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busyBytes = n
}

// SetCorruptWrites makes the card store a damaged copy of every written
// sector while still acknowledging the write.
func (c *Card) SetCorruptWrites(corrupt bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.corruptWrites = corrupt
}

// SetFlakyReads makes every served sector differ from the previous one.
func (c *Card) SetFlakyReads(flaky bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flakyReads = flaky
}

// SetSelected tracks the chip select line. Releasing it mid-transfer
// aborts any streaming state, but background programming (the busy
// tail) keeps running.
func (c *Card) SetSelected(selected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selected = selected
	if !selected {
		c.collecting = false
		c.cmdLen = 0
		c.reading = false
		c.writing = false
		c.writeCollect = false
		c.outQueue = nil
	}
}

// ExchangeByte clocks one byte in each direction, the complete bus
// contract from the card's side.
func (c *Card) ExchangeByte(mosi byte) byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.selected {
		// Tri-stated output; the warm-up clocks land here.
		return 0xFF
	}

	if c.collecting {
		c.cmdBuf[c.cmdLen] = mosi
		c.cmdLen++
		if c.cmdLen == len(c.cmdBuf) {
			c.collecting = false
			c.dispatch()
		}
		return 0xFF
	}

	if c.writing && c.writeCollect {
		c.writeBuf = append(c.writeBuf, mosi)
		if len(c.writeBuf) == sectorSize+2 {
			c.finishSector()
		}
		return 0xFF
	}

	// A new command aborts whatever the card was streaming.
	if mosi != 0xFF && mosi&0xC0 == 0x40 {
		c.collecting = true
		c.cmdBuf[0] = mosi
		c.cmdLen = 1
		c.outQueue = nil
		c.reading = false
		return 0xFF
	}

	if c.writing && !c.writeCollect {
		switch mosi {
		case 0xFC:
			c.writeCollect = true
			c.writeBuf = c.writeBuf[:0]
			return 0xFF
		case 0xFD:
			c.writing = false
			c.busyRemain = c.busyBytes
			return 0xFF
		}
	}

	if len(c.outQueue) == 0 && c.reading {
		c.queueSector()
	}

	if len(c.outQueue) > 0 {
		out := c.outQueue[0]
		c.outQueue = c.outQueue[1:]
		return out
	}

	if c.busyRemain > 0 {
		c.busyRemain--
		return 0x00
	}

	return 0xFF
}

// dispatch interprets a completed command frame. Responses are staged
// into the output queue with one filler byte of response latency.
func (c *Card) dispatch() {
	cmd := c.cmdBuf[0] & 0x3F
	arg := uint32(c.cmdBuf[1])<<24 | uint32(c.cmdBuf[2])<<16 |
		uint32(c.cmdBuf[3])<<8 | uint32(c.cmdBuf[4])
	c.log = append(c.log, CommandRecord{Cmd: cmd, Arg: arg})

	wasAppCmd := c.appCmd
	c.appCmd = false

	switch cmd {
	case cmdGoIdle:
		if c.cmd0Ignores > 0 {
			c.cmd0Ignores--
			return // no response at all
		}
		// Checksum enforcement is still on until the card enters SPI
		// operation, so the reset frame's trailer is verified.
		if c.cmdBuf[5] != spiutil.CRC7(c.cmdBuf[:5]) {
			c.respond(0x09)
			return
		}
		c.idle = true
		c.initialized = false
		c.reading = false
		c.writing = false
		c.respond(0x01)

	case cmdIfCond:
		if c.profile == ProfileLegacy {
			c.respond(0x05)
			return
		}
		// R7: idle status plus the echoed voltage and check pattern.
		c.respond(0x01, 0x00, 0x00, byte(arg>>8), byte(arg))

	case cmdApp:
		if c.profile == ProfileLegacy {
			c.respond(0x05)
			return
		}
		c.appCmd = true
		c.respond(0x01)

	case cmdAppOpCond:
		if !wasAppCmd || c.profile == ProfileLegacy {
			c.respond(0x05)
			return
		}
		if c.initAttempts > 0 {
			c.initAttempts--
			c.respond(0x01)
			return
		}
		c.idle = false
		c.initialized = true
		c.respond(0x00)

	case cmdSendOp:
		if c.cmd1Status != 0 {
			c.respond(c.cmd1Status)
			return
		}
		if c.initialized {
			c.respond(0x00)
			return
		}
		if c.initAttempts > 0 {
			c.initAttempts--
			c.respond(0x01)
			return
		}
		c.idle = false
		c.initialized = true
		c.respond(0x00)

	case cmdReadOCR:
		ocr := byte(0x80) // powered up
		if c.profile == ProfileSDHC {
			ocr |= 0x40
		}
		c.respond(0x00, ocr, 0xFF, 0x80, 0x00)

	case cmdBlockLen:
		if c.blockLenStatus != 0 {
			c.respond(c.blockLenStatus)
			return
		}
		c.blockLen = arg
		c.respond(0x00)

	case cmdSendCSD:
		if c.failCSD {
			c.respond(0x04)
			return
		}
		c.respond(0x00)
		c.queueToken(c.csd[:])

	case cmdReadMulti:
		c.lastReadArg = arg
		c.readBlock = c.blockArg(arg)
		c.reading = true
		c.respond(0x00)

	case cmdWriteMul:
		c.lastWriteArg = arg
		c.writeBlock = c.blockArg(arg)
		c.writing = true
		c.writeCollect = false
		c.respond(0x00)

	case cmdStopTran:
		c.reading = false
		c.respond(c.stopStatus)

	default:
		c.respond(0x05)
	}
}

// blockArg converts a command argument into a sector index for the
// card's addressing dialect.
func (c *Card) blockArg(arg uint32) uint32 {
	if c.profile == ProfileSDHC {
		return arg
	}
	return arg / sectorSize
}

// respond stages a response with one byte of latency before the status.
func (c *Card) respond(bytes ...byte) {
	c.outQueue = append(c.outQueue, 0xFF)
	c.outQueue = append(c.outQueue, bytes...)
}

// queueToken stages filler, the data token, a payload and its checksum.
func (c *Card) queueToken(data []byte) {
	for i := 0; i < c.tokenDelay; i++ {
		c.outQueue = append(c.outQueue, 0xFF)
	}
	c.outQueue = append(c.outQueue, 0xFE)
	c.outQueue = append(c.outQueue, data...)
	crc := spiutil.CRC16(data)
	c.outQueue = append(c.outQueue, byte(crc>>8), byte(crc))
}

// queueSector stages the next sector of an open sequential read.
func (c *Card) queueSector() {
	sector := make([]byte, sectorSize)
	copy(sector, c.sectors[c.readBlock])
	if c.flakyReads {
		c.flakyCounter++
		sector[0] = c.flakyCounter
	}
	c.queueToken(sector)
	c.readBlock++
}

// finishSector commits a fully collected written sector and schedules
// the data response plus the busy tail.
func (c *Card) finishSector() {
	sector := make([]byte, sectorSize)
	copy(sector, c.writeBuf[:sectorSize])
	if c.corruptWrites {
		sector[0] ^= 0xFF
	}
	c.sectors[c.writeBlock] = sector
	c.writeBlock++
	c.writeCollect = false
	c.outQueue = append(c.outQueue, c.writeResponse)
	c.busyRemain = c.busyBytes
}
