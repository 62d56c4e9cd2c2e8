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

// SD/MMC command codes (SPI mode)
const (
	cmdGoIdleState        = 0  // CMD0, software reset
	cmdSendOpCond         = 1  // CMD1, legacy initialization
	cmdSendIfCond         = 8  // CMD8, SD 2.0 interface condition
	cmdSendCSD            = 9  // CMD9, card-specific data register
	cmdStopTransmission   = 12 // CMD12, terminate multi-block read
	cmdSetBlockLen        = 16 // CMD16, fix the sector size
	cmdReadMultipleBlock  = 18 // CMD18, sequential read
	cmdWriteMultipleBlock = 25 // CMD25, sequential write
	cmdSDAppOpCond        = 41 // ACMD41, SD initialization
	cmdAppCmd             = 55 // CMD55, next command is application-specific
	cmdReadOCR            = 58 // CMD58, operating conditions register
)

// CMD8 check pattern: 2.7-3.6V range plus the 0xAA echo byte.
const cmd8Argument = 0x000001AA

// ACMD41 argument with the high-capacity support bit and the same
// voltage window.
const acmd41Argument = 0x400001AA

// Response and token bytes
const (
	// r1Ready is the R1 status of an initialized card accepting commands.
	r1Ready = 0x00
	// r1Idle is the R1 status of a card in idle state after CMD0.
	r1Idle = 0x01
	// r1IllegalCommand is the R1 status a legacy card answers to CMD8.
	r1IllegalCommand = 0x05
	// r1NoResponse marks an exhausted response poll; the bus idles high
	// so 0xFF can never be a real R1 status.
	r1NoResponse = 0xFF

	// tokenStartData precedes every data block sent by the card and
	// single-block writes to it.
	tokenStartData = 0xFE
	// tokenStartWriteMulti precedes each block of a multi-block write.
	tokenStartWriteMulti = 0xFC
	// tokenStopTran terminates a multi-block write.
	tokenStopTran = 0xFD

	// dataResponseMask and dataAccepted decode the card's data response
	// byte after a write: the low five bits read 0b00101 on success.
	dataResponseMask = 0x1F
	dataAccepted     = 0x05

	// busIdle is the value an idle bus reads; it doubles as the filler
	// byte clocked out during receives.
	busIdle = 0xFF

	// ocrHighCapacity is the CCS bit in the OCR's most significant byte.
	// Set means the card takes block numbers instead of byte offsets.
	ocrHighCapacity = 0x40
)

// Protocol retry and poll ceilings. These are fixed by the connection
// protocol rather than configurable: they bound how many times a command
// is reissued or a token polled before the attempt is abandoned.
const (
	// cmd0Retries bounds CMD0 attempts while resetting the card.
	cmd0Retries = 10
	// cmd1Retries bounds CMD1 attempts during legacy initialization.
	cmd1Retries = 100
	// acmd41Retries bounds CMD55+ACMD41 rounds during SD initialization.
	acmd41Retries = 100
	// defaultDataWaitAttempts bounds single-byte polls for a data start
	// token. Tunable via WithDataWaitAttempts.
	defaultDataWaitAttempts = 10_000
	// r1PollLimit bounds single-byte reads while waiting for an R1
	// status after a command.
	r1PollLimit = 9
	// warmUpBytes is how many filler bytes are clocked out with the card
	// deselected before CMD0, giving the card its required 74+ clocks.
	warmUpBytes = 16
	// quickBusyPolls is how many busy polls run back to back before the
	// driver starts yielding between them.
	quickBusyPolls = 16
	// initRetryDelay spaces out CMD0/CMD1/ACMD41 attempts.
	initRetryDelay = 10 // milliseconds
)

// SectorSize is the fixed block length in bytes. CMD16 pins the card to
// this during Connect and all transfers move whole sectors.
const SectorSize = 512

// commandFrame assembles the 6-byte SPI command frame: the command index
// with the transmission bit, four big-endian argument bytes and the CMD0
// CRC. After CMD0 the card ignores the CRC field, so the fixed 0x95 is
// valid for every command the driver sends.
func commandFrame(cmd byte, arg uint32) [6]byte {
	return [6]byte{
		0x40 | cmd,
		byte(arg >> 24),
		byte(arg >> 16),
		byte(arg >> 8),
		byte(arg),
		0x95,
	}
}
