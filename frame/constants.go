// go-otaflash
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-otaflash.
//
// go-otaflash is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-otaflash is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-otaflash; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package frame provides the OTA wire format: packet framing, payload layouts
// and the checksum used to validate every frame.
package frame

// Frame markers
const (
	SOF = 0xAA // Start of frame
	EOF = 0xBB // End of frame
)

// Type identifies the kind of packet carried by a frame.
type Type byte

// Packet types
const (
	TypeCommand  Type = 0x00
	TypeData     Type = 0x01
	TypeHeader   Type = 0x02
	TypeResponse Type = 0x03
)

// String returns a human-readable name for the packet type.
func (t Type) String() string {
	switch t {
	case TypeCommand:
		return "command"
	case TypeData:
		return "data"
	case TypeHeader:
		return "header"
	case TypeResponse:
		return "response"
	default:
		return "unknown"
	}
}

// Valid reports whether t is one of the defined packet types.
func (t Type) Valid() bool {
	return t <= TypeResponse
}

// Command payload codes
const (
	CmdStart byte = 0x00
	CmdEnd   byte = 0x01
	CmdAbort byte = 0x02 // Drops the device back to waiting for Start
)

// Response payload codes
const (
	StatusAck  byte = 0x00
	StatusNack byte = 0x01
)

// Frame size limits
const (
	HeaderSize        = 16   // image_size + image_checksum + 2 reserved words
	Overhead          = 9    // SOF + type + length(2) + checksum(4) + EOF
	ResponseFrameSize = 10   // Overhead + 1 status byte
	CommandFrameSize  = 10   // Overhead + 1 command byte
	MaxDataSize       = 1024 // Largest Data payload the bootloader buffers
	DefaultChunkSize  = 512
	MaxFrameSize      = Overhead + MaxDataSize
)

// Field offsets within an encoded frame
const (
	offType    = 1
	offLength  = 2
	offPayload = 4
)

// maxPayload returns the allowed payload size range for a packet type.
func maxPayload(t Type) (lo, hi int) {
	switch t {
	case TypeCommand, TypeResponse:
		return 1, 1
	case TypeHeader:
		return HeaderSize, HeaderSize
	case TypeData:
		return 1, MaxDataSize
	default:
		return 0, 0
	}
}
