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

package testing

import "github.com/ZaparooProject/go-otaflash/frame"

// BuildResponse creates a Response frame sealed with sum (nil for CRC-32/IEEE)
func BuildResponse(sum frame.Checksum, status byte) []byte {
	b, err := frame.NewCodec(sum).EncodeResponse(status)
	if err != nil {
		panic(err)
	}
	return b
}

// BuildAck creates a default-checksum ACK
func BuildAck() []byte {
	return BuildResponse(nil, frame.StatusAck)
}

// BuildNack creates a default-checksum NACK
func BuildNack() []byte {
	return BuildResponse(nil, frame.StatusNack)
}

// Corrupt returns a copy of b with one checksum byte flipped
func Corrupt(b []byte) []byte {
	out := append([]byte(nil), b...)
	if len(out) >= frame.Overhead {
		out[len(out)-2] ^= 0xFF
	}
	return out
}

// TestImage returns n bytes that differ from chunk to chunk
func TestImage(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*31 + i/251)
	}
	return data
}
