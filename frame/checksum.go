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

package frame

import (
	"errors"
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
)

// ErrUnknownChecksum is returned by ChecksumByName for unregistered names.
var ErrUnknownChecksum = errors.New("unknown checksum algorithm")

// Checksum computes the 32-bit integrity value stamped into every frame and
// into the image header. The encoder and decoder must share one Checksum.
type Checksum func(data []byte) uint32

var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32IEEE is the reflected CRC-32 used by zlib and Ethernet.
func CRC32IEEE(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// CRC32Castagnoli is the reflected CRC-32C.
func CRC32Castagnoli(data []byte) uint32 {
	return crc32.Checksum(data, castagnoliTable)
}

// mpeg2Poly is the non-reflected CRC-32 polynomial.
const mpeg2Poly = 0x04C11DB7

var mpeg2Table = makeMSBTable(mpeg2Poly)

func makeMSBTable(poly uint32) *[256]uint32 {
	var t [256]uint32
	for i := range t {
		crc := uint32(i) << 24
		for range 8 {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ poly
			} else {
				crc <<= 1
			}
		}
		t[i] = crc
	}
	return &t
}

// CRC32MPEG2 is the MSB-first CRC-32 computed by the STM32 CRC peripheral
// when fed bytes: init 0xFFFFFFFF, no reflection, no final xor.
func CRC32MPEG2(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = crc<<8 ^ mpeg2Table[byte(crc>>24)^b]
	}
	return crc
}

var checksums = map[string]Checksum{
	"crc32":      CRC32IEEE,
	"crc32c":     CRC32Castagnoli,
	"crc32-mpeg": CRC32MPEG2,
}

// ChecksumByName looks up a built-in checksum by its CLI name.
func ChecksumByName(name string) (Checksum, error) {
	if c, ok := checksums[strings.ToLower(strings.TrimSpace(name))]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownChecksum, name,
		strings.Join(ChecksumNames(), ", "))
}

// ChecksumNames returns the names accepted by ChecksumByName, sorted.
func ChecksumNames() []string {
	names := make([]string, 0, len(checksums))
	for name := range checksums {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
