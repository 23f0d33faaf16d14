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
	"testing"
)

var checkInput = []byte("123456789")

func TestChecksumKnownAnswers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		sum  Checksum
		name string
		want uint32
	}{
		{name: "crc32 ieee", sum: CRC32IEEE, want: 0xCBF43926},
		{name: "crc32c", sum: CRC32Castagnoli, want: 0xE3069283},
		{name: "crc32 mpeg-2", sum: CRC32MPEG2, want: 0x0376E6E7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.sum(checkInput); got != tt.want {
				t.Errorf("checksum = 0x%08X, want 0x%08X", got, tt.want)
			}
		})
	}
}

func TestChecksumEmptyInput(t *testing.T) {
	t.Parallel()
	if got := CRC32IEEE(nil); got != 0 {
		t.Errorf("CRC32IEEE(nil) = 0x%08X, want 0", got)
	}
	// MPEG-2 has no final xor, so the init value comes straight back.
	if got := CRC32MPEG2(nil); got != 0xFFFFFFFF {
		t.Errorf("CRC32MPEG2(nil) = 0x%08X, want 0xFFFFFFFF", got)
	}
}

func TestChecksumDeterministic(t *testing.T) {
	t.Parallel()
	data := []byte{0x00, 0x01, 0x00, 0xAA, 0xBB}
	for _, name := range ChecksumNames() {
		sum, err := ChecksumByName(name)
		if err != nil {
			t.Fatalf("ChecksumByName(%q) failed: %v", name, err)
		}
		if a, b := sum(data), sum(data); a != b {
			t.Errorf("%s: not deterministic: 0x%08X != 0x%08X", name, a, b)
		}
	}
}

func TestChecksumByName(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		input   string
		want    uint32
		wantErr bool
	}{
		{name: "default name", input: "crc32", want: 0xCBF43926},
		{name: "case and space insensitive", input: " CRC32C ", want: 0xE3069283},
		{name: "stm32", input: "crc32-mpeg", want: 0x0376E6E7},
		{name: "zero checksum not offered", input: "none", wantErr: true},
		{name: "unknown", input: "crc16", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sum, err := ChecksumByName(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownChecksum) {
					t.Errorf("ChecksumByName(%q) error = %v, want ErrUnknownChecksum", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ChecksumByName(%q) failed: %v", tt.input, err)
			}
			if got := sum(checkInput); got != tt.want {
				t.Errorf("checksum = 0x%08X, want 0x%08X", got, tt.want)
			}
		})
	}
}
