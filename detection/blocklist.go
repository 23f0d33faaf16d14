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

package detection

import "strings"

// DefaultBlocklist lists USB serial adapters that enumerate like a bootloader
// link but never are one. Entries are VID:PID in hex.
func DefaultBlocklist() []string {
	return []string{
		"072F:2200", // ACS ACR122U NFC reader
		"1915:520F", // Nordic nRF52 sniffer firmware
	}
}

var (
	vendorKeys  = []string{"VID:", "VENDOR=", "VID="}
	productKeys = []string{"PID:", "PRODUCT=", "PID="}
)

// IsBlocked reports whether the adapter identified by vidpid is listed.
// Entries may be written in any form ParseVIDPID accepts.
func IsBlocked(vidpid string, blocklist []string) bool {
	id := strings.ToUpper(strings.TrimSpace(vidpid))
	if id == "" {
		return false
	}
	for _, entry := range blocklist {
		want := ParseVIDPID(entry)
		if want == "" {
			want = strings.ToUpper(strings.TrimSpace(entry))
		}
		if id == want {
			return true
		}
	}
	return false
}

// FormatVIDPID builds the blocklist key from the IDs the enumerator reports.
// Ports without both IDs get "".
func FormatVIDPID(vid, pid string) string {
	vid = strings.ToUpper(strings.TrimSpace(vid))
	pid = strings.ToUpper(strings.TrimSpace(pid))
	if vid == "" || pid == "" {
		return ""
	}
	return vid + ":" + pid
}

// ParseVIDPID normalises a USB ID written as "0483:5740", "VID:0483 PID:5740",
// "VID=0483 PID=5740" or "vendor=0483 product=5740" to "0483:5740". It returns
// "" when no ID can be found.
func ParseVIDPID(descriptor string) string {
	s := strings.ToUpper(descriptor)

	vid, pid := hexAfter(s, vendorKeys), hexAfter(s, productKeys)
	if vid != "" && pid != "" {
		return vid + ":" + pid
	}

	vid, pid, ok := strings.Cut(strings.TrimSpace(s), ":")
	if ok && isHex(vid) && isHex(pid) {
		return vid + ":" + pid
	}
	return ""
}

// hexAfter returns the hex digits following the first key present in s
func hexAfter(s string, keys []string) string {
	for _, key := range keys {
		_, rest, ok := strings.Cut(s, key)
		if !ok {
			continue
		}
		rest = strings.TrimLeftFunc(rest, func(r rune) bool { return !isHexDigit(r) })
		if end := strings.IndexFunc(rest, func(r rune) bool { return !isHexDigit(r) }); end >= 0 {
			rest = rest[:end]
		}
		return rest
	}
	return ""
}

func isHexDigit(r rune) bool {
	return ('0' <= r && r <= '9') || ('A' <= r && r <= 'F') || ('a' <= r && r <= 'f')
}

func isHex(s string) bool {
	return s != "" && strings.IndexFunc(s, func(r rune) bool { return !isHexDigit(r) }) < 0
}
