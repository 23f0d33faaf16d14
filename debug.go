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

package otaflash

import (
	"fmt"
	"sync/atomic"

	"github.com/golang/glog"
)

var debugEnabled atomic.Bool

// SetDebugEnabled turns protocol tracing on or off. Output goes to glog at
// INFO level.
func SetDebugEnabled(enabled bool) {
	debugEnabled.Store(enabled)
}

// DebugEnabled reports whether protocol tracing is on.
func DebugEnabled() bool {
	return debugEnabled.Load()
}

func debugf(format string, args ...any) {
	if debugEnabled.Load() {
		glog.InfoDepth(1, fmt.Sprintf(format, args...))
	}
}

func debugln(args ...any) {
	if debugEnabled.Load() {
		glog.InfoDepth(1, fmt.Sprint(args...))
	}
}
