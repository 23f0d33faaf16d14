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

// State is a step of the transfer state machine:
//
//	Idle → Starting → AwaitHeaderAck → SendingData → AwaitEndAck → Complete
//
// Failed is reachable from every non-terminal state.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateAwaitHeaderAck
	StateSendingData
	StateAwaitEndAck
	StateComplete
	StateFailed
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateAwaitHeaderAck:
		return "sending header"
	case StateSendingData:
		return "sending data"
	case StateAwaitEndAck:
		return "ending"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// Progress is reported after every acknowledged Data chunk and once more on
// completion.
type Progress struct {
	SessionID   string
	State       State
	BytesSent   int
	TotalBytes  int
	Chunk       int // 1-based index of the last acknowledged chunk
	TotalChunks int
}

// Percentage returns completion in the range 0..100.
func (p Progress) Percentage() float64 {
	if p.TotalBytes == 0 {
		return 0
	}
	return float64(p.BytesSent) * 100 / float64(p.TotalBytes)
}

// ProgressFunc receives progress notifications. It runs on the session's
// goroutine and should return quickly.
type ProgressFunc func(Progress)
