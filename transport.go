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
	"context"
	"time"
)

// Transport is the byte channel to the bootloader. It is owned by a single
// Session at a time and is not required to be safe for concurrent use.
//
// Implementations exist for UART (transport/uart) and I2C (transport/i2c).
type Transport interface {
	// Write sends all of p. A short write is reported as an error, never
	// silently accepted.
	Write(p []byte) error

	// ReadFull blocks until exactly n bytes have arrived, timeout elapses, or
	// ctx is done. An expired timeout returns a *TransportError with
	// Type ErrorTypeTimeout; a done context returns an error wrapping
	// ctx.Err(). Any other error means the channel is unusable.
	ReadFull(ctx context.Context, n int, timeout time.Duration) ([]byte, error)

	// Close closes the transport connection. Calling Close twice is safe.
	Close() error

	// IsConnected returns true if the transport is connected
	IsConnected() bool

	// Type returns the transport type
	Type() TransportType
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportUART represents UART/serial transport.
	TransportUART TransportType = "uart"
	// TransportI2C represents I2C bus transport.
	TransportI2C TransportType = "i2c"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// InputFlusher is implemented by transports that can discard bytes already
// received but not yet read. The session flushes before re-sending a packet
// so a late response to the previous attempt is not taken as the answer to
// the new one.
type InputFlusher interface {
	FlushInput() error
}

func flushInput(t Transport) error {
	if f, ok := t.(InputFlusher); ok {
		return f.FlushInput()
	}
	return nil
}
