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

// Package uart provides the serial-port transport for the OTA bootloader
package uart

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/ZaparooProject/go-otaflash"
)

const (
	// DefaultBaudRate matches the bootloader's UART configuration
	DefaultBaudRate = 115200

	// pollInterval bounds each blocking Read so cancellation is noticed
	pollInterval = 50 * time.Millisecond
)

// port is the subset of serial.Port the transport needs
type port interface {
	io.ReadWriter
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Close() error
}

// Transport implements otaflash.Transport over a serial port (8N1)
type Transport struct {
	port     port
	portName string
	mu       sync.Mutex
}

// New opens portName at baud. A zero baud selects DefaultBaudRate.
func New(portName string, baud int) (*Transport, error) {
	if baud == 0 {
		baud = DefaultBaudRate
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	p, err := serial.Open(portName, mode)
	if err != nil {
		return nil, otaflash.NewTransportError("Open", portName, err, otaflash.ErrorTypePermanent)
	}

	return &Transport{port: p, portName: portName}, nil
}

// Write sends all of p
func (t *Transport) Write(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return otaflash.NewTransportError("Write", t.portName, otaflash.ErrNotConnected, otaflash.ErrorTypePermanent)
	}

	for written := 0; written < len(p); {
		n, err := t.port.Write(p[written:])
		if err != nil {
			return otaflash.NewWriteError("Write", t.portName, err)
		}
		if n == 0 {
			return otaflash.NewWriteError("Write", t.portName, io.ErrShortWrite)
		}
		written += n
	}
	return nil
}

// ReadFull reads exactly n bytes, polling the port in short slices so that
// both timeout and ctx are honoured promptly.
func (t *Transport) ReadFull(ctx context.Context, n int, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ReadFull on %s: %w", t.portName, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil, otaflash.NewTransportError("ReadFull", t.portName, otaflash.ErrNotConnected, otaflash.ErrorTypePermanent)
	}

	buf := make([]byte, n)
	deadline := time.Now().Add(timeout)

	for got := 0; got < n; {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("ReadFull on %s: %w", t.portName, err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, otaflash.NewTimeoutError("ReadFull", t.portName)
		}
		if err := t.port.SetReadTimeout(min(remaining, pollInterval)); err != nil {
			return nil, otaflash.NewReadError("SetReadTimeout", t.portName, err)
		}

		m, err := t.port.Read(buf[got:])
		if err != nil {
			return nil, otaflash.NewReadError("ReadFull", t.portName, err)
		}
		got += m
	}

	return buf, nil
}

// FlushInput discards bytes received but not yet read
func (t *Transport) FlushInput() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}
	if err := t.port.ResetInputBuffer(); err != nil {
		return otaflash.NewReadError("FlushInput", t.portName, err)
	}
	return nil
}

// Close closes the serial port. Calling Close twice is safe.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	if err != nil {
		return otaflash.NewTransportError("Close", t.portName, err, otaflash.ErrorTypePermanent)
	}
	return nil
}

// IsConnected returns true if the port is open
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port != nil
}

// Type returns the transport type
func (*Transport) Type() otaflash.TransportType {
	return otaflash.TransportUART
}

// PortName returns the device path the transport was opened on
func (t *Transport) PortName() string {
	return t.portName
}

// Ensure Transport implements otaflash.Transport
var (
	_ otaflash.Transport    = (*Transport)(nil)
	_ otaflash.InputFlusher = (*Transport)(nil)
)
