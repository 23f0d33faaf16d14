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

// Package i2c provides an I2C transport for bootloaders that expose the OTA
// protocol on an I2C slave address instead of a UART
package i2c

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/ZaparooProject/go-otaflash"
	"github.com/ZaparooProject/go-otaflash/internal/transport"
)

const (
	// DefaultAddress is the bootloader's 7-bit slave address
	DefaultAddress = 0x24

	// statusReady is the status byte the device returns once a response is
	// waiting to be read
	statusReady = 0x01

	// Max clock frequency (400 kHz).
	maxClockFreq = 400 * physic.KiloHertz

	readyPollInterval = time.Millisecond
)

// Transport implements otaflash.Transport on an I2C bus
type Transport struct {
	dev     conn.Conn
	bus     i2c.BusCloser
	busName string
	mu      sync.Mutex
}

// New opens busName (empty for the first available bus) and addresses the
// device at addr.
func New(busName string, addr uint16) (*Transport, error) {
	if _, err := host.Init(); err != nil {
		return nil, otaflash.NewTransportError("Open", busName,
			fmt.Errorf("failed to initialize periph host: %w", err), otaflash.ErrorTypePermanent)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, otaflash.NewTransportError("Open", busName, err, otaflash.ErrorTypePermanent)
	}

	// Ignore error, continue with default speed
	_ = bus.SetSpeed(maxClockFreq)

	return &Transport{
		dev:     &i2c.Dev{Addr: addr, Bus: bus},
		bus:     bus,
		busName: busName,
	}, nil
}

// Write sends p in a single bus transaction
func (t *Transport) Write(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev == nil {
		return otaflash.NewTransportError("Write", t.busName, otaflash.ErrNotConnected, otaflash.ErrorTypePermanent)
	}
	if err := t.dev.Tx(p, nil); err != nil {
		return otaflash.NewWriteError("Write", t.busName, err)
	}
	return nil
}

// ReadFull polls the device's status byte until it reports a response ready,
// then reads n bytes in one transaction.
func (t *Transport) ReadFull(ctx context.Context, n int, timeout time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ReadFull on %s: %w", t.busName, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dev == nil {
		return nil, otaflash.NewTransportError("ReadFull", t.busName, otaflash.ErrNotConnected, otaflash.ErrorTypePermanent)
	}

	_, err := transport.TimeoutRetry(ctx, timeout, readyPollInterval, func(int) (struct{}, bool, error) {
		ready, err := t.checkReady()
		return struct{}{}, err == nil && !ready, err
	})
	switch {
	case errors.Is(err, transport.ErrPollTimeout):
		return nil, otaflash.NewTimeoutError("ReadFull", t.busName)
	case err != nil && ctx.Err() != nil:
		return nil, fmt.Errorf("ReadFull on %s: %w", t.busName, ctx.Err())
	case err != nil:
		return nil, err
	}

	buf := make([]byte, n)
	if err := t.dev.Tx(nil, buf); err != nil {
		return nil, otaflash.NewReadError("ReadFull", t.busName, err)
	}
	return buf, nil
}

// checkReady reads the one-byte status register
func (t *Transport) checkReady() (bool, error) {
	status := make([]byte, 1)
	if err := t.dev.Tx(nil, status); err != nil {
		return false, otaflash.NewReadError("checkReady", t.busName, err)
	}
	return status[0] == statusReady, nil
}

// Close releases the bus. Calling Close twice is safe.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.dev = nil
	if t.bus == nil {
		return nil
	}
	err := t.bus.Close()
	t.bus = nil
	if err != nil {
		return otaflash.NewTransportError("Close", t.busName, err, otaflash.ErrorTypePermanent)
	}
	return nil
}

// IsConnected returns true if the transport is connected
func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dev != nil
}

// Type returns the transport type
func (*Transport) Type() otaflash.TransportType {
	return otaflash.TransportI2C
}

// Ensure Transport implements otaflash.Transport
var _ otaflash.Transport = (*Transport)(nil)
