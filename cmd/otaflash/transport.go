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

package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/golang/glog"
	"github.com/schollz/progressbar/v3"

	"github.com/ZaparooProject/go-otaflash"
	"github.com/ZaparooProject/go-otaflash/detection"
	"github.com/ZaparooProject/go-otaflash/transport/i2c"
	"github.com/ZaparooProject/go-otaflash/transport/uart"
)

func isI2C(path string) bool {
	return strings.Contains(strings.ToLower(path), "i2c")
}

// openTransport creates a transport from the device path. Paths mentioning
// i2c select the I2C transport, anything else is a serial port.
func openTransport(cfg *config) (otaflash.Transport, error) {
	path := *cfg.devicePath

	if isI2C(path) {
		transport, err := i2c.New(path, uint16(*cfg.i2cAddr)) //nolint:gosec // validated as 7-bit
		if err != nil {
			return nil, fmt.Errorf("failed to create I2C transport: %w", err)
		}
		return transport, nil
	}

	if err := detection.CheckAccess(path); err != nil {
		glog.Warningf("%v (is the user in the dialout group?)", err)
	}

	transport, err := uart.New(path, *cfg.baud)
	if err != nil {
		return nil, fmt.Errorf("failed to create UART transport: %w", err)
	}
	return transport, nil
}

func listPorts(stdout, stderr io.Writer) int {
	ports, err := detection.ListPorts(detection.DefaultOptions())
	switch {
	case errors.Is(err, detection.ErrNoDevicesFound):
		_, _ = fmt.Fprintln(stdout, "No serial ports found")
	case err != nil:
		_, _ = fmt.Fprintf(stderr, "%v\n", err)
		return exitTransportOpen
	}
	for _, p := range ports {
		_, _ = fmt.Fprintln(stdout, p.String())
	}

	buses, err := detection.ListI2CBuses()
	if err != nil {
		glog.V(1).Infof("i2c: %v", err)
		return exitOK
	}
	for _, b := range buses {
		_, _ = fmt.Fprintf(stdout, "i2c bus %s\n", b)
	}
	return exitOK
}

// newProgressBar returns a progress callback drawing a byte progress bar
func newProgressBar(w io.Writer, total int) otaflash.ProgressFunc {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Flashing"),
		progressbar.OptionShowBytes(true),
		progressbar.OptionOnCompletion(func() { _, _ = fmt.Fprintln(w) }),
	)
	return func(p otaflash.Progress) {
		_ = bar.Set(p.BytesSent)
	}
}
