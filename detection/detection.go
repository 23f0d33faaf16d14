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

// Package detection lists the serial ports and I2C buses a bootloader may be
// attached to
package detection

import (
	"errors"
	"fmt"
	"sort"

	"go.bug.st/serial/enumerator"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// ErrNoDevicesFound is returned when nothing passes the listing filters
var ErrNoDevicesFound = errors.New("no devices found")

// Options configures port listing
type Options struct {
	// Blocklist holds VID:PID pairs that are never offered
	Blocklist []string
	// IgnorePaths holds device paths that are never offered
	IgnorePaths []string
	// USBOnly drops ports that are not USB serial adapters
	USBOnly bool
}

// DefaultOptions returns the default listing options
func DefaultOptions() *Options {
	return &Options{
		Blocklist: DefaultBlocklist(),
	}
}

// PortInfo describes one candidate serial port
type PortInfo struct {
	Path         string
	VIDPID       string
	SerialNumber string
	Product      string
	IsUSB        bool
}

// String formats the port for listings
func (p PortInfo) String() string {
	if !p.IsUSB {
		return p.Path
	}
	s := fmt.Sprintf("%s [%s]", p.Path, p.VIDPID)
	if p.Product != "" {
		s += " " + p.Product
	}
	if p.SerialNumber != "" {
		s += " s/n " + p.SerialNumber
	}
	return s
}

// ListPorts returns the serial ports that pass opts, sorted by path. A nil
// opts uses DefaultOptions.
func ListPorts(opts *Options) ([]PortInfo, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("enumerating serial ports: %w", err)
	}

	ports := filterPorts(details, opts)
	if len(ports) == 0 {
		return nil, ErrNoDevicesFound
	}
	return ports, nil
}

func filterPorts(details []*enumerator.PortDetails, opts *Options) []PortInfo {
	ports := make([]PortInfo, 0, len(details))
	for _, d := range details {
		if d == nil || IsPathIgnored(d.Name, opts.IgnorePaths) {
			continue
		}
		if opts.USBOnly && !d.IsUSB {
			continue
		}

		info := PortInfo{Path: d.Name, IsUSB: d.IsUSB}
		if d.IsUSB {
			info.VIDPID = FormatVIDPID(d.VID, d.PID)
			info.SerialNumber = d.SerialNumber
			info.Product = d.Product
			if IsBlocked(info.VIDPID, opts.Blocklist) {
				continue
			}
		}
		ports = append(ports, info)
	}

	sort.Slice(ports, func(i, j int) bool { return ports[i].Path < ports[j].Path })
	return ports
}

// ListI2CBuses returns the names of the I2C buses registered with periph
func ListI2CBuses() ([]string, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	refs := i2creg.All()
	if len(refs) == 0 {
		return nil, ErrNoDevicesFound
	}

	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		names = append(names, ref.Name)
	}
	return names, nil
}
