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

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/ZaparooProject/go-otaflash/internal/transport"
)

// ErrPortNotPresent is returned when a port does not appear in time
var ErrPortNotPresent = errors.New("port did not appear")

// DefaultWaitInterval is how often WaitForPort re-enumerates
const DefaultWaitInterval = 250 * time.Millisecond

// WaitForPort blocks until path is listed by the OS, timeout elapses, or ctx
// is done. Boards that reset into their bootloader re-enumerate, so the port
// can be missing for a moment right after the reset.
func WaitForPort(ctx context.Context, path string, timeout time.Duration) error {
	return waitFor(ctx, path, timeout, DefaultWaitInterval, serial.GetPortsList)
}

func waitFor(
	ctx context.Context,
	path string,
	timeout, interval time.Duration,
	list func() ([]string, error),
) error {
	want := normalizedPath(path)

	_, err := transport.TimeoutRetry(ctx, timeout, interval, func(int) (struct{}, bool, error) {
		names, err := list()
		if err != nil {
			return struct{}{}, false, fmt.Errorf("enumerating serial ports: %w", err)
		}
		for _, name := range names {
			if normalizedPath(name) == want {
				return struct{}{}, false, nil
			}
		}
		return struct{}{}, true, nil
	})
	if errors.Is(err, transport.ErrPollTimeout) {
		return fmt.Errorf("%w: %s after %v", ErrPortNotPresent, path, timeout)
	}
	return err
}
