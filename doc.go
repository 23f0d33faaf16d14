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

/*
Package otaflash pushes firmware images to an OTA bootloader over a byte
oriented link.

The device side is a small bootloader that accepts a fixed sequence of framed
packets: a Start command, a Header describing the image, the image itself in
Data packets, and an End command. Every packet is answered with an ACK or NACK
response frame. This package drives that sequence from the host, retrying
packets the device rejects or does not answer.

Features:
  - UART and I2C transports (transport/uart, transport/i2c)
  - Pluggable frame and image checksums (frame.CRC32IEEE by default)
  - Per-packet retries with a configurable attempt limit and response timeout
  - Progress reporting after every acknowledged data packet
  - Best-effort Abort on cancellation so the device returns to idle
  - Typed errors carrying the failed stage and cause

Basic Usage:

	import (
	    "context"
	    "log"

	    "github.com/ZaparooProject/go-otaflash"
	    "github.com/ZaparooProject/go-otaflash/transport/uart"
	)

	transport, err := uart.New("/dev/ttyUSB0", uart.DefaultBaudRate)
	if err != nil {
	    log.Fatal(err)
	}
	defer transport.Close()

	img, err := otaflash.OpenImage("app.bin")
	if err != nil {
	    log.Fatal(err)
	}

	err = otaflash.Update(context.Background(), transport, img)

Configuration:

	err = otaflash.Update(ctx, transport, img,
	    otaflash.WithMaxAttempts(5),
	    otaflash.WithResponseTimeout(2*time.Second),
	    otaflash.WithChunkSize(256),
	    otaflash.WithChecksum(frame.CRC32Castagnoli),
	    otaflash.WithProgress(func(p otaflash.Progress) {
	        fmt.Printf("%.0f%%\n", p.Percentage())
	    }),
	)

A Session can be created explicitly to inspect its state and identifier
while or after it runs. Sessions are single use.

Error Handling:

A failed update returns an *UpdateError naming the stage that failed and
why:

	var ue *otaflash.UpdateError
	if errors.As(err, &ue) {
	    fmt.Println(ue.Stage, ue.Cause, ue.Attempts)
	}
	if errors.Is(err, otaflash.ErrDeviceRejected) {
	    // the device kept answering NACK
	}

Transport errors are classified with GetErrorType and IsRetryable. Timeouts,
corrupt responses and NACKs are retried; channel failures and cancellation end
the session immediately.

Debugging:

	otaflash.SetDebugEnabled(true)
*/
package otaflash
