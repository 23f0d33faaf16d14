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

// Command otasim emulates the OTA bootloader on a serial port so the host
// tool can be exercised without hardware, e.g. over a socat pty pair.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"go.bug.st/serial"

	"github.com/ZaparooProject/go-otaflash/frame"
	testutil "github.com/ZaparooProject/go-otaflash/internal/testing"
	"github.com/ZaparooProject/go-otaflash/transport/uart"
)

type config struct {
	devicePath *string
	checksum   *string
	baud       *int
	nackData   *int
	dropData   *int
}

func parseFlags() *config {
	cfg := &config{
		devicePath: flag.String("device", "", "Serial device to serve the bootloader on"),
		checksum:   flag.String("checksum", "crc32", "Checksum the emulated bootloader uses"),
		baud:       flag.Int("baud", uart.DefaultBaudRate, "UART baud rate"),
		nackData:   flag.Int("nack-data", 0, "Reject the first N data packets"),
		dropData:   flag.Int("drop-data", 0, "Swallow the responses to the first N data packets"),
	}
	flag.Parse()
	return cfg
}

func serve(ctx context.Context, cfg *config) error {
	sum, err := frame.ChecksumByName(*cfg.checksum)
	if err != nil {
		return err
	}

	port, err := serial.Open(*cfg.devicePath, &serial.Mode{
		BaudRate: *cfg.baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", *cfg.devicePath, err)
	}

	// Serve blocks in Read; closing the port is what ends it on shutdown.
	stop := context.AfterFunc(ctx, func() { _ = port.Close() })
	defer func() {
		if stop() {
			_ = port.Close()
		}
	}()

	dev := testutil.NewVirtualBootloader(sum)
	dev.SetFaults(testutil.Faults{
		Nack: map[frame.Type]int{frame.TypeData: *cfg.nackData},
		Drop: map[frame.Type]int{frame.TypeData: *cfg.dropData},
	})

	glog.Infof("emulating bootloader on %s (%s)", *cfg.devicePath, *cfg.checksum)
	err = dev.Serve(ctx, port)
	for i, img := range dev.Images() {
		glog.Infof("image %d: %d bytes, checksum 0x%08X", i+1, len(img), sum(img))
	}
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func main() {
	cfg := parseFlags()
	if *cfg.devicePath == "" {
		_, _ = fmt.Fprintln(os.Stderr, "-device is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := serve(ctx, cfg)
	stop()
	glog.Flush()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
