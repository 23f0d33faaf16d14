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

// Command otaflash pushes a firmware image to an OTA bootloader over UART or
// I2C.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang/glog"

	"github.com/ZaparooProject/go-otaflash"
	"github.com/ZaparooProject/go-otaflash/detection"
	"github.com/ZaparooProject/go-otaflash/frame"
	"github.com/ZaparooProject/go-otaflash/journal"
	"github.com/ZaparooProject/go-otaflash/transport/i2c"
	"github.com/ZaparooProject/go-otaflash/transport/uart"
)

// Exit codes
const (
	exitOK = iota
	exitInternal
	exitUsage
	exitTransportOpen
	exitFile
	exitRejected
	exitTimeout
	exitCorrupt
	exitTransportIO
	exitCancelled
)

type config struct {
	devicePath  *string
	firmware    *string
	checksum    *string
	journalPath *string
	baud        *int
	i2cAddr     *uint
	retries     *int
	chunk       *int
	timeout     *time.Duration
	retryDelay  *time.Duration
	wait        *time.Duration
	list        *bool
	debug       *bool
	progress    *bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*config, error) {
	cfg := &config{
		devicePath: fs.String("device", "",
			"Serial device path (e.g., /dev/ttyUSB0 or COM3), or an I2C bus name containing \"i2c\""),
		firmware: fs.String("firmware", "", "Firmware image to flash"),
		checksum: fs.String("checksum", "crc32",
			"Frame and image checksum the bootloader expects ("+strings.Join(frame.ChecksumNames(), ", ")+")"),
		journalPath: fs.String("journal", "", "Record the update in this sqlite journal (optional)"),
		baud:        fs.Int("baud", uart.DefaultBaudRate, "UART baud rate"),
		i2cAddr:     fs.Uint("i2c-addr", i2c.DefaultAddress, "I2C slave address of the bootloader"),
		retries:     fs.Int("retries", 3, "Attempts per packet before giving up"),
		chunk:       fs.Int("chunk", frame.DefaultChunkSize, "Data packet payload size in bytes"),
		timeout:     fs.Duration("timeout", time.Second, "Wait for each response"),
		retryDelay:  fs.Duration("retry-delay", 0, "Pause before re-sending a packet"),
		wait:        fs.Duration("wait", 0, "Wait up to this long for the serial port to appear"),
		list:        fs.Bool("list", false, "List candidate serial ports and I2C buses, then exit"),
		debug:       fs.Bool("debug", false, "Enable debug output"),
		progress:    fs.Bool("progress", true, "Show a progress bar"),
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *config) validate() error {
	switch {
	case *cfg.list:
		return nil
	case *cfg.devicePath == "":
		return errors.New("-device is required")
	case *cfg.firmware == "":
		return errors.New("-firmware is required")
	case *cfg.i2cAddr > 0x7F:
		return fmt.Errorf("-i2c-addr 0x%X is not a 7-bit address", *cfg.i2cAddr)
	case *cfg.retries < 1:
		return fmt.Errorf("-retries %d must be at least 1", *cfg.retries)
	case *cfg.chunk < 1 || *cfg.chunk > frame.MaxDataSize:
		return fmt.Errorf("-chunk %d outside 1..%d", *cfg.chunk, frame.MaxDataSize)
	case *cfg.timeout <= 0:
		return fmt.Errorf("-timeout %v must be positive", *cfg.timeout)
	case *cfg.retryDelay < 0:
		return fmt.Errorf("-retry-delay %v must not be negative", *cfg.retryDelay)
	case *cfg.wait < 0:
		return fmt.Errorf("-wait %v must not be negative", *cfg.wait)
	}
	return nil
}

func (cfg *config) sessionOptions(sum frame.Checksum) []otaflash.Option {
	return []otaflash.Option{
		otaflash.WithChecksum(sum),
		otaflash.WithMaxAttempts(*cfg.retries),
		otaflash.WithChunkSize(*cfg.chunk),
		otaflash.WithResponseTimeout(*cfg.timeout),
		otaflash.WithRetryDelay(*cfg.retryDelay),
	}
}

// opener creates the transport for cfg; replaced in tests
type opener func(cfg *config) (otaflash.Transport, error)

// exitCode maps the result of an update to the process exit status
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if errors.Is(err, otaflash.ErrFile) {
		return exitFile
	}

	switch otaflash.CauseOf(err) {
	case otaflash.CauseDeviceRejected:
		return exitRejected
	case otaflash.CauseTimeout:
		return exitTimeout
	case otaflash.CauseCorruptResponse:
		return exitCorrupt
	case otaflash.CauseTransport:
		return exitTransportIO
	case otaflash.CauseCancelled:
		return exitCancelled
	case otaflash.CauseNone:
		return exitInternal
	default:
		return exitInternal
	}
}

func run(ctx context.Context, cfg *config, open opener, stdout, stderr io.Writer) int {
	if err := cfg.validate(); err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n", err)
		return exitUsage
	}
	if *cfg.debug {
		otaflash.SetDebugEnabled(true)
	}
	if *cfg.list {
		return listPorts(stdout, stderr)
	}

	sum, err := frame.ChecksumByName(*cfg.checksum)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n", err)
		return exitUsage
	}

	img, err := otaflash.OpenImage(*cfg.firmware)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n", err)
		return exitFile
	}

	if *cfg.wait > 0 && !isI2C(*cfg.devicePath) {
		if err := detection.WaitForPort(ctx, *cfg.devicePath, *cfg.wait); err != nil {
			_, _ = fmt.Fprintf(stderr, "%v\n", err)
			if ctx.Err() != nil {
				return exitCancelled
			}
			return exitTransportOpen
		}
	}

	t, err := open(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Failed to open %s: %v\n", *cfg.devicePath, err)
		return exitTransportOpen
	}
	defer func() { _ = t.Close() }()

	opts := cfg.sessionOptions(sum)
	if *cfg.progress {
		opts = append(opts, otaflash.WithProgress(newProgressBar(stderr, img.Size())))
	}

	session, err := otaflash.NewSession(t, img, opts...)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n", err)
		return exitUsage
	}

	var jdb *journal.DB
	if *cfg.journalPath != "" {
		jdb, err = journal.Open(*cfg.journalPath)
		if err != nil {
			// The journal is bookkeeping; never block a flash on it.
			glog.Warningf("journal disabled: %v", err)
		} else {
			defer func() { _ = jdb.Close() }()
			beginJournal(jdb, cfg, session, img, sum)
		}
	}

	_, _ = fmt.Fprintf(stdout, "Flashing %s (%d bytes, %d chunks) to %s\n",
		*cfg.firmware, img.Size(), img.NumChunks(*cfg.chunk), *cfg.devicePath)
	glog.Infof("session %s: flashing %s to %s", session.ID(), *cfg.firmware, *cfg.devicePath)

	runErr := session.Run(ctx)

	if jdb != nil {
		if err := jdb.Finish(session.ID(), journal.OutcomeOf(runErr, session.BytesSent())); err != nil {
			glog.Warningf("journal: %v", err)
		}
	}

	if runErr != nil {
		_, _ = fmt.Fprintf(stderr, "\n%v\n", runErr)
		glog.Errorf("session %s: %v", session.ID(), runErr)
		return exitCode(runErr)
	}

	_, _ = fmt.Fprintln(stdout, "Update complete")
	glog.Infof("session %s: complete", session.ID())
	return exitOK
}

func beginJournal(jdb *journal.DB, cfg *config, s *otaflash.Session, img *otaflash.Image, sum frame.Checksum) {
	err := jdb.Begin(journal.Attempt{
		SessionID:     s.ID(),
		Device:        *cfg.devicePath,
		Firmware:      *cfg.firmware,
		Checksum:      *cfg.checksum,
		ImageSize:     img.Size(),
		ChunkSize:     *cfg.chunk,
		ImageChecksum: img.Checksum(sum),
	})
	if err != nil {
		glog.Warningf("journal: %v", err)
	}
}

func main() {
	cfg, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(exitUsage)
	}
	if *cfg.debug {
		_ = flag.Set("logtostderr", "true")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, cfg, openTransport, os.Stdout, os.Stderr)
	stop()
	glog.Flush()
	os.Exit(code)
}
