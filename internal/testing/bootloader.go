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

package testing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ZaparooProject/go-otaflash"
	"github.com/ZaparooProject/go-otaflash/frame"
)

// Phase is the device-side download state
type Phase int

const (
	PhaseAwaitStart Phase = iota
	PhaseAwaitHeader
	PhaseReceiving
	PhaseAwaitEnd
)

// String returns the name of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseAwaitStart:
		return "await start"
	case PhaseAwaitHeader:
		return "await header"
	case PhaseReceiving:
		return "receiving"
	case PhaseAwaitEnd:
		return "await end"
	default:
		return "unknown"
	}
}

// Faults scripts misbehaviour per packet type. Each counter is consumed by
// the first matching packets, in this order of precedence.
type Faults struct {
	// Nack rejects the packet without processing it
	Nack map[frame.Type]int
	// Drop processes the packet but never answers
	Drop map[frame.Type]int
	// Corrupt processes the packet and answers with a damaged ACK
	Corrupt map[frame.Type]int
}

// VirtualBootloader emulates the device end of the update protocol. It can be
// used directly as an otaflash.Transport or driven over a byte stream with
// Serve.
//
// After a response was dropped or corrupted by a fault, a re-send of the same
// packet is acknowledged again without being reprocessed, so the host's retry
// finds the device where it left it. This includes End: the accepted image is
// kept and the repeated End is acknowledged, not rejected as out of order.
type VirtualBootloader struct {
	codec    *frame.Codec
	faults   Faults
	last     *frame.Packet
	pending  [][]byte
	image    []byte
	images   [][]byte
	received []frame.Type
	header   frame.Header
	phase    Phase
	aborts   int
	mu       sync.Mutex
	closed   bool
	lostAck  bool
}

// NewVirtualBootloader creates an emulator using sum for frames and the
// whole-image check; nil selects CRC-32/IEEE.
func NewVirtualBootloader(sum frame.Checksum) *VirtualBootloader {
	return &VirtualBootloader{codec: frame.NewCodec(sum)}
}

// SetFaults replaces the fault script
func (v *VirtualBootloader) SetFaults(f Faults) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.faults = Faults{
		Nack:    cloneCounts(f.Nack),
		Drop:    cloneCounts(f.Drop),
		Corrupt: cloneCounts(f.Corrupt),
	}
}

func cloneCounts(m map[frame.Type]int) map[frame.Type]int {
	out := make(map[frame.Type]int, len(m))
	for k, n := range m {
		out[k] = n
	}
	return out
}

// consume decrements the counter for t and reports whether it was positive
func consume(m map[frame.Type]int, t frame.Type) bool {
	if m[t] > 0 {
		m[t]--
		return true
	}
	return false
}

// Handle processes one raw frame and returns the raw response, or nil when the
// device stays silent.
func (v *VirtualBootloader) Handle(raw []byte) []byte {
	v.mu.Lock()
	defer v.mu.Unlock()

	pkt, err := v.codec.Decode(raw)
	if err != nil {
		return v.respond(frame.StatusNack)
	}
	return v.handlePacket(pkt)
}

func (v *VirtualBootloader) handlePacket(pkt *frame.Packet) []byte {
	v.received = append(v.received, pkt.Type)

	if cmd, err := pkt.Command(); err == nil && cmd == frame.CmdAbort {
		v.reset()
		v.aborts++
		return nil
	}

	if consume(v.faults.Nack, pkt.Type) {
		return v.respond(frame.StatusNack)
	}

	status := frame.StatusAck
	if !v.lostAck || !v.isRepeat(pkt) {
		// process may reset the device (accepted End); last is recorded after
		// so a repeated End still matches.
		status = v.process(pkt)
		if status == frame.StatusAck {
			v.last = pkt
		}
	}
	v.lostAck = false

	if status == frame.StatusAck {
		if consume(v.faults.Drop, pkt.Type) {
			v.lostAck = true
			return nil
		}
		if consume(v.faults.Corrupt, pkt.Type) {
			v.lostAck = true
			resp := v.respond(frame.StatusAck)
			resp[len(resp)-2] ^= 0xFF
			return resp
		}
	}
	return v.respond(status)
}

func (v *VirtualBootloader) isRepeat(pkt *frame.Packet) bool {
	return v.last != nil && v.last.Type == pkt.Type && bytes.Equal(v.last.Payload, pkt.Payload)
}

func (v *VirtualBootloader) process(pkt *frame.Packet) byte {
	switch v.phase {
	case PhaseAwaitStart:
		if cmd, err := pkt.Command(); err == nil && cmd == frame.CmdStart {
			v.phase = PhaseAwaitHeader
			return frame.StatusAck
		}

	case PhaseAwaitHeader:
		if h, err := pkt.Header(); err == nil {
			v.header = h
			v.image = make([]byte, 0, h.ImageSize)
			v.phase = PhaseReceiving
			if h.ImageSize == 0 {
				v.phase = PhaseAwaitEnd
			}
			return frame.StatusAck
		}

	case PhaseReceiving:
		if pkt.Type == frame.TypeData && len(v.image)+len(pkt.Payload) <= int(v.header.ImageSize) {
			v.image = append(v.image, pkt.Payload...)
			if len(v.image) == int(v.header.ImageSize) {
				v.phase = PhaseAwaitEnd
			}
			return frame.StatusAck
		}

	case PhaseAwaitEnd:
		cmd, err := pkt.Command()
		if err != nil || cmd != frame.CmdEnd {
			break
		}
		if v.codec.Checksum()(v.image) != v.header.ImageChecksum {
			return frame.StatusNack
		}
		v.images = append(v.images, v.image)
		v.reset()
		return frame.StatusAck
	}

	return frame.StatusNack
}

// reset returns to waiting for Start and forgets any partial image
func (v *VirtualBootloader) reset() {
	v.phase = PhaseAwaitStart
	v.last = nil
	v.lostAck = false
	v.header = frame.Header{}
	v.image = nil
}

func (v *VirtualBootloader) respond(status byte) []byte {
	resp, err := v.codec.EncodeResponse(status)
	if err != nil {
		panic(err) // one-byte payloads always encode
	}
	return resp
}

// Phase returns the current device state
func (v *VirtualBootloader) Phase() Phase {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.phase
}

// Images returns every image accepted at End, in order
func (v *VirtualBootloader) Images() [][]byte {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([][]byte, len(v.images))
	for i, img := range v.images {
		out[i] = append([]byte(nil), img...)
	}
	return out
}

// Received returns the type of every well-formed packet seen
func (v *VirtualBootloader) Received() []frame.Type {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]frame.Type(nil), v.received...)
}

// Aborts returns the number of Abort commands seen
func (v *VirtualBootloader) Aborts() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.aborts
}

// Write implements otaflash.Transport. Each call carries one frame.
func (v *VirtualBootloader) Write(p []byte) error {
	if v.isClosed() {
		return otaflash.NewClosedError("Write", "virtual")
	}
	if resp := v.Handle(p); resp != nil {
		v.mu.Lock()
		v.pending = append(v.pending, resp)
		v.mu.Unlock()
	}
	return nil
}

// ReadFull implements otaflash.Transport. Responses are produced
// synchronously by Write, so an empty queue times out at once.
func (v *VirtualBootloader) ReadFull(ctx context.Context, n int, _ time.Duration) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ReadFull: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, otaflash.NewClosedError("ReadFull", "virtual")
	}
	if len(v.pending) == 0 {
		return nil, otaflash.NewTimeoutError("ReadFull", "virtual")
	}
	resp := v.pending[0]
	v.pending = v.pending[1:]
	if len(resp) < n {
		return nil, otaflash.NewTimeoutError("ReadFull", "virtual")
	}
	return resp[:n], nil
}

// FlushInput discards responses not yet read
func (v *VirtualBootloader) FlushInput() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pending = nil
	return nil
}

// Close implements otaflash.Transport. The device keeps its state.
func (v *VirtualBootloader) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.pending = nil
	return nil
}

// Reopen makes a closed emulator usable as a transport again
func (v *VirtualBootloader) Reopen() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = false
}

// IsConnected implements otaflash.Transport
func (v *VirtualBootloader) IsConnected() bool {
	return !v.isClosed()
}

// Type implements otaflash.Transport
func (*VirtualBootloader) Type() otaflash.TransportType {
	return otaflash.TransportMock
}

func (v *VirtualBootloader) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

// Serve runs the emulator over a byte stream until ctx is done or rw returns
// EOF. A blocked read is only interrupted by closing rw. Frames that fail
// framing or integrity checks are NACKed and the stream is resynchronised on
// the next SOF.
func (v *VirtualBootloader) Serve(ctx context.Context, rw io.ReadWriter) error {
	r := &sofReader{r: rw}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pkt, err := v.codec.ReadPacket(r)
		var resp []byte
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		case errors.Is(err, frame.ErrFraming), errors.Is(err, frame.ErrLengthMismatch),
			errors.Is(err, frame.ErrIntegrity):
			r.resync = true
			v.mu.Lock()
			resp = v.respond(frame.StatusNack)
			v.mu.Unlock()
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("reading packet: %w", err)
		default:
			v.mu.Lock()
			resp = v.handlePacket(pkt)
			v.mu.Unlock()
		}

		if resp == nil {
			continue
		}
		if _, err := rw.Write(resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
}

// sofReader skips bytes up to the next SOF after a framing error
type sofReader struct {
	r      io.Reader
	resync bool
}

func (s *sofReader) Read(p []byte) (int, error) {
	if !s.resync || len(p) == 0 {
		return s.r.Read(p)
	}
	one := make([]byte, 1)
	for {
		if _, err := io.ReadFull(s.r, one); err != nil {
			return 0, err
		}
		if one[0] == frame.SOF {
			s.resync = false
			p[0] = frame.SOF
			return 1, nil
		}
	}
}
