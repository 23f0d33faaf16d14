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

package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Decode errors. Each returned error wraps exactly one of these.
var (
	ErrFraming         = errors.New("frame markers missing or misplaced")
	ErrLengthMismatch  = errors.New("declared length does not match payload")
	ErrIntegrity       = errors.New("frame checksum mismatch")
	ErrPayloadTooLarge = errors.New("payload size out of range for packet type")
	ErrInvalidType     = errors.New("invalid packet type")
)

// Packet is a decoded frame.
type Packet struct {
	Payload  []byte
	Checksum uint32
	Type     Type
}

// Command returns the command code of a Command packet.
func (p *Packet) Command() (byte, error) {
	if p.Type != TypeCommand || len(p.Payload) != 1 {
		return 0, fmt.Errorf("%w: not a command packet (type %s, %d bytes)", ErrFraming, p.Type, len(p.Payload))
	}
	return p.Payload[0], nil
}

// Status returns the ACK/NACK code of a Response packet.
func (p *Packet) Status() (byte, error) {
	if p.Type != TypeResponse || len(p.Payload) != 1 {
		return 0, fmt.Errorf("%w: not a response packet (type %s, %d bytes)", ErrFraming, p.Type, len(p.Payload))
	}
	return p.Payload[0], nil
}

// Header returns the image metadata carried by a Header packet.
func (p *Packet) Header() (Header, error) {
	if p.Type != TypeHeader {
		return Header{}, fmt.Errorf("%w: not a header packet (type %s)", ErrFraming, p.Type)
	}
	return ParseHeader(p.Payload)
}

// Header is the image metadata sent before any Data packet.
type Header struct {
	ImageSize     uint32
	ImageChecksum uint32
	Reserved1     uint32
	Reserved2     uint32
}

// MarshalBinary encodes the header as four little-endian words.
func (h Header) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.ImageSize)
	binary.LittleEndian.PutUint32(b[4:8], h.ImageChecksum)
	binary.LittleEndian.PutUint32(b[8:12], h.Reserved1)
	binary.LittleEndian.PutUint32(b[12:16], h.Reserved2)
	return b, nil
}

// ParseHeader decodes a 16-byte header payload.
func ParseHeader(b []byte) (Header, error) {
	if len(b) != HeaderSize {
		return Header{}, fmt.Errorf("%w: header payload is %d bytes, want %d", ErrLengthMismatch, len(b), HeaderSize)
	}
	return Header{
		ImageSize:     binary.LittleEndian.Uint32(b[0:4]),
		ImageChecksum: binary.LittleEndian.Uint32(b[4:8]),
		Reserved1:     binary.LittleEndian.Uint32(b[8:12]),
		Reserved2:     binary.LittleEndian.Uint32(b[12:16]),
	}, nil
}

// Codec encodes and validates frames with a fixed checksum algorithm.
// A Codec holds no mutable state and is safe for concurrent use.
type Codec struct {
	sum Checksum
}

// NewCodec returns a codec using sum, or CRC32IEEE when sum is nil.
func NewCodec(sum Checksum) *Codec {
	if sum == nil {
		sum = CRC32IEEE
	}
	return &Codec{sum: sum}
}

// Checksum returns the codec's checksum function.
func (c *Codec) Checksum() Checksum {
	return c.sum
}

// Encode builds a complete frame:
//
//	SOF | type | length (LE16) | payload | checksum (LE32) | EOF
//
// The checksum covers type, length and payload.
func (c *Codec) Encode(t Type, payload []byte) ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: 0x%02X", ErrInvalidType, byte(t))
	}
	lo, hi := maxPayload(t)
	if len(payload) < lo || len(payload) > hi {
		return nil, fmt.Errorf("%w: %s packet with %d bytes (allowed %d..%d)",
			ErrPayloadTooLarge, t, len(payload), lo, hi)
	}

	n := len(payload)
	buf := make([]byte, n+Overhead)
	buf[0] = SOF
	buf[offType] = byte(t)
	binary.LittleEndian.PutUint16(buf[offLength:], uint16(n))
	copy(buf[offPayload:], payload)
	binary.LittleEndian.PutUint32(buf[offPayload+n:], c.sum(buf[offType:offPayload+n]))
	buf[len(buf)-1] = EOF
	return buf, nil
}

// EncodeCommand builds a Command frame.
func (c *Codec) EncodeCommand(cmd byte) ([]byte, error) {
	return c.Encode(TypeCommand, []byte{cmd})
}

// EncodeHeader builds a Header frame.
func (c *Codec) EncodeHeader(h Header) ([]byte, error) {
	payload, err := h.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return c.Encode(TypeHeader, payload)
}

// EncodeData builds a Data frame carrying one image chunk.
func (c *Codec) EncodeData(chunk []byte) ([]byte, error) {
	return c.Encode(TypeData, chunk)
}

// EncodeResponse builds a Response frame.
func (c *Codec) EncodeResponse(status byte) ([]byte, error) {
	return c.Encode(TypeResponse, []byte{status})
}

// Decode validates a complete frame and returns its packet. Checks run in
// order: markers and type, then length, then checksum. The input slice is
// never modified and the returned payload does not alias it.
func (c *Codec) Decode(b []byte) (*Packet, error) {
	if len(b) < Overhead {
		return nil, fmt.Errorf("%w: frame is %d bytes, minimum %d", ErrFraming, len(b), Overhead)
	}
	if b[0] != SOF {
		return nil, fmt.Errorf("%w: got SOF 0x%02X", ErrFraming, b[0])
	}
	if b[len(b)-1] != EOF {
		return nil, fmt.Errorf("%w: got EOF 0x%02X", ErrFraming, b[len(b)-1])
	}
	t := Type(b[offType])
	if !t.Valid() {
		return nil, fmt.Errorf("%w: unknown type 0x%02X", ErrFraming, byte(t))
	}

	declared := int(binary.LittleEndian.Uint16(b[offLength:]))
	available := len(b) - Overhead
	if declared != available {
		return nil, fmt.Errorf("%w: declared %d, available %d", ErrLengthMismatch, declared, available)
	}

	stored := binary.LittleEndian.Uint32(b[offPayload+declared:])
	computed := c.sum(b[offType : offPayload+declared])
	if stored != computed {
		return nil, fmt.Errorf("%w: stored 0x%08X, computed 0x%08X", ErrIntegrity, stored, computed)
	}

	payload := make([]byte, declared)
	copy(payload, b[offPayload:offPayload+declared])
	return &Packet{Type: t, Payload: payload, Checksum: stored}, nil
}

// ReadPacket reads and validates one frame from a byte stream. It is the
// receiving side's counterpart to Encode.
func (c *Codec) ReadPacket(r io.Reader) (*Packet, error) {
	head := make([]byte, offPayload)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, err
	}
	if head[0] != SOF {
		return nil, fmt.Errorf("%w: got SOF 0x%02X", ErrFraming, head[0])
	}
	n := int(binary.LittleEndian.Uint16(head[offLength:]))
	if n > MaxDataSize {
		return nil, fmt.Errorf("%w: declared %d exceeds %d", ErrLengthMismatch, n, MaxDataSize)
	}

	buf := make([]byte, n+Overhead)
	copy(buf, head)
	if _, err := io.ReadFull(r, buf[offPayload:]); err != nil {
		return nil, err
	}
	return c.Decode(buf)
}
