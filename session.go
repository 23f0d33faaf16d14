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

package otaflash

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ZaparooProject/go-otaflash/frame"
	"github.com/ZaparooProject/go-otaflash/internal/transport"
)

// Session drives one firmware update attempt over a Transport:
//
//	Start → Header → Data × ceil(size/chunk) → End
//
// Every packet is answered by exactly one Response frame before the next one
// is sent. A Session is single-use and owns its Transport for the duration of
// Run.
//
// Thread Safety: Session is NOT thread-safe. Progress callbacks run on the
// goroutine that called Run.
type Session struct {
	transport Transport
	image     *Image
	config    *SessionConfig
	codec     *frame.Codec
	id        string
	state     State
	bytesSent int
	used      bool
}

// NewSession creates a session that will deliver img over t.
func NewSession(t Transport, img *Image, opts ...Option) (*Session, error) {
	if t == nil {
		return nil, fmt.Errorf("%w: nil transport", ErrInvalidParameter)
	}
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", ErrInvalidParameter)
	}

	config := DefaultSessionConfig()
	for _, opt := range opts {
		if err := opt(config); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Session{
		transport: t,
		image:     img,
		config:    config,
		codec:     frame.NewCodec(config.Checksum),
		id:        uuid.NewString(),
		state:     StateIdle,
	}, nil
}

// Update creates a session and runs it to completion.
func Update(ctx context.Context, t Transport, img *Image, opts ...Option) error {
	s, err := NewSession(t, img, opts...)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}

// ID returns the session identifier used in logs and the journal.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	return s.state
}

// BytesSent returns the number of image bytes the device has acknowledged.
func (s *Session) BytesSent() int {
	return s.bytesSent
}

// Config returns a copy of the session configuration.
func (s *Session) Config() SessionConfig {
	return *s.config
}

// Run performs the update. It returns nil once the device has acknowledged
// the End command, otherwise an *UpdateError naming the failed step and its
// cause. Cancelling ctx sends an Abort command and closes the transport.
func (s *Session) Run(ctx context.Context) error {
	if s.used {
		return ErrSessionUsed
	}
	s.used = true

	total := s.image.Size()
	chunks := s.image.Chunks(s.config.ChunkSize)
	header := s.image.Header(s.config.Checksum)

	debugf("session %s: %d bytes in %d chunks, image checksum 0x%08X",
		s.id, total, len(chunks), header.ImageChecksum)

	s.transition(StateStarting)
	startFrame, err := s.codec.EncodeCommand(frame.CmdStart)
	if err != nil {
		return s.fail(ctx, 0, err)
	}
	if err := s.exchange(ctx, "start", startFrame); err != nil {
		return err
	}

	s.transition(StateAwaitHeaderAck)
	headerFrame, err := s.codec.EncodeHeader(header)
	if err != nil {
		return s.fail(ctx, 0, err)
	}
	if err := s.exchange(ctx, "header", headerFrame); err != nil {
		return err
	}

	s.transition(StateSendingData)
	for i, chunk := range chunks {
		dataFrame, err := s.codec.EncodeData(chunk)
		if err != nil {
			return s.fail(ctx, 0, err)
		}
		if err := s.exchange(ctx, fmt.Sprintf("data %d/%d", i+1, len(chunks)), dataFrame); err != nil {
			return err
		}
		s.bytesSent += len(chunk)
		s.report(i+1, len(chunks), total)
	}

	s.transition(StateAwaitEndAck)
	endFrame, err := s.codec.EncodeCommand(frame.CmdEnd)
	if err != nil {
		return s.fail(ctx, 0, err)
	}
	if err := s.exchange(ctx, "end", endFrame); err != nil {
		return err
	}

	s.transition(StateComplete)
	s.report(len(chunks), len(chunks), total)
	return nil
}

// exchange sends one encoded packet and waits for its acknowledgement,
// re-sending the same bytes on NACK, timeout or a malformed response.
func (s *Session) exchange(ctx context.Context, what string, encoded []byte) error {
	config := transport.RetryConfig{
		Description: what,
		MaxAttempts: s.config.MaxAttempts,
		RetryDelay:  s.config.RetryDelay,
		OnRetry: func(attempt int, reason error) error {
			debugf("session %s: %s attempt %d/%d after: %v", s.id, what, attempt, s.config.MaxAttempts, reason)
			if err := flushInput(s.transport); err != nil {
				return NewTransportError("FlushInput", "", err, ErrorTypePermanent)
			}
			return nil
		},
	}

	_, attempts, err := transport.WithRetry(ctx, config, func(int) (struct{}, bool, error) {
		retry, err := s.attempt(ctx, encoded)
		return struct{}{}, retry, err
	})
	if err != nil {
		return s.fail(ctx, attempts, err)
	}
	return nil
}

// attempt performs one write and one response read. The bool reports whether
// the failure is response-level and worth another attempt.
func (s *Session) attempt(ctx context.Context, encoded []byte) (bool, error) {
	if err := s.transport.Write(encoded); err != nil {
		return false, err
	}

	raw, err := s.transport.ReadFull(ctx, frame.ResponseFrameSize, s.config.ResponseTimeout)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, fmt.Errorf("waiting for response: %w", ctxErr)
		}
		return GetErrorType(err) == ErrorTypeTimeout, err
	}

	pkt, err := s.codec.Decode(raw)
	if err != nil {
		return true, fmt.Errorf("invalid response frame: %w", err)
	}
	status, err := pkt.Status()
	if err != nil {
		return true, fmt.Errorf("%w: %w", ErrUnexpectedResponse, err)
	}

	switch status {
	case frame.StatusAck:
		return false, nil
	case frame.StatusNack:
		return true, ErrDeviceRejected
	default:
		return true, fmt.Errorf("%w: status 0x%02X", ErrUnexpectedResponse, status)
	}
}

func (s *Session) transition(next State) {
	debugf("session %s: %s -> %s", s.id, s.state, next)
	s.state = next
}

// fail moves the session to StateFailed. On cancellation it tells the device
// to abandon the update and releases the transport.
func (s *Session) fail(ctx context.Context, attempts int, err error) error {
	stage := s.state
	cause := classifyFailure(err)
	if cause == CauseNone {
		cause = CauseTransport
	}
	s.transition(StateFailed)

	if cause == CauseCancelled || ctx.Err() != nil {
		cause = CauseCancelled
		s.abort(stage)
	}

	return &UpdateError{Err: err, Stage: stage, Cause: cause, Attempts: attempts}
}

// abort sends a best-effort Abort command, without waiting for a response,
// then closes the transport.
func (s *Session) abort(stage State) {
	if s.transport.IsConnected() {
		if pkt, err := s.codec.EncodeCommand(frame.CmdAbort); err == nil {
			if err := s.transport.Write(pkt); err != nil && !errors.Is(err, ErrTransportClosed) {
				debugf("session %s: abort not delivered: %v", s.id, err)
			}
		}
	}
	if err := s.transport.Close(); err != nil {
		debugf("session %s: close after abort: %v", s.id, err)
	}
	debugln("session ", s.id, ": aborted while ", stage)
}

func (s *Session) report(chunk, totalChunks, totalBytes int) {
	if s.config.Progress == nil {
		return
	}
	s.config.Progress(Progress{
		SessionID:   s.id,
		State:       s.state,
		BytesSent:   s.bytesSent,
		TotalBytes:  totalBytes,
		Chunk:       chunk,
		TotalChunks: totalChunks,
	})
}
