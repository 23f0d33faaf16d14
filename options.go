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
	"fmt"
	"time"

	"github.com/ZaparooProject/go-otaflash/frame"
)

// SessionConfig contains configuration options for a Session
type SessionConfig struct {
	// Checksum stamps outgoing frames, validates responses and produces the
	// whole-image checksum in the header
	Checksum frame.Checksum
	// Progress is called after each acknowledged chunk (optional)
	Progress ProgressFunc
	// ResponseTimeout bounds the wait for each response frame
	ResponseTimeout time.Duration
	// RetryDelay is the pause before re-sending a packet
	RetryDelay time.Duration
	// MaxAttempts is the number of times a packet is sent before giving up
	MaxAttempts int
	// ChunkSize is the maximum Data payload
	ChunkSize int
}

// DefaultSessionConfig returns default session configuration
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		Checksum:        frame.CRC32IEEE,
		ResponseTimeout: 1 * time.Second,
		MaxAttempts:     3,
		ChunkSize:       frame.DefaultChunkSize,
	}
}

// Validate checks the configuration for values the protocol cannot use
func (c *SessionConfig) Validate() error {
	switch {
	case c.Checksum == nil:
		return fmt.Errorf("%w: checksum is nil", ErrInvalidParameter)
	case c.MaxAttempts < 1:
		return fmt.Errorf("%w: max attempts %d < 1", ErrInvalidParameter, c.MaxAttempts)
	case c.ResponseTimeout <= 0:
		return fmt.Errorf("%w: response timeout %v", ErrInvalidParameter, c.ResponseTimeout)
	case c.RetryDelay < 0:
		return fmt.Errorf("%w: retry delay %v", ErrInvalidParameter, c.RetryDelay)
	case c.ChunkSize < 1 || c.ChunkSize > frame.MaxDataSize:
		return fmt.Errorf("%w: chunk size %d outside 1..%d", ErrInvalidParameter, c.ChunkSize, frame.MaxDataSize)
	}
	return nil
}

// Option configures a Session
type Option func(*SessionConfig) error

// WithSessionConfig replaces the whole configuration
func WithSessionConfig(config *SessionConfig) Option {
	return func(c *SessionConfig) error {
		if config == nil {
			return fmt.Errorf("%w: nil session config", ErrInvalidParameter)
		}
		*c = *config
		return nil
	}
}

// WithMaxAttempts sets how many times each packet is sent before the update fails
func WithMaxAttempts(maxAttempts int) Option {
	return func(c *SessionConfig) error {
		if maxAttempts < 1 {
			return fmt.Errorf("%w: max attempts %d < 1", ErrInvalidParameter, maxAttempts)
		}
		c.MaxAttempts = maxAttempts
		return nil
	}
}

// WithResponseTimeout sets the wait for each response frame
func WithResponseTimeout(timeout time.Duration) Option {
	return func(c *SessionConfig) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: response timeout %v", ErrInvalidParameter, timeout)
		}
		c.ResponseTimeout = timeout
		return nil
	}
}

// WithRetryDelay sets the pause before a packet is re-sent
func WithRetryDelay(delay time.Duration) Option {
	return func(c *SessionConfig) error {
		if delay < 0 {
			return fmt.Errorf("%w: retry delay %v", ErrInvalidParameter, delay)
		}
		c.RetryDelay = delay
		return nil
	}
}

// WithChunkSize sets the maximum Data payload, 1..frame.MaxDataSize
func WithChunkSize(size int) Option {
	return func(c *SessionConfig) error {
		if size < 1 || size > frame.MaxDataSize {
			return fmt.Errorf("%w: chunk size %d outside 1..%d", ErrInvalidParameter, size, frame.MaxDataSize)
		}
		c.ChunkSize = size
		return nil
	}
}

// WithChecksum selects the checksum algorithm the device expects
func WithChecksum(sum frame.Checksum) Option {
	return func(c *SessionConfig) error {
		if sum == nil {
			return fmt.Errorf("%w: checksum is nil", ErrInvalidParameter)
		}
		c.Checksum = sum
		return nil
	}
}

// WithProgress sets the progress callback
func WithProgress(fn ProgressFunc) Option {
	return func(c *SessionConfig) error {
		c.Progress = fn
		return nil
	}
}
