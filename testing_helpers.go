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
	"fmt"
	"sync"
	"time"
)

// MockTransport is a scripted Transport for tests. Each ReadFull consumes one
// queued response; a nil entry, or an empty queue, behaves like a device that
// never answered. A ResponseFunc, when set, takes precedence over the queue and
// computes the response from the last packet written.
type MockTransport struct {
	ResponseFunc func(packet []byte) ([]byte, error)
	writeErr     error
	readErr      error
	blockChan    chan struct{}
	responses    [][]byte
	writes       [][]byte
	flushes      int
	mu           sync.Mutex
	blocked      bool
	closed       bool
}

// NewMockTransport creates a mock transport with the given queued responses
func NewMockTransport(responses ...[]byte) *MockTransport {
	return &MockTransport{
		responses: responses,
		blockChan: make(chan struct{}),
	}
}

// QueueResponse appends a response to the queue
func (m *MockTransport) QueueResponse(resp []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
}

// QueueTimeout appends a read that will time out
func (m *MockTransport) QueueTimeout() {
	m.QueueResponse(nil)
}

// SetResponseFunc configures a dynamic response function
func (m *MockTransport) SetResponseFunc(fn func(packet []byte) ([]byte, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResponseFunc = fn
}

// SetWriteError makes every following Write fail with err
func (m *MockTransport) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// SetReadError makes every following ReadFull fail with err
func (m *MockTransport) SetReadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// Block makes ReadFull wait until the context is done, Unblock is called, or
// the transport is closed.
func (m *MockTransport) Block() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked = true
}

// Unblock releases blocked readers and stops blocking new ones
func (m *MockTransport) Unblock() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.blocked && !m.closed {
		m.blocked = false
		close(m.blockChan)
		m.blockChan = make(chan struct{})
	}
}

// Write records p
func (m *MockTransport) Write(p []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return NewClosedError("Write", "mock")
	}
	if m.writeErr != nil {
		return NewWriteError("Write", "mock", m.writeErr)
	}
	m.writes = append(m.writes, append([]byte(nil), p...))
	return nil
}

// ReadFull returns the next scripted response
func (m *MockTransport) ReadFull(ctx context.Context, n int, _ time.Duration) ([]byte, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, NewClosedError("ReadFull", "mock")
	}
	if m.blocked {
		blockChan := m.blockChan
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("ReadFull: %w", ctx.Err())
		case <-blockChan:
		}
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, NewClosedError("ReadFull", "mock")
		}
	}
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("ReadFull: %w", err)
	}
	if m.readErr != nil {
		return nil, NewReadError("ReadFull", "mock", m.readErr)
	}

	var resp []byte
	if m.ResponseFunc != nil {
		var last []byte
		if len(m.writes) > 0 {
			last = m.writes[len(m.writes)-1]
		}
		var err error
		resp, err = m.ResponseFunc(last)
		if err != nil {
			return nil, err
		}
	} else if len(m.responses) > 0 {
		resp = m.responses[0]
		m.responses = m.responses[1:]
	}

	// A short response is what a real link reports as a timeout.
	if len(resp) < n {
		return nil, NewTimeoutError("ReadFull", "mock")
	}
	return append([]byte(nil), resp[:n]...), nil
}

// FlushInput counts flushes
func (m *MockTransport) FlushInput() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushes++
	return nil
}

// Close unblocks all operations and marks transport as closed
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.blockChan)
	}
	return nil
}

// IsConnected returns false once closed
func (m *MockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

// Type returns TransportMock
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// Writes returns a copy of every packet written so far
func (m *MockTransport) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	for i, w := range m.writes {
		out[i] = append([]byte(nil), w...)
	}
	return out
}

// Flushes returns the number of FlushInput calls
func (m *MockTransport) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}
