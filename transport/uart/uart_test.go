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

package uart

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ZaparooProject/go-otaflash"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakePort hands out queued byte chunks, one per Read, and sleeps out the
// read timeout when nothing is queued, like a real port.
type fakePort struct {
	writeErr error
	readErr  error
	chunks   [][]byte
	written  []byte
	maxWrite int
	resets   int
	closes   int
	timeout  time.Duration
	mu       sync.Mutex
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	if f.readErr != nil {
		f.mu.Unlock()
		return 0, f.readErr
	}
	if len(f.chunks) == 0 {
		d := f.timeout
		f.mu.Unlock()
		time.Sleep(d)
		return 0, nil
	}
	defer f.mu.Unlock()
	n := copy(p, f.chunks[0])
	if n < len(f.chunks[0]) {
		f.chunks[0] = f.chunks[0][n:]
	} else {
		f.chunks = f.chunks[1:]
	}
	return n, nil
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	n := len(p)
	if f.maxWrite > 0 && n > f.maxWrite {
		n = f.maxWrite
	}
	f.written = append(f.written, p[:n]...)
	return n, nil
}

func (f *fakePort) SetReadTimeout(d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeout = d
	return nil
}

func (f *fakePort) ResetInputBuffer() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.chunks = nil
	return nil
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func newFakeTransport(f *fakePort) *Transport {
	return &Transport{port: f, portName: "/dev/ttyFAKE0"}
}

// TestTransportCreation verifies basic transport creation and properties
func TestTransportCreation(t *testing.T) {
	t.Parallel()

	testPortName := "/dev/ttyUSB0"
	transport := &Transport{
		portName: testPortName,
	}

	assert.Equal(t, testPortName, transport.PortName())
	assert.Equal(t, otaflash.TransportUART, transport.Type())
	assert.False(t, transport.IsConnected(), "uninitialized transport must not report connected")

	err := transport.Write([]byte{0xAA})
	require.ErrorIs(t, err, otaflash.ErrNotConnected)
	_, err = transport.ReadFull(context.Background(), 1, time.Millisecond)
	require.ErrorIs(t, err, otaflash.ErrNotConnected)
	assert.NoError(t, transport.Close())
}

func TestReadFullAssemblesChunks(t *testing.T) {
	t.Parallel()

	f := &fakePort{chunks: [][]byte{{0xAA, 0x03}, {0x01}, {0x00, 0x00, 0x11, 0x22, 0x33, 0x44, 0xBB}}}
	tr := newFakeTransport(f)

	got, err := tr.ReadFull(context.Background(), 10, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0x03, 0x01, 0x00, 0x00, 0x11, 0x22, 0x33, 0x44, 0xBB}, got)
	assert.LessOrEqual(t, f.timeout, pollInterval)
}

func TestReadFullLeavesExtraBytes(t *testing.T) {
	t.Parallel()

	f := &fakePort{chunks: [][]byte{{1, 2, 3, 4}}}
	tr := newFakeTransport(f)

	got, err := tr.ReadFull(context.Background(), 3, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	got, err = tr.ReadFull(context.Background(), 1, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{4}, got)
}

func TestReadFullTimeout(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(&fakePort{chunks: [][]byte{{0xAA}}})

	start := time.Now()
	_, err := tr.ReadFull(context.Background(), 10, 30*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, otaflash.ErrorTypeTimeout, otaflash.GetErrorType(err))
	assert.True(t, otaflash.IsRetryable(err))
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

// TestReadFullContextCancelled verifies that context cancellation is checked
// before the port is touched
func TestReadFullContextCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	transport := &Transport{}

	start := time.Now()
	_, err := transport.ReadFull(ctx, 10, time.Second)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, context.Canceled)
	if elapsed > 10*time.Millisecond {
		t.Errorf("Operation took too long: %v, expected < 10ms for immediate cancellation", elapsed)
	}
}

// TestReadFullContextTimeoutDuringRead verifies that a context deadline
// interrupts a read that would otherwise wait much longer
func TestReadFullContextTimeoutDuringRead(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	tr := newFakeTransport(&fakePort{})

	start := time.Now()
	_, err := tr.ReadFull(ctx, 10, 10*time.Second)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	if elapsed < 40*time.Millisecond || elapsed > 500*time.Millisecond {
		t.Errorf("Operation timing unexpected: %v, expected close to the 50ms context deadline", elapsed)
	}
}

func TestReadFullPortError(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(&fakePort{readErr: errors.New("device disconnected")})
	_, err := tr.ReadFull(context.Background(), 1, time.Second)
	require.ErrorIs(t, err, otaflash.ErrTransportRead)
	assert.False(t, otaflash.IsRetryable(err))
}

func TestWriteLoopsOverShortWrites(t *testing.T) {
	t.Parallel()

	f := &fakePort{maxWrite: 3}
	tr := newFakeTransport(f)

	payload := []byte{0xAA, 0x00, 0x01, 0x00, 0x00, 0x01, 0x02, 0x03, 0x04, 0xBB}
	require.NoError(t, tr.Write(payload))
	assert.Equal(t, payload, f.written)
}

func TestWriteError(t *testing.T) {
	t.Parallel()

	tr := newFakeTransport(&fakePort{writeErr: errors.New("input/output error")})
	err := tr.Write([]byte{0xAA})
	require.ErrorIs(t, err, otaflash.ErrTransportWrite)

	var te *otaflash.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "/dev/ttyFAKE0", te.Port)
}

func TestFlushAndClose(t *testing.T) {
	t.Parallel()

	f := &fakePort{chunks: [][]byte{{1, 2}}}
	tr := newFakeTransport(f)

	require.NoError(t, tr.FlushInput())
	assert.Equal(t, 1, f.resets)
	assert.Empty(t, f.chunks)

	assert.True(t, tr.IsConnected())
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	assert.Equal(t, 1, f.closes)
	assert.False(t, tr.IsConnected())
	require.NoError(t, tr.FlushInput())
}
