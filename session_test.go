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
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZaparooProject/go-otaflash/frame"
	"github.com/ZaparooProject/go-otaflash/internal/transport"
)

var testCodec = frame.NewCodec(nil)

func ackFrame(t *testing.T) []byte {
	t.Helper()
	b, err := testCodec.EncodeResponse(frame.StatusAck)
	require.NoError(t, err)
	return b
}

func nackFrame(t *testing.T) []byte {
	t.Helper()
	b, err := testCodec.EncodeResponse(frame.StatusNack)
	require.NoError(t, err)
	return b
}

func sequentialImage(t *testing.T, n int) *Image {
	t.Helper()
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i * 7)
	}
	img, err := NewImage(data)
	require.NoError(t, err)
	return img
}

// alwaysAck answers every packet with ACK
func alwaysAck(t *testing.T) func([]byte) ([]byte, error) {
	ack := ackFrame(t)
	return func([]byte) ([]byte, error) { return ack, nil }
}

func fastOptions() []Option {
	return []Option{
		WithResponseTimeout(10 * time.Millisecond),
		WithRetryDelay(0),
	}
}

func decodeWrite(t *testing.T, b []byte) *frame.Packet {
	t.Helper()
	pkt, err := testCodec.Decode(b)
	require.NoError(t, err)
	return pkt
}

func requireUpdateError(t *testing.T, err error) *UpdateError {
	t.Helper()
	require.Error(t, err)
	var ue *UpdateError
	require.ErrorAs(t, err, &ue)
	return ue
}

func TestSessionChunkCounts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		size      int
		chunkSize int
		wantLast  int
	}{
		{name: "single byte", size: 1, chunkSize: 512, wantLast: 1},
		{name: "just under one chunk", size: 511, chunkSize: 512, wantLast: 511},
		{name: "exactly one chunk", size: 512, chunkSize: 512, wantLast: 512},
		{name: "one byte over", size: 513, chunkSize: 512, wantLast: 1},
		{name: "two full chunks", size: 2048, chunkSize: 1024, wantLast: 1024},
		{name: "small chunks", size: 1000, chunkSize: 100, wantLast: 100},
		{name: "odd chunks", size: 1000, chunkSize: 300, wantLast: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mock := NewMockTransport()
			mock.SetResponseFunc(alwaysAck(t))

			opts := append(fastOptions(), WithChunkSize(tt.chunkSize))
			err := Update(context.Background(), mock, sequentialImage(t, tt.size), opts...)
			require.NoError(t, err)

			wantChunks := (tt.size + tt.chunkSize - 1) / tt.chunkSize
			writes := mock.Writes()
			require.Len(t, writes, 3+wantChunks)

			last := decodeWrite(t, writes[len(writes)-2])
			assert.Equal(t, frame.TypeData, last.Type)
			assert.Len(t, last.Payload, tt.wantLast)
		})
	}
}

func TestSessionEndToEnd(t *testing.T) {
	t.Parallel()

	img := sequentialImage(t, 1000)
	mock := NewMockTransport()
	mock.SetResponseFunc(alwaysAck(t))

	var progress []Progress
	opts := append(fastOptions(), WithProgress(func(p Progress) {
		progress = append(progress, p)
	}))

	s, err := NewSession(mock, img, opts...)
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	assert.Equal(t, StateComplete, s.State())
	assert.Equal(t, 1000, s.BytesSent())

	writes := mock.Writes()
	require.Len(t, writes, 5)

	start := decodeWrite(t, writes[0])
	assert.Equal(t, frame.TypeCommand, start.Type)
	assert.Equal(t, []byte{frame.CmdStart}, start.Payload)

	hdr, err := decodeWrite(t, writes[1]).Header()
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), hdr.ImageSize)
	assert.Equal(t, img.Checksum(frame.CRC32IEEE), hdr.ImageChecksum)

	first := decodeWrite(t, writes[2])
	second := decodeWrite(t, writes[3])
	assert.Len(t, first.Payload, 512)
	assert.Len(t, second.Payload, 488)
	assert.Equal(t, img.Chunks(512)[1], second.Payload)

	end := decodeWrite(t, writes[4])
	assert.Equal(t, []byte{frame.CmdEnd}, end.Payload)

	require.Len(t, progress, 3)
	assert.Equal(t, 512, progress[0].BytesSent)
	assert.Equal(t, 1, progress[0].Chunk)
	assert.Equal(t, 1000, progress[1].BytesSent)
	assert.Equal(t, StateComplete, progress[2].State)
	assert.InDelta(t, 100.0, progress[2].Percentage(), 0.001)
	for _, p := range progress {
		assert.Equal(t, s.ID(), p.SessionID)
		assert.Equal(t, 2, p.TotalChunks)
	}
}

func TestSessionRetriesRejectedPacket(t *testing.T) {
	t.Parallel()

	for k := 0; k < 3; k++ {
		t.Run(fmt.Sprintf("%d nacks", k), func(t *testing.T) {
			t.Parallel()

			mock := NewMockTransport(ackFrame(t))
			for i := 0; i < k; i++ {
				mock.QueueResponse(nackFrame(t))
			}
			for i := 0; i < 3; i++ {
				mock.QueueResponse(ackFrame(t))
			}

			err := Update(context.Background(), mock, sequentialImage(t, 10), fastOptions()...)
			require.NoError(t, err)

			writes := mock.Writes()
			require.Len(t, writes, 1+(k+1)+1+1)
			for i := 2; i <= k+1; i++ {
				assert.True(t, bytes.Equal(writes[1], writes[i]), "retry %d must resend the same header", i-1)
			}
			assert.Equal(t, k, mock.Flushes())
		})
	}
}

func TestSessionGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		script      func(t *testing.T, m *MockTransport)
		wantCause   FailureCause
		wantStage   State
		maxAttempts int
		wantWrites  int
	}{
		{
			name: "always nack header",
			script: func(t *testing.T, m *MockTransport) {
				m.QueueResponse(ackFrame(t))
				for i := 0; i < 5; i++ {
					m.QueueResponse(nackFrame(t))
				}
			},
			maxAttempts: 3,
			wantCause:   CauseDeviceRejected,
			wantStage:   StateAwaitHeaderAck,
			wantWrites:  1 + 3,
		},
		{
			name:        "silent device",
			script:      func(*testing.T, *MockTransport) {},
			maxAttempts: 2,
			wantCause:   CauseTimeout,
			wantStage:   StateStarting,
			wantWrites:  2,
		},
		{
			name: "corrupt acks",
			script: func(t *testing.T, m *MockTransport) {
				for i := 0; i < 4; i++ {
					bad := ackFrame(t)
					bad[4] ^= 0xFF
					m.QueueResponse(bad)
				}
			},
			maxAttempts: 4,
			wantCause:   CauseCorruptResponse,
			wantStage:   StateStarting,
			wantWrites:  4,
		},
		{
			name: "single attempt",
			script: func(t *testing.T, m *MockTransport) {
				m.QueueResponse(ackFrame(t))
				m.QueueResponse(ackFrame(t))
				m.QueueResponse(nackFrame(t))
			},
			maxAttempts: 1,
			wantCause:   CauseDeviceRejected,
			wantStage:   StateSendingData,
			wantWrites:  3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mock := NewMockTransport()
			tt.script(t, mock)

			opts := append(fastOptions(), WithMaxAttempts(tt.maxAttempts))
			s, err := NewSession(mock, sequentialImage(t, 100), opts...)
			require.NoError(t, err)

			ue := requireUpdateError(t, s.Run(context.Background()))
			assert.Equal(t, tt.wantCause, ue.Cause)
			assert.Equal(t, tt.wantStage, ue.Stage)
			assert.Equal(t, tt.maxAttempts, ue.Attempts)
			assert.Equal(t, StateFailed, s.State())
			assert.Len(t, mock.Writes(), tt.wantWrites)
			if tt.maxAttempts > 1 {
				assert.ErrorIs(t, ue, transport.ErrRetriesExhausted)
			}
		})
	}
}

func TestSessionRecoversFromWrongResponseType(t *testing.T) {
	t.Parallel()

	// A Data frame with a one-byte payload has the size of a response.
	wrong, err := testCodec.EncodeData([]byte{frame.StatusAck})
	require.NoError(t, err)
	require.Len(t, wrong, frame.ResponseFrameSize)

	mock := NewMockTransport(wrong, ackFrame(t), ackFrame(t), ackFrame(t), ackFrame(t))
	require.NoError(t, Update(context.Background(), mock, sequentialImage(t, 4), fastOptions()...))
	assert.Len(t, mock.Writes(), 5)
}

func TestSessionTransportErrorsAreNotRetried(t *testing.T) {
	t.Parallel()

	t.Run("write", func(t *testing.T) {
		t.Parallel()
		mock := NewMockTransport()
		mock.SetWriteError(errors.New("broken pipe"))

		ue := requireUpdateError(t, Update(context.Background(), mock, sequentialImage(t, 8), fastOptions()...))
		assert.Equal(t, CauseTransport, ue.Cause)
		assert.Equal(t, 1, ue.Attempts)
		assert.ErrorIs(t, ue, ErrTransportWrite)
		assert.Empty(t, mock.Writes())
	})

	t.Run("read", func(t *testing.T) {
		t.Parallel()
		mock := NewMockTransport()
		mock.SetReadError(errors.New("device unplugged"))

		ue := requireUpdateError(t, Update(context.Background(), mock, sequentialImage(t, 8), fastOptions()...))
		assert.Equal(t, CauseTransport, ue.Cause)
		assert.Equal(t, 1, ue.Attempts)
		assert.ErrorIs(t, ue, ErrTransportRead)
		assert.Len(t, mock.Writes(), 1)
	})
}

func TestSessionCancellationSendsAbort(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ack := ackFrame(t)
	reads := 0
	mock := NewMockTransport()
	mock.SetResponseFunc(func([]byte) ([]byte, error) {
		reads++
		if reads == 3 {
			cancel()
			return nil, context.Canceled
		}
		return ack, nil
	})

	s, err := NewSession(mock, sequentialImage(t, 2000), fastOptions()...)
	require.NoError(t, err)

	ue := requireUpdateError(t, s.Run(ctx))
	assert.Equal(t, CauseCancelled, ue.Cause)
	assert.Equal(t, StateSendingData, ue.Stage)
	assert.ErrorIs(t, ue, context.Canceled)

	writes := mock.Writes()
	require.Len(t, writes, 4)
	abort := decodeWrite(t, writes[3])
	assert.Equal(t, frame.TypeCommand, abort.Type)
	assert.Equal(t, []byte{frame.CmdAbort}, abort.Payload)
	assert.False(t, mock.IsConnected())
}

func TestSessionCancellationWhileBlocked(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	mock := NewMockTransport()
	mock.Block()

	start := time.Now()
	ue := requireUpdateError(t, Update(ctx, mock, sequentialImage(t, 16), WithResponseTimeout(time.Minute)))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, CauseCancelled, ue.Cause)
	assert.Equal(t, StateStarting, ue.Stage)

	writes := mock.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, []byte{frame.CmdAbort}, decodeWrite(t, writes[1]).Payload)
	assert.False(t, mock.IsConnected())
}

func TestSessionCancelledBeforeRun(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	mock := NewMockTransport()
	mock.SetResponseFunc(alwaysAck(t))

	ue := requireUpdateError(t, Update(ctx, mock, sequentialImage(t, 16), fastOptions()...))
	assert.Equal(t, CauseCancelled, ue.Cause)
	assert.Equal(t, 0, ue.Attempts)

	// Nothing but the Abort reaches the device.
	writes := mock.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, []byte{frame.CmdAbort}, decodeWrite(t, writes[0]).Payload)
}

func TestSessionSingleUse(t *testing.T) {
	t.Parallel()

	mock := NewMockTransport()
	mock.SetResponseFunc(alwaysAck(t))

	s, err := NewSession(mock, sequentialImage(t, 3), fastOptions()...)
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))
	require.ErrorIs(t, s.Run(context.Background()), ErrSessionUsed)
	assert.Len(t, mock.Writes(), 4)
}

func TestSessionAlternateChecksum(t *testing.T) {
	t.Parallel()

	mpeg := frame.NewCodec(frame.CRC32MPEG2)
	ack, err := mpeg.EncodeResponse(frame.StatusAck)
	require.NoError(t, err)

	mock := NewMockTransport()
	mock.SetResponseFunc(func([]byte) ([]byte, error) { return ack, nil })

	img := sequentialImage(t, 64)
	opts := append(fastOptions(), WithChecksum(frame.CRC32MPEG2))
	require.NoError(t, Update(context.Background(), mock, img, opts...))

	writes := mock.Writes()
	require.Len(t, writes, 4)
	pkt, err := mpeg.Decode(writes[1])
	require.NoError(t, err)
	hdr, err := pkt.Header()
	require.NoError(t, err)
	assert.Equal(t, img.Checksum(frame.CRC32MPEG2), hdr.ImageChecksum)

	// The default codec must reject frames sealed with another algorithm.
	_, err = testCodec.Decode(writes[1])
	assert.ErrorIs(t, err, frame.ErrIntegrity)
}

func TestNewSessionValidation(t *testing.T) {
	t.Parallel()

	img := sequentialImage(t, 1)
	mock := NewMockTransport()

	tests := []struct {
		transport Transport
		image     *Image
		name      string
		opts      []Option
	}{
		{name: "nil transport", image: img},
		{name: "nil image", transport: mock},
		{name: "zero attempts", transport: mock, image: img, opts: []Option{WithMaxAttempts(0)}},
		{name: "oversized chunk", transport: mock, image: img, opts: []Option{WithChunkSize(frame.MaxDataSize + 1)}},
		{name: "zero timeout", transport: mock, image: img, opts: []Option{WithResponseTimeout(0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewSession(tt.transport, tt.image, tt.opts...)
			assert.ErrorIs(t, err, ErrInvalidParameter)
		})
	}

	s, err := NewSession(mock, img)
	require.NoError(t, err)
	assert.Len(t, s.ID(), 36)
	assert.Equal(t, StateIdle, s.State())
	assert.Equal(t, 3, s.Config().MaxAttempts)
}
