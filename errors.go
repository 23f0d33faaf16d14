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

	"github.com/ZaparooProject/go-otaflash/frame"
)

// Transport errors
var (
	ErrTransportTimeout = errors.New("transport timeout")
	ErrTransportRead    = errors.New("transport read failed")
	ErrTransportWrite   = errors.New("transport write failed")
	ErrTransportClosed  = errors.New("transport closed")
	ErrNotConnected     = errors.New("transport not connected")
)

// Protocol errors
var (
	ErrDeviceRejected     = errors.New("device rejected packet")
	ErrUnexpectedResponse = errors.New("unexpected response from device")
	ErrSessionUsed        = errors.New("session already run")
)

// Input errors
var (
	ErrFile             = errors.New("firmware image unreadable")
	ErrEmptyImage       = errors.New("firmware image is empty")
	ErrImageTooLarge    = errors.New("firmware image exceeds 32-bit size field")
	ErrInvalidParameter = errors.New("invalid parameter")
)

// ErrorType classifies errors for retry decisions
type ErrorType int

const (
	// ErrorTypePermanent errors end the current update immediately
	ErrorTypePermanent ErrorType = iota
	// ErrorTypeTransient errors are response-level problems worth another attempt
	ErrorTypeTransient
	// ErrorTypeTimeout means no response arrived before the deadline
	ErrorTypeTimeout
)

// String returns the name of the error type.
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeTimeout:
		return "timeout"
	default:
		return "permanent"
	}
}

// TransportError is returned by Transport implementations. Port identifies the
// channel (device path, bus name) and may be empty.
type TransportError struct {
	Err       error
	Op        string
	Port      string
	Type      ErrorType
	Retryable bool
}

// Error implements the error interface
func (e *TransportError) Error() string {
	if e.Port != "" {
		return fmt.Sprintf("%s on %s: %v", e.Op, e.Port, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a transport error. Only timeouts are retryable.
func NewTransportError(op, port string, err error, errType ErrorType) *TransportError {
	return &TransportError{
		Op:        op,
		Port:      port,
		Err:       err,
		Type:      errType,
		Retryable: errType == ErrorTypeTimeout,
	}
}

// NewTimeoutError creates the error a Transport returns when ReadFull expires
func NewTimeoutError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportTimeout, ErrorTypeTimeout)
}

// NewReadError wraps a hard read failure
func NewReadError(op, port string, err error) *TransportError {
	return NewTransportError(op, port, fmt.Errorf("%w: %w", ErrTransportRead, err), ErrorTypePermanent)
}

// NewWriteError wraps a failed or partial write
func NewWriteError(op, port string, err error) *TransportError {
	return NewTransportError(op, port, fmt.Errorf("%w: %w", ErrTransportWrite, err), ErrorTypePermanent)
}

// NewClosedError reports use of a closed transport
func NewClosedError(op, port string) *TransportError {
	return NewTransportError(op, port, ErrTransportClosed, ErrorTypePermanent)
}

// IsRetryable reports whether err is a response-level failure that the
// session retries: timeouts, malformed frames and negative acknowledgements.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}

	return GetErrorType(err) != ErrorTypePermanent
}

// GetErrorType returns the classification of err
func GetErrorType(err error) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Type
	}

	switch {
	case errors.Is(err, ErrTransportTimeout):
		return ErrorTypeTimeout
	case errors.Is(err, ErrDeviceRejected),
		errors.Is(err, ErrUnexpectedResponse),
		errors.Is(err, frame.ErrFraming),
		errors.Is(err, frame.ErrLengthMismatch),
		errors.Is(err, frame.ErrIntegrity):
		return ErrorTypeTransient
	default:
		return ErrorTypePermanent
	}
}

// FailureCause is the reason a session ended in StateFailed
type FailureCause int

const (
	CauseNone FailureCause = iota
	// CauseDeviceRejected means the device kept answering NACK
	CauseDeviceRejected
	// CauseTimeout means the device kept not answering
	CauseTimeout
	// CauseCorruptResponse means responses kept failing framing or integrity checks
	CauseCorruptResponse
	// CauseTransport means the channel itself failed
	CauseTransport
	// CauseCancelled means the caller's context ended the update
	CauseCancelled
)

// String returns the name of the cause.
func (c FailureCause) String() string {
	switch c {
	case CauseNone:
		return "none"
	case CauseDeviceRejected:
		return "device rejected"
	case CauseTimeout:
		return "timeout"
	case CauseCorruptResponse:
		return "corrupt response"
	case CauseTransport:
		return "transport failure"
	case CauseCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("cause(%d)", int(c))
	}
}

// classifyFailure maps the error that ended an exchange to its cause.
func classifyFailure(err error) FailureCause {
	switch {
	case err == nil:
		return CauseNone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CauseCancelled
	case errors.Is(err, ErrTransportTimeout):
		return CauseTimeout
	case errors.Is(err, ErrDeviceRejected):
		return CauseDeviceRejected
	case GetErrorType(err) == ErrorTypeTransient:
		return CauseCorruptResponse
	default:
		return CauseTransport
	}
}

// UpdateError is the terminal error of a failed session
type UpdateError struct {
	Err      error
	Stage    State
	Cause    FailureCause
	Attempts int
}

// Error implements the error interface
func (e *UpdateError) Error() string {
	return fmt.Sprintf("update failed while %s after %d attempt(s) (%s): %v",
		e.Stage, e.Attempts, e.Cause, e.Err)
}

// Unwrap returns the underlying error
func (e *UpdateError) Unwrap() error {
	return e.Err
}

// CauseOf returns the failure cause carried by err, or CauseNone.
func CauseOf(err error) FailureCause {
	var ue *UpdateError
	if errors.As(err, &ue) {
		return ue.Cause
	}
	return CauseNone
}

// FileError reports a firmware image that could not be loaded. It matches
// both ErrFile and the underlying error with errors.Is.
type FileError struct {
	Err  error
	Path string
}

// Error implements the error interface
func (e *FileError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("firmware image %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("firmware image: %v", e.Err)
}

// Unwrap returns ErrFile and the underlying error
func (e *FileError) Unwrap() []error {
	return []error{ErrFile, e.Err}
}
