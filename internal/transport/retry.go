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

// Package transport provides internal retry and polling helpers shared by the
// session and the transports
package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Retry errors
var (
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrPollTimeout      = errors.New("poll deadline exceeded")
)

// RetryOperation represents one attempt of a retried operation
// Returns: data, shouldRetry, error
// - data: the result if successful
// - shouldRetry: true if the attempt failed in a way worth repeating; error then
// carries the reason
// - error: with shouldRetry false, a permanent error that stops retries
type RetryOperation[T any] func(attempt int) (T, bool, error)

// RetryConfig configures retry behavior
type RetryConfig struct {
	// OnRetry runs before each repeat attempt with the reason the previous
	// attempt failed. A non-nil return aborts the loop.
	OnRetry     func(attempt int, reason error) error
	Description string
	MaxAttempts int
	RetryDelay  time.Duration
}

// WithRetry executes an operation up to MaxAttempts times and returns the
// result together with the number of attempts made. When every attempt asks
// for a retry the returned error wraps both ErrRetriesExhausted and the last
// attempt's reason.
func WithRetry[T any](ctx context.Context, config RetryConfig, operation RetryOperation[T]) (T, int, error) {
	var zero T
	var reason error

	maxAttempts := max(config.MaxAttempts, 1)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, attempt - 1, fmt.Errorf("%s: %w", config.Description, err)
		}

		result, shouldRetry, err := operation(attempt)
		if !shouldRetry {
			return result, attempt, err
		}
		reason = err

		// If we should retry but we're at max attempts, break
		if attempt >= maxAttempts {
			break
		}

		if config.OnRetry != nil {
			if err := config.OnRetry(attempt+1, reason); err != nil {
				return zero, attempt, err
			}
		}

		if err := sleepContext(ctx, config.RetryDelay); err != nil {
			return zero, attempt, fmt.Errorf("%s: %w", config.Description, err)
		}
	}

	return handleRetriesExhausted[T](config, maxAttempts, reason)
}

// handleRetriesExhausted builds the error for a loop that ran out of attempts
func handleRetriesExhausted[T any](config RetryConfig, attempts int, reason error) (T, int, error) {
	var zero T
	if reason == nil {
		reason = errors.New("no reason given")
	}
	return zero, attempts, fmt.Errorf("%s: %w after %d attempts: %w",
		config.Description, ErrRetriesExhausted, attempts, reason)
}

// TimeoutRetry polls operation until it stops asking for a retry, the timeout
// elapses, or ctx is done. Used for devices that must be polled for readiness.
func TimeoutRetry[T any](ctx context.Context, timeout, interval time.Duration, operation RetryOperation[T]) (T, error) {
	var zero T
	deadline := time.Now().Add(timeout)

	for attempt := 1; time.Now().Before(deadline); attempt++ {
		result, shouldRetry, err := operation(attempt)
		if !shouldRetry {
			return result, err
		}

		if err := sleepContext(ctx, min(interval, time.Until(deadline))); err != nil {
			return zero, err
		}
	}

	return zero, ErrPollTimeout
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
