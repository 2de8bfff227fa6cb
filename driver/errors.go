// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package driver

import "errors"

// Package errors for driver implementations.
var (
	// ErrDeviceLost reports that the device is no longer operable.
	// Submissions and waits against a lost device are treated by the
	// engine as completed rather than retried.
	ErrDeviceLost = errors.New("driver: device lost")

	// ErrUnsupported is returned for operations the device cannot perform,
	// such as exporting a fence descriptor without the capability.
	ErrUnsupported = errors.New("driver: operation not supported")

	// ErrNotInitialized is returned when CreateDevice is called before
	// Init.
	ErrNotInitialized = errors.New("driver: not initialized")

	// ErrNoDriver is returned when no driver is registered.
	ErrNoDriver = errors.New("driver: no driver available")
)
