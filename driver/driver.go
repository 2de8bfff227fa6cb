// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package driver defines the contract between the virtgpu engine and a GPU
// driver: the per-device function table the engine calls for fences,
// semaphores, events, and fence-only queue submission, plus a registry for
// driver implementations.
//
// Drivers register in init() functions and are selected by name or by
// priority:
//
//	import _ "github.com/gogpu/virtgpu/driver/wgpu"
//
//	drv := driver.MustDefault()
//	if err := drv.Init(); err != nil { ... }
//	dev, err := drv.CreateDevice()
//
// All Device methods are safe for concurrent use; the engine calls them
// from submitter goroutines and per-queue retirement workers at the same
// time.
package driver

import "time"

// Fence is an opaque driver fence handle. It becomes signaled when work
// submitted with it completes, and can be reset and waited on with a
// timeout.
type Fence interface{}

// Semaphore is an opaque driver semaphore handle (binary or timeline).
type Semaphore interface{}

// Event is an opaque driver event handle.
type Event interface{}

// Capabilities describes what a device can do. The engine consumes
// ExportableFences when creating pooled fences; the dispatch layer uses the
// rest to shape guest object creation.
type Capabilities struct {
	// ExportableFences is true when fences can export a sync file
	// descriptor for cross-process interop.
	ExportableFences bool

	// TimelineSemaphores is true when semaphores carry a 64-bit counter
	// with wait-for-value semantics.
	TimelineSemaphores bool
}

// FenceOptions configures fence creation.
type FenceOptions struct {
	// Signaled creates the fence already signaled.
	Signaled bool

	// Exportable requests export capability for the fence. Creation fails
	// with ErrUnsupported if the device cannot honor it.
	Exportable bool
}

// SemaphoreOptions configures semaphore creation.
type SemaphoreOptions struct {
	// Timeline selects a 64-bit counter semaphore instead of a binary one.
	Timeline bool

	// InitialValue is the starting counter value of a timeline semaphore.
	InitialValue uint64
}

// Driver is a GPU driver implementation. Name identifies it in the
// registry; Init acquires the underlying instance and adapter; Close
// releases them. CreateDevice may be called multiple times.
type Driver interface {
	Name() string
	Init() error
	Close()
	CreateDevice() (Device, error)
}

// Device is the per-device function table. Wait-style calls return
// (false, nil) on timeout; a timeout is not an error.
type Device interface {
	// Capabilities reports what the device supports. It is constant for
	// the lifetime of the device.
	Capabilities() Capabilities

	// Queues returns the device's submission queues, fixed at creation.
	Queues() []Queue

	CreateFence(opts FenceOptions) (Fence, error)
	DestroyFence(f Fence)
	ResetFences(fences ...Fence) error
	WaitFence(f Fence, timeout time.Duration) (bool, error)
	WaitFences(fences []Fence, waitAll bool, timeout time.Duration) (bool, error)
	FenceStatus(f Fence) (bool, error)

	// ExportFenceFD exports a sync file descriptor from the fence. The
	// caller owns the descriptor. Fails with ErrUnsupported when the
	// device lacks ExportableFences.
	ExportFenceFD(f Fence) (int, error)

	CreateSemaphore(opts SemaphoreOptions) (Semaphore, error)
	DestroySemaphore(s Semaphore)
	SemaphoreValue(s Semaphore) (uint64, error)
	WaitSemaphores(sems []Semaphore, values []uint64, waitAll bool, timeout time.Duration) (bool, error)
	SignalSemaphore(s Semaphore, value uint64) error

	// ImportSemaphoreFD replaces the semaphore payload. fd -1 resets the
	// payload to its initial state; a real descriptor transfers ownership
	// to the driver.
	ImportSemaphoreFD(s Semaphore, fd int) error

	// ExportSemaphoreFD exports a sync file descriptor from the semaphore.
	// The caller owns the descriptor. Fails with ErrUnsupported when the
	// semaphore payload cannot be exported.
	ExportSemaphoreFD(s Semaphore) (int, error)

	CreateEvent() (Event, error)
	DestroyEvent(e Event)
	EventStatus(e Event) (bool, error)
	SetEvent(e Event) error
	ResetEvent(e Event) error

	// Destroy releases the device. The engine never calls this; the
	// embedder that opened the device does.
	Destroy()
}

// Queue is one driver submission queue. Flags, Family, and Index form the
// identity key guests use to look the queue up.
type Queue interface {
	Flags() uint32
	Family() uint32
	Index() uint32

	// Submit issues a fence-only submission: no command buffers, just a
	// signal on f after all previously submitted work on this queue
	// completes. A device-lost condition is reported as ErrDeviceLost.
	Submit(f Fence) error
}
