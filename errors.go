// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package virtgpu

import "errors"

// Package errors for virtgpu.
var (
	// ErrStreamFatal is returned by Dispatch once the command stream has
	// been marked fatally invalid by a protocol violation. The stream never
	// recovers; the transport should tear the context down.
	ErrStreamFatal = errors.New("virtgpu: command stream is fatally invalid")

	// ErrContextDestroyed is returned when commands or submissions arrive
	// after Context.Destroy.
	ErrContextDestroyed = errors.New("virtgpu: context destroyed")

	// ErrRingUnbound is returned by Context.SubmitFence when the ring index
	// is zero, out of range, or not bound to a queue.
	ErrRingUnbound = errors.New("virtgpu: ring index not bound to a queue")

	// ErrInvalidObjectID is returned by AttachDevice when the guest-visible
	// id is zero or already in use.
	ErrInvalidObjectID = errors.New("virtgpu: invalid or duplicate object id")
)
