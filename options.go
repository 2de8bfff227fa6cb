// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package virtgpu

// DefaultRingCount is the number of ring slots a context allocates when
// WithRingCount is not given. Slot 0 is reserved for "unbound"; the guest
// may bind queues to slots 1..DefaultRingCount-1.
const DefaultRingCount = 64

// ContextOption configures a Context during creation.
// Use functional options to customize Context behavior.
//
// Example:
//
//	ctx := virtgpu.NewContext(1,
//	    virtgpu.WithRetireFunc(onRetire),
//	    virtgpu.WithRingCount(16),
//	)
type ContextOption func(*contextOptions)

// contextOptions holds optional configuration for Context creation.
type contextOptions struct {
	ringCount int
	retire    RetireFunc
	label     string
}

// defaultContextOptions returns the default context options.
func defaultContextOptions() contextOptions {
	return contextOptions{
		ringCount: DefaultRingCount,
	}
}

// WithRetireFunc sets the completion callback. The callback is invoked
// exactly once per submitted synchronization object, on the retirement
// worker goroutine of the owning queue, after the driver observed the
// fence. A nil callback discards completions.
func WithRetireFunc(fn RetireFunc) ContextOption {
	return func(o *contextOptions) {
		o.retire = fn
	}
}

// WithRingCount sets the number of ring slots, including the reserved
// slot 0. Values below 2 leave no bindable slot and fall back to the
// default.
func WithRingCount(n int) ContextOption {
	return func(o *contextOptions) {
		if n >= 2 {
			o.ringCount = n
		}
	}
}

// WithLabel attaches a debug label to the context. The label appears in
// log output only.
func WithLabel(label string) ContextOption {
	return func(o *contextOptions) {
		o.label = label
	}
}
