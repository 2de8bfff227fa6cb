// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package wgpu implements the virtgpu driver contract on the gogpu/wgpu
// hardware abstraction layer.
//
// Fences map onto the HAL's monotonic timeline fences; semaphores and
// events are emulated host-side because the HAL exposes no such
// primitives. Exportable fence descriptors are not supported, which the
// device advertises through its capabilities.
//
// The package registers two drivers: "wgpu" (Vulkan HAL backend) and
// "noop" (the no-op HAL backend, for tests and GPU-less runs).
package wgpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	_ "github.com/gogpu/wgpu/hal/vulkan" // register the vulkan HAL backend

	"github.com/gogpu/virtgpu"
	"github.com/gogpu/virtgpu/driver"
)

// Package errors for the wgpu driver.
var (
	// ErrNoAdapter is returned by Init when adapter enumeration finds no
	// compatible GPU.
	ErrNoAdapter = errors.New("wgpu: no compatible GPU adapter")

	// ErrNoHALBackend is returned by Init when the requested HAL backend
	// is not compiled in.
	ErrNoHALBackend = errors.New("wgpu: hal backend not available")

	errForeignHandle = errors.New("wgpu: foreign driver handle")
)

func init() {
	driver.Register(driver.NameWGPU, func() driver.Driver { return New() })
	driver.Register(driver.NameNoop, func() driver.Driver { return NewNoop() })
}

// Option configures a Driver.
type Option func(*Driver)

// WithAPI injects a HAL API directly instead of resolving one by backend
// kind. Used to run on the no-op HAL.
func WithAPI(api hal.Backend) Option {
	return func(d *Driver) {
		d.api = api
	}
}

// WithBackend selects the HAL backend kind to resolve at Init. The default
// is Vulkan.
func WithBackend(b gputypes.Backend) Option {
	return func(d *Driver) {
		d.backend = b
	}
}

// WithDeviceProvider shares an already-open GPU device from a host
// application instead of opening a dedicated adapter. The provider must
// also expose its HAL handles through HalDevice() / HalQueue().
func WithDeviceProvider(p gpucontext.DeviceProvider) Option {
	return func(d *Driver) {
		d.provider = p
	}
}

// halProvider is the contract a shared-device provider must satisfy on top
// of gpucontext.DeviceProvider.
type halProvider interface {
	HalDevice() any
	HalQueue() any
}

// Driver is a GPU driver on the gogpu/wgpu HAL.
type Driver struct {
	mu sync.Mutex

	name     string
	backend  gputypes.Backend
	api      hal.Backend
	provider gpucontext.DeviceProvider

	instance    hal.Instance
	adapters    []hal.ExposedAdapter
	initialized bool
}

// New creates the wgpu driver. Call Init before CreateDevice.
func New(opts ...Option) *Driver {
	d := &Driver{
		name:    driver.NameWGPU,
		backend: gputypes.BackendVulkan,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewNoop creates the driver on the no-op HAL backend. Every submission
// completes immediately; no GPU is touched.
func NewNoop(opts ...Option) *Driver {
	d := New(opts...)
	d.name = driver.NameNoop
	d.api = noop.API{}
	return d
}

// Name returns the registry name of this driver instance.
func (d *Driver) Name() string { return d.name }

// Init resolves the HAL backend, creates the instance, and enumerates
// adapters. In shared-device mode the host application owns all of that
// and Init only marks the driver usable. Calling Init twice is a no-op.
func (d *Driver) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return nil
	}
	if d.provider != nil {
		d.initialized = true
		return nil
	}

	api := d.api
	if api == nil {
		a, ok := hal.GetBackend(d.backend)
		if !ok {
			return fmt.Errorf("%w: backend %d", ErrNoHALBackend, d.backend)
		}
		api = a
	}

	instance, err := api.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("wgpu: create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return ErrNoAdapter
	}

	virtgpu.Logger().Info("wgpu: adapter selected",
		slog.String("driver", d.name),
		slog.String("adapter", adapters[0].Info.Name))

	d.api = api
	d.instance = instance
	d.adapters = adapters
	d.initialized = true
	return nil
}

// CreateDevice opens the first enumerated adapter, or adopts the shared
// device in provider mode.
func (d *Driver) CreateDevice() (driver.Device, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return nil, driver.ErrNotInitialized
	}

	if d.provider != nil {
		hp, ok := d.provider.(halProvider)
		if !ok {
			return nil, errors.New("wgpu: device provider does not expose HAL handles")
		}
		hd, okDev := hp.HalDevice().(hal.Device)
		hq, okQueue := hp.HalQueue().(hal.Queue)
		if !okDev || !okQueue {
			return nil, errors.New("wgpu: device provider returned non-HAL handles")
		}
		return newDevice(hd, hq, true), nil
	}

	openDev, err := d.adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		return nil, fmt.Errorf("wgpu: open adapter: %w", err)
	}
	return newDevice(openDev.Device, openDev.Queue, false), nil
}

// Close destroys the instance created by Init. Devices must be destroyed
// first. In shared-device mode there is nothing to release.
func (d *Driver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.instance != nil {
		d.instance.Destroy()
		d.instance = nil
		d.adapters = nil
	}
	d.initialized = false
}
