// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/virtgpu/driver"
)

// anyWaitPollInterval paces the polling loops that emulate wait-any
// semantics; the HAL exposes no multiplexed wait.
const anyWaitPollInterval = time.Millisecond

// device implements driver.Device on a HAL device with its single queue.
type device struct {
	hd hal.Device
	hq hal.Queue

	// external devices belong to a host application (shared-device mode);
	// Destroy leaves them alone.
	external bool

	queue *queue
}

func newDevice(hd hal.Device, hq hal.Queue, external bool) *device {
	d := &device{hd: hd, hq: hq, external: external}
	d.queue = &queue{dev: d}
	return d
}

func (d *device) Capabilities() driver.Capabilities {
	return driver.Capabilities{
		// The HAL has no fence descriptor export.
		ExportableFences: false,
		// Emulated host-side, see semaphore.go.
		TimelineSemaphores: true,
	}
}

func (d *device) Queues() []driver.Queue {
	return []driver.Queue{d.queue}
}

func (d *device) Destroy() {
	if !d.external {
		d.hd.Destroy()
	}
}

// fence adapts the binary-fence contract onto the HAL's monotonic timeline
// fences: target is the timeline value that means "signaled". Reset
// advances the target to a fresh epoch instead of rewinding the timeline;
// a submission signals the current target.
type fence struct {
	hf     hal.Fence
	target atomic.Uint64
}

func asFence(df driver.Fence) (*fence, error) {
	f, ok := df.(*fence)
	if !ok {
		return nil, errForeignHandle
	}
	return f, nil
}

func (d *device) CreateFence(opts driver.FenceOptions) (driver.Fence, error) {
	if opts.Exportable {
		return nil, driver.ErrUnsupported
	}
	hf, err := d.hd.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("wgpu: create fence: %w", err)
	}
	f := &fence{hf: hf}
	if !opts.Signaled {
		f.target.Store(1)
	}
	return f, nil
}

func (d *device) DestroyFence(df driver.Fence) {
	if f, err := asFence(df); err == nil {
		d.hd.DestroyFence(f.hf)
	}
}

func (d *device) ResetFences(fences ...driver.Fence) error {
	for _, df := range fences {
		f, err := asFence(df)
		if err != nil {
			return err
		}
		f.target.Add(1)
	}
	return nil
}

func (d *device) WaitFence(df driver.Fence, timeout time.Duration) (bool, error) {
	f, err := asFence(df)
	if err != nil {
		return false, err
	}
	ok, err := d.hd.Wait(f.hf, f.target.Load(), timeout)
	if err != nil {
		return false, fmt.Errorf("wgpu: fence wait: %w", err)
	}
	return ok, nil
}

func (d *device) WaitFences(fences []driver.Fence, waitAll bool, timeout time.Duration) (bool, error) {
	if len(fences) == 0 {
		return true, nil
	}
	deadline := time.Now().Add(timeout)

	if waitAll {
		for _, df := range fences {
			remaining := max(time.Until(deadline), 0)
			ok, err := d.WaitFence(df, remaining)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}

	for {
		for _, df := range fences {
			ok, err := d.WaitFence(df, 0)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		time.Sleep(anyWaitPollInterval)
	}
}

func (d *device) FenceStatus(df driver.Fence) (bool, error) {
	return d.WaitFence(df, 0)
}

func (d *device) ExportFenceFD(driver.Fence) (int, error) {
	return -1, driver.ErrUnsupported
}

// queue is the device's single HAL queue, exposed as family 0 index 0.
type queue struct {
	dev *device
}

func (q *queue) Flags() uint32  { return 0 }
func (q *queue) Family() uint32 { return 0 }
func (q *queue) Index() uint32  { return 0 }

// Submit issues a fence-only submission: no command buffers, just a signal
// of the fence's current target value after prior work drains.
func (q *queue) Submit(df driver.Fence) error {
	f, err := asFence(df)
	if err != nil {
		return err
	}
	target := f.target.Load()
	if target == 0 {
		// Submitting an already-signaled fence; give it a real epoch.
		f.target.Store(1)
		target = 1
	}
	if err := q.dev.hq.Submit(nil, f.hf, target); err != nil {
		return fmt.Errorf("wgpu: fence submission: %w", err)
	}
	return nil
}
