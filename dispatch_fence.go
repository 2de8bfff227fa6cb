// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package virtgpu

import (
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sys/unix"

	"github.com/gogpu/virtgpu/driver"
)

func (c *Context) dispatchCreateFence(cmd *CreateFenceCommand) error {
	dev := c.device(cmd.Device)
	if dev == nil {
		return ErrStreamFatal
	}
	if !c.validateNewID(cmd.Fence) {
		return ErrStreamFatal
	}
	f, err := dev.drv.CreateFence(driver.FenceOptions{
		Signaled:   cmd.Signaled,
		Exportable: dev.caps.ExportableFences,
	})
	if err != nil {
		return fmt.Errorf("virtgpu: create fence: %w", err)
	}
	c.registerObject(&fenceObject{
		object: object{id: cmd.Fence, typ: ObjectFence},
		dev:    dev,
		fence:  f,
	})
	return nil
}

func (c *Context) dispatchDestroyFence(cmd *DestroyFenceCommand) error {
	fo := c.fenceByID(cmd.Fence)
	if fo == nil {
		return ErrStreamFatal
	}
	fo.dev.drv.DestroyFence(fo.fence)
	c.removeObject(fo.id)
	return nil
}

func (c *Context) dispatchResetFences(cmd *ResetFencesCommand) error {
	dev := c.device(cmd.Device)
	if dev == nil {
		return ErrStreamFatal
	}
	fences := make([]driver.Fence, len(cmd.Fences))
	for i, id := range cmd.Fences {
		fo := c.fenceByID(id)
		if fo == nil {
			return ErrStreamFatal
		}
		fences[i] = fo.fence
	}
	if err := dev.drv.ResetFences(fences...); err != nil {
		return fmt.Errorf("virtgpu: reset fences: %w", err)
	}
	return nil
}

func (c *Context) dispatchGetFenceStatus(cmd *GetFenceStatusCommand) error {
	fo := c.fenceByID(cmd.Fence)
	if fo == nil {
		return ErrStreamFatal
	}
	signaled, err := fo.dev.drv.FenceStatus(fo.fence)
	if err != nil {
		return fmt.Errorf("virtgpu: fence status: %w", err)
	}
	cmd.Signaled = signaled
	return nil
}

func (c *Context) dispatchWaitForFences(cmd *WaitForFencesCommand) error {
	dev := c.device(cmd.Device)
	if dev == nil {
		return ErrStreamFatal
	}
	fences := make([]driver.Fence, len(cmd.Fences))
	for i, id := range cmd.Fences {
		fo := c.fenceByID(id)
		if fo == nil {
			return ErrStreamFatal
		}
		fences[i] = fo.fence
	}
	ok, err := dev.drv.WaitFences(fences, cmd.WaitAll, cmd.Timeout)
	if err != nil {
		// A lost device cannot honor any further command from this
		// stream; other errors go back in the reply.
		if errors.Is(err, driver.ErrDeviceLost) {
			Logger().Error("virtgpu: device lost waiting on guest fences",
				slog.Uint64("context", uint64(c.id)),
				slog.Uint64("device", uint64(cmd.Device)))
			c.SetFatal()
			return ErrStreamFatal
		}
		return fmt.Errorf("virtgpu: wait for fences: %w", err)
	}
	cmd.TimedOut = !ok
	return nil
}

// dispatchResetFenceResource resets the external payload of a fence by
// exporting a sync file descriptor and closing it right away; the export
// itself transfers the payload. Keeping the descriptor cached would save
// the round trip, but correctness only needs the export side effect.
func (c *Context) dispatchResetFenceResource(cmd *ResetFenceResourceCommand) error {
	fo := c.fenceByID(cmd.Fence)
	if fo == nil {
		return ErrStreamFatal
	}
	fd, err := fo.dev.drv.ExportFenceFD(fo.fence)
	if err != nil {
		// The guest only issues this against devices that advertised
		// exportable fences; a failing export means the stream and the
		// device no longer agree on the fence payload.
		Logger().Error("virtgpu: fence payload export failed",
			slog.Uint64("context", uint64(c.id)),
			slog.Uint64("fence", uint64(cmd.Fence)),
			slog.String("error", err.Error()))
		c.SetFatal()
		return ErrStreamFatal
	}
	if fd >= 0 {
		_ = unix.Close(fd)
	}
	return nil
}
