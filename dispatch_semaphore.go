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

func (c *Context) dispatchCreateSemaphore(cmd *CreateSemaphoreCommand) error {
	dev := c.device(cmd.Device)
	if dev == nil {
		return ErrStreamFatal
	}
	if !c.validateNewID(cmd.Semaphore) {
		return ErrStreamFatal
	}
	sem, err := dev.drv.CreateSemaphore(driver.SemaphoreOptions{
		Timeline:     cmd.Timeline,
		InitialValue: cmd.InitialValue,
	})
	if err != nil {
		return fmt.Errorf("virtgpu: create semaphore: %w", err)
	}
	c.registerObject(&semaphoreObject{
		object: object{id: cmd.Semaphore, typ: ObjectSemaphore},
		dev:    dev,
		sem:    sem,
	})
	return nil
}

func (c *Context) dispatchDestroySemaphore(cmd *DestroySemaphoreCommand) error {
	so := c.semaphoreByID(cmd.Semaphore)
	if so == nil {
		return ErrStreamFatal
	}
	so.dev.drv.DestroySemaphore(so.sem)
	c.removeObject(so.id)
	return nil
}

func (c *Context) dispatchGetSemaphoreCounterValue(cmd *GetSemaphoreCounterValueCommand) error {
	so := c.semaphoreByID(cmd.Semaphore)
	if so == nil {
		return ErrStreamFatal
	}
	value, err := so.dev.drv.SemaphoreValue(so.sem)
	if err != nil {
		return fmt.Errorf("virtgpu: semaphore counter value: %w", err)
	}
	cmd.Value = value
	return nil
}

func (c *Context) dispatchWaitSemaphores(cmd *WaitSemaphoresCommand) error {
	dev := c.device(cmd.Device)
	if dev == nil {
		return ErrStreamFatal
	}
	if len(cmd.Semaphores) != len(cmd.Values) {
		c.protocolViolation("semaphore wait value count mismatch", cmd.Device)
		return ErrStreamFatal
	}
	sems := make([]driver.Semaphore, len(cmd.Semaphores))
	for i, id := range cmd.Semaphores {
		so := c.semaphoreByID(id)
		if so == nil {
			return ErrStreamFatal
		}
		sems[i] = so.sem
	}
	ok, err := dev.drv.WaitSemaphores(sems, cmd.Values, cmd.WaitAll, cmd.Timeout)
	if err != nil {
		// A lost device cannot honor any further command from this
		// stream; other errors go back in the reply.
		if errors.Is(err, driver.ErrDeviceLost) {
			Logger().Error("virtgpu: device lost waiting on guest semaphores",
				slog.Uint64("context", uint64(c.id)),
				slog.Uint64("device", uint64(cmd.Device)))
			c.SetFatal()
			return ErrStreamFatal
		}
		return fmt.Errorf("virtgpu: wait semaphores: %w", err)
	}
	cmd.TimedOut = !ok
	return nil
}

func (c *Context) dispatchSignalSemaphore(cmd *SignalSemaphoreCommand) error {
	so := c.semaphoreByID(cmd.Semaphore)
	if so == nil {
		return ErrStreamFatal
	}
	if err := so.dev.drv.SignalSemaphore(so.sem, cmd.Value); err != nil {
		return fmt.Errorf("virtgpu: signal semaphore: %w", err)
	}
	return nil
}

// dispatchImportSemaphoreResource resets the external payload of a
// semaphore. Only the payload-reset form is virtualized: a nonzero resource
// id would name a guest resource this layer does not translate, so
// well-formed streams never send one.
func (c *Context) dispatchImportSemaphoreResource(cmd *ImportSemaphoreResourceCommand) error {
	so := c.semaphoreByID(cmd.Semaphore)
	if so == nil {
		return ErrStreamFatal
	}
	if cmd.ResourceID != 0 {
		Logger().Error("virtgpu: semaphore import with nonzero resource id",
			slog.Uint64("context", uint64(c.id)),
			slog.Uint64("semaphore", uint64(cmd.Semaphore)),
			slog.Uint64("resource", cmd.ResourceID))
		c.SetFatal()
		return ErrStreamFatal
	}
	if err := so.dev.drv.ImportSemaphoreFD(so.sem, -1); err != nil {
		return fmt.Errorf("virtgpu: import semaphore payload: %w", err)
	}
	return nil
}

// dispatchWaitSemaphoreResource resets the external payload of a semaphore
// the way dispatchResetFenceResource does for fences: export the sync
// descriptor and close it, letting the export side effect carry the reset.
func (c *Context) dispatchWaitSemaphoreResource(cmd *WaitSemaphoreResourceCommand) error {
	so := c.semaphoreByID(cmd.Semaphore)
	if so == nil {
		return ErrStreamFatal
	}
	fd, err := so.dev.drv.ExportSemaphoreFD(so.sem)
	if err != nil {
		Logger().Error("virtgpu: semaphore payload export failed",
			slog.Uint64("context", uint64(c.id)),
			slog.Uint64("semaphore", uint64(cmd.Semaphore)),
			slog.String("error", err.Error()))
		c.SetFatal()
		return ErrStreamFatal
	}
	if fd >= 0 {
		_ = unix.Close(fd)
	}
	return nil
}
