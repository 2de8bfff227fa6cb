// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package virtgpu

import "log/slog"

func (c *Context) dispatchGetDeviceQueue(cmd *GetDeviceQueueCommand) error {
	dev := c.device(cmd.Device)
	if dev == nil {
		return ErrStreamFatal
	}
	q := dev.queue(0, cmd.Family, cmd.Index)
	if q == nil {
		Logger().Error("virtgpu: no such device queue",
			slog.Uint64("context", uint64(c.id)),
			slog.Uint64("family", uint64(cmd.Family)),
			slog.Uint64("index", uint64(cmd.Index)))
		c.SetFatal()
		return ErrStreamFatal
	}
	q.setID(cmd.Queue)
	if c.fatal.Load() {
		return ErrStreamFatal
	}
	return nil
}

func (c *Context) dispatchGetDeviceQueue2(cmd *GetDeviceQueue2Command) error {
	dev := c.device(cmd.Device)
	if dev == nil {
		return ErrStreamFatal
	}
	q := dev.queue(cmd.Flags, cmd.Family, cmd.Index)
	if q == nil {
		Logger().Error("virtgpu: no such device queue",
			slog.Uint64("context", uint64(c.id)),
			slog.Uint64("flags", uint64(cmd.Flags)),
			slog.Uint64("family", uint64(cmd.Family)),
			slog.Uint64("index", uint64(cmd.Index)))
		c.SetFatal()
		return ErrStreamFatal
	}
	q.setID(cmd.Queue)
	if c.fatal.Load() {
		return ErrStreamFatal
	}
	if cmd.BindRing {
		c.bindRing(q, cmd.RingIndex)
		if c.fatal.Load() {
			return ErrStreamFatal
		}
	}
	return nil
}

// dispatchQueueWaitIdle rejects the command outright: the stream must never
// block the decoder, and unlike a fence wait there is no timeout to bound
// an idle wait.
func (c *Context) dispatchQueueWaitIdle(cmd *QueueWaitIdleCommand) error {
	Logger().Error("virtgpu: QueueWaitIdle is not allowed on the command stream",
		slog.Uint64("context", uint64(c.id)),
		slog.Uint64("queue", uint64(cmd.Queue)))
	c.SetFatal()
	return ErrStreamFatal
}
