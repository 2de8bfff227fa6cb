// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package virtgpu

import "fmt"

func (c *Context) dispatchCreateEvent(cmd *CreateEventCommand) error {
	dev := c.device(cmd.Device)
	if dev == nil {
		return ErrStreamFatal
	}
	if !c.validateNewID(cmd.Event) {
		return ErrStreamFatal
	}
	ev, err := dev.drv.CreateEvent()
	if err != nil {
		return fmt.Errorf("virtgpu: create event: %w", err)
	}
	c.registerObject(&eventObject{
		object: object{id: cmd.Event, typ: ObjectEvent},
		dev:    dev,
		event:  ev,
	})
	return nil
}

func (c *Context) dispatchDestroyEvent(cmd *DestroyEventCommand) error {
	eo := c.eventByID(cmd.Event)
	if eo == nil {
		return ErrStreamFatal
	}
	eo.dev.drv.DestroyEvent(eo.event)
	c.removeObject(eo.id)
	return nil
}

func (c *Context) dispatchGetEventStatus(cmd *GetEventStatusCommand) error {
	eo := c.eventByID(cmd.Event)
	if eo == nil {
		return ErrStreamFatal
	}
	signaled, err := eo.dev.drv.EventStatus(eo.event)
	if err != nil {
		return fmt.Errorf("virtgpu: event status: %w", err)
	}
	cmd.Signaled = signaled
	return nil
}

func (c *Context) dispatchSetEvent(cmd *SetEventCommand) error {
	eo := c.eventByID(cmd.Event)
	if eo == nil {
		return ErrStreamFatal
	}
	if err := eo.dev.drv.SetEvent(eo.event); err != nil {
		return fmt.Errorf("virtgpu: set event: %w", err)
	}
	return nil
}

func (c *Context) dispatchResetEvent(cmd *ResetEventCommand) error {
	eo := c.eventByID(cmd.Event)
	if eo == nil {
		return ErrStreamFatal
	}
	if err := eo.dev.drv.ResetEvent(eo.event); err != nil {
		return fmt.Errorf("virtgpu: reset event: %w", err)
	}
	return nil
}
