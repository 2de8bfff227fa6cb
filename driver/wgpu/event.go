// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"sync/atomic"

	"github.com/gogpu/virtgpu/driver"
)

// event is a host-side binary flag. Guests poll it; nothing blocks on it.
type event struct {
	signaled atomic.Bool
}

func asEvent(de driver.Event) (*event, error) {
	e, ok := de.(*event)
	if !ok {
		return nil, errForeignHandle
	}
	return e, nil
}

func (d *device) CreateEvent() (driver.Event, error) {
	return &event{}, nil
}

func (d *device) DestroyEvent(de driver.Event) {
	// Host memory only; nothing to release.
}

func (d *device) EventStatus(de driver.Event) (bool, error) {
	e, err := asEvent(de)
	if err != nil {
		return false, err
	}
	return e.signaled.Load(), nil
}

func (d *device) SetEvent(de driver.Event) error {
	e, err := asEvent(de)
	if err != nil {
		return err
	}
	e.signaled.Store(true)
	return nil
}

func (d *device) ResetEvent(de driver.Event) error {
	e, err := asEvent(de)
	if err != nil {
		return err
	}
	e.signaled.Store(false)
	return nil
}
