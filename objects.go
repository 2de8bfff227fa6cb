// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package virtgpu

import "github.com/gogpu/virtgpu/driver"

// ObjectID is a guest-visible object identity. IDs are chosen by the guest,
// must be nonzero, and are unique within one context. The zero value means
// "no identity assigned".
type ObjectID uint64

// ObjectType identifies the kind of a tracked guest object.
type ObjectType uint8

// Tracked object kinds.
const (
	ObjectDevice ObjectType = iota + 1
	ObjectQueue
	ObjectFence
	ObjectSemaphore
	ObjectEvent
)

// objectTypeNames maps ObjectType values to their string representation.
var objectTypeNames = [...]string{
	ObjectDevice:    "Device",
	ObjectQueue:     "Queue",
	ObjectFence:     "Fence",
	ObjectSemaphore: "Semaphore",
	ObjectEvent:     "Event",
}

// String returns the string representation of an ObjectType.
func (t ObjectType) String() string {
	if int(t) < len(objectTypeNames) && objectTypeNames[t] != "" {
		return objectTypeNames[t]
	}
	return "Unknown"
}

// object is the bookkeeping shared by every tracked guest object kind.
// The id is zero until the guest assigns one.
type object struct {
	id  ObjectID
	typ ObjectType
}

func (o *object) objectID() ObjectID     { return o.id }
func (o *object) objectType() ObjectType { return o.typ }

// tracked is implemented by every guest-visible object kind stored in the
// context object table.
type tracked interface {
	objectID() ObjectID
	objectType() ObjectType
}

// fenceObject is a guest-created fence, distinct from the pooled fences the
// retirement engine submits on its own behalf.
type fenceObject struct {
	object
	dev   *Device
	fence driver.Fence
}

// semaphoreObject is a guest-created semaphore (binary or timeline).
type semaphoreObject struct {
	object
	dev *Device
	sem driver.Semaphore
}

// eventObject is a guest-created event.
type eventObject struct {
	object
	dev   *Device
	event driver.Event
}

// Compile-time checks that all object kinds are tracked.
var (
	_ tracked = (*Device)(nil)
	_ tracked = (*Queue)(nil)
	_ tracked = (*fenceObject)(nil)
	_ tracked = (*semaphoreObject)(nil)
	_ tracked = (*eventObject)(nil)
)
