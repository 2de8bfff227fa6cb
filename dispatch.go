// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package virtgpu

import (
	"log/slog"
	"time"
)

// CommandType identifies the type of a decoded guest command.
type CommandType uint8

// Queue and synchronization commands replayed by the dispatch surface.
// Commands whose payloads belong to the resource-virtualization layer
// (ordinary queue submissions, sparse binding) are decoded and replayed
// elsewhere.
const (
	// Queue commands
	CmdGetDeviceQueue CommandType = iota
	CmdGetDeviceQueue2
	CmdQueueWaitIdle

	// Fence commands
	CmdCreateFence
	CmdDestroyFence
	CmdResetFences
	CmdGetFenceStatus
	CmdWaitForFences
	CmdResetFenceResource

	// Semaphore commands
	CmdCreateSemaphore
	CmdDestroySemaphore
	CmdGetSemaphoreCounterValue
	CmdWaitSemaphores
	CmdSignalSemaphore
	CmdImportSemaphoreResource
	CmdWaitSemaphoreResource

	// Event commands
	CmdCreateEvent
	CmdDestroyEvent
	CmdGetEventStatus
	CmdSetEvent
	CmdResetEvent
)

// commandTypeNames maps CommandType values to their string representation.
var commandTypeNames = [...]string{
	CmdGetDeviceQueue:           "GetDeviceQueue",
	CmdGetDeviceQueue2:          "GetDeviceQueue2",
	CmdQueueWaitIdle:            "QueueWaitIdle",
	CmdCreateFence:              "CreateFence",
	CmdDestroyFence:             "DestroyFence",
	CmdResetFences:              "ResetFences",
	CmdGetFenceStatus:           "GetFenceStatus",
	CmdWaitForFences:            "WaitForFences",
	CmdResetFenceResource:       "ResetFenceResource",
	CmdCreateSemaphore:          "CreateSemaphore",
	CmdDestroySemaphore:         "DestroySemaphore",
	CmdGetSemaphoreCounterValue: "GetSemaphoreCounterValue",
	CmdWaitSemaphores:           "WaitSemaphores",
	CmdSignalSemaphore:          "SignalSemaphore",
	CmdImportSemaphoreResource:  "ImportSemaphoreResource",
	CmdWaitSemaphoreResource:    "WaitSemaphoreResource",
	CmdCreateEvent:              "CreateEvent",
	CmdDestroyEvent:             "DestroyEvent",
	CmdGetEventStatus:           "GetEventStatus",
	CmdSetEvent:                 "SetEvent",
	CmdResetEvent:               "ResetEvent",
}

// String returns the string representation of a CommandType.
func (c CommandType) String() string {
	if int(c) < len(commandTypeNames) {
		return commandTypeNames[c]
	}
	return "Unknown"
}

// Command is the interface implemented by all decoded guest commands.
// The decoder builds a command struct from wire bytes and applies it with
// Context.Dispatch; fields named "out" in the doc comments are filled by
// the handler for the decoder to encode into the reply.
type Command interface {
	// Type returns the CommandType for this command.
	Type() CommandType
}

// GetDeviceQueueCommand assigns a guest identity to the device queue with
// the given family and index.
type GetDeviceQueueCommand struct {
	Device ObjectID
	Family uint32
	Index  uint32
	Queue  ObjectID // identity to assign
}

// GetDeviceQueue2Command assigns a guest identity to the device queue with
// the given flags, family and index, optionally binding it to a ring slot.
type GetDeviceQueue2Command struct {
	Device ObjectID
	Flags  uint32
	Family uint32
	Index  uint32
	Queue  ObjectID // identity to assign

	// BindRing requests binding the queue to RingIndex. Ring 0 is reserved
	// and rejected.
	BindRing  bool
	RingIndex uint32
}

// QueueWaitIdleCommand is a guest request to block until a queue is idle.
// Blocking calls are not allowed on the command stream; dispatching this is
// a protocol violation.
type QueueWaitIdleCommand struct {
	Queue ObjectID
}

// CreateFenceCommand creates a guest fence object.
type CreateFenceCommand struct {
	Device   ObjectID
	Fence    ObjectID // identity for the new fence
	Signaled bool     // create in the signaled state
}

// DestroyFenceCommand destroys a guest fence object.
type DestroyFenceCommand struct {
	Device ObjectID
	Fence  ObjectID
}

// ResetFencesCommand resets guest fences to the unsignaled state.
type ResetFencesCommand struct {
	Device ObjectID
	Fences []ObjectID
}

// GetFenceStatusCommand queries a guest fence.
type GetFenceStatusCommand struct {
	Device ObjectID
	Fence  ObjectID

	Signaled bool // out
}

// WaitForFencesCommand waits on guest fences with a guest-chosen timeout.
type WaitForFencesCommand struct {
	Device  ObjectID
	Fences  []ObjectID
	WaitAll bool
	Timeout time.Duration

	TimedOut bool // out
}

// ResetFenceResourceCommand resets the external payload of a guest fence by
// exporting a sync file descriptor and closing it. The descriptor handed to
// the guest travels over the transport, not through the command stream.
type ResetFenceResourceCommand struct {
	Device ObjectID
	Fence  ObjectID
}

// CreateSemaphoreCommand creates a guest semaphore object.
type CreateSemaphoreCommand struct {
	Device       ObjectID
	Semaphore    ObjectID // identity for the new semaphore
	Timeline     bool
	InitialValue uint64
}

// DestroySemaphoreCommand destroys a guest semaphore object.
type DestroySemaphoreCommand struct {
	Device    ObjectID
	Semaphore ObjectID
}

// GetSemaphoreCounterValueCommand queries a timeline semaphore counter.
type GetSemaphoreCounterValueCommand struct {
	Device    ObjectID
	Semaphore ObjectID

	Value uint64 // out
}

// WaitSemaphoresCommand waits for timeline semaphores to reach the paired
// values. Semaphores and Values must have equal length.
type WaitSemaphoresCommand struct {
	Device     ObjectID
	Semaphores []ObjectID
	Values     []uint64
	WaitAll    bool
	Timeout    time.Duration

	TimedOut bool // out
}

// SignalSemaphoreCommand signals a timeline semaphore to the given value.
type SignalSemaphoreCommand struct {
	Device    ObjectID
	Semaphore ObjectID
	Value     uint64
}

// ImportSemaphoreResourceCommand resets the external payload of a guest
// semaphore. Importing an actual guest resource is not virtualized here, so
// ResourceID must be zero.
type ImportSemaphoreResourceCommand struct {
	Device     ObjectID
	Semaphore  ObjectID
	ResourceID uint64
}

// WaitSemaphoreResourceCommand resets the external payload of a guest
// semaphore by exporting its sync file descriptor and closing it, the
// semaphore analog of ResetFenceResource. The descriptor handed to the
// guest travels over the transport, not through the command stream.
type WaitSemaphoreResourceCommand struct {
	Device    ObjectID
	Semaphore ObjectID
}

// CreateEventCommand creates a guest event object.
type CreateEventCommand struct {
	Device ObjectID
	Event  ObjectID // identity for the new event
}

// DestroyEventCommand destroys a guest event object.
type DestroyEventCommand struct {
	Device ObjectID
	Event  ObjectID
}

// GetEventStatusCommand queries a guest event.
type GetEventStatusCommand struct {
	Device ObjectID
	Event  ObjectID

	Signaled bool // out
}

// SetEventCommand signals a guest event.
type SetEventCommand struct {
	Device ObjectID
	Event  ObjectID
}

// ResetEventCommand unsignals a guest event.
type ResetEventCommand struct {
	Device ObjectID
	Event  ObjectID
}

func (*GetDeviceQueueCommand) Type() CommandType           { return CmdGetDeviceQueue }
func (*GetDeviceQueue2Command) Type() CommandType          { return CmdGetDeviceQueue2 }
func (*QueueWaitIdleCommand) Type() CommandType            { return CmdQueueWaitIdle }
func (*CreateFenceCommand) Type() CommandType              { return CmdCreateFence }
func (*DestroyFenceCommand) Type() CommandType             { return CmdDestroyFence }
func (*ResetFencesCommand) Type() CommandType              { return CmdResetFences }
func (*GetFenceStatusCommand) Type() CommandType           { return CmdGetFenceStatus }
func (*WaitForFencesCommand) Type() CommandType            { return CmdWaitForFences }
func (*ResetFenceResourceCommand) Type() CommandType       { return CmdResetFenceResource }
func (*CreateSemaphoreCommand) Type() CommandType          { return CmdCreateSemaphore }
func (*DestroySemaphoreCommand) Type() CommandType         { return CmdDestroySemaphore }
func (*GetSemaphoreCounterValueCommand) Type() CommandType { return CmdGetSemaphoreCounterValue }
func (*WaitSemaphoresCommand) Type() CommandType           { return CmdWaitSemaphores }
func (*SignalSemaphoreCommand) Type() CommandType          { return CmdSignalSemaphore }
func (*ImportSemaphoreResourceCommand) Type() CommandType  { return CmdImportSemaphoreResource }
func (*WaitSemaphoreResourceCommand) Type() CommandType    { return CmdWaitSemaphoreResource }
func (*CreateEventCommand) Type() CommandType              { return CmdCreateEvent }
func (*DestroyEventCommand) Type() CommandType             { return CmdDestroyEvent }
func (*GetEventStatusCommand) Type() CommandType           { return CmdGetEventStatus }
func (*SetEventCommand) Type() CommandType                 { return CmdSetEvent }
func (*ResetEventCommand) Type() CommandType               { return CmdResetEvent }

// Dispatch applies one decoded guest command. Driver results are returned
// to the caller for the reply encoding; protocol violations mark the stream
// fatal and return ErrStreamFatal, as do all commands arriving after that.
//
// Dispatch is intended for a single decoder goroutine per context.
func (c *Context) Dispatch(cmd Command) error {
	if c.destroyed.Load() {
		return ErrContextDestroyed
	}
	if c.fatal.Load() {
		return ErrStreamFatal
	}

	switch cmd := cmd.(type) {
	case *GetDeviceQueueCommand:
		return c.dispatchGetDeviceQueue(cmd)
	case *GetDeviceQueue2Command:
		return c.dispatchGetDeviceQueue2(cmd)
	case *QueueWaitIdleCommand:
		return c.dispatchQueueWaitIdle(cmd)
	case *CreateFenceCommand:
		return c.dispatchCreateFence(cmd)
	case *DestroyFenceCommand:
		return c.dispatchDestroyFence(cmd)
	case *ResetFencesCommand:
		return c.dispatchResetFences(cmd)
	case *GetFenceStatusCommand:
		return c.dispatchGetFenceStatus(cmd)
	case *WaitForFencesCommand:
		return c.dispatchWaitForFences(cmd)
	case *ResetFenceResourceCommand:
		return c.dispatchResetFenceResource(cmd)
	case *CreateSemaphoreCommand:
		return c.dispatchCreateSemaphore(cmd)
	case *DestroySemaphoreCommand:
		return c.dispatchDestroySemaphore(cmd)
	case *GetSemaphoreCounterValueCommand:
		return c.dispatchGetSemaphoreCounterValue(cmd)
	case *WaitSemaphoresCommand:
		return c.dispatchWaitSemaphores(cmd)
	case *SignalSemaphoreCommand:
		return c.dispatchSignalSemaphore(cmd)
	case *ImportSemaphoreResourceCommand:
		return c.dispatchImportSemaphoreResource(cmd)
	case *WaitSemaphoreResourceCommand:
		return c.dispatchWaitSemaphoreResource(cmd)
	case *CreateEventCommand:
		return c.dispatchCreateEvent(cmd)
	case *DestroyEventCommand:
		return c.dispatchDestroyEvent(cmd)
	case *GetEventStatusCommand:
		return c.dispatchGetEventStatus(cmd)
	case *SetEventCommand:
		return c.dispatchSetEvent(cmd)
	case *ResetEventCommand:
		return c.dispatchResetEvent(cmd)
	default:
		Logger().Error("virtgpu: unknown command",
			slog.Uint64("context", uint64(c.id)),
			slog.String("type", cmd.Type().String()))
		c.SetFatal()
		return ErrStreamFatal
	}
}
