// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package virtgpu

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gogpu/virtgpu/driver"
	"github.com/gogpu/virtgpu/internal/objtable"
)

// RetireFunc is the completion callback invoked once per retired
// synchronization object with the ring index and the caller-supplied token.
// It runs on a retirement worker goroutine with no package locks held, so it
// may call back into the context (for example to submit more fences).
type RetireFunc func(ringIdx uint32, token uint64)

// Context is the per-guest stream state. It owns the guest-object table,
// the ring binding table, the stream-fatal flag, and the retire callback.
//
// A Context is created by the embedder for each guest stream, populated
// with devices through AttachDevice, driven by decoded commands through
// Dispatch, and torn down with Destroy.
type Context struct {
	id     uint32
	label  string
	retire RetireFunc

	// fatal is set on the first protocol violation and never cleared.
	fatal     atomic.Bool
	destroyed atomic.Bool

	objects *objtable.Table[tracked]

	// rings maps ring indices to bound queues. Slot 0 stays nil.
	ringMu sync.RWMutex
	rings  []*Queue

	devMu   sync.Mutex
	devices []*Device
}

// NewContext creates a stream context with the given guest context id.
func NewContext(id uint32, opts ...ContextOption) *Context {
	o := defaultContextOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Context{
		id:      id,
		label:   o.label,
		retire:  o.retire,
		objects: objtable.New[tracked](),
		rings:   make([]*Queue, o.ringCount),
	}
}

// ID returns the guest context id.
func (c *Context) ID() uint32 { return c.id }

// Fatal reports whether the command stream has been marked fatally invalid.
// Once set, Dispatch rejects all further commands.
func (c *Context) Fatal() bool { return c.fatal.Load() }

// SetFatal marks the command stream permanently invalid. The decoder calls
// this when it encounters malformed wire data; handlers call it on protocol
// violations. Setting it twice is harmless.
func (c *Context) SetFatal() {
	if !c.fatal.Swap(true) {
		Logger().Error("virtgpu: command stream marked fatal",
			slog.Uint64("context", uint64(c.id)),
			slog.String("label", c.label))
	}
}

// protocolViolation logs a violation attributed to a guest object and marks
// the stream fatal.
func (c *Context) protocolViolation(msg string, id ObjectID) {
	Logger().Error("virtgpu: "+msg,
		slog.Uint64("context", uint64(c.id)),
		slog.Uint64("object", uint64(id)))
	c.SetFatal()
}

// validateNewID checks a guest-chosen id against the context id space:
// nonzero and not yet in use. A failed validation is a protocol violation.
func (c *Context) validateNewID(id ObjectID) bool {
	if id == 0 || c.objects.Contains(uint64(id)) {
		c.protocolViolation("invalid or duplicate object id", id)
		return false
	}
	return true
}

// registerObject stores a tracked object under its guest id.
func (c *Context) registerObject(t tracked) {
	c.objects.Put(uint64(t.objectID()), t)
}

// removeObject drops a tracked object from the table.
func (c *Context) removeObject(id ObjectID) {
	c.objects.Delete(uint64(id))
}

// lookup fetches a tracked object and checks its kind. A missing id or a
// kind mismatch is a protocol violation: the stream is marked fatal and nil
// is returned.
func (c *Context) lookup(id ObjectID, typ ObjectType) tracked {
	if t, ok := c.objects.Get(uint64(id)); ok && t.objectType() == typ {
		return t
	}
	c.protocolViolation("unknown "+typ.String()+" object", id)
	return nil
}

func (c *Context) device(id ObjectID) *Device {
	if t := c.lookup(id, ObjectDevice); t != nil {
		return t.(*Device)
	}
	return nil
}

func (c *Context) queueByID(id ObjectID) *Queue {
	if t := c.lookup(id, ObjectQueue); t != nil {
		return t.(*Queue)
	}
	return nil
}

func (c *Context) fenceByID(id ObjectID) *fenceObject {
	if t := c.lookup(id, ObjectFence); t != nil {
		return t.(*fenceObject)
	}
	return nil
}

func (c *Context) semaphoreByID(id ObjectID) *semaphoreObject {
	if t := c.lookup(id, ObjectSemaphore); t != nil {
		return t.(*semaphoreObject)
	}
	return nil
}

func (c *Context) eventByID(id ObjectID) *eventObject {
	if t := c.lookup(id, ObjectEvent); t != nil {
		return t.(*eventObject)
	}
	return nil
}

// AttachDevice wraps an opened driver device as a guest-visible object and
// discovers its queues, starting one retirement worker per queue. Device
// creation and capability discovery happen outside this package; the caller
// keeps ownership of the driver device itself.
func (c *Context) AttachDevice(id ObjectID, drv driver.Device) (*Device, error) {
	if c.destroyed.Load() {
		return nil, ErrContextDestroyed
	}
	if id == 0 {
		return nil, ErrInvalidObjectID
	}
	d := &Device{
		object: object{id: id, typ: ObjectDevice},
		ctx:    c,
		drv:    drv,
		caps:   drv.Capabilities(),
	}
	if !c.objects.PutIfAbsent(uint64(id), d) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidObjectID, id)
	}
	for _, dq := range drv.Queues() {
		d.queues = append(d.queues, newQueue(d, dq))
	}
	c.devMu.Lock()
	c.devices = append(c.devices, d)
	c.devMu.Unlock()

	Logger().Info("virtgpu: device attached",
		slog.Uint64("context", uint64(c.id)),
		slog.Uint64("device", uint64(id)),
		slog.Int("queues", len(d.queues)),
		slog.Bool("exportable_fences", d.caps.ExportableFences))
	return d, nil
}

// SubmitFence requests a completion fence on a bound ring: once all work
// previously submitted to the bound queue completes, the retire callback
// fires with (ringIdx, token). This is the host transport's entry point;
// ring bindings are established by the guest through GetDeviceQueue2
// commands.
//
// Unknown, out-of-range, or unbound rings fail with ErrRingUnbound; the
// transport owns the retry policy for those, so they are not treated as
// protocol violations.
func (c *Context) SubmitFence(flags SyncFlags, ringIdx uint32, token uint64) error {
	if c.destroyed.Load() {
		return ErrContextDestroyed
	}
	c.ringMu.RLock()
	var q *Queue
	if ringIdx > 0 && int(ringIdx) < len(c.rings) {
		q = c.rings[ringIdx]
	}
	c.ringMu.RUnlock()
	if q == nil {
		return fmt.Errorf("%w: ring %d", ErrRingUnbound, ringIdx)
	}
	return q.SubmitSync(flags, token)
}

// bindRing binds a queue to a ring slot. Ring 0 is reserved for "unbound",
// and a slot claimed by a different queue stays claimed: both cases are
// protocol violations. Rebinding the same queue to its own slot is a no-op.
func (c *Context) bindRing(q *Queue, ringIdx uint32) {
	c.ringMu.Lock()
	defer c.ringMu.Unlock()

	if ringIdx == 0 || int(ringIdx) >= len(c.rings) {
		c.protocolViolation(fmt.Sprintf("ring index %d out of range", ringIdx), q.id)
		return
	}
	if cur := c.rings[ringIdx]; cur != nil {
		if cur == q {
			return
		}
		c.protocolViolation(fmt.Sprintf("ring index %d already bound", ringIdx), q.id)
		return
	}
	if prev := q.ringIdx.Load(); prev != 0 {
		c.protocolViolation(fmt.Sprintf("queue already bound to ring %d", prev), q.id)
		return
	}
	c.rings[ringIdx] = q
	q.ringIdx.Store(ringIdx)

	Logger().Debug("virtgpu: queue bound to ring",
		slog.Uint64("context", uint64(c.id)),
		slog.Uint64("queue", uint64(q.id)),
		slog.Uint64("ring", uint64(ringIdx)))
}

// clearRing releases a ring slot if it is still held by q.
func (c *Context) clearRing(ringIdx uint32, q *Queue) {
	c.ringMu.Lock()
	defer c.ringMu.Unlock()
	if int(ringIdx) < len(c.rings) && c.rings[ringIdx] == q {
		c.rings[ringIdx] = nil
	}
}

// Destroy tears the context down: every attached device is destroyed (which
// joins the queue workers and drains their registries), stray guest sync
// objects are released through the driver, and further calls are rejected.
// The caller must have ensured the devices are idle.
func (c *Context) Destroy() {
	if c.destroyed.Swap(true) {
		return
	}
	c.devMu.Lock()
	devices := c.devices
	c.devices = nil
	c.devMu.Unlock()

	for _, d := range devices {
		d.Destroy()
	}

	// Guest objects the stream never destroyed.
	c.objects.Range(func(_ uint64, t tracked) bool {
		switch o := t.(type) {
		case *fenceObject:
			o.dev.drv.DestroyFence(o.fence)
		case *semaphoreObject:
			o.dev.drv.DestroySemaphore(o.sem)
		case *eventObject:
			o.dev.drv.DestroyEvent(o.event)
		}
		return true
	})
	c.objects.Clear()

	Logger().Info("virtgpu: context destroyed", slog.Uint64("context", uint64(c.id)))
}
