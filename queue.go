// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package virtgpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/virtgpu/driver"
)

// SyncFlags carries opaque transport-defined submission flags through to
// the retire path. The engine never interprets them.
type SyncFlags uint32

// syncWaitTimeout bounds each driver wait in the retirement loop. A timed
// out wait is retried on the same fence; the retry is also how the worker
// notices a pending join request, so this value caps teardown latency.
const syncWaitTimeout = 3 * time.Second

// syncFence is one pending completion unit: a pooled native fence plus the
// submission metadata echoed back on retirement. It is owned by exactly one
// of the device free pool or one queue's in-flight registry at any time.
type syncFence struct {
	fence driver.Fence

	flags      SyncFlags
	ringIdx    uint32
	token      uint64
	deviceLost bool
}

// Queue is a virtual command-submission channel backed by one driver queue.
// It owns a FIFO registry of in-flight synchronization objects and the
// retirement worker goroutine that observes them in submission order.
type Queue struct {
	object
	dev      *Device
	drvQueue driver.Queue

	// Identity key for guest lookup, fixed at discovery.
	flags  uint32
	family uint32
	index  uint32

	// ringIdx is 0 until the guest binds the queue to a ring slot. Read by
	// submitters, written by the dispatch goroutine.
	ringIdx atomic.Uint32

	// mu guards pending and join; cond wakes the worker on submission and
	// on join request. Never held across a driver call.
	mu      sync.Mutex
	cond    *sync.Cond
	pending []*syncFence
	join    bool

	// done is closed when the worker goroutine exits.
	done chan struct{}
}

// newQueue wraps a driver queue and starts its retirement worker.
func newQueue(dev *Device, drvQueue driver.Queue) *Queue {
	q := &Queue{
		object:   object{typ: ObjectQueue},
		dev:      dev,
		drvQueue: drvQueue,
		flags:    drvQueue.Flags(),
		family:   drvQueue.Family(),
		index:    drvQueue.Index(),
		done:     make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.retireLoop()
	return q
}

// ID returns the guest-visible identity, or zero if none was assigned.
func (q *Queue) ID() ObjectID { return q.id }

// RingIndex returns the bound ring slot, or zero if the queue is unbound.
func (q *Queue) RingIndex() uint32 { return q.ringIdx.Load() }

// Family returns the driver queue family index.
func (q *Queue) Family() uint32 { return q.family }

// Index returns the driver queue index within its family.
func (q *Queue) Index() uint32 { return q.index }

// setID assigns the guest-visible identity. Assignment happens at most
// once: repeating the same id is a no-op, a different id is a protocol
// violation and leaves the stored identity unchanged.
func (q *Queue) setID(id ObjectID) {
	ctx := q.dev.ctx
	if q.id != 0 {
		if q.id == id {
			return
		}
		Logger().Error("virtgpu: queue identity reassigned",
			slog.Uint64("context", uint64(ctx.id)),
			slog.Uint64("have", uint64(q.id)),
			slog.Uint64("got", uint64(id)))
		ctx.SetFatal()
		return
	}
	if !ctx.validateNewID(id) {
		return
	}
	q.id = id
	ctx.registerObject(q)
}

// SubmitSync acquires a pooled synchronization object, submits it to the
// driver as a fence-only submission (the fence signals once all previously
// submitted work on the queue completes), and hands it to the retirement
// worker. The token is echoed to the retire callback unchanged.
//
// A device-lost report from the driver is not a failure: the object is
// marked and retires immediately. Any other submission failure releases the
// object back to the pool and is returned to the caller.
func (q *Queue) SubmitSync(flags SyncFlags, token uint64) error {
	sf, err := q.dev.allocSync(flags, q.ringIdx.Load(), token)
	if err != nil {
		return err
	}

	if err := q.drvQueue.Submit(sf.fence); err != nil {
		if !errors.Is(err, driver.ErrDeviceLost) {
			q.dev.freeSync(sf)
			return fmt.Errorf("virtgpu: fence submission: %w", err)
		}
		sf.deviceLost = true
		Logger().Warn("virtgpu: device lost on fence submission",
			slog.Uint64("context", uint64(q.dev.ctx.id)),
			slog.Uint64("token", token))
	}

	q.mu.Lock()
	q.pending = append(q.pending, sf)
	q.mu.Unlock()
	q.cond.Signal()
	return nil
}

// retireLoop is the retirement worker. It observes the oldest in-flight
// object, waits for the driver to signal its fence, and retires it: strict
// FIFO per queue, one object at a time. Timed out waits retry the same
// object so a join request is noticed within syncWaitTimeout.
func (q *Queue) retireLoop() {
	defer close(q.done)

	Logger().Debug("virtgpu: retirement worker started",
		slog.Uint64("context", uint64(q.dev.ctx.id)),
		slog.Uint64("family", uint64(q.family)),
		slog.Uint64("index", uint64(q.index)))

	q.mu.Lock()
	for {
		for len(q.pending) == 0 && !q.join {
			q.cond.Wait()
		}
		if q.join {
			break
		}

		// Observe the head without removing it; it stays visible to the
		// drain path until actually retired.
		sf := q.pending[0]
		q.mu.Unlock()

		observed := true
		if !sf.deviceLost {
			ok, err := q.dev.drv.WaitFence(sf.fence, syncWaitTimeout)
			switch {
			case err != nil:
				// A failing wait means the device is lost or unusable;
				// retirement must still happen exactly once.
				Logger().Warn("virtgpu: fence wait failed",
					slog.Uint64("token", sf.token),
					slog.String("error", err.Error()))
			case !ok:
				observed = false
			}
		}

		q.mu.Lock()
		if !observed {
			continue
		}
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.retireSync(sf)
		q.mu.Lock()
	}
	q.mu.Unlock()

	Logger().Debug("virtgpu: retirement worker exited",
		slog.Uint64("context", uint64(q.dev.ctx.id)),
		slog.Uint64("queue", uint64(q.id)))
}

// retireSync reports a completion upstream and recycles the object. Called
// with no locks held, either from the worker or from the drain in Destroy.
func (q *Queue) retireSync(sf *syncFence) {
	if fn := q.dev.ctx.retire; fn != nil {
		fn(sf.ringIdx, sf.token)
	}
	q.dev.freeSync(sf)
}

// Destroy joins the retirement worker and synchronously retires anything
// left in the registry. The caller must have ensured the device is idle, so
// the drain never touches the driver. Bound ring slots are released and a
// guest-assigned identity is removed from the object table.
func (q *Queue) Destroy() {
	q.mu.Lock()
	q.join = true
	q.mu.Unlock()
	q.cond.Signal()
	<-q.done

	// The worker has exited; nothing else touches pending now.
	for _, sf := range q.pending {
		q.retireSync(sf)
	}
	q.pending = nil

	ctx := q.dev.ctx
	if ring := q.ringIdx.Load(); ring != 0 {
		ctx.clearRing(ring, q)
	}
	if q.id != 0 {
		ctx.removeObject(q.id)
	}
}
