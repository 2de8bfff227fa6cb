package virtgpu

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/virtgpu/driver"
)

// fakeFence is a host-controlled fence: tests signal it explicitly so the
// retirement worker can be steered through every state.
type fakeFence struct {
	mu       sync.Mutex
	signaled bool
	ch       chan struct{} // closed on signal, replaced on reset
}

func newFakeFence(signaled bool) *fakeFence {
	f := &fakeFence{signaled: signaled, ch: make(chan struct{})}
	if signaled {
		close(f.ch)
	}
	return f
}

func (f *fakeFence) signal() {
	f.mu.Lock()
	if !f.signaled {
		f.signaled = true
		close(f.ch)
	}
	f.mu.Unlock()
}

func (f *fakeFence) reset() {
	f.mu.Lock()
	if f.signaled {
		f.signaled = false
		f.ch = make(chan struct{})
	}
	f.mu.Unlock()
}

func (f *fakeFence) wait(timeout time.Duration) bool {
	f.mu.Lock()
	if f.signaled {
		f.mu.Unlock()
		return true
	}
	ch := f.ch
	f.mu.Unlock()
	if timeout <= 0 {
		return false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}

// fakeSemaphore is a trivial monotonic counter.
type fakeSemaphore struct {
	timeline bool
	initial  uint64

	mu  sync.Mutex
	val uint64
}

func (s *fakeSemaphore) value() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.val
}

// fakeEvent is a plain binary flag.
type fakeEvent struct {
	signaled atomic.Bool
}

// fakeQueue records fence-only submissions in order and can be primed to
// fail them.
type fakeQueue struct {
	flags  uint32
	family uint32
	index  uint32

	// autoSignal signals each fence as it is submitted, like an idle GPU.
	autoSignal bool

	mu        sync.Mutex
	submitErr error
	sticky    bool
	submitted []*fakeFence
}

func (q *fakeQueue) Flags() uint32  { return q.flags }
func (q *fakeQueue) Family() uint32 { return q.family }
func (q *fakeQueue) Index() uint32  { return q.index }

func (q *fakeQueue) Submit(f driver.Fence) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.submitErr != nil {
		err := q.submitErr
		if !q.sticky {
			q.submitErr = nil
		}
		return err
	}
	ff := f.(*fakeFence)
	q.submitted = append(q.submitted, ff)
	if q.autoSignal {
		ff.signal()
	}
	return nil
}

// failWith primes the queue to fail submissions with err. With sticky set,
// every submission fails; otherwise only the next one.
func (q *fakeQueue) failWith(err error, sticky bool) {
	q.mu.Lock()
	q.submitErr = err
	q.sticky = sticky
	q.mu.Unlock()
}

// fence returns the i-th submitted fence.
func (q *fakeQueue) fence(i int) *fakeFence {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submitted[i]
}

// fakeDevice implements driver.Device entirely in memory, with call
// counters for the paths the engine exercises.
type fakeDevice struct {
	caps   driver.Capabilities
	queues []driver.Queue

	// waitLimit caps the timeout the engine passes to WaitFence so tests
	// can force timeout retries without waiting for real seconds.
	waitLimit time.Duration

	// waitErr, when set, makes every fence and semaphore wait fail.
	waitErr error

	// exportErr, when set, makes descriptor exports fail.
	exportErr error

	createCalls     atomic.Int32
	destroyCalls    atomic.Int32
	resetCalls      atomic.Int32
	waitCalls       atomic.Int32
	exportCalls     atomic.Int32
	exportSemCalls  atomic.Int32
	destroySemCalls atomic.Int32
	destroyEvCalls  atomic.Int32
	destroyed       atomic.Bool
}

// newFakeDevice builds a device with n queues, all family 0, indexed in
// order. Capabilities default to everything supported.
func newFakeDevice(n int) *fakeDevice {
	d := &fakeDevice{
		caps: driver.Capabilities{ExportableFences: true, TimelineSemaphores: true},
	}
	for i := range n {
		d.queues = append(d.queues, &fakeQueue{index: uint32(i)})
	}
	return d
}

// fq returns the i-th queue as a *fakeQueue.
func (d *fakeDevice) fq(i int) *fakeQueue { return d.queues[i].(*fakeQueue) }

func (d *fakeDevice) Capabilities() driver.Capabilities { return d.caps }
func (d *fakeDevice) Queues() []driver.Queue            { return d.queues }
func (d *fakeDevice) Destroy()                          { d.destroyed.Store(true) }

func (d *fakeDevice) CreateFence(opts driver.FenceOptions) (driver.Fence, error) {
	d.createCalls.Add(1)
	return newFakeFence(opts.Signaled), nil
}

func (d *fakeDevice) DestroyFence(f driver.Fence) {
	d.destroyCalls.Add(1)
}

func (d *fakeDevice) ResetFences(fences ...driver.Fence) error {
	d.resetCalls.Add(1)
	for _, f := range fences {
		f.(*fakeFence).reset()
	}
	return nil
}

func (d *fakeDevice) WaitFence(f driver.Fence, timeout time.Duration) (bool, error) {
	d.waitCalls.Add(1)
	if d.waitErr != nil {
		return false, d.waitErr
	}
	if d.waitLimit > 0 && timeout > d.waitLimit {
		timeout = d.waitLimit
	}
	return f.(*fakeFence).wait(timeout), nil
}

func (d *fakeDevice) WaitFences(fences []driver.Fence, waitAll bool, timeout time.Duration) (bool, error) {
	if d.waitErr != nil {
		return false, d.waitErr
	}
	deadline := time.Now().Add(timeout)
	if waitAll {
		for _, f := range fences {
			if !f.(*fakeFence).wait(max(time.Until(deadline), 0)) {
				return false, nil
			}
		}
		return true, nil
	}
	for {
		for _, f := range fences {
			if f.(*fakeFence).wait(0) {
				return true, nil
			}
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (d *fakeDevice) FenceStatus(f driver.Fence) (bool, error) {
	return f.(*fakeFence).wait(0), nil
}

func (d *fakeDevice) ExportFenceFD(f driver.Fence) (int, error) {
	d.exportCalls.Add(1)
	if d.exportErr != nil {
		return -1, d.exportErr
	}
	// No real descriptor to hand out; the engine only needs the export
	// side effect.
	return -1, nil
}

func (d *fakeDevice) CreateSemaphore(opts driver.SemaphoreOptions) (driver.Semaphore, error) {
	initial := opts.InitialValue
	if !opts.Timeline {
		initial = 0
	}
	return &fakeSemaphore{timeline: opts.Timeline, initial: initial, val: initial}, nil
}

func (d *fakeDevice) DestroySemaphore(s driver.Semaphore) {
	d.destroySemCalls.Add(1)
}

func (d *fakeDevice) SemaphoreValue(s driver.Semaphore) (uint64, error) {
	return s.(*fakeSemaphore).value(), nil
}

func (d *fakeDevice) WaitSemaphores(sems []driver.Semaphore, values []uint64, waitAll bool, timeout time.Duration) (bool, error) {
	if d.waitErr != nil {
		return false, d.waitErr
	}
	deadline := time.Now().Add(timeout)
	for {
		reached := 0
		for i, s := range sems {
			if s.(*fakeSemaphore).value() >= values[i] {
				if !waitAll {
					return true, nil
				}
				reached++
			}
		}
		if waitAll && reached == len(sems) {
			return true, nil
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (d *fakeDevice) SignalSemaphore(s driver.Semaphore, value uint64) error {
	fs := s.(*fakeSemaphore)
	fs.mu.Lock()
	if value > fs.val {
		fs.val = value
	}
	fs.mu.Unlock()
	return nil
}

func (d *fakeDevice) ImportSemaphoreFD(s driver.Semaphore, fd int) error {
	if fd >= 0 {
		return driver.ErrUnsupported
	}
	fs := s.(*fakeSemaphore)
	fs.mu.Lock()
	fs.val = fs.initial
	fs.mu.Unlock()
	return nil
}

func (d *fakeDevice) ExportSemaphoreFD(s driver.Semaphore) (int, error) {
	d.exportSemCalls.Add(1)
	if d.exportErr != nil {
		return -1, d.exportErr
	}
	return -1, nil
}

func (d *fakeDevice) CreateEvent() (driver.Event, error) {
	return &fakeEvent{}, nil
}

func (d *fakeDevice) DestroyEvent(e driver.Event) {
	d.destroyEvCalls.Add(1)
}

func (d *fakeDevice) EventStatus(e driver.Event) (bool, error) {
	return e.(*fakeEvent).signaled.Load(), nil
}

func (d *fakeDevice) SetEvent(e driver.Event) error {
	e.(*fakeEvent).signaled.Store(true)
	return nil
}

func (d *fakeDevice) ResetEvent(e driver.Event) error {
	e.(*fakeEvent).signaled.Store(false)
	return nil
}

// retireCall is one recorded completion.
type retireCall struct {
	ring  uint32
	token uint64
}

// retireRecorder collects retire callbacks and lets tests block until a
// given number arrived.
type retireRecorder struct {
	mu    sync.Mutex
	calls []retireCall
	ch    chan retireCall
}

func newRetireRecorder() *retireRecorder {
	return &retireRecorder{ch: make(chan retireCall, 128)}
}

func (r *retireRecorder) fn(ringIdx uint32, token uint64) {
	call := retireCall{ring: ringIdx, token: token}
	r.mu.Lock()
	r.calls = append(r.calls, call)
	r.mu.Unlock()
	r.ch <- call
}

// wait blocks until n more callbacks arrived, failing the test after two
// seconds.
func (r *retireRecorder) wait(t *testing.T, n int) []retireCall {
	t.Helper()
	got := make([]retireCall, 0, n)
	timer := time.NewTimer(2 * time.Second)
	defer timer.Stop()
	for len(got) < n {
		select {
		case call := <-r.ch:
			got = append(got, call)
		case <-timer.C:
			t.Fatalf("timed out waiting for retirement %d of %d", len(got)+1, n)
		}
	}
	return got
}

// snapshot copies all callbacks recorded so far.
func (r *retireRecorder) snapshot() []retireCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]retireCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// poolLen reads the device free-pool size.
func poolLen(d *Device) int {
	d.syncMu.Lock()
	defer d.syncMu.Unlock()
	return len(d.freeSyncs)
}

// waitPoolLen polls until the free pool holds at least n objects. Retire
// callbacks fire before the object returns to the pool, so tests that
// depend on recycling wait here instead of racing the worker.
func waitPoolLen(t *testing.T, d *Device, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for poolLen(d) < n {
		if time.Now().After(deadline) {
			t.Fatalf("free pool never reached %d objects (have %d)", n, poolLen(d))
		}
		time.Sleep(time.Millisecond)
	}
}
