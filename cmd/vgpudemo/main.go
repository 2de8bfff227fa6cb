// Command vgpudemo exercises the virtgpu fence-retirement engine: it opens
// a driver device, binds its queue to a ring, floods the ring with fence
// submissions from concurrent submitters, and reports retirement throughput.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/virtgpu"
	"github.com/gogpu/virtgpu/driver"
	_ "github.com/gogpu/virtgpu/driver/wgpu"
)

func main() {
	var (
		driverName  = flag.String("driver", driver.NameNoop, "driver to use (wgpu, noop)")
		submitters  = flag.Int("submitters", 4, "concurrent submitter goroutines")
		submissions = flag.Int("submissions", 1000, "fence submissions per submitter")
		verbose     = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	if *verbose {
		virtgpu.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	drv := driver.Get(*driverName)
	if drv == nil {
		log.Fatalf("unknown driver %q (available: %v)", *driverName, driver.Available())
	}
	if err := drv.Init(); err != nil {
		log.Fatalf("driver init: %v", err)
	}
	defer drv.Close()

	dev, err := drv.CreateDevice()
	if err != nil {
		log.Fatalf("create device: %v", err)
	}
	defer dev.Destroy()

	total := int64(*submitters) * int64(*submissions)
	var retired atomic.Int64
	done := make(chan struct{})

	ctx := virtgpu.NewContext(1,
		virtgpu.WithLabel("vgpudemo"),
		virtgpu.WithRetireFunc(func(ringIdx uint32, token uint64) {
			if retired.Add(1) == total {
				close(done)
			}
		}),
	)

	if _, err := ctx.AttachDevice(1, dev); err != nil {
		log.Fatalf("attach device: %v", err)
	}

	// The guest names the queue and binds it to ring 1.
	err = ctx.Dispatch(&virtgpu.GetDeviceQueue2Command{
		Device: 1, Queue: 2, BindRing: true, RingIndex: 1,
	})
	if err != nil {
		log.Fatalf("bind queue: %v", err)
	}

	demoGuestObjects(ctx)

	log.Printf("submitting %d fences on ring 1 (%d goroutines x %d)",
		total, *submitters, *submissions)

	start := time.Now()
	var g errgroup.Group
	for i := range *submitters {
		base := uint64(i) * uint64(*submissions)
		g.Go(func() error {
			for j := range *submissions {
				token := base + uint64(j)
				if err := ctx.SubmitFence(0, 1, token); err != nil {
					return fmt.Errorf("submit fence %d: %w", token, err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("submission failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		log.Fatalf("timed out: %d of %d fences retired", retired.Load(), total)
	}
	elapsed := time.Since(start)

	ctx.Destroy()

	log.Printf("retired %d fences in %v (%.0f/s)",
		retired.Load(), elapsed.Round(time.Millisecond),
		float64(total)/elapsed.Seconds())
}

// demoGuestObjects replays a handful of guest synchronization commands
// against the dispatch surface.
func demoGuestObjects(ctx *virtgpu.Context) {
	err := ctx.Dispatch(&virtgpu.CreateSemaphoreCommand{
		Device: 1, Semaphore: 10, Timeline: true, InitialValue: 3,
	})
	if err != nil {
		log.Fatalf("create semaphore: %v", err)
	}
	if err := ctx.Dispatch(&virtgpu.SignalSemaphoreCommand{Device: 1, Semaphore: 10, Value: 8}); err != nil {
		log.Fatalf("signal semaphore: %v", err)
	}
	counter := &virtgpu.GetSemaphoreCounterValueCommand{Device: 1, Semaphore: 10}
	if err := ctx.Dispatch(counter); err != nil {
		log.Fatalf("semaphore counter: %v", err)
	}

	if err := ctx.Dispatch(&virtgpu.CreateFenceCommand{Device: 1, Fence: 11, Signaled: true}); err != nil {
		log.Fatalf("create fence: %v", err)
	}
	status := &virtgpu.GetFenceStatusCommand{Device: 1, Fence: 11}
	if err := ctx.Dispatch(status); err != nil {
		log.Fatalf("fence status: %v", err)
	}

	if err := ctx.Dispatch(&virtgpu.CreateEventCommand{Device: 1, Event: 12}); err != nil {
		log.Fatalf("create event: %v", err)
	}
	if err := ctx.Dispatch(&virtgpu.SetEventCommand{Device: 1, Event: 12}); err != nil {
		log.Fatalf("set event: %v", err)
	}
	event := &virtgpu.GetEventStatusCommand{Device: 1, Event: 12}
	if err := ctx.Dispatch(event); err != nil {
		log.Fatalf("event status: %v", err)
	}

	log.Printf("guest objects: semaphore counter=%d fence signaled=%v event signaled=%v",
		counter.Value, status.Signaled, event.Signaled)
}
