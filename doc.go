// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package virtgpu implements the host side of GPU command-stream
// virtualization: a guest (a VM or a sandboxed client) records graphics
// commands, a transport delivers them to the host, and virtgpu replays the
// queue-synchronization subset against a real driver and reports fence
// completion back to the transport.
//
// The core of the package is the asynchronous fence-retirement engine. Each
// virtual queue owns a background worker that observes pooled fence objects
// in submission order and retires them through the context completion
// callback. Fence objects are recycled through a per-device free pool
// because native fence creation is comparatively expensive.
//
// # Architecture
//
//   - [Context] holds per-guest stream state: the guest-object table, the
//     ring binding table, the stream-fatal flag, and the retire callback.
//   - [Device] wraps a [driver.Device] and owns the fence pool and the set
//     of virtual queues discovered from the driver.
//   - [Queue] owns a FIFO registry of in-flight fences and the retirement
//     worker goroutine that drains it.
//   - Decoded guest commands are applied through [Context.Dispatch]; the
//     host transport requests completion fences through
//     [Context.SubmitFence].
//
// Drivers are registered in the driver package; driver/wgpu implements the
// contract on the gogpu/wgpu hardware abstraction layer.
//
// # Example
//
//	drv := driver.MustDefault()
//	if err := drv.Init(); err != nil {
//		log.Fatal(err)
//	}
//	defer drv.Close()
//
//	dev, err := drv.CreateDevice()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dev.Destroy()
//
//	ctx := virtgpu.NewContext(1, virtgpu.WithRetireFunc(func(ring uint32, token uint64) {
//		transport.Retire(ring, token)
//	}))
//	vdev, err := ctx.AttachDevice(1, dev)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer ctx.Destroy()
//
//	// Replay decoded guest commands.
//	err = ctx.Dispatch(&virtgpu.GetDeviceQueue2Command{
//		Device: 1, Queue: 2, BindRing: true, RingIndex: 1,
//	})
//
//	// Request a completion fence on ring 1.
//	err = ctx.SubmitFence(0, 1, token)
//
// # Thread safety
//
// [Context.Dispatch] is intended for a single decoder goroutine.
// [Context.SubmitFence] and [Queue.SubmitSync] are safe for concurrent use
// with each other and with the retirement workers. Retire callbacks run on
// worker goroutines with no package locks held.
package virtgpu
