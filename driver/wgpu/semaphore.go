// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"errors"
	"sync"
	"time"

	"github.com/gogpu/virtgpu/driver"
)

// semaphore emulates timeline semaphore semantics host-side. The counter
// only moves forward; every advance closes and replaces the signal channel
// so all waiters wake and re-check.
type semaphore struct {
	timeline bool
	initial  uint64

	mu     sync.Mutex
	val    uint64
	signal chan struct{}
}

func asSemaphore(ds driver.Semaphore) (*semaphore, error) {
	s, ok := ds.(*semaphore)
	if !ok {
		return nil, errForeignHandle
	}
	return s, nil
}

func (d *device) CreateSemaphore(opts driver.SemaphoreOptions) (driver.Semaphore, error) {
	initial := opts.InitialValue
	if !opts.Timeline {
		// Binary semaphores start unsignaled.
		initial = 0
	}
	return &semaphore{
		timeline: opts.Timeline,
		initial:  initial,
		val:      initial,
		signal:   make(chan struct{}),
	}, nil
}

func (d *device) DestroySemaphore(ds driver.Semaphore) {
	// Host memory only; nothing to release.
}

func (d *device) SemaphoreValue(ds driver.Semaphore) (uint64, error) {
	s, err := asSemaphore(ds)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.val, nil
}

func (d *device) SignalSemaphore(ds driver.Semaphore, value uint64) error {
	s, err := asSemaphore(ds)
	if err != nil {
		return err
	}
	s.advance(value)
	return nil
}

func (d *device) WaitSemaphores(sems []driver.Semaphore, values []uint64, waitAll bool, timeout time.Duration) (bool, error) {
	if len(sems) != len(values) {
		return false, errors.New("wgpu: semaphore and value count mismatch")
	}
	if len(sems) == 0 {
		return true, nil
	}
	deadline := time.Now().Add(timeout)

	if waitAll {
		for i, ds := range sems {
			s, err := asSemaphore(ds)
			if err != nil {
				return false, err
			}
			if !s.waitValue(values[i], deadline) {
				return false, nil
			}
		}
		return true, nil
	}

	for {
		for i, ds := range sems {
			s, err := asSemaphore(ds)
			if err != nil {
				return false, err
			}
			if s.reached(values[i]) {
				return true, nil
			}
		}
		if !time.Now().Before(deadline) {
			return false, nil
		}
		time.Sleep(anyWaitPollInterval)
	}
}

func (d *device) ImportSemaphoreFD(ds driver.Semaphore, fd int) error {
	s, err := asSemaphore(ds)
	if err != nil {
		return err
	}
	if fd >= 0 {
		// Real descriptor payloads would need HAL support.
		return driver.ErrUnsupported
	}
	s.reset()
	return nil
}

func (d *device) ExportSemaphoreFD(ds driver.Semaphore) (int, error) {
	if _, err := asSemaphore(ds); err != nil {
		return -1, err
	}
	// Host-emulated semaphores have no kernel payload to export.
	return -1, driver.ErrUnsupported
}

// advance raises the counter. Lower or equal values are ignored: the
// timeline is monotonic.
func (s *semaphore) advance(value uint64) {
	s.mu.Lock()
	if value > s.val {
		s.val = value
		close(s.signal)
		s.signal = make(chan struct{})
	}
	s.mu.Unlock()
}

// reset restores the initial payload, waking waiters so they re-check.
func (s *semaphore) reset() {
	s.mu.Lock()
	s.val = s.initial
	close(s.signal)
	s.signal = make(chan struct{})
	s.mu.Unlock()
}

func (s *semaphore) reached(value uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.val >= value
}

// waitValue blocks until the counter reaches value or the deadline passes.
func (s *semaphore) waitValue(value uint64, deadline time.Time) bool {
	for {
		s.mu.Lock()
		if s.val >= value {
			s.mu.Unlock()
			return true
		}
		ch := s.signal
		s.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
		case <-timer.C:
			return false
		}
	}
}
