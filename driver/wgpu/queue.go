//go:build !nogpu

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package wgpu

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/compositor/driver"
	"github.com/gogpu/wgpu/hal"
)

// drainTimeout bounds the wait for outstanding work when a queue is
// released.
const drainTimeout = 5 * time.Second

// queue submits to the HAL queue. A timeline fence counts submissions:
// the n-th submission signals value n when it completes.
type queue struct {
	dev      *device
	priority driver.QueuePriority
	timeline hal.Fence

	mu        sync.Mutex
	submitted uint64
	released  atomic.Bool
}

var _ driver.Queue = (*queue)(nil)

func newQueue(d *device, desc driver.CommandQueueDesc) (*queue, error) {
	tl, err := d.hal.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("wgpu: create timeline fence: %w", err)
	}
	return &queue{dev: d, priority: desc.Priority, timeline: tl}, nil
}

// submit hands command buffers to the HAL and returns their timeline
// value.
func (q *queue) submit(bufs []hal.CommandBuffer) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released.Load() {
		return 0, fmt.Errorf("wgpu: queue released: %w", driver.ErrInvalidCall)
	}
	next := q.submitted + 1
	if err := q.dev.halQueue.Submit(bufs, q.timeline, next); err != nil {
		return 0, fmt.Errorf("wgpu: submit: %w", err)
	}
	q.submitted = next
	return next, nil
}

func (q *queue) lastSubmitted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submitted
}

// reached polls the timeline. Work of a released queue counts as done.
func (q *queue) reached(v uint64) bool {
	if v == 0 || q.released.Load() {
		return true
	}
	ok, err := q.dev.hal.Wait(q.timeline, v, 0)
	return err == nil && ok
}

// wait blocks on the timeline. A negative timeout waits forever.
func (q *queue) wait(v uint64, timeout time.Duration) (bool, error) {
	if v == 0 || q.released.Load() {
		return true, nil
	}
	if timeout < 0 {
		timeout = time.Duration(math.MaxInt64)
	}
	ok, err := q.dev.hal.Wait(q.timeline, v, timeout)
	if err != nil {
		return false, fmt.Errorf("wgpu: wait for submission %d: %w", v, err)
	}
	return ok, nil
}

// ExecuteCommandLists submits the command buffers encoded at Close in one
// HAL submission. With state validation on, a batch whose barriers
// disagree with the states resources will be in is refused with
// driver.ErrValidation and nothing is submitted.
func (q *queue) ExecuteCommandLists(lists ...driver.CommandList) error {
	if q.released.Load() {
		return fmt.Errorf("wgpu: queue released: %w", driver.ErrInvalidCall)
	}
	batch := make([]*commandList, 0, len(lists))
	bufs := make([]hal.CommandBuffer, 0, len(lists))
	for _, l := range lists {
		wl, ok := l.(*commandList)
		if !ok || wl.dev != q.dev {
			return fmt.Errorf("wgpu: command list %T from another device: %w", l, driver.ErrInvalidCall)
		}
		switch {
		case wl.released.Load():
			return fmt.Errorf("wgpu: command list used after release: %w", driver.ErrInvalidCall)
		case wl.recording:
			return fmt.Errorf("wgpu: command list is still recording: %w", driver.ErrInvalidCall)
		case wl.cmdBuf == nil:
			return fmt.Errorf("wgpu: command list holds no commands: %w", driver.ErrInvalidCall)
		}
		batch = append(batch, wl)
		bufs = append(bufs, wl.cmdBuf)
	}

	projected, err := q.project(batch)
	if err != nil {
		return err
	}
	value, err := q.submit(bufs)
	if err != nil {
		return err
	}
	for r, s := range projected {
		r.state = s
	}
	for _, l := range batch {
		l.alloc.submitted(q, value)
	}
	q.dev.f.log().Debug("wgpu: submitted", "lists", len(batch), "timeline", value)
	return nil
}

// project replays the batch's barriers over the tracked resource states.
func (q *queue) project(batch []*commandList) (map[*resource]driver.ResourceState, error) {
	projected := make(map[*resource]driver.ResourceState)
	stateOf := func(r *resource) driver.ResourceState {
		if s, ok := projected[r]; ok {
			return s
		}
		return r.state
	}
	for _, l := range batch {
		for i, c := range l.cmds {
			switch c.kind {
			case cmdBarrier:
				for _, b := range c.barriers {
					if cur := stateOf(b.res); q.dev.debug && cur != b.before {
						q.dev.f.log().Warn("wgpu: barrier state mismatch",
							"resource", b.res.desc.Label, "before", b.before.String(), "actual", cur.String())
						return nil, fmt.Errorf("wgpu: command %d: %s is %v, barrier expects %v: %w",
							i, b.res.desc.Label, cur, b.before, driver.ErrValidation)
					}
					projected[b.res] = b.after
				}
			case cmdClear, cmdDraw:
				if cur := stateOf(c.target.res); q.dev.debug && cur != driver.StateRenderTarget {
					return nil, fmt.Errorf("wgpu: command %d: %s is %v, rendering needs %v: %w",
						i, c.target.res.desc.Label, cur, driver.StateRenderTarget, driver.ErrValidation)
				}
			}
		}
	}
	return projected, nil
}

// Signal records a mark: fence takes value once every submission made so
// far completed. No HAL work is submitted.
func (q *queue) Signal(f driver.Fence, value uint64) error {
	wf, ok := f.(*fence)
	if !ok || wf.released.Load() {
		return fmt.Errorf("wgpu: signal of foreign or released fence: %w", driver.ErrInvalidCall)
	}
	if q.released.Load() {
		return fmt.Errorf("wgpu: queue released: %w", driver.ErrInvalidCall)
	}
	wf.mark(value, q, q.lastSubmitted())
	return nil
}

// Release waits a bounded time for outstanding submissions, then destroys
// the timeline.
func (q *queue) Release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.released.Load() {
		return
	}
	if q.submitted > 0 {
		if ok, err := q.dev.hal.Wait(q.timeline, q.submitted, drainTimeout); err != nil || !ok {
			q.dev.f.log().Warn("wgpu: queue released with work in flight",
				"submitted", q.submitted, "err", err)
		}
	}
	q.released.Store(true)
	q.dev.hal.DestroyFence(q.timeline)
}

type mark struct {
	value uint64
	q     *queue
	at    uint64
}

// fence is a driver fence over queue timelines. Pending marks are ordered
// by the time Signal was called; the completed value follows them as
// their timeline values are reached. changed is closed and replaced on
// every mark so waiters without a mark can select on it.
type fence struct {
	dev *device

	mu       sync.Mutex
	value    uint64
	marks    []mark
	changed  chan struct{}
	released atomic.Bool
}

var _ driver.Fence = (*fence)(nil)

func newFence(d *device, initial uint64) *fence {
	return &fence{dev: d, value: initial, changed: make(chan struct{})}
}

func (fe *fence) mark(value uint64, q *queue, at uint64) {
	fe.mu.Lock()
	fe.marks = append(fe.marks, mark{value: value, q: q, at: at})
	close(fe.changed)
	fe.changed = make(chan struct{})
	fe.mu.Unlock()
}

func (fe *fence) advance() uint64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	n := 0
	for _, m := range fe.marks {
		if !m.q.reached(m.at) {
			break
		}
		fe.value = m.value
		n++
	}
	fe.marks = fe.marks[n:]
	return fe.value
}

func (fe *fence) CompletedValue() uint64 {
	return fe.advance()
}

// Wait blocks until the fence reaches value. A negative timeout waits
// forever; zero polls.
func (fe *fence) Wait(value uint64, timeout time.Duration) (bool, error) {
	if fe.released.Load() {
		return false, fmt.Errorf("wgpu: wait on released fence: %w", driver.ErrInvalidCall)
	}
	if fe.advance() >= value {
		return true, nil
	}
	if timeout == 0 {
		return false, nil
	}

	var (
		deadline time.Time
		expired  <-chan time.Time
	)
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	for {
		fe.mu.Lock()
		var target *mark
		for i := range fe.marks {
			if fe.marks[i].value >= value {
				m := fe.marks[i]
				target = &m
				break
			}
		}
		ch := fe.changed
		fe.mu.Unlock()

		if target != nil {
			remaining := time.Duration(-1)
			if timeout > 0 {
				if remaining = time.Until(deadline); remaining < 0 {
					remaining = 0
				}
			}
			ok, err := target.q.wait(target.at, remaining)
			if err != nil {
				return false, err
			}
			if reached := fe.advance() >= value; reached || !ok {
				return reached, nil
			}
			continue
		}

		select {
		case <-ch:
		case <-expired:
			return fe.advance() >= value, nil
		}
	}
}

func (fe *fence) Release() {
	fe.released.Store(true)
}
