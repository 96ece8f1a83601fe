// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package soft

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gogpu/compositor/driver"
)

// queueDepth bounds the commands buffered ahead of the GPU.
const queueDepth = 256

// queue is a command queue. A worker goroutine plays the GPU: it runs
// enqueued work strictly in order.
type queue struct {
	dev  *device
	desc driver.CommandQueueDesc

	// mu serializes submissions and guards the projected resource states.
	mu sync.Mutex

	ops      chan func()
	quit     chan struct{}
	done     chan struct{}
	released atomic.Bool
}

var _ driver.Queue = (*queue)(nil)

func newQueue(d *device, desc driver.CommandQueueDesc) *queue {
	q := &queue{
		dev:  d,
		desc: desc,
		ops:  make(chan func(), queueDepth),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *queue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.quit:
			return
		case op := <-q.ops:
			if !q.dev.f.gate.wait(q.quit) {
				return
			}
			op()
		}
	}
}

func (q *queue) enqueue(op func()) error {
	select {
	case q.ops <- op:
		return nil
	case <-q.quit:
		return fmt.Errorf("soft: queue released: %w", driver.ErrInvalidCall)
	}
}

// ExecuteCommandLists validates and enqueues closed lists. With the debug
// layer on, a list whose barriers disagree with the state resources will
// be in when it runs is refused with driver.ErrValidation and nothing is
// enqueued.
func (q *queue) ExecuteCommandLists(lists ...driver.CommandList) error {
	if err := q.dev.f.faults.check(OpExecuteCommandLists); err != nil {
		return err
	}
	if q.released.Load() {
		return fmt.Errorf("soft: queue released: %w", driver.ErrInvalidCall)
	}

	batch := make([]*commandList, 0, len(lists))
	for _, l := range lists {
		sl, ok := l.(*commandList)
		if !ok || sl.dev != q.dev {
			return fmt.Errorf("soft: command list %T from another device: %w", l, driver.ErrInvalidCall)
		}
		if sl.released.Load() {
			return fmt.Errorf("soft: command list used after release: %w", driver.ErrInvalidCall)
		}
		if sl.recording {
			return fmt.Errorf("soft: command list is still recording: %w", driver.ErrInvalidCall)
		}
		batch = append(batch, sl)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	projected := make(map[*memory]driver.ResourceState)
	stateOf := func(m *memory) driver.ResourceState {
		if s, ok := projected[m]; ok {
			return s
		}
		return m.state
	}
	for _, l := range batch {
		for i, c := range l.cmds {
			switch c.kind {
			case cmdBarrier:
				for _, b := range c.barriers {
					if cur := stateOf(b.mem); q.dev.debug && cur != b.before {
						q.dev.f.log().Warn("soft: barrier state mismatch",
							"resource", b.mem.label, "before", b.before.String(), "actual", cur.String())
						return fmt.Errorf("soft: command %d: %s is %v, barrier expects %v: %w",
							i, b.mem.label, cur, b.before, driver.ErrValidation)
					}
					projected[b.mem] = b.after
				}
			case cmdClear, cmdDraw:
				if q.dev.debug && c.target != nil {
					if cur := stateOf(c.target); cur != driver.StateRenderTarget {
						return fmt.Errorf("soft: command %d: %s is %v, rendering needs %v: %w",
							i, c.target.label, cur, driver.StateRenderTarget, driver.ErrValidation)
					}
				}
			}
		}
	}

	for m, s := range projected {
		m.state = s
	}
	for _, l := range batch {
		l.alloc.submitted()
	}

	snaps := make([][]command, len(batch))
	pipes := make([]*pipeline, len(batch))
	allocs := make([]*allocator, len(batch))
	for i, l := range batch {
		snaps[i] = append([]command(nil), l.cmds...)
		pipes[i] = l.initial
		allocs[i] = l.alloc
	}
	return q.enqueue(func() {
		for i := range snaps {
			q.dev.execute(snaps[i], pipes[i])
			allocs[i].completed()
		}
	})
}

func (q *queue) Signal(f driver.Fence, value uint64) error {
	if err := q.dev.f.faults.check(OpSignal); err != nil {
		return err
	}
	sf, ok := f.(*fence)
	if !ok || sf.released.Load() {
		return fmt.Errorf("soft: signal of foreign or released fence: %w", driver.ErrInvalidCall)
	}
	if q.released.Load() {
		return fmt.Errorf("soft: queue released: %w", driver.ErrInvalidCall)
	}
	return q.enqueue(func() { sf.signal(value) })
}

// Release stops the worker. Work still queued is dropped.
func (q *queue) Release() {
	if q.released.Swap(true) {
		return
	}
	close(q.quit)
	q.dev.f.tracker.released(KindQueue)
}

// fence is a timeline fence. changed is closed and replaced on every
// signal so waiters can select on it.
type fence struct {
	f *Factory

	mu       sync.Mutex
	value    uint64
	changed  chan struct{}
	released atomic.Bool
}

var _ driver.Fence = (*fence)(nil)

func newFence(f *Factory, initial uint64) *fence {
	return &fence{f: f, value: initial, changed: make(chan struct{})}
}

func (fe *fence) signal(v uint64) {
	fe.mu.Lock()
	fe.value = v
	close(fe.changed)
	fe.changed = make(chan struct{})
	fe.mu.Unlock()
}

func (fe *fence) CompletedValue() uint64 {
	fe.mu.Lock()
	defer fe.mu.Unlock()
	return fe.value
}

// Wait blocks until the fence reaches value. A negative timeout waits
// forever; zero polls.
func (fe *fence) Wait(value uint64, timeout time.Duration) (bool, error) {
	if fe.released.Load() {
		return false, fmt.Errorf("soft: wait on released fence: %w", driver.ErrInvalidCall)
	}

	var expired <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	for {
		fe.mu.Lock()
		reached := fe.value >= value
		ch := fe.changed
		fe.mu.Unlock()
		if reached {
			return true, nil
		}
		select {
		case <-ch:
		case <-expired:
			return fe.CompletedValue() >= value, nil
		}
	}
}

func (fe *fence) Release() {
	if fe.released.Swap(true) {
		return
	}
	fe.f.tracker.released(KindFence)
}
