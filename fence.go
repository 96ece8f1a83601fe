package compositor

import (
	"fmt"
	"time"

	"github.com/gogpu/compositor/driver"
)

// FenceSync pairs a driver fence with the last value submitted to it.
// Completed values never exceed the submitted counter.
type FenceSync struct {
	fence     driver.Fence
	submitted uint64
}

func newFenceSync(dev driver.Device) (*FenceSync, error) {
	f, err := dev.CreateFence(0)
	if err != nil {
		return nil, fmt.Errorf("compositor: create fence: %w", err)
	}
	return &FenceSync{fence: f}, nil
}

// SignalAfterSubmit asks q to signal the next counter value once all work
// submitted so far completes, and returns that value. The counter only
// advances when the signal was queued.
func (fs *FenceSync) SignalAfterSubmit(q driver.Queue) (uint64, error) {
	next := fs.submitted + 1
	if err := q.Signal(fs.fence, next); err != nil {
		return fs.submitted, fmt.Errorf("compositor: signal fence %d: %w", next, err)
	}
	fs.submitted = next
	return next, nil
}

// WaitUntil blocks until the fence completes target or timeout elapses.
// It returns at once, for any timeout, when target is already reached.
func (fs *FenceSync) WaitUntil(target uint64, timeout time.Duration) error {
	if fs.fence.CompletedValue() >= target {
		return nil
	}
	ok, err := fs.fence.Wait(target, timeout)
	if err != nil {
		return fmt.Errorf("compositor: wait for fence %d: %w", target, err)
	}
	if !ok {
		return fmt.Errorf("%w: fence at %d, want %d after %v",
			ErrSynchronizationTimeout, fs.fence.CompletedValue(), target, timeout)
	}
	return nil
}

// Drain waits for the last submitted value.
func (fs *FenceSync) Drain(timeout time.Duration) error {
	return fs.WaitUntil(fs.submitted, timeout)
}

// Completed returns the value the GPU reached.
func (fs *FenceSync) Completed() uint64 { return fs.fence.CompletedValue() }

// LastSubmitted returns the last value handed to the queue.
func (fs *FenceSync) LastSubmitted() uint64 { return fs.submitted }
