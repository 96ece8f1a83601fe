package compositor

import (
	"errors"
	"testing"
	"time"

	"github.com/gogpu/compositor/driver"
	"github.com/gogpu/compositor/driver/soft"
)

func newTestFence(t *testing.T) (*FenceSync, driver.Queue, *soft.Factory) {
	t.Helper()
	f := soft.New()
	t.Cleanup(f.Release)
	a, err := f.EnumAdapter(0)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(a.Release)
	dev, err := a.CreateDevice(MinFeatureLevel)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(dev.Release)
	q, err := dev.CreateCommandQueue(driver.CommandQueueDesc{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(q.Release)
	fs, err := newFenceSync(dev)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(fs.fence.Release)
	return fs, q, f
}

func TestFenceSignalAndWait(t *testing.T) {
	fs, q, _ := newTestFence(t)

	v, err := fs.SignalAfterSubmit(q)
	if err != nil || v != 1 {
		t.Fatalf("SignalAfterSubmit() = %d, %v; want 1", v, err)
	}
	if err := fs.WaitUntil(v, time.Second); err != nil {
		t.Fatalf("WaitUntil(1) = %v", err)
	}
	// Reached values return at once, even without a timeout.
	for i := 0; i < 3; i++ {
		if err := fs.WaitUntil(v, 0); err != nil {
			t.Fatalf("repeated WaitUntil(1, 0) = %v", err)
		}
	}
	if err := fs.WaitUntil(0, 0); err != nil {
		t.Errorf("WaitUntil(0, 0) = %v", err)
	}
	if fs.Completed() != 1 || fs.LastSubmitted() != 1 {
		t.Errorf("Completed() = %d, LastSubmitted() = %d; want 1, 1", fs.Completed(), fs.LastSubmitted())
	}
}

func TestFenceTimeout(t *testing.T) {
	fs, q, f := newTestFence(t)
	f.Pause()
	defer f.Resume()

	v, err := fs.SignalAfterSubmit(q)
	if err != nil {
		t.Fatal(err)
	}
	if err := fs.WaitUntil(v, 0); !errors.Is(err, ErrSynchronizationTimeout) {
		t.Errorf("WaitUntil(%d, 0) on a paused queue = %v, want ErrSynchronizationTimeout", v, err)
	}
	if err := fs.WaitUntil(v, 20*time.Millisecond); !errors.Is(err, ErrSynchronizationTimeout) {
		t.Errorf("WaitUntil(%d, 20ms) on a paused queue = %v, want ErrSynchronizationTimeout", v, err)
	}
	if fs.Completed() >= v {
		t.Errorf("Completed() = %d passed a paused signal", fs.Completed())
	}

	f.Resume()
	if err := fs.Drain(time.Second); err != nil {
		t.Errorf("Drain() after resume = %v", err)
	}
}

func TestFenceSignalFailureKeepsCounter(t *testing.T) {
	fs, q, f := newTestFence(t)
	f.FailNext(soft.OpSignal, 0)

	if _, err := fs.SignalAfterSubmit(q); !errors.Is(err, driver.ErrInjected) {
		t.Fatalf("SignalAfterSubmit() = %v, want the injected failure", err)
	}
	if fs.LastSubmitted() != 0 {
		t.Errorf("LastSubmitted() = %d after a failed signal, want 0", fs.LastSubmitted())
	}
	if v, err := fs.SignalAfterSubmit(q); err != nil || v != 1 {
		t.Errorf("SignalAfterSubmit() = %d, %v; want 1", v, err)
	}
}

func TestFenceMonotonic(t *testing.T) {
	fs, q, _ := newTestFence(t)
	var last uint64
	for i := 0; i < 5; i++ {
		v, err := fs.SignalAfterSubmit(q)
		if err != nil {
			t.Fatal(err)
		}
		if v != last+1 {
			t.Fatalf("signal %d returned %d, want %d", i, v, last+1)
		}
		last = v
	}
	if err := fs.Drain(time.Second); err != nil {
		t.Fatal(err)
	}
	if fs.Completed() > fs.LastSubmitted() {
		t.Errorf("Completed() = %d exceeds LastSubmitted() = %d", fs.Completed(), fs.LastSubmitted())
	}
}
