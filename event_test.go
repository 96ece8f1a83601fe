package compositor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunUntilDestroy(t *testing.T) {
	r, f := newTestRenderer(t, WithoutGeometry())

	events := make(chan Event, 4)
	events <- EventPaint
	events <- EventPaint
	events <- EventDestroy
	events <- EventPaint

	if err := r.Run(context.Background(), events); err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if r.State() != StateClosed {
		t.Errorf("State() = %v, want closed", r.State())
	}
	if s := r.Stats(); s.Frames != 2 {
		t.Errorf("Frames = %d, want 2", s.Frames)
	}
	if len(events) != 1 {
		t.Errorf("Run() consumed events after destroy")
	}
	if n := f.LiveObjects(); n != 0 {
		t.Errorf("LiveObjects() = %d after destroy, want 0", n)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r, _ := newTestRenderer(t, WithoutGeometry())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Run(ctx, make(chan Event)); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() = %v, want context.DeadlineExceeded", err)
	}
	if r.State() != StateIdle {
		t.Errorf("State() = %v, cancellation must not close the renderer", r.State())
	}
}

func TestRunClosedChannel(t *testing.T) {
	r, _ := newTestRenderer(t, WithoutGeometry())
	events := make(chan Event)
	close(events)
	if err := r.Run(context.Background(), events); err != nil {
		t.Errorf("Run() = %v, want nil", err)
	}
}

func TestRunReturnsFrameError(t *testing.T) {
	r, f := newTestRenderer(t, WithoutGeometry())
	f.SetOccluded(true)

	events := make(chan Event, 1)
	events <- EventPaint
	err := r.Run(context.Background(), events)
	if !errors.Is(err, ErrPresentFailed) {
		t.Fatalf("Run() = %v, want ErrPresentFailed", err)
	}
	if err := r.HandleEvent(EventDestroy); err != nil {
		t.Errorf("destroy after loss = %v", err)
	}
}

func TestHandleUnknownEvent(t *testing.T) {
	r, _ := newTestRenderer(t, WithoutGeometry())
	if err := r.HandleEvent(Event(99)); err == nil {
		t.Error("HandleEvent(99) succeeded")
	}
	if got := Event(99).String(); got != "Event(99)" {
		t.Errorf("String() = %q", got)
	}
	if EventPaint.String() != "paint" || EventDestroy.String() != "destroy" {
		t.Error("event names")
	}
}
