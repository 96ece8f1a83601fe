package compositor

import (
	"context"
	"fmt"
)

// Event is a window notification the renderer reacts to.
type Event int

const (
	// EventPaint requests one frame.
	EventPaint Event = iota + 1
	// EventDestroy tears the renderer down.
	EventDestroy
)

func (e Event) String() string {
	switch e {
	case EventPaint:
		return "paint"
	case EventDestroy:
		return "destroy"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// HandleEvent renders on EventPaint and closes on EventDestroy. The window
// procedure holds the renderer and calls this; there is no global renderer.
func (r *Renderer) HandleEvent(ev Event) error {
	switch ev {
	case EventPaint:
		return r.Render()
	case EventDestroy:
		return r.Close()
	default:
		return fmt.Errorf("compositor: unhandled event %v", ev)
	}
}

// Run handles events until EventDestroy, until events is closed, until
// ctx is done or until an event fails. The renderer is closed only by
// EventDestroy.
func (r *Renderer) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := r.HandleEvent(ev); err != nil {
				return fmt.Errorf("compositor: %v event: %w", ev, err)
			}
			if ev == EventDestroy {
				return nil
			}
		}
	}
}
