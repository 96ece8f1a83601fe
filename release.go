package compositor

import (
	"log/slog"

	"github.com/gogpu/compositor/driver"
)

// releaseStack owns driver objects in construction order and releases
// them in reverse.
type releaseStack struct {
	entries []releaseEntry
	log     *slog.Logger
}

type releaseEntry struct {
	name string
	obj  driver.Releaser
}

func (s *releaseStack) push(name string, obj driver.Releaser) {
	s.entries = append(s.entries, releaseEntry{name: name, obj: obj})
}

// names returns the owned object names in construction order.
func (s *releaseStack) names() []string {
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.name
	}
	return out
}

// unwind releases every object, last pushed first, and empties the stack.
// A panicking Release is logged and does not stop the unwind.
func (s *releaseStack) unwind() {
	for i := len(s.entries) - 1; i >= 0; i-- {
		s.release(s.entries[i])
	}
	s.entries = nil
}

func (s *releaseStack) release(e releaseEntry) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Warn("compositor: release panicked", "object", e.name, "panic", p)
		}
	}()
	e.obj.Release()
	s.log.Debug("compositor: released", "object", e.name)
}
