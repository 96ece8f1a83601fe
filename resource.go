package compositor

import (
	"fmt"

	"github.com/gogpu/compositor/driver"
)

// GpuResource is an owned driver resource together with the state the GPU
// last observed for it. The state changes only when a sequence carrying a
// transition for the resource is submitted.
type GpuResource struct {
	res         driver.Resource
	state       driver.ResourceState
	transitions int
}

func newGpuResource(res driver.Resource, state driver.ResourceState) *GpuResource {
	return &GpuResource{res: res, state: state}
}

// Resource returns the driver resource.
func (r *GpuResource) Resource() driver.Resource { return r.res }

// State returns the tracked state.
func (r *GpuResource) State() driver.ResourceState { return r.state }

// Transitions returns the number of committed transitions.
func (r *GpuResource) Transitions() int { return r.transitions }

// Desc returns the size and format of the resource.
func (r *GpuResource) Desc() driver.ResourceDesc { return r.res.Desc() }

// transition is one recorded, not yet committed, state change.
type transition struct {
	res    *GpuResource
	before driver.ResourceState
	after  driver.ResourceState
}

func (t transition) String() string {
	return fmt.Sprintf("%v->%v", t.before, t.after)
}

// SequenceState is the lifecycle stage of a CommandSequence.
type SequenceState int

const (
	SequenceReset SequenceState = iota
	SequenceRecording
	SequenceClosed
	SequenceSubmitted
)

var sequenceStateNames = [...]string{
	SequenceReset:     "reset",
	SequenceRecording: "recording",
	SequenceClosed:    "closed",
	SequenceSubmitted: "submitted",
}

func (s SequenceState) String() string {
	if s >= 0 && int(s) < len(sequenceStateNames) {
		return sequenceStateNames[s]
	}
	return fmt.Sprintf("SequenceState(%d)", int(s))
}

// CommandSequence is the command list of one frame plus the transitions
// it recorded. It is invalidated by the next recording.
type CommandSequence struct {
	list        driver.CommandList
	slot        *FrameSlot
	state       SequenceState
	transitions []transition
}

// State returns the lifecycle stage.
func (s *CommandSequence) State() SequenceState { return s.state }

// Slot returns the frame slot the sequence renders into.
func (s *CommandSequence) Slot() *FrameSlot { return s.slot }

// Transitions returns the recorded transitions as "Before->After" strings.
func (s *CommandSequence) Transitions() []string {
	out := make([]string, len(s.transitions))
	for i, t := range s.transitions {
		out[i] = t.String()
	}
	return out
}

func (s *CommandSequence) reset() {
	s.slot = nil
	s.state = SequenceReset
	s.transitions = s.transitions[:0]
}

// projected returns the state res will have after the transitions recorded
// so far.
func (s *CommandSequence) projected(res *GpuResource) driver.ResourceState {
	st := res.state
	for _, t := range s.transitions {
		if t.res == res {
			st = t.after
		}
	}
	return st
}

// addTransition records a transition after checking it against the
// projected state.
func (s *CommandSequence) addTransition(res *GpuResource, before, after driver.ResourceState) error {
	if cur := s.projected(res); cur != before {
		return fmt.Errorf("%w: resource is %v, transition expects %v", ErrInvalidTransition, cur, before)
	}
	s.transitions = append(s.transitions, transition{res: res, before: before, after: after})
	return nil
}

// validate replays the transitions against the committed states.
func (s *CommandSequence) validate() error {
	states := make(map[*GpuResource]driver.ResourceState)
	for _, t := range s.transitions {
		cur, ok := states[t.res]
		if !ok {
			cur = t.res.state
		}
		if cur != t.before {
			return fmt.Errorf("%w: resource is %v, transition expects %v", ErrInvalidTransition, cur, t.before)
		}
		states[t.res] = t.after
	}
	return nil
}

func (s *CommandSequence) commit() {
	for _, t := range s.transitions {
		t.res.state = t.after
		t.res.transitions++
	}
	s.state = SequenceSubmitted
}
