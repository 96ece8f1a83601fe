package compositor

import (
	"fmt"
	"log/slog"

	"github.com/gogpu/compositor/driver"
)

// Recorder owns the command allocator and the single command list reused
// for every frame.
type Recorder struct {
	alloc      driver.CommandAllocator
	list       driver.CommandList
	rootSig    driver.RootSignature
	pipeline   driver.PipelineState
	viewport   driver.Viewport
	scissor    driver.Rect
	clearColor [4]float32

	// Geometry is drawn only when both a pipeline and a view exist.
	vertexView  driver.VertexBufferView
	vertexCount uint32

	seq CommandSequence
	log *slog.Logger
}

// newRecorder creates the allocator and the command list. The list is
// created recording and closed right away, so every frame can start with
// Reset.
func newRecorder(dev driver.Device, rootSig driver.RootSignature, pipeline driver.PipelineState,
	width, height uint32, rs *releaseStack, log *slog.Logger,
) (*Recorder, error) {
	alloc, err := dev.CreateCommandAllocator()
	if err != nil {
		return nil, fmt.Errorf("compositor: create command allocator: %w", err)
	}
	rs.push("command allocator", alloc)

	list, err := dev.CreateCommandList(alloc, pipeline)
	if err != nil {
		return nil, fmt.Errorf("compositor: create command list: %w", err)
	}
	rs.push("command list", list)
	if err := list.Close(); err != nil {
		return nil, fmt.Errorf("compositor: close new command list: %w", err)
	}

	return &Recorder{
		alloc:    alloc,
		list:     list,
		rootSig:  rootSig,
		pipeline: pipeline,
		viewport: driver.Viewport{Width: float32(width), Height: float32(height), MaxDepth: 1},
		scissor:  driver.Rect{Right: int32(width), Bottom: int32(height)},
		seq:      CommandSequence{list: list, state: SequenceSubmitted},
		log:      log,
	}, nil
}

func (r *Recorder) setGeometry(view driver.VertexBufferView, count uint32) {
	r.vertexView = view
	r.vertexCount = count
}

// drawsGeometry reports whether frames issue a draw after the clear.
func (r *Recorder) drawsGeometry() bool {
	return r.pipeline != nil && r.vertexCount > 0
}

// Record produces the closed sequence of one frame rendering into slot.
// On failure the list is closed if it was opened, so the allocator can be
// reset by the next frame. The returned sequence is invalidated by the
// next call.
func (r *Recorder) Record(slot *FrameSlot) (*CommandSequence, error) {
	seq := &r.seq
	seq.reset()

	if err := r.alloc.Reset(); err != nil {
		return nil, &RecordError{Step: StepResetAllocator, Err: err}
	}
	if err := r.list.Reset(r.alloc, r.pipeline); err != nil {
		return nil, &RecordError{Step: StepResetList, Err: err}
	}
	seq.state = SequenceRecording
	seq.slot = slot

	if step, err := r.record(seq, slot); err != nil {
		r.abandon(seq)
		return nil, &RecordError{Step: step, Err: err}
	}

	if err := r.list.Close(); err != nil {
		r.abandon(seq)
		return nil, &RecordError{Step: StepClose, Err: err}
	}
	seq.state = SequenceClosed
	return seq, nil
}

// record issues steps 3 to 6.
func (r *Recorder) record(seq *CommandSequence, slot *FrameSlot) (RecordStep, error) {
	l := r.list
	if err := l.SetGraphicsRootSignature(r.rootSig); err != nil {
		return StepSetState, err
	}
	if err := l.SetViewport(r.viewport); err != nil {
		return StepSetState, err
	}
	if err := l.SetScissorRect(r.scissor); err != nil {
		return StepSetState, err
	}

	if err := r.barrier(seq, slot.Resource, driver.StatePresent, driver.StateRenderTarget); err != nil {
		return StepBarrierToRenderTarget, err
	}

	if err := l.SetRenderTarget(slot.RTV); err != nil {
		return StepDraw, err
	}
	if err := l.ClearRenderTargetView(slot.RTV, r.clearColor); err != nil {
		return StepDraw, err
	}
	if r.drawsGeometry() {
		if err := l.SetPrimitiveTopology(driver.TopologyTriangleList); err != nil {
			return StepDraw, err
		}
		if err := l.SetVertexBuffer(0, r.vertexView); err != nil {
			return StepDraw, err
		}
		if err := l.DrawInstanced(r.vertexCount, 1, 0, 0); err != nil {
			return StepDraw, err
		}
	}

	if err := r.barrier(seq, slot.Resource, driver.StateRenderTarget, driver.StatePresent); err != nil {
		return StepBarrierToPresent, err
	}
	return 0, nil
}

func (r *Recorder) barrier(seq *CommandSequence, res *GpuResource, before, after driver.ResourceState) error {
	if err := seq.addTransition(res, before, after); err != nil {
		return err
	}
	if err := r.list.ResourceBarrier(driver.Transition(res.Resource(), before, after)); err != nil {
		seq.transitions = seq.transitions[:len(seq.transitions)-1]
		return err
	}
	return nil
}

// abandon closes a list left recording by a failed step and drops what
// was recorded.
func (r *Recorder) abandon(seq *CommandSequence) {
	if err := r.list.Close(); err != nil {
		r.log.Warn("compositor: close after failed recording", "err", err)
	}
	seq.reset()
}

// Sequence returns the sequence of the last recording.
func (r *Recorder) Sequence() *CommandSequence { return &r.seq }
