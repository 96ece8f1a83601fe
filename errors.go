package compositor

import (
	"errors"
	"fmt"
)

// Errors returned by the renderer. Driver causes stay in the chain, so
// both errors.Is(err, ErrPresentFailed) and errors.Is(err,
// driver.ErrPresentRejected) hold for a rejected present.
var (
	// ErrNoCompatibleAdapter is returned by New when no adapter yields a
	// device. It is combined with ErrAdapterNotFound or
	// ErrDeviceCreationFailed.
	ErrNoCompatibleAdapter = errors.New("compositor: no compatible adapter")

	// ErrAdapterNotFound means the factory enumerated no adapters at all.
	ErrAdapterNotFound = errors.New("compositor: no adapters present")

	// ErrDeviceCreationFailed means adapters exist but none created a
	// device at the required feature level.
	ErrDeviceCreationFailed = errors.New("compositor: device creation failed")

	// ErrRecordingFailed is matched by every *RecordError.
	ErrRecordingFailed = errors.New("compositor: command recording failed")

	// ErrSubmitFailed is returned when the queue refuses a sequence.
	ErrSubmitFailed = errors.New("compositor: submission failed")

	// ErrPresentFailed is returned when the presentation engine rejects a
	// frame. The renderer is lost afterwards.
	ErrPresentFailed = errors.New("compositor: present failed")

	// ErrSynchronizationTimeout is returned when the GPU does not reach a
	// fence value in time. The renderer is lost afterwards.
	ErrSynchronizationTimeout = errors.New("compositor: GPU synchronization timed out")

	// ErrSequenceNotClosed is returned when submitting a sequence that is
	// still recording or was never recorded.
	ErrSequenceNotClosed = errors.New("compositor: command sequence not closed")

	// ErrInvalidBufferIndex is returned when the presentation engine names
	// a back buffer outside the swapchain.
	ErrInvalidBufferIndex = errors.New("compositor: back buffer index out of range")

	// ErrInvalidTransition is returned when a barrier's before state does
	// not match the resource's tracked state.
	ErrInvalidTransition = errors.New("compositor: invalid resource state transition")

	// ErrRendererLost is returned by Render after a fatal frame error.
	ErrRendererLost = errors.New("compositor: renderer lost")

	// ErrClosed is returned by Render after Close.
	ErrClosed = errors.New("compositor: renderer closed")

	// ErrNilFactory is returned by New without a factory.
	ErrNilFactory = errors.New("compositor: nil driver factory")
)

// RecordStep identifies a step of frame recording.
type RecordStep int

// Recording steps, in execution order.
const (
	StepResetAllocator RecordStep = iota + 1
	StepResetList
	StepSetState
	StepBarrierToRenderTarget
	StepDraw
	StepBarrierToPresent
	StepClose
)

var stepNames = map[RecordStep]string{
	StepResetAllocator:        "reset allocator",
	StepResetList:             "reset command list",
	StepSetState:              "set pipeline state",
	StepBarrierToRenderTarget: "barrier Present->RenderTarget",
	StepDraw:                  "clear and draw",
	StepBarrierToPresent:      "barrier RenderTarget->Present",
	StepClose:                 "close command list",
}

func (s RecordStep) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("RecordStep(%d)", int(s))
}

// RecordError reports the recording step that failed.
type RecordError struct {
	Step RecordStep
	Err  error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("compositor: command recording failed at step %d (%s): %v", int(e.Step), e.Step, e.Err)
}

// Unwrap returns both ErrRecordingFailed and the cause.
func (e *RecordError) Unwrap() []error {
	return []error{ErrRecordingFailed, e.Err}
}
