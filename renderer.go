package compositor

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/compositor/driver"
)

// State is the frame state of a Renderer.
type State int

const (
	// StateIdle waits for the next render request.
	StateIdle State = iota
	// StateRecording records the frame's command list.
	StateRecording
	// StateSubmitted has handed the frame to the queue.
	StateSubmitted
	// StatePresented has queued the frame for display and waits for the GPU.
	StatePresented
	// StateLost follows a rejected present or a GPU timeout. Only Close is
	// useful afterwards.
	StateLost
	// StateClosed follows Close.
	StateClosed
)

var stateNames = [...]string{
	StateIdle:      "idle",
	StateRecording: "recording",
	StateSubmitted: "submitted",
	StatePresented: "presented",
	StateLost:      "lost",
	StateClosed:    "closed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Stats summarizes rendering so far.
type Stats struct {
	// Frames counts frames that were presented and completed.
	Frames uint64
	// FenceValue is the last value signalled after a submission.
	FenceValue uint64
	// Completed is the value the GPU reached.
	Completed uint64
	// LastIndex is the buffer index of the last completed frame, or -1.
	LastIndex int
}

// Renderer is the frame orchestrator. It owns every driver object it
// creates and releases them in reverse order on Close.
//
// A Renderer is not safe for concurrent use. Drive it from the goroutine
// that receives window events.
type Renderer struct {
	opts    options
	log     *slog.Logger
	factory driver.Factory

	dc       *DeviceContext
	fence    *FenceSync
	comp     driver.CompositionDevice
	swap     *SwapChain
	vertices *GpuResource
	rec      *Recorder

	releases  releaseStack
	state     State
	lostErr   error
	frames    uint64
	lastIndex int
}

// New builds a renderer presenting into hwnd. It takes ownership of
// factory: the factory is released by Close, or before New returns an
// error.
func New(factory driver.Factory, hwnd driver.WindowHandle, opts ...Option) (*Renderer, error) {
	if factory == nil {
		return nil, ErrNilFactory
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger
	if log == nil {
		log = Logger()
	}
	propagateLogger(factory, log)

	r := &Renderer{opts: o, log: log, factory: factory, lastIndex: -1}
	r.releases.log = log
	r.releases.push("factory", factory)

	if err := r.build(hwnd); err != nil {
		log.Warn("compositor: construction failed", "err", err)
		r.releases.unwind()
		r.state = StateClosed
		return nil, err
	}

	w, h := r.swap.Size()
	log.Info("compositor: renderer created",
		"backend", factory.Name(), "adapter", r.dc.info.Name,
		"width", w, "height", h, "geometry", r.rec.drawsGeometry())
	return r, nil
}

func (o *options) validate() error {
	switch {
	case o.width == 0 || o.height == 0:
		return fmt.Errorf("compositor: invalid size %dx%d", o.width, o.height)
	case !o.format.IsRenderTarget():
		return fmt.Errorf("compositor: format %v cannot back a swapchain", o.format)
	case o.maxAdapters <= 0:
		return fmt.Errorf("compositor: max adapters must be positive, got %d", o.maxAdapters)
	case len(o.geometry)%3 != 0:
		return fmt.Errorf("compositor: %d vertices do not form triangles", len(o.geometry))
	}
	return nil
}

// build constructs in release-stack order: device context, fence,
// composition, swapchain, geometry, root signature, pipeline, recorder.
func (r *Renderer) build(hwnd driver.WindowHandle) error {
	o := &r.opts
	if err := o.validate(); err != nil {
		return err
	}

	dc, err := createDevice(r.factory, o, &r.releases, r.log)
	if err != nil {
		return err
	}
	r.dc = dc

	fence, err := newFenceSync(dc.device)
	if err != nil {
		return err
	}
	r.fence = fence
	r.releases.push("fence", fence.fence)

	comp, err := r.factory.CreateCompositionDevice()
	if err != nil {
		return fmt.Errorf("compositor: create composition device: %w", err)
	}
	r.comp = comp
	r.releases.push("composition device", comp)

	swap, err := newSwapChain(r.factory, dc, comp, hwnd, o, &r.releases, r.log)
	if err != nil {
		return err
	}
	r.swap = swap

	geometry := len(o.geometry) > 0
	var view driver.VertexBufferView
	if geometry {
		r.vertices, view, err = dc.UploadGeometry(o.geometry, &r.releases)
		if err != nil {
			return err
		}
	}

	rootSig, err := dc.device.CreateRootSignature(driver.RootSignatureDesc{AllowInputAssembler: true})
	if err != nil {
		return fmt.Errorf("compositor: create root signature: %w", err)
	}
	r.releases.push("root signature", rootSig)

	var pso driver.PipelineState
	if geometry {
		pso, err = r.createPipeline(rootSig)
		if err != nil {
			return err
		}
	}

	rec, err := newRecorder(dc.device, rootSig, pso, o.width, o.height, &r.releases, r.log)
	if err != nil {
		return err
	}
	rec.clearColor = o.clearColor
	if geometry {
		rec.setGeometry(view, uint32(len(o.geometry)))
	}
	r.rec = rec
	return nil
}

func (r *Renderer) createPipeline(rootSig driver.RootSignature) (driver.PipelineState, error) {
	code, err := r.opts.shaderModule()
	if err != nil {
		return nil, err
	}
	pso, err := r.dc.device.CreatePipelineState(driver.PipelineDesc{
		Label:              "triangle",
		RootSignature:      rootSig,
		VertexShader:       code,
		VertexEntry:        r.opts.vertexEntry,
		PixelShader:        code,
		PixelEntry:         r.opts.pixelEntry,
		InputLayout:        inputLayout(),
		VertexStride:       VertexStride,
		CullMode:           driver.CullBack,
		BlendEnable:        false,
		RenderTargetFormat: r.opts.format,
	})
	if err != nil {
		return nil, fmt.Errorf("compositor: create pipeline state: %w", err)
	}
	r.releases.push("pipeline state", pso)
	return pso, nil
}

// Render draws and presents one frame, then waits for the GPU to finish
// it. Recording and submission errors leave the renderer usable. A
// rejected present or a fence timeout loses the renderer; the fence is
// still signalled and waited on before a present error is returned.
func (r *Renderer) Render() error {
	switch r.state {
	case StateClosed:
		return ErrClosed
	case StateLost:
		return fmt.Errorf("%w: %w", ErrRendererLost, r.lostErr)
	}

	index, err := r.swap.CurrentIndex()
	if err != nil {
		return err
	}
	slot, err := r.swap.Slot(index)
	if err != nil {
		return err
	}

	r.state = StateRecording
	seq, err := r.rec.Record(slot)
	if err != nil {
		r.state = StateIdle
		return err
	}
	if err := r.dc.Submit(seq); err != nil {
		r.state = StateIdle
		return err
	}
	r.state = StateSubmitted

	presentErr := r.swap.Present(r.opts.syncInterval)
	if presentErr == nil {
		r.state = StatePresented
	}

	value, err := r.fence.SignalAfterSubmit(r.dc.queue)
	if err != nil {
		return r.lose(errors.Join(presentErr, err))
	}
	if err := r.fence.WaitUntil(value, r.opts.fenceTimeout); err != nil {
		return r.lose(errors.Join(presentErr, err))
	}
	if presentErr != nil {
		return r.lose(presentErr)
	}

	r.frames++
	r.lastIndex = index
	r.state = StateIdle
	r.log.Debug("compositor: frame complete", "frame", r.frames, "index", index, "fence", value)
	return nil
}

func (r *Renderer) lose(err error) error {
	r.state = StateLost
	r.lostErr = err
	r.log.Warn("compositor: renderer lost", "err", err)
	return err
}

// Close drains the fence and releases every driver object in reverse
// construction order, the factory last. Close is idempotent; the drain
// error, if any, is returned after everything was released.
func (r *Renderer) Close() error {
	if r.state == StateClosed {
		return nil
	}
	var err error
	if r.fence != nil {
		if err = r.fence.Drain(r.opts.fenceTimeout); err != nil {
			r.log.Warn("compositor: drain before close", "err", err)
		}
	}
	r.releases.unwind()
	r.state = StateClosed
	r.log.Info("compositor: renderer closed", "frames", r.frames)
	return err
}

// State returns the frame state.
func (r *Renderer) State() State { return r.state }

// Stats returns frame and fence counters.
func (r *Renderer) Stats() Stats {
	s := Stats{Frames: r.frames, LastIndex: r.lastIndex}
	if r.fence != nil {
		s.FenceValue = r.fence.LastSubmitted()
		if r.state != StateClosed {
			s.Completed = r.fence.Completed()
		}
	}
	return s
}

// DeviceContext returns the device context.
func (r *Renderer) DeviceContext() *DeviceContext { return r.dc }

// SwapChain returns the swapchain manager.
func (r *Renderer) SwapChain() *SwapChain { return r.swap }

// Fence returns the fence synchronizer.
func (r *Renderer) Fence() *FenceSync { return r.fence }

// Recorder returns the frame recorder.
func (r *Renderer) Recorder() *Recorder { return r.rec }

// Geometry returns the static vertex buffer, or nil for clear-only
// rendering.
func (r *Renderer) Geometry() *GpuResource { return r.vertices }

// Objects returns the names of owned driver objects in construction order.
func (r *Renderer) Objects() []string { return r.releases.names() }
