package compositor

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/compositor/driver"
)

// MinFeatureLevel is the lowest feature level a device must support.
const MinFeatureLevel = driver.FeatureLevel11_0

// DeviceContext owns the logical device, its adapter and the single direct
// command queue. Submission through it commits the resource-state
// transitions a sequence recorded.
type DeviceContext struct {
	adapter driver.Adapter
	info    driver.AdapterInfo
	device  driver.Device
	queue   driver.Queue
	log     *slog.Logger
}

// createDevice picks the first adapter in [0, maxAdapters) that creates a
// device at MinFeatureLevel. Owned objects are pushed onto rs.
func createDevice(f driver.Factory, o *options, rs *releaseStack, log *slog.Logger) (*DeviceContext, error) {
	if o.debugLayer {
		if err := f.EnableDebugLayer(); err != nil {
			return nil, fmt.Errorf("compositor: enable debug layer: %w", err)
		}
		log.Debug("compositor: debug layer enabled", "backend", f.Name())
	}

	adapter, dev, err := selectAdapter(f, o.maxAdapters, log)
	if err != nil {
		return nil, err
	}
	dc := &DeviceContext{adapter: adapter, info: adapter.Info(), device: dev, log: log}
	rs.push("adapter", adapter)
	rs.push("device", dev)
	log.Info("compositor: adapter selected",
		"backend", f.Name(), "adapter", dc.info.Name, "software", dc.info.Software)

	q, err := dev.CreateCommandQueue(driver.CommandQueueDesc{Priority: driver.QueuePriorityHigh})
	if err != nil {
		return nil, fmt.Errorf("compositor: create command queue: %w", err)
	}
	dc.queue = q
	rs.push("command queue", q)
	return dc, nil
}

func selectAdapter(f driver.Factory, maxAdapters int, log *slog.Logger) (driver.Adapter, driver.Device, error) {
	var lastErr error
	found := 0
	for i := 0; i < maxAdapters; i++ {
		a, err := f.EnumAdapter(i)
		if errors.Is(err, driver.ErrNotFound) {
			break
		}
		if err != nil {
			lastErr = err
			log.Warn("compositor: adapter enumeration failed", "index", i, "err", err)
			continue
		}
		found++

		dev, err := a.CreateDevice(MinFeatureLevel)
		if err == nil {
			return a, dev, nil
		}
		lastErr = err
		log.Warn("compositor: adapter rejected", "index", i, "adapter", a.Info().Name, "err", err)
		a.Release()
	}

	if found == 0 {
		if lastErr != nil {
			return nil, nil, fmt.Errorf("%w: %w: %w", ErrNoCompatibleAdapter, ErrAdapterNotFound, lastErr)
		}
		return nil, nil, fmt.Errorf("%w: %w", ErrNoCompatibleAdapter, ErrAdapterNotFound)
	}
	return nil, nil, fmt.Errorf("%w: %w: %d adapters tried, last: %w",
		ErrNoCompatibleAdapter, ErrDeviceCreationFailed, found, lastErr)
}

// Device returns the logical device.
func (dc *DeviceContext) Device() driver.Device { return dc.device }

// Queue returns the direct command queue.
func (dc *DeviceContext) Queue() driver.Queue { return dc.queue }

// AdapterInfo describes the selected adapter.
func (dc *DeviceContext) AdapterInfo() driver.AdapterInfo { return dc.info }

// Submit enqueues a closed sequence for execution without waiting for the
// GPU. On success the sequence's transitions become the tracked state of
// their resources.
func (dc *DeviceContext) Submit(seq *CommandSequence) error {
	if seq == nil || seq.state != SequenceClosed {
		return ErrSequenceNotClosed
	}
	if err := seq.validate(); err != nil {
		return err
	}
	if err := dc.queue.ExecuteCommandLists(seq.list); err != nil {
		return fmt.Errorf("%w: %w", ErrSubmitFailed, err)
	}
	seq.commit()
	return nil
}

// UploadGeometry creates the static vertex buffer in an upload heap and
// writes vertices once. The buffer stays in GenericRead for its lifetime.
func (dc *DeviceContext) UploadGeometry(vertices []Vertex, rs *releaseStack) (*GpuResource, driver.VertexBufferView, error) {
	if len(vertices) == 0 || len(vertices)%3 != 0 {
		return nil, driver.VertexBufferView{}, fmt.Errorf("compositor: %d vertices do not form triangles", len(vertices))
	}
	data := encodeVertices(vertices)
	buf, err := dc.device.CreateBuffer(driver.BufferDesc{
		Label:        "vertex buffer",
		Size:         uint64(len(data)),
		InitialState: driver.StateGenericRead,
	})
	if err != nil {
		return nil, driver.VertexBufferView{}, fmt.Errorf("compositor: create vertex buffer: %w", err)
	}
	rs.push("vertex buffer", buf)

	mem, err := buf.Map()
	if err != nil {
		return nil, driver.VertexBufferView{}, fmt.Errorf("compositor: map vertex buffer: %w", err)
	}
	copy(mem, data)
	buf.Unmap()

	view := driver.VertexBufferView{
		BufferLocation: buf.GPUVirtualAddress(),
		SizeInBytes:    uint32(len(data)),
		StrideInBytes:  VertexStride,
	}
	dc.log.Debug("compositor: geometry uploaded", "vertices", len(vertices), "bytes", len(data))
	return newGpuResource(buf, driver.StateGenericRead), view, nil
}
