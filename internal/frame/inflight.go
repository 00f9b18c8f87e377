package frame

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/tutorial/internal/gpu"
)

// MaxFramesInFlight bounds how many submitted frames the CPU may run ahead
// of the GPU.
const MaxFramesInFlight = 2

// InFlightFrame holds the sync objects for one slot. InFlight is created
// signaled so the first wait on each slot returns immediately.
type InFlightFrame struct {
	ImageAvailable gpu.Semaphore
	RenderFinished gpu.Semaphore
	InFlight       gpu.Fence
}

type InFlight struct {
	device gpu.SyncDevice
	frames []InFlightFrame
}

func NewInFlight(device gpu.SyncDevice) (_ *InFlight, err error) {
	f := &InFlight{device: device}
	defer func() {
		if err != nil {
			f.Destroy()
		}
	}()

	for i := 0; i < MaxFramesInFlight; i++ {
		var slot InFlightFrame

		slot.ImageAvailable, err = device.CreateSemaphore()
		if err != nil {
			return nil, errors.Wrapf(err, "create image-available semaphore for slot %d", i)
		}

		slot.RenderFinished, err = device.CreateSemaphore()
		if err != nil {
			device.DestroySemaphore(slot.ImageAvailable)
			return nil, errors.Wrapf(err, "create render-finished semaphore for slot %d", i)
		}

		slot.InFlight, err = device.CreateFence(true)
		if err != nil {
			device.DestroySemaphore(slot.RenderFinished)
			device.DestroySemaphore(slot.ImageAvailable)
			return nil, errors.Wrapf(err, "create in-flight fence for slot %d", i)
		}

		f.frames = append(f.frames, slot)
	}

	return f, nil
}

func (f *InFlight) Slot(i int) *InFlightFrame {
	return &f.frames[i]
}

func (f *InFlight) Len() int {
	return len(f.frames)
}

func (f *InFlight) Destroy() {
	for i := len(f.frames) - 1; i >= 0; i-- {
		slot := f.frames[i]
		f.device.DestroyFence(slot.InFlight)
		f.device.DestroySemaphore(slot.RenderFinished)
		f.device.DestroySemaphore(slot.ImageAvailable)
	}
	f.frames = nil
}
