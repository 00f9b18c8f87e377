package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/tutorial/internal/gpu"
)

var errStaleHandle = errors.New("stale or unknown handle")

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	semaphore, _, err := d.deviceDriver.CreateSemaphore(nil, core1_0.SemaphoreCreateInfo{})
	if err != nil {
		return gpu.Semaphore{}, errors.Wrap(err, "create semaphore")
	}
	return gpu.Semaphore{Handle: d.semaphores.Insert(semaphore)}, nil
}

func (d *Device) DestroySemaphore(semaphore gpu.Semaphore) {
	if s, ok := d.semaphores.Remove(semaphore.Handle); ok {
		d.deviceDriver.DestroySemaphore(s, nil)
	}
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	var info core1_0.FenceCreateInfo
	if signaled {
		info.Flags = core1_0.FenceCreateSignaled
	}

	fence, _, err := d.deviceDriver.CreateFence(nil, info)
	if err != nil {
		return gpu.Fence{}, errors.Wrap(err, "create fence")
	}
	return gpu.Fence{Handle: d.fences.Insert(fence)}, nil
}

func (d *Device) DestroyFence(fence gpu.Fence) {
	if f, ok := d.fences.Remove(fence.Handle); ok {
		d.deviceDriver.DestroyFence(f, nil)
	}
}

func (d *Device) nativeFences(fences []gpu.Fence) ([]core1_0.Fence, error) {
	native := make([]core1_0.Fence, 0, len(fences))
	for _, fence := range fences {
		f, ok := d.fences.Get(fence.Handle)
		if !ok {
			return nil, errors.Wrap(errStaleHandle, "fence")
		}
		native = append(native, f)
	}
	return native, nil
}

func (d *Device) WaitForFences(fences ...gpu.Fence) error {
	native, err := d.nativeFences(fences)
	if err != nil {
		return err
	}

	_, err = d.deviceDriver.WaitForFences(true, common.NoTimeout, native...)
	return errors.Wrap(err, "wait for fences")
}

func (d *Device) ResetFences(fences ...gpu.Fence) error {
	native, err := d.nativeFences(fences)
	if err != nil {
		return err
	}

	_, err = d.deviceDriver.ResetFences(native...)
	return errors.Wrap(err, "reset fences")
}

func (d *Device) WaitIdle() error {
	_, err := d.deviceDriver.DeviceWaitIdle()
	return errors.Wrap(err, "wait for device idle")
}

// semaphore resolves an optional semaphore. The zero handle maps to nil.
func (d *Device) semaphore(semaphore gpu.Semaphore) (*core1_0.Semaphore, error) {
	if !semaphore.Valid() {
		return nil, nil
	}

	s, ok := d.semaphores.Get(semaphore.Handle)
	if !ok {
		return nil, errors.Wrap(errStaleHandle, "semaphore")
	}
	return &s, nil
}
