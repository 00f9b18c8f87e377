package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"github.com/vkngwrapper/tutorial/internal/gpu"
)

// swapchainEntry keeps the images a swapchain owns; they are released with
// it rather than individually.
type swapchainEntry struct {
	swapchain khr_swapchain.Swapchain
	images    []gpu.Image
}

func (d *Device) SurfaceSupport() (gpu.SurfaceSupport, error) {
	return d.querySurfaceSupport(d.physicalDevice)
}

func (d *Device) CreateSwapchain(info gpu.SwapchainCreateInfo) (gpu.Swapchain, error) {
	sharingMode := core1_0.SharingModeExclusive
	var queueFamilyIndices []int

	indices := d.queueFamilies
	if *indices.GraphicsFamily != *indices.PresentFamily {
		sharingMode = core1_0.SharingModeConcurrent
		queueFamilyIndices = append(queueFamilyIndices, *indices.GraphicsFamily, *indices.PresentFamily)
	}

	swapchain, _, err := d.swapchainExtension.CreateSwapchain(nil, khr_swapchain.SwapchainCreateInfo{
		Surface: d.surface,

		MinImageCount:    info.MinImageCount,
		ImageFormat:      info.Format.Format,
		ImageColorSpace:  info.Format.ColorSpace,
		ImageExtent:      info.Extent,
		ImageArrayLayers: 1,
		ImageUsage:       core1_0.ImageUsageColorAttachment,

		ImageSharingMode:   sharingMode,
		QueueFamilyIndices: queueFamilyIndices,

		PreTransform:   info.PreTransform,
		CompositeAlpha: khr_surface.CompositeAlphaOpaque,
		PresentMode:    info.PresentMode,
		Clipped:        true,
	})
	if err != nil {
		return gpu.Swapchain{}, errors.Wrap(err, "create swapchain")
	}

	images, _, err := d.swapchainExtension.GetSwapchainImages(swapchain)
	if err != nil {
		d.swapchainExtension.DestroySwapchain(swapchain, nil)
		return gpu.Swapchain{}, errors.Wrap(err, "get swapchain images")
	}

	entry := &swapchainEntry{swapchain: swapchain}
	for _, image := range images {
		entry.images = append(entry.images, gpu.Image{Handle: d.images.Insert(image)})
	}

	return gpu.Swapchain{Handle: d.swapchains.Insert(entry)}, nil
}

func (d *Device) SwapchainImages(swapchain gpu.Swapchain) ([]gpu.Image, error) {
	entry, ok := d.swapchains.Get(swapchain.Handle)
	if !ok {
		return nil, errors.Wrap(errStaleHandle, "swapchain")
	}

	images := make([]gpu.Image, len(entry.images))
	copy(images, entry.images)
	return images, nil
}

func (d *Device) DestroySwapchain(swapchain gpu.Swapchain) {
	entry, ok := d.swapchains.Remove(swapchain.Handle)
	if !ok {
		return
	}

	for _, image := range entry.images {
		d.images.Remove(image.Handle)
	}
	d.swapchainExtension.DestroySwapchain(entry.swapchain, nil)
}

func (d *Device) CreateImageView(image gpu.Image, format core1_0.Format) (gpu.ImageView, error) {
	native, ok := d.images.Get(image.Handle)
	if !ok {
		return gpu.ImageView{}, errors.Wrap(errStaleHandle, "image")
	}

	view, err := d.createImageView(native, format, core1_0.ImageAspectColor, 1)
	if err != nil {
		return gpu.ImageView{}, err
	}
	return gpu.ImageView{Handle: d.views.Insert(view)}, nil
}

func (d *Device) DestroyImageView(view gpu.ImageView) {
	if v, ok := d.views.Remove(view.Handle); ok {
		d.deviceDriver.DestroyImageView(v, nil)
	}
}

func (d *Device) AcquireNextImage(swapchain gpu.Swapchain, signal gpu.Semaphore) (int, error) {
	entry, ok := d.swapchains.Get(swapchain.Handle)
	if !ok {
		return 0, errors.Wrap(errStaleHandle, "swapchain")
	}

	semaphore, err := d.semaphore(signal)
	if err != nil {
		return 0, err
	}

	imageIndex, res, err := d.swapchainExtension.AcquireNextImage(entry.swapchain, common.NoTimeout, semaphore, nil)
	if res == khr_swapchain.VKErrorOutOfDate {
		return 0, gpu.ErrOutOfDate
	} else if err != nil {
		return 0, errors.Wrap(err, "acquire swapchain image")
	}

	// a suboptimal acquire still signals the semaphore, so the frame goes
	// ahead and present reports the condition
	return imageIndex, nil
}

func (d *Device) Present(swapchain gpu.Swapchain, imageIndex int, wait gpu.Semaphore) error {
	entry, ok := d.swapchains.Get(swapchain.Handle)
	if !ok {
		return errors.Wrap(errStaleHandle, "swapchain")
	}

	semaphore, err := d.semaphore(wait)
	if err != nil {
		return err
	}

	var waitSemaphores []core1_0.Semaphore
	if semaphore != nil {
		waitSemaphores = append(waitSemaphores, *semaphore)
	}

	res, err := d.swapchainExtension.QueuePresent(d.presentQueue, khr_swapchain.PresentInfo{
		WaitSemaphores: waitSemaphores,
		Swapchains:     []khr_swapchain.Swapchain{entry.swapchain},
		ImageIndices:   []int{imageIndex},
	})
	switch {
	case res == khr_swapchain.VKErrorOutOfDate:
		return gpu.ErrOutOfDate
	case res == khr_swapchain.VKSuboptimal:
		return gpu.ErrSuboptimal
	case err != nil:
		return errors.Wrap(err, "present swapchain image")
	}
	return nil
}
