// Package swapchain owns the presentable image chain: choosing its shape
// from what the surface supports, building it all-or-nothing and tearing it
// down for recreation.
package swapchain

import (
	"math"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/tutorial/internal/gpu"
)

// ErrZeroExtent is returned by Build when the window has no drawable area,
// e.g. while minimized. The chain cannot be built until it is resized.
var ErrZeroExtent = errors.New("window drawable size is zero")

type Window interface {
	DrawableSize() (width, height int)
}

type Preferences struct {
	Formats     []khr_surface.SurfaceFormat
	PresentMode khr_surface.PresentMode
}

func DefaultPreferences() Preferences {
	return Preferences{
		Formats: []khr_surface.SurfaceFormat{
			{Format: core1_0.FormatB8G8R8A8SRGB, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear},
		},
		PresentMode: khr_surface.PresentModeMailbox,
	}
}

// Swapchain is one generation of the image chain. It is never mutated after
// Build returns it; recreation produces a new value.
type Swapchain struct {
	Handle      gpu.Swapchain
	Images      []gpu.Image
	Views       []gpu.ImageView
	Format      khr_surface.SurfaceFormat
	PresentMode khr_surface.PresentMode
	Extent      core1_0.Extent2D
}

func (s *Swapchain) Len() int {
	return len(s.Images)
}

type Manager struct {
	device gpu.SwapchainDevice
	window Window
	prefs  Preferences
	logger *log.Logger

	current *Swapchain
}

func NewManager(device gpu.SwapchainDevice, window Window, prefs Preferences, logger *log.Logger) *Manager {
	return &Manager{
		device: device,
		window: window,
		prefs:  prefs,
		logger: logger,
	}
}

// Current returns the live chain, or nil between Destroy and Build.
func (m *Manager) Current() *Swapchain {
	return m.current
}

func ChooseSurfaceFormat(available, preferred []khr_surface.SurfaceFormat) khr_surface.SurfaceFormat {
	for _, want := range preferred {
		for _, format := range available {
			if format.Format == want.Format && format.ColorSpace == want.ColorSpace {
				return format
			}
		}
	}

	return available[0]
}

func ChoosePresentMode(available []khr_surface.PresentMode, preferred khr_surface.PresentMode) khr_surface.PresentMode {
	for _, mode := range available {
		if mode == preferred {
			return mode
		}
	}

	return khr_surface.PresentModeFIFO
}

func ChooseExtent(capabilities khr_surface.SurfaceCapabilities, width, height int) core1_0.Extent2D {
	// a width of 0xFFFFFFFF means the application picks the extent
	current := capabilities.CurrentExtent
	if uint32(current.Width) != math.MaxUint32 {
		return current
	}

	return core1_0.Extent2D{
		Width:  clamp(width, capabilities.MinImageExtent.Width, capabilities.MaxImageExtent.Width),
		Height: clamp(height, capabilities.MinImageExtent.Height, capabilities.MaxImageExtent.Height),
	}
}

// ImageCount asks for one more image than the minimum so the application
// never waits on the driver to release one. A maximum of zero means no limit.
func ImageCount(capabilities khr_surface.SurfaceCapabilities) int {
	count := capabilities.MinImageCount + 1
	if capabilities.MaxImageCount > 0 && count > capabilities.MaxImageCount {
		count = capabilities.MaxImageCount
	}
	return count
}

func clamp(value, lo, hi int) int {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// Build creates the chain and one view per image. On failure every object
// created by this call is destroyed and Current stays nil.
func (m *Manager) Build() (err error) {
	if m.current != nil {
		return errors.New("swapchain already built")
	}

	support, err := m.device.SurfaceSupport()
	if err != nil {
		return errors.Wrap(err, "query surface support")
	}
	if !support.Adequate() {
		return errors.New("surface offers no formats or present modes")
	}

	width, height := m.window.DrawableSize()
	extent := ChooseExtent(support.Capabilities, width, height)
	if extent.Width <= 0 || extent.Height <= 0 {
		return ErrZeroExtent
	}

	sc := &Swapchain{
		Format:      ChooseSurfaceFormat(support.Formats, m.prefs.Formats),
		PresentMode: ChoosePresentMode(support.PresentModes, m.prefs.PresentMode),
		Extent:      extent,
	}

	sc.Handle, err = m.device.CreateSwapchain(gpu.SwapchainCreateInfo{
		MinImageCount: ImageCount(support.Capabilities),
		Format:        sc.Format,
		PresentMode:   sc.PresentMode,
		Extent:        sc.Extent,
		PreTransform:  support.Capabilities.CurrentTransform,
	})
	if err != nil {
		return errors.Wrap(err, "create swapchain")
	}
	defer func() {
		if err != nil {
			m.release(sc)
		}
	}()

	sc.Images, err = m.device.SwapchainImages(sc.Handle)
	if err != nil {
		return errors.Wrap(err, "get swapchain images")
	}

	for i, image := range sc.Images {
		view, err := m.device.CreateImageView(image, sc.Format.Format)
		if err != nil {
			return errors.Wrapf(err, "create view for swapchain image %d", i)
		}
		sc.Views = append(sc.Views, view)
	}

	m.current = sc
	m.logger.Debug("swapchain built",
		"images", sc.Len(),
		"width", sc.Extent.Width,
		"height", sc.Extent.Height,
		"format", sc.Format.Format,
		"present_mode", sc.PresentMode)
	return nil
}

func (m *Manager) release(sc *Swapchain) {
	for _, view := range sc.Views {
		m.device.DestroyImageView(view)
	}
	m.device.DestroySwapchain(sc.Handle)
}

// Destroy releases the chain. The caller must make sure the device is idle
// and that nothing still references the image views.
func (m *Manager) Destroy() {
	if m.current == nil {
		return
	}

	m.release(m.current)
	m.current = nil
}

func (m *Manager) Rebuild() error {
	m.Destroy()
	return m.Build()
}

// Acquire returns the index of the next image; the semaphore is signaled
// once it can be rendered to. gpu.ErrOutOfDate is passed through unwrapped.
func (m *Manager) Acquire(signal gpu.Semaphore) (int, error) {
	if m.current == nil {
		return 0, errors.New("acquire without a swapchain")
	}

	index, err := m.device.AcquireNextImage(m.current.Handle, signal)
	if err != nil {
		return 0, err
	}
	if index < 0 || index >= m.current.Len() {
		return 0, errors.Errorf("acquired image index %d out of range [0, %d)", index, m.current.Len())
	}
	return index, nil
}

func (m *Manager) Present(imageIndex int, wait gpu.Semaphore) error {
	if m.current == nil {
		return errors.New("present without a swapchain")
	}

	return m.device.Present(m.current.Handle, imageIndex, wait)
}
