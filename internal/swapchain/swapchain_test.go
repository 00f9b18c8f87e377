package swapchain

import (
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/tutorial/internal/gpu"
	"github.com/vkngwrapper/tutorial/internal/gpu/gputest"
)

type window struct {
	width, height int
}

func (w *window) DrawableSize() (int, int) {
	return w.width, w.height
}

func newManager(dev *gputest.Device, w *window) *Manager {
	return NewManager(dev, w, DefaultPreferences(), log.New(io.Discard))
}

func TestImageCount(t *testing.T) {
	tests := []struct {
		min, max int
		want     int
	}{
		{min: 2, max: 4, want: 3},
		{min: 2, max: 2, want: 2},
		{min: 3, max: 0, want: 4},
		{min: 1, max: 8, want: 2},
	}

	for _, tt := range tests {
		caps := khr_surface.SurfaceCapabilities{MinImageCount: tt.min, MaxImageCount: tt.max}
		if got := ImageCount(caps); got != tt.want {
			t.Errorf("ImageCount(min=%d, max=%d) = %d, want %d", tt.min, tt.max, got, tt.want)
		}
	}
}

func TestChooseSurfaceFormat(t *testing.T) {
	srgb := khr_surface.SurfaceFormat{Format: core1_0.FormatB8G8R8A8SRGB, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear}
	other := khr_surface.SurfaceFormat{Format: core1_0.FormatR8G8B8A8SRGB, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear}
	prefs := DefaultPreferences().Formats

	if got := ChooseSurfaceFormat([]khr_surface.SurfaceFormat{other, srgb}, prefs); got != srgb {
		t.Errorf("preferred format not chosen: got %v", got)
	}
	if got := ChooseSurfaceFormat([]khr_surface.SurfaceFormat{other}, prefs); got != other {
		t.Errorf("fallback should be the first available format, got %v", got)
	}
}

func TestChoosePresentMode(t *testing.T) {
	tests := []struct {
		name      string
		available []khr_surface.PresentMode
		preferred khr_surface.PresentMode
		want      khr_surface.PresentMode
	}{
		{"mailbox offered", []khr_surface.PresentMode{khr_surface.PresentModeFIFO, khr_surface.PresentModeMailbox}, khr_surface.PresentModeMailbox, khr_surface.PresentModeMailbox},
		{"mailbox missing", []khr_surface.PresentMode{khr_surface.PresentModeFIFO}, khr_surface.PresentModeMailbox, khr_surface.PresentModeFIFO},
		{"fifo requested", []khr_surface.PresentMode{khr_surface.PresentModeMailbox, khr_surface.PresentModeFIFO}, khr_surface.PresentModeFIFO, khr_surface.PresentModeFIFO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ChoosePresentMode(tt.available, tt.preferred); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChooseExtent(t *testing.T) {
	caps := khr_surface.SurfaceCapabilities{
		MinImageExtent: core1_0.Extent2D{Width: 100, Height: 100},
		MaxImageExtent: core1_0.Extent2D{Width: 1000, Height: 1000},
	}

	caps.CurrentExtent = core1_0.Extent2D{Width: 640, Height: 480}
	if got := ChooseExtent(caps, 800, 600); got != caps.CurrentExtent {
		t.Errorf("fixed extent: got %v, want %v", got, caps.CurrentExtent)
	}

	caps.CurrentExtent = core1_0.Extent2D{Width: -1, Height: -1}
	tests := []struct {
		width, height int
		want          core1_0.Extent2D
	}{
		{800, 600, core1_0.Extent2D{Width: 800, Height: 600}},
		{50, 600, core1_0.Extent2D{Width: 100, Height: 600}},
		{5000, 5000, core1_0.Extent2D{Width: 1000, Height: 1000}},
	}
	for _, tt := range tests {
		if got := ChooseExtent(caps, tt.width, tt.height); got != tt.want {
			t.Errorf("ChooseExtent(%d, %d) = %v, want %v", tt.width, tt.height, got, tt.want)
		}
	}

	caps.CurrentExtent = core1_0.Extent2D{Width: 0xFFFFFFFF, Height: 0xFFFFFFFF}
	if got := ChooseExtent(caps, 320, 240); got != (core1_0.Extent2D{Width: 320, Height: 240}) {
		t.Errorf("0xFFFFFFFF should also mean any extent, got %v", got)
	}
}

func TestBuild(t *testing.T) {
	dev := gputest.NewDevice(2, 4)
	m := newManager(dev, &window{800, 600})

	if err := m.Build(); err != nil {
		t.Fatal(err)
	}

	sc := m.Current()
	if sc.Len() != 3 || len(sc.Views) != 3 {
		t.Errorf("got %d images and %d views, want 3", sc.Len(), len(sc.Views))
	}
	if sc.Format.Format != core1_0.FormatB8G8R8A8SRGB {
		t.Errorf("format = %v", sc.Format.Format)
	}
	if sc.PresentMode != khr_surface.PresentModeMailbox {
		t.Errorf("present mode = %v", sc.PresentMode)
	}
	if sc.Extent != (core1_0.Extent2D{Width: 800, Height: 600}) {
		t.Errorf("extent = %v", sc.Extent)
	}
	if info := dev.SwapchainInfos[0]; info.MinImageCount != 3 {
		t.Errorf("requested %d images, want 3", info.MinImageCount)
	}

	if err := m.Build(); err == nil {
		t.Error("second Build without Destroy should fail")
	}

	m.Destroy()
	if m.Current() != nil || dev.Live() != 0 {
		t.Errorf("Destroy left %d live objects", dev.Live())
	}
	if len(dev.Violations) > 0 {
		t.Errorf("violations: %v", dev.Violations)
	}
}

func TestBuildFailureLeavesNothing(t *testing.T) {
	dev := gputest.NewDevice(2, 4)
	dev.FailOn("CreateImageView", 2, gputest.ErrInjected)
	m := newManager(dev, &window{800, 600})

	err := m.Build()
	if !errors.Is(err, gputest.ErrInjected) {
		t.Fatalf("Build error = %v, want injected failure", err)
	}
	if m.Current() != nil {
		t.Error("failed Build must not publish a swapchain")
	}
	if dev.Live() != 0 {
		t.Errorf("failed Build leaked %d objects", dev.Live())
	}
}

func TestBuildZeroExtent(t *testing.T) {
	dev := gputest.NewDevice(2, 4)
	dev.Support.Capabilities.MinImageExtent = core1_0.Extent2D{}
	m := newManager(dev, &window{0, 0})

	if err := m.Build(); !errors.Is(err, ErrZeroExtent) {
		t.Fatalf("Build error = %v, want ErrZeroExtent", err)
	}
	if dev.Calls("CreateSwapchain") != 0 {
		t.Error("no swapchain should be created for a zero extent")
	}
}

func TestRebuildIsIdempotent(t *testing.T) {
	dev := gputest.NewDevice(2, 4)
	m := newManager(dev, &window{800, 600})
	if err := m.Build(); err != nil {
		t.Fatal(err)
	}
	live := dev.Live()

	for i := 0; i < 3; i++ {
		if err := m.Rebuild(); err != nil {
			t.Fatal(err)
		}
	}

	if dev.Live() != live {
		t.Errorf("live objects after rebuilds = %d, want %d", dev.Live(), live)
	}
	first, last := dev.SwapchainInfos[0], dev.SwapchainInfos[len(dev.SwapchainInfos)-1]
	if first != last {
		t.Errorf("rebuild with unchanged surface produced %+v, want %+v", last, first)
	}
}

func TestAcquirePassesOutOfDate(t *testing.T) {
	dev := gputest.NewDevice(2, 4)
	m := newManager(dev, &window{800, 600})
	if err := m.Build(); err != nil {
		t.Fatal(err)
	}
	sem, _ := dev.CreateSemaphore()

	dev.AcquireResults = []gputest.AcquireResult{{Err: gpu.ErrOutOfDate}, {Index: 7}}

	if _, err := m.Acquire(sem); !errors.Is(err, gpu.ErrOutOfDate) {
		t.Errorf("got %v, want ErrOutOfDate", err)
	}
	if _, err := m.Acquire(sem); err == nil {
		t.Error("out of range image index should be rejected")
	}
}
