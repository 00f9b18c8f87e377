package app

import (
	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/tutorial/internal/config"
)

// Window is the SDL window the swapchain presents to.
type Window struct {
	*sdl.Window
}

func openWindow(cfg config.Window) (*Window, error) {
	window, err := sdl.CreateWindow(cfg.Title,
		sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		int32(cfg.Width), int32(cfg.Height),
		sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		return nil, errors.Wrap(err, "create window")
	}
	return &Window{Window: window}, nil
}

// DrawableSize is the size in pixels of the surface, which differs from the
// window size on high-DPI displays.
func (w *Window) DrawableSize() (width, height int) {
	if w.GetFlags()&sdl.WINDOW_MINIMIZED != 0 {
		return 0, 0
	}

	dw, dh := w.VulkanGetDrawableSize()
	return int(dw), int(dh)
}

func (w *Window) Close() {
	if w.Window != nil {
		w.Window.Destroy()
		w.Window = nil
	}
}
