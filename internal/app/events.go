package app

import (
	"github.com/charmbracelet/log"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/tutorial/internal/swapchain"
)

// Renderer is the part of the frame scheduler driven by window events.
type Renderer interface {
	Resize(width, height int)
	Invalidate()
}

type Models interface {
	AddModel()
	RemoveModel()
	Models() int
}

type dispatcher struct {
	window   swapchain.Window
	renderer Renderer
	models   Models
	logger   *log.Logger
}

// dispatch applies one SDL event and reports whether the application
// should quit.
func (d *dispatcher) dispatch(event sdl.Event) bool {
	switch e := event.(type) {
	case *sdl.QuitEvent:
		return true

	case *sdl.WindowEvent:
		switch e.Event {
		case sdl.WINDOWEVENT_MINIMIZED:
			d.renderer.Resize(0, 0)
		case sdl.WINDOWEVENT_RESTORED, sdl.WINDOWEVENT_RESIZED, sdl.WINDOWEVENT_SIZE_CHANGED:
			d.renderer.Resize(d.window.DrawableSize())
		case sdl.WINDOWEVENT_CLOSE:
			return true
		}

	case *sdl.KeyboardEvent:
		if e.Type != sdl.KEYDOWN || e.Repeat != 0 {
			break
		}

		switch e.Keysym.Sym {
		case sdl.K_LEFT:
			d.models.RemoveModel()
			d.logger.Debug("model count changed", "models", d.models.Models())
		case sdl.K_RIGHT:
			d.models.AddModel()
			d.logger.Debug("model count changed", "models", d.models.Models())
		case sdl.K_ESCAPE:
			return true
		}
	}

	return false
}
