// Package app wires the window, the Vulkan device, the loaded assets and the
// frame scheduler together and runs the event loop.
package app

import (
	"context"
	"io/fs"
	"os"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/tutorial/internal/assets"
	"github.com/vkngwrapper/tutorial/internal/config"
	"github.com/vkngwrapper/tutorial/internal/frame"
	"github.com/vkngwrapper/tutorial/internal/gpu"
	"github.com/vkngwrapper/tutorial/internal/scene"
	"github.com/vkngwrapper/tutorial/internal/swapchain"
	"github.com/vkngwrapper/tutorial/internal/vulkan"
)

// suspendedDelay is how long the loop sleeps per iteration while the
// window has no drawable area, in milliseconds.
const suspendedDelay = 16

var presentModes = map[string]khr_surface.PresentMode{
	"mailbox":      khr_surface.PresentModeMailbox,
	"fifo":         khr_surface.PresentModeFIFO,
	"fifo_relaxed": khr_surface.PresentModeFIFORelaxed,
	"immediate":    khr_surface.PresentModeImmediate,
}

func preferences(cfg config.Graphics) swapchain.Preferences {
	prefs := swapchain.DefaultPreferences()
	if mode, ok := presentModes[cfg.PresentMode]; ok {
		prefs.PresentMode = mode
	}
	return prefs
}

type App struct {
	cfg    config.Config
	fsys   fs.FS
	logger *log.Logger

	window    *Window
	device    *vulkan.Device
	mesh      gpu.Mesh
	texture   gpu.Texture
	scene     *scene.Scene
	scheduler *frame.Scheduler
	shaders   *assets.ShaderCache
	watcher   *assets.Watcher
}

// New prepares an application reading its assets relative to the working
// directory.
func New(cfg config.Config, logger *log.Logger) *App {
	return &App{
		cfg:    cfg,
		fsys:   os.DirFS("."),
		logger: logger,
		scene:  scene.New(cfg.Scene.Models),
	}
}

// Run opens the window and device, uploads the assets and renders until the
// window is closed or ctx is done. Everything is torn down before it
// returns.
func (a *App) Run(ctx context.Context) (err error) {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return errors.Wrap(err, "init sdl")
	}
	defer sdl.Quit()

	defer func() {
		err = errors.CombineErrors(err, a.cleanup())
	}()

	if err := a.init(ctx); err != nil {
		return err
	}

	return a.mainLoop(ctx)
}

func (a *App) init(ctx context.Context) error {
	var err error
	a.window, err = openWindow(a.cfg.Window)
	if err != nil {
		return err
	}

	a.shaders, err = assets.NewShaderCache(assets.Shaders{
		FS:       a.fsys,
		Vertex:   a.cfg.Assets.VertexShader,
		Fragment: a.cfg.Assets.FragmentShader,
	})
	if err != nil {
		return errors.Wrap(err, "load shaders")
	}

	a.device, err = vulkan.Open(a.window.Window, vulkan.Options{
		ApplicationName:  a.cfg.Window.Title,
		Validation:       a.cfg.Graphics.Validation,
		Multisample:      a.cfg.Graphics.Multisample,
		SampleShading:    a.cfg.Graphics.SampleShading,
		MinSampleShading: a.cfg.Graphics.MinSampleShade,
		Shaders:          a.shaders,
	}, a.logger)
	if err != nil {
		return errors.Wrap(err, "open vulkan device")
	}

	bundle, err := assets.Load(ctx, a.fsys, a.cfg.Assets, a.logger)
	if err != nil {
		return err
	}

	a.mesh, err = a.device.CreateMesh(bundle.Mesh)
	if err != nil {
		return errors.Wrap(err, "upload mesh")
	}

	a.texture, err = a.device.CreateTexture(bundle.Texture)
	if err != nil {
		return errors.Wrap(err, "upload texture")
	}

	a.scheduler, err = frame.Start(frame.Config{
		Device:    a.device,
		Swapchain: swapchain.NewManager(a.device, a.window, preferences(a.cfg.Graphics), a.logger),
		Mesh:      a.mesh,
		Texture:   a.texture,
		Scene:     a.scene,
		Logger:    a.logger,
	})
	if err != nil {
		return errors.Wrap(err, "start renderer")
	}

	if a.cfg.Assets.WatchShaders {
		a.watcher, err = assets.Watch(a.logger, a.cfg.Assets.VertexShader, a.cfg.Assets.FragmentShader)
		if err != nil {
			// rendering works without hot reload
			a.logger.Warn("shader watching disabled", "err", err)
			a.watcher = nil
		}
	}

	return nil
}

func (a *App) shaderChanges() <-chan string {
	if a.watcher == nil {
		return nil
	}
	return a.watcher.Changes()
}

func (a *App) mainLoop(ctx context.Context) error {
	d := &dispatcher{
		window:   a.window,
		renderer: a.scheduler,
		models:   a.scene,
		logger:   a.logger,
	}
	reload := &shaderReload{
		shaders:  a.shaders,
		renderer: a.scheduler,
		logger:   a.logger,
		settle:   shaderSettle,
	}

	for {
		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			if d.dispatch(event) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			a.logger.Info("shutting down", "reason", context.Cause(ctx))
			return nil
		case name := <-a.shaderChanges():
			reload.handle(name, a.shaderChanges())
		default:
		}

		if a.scheduler.Suspended() {
			sdl.Delay(suspendedDelay)
		}

		if err := a.scheduler.Tick(); err != nil {
			return err
		}
	}
}

// cleanup releases everything init created, in reverse order. It is safe to
// call after a partial init.
func (a *App) cleanup() error {
	var err error

	if a.watcher != nil {
		err = errors.CombineErrors(err, a.watcher.Close())
		a.watcher = nil
	}

	if a.scheduler != nil {
		stats := a.scheduler.Stats()
		a.logger.Info("renderer stopped",
			"frames", stats.Frames,
			"presented", stats.Presented,
			"recreated", stats.Recreated,
			"skipped", stats.Skipped)

		err = errors.CombineErrors(err, a.scheduler.Close())
		a.scheduler = nil
	}

	if a.device != nil {
		if waitErr := a.device.WaitIdle(); waitErr != nil {
			err = errors.CombineErrors(err, waitErr)
		}
		a.device.DestroyTexture(a.texture)
		a.device.DestroyMesh(a.mesh)
		a.device.Close()
		a.device = nil
	}

	if a.window != nil {
		a.window.Close()
		a.window = nil
	}

	return err
}
