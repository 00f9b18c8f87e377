// Package frame drives the render loop: per-slot synchronization, the
// per-image resources built on top of the swapchain, and the scheduler that
// moves one frame through wait, acquire, record, submit and present.
package frame

import (
	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/tutorial/internal/gpu"
	"github.com/vkngwrapper/tutorial/internal/scene"
	"github.com/vkngwrapper/tutorial/internal/swapchain"
)

const unclaimed = -1

type Scene interface {
	Uniforms(extent core1_0.Extent2D, seconds float64) scene.UniformBufferObject
	Instances() []scene.Instance
}

type Stats struct {
	Frames    uint64
	Submitted int
	Presented int
	Recreated int
	Skipped   int
}

type Config struct {
	Device    gpu.Device
	Swapchain *swapchain.Manager
	Mesh      gpu.Mesh
	Texture   gpu.Texture
	Scene     Scene
	Logger    *log.Logger
	// Clock returns seconds since start. Defaults to a monotonic hrtime clock.
	Clock func() float64
}

type Scheduler struct {
	device    gpu.Device
	swapchain *swapchain.Manager
	resources *Resources
	frames    *InFlight
	scene     Scene
	logger    *log.Logger
	clock     func() float64

	frame           int
	claims          []int
	pendingRecreate bool
	suspended       bool
	stats           Stats
}

func hrClock() func() float64 {
	start := hrtime.Now()
	return func() float64 {
		return (hrtime.Now() - start).Seconds()
	}
}

// Start builds the swapchain, the frame resources on top of it and the
// in-flight sync objects. On failure everything created so far is released.
func Start(cfg Config) (*Scheduler, error) {
	s := &Scheduler{
		device:    cfg.Device,
		swapchain: cfg.Swapchain,
		resources: NewResources(cfg.Device, cfg.Mesh, cfg.Texture),
		scene:     cfg.Scene,
		logger:    cfg.Logger,
		clock:     cfg.Clock,
	}
	if s.clock == nil {
		s.clock = hrClock()
	}

	if err := s.swapchain.Build(); err != nil {
		return nil, errors.Wrap(err, "build swapchain")
	}

	if err := s.resources.Build(s.swapchain.Current()); err != nil {
		s.swapchain.Destroy()
		return nil, errors.Wrap(err, "build frame resources")
	}

	frames, err := NewInFlight(s.device)
	if err != nil {
		s.resources.Destroy()
		s.swapchain.Destroy()
		return nil, errors.Wrap(err, "create sync objects")
	}
	s.frames = frames

	s.resetClaims()
	return s, nil
}

func (s *Scheduler) resetClaims() {
	s.claims = make([]int, s.resources.Len())
	for i := range s.claims {
		s.claims[i] = unclaimed
	}
}

// Slot is the index of the in-flight slot the next Tick will use.
func (s *Scheduler) Slot() int {
	return s.frame
}

func (s *Scheduler) Suspended() bool {
	return s.suspended
}

func (s *Scheduler) Stats() Stats {
	return s.stats
}

// Resize records a new drawable size. A zero dimension suspends rendering
// until a non-zero size arrives; any other size schedules a recreation at
// the end of the next frame.
func (s *Scheduler) Resize(width, height int) {
	if width <= 0 || height <= 0 {
		if !s.suspended {
			s.logger.Debug("rendering suspended", "width", width, "height", height)
		}
		s.suspended = true
		return
	}

	if s.suspended {
		s.logger.Debug("rendering resumed", "width", width, "height", height)
	}
	s.suspended = false
	s.pendingRecreate = true
}

// Invalidate schedules a recreation without a size change, e.g. after the
// shaders on disk changed.
func (s *Scheduler) Invalidate() {
	s.pendingRecreate = true
}

// Tick renders one frame. Only unrecoverable failures are returned; a stale
// swapchain is rebuilt in place.
func (s *Scheduler) Tick() error {
	if s.suspended {
		s.stats.Skipped++
		return nil
	}

	// the last recreation ran while the window had no area
	if s.swapchain.Current() == nil {
		return s.Recreate()
	}

	slot := s.frames.Slot(s.frame)

	if err := s.device.WaitForFences(slot.InFlight); err != nil {
		return errors.Wrapf(err, "wait for in-flight fence %d", s.frame)
	}

	imageIndex, err := s.swapchain.Acquire(slot.ImageAvailable)
	if errors.Is(err, gpu.ErrOutOfDate) {
		return s.Recreate()
	} else if err != nil {
		return errors.Wrap(err, "acquire swapchain image")
	}

	if err := s.claim(imageIndex); err != nil {
		return err
	}

	img, err := s.resources.ForImage(imageIndex)
	if err != nil {
		return err
	}

	if err := s.record(imageIndex); err != nil {
		return err
	}

	// reset only once the submission that signals the fence is certain
	if err := s.device.ResetFences(slot.InFlight); err != nil {
		return errors.Wrapf(err, "reset in-flight fence %d", s.frame)
	}

	err = s.device.Submit(gpu.Submission{
		CommandBuffer: img.CommandBuffer,
		Wait:          slot.ImageAvailable,
		Signal:        slot.RenderFinished,
		Fence:         slot.InFlight,
	})
	if err != nil {
		return errors.Wrap(err, "submit draw command buffer")
	}
	s.stats.Submitted++

	err = s.swapchain.Present(imageIndex, slot.RenderFinished)
	stale := gpu.IsStale(err)
	if err != nil && !stale {
		return errors.Wrap(err, "present swapchain image")
	}
	if !errors.Is(err, gpu.ErrOutOfDate) {
		s.stats.Presented++
	}

	s.frame = (s.frame + 1) % MaxFramesInFlight
	s.stats.Frames++

	if stale || s.pendingRecreate {
		return s.Recreate()
	}
	return nil
}

// claim waits for whichever other slot last rendered to the image before
// handing it to the current slot.
func (s *Scheduler) claim(imageIndex int) error {
	if imageIndex < 0 || imageIndex >= len(s.claims) {
		return errors.Errorf("image index %d out of range [0, %d)", imageIndex, len(s.claims))
	}

	owner := s.claims[imageIndex]
	if owner != unclaimed && owner != s.frame {
		if err := s.device.WaitForFences(s.frames.Slot(owner).InFlight); err != nil {
			return errors.Wrapf(err, "wait for fence of slot %d using image %d", owner, imageIndex)
		}
	}

	s.claims[imageIndex] = s.frame
	return nil
}

func (s *Scheduler) record(imageIndex int) error {
	extent := s.swapchain.Current().Extent
	ubo := s.scene.Uniforms(extent, s.clock())

	instances := s.scene.Instances()
	pushConstants := make([][]byte, 0, len(instances))
	for _, instance := range instances {
		data, err := instance.Bytes()
		if err != nil {
			return errors.Wrap(err, "encode push constants")
		}
		pushConstants = append(pushConstants, data)
	}

	return s.resources.Record(imageIndex, FrameData{
		Uniforms:      &ubo,
		PushConstants: pushConstants,
	})
}

// Recreate waits for the device to go idle and rebuilds the swapchain and
// everything built on it. If the window currently has no area the rebuild
// is deferred and rendering suspended.
func (s *Scheduler) Recreate() error {
	if err := s.device.WaitIdle(); err != nil {
		return errors.Wrap(err, "wait for device idle before recreation")
	}

	s.resources.Destroy()

	err := s.swapchain.Rebuild()
	if errors.Is(err, swapchain.ErrZeroExtent) {
		s.logger.Debug("swapchain recreation deferred until the window has area")
		s.suspended = true
		s.pendingRecreate = true
		return nil
	} else if err != nil {
		return errors.Wrap(err, "rebuild swapchain")
	}

	sc := s.swapchain.Current()
	if err := s.resources.Build(sc); err != nil {
		return errors.Wrap(err, "rebuild frame resources")
	}

	s.resetClaims()
	s.pendingRecreate = false
	s.stats.Recreated++

	s.logger.Debug("swapchain recreated",
		"images", sc.Len(),
		"width", sc.Extent.Width,
		"height", sc.Extent.Height)
	return nil
}

// Close waits for the GPU to finish, then releases the frame resources, the
// swapchain and finally the sync objects.
func (s *Scheduler) Close() error {
	err := s.device.WaitIdle()

	s.resources.Destroy()
	s.swapchain.Destroy()
	s.frames.Destroy()

	return errors.Wrap(err, "wait for device idle before teardown")
}
