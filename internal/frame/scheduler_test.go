package frame

import (
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/tutorial/internal/gpu"
	"github.com/vkngwrapper/tutorial/internal/gpu/gputest"
	"github.com/vkngwrapper/tutorial/internal/mesh"
	"github.com/vkngwrapper/tutorial/internal/scene"
	"github.com/vkngwrapper/tutorial/internal/swapchain"
	"github.com/vkngwrapper/tutorial/internal/texture"
)

type window struct {
	width, height int
}

func (w *window) DrawableSize() (int, int) {
	return w.width, w.height
}

type harness struct {
	dev     *gputest.Device
	win     *window
	scene   *scene.Scene
	mesh    gpu.Mesh
	texture gpu.Texture
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dev := gputest.NewDevice(2, 4)
	m, err := dev.CreateMesh(&mesh.Mesh{})
	if err != nil {
		t.Fatal(err)
	}
	tex, err := dev.CreateTexture(&texture.Image{Width: 1, Height: 1, MipLevels: 1, Pixels: make([]byte, 4)})
	if err != nil {
		t.Fatal(err)
	}

	return &harness{
		dev:     dev,
		win:     &window{800, 600},
		scene:   scene.New(1),
		mesh:    m,
		texture: tex,
	}
}

func (h *harness) start(t *testing.T) *Scheduler {
	t.Helper()

	logger := log.New(io.Discard)
	s, err := Start(Config{
		Device:    h.dev,
		Swapchain: swapchain.NewManager(h.dev, h.win, swapchain.DefaultPreferences(), logger),
		Mesh:      h.mesh,
		Texture:   h.texture,
		Scene:     h.scene,
		Logger:    logger,
		Clock:     func() float64 { return 0.5 },
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func (h *harness) checkViolations(t *testing.T) {
	t.Helper()
	for _, v := range h.dev.Violations {
		t.Error(v)
	}
}

func tick(t *testing.T, s *Scheduler, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := s.Tick(); err != nil {
			t.Fatalf("tick %d: %+v", i, err)
		}
	}
}

func TestSteadyState(t *testing.T) {
	h := newHarness(t)
	s := h.start(t)

	tick(t, s, 100)

	h.checkViolations(t)
	if h.dev.MaxOutstanding > MaxFramesInFlight {
		t.Errorf("%d submissions outstanding at once, limit is %d", h.dev.MaxOutstanding, MaxFramesInFlight)
	}

	stats := s.Stats()
	if stats.Submitted != 100 || stats.Presented != 100 || stats.Frames != 100 {
		t.Errorf("stats = %+v, want 100 submitted and presented", stats)
	}
	if stats.Recreated != 0 {
		t.Errorf("steady state recreated %d times", stats.Recreated)
	}

	for i, sub := range h.dev.Submissions {
		want := s.frames.Slot(i % MaxFramesInFlight).InFlight
		if sub.Fence != want {
			t.Fatalf("submission %d used fence %v, want slot %d fence %v", i, sub.Fence, i%MaxFramesInFlight, want)
		}
	}
}

func TestSingleSampledRecreation(t *testing.T) {
	h := newHarness(t)
	h.dev.SingleSample = true
	s := h.start(t)

	tick(t, s, 3)
	h.win.width, h.win.height = 1024, 768
	s.Resize(1024, 768)
	tick(t, s, 3)

	if got := s.Stats().Presented; got != 6 {
		t.Errorf("presented %d frames, want 6", got)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	h.checkViolations(t)
}

func TestImageReclaimWaitsForPreviousSlot(t *testing.T) {
	h := newHarness(t)
	s := h.start(t)

	// the same image twice in a row, so slot 1 reuses the image slot 0 is
	// still rendering to
	h.dev.AcquireResults = []gputest.AcquireResult{{Index: 0}, {Index: 0}}
	tick(t, s, 2)

	h.checkViolations(t)
	if got := h.dev.Calls("WaitForFences"); got != 3 {
		t.Errorf("WaitForFences called %d times, want 3 (two slot waits and one image wait)", got)
	}
	if s.claims[0] != 1 {
		t.Errorf("image 0 claimed by slot %d, want 1", s.claims[0])
	}
}

func TestImageReclaimBySameSlotDoesNotWaitTwice(t *testing.T) {
	h := newHarness(t)
	s := h.start(t)

	h.dev.AcquireResults = []gputest.AcquireResult{{Index: 0}, {Index: 1}, {Index: 0}}
	tick(t, s, 3)

	h.checkViolations(t)
	if got := h.dev.Calls("WaitForFences"); got != 3 {
		t.Errorf("WaitForFences called %d times, want 3", got)
	}
}

func TestFailureBeforeSubmitLeavesFenceSignaled(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *harness)
	}{
		{"image out of range", func(h *harness) {
			h.dev.AcquireResults = []gputest.AcquireResult{{Index: 7}}
		}},
		{"uniform upload", func(h *harness) {
			h.dev.FailOn("WriteBuffer", h.dev.Calls("WriteBuffer")+1, gputest.ErrInjected)
		}},
		{"command recording", func(h *harness) {
			h.dev.FailOn("RecordDraw", h.dev.Calls("RecordDraw")+1, gputest.ErrInjected)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			s := h.start(t)
			tick(t, s, 1)

			slot := s.frames.Slot(s.frame).InFlight
			resets := h.dev.Calls("ResetFences")

			tt.setup(h)
			if err := s.Tick(); err == nil {
				t.Fatal("expected the tick to fail")
			}

			if got := h.dev.Calls("ResetFences"); got != resets {
				t.Errorf("fence reset %d times by a tick that never submitted", got-resets)
			}
			if err := h.dev.WaitForFences(slot); err != nil {
				t.Fatal(err)
			}
			h.checkViolations(t)
		})
	}
}

func TestAcquireOutOfDateRecreatesWithoutSubmitting(t *testing.T) {
	h := newHarness(t)
	s := h.start(t)
	tick(t, s, 1)

	h.dev.AcquireResults = []gputest.AcquireResult{{Err: gpu.ErrOutOfDate}}
	tick(t, s, 1)

	if got := len(h.dev.Submissions); got != 1 {
		t.Errorf("submissions = %d, want 1", got)
	}
	if s.Slot() != 1 {
		t.Errorf("slot advanced to %d after failed acquire, want 1", s.Slot())
	}
	if got := len(h.dev.SwapchainInfos); got != 2 {
		t.Errorf("swapchains built = %d, want 2", got)
	}
	if s.Stats().Recreated != 1 {
		t.Errorf("recreated = %d, want 1", s.Stats().Recreated)
	}

	tick(t, s, 10)
	h.checkViolations(t)
}

func TestStalePresentRecreatesAfterSubmitting(t *testing.T) {
	for _, presentErr := range []error{gpu.ErrOutOfDate, gpu.ErrSuboptimal} {
		t.Run(presentErr.Error(), func(t *testing.T) {
			h := newHarness(t)
			s := h.start(t)

			h.dev.PresentErrors = []error{presentErr}
			tick(t, s, 1)

			if len(h.dev.Submissions) != 1 {
				t.Errorf("submissions = %d, want 1", len(h.dev.Submissions))
			}
			if s.Stats().Recreated != 1 {
				t.Errorf("recreated = %d, want 1", s.Stats().Recreated)
			}
			if s.Slot() != 1 {
				t.Errorf("slot = %d, want 1", s.Slot())
			}
			for i, claim := range s.claims {
				if claim != unclaimed {
					t.Errorf("image %d still claimed by slot %d after recreation", i, claim)
				}
			}

			tick(t, s, 10)
			h.checkViolations(t)
		})
	}
}

func TestPresentFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	s := h.start(t)

	h.dev.PresentErrors = []error{errors.New("device lost")}
	if err := s.Tick(); err == nil {
		t.Fatal("expected present failure to be returned")
	}
	if s.Stats().Recreated != 0 {
		t.Error("a fatal present error must not trigger recreation")
	}
}

func TestResizeLifecycle(t *testing.T) {
	h := newHarness(t)
	s := h.start(t)
	tick(t, s, 3)

	h.win.width, h.win.height = 0, 0
	s.Resize(0, 0)
	if !s.Suspended() {
		t.Fatal("zero size should suspend rendering")
	}

	submitted := len(h.dev.Submissions)
	waits := h.dev.Calls("WaitForFences")
	tick(t, s, 5)
	if len(h.dev.Submissions) != submitted || h.dev.Calls("WaitForFences") != waits {
		t.Error("suspended ticks must not touch the GPU")
	}
	if s.Stats().Skipped != 5 {
		t.Errorf("skipped = %d, want 5", s.Stats().Skipped)
	}

	h.win.width, h.win.height = 800, 600
	s.Resize(800, 600)
	if s.Suspended() {
		t.Fatal("non-zero size should resume rendering")
	}

	tick(t, s, 1)
	if s.Stats().Recreated != 1 {
		t.Errorf("recreated = %d, want 1", s.Stats().Recreated)
	}
	if len(h.dev.Submissions) != submitted+1 {
		t.Errorf("resize tick submitted %d frames, want 1", len(h.dev.Submissions)-submitted)
	}

	tick(t, s, 4)
	if s.Stats().Recreated != 1 {
		t.Errorf("recreated again without a trigger: %d", s.Stats().Recreated)
	}
	h.checkViolations(t)
}

func TestResizeUsesNewExtent(t *testing.T) {
	h := newHarness(t)
	s := h.start(t)

	h.win.width, h.win.height = 1024, 768
	s.Resize(1024, 768)
	tick(t, s, 2)

	last := h.dev.SwapchainInfos[len(h.dev.SwapchainInfos)-1]
	if last.Extent != (core1_0.Extent2D{Width: 1024, Height: 768}) {
		t.Errorf("rebuilt extent = %v", last.Extent)
	}
	draw := h.dev.Draws[len(h.dev.Draws)-1]
	if draw.Extent != last.Extent {
		t.Errorf("recorded extent %v does not match swapchain extent %v", draw.Extent, last.Extent)
	}
}

func TestRecreateDeferredWhileMinimized(t *testing.T) {
	h := newHarness(t)
	h.dev.Support.Capabilities.MinImageExtent = core1_0.Extent2D{}
	s := h.start(t)

	// the driver reports the swapchain stale before the minimize event arrives
	h.win.width, h.win.height = 0, 0
	h.dev.AcquireResults = []gputest.AcquireResult{{Err: gpu.ErrOutOfDate}}
	tick(t, s, 1)

	if !s.Suspended() {
		t.Fatal("recreation at zero size should suspend rendering")
	}
	if h.dev.Calls("CreateSwapchain") != 1 {
		t.Error("no swapchain should be built at zero size")
	}

	h.win.width, h.win.height = 800, 600
	s.Resize(800, 600)
	tick(t, s, 1)
	if s.Stats().Recreated != 1 {
		t.Errorf("recreated = %d, want 1", s.Stats().Recreated)
	}

	tick(t, s, 5)
	h.checkViolations(t)
}

func TestInvalidate(t *testing.T) {
	h := newHarness(t)
	s := h.start(t)
	tick(t, s, 1)

	s.Invalidate()
	tick(t, s, 1)

	if s.Stats().Recreated != 1 {
		t.Errorf("recreated = %d, want 1", s.Stats().Recreated)
	}
	if h.dev.Calls("CreatePipeline") != 2 {
		t.Errorf("pipeline built %d times, want 2", h.dev.Calls("CreatePipeline"))
	}
	h.checkViolations(t)
}

func TestRecordsOneDrawPerInstance(t *testing.T) {
	h := newHarness(t)
	s := h.start(t)

	h.scene.SetModels(3)
	tick(t, s, 1)

	draw := h.dev.Draws[len(h.dev.Draws)-1]
	if len(draw.PushConstants) != 3 {
		t.Fatalf("push constant blocks = %d, want 3", len(draw.PushConstants))
	}
	for i, block := range draw.PushConstants {
		if len(block) != 68 {
			t.Errorf("block %d is %d bytes, want 68", i, len(block))
		}
	}

	if _, ok := h.dev.Writes[len(h.dev.Writes)-1].(*scene.UniformBufferObject); !ok {
		t.Errorf("uniform write has type %T", h.dev.Writes[len(h.dev.Writes)-1])
	}
}

func TestClose(t *testing.T) {
	h := newHarness(t)
	s := h.start(t)
	tick(t, s, 7)

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	h.dev.DestroyTexture(h.texture)
	h.dev.DestroyMesh(h.mesh)
	if h.dev.Live() != 0 {
		t.Errorf("%d objects leaked", h.dev.Live())
	}
	h.checkViolations(t)
}

func TestStartFailureReleasesEverything(t *testing.T) {
	for _, method := range []string{"CreateSwapchain", "CreateFramebuffer", "AllocateCommandBuffers", "CreateFence"} {
		t.Run(method, func(t *testing.T) {
			h := newHarness(t)
			h.dev.FailOn(method, 1, gputest.ErrInjected)

			logger := log.New(io.Discard)
			_, err := Start(Config{
				Device:    h.dev,
				Swapchain: swapchain.NewManager(h.dev, h.win, swapchain.DefaultPreferences(), logger),
				Mesh:      h.mesh,
				Texture:   h.texture,
				Scene:     h.scene,
				Logger:    logger,
			})
			if !errors.Is(err, gputest.ErrInjected) {
				t.Fatalf("Start error = %v, want injected failure", err)
			}

			// only the mesh and texture created by the harness remain
			if h.dev.Live() != 2 {
				t.Errorf("%d objects live after failed Start, want 2", h.dev.Live())
			}
			h.checkViolations(t)
		})
	}
}
