package frame

import (
	"io"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/tutorial/internal/gpu/gputest"
	"github.com/vkngwrapper/tutorial/internal/scene"
	"github.com/vkngwrapper/tutorial/internal/swapchain"
)

func buildSwapchain(t *testing.T, h *harness) *swapchain.Manager {
	t.Helper()

	m := swapchain.NewManager(h.dev, h.win, swapchain.DefaultPreferences(), log.New(io.Discard))
	if err := m.Build(); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestResourcesMatchImageCount(t *testing.T) {
	h := newHarness(t)
	m := buildSwapchain(t, h)
	r := NewResources(h.dev, h.mesh, h.texture)

	if err := r.Build(m.Current()); err != nil {
		t.Fatal(err)
	}
	if r.Len() != m.Current().Len() {
		t.Fatalf("resources for %d images, swapchain has %d", r.Len(), m.Current().Len())
	}

	seen := map[any]bool{}
	for i := 0; i < r.Len(); i++ {
		img, err := r.ForImage(i)
		if err != nil {
			t.Fatal(err)
		}
		for _, obj := range []any{img.Framebuffer, img.CommandBuffer, img.UniformBuffer, img.DescriptorSet} {
			if seen[obj] {
				t.Errorf("image %d shares %v with another image", i, obj)
			}
			seen[obj] = true
		}
	}

	if _, err := r.ForImage(r.Len()); err == nil {
		t.Error("ForImage past the end should fail")
	}
	if err := r.Build(m.Current()); err == nil {
		t.Error("Build over live resources should fail")
	}

	r.Destroy()
	r.Destroy()
	m.Destroy()
	h.dev.DestroyTexture(h.texture)
	h.dev.DestroyMesh(h.mesh)
	if h.dev.Live() != 0 {
		t.Errorf("%d objects leaked", h.dev.Live())
	}
	h.checkViolations(t)
}

func TestResourcesWithoutMultisampling(t *testing.T) {
	h := newHarness(t)
	h.dev.SingleSample = true
	m := buildSwapchain(t, h)
	r := NewResources(h.dev, h.mesh, h.texture)

	if err := r.Build(m.Current()); err != nil {
		t.Fatal(err)
	}
	if r.color.Valid() {
		t.Errorf("color attachment %v created without multisampling", r.color)
	}
	for i := 0; i < r.Len(); i++ {
		img, err := r.ForImage(i)
		if err != nil {
			t.Fatal(err)
		}
		if !img.Framebuffer.Valid() {
			t.Errorf("image %d has no framebuffer", i)
		}
	}

	if err := r.Record(0, FrameData{Uniforms: &scene.UniformBufferObject{}, PushConstants: [][]byte{make([]byte, 68)}}); err != nil {
		t.Fatal(err)
	}

	r.Destroy()
	m.Destroy()
	h.dev.DestroyTexture(h.texture)
	h.dev.DestroyMesh(h.mesh)
	if h.dev.Live() != 0 {
		t.Errorf("%d objects leaked", h.dev.Live())
	}
	h.checkViolations(t)
}

func TestResourcesBuildFailure(t *testing.T) {
	steps := []struct {
		method string
		call   int
	}{
		{"CreateRenderPass", 1},
		{"CreatePipeline", 1},
		{"CreateDepthAttachment", 1},
		{"CreateFramebuffer", 2},
		{"CreateBuffer", 3},
		{"AllocateDescriptorSets", 1},
		{"WriteDescriptorSet", 2},
		{"AllocateCommandBuffers", 1},
	}

	for _, step := range steps {
		t.Run(step.method, func(t *testing.T) {
			h := newHarness(t)
			m := buildSwapchain(t, h)
			live := h.dev.Live()

			h.dev.FailOn(step.method, step.call, gputest.ErrInjected)
			r := NewResources(h.dev, h.mesh, h.texture)

			if err := r.Build(m.Current()); !errors.Is(err, gputest.ErrInjected) {
				t.Fatalf("Build error = %v, want injected failure", err)
			}
			if r.Len() != 0 {
				t.Errorf("failed Build left %d image entries", r.Len())
			}
			if h.dev.Live() != live {
				t.Errorf("live objects = %d, want %d", h.dev.Live(), live)
			}
			h.checkViolations(t)
		})
	}
}

func TestInFlight(t *testing.T) {
	h := newHarness(t)
	live := h.dev.Live()

	f, err := NewInFlight(h.dev)
	if err != nil {
		t.Fatal(err)
	}
	if f.Len() != MaxFramesInFlight {
		t.Fatalf("slots = %d, want %d", f.Len(), MaxFramesInFlight)
	}

	// fences start signaled so the first wait on each slot returns
	for i := 0; i < f.Len(); i++ {
		if err := h.dev.WaitForFences(f.Slot(i).InFlight); err != nil {
			t.Fatal(err)
		}
	}
	h.checkViolations(t)

	f.Destroy()
	if h.dev.Live() != live {
		t.Errorf("live objects = %d, want %d", h.dev.Live(), live)
	}
}

func TestInFlightFailure(t *testing.T) {
	h := newHarness(t)
	live := h.dev.Live()
	h.dev.FailOn("CreateSemaphore", 4, gputest.ErrInjected)

	if _, err := NewInFlight(h.dev); !errors.Is(err, gputest.ErrInjected) {
		t.Fatalf("error = %v, want injected failure", err)
	}
	if h.dev.Live() != live {
		t.Errorf("live objects = %d, want %d", h.dev.Live(), live)
	}
	h.checkViolations(t)
}
