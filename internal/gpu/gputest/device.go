// Package gputest provides an in-memory gpu.Device. It simulates the GPU
// timeline well enough to check host-side ordering: fences complete when
// waited on, semaphores must be signaled before they are waited, and every
// misuse is recorded as a violation instead of crashing the test.
package gputest

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/tutorial/internal/gpu"
	"github.com/vkngwrapper/tutorial/internal/handle"
	"github.com/vkngwrapper/tutorial/internal/mesh"
	"github.com/vkngwrapper/tutorial/internal/texture"
)

// ErrInjected is returned by calls configured with FailOn.
var ErrInjected = errors.New("injected failure")

type fence struct {
	signaled bool
	pending  bool
}

type semaphore struct {
	signaled bool
}

type swapchain struct {
	info   gpu.SwapchainCreateInfo
	images []gpu.Image
	next   int
}

type descriptorPool struct {
	capacity int
	sets     []gpu.DescriptorSet
}

type descriptorSet struct {
	write *gpu.DescriptorWrite
}

type failure struct {
	call int
	err  error
}

type Device struct {
	Support gpu.SurfaceSupport
	// SingleSample makes CreateColorAttachment return the zero attachment,
	// as a device without multisampling does.
	SingleSample bool

	// AcquireResults are consumed one per AcquireNextImage call before the
	// device falls back to cycling through the images in order.
	AcquireResults []AcquireResult
	// PresentErrors are consumed one per Present call; nil entries succeed.
	PresentErrors []error

	SwapchainInfos []gpu.SwapchainCreateInfo
	Submissions    []gpu.Submission
	Presented      []int
	Draws          []gpu.DrawInfo
	Writes         []any
	WaitIdleCalls  int
	MaxOutstanding int
	Violations     []string

	fences         handle.Table[*fence]
	semaphores     handle.Table[*semaphore]
	swapchains     handle.Table[*swapchain]
	images         handle.Table[struct{}]
	views          handle.Table[gpu.Image]
	attachments    handle.Table[core1_0.Extent2D]
	renderPasses   handle.Table[core1_0.Format]
	pipelines      handle.Table[core1_0.Extent2D]
	framebuffers   handle.Table[gpu.FramebufferCreateInfo]
	buffers        handle.Table[gpu.BufferCreateInfo]
	pools          handle.Table[*descriptorPool]
	sets           handle.Table[*descriptorSet]
	commandBuffers handle.Table[struct{}]
	meshes         handle.Table[*mesh.Mesh]
	textures       handle.Table[*texture.Image]

	lastFence map[gpu.CommandBuffer]gpu.Fence
	calls     map[string]int
	failures  map[string]failure
}

type AcquireResult struct {
	Index int
	Err   error
}

// NewDevice returns a device whose surface accepts any extent and offers
// the preferred format and mailbox present mode.
func NewDevice(minImages, maxImages int) *Device {
	return &Device{
		Support: gpu.SurfaceSupport{
			Capabilities: khr_surface.SurfaceCapabilities{
				MinImageCount:  minImages,
				MaxImageCount:  maxImages,
				CurrentExtent:  core1_0.Extent2D{Width: -1, Height: -1},
				MinImageExtent: core1_0.Extent2D{Width: 1, Height: 1},
				MaxImageExtent: core1_0.Extent2D{Width: 4096, Height: 4096},
			},
			Formats: []khr_surface.SurfaceFormat{
				{Format: core1_0.FormatR8G8B8A8SRGB, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear},
				{Format: core1_0.FormatB8G8R8A8SRGB, ColorSpace: khr_surface.ColorSpaceSRGBNonlinear},
			},
			PresentModes: []khr_surface.PresentMode{
				khr_surface.PresentModeFIFO,
				khr_surface.PresentModeMailbox,
			},
		},
		lastFence: make(map[gpu.CommandBuffer]gpu.Fence),
		calls:     make(map[string]int),
		failures:  make(map[string]failure),
	}
}

// FailOn makes the nth (1-based) call to method return err.
func (d *Device) FailOn(method string, call int, err error) {
	d.failures[method] = failure{call: call, err: err}
}

func (d *Device) enter(method string) error {
	d.calls[method]++
	f, ok := d.failures[method]
	if ok && f.call == d.calls[method] {
		return f.err
	}
	return nil
}

func (d *Device) Calls(method string) int {
	return d.calls[method]
}

func (d *Device) violate(format string, args ...any) {
	d.Violations = append(d.Violations, fmt.Sprintf(format, args...))
}

// Live counts objects that have been created and not yet destroyed.
// Swapchain images are owned by their swapchain and not counted.
func (d *Device) Live() int {
	return d.fences.Len() + d.semaphores.Len() + d.swapchains.Len() + d.views.Len() +
		d.attachments.Len() + d.renderPasses.Len() + d.pipelines.Len() + d.framebuffers.Len() +
		d.buffers.Len() + d.pools.Len() + d.sets.Len() + d.commandBuffers.Len() +
		d.meshes.Len() + d.textures.Len()
}

// Outstanding counts submissions whose fence has not completed.
func (d *Device) Outstanding() int {
	n := 0
	d.fences.Each(func(_ handle.Handle, f *fence) {
		if f.pending {
			n++
		}
	})
	return n
}

func (d *Device) complete(f *fence) {
	f.pending = false
	f.signaled = true
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	if err := d.enter("CreateSemaphore"); err != nil {
		return gpu.Semaphore{}, err
	}
	return gpu.Semaphore{Handle: d.semaphores.Insert(&semaphore{})}, nil
}

func (d *Device) DestroySemaphore(s gpu.Semaphore) {
	if _, ok := d.semaphores.Remove(s.Handle); !ok {
		d.violate("destroy of unknown semaphore %v", s)
	}
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	if err := d.enter("CreateFence"); err != nil {
		return gpu.Fence{}, err
	}
	return gpu.Fence{Handle: d.fences.Insert(&fence{signaled: signaled})}, nil
}

func (d *Device) DestroyFence(f gpu.Fence) {
	state, ok := d.fences.Remove(f.Handle)
	if !ok {
		d.violate("destroy of unknown fence %v", f)
	} else if state.pending {
		d.violate("destroy of fence %v still in use", f)
	}
}

func (d *Device) WaitForFences(fences ...gpu.Fence) error {
	if err := d.enter("WaitForFences"); err != nil {
		return err
	}

	for _, f := range fences {
		state, ok := d.fences.Get(f.Handle)
		if !ok {
			d.violate("wait on unknown fence %v", f)
			continue
		}
		if !state.signaled && !state.pending {
			d.violate("wait on unsignaled fence %v with no submission would never return", f)
			continue
		}
		d.complete(state)
	}
	return nil
}

func (d *Device) ResetFences(fences ...gpu.Fence) error {
	if err := d.enter("ResetFences"); err != nil {
		return err
	}

	for _, f := range fences {
		state, ok := d.fences.Get(f.Handle)
		if !ok {
			d.violate("reset of unknown fence %v", f)
			continue
		}
		if state.pending {
			d.violate("reset of fence %v still in use", f)
		}
		state.signaled = false
	}
	return nil
}

func (d *Device) WaitIdle() error {
	d.WaitIdleCalls++
	if err := d.enter("WaitIdle"); err != nil {
		return err
	}

	d.fences.Each(func(_ handle.Handle, f *fence) {
		if f.pending {
			d.complete(f)
		}
	})
	return nil
}

func (d *Device) SurfaceSupport() (gpu.SurfaceSupport, error) {
	if err := d.enter("SurfaceSupport"); err != nil {
		return gpu.SurfaceSupport{}, err
	}
	return d.Support, nil
}

func (d *Device) CreateSwapchain(info gpu.SwapchainCreateInfo) (gpu.Swapchain, error) {
	if err := d.enter("CreateSwapchain"); err != nil {
		return gpu.Swapchain{}, err
	}
	if info.Extent.Width <= 0 || info.Extent.Height <= 0 {
		d.violate("swapchain created with extent %v", info.Extent)
	}

	d.SwapchainInfos = append(d.SwapchainInfos, info)

	sc := &swapchain{info: info}
	for i := 0; i < info.MinImageCount; i++ {
		sc.images = append(sc.images, gpu.Image{Handle: d.images.Insert(struct{}{})})
	}

	return gpu.Swapchain{Handle: d.swapchains.Insert(sc)}, nil
}

func (d *Device) SwapchainImages(s gpu.Swapchain) ([]gpu.Image, error) {
	if err := d.enter("SwapchainImages"); err != nil {
		return nil, err
	}

	sc, ok := d.swapchains.Get(s.Handle)
	if !ok {
		return nil, errors.Errorf("unknown swapchain %v", s)
	}
	return append([]gpu.Image(nil), sc.images...), nil
}

func (d *Device) DestroySwapchain(s gpu.Swapchain) {
	sc, ok := d.swapchains.Remove(s.Handle)
	if !ok {
		d.violate("destroy of unknown swapchain %v", s)
		return
	}

	for _, img := range sc.images {
		d.images.Remove(img.Handle)
	}
	d.views.Each(func(_ handle.Handle, img gpu.Image) {
		if !d.images.Contains(img.Handle) {
			d.violate("swapchain %v destroyed before its image views", s)
		}
	})
}

func (d *Device) CreateImageView(image gpu.Image, format core1_0.Format) (gpu.ImageView, error) {
	if err := d.enter("CreateImageView"); err != nil {
		return gpu.ImageView{}, err
	}
	if !d.images.Contains(image.Handle) {
		return gpu.ImageView{}, errors.Errorf("unknown image %v", image)
	}
	return gpu.ImageView{Handle: d.views.Insert(image)}, nil
}

func (d *Device) DestroyImageView(v gpu.ImageView) {
	if _, ok := d.views.Remove(v.Handle); !ok {
		d.violate("destroy of unknown image view %v", v)
	}
}

func (d *Device) AcquireNextImage(s gpu.Swapchain, signal gpu.Semaphore) (int, error) {
	if err := d.enter("AcquireNextImage"); err != nil {
		return 0, err
	}

	sc, ok := d.swapchains.Get(s.Handle)
	if !ok {
		return 0, errors.Errorf("acquire from unknown swapchain %v", s)
	}

	index := sc.next % len(sc.images)
	if len(d.AcquireResults) > 0 {
		result := d.AcquireResults[0]
		d.AcquireResults = d.AcquireResults[1:]
		if result.Err != nil {
			return 0, result.Err
		}
		index = result.Index
	} else {
		sc.next++
	}

	sem, ok := d.semaphores.Get(signal.Handle)
	if !ok {
		d.violate("acquire signals unknown semaphore %v", signal)
	} else if sem.signaled {
		d.violate("acquire signals semaphore %v that is already signaled", signal)
	} else {
		sem.signaled = true
	}

	return index, nil
}

func (d *Device) Present(s gpu.Swapchain, imageIndex int, wait gpu.Semaphore) error {
	if err := d.enter("Present"); err != nil {
		return err
	}

	if !d.swapchains.Contains(s.Handle) {
		return errors.Errorf("present to unknown swapchain %v", s)
	}

	sem, ok := d.semaphores.Get(wait.Handle)
	if !ok || !sem.signaled {
		d.violate("present waits on semaphore %v that will never signal", wait)
	} else {
		sem.signaled = false
	}

	var err error
	if len(d.PresentErrors) > 0 {
		err = d.PresentErrors[0]
		d.PresentErrors = d.PresentErrors[1:]
	}
	if err == nil || errors.Is(err, gpu.ErrSuboptimal) {
		d.Presented = append(d.Presented, imageIndex)
	}
	return err
}

func (d *Device) CreateRenderPass(colorFormat core1_0.Format) (gpu.RenderPass, error) {
	if err := d.enter("CreateRenderPass"); err != nil {
		return gpu.RenderPass{}, err
	}
	return gpu.RenderPass{Handle: d.renderPasses.Insert(colorFormat)}, nil
}

func (d *Device) DestroyRenderPass(rp gpu.RenderPass) {
	if _, ok := d.renderPasses.Remove(rp.Handle); !ok {
		d.violate("destroy of unknown render pass %v", rp)
	}
}

func (d *Device) CreatePipeline(rp gpu.RenderPass, extent core1_0.Extent2D) (gpu.Pipeline, error) {
	if err := d.enter("CreatePipeline"); err != nil {
		return gpu.Pipeline{}, err
	}
	if !d.renderPasses.Contains(rp.Handle) {
		return gpu.Pipeline{}, errors.Errorf("pipeline for unknown render pass %v", rp)
	}
	return gpu.Pipeline{Handle: d.pipelines.Insert(extent)}, nil
}

func (d *Device) DestroyPipeline(p gpu.Pipeline) {
	if _, ok := d.pipelines.Remove(p.Handle); !ok {
		d.violate("destroy of unknown pipeline %v", p)
	}
}

func (d *Device) CreateColorAttachment(format core1_0.Format, extent core1_0.Extent2D) (gpu.Attachment, error) {
	if err := d.enter("CreateColorAttachment"); err != nil {
		return gpu.Attachment{}, err
	}
	if d.SingleSample {
		return gpu.Attachment{}, nil
	}
	return gpu.Attachment{Handle: d.attachments.Insert(extent)}, nil
}

func (d *Device) CreateDepthAttachment(extent core1_0.Extent2D) (gpu.Attachment, error) {
	if err := d.enter("CreateDepthAttachment"); err != nil {
		return gpu.Attachment{}, err
	}
	return gpu.Attachment{Handle: d.attachments.Insert(extent)}, nil
}

func (d *Device) DestroyAttachment(a gpu.Attachment) {
	if _, ok := d.attachments.Remove(a.Handle); !ok {
		d.violate("destroy of unknown attachment %v", a)
	}
}

func (d *Device) CreateFramebuffer(info gpu.FramebufferCreateInfo) (gpu.Framebuffer, error) {
	if err := d.enter("CreateFramebuffer"); err != nil {
		return gpu.Framebuffer{}, err
	}
	if !d.views.Contains(info.Target.Handle) || !d.attachments.Contains(info.Depth.Handle) {
		return gpu.Framebuffer{}, errors.New("framebuffer references destroyed attachments")
	}
	if d.SingleSample && info.Color.Valid() {
		return gpu.Framebuffer{}, errors.Errorf("single-sampled framebuffer given color attachment %v", info.Color)
	}
	if !d.SingleSample && !d.attachments.Contains(info.Color.Handle) {
		return gpu.Framebuffer{}, errors.New("framebuffer references a destroyed color attachment")
	}
	return gpu.Framebuffer{Handle: d.framebuffers.Insert(info)}, nil
}

func (d *Device) DestroyFramebuffer(fb gpu.Framebuffer) {
	if _, ok := d.framebuffers.Remove(fb.Handle); !ok {
		d.violate("destroy of unknown framebuffer %v", fb)
	}
}

func (d *Device) CreateBuffer(info gpu.BufferCreateInfo) (gpu.Buffer, error) {
	if err := d.enter("CreateBuffer"); err != nil {
		return gpu.Buffer{}, err
	}
	return gpu.Buffer{Handle: d.buffers.Insert(info)}, nil
}

func (d *Device) WriteBuffer(b gpu.Buffer, offset int, data any) error {
	if err := d.enter("WriteBuffer"); err != nil {
		return err
	}
	if !d.buffers.Contains(b.Handle) {
		return errors.Errorf("write to unknown buffer %v", b)
	}
	d.Writes = append(d.Writes, data)
	return nil
}

func (d *Device) DestroyBuffer(b gpu.Buffer) {
	if _, ok := d.buffers.Remove(b.Handle); !ok {
		d.violate("destroy of unknown buffer %v", b)
	}
}

func (d *Device) CreateMesh(m *mesh.Mesh) (gpu.Mesh, error) {
	if err := d.enter("CreateMesh"); err != nil {
		return gpu.Mesh{}, err
	}
	return gpu.Mesh{Handle: d.meshes.Insert(m)}, nil
}

func (d *Device) DestroyMesh(m gpu.Mesh) {
	if _, ok := d.meshes.Remove(m.Handle); !ok {
		d.violate("destroy of unknown mesh %v", m)
	}
}

func (d *Device) CreateTexture(img *texture.Image) (gpu.Texture, error) {
	if err := d.enter("CreateTexture"); err != nil {
		return gpu.Texture{}, err
	}
	return gpu.Texture{Handle: d.textures.Insert(img)}, nil
}

func (d *Device) DestroyTexture(t gpu.Texture) {
	if _, ok := d.textures.Remove(t.Handle); !ok {
		d.violate("destroy of unknown texture %v", t)
	}
}

func (d *Device) CreateDescriptorPool(sets int) (gpu.DescriptorPool, error) {
	if err := d.enter("CreateDescriptorPool"); err != nil {
		return gpu.DescriptorPool{}, err
	}
	return gpu.DescriptorPool{Handle: d.pools.Insert(&descriptorPool{capacity: sets})}, nil
}

func (d *Device) DestroyDescriptorPool(p gpu.DescriptorPool) {
	pool, ok := d.pools.Remove(p.Handle)
	if !ok {
		d.violate("destroy of unknown descriptor pool %v", p)
		return
	}
	for _, set := range pool.sets {
		d.sets.Remove(set.Handle)
	}
}

func (d *Device) AllocateDescriptorSets(p gpu.DescriptorPool, count int) ([]gpu.DescriptorSet, error) {
	if err := d.enter("AllocateDescriptorSets"); err != nil {
		return nil, err
	}

	pool, ok := d.pools.Get(p.Handle)
	if !ok {
		return nil, errors.Errorf("allocate from unknown pool %v", p)
	}
	if len(pool.sets)+count > pool.capacity {
		return nil, errors.Errorf("descriptor pool %v exhausted", p)
	}

	sets := make([]gpu.DescriptorSet, count)
	for i := range sets {
		sets[i] = gpu.DescriptorSet{Handle: d.sets.Insert(&descriptorSet{})}
	}
	pool.sets = append(pool.sets, sets...)
	return sets, nil
}

func (d *Device) WriteDescriptorSet(write gpu.DescriptorWrite) error {
	if err := d.enter("WriteDescriptorSet"); err != nil {
		return err
	}

	set, ok := d.sets.Get(write.Set.Handle)
	if !ok {
		return errors.Errorf("write to unknown descriptor set %v", write.Set)
	}
	if !d.buffers.Contains(write.Uniform.Handle) || !d.textures.Contains(write.Texture.Handle) {
		return errors.New("descriptor write references destroyed resources")
	}

	w := write
	set.write = &w
	return nil
}

func (d *Device) AllocateCommandBuffers(count int) ([]gpu.CommandBuffer, error) {
	if err := d.enter("AllocateCommandBuffers"); err != nil {
		return nil, err
	}

	buffers := make([]gpu.CommandBuffer, count)
	for i := range buffers {
		buffers[i] = gpu.CommandBuffer{Handle: d.commandBuffers.Insert(struct{}{})}
	}
	return buffers, nil
}

func (d *Device) FreeCommandBuffers(buffers ...gpu.CommandBuffer) {
	for _, b := range buffers {
		if f, ok := d.lastFence[b]; ok {
			if state, live := d.fences.Get(f.Handle); live && state.pending {
				d.violate("command buffer %v freed while in use", b)
			}
			delete(d.lastFence, b)
		}
		if _, ok := d.commandBuffers.Remove(b.Handle); !ok {
			d.violate("free of unknown command buffer %v", b)
		}
	}
}

func (d *Device) RecordDraw(b gpu.CommandBuffer, info gpu.DrawInfo) error {
	if err := d.enter("RecordDraw"); err != nil {
		return err
	}

	if !d.commandBuffers.Contains(b.Handle) {
		return errors.Errorf("record into unknown command buffer %v", b)
	}
	if f, ok := d.lastFence[b]; ok {
		if state, live := d.fences.Get(f.Handle); live && state.pending {
			d.violate("command buffer %v re-recorded while in use", b)
		}
	}
	if !d.pipelines.Contains(info.Pipeline.Handle) || !d.framebuffers.Contains(info.Framebuffer.Handle) ||
		!d.sets.Contains(info.DescriptorSet.Handle) || !d.meshes.Contains(info.Mesh.Handle) {
		return errors.New("draw references destroyed resources")
	}

	d.Draws = append(d.Draws, info)
	return nil
}

func (d *Device) Submit(s gpu.Submission) error {
	if err := d.enter("Submit"); err != nil {
		return err
	}

	if !d.commandBuffers.Contains(s.CommandBuffer.Handle) {
		return errors.Errorf("submit of unknown command buffer %v", s.CommandBuffer)
	}

	wait, ok := d.semaphores.Get(s.Wait.Handle)
	if !ok || !wait.signaled {
		d.violate("submit waits on semaphore %v that will never signal", s.Wait)
	} else {
		wait.signaled = false
	}

	signal, ok := d.semaphores.Get(s.Signal.Handle)
	if !ok {
		d.violate("submit signals unknown semaphore %v", s.Signal)
	} else if signal.signaled {
		d.violate("submit signals semaphore %v that is already signaled", s.Signal)
	} else {
		signal.signaled = true
	}

	f, ok := d.fences.Get(s.Fence.Handle)
	if !ok {
		return errors.Errorf("submit with unknown fence %v", s.Fence)
	}
	if f.signaled || f.pending {
		d.violate("submit with fence %v that was not reset", s.Fence)
	}

	if prev, ok := d.lastFence[s.CommandBuffer]; ok && prev != s.Fence {
		if state, live := d.fences.Get(prev.Handle); live && state.pending {
			d.violate("command buffer %v claimed by fences %v and %v at once", s.CommandBuffer, prev, s.Fence)
		}
	}
	d.lastFence[s.CommandBuffer] = s.Fence

	f.signaled = false
	f.pending = true
	d.Submissions = append(d.Submissions, s)

	if n := d.Outstanding(); n > d.MaxOutstanding {
		d.MaxOutstanding = n
	}
	return nil
}

var _ gpu.Device = (*Device)(nil)
