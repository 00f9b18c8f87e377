// Package gpu is the capability boundary between the frame loop and the
// graphics API. Everything the scheduler, swapchain manager and frame
// resources do to the GPU goes through Device; objects are referred to by
// generational handles, never by native handles.
package gpu

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/tutorial/internal/handle"
	"github.com/vkngwrapper/tutorial/internal/mesh"
	"github.com/vkngwrapper/tutorial/internal/texture"
)

var (
	// ErrOutOfDate is returned by acquire and present when the swapchain no
	// longer matches the surface and must be rebuilt.
	ErrOutOfDate = errors.New("swapchain out of date")
	// ErrSuboptimal is returned by present when the image was shown but the
	// swapchain should be rebuilt.
	ErrSuboptimal = errors.New("swapchain suboptimal")
	// ErrNoMemoryType is returned when no memory type satisfies both the
	// resource requirements and the requested properties.
	ErrNoMemoryType = errors.New("failed to find any suitable memory type")
)

// IsStale reports whether err is one of the two swapchain codes that are
// handled by recreating the swapchain.
func IsStale(err error) bool {
	return errors.Is(err, ErrOutOfDate) || errors.Is(err, ErrSuboptimal)
}

type (
	Fence          struct{ handle.Handle }
	Semaphore      struct{ handle.Handle }
	Swapchain      struct{ handle.Handle }
	Image          struct{ handle.Handle }
	ImageView      struct{ handle.Handle }
	Attachment     struct{ handle.Handle }
	RenderPass     struct{ handle.Handle }
	Pipeline       struct{ handle.Handle }
	Framebuffer    struct{ handle.Handle }
	Buffer         struct{ handle.Handle }
	DescriptorPool struct{ handle.Handle }
	DescriptorSet  struct{ handle.Handle }
	CommandBuffer  struct{ handle.Handle }
	Mesh           struct{ handle.Handle }
	Texture        struct{ handle.Handle }
)

type SurfaceSupport struct {
	Capabilities khr_surface.SurfaceCapabilities
	Formats      []khr_surface.SurfaceFormat
	PresentModes []khr_surface.PresentMode
}

// Adequate reports whether a swapchain can be built on the surface at all.
func (s SurfaceSupport) Adequate() bool {
	return len(s.Formats) > 0 && len(s.PresentModes) > 0
}

type SwapchainCreateInfo struct {
	MinImageCount int
	Format        khr_surface.SurfaceFormat
	PresentMode   khr_surface.PresentMode
	Extent        core1_0.Extent2D
	PreTransform  khr_surface.SurfaceTransformFlags
}

type FramebufferCreateInfo struct {
	RenderPass RenderPass
	Extent     core1_0.Extent2D
	Color      Attachment
	Depth      Attachment
	Target     ImageView
}

type BufferCreateInfo struct {
	Size       int
	Usage      core1_0.BufferUsageFlags
	Properties core1_0.MemoryPropertyFlags
}

// DescriptorWrite points a freshly allocated descriptor set at its uniform
// buffer and the sampled texture.
type DescriptorWrite struct {
	Set         DescriptorSet
	Uniform     Buffer
	UniformSize int
	Texture     Texture
}

// DrawInfo describes one primary command buffer: a single render pass with
// one indexed draw of Mesh per entry in PushConstants.
type DrawInfo struct {
	RenderPass    RenderPass
	Framebuffer   Framebuffer
	Pipeline      Pipeline
	Extent        core1_0.Extent2D
	Mesh          Mesh
	DescriptorSet DescriptorSet
	PushConstants [][]byte
}

// Submission is built fresh every frame. Wait is waited on at the color
// attachment output stage.
type Submission struct {
	CommandBuffer CommandBuffer
	Wait          Semaphore
	Signal        Semaphore
	Fence         Fence
}

type SyncDevice interface {
	CreateSemaphore() (Semaphore, error)
	DestroySemaphore(semaphore Semaphore)
	CreateFence(signaled bool) (Fence, error)
	DestroyFence(fence Fence)
	WaitForFences(fences ...Fence) error
	ResetFences(fences ...Fence) error
	WaitIdle() error
}

type SwapchainDevice interface {
	SurfaceSupport() (SurfaceSupport, error)
	CreateSwapchain(info SwapchainCreateInfo) (Swapchain, error)
	SwapchainImages(swapchain Swapchain) ([]Image, error)
	DestroySwapchain(swapchain Swapchain)
	CreateImageView(image Image, format core1_0.Format) (ImageView, error)
	DestroyImageView(view ImageView)
	// AcquireNextImage signals the semaphore once the returned image index is
	// ready to be rendered to. Returns ErrOutOfDate when the swapchain is stale.
	AcquireNextImage(swapchain Swapchain, signal Semaphore) (int, error)
	// Present returns ErrOutOfDate or ErrSuboptimal when the swapchain should
	// be rebuilt.
	Present(swapchain Swapchain, imageIndex int, wait Semaphore) error
}

// ResourceDevice is the resource factory: it turns logical descriptions
// into GPU objects and records and submits command buffers.
type ResourceDevice interface {
	CreateRenderPass(colorFormat core1_0.Format) (RenderPass, error)
	DestroyRenderPass(renderPass RenderPass)
	CreatePipeline(renderPass RenderPass, extent core1_0.Extent2D) (Pipeline, error)
	DestroyPipeline(pipeline Pipeline)

	// CreateColorAttachment returns the zero Attachment on a single-sampled
	// device; framebuffers then render straight into the swapchain image.
	CreateColorAttachment(format core1_0.Format, extent core1_0.Extent2D) (Attachment, error)
	CreateDepthAttachment(extent core1_0.Extent2D) (Attachment, error)
	DestroyAttachment(attachment Attachment)
	CreateFramebuffer(info FramebufferCreateInfo) (Framebuffer, error)
	DestroyFramebuffer(framebuffer Framebuffer)

	CreateBuffer(info BufferCreateInfo) (Buffer, error)
	WriteBuffer(buffer Buffer, offset int, data any) error
	DestroyBuffer(buffer Buffer)

	CreateMesh(m *mesh.Mesh) (Mesh, error)
	DestroyMesh(m Mesh)
	CreateTexture(img *texture.Image) (Texture, error)
	DestroyTexture(tex Texture)

	CreateDescriptorPool(sets int) (DescriptorPool, error)
	// DestroyDescriptorPool also releases every set allocated from the pool.
	DestroyDescriptorPool(pool DescriptorPool)
	AllocateDescriptorSets(pool DescriptorPool, count int) ([]DescriptorSet, error)
	WriteDescriptorSet(write DescriptorWrite) error

	AllocateCommandBuffers(count int) ([]CommandBuffer, error)
	FreeCommandBuffers(buffers ...CommandBuffer)
	RecordDraw(buffer CommandBuffer, info DrawInfo) error
	Submit(submission Submission) error
}

type Device interface {
	SyncDevice
	SwapchainDevice
	ResourceDevice
}
