package frame

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/tutorial/internal/gpu"
	"github.com/vkngwrapper/tutorial/internal/scene"
	"github.com/vkngwrapper/tutorial/internal/swapchain"
)

// ImageResources are the objects bound to one swapchain image.
type ImageResources struct {
	Framebuffer   gpu.Framebuffer
	CommandBuffer gpu.CommandBuffer
	UniformBuffer gpu.Buffer
	DescriptorSet gpu.DescriptorSet
}

// FrameData is what a single iteration writes for its image: the uniform
// block and one push constant block per drawn instance.
type FrameData struct {
	Uniforms      any
	PushConstants [][]byte
}

// Resources owns everything that depends on the swapchain and so has to be
// rebuilt with it. The mesh and texture outlive it.
type Resources struct {
	device  gpu.ResourceDevice
	mesh    gpu.Mesh
	texture gpu.Texture

	extent         core1_0.Extent2D
	renderPass     gpu.RenderPass
	pipeline       gpu.Pipeline
	color          gpu.Attachment
	depth          gpu.Attachment
	descriptorPool gpu.DescriptorPool
	images         []ImageResources
}

func NewResources(device gpu.ResourceDevice, mesh gpu.Mesh, texture gpu.Texture) *Resources {
	return &Resources{
		device:  device,
		mesh:    mesh,
		texture: texture,
	}
}

var uniformSize = binary.Size(scene.UniformBufferObject{})

// Build creates one set of per-image objects for every image in sc. A
// failed Build destroys whatever it created.
func (r *Resources) Build(sc *swapchain.Swapchain) (err error) {
	if r.renderPass.Valid() {
		return errors.New("frame resources already built")
	}
	defer func() {
		if err != nil {
			r.Destroy()
		}
	}()

	r.extent = sc.Extent

	r.renderPass, err = r.device.CreateRenderPass(sc.Format.Format)
	if err != nil {
		return errors.Wrap(err, "create render pass")
	}

	r.pipeline, err = r.device.CreatePipeline(r.renderPass, sc.Extent)
	if err != nil {
		return errors.Wrap(err, "create graphics pipeline")
	}

	r.color, err = r.device.CreateColorAttachment(sc.Format.Format, sc.Extent)
	if err != nil {
		return errors.Wrap(err, "create color attachment")
	}

	r.depth, err = r.device.CreateDepthAttachment(sc.Extent)
	if err != nil {
		return errors.Wrap(err, "create depth attachment")
	}

	count := sc.Len()
	r.images = make([]ImageResources, count)

	for i, view := range sc.Views {
		r.images[i].Framebuffer, err = r.device.CreateFramebuffer(gpu.FramebufferCreateInfo{
			RenderPass: r.renderPass,
			Extent:     sc.Extent,
			Color:      r.color,
			Depth:      r.depth,
			Target:     view,
		})
		if err != nil {
			return errors.Wrapf(err, "create framebuffer %d", i)
		}
	}

	for i := range r.images {
		r.images[i].UniformBuffer, err = r.device.CreateBuffer(gpu.BufferCreateInfo{
			Size:       uniformSize,
			Usage:      core1_0.BufferUsageUniformBuffer,
			Properties: core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyHostCoherent,
		})
		if err != nil {
			return errors.Wrapf(err, "create uniform buffer %d", i)
		}
	}

	r.descriptorPool, err = r.device.CreateDescriptorPool(count)
	if err != nil {
		return errors.Wrap(err, "create descriptor pool")
	}

	sets, err := r.device.AllocateDescriptorSets(r.descriptorPool, count)
	if err != nil {
		return errors.Wrap(err, "allocate descriptor sets")
	}

	for i, set := range sets {
		r.images[i].DescriptorSet = set
		err = r.device.WriteDescriptorSet(gpu.DescriptorWrite{
			Set:         set,
			Uniform:     r.images[i].UniformBuffer,
			UniformSize: uniformSize,
			Texture:     r.texture,
		})
		if err != nil {
			return errors.Wrapf(err, "write descriptor set %d", i)
		}
	}

	commandBuffers, err := r.device.AllocateCommandBuffers(count)
	if err != nil {
		return errors.Wrap(err, "allocate command buffers")
	}
	for i, buffer := range commandBuffers {
		r.images[i].CommandBuffer = buffer
	}

	return nil
}

// Destroy releases everything in reverse creation order. It is safe to call
// on partially built or already destroyed resources.
func (r *Resources) Destroy() {
	var commandBuffers []gpu.CommandBuffer
	for _, img := range r.images {
		if img.CommandBuffer.Valid() {
			commandBuffers = append(commandBuffers, img.CommandBuffer)
		}
	}
	if len(commandBuffers) > 0 {
		r.device.FreeCommandBuffers(commandBuffers...)
	}

	if r.descriptorPool.Valid() {
		r.device.DestroyDescriptorPool(r.descriptorPool)
	}

	for i := len(r.images) - 1; i >= 0; i-- {
		if r.images[i].UniformBuffer.Valid() {
			r.device.DestroyBuffer(r.images[i].UniformBuffer)
		}
	}
	for i := len(r.images) - 1; i >= 0; i-- {
		if r.images[i].Framebuffer.Valid() {
			r.device.DestroyFramebuffer(r.images[i].Framebuffer)
		}
	}

	if r.depth.Valid() {
		r.device.DestroyAttachment(r.depth)
	}
	if r.color.Valid() {
		r.device.DestroyAttachment(r.color)
	}
	if r.pipeline.Valid() {
		r.device.DestroyPipeline(r.pipeline)
	}
	if r.renderPass.Valid() {
		r.device.DestroyRenderPass(r.renderPass)
	}

	r.images = nil
	r.descriptorPool = gpu.DescriptorPool{}
	r.depth = gpu.Attachment{}
	r.color = gpu.Attachment{}
	r.pipeline = gpu.Pipeline{}
	r.renderPass = gpu.RenderPass{}
	r.extent = core1_0.Extent2D{}
}

func (r *Resources) Len() int {
	return len(r.images)
}

func (r *Resources) ForImage(i int) (*ImageResources, error) {
	if i < 0 || i >= len(r.images) {
		return nil, errors.Errorf("no frame resources for image %d of %d", i, len(r.images))
	}
	return &r.images[i], nil
}

// Record uploads the uniform block for image i and re-records its command
// buffer. The caller must have waited for any submission still using it.
func (r *Resources) Record(i int, data FrameData) error {
	img, err := r.ForImage(i)
	if err != nil {
		return err
	}

	if err := r.device.WriteBuffer(img.UniformBuffer, 0, data.Uniforms); err != nil {
		return errors.Wrapf(err, "update uniform buffer %d", i)
	}

	err = r.device.RecordDraw(img.CommandBuffer, gpu.DrawInfo{
		RenderPass:    r.renderPass,
		Framebuffer:   img.Framebuffer,
		Pipeline:      r.pipeline,
		Extent:        r.extent,
		Mesh:          r.mesh,
		DescriptorSet: img.DescriptorSet,
		PushConstants: data.PushConstants,
	})
	return errors.Wrapf(err, "record command buffer %d", i)
}
