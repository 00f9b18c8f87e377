package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/tutorial/internal/gpu"
)

type descriptorPool struct {
	pool core1_0.DescriptorPool
	sets []gpu.DescriptorSet
}

func (d *Device) CreateDescriptorPool(sets int) (gpu.DescriptorPool, error) {
	pool, _, err := d.deviceDriver.CreateDescriptorPool(nil, core1_0.DescriptorPoolCreateInfo{
		MaxSets: sets,
		PoolSizes: []core1_0.DescriptorPoolSize{
			{
				Type:            core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: sets,
			},
			{
				Type:            core1_0.DescriptorTypeCombinedImageSampler,
				DescriptorCount: sets,
			},
		},
	})
	if err != nil {
		return gpu.DescriptorPool{}, errors.Wrap(err, "create descriptor pool")
	}

	return gpu.DescriptorPool{Handle: d.pools.Insert(&descriptorPool{pool: pool})}, nil
}

func (d *Device) DestroyDescriptorPool(pool gpu.DescriptorPool) {
	p, ok := d.pools.Remove(pool.Handle)
	if !ok {
		return
	}

	for _, set := range p.sets {
		d.sets.Remove(set.Handle)
	}
	d.deviceDriver.DestroyDescriptorPool(p.pool, nil)
}

func (d *Device) AllocateDescriptorSets(pool gpu.DescriptorPool, count int) ([]gpu.DescriptorSet, error) {
	p, ok := d.pools.Get(pool.Handle)
	if !ok {
		return nil, errors.Wrap(errStaleHandle, "descriptor pool")
	}

	var allocLayouts []core1_0.DescriptorSetLayout
	for i := 0; i < count; i++ {
		allocLayouts = append(allocLayouts, d.descriptorSetLayout)
	}

	native, _, err := d.deviceDriver.AllocateDescriptorSets(core1_0.DescriptorSetAllocateInfo{
		DescriptorPool: p.pool,
		SetLayouts:     allocLayouts,
	})
	if err != nil {
		return nil, errors.Wrap(err, "allocate descriptor sets")
	}

	sets := make([]gpu.DescriptorSet, 0, len(native))
	for _, set := range native {
		sets = append(sets, gpu.DescriptorSet{Handle: d.sets.Insert(set)})
	}
	p.sets = append(p.sets, sets...)
	return sets, nil
}

func (d *Device) WriteDescriptorSet(write gpu.DescriptorWrite) error {
	set, ok := d.sets.Get(write.Set.Handle)
	if !ok {
		return errors.Wrap(errStaleHandle, "descriptor set")
	}
	uniform, ok := d.buffers.Get(write.Uniform.Handle)
	if !ok {
		return errors.Wrap(errStaleHandle, "uniform buffer")
	}
	tex, ok := d.textures.Get(write.Texture.Handle)
	if !ok {
		return errors.Wrap(errStaleHandle, "texture")
	}

	err := d.deviceDriver.UpdateDescriptorSets([]core1_0.WriteDescriptorSet{
		{
			DstSet:          set,
			DstBinding:      0,
			DstArrayElement: 0,

			DescriptorType: core1_0.DescriptorTypeUniformBuffer,

			BufferInfo: []core1_0.DescriptorBufferInfo{
				{
					Buffer: uniform.buffer,
					Offset: 0,
					Range:  write.UniformSize,
				},
			},
		},
		{
			DstSet:          set,
			DstBinding:      1,
			DstArrayElement: 0,

			DescriptorType: core1_0.DescriptorTypeCombinedImageSampler,

			ImageInfo: []core1_0.DescriptorImageInfo{
				{
					ImageView:   tex.view,
					Sampler:     tex.sampler,
					ImageLayout: core1_0.ImageLayoutShaderReadOnlyOptimal,
				},
			},
		},
	}, nil)
	return errors.Wrap(err, "update descriptor sets")
}

func (d *Device) AllocateCommandBuffers(count int) ([]gpu.CommandBuffer, error) {
	native, _, err := d.deviceDriver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        d.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: count,
	})
	if err != nil {
		return nil, errors.Wrap(err, "allocate command buffers")
	}

	buffers := make([]gpu.CommandBuffer, 0, len(native))
	for _, buffer := range native {
		buffers = append(buffers, gpu.CommandBuffer{Handle: d.commandBuffers.Insert(buffer)})
	}
	return buffers, nil
}

func (d *Device) FreeCommandBuffers(buffers ...gpu.CommandBuffer) {
	var native []core1_0.CommandBuffer
	for _, buffer := range buffers {
		if b, ok := d.commandBuffers.Remove(buffer.Handle); ok {
			native = append(native, b)
		}
	}

	if len(native) > 0 {
		d.deviceDriver.FreeCommandBuffers(native...)
	}
}

// drawTargets is DrawInfo resolved to native objects.
type drawTargets struct {
	buffer        core1_0.CommandBuffer
	renderPass    core1_0.RenderPass
	framebuffer   core1_0.Framebuffer
	pipeline      core1_0.Pipeline
	mesh          *meshBuffers
	descriptorSet core1_0.DescriptorSet
}

func (d *Device) resolveDraw(buffer gpu.CommandBuffer, info gpu.DrawInfo) (drawTargets, error) {
	var t drawTargets
	var ok bool

	if t.buffer, ok = d.commandBuffers.Get(buffer.Handle); !ok {
		return t, errors.Wrap(errStaleHandle, "command buffer")
	}
	if t.renderPass, ok = d.renderPasses.Get(info.RenderPass.Handle); !ok {
		return t, errors.Wrap(errStaleHandle, "render pass")
	}
	if t.framebuffer, ok = d.framebuffers.Get(info.Framebuffer.Handle); !ok {
		return t, errors.Wrap(errStaleHandle, "framebuffer")
	}
	if t.pipeline, ok = d.pipelines.Get(info.Pipeline.Handle); !ok {
		return t, errors.Wrap(errStaleHandle, "pipeline")
	}
	if t.mesh, ok = d.meshes.Get(info.Mesh.Handle); !ok {
		return t, errors.Wrap(errStaleHandle, "mesh")
	}
	if t.descriptorSet, ok = d.sets.Get(info.DescriptorSet.Handle); !ok {
		return t, errors.Wrap(errStaleHandle, "descriptor set")
	}
	return t, nil
}

// RecordDraw resets the command buffer and records one render pass that
// draws the mesh once per push constant block.
func (d *Device) RecordDraw(buffer gpu.CommandBuffer, info gpu.DrawInfo) error {
	t, err := d.resolveDraw(buffer, info)
	if err != nil {
		return err
	}

	for i, block := range info.PushConstants {
		if len(block) > pushConstantSize {
			return errors.Errorf("push constant block %d is %d bytes, limit is %d", i, len(block), pushConstantSize)
		}
	}

	_, err = d.deviceDriver.ResetCommandBuffer(t.buffer, 0)
	if err != nil {
		return errors.Wrap(err, "reset command buffer")
	}

	_, err = d.deviceDriver.BeginCommandBuffer(t.buffer, core1_0.CommandBufferBeginInfo{})
	if err != nil {
		return errors.Wrap(err, "begin command buffer")
	}

	err = d.deviceDriver.CmdBeginRenderPass(t.buffer, core1_0.SubpassContentsInline,
		core1_0.RenderPassBeginInfo{
			RenderPass:  t.renderPass,
			Framebuffer: t.framebuffer,
			RenderArea: core1_0.Rect2D{
				Offset: core1_0.Offset2D{X: 0, Y: 0},
				Extent: info.Extent,
			},
			ClearValues: []core1_0.ClearValue{
				core1_0.ClearValueFloat{0, 0, 0, 1},
				core1_0.ClearValueDepthStencil{Depth: 1.0, Stencil: 0},
			},
		})
	if err != nil {
		return errors.Wrap(err, "begin render pass")
	}

	d.deviceDriver.CmdBindPipeline(t.buffer, core1_0.PipelineBindPointGraphics, t.pipeline)
	d.deviceDriver.CmdBindVertexBuffers(t.buffer, 0, []core1_0.Buffer{t.mesh.vertices.buffer}, []int{0})
	d.deviceDriver.CmdBindIndexBuffer(t.buffer, t.mesh.indices.buffer, 0, core1_0.IndexTypeUInt32)
	d.deviceDriver.CmdBindDescriptorSets(t.buffer, core1_0.PipelineBindPointGraphics, d.pipelineLayout, 0, []core1_0.DescriptorSet{
		t.descriptorSet,
	}, nil)

	for _, block := range info.PushConstants {
		d.deviceDriver.CmdPushConstants(t.buffer, d.pipelineLayout, pushConstantStages, 0, block)
		d.deviceDriver.CmdDrawIndexed(t.buffer, t.mesh.indexCount, 1, 0, 0, 0)
	}
	d.deviceDriver.CmdEndRenderPass(t.buffer)

	_, err = d.deviceDriver.EndCommandBuffer(t.buffer)
	return errors.Wrap(err, "end command buffer")
}

func (d *Device) Submit(submission gpu.Submission) error {
	buffer, ok := d.commandBuffers.Get(submission.CommandBuffer.Handle)
	if !ok {
		return errors.Wrap(errStaleHandle, "command buffer")
	}
	fence, ok := d.fences.Get(submission.Fence.Handle)
	if !ok {
		return errors.Wrap(errStaleHandle, "fence")
	}

	info := core1_0.SubmitInfo{
		CommandBuffers: []core1_0.CommandBuffer{buffer},
	}

	wait, err := d.semaphore(submission.Wait)
	if err != nil {
		return err
	}
	if wait != nil {
		info.WaitSemaphores = []core1_0.Semaphore{*wait}
		info.WaitDstStageMask = []core1_0.PipelineStageFlags{core1_0.PipelineStageColorAttachmentOutput}
	}

	signal, err := d.semaphore(submission.Signal)
	if err != nil {
		return err
	}
	if signal != nil {
		info.SignalSemaphores = []core1_0.Semaphore{*signal}
	}

	_, err = d.deviceDriver.QueueSubmit(d.graphicsQueue, &fence, info)
	return errors.Wrap(err, "submit draw command buffer")
}
