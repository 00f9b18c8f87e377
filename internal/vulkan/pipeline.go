package vulkan

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	"github.com/vkngwrapper/tutorial/internal/gpu"
	"github.com/vkngwrapper/tutorial/internal/mesh"
	"github.com/vkngwrapper/tutorial/internal/scene"
)

const pushConstantStages = core1_0.StageVertex | core1_0.StageFragment

var pushConstantSize = int(unsafe.Sizeof(scene.Instance{}))

func getVertexBindingDescription() []core1_0.VertexInputBindingDescription {
	v := mesh.Vertex{}
	return []core1_0.VertexInputBindingDescription{
		{
			Binding:   0,
			Stride:    int(unsafe.Sizeof(v)),
			InputRate: core1_0.VertexInputRateVertex,
		},
	}
}

func getVertexAttributeDescriptions() []core1_0.VertexInputAttributeDescription {
	v := mesh.Vertex{}
	return []core1_0.VertexInputAttributeDescription{
		{
			Binding:  0,
			Location: 0,
			Format:   core1_0.FormatR32G32B32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Position)),
		},
		{
			Binding:  0,
			Location: 1,
			Format:   core1_0.FormatR32G32B32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Color)),
		},
		{
			Binding:  0,
			Location: 2,
			Format:   core1_0.FormatR32G32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.TexCoord)),
		},
	}
}

func bytesToBytecode(b []byte) []uint32 {
	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = 0
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}

	return byteCode
}

func (d *Device) multisampled() bool {
	return d.msaaSamples != core1_0.Samples1
}

// renderPassAttachments lists the attachments in framebuffer order. With
// multisampling the color attachment resolves into the swapchain image;
// without it the swapchain image is drawn to directly.
func (d *Device) renderPassAttachments(colorFormat core1_0.Format) []core1_0.AttachmentDescription {
	depth := core1_0.AttachmentDescription{
		Format:         d.depthFormat,
		Samples:        d.msaaSamples,
		LoadOp:         core1_0.AttachmentLoadOpClear,
		StoreOp:        core1_0.AttachmentStoreOpDontCare,
		StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
		StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
		InitialLayout:  core1_0.ImageLayoutUndefined,
		FinalLayout:    core1_0.ImageLayoutDepthStencilAttachmentOptimal,
	}

	if !d.multisampled() {
		return []core1_0.AttachmentDescription{
			{
				Format:         colorFormat,
				Samples:        core1_0.Samples1,
				LoadOp:         core1_0.AttachmentLoadOpClear,
				StoreOp:        core1_0.AttachmentStoreOpStore,
				StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
				StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
				InitialLayout:  core1_0.ImageLayoutUndefined,
				FinalLayout:    khr_swapchain.ImageLayoutPresentSrc,
			},
			depth,
		}
	}

	return []core1_0.AttachmentDescription{
		{
			Format:         colorFormat,
			Samples:        d.msaaSamples,
			LoadOp:         core1_0.AttachmentLoadOpClear,
			StoreOp:        core1_0.AttachmentStoreOpStore,
			StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
			StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
			InitialLayout:  core1_0.ImageLayoutUndefined,
			FinalLayout:    core1_0.ImageLayoutColorAttachmentOptimal,
		},
		depth,
		{
			Format:         colorFormat,
			Samples:        core1_0.Samples1,
			LoadOp:         core1_0.AttachmentLoadOpDontCare,
			StoreOp:        core1_0.AttachmentStoreOpStore,
			StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
			StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
			InitialLayout:  core1_0.ImageLayoutUndefined,
			FinalLayout:    khr_swapchain.ImageLayoutPresentSrc,
		},
	}
}

func (d *Device) CreateRenderPass(colorFormat core1_0.Format) (gpu.RenderPass, error) {
	subpass := core1_0.SubpassDescription{
		PipelineBindPoint: core1_0.PipelineBindPointGraphics,
		ColorAttachments: []core1_0.AttachmentReference{
			{
				Attachment: 0,
				Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
			},
		},
		DepthStencilAttachment: &core1_0.AttachmentReference{
			Attachment: 1,
			Layout:     core1_0.ImageLayoutDepthStencilAttachmentOptimal,
		},
	}
	if d.multisampled() {
		subpass.ResolveAttachments = []core1_0.AttachmentReference{
			{
				Attachment: 2,
				Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
			},
		}
	}

	renderPass, _, err := d.deviceDriver.CreateRenderPass(nil, core1_0.RenderPassCreateInfo{
		Attachments: d.renderPassAttachments(colorFormat),
		Subpasses:   []core1_0.SubpassDescription{subpass},
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass: core1_0.SubpassExternal,
				DstSubpass: 0,

				SrcStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				SrcAccessMask: 0,

				DstStageMask:  core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests,
				DstAccessMask: core1_0.AccessColorAttachmentWrite | core1_0.AccessDepthStencilAttachmentWrite,
			},
		},
	})
	if err != nil {
		return gpu.RenderPass{}, errors.Wrap(err, "create render pass")
	}

	return gpu.RenderPass{Handle: d.renderPasses.Insert(renderPass)}, nil
}

func (d *Device) DestroyRenderPass(renderPass gpu.RenderPass) {
	if r, ok := d.renderPasses.Remove(renderPass.Handle); ok {
		d.deviceDriver.DestroyRenderPass(r, nil)
	}
}

func (d *Device) createShaderModule(code []byte) (core1_0.ShaderModule, error) {
	module, _, err := d.deviceDriver.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: bytesToBytecode(code),
	})
	return module, errors.Wrap(err, "create shader module")
}

// CreatePipeline builds the graphics pipeline for the render pass. The
// shaders are loaded from the ShaderSource each time so a rebuilt pipeline
// picks up recompiled SPIR-V.
func (d *Device) CreatePipeline(renderPass gpu.RenderPass, extent core1_0.Extent2D) (gpu.Pipeline, error) {
	pass, ok := d.renderPasses.Get(renderPass.Handle)
	if !ok {
		return gpu.Pipeline{}, errors.Wrap(errStaleHandle, "render pass")
	}

	vertShaderBytes, fragShaderBytes, err := d.options.Shaders.Load()
	if err != nil {
		return gpu.Pipeline{}, errors.Wrap(err, "load shaders")
	}

	vertShader, err := d.createShaderModule(vertShaderBytes)
	if err != nil {
		return gpu.Pipeline{}, err
	}
	defer d.deviceDriver.DestroyShaderModule(vertShader, nil)

	fragShader, err := d.createShaderModule(fragShaderBytes)
	if err != nil {
		return gpu.Pipeline{}, err
	}
	defer d.deviceDriver.DestroyShaderModule(fragShader, nil)

	vertexInput := &core1_0.PipelineVertexInputStateCreateInfo{
		VertexBindingDescriptions:   getVertexBindingDescription(),
		VertexAttributeDescriptions: getVertexAttributeDescriptions(),
	}

	inputAssembly := &core1_0.PipelineInputAssemblyStateCreateInfo{
		Topology:               core1_0.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: false,
	}

	vertStage := core1_0.PipelineShaderStageCreateInfo{
		Stage:  core1_0.StageVertex,
		Module: vertShader,
		Name:   "main",
	}

	fragStage := core1_0.PipelineShaderStageCreateInfo{
		Stage:  core1_0.StageFragment,
		Module: fragShader,
		Name:   "main",
	}

	viewport := &core1_0.PipelineViewportStateCreateInfo{
		Viewports: []core1_0.Viewport{
			{
				X:        0,
				Y:        0,
				Width:    float32(extent.Width),
				Height:   float32(extent.Height),
				MinDepth: 0,
				MaxDepth: 1,
			},
		},
		Scissors: []core1_0.Rect2D{
			{
				Offset: core1_0.Offset2D{X: 0, Y: 0},
				Extent: extent,
			},
		},
	}

	rasterization := &core1_0.PipelineRasterizationStateCreateInfo{
		DepthClampEnable:        false,
		RasterizerDiscardEnable: false,

		PolygonMode: core1_0.PolygonModeFill,
		CullMode:    core1_0.CullModeBack,
		FrontFace:   core1_0.FrontFaceCounterClockwise,

		DepthBiasEnable: false,

		LineWidth: 1.0,
	}

	multisample := &core1_0.PipelineMultisampleStateCreateInfo{
		SampleShadingEnable:  d.sampleShading,
		RasterizationSamples: d.msaaSamples,
		MinSampleShading:     1.0,
	}
	if d.sampleShading {
		multisample.MinSampleShading = d.options.MinSampleShading
	}

	depthStencil := &core1_0.PipelineDepthStencilStateCreateInfo{
		DepthTestEnable:  true,
		DepthWriteEnable: true,
		DepthCompareOp:   core1_0.CompareOpLess,
	}

	// instances fade in and out through their opacity push constant
	colorBlend := &core1_0.PipelineColorBlendStateCreateInfo{
		LogicOpEnabled: false,
		LogicOp:        core1_0.LogicOpCopy,

		BlendConstants: [4]float32{0, 0, 0, 0},
		Attachments: []core1_0.PipelineColorBlendAttachmentState{
			{
				BlendEnabled:        true,
				SrcColorBlendFactor: core1_0.BlendFactorSrcAlpha,
				DstColorBlendFactor: core1_0.BlendFactorOneMinusSrcAlpha,
				ColorBlendOp:        core1_0.BlendOpAdd,
				SrcAlphaBlendFactor: core1_0.BlendFactorOne,
				DstAlphaBlendFactor: core1_0.BlendFactorZero,
				AlphaBlendOp:        core1_0.BlendOpAdd,
				ColorWriteMask:      core1_0.ColorComponentRed | core1_0.ColorComponentGreen | core1_0.ColorComponentBlue | core1_0.ColorComponentAlpha,
			},
		},
	}

	pipelines, _, err := d.deviceDriver.CreateGraphicsPipelines(nil, nil,
		core1_0.GraphicsPipelineCreateInfo{
			Stages: []core1_0.PipelineShaderStageCreateInfo{
				vertStage,
				fragStage,
			},
			VertexInputState:   vertexInput,
			InputAssemblyState: inputAssembly,
			ViewportState:      viewport,
			RasterizationState: rasterization,
			MultisampleState:   multisample,
			DepthStencilState:  depthStencil,
			ColorBlendState:    colorBlend,
			Layout:             d.pipelineLayout,
			RenderPass:         pass,
			Subpass:            0,
			BasePipelineIndex:  -1,
		},
	)
	if err != nil {
		return gpu.Pipeline{}, errors.Wrap(err, "create graphics pipeline")
	}

	return gpu.Pipeline{Handle: d.pipelines.Insert(pipelines[0])}, nil
}

func (d *Device) DestroyPipeline(pipeline gpu.Pipeline) {
	if p, ok := d.pipelines.Remove(pipeline.Handle); ok {
		d.deviceDriver.DestroyPipeline(p, nil)
	}
}

func (d *Device) CreateFramebuffer(info gpu.FramebufferCreateInfo) (gpu.Framebuffer, error) {
	pass, ok := d.renderPasses.Get(info.RenderPass.Handle)
	if !ok {
		return gpu.Framebuffer{}, errors.Wrap(errStaleHandle, "render pass")
	}
	depth, ok := d.attachments.Get(info.Depth.Handle)
	if !ok {
		return gpu.Framebuffer{}, errors.Wrap(errStaleHandle, "depth attachment")
	}
	target, ok := d.views.Get(info.Target.Handle)
	if !ok {
		return gpu.Framebuffer{}, errors.Wrap(errStaleHandle, "target view")
	}

	attachments := []core1_0.ImageView{target, depth.view}
	if d.multisampled() {
		color, ok := d.attachments.Get(info.Color.Handle)
		if !ok {
			return gpu.Framebuffer{}, errors.Wrap(errStaleHandle, "color attachment")
		}
		attachments = []core1_0.ImageView{color.view, depth.view, target}
	}

	framebuffer, _, err := d.deviceDriver.CreateFramebuffer(nil, core1_0.FramebufferCreateInfo{
		RenderPass:  pass,
		Layers:      1,
		Attachments: attachments,
		Width:       info.Extent.Width,
		Height:      info.Extent.Height,
	})
	if err != nil {
		return gpu.Framebuffer{}, errors.Wrap(err, "create framebuffer")
	}

	return gpu.Framebuffer{Handle: d.framebuffers.Insert(framebuffer)}, nil
}

func (d *Device) DestroyFramebuffer(framebuffer gpu.Framebuffer) {
	if f, ok := d.framebuffers.Remove(framebuffer.Handle); ok {
		d.deviceDriver.DestroyFramebuffer(f, nil)
	}
}
