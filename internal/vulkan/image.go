package vulkan

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/tutorial/internal/gpu"
	"github.com/vkngwrapper/tutorial/internal/texture"
)

const textureFormat = core1_0.FormatR8G8B8A8SRGB

// imageAllocation is an image with its memory and a view over every mip
// level.
type imageAllocation struct {
	image  core1_0.Image
	memory core1_0.DeviceMemory
	view   core1_0.ImageView
}

func (d *Device) destroyImage(i *imageAllocation) {
	if i.view.Initialized() {
		d.deviceDriver.DestroyImageView(i.view, nil)
	}
	if i.image.Initialized() {
		d.deviceDriver.DestroyImage(i.image, nil)
	}
	if i.memory.Initialized() {
		d.deviceDriver.FreeMemory(i.memory, nil)
	}
}

type textureImage struct {
	*imageAllocation
	sampler core1_0.Sampler
}

func (d *Device) createImageView(image core1_0.Image, format core1_0.Format, aspect core1_0.ImageAspectFlags, mipLevels int) (core1_0.ImageView, error) {
	imageView, _, err := d.deviceDriver.CreateImageView(nil, core1_0.ImageViewCreateInfo{
		Image:    image,
		ViewType: core1_0.ImageViewType2D,
		Format:   format,
		SubresourceRange: core1_0.ImageSubresourceRange{
			AspectMask:     aspect,
			BaseMipLevel:   0,
			LevelCount:     mipLevels,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
	})
	return imageView, errors.Wrap(err, "create image view")
}

type imageCreateInfo struct {
	width, height int
	mipLevels     int
	samples       core1_0.SampleCountFlags
	format        core1_0.Format
	usage         core1_0.ImageUsageFlags
	aspect        core1_0.ImageAspectFlags
}

// createImage allocates a device-local, optimally tiled image and a view
// over it. The allocation is returned even on failure so the caller can
// release what was created.
func (d *Device) createImage(info imageCreateInfo) (*imageAllocation, error) {
	allocation := &imageAllocation{}

	image, _, err := d.deviceDriver.CreateImage(nil, core1_0.ImageCreateInfo{
		ImageType: core1_0.ImageType2D,
		Extent: core1_0.Extent3D{
			Width:  info.width,
			Height: info.height,
			Depth:  1,
		},
		MipLevels:     info.mipLevels,
		ArrayLayers:   1,
		Format:        info.format,
		Tiling:        core1_0.ImageTilingOptimal,
		InitialLayout: core1_0.ImageLayoutUndefined,
		Usage:         info.usage,
		SharingMode:   core1_0.SharingModeExclusive,
		Samples:       info.samples,
	})
	if err != nil {
		return allocation, errors.Wrap(err, "create image")
	}
	allocation.image = image

	memReqs := d.deviceDriver.GetImageMemoryRequirements(image)
	memoryIndex, err := d.findMemoryType(memReqs.MemoryTypeBits, core1_0.MemoryPropertyDeviceLocal)
	if err != nil {
		return allocation, err
	}

	imageMemory, _, err := d.deviceDriver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: memoryIndex,
	})
	if err != nil {
		return allocation, errors.Wrap(err, "allocate image memory")
	}
	allocation.memory = imageMemory

	_, err = d.deviceDriver.BindImageMemory(image, imageMemory, 0)
	if err != nil {
		return allocation, errors.Wrap(err, "bind image memory")
	}

	allocation.view, err = d.createImageView(image, info.format, info.aspect, info.mipLevels)
	return allocation, err
}

func (d *Device) findSupportedFormat(formats []core1_0.Format, tiling core1_0.ImageTiling, features core1_0.FormatFeatureFlags) (core1_0.Format, error) {
	for _, format := range formats {
		props := d.instanceDriver.GetPhysicalDeviceFormatProperties(d.physicalDevice, format)

		if tiling == core1_0.ImageTilingLinear && (props.LinearTilingFeatures&features) == features {
			return format, nil
		} else if tiling == core1_0.ImageTilingOptimal && (props.OptimalTilingFeatures&features) == features {
			return format, nil
		}
	}

	return 0, errors.Errorf("failed to find supported format for tiling %s, featureset %s", tiling, features)
}

func (d *Device) findDepthFormat() (core1_0.Format, error) {
	return d.findSupportedFormat([]core1_0.Format{core1_0.FormatD32SignedFloat, core1_0.FormatD32SignedFloatS8UnsignedInt, core1_0.FormatD24UnsignedNormalizedS8UnsignedInt},
		core1_0.ImageTilingOptimal,
		core1_0.FormatFeatureDepthStencilAttachment)
}

func (d *Device) supportsLinearBlit(format core1_0.Format) bool {
	properties := d.instanceDriver.GetPhysicalDeviceFormatProperties(d.physicalDevice, format)
	return (properties.OptimalTilingFeatures & core1_0.FormatFeatureSampledImageFilterLinear) != 0
}

// CreateColorAttachment returns the zero Attachment when multisampling is
// off, since the swapchain image is then rendered to directly.
func (d *Device) CreateColorAttachment(format core1_0.Format, extent core1_0.Extent2D) (gpu.Attachment, error) {
	if d.msaaSamples == core1_0.Samples1 {
		return gpu.Attachment{}, nil
	}

	allocation, err := d.createImage(imageCreateInfo{
		width:     extent.Width,
		height:    extent.Height,
		mipLevels: 1,
		samples:   d.msaaSamples,
		format:    format,
		usage:     core1_0.ImageUsageTransientAttachment | core1_0.ImageUsageColorAttachment,
		aspect:    core1_0.ImageAspectColor,
	})
	if err != nil {
		d.destroyImage(allocation)
		return gpu.Attachment{}, errors.Wrap(err, "create color attachment")
	}
	return gpu.Attachment{Handle: d.attachments.Insert(allocation)}, nil
}

func (d *Device) CreateDepthAttachment(extent core1_0.Extent2D) (gpu.Attachment, error) {
	allocation, err := d.createImage(imageCreateInfo{
		width:     extent.Width,
		height:    extent.Height,
		mipLevels: 1,
		samples:   d.msaaSamples,
		format:    d.depthFormat,
		usage:     core1_0.ImageUsageDepthStencilAttachment,
		aspect:    core1_0.ImageAspectDepth,
	})
	if err != nil {
		d.destroyImage(allocation)
		return gpu.Attachment{}, errors.Wrap(err, "create depth attachment")
	}
	return gpu.Attachment{Handle: d.attachments.Insert(allocation)}, nil
}

func (d *Device) DestroyAttachment(attachment gpu.Attachment) {
	if allocation, ok := d.attachments.Remove(attachment.Handle); ok {
		d.destroyImage(allocation)
	}
}

// CreateTexture uploads the base level and fills the rest of the mip chain
// with linear blits. If the format cannot be blitted linearly only the base
// level is kept.
func (d *Device) CreateTexture(img *texture.Image) (gpu.Texture, error) {
	mipLevels := img.MipLevels
	if mipLevels > 1 && !d.supportsLinearBlit(textureFormat) {
		d.logger.Warn("texture format does not support linear blitting, skipping mipmaps", "format", textureFormat)
		mipLevels = 1
	}

	staging, err := d.createBuffer(img.Size(), core1_0.BufferUsageTransferSrc, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	defer d.destroyBuffer(staging)
	if err != nil {
		return gpu.Texture{}, err
	}

	err = writeData(d.deviceDriver, staging.memory, 0, img.Pixels[:img.Size()])
	if err != nil {
		return gpu.Texture{}, err
	}

	tex := &textureImage{}
	tex.imageAllocation, err = d.createImage(imageCreateInfo{
		width:     img.Width,
		height:    img.Height,
		mipLevels: mipLevels,
		samples:   core1_0.Samples1,
		format:    textureFormat,
		usage:     core1_0.ImageUsageTransferSrc | core1_0.ImageUsageTransferDst | core1_0.ImageUsageSampled,
		aspect:    core1_0.ImageAspectColor,
	})
	if err == nil {
		err = d.fillTexture(tex.image, staging.buffer, img.Width, img.Height, mipLevels)
	}
	if err == nil {
		tex.sampler, err = d.createSampler(mipLevels)
	}
	if err != nil {
		d.destroyTexture(tex)
		return gpu.Texture{}, errors.Wrap(err, "create texture")
	}

	return gpu.Texture{Handle: d.textures.Insert(tex)}, nil
}

func (d *Device) destroyTexture(tex *textureImage) {
	if tex.sampler.Initialized() {
		d.deviceDriver.DestroySampler(tex.sampler, nil)
	}
	if tex.imageAllocation != nil {
		d.destroyImage(tex.imageAllocation)
	}
}

func (d *Device) DestroyTexture(tex gpu.Texture) {
	if t, ok := d.textures.Remove(tex.Handle); ok {
		d.destroyTexture(t)
	}
}

func (d *Device) createSampler(mipLevels int) (core1_0.Sampler, error) {
	sampler, _, err := d.deviceDriver.CreateSampler(nil, core1_0.SamplerCreateInfo{
		MagFilter:    core1_0.FilterLinear,
		MinFilter:    core1_0.FilterLinear,
		AddressModeU: core1_0.SamplerAddressModeRepeat,
		AddressModeV: core1_0.SamplerAddressModeRepeat,
		AddressModeW: core1_0.SamplerAddressModeRepeat,

		AnisotropyEnable: true,
		MaxAnisotropy:    d.properties.Limits.MaxSamplerAnisotropy,

		BorderColor: core1_0.BorderColorIntOpaqueBlack,

		MipmapMode: core1_0.SamplerMipmapModeLinear,
		MinLod:     0,
		MaxLod:     float32(mipLevels),
	})
	return sampler, errors.Wrap(err, "create sampler")
}

// fillTexture copies the staging buffer into mip level 0, then blits each
// level from the one above it. Every level ends in shader-read layout.
func (d *Device) fillTexture(image core1_0.Image, staging core1_0.Buffer, width, height, mipLevels int) error {
	return d.singleTimeCommands(func(commandBuffer core1_0.CommandBuffer) error {
		barrier := core1_0.ImageMemoryBarrier{
			Image:               image,
			SrcQueueFamilyIndex: -1,
			DstQueueFamilyIndex: -1,
			OldLayout:           core1_0.ImageLayoutUndefined,
			NewLayout:           core1_0.ImageLayoutTransferDstOptimal,
			SrcAccessMask:       0,
			DstAccessMask:       core1_0.AccessTransferWrite,
			SubresourceRange: core1_0.ImageSubresourceRange{
				AspectMask:     core1_0.ImageAspectColor,
				BaseMipLevel:   0,
				LevelCount:     mipLevels,
				BaseArrayLayer: 0,
				LayerCount:     1,
			},
		}

		err := d.deviceDriver.CmdPipelineBarrier(commandBuffer, core1_0.PipelineStageTopOfPipe, core1_0.PipelineStageTransfer, 0, nil, nil, []core1_0.ImageMemoryBarrier{barrier})
		if err != nil {
			return errors.Wrap(err, "transition texture for upload")
		}

		err = d.deviceDriver.CmdCopyBufferToImage(commandBuffer, staging, image, core1_0.ImageLayoutTransferDstOptimal,
			core1_0.BufferImageCopy{
				BufferOffset:      0,
				BufferRowLength:   0,
				BufferImageHeight: 0,

				ImageSubresource: core1_0.ImageSubresourceLayers{
					AspectMask:     core1_0.ImageAspectColor,
					MipLevel:       0,
					BaseArrayLayer: 0,
					LayerCount:     1,
				},
				ImageOffset: core1_0.Offset3D{X: 0, Y: 0, Z: 0},
				ImageExtent: core1_0.Extent3D{Width: width, Height: height, Depth: 1},
			},
		)
		if err != nil {
			return errors.Wrap(err, "copy texture")
		}

		barrier.SubresourceRange.LevelCount = 1

		mipWidth := width
		mipHeight := height
		for i := 1; i < mipLevels; i++ {
			barrier.SubresourceRange.BaseMipLevel = i - 1
			barrier.OldLayout = core1_0.ImageLayoutTransferDstOptimal
			barrier.NewLayout = core1_0.ImageLayoutTransferSrcOptimal
			barrier.SrcAccessMask = core1_0.AccessTransferWrite
			barrier.DstAccessMask = core1_0.AccessTransferRead

			err = d.deviceDriver.CmdPipelineBarrier(commandBuffer, core1_0.PipelineStageTransfer, core1_0.PipelineStageTransfer, 0, nil, nil, []core1_0.ImageMemoryBarrier{barrier})
			if err != nil {
				return errors.Wrapf(err, "prepare mip level %d", i-1)
			}

			nextMipWidth := mipWidth
			nextMipHeight := mipHeight

			if nextMipWidth > 1 {
				nextMipWidth /= 2
			}
			if nextMipHeight > 1 {
				nextMipHeight /= 2
			}
			err = d.deviceDriver.CmdBlitImage(commandBuffer, image, core1_0.ImageLayoutTransferSrcOptimal, image, core1_0.ImageLayoutTransferDstOptimal, []core1_0.ImageBlit{
				{
					SrcSubresource: core1_0.ImageSubresourceLayers{
						AspectMask:     core1_0.ImageAspectColor,
						MipLevel:       i - 1,
						BaseArrayLayer: 0,
						LayerCount:     1,
					},
					SrcOffsets: [2]core1_0.Offset3D{
						{X: 0, Y: 0, Z: 0},
						{X: mipWidth, Y: mipHeight, Z: 1},
					},

					DstSubresource: core1_0.ImageSubresourceLayers{
						AspectMask:     core1_0.ImageAspectColor,
						MipLevel:       i,
						BaseArrayLayer: 0,
						LayerCount:     1,
					},
					DstOffsets: [2]core1_0.Offset3D{
						{X: 0, Y: 0, Z: 0},
						{X: nextMipWidth, Y: nextMipHeight, Z: 1},
					},
				},
			}, core1_0.FilterLinear)
			if err != nil {
				return errors.Wrapf(err, "blit mip level %d", i)
			}

			barrier.OldLayout = core1_0.ImageLayoutTransferSrcOptimal
			barrier.NewLayout = core1_0.ImageLayoutShaderReadOnlyOptimal
			barrier.SrcAccessMask = core1_0.AccessTransferRead
			barrier.DstAccessMask = core1_0.AccessShaderRead
			err = d.deviceDriver.CmdPipelineBarrier(commandBuffer, core1_0.PipelineStageTransfer, core1_0.PipelineStageFragmentShader, 0, nil, nil, []core1_0.ImageMemoryBarrier{barrier})
			if err != nil {
				return errors.Wrapf(err, "finish mip level %d", i-1)
			}

			mipWidth = nextMipWidth
			mipHeight = nextMipHeight
		}

		// the last level was only ever written to
		barrier.SubresourceRange.BaseMipLevel = mipLevels - 1
		barrier.OldLayout = core1_0.ImageLayoutTransferDstOptimal
		barrier.NewLayout = core1_0.ImageLayoutShaderReadOnlyOptimal
		barrier.SrcAccessMask = core1_0.AccessTransferWrite
		barrier.DstAccessMask = core1_0.AccessShaderRead

		err = d.deviceDriver.CmdPipelineBarrier(
			commandBuffer,
			core1_0.PipelineStageTransfer,
			core1_0.PipelineStageFragmentShader,
			0, nil, nil,
			[]core1_0.ImageMemoryBarrier{barrier})
		return errors.Wrapf(err, "finish mip level %d", mipLevels-1)
	})
}
