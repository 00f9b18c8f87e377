// Package vulkan implements gpu.Device on top of vkngwrapper. It owns the
// instance, surface, logical device and queues, and maps every object handed
// out through the gpu package to its native counterpart.
package vulkan

import (
	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
	"github.com/vkngwrapper/core/v3"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/extensions/v3/ext_debug_utils"
	"github.com/vkngwrapper/extensions/v3/khr_portability_enumeration"
	"github.com/vkngwrapper/extensions/v3/khr_portability_subset"
	"github.com/vkngwrapper/extensions/v3/khr_surface"
	"github.com/vkngwrapper/extensions/v3/khr_swapchain"
	vkng_sdl2 "github.com/vkngwrapper/integrations/sdl2/v3"
	"github.com/vkngwrapper/tutorial/internal/gpu"
	"github.com/vkngwrapper/tutorial/internal/handle"
)

var validationLayers = []string{"VK_LAYER_KHRONOS_validation"}
var deviceExtensions = []string{khr_swapchain.ExtensionName}

// ShaderSource supplies SPIR-V for the vertex and fragment stages. It is
// consulted every time a pipeline is built.
type ShaderSource interface {
	Load() (vert, frag []byte, err error)
}

type Options struct {
	ApplicationName  string
	Validation       bool
	Multisample      bool
	SampleShading    bool
	MinSampleShading float32
	Shaders          ShaderSource
}

type Device struct {
	logger  *log.Logger
	options Options

	globalDriver   core1_0.GlobalDriver
	instanceDriver core1_0.CoreInstanceDriver
	deviceDriver   core1_0.CoreDeviceDriver

	debugDriver        ext_debug_utils.ExtensionDriver
	debugMessenger     ext_debug_utils.DebugUtilsMessenger
	surfaceExtension   khr_surface.ExtensionDriver
	surface            khr_surface.Surface
	swapchainExtension khr_swapchain.ExtensionDriver

	physicalDevice core1_0.PhysicalDevice
	properties     *core1_0.PhysicalDeviceProperties
	queueFamilies  QueueFamilyIndices
	graphicsQueue  core1_0.Queue
	presentQueue   core1_0.Queue

	msaaSamples   core1_0.SampleCountFlags
	sampleShading bool
	depthFormat   core1_0.Format

	commandPool         core1_0.CommandPool
	descriptorSetLayout core1_0.DescriptorSetLayout
	pipelineLayout      core1_0.PipelineLayout

	semaphores     handle.Table[core1_0.Semaphore]
	fences         handle.Table[core1_0.Fence]
	swapchains     handle.Table[*swapchainEntry]
	images         handle.Table[core1_0.Image]
	views          handle.Table[core1_0.ImageView]
	attachments    handle.Table[*imageAllocation]
	renderPasses   handle.Table[core1_0.RenderPass]
	pipelines      handle.Table[core1_0.Pipeline]
	framebuffers   handle.Table[core1_0.Framebuffer]
	buffers        handle.Table[*bufferAllocation]
	pools          handle.Table[*descriptorPool]
	sets           handle.Table[core1_0.DescriptorSet]
	commandBuffers handle.Table[core1_0.CommandBuffer]
	meshes         handle.Table[*meshBuffers]
	textures       handle.Table[*textureImage]
}

var _ gpu.Device = (*Device)(nil)

// Open brings up Vulkan for the window: instance, debug messenger, surface,
// physical and logical device, queues and the long-lived layouts. On
// failure everything created so far is released.
func Open(window *sdl.Window, options Options, logger *log.Logger) (_ *Device, err error) {
	d := &Device{
		logger:      logger,
		options:     options,
		msaaSamples: core1_0.Samples1,
	}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	d.globalDriver, err = core.CreateDriverFromProcAddr(sdl.VulkanGetVkGetInstanceProcAddr())
	if err != nil {
		return nil, errors.Wrap(err, "load vulkan")
	}

	if err = d.createInstance(window); err != nil {
		return nil, err
	}
	if err = d.setupDebugMessenger(); err != nil {
		return nil, err
	}
	if err = d.createSurface(window); err != nil {
		return nil, err
	}
	if err = d.pickPhysicalDevice(); err != nil {
		return nil, err
	}
	if err = d.createLogicalDevice(); err != nil {
		return nil, err
	}
	if err = d.createCommandPool(); err != nil {
		return nil, err
	}
	if err = d.createLayouts(); err != nil {
		return nil, err
	}

	d.logger.Info("vulkan device ready",
		"device", d.properties.DeviceName,
		"msaa", d.msaaSamples,
		"sample_shading", d.sampleShading,
		"depth_format", d.depthFormat)
	return d, nil
}

func (d *Device) createInstance(window *sdl.Window) error {
	instanceOptions := core1_0.InstanceCreateInfo{
		ApplicationName:    d.options.ApplicationName,
		ApplicationVersion: common.CreateVersion(1, 0, 0),
		EngineName:         "No Engine",
		EngineVersion:      common.CreateVersion(1, 0, 0),
		APIVersion:         common.Vulkan1_2,
	}

	sdlExtensions := window.VulkanGetInstanceExtensions()
	extensions, _, err := d.globalDriver.AvailableExtensions()
	if err != nil {
		return errors.Wrap(err, "enumerate instance extensions")
	}

	for _, ext := range sdlExtensions {
		_, hasExt := extensions[ext]
		if !hasExt {
			return errors.Errorf("cannot initialize sdl: missing instance extension %s", ext)
		}
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext)
	}

	if d.options.Validation {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, ext_debug_utils.ExtensionName)
	}

	_, enumerationSupported := extensions[khr_portability_enumeration.ExtensionName]
	if enumerationSupported {
		instanceOptions.EnabledExtensionNames = append(instanceOptions.EnabledExtensionNames, khr_portability_enumeration.ExtensionName)
		instanceOptions.Flags |= khr_portability_enumeration.InstanceCreateEnumeratePortability
	}

	if d.options.Validation {
		layers, _, err := d.globalDriver.AvailableLayers()
		if err != nil {
			return errors.Wrap(err, "enumerate instance layers")
		}

		for _, layer := range validationLayers {
			_, hasValidation := layers[layer]
			if !hasValidation {
				return errors.Errorf("validation layer %s not available, install the LunarG Vulkan SDK or disable validation", layer)
			}
			instanceOptions.EnabledLayerNames = append(instanceOptions.EnabledLayerNames, layer)
		}

		// covers messages from instance creation and destruction
		instanceOptions.Next = d.debugMessengerOptions()
	}

	d.instanceDriver, _, err = d.globalDriver.CreateInstance(nil, instanceOptions)
	return errors.Wrap(err, "create instance")
}

func (d *Device) debugMessengerOptions() ext_debug_utils.DebugUtilsMessengerCreateInfo {
	return ext_debug_utils.DebugUtilsMessengerCreateInfo{
		MessageSeverity: ext_debug_utils.SeverityError | ext_debug_utils.SeverityWarning | ext_debug_utils.SeverityInfo,
		MessageType:     ext_debug_utils.TypeGeneral | ext_debug_utils.TypeValidation | ext_debug_utils.TypePerformance,
		UserCallback:    d.logDebug,
	}
}

func (d *Device) logDebug(msgType ext_debug_utils.DebugUtilsMessageTypeFlags, severity ext_debug_utils.DebugUtilsMessageSeverityFlags, data *ext_debug_utils.DebugUtilsMessengerCallbackData) bool {
	switch {
	case severity&ext_debug_utils.SeverityError != 0:
		d.logger.Error(data.Message, "type", msgType)
	case severity&ext_debug_utils.SeverityWarning != 0:
		d.logger.Warn(data.Message, "type", msgType)
	default:
		d.logger.Debug(data.Message, "type", msgType)
	}
	return false
}

func (d *Device) setupDebugMessenger() error {
	if !d.options.Validation {
		return nil
	}

	var err error
	d.debugDriver = ext_debug_utils.CreateExtensionDriverFromCoreDriver(d.instanceDriver)
	d.debugMessenger, _, err = d.debugDriver.CreateDebugUtilsMessenger(nil, d.debugMessengerOptions())
	return errors.Wrap(err, "create debug messenger")
}

func (d *Device) createSurface(window *sdl.Window) error {
	d.surfaceExtension = khr_surface.CreateExtensionDriverFromCoreDriver(d.instanceDriver)
	surface, err := vkng_sdl2.CreateSurface(d.instanceDriver.Instance(), d.surfaceExtension, window)
	if err != nil {
		return errors.Wrap(err, "create surface")
	}

	d.surface = surface
	return nil
}

func (d *Device) pickPhysicalDevice() error {
	physicalDevices, _, err := d.instanceDriver.EnumeratePhysicalDevices()
	if err != nil {
		return errors.Wrap(err, "enumerate physical devices")
	}

	found := false
	rejected := ErrNoSuitableDevice
	for _, device := range physicalDevices {
		info, err := d.describeDevice(device)
		if err != nil {
			return err
		}

		if reasons := info.unsuitable(); len(reasons) > 0 {
			unsuitable := &SuitabilityError{Device: info.Name, Reasons: reasons}
			d.logger.Info("skipping physical device", "device", info.Name, "reasons", reasons)
			rejected = errors.WithSecondaryError(rejected, unsuitable)
			continue
		}

		d.physicalDevice = device
		d.properties = info.Properties
		d.queueFamilies = info.Families
		found = true
		break
	}

	if !found {
		return rejected
	}

	if d.options.Multisample {
		limits := d.properties.Limits
		d.msaaSamples = MaxUsableSampleCount(limits.FramebufferColorSampleCounts & limits.FramebufferDepthSampleCounts)
	}

	d.depthFormat, err = d.findDepthFormat()
	return err
}

func (d *Device) describeDevice(device core1_0.PhysicalDevice) (*deviceInfo, error) {
	properties, err := d.instanceDriver.GetPhysicalDeviceProperties(device)
	if err != nil {
		return nil, errors.Wrap(err, "get physical device properties")
	}

	info := &deviceInfo{
		Name:       properties.DeviceName,
		Properties: properties,
		Extensions: make(map[string]bool),
	}

	info.Families, err = d.findQueueFamilies(device)
	if err != nil {
		return nil, err
	}

	extensions, _, err := d.instanceDriver.EnumerateDeviceExtensionProperties(device)
	if err != nil {
		return nil, errors.Wrapf(err, "enumerate extensions of %s", info.Name)
	}
	for name := range extensions {
		info.Extensions[name] = true
	}

	if info.hasExtensions() {
		info.Support, err = d.querySurfaceSupport(device)
		if err != nil {
			return nil, err
		}
	}

	features := d.instanceDriver.GetPhysicalDeviceFeatures(device)
	info.SamplerAnisotropy = features.SamplerAnisotropy
	info.SampleRateShading = features.SampleRateShading

	return info, nil
}

func (d *Device) findQueueFamilies(device core1_0.PhysicalDevice) (QueueFamilyIndices, error) {
	indices := QueueFamilyIndices{}
	queueFamilies := d.instanceDriver.GetPhysicalDeviceQueueFamilyProperties(device)

	for queueFamilyIdx, queueFamily := range queueFamilies {
		if (queueFamily.QueueFlags & core1_0.QueueGraphics) != 0 {
			indices.GraphicsFamily = new(int)
			*indices.GraphicsFamily = queueFamilyIdx
		}

		supported, _, err := d.surfaceExtension.GetPhysicalDeviceSurfaceSupport(d.surface, device, queueFamilyIdx)
		if err != nil {
			return indices, errors.Wrap(err, "query surface support")
		}

		if supported {
			indices.PresentFamily = new(int)
			*indices.PresentFamily = queueFamilyIdx
		}

		if indices.IsComplete() {
			break
		}
	}

	return indices, nil
}

func (d *Device) querySurfaceSupport(device core1_0.PhysicalDevice) (gpu.SurfaceSupport, error) {
	var support gpu.SurfaceSupport

	capabilities, _, err := d.surfaceExtension.GetPhysicalDeviceSurfaceCapabilities(d.surface, device)
	if err != nil {
		return support, errors.Wrap(err, "get surface capabilities")
	}
	support.Capabilities = *capabilities

	support.Formats, _, err = d.surfaceExtension.GetPhysicalDeviceSurfaceFormats(d.surface, device)
	if err != nil {
		return support, errors.Wrap(err, "get surface formats")
	}

	support.PresentModes, _, err = d.surfaceExtension.GetPhysicalDeviceSurfacePresentModes(d.surface, device)
	return support, errors.Wrap(err, "get surface present modes")
}

func (d *Device) createLogicalDevice() error {
	indices := d.queueFamilies

	uniqueQueueFamilies := []int{*indices.GraphicsFamily}
	if uniqueQueueFamilies[0] != *indices.PresentFamily {
		uniqueQueueFamilies = append(uniqueQueueFamilies, *indices.PresentFamily)
	}

	var queueFamilyOptions []core1_0.DeviceQueueCreateInfo
	queuePriority := float32(1.0)
	for _, queueFamily := range uniqueQueueFamilies {
		queueFamilyOptions = append(queueFamilyOptions, core1_0.DeviceQueueCreateInfo{
			QueueFamilyIndex: queueFamily,
			QueuePriorities:  []float32{queuePriority},
		})
	}

	var extensionNames []string
	extensionNames = append(extensionNames, deviceExtensions...)

	// required on portability implementations such as MoltenVK
	extensions, _, err := d.instanceDriver.EnumerateDeviceExtensionProperties(d.physicalDevice)
	if err != nil {
		return errors.Wrap(err, "enumerate device extensions")
	}

	_, supported := extensions[khr_portability_subset.ExtensionName]
	if supported {
		extensionNames = append(extensionNames, khr_portability_subset.ExtensionName)
	}

	if d.options.SampleShading && d.msaaSamples != core1_0.Samples1 {
		features := d.instanceDriver.GetPhysicalDeviceFeatures(d.physicalDevice)
		d.sampleShading = features.SampleRateShading
		if !d.sampleShading {
			d.logger.Warn("sample rate shading requested but not supported", "device", d.properties.DeviceName)
		}
	}

	d.deviceDriver, _, err = d.instanceDriver.CreateDevice(d.physicalDevice, nil, core1_0.DeviceCreateInfo{
		QueueCreateInfos: queueFamilyOptions,
		EnabledFeatures: &core1_0.PhysicalDeviceFeatures{
			SamplerAnisotropy: true,
			SampleRateShading: d.sampleShading,
		},
		EnabledExtensionNames: extensionNames,
	})
	if err != nil {
		return errors.Wrap(err, "create logical device")
	}

	d.graphicsQueue = d.deviceDriver.GetQueue(*indices.GraphicsFamily, 0)
	d.presentQueue = d.deviceDriver.GetQueue(*indices.PresentFamily, 0)
	d.swapchainExtension = khr_swapchain.CreateExtensionDriverFromCoreDriver(d.deviceDriver)
	return nil
}

func (d *Device) createCommandPool() error {
	pool, _, err := d.deviceDriver.CreateCommandPool(nil, core1_0.CommandPoolCreateInfo{
		Flags:            core1_0.CommandPoolCreateResetBuffer,
		QueueFamilyIndex: *d.queueFamilies.GraphicsFamily,
	})
	if err != nil {
		return errors.Wrap(err, "create command pool")
	}

	d.commandPool = pool
	return nil
}

// createLayouts builds the descriptor set and pipeline layouts. They do not
// depend on the swapchain and live as long as the device.
func (d *Device) createLayouts() error {
	var err error
	d.descriptorSetLayout, _, err = d.deviceDriver.CreateDescriptorSetLayout(nil, core1_0.DescriptorSetLayoutCreateInfo{
		Bindings: []core1_0.DescriptorSetLayoutBinding{
			{
				Binding:         0,
				DescriptorType:  core1_0.DescriptorTypeUniformBuffer,
				DescriptorCount: 1,

				StageFlags: core1_0.StageVertex,
			},
			{
				Binding:         1,
				DescriptorType:  core1_0.DescriptorTypeCombinedImageSampler,
				DescriptorCount: 1,

				StageFlags: core1_0.StageFragment,
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "create descriptor set layout")
	}

	d.pipelineLayout, _, err = d.deviceDriver.CreatePipelineLayout(nil, core1_0.PipelineLayoutCreateInfo{
		SetLayouts: []core1_0.DescriptorSetLayout{
			d.descriptorSetLayout,
		},
		PushConstantRanges: []core1_0.PushConstantRange{
			{
				StageFlags: pushConstantStages,
				Offset:     0,
				Size:       pushConstantSize,
			},
		},
	})
	return errors.Wrap(err, "create pipeline layout")
}

func (d *Device) live() int {
	return d.semaphores.Len() + d.fences.Len() + d.swapchains.Len() + d.views.Len() +
		d.attachments.Len() + d.renderPasses.Len() + d.pipelines.Len() + d.framebuffers.Len() +
		d.buffers.Len() + d.pools.Len() + d.commandBuffers.Len() + d.meshes.Len() + d.textures.Len()
}

// Close destroys the device-lifetime objects and the instance. Everything
// handed out through gpu.Device must have been destroyed first.
func (d *Device) Close() {
	if n := d.live(); n > 0 {
		d.logger.Warn("closing device with live objects", "count", n)
	}

	if d.deviceDriver != nil {
		if d.pipelineLayout.Initialized() {
			d.deviceDriver.DestroyPipelineLayout(d.pipelineLayout, nil)
		}
		if d.descriptorSetLayout.Initialized() {
			d.deviceDriver.DestroyDescriptorSetLayout(d.descriptorSetLayout, nil)
		}
		if d.commandPool.Initialized() {
			d.deviceDriver.DestroyCommandPool(d.commandPool, nil)
		}
		d.deviceDriver.DestroyDevice(nil)
		d.deviceDriver = nil
	}

	if d.debugMessenger.Initialized() {
		d.debugDriver.DestroyDebugUtilsMessenger(d.debugMessenger, nil)
		d.debugMessenger = ext_debug_utils.DebugUtilsMessenger{}
	}

	if d.surface.Initialized() {
		d.surfaceExtension.DestroySurface(d.surface, nil)
		d.surface = khr_surface.Surface{}
	}

	if d.instanceDriver != nil {
		d.instanceDriver.DestroyInstance(nil)
		d.instanceDriver = nil
	}
}
