package vulkan

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/tutorial/internal/gpu"
)

// ErrNoSuitableDevice is returned by Open when every physical device was
// rejected. Each rejection is attached as a SuitabilityError.
var ErrNoSuitableDevice = errors.New("failed to find a suitable GPU")

type SuitabilityError struct {
	Device  string
	Reasons []string
}

func (e *SuitabilityError) Error() string {
	return fmt.Sprintf("%s is unsuitable: %s", e.Device, strings.Join(e.Reasons, "; "))
}

type QueueFamilyIndices struct {
	GraphicsFamily *int
	PresentFamily  *int
}

func (i *QueueFamilyIndices) IsComplete() bool {
	return i.GraphicsFamily != nil && i.PresentFamily != nil
}

type deviceInfo struct {
	Name              string
	Properties        *core1_0.PhysicalDeviceProperties
	Families          QueueFamilyIndices
	Extensions        map[string]bool
	Support           gpu.SurfaceSupport
	SamplerAnisotropy bool
	SampleRateShading bool
}

func (i *deviceInfo) hasExtensions() bool {
	for _, ext := range deviceExtensions {
		if !i.Extensions[ext] {
			return false
		}
	}
	return true
}

// unsuitable lists everything that rules the device out. An empty result
// means it can be used.
func (i *deviceInfo) unsuitable() []string {
	var reasons []string

	if i.Families.GraphicsFamily == nil {
		reasons = append(reasons, "no graphics queue family")
	}
	if i.Families.PresentFamily == nil {
		reasons = append(reasons, "no queue family can present to the surface")
	}

	for _, ext := range deviceExtensions {
		if !i.Extensions[ext] {
			reasons = append(reasons, "missing extension "+ext)
		}
	}

	if i.hasExtensions() {
		if len(i.Support.Formats) == 0 {
			reasons = append(reasons, "surface offers no formats")
		}
		if len(i.Support.PresentModes) == 0 {
			reasons = append(reasons, "surface offers no present modes")
		}
	}

	if !i.SamplerAnisotropy {
		reasons = append(reasons, "sampler anisotropy not supported")
	}

	return reasons
}

// MaxUsableSampleCount picks the highest sample count present in counts.
func MaxUsableSampleCount(counts core1_0.SampleCountFlags) core1_0.SampleCountFlags {
	for _, samples := range []core1_0.SampleCountFlags{
		core1_0.Samples64,
		core1_0.Samples32,
		core1_0.Samples16,
		core1_0.Samples8,
		core1_0.Samples4,
		core1_0.Samples2,
	} {
		if counts&samples != 0 {
			return samples
		}
	}

	return core1_0.Samples1
}
