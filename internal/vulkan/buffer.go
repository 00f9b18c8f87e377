package vulkan

import (
	"bytes"
	"encoding/binary"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/common"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/tutorial/internal/gpu"
	"github.com/vkngwrapper/tutorial/internal/mesh"
)

type bufferAllocation struct {
	buffer core1_0.Buffer
	memory core1_0.DeviceMemory
	size   int
}

func (d *Device) destroyBuffer(b *bufferAllocation) {
	if b.buffer.Initialized() {
		d.deviceDriver.DestroyBuffer(b.buffer, nil)
	}
	if b.memory.Initialized() {
		d.deviceDriver.FreeMemory(b.memory, nil)
	}
}

type meshBuffers struct {
	vertices   *bufferAllocation
	indices    *bufferAllocation
	indexCount int
}

// FindMemoryType returns the first memory type allowed by typeBits that has
// all of the requested properties.
func FindMemoryType(memoryTypes []core1_0.MemoryType, typeBits uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	for i, memoryType := range memoryTypes {
		typeBit := uint32(1 << i)

		if (typeBits&typeBit) != 0 && (memoryType.PropertyFlags&properties) == properties {
			return i, nil
		}
	}

	return 0, errors.Wrapf(gpu.ErrNoMemoryType, "type bits %#b, properties %v", typeBits, properties)
}

func (d *Device) findMemoryType(typeBits uint32, properties core1_0.MemoryPropertyFlags) (int, error) {
	memProperties := d.instanceDriver.GetPhysicalDeviceMemoryProperties(d.physicalDevice)
	return FindMemoryType(memProperties.MemoryTypes, typeBits, properties)
}

// createBuffer always returns an allocation; whatever was created before a
// failure is set on it so the caller can release it.
func (d *Device) createBuffer(size int, usage core1_0.BufferUsageFlags, properties core1_0.MemoryPropertyFlags) (*bufferAllocation, error) {
	allocation := &bufferAllocation{size: size}

	buffer, _, err := d.deviceDriver.CreateBuffer(nil, core1_0.BufferCreateInfo{
		Size:        size,
		Usage:       usage,
		SharingMode: core1_0.SharingModeExclusive,
	})
	if err != nil {
		return allocation, errors.Wrap(err, "create buffer")
	}
	allocation.buffer = buffer

	memRequirements := d.deviceDriver.GetBufferMemoryRequirements(buffer)
	memoryTypeIndex, err := d.findMemoryType(memRequirements.MemoryTypeBits, properties)
	if err != nil {
		return allocation, err
	}

	memory, _, err := d.deviceDriver.AllocateMemory(nil, core1_0.MemoryAllocateInfo{
		AllocationSize:  memRequirements.Size,
		MemoryTypeIndex: memoryTypeIndex,
	})
	if err != nil {
		return allocation, errors.Wrap(err, "allocate buffer memory")
	}
	allocation.memory = memory

	_, err = d.deviceDriver.BindBufferMemory(buffer, memory, 0)
	return allocation, errors.Wrap(err, "bind buffer memory")
}

func writeData(driver core1_0.DeviceDriver, memory core1_0.DeviceMemory, offset int, data any) error {
	bufferSize := binary.Size(data)
	if bufferSize < 0 {
		return errors.Errorf("cannot encode %T", data)
	}

	buf := &bytes.Buffer{}
	err := binary.Write(buf, common.ByteOrder, data)
	if err != nil {
		return errors.Wrap(err, "encode buffer data")
	}

	memoryPtr, _, err := driver.MapMemory(memory, offset, bufferSize, 0)
	if err != nil {
		return errors.Wrap(err, "map memory")
	}
	defer driver.UnmapMemory(memory)

	dataBuffer := unsafe.Slice((*byte)(memoryPtr), bufferSize)
	copy(dataBuffer, buf.Bytes())
	return nil
}

func (d *Device) beginSingleTimeCommands() (core1_0.CommandBuffer, error) {
	buffers, _, err := d.deviceDriver.AllocateCommandBuffers(core1_0.CommandBufferAllocateInfo{
		CommandPool:        d.commandPool,
		Level:              core1_0.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	})
	if err != nil {
		return core1_0.CommandBuffer{}, errors.Wrap(err, "allocate transfer command buffer")
	}

	buffer := buffers[0]
	_, err = d.deviceDriver.BeginCommandBuffer(buffer, core1_0.CommandBufferBeginInfo{
		Flags: core1_0.CommandBufferUsageOneTimeSubmit,
	})
	if err != nil {
		d.deviceDriver.FreeCommandBuffers(buffer)
		return core1_0.CommandBuffer{}, errors.Wrap(err, "begin transfer command buffer")
	}
	return buffer, nil
}

// endSingleTimeCommands submits the buffer and blocks until the graphics
// queue drains. The buffer is freed either way.
func (d *Device) endSingleTimeCommands(buffer core1_0.CommandBuffer) error {
	defer d.deviceDriver.FreeCommandBuffers(buffer)

	_, err := d.deviceDriver.EndCommandBuffer(buffer)
	if err != nil {
		return errors.Wrap(err, "end transfer command buffer")
	}

	_, err = d.deviceDriver.QueueSubmit(d.graphicsQueue, nil,
		core1_0.SubmitInfo{
			CommandBuffers: []core1_0.CommandBuffer{buffer},
		},
	)
	if err != nil {
		return errors.Wrap(err, "submit transfer")
	}

	_, err = d.deviceDriver.QueueWaitIdle(d.graphicsQueue)
	return errors.Wrap(err, "wait for transfer")
}

// singleTimeCommands records fn into a one-shot command buffer and waits for
// it to execute.
func (d *Device) singleTimeCommands(fn func(buffer core1_0.CommandBuffer) error) error {
	buffer, err := d.beginSingleTimeCommands()
	if err != nil {
		return err
	}

	if err := fn(buffer); err != nil {
		d.deviceDriver.FreeCommandBuffers(buffer)
		return err
	}

	return d.endSingleTimeCommands(buffer)
}

func (d *Device) copyBuffer(srcBuffer core1_0.Buffer, dstBuffer core1_0.Buffer, size int) error {
	return d.singleTimeCommands(func(buffer core1_0.CommandBuffer) error {
		err := d.deviceDriver.CmdCopyBuffer(buffer, srcBuffer, dstBuffer,
			core1_0.BufferCopy{
				SrcOffset: 0,
				DstOffset: 0,
				Size:      size,
			},
		)
		return errors.Wrap(err, "copy buffer")
	})
}

// uploadBuffer copies data into a new device-local buffer through a
// host-visible staging buffer.
func (d *Device) uploadBuffer(data any, usage core1_0.BufferUsageFlags) (*bufferAllocation, error) {
	bufferSize := binary.Size(data)

	staging, err := d.createBuffer(bufferSize, core1_0.BufferUsageTransferSrc, core1_0.MemoryPropertyHostVisible|core1_0.MemoryPropertyHostCoherent)
	defer d.destroyBuffer(staging)
	if err != nil {
		return nil, err
	}

	err = writeData(d.deviceDriver, staging.memory, 0, data)
	if err != nil {
		return nil, err
	}

	allocation, err := d.createBuffer(bufferSize, core1_0.BufferUsageTransferDst|usage, core1_0.MemoryPropertyDeviceLocal)
	if err == nil {
		err = d.copyBuffer(staging.buffer, allocation.buffer, bufferSize)
	}
	if err != nil {
		d.destroyBuffer(allocation)
		return nil, err
	}
	return allocation, nil
}

func (d *Device) CreateBuffer(info gpu.BufferCreateInfo) (gpu.Buffer, error) {
	allocation, err := d.createBuffer(info.Size, info.Usage, info.Properties)
	if err != nil {
		d.destroyBuffer(allocation)
		return gpu.Buffer{}, err
	}
	return gpu.Buffer{Handle: d.buffers.Insert(allocation)}, nil
}

// WriteBuffer encodes data with encoding/binary into host-visible memory.
func (d *Device) WriteBuffer(buffer gpu.Buffer, offset int, data any) error {
	allocation, ok := d.buffers.Get(buffer.Handle)
	if !ok {
		return errors.Wrap(errStaleHandle, "buffer")
	}

	if size := binary.Size(data); offset+size > allocation.size {
		return errors.Errorf("write of %d bytes at offset %d overruns %d byte buffer", size, offset, allocation.size)
	}
	return writeData(d.deviceDriver, allocation.memory, offset, data)
}

func (d *Device) DestroyBuffer(buffer gpu.Buffer) {
	if allocation, ok := d.buffers.Remove(buffer.Handle); ok {
		d.destroyBuffer(allocation)
	}
}

func (d *Device) CreateMesh(m *mesh.Mesh) (gpu.Mesh, error) {
	if len(m.Vertices) == 0 || len(m.Indices) == 0 {
		return gpu.Mesh{}, errors.New("mesh has no geometry")
	}

	vertices, err := d.uploadBuffer(m.Vertices, core1_0.BufferUsageVertexBuffer)
	if err != nil {
		return gpu.Mesh{}, errors.Wrap(err, "upload vertices")
	}

	indices, err := d.uploadBuffer(m.Indices, core1_0.BufferUsageIndexBuffer)
	if err != nil {
		d.destroyBuffer(vertices)
		return gpu.Mesh{}, errors.Wrap(err, "upload indices")
	}

	return gpu.Mesh{Handle: d.meshes.Insert(&meshBuffers{
		vertices:   vertices,
		indices:    indices,
		indexCount: len(m.Indices),
	})}, nil
}

func (d *Device) DestroyMesh(m gpu.Mesh) {
	if buffers, ok := d.meshes.Remove(m.Handle); ok {
		d.destroyBuffer(buffers.vertices)
		d.destroyBuffer(buffers.indices)
	}
}
