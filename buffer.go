package corevk

import (
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// BufferUsageFlags enumerates the logical roles a Buffer can serve,
// generalizing the teacher's ad hoc vk.BufferUsageFlagBits call sites
// (buffers.go) into the named flag set spec.md §3 requires.
type BufferUsageFlags uint32

const (
	BufferUsageUniform BufferUsageFlags = 1 << iota
	BufferUsageStorage
	BufferUsageVertex
	BufferUsageIndex
	BufferUsageIndirect
	BufferUsageStaging
	BufferUsageReadback
	BufferUsageDynamic
	BufferUsageDeviceAddress
	BufferUsageAccelerationBuild
	BufferUsageAccelerationStore
	BufferUsageShaderBindingTable
)

// BufferLayout tracks the logical state a Buffer is currently in, fed
// by the StateTranslator (spec.md §4.5/§4.6).
type BufferLayout int

const (
	BufferLayoutUndefined BufferLayout = iota
	BufferLayoutTransferSrc
	BufferLayoutTransferDst
	BufferLayoutShaderRead
	BufferLayoutShaderWrite
	BufferLayoutIndirectRead
	BufferLayoutVertexInput
	BufferLayoutIndexInput
)

func (l BufferLayout) String() string {
	switch l {
	case BufferLayoutUndefined:
		return "Undefined"
	case BufferLayoutTransferSrc:
		return "TransferSrc"
	case BufferLayoutTransferDst:
		return "TransferDst"
	case BufferLayoutShaderRead:
		return "ShaderRead"
	case BufferLayoutShaderWrite:
		return "ShaderWrite"
	case BufferLayoutIndirectRead:
		return "IndirectRead"
	case BufferLayoutVertexInput:
		return "VertexInput"
	case BufferLayoutIndexInput:
		return "IndexInput"
	default:
		return "Unknown"
	}
}

// toVkUsage translates the logical flag set to the vk.BufferUsageFlags
// bits a vk.BufferCreateInfo needs, generalizing the teacher's
// per-buffer-kind constructors (buffers.go: NewVertexBuffer,
// NewIndexBuffer, NewUniformBuffer) into one table-driven mapper.
func (f BufferUsageFlags) toVkUsage() vk.BufferUsageFlags {
	var out vk.BufferUsageFlagBits
	if f&BufferUsageUniform != 0 {
		out |= vk.BufferUsageUniformBufferBit
	}
	if f&BufferUsageStorage != 0 {
		out |= vk.BufferUsageStorageBufferBit
	}
	if f&BufferUsageVertex != 0 {
		out |= vk.BufferUsageVertexBufferBit
	}
	if f&BufferUsageIndex != 0 {
		out |= vk.BufferUsageIndexBufferBit
	}
	if f&BufferUsageIndirect != 0 {
		out |= vk.BufferUsageIndirectBufferBit
	}
	if f&BufferUsageStaging != 0 {
		out |= vk.BufferUsageTransferSrcBit
	}
	if f&BufferUsageReadback != 0 {
		out |= vk.BufferUsageTransferDstBit
	}
	if f&BufferUsageDeviceAddress != 0 {
		out |= vk.BufferUsageShaderDeviceAddressBitKhr
	}
	return vk.BufferUsageFlags(out)
}

// Buffer is a thin value-type wrapper over a native buffer handle plus
// its backing device-memory allocation (spec.md §3), replacing the
// teacher's bulkier Buffer struct in buffers.go which carried an
// embedded *Context and panicked on construction failure.
type Buffer struct {
	handle       vk.Buffer
	memory       vk.DeviceMemory
	device       vk.Device
	size         uint64
	usage        BufferUsageFlags
	layout       BufferLayout
	deviceAddr   vk.DeviceAddress
	hasDeviceAddr bool
}

// CreateBufferInfo is the construction-time parameter bundle for
// CreateBuffer.
type CreateBufferInfo struct {
	Size             uint64
	Usage            BufferUsageFlags
	MemoryTypeIndex  uint32
	HostVisible      bool
}

// CreateBuffer creates a vk.Buffer and binds dedicated device memory.
// Sub-allocation out of a shared heap is handled one layer up by the
// staging arena (spec.md §4.7), not here.
func CreateBuffer(device vk.Device, info CreateBufferInfo) (*Buffer, error) {
	var handle vk.Buffer
	ret := vk.CreateBuffer(device, &vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(info.Size),
		Usage:       info.Usage.toVkUsage(),
		SharingMode: vk.SharingModeExclusive,
	}, nil, &handle)
	if isError(ret) {
		return nil, newError(ret)
	}

	var memReqs vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(device, handle, &memReqs)

	var mem vk.DeviceMemory
	ret = vk.AllocateMemory(device, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReqs.Size,
		MemoryTypeIndex: info.MemoryTypeIndex,
	}, nil, &mem)
	if isError(ret) {
		vk.DestroyBuffer(device, handle, nil)
		return nil, newError(ret)
	}

	if ret := vk.BindBufferMemory(device, handle, mem, 0); isError(ret) {
		vk.FreeMemory(device, mem, nil)
		vk.DestroyBuffer(device, handle, nil)
		return nil, newError(ret)
	}

	b := &Buffer{
		handle: handle,
		memory: mem,
		device: device,
		size:   info.Size,
		usage:  info.Usage,
		layout: BufferLayoutUndefined,
	}

	if info.Usage&BufferUsageDeviceAddress != 0 {
		addr := vk.GetBufferDeviceAddress(device, &vk.BufferDeviceAddressInfo{
			SType:  vk.StructureTypeBufferDeviceAddressInfo,
			Buffer: handle,
		})
		b.deviceAddr = addr
		b.hasDeviceAddr = true
	}

	return b, nil
}

func (b *Buffer) Handle() vk.Buffer { return b.handle }
func (b *Buffer) Size() uint64      { return b.size }
func (b *Buffer) Usage() BufferUsageFlags { return b.usage }
func (b *Buffer) Layout() BufferLayout    { return b.layout }

// SetLayout is called exclusively by the StateTranslator when it
// coalesces and flushes a pending transition (spec.md §4.6).
func (b *Buffer) SetLayout(l BufferLayout) { b.layout = l }

// DeviceAddress returns the buffer's GPU virtual address. Only valid
// when created with BufferUsageDeviceAddress.
func (b *Buffer) DeviceAddress() (vk.DeviceAddress, bool) {
	return b.deviceAddr, b.hasDeviceAddr
}

// Map returns a host pointer into the buffer's memory. The caller must
// have created the buffer with host-visible memory; this is not
// validated here, matching Vulkan's own contract.
func (b *Buffer) Map() (unsafe.Pointer, error) {
	var data unsafe.Pointer
	ret := vk.MapMemory(b.device, b.memory, 0, vk.DeviceSize(b.size), 0, &data)
	if isError(ret) {
		return nil, newError(ret)
	}
	return data, nil
}

func (b *Buffer) Unmap() {
	vk.UnmapMemory(b.device, b.memory)
}

// Destroy is idempotent.
func (b *Buffer) Destroy() {
	if b.handle == vk.NullBuffer {
		return
	}
	vk.DestroyBuffer(b.device, b.handle, nil)
	vk.FreeMemory(b.device, b.memory, nil)
	b.handle = vk.NullBuffer
	b.memory = vk.NullDeviceMemory
}
