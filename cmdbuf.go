package corevk

import (
	"unsafe"

	vk "github.com/vulkan-go/vulkan"
)

// CmdBuf wraps a vk.CommandBuffer with the narrow set of recording
// operations spec.md §4.1 names, generalizing the teacher's bare
// vk.CommandBuffer call sites scattered across application.go's
// per-frame render loop into a single reusable recorder.
type CmdBuf struct {
	handle vk.CommandBuffer
	pool   vk.CommandPool
	device vk.Device
}

// AllocateCmdBuf allocates one primary command buffer from pool.
func AllocateCmdBuf(device vk.Device, pool vk.CommandPool) (*CmdBuf, error) {
	bufs := make([]vk.CommandBuffer, 1)
	ret := vk.AllocateCommandBuffers(device, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}, bufs)
	if isError(ret) {
		return nil, newError(ret)
	}
	return &CmdBuf{handle: bufs[0], pool: pool, device: device}, nil
}

func (c *CmdBuf) Handle() vk.CommandBuffer { return c.handle }

// BeginOneTimeSubmit begins recording with the
// ONE_TIME_SUBMIT_BIT usage flag the uploader's transient command
// buffers and single-shot barrier batches both rely on.
func (c *CmdBuf) BeginOneTimeSubmit() error {
	ret := vk.BeginCommandBuffer(c.handle, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	})
	return newError(ret)
}

func (c *CmdBuf) End() error {
	return newError(vk.EndCommandBuffer(c.handle))
}

func (c *CmdBuf) Reset() error {
	return newError(vk.ResetCommandBuffer(c.handle, 0))
}

// BeginMarker/EndMarker bracket a named region for capture tools, a
// no-op without VK_EXT_debug_utils loaded, mirroring the teacher's
// optional-extension handling in extensions_2.go.
func (c *CmdBuf) BeginMarker(name string, color [4]float32) {
	label := vk.DebugUtilsLabelEXT{
		SType:      vk.StructureTypeDebugUtilsLabelExt,
		PLabelName: safeString(name),
		Color:      color,
	}
	vk.CmdBeginDebugUtilsLabelEXT(c.handle, &label)
}

func (c *CmdBuf) EndMarker() {
	vk.CmdEndDebugUtilsLabelEXT(c.handle)
}

// PipelineBarrier submits a prebuilt barrier batch (barrier.go) in one
// vkCmdPipelineBarrier2 call, per spec.md §4.6 "one barrier per frame
// per handle" coalescing requirement.
func (c *CmdBuf) PipelineBarrier(batch PipelineBarrierBatch) {
	if batch.Empty() {
		return
	}
	vk.CmdPipelineBarrier2(c.handle, &vk.DependencyInfo{
		SType:                    vk.StructureTypeDependencyInfo,
		MemoryBarrierCount:       uint32(len(batch.Memory)),
		PMemoryBarriers:          batch.Memory,
		BufferMemoryBarrierCount: uint32(len(batch.Buffer)),
		PBufferMemoryBarriers:    batch.Buffer,
		ImageMemoryBarrierCount:  uint32(len(batch.Image)),
		PImageMemoryBarriers:     batch.Image,
	})
}

// RenderingTarget describes one color or depth attachment for dynamic
// rendering (spec.md §4.1, replacing the teacher's VkRenderPass/
// VkFramebuffer pair in renderpass.go).
type RenderingTarget struct {
	View       vk.ImageView
	Layout     vk.ImageLayout
	LoadOp     vk.AttachmentLoadOp
	StoreOp    vk.AttachmentStoreOp
	ClearColor [4]float32
	ClearDepth float32
}

func (c *CmdBuf) BeginRendering(extent vk.Extent2D, color []RenderingTarget, depth *RenderingTarget) {
	colorAttachments := make([]vk.RenderingAttachmentInfo, len(color))
	for i, t := range color {
		colorAttachments[i] = vk.RenderingAttachmentInfo{
			SType:       vk.StructureTypeRenderingAttachmentInfo,
			ImageView:   t.View,
			ImageLayout: t.Layout,
			LoadOp:      t.LoadOp,
			StoreOp:     t.StoreOp,
			ClearValue:  vk.NewClearValue(t.ClearColor[:]),
		}
	}
	info := vk.RenderingInfo{
		SType: vk.StructureTypeRenderingInfo,
		RenderArea: vk.Rect2D{
			Offset: vk.Offset2D{X: 0, Y: 0},
			Extent: extent,
		},
		LayerCount:           1,
		ColorAttachmentCount: uint32(len(colorAttachments)),
		PColorAttachments:    colorAttachments,
	}
	if depth != nil {
		depthAttachment := vk.RenderingAttachmentInfo{
			SType:       vk.StructureTypeRenderingAttachmentInfo,
			ImageView:   depth.View,
			ImageLayout: depth.Layout,
			LoadOp:      depth.LoadOp,
			StoreOp:     depth.StoreOp,
			ClearValue:  vk.NewClearDepthStencil(depth.ClearDepth, 0),
		}
		info.PDepthAttachment = &depthAttachment
	}
	vk.CmdBeginRendering(c.handle, &info)
}

func (c *CmdBuf) EndRendering() {
	vk.CmdEndRendering(c.handle)
}

func (c *CmdBuf) BindIndexBuffer(buf *Buffer, offset uint64, indexType vk.IndexType) {
	vk.CmdBindIndexBuffer(c.handle, buf.Handle(), vk.DeviceSize(offset), indexType)
}

func (c *CmdBuf) BindVertexBuffer(binding uint32, buf *Buffer, offset uint64) {
	vk.CmdBindVertexBuffers(c.handle, binding, 1, []vk.Buffer{buf.Handle()}, []vk.DeviceSize{vk.DeviceSize(offset)})
}

func (c *CmdBuf) BindPipeline(bindPoint vk.PipelineBindPoint, pipeline vk.Pipeline) {
	vk.CmdBindPipeline(c.handle, bindPoint, pipeline)
}

func (c *CmdBuf) BindDescriptorSet(bindPoint vk.PipelineBindPoint, layout vk.PipelineLayout, set vk.DescriptorSet) {
	vk.CmdBindDescriptorSets(c.handle, bindPoint, layout, 0, 1, []vk.DescriptorSet{set}, 0, nil)
}

func (c *CmdBuf) SetViewport(v vk.Viewport) {
	vk.CmdSetViewport(c.handle, 0, 1, []vk.Viewport{v})
}

func (c *CmdBuf) SetScissor(r vk.Rect2D) {
	vk.CmdSetScissor(c.handle, 0, 1, []vk.Rect2D{r})
}

// PushConstants uploads a fixed-size struct as push-constant bytes,
// used heavily by the bindless model to pass resource-table indices
// (spec.md §4.4) rather than descriptor bindings.
func (c *CmdBuf) PushConstants(layout vk.PipelineLayout, stages vk.ShaderStageFlags, offset uint32, data unsafe.Pointer, size uint32) {
	vk.CmdPushConstants(c.handle, layout, stages, offset, size, data)
}

func (c *CmdBuf) DrawIndexed(indexCount, instanceCount, firstIndex uint32, vertexOffset int32, firstInstance uint32) {
	vk.CmdDrawIndexed(c.handle, indexCount, instanceCount, firstIndex, vertexOffset, firstInstance)
}

func (c *CmdBuf) WriteTimestamp(stage vk.PipelineStageFlagBits, pool vk.QueryPool, query uint32) {
	vk.CmdWriteTimestamp(c.handle, vk.PipelineStageFlags(stage), pool, query)
}

func (c *CmdBuf) ResetQueryPool(pool vk.QueryPool, first, count uint32) {
	vk.CmdResetQueryPool(c.handle, pool, first, count)
}

func (c *CmdBuf) Free() {
	if c.handle == nil {
		return
	}
	vk.FreeCommandBuffers(c.device, c.pool, 1, []vk.CommandBuffer{c.handle})
	c.handle = nil
}
