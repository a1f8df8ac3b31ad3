package corevk

import (
	"fmt"
	"time"

	vk "github.com/vulkan-go/vulkan"
)

// Renderer owns the frame ring, swapchain, bindless descriptor
// infrastructure, and the timestamp query pool, replacing the
// teacher's CoreRenderInstance (instance.go), which fused device
// bring-up, swapchain, and the render loop into one monolithic type.
// Context now owns bring-up; Renderer owns only the per-frame loop.
type Renderer struct {
	ctx *Context
	cfg *Config
	log *Logger

	cmdPool vk.CommandPool

	frames      []*RendererFrame
	frameIndex  int
	frameOverlap int

	swapchain    *Swapchain
	backbuffer   Handle // single handle, created once, patched each frame_begin
	imageIndex   uint32

	resources *ResourceTable
	states    *StateTranslator

	descPool *BindlessDescriptorPool
	pipelineLayout vk.PipelineLayout

	timestampPool  vk.QueryPool
	timestampCount uint32
	timestampPeriod float32
	lastGPUDelta    time.Duration
}

const (
	bindingSampler      = 0
	bindingSampledImage = 1
	bindingStorageImage = 2
)

// NewRenderer brings up the frame ring, the swapchain, the bindless
// descriptor set (spec.md §4.4), and the timestamp query pool used for
// GPU timing metrics.
func NewRenderer(ctx *Context, cfg *Config, log *Logger, windowWidth, windowHeight uint32) (r *Renderer, err error) {
	defer checkErr(&err)
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = NewDiscardLogger()
	}

	var pool vk.CommandPool
	ret := vk.CreateCommandPool(ctx.Device(), &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: ctx.GraphicsFamily().FamilyIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}, nil, &pool)
	if isError(ret) {
		return nil, newError(ret)
	}

	swapchain, err := CreateSwapchain(ctx.Device(), ctx.PhysicalDevice(), ctx.Surface(), SwapchainOptions{
		PreferredFormat: vk.FormatB8g8r8a8Unorm,
		Width:           windowWidth,
		Height:          windowHeight,
	}, vk.NullSwapchain)
	if err != nil {
		vk.DestroyCommandPool(ctx.Device(), pool, nil)
		return nil, err
	}

	layoutBuilder := NewDescriptorLayoutBuilder(ctx.Device())
	layoutBuilder.AddBinding(BindingSampler, bindingSampler, uint32(cfg.HandleMax), vk.ShaderStageFlags(vk.ShaderStageAllBit))
	layoutBuilder.AddBinding(BindingSampledImage, bindingSampledImage, uint32(cfg.HandleMax), vk.ShaderStageFlags(vk.ShaderStageAllBit))
	layoutBuilder.AddBinding(BindingStorageImage, bindingStorageImage, uint32(cfg.HandleMax), vk.ShaderStageFlags(vk.ShaderStageAllBit))
	setLayout, err := layoutBuilder.Build()
	if err != nil {
		return nil, err
	}

	descPool, err := NewBindlessDescriptorPool(ctx.Device(), setLayout, uint32(cfg.HandleMax), uint32(cfg.HandleMax), uint32(cfg.HandleMax))
	if err != nil {
		return nil, err
	}

	pipelineLayoutBuilder := NewPipelineLayoutBuilder(ctx.Device())
	pipelineLayoutBuilder.AddSetLayout(setLayout)
	pipelineLayoutBuilder.AddPushConstantRange(vk.ShaderStageFlags(vk.ShaderStageAllBit), 0, 128)
	pipelineLayout, err := pipelineLayoutBuilder.Build()
	if err != nil {
		return nil, err
	}

	resources := NewResourceTable(descPool, ResourceTableConfig{
		Device:              ctx.Device(),
		HandleCapacity:      int(cfg.HandleMax),
		SamplerCapacity:     uint32(cfg.HandleMax),
		SRVCapacity:         uint32(cfg.HandleMax),
		UAVCapacity:         uint32(cfg.HandleMax),
		BindingSampler:      bindingSampler,
		BindingSampledImage: bindingSampledImage,
		BindingStorageImage: bindingStorageImage,
	})
	states := NewStateTranslator(resources, cfg.PendingTranslationCapacity)

	timestampCount := uint32(cfg.FrameOverlap * 2)
	var timestampPool vk.QueryPool
	ret = vk.CreateQueryPool(ctx.Device(), &vk.QueryPoolCreateInfo{
		SType:      vk.StructureTypeQueryPoolCreateInfo,
		QueryType:  vk.QueryTypeTimestamp,
		QueryCount: timestampCount,
	}, nil, &timestampPool)
	if isError(ret) {
		return nil, newError(ret)
	}

	hostMemType, err := ctx.FindMemoryType(^uint32(0), vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit|vk.MemoryPropertyHostCoherentBit))
	if err != nil {
		return nil, err
	}

	frames := make([]*RendererFrame, cfg.FrameOverlap)
	for i := range frames {
		frames[i], err = NewRendererFrame(ctx, pool, cfg.StagingArenaBytes, hostMemType)
		if err != nil {
			return nil, err
		}
	}

	// The backbuffer handle is created once here with a pre-allocated
	// SRV slot (spec.md §4.4, §4.8 step 10) and repointed at whichever
	// swapchain image got acquired by FrameBegin's PatchBackbufferImage
	// call, rather than reallocated every frame.
	backbuffer, err := resources.AttachBackbufferSlot(swapchain.Image(0))
	if err != nil {
		return nil, err
	}

	return &Renderer{
		ctx:             ctx,
		cfg:             cfg,
		log:             log,
		cmdPool:         pool,
		frames:          frames,
		frameOverlap:    cfg.FrameOverlap,
		swapchain:       swapchain,
		backbuffer:      backbuffer,
		resources:       resources,
		states:          states,
		descPool:        descPool,
		pipelineLayout:  pipelineLayout,
		timestampPool:   timestampPool,
		timestampCount:  timestampCount,
		timestampPeriod: ctx.TimestampPeriod(),
	}, nil
}

func (r *Renderer) Device() vk.Device              { return r.ctx.Device() }
func (r *Renderer) Context() *Context              { return r.ctx }
func (r *Renderer) Resources() *ResourceTable      { return r.resources }
func (r *Renderer) States() *StateTranslator        { return r.states }
func (r *Renderer) PipelineLayout() vk.PipelineLayout { return r.pipelineLayout }
func (r *Renderer) DescriptorSet() vk.DescriptorSet   { return r.descPool.Set() }
func (r *Renderer) Swapchain() *Swapchain             { return r.swapchain }

// currentFrame returns the frame-ring slot for the current frame
// index (spec.md §4.8: frame ring sized FRAME_OVERLAP).
func (r *Renderer) currentFrame() *RendererFrame {
	return r.frames[r.frameIndex%r.frameOverlap]
}

// FrameBegin waits the current ring slot's fence, acquires the next
// swapchain image (recreating the swapchain and acquiring again when
// AcquireNextImage reports it Outdated; a Suboptimal acquire is used
// as is) and patches it into the renderer's single
// backbuffer handle, binds the bindless descriptor set to both the
// Graphics and Compute bind points, resets this ring slot's timestamp
// queries and writes timestamp 0, and — once a previous cycle through
// this ring slot exists — reads back the GPU Δt it recorded (spec.md
// §4.8 frame_begin steps 6-7).
func (r *Renderer) FrameBegin(timeout time.Duration) (*RendererFrame, error) {
	frame := r.currentFrame()
	if err := frame.Begin(timeout); err != nil {
		return nil, err
	}

	index, result, err := r.swapchain.AcquireNextImage(frame.ImageAcquired().Handle(), vk.NullFence, uint64(timeout.Nanoseconds()))
	if err != nil {
		return nil, err
	}
	if result == AcquireOutdated {
		if err := r.recreateSwapchain(); err != nil {
			return nil, err
		}
		index, _, err = r.swapchain.AcquireNextImage(frame.ImageAcquired().Handle(), vk.NullFence, uint64(timeout.Nanoseconds()))
		if err != nil {
			return nil, err
		}
	}
	r.imageIndex = index

	img := r.swapchain.Image(int(index))
	if err := r.resources.PatchBackbufferImage(r.backbuffer, img); err != nil {
		return nil, err
	}

	frame.cmd.BindDescriptorSet(vk.PipelineBindPointGraphics, r.pipelineLayout, r.descPool.Set())
	frame.cmd.BindDescriptorSet(vk.PipelineBindPointCompute, r.pipelineLayout, r.descPool.Set())

	base := uint32(r.frameIndex%r.frameOverlap) * 2
	if r.frameIndex >= r.frameOverlap {
		if dt, err := r.ReadTimestamps(r.timestampPeriod); err != nil {
			r.log.Error.Printf("reading GPU timestamps: %v", err)
		} else {
			r.lastGPUDelta = dt
		}
	}
	frame.cmd.ResetQueryPool(r.timestampPool, base, 2)
	frame.cmd.WriteTimestamp(vk.PipelineStageTopOfPipeBit, r.timestampPool, base)

	return frame, nil
}

// Backbuffer returns the handle for the renderer's single swapchain
// backbuffer, repointed at the newly-acquired image between FrameBegin
// and FrameEnd.
func (r *Renderer) Backbuffer() Handle { return r.backbuffer }

// LastGPUDelta returns the most recently read GPU frame time, 0 until
// the first timestamp readback (spec.md §4.8 step 7).
func (r *Renderer) LastGPUDelta() time.Duration { return r.lastGPUDelta }

// FrameEnd flushes any pending state transitions, submits the frame's
// command buffer signaling its render-done semaphore against the
// frame's fence, and presents. A Suboptimal or Outdated present result
// is logged and does not fail the frame; it sets no recreation flag,
// so the swapchain is recreated only if the next FrameBegin's
// AcquireNextImage itself reports Outdated (spec.md §4.8).
//
// uploaderSem/uploaderValue, when uploaderSem is not vk.NullSemaphore,
// add an extra wait on the uploader's per-slot timeline semaphore at
// the value it last published — spec.md §4.8 step 4 "Submit with
// waits on {acquired_semaphore at COLOR_OUTPUT} and, if non-null,
// {uploader_sem}", the mechanism spec.md §5's ordering guarantee
// ("uploads submitted before frame N's frame_end are visible to frame
// N iff uploader_semaphore.value <= observed_value_at_frame_end")
// depends on. Binary and timeline wait semaphores may be mixed in one
// vkQueueSubmit via VkTimelineSemaphoreSubmitInfo; the value entry for
// a binary semaphore is ignored by the driver.
func (r *Renderer) FrameEnd(frame *RendererFrame, uploaderSem vk.Semaphore, uploaderValue uint64) error {
	// §4.8 frame_end steps 1-3: schedule the backbuffer's Present
	// transition, flush every pending state translation as one
	// coalesced barrier, and flush any descriptor writes queued by
	// attach/update calls during the frame, all before ending the
	// command buffer.
	if err := r.states.RequestImageTransition(r.backbuffer, ImageLayoutPresent); err != nil {
		return err
	}
	batch, err := r.states.Flush()
	if err != nil {
		return err
	}
	frame.cmd.PipelineBarrier(batch)
	r.descPool.Flush()

	base := uint32(r.frameIndex%r.frameOverlap) * 2
	frame.cmd.WriteTimestamp(vk.PipelineStageBottomOfPipeBit, r.timestampPool, base+1)

	if err := frame.cmd.End(); err != nil {
		return err
	}

	waitSemaphores := []vk.Semaphore{frame.ImageAcquired().Handle()}
	waitStages := []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit)}
	waitValues := []uint64{0}
	if uploaderSem != vk.NullSemaphore {
		waitSemaphores = append(waitSemaphores, uploaderSem)
		waitStages = append(waitStages, vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit))
		waitValues = append(waitValues, uploaderValue)
	}
	timelineInfo := vk.TimelineSemaphoreSubmitInfo{
		SType:                   vk.StructureTypeTimelineSemaphoreSubmitInfo,
		WaitSemaphoreValueCount: uint32(len(waitValues)),
		PWaitSemaphoreValues:    waitValues,
	}

	submitMu := r.ctx.SubmitMutex()
	submitMu.Lock()
	ret := vk.QueueSubmit(r.graphicsQueue(), 1, []vk.SubmitInfo{{
		SType:                vk.StructureTypeSubmitInfo,
		PNext:                unsafePointer(&timelineInfo),
		WaitSemaphoreCount:   uint32(len(waitSemaphores)),
		PWaitSemaphores:      waitSemaphores,
		PWaitDstStageMask:    waitStages,
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{frame.cmd.Handle()},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{frame.RenderDone().Handle()},
	}}, frame.Fence().Handle())
	submitMu.Unlock()
	if isError(ret) {
		return newError(ret)
	}

	submitMu.Lock()
	result, err := r.swapchain.Present(r.graphicsQueue(), frame.RenderDone().Handle(), r.imageIndex)
	submitMu.Unlock()
	if err != nil {
		return err
	}
	if result != AcquireOK {
		r.log.Info.Printf("swapchain presented %v result, will recreate next frame", result)
	}

	r.frameIndex++
	return nil
}

// graphicsQueue lazily fetches the queue handle for the bound
// graphics family. Acquiring it per-call rather than caching avoids
// holding a stale vk.Queue across a device-lost recovery path.
func (r *Renderer) graphicsQueue() vk.Queue {
	var queue vk.Queue
	vk.GetDeviceQueue(r.ctx.Device(), r.ctx.GraphicsFamily().FamilyIndex, 0, &queue)
	return queue
}

func (r *Renderer) recreateSwapchain() error {
	vk.DeviceWaitIdle(r.ctx.Device())
	caps := vk.SurfaceCapabilities{}
	vk.GetPhysicalDeviceSurfaceCapabilities(r.ctx.PhysicalDevice(), r.ctx.Surface(), &caps)
	caps.Deref()
	caps.CurrentExtent.Deref()
	old := r.swapchain.Handle()
	swapchain, err := CreateSwapchain(r.ctx.Device(), r.ctx.PhysicalDevice(), r.ctx.Surface(), SwapchainOptions{
		PreferredFormat: r.swapchain.Format(),
		Width:           caps.CurrentExtent.Width,
		Height:          caps.CurrentExtent.Height,
	}, old)
	if err != nil {
		return fmt.Errorf("corevk: recreating swapchain: %w", err)
	}
	r.swapchain = swapchain
	return nil
}

// ReadTimestamps retrieves the two timestamp queries written for the
// current frame-ring slot and converts their delta to a duration,
// using the adapter's nanosecond-per-tick period. FrameBegin stores
// the result for LastGPUDelta; nothing here reports it to metrics.go.
func (r *Renderer) ReadTimestamps(nsPerTick float32) (time.Duration, error) {
	base := uint32(r.frameIndex%r.frameOverlap) * 2
	data := make([]uint64, 2)
	ret := vk.GetQueryPoolResults(r.ctx.Device(), r.timestampPool, base, 2, uint(len(data)*8), unsafePointer(&data[0]), 8,
		vk.QueryResultFlags(vk.QueryResult64Bit|vk.QueryResultWaitBit))
	if isError(ret) {
		return 0, newError(ret)
	}
	delta := data[1] - data[0]
	return time.Duration(float64(delta) * float64(nsPerTick)), nil
}

func (r *Renderer) TimestampPool() vk.QueryPool { return r.timestampPool }

func (r *Renderer) Destroy() {
	vk.DeviceWaitIdle(r.ctx.Device())
	for _, f := range r.frames {
		f.Destroy()
	}
	vk.DestroyQueryPool(r.ctx.Device(), r.timestampPool, nil)
	vk.DestroyPipelineLayout(r.ctx.Device(), r.pipelineLayout, nil)
	r.descPool.Destroy()
	r.swapchain.Destroy()
	vk.DestroyCommandPool(r.ctx.Device(), r.cmdPool, nil)
}
