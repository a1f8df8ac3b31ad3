package corevk

import (
	"context"

	vk "github.com/vulkan-go/vulkan"
)

// workerLoop drains the MPMC command queue onto a round-robin slot,
// copying through that slot's staging arena and submitting a transfer
// that signals its timeline semaphore, then atomically publishing the
// (semaphore, value) pair so the render thread's acquire-side read
// (LastSubmittedSemaphore) observes a consistent view (spec.md §4.9),
// replacing the teacher's synchronous flushInitCmd (context.go) which
// blocked the calling thread on every single texture load.
func (u *Uploader) workerLoop(ctx context.Context) {
	defer close(u.done)
	slotIndex := uint32(0)
	for {
		select {
		case <-ctx.Done():
			u.drainRemaining()
			return
		case cmd := <-u.queue:
			slot := u.slots[slotIndex%uint32(len(u.slots))]
			slotIndex++
			u.process(ctx, slot, cmd)
		}
	}
}

// drainRemaining flushes whatever was already queued before reporting
// shutdown complete, so a Stop() during a burst of SubmitImage calls
// does not silently drop promises.
func (u *Uploader) drainRemaining() {
	for {
		select {
		case cmd := <-u.queue:
			slot := u.slots[0]
			u.process(context.Background(), slot, cmd)
		default:
			return
		}
	}
}

func (u *Uploader) process(ctx context.Context, slot *resourceSet, cmd UploadCommand) {
	var procErr error
	switch cmd.Kind {
	case UploadImage:
		procErr = u.processImage(slot, cmd)
	case UploadBuffer:
		procErr = u.processBuffer(slot, cmd)
	}

	if v, ok := u.promises.LoadAndDelete(cmd.ID); ok {
		v.(*ImagePromise).fulfill(UploadResult{ID: cmd.ID, Err: procErr})
	}
	if procErr != nil {
		u.log.Error.Printf("upload command %s failed: %v", cmd.ID, procErr)
	}
}

func (u *Uploader) processImage(slot *resourceSet, cmd UploadCommand) error {
	var pixels []byte
	var width, height uint32
	var err error
	if cmd.ImageReader != nil {
		pixels, width, height, err = cmd.ImageReader.Decode(cmd.ImageData)
		if err != nil {
			return err
		}
	} else {
		pixels = cmd.ImageData
		ext := cmd.TargetImage.Extent()
		width, height = ext.Width, ext.Height
	}

	if err := u.copyToStaging(slot, pixels); err != nil {
		return err
	}

	if err := slot.cmd.Reset(); err != nil {
		return err
	}
	if err := slot.cmd.BeginOneTimeSubmit(); err != nil {
		return err
	}

	barrier := NewPipelineBarrierBuilder()
	img := cmd.TargetImage
	ext := img.Extent()
	_ = barrier.AddImageTransition(img.Handle(), vk.ImageAspectFlags(aspectForFormat(img.Format())), img.Layout(), ImageLayoutTransferDst, 0, ext.MipLevels, 0, ext.ArrayLayers)
	slot.cmd.PipelineBarrier(barrier.Build())
	img.SetLayout(ImageLayoutTransferDst)

	region := vk.BufferImageCopy{
		BufferOffset: 0,
		ImageSubresource: vk.ImageSubresourceLayers{
			AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
			MipLevel:       0,
			BaseArrayLayer: 0,
			LayerCount:     1,
		},
		ImageExtent: vk.Extent3D{Width: width, Height: height, Depth: 1},
	}
	vk.CmdCopyBufferToImage(slot.cmd.Handle(), slot.staging.Handle(), img.Handle(), vk.ImageLayoutTransferDstOptimal, 1, []vk.BufferImageCopy{region})

	barrier2 := NewPipelineBarrierBuilder()
	_ = barrier2.AddImageTransition(img.Handle(), vk.ImageAspectFlags(aspectForFormat(img.Format())), ImageLayoutTransferDst, ImageLayoutShaderRead, 0, ext.MipLevels, 0, ext.ArrayLayers)
	slot.cmd.PipelineBarrier(barrier2.Build())
	img.SetLayout(ImageLayoutShaderRead)

	if err := slot.cmd.End(); err != nil {
		return err
	}

	return u.submitAndSignal(slot)
}

func (u *Uploader) processBuffer(slot *resourceSet, cmd UploadCommand) error {
	if err := u.copyToStaging(slot, cmd.BufferData); err != nil {
		return err
	}
	if err := slot.cmd.Reset(); err != nil {
		return err
	}
	if err := slot.cmd.BeginOneTimeSubmit(); err != nil {
		return err
	}
	vk.CmdCopyBuffer(slot.cmd.Handle(), slot.staging.Handle(), cmd.TargetBuffer.Handle(), 1, []vk.BufferCopy{{
		SrcOffset: 0,
		DstOffset: vk.DeviceSize(cmd.BufferOffset),
		Size:      vk.DeviceSize(len(cmd.BufferData)),
	}})
	if err := slot.cmd.End(); err != nil {
		return err
	}
	return u.submitAndSignal(slot)
}

func (u *Uploader) copyToStaging(slot *resourceSet, data []byte) error {
	if uint64(len(data)) > slot.staging.Size() {
		return vkErrorStagingTooSmall(uint64(len(data)), slot.staging.Size())
	}
	ptr, err := slot.staging.Map()
	if err != nil {
		return err
	}
	defer slot.staging.Unmap()
	dst := unsafeByteSlice(ptr, len(data))
	copy(dst, data)
	return nil
}

// submitAndSignal submits the slot's recorded command buffer to the
// transfer queue and signals the slot's timeline semaphore to the next
// value, waiting (GPU-side, via the submit's wait-semaphore) on the
// slot's own previous submission rather than the host blocking on it
// — spec.md §4.9 step 4 ("wait_value = counter.fetch_add(1) ...
// signal_value = wait_value + 1 ... waits {semaphore at COPY} only if
// !first_submission") and §5's "each submit is fire-and-forget (no
// waitIdle)". Reclamation of this slot's staging spills is deferred
// to the next time this same slot is re-entered, which GPU-orders
// after this submission via that same wait.
func (u *Uploader) submitAndSignal(slot *resourceSet) error {
	waitValue := slot.counter
	signalValue := waitValue + 1

	timelineInfo := vk.TimelineSemaphoreSubmitInfo{
		SType:                     vk.StructureTypeTimelineSemaphoreSubmitInfo,
		SignalSemaphoreValueCount: 1,
		PSignalSemaphoreValues:    []uint64{signalValue},
	}
	submit := vk.SubmitInfo{
		SType:                vk.StructureTypeSubmitInfo,
		PNext:                unsafePointer(&timelineInfo),
		CommandBufferCount:   1,
		PCommandBuffers:      []vk.CommandBuffer{slot.cmd.Handle()},
		SignalSemaphoreCount: 1,
		PSignalSemaphores:    []vk.Semaphore{slot.semaphore.Handle()},
	}
	if !slot.firstSubmission {
		timelineInfo.WaitSemaphoreValueCount = 1
		timelineInfo.PWaitSemaphoreValues = []uint64{waitValue}
		submit.WaitSemaphoreCount = 1
		submit.PWaitSemaphores = []vk.Semaphore{slot.semaphore.Handle()}
		submit.PWaitDstStageMask = []vk.PipelineStageFlags{vk.PipelineStageFlags(vk.PipelineStageTransferBit)}
	}

	queue := u.transferQueue()
	submitMu := u.ctx.SubmitMutex()
	submitMu.Lock()
	ret := vk.QueueSubmit(queue, 1, []vk.SubmitInfo{submit}, vk.NullFence)
	submitMu.Unlock()
	if isError(ret) {
		return newError(ret)
	}

	slot.firstSubmission = false
	slot.counter = signalValue
	u.publishSemaphore(slot.semaphore.Handle(), signalValue)
	return nil
}

// publishMonotonic does a compare-and-swap loop so the published
// counter only ever increases, matching the acquire/release semantics
// go.uber.org/atomic's Uint64 gives for free across the uploader's
// concurrent slots.
func (u *Uploader) publishMonotonic(value uint64) {
	for {
		current := u.lastSubmittedSemaphore.Load()
		if value <= current {
			return
		}
		if u.lastSubmittedSemaphore.CAS(current, value) {
			return
		}
	}
}

func (u *Uploader) transferQueue() vk.Queue {
	var queue vk.Queue
	vk.GetDeviceQueue(u.ctx.Device(), u.ctx.TransferFamily().FamilyIndex, 0, &queue)
	return queue
}
